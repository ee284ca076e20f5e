package questions

import (
	"log/slog"
	"strings"

	"github.com/myrjola/amlnarrator/internal/errors"
	"github.com/myrjola/amlnarrator/internal/models"
)

// Mode selects how the backend is called for a slot.
type Mode int

const (
	// ModeStreaming forwards fragments as they arrive.
	ModeStreaming Mode = iota
	// ModeBlocking waits for the whole answer. Used for answers that are not displayed progressively, such as
	// diagram descriptions.
	ModeBlocking
)

// SlotSpec is the static definition of a question slot.
type SlotSpec struct {
	Tag    models.SlotTag
	Title  string
	Mode   Mode
	Prompt PromptRule
	// Requires lists documents that must be non-empty for the slot to be asked.
	Requires []string
}

// Eligible reports whether every required document is present.
func (s SlotSpec) Eligible(docs models.Documents) bool {
	for _, name := range s.Requires {
		if !docs.Has(name) {
			return false
		}
	}
	return true
}

// Set is the fixed, ordered question set of a report type.
type Set struct {
	ReportType models.ReportType
	Slots      []SlotSpec
	system     func(docs models.Documents) (string, error)
}

// SystemPrompt builds the base prompt that frames every question of the set.
func (s Set) SystemPrompt(docs models.Documents) (string, error) {
	if s.system == nil {
		return "", nil
	}
	return s.system(docs)
}

// Slot returns the spec of tag.
func (s Set) Slot(tag models.SlotTag) (SlotSpec, bool) {
	for _, spec := range s.Slots {
		if spec.Tag == tag {
			return spec, true
		}
	}
	return SlotSpec{}, false
}

// ErrUnknownSlot is returned for slot tags that are not part of a set.
var ErrUnknownSlot = errors.NewSentinel("unknown slot")

// Tags parses slot tag names of the set.
func (s Set) Tags(names []string) ([]models.SlotTag, error) {
	tags := make([]models.SlotTag, 0, len(names))
	for _, name := range names {
		spec, ok := s.Slot(models.SlotTag(strings.TrimSpace(name)))
		if !ok {
			return nil, errors.Wrap(ErrUnknownSlot, "parse slot tag",
				slog.String("slot", name), slog.String("report_type", string(s.ReportType)))
		}
		tags = append(tags, spec.Tag)
	}
	return tags, nil
}

// Slot tags.
const (
	TagAlertNature             models.SlotTag = "alert-nature"
	TagPrincipalParty          models.SlotTag = "principal-party"
	TagHistoricalContext       models.SlotTag = "historical-context"
	TagOperationsAnalysis      models.SlotTag = "operations-analysis"
	TagPartyGraph              models.SlotTag = "party-graph"
	TagInitialRecommendation   models.SlotTag = "initial-recommendation"
	TagAdditionalDocumentation models.SlotTag = "additional-documentation"
	TagAdditionalParties       models.SlotTag = "additional-parties"
	TagFinalConclusion         models.SlotTag = "final-conclusion"

	TagExecutiveSummary       models.SlotTag = "executive-summary"
	TagPartyIdentification    models.SlotTag = "party-identification"
	TagOperationsDescription  models.SlotTag = "operations-description"
	TagLaunderingIndicators   models.SlotTag = "laundering-indicators"
	TagChecksPerformed        models.SlotTag = "checks-performed"
	TagDocumentationSubmitted models.SlotTag = "documentation-submitted"
)

// For returns the question set of report type rt.
func For(rt models.ReportType) (Set, error) {
	switch rt {
	case models.ReportTypePreNarrative:
		return preNarrative(), nil
	case models.ReportTypeNarrative:
		return narrative(), nil
	case models.ReportTypeSAR:
		return sar(), nil
	default:
		return Set{}, errors.Wrap(models.ErrUnknownReportType, "question set", slog.String("report_type", string(rt)))
	}
}

// mustRender renders a template without case data. The templates are embedded so a failure is a programming error.
func mustRender(name string, data any) string {
	prompt, err := render(name, data)
	if err != nil {
		panic(err)
	}
	return prompt
}

func basePrompt(docs models.Documents) (string, error) {
	return render("base", map[string]string(docs))
}

func preNarrative() Set {
	return Set{
		ReportType: models.ReportTypePreNarrative,
		system:     basePrompt,
		Slots: []SlotSpec{
			{
				Tag:    TagAlertNature,
				Title:  "Naturaleza de la alerta",
				Prompt: Static(mustRender("alert_nature", nil)),
			},
			{
				Tag:    TagPrincipalParty,
				Title:  "Principal implicado",
				Prompt: Static(mustRender("principal_party", map[string]string{})),
			},
			{
				Tag:    TagHistoricalContext,
				Title:  "Contexto histórico del cliente",
				Prompt: Static(mustRender("historical_context", nil)),
			},
			{
				Tag:   TagOperationsAnalysis,
				Title: "Análisis de la operativa del cliente",
				Prompt: FromDocuments(func(docs models.Documents) (string, error) {
					return render("operations_analysis", map[string]string{
						"credits": docs[models.DocCredits],
						"debits":  docs[models.DocDebits],
					})
				}),
			},
			{
				Tag:    TagPartyGraph,
				Title:  "Grafo de intervinientes",
				Mode:   ModeBlocking,
				Prompt: Static(mustRender("party_graph", nil)),
			},
			{
				Tag:    TagInitialRecommendation,
				Title:  "Recomendación inicial",
				Prompt: Static(mustRender("initial_recommendation", nil)),
			},
		},
	}
}

func narrative() Set {
	pre := models.ReportTypePreNarrative
	return Set{
		ReportType: models.ReportTypeNarrative,
		system:     basePrompt,
		Slots: []SlotSpec{
			{
				Tag:    TagAlertNature,
				Title:  "Naturaleza de la alerta",
				Prompt: Inherit(pre, TagAlertNature),
			},
			{
				Tag:   TagPrincipalParty,
				Title: "Principal implicado",
				Prompt: FromDocuments(func(docs models.Documents) (string, error) {
					return render("principal_party", map[string]string{"external": docs[models.DocPrincipalParty]})
				}),
			},
			{
				Tag:    TagHistoricalContext,
				Title:  "Contexto histórico del cliente",
				Prompt: Inherit(pre, TagHistoricalContext),
			},
			{
				Tag:    TagOperationsAnalysis,
				Title:  "Análisis de la operativa del cliente",
				Prompt: Inherit(pre, TagOperationsAnalysis),
			},
			{
				Tag:    TagPartyGraph,
				Title:  "Grafo de intervinientes",
				Mode:   ModeBlocking,
				Prompt: Inherit(pre, TagPartyGraph),
			},
			{
				Tag:   TagAdditionalDocumentation,
				Title: "Documentación adicional",
				Prompt: FromDocuments(func(docs models.Documents) (string, error) {
					return render("additional_documentation", map[string]string{"documentation": docs[models.DocAdditional]})
				}),
				Requires: []string{models.DocAdditional},
			},
			{
				Tag:   TagAdditionalParties,
				Title: "Intervinientes adicionales",
				Prompt: FromDocuments(func(docs models.Documents) (string, error) {
					return render("additional_parties", map[string]string{
						"parties":      docs[models.DocAdditionalParties],
						"transactions": docs[models.DocAdditionalTransactions],
					})
				}),
			},
			{
				Tag:    TagFinalConclusion,
				Title:  "Conclusión final",
				Prompt: FromAnswers(finalConclusion),
			},
		},
	}
}

// finalConclusion embeds the analysis so far, since inherited answers never pass through the session.
func finalConclusion(answers map[models.SlotTag]string) (string, error) {
	order := []models.SlotTag{
		TagAlertNature,
		TagPrincipalParty,
		TagHistoricalContext,
		TagOperationsAnalysis,
		TagAdditionalDocumentation,
		TagAdditionalParties,
	}
	var sections []string
	for _, tag := range order {
		if answer := strings.TrimSpace(answers[tag]); answer != "" {
			sections = append(sections, answer)
		}
	}
	if len(sections) == 0 {
		return "", errors.Wrap(ErrMalformedInput, "final conclusion needs earlier answers")
	}
	return render("final_conclusion", map[string]any{"sections": sections})
}

type sarSection struct {
	tag     models.SlotTag
	title   string
	purpose string
	points  []string
	mode    Mode
}

var sarSections = []sarSection{
	{
		tag:     TagExecutiveSummary,
		title:   "Resumen ejecutivo",
		purpose: "Debe ofrecer una visión general clara y concisa del caso, destacando los puntos más importantes de la investigación.",
		points: []string{
			"Información relevante de los clientes implicados.",
			"Resumen de las operaciones sospechosas identificadas.",
			"Resumen de los indicios de blanqueo de capitales o actividades ilícitas.",
			"Resumen de las gestiones y comprobaciones realizadas.",
		},
	},
	{
		tag:     TagPartyIdentification,
		title:   "Identificación del interviniente",
		purpose: "Debe detallar la información identificativa del interviniente principal.",
		points: []string{
			"Nombre completo o razón social y documento de identidad o CIF.",
			"Fecha de nacimiento o de constitución, nacionalidad y domicilio.",
			"Actividad profesional o social e ingresos declarados.",
			"Relación con la Entidad y productos contratados.",
		},
	},
	{
		tag:     TagOperationsDescription,
		title:   "Descripción de las operaciones",
		purpose: "Debe describir de forma ordenada las operaciones objeto de la comunicación.",
		points: []string{
			"Periodo analizado e importes totales de abonos y cargos.",
			"Tipología de las operaciones, ordenantes y beneficiarios.",
			"Países de origen y destino de los fondos cuando no sean España.",
		},
	},
	{
		tag:     TagLaunderingIndicators,
		title:   "Indicios de blanqueo de capitales",
		purpose: "Debe exponer los indicios que motivan la comunicación.",
		points: []string{
			"Falta de justificación económica de la operativa.",
			"Incoherencia con el perfil declarado del cliente.",
			"Patrones de fraccionamiento, rápido movimiento de fondos o uso intensivo de efectivo.",
		},
		mode: ModeBlocking,
	},
	{
		tag:     TagChecksPerformed,
		title:   "Gestiones y comprobaciones realizadas",
		purpose: "Debe recoger las gestiones realizadas por la Entidad durante la investigación.",
		points: []string{
			"Consultas a la oficina y respuestas obtenidas en orden cronológico.",
			"Consultas a proveedores externos y fuentes abiertas.",
			"Documentación solicitada y su estado.",
		},
	},
	{
		tag:     TagDocumentationSubmitted,
		title:   "Documentación remitida",
		purpose: "Debe enumerar la documentación que se adjunta a la comunicación.",
		points: []string{
			"Documentos de identificación y KYC.",
			"Extractos y tablas de movimientos.",
			"Documentación aportada por el cliente.",
		},
	},
}

// SARTemplateNames maps slot tags to the file name fragments of the bank's section templates.
var SARTemplateNames = map[models.SlotTag]string{
	TagExecutiveSummary:       "ResumenEjecutivo",
	TagPartyIdentification:    "IdentificacionDelInterviniente",
	TagOperationsDescription:  "DescripcionDeLasOperaciones",
	TagLaunderingIndicators:   "IndiciosDeBlanqueoDeCapitales",
	TagChecksPerformed:        "GestionesyComprobacionesRealizadas",
	TagDocumentationSubmitted: "DocumentacionRemitida",
}

func sar() Set {
	set := Set{
		ReportType: models.ReportTypeSAR,
		system: func(docs models.Documents) (string, error) {
			return render("base_sar", map[string]string(docs))
		},
	}
	for i, section := range sarSections {
		number := i + 1
		set.Slots = append(set.Slots, SlotSpec{
			Tag:   section.tag,
			Title: section.title,
			Mode:  section.mode,
			Prompt: FromDocuments(func(docs models.Documents) (string, error) {
				return render("sar_section", map[string]any{
					"number":   number,
					"title":    section.title,
					"purpose":  section.purpose,
					"points":   section.points,
					"template": docs[models.TemplateDoc(section.tag)],
				})
			}),
		})
	}
	return set
}
