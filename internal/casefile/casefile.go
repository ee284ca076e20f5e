// Package casefile assembles the documents of an investigation case from object storage.
package casefile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/unicode/norm"

	"github.com/myrjola/amlnarrator/internal/errors"
	"github.com/myrjola/amlnarrator/internal/models"
	"github.com/myrjola/amlnarrator/internal/questions"
	"github.com/myrjola/amlnarrator/internal/storage"
)

var ErrCaseNotFound = errors.NewSentinel("case not found")

// DefaultCacheSize is the number of extracted files kept in memory.
const DefaultCacheSize = 256

// sharedFolder holds material common to all cases and is never listed as a case.
const sharedFolder = "C0 - Información Común"

const (
	personNatural = "Persona Fisica"
	personLegal   = "Persona Juridica"
)

// Folders locates case data in the store.
type Folders struct {
	PreNarrative string
	Narrative    string
	SARData      string
	SARTemplates string
	// Playbook is the path of the alert handling procedure document.
	Playbook string
	// Assessments holds one document per alert typology, named after the typology.
	Assessments string
}

// Loader reads case files and extracts their text. Extracted office documents are cached by path.
type Loader struct {
	store     storage.Store
	folders   Folders
	texts     *lru.Cache[string, string]
	workbooks *lru.Cache[string, []Sheet]
	logger    *slog.Logger
}

func NewLoader(store storage.Store, folders Folders, cacheSize int, logger *slog.Logger) (*Loader, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	texts, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "create text cache")
	}
	workbooks, err := lru.New[string, []Sheet](cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "create workbook cache")
	}
	return &Loader{
		store:     store,
		folders:   folders,
		texts:     texts,
		workbooks: workbooks,
		logger:    logger.With("source", "casefile.Loader"),
	}, nil
}

// Purge drops every cached extraction so that changed files are read again.
func (l *Loader) Purge() {
	l.texts.Purge()
	l.workbooks.Purge()
}

// casesFolder is where the cases of a report type are listed from. Narratives reuse the pre-narrative case data.
func (l *Loader) casesFolder(rt models.ReportType) string {
	if rt == models.ReportTypeSAR {
		return l.folders.SARData
	}
	return l.folders.PreNarrative
}

// Cases lists the case folders available for rt. A non-empty typology keeps only cases of that typology
// abbreviation.
func (l *Loader) Cases(ctx context.Context, rt models.ReportType, typology string) ([]string, error) {
	folder := l.casesFolder(rt)
	paths, err := l.store.List(ctx, folder)
	if err != nil {
		return nil, errors.Wrap(err, "list cases", slog.String("folder", folder))
	}
	prefix := storage.Join(folder)
	if prefix != "" {
		prefix += "/"
	}
	seen := make(map[string]bool)
	cases := []string{}
	for _, p := range paths {
		caseID, rest, ok := strings.Cut(strings.TrimPrefix(p, prefix), "/")
		if !ok || rest == "" || seen[caseID] {
			continue
		}
		seen[caseID] = true
		if norm.NFC.String(caseID) == norm.NFC.String(sharedFolder) {
			continue
		}
		if typology != "" && !strings.Contains(caseID, typology) {
			continue
		}
		cases = append(cases, caseID)
	}
	sort.Strings(cases)
	return cases, nil
}

// caseFiles returns the file paths of a case folder.
func (l *Loader) caseFiles(ctx context.Context, folder string, caseID string) ([]string, error) {
	files, err := l.store.List(ctx, storage.Join(folder, caseID))
	if err != nil {
		return nil, errors.Wrap(err, "list case files", slog.String("case_id", caseID))
	}
	return files, nil
}

// Documents gathers everything the question set of rt reads for the case.
func (l *Loader) Documents(ctx context.Context, caseID string, rt models.ReportType) (models.Documents, error) {
	ctx = withCase(ctx, caseID)
	docs := models.Documents{}
	files, err := l.caseFiles(ctx, l.folders.PreNarrative, caseID)
	if err != nil {
		return nil, err
	}

	switch rt {
	case models.ReportTypePreNarrative, models.ReportTypeNarrative:
		if len(files) == 0 {
			return nil, errors.Wrap(ErrCaseNotFound, "no case data", slog.String("case_id", caseID))
		}
		if err = l.caseData(ctx, files, docs); err != nil {
			return nil, err
		}
		if err = l.guides(ctx, caseID, docs); err != nil {
			return nil, err
		}
		if rt == models.ReportTypeNarrative {
			if err = l.narrativeData(ctx, caseID, docs); err != nil {
				return nil, err
			}
		}
	case models.ReportTypeSAR:
		if err = l.caseData(ctx, files, docs); err != nil {
			return nil, err
		}
		if err = l.sarData(ctx, caseID, docs); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Wrap(models.ErrUnknownReportType, "case documents", slog.String("report_type", string(rt)))
	}
	return docs, nil
}

// caseData reads the alert, the customer and the transaction workbooks of a case folder.
func (l *Loader) caseData(ctx context.Context, files []string, docs models.Documents) error {
	alerts, err := l.jsonFiles(ctx, matching(files, ".json", "alert"))
	if err != nil {
		return err
	}
	customers, err := l.jsonFiles(ctx, matching(files, ".json", "cliente", "customer"))
	if err != nil {
		return err
	}
	docs[models.DocAlert] = joinTexts(alerts)
	docs[models.DocCustomer] = joinTexts(customers)
	if len(alerts) > 0 {
		docs[models.DocAccountNumber] = stringField(alerts[0].text, "numero_cuenta")
	}

	if summary := matching(files, ".xlsx", "tabla resumen"); len(summary) > 0 {
		sheets, err := l.workbook(ctx, summary[0])
		if err != nil {
			return err
		}
		docs[models.DocTransactions] = sheetsMarkdown(sheets)
		if sheet, ok := pickSheet(sheets, "abono", docs[models.DocAccountNumber]); ok {
			docs[models.DocCredits] = sheet.Markdown()
		}
		if sheet, ok := pickSheet(sheets, "cargo", docs[models.DocAccountNumber]); ok {
			docs[models.DocDebits] = sheet.Markdown()
		}
	} else {
		l.logger.LogAttrs(ctx, slog.LevelWarn, "case has no transaction summary")
	}

	if extra := matching(files, ".xlsx", "intervinientes adicionales"); len(extra) > 0 {
		sheets, err := l.workbook(ctx, extra[0])
		if err != nil {
			return err
		}
		docs[models.DocAdditionalTransactions] = sheetsMarkdown(sheets)
	}
	return nil
}

// guides reads the alert handling procedure and the assessment of the case typology. Both are optional.
func (l *Loader) guides(ctx context.Context, caseID string, docs models.Documents) error {
	if l.folders.Playbook != "" {
		text, err := l.docxFile(ctx, l.folders.Playbook)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			l.logger.LogAttrs(ctx, slog.LevelWarn, "playbook not found", slog.String("path", l.folders.Playbook))
		case err != nil:
			return err
		default:
			docs[models.DocPlaybook] = text
		}
	}

	typology, ok := TypologyOf(caseID)
	if !ok {
		return nil
	}
	p := storage.Join(l.folders.Assessments, typology.Name+".docx")
	text, err := l.docxFile(ctx, p)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		l.logger.LogAttrs(ctx, slog.LevelWarn, "alert assessment not found", slog.String("path", p))
	case err != nil:
		return err
	default:
		docs[models.DocAlertAssessment] = text
	}
	return nil
}

// narrativeData reads the documentation gathered during the investigation. Documents in mail or customer provided
// folders explain the operations, the rest describe the principal party.
func (l *Loader) narrativeData(ctx context.Context, caseID string, docs models.Documents) error {
	folder := storage.Join(l.folders.Narrative, caseID)
	files, err := l.caseFiles(ctx, l.folders.Narrative, caseID)
	if err != nil {
		return err
	}
	var additional, principal []namedText
	for _, p := range matching(files, ".docx") {
		text, err := l.docxFile(ctx, p)
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(p, folder+"/")
		dir := path.Dir(rel)
		if strings.Contains(dir, "Correos") || strings.Contains(dir, "Docu Aportada") {
			additional = append(additional, namedText{name: rel, text: text})
		} else {
			principal = append(principal, namedText{name: rel, text: text})
		}
	}
	parties, err := l.jsonFiles(ctx, matching(files, ".json"))
	if err != nil {
		return err
	}
	for i := range parties {
		parties[i].name = strings.TrimPrefix(parties[i].name, folder+"/")
	}

	docs[models.DocAdditional] = labelled("Documentación y explicación aportada", additional)
	docs[models.DocPrincipalParty] = labelled("Documentación aportada relativa al principal implicado", principal)
	docs[models.DocAdditionalParties] = labelled("JSON de Intervinientes Adicionales", parties)
	return nil
}

// sarData reads the SAR copy of the alert and customer and the section templates for the customer's person type.
func (l *Loader) sarData(ctx context.Context, caseID string, docs models.Documents) error {
	files, err := l.caseFiles(ctx, l.folders.SARData, caseID)
	if err != nil {
		return err
	}
	if len(files) == 0 && docs[models.DocAlert] == "" {
		return errors.Wrap(ErrCaseNotFound, "no SAR case data", slog.String("case_id", caseID))
	}
	alerts, err := l.jsonFiles(ctx, matching(files, ".json", "alert"))
	if err != nil {
		return err
	}
	customers, err := l.jsonFiles(ctx, matching(files, ".json", "cliente", "customer"))
	if err != nil {
		return err
	}
	if len(alerts) > 0 {
		docs[models.DocAlert] = joinTexts(alerts)
	}
	if len(customers) > 0 {
		docs[models.DocCustomer] = joinTexts(customers)
	}

	personType := personNatural
	if len(customers) > 0 && IsLegalPerson(customers[0].text) {
		personType = personLegal
	}
	templates, err := l.store.List(ctx, storage.Join(l.folders.SARTemplates, personType))
	if err != nil {
		return errors.Wrap(err, "list SAR templates", slog.String("person_type", personType))
	}
	for tag, fragment := range questions.SARTemplateNames {
		for _, p := range templates {
			if !strings.Contains(path.Base(p), fragment) || !strings.EqualFold(path.Ext(p), ".docx") {
				continue
			}
			text, err := l.docxFile(ctx, p)
			if err != nil {
				return err
			}
			docs[models.TemplateDoc(tag)] = text
			break
		}
	}
	return nil
}

type namedText struct {
	name string
	text string
}

func joinTexts(files []namedText) string {
	texts := make([]string, 0, len(files))
	for _, f := range files {
		texts = append(texts, f.text)
	}
	return strings.Join(texts, "\n\n")
}

func labelled(label string, files []namedText) string {
	sections := make([]string, 0, len(files))
	for _, f := range files {
		sections = append(sections, fmt.Sprintf("### %s %q:\n\n%s", label, f.name, f.text))
	}
	return strings.Join(sections, "\n\n")
}

// matching returns the paths with extension ext whose base name contains any keyword, case-insensitively.
func matching(paths []string, ext string, keywords ...string) []string {
	var out []string
	for _, p := range paths {
		if !strings.EqualFold(path.Ext(p), ext) {
			continue
		}
		base := strings.ToLower(path.Base(p))
		if len(keywords) == 0 {
			out = append(out, p)
			continue
		}
		for _, keyword := range keywords {
			if strings.Contains(base, keyword) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

func (l *Loader) jsonFiles(ctx context.Context, paths []string) ([]namedText, error) {
	files := make([]namedText, 0, len(paths))
	for _, p := range paths {
		data, err := l.store.Read(ctx, p)
		if err != nil {
			return nil, errors.Wrap(err, "read json", slog.String("path", p))
		}
		if !json.Valid(data) {
			return nil, errors.Wrap(questions.ErrMalformedInput, "invalid json", slog.String("path", p))
		}
		files = append(files, namedText{name: p, text: strings.TrimSpace(string(data))})
	}
	return files, nil
}

func (l *Loader) docxFile(ctx context.Context, p string) (string, error) {
	if text, ok := l.texts.Get(p); ok {
		return text, nil
	}
	data, err := l.store.Read(ctx, p)
	if err != nil {
		return "", errors.Wrap(err, "read docx", slog.String("path", p))
	}
	text, err := DocxText(data)
	if err != nil {
		return "", errors.Wrap(err, "extract docx", slog.String("path", p))
	}
	l.texts.Add(p, text)
	return text, nil
}

func (l *Loader) workbook(ctx context.Context, p string) ([]Sheet, error) {
	if sheets, ok := l.workbooks.Get(p); ok {
		return sheets, nil
	}
	data, err := l.store.Read(ctx, p)
	if err != nil {
		return nil, errors.Wrap(err, "read workbook", slog.String("path", p))
	}
	sheets, err := ReadWorkbook(data)
	if err != nil {
		return nil, errors.Wrap(err, "extract workbook", slog.String("path", p))
	}
	l.workbooks.Add(p, sheets)
	return sheets, nil
}

// stringField returns the top-level string field of a JSON object, or "" when absent.
func stringField(text string, field string) string {
	var object map[string]any
	if err := json.Unmarshal([]byte(text), &object); err != nil {
		return ""
	}
	switch v := object[field].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

// IsLegalPerson tells whether the customer record identifies a company, i.e., carries a CIF document.
func IsLegalPerson(customer string) bool {
	var record struct {
		Identificacion struct {
			TipoDocumento string `json:"tipo_documento"`
		} `json:"identificacion"`
	}
	if err := json.Unmarshal([]byte(customer), &record); err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(record.Identificacion.TipoDocumento), "CIF")
}
