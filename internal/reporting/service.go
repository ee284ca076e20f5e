// Package reporting runs report generation for cases and exports the results.
package reporting

import (
	"context"
	"log/slog"

	"github.com/myrjola/amlnarrator/internal/document"
	"github.com/myrjola/amlnarrator/internal/errors"
	"github.com/myrjola/amlnarrator/internal/logging"
	"github.com/myrjola/amlnarrator/internal/models"
	"github.com/myrjola/amlnarrator/internal/orchestrator"
	"github.com/myrjola/amlnarrator/internal/questions"
	"github.com/myrjola/amlnarrator/internal/repositories"
	"github.com/myrjola/amlnarrator/internal/storage"
)

// ErrNothingToExport is returned for reports without answered slots.
var ErrNothingToExport = errors.NewSentinel("report has no answers")

// CaseFiles reads the inputs of cases.
type CaseFiles interface {
	Cases(ctx context.Context, rt models.ReportType, typology string) ([]string, error)
	Documents(ctx context.Context, caseID string, rt models.ReportType) (models.Documents, error)
	Purge()
}

type Runner interface {
	Run(ctx context.Context, caseID string, set questions.Set, opts orchestrator.Options) (*models.Report, error)
}

type Reports interface {
	Get(ctx context.Context, caseID string, rt models.ReportType) (*models.Report, error)
	Reset(ctx context.Context, caseID string, rt models.ReportType) error
}

type Conversations interface {
	Clear(ctx context.Context, sessionID string) error
}

// Diagrams renders the graph slot of a report.
type Diagrams interface {
	Render(ctx context.Context, answer string) ([]byte, error)
	Format() string
}

type Service struct {
	files         CaseFiles
	runner        Runner
	reports       Reports
	conversations Conversations
	diagrams      Diagrams
	// exports receives a copy of every export. Nil disables the copies.
	exports      storage.Store
	exportFolder string
	maxRetries   int
	logger       *slog.Logger
}

// Deps are the collaborators of a Service.
type Deps struct {
	Files         CaseFiles
	Runner        Runner
	Reports       Reports
	Conversations Conversations
	Diagrams      Diagrams
	Exports       storage.Store
}

func New(deps Deps, exportFolder string, maxRetries int, logger *slog.Logger) *Service {
	return &Service{
		files:         deps.Files,
		runner:        deps.Runner,
		reports:       deps.Reports,
		conversations: deps.Conversations,
		diagrams:      deps.Diagrams,
		exports:       deps.Exports,
		exportFolder:  exportFolder,
		maxRetries:    maxRetries,
		logger:        logger.With("source", "reporting.Service"),
	}
}

func withReport(ctx context.Context, caseID string, rt models.ReportType) context.Context {
	return logging.WithAttrs(ctx, slog.String("case_id", caseID), slog.String("report_type", string(rt)))
}

// Cases lists the cases that have data for rt, optionally only those of one typology.
func (s *Service) Cases(ctx context.Context, rt models.ReportType, typology string) ([]string, error) {
	cases, err := s.files.Cases(ctx, rt, typology)
	if err != nil {
		return nil, errors.Wrap(err, "list cases")
	}
	return cases, nil
}

// GenerateOptions adjust a generation run.
type GenerateOptions struct {
	// Partial resumes the previous run: answered slots are kept and the conversation continues.
	Partial    bool
	Regenerate []models.SlotTag
	Observer   orchestrator.Observer
}

// Generate answers the question set of rt for the case.
//
// Narratives and SARs build on the previous report type of the case, whose markup is added to the documents.
func (s *Service) Generate(
	ctx context.Context,
	caseID string,
	rt models.ReportType,
	opts GenerateOptions,
) (*models.Report, error) {
	ctx = withReport(ctx, caseID, rt)
	set, err := questions.For(rt)
	if err != nil {
		return nil, errors.Wrap(err, "question set")
	}
	docs, err := s.files.Documents(ctx, caseID, rt)
	if err != nil {
		return nil, errors.Wrap(err, "case documents")
	}
	switch rt {
	case models.ReportTypeNarrative:
		if err = s.upstream(ctx, caseID, models.ReportTypePreNarrative, models.DocPreNarrative, docs); err != nil {
			return nil, err
		}
	case models.ReportTypeSAR:
		if err = s.upstream(ctx, caseID, models.ReportTypeNarrative, models.DocNarrative, docs); err != nil {
			return nil, err
		}
	case models.ReportTypePreNarrative:
	}

	s.logger.LogAttrs(ctx, slog.LevelInfo, "generating report", slog.Bool("partial", opts.Partial))
	report, err := s.runner.Run(ctx, caseID, set, orchestrator.Options{
		Partial:    opts.Partial,
		Regenerate: opts.Regenerate,
		Documents:  docs,
		MaxRetries: s.maxRetries,
		Observer:   opts.Observer,
	})
	if err != nil {
		return report, errors.Wrap(err, "run question set")
	}
	return report, nil
}

// upstream adds the markup of the case's from report to docs under name. The report must have answers.
func (s *Service) upstream(
	ctx context.Context,
	caseID string,
	from models.ReportType,
	name string,
	docs models.Documents,
) error {
	report, err := s.reports.Get(ctx, caseID, from)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return errors.Wrap(questions.ErrMalformedInput, "previous report missing", slog.String("requires", string(from)))
	case err != nil:
		return errors.Wrap(err, "previous report", slog.String("requires", string(from)))
	}
	if !answered(report) {
		return errors.Wrap(questions.ErrMalformedInput, "previous report has no answers",
			slog.String("requires", string(from)))
	}
	docs[name] = document.RenderMarkup(report.Narrative())
	return nil
}

func answered(report *models.Report) bool {
	for _, slot := range report.Slots {
		if slot.State == models.SlotStateAnswered {
			return true
		}
	}
	return false
}

// Report returns the persisted state of the case's report.
func (s *Service) Report(ctx context.Context, caseID string, rt models.ReportType) (*models.Report, error) {
	report, err := s.reports.Get(withReport(ctx, caseID, rt), caseID, rt)
	if err != nil {
		return nil, errors.Wrap(err, "get report")
	}
	return report, nil
}

// Export renders the narrative of the case's report in format f. The export is also written to the export folder.
func (s *Service) Export(
	ctx context.Context,
	caseID string,
	rt models.ReportType,
	f document.Format,
) (string, []byte, error) {
	ctx = withReport(ctx, caseID, rt)
	report, err := s.exportable(ctx, caseID, rt)
	if err != nil {
		return "", nil, err
	}
	data, err := document.Render(report.Narrative(), f)
	if err != nil {
		return "", nil, errors.Wrap(err, "render export", slog.String("format", string(f)))
	}
	filename := document.Filename(report.GeneratedAt, rt, caseID, f)
	if err = s.store(ctx, caseID, filename, data); err != nil {
		return "", nil, err
	}
	return filename, data, nil
}

// Diagram renders the graph slot of the case's report.
func (s *Service) Diagram(ctx context.Context, caseID string, rt models.ReportType) (string, []byte, error) {
	ctx = withReport(ctx, caseID, rt)
	report, err := s.exportable(ctx, caseID, rt)
	if err != nil {
		return "", nil, err
	}
	data, err := s.diagrams.Render(ctx, report.Graph())
	if err != nil {
		return "", nil, errors.Wrap(err, "render diagram")
	}
	filename := document.Filename(report.GeneratedAt, rt, caseID, document.Format(s.diagrams.Format()))
	if err = s.store(ctx, caseID, filename, data); err != nil {
		return "", nil, err
	}
	return filename, data, nil
}

func (s *Service) exportable(ctx context.Context, caseID string, rt models.ReportType) (*models.Report, error) {
	report, err := s.reports.Get(ctx, caseID, rt)
	if err != nil {
		return nil, errors.Wrap(err, "get report")
	}
	if !answered(report) {
		return nil, errors.Wrap(ErrNothingToExport, "export")
	}
	return report, nil
}

func (s *Service) store(ctx context.Context, caseID string, filename string, data []byte) error {
	if s.exports == nil {
		return nil
	}
	p := storage.Join(s.exportFolder, caseID, filename)
	if err := s.exports.Write(ctx, p, data); err != nil {
		return errors.Wrap(err, "store export", slog.String("path", p))
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "export stored", slog.String("path", p), slog.Int("bytes", len(data)))
	return nil
}

// Clear forgets the conversation session and the report of the case. Cached case files are dropped too so that the
// next run reads the current inputs.
func (s *Service) Clear(ctx context.Context, caseID string, rt models.ReportType) error {
	ctx = withReport(ctx, caseID, rt)
	if err := s.conversations.Clear(ctx, models.SessionID(caseID, rt)); err != nil {
		return errors.Wrap(err, "clear conversation")
	}
	if err := s.reports.Reset(ctx, caseID, rt); err != nil {
		return errors.Wrap(err, "reset report")
	}
	s.files.Purge()
	s.logger.LogAttrs(ctx, slog.LevelInfo, "case cleared")
	return nil
}
