package repositories

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/myrjola/amlnarrator/internal/errors"
	"github.com/myrjola/amlnarrator/internal/models"
	"github.com/myrjola/amlnarrator/internal/sqlite"
)

// ReportRepository persists the slot state and generation header of reports.
type ReportRepository struct {
	dbs    *sqlite.Database
	logger *slog.Logger
}

func NewReportRepository(dbs *sqlite.Database, logger *slog.Logger) *ReportRepository {
	return &ReportRepository{
		dbs:    dbs,
		logger: logger.With("source", "ReportRepository"),
	}
}

type slotRow struct {
	CaseID     string `db:"case_id"`
	ReportType string `db:"report_type"`
	Tag        string `db:"tag"`
	Position   int    `db:"position"`
	Title      string `db:"title"`
	State      string `db:"state"`
	Kind       string `db:"kind"`
	Answer     string `db:"answer"`
	Updated    string `db:"updated"`
}

type headerRow struct {
	CaseID      string  `db:"case_id"`
	ReportType  string  `db:"report_type"`
	RunID       string  `db:"run_id"`
	GeneratedAt string  `db:"generated_at"`
	Model       string  `db:"model"`
	Temperature float64 `db:"temperature"`
}

// SaveSlot inserts or replaces the slot identified by its tag.
func (r *ReportRepository) SaveSlot(ctx context.Context, caseID string, rt models.ReportType, slot models.Slot) error {
	stmt := `INSERT INTO slots (case_id, report_type, tag, position, title, state, kind, answer)
VALUES (:case_id, :report_type, :tag, :position, :title, :state, :kind, :answer)
ON CONFLICT (case_id, report_type, tag) DO UPDATE SET position = excluded.position,
                                                      title    = excluded.title,
                                                      state    = excluded.state,
                                                      kind     = excluded.kind,
                                                      answer   = excluded.answer,
                                                      updated  = strftime('%Y-%m-%dT%H:%M:%fZ')`
	row := slotRow{
		CaseID:     caseID,
		ReportType: string(rt),
		Tag:        string(slot.Tag),
		Position:   slot.Position,
		Title:      slot.Title,
		State:      string(slot.State),
		Kind:       string(slot.Kind),
		Answer:     slot.Answer,
		Updated:    "",
	}
	if row.Kind == "" {
		row.Kind = string(models.KindProse)
	}
	if _, err := r.dbs.ReadWrite.NamedExecContext(ctx, stmt, row); err != nil {
		return errors.Wrap(persistenceError(err), "upsert slot",
			slog.String("case_id", caseID), slog.String("report_type", string(rt)), slog.String("slot", row.Tag))
	}
	return nil
}

// SaveHeader records the generation metadata of the report.
func (r *ReportRepository) SaveHeader(ctx context.Context, report *models.Report) error {
	stmt := `INSERT INTO reports (case_id, report_type, run_id, generated_at, model, temperature)
VALUES (:case_id, :report_type, :run_id, :generated_at, :model, :temperature)
ON CONFLICT (case_id, report_type) DO UPDATE SET run_id       = excluded.run_id,
                                                 generated_at = excluded.generated_at,
                                                 model        = excluded.model,
                                                 temperature  = excluded.temperature`
	row := headerRow{
		CaseID:      report.CaseID,
		ReportType:  string(report.ReportType),
		RunID:       report.RunID,
		GeneratedAt: report.GeneratedAt.UTC().Format(time.RFC3339Nano),
		Model:       report.Model,
		Temperature: report.Temperature,
	}
	if _, err := r.dbs.ReadWrite.NamedExecContext(ctx, stmt, row); err != nil {
		return errors.Wrap(persistenceError(err), "upsert report header",
			slog.String("case_id", report.CaseID), slog.String("report_type", row.ReportType))
	}
	return nil
}

// Get returns the report with its slots ordered by position.
//
// ErrNotFound is returned when nothing has been persisted for the case and report type.
func (r *ReportRepository) Get(ctx context.Context, caseID string, rt models.ReportType) (*models.Report, error) {
	var (
		header headerRow
		slots  []slotRow
		err    error
	)
	attrs := []slog.Attr{slog.String("case_id", caseID), slog.String("report_type", string(rt))}

	report := models.Report{
		CaseID:     caseID,
		ReportType: rt,
	}
	err = r.dbs.ReadOnly.GetContext(ctx, &header,
		`SELECT case_id, report_type, run_id, generated_at, model, temperature
FROM reports WHERE case_id = ? AND report_type = ?`, caseID, string(rt))
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, errors.Wrap(persistenceError(err), "select report header", attrs...)
	default:
		report.RunID = header.RunID
		report.GeneratedAt = parseTimestamp(header.GeneratedAt)
		report.Model = header.Model
		report.Temperature = header.Temperature
	}

	if err = r.dbs.ReadOnly.SelectContext(ctx, &slots,
		`SELECT case_id, report_type, tag, position, title, state, kind, answer, updated
FROM slots WHERE case_id = ? AND report_type = ? ORDER BY position`, caseID, string(rt)); err != nil {
		return nil, errors.Wrap(persistenceError(err), "select slots", attrs...)
	}
	if len(slots) == 0 && report.RunID == "" {
		return nil, errors.Wrap(ErrNotFound, "get report", attrs...)
	}
	for _, row := range slots {
		report.Slots = append(report.Slots, models.Slot{
			Tag:      models.SlotTag(row.Tag),
			Title:    row.Title,
			Position: row.Position,
			State:    models.SlotState(row.State),
			Kind:     models.Kind(row.Kind),
			Answer:   row.Answer,
			Updated:  parseTimestamp(row.Updated),
		})
	}
	return &report, nil
}

// Reset deletes the slots and header of the report in one transaction.
func (r *ReportRepository) Reset(ctx context.Context, caseID string, rt models.ReportType) error {
	attrs := []slog.Attr{slog.String("case_id", caseID), slog.String("report_type", string(rt))}
	tx, err := r.dbs.ReadWrite.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(persistenceError(err), "begin transaction", attrs...)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			r.logger.LogAttrs(ctx, slog.LevelError, "could not roll back", errors.SlogError(rollbackErr))
		}
	}()
	if _, err = tx.ExecContext(ctx, `DELETE FROM slots WHERE case_id = ? AND report_type = ?`, caseID, string(rt)); err != nil {
		return errors.Wrap(persistenceError(err), "delete slots", attrs...)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM reports WHERE case_id = ? AND report_type = ?`, caseID, string(rt)); err != nil {
		return errors.Wrap(persistenceError(err), "delete report header", attrs...)
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(persistenceError(err), "commit reset", attrs...)
	}
	return nil
}
