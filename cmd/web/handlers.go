package main

import (
	"context"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/myrjola/amlnarrator/internal/document"
	"github.com/myrjola/amlnarrator/internal/errors"
	"github.com/myrjola/amlnarrator/internal/logging"
	"github.com/myrjola/amlnarrator/internal/models"
	"github.com/myrjola/amlnarrator/internal/orchestrator"
	"github.com/myrjola/amlnarrator/internal/questions"
	"github.com/myrjola/amlnarrator/internal/reporting"
)

type slotResponse struct {
	Tag      string `json:"tag"`
	Title    string `json:"title"`
	Position int    `json:"position"`
	State    string `json:"state"`
	Kind     string `json:"kind,omitempty"`
	Answer   string `json:"answer,omitempty"`
}

type reportResponse struct {
	CaseID      string         `json:"case_id"`
	ReportType  string         `json:"report_type"`
	RunID       string         `json:"run_id"`
	GeneratedAt time.Time      `json:"generated_at"`
	Model       string         `json:"model"`
	Temperature float64        `json:"temperature"`
	Slots       []slotResponse `json:"slots"`
}

func newSlotResponse(slot models.Slot) slotResponse {
	return slotResponse{
		Tag:      string(slot.Tag),
		Title:    slot.Title,
		Position: slot.Position,
		State:    string(slot.State),
		Kind:     string(slot.Kind),
		Answer:   slot.Answer,
	}
}

func newReportResponse(report *models.Report) reportResponse {
	slots := make([]slotResponse, 0, len(report.Slots))
	for _, slot := range report.Slots {
		slots = append(slots, newSlotResponse(slot))
	}
	return reportResponse{
		CaseID:      report.CaseID,
		ReportType:  string(report.ReportType),
		RunID:       report.RunID,
		GeneratedAt: report.GeneratedAt,
		Model:       report.Model,
		Temperature: report.Temperature,
		Slots:       slots,
	}
}

type casesResponse struct {
	ReportType string   `json:"report_type"`
	Cases      []string `json:"cases"`
}

// listCases lists the cases with data for the report type given by the type query parameter, pre-narrative by
// default.
func (app *application) listCases(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	rt := models.ReportTypePreNarrative
	if s := query.Get("type"); s != "" {
		var err error
		if rt, err = models.ParseReportType(s); err != nil {
			app.handleError(w, r, err)
			return
		}
	}
	cases, err := app.reports.Cases(r.Context(), rt, strings.ToUpper(query.Get("typology")))
	if err != nil {
		app.handleError(w, r, err)
		return
	}
	app.writeJSON(w, r, http.StatusOK, casesResponse{ReportType: string(rt), Cases: cases})
}

// reportTarget reads the case ID and the report type of the request path.
func reportTarget(r *http.Request) (string, models.ReportType, error) {
	caseID := r.PathValue("caseID")
	rt, err := models.ParseReportType(r.PathValue("reportType"))
	if err != nil {
		return "", "", err
	}
	return caseID, rt, nil
}

type generateResponse struct {
	CaseID     string `json:"case_id"`
	ReportType string `json:"report_type"`
	Stream     string `json:"stream"`
}

// generate starts a generation in the background and responds with the URL of its event stream.
//
// Query parameters: partial=true resumes the previous run, regenerate=tag,tag asks the listed slots again.
func (app *application) generate(w http.ResponseWriter, r *http.Request) {
	caseID, rt, err := reportTarget(r)
	if err != nil {
		app.handleError(w, r, err)
		return
	}
	query := r.URL.Query()
	opts := reporting.GenerateOptions{Partial: false, Regenerate: nil, Observer: nil}
	if s := query.Get("partial"); s != "" {
		if opts.Partial, err = strconv.ParseBool(s); err != nil {
			app.clientError(w, r, http.StatusBadRequest, errors.New("partial must be a boolean"))
			return
		}
	}
	if s := query.Get("regenerate"); s != "" {
		set, setErr := questions.For(rt)
		if setErr != nil {
			app.handleError(w, r, setErr)
			return
		}
		if opts.Regenerate, err = set.Tags(strings.Split(s, ",")); err != nil {
			app.handleError(w, r, err)
			return
		}
		opts.Partial = true
	}

	sessionID := models.SessionID(caseID, rt)
	topic, err := app.runs.Publish(sessionID)
	if err != nil {
		app.handleError(w, r, err)
		return
	}
	opts.Observer = func(e orchestrator.Event) { topic.Send(newRunEvent(e)) }

	ctx := logging.WithAttrs(app.runCtx, slog.String("case_id", caseID), slog.String("report_type", string(rt)))
	app.runWG.Add(1)
	app.running.Add(1)
	go func() {
		defer app.runWG.Done()
		defer app.running.Add(-1)
		defer topic.Close()
		topic.Send(app.runGeneration(ctx, caseID, rt, opts))
	}()

	app.writeJSON(w, r, http.StatusAccepted, generateResponse{
		CaseID:     caseID,
		ReportType: string(rt),
		Stream:     r.URL.Path + "/stream",
	})
}

// runGeneration generates the report and returns the event that ends its stream.
func (app *application) runGeneration(
	ctx context.Context,
	caseID string,
	rt models.ReportType,
	opts reporting.GenerateOptions,
) runEvent {
	start := time.Now()
	report, err := app.reports.Generate(ctx, caseID, rt, opts)
	if err != nil {
		app.logger.LogAttrs(ctx, slog.LevelError, "generation failed", errors.SlogError(err))
		ev := runEvent{Event: eventError, Error: err.Error(), Status: errorStatus(err)}
		if report != nil {
			summary := newReportResponse(report)
			ev.Report = &summary
		}
		return ev
	}
	app.logger.LogAttrs(ctx, slog.LevelInfo, "generation done", slog.Duration("duration", time.Since(start)))
	summary := newReportResponse(report)
	return runEvent{Event: eventDone, Report: &summary}
}

// report responds with the persisted state of the report.
func (app *application) report(w http.ResponseWriter, r *http.Request) {
	caseID, rt, err := reportTarget(r)
	if err != nil {
		app.handleError(w, r, err)
		return
	}
	report, err := app.reports.Report(r.Context(), caseID, rt)
	if err != nil {
		app.handleError(w, r, err)
		return
	}
	app.writeJSON(w, r, http.StatusOK, newReportResponse(report))
}

// clear forgets the conversation and the report of the case. Running generations must finish first.
func (app *application) clear(w http.ResponseWriter, r *http.Request) {
	caseID, rt, err := reportTarget(r)
	if err != nil {
		app.handleError(w, r, err)
		return
	}
	if err = app.runs.Exclusive(models.SessionID(caseID, rt), func() error {
		return app.reports.Clear(r.Context(), caseID, rt)
	}); err != nil {
		app.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func attachment(w http.ResponseWriter, filename string, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// export responds with the narrative of the report as a file download.
func (app *application) export(w http.ResponseWriter, r *http.Request) {
	caseID, rt, err := reportTarget(r)
	if err != nil {
		app.handleError(w, r, err)
		return
	}
	f, err := document.ParseFormat(r.PathValue("format"))
	if err != nil {
		app.handleError(w, r, err)
		return
	}
	filename, data, err := app.reports.Export(r.Context(), caseID, rt, f)
	if err != nil {
		app.handleError(w, r, err)
		return
	}
	attachment(w, filename, f.ContentType(), data)
}

// diagram responds with the rendered party graph of the report.
func (app *application) diagram(w http.ResponseWriter, r *http.Request) {
	caseID, rt, err := reportTarget(r)
	if err != nil {
		app.handleError(w, r, err)
		return
	}
	filename, data, err := app.reports.Diagram(r.Context(), caseID, rt)
	if err != nil {
		app.handleError(w, r, err)
		return
	}
	contentType := mime.TypeByExtension(path.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	attachment(w, filename, contentType, data)
}
