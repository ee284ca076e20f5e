package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/myrjola/amlnarrator/internal/errors"
	"github.com/myrjola/amlnarrator/internal/models"
	"github.com/myrjola/amlnarrator/internal/orchestrator"
)

// Event names of the generation stream.
const (
	eventSlotStarted  = "slot-started"
	eventFragment     = "fragment"
	eventDiscard      = "discard"
	eventSlotAnswered = "slot-answered"
	eventSlotSkipped  = "slot-skipped"
	eventSlotFailed   = "slot-failed"
	// eventDone and eventError end the stream and carry the report.
	eventDone  = "done"
	eventError = "error"
	// eventReport is sent alone when no generation has run since the server started.
	eventReport = "report"
)

// runEvent is the payload of one server-sent event.
type runEvent struct {
	Event    string          `json:"-"`
	Slot     *slotResponse   `json:"slot,omitempty"`
	Attempt  int             `json:"attempt,omitempty"`
	Fragment string          `json:"fragment,omitempty"`
	Error    string          `json:"error,omitempty"`
	Status   int             `json:"status,omitempty"`
	Report   *reportResponse `json:"report,omitempty"`
}

func newRunEvent(e orchestrator.Event) runEvent {
	slot := newSlotResponse(e.Slot)
	ev := runEvent{Slot: &slot, Attempt: e.Attempt, Fragment: e.Fragment}
	if e.Err != nil {
		ev.Error = e.Err.Error()
	}
	switch e.Type {
	case orchestrator.EventSlotStarted:
		ev.Event = eventSlotStarted
	case orchestrator.EventFragment:
		ev.Event = eventFragment
		// Fragments are frequent; the slot tag is enough to place them.
		ev.Slot = &slotResponse{Tag: slot.Tag, Position: slot.Position}
	case orchestrator.EventDiscard:
		ev.Event = eventDiscard
	case orchestrator.EventSlotAnswered:
		ev.Event = eventSlotAnswered
	case orchestrator.EventSlotSkipped:
		ev.Event = eventSlotSkipped
	case orchestrator.EventSlotFailed:
		ev.Event = eventSlotFailed
	}
	return ev
}

// writeEvent writes ev in the text/event-stream format.
func writeEvent(w io.Writer, ev runEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	var b strings.Builder
	_, _ = fmt.Fprintf(&b, "event: %s\n", ev.Event)
	for _, line := range strings.Split(string(data), "\n") {
		_, _ = fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	if _, err = io.WriteString(w, b.String()); err != nil {
		return errors.Wrap(err, "write event")
	}
	return nil
}

// stream sends the events of the report's generation as server-sent events, replaying the ones sent before the
// client connected. Without a generation to follow, the persisted report is sent as a single report event.
func (app *application) stream(w http.ResponseWriter, r *http.Request) {
	caseID, rt, err := reportTarget(r)
	if err != nil {
		app.handleError(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		app.serverError(w, r, errors.New("streaming not supported"))
		return
	}
	ctx := r.Context()

	events, ok := app.runs.Subscribe(ctx, models.SessionID(caseID, rt))
	if !ok {
		report, reportErr := app.reports.Report(ctx, caseID, rt)
		if reportErr != nil {
			app.handleError(w, r, reportErr)
			return
		}
		summary := newReportResponse(report)
		replay := make(chan runEvent, 1)
		replay <- runEvent{Event: eventReport, Report: &summary}
		close(replay)
		events = replay
	}

	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		if err = writeEvent(w, ev); err != nil {
			// The client went away. The generation carries on regardless.
			app.logger.LogAttrs(ctx, slog.LevelDebug, "stream closed", errors.SlogError(err))
			return
		}
		flusher.Flush()
	}
}
