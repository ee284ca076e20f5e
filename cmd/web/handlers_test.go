package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myrjola/amlnarrator/internal/broker"
	"github.com/myrjola/amlnarrator/internal/document"
	"github.com/myrjola/amlnarrator/internal/e2etest"
	"github.com/myrjola/amlnarrator/internal/models"
	"github.com/myrjola/amlnarrator/internal/orchestrator"
	"github.com/myrjola/amlnarrator/internal/questions"
	"github.com/myrjola/amlnarrator/internal/reporting"
	"github.com/myrjola/amlnarrator/internal/repositories"
)

const caseID = "C1 - UE - 0001"

func reportPath(id string, rt models.ReportType) string {
	return e2etest.ReportPath(id, string(rt))
}

// lastEvent returns the final event of a stream and decodes it into v.
func lastEvent(t *testing.T, events []e2etest.Event, v any) string {
	t.Helper()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.NoError(t, last.Decode(v))
	return last.Name
}

func TestReportLifecycle(t *testing.T) {
	t.Parallel()
	lookupEnv := testEnv(t)
	server := startTestServer(t, io.Discard, lookupEnv)
	base := reportPath(caseID, models.ReportTypePreNarrative)

	var cases casesResponse
	server.GetJSON(t, "/api/cases", http.StatusOK, &cases)
	assert.Equal(t, []string{caseID}, cases.Cases)
	assert.Equal(t, "pre-narrative", cases.ReportType)

	var errResp errorResponse
	server.GetJSON(t, base, http.StatusNotFound, &errResp)
	assert.Equal(t, http.StatusNotFound, server.Get(t, base+"/stream").StatusCode)
	assert.Equal(t, http.StatusNotFound, server.Get(t, base+"/export/md").StatusCode)

	resp := server.Do(t, http.MethodPost, base)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var started generateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	assert.Equal(t, caseID, started.CaseID)
	assert.Equal(t, base+"/stream", started.Stream)

	events := server.Events(t, started.Stream)
	var done runEvent
	require.Equal(t, eventDone, lastEvent(t, events, &done))
	require.NotNil(t, done.Report)
	require.Len(t, done.Report.Slots, 6)
	kinds := map[string]string{}
	for _, slot := range done.Report.Slots {
		assert.Equal(t, string(models.SlotStateAnswered), slot.State, slot.Tag)
		kinds[slot.Tag] = slot.Kind
	}
	assert.Equal(t, string(models.KindGraph), kinds[string(questions.TagPartyGraph)])
	assert.Equal(t, string(models.KindProse), kinds[string(questions.TagAlertNature)])

	names := map[string]int{}
	var fragments strings.Builder
	for _, ev := range events {
		names[ev.Name]++
		if ev.Name == eventFragment {
			var fragment runEvent
			require.NoError(t, ev.Decode(&fragment))
			fragments.WriteString(fragment.Fragment)
		}
	}
	assert.Equal(t, 6, names[eventSlotStarted])
	assert.Equal(t, 6, names[eventSlotAnswered])
	assert.Positive(t, names[eventFragment])
	assert.Contains(t, fragments.String(), "del análisis.")

	t.Run("replay", func(t *testing.T) {
		replayed := server.Events(t, started.Stream)
		assert.Equal(t, events, replayed)
	})

	var report reportResponse
	server.GetJSON(t, base, http.StatusOK, &report)
	assert.Equal(t, done.Report.Slots, report.Slots)
	assert.Equal(t, "gpt-4o", report.Model)

	resp = server.Get(t, base+"/export/md")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, document.FormatMarkdown.ContentType(), resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "pre-narrative-C1 - UE - 0001.md")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Respuesta **")
	assert.NotContains(t, string(body), "digraph")

	assert.Equal(t, http.StatusBadRequest, server.Get(t, base+"/export/pdf").StatusCode)

	resp = server.Get(t, base+"/diagram")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "digraph G { cliente -> cuenta }", strings.TrimSpace(string(body)))

	var health healthResponse
	server.GetJSON(t, "/api/healthy", http.StatusOK, &health)
	assert.Equal(t, healthResponse{Status: "ok", Running: 0}, health)

	require.Equal(t, http.StatusNoContent, server.Do(t, http.MethodDelete, base).StatusCode)
	server.GetJSON(t, base, http.StatusNotFound, &errResp)
	assert.Equal(t, http.StatusNotFound, server.Get(t, base+"/stream").StatusCode)
}

func TestGenerate_errors(t *testing.T) {
	t.Parallel()
	lookupEnv := testEnv(t)
	server := startTestServer(t, io.Discard, lookupEnv)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		// wantEventStatus is the status carried by the error event of the background run.
		wantEventStatus int
	}{
		{
			name:       "unknown report type",
			path:       reportPath(caseID, "summary"),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown slot",
			path:       reportPath(caseID, models.ReportTypePreNarrative) + "?regenerate=alert-nature,executive-summary",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid partial flag",
			path:       reportPath(caseID, models.ReportTypePreNarrative) + "?partial=maybe",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:            "narrative without pre-narrative",
			path:            reportPath(caseID, models.ReportTypeNarrative),
			wantStatus:      http.StatusAccepted,
			wantEventStatus: http.StatusUnprocessableEntity,
		},
		{
			name:            "unknown case",
			path:            reportPath("C9 - UE - 0009", models.ReportTypePreNarrative),
			wantStatus:      http.StatusAccepted,
			wantEventStatus: http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp := server.Do(t, http.MethodPost, tt.path)
			require.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantStatus != http.StatusAccepted {
				var errResp errorResponse
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
				assert.NotEmpty(t, errResp.Error)
				return
			}
			var started generateResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
			var failed runEvent
			require.Equal(t, eventError, lastEvent(t, server.Events(t, started.Stream), &failed))
			assert.Equal(t, tt.wantEventStatus, failed.Status)
			assert.NotEmpty(t, failed.Error)
		})
	}
}

func TestRoutes_notFound(t *testing.T) {
	t.Parallel()
	lookupEnv := testEnv(t)
	server := startTestServer(t, io.Discard, lookupEnv)

	resp := server.Get(t, "/api/unknown")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, http.StatusMethodNotAllowed, server.Do(t, http.MethodPut, reportPath(caseID, "sar")).StatusCode)
}

func TestErrorStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want int
	}{
		{err: fmt.Errorf("get report: %w", repositories.ErrNotFound), want: http.StatusNotFound},
		{err: models.ErrUnknownReportType, want: http.StatusBadRequest},
		{err: document.ErrUnknownFormat, want: http.StatusBadRequest},
		{err: reporting.ErrNothingToExport, want: http.StatusConflict},
		{err: broker.ErrBusy, want: http.StatusConflict},
		{err: errors.Join(questions.ErrMalformedInput, errors.New("template")), want: http.StatusUnprocessableEntity},
		{err: errors.New("disk full"), want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, errorStatus(tt.err))
		})
	}
}

func TestWriteEvent(t *testing.T) {
	t.Parallel()
	var b strings.Builder
	slot := models.Slot{Tag: questions.TagAlertNature, Title: "Naturaleza", Position: 1, State: models.SlotStateInProgress}
	err := writeEvent(&b, newRunEvent(orchestrator.Event{
		Type:     orchestrator.EventFragment,
		Slot:     slot,
		Attempt:  2,
		Fragment: "línea\nsiguiente",
	}))
	require.NoError(t, err)
	assert.Equal(t,
		"event: fragment\n"+
			`data: {"slot":{"tag":"alert-nature","title":"","position":1,"state":""},"attempt":2,`+
			`"fragment":"línea\nsiguiente"}`+"\n\n",
		b.String())
}
