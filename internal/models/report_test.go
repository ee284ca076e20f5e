package models_test

import (
	"testing"
	"time"

	"github.com/myrjola/amlnarrator/internal/models"
	"github.com/stretchr/testify/require"
)

func TestParseReportType(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    models.ReportType
		wantErr bool
	}{
		{in: "pre-narrative", want: models.ReportTypePreNarrative},
		{in: " Narrative ", want: models.ReportTypeNarrative},
		{in: "sar", want: models.ReportTypeSAR},
		{in: "memo", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := models.ParseReportType(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, models.ErrUnknownReportType)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestReport_Narrative(t *testing.T) {
	t.Parallel()
	report := models.Report{
		CaseID:      "C-42",
		ReportType:  models.ReportTypePreNarrative,
		GeneratedAt: time.Date(2024, time.March, 5, 9, 7, 0, 0, time.Local),
		Model:       "gpt-4o",
		Temperature: 0,
		// Completion order differs from position order.
		Slots: []models.Slot{
			{Tag: "third", Position: 2, Kind: models.KindProse, State: models.SlotStateAnswered, Answer: "three"},
			{Tag: "graph", Position: 3, Kind: models.KindGraph, State: models.SlotStateAnswered, Answer: "```dot\ngraph{}```"},
			{Tag: "first", Position: 0, Kind: models.KindProse, State: models.SlotStateAnswered, Answer: "one"},
			{Tag: "second", Position: 1, Kind: models.KindProse, State: models.SlotStatePending, Answer: ""},
		},
	}

	narrative := report.Narrative()
	require.Equal(t, []string{
		"## Pre-narrativa para el caso «C-42»\n\n> Generada el 05/03/2024 a las 09:07 usando el modelo de lenguaje «gpt-4o» (con temperatura 0.0).",
		"one",
		"three",
	}, narrative)
	require.Equal(t, "```dot\ngraph{}```", report.Graph())

	slot, ok := report.Slot("second")
	require.True(t, ok)
	require.Equal(t, models.SlotStatePending, slot.State)
}

func TestSessionID(t *testing.T) {
	t.Parallel()
	require.Equal(t, "C-42/sar", models.SessionID("C-42", models.ReportTypeSAR))
	require.NotEqual(t, models.SessionID("C-42", models.ReportTypeSAR), models.SessionID("C-42", models.ReportTypeNarrative))
}

func TestReport_Header(t *testing.T) {
	t.Parallel()
	// Stored reports come back in UTC.
	generated := time.Date(2024, time.December, 31, 23, 30, 0, 0, time.UTC)
	report := &models.Report{
		CaseID:      "C-7",
		ReportType:  models.ReportTypeSAR,
		GeneratedAt: generated,
		Model:       "gpt-4o-mini",
		Temperature: 0.25,
	}
	local := generated.Local()
	require.Contains(t, report.Header(), "> Generada el "+local.Format("02/01/2006")+" a las "+local.Format("15:04")+
		" usando el modelo de lenguaje «gpt-4o-mini»")
	require.Equal(t, report.Header(), (&models.Report{
		CaseID:      "C-7",
		ReportType:  models.ReportTypeSAR,
		GeneratedAt: local,
		Model:       "gpt-4o-mini",
		Temperature: 0.25,
	}).Header())
}
