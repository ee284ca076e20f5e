package repositories_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/myrjola/amlnarrator/internal/models"
	"github.com/myrjola/amlnarrator/internal/repositories"
	"github.com/myrjola/amlnarrator/internal/testhelpers"
	"github.com/stretchr/testify/require"
)

func TestReportRepository(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := repositories.NewReportRepository(newTestDB(t), testhelpers.NewLogger(io.Discard))

	_, err := repo.Get(ctx, "C-7", models.ReportTypeSAR)
	require.ErrorIs(t, err, repositories.ErrNotFound)

	slots := []models.Slot{
		{Tag: "b", Title: "Second", Position: 1, State: models.SlotStatePending, Kind: models.KindProse},
		{Tag: "a", Title: "First", Position: 0, State: models.SlotStateInProgress, Kind: models.KindProse},
	}
	for _, slot := range slots {
		require.NoError(t, repo.SaveSlot(ctx, "C-7", models.ReportTypeSAR, slot))
	}
	// Upsert overwrites state and answer.
	require.NoError(t, repo.SaveSlot(ctx, "C-7", models.ReportTypeSAR, models.Slot{
		Tag: "a", Title: "First", Position: 0, State: models.SlotStateAnswered, Kind: models.KindProse, Answer: "done",
	}))

	generatedAt := time.Date(2024, time.May, 2, 14, 30, 0, 0, time.UTC)
	require.NoError(t, repo.SaveHeader(ctx, &models.Report{
		CaseID:      "C-7",
		ReportType:  models.ReportTypeSAR,
		RunID:       "run-1",
		GeneratedAt: generatedAt,
		Model:       "gpt-4o",
		Temperature: 0.2,
	}))

	report, err := repo.Get(ctx, "C-7", models.ReportTypeSAR)
	require.NoError(t, err)
	require.Equal(t, "run-1", report.RunID)
	require.True(t, generatedAt.Equal(report.GeneratedAt))
	require.Equal(t, "gpt-4o", report.Model)
	require.InDelta(t, 0.2, report.Temperature, 1e-9)
	require.Len(t, report.Slots, 2)
	require.Equal(t, models.SlotTag("a"), report.Slots[0].Tag)
	require.Equal(t, models.SlotStateAnswered, report.Slots[0].State)
	require.Equal(t, "done", report.Slots[0].Answer)
	require.Equal(t, models.SlotTag("b"), report.Slots[1].Tag)

	// Other report types of the same case are independent.
	_, err = repo.Get(ctx, "C-7", models.ReportTypeNarrative)
	require.ErrorIs(t, err, repositories.ErrNotFound)

	require.NoError(t, repo.Reset(ctx, "C-7", models.ReportTypeSAR))
	_, err = repo.Get(ctx, "C-7", models.ReportTypeSAR)
	require.ErrorIs(t, err, repositories.ErrNotFound)
}
