package repositories_test

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/myrjola/amlnarrator/internal/models"
	"github.com/myrjola/amlnarrator/internal/repositories"
	"github.com/myrjola/amlnarrator/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationRepository(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := repositories.NewConversationRepository(newTestDB(t), testhelpers.NewLogger(io.Discard))
	session := models.SessionID("C-1", models.ReportTypePreNarrative)
	other := models.SessionID("C-1", models.ReportTypeNarrative)

	history, err := repo.History(ctx, session)
	require.NoError(t, err)
	require.Empty(t, history)

	require.NoError(t, repo.Append(ctx, session,
		models.Message{Role: models.RoleUser, Content: "What triggered the alert?"},
		models.Message{Role: models.RoleAssistant, Content: "Cash deposits."},
	))
	require.NoError(t, repo.Append(ctx, other, models.Message{Role: models.RoleUser, Content: "unrelated"}))
	require.NoError(t, repo.Append(ctx, session,
		models.Message{Role: models.RoleUser, Content: "Who is the principal?"},
		models.Message{Role: models.RoleAssistant, Content: "Jane Doe."},
	))

	history, err = repo.History(ctx, session)
	require.NoError(t, err)
	require.Len(t, history, 4)
	contents := make([]string, 0, len(history))
	for _, m := range history {
		contents = append(contents, m.Content)
		require.False(t, m.Created.IsZero())
	}
	require.Equal(t, []string{"What triggered the alert?", "Cash deposits.", "Who is the principal?", "Jane Doe."},
		contents)
	require.Equal(t, models.RoleAssistant, history[3].Role)

	// Clear empties the session and leaves the others alone.
	require.NoError(t, repo.Clear(ctx, session))
	history, err = repo.History(ctx, session)
	require.NoError(t, err)
	require.Empty(t, history)
	history, err = repo.History(ctx, other)
	require.NoError(t, err)
	require.Len(t, history, 1)

	// A cleared session accepts new appends immediately.
	require.NoError(t, repo.Append(ctx, session, models.Message{Role: models.RoleUser, Content: "again"}))
	history, err = repo.History(ctx, session)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "again", history[0].Content)
}

func TestConversationRepository_concurrentSessions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := repositories.NewConversationRepository(newTestDB(t), testhelpers.NewLogger(io.Discard))

	const sessions, pairs = 4, 5
	var wg sync.WaitGroup
	for s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("case-%d/sar", s)
			for i := range pairs {
				err := repo.Append(ctx, id,
					models.Message{Role: models.RoleUser, Content: fmt.Sprintf("q%d", i)},
					models.Message{Role: models.RoleAssistant, Content: fmt.Sprintf("a%d", i)},
				)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	for s := range sessions {
		history, err := repo.History(ctx, fmt.Sprintf("case-%d/sar", s))
		require.NoError(t, err)
		require.Len(t, history, 2*pairs)
		for i := range pairs {
			require.Equal(t, fmt.Sprintf("q%d", i), history[2*i].Content)
			require.Equal(t, fmt.Sprintf("a%d", i), history[2*i+1].Content)
		}
	}
}
