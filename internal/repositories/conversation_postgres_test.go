package repositories_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/myrjola/amlnarrator/internal/errors"
	"github.com/myrjola/amlnarrator/internal/models"
	"github.com/myrjola/amlnarrator/internal/repositories"
	"github.com/myrjola/amlnarrator/internal/testhelpers"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func TestPostgresConversationRepository(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := testhelpers.NewLogger(io.Discard)

	tests := []struct {
		name   string
		expect func(mock pgxmock.PgxPoolIface)
		run    func(t *testing.T, repo *repositories.PostgresConversationRepository)
	}{
		{
			name: "append commits both messages",
			expect: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO conversation_messages").
					WithArgs("C-1/sar", "user", "question").
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
				mock.ExpectExec("INSERT INTO conversation_messages").
					WithArgs("C-1/sar", "assistant", "answer").
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
				mock.ExpectCommit()
			},
			run: func(t *testing.T, repo *repositories.PostgresConversationRepository) {
				t.Helper()
				require.NoError(t, repo.Append(ctx, "C-1/sar",
					models.Message{Role: models.RoleUser, Content: "question"},
					models.Message{Role: models.RoleAssistant, Content: "answer"},
				))
			},
		},
		{
			name: "append rolls back on failure",
			expect: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO conversation_messages").
					WithArgs("C-1/sar", "user", "question").
					WillReturnError(errors.NewSentinel("connection reset"))
				mock.ExpectRollback()
			},
			run: func(t *testing.T, repo *repositories.PostgresConversationRepository) {
				t.Helper()
				err := repo.Append(ctx, "C-1/sar", models.Message{Role: models.RoleUser, Content: "question"})
				require.ErrorIs(t, err, repositories.ErrPersistence)
			},
		},
		{
			name: "history in insertion order",
			expect: func(mock pgxmock.PgxPoolIface) {
				created := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
				mock.ExpectQuery("SELECT role, content, created FROM conversation_messages").
					WithArgs("C-1/sar").
					WillReturnRows(pgxmock.NewRows([]string{"role", "content", "created"}).
						AddRow("user", "question", created).
						AddRow("assistant", "answer", created.Add(time.Second)))
			},
			run: func(t *testing.T, repo *repositories.PostgresConversationRepository) {
				t.Helper()
				history, err := repo.History(ctx, "C-1/sar")
				require.NoError(t, err)
				require.Len(t, history, 2)
				require.Equal(t, models.RoleUser, history[0].Role)
				require.Equal(t, "answer", history[1].Content)
			},
		},
		{
			name: "clear deletes the session",
			expect: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec("DELETE FROM conversation_messages").
					WithArgs("C-1/sar").
					WillReturnResult(pgxmock.NewResult("DELETE", 2))
			},
			run: func(t *testing.T, repo *repositories.PostgresConversationRepository) {
				t.Helper()
				require.NoError(t, repo.Clear(ctx, "C-1/sar"))
			},
		},
		{
			name: "schema",
			expect: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec("CREATE TABLE IF NOT EXISTS conversation_messages").
					WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
			},
			run: func(t *testing.T, repo *repositories.PostgresConversationRepository) {
				t.Helper()
				require.NoError(t, repo.EnsureSchema(ctx))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()
			tt.expect(mock)
			tt.run(t, repositories.NewPostgresConversationRepository(mock, logger))
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
