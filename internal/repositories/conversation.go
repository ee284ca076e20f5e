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

// ConversationRepository is the durable, append-only message log of conversation sessions.
type ConversationRepository struct {
	dbs    *sqlite.Database
	logger *slog.Logger
}

func NewConversationRepository(dbs *sqlite.Database, logger *slog.Logger) *ConversationRepository {
	return &ConversationRepository{
		dbs:    dbs,
		logger: logger.With("source", "ConversationRepository"),
	}
}

type messageRow struct {
	SessionID string `db:"session_id"`
	Role      string `db:"role"`
	Content   string `db:"content"`
	Created   string `db:"created"`
}

// Append adds messages to the end of the session in a single transaction.
func (r *ConversationRepository) Append(ctx context.Context, sessionID string, messages ...models.Message) error {
	if len(messages) == 0 {
		return nil
	}
	tx, err := r.dbs.ReadWrite.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(persistenceError(err), "begin transaction", slog.String("session_id", sessionID))
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			r.logger.LogAttrs(ctx, slog.LevelError, "could not roll back", errors.SlogError(rollbackErr))
		}
	}()

	stmt := `INSERT INTO messages (session_id, role, content) VALUES (:session_id, :role, :content)`
	for _, message := range messages {
		row := messageRow{
			SessionID: sessionID,
			Role:      string(message.Role),
			Content:   message.Content,
			Created:   "",
		}
		if _, err = tx.NamedExecContext(ctx, stmt, row); err != nil {
			return errors.Wrap(persistenceError(err), "insert message",
				slog.String("session_id", sessionID), slog.String("role", row.Role))
		}
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(persistenceError(err), "commit messages", slog.String("session_id", sessionID))
	}
	return nil
}

// History returns the messages of the session in the order they were appended.
func (r *ConversationRepository) History(ctx context.Context, sessionID string) ([]models.Message, error) {
	var rows []messageRow
	stmt := `SELECT session_id, role, content, created FROM messages WHERE session_id = ? ORDER BY id`
	if err := r.dbs.ReadOnly.SelectContext(ctx, &rows, stmt, sessionID); err != nil {
		return nil, errors.Wrap(persistenceError(err), "select messages", slog.String("session_id", sessionID))
	}
	messages := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, models.Message{
			Role:    models.Role(row.Role),
			Content: row.Content,
			Created: parseTimestamp(row.Created),
		})
	}
	return messages, nil
}

// Clear deletes every message of the session atomically.
func (r *ConversationRepository) Clear(ctx context.Context, sessionID string) error {
	result, err := r.dbs.ReadWrite.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID)
	if err != nil {
		return errors.Wrap(persistenceError(err), "delete messages", slog.String("session_id", sessionID))
	}
	if deleted, rowsErr := result.RowsAffected(); rowsErr == nil {
		r.logger.LogAttrs(ctx, slog.LevelDebug, "cleared session",
			slog.String("session_id", sessionID), slog.Int64("deleted", deleted))
	}
	return nil
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
