package repositories

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/myrjola/amlnarrator/internal/errors"
	"github.com/myrjola/amlnarrator/internal/models"
)

// PgxPool is the subset of [pgxpool.Pool] used by the PostgreSQL repositories.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var _ PgxPool = (*pgxpool.Pool)(nil)

const postgresConversationSchema = `CREATE TABLE IF NOT EXISTS conversation_messages
(
    id         BIGSERIAL PRIMARY KEY,
    session_id TEXT        NOT NULL,
    role       TEXT        NOT NULL,
    content    TEXT        NOT NULL,
    created    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS conversation_messages_session_id ON conversation_messages (session_id, id);`

// PostgresConversationRepository stores conversation sessions in PostgreSQL for deployments that share
// one database between several workers.
type PostgresConversationRepository struct {
	db     PgxPool
	logger *slog.Logger
}

func NewPostgresConversationRepository(db PgxPool, logger *slog.Logger) *PostgresConversationRepository {
	return &PostgresConversationRepository{
		db:     db,
		logger: logger.With("source", "PostgresConversationRepository"),
	}
}

// ConnectPostgres opens a pgx pool for databaseURL and ensures the conversation schema exists.
func ConnectPostgres(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(persistenceError(err), "create pgx pool")
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(persistenceError(err), "ping postgres")
	}
	return pool, nil
}

// EnsureSchema creates the conversation table when it does not exist yet.
func (r *PostgresConversationRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, postgresConversationSchema); err != nil {
		return errors.Wrap(persistenceError(err), "create conversation schema")
	}
	return nil
}

// Append adds messages to the end of the session in a single transaction.
func (r *PostgresConversationRepository) Append(ctx context.Context, sessionID string, messages ...models.Message) error {
	if len(messages) == 0 {
		return nil
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return errors.Wrap(persistenceError(err), "begin transaction", slog.String("session_id", sessionID))
	}
	stmt := `INSERT INTO conversation_messages (session_id, role, content) VALUES ($1, $2, $3)`
	for _, message := range messages {
		if _, err = tx.Exec(ctx, stmt, sessionID, string(message.Role), message.Content); err != nil {
			if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
				r.logger.LogAttrs(ctx, slog.LevelError, "could not roll back", errors.SlogError(rollbackErr))
			}
			return errors.Wrap(persistenceError(err), "insert message",
				slog.String("session_id", sessionID), slog.String("role", string(message.Role)))
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return errors.Wrap(persistenceError(err), "commit messages", slog.String("session_id", sessionID))
	}
	return nil
}

// History returns the messages of the session in the order they were appended.
func (r *PostgresConversationRepository) History(ctx context.Context, sessionID string) ([]models.Message, error) {
	rows, err := r.db.Query(ctx,
		`SELECT role, content, created FROM conversation_messages WHERE session_id = $1 ORDER BY id`, sessionID)
	if err != nil {
		return nil, errors.Wrap(persistenceError(err), "query messages", slog.String("session_id", sessionID))
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var (
			role    string
			content string
			created time.Time
		)
		if err = rows.Scan(&role, &content, &created); err != nil {
			return nil, errors.Wrap(persistenceError(err), "scan message")
		}
		messages = append(messages, models.Message{Role: models.Role(role), Content: content, Created: created})
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(persistenceError(err), "rows error")
	}
	return messages, nil
}

// Clear deletes every message of the session atomically.
func (r *PostgresConversationRepository) Clear(ctx context.Context, sessionID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM conversation_messages WHERE session_id = $1`, sessionID)
	if err != nil {
		return errors.Wrap(persistenceError(err), "delete messages", slog.String("session_id", sessionID))
	}
	r.logger.LogAttrs(ctx, slog.LevelDebug, "cleared session",
		slog.String("session_id", sessionID), slog.Int64("deleted", tag.RowsAffected()))
	return nil
}
