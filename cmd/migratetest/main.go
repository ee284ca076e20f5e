package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/myrjola/amlnarrator/internal/errors"
	"github.com/myrjola/amlnarrator/internal/logging"
	"github.com/myrjola/amlnarrator/internal/sqlite"
)

// migrationTest synchronizes the schema of a copy of the production database and checks that the stored reports
// survived.
func migrationTest(ctx context.Context, logger *slog.Logger, sqliteURL string) error {
	db, err := sqlite.NewDatabase(ctx, sqliteURL, logger)
	if err != nil {
		return errors.Wrap(err, "create database", slog.String("url", sqliteURL))
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.LogAttrs(ctx, slog.LevelWarn, "close database", errors.SlogError(closeErr))
		}
	}()

	var counts struct {
		Reports  int `db:"reports"`
		Slots    int `db:"slots"`
		Messages int `db:"messages"`
	}
	if err = db.ReadOnly.GetContext(ctx, &counts, `SELECT
	(SELECT COUNT(*) FROM reports) AS reports,
	(SELECT COUNT(*) FROM slots) AS slots,
	(SELECT COUNT(*) FROM messages) AS messages`); err != nil {
		return errors.Wrap(err, "count rows")
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "row counts", slog.Int("reports", counts.Reports),
		slog.Int("slots", counts.Slots), slog.Int("messages", counts.Messages))
	if counts.Reports == 0 {
		return errors.New("no reports found, something is likely wrong")
	}
	if counts.Slots == 0 {
		return errors.New("reports without slots, something is likely wrong", slog.Int("reports", counts.Reports))
	}
	return nil
}

func main() {
	logger := logging.New(os.Stdout, slog.LevelDebug)
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:mnd // 5 seconds

	sqliteURL, ok := os.LookupEnv("AMLNARRATOR_SQLITE_URL")
	if !ok {
		logger.LogAttrs(ctx, slog.LevelError, "AMLNARRATOR_SQLITE_URL not set")
		cancel()
		os.Exit(1)
	}

	if err := migrationTest(ctx, logger, sqliteURL); err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "migration test failed", errors.SlogError(err))
		cancel()
		os.Exit(1)
	}

	logger.LogAttrs(ctx, slog.LevelInfo, "Migration test successful 🙌", slog.Duration("duration", time.Since(start)))
	cancel()
}
