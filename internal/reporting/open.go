package reporting

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/myrjola/amlnarrator/internal/ai"
	"github.com/myrjola/amlnarrator/internal/casefile"
	"github.com/myrjola/amlnarrator/internal/config"
	"github.com/myrjola/amlnarrator/internal/diagram"
	"github.com/myrjola/amlnarrator/internal/errors"
	"github.com/myrjola/amlnarrator/internal/executor"
	"github.com/myrjola/amlnarrator/internal/orchestrator"
	"github.com/myrjola/amlnarrator/internal/repositories"
	"github.com/myrjola/amlnarrator/internal/sqlite"
	"github.com/myrjola/amlnarrator/internal/storage"
)

// conversationStore is the conversation store shared by the backend client and the orchestrator.
type conversationStore interface {
	ai.History
	Clear(ctx context.Context, sessionID string) error
}

// Open connects the databases, the object store and the completion vendor described by cfg. Call close when done.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Service, func() error, error) {
	dbs, err := sqlite.NewDatabase(ctx, cfg.SQLiteURL, logger)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open sqlite", slog.String("url", cfg.SQLiteURL))
	}
	closers := []func() error{dbs.Close}
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (*Service, func() error, error) {
		return nil, nil, errors.Join(err, closeAll())
	}

	var conversations conversationStore = repositories.NewConversationRepository(dbs, logger)
	if cfg.DatabaseURL != "" {
		pool, err := repositories.ConnectPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() error {
			pool.Close()
			return nil
		})
		pg := repositories.NewPostgresConversationRepository(pool, logger)
		if err = pg.EnsureSchema(ctx); err != nil {
			return fail(err)
		}
		conversations = pg
		logger.LogAttrs(ctx, slog.LevelInfo, "conversation sessions stored in postgres")
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return fail(err)
	}

	provider, err := ai.NewProvider(cfg.Provider())
	if err != nil {
		return fail(err)
	}
	var clientOpts []ai.Option
	if cfg.RequestsPerMinute > 0 {
		limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
		clientOpts = append(clientOpts, ai.WithRateLimiter(limiter))
	}
	client, err := ai.NewClient(provider, conversations, cfg.Settings(), logger, clientOpts...)
	if err != nil {
		return fail(err)
	}

	loader, err := casefile.NewLoader(store, cfg.Folders(), cfg.CacheSize, logger)
	if err != nil {
		return fail(err)
	}

	reports := repositories.NewReportRepository(dbs, logger)
	runner := orchestrator.New(
		conversations,
		reports,
		func(systemPrompt string) orchestrator.Backend { return client.WithSystemPrompt(systemPrompt) },
		executor.New(logger),
		logger,
	)

	service := New(Deps{
		Files:         loader,
		Runner:        runner,
		Reports:       reports,
		Conversations: conversations,
		Diagrams:      diagram.New(logger, diagram.WithBinary(cfg.DotBinary)),
		Exports:       store,
	}, cfg.ExportFolder, cfg.MaxRetries, logger)
	return service, closeAll, nil
}

func openStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.StorageBackend {
	case config.StorageMinIO:
		store, err := storage.NewMinIOStore(cfg.MinIO(), logger)
		if err != nil {
			return nil, errors.Wrap(err, "open minio store")
		}
		return store, nil
	default:
		store, err := storage.NewDirStore(cfg.StorageDir)
		if err != nil {
			return nil, errors.Wrap(err, "open dir store", slog.String("dir", cfg.StorageDir))
		}
		return store, nil
	}
}
