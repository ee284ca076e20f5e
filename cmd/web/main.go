package main

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/myrjola/amlnarrator/internal/broker"
	"github.com/myrjola/amlnarrator/internal/config"
	"github.com/myrjola/amlnarrator/internal/errors"
	"github.com/myrjola/amlnarrator/internal/logging"
	"github.com/myrjola/amlnarrator/internal/pprofserver"
	"github.com/myrjola/amlnarrator/internal/reporting"
)

type application struct {
	logger  *slog.Logger
	reports *reporting.Service
	// runs carries the events of report generations keyed by conversation session ID.
	runs *broker.ChannelBroker[string, runEvent]
	// runCtx bounds the background generations. It is cancelled when the server shuts down.
	runCtx context.Context
	runWG  sync.WaitGroup
	// running counts the generations in progress.
	running atomic.Int32
}

func run(ctx context.Context, logger *slog.Logger, lookupEnv func(string) (string, bool)) error {
	cfg, err := config.Load(lookupEnv)
	if err != nil {
		return err
	}
	logger = logging.WithLevel(logger, cfg.Level())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.PprofAddr != "" {
		var stopped <-chan struct{}
		if stopped, err = pprofserver.Launch(ctx, cfg.PprofAddr, logger); err != nil {
			return err
		}
		defer func() {
			cancel()
			<-stopped
		}()
	}

	service, closeService, err := reporting.Open(ctx, cfg, logger)
	if err != nil {
		return errors.Wrap(err, "open reporting")
	}
	defer func() {
		if closeErr := closeService(); closeErr != nil {
			logger.LogAttrs(ctx, slog.LevelError, "close reporting", errors.SlogError(closeErr))
		}
	}()

	app := application{
		logger:  logger,
		reports: service,
		runs:    broker.NewChannelBroker[string, runEvent](),
		runCtx:  ctx,
		runWG:   sync.WaitGroup{},
		running: atomic.Int32{},
	}
	return app.configureAndStartServer(ctx, cfg.Addr)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := logging.New(os.Stdout, slog.LevelDebug)

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.LogAttrs(ctx, slog.LevelError, "failed to load .env", errors.SlogError(err))
		os.Exit(1) //nolint:gocritic // stop is only needed for a clean exit.
	}
	if err := run(ctx, logger, os.LookupEnv); err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "failure starting application", errors.SlogError(err))
		os.Exit(1)
	}
}
