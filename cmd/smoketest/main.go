package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/myrjola/amlnarrator/internal/e2etest"
	"github.com/myrjola/amlnarrator/internal/errors"
	"github.com/myrjola/amlnarrator/internal/logging"
	"github.com/myrjola/amlnarrator/internal/models"
)

// TestAPI checks that the server is healthy and lists the cases of every report type.
func TestAPI(ctx context.Context, logger *slog.Logger, client *e2etest.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second) //nolint:mnd // 10 seconds
	defer cancel()

	var health struct {
		Status  string `json:"status"`
		Running int    `json:"running"`
	}
	if _, err := client.Call(ctx, http.MethodGet, "/api/healthy", http.StatusOK, &health); err != nil {
		return errors.Wrap(err, "check health")
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "healthy", slog.String("status", health.Status),
		slog.Int("running", health.Running))

	for _, rt := range models.ReportTypes() {
		cases, err := client.Cases(ctx, string(rt))
		if err != nil {
			return errors.Wrap(err, "list cases", slog.String("report_type", string(rt)))
		}
		logger.LogAttrs(ctx, slog.LevelInfo, "cases", slog.String("report_type", string(rt)),
			slog.Int("count", len(cases)))
	}

	// A report that was never generated must be a clean 404, not a server error.
	if status, err := client.Call(ctx, http.MethodGet,
		e2etest.ReportPath("smoketest", string(models.ReportTypePreNarrative)), http.StatusNotFound,
		nil); err != nil {
		return errors.Wrap(err, "get missing report", slog.Int("status", status))
	}
	return nil
}

func main() {
	logger := logging.New(os.Stdout, slog.LevelDebug)
	ctx := context.Background()

	if len(os.Args) != 2 { //nolint:mnd // we expect only the base URL to be passed as argument.
		logger.LogAttrs(ctx, slog.LevelError, "usage: smoketest <base-url>")
		os.Exit(1)
	}

	url := os.Args[1]
	ctx = logging.WithAttrs(ctx, slog.String("url", url))
	client := e2etest.NewClient(url)

	if err := TestAPI(ctx, logger, client); err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "error testing API", errors.SlogError(err))
		os.Exit(1)
	}

	logger.LogAttrs(ctx, slog.LevelInfo, "Smoke test successful 🙌")
}
