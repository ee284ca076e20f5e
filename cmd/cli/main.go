package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/myrjola/amlnarrator/cmd/cli/img"
	"github.com/myrjola/amlnarrator/cmd/cli/reports"
	"github.com/myrjola/amlnarrator/internal/config"
	"github.com/myrjola/amlnarrator/internal/errors"
	"github.com/myrjola/amlnarrator/internal/logging"
	"github.com/myrjola/amlnarrator/internal/reporting"
)

func init() {
	rootCmd.AddGroup(reports.Group)
	rootCmd.AddCommand(reports.Commands(open)...)
	rootCmd.AddGroup(img.Group)
	rootCmd.AddCommand(img.Diagram(open))
}

var rootCmd = &cobra.Command{
	Use:           "amlnarrator-cli",
	Long:          `Generates compliance narratives for investigation cases.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// open reads .env and the environment and connects everything the commands need.
func open(ctx context.Context) (*reports.Env, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}
	cfg, err := config.Load(os.LookupEnv)
	if err != nil {
		return nil, err
	}
	logger := logging.New(os.Stderr, cfg.Level())
	service, closeService, err := reporting.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &reports.Env{Service: service, Logger: logger, Close: closeService}, nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
