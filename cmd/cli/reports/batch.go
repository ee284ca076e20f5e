package reports

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/myrjola/amlnarrator/internal/document"
	"github.com/myrjola/amlnarrator/internal/errors"
	"github.com/myrjola/amlnarrator/internal/models"
	"github.com/myrjola/amlnarrator/internal/reporting"
)

const defaultConcurrency = 4

// Generator is the part of [reporting.Service] a batch uses.
type Generator interface {
	Generate(ctx context.Context, caseID string, rt models.ReportType, opts reporting.GenerateOptions) (*models.Report, error)
	Export(ctx context.Context, caseID string, rt models.ReportType, f document.Format) (string, []byte, error)
}

// BatchOptions adjust a batch.
type BatchOptions struct {
	Partial     bool
	Concurrency int
	// Formats are exported for every case that was generated successfully.
	Formats []document.Format
}

// Batch generates the reports of cases concurrently. A failing case does not stop the others; the failures are
// returned joined once every case is done.
func Batch(
	ctx context.Context,
	gen Generator,
	cases []string,
	rt models.ReportType,
	opts BatchOptions,
	logger *slog.Logger,
	w io.Writer,
) error {
	if len(cases) == 0 {
		logger.LogAttrs(ctx, slog.LevelInfo, "no cases found", slog.String("report_type", string(rt)))
		return nil
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "processing batch",
		slog.Int("cases", len(cases)), slog.Int("concurrency", concurrency))

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(concurrency)
	for _, caseID := range cases {
		g.Go(func() error {
			err := batchCase(ctx, gen, caseID, rt, opts)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.LogAttrs(ctx, slog.LevelError, "case failed", slog.String("case_id", caseID), errors.SlogError(err))
				errs = append(errs, fmt.Errorf("%s: %w", caseID, err))
				_, _ = fmt.Fprintf(w, "FAIL %s\n", caseID)
				return nil
			}
			_, _ = fmt.Fprintf(w, "ok   %s\n", caseID)
			return nil
		})
	}
	_ = g.Wait()

	logger.LogAttrs(ctx, slog.LevelInfo, "batch complete",
		slog.Int("cases", len(cases)), slog.Int("failed", len(errs)))
	return errors.Join(errs...)
}

func batchCase(ctx context.Context, gen Generator, caseID string, rt models.ReportType, opts BatchOptions) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if _, err := gen.Generate(ctx, caseID, rt, reporting.GenerateOptions{Partial: opts.Partial}); err != nil {
		return err
	}
	for _, f := range opts.Formats {
		if _, _, err := gen.Export(ctx, caseID, rt, f); err != nil {
			return err
		}
	}
	return nil
}

func batchCommand(open Opener) *cobra.Command {
	var (
		reportType  string
		typology    string
		limit       int
		concurrency int
		partial     bool
		formats     []string
	)
	cmd := &cobra.Command{
		Use:     "batch",
		GroupID: Group.ID,
		Short:   "Generate the reports of many cases",
		Long: `Generates the report type for every listed case, several cases at a time. Exports are written to the
export folder of the object store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := models.ParseReportType(reportType)
			if err != nil {
				return err
			}
			opts := BatchOptions{Partial: partial, Concurrency: concurrency, Formats: nil}
			for _, s := range formats {
				f, err := document.ParseFormat(s)
				if err != nil {
					return err
				}
				opts.Formats = append(opts.Formats, f)
			}
			return Run(cmd, open, func(ctx context.Context, env *Env) error {
				cases, err := env.Service.Cases(ctx, rt, strings.ToUpper(typology))
				if err != nil {
					return err
				}
				if limit > 0 && len(cases) > limit {
					cases = cases[:limit]
				}
				return Batch(ctx, env.Service, cases, rt, opts, env.Logger, cmd.OutOrStdout())
			})
		},
	}
	ReportTypeFlag(cmd, &reportType)
	cmd.Flags().StringVar(&typology, "typology", "", "only cases of the typology abbreviation, e.g., UE")
	cmd.Flags().IntVar(&limit, "limit", 0, "max number of cases, 0 for all")
	cmd.Flags().IntVar(&concurrency, "concurrency", defaultConcurrency, "cases generated at a time")
	cmd.Flags().BoolVar(&partial, "partial", false, "resume previous runs")
	cmd.Flags().StringSliceVar(&formats, "export", []string{string(document.FormatDocx)}, "formats exported per case")
	return cmd
}
