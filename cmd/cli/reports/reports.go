package reports

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/myrjola/amlnarrator/internal/document"
	"github.com/myrjola/amlnarrator/internal/errors"
	"github.com/myrjola/amlnarrator/internal/models"
	"github.com/myrjola/amlnarrator/internal/orchestrator"
	"github.com/myrjola/amlnarrator/internal/questions"
	"github.com/myrjola/amlnarrator/internal/reporting"
)

var Group = &cobra.Group{
	ID:    "reports",
	Title: "Report generation",
}

// Env is what the commands run against.
type Env struct {
	Service *reporting.Service
	Logger  *slog.Logger
	Close   func() error
}

// Opener connects to the configured stores and completion vendor.
type Opener func(ctx context.Context) (*Env, error)

// Commands returns the report commands. Each opens its own Env.
func Commands(open Opener) []*cobra.Command {
	return []*cobra.Command{
		casesCommand(open),
		generateCommand(open),
		exportCommand(open),
		clearCommand(open),
		batchCommand(open),
	}
}

// ReportTypeFlag registers the --type flag on cmd.
func ReportTypeFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVarP(target, "type", "t", string(models.ReportTypePreNarrative),
		"report type: pre-narrative, narrative or sar")
}

// Run opens an Env, calls f and closes the Env. Interrupts cancel the context passed to f.
func Run(cmd *cobra.Command, open Opener, f func(ctx context.Context, env *Env) error) (err error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	env, err := open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, env.Close())
	}()
	return f(ctx, env)
}

// WriteFile saves data as dir/filename and prints the path.
func WriteFile(w io.Writer, dir string, filename string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create output dir", slog.String("dir", dir))
	}
	p := filepath.Join(dir, filename)
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return errors.Wrap(err, "write output", slog.String("path", p))
	}
	_, err := fmt.Fprintln(w, p)
	return err
}

func casesCommand(open Opener) *cobra.Command {
	var reportType, typology string
	cmd := &cobra.Command{
		Use:     "cases",
		GroupID: Group.ID,
		Short:   "List cases",
		Long:    `Lists the cases that have data for the report type.`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := models.ParseReportType(reportType)
			if err != nil {
				return err
			}
			return Run(cmd, open, func(ctx context.Context, env *Env) error {
				cases, err := env.Service.Cases(ctx, rt, strings.ToUpper(typology))
				if err != nil {
					return err
				}
				for _, c := range cases {
					if _, err = fmt.Fprintln(cmd.OutOrStdout(), c); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	ReportTypeFlag(cmd, &reportType)
	cmd.Flags().StringVar(&typology, "typology", "", "only cases of the typology abbreviation, e.g., UE")
	return cmd
}

func parseTags(rt models.ReportType, tags []string) ([]models.SlotTag, error) {
	set, err := questions.For(rt)
	if err != nil {
		return nil, err
	}
	return set.Tags(tags)
}

// progress prints slot transitions to w and, when stream is set, the answers as they are generated.
func progress(w io.Writer, stream bool) orchestrator.Observer {
	return func(e orchestrator.Event) {
		switch e.Type {
		case orchestrator.EventSlotStarted:
			_, _ = fmt.Fprintf(w, "\n== %s ==\n", e.Slot.Title)
		case orchestrator.EventFragment:
			if stream {
				_, _ = io.WriteString(w, e.Fragment)
			}
		case orchestrator.EventDiscard:
			if stream {
				_, _ = fmt.Fprintf(w, "\n[intento %d descartado]\n", e.Attempt)
			}
		case orchestrator.EventSlotAnswered:
			_, _ = fmt.Fprintln(w)
		case orchestrator.EventSlotSkipped:
			_, _ = fmt.Fprintf(w, "-- %s (%s)\n", e.Slot.Title, e.Slot.State)
		case orchestrator.EventSlotFailed:
			_, _ = fmt.Fprintf(w, "\n!! %s: %v\n", e.Slot.Title, e.Err)
		}
	}
}

func generateCommand(open Opener) *cobra.Command {
	var (
		reportType string
		partial    bool
		stream     bool
		regenerate []string
	)
	cmd := &cobra.Command{
		Use:     "generate [case]",
		GroupID: Group.ID,
		Short:   "Generate a report",
		Long: `Answers the question set of the report type for the case. A partial run keeps the answered slots and
asks only the rest and the slots named with --regenerate.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := models.ParseReportType(reportType)
			if err != nil {
				return err
			}
			tags, err := parseTags(rt, regenerate)
			if err != nil {
				return err
			}
			return Run(cmd, open, func(ctx context.Context, env *Env) error {
				report, err := env.Service.Generate(ctx, args[0], rt, reporting.GenerateOptions{
					Partial:    partial || len(tags) > 0,
					Regenerate: tags,
					Observer:   progress(cmd.OutOrStdout(), stream),
				})
				if report != nil {
					printSummary(cmd.OutOrStdout(), report)
				}
				return err
			})
		},
	}
	ReportTypeFlag(cmd, &reportType)
	cmd.Flags().BoolVar(&partial, "partial", false, "resume the previous run")
	cmd.Flags().BoolVar(&stream, "stream", true, "print answers while they are generated")
	cmd.Flags().StringSliceVar(&regenerate, "regenerate", nil, "slots to ask again, implies --partial")
	return cmd
}

func printSummary(w io.Writer, report *models.Report) {
	_, _ = fmt.Fprintf(w, "\n%s %s (%s)\n", report.CaseID, report.ReportType, report.RunID)
	for _, slot := range report.Slots {
		_, _ = fmt.Fprintf(w, "  %-26s %s\n", slot.Tag, slot.State)
	}
}

func exportCommand(open Opener) *cobra.Command {
	var reportType, format, out string
	cmd := &cobra.Command{
		Use:     "export [case]",
		GroupID: Group.ID,
		Short:   "Export a report",
		Long:    `Writes the narrative of the case's report as plain text, markdown or Word document.`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := models.ParseReportType(reportType)
			if err != nil {
				return err
			}
			f, err := document.ParseFormat(format)
			if err != nil {
				return err
			}
			return Run(cmd, open, func(ctx context.Context, env *Env) error {
				filename, data, err := env.Service.Export(ctx, args[0], rt, f)
				if err != nil {
					return err
				}
				return WriteFile(cmd.OutOrStdout(), out, filename, data)
			})
		},
	}
	ReportTypeFlag(cmd, &reportType)
	cmd.Flags().StringVarP(&format, "format", "f", string(document.FormatDocx), "txt, md or docx")
	cmd.Flags().StringVarP(&out, "out", "o", ".", "output directory")
	return cmd
}

func clearCommand(open Opener) *cobra.Command {
	var reportType string
	cmd := &cobra.Command{
		Use:     "clear [case]",
		GroupID: Group.ID,
		Short:   "Forget a report",
		Long:    `Deletes the conversation session and the answers of the case's report.`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := models.ParseReportType(reportType)
			if err != nil {
				return err
			}
			return Run(cmd, open, func(ctx context.Context, env *Env) error {
				return env.Service.Clear(ctx, args[0], rt)
			})
		},
	}
	ReportTypeFlag(cmd, &reportType)
	return cmd
}
