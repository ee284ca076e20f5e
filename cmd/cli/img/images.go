package img

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/myrjola/amlnarrator/cmd/cli/reports"
	"github.com/myrjola/amlnarrator/internal/models"
)

var Group = &cobra.Group{
	ID:    "img",
	Title: "Image operations",
}

// Diagram returns the command that renders the party graph of a report.
func Diagram(open reports.Opener) *cobra.Command {
	var reportType, out string
	cmd := &cobra.Command{
		Use:     "diagram [case]",
		GroupID: Group.ID,
		Short:   "Render the party graph",
		Long:    `Renders the graph slot of the case's report with Graphviz dot.`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := models.ParseReportType(reportType)
			if err != nil {
				return err
			}
			return reports.Run(cmd, open, func(ctx context.Context, env *reports.Env) error {
				filename, data, err := env.Service.Diagram(ctx, args[0], rt)
				if err != nil {
					return err
				}
				return reports.WriteFile(cmd.OutOrStdout(), out, filename, data)
			})
		},
	}
	reports.ReportTypeFlag(cmd, &reportType)
	cmd.Flags().StringVarP(&out, "out", "o", ".", "output directory")
	return cmd
}
