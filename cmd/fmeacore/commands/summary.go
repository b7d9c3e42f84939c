package commands

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"fmeacore/internal/analytics"
	"fmeacore/internal/core"
)

func newSummaryCmd() *cobra.Command {
	var threshold int
	cmd := &cobra.Command{
		Use:   "summary [study-id]",
		Short: "Print the dashboard summary, or one study's summary",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			var q core.SummaryQuery
			if cmd.Flags().Changed("high-rpn-threshold") {
				q.HighRPNThreshold = &threshold
			}
			var summary analytics.Summary
			if len(args) == 1 {
				summary, err = app.Service.StudySummary(cmd.Context(), args[0], q)
			} else {
				summary, err = app.Service.DashboardSummary(cmd.Context(), q)
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
	cmd.Flags().IntVar(&threshold, "high-rpn-threshold", 0, "count items at or above this RPN as high risk (overrides high_rpn_threshold)")
	return cmd
}
