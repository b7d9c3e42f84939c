package commands

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"fmeacore/internal/export"
	"fmeacore/internal/filter"
)

func newExportCmd() *cobra.Command {
	var (
		formats  []string
		criteria filter.Criteria
		minRPN   int
		status   string
	)
	cmd := &cobra.Command{
		Use:   "export <study-id>",
		Short: "Write a study worksheet export to the blob store",
		Long: `Render the worksheet of one study (optionally filtered) as JSON and/or
CSV, store each rendering in the configured blob store and print the export
record, including signed download URLs when the store supports them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			if cmd.Flags().Changed("min-rpn") {
				criteria.MinRPN = &minRPN
			}
			criteria.Status = status
			in := export.Input{StudyID: args[0], Criteria: criteria}
			for _, f := range formats {
				in.Formats = append(in.Formats, export.Format(f))
			}
			record, err := app.Exports.Run(cmd.Context(), in)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(record)
		},
	}
	cmd.Flags().StringSliceVar(&formats, "format", nil, "export formats: json, csv (default both)")
	cmd.Flags().IntVar(&minRPN, "min-rpn", 0, "only export items with at least this RPN")
	cmd.Flags().StringVar(&status, "status", "", "only export items with this status")
	return cmd
}
