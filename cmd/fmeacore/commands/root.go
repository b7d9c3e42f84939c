// Package commands implements the fmeacore command line.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// NewRootCmd builds the command tree. Each call returns an independent tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fmeacore",
		Short: "fmeacore - failure mode and effects analysis engine",
		Long: `fmeacore stores FMEA studies, their worksheet items and mitigation
actions, keeps every derived risk figure consistent and serves the worksheet,
charts, exports and AI insights over HTTP.`,
		Version: versionString(),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().String("config", "", "path to a YAML config file (FMEACORE_* variables override it)")
	root.AddCommand(newServeCmd(), newExportCmd(), newSummaryCmd(), newVersionCmd())
	return root
}

// Execute runs the command line.
func Execute() error {
	return NewRootCmd().Execute()
}

// SetVersionInfo records build metadata shown by --version and the version command.
func SetVersionInfo(v, c, d string) {
	version, commit, date = v, c, d
}

func versionString() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "fmeacore "+versionString())
			return err
		},
	}
}
