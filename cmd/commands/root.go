package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "networkdb-export",
		Short: "Export network inventory data as CSV, Excel, JSON or PDF reports",
	}

	rootCmd.AddCommand(
		NewExportCommand(),
		NewFormatsCommand(),
		NewVersionCommand(),
	)

	return rootCmd
}
