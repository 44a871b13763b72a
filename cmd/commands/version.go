package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bluejazz822/networkdb-sub008/version"
)

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			info := version.GetVersionInfo()
			if asJSON {
				fmt.Println(info.JSON())
				return
			}
			fmt.Println(info.String())
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
