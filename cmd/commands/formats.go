package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bluejazz822/networkdb-sub008/export/format"
)

// NewFormatsCommand creates the command listing registered output formats.
func NewFormatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List supported output formats",
		Run: func(cmd *cobra.Command, args []string) {
			registry := format.DefaultRegistry(nil)
			fmt.Printf("%-8s %-12s %-10s %s\n", "FORMAT", "STREAMING", "THRESHOLD", "MIME TYPES")
			for _, d := range registry.Descriptors() {
				streaming := "no"
				threshold := "-"
				if d.Streaming {
					streaming = "yes"
					threshold = fmt.Sprintf("%d", d.DefaultConfig.StreamingThreshold)
				}
				fmt.Printf("%-8s %-12s %-10s %s\n", d.Format, streaming, threshold, strings.Join(d.MimeTypes, ", "))
			}
		},
	}
}
