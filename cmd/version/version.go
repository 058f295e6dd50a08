package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sidkik/syncwatch/pkg/version"
)

// New creates a new `version` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of sync-watch.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "sync-watch version: %s\n", version.Version)
			if !version.IsRelease() {
				fmt.Fprintln(out, "This is a development build.")
			}
		},
	}
}
