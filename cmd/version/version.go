// Package version prints build metadata.
package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/idconsensus/internal/buildinfo"
)

// Command creates the version command.
func Command(info *buildinfo.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "idconsensus %s (built %s)\n", info.GetVersion(), info.GetBuildDate())
			return err
		},
	}
}
