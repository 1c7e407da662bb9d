// Package taxa manages the local taxonomy table.
package taxa

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tphakala/idconsensus/internal/app"
	"github.com/tphakala/idconsensus/internal/buildinfo"
	"github.com/tphakala/idconsensus/internal/conf"
	"github.com/tphakala/idconsensus/internal/errors"
	"github.com/tphakala/idconsensus/internal/taxonomy"
)

// Command creates the taxa command group.
func Command(settings *conf.Settings, info *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taxa",
		Short: "Import and inspect taxa",
	}
	cmd.AddCommand(importCommand(settings, info), lineageCommand(settings, info))
	return cmd
}

func importCommand(settings *conf.Settings, info *buildinfo.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "import <glob>...",
		Short: "Upsert taxa from YAML seed files",
		Long:  `Import reads every file matching the given globs (** is supported) and upserts the taxa they define.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cmd.Context(), settings, info)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			n, err := a.ImportTaxa(cmd.Context(), args)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "imported %d taxa\n", n)
			return err
		},
	}
}

func lineageCommand(settings *conf.Settings, info *buildinfo.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "lineage <taxon-id>",
		Short: "Print a taxon's lineage from the root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil || id == 0 {
				return errors.ValidationError(fmt.Sprintf("invalid taxon id %q", args[0]))
			}

			a, err := app.New(cmd.Context(), settings, info)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			ancestors, err := a.Tree.Ancestors(cmd.Context(), uint(id))
			if err != nil {
				return err
			}
			lineage := make([]*taxonomy.Taxon, 0, len(ancestors))
			for _, aid := range ancestors {
				t, err := a.Tree.Taxon(cmd.Context(), aid)
				if err != nil {
					return err
				}
				lineage = append(lineage, t)
			}

			out := json.NewEncoder(cmd.OutOrStdout())
			out.SetIndent("", "  ")
			return out.Encode(lineage)
		},
	}
}
