// Package recompute re-derives observations from their identifications.
package recompute

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tphakala/idconsensus/internal/app"
	"github.com/tphakala/idconsensus/internal/buildinfo"
	"github.com/tphakala/idconsensus/internal/conf"
	"github.com/tphakala/idconsensus/internal/errors"
)

type options struct {
	all   bool
	drain bool
}

// Command creates the recompute command.
func Command(settings *conf.Settings, info *buildinfo.Context) *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "recompute [observation-id]",
		Short: "Recompute consensus for one observation or all of them",
		Long: `Recompute re-runs the consensus pipeline over persisted identifications.
It is safe to repeat: an observation already in consensus is left unchanged.
Effects are queued in the outbox; pass --drain to deliver them before exiting.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.all == (len(args) == 1) {
				return errors.ValidationError("pass either an observation id or --all")
			}
			return runRecompute(cmd, settings, info, opts, args)
		},
	}

	cmd.Flags().BoolVar(&opts.all, "all", false, "Recompute every observation")
	cmd.Flags().BoolVar(&opts.drain, "drain", false, "Deliver queued effects before exiting")
	return cmd
}

func runRecompute(cmd *cobra.Command, settings *conf.Settings, info *buildinfo.Context, opts options, args []string) error {
	ctx := cmd.Context()
	a, err := app.New(ctx, settings, info)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	out := json.NewEncoder(cmd.OutOrStdout())
	out.SetIndent("", "  ")

	if opts.all {
		stats, err := a.Service.RecomputeAll(ctx)
		if err != nil {
			return err
		}
		if err := out.Encode(stats); err != nil {
			return err
		}
	} else {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil || id == 0 {
			return errors.ValidationError(fmt.Sprintf("invalid observation id %q", args[0]))
		}
		effs, err := a.Service.Recompute(ctx, uint(id))
		if err != nil {
			return err
		}
		if err := out.Encode(map[string]any{"observation_id": id, "effects": len(effs)}); err != nil {
			return err
		}
	}

	if !opts.drain {
		return nil
	}
	d, err := a.Dispatcher(ctx)
	if err != nil {
		return err
	}
	n, err := d.Drain(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "delivered %d effects\n", n)
	return err
}
