// Package outbox inspects and repairs the effect outbox.
package outbox

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/idconsensus/internal/app"
	"github.com/tphakala/idconsensus/internal/buildinfo"
	"github.com/tphakala/idconsensus/internal/conf"
)

// Command creates the outbox command group.
func Command(settings *conf.Settings, info *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and redeliver queued effects",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Count outbox rows by status",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, settings, info, func(a *app.App) error {
					stats, err := a.Store.Outbox().Stats(cmd.Context())
					if err != nil {
						return err
					}
					out := json.NewEncoder(cmd.OutOrStdout())
					out.SetIndent("", "  ")
					return out.Encode(stats)
				})
			},
		},
		&cobra.Command{
			Use:   "requeue",
			Short: "Move failed rows back to pending",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, settings, info, func(a *app.App) error {
					d, err := a.Dispatcher(cmd.Context())
					if err != nil {
						return err
					}
					n, err := d.Requeue(cmd.Context())
					if err != nil {
						return err
					}
					_, err = fmt.Fprintf(cmd.OutOrStdout(), "requeued %d effects\n", n)
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "drain",
			Short: "Deliver every due effect once and exit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, settings, info, func(a *app.App) error {
					d, err := a.Dispatcher(cmd.Context())
					if err != nil {
						return err
					}
					n, err := d.Drain(cmd.Context())
					if err != nil {
						return err
					}
					_, err = fmt.Fprintf(cmd.OutOrStdout(), "delivered %d effects\n", n)
					return err
				})
			},
		},
	)
	return cmd
}

func withApp(cmd *cobra.Command, settings *conf.Settings, info *buildinfo.Context, fn func(a *app.App) error) error {
	a, err := app.New(cmd.Context(), settings, info)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(a)
}
