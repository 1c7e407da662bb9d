// Package serve provides the long-running service command.
package serve

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/idconsensus/internal/app"
	"github.com/tphakala/idconsensus/internal/buildinfo"
	"github.com/tphakala/idconsensus/internal/conf"
)

// Command creates the serve command.
func Command(settings *conf.Settings, info *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the effect dispatcher",
		Long:  "Serve accepts identification events over HTTP, keeps observations in consensus and delivers queued effects until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if noAPI, _ := cmd.Flags().GetBool("no-api"); noAPI {
				settings.WebServer.Enabled = false
			}
			a, err := app.New(cmd.Context(), settings, info)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			return a.Serve(cmd.Context())
		},
	}

	if err := setupFlags(cmd); err != nil {
		panic(err)
	}
	return cmd
}

// setupFlags configures flags specific to the serve command.
func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("listen", "", "HTTP listen address, e.g. :8080")
	cmd.Flags().Bool("no-api", false, "Run the dispatcher without the HTTP API")

	if err := viper.BindPFlag("webserver.listen", cmd.Flags().Lookup("listen")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
