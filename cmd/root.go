// Package cmd assembles the idconsensus command line.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/idconsensus/cmd/outbox"
	"github.com/tphakala/idconsensus/cmd/recompute"
	"github.com/tphakala/idconsensus/cmd/serve"
	"github.com/tphakala/idconsensus/cmd/taxa"
	"github.com/tphakala/idconsensus/cmd/version"
	"github.com/tphakala/idconsensus/internal/buildinfo"
	"github.com/tphakala/idconsensus/internal/conf"
)

// RootCommand creates and returns the root command. Settings are loaded
// once flags are parsed, so subcommands receive a populated struct.
func RootCommand(info *buildinfo.Context) *cobra.Command {
	settings := &conf.Settings{}
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "idconsensus",
		Short:         "Community taxon consensus service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	if err := setupFlags(rootCmd, &configFile); err != nil {
		panic(err)
	}

	versionCmd := version.Command(info)
	rootCmd.AddCommand(
		serve.Command(settings, info),
		recompute.Command(settings, info),
		taxa.Command(settings, info),
		outbox.Command(settings, info),
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		loaded, err := conf.Load(configFile)
		if err != nil {
			return err
		}
		*settings = *loaded
		return nil
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface.
func setupFlags(rootCmd *cobra.Command, configFile *string) error {
	rootCmd.PersistentFlags().StringVarP(configFile, "config", "c", "", "Path to config.yaml (default: search ., ~/.config/idconsensus, /etc/idconsensus)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")

	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
