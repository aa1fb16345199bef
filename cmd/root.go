// Package cmd assembles the command line interface.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sodav/monitor/cmd/analyze"
	"github.com/sodav/monitor/cmd/realtime"
	"github.com/sodav/monitor/cmd/station"
	"github.com/sodav/monitor/internal/conf"
)

// RootCommand creates and returns the root command.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sodav-monitor",
		Short: "SODAV Monitor detects music plays on live radio streams",
	}

	setupFlags(rootCmd, settings)

	rootCmd.AddCommand(
		realtime.Command(settings),
		station.Command(settings),
		analyze.Command(settings),
	)

	return rootCmd
}

// setupFlags binds global flags back into viper so they override the
// config file.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", settings.Debug, "Enable debug output")

	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
}
