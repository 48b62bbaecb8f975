package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the derivbot command tree
func NewRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "derivbot",
		Short:         "Deriv trading bot session core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file (environment variables override it)")

	path := func() string { return configPath }
	rootCmd.AddCommand(
		NewRunCmd(path),
		NewSymbolsCmd(path),
		NewStreamsCmd(path),
	)
	return rootCmd
}
