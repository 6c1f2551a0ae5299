package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

// rootCmd is the base command for the Breadcord CLI.
var rootCmd = &cobra.Command{
	Use:     "breadcord",
	Short:   "Breadcord chat-bot host",
	Long:    "Breadcord CLI for running the module host and inspecting modules and settings.",
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command with a cancellable context for graceful
// shutdown.
func Execute(ctx context.Context) {
	rootCmd.SetContext(ctx)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
