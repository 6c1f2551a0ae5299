package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Breadcord/Breadcord/core/config"
)

var configOutputPath string

func init() {
	configGenerateCmd.Flags().StringVarP(&configOutputPath, "output", "o", "config.yaml", "path to write the generated config to")
	configCmd.AddCommand(configGenerateCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage host configuration",
}

// configGenerateCmd writes a minimal working configuration file.
var configGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a minimal configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.GenerateMinimalConfig()
		if err := config.SaveGeneratedConfig(cfg, configOutputPath); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configOutputPath)
		return nil
	},
}
