package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Breadcord/Breadcord/core/config"
	"github.com/Breadcord/Breadcord/core/manifest"
	"github.com/Breadcord/Breadcord/core/permissions"
)

func init() {
	modulesCmd.AddCommand(modulesListCmd)
	modulesCmd.AddCommand(modulesValidateCmd)
	modulesCmd.AddCommand(modulesPermissionsCmd)
	rootCmd.AddCommand(modulesCmd)
}

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "Inspect modules on disk",
}

// modulesListCmd prints every module found in the configured modules
// directory, without loading any of them.
var modulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List modules in the modules directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		dirEntries, err := os.ReadDir(cfg.ModulesDir)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Fprintf(cmd.OutOrStdout(), "modules directory %s does not exist\n", cfg.ModulesDir)
				return nil
			}
			return err
		}

		found := 0
		for _, de := range dirEntries {
			if !de.IsDir() {
				continue
			}
			path := filepath.Join(cfg.ModulesDir, de.Name(), "manifest.toml")
			mf, err := manifest.ParseFile(path)
			if err != nil {
				if !os.IsNotExist(errors.Unwrap(err)) {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: invalid manifest: %v\n", de.Name(), err)
				}
				continue
			}
			found++
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", mf.ID, mf.Version, mf.Name)
			if mf.Permissions.Len() > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "  permissions: %s\n", mf.Permissions)
			}
			for _, req := range mf.Requirements {
				fmt.Fprintf(cmd.OutOrStdout(), "  requires: %s\n", req)
			}
		}
		if found == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no modules found")
		}
		return nil
	},
}

// modulesValidateCmd validates a single manifest file and reports what the
// host would reject about it.
var modulesValidateCmd = &cobra.Command{
	Use:   "validate <manifest.toml>",
	Short: "Validate a module manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mf, err := manifest.ParseFile(args[0])
		if err != nil {
			if errors.Is(err, manifest.ErrUnsupportedManifestVersion) {
				return fmt.Errorf("module requires a newer host: %w", err)
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ok: %s %s\n", mf.ID, mf.Version)
		fmt.Fprintf(cmd.OutOrStdout(), "  name: %s\n", mf.Name)
		if mf.Description != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "  description: %s\n", mf.Description)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  license: %s\n", mf.License)
		if mf.Permissions.Len() > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "  permissions: %s\n", mf.Permissions)
		}
		for _, req := range mf.Requirements {
			fmt.Fprintf(cmd.OutOrStdout(), "  requires: %s\n", req)
		}
		return nil
	},
}

// modulesPermissionsCmd prints the permission vocabulary the host recognizes.
var modulesPermissionsCmd = &cobra.Command{
	Use:   "permissions",
	Short: "List recognized permission tags",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, tag := range permissions.Recognized() {
			fmt.Fprintln(cmd.OutOrStdout(), tag)
		}
		return nil
	},
}
