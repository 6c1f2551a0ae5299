package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/Breadcord/Breadcord/core/config"
)

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	rootCmd.AddCommand(settingsCmd)
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Inspect the persisted settings store",
}

// settingsShowCmd prints the persisted settings document, optionally limited
// to one module's namespace. Values are shown as stored; validation against
// schemas happens when the owning module loads.
var settingsShowCmd = &cobra.Command{
	Use:   "show [namespace]",
	Short: "Show persisted settings values",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(cfg.SettingsPath)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Fprintf(cmd.OutOrStdout(), "settings store %s does not exist\n", cfg.SettingsPath)
				return nil
			}
			return err
		}

		values := make(map[string]map[string]interface{})
		if err := toml.Unmarshal(data, &values); err != nil {
			return fmt.Errorf("parse settings store: %w", err)
		}

		namespaces := make([]string, 0, len(values))
		for ns := range values {
			namespaces = append(namespaces, ns)
		}
		sort.Strings(namespaces)

		for _, ns := range namespaces {
			if len(args) == 1 && args[0] != ns {
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%s]\n", ns)
			keys := make([]string, 0, len(values[ns]))
			for key := range values[ns] {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s = %v\n", key, values[ns][key])
			}
		}
		return nil
	},
}
