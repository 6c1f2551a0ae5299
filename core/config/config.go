// Package config loads the host process configuration. Module settings are a
// separate concern owned by core/settings; this package only covers the host
// itself: directory paths, timeouts and gateway configuration.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds the host's configuration settings.
type Config struct {
	Environment  string                            `mapstructure:"environment"`
	ModulesDir   string                            `mapstructure:"modules_dir"`
	StorageDir   string                            `mapstructure:"storage_dir"`
	SettingsPath string                            `mapstructure:"settings_path"`
	Gateways     map[string]map[string]interface{} `mapstructure:"gateways"`
	Timeouts     TimeoutsConfig                    `mapstructure:"timeouts"`
}

// TimeoutsConfig holds timeout settings for various operations.
type TimeoutsConfig struct {
	ModuleOperation   int `mapstructure:"module_operation_seconds"`
	HandlerDispatch   int `mapstructure:"handler_dispatch_seconds"`
	DependencyInstall int `mapstructure:"dependency_install_seconds"`
}

// configChangeHooks stores functions to be called when the config changes.
var configChangeHooks []func(*Config)

// LoadConfig loads the host configuration from config.yaml, environment
// variables (BREADCORD_ prefix) and defaults, and watches the file for changes.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/breadcord")

	v.AutomaticEnv()
	v.SetEnvPrefix("BREADCORD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("environment", "development")
	v.SetDefault("modules_dir", "modules")
	v.SetDefault("storage_dir", "storage")
	v.SetDefault("settings_path", "settings.toml")
	v.SetDefault("timeouts.module_operation_seconds", 30)
	v.SetDefault("timeouts.handler_dispatch_seconds", 10)
	v.SetDefault("timeouts.dependency_install_seconds", 120)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; proceed with defaults and environment variables.
			fmt.Fprintln(os.Stderr, "Config file not found, using defaults and environment variables.")
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		if err := v.Unmarshal(&cfg); err != nil {
			fmt.Fprintln(os.Stderr, fmt.Errorf("failed to re-unmarshal config: %w", err))
			return
		}
		for _, hook := range configChangeHooks {
			hook(&cfg)
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// AddConfigChangeHook registers a function to be called when the configuration changes.
func (c *Config) AddConfigChangeHook(hook func(*Config)) {
	configChangeHooks = append(configChangeHooks, hook)
}

// Validate checks the configuration for required fields and valid values.
func (c *Config) Validate() error {
	switch c.Environment {
	case "development", "staging", "production":
		// valid
	default:
		return fmt.Errorf("invalid environment: %q", c.Environment)
	}
	if c.ModulesDir == "" {
		return fmt.Errorf("modules_dir must not be empty")
	}
	if c.SettingsPath == "" {
		return fmt.Errorf("settings_path must not be empty")
	}
	return nil
}

// GenerateMinimalConfig creates a minimal config with essential settings.
func GenerateMinimalConfig() *Config {
	return &Config{
		Environment:  "development",
		ModulesDir:   "modules",
		StorageDir:   "storage",
		SettingsPath: "settings.toml",
		Gateways: map[string]map[string]interface{}{
			"devnull": {
				"tick": "1s",
			},
		},
		Timeouts: TimeoutsConfig{
			ModuleOperation:   30,
			HandlerDispatch:   10,
			DependencyInstall: 120,
		},
	}
}

// SaveGeneratedConfig saves a generated config to a file.
func SaveGeneratedConfig(cfg *Config, filename string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
