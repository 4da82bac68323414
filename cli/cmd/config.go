package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"southwinds.dev/keycache/internal/misc"
	"southwinds.dev/keycache/settings"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage keycache configuration",
	Long:  `Manage keycache configuration including viewing, setting, and validating settings.`,
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View current configuration",
	Long:  `Display the effective configuration from all sources (config file, environment variables, flags).`,
	RunE:  runConfigView,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the config file. The key uses dot notation.

Examples:
  keycache config set passphrase_timeout.enabled true
  keycache config set passphrase_timeout.interval_minutes 10`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new configuration file",
	Long:  `Create a new configuration file with default values.`,
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	RunE:  runConfigValidate,
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all configuration keys",
	RunE:  runConfigList,
}

var (
	configForce  bool
	configFormat string
)

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configListCmd)

	configViewCmd.Flags().StringVarP(&configFormat, "format", "f", "yaml", "output format (yaml, json, table)")
	configSetCmd.Flags().BoolVar(&configForce, "force", false, "force set value even if key is unknown")
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite existing config file")
}

// configKeys describes every key keycache reads
var configKeys = map[string]string{
	settings.KeyTimeoutEnabled: "Wipe the cached key after the app has been idle (bool)",
	settings.KeyTimeoutMinutes: "Idle minutes before the key is wiped (int > 0)",
	"instance":                 "Instance name recorded in audit events",
	"log.level":                "Log level: debug, info, warn, error",
	"cache.permission":         "Capability token guarding the key event channel",
	"cache.lock_memory":        "Lock the whole process into RAM (bool)",
	"cache.subscriber_buffer":  "Per-subscriber event buffer size (int > 0)",
	"metrics.address":          "Prometheus listen address, empty to disable",
	"audit.enabled":            "Enable audit logging (bool)",
	"audit.type":               "Audit logger type: file, syslog",
	"audit.log_level":          "Audit log level",
	"audit.options.file_path":  "Audit log file for the file logger",
	"audit.options.cache_size": "Recent audit events held in memory for queries",
}

func runConfigView(cmd *cobra.Command, args []string) error {
	config := viper.AllSettings()
	maskSensitiveValues(config)

	out := cmd.OutOrStdout()
	switch configFormat {
	case "yaml":
		data, err := yaml.Marshal(config)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		_, err = out.Write(data)
		return err
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(config)
	case "table":
		var keys []string
		flattenKeys(config, "", &keys)
		sort.Strings(keys)

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tVALUE")
		for _, key := range keys {
			value := viper.Get(key)
			if isSensitiveFlag(key) {
				value = "[REDACTED]"
			}
			fmt.Fprintf(w, "%s\t%v\n", key, value)
		}
		return w.Flush()
	default:
		return fmt.Errorf("unsupported format: %s", configFormat)
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	if _, known := configKeys[key]; !known && !configForce {
		return fmt.Errorf("unknown configuration key: %s (use --force to override)", key)
	}

	converted := convertStringValue(value)
	if err := validateConfigValue(key, converted); err != nil {
		return err
	}
	viper.Set(key, converted)

	configFile := getConfigFilePath()
	if err := ensureConfigDir(configFile); err != nil {
		return fmt.Errorf("failed to ensure config directory: %w", err)
	}
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\nConfiguration saved to: %s\n", key, converted, configFile)
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	key := args[0]
	if !viper.IsSet(key) {
		return fmt.Errorf("configuration key not found: %s", key)
	}

	value := viper.Get(key)
	if isSensitiveFlag(key) {
		value = "[REDACTED]"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", key, value)
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configFile := getConfigFilePath()

	if fileExists(configFile) && !configForce {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configFile)
	}
	if err := ensureConfigDir(configFile); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(defaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err = os.WriteFile(configFile, data, misc.FilePermissions); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration file created: %s\n", configFile)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	problems := validateConfiguration(viper.GetViper())
	out := cmd.OutOrStdout()

	if len(problems) == 0 {
		fmt.Fprintln(out, "✓ Configuration is valid")
		return nil
	}

	fmt.Fprintln(out, "✗ Configuration validation failed:")
	for _, p := range problems {
		fmt.Fprintf(out, "  - %s\n", p)
	}
	return fmt.Errorf("configuration validation failed with %d errors", len(problems))
}

func runConfigList(cmd *cobra.Command, args []string) error {
	keys := make([]string, 0, len(configKeys))
	for k := range configKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tDESCRIPTION")
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%s\n", k, configKeys[k])
	}
	return w.Flush()
}

func getConfigFilePath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".keycache.yaml")
}

func ensureConfigDir(configFile string) error {
	return os.MkdirAll(filepath.Dir(configFile), misc.DirPermissions)
}
