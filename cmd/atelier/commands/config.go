package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/atelierdev/atelier/config"
	"github.com/atelierdev/atelier/sym"
)

// ConfigCmd represents the config command
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: sym.Config + " Manage Atelier configuration",
	Long: sym.Config + ` config - Manage Atelier configuration

Display and manage Atelier configuration settings.

Configuration sources (in order of precedence):
1. Environment variables (ATELIER_* prefix)
2. Project config (./atelier.toml, searched up the directory tree)
3. User config (~/.atelier/atelier.toml)
4. System config (/etc/atelier/atelier.toml)
5. Default values

Examples:
  atelier config show                          # Show current configuration
  atelier config show --format json            # Show configuration in JSON format
  atelier config get runtime.mailbox_buffer    # Get specific config value
  atelier config set hotreload.preserve_state false
  atelier config validate                      # Validate current configuration`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the current Atelier configuration from all sources",
	RunE:  runConfigShow,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a specific configuration value using dot notation (e.g., runtime.mailbox_buffer, plugins.enabled)",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist a configuration value",
	Long: `Write a configuration value to the user config file (~/.atelier/atelier.toml).

Values are parsed by shape: integers, floats, and booleans become typed
values, comma-separated values become lists, everything else stays a
string. A rotating backup of the config file is kept.

Examples:
  atelier config set runtime.mailbox_buffer 128
  atelier config set hotreload.preserve_state false
  atelier config set plugins.enabled heartbeat,sysmon`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value",
	Long:  "Remove a key from the user config file so the effective value falls back to lower-precedence sources",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigUnset,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	Long:  "Validate that the current Atelier configuration is valid",
	RunE:  runConfigValidate,
}

var configWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	Long: `Show the configuration cascade and which files were checked.

Lists all configuration sources in order of precedence, showing
the settings each source contributes.`,
	RunE: runConfigWhere,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file paths",
	Long:  "Show the user config path that 'config set' writes to, plus every config file that was merged",
	RunE:  runConfigPath,
}

var configFormat string

func init() {
	// Add flags
	configShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	// Add subcommands
	ConfigCmd.AddCommand(configShowCmd)
	ConfigCmd.AddCommand(configGetCmd)
	ConfigCmd.AddCommand(configSetCmd)
	ConfigCmd.AddCommand(configUnsetCmd)
	ConfigCmd.AddCommand(configValidateCmd)
	ConfigCmd.AddCommand(configWhereCmd)
	ConfigCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Marshal to requested format
	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		fmt.Println(string(data))

	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		fmt.Printf("# Atelier configuration\n%s", string(data))

	case "toml":
		data, err := toml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config to TOML: %w", err)
		}
		fmt.Printf("# Atelier configuration\n%s", string(data))

	default:
		return fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}

	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	key := args[0]

	// Check if key exists in configuration
	v := config.GetViper()
	if !v.IsSet(key) {
		return fmt.Errorf("configuration key %q not found", key)
	}

	// Get the value as interface{} to preserve type
	value := config.Get(key)
	fmt.Println(value)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := parseConfigValue(args[1])

	if err := config.SetValue(key, value); err != nil {
		return fmt.Errorf("failed to set %q: %w", key, err)
	}

	fmt.Printf("✓ Set %s = %v in %s\n", key, value, config.UserConfigPath())
	return nil
}

func runConfigUnset(cmd *cobra.Command, args []string) error {
	key := args[0]

	if err := config.UnsetValue(key); err != nil {
		return fmt.Errorf("failed to unset %q: %w", key, err)
	}

	fmt.Printf("✓ Removed %s from %s\n", key, config.UserConfigPath())
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Validate
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	fmt.Println("✓ Configuration is valid")
	return nil
}

func runConfigWhere(cmd *cobra.Command, args []string) error {
	// Get the full introspection data
	intro, err := config.GetConfigIntrospection()
	if err != nil {
		return fmt.Errorf("failed to get config introspection: %w", err)
	}

	// Show config cascade header
	fmt.Println("Configuration cascade (later overrides earlier):")
	fmt.Println("  1. [DEFAULT]  Built-in defaults")
	fmt.Println("  2. [SYSTEM]   /etc/atelier/atelier.toml")
	fmt.Println("  3. [USER]     ~/.atelier/atelier.toml")
	fmt.Println("  4. [PROJECT]  ./atelier.toml (searches up directories)")
	fmt.Println("  5. [ENV]      ATELIER_* environment variables")
	fmt.Println()

	// Group settings by source level
	settingsBySource := make(map[config.ConfigSource][]config.SettingInfo)
	for _, setting := range intro.Settings {
		settingsBySource[setting.Source] = append(settingsBySource[setting.Source], setting)
	}

	// Define source order for consistent output
	sourceOrder := []config.ConfigSource{
		config.SourceDefault,
		config.SourceSystem,
		config.SourceUser,
		config.SourceProject,
		config.SourceEnvironment,
	}

	// Show active sources with their settings
	fmt.Println("Active configuration:")
	for _, source := range sourceOrder {
		settings := settingsBySource[source]
		if len(settings) == 0 {
			continue
		}
		sort.Slice(settings, func(i, j int) bool {
			return settings[i].Key < settings[j].Key
		})

		// Print source header
		switch source {
		case config.SourceDefault:
			fmt.Printf("\n%s: %d settings\n", source, len(settings))
		case config.SourceEnvironment:
			fmt.Printf("\n%s: %d settings from environment variables\n", source, len(settings))
		default:
			fmt.Printf("\n%s: %d settings from %s\n", source, len(settings), settings[0].SourcePath)
		}

		// Print each setting
		for _, setting := range settings {
			// Format the value for display
			valueStr := fmt.Sprintf("%v", setting.Value)
			// Truncate long values
			if len(valueStr) > 50 {
				valueStr = valueStr[:47] + "..."
			}
			fmt.Printf("  %s = %s\n", setting.Key, valueStr)
		}
	}

	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	fmt.Printf("User config (written by 'config set'): %s\n", config.UserConfigPath())

	intro, err := config.GetConfigIntrospection()
	if err != nil {
		return fmt.Errorf("failed to get config introspection: %w", err)
	}

	// Collect the distinct files that contributed settings
	seen := make(map[string]bool)
	var files []string
	for _, setting := range intro.Settings {
		if setting.Source == config.SourceDefault || setting.Source == config.SourceEnvironment {
			continue
		}
		if setting.SourcePath != "" && !seen[setting.SourcePath] {
			seen[setting.SourcePath] = true
			files = append(files, setting.SourcePath)
		}
	}
	sort.Strings(files)

	if len(files) == 0 {
		fmt.Println("No config files found; running on built-in defaults")
		return nil
	}

	fmt.Println("Merged config files:")
	for _, file := range files {
		marker := "present"
		if _, err := os.Stat(file); err != nil {
			marker = "missing"
		}
		fmt.Printf("  %s (%s)\n", file, marker)
	}
	return nil
}

// parseConfigValue turns a CLI argument into a typed config value.
// Integers, floats, and booleans become typed values, comma-separated
// values become string lists, everything else stays a string.
func parseConfigValue(raw string) interface{} {
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	if strings.Contains(raw, ",") {
		parts := strings.Split(raw, ",")
		list := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				list = append(list, trimmed)
			}
		}
		return list
	}
	return raw
}
