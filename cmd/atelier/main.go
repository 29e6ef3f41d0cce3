package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/atelierdev/atelier/cmd/atelier/commands"
	"github.com/atelierdev/atelier/logger"
)

var rootCmd = &cobra.Command{
	Use:   "atelier",
	Short: "Atelier - Plugin runtime host and tooling",
	Long: `Atelier - Embeddable plugin runtime with hot reload.

Atelier hosts cooperating plugins: a shared registry tracks lifecycle
state, a dependency manager orders loads, a messenger carries addressed
requests, an event bus fans out notifications, and a hot reloader swaps
plugin instances without restarting the host.

Available commands:
  run     - Host the plugin runtime in the foreground
  plugins - Inspect the builtin plugin catalog
  config  - Manage Atelier configuration
  version - Show version information

Examples:
  atelier run                       # Start the runtime with enabled plugins
  atelier run --watch               # Start and hot-reload on file changes
  atelier plugins                   # List builtin plugins
  atelier config show               # Show current configuration
  atelier config set log.json true  # Persist a configuration value`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize global logger before any command runs.
		// Skip for commands whose stdout is meant for piping.
		if cmd.Name() == "show" || cmd.Name() == "get" {
			return nil
		}
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("log-json")
		if err := logger.InitializeWithLevel(jsonLogs, logger.VerbosityToLevel(verbosity)); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit logs as JSON instead of console output")

	// Add commands
	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.PluginsCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
