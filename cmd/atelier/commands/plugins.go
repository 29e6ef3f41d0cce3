package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/atelierdev/atelier/config"
	"github.com/atelierdev/atelier/plugin"
	"github.com/atelierdev/atelier/sym"
)

// PluginsCmd lists the builtin plugin catalog
var PluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: sym.Plugin + " Inspect the builtin plugin catalog",
	Long: sym.Plugin + ` Builtin plugin catalog.

Lists every plugin the host can construct, with version, category,
required capabilities, and dependencies. Plugins marked enabled load
at startup via plugins.enabled in the configuration.

Example:
  atelier plugins           # List builtin plugins
  atelier plugins --json    # Machine-readable listing`,
	RunE: runPluginList,
}

func init() {
	PluginsCmd.Flags().BoolP("json", "j", false, "Output plugin catalog as JSON")
}

// pluginRow is the listing projection of a plugin's metadata
type pluginRow struct {
	ID           string   `json:"id"`
	Version      string   `json:"version"`
	Category     string   `json:"category"`
	Permissions  []string `json:"permissions,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	Enabled      bool     `json:"enabled"`
}

func runPluginList(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	// Enabled set comes from config; a failed load just means nothing is
	// marked enabled.
	enabled := make(map[string]bool)
	if cfg, err := config.Load(); err == nil {
		for _, id := range cfg.Plugins.Enabled {
			enabled[id] = true
		}
	}

	// A throwaway runtime gives the factories their wiring; only Meta is
	// read here.
	rt := plugin.New(plugin.Options{})
	registerBuiltins(rt)

	rows := make([]pluginRow, 0, len(rt.Catalog().IDs()))
	for _, id := range rt.Catalog().IDs() {
		p, err := rt.Catalog().New(id)
		if err != nil {
			continue
		}
		meta := p.Meta()

		perms := make([]string, 0, len(meta.Permissions))
		for _, perm := range meta.Permissions {
			perms = append(perms, string(perm))
		}
		deps := make([]string, 0, len(meta.Dependencies))
		for _, dep := range meta.Dependencies {
			desc := dep.ID
			if dep.Constraint != "" {
				desc += " " + dep.Constraint
			}
			if dep.Optional {
				desc += " (optional)"
			}
			deps = append(deps, desc)
		}

		rows = append(rows, pluginRow{
			ID:           meta.ID,
			Version:      meta.Version,
			Category:     string(meta.Category),
			Permissions:  perms,
			Dependencies: deps,
			Enabled:      enabled[meta.ID],
		})
	}

	if jsonOutput {
		output, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal plugin catalog: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	pterm.Info.Printf("%s %d builtin plugin(s) available\n", sym.Plugin, len(rows))
	pterm.Println()
	fmt.Printf("  %-12s %-10s %-9s %-8s %s\n", "ID", "VERSION", "CATEGORY", "ENABLED", "PERMISSIONS")
	for _, row := range rows {
		enabledMark := "-"
		if row.Enabled {
			enabledMark = "yes"
		}
		fmt.Printf("  %-12s %-10s %-9s %-8s %s\n",
			row.ID, "v"+row.Version, row.Category, enabledMark, strings.Join(row.Permissions, ", "))
		if len(row.Dependencies) > 0 {
			fmt.Printf("  %-12s requires: %s\n", "", strings.Join(row.Dependencies, ", "))
		}
	}
	pterm.Println()
	pterm.Info.Println("Enable plugins with: atelier config set plugins.enabled heartbeat,sysmon")

	return nil
}
