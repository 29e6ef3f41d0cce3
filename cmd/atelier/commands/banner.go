package commands

import (
	"fmt"
	"strings"

	"github.com/atelierdev/atelier/config"
	"github.com/atelierdev/atelier/logger"
	"github.com/atelierdev/atelier/sym"
	"github.com/atelierdev/atelier/version"
)

// printStartupBanner prints the user-friendly startup message
func printStartupBanner(verbosity int, cfg *config.Config, enabled []string) {
	// ANSI escape codes
	cyan := "\033[36m"
	green := "\033[32m"
	yellow := "\033[33m"
	blue := "\033[34m"
	magenta := "\033[35m"
	bold := "\033[1m"
	reset := "\033[0m"

	versionInfo := version.Get()

	fmt.Printf("\n%s%s", cyan, bold)
	fmt.Printf("   ╔═══════════════════════════════════════════════════╗\n")
	fmt.Printf("   ║                                                   ║\n")
	fmt.Printf("   ║      █████  ████████ ███████ ██      ██ ███████   ║\n")
	fmt.Printf("   ║     ██   ██    ██    ██      ██      ██ ██        ║\n")
	fmt.Printf("   ║     ███████    ██    █████   ██      ██ █████     ║\n")
	fmt.Printf("   ║     ██   ██    ██    ██      ██      ██ ██        ║\n")
	fmt.Printf("   ║     ██   ██    ██    ███████ ███████ ██ ███████   ║\n")
	fmt.Printf("   ║                                          ██  ██   ║\n")
	fmt.Printf("   ║                                          ██████   ║\n")
	fmt.Printf("   ║                                                   ║\n")
	fmt.Printf("   ║   %s%s%s Plugins  %s%s%s Reload  %s%s%s Events  %s%s%s Messages     ║\n",
		blue, sym.Plugin, reset+cyan+bold,
		yellow, sym.Reload, reset+cyan+bold,
		green, sym.Bus, reset+cyan+bold,
		magenta, sym.Msg, reset+cyan+bold)
	fmt.Printf("   ║                                                   ║\n")
	fmt.Printf("   ╚═══════════════════════════════════════════════════╝%s\n\n", reset)

	fmt.Printf("%s%s┌─ Atelier Info ──────────────────────────────────────┐%s\n", green, bold, reset)
	fmt.Printf("%s│%s Version:   %s (commit %s)\n", green, reset, versionInfo.Version, versionInfo.Short())
	fmt.Printf("%s│%s Built:     %s\n", green, reset, versionInfo.BuildTime)
	fmt.Printf("%s│%s Verbosity: %s\n", green, reset, logger.LevelName(verbosity))
	if len(enabled) > 0 {
		fmt.Printf("%s│%s Plugins:   %s\n", green, reset, strings.Join(enabled, ", "))
	} else {
		fmt.Printf("%s│%s Plugins:   none enabled\n", green, reset)
	}
	if len(cfg.Plugins.Grants) > 0 {
		fmt.Printf("%s│%s Grants:    %s\n", green, reset, strings.Join(cfg.Plugins.Grants, ", "))
	}
	if len(cfg.Plugins.Paths) > 0 {
		fmt.Printf("%s│%s Watching:  %s\n", green, reset, strings.Join(cfg.Plugins.Paths, ", "))
	}
	fmt.Printf("%s└─────────────────────────────────────────────────────┘%s\n", green, reset)

	fmt.Printf("\n%s💡 Press Ctrl+C to stop%s\n\n", blue, reset)
}
