package commands

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/atelierdev/atelier/config"
	"github.com/atelierdev/atelier/errors"
	"github.com/atelierdev/atelier/logger"
	"github.com/atelierdev/atelier/plugin"
	"github.com/atelierdev/atelier/plugins/echo"
	"github.com/atelierdev/atelier/plugins/heartbeat"
	"github.com/atelierdev/atelier/plugins/sysmon"
	"github.com/atelierdev/atelier/sym"
)

// RunCmd hosts the plugin runtime in the foreground
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: sym.Runtime + " Host the plugin runtime in the foreground",
	Long: sym.Runtime + ` Plugin runtime host.

The runtime host:
- Loads enabled plugins in dependency order
- Routes plugin-to-plugin requests and event traffic
- Watches plugin paths and hot-reloads on change (--watch)
- Runs until interrupted (Ctrl+C) with graceful shutdown

Plugins come from the builtin catalog; plugins.enabled in the
configuration selects which ones load at startup.

Example:
  atelier run                        # Start with configured plugins
  atelier run --watch                # Hot-reload plugins on file changes
  atelier run --plugin heartbeat     # Load only the heartbeat plugin`,
	RunE: runRuntime,
}

var (
	runConfigFile string
	runWatch      bool
	runPlugins    []string
)

func init() {
	RunCmd.Flags().StringVar(&runConfigFile, "config", "", "Load configuration from a specific file")
	RunCmd.Flags().BoolVar(&runWatch, "watch", false, "Watch plugin paths and hot-reload on change")
	RunCmd.Flags().StringSliceVar(&runPlugins, "plugin", nil, "Load only these plugins (overrides plugins.enabled)")
}

func runRuntime(cmd *cobra.Command, args []string) error {
	verbosity, _ := cmd.Flags().GetCount("verbose")
	if verbosity == 0 {
		verbosity = 1
	}

	// Load configuration
	var cfg *config.Config
	var err error
	if runConfigFile != "" {
		cfg, err = config.LoadFromFile(runConfigFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	// Build the runtime and register the builtin catalog
	rt := plugin.New(plugin.Options{
		Config: cfg,
		Logger: logger.ComponentLogger("runtime"),
	})
	registerBuiltins(rt)

	enabled := cfg.Plugins.Enabled
	if len(runPlugins) > 0 {
		enabled = runPlugins
	}

	printStartupBanner(verbosity, cfg, enabled)

	// Construct enabled plugins and order them by their dependencies
	instances := make([]plugin.Plugin, 0, len(enabled))
	for _, id := range enabled {
		p, err := rt.Catalog().New(id)
		if err != nil {
			return errors.Wrapf(err, "plugin %q is enabled but not available", id)
		}
		instances = append(instances, p)
	}
	byID := make(map[string]plugin.Plugin, len(instances))
	for _, p := range instances {
		byID[p.Meta().ID] = p
	}

	resolution := rt.Dependencies().Resolve(instances)
	for _, conflict := range resolution.Conflicts {
		pterm.Warning.Printf("%s %s\n", sym.Plugin, conflict)
	}
	if logger.ShouldOutput(verbosity, logger.OutputDependencies) {
		pterm.Info.Printf("%s Load order: %s\n", sym.Plugin, strings.Join(resolution.LoadOrder, ", "))
	}

	ctx := context.Background()
	for _, id := range resolution.LoadOrder {
		p := byID[id]
		if err := rt.Loader().Load(ctx, p, 0); err != nil {
			pterm.Error.Printf("%s Failed to load %q: %v\n", sym.Plugin, id, err)
			continue
		}
		if logger.ShouldOutput(verbosity, logger.OutputPluginStatus) {
			meta := p.Meta()
			pterm.Success.Printf("%s Loaded %s v%s\n", sym.Plugin, meta.ID, meta.Version)
		}
	}

	// Start watching plugin paths for hot reload
	watchPaths := expandWatchPaths(cfg.Plugins.Paths)
	if runWatch || len(watchPaths) > 0 {
		if err := rt.Reloader().StartWatching(watchPaths...); err != nil {
			pterm.Warning.Printf("%s Hot reload unavailable: %v\n", sym.Reload, err)
		} else if len(watchPaths) > 0 {
			pterm.Info.Printf("%s Watching %d path(s) for changes\n", sym.Reload, len(watchPaths))
		}
	}

	// Apply plugins.enabled changes live while the host runs. An explicit
	// --plugin or --config selection pins the set instead.
	if runConfigFile == "" && len(runPlugins) == 0 {
		if watcher, err := config.NewConfigWatcher(config.UserConfigPath()); err == nil {
			config.SetGlobalWatcher(watcher)
			watcher.OnReload(func(newCfg *config.Config) error {
				return applyPluginSet(rt, newCfg.Plugins.Enabled)
			})
			watcher.Start()
			defer watcher.Stop()
			pterm.Info.Printf("%s Applying plugins.enabled changes live\n", sym.Config)
		} else {
			logger.Debugw("Config watcher unavailable", "error", err)
		}
	}

	pterm.Println()
	pterm.Info.Printf("%s Runtime started with %d plugin(s)\n", sym.Runtime, len(rt.Registry().IDs()))

	// GRACE: Wait for shutdown signal (Ctrl+C)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	// First Ctrl+C - graceful shutdown
	pterm.Info.Println("\nShutting down gracefully (press Ctrl+C again to force)...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	shutdownDone := make(chan error, 1)
	go func() {
		shutdownDone <- rt.Shutdown(shutdownCtx)
	}()

	// Wait for either shutdown completion or second Ctrl+C
	select {
	case err := <-shutdownDone:
		if err != nil {
			pterm.Warning.Printf("%s Shutdown finished with teardown failures: %v\n", sym.Runtime, err)
			return nil
		}
		pterm.Success.Println("Runtime stopped cleanly")
		return nil
	case <-sigChan:
		// Second Ctrl+C - force immediate exit
		pterm.Warning.Println("\nForce shutdown - exiting immediately")
		os.Exit(1)
		return nil // unreachable
	}
}

// expandWatchPaths resolves ~ prefixes and drops paths that do not exist
// yet; the watcher refuses paths it cannot open.
func expandWatchPaths(paths []string) []string {
	home, homeErr := os.UserHomeDir()
	expanded := make([]string, 0, len(paths))
	for _, path := range paths {
		if path == "~" || strings.HasPrefix(path, "~/") {
			if homeErr != nil {
				continue
			}
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		expanded = append(expanded, path)
	}
	return expanded
}

// applyPluginSet reconciles the loaded builtins against a new enabled
// set: newly enabled plugins load, dropped ones unload. Only plugins the
// catalog can construct are managed; anything else stays untouched.
func applyPluginSet(rt *plugin.Runtime, enabled []string) error {
	want := make(map[string]bool, len(enabled))
	for _, id := range enabled {
		want[id] = true
	}

	ctx := context.Background()

	for _, id := range rt.Registry().IDs() {
		if !want[id] && rt.Catalog().Has(id) {
			if err := rt.Loader().Unload(ctx, id, false); err != nil {
				logger.Warnw("Failed to unload disabled plugin", "plugin_id", id, "error", err)
			} else {
				logger.Infow("Unloaded disabled plugin", "plugin_id", id)
			}
		}
	}

	for _, id := range enabled {
		if rt.Registry().Contains(id) {
			continue
		}
		p, err := rt.Catalog().New(id)
		if err != nil {
			logger.Warnw("Enabled plugin is not in the catalog", "plugin_id", id, "error", err)
			continue
		}
		if err := rt.Loader().Load(ctx, p, 0); err != nil {
			logger.Warnw("Failed to load newly enabled plugin", "plugin_id", id, "error", err)
		} else {
			logger.Infow("Loaded newly enabled plugin", "plugin_id", id)
		}
	}

	return nil
}

// registerBuiltins adds every builtin plugin factory to the catalog and
// the hot reloader, so dependency auto-install and watch-triggered
// reloads can construct fresh instances.
func registerBuiltins(rt *plugin.Runtime) {
	factories := map[string]plugin.Factory{
		heartbeat.PluginID: func() plugin.Plugin {
			return heartbeat.New(rt.Bus(), 0, logger.ComponentLogger(heartbeat.PluginID))
		},
		echo.PluginID: func() plugin.Plugin {
			return echo.New(rt.Messenger(), logger.ComponentLogger(echo.PluginID))
		},
		sysmon.PluginID: func() plugin.Plugin {
			return sysmon.New(rt.Bus(), 0, logger.ComponentLogger(sysmon.PluginID))
		},
	}

	for id, f := range factories {
		if err := rt.Catalog().Add(id, f); err != nil {
			logger.Warnw("Failed to catalog builtin plugin", "plugin_id", id, "error", err)
		}
		if err := rt.Reloader().RegisterFactory(id, f); err != nil {
			logger.Warnw("Failed to register reload factory", "plugin_id", id, "error", err)
		}
	}
}
