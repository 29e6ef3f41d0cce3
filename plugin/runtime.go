package plugin

import (
	"context"

	"go.uber.org/zap"

	"github.com/atelierdev/atelier/config"
	"github.com/atelierdev/atelier/errors"
)

// Options configures a Runtime. Nil fields fall back to defaults: a zero
// config and a no-op logger.
type Options struct {
	Config *config.Config
	Logger *zap.SugaredLogger
}

// Runtime wires the plugin components into one working system. All
// components are explicit instances; nothing here is global, so tests and
// embedders can run several runtimes side by side.
type Runtime struct {
	registry  *Registry
	deps      *DependencyManager
	catalog   *Catalog
	loader    *Loader
	messenger *Messenger
	bus       *Bus
	reloader  *HotReloader

	stateWatch *StateWatch
	log        *zap.SugaredLogger
}

// New constructs and wires a runtime. Registry state changes are forwarded
// onto the bus as "plugin.state" events so collaborators that only hold the
// bus still observe lifecycle transitions.
func New(opts Options) *Runtime {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.Config{}
	}

	registry := NewRegistry(log)
	deps := NewDependencyManager(registry, log)
	catalog := NewCatalog()

	var grants []Permission
	if cfg.Plugins.Grants != nil {
		grants = make([]Permission, 0, len(cfg.Plugins.Grants))
		for _, grant := range cfg.Plugins.Grants {
			grants = append(grants, Permission(grant))
		}
	}

	loader := NewLoader(registry, deps, LoaderConfig{
		DefaultTimeout: cfg.Runtime.LoadTimeout(),
		Grants:         grants,
	}, log)
	deps.SetLoader(loader)
	deps.SetCatalog(catalog)

	messenger := NewMessenger(registry, MessengerConfig{
		DefaultTimeout: cfg.Runtime.MessageTimeout(),
		MailboxBuffer:  cfg.Runtime.MailboxBuffer,
	}, log)

	bus := NewBus(registry, BusConfig{
		StreamBuffer: cfg.Runtime.StreamBuffer,
	}, log)

	reloader := NewHotReloader(loader, registry, HotReloaderConfig{
		Debounce:      cfg.HotReload.Debounce(),
		ReloadsPerSec: cfg.HotReload.ReloadsPerSec,
		ReloadBurst:   cfg.HotReload.ReloadBurst,
		PreserveState: cfg.HotReload.PreserveState,
	}, log)

	loader.OnCleanup(messenger.CleanupPlugin)
	loader.OnCleanup(bus.CleanupPlugin)
	loader.OnCleanup(reloader.CleanupPlugin)

	rt := &Runtime{
		registry:  registry,
		deps:      deps,
		catalog:   catalog,
		loader:    loader,
		messenger: messenger,
		bus:       bus,
		reloader:  reloader,
		log:       log,
	}

	rt.stateWatch = registry.WatchAll()
	go rt.forwardStateChanges()

	return rt
}

// Registry returns the plugin store
func (r *Runtime) Registry() *Registry { return r.registry }

// Dependencies returns the dependency manager
func (r *Runtime) Dependencies() *DependencyManager { return r.deps }

// Catalog returns the plugin factory catalog
func (r *Runtime) Catalog() *Catalog { return r.catalog }

// Loader returns the lifecycle loader
func (r *Runtime) Loader() *Loader { return r.loader }

// Messenger returns the addressed messenger
func (r *Runtime) Messenger() *Messenger { return r.messenger }

// Bus returns the event bus
func (r *Runtime) Bus() *Bus { return r.bus }

// Reloader returns the hot reloader
func (r *Runtime) Reloader() *HotReloader { return r.reloader }

// WaitForPlugin blocks until the plugin reaches the given state, ctx is
// done, or the plugin is unregistered.
func (r *Runtime) WaitForPlugin(ctx context.Context, id string, state State) error {
	watch, err := r.registry.WatchState(id)
	if err != nil {
		return err
	}
	defer watch.Close()

	// The watch does not replay, so check the current state after
	// subscribing; a plugin already there returns immediately.
	if current, ok := r.registry.State(id); ok && current == state {
		return nil
	}

	for {
		select {
		case change, ok := <-watch.C():
			if !ok {
				return errors.NewNotFoundError("plugin %q was unregistered", id)
			}
			if change.To == state {
				return nil
			}
		case <-ctx.Done():
			return errors.NewTimeoutError("plugin %q did not reach state %s", id, state)
		}
	}
}

// Shutdown stops watching and force-unloads every plugin in reverse
// dependency order. Teardown failures are joined into the returned error.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if err := r.reloader.StopWatching(); err != nil {
		r.log.Warnw("stopping plugin watcher failed",
			"error", err)
	}

	err := r.loader.UnloadAll(ctx, true)

	r.stateWatch.Close()

	r.log.Infow("plugin runtime shut down")
	return err
}

// Status aggregates every component's diagnostics
func (r *Runtime) Status() map[string]any {
	return map[string]any{
		"registry":     r.registry.Status(),
		"dependencies": r.deps.Status(),
		"loader":       r.loader.Status(),
		"messenger":    r.messenger.Status(),
		"bus":          r.bus.Status(),
		"hot_reload":   r.reloader.Status(),
	}
}

// forwardStateChanges republishes registry transitions as bus events.
// Exits when the runtime's global watch closes.
func (r *Runtime) forwardStateChanges() {
	for change := range r.stateWatch.C() {
		r.bus.Publish("plugin.state", change.PluginID, Payload{
			"from": change.From.String(),
			"to":   change.To.String(),
		})
	}
}
