package plugin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/atelierdev/atelier/errors"
)

// defaultLoadTimeout bounds each lifecycle call when no timeout is configured
const defaultLoadTimeout = 30 * time.Second

// LoaderConfig tunes the loader. The zero value uses the default timeout
// and grants every permission.
type LoaderConfig struct {
	// DefaultTimeout bounds each lifecycle call when the caller passes 0
	DefaultTimeout time.Duration

	// Grants are the capabilities the host allows plugins to require.
	// nil grants everything; an explicit list grants exactly those.
	Grants []Permission
}

// loadOp is one in-flight load. Joiners block on done and read err after.
type loadOp struct {
	done chan struct{}
	err  error
}

// Loader owns every lifecycle-method invocation and enforces the state
// machine. Concurrent loads for the same id coalesce into a single
// execution: Initialize and Start run exactly once, and every caller
// observes the one outcome.
type Loader struct {
	registry *Registry
	deps     *DependencyManager

	mu       sync.Mutex
	inflight map[string]*loadOp

	hookMu   sync.RWMutex
	cleanups []func(id string)

	defaultTimeout time.Duration
	grantAll       bool
	grants         map[Permission]bool

	loads         atomic.Uint64
	unloads       atomic.Uint64
	failures      atomic.Uint64
	coalesced     atomic.Uint64
	lateLifecycle atomic.Uint64

	log *zap.SugaredLogger
}

// NewLoader creates a loader over a registry and dependency manager
func NewLoader(registry *Registry, deps *DependencyManager, cfg LoaderConfig, log *zap.SugaredLogger) *Loader {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultLoadTimeout
	}

	grants := make(map[Permission]bool, len(cfg.Grants))
	for _, perm := range cfg.Grants {
		grants[perm] = true
	}

	return &Loader{
		registry:       registry,
		deps:           deps,
		inflight:       make(map[string]*loadOp),
		defaultTimeout: timeout,
		grantAll:       cfg.Grants == nil,
		grants:         grants,
		log:            log,
	}
}

// Load brings a plugin to StateStarted: register if absent, Initialize,
// Start, each call bounded by timeout (0 = configured default). A second
// concurrent Load for the same id joins the in-flight operation instead of
// running the lifecycle again. On failure the plugin is left in StateError
// and the error wraps ErrLoad, ErrTimeout, ErrDependency, or ErrPermission.
func (l *Loader) Load(ctx context.Context, p Plugin, timeout time.Duration) error {
	if p == nil {
		return errors.New("cannot load a nil plugin")
	}
	id := p.Meta().ID

	l.mu.Lock()
	if op, inFlight := l.inflight[id]; inFlight {
		l.mu.Unlock()
		l.coalesced.Add(1)
		l.log.Debugw("joining in-flight load", "plugin_id", id)
		select {
		case <-op.done:
			return op.err
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "waiting for in-flight load of %q", id)
		}
	}
	op := &loadOp{done: make(chan struct{})}
	l.inflight[id] = op
	l.mu.Unlock()

	err := l.doLoad(ctx, p, timeout)

	l.mu.Lock()
	delete(l.inflight, id)
	l.mu.Unlock()
	op.err = err
	close(op.done)

	return err
}

func (l *Loader) doLoad(ctx context.Context, p Plugin, timeout time.Duration) error {
	meta := p.Meta()
	id := meta.ID
	start := time.Now()

	if missing := l.missingGrants(meta); len(missing) > 0 {
		return errors.NewPermissionError("plugin %q requires ungranted permissions: %v", id, missing)
	}

	if state, registered := l.registry.State(id); registered {
		existing, _ := l.registry.Get(id)
		if existing != p {
			return errors.NewAlreadyExistsError("plugin %q already registered with a different instance", id)
		}
		switch {
		case state == StateLoaded:
			// registered but never brought up; proceed with the lifecycle
		case state.Terminal():
			return errors.NewStateError("plugin %q is %s; reload it instead", id, state)
		default:
			return errors.NewAlreadyExistsError("plugin %q already loaded (state %s)", id, state)
		}
	} else {
		if err := l.registry.Register(p); err != nil {
			return err
		}
	}
	l.deps.Track(p)

	if !l.deps.Satisfied(p) {
		l.registry.SetState(id, StateError)
		l.failures.Add(1)
		return errors.NewDependencyError("plugin %q has unmet dependencies: %s",
			id, describeDeps(l.deps.Missing(p)))
	}

	if timeout <= 0 {
		timeout = l.defaultTimeout
	}

	if err := l.invoke(ctx, timeout, id, "initialize", p.Initialize); err != nil {
		l.registry.SetState(id, StateError)
		l.failures.Add(1)
		return err
	}
	l.registry.SetState(id, StateInitialized)

	if err := l.invoke(ctx, timeout, id, "start", p.Start); err != nil {
		l.registry.SetState(id, StateError)
		l.failures.Add(1)
		return err
	}
	l.registry.SetState(id, StateStarted)

	l.loads.Add(1)
	l.log.Infow("plugin loaded",
		"plugin_id", id,
		"version", meta.Version,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// Unload stops, disposes, and unregisters a plugin, then runs the
// registered cleanup hooks for its id. Without force, a started dependent
// blocks the unload with ErrDependency and the first lifecycle failure
// aborts the teardown in StateError. With force, teardown continues past
// failures and the plugin is always unregistered.
func (l *Loader) Unload(ctx context.Context, id string, force bool) error {
	p, ok := l.registry.Get(id)
	if !ok {
		return errors.NewNotFoundError("plugin %q is not registered", id)
	}

	if !force && !l.deps.CanUnload(id) {
		return errors.NewDependencyError("plugin %q has started dependents: %v",
			id, l.deps.DependentsOf(id))
	}

	state, _ := l.registry.State(id)
	var teardownErrs []string

	// Instances that never came up have nothing to stop
	if state == StateInitialized || state == StateStarted || state == StatePaused {
		if err := l.invoke(ctx, l.defaultTimeout, id, "stop", p.Stop); err != nil {
			if !force {
				l.registry.SetState(id, StateError)
				l.failures.Add(1)
				return err
			}
			teardownErrs = append(teardownErrs, err.Error())
			l.log.Warnw("stop failed during forced unload", "plugin_id", id, "error", err)
		}
	}
	l.registry.SetState(id, StateStopped)

	if err := l.invoke(ctx, l.defaultTimeout, id, "dispose", p.Dispose); err != nil {
		if !force {
			l.registry.SetState(id, StateError)
			l.failures.Add(1)
			return err
		}
		teardownErrs = append(teardownErrs, err.Error())
		l.log.Warnw("dispose failed during forced unload", "plugin_id", id, "error", err)
	}

	if err := l.registry.Unregister(id); err != nil {
		return err
	}
	l.deps.Forget(id)
	l.runCleanups(id)

	l.unloads.Add(1)
	l.log.Infow("plugin unloaded", "plugin_id", id, "forced", force)

	if len(teardownErrs) > 0 {
		return errors.NewLoadError("plugin %q unloaded with teardown failures: %s",
			id, strings.Join(teardownErrs, "; "))
	}
	return nil
}

// Reload force-unloads a plugin and loads it again, substituting
// replacement when non-nil. Teardown failures during the forced unload are
// logged; the reload proceeds because force always unregisters.
func (l *Loader) Reload(ctx context.Context, id string, replacement Plugin) error {
	existing, registered := l.registry.Get(id)
	if !registered && replacement == nil {
		return errors.NewNotFoundError("plugin %q is not registered and no replacement was given", id)
	}

	target := replacement
	if target == nil {
		target = existing
	}

	if registered {
		if err := l.Unload(ctx, id, true); err != nil {
			l.log.Warnw("teardown failures during reload", "plugin_id", id, "error", err)
		}
	}

	return l.Load(ctx, target, 0)
}

// PausePlugin suspends a started plugin. Legal only from StateStarted.
func (l *Loader) PausePlugin(ctx context.Context, id string) error {
	p, ok := l.registry.Get(id)
	if !ok {
		return errors.NewNotFoundError("plugin %q is not registered", id)
	}

	state, _ := l.registry.State(id)
	if state != StateStarted {
		return errors.NewStateError("plugin %q cannot pause from state %s", id, state)
	}

	if err := l.invoke(ctx, l.defaultTimeout, id, "pause", p.Pause); err != nil {
		l.registry.SetState(id, StateError)
		l.failures.Add(1)
		return err
	}
	l.registry.SetState(id, StatePaused)
	return nil
}

// ResumePlugin reactivates a paused plugin. Legal only from StatePaused.
func (l *Loader) ResumePlugin(ctx context.Context, id string) error {
	p, ok := l.registry.Get(id)
	if !ok {
		return errors.NewNotFoundError("plugin %q is not registered", id)
	}

	state, _ := l.registry.State(id)
	if state != StatePaused {
		return errors.NewStateError("plugin %q cannot resume from state %s", id, state)
	}

	if err := l.invoke(ctx, l.defaultTimeout, id, "resume", p.Resume); err != nil {
		l.registry.SetState(id, StateError)
		l.failures.Add(1)
		return err
	}
	l.registry.SetState(id, StateStarted)
	return nil
}

// UnloadAll unloads every registered plugin in reverse dependency order,
// dependents before their dependencies. Without force it stops at the
// first failure; with force it unloads everything and joins the failures.
func (l *Loader) UnloadAll(ctx context.Context, force bool) error {
	plugins := l.registry.All()
	res := l.deps.Resolve(plugins)

	order := res.LoadOrder
	inOrder := make(map[string]bool, len(order))
	for _, id := range order {
		inOrder[id] = true
	}
	// ids the resolution excluded (cycle members) still get unloaded
	for _, p := range plugins {
		if id := p.Meta().ID; !inOrder[id] {
			order = append(order, id)
		}
	}

	var failures []string
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		if !l.registry.Contains(id) {
			continue
		}
		if err := l.Unload(ctx, id, force); err != nil {
			if !force {
				return errors.Wrapf(err, "unload all stopped at %q", id)
			}
			failures = append(failures, fmt.Sprintf("%s: %v", id, err))
		}
	}

	if len(failures) > 0 {
		return errors.NewLoadError("unload failures: %s", strings.Join(failures, "; "))
	}
	return nil
}

// Loading returns the ids with loads in flight, sorted
func (l *Loader) Loading() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]string, 0, len(l.inflight))
	for id := range l.inflight {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsLoading reports whether a load for id is in flight
func (l *Loader) IsLoading(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.inflight[id]
	return ok
}

// WaitFor joins an in-flight load for id and returns its outcome.
// Returns nil immediately when no load is in flight.
func (l *Loader) WaitFor(ctx context.Context, id string) error {
	l.mu.Lock()
	op, ok := l.inflight[id]
	l.mu.Unlock()

	if !ok {
		return nil
	}
	select {
	case <-op.done:
		return op.err
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "waiting for plugin %q", id)
	}
}

// OnCleanup registers a hook invoked with the plugin id after every
// unload. The Messenger, Bus, and HotReloader register themselves here to
// drop their per-plugin bookkeeping.
func (l *Loader) OnCleanup(hook func(id string)) {
	l.hookMu.Lock()
	defer l.hookMu.Unlock()
	l.cleanups = append(l.cleanups, hook)
}

func (l *Loader) runCleanups(id string) {
	l.hookMu.RLock()
	hooks := make([]func(string), len(l.cleanups))
	copy(hooks, l.cleanups)
	l.hookMu.RUnlock()

	for _, hook := range hooks {
		hook(id)
	}
}

// Status returns loader diagnostics
func (l *Loader) Status() map[string]any {
	return map[string]any{
		"loading":         l.Loading(),
		"loads":           l.loads.Load(),
		"unloads":         l.unloads.Load(),
		"failures":        l.failures.Load(),
		"coalesced":       l.coalesced.Load(),
		"late_lifecycle":  l.lateLifecycle.Load(),
		"default_timeout": l.defaultTimeout.String(),
	}
}

// invoke runs one lifecycle method bounded by timeout. The call races the
// timer: on timeout the method's eventual result is discarded and counted,
// never applied.
func (l *Loader) invoke(ctx context.Context, timeout time.Duration, id, phase string, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, timeout)

	done := make(chan error, 1)
	go func() {
		done <- fn(cctx)
	}()

	select {
	case err := <-done:
		cancel()
		if err != nil {
			return errors.WrapLoad(err, fmt.Sprintf("%s plugin %q", phase, id))
		}
		return nil
	case <-cctx.Done():
		cancel()
		go func() {
			<-done
			l.lateLifecycle.Add(1)
			l.log.Debugw("discarded late lifecycle result",
				"plugin_id", id,
				"operation", phase)
		}()
		if ctx.Err() != nil {
			return errors.Wrapf(ctx.Err(), "%s plugin %q", phase, id)
		}
		return errors.NewTimeoutError("%s plugin %q exceeded %s", phase, id, timeout)
	}
}

func (l *Loader) missingGrants(meta Metadata) []Permission {
	if l.grantAll {
		return nil
	}
	var missing []Permission
	for _, perm := range meta.Permissions {
		if !l.grants[perm] {
			missing = append(missing, perm)
		}
	}
	return missing
}

func describeDeps(deps []Dependency) string {
	parts := make([]string, 0, len(deps))
	for _, dep := range deps {
		if dep.Constraint != "" {
			parts = append(parts, fmt.Sprintf("%s (%s)", dep.ID, dep.Constraint))
		} else {
			parts = append(parts, dep.ID)
		}
	}
	return strings.Join(parts, ", ")
}
