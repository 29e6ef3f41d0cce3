package plugin

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/atelierdev/atelier/errors"
)

// Watch-triggered reload pacing defaults
const (
	defaultReloadDebounce = 500 * time.Millisecond
	defaultReloadRate     = 0.5 // one reload per two seconds
	defaultReloadBurst    = 1
)

// ReloadState is the reloader's own lifecycle
type ReloadState int

const (
	ReloadIdle ReloadState = iota
	ReloadWatching
	ReloadReloading
	ReloadError
)

var reloadStateNames = map[ReloadState]string{
	ReloadIdle:      "idle",
	ReloadWatching:  "watching",
	ReloadReloading: "reloading",
	ReloadError:     "error",
}

func (s ReloadState) String() string {
	if name, ok := reloadStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// ReloadWatch streams reloader state transitions. Close is idempotent and
// synchronous: once it returns no further values are delivered.
type ReloadWatch struct {
	mu     sync.Mutex
	ch     chan ReloadState
	closed bool
}

func newReloadWatch(buffer int) *ReloadWatch {
	if buffer <= 0 {
		buffer = defaultWatchBuffer
	}
	return &ReloadWatch{ch: make(chan ReloadState, buffer)}
}

// C returns the receive side of the watch
func (w *ReloadWatch) C() <-chan ReloadState {
	return w.ch
}

// Close stops delivery and closes the channel
func (w *ReloadWatch) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.ch)
}

// send delivers without blocking. Reports whether the value was delivered
// and whether the watch is still open.
func (w *ReloadWatch) send(state ReloadState) (delivered, open bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false, false
	}
	select {
	case w.ch <- state:
		return true, true
	default:
		return false, true
	}
}

// Snapshot preserves a plugin's state and configuration across a reload
type Snapshot struct {
	PluginID  string
	State     State
	Config    Payload
	Timestamp time.Time
}

// ReloadOptions controls one reload transaction
type ReloadOptions struct {
	// PreserveState snapshots config before unload and restores it on the
	// replacement instance after load.
	PreserveState bool

	// Factory constructs the replacement. When nil the factory registered
	// for the id is used.
	Factory Factory
}

// Result reports one reload outcome. Batch operations return a Result per
// plugin and continue past individual failures.
type Result struct {
	PluginID string
	OK       bool
	Err      error
	Duration time.Duration
}

// HotReloaderConfig tunes watching and reload pacing. The zero value uses
// the defaults.
type HotReloaderConfig struct {
	// Debounce is how long file events for an id must settle before a
	// reload fires. Zero means 500ms.
	Debounce time.Duration

	// ReloadsPerSec caps watch-triggered reloads per plugin. Zero means
	// one reload per two seconds. Manual Reload calls are never limited.
	ReloadsPerSec float64

	// ReloadBurst is the limiter burst. Zero means 1.
	ReloadBurst int

	// PreserveState makes watch-triggered reloads carry config across
	PreserveState bool
}

// HotReloader swaps plugin instances at runtime, optionally preserving
// their config across the swap. File watching turns source changes into
// debounced, rate-limited reloads during development.
type HotReloader struct {
	loader   *Loader
	registry *Registry

	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	bindings  map[string]string // watched path -> plugin id
	factories map[string]Factory
	snapshots map[string]Snapshot
	timers    map[string]*time.Timer
	limiters  map[string]*rate.Limiter
	state     ReloadState
	watches   []*ReloadWatch

	debounce      time.Duration
	reloadRate    rate.Limit
	reloadBurst   int
	preserveState bool

	reloads      atomic.Uint64
	failures     atomic.Uint64
	rateLimited  atomic.Uint64
	watchDropped atomic.Uint64

	log *zap.SugaredLogger
}

// NewHotReloader creates a hot reloader over a loader and registry
func NewHotReloader(loader *Loader, registry *Registry, cfg HotReloaderConfig, log *zap.SugaredLogger) *HotReloader {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultReloadDebounce
	}
	reloadRate := rate.Limit(cfg.ReloadsPerSec)
	if reloadRate <= 0 {
		reloadRate = defaultReloadRate
	}
	burst := cfg.ReloadBurst
	if burst <= 0 {
		burst = defaultReloadBurst
	}

	return &HotReloader{
		loader:        loader,
		registry:      registry,
		bindings:      make(map[string]string),
		factories:     make(map[string]Factory),
		snapshots:     make(map[string]Snapshot),
		timers:        make(map[string]*time.Timer),
		limiters:      make(map[string]*rate.Limiter),
		state:         ReloadIdle,
		debounce:      debounce,
		reloadRate:    reloadRate,
		reloadBurst:   burst,
		preserveState: cfg.PreserveState,
		log:           log,
	}
}

// RegisterFactory installs the replacement constructor used by
// watch-triggered reloads and by Reload calls without an explicit factory.
func (h *HotReloader) RegisterFactory(id string, f Factory) error {
	if id == "" {
		return errors.New("plugin id is empty")
	}
	if f == nil {
		return errors.Newf("factory for plugin %q is nil", id)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.factories[id] = f
	return nil
}

// Bind maps a file or directory to a plugin id. Changes under the path
// trigger a reload of that plugin while watching is active.
func (h *HotReloader) Bind(id, path string) error {
	if id == "" {
		return errors.New("plugin id is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrapf(err, "resolving watch path %q", path)
	}

	h.mu.Lock()
	h.bindings[abs] = id
	watcher := h.watcher
	h.mu.Unlock()

	if watcher != nil {
		if err := watcher.Add(abs); err != nil {
			return errors.Wrapf(err, "watching %q for plugin %q", abs, id)
		}
	}
	return nil
}

// StartWatching begins watching the given paths plus every bound path.
// Write and Create events resolve to a plugin id through the bindings,
// then debounce and rate-limit before reloading.
func (h *HotReloader) StartWatching(paths ...string) error {
	h.mu.Lock()
	if h.watcher != nil {
		h.mu.Unlock()
		return errors.NewStateError("hot reload watcher already running")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		h.mu.Unlock()
		return errors.Wrap(err, "creating fsnotify watcher")
	}

	watched := make(map[string]struct{})
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			watcher.Close()
			h.mu.Unlock()
			return errors.Wrapf(err, "resolving watch path %q", path)
		}
		watched[abs] = struct{}{}
	}
	for path := range h.bindings {
		watched[path] = struct{}{}
	}

	for path := range watched {
		if err := watcher.Add(path); err != nil {
			watcher.Close()
			h.mu.Unlock()
			return errors.Wrapf(err, "watching %q", path)
		}
	}

	h.watcher = watcher
	h.setStateLocked(ReloadWatching)
	h.mu.Unlock()

	go h.watchLoop(watcher)

	h.log.Infow("watching for plugin changes",
		"paths", len(watched))
	return nil
}

// StopWatching stops the file watcher and cancels pending debounce timers
func (h *HotReloader) StopWatching() error {
	h.mu.Lock()
	watcher := h.watcher
	if watcher == nil {
		h.mu.Unlock()
		return nil
	}
	h.watcher = nil

	for id, timer := range h.timers {
		timer.Stop()
		delete(h.timers, id)
	}
	h.setStateLocked(ReloadIdle)
	h.mu.Unlock()

	return watcher.Close()
}

// Reload replaces a plugin instance: snapshot (optional), forced unload,
// construct replacement, load, restore. Never panics; failures come back
// in the Result so callers batching reloads can keep going.
func (h *HotReloader) Reload(ctx context.Context, id string, opts ReloadOptions) Result {
	start := time.Now()
	res := Result{PluginID: id}

	factory := opts.Factory
	if factory == nil {
		h.mu.Lock()
		factory = h.factories[id]
		h.mu.Unlock()
	}
	if factory == nil {
		res.Err = errors.NewLoadError("no replacement factory for plugin %q", id)
		res.Duration = time.Since(start)
		h.failures.Add(1)
		return res
	}

	h.setState(ReloadReloading)
	defer func() { h.settle(res.Err) }()

	if existing, ok := h.registry.Get(id); ok {
		if opts.PreserveState {
			h.capture(id, existing)
		}
		if err := h.loader.Unload(ctx, id, true); err != nil {
			h.log.Warnw("forced unload before reload reported errors",
				"plugin_id", id,
				"error", err)
		}
	}

	replacement := factory()
	if err := h.loader.Load(ctx, replacement, 0); err != nil {
		res.Err = errors.WrapLoad(err, fmt.Sprintf("reloading plugin %q", id))
		res.Duration = time.Since(start)
		h.failures.Add(1)
		return res
	}

	preserved := false
	if snap, ok := h.consumeSnapshot(id); ok {
		preserved = true
		if stateful, ok := replacement.(Stateful); ok {
			if err := stateful.RestoreConfig(snap.Config); err != nil {
				res.Err = errors.Wrapf(err, "restoring config for plugin %q", id)
				res.Duration = time.Since(start)
				h.failures.Add(1)
				return res
			}
		}
	}

	res.OK = true
	res.Duration = time.Since(start)
	h.reloads.Add(1)

	h.log.Infow("plugin reloaded",
		"plugin_id", id,
		"duration_ms", res.Duration.Milliseconds(),
		"preserved", preserved)
	return res
}

// ReloadAll reloads every registered plugin, in registration order,
// continuing past failures.
func (h *HotReloader) ReloadAll(ctx context.Context, opts ReloadOptions) []Result {
	ids := h.registry.IDs()
	results := make([]Result, 0, len(ids))
	for _, id := range ids {
		results = append(results, h.Reload(ctx, id, opts))
	}
	return results
}

// Snapshot returns the pending snapshot for a plugin, if one exists
func (h *HotReloader) Snapshot(id string) (Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	snap, ok := h.snapshots[id]
	return snap, ok
}

// CleanupPlugin drops all reload bookkeeping for a plugin
func (h *HotReloader) CleanupPlugin(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.snapshots, id)
	delete(h.factories, id)
	delete(h.limiters, id)
	if timer, ok := h.timers[id]; ok {
		timer.Stop()
		delete(h.timers, id)
	}
	for path, bound := range h.bindings {
		if bound == id {
			delete(h.bindings, path)
		}
	}
}

// State returns the reloader's current state
func (h *HotReloader) State() ReloadState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// WatchState returns a stream of reloader state transitions
func (h *HotReloader) WatchState() *ReloadWatch {
	w := newReloadWatch(defaultWatchBuffer)
	h.mu.Lock()
	h.watches = append(h.watches, w)
	h.mu.Unlock()
	return w
}

// Status returns reloader diagnostics
func (h *HotReloader) Status() map[string]any {
	h.mu.Lock()
	state := h.state
	bindings := len(h.bindings)
	factories := len(h.factories)
	snapshots := len(h.snapshots)
	h.mu.Unlock()

	return map[string]any{
		"state":        state.String(),
		"bindings":     bindings,
		"factories":    factories,
		"snapshots":    snapshots,
		"reloads":      h.reloads.Load(),
		"failures":     h.failures.Load(),
		"rate_limited": h.rateLimited.Load(),
	}
}

// capture snapshots a plugin's state and config before unload. A newer
// snapshot supersedes any pending one for the same id.
func (h *HotReloader) capture(id string, p Plugin) {
	snap := Snapshot{
		PluginID:  id,
		Timestamp: time.Now(),
	}
	if state, ok := h.registry.State(id); ok {
		snap.State = state
	}
	if stateful, ok := p.(Stateful); ok {
		snap.Config = stateful.ConfigSnapshot()
	}

	h.mu.Lock()
	h.snapshots[id] = snap
	h.mu.Unlock()
}

// consumeSnapshot removes and returns the pending snapshot for an id
func (h *HotReloader) consumeSnapshot(id string) (Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	snap, ok := h.snapshots[id]
	if ok {
		delete(h.snapshots, id)
	}
	return snap, ok
}

// watchLoop turns file events into debounced reload triggers. Exits when
// the watcher closes.
func (h *HotReloader) watchLoop(watcher *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Write != fsnotify.Write && event.Op&fsnotify.Create != fsnotify.Create {
				continue
			}

			id := h.resolveBinding(event.Name)
			if id == "" {
				continue
			}

			h.log.Debugw("plugin change detected",
				"plugin_id", id,
				"file", event.Name,
				"op", event.Op.String())
			h.scheduleReload(id)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			h.log.Warnw("plugin watcher error",
				"error", err)
		}
	}
}

// resolveBinding maps a changed file to a bound plugin id
func (h *HotReloader) resolveBinding(name string) string {
	clean := filepath.Clean(name)

	h.mu.Lock()
	defer h.mu.Unlock()

	if id, ok := h.bindings[clean]; ok {
		return id
	}
	for path, id := range h.bindings {
		if strings.HasPrefix(clean, path+string(filepath.Separator)) {
			return id
		}
	}
	return ""
}

// scheduleReload restarts the debounce timer for an id
func (h *HotReloader) scheduleReload(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if timer, ok := h.timers[id]; ok {
		timer.Stop()
	}
	h.timers[id] = time.AfterFunc(h.debounce, func() {
		h.watchReload(id)
	})
}

// watchReload runs a debounced, rate-limited reload for a watched plugin
func (h *HotReloader) watchReload(id string) {
	h.mu.Lock()
	if h.watcher == nil {
		h.mu.Unlock()
		return
	}
	delete(h.timers, id)

	limiter, ok := h.limiters[id]
	if !ok {
		limiter = rate.NewLimiter(h.reloadRate, h.reloadBurst)
		h.limiters[id] = limiter
	}
	preserve := h.preserveState
	h.mu.Unlock()

	if !limiter.Allow() {
		h.rateLimited.Add(1)
		h.log.Debugw("plugin reload rate limited",
			"plugin_id", id)
		return
	}

	res := h.Reload(context.Background(), id, ReloadOptions{PreserveState: preserve})
	if res.Err != nil {
		h.log.Errorw("watch-triggered reload failed",
			"plugin_id", id,
			"error", res.Err)
	}
}

// setState publishes a reloader state transition
func (h *HotReloader) setState(state ReloadState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.setStateLocked(state)
}

func (h *HotReloader) setStateLocked(state ReloadState) {
	if h.state == state {
		return
	}
	h.state = state

	live := h.watches[:0]
	for _, w := range h.watches {
		delivered, open := w.send(state)
		if !open {
			continue
		}
		if !delivered {
			h.watchDropped.Add(1)
		}
		live = append(live, w)
	}
	h.watches = live
}

// settle moves the reloader out of the reloading state once a reload
// transaction finishes.
func (h *HotReloader) settle(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err != nil {
		h.setStateLocked(ReloadError)
		return
	}
	if h.watcher != nil {
		h.setStateLocked(ReloadWatching)
	} else {
		h.setStateLocked(ReloadIdle)
	}
}
