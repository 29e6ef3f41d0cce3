package plugin

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/atelierdev/atelier/errors"
)

// defaultWatchBuffer is the channel depth for state watch streams
const defaultWatchBuffer = 16

// Registry is the single source of truth for plugin instances, metadata,
// and lifecycle state. It is a deliberately dumb store: transition legality
// lives in the Loader, graph computation in the DependencyManager.
type Registry struct {
	mu       sync.RWMutex
	plugins  map[string]Plugin
	metadata map[string]Metadata
	states   map[string]State
	order    []string // registration order, for deterministic projections

	watchers map[string][]*StateWatch // per-id state streams
	global   []*StateWatch            // all-plugin state streams

	dropped atomic.Uint64 // changes dropped on full watch channels

	log *zap.SugaredLogger
}

// NewRegistry creates an empty plugin registry
func NewRegistry(log *zap.SugaredLogger) *Registry {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Registry{
		plugins:  make(map[string]Plugin),
		metadata: make(map[string]Metadata),
		states:   make(map[string]State),
		watchers: make(map[string][]*StateWatch),
		log:      log,
	}
}

// Register stores a plugin instance under its metadata id with state
// StateLoaded. Fails with ErrAlreadyExists when the id is taken and with
// the validation error when the metadata is malformed.
func (r *Registry) Register(p Plugin) error {
	meta := p.Meta()
	if err := meta.Validate(); err != nil {
		return errors.Wrap(err, "invalid plugin metadata")
	}

	r.mu.Lock()
	if _, exists := r.plugins[meta.ID]; exists {
		r.mu.Unlock()
		return errors.NewAlreadyExistsError("plugin %q already registered", meta.ID)
	}

	r.plugins[meta.ID] = p
	r.metadata[meta.ID] = meta
	r.states[meta.ID] = StateLoaded
	r.order = append(r.order, meta.ID)

	change := StateChange{
		PluginID:  meta.ID,
		From:      StateUnloaded,
		To:        StateLoaded,
		Timestamp: time.Now(),
	}
	r.publishLocked(change)
	r.mu.Unlock()

	r.log.Debugw("plugin registered",
		"plugin_id", meta.ID,
		"version", meta.Version,
		"category", string(meta.Category))
	return nil
}

// Unregister removes a plugin and closes its state streams. The global
// stream observes a final transition to StateUnloaded first.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	if _, exists := r.plugins[id]; !exists {
		r.mu.Unlock()
		return errors.NewNotFoundError("plugin %q is not registered", id)
	}

	change := StateChange{
		PluginID:  id,
		From:      r.states[id],
		To:        StateUnloaded,
		Timestamp: time.Now(),
	}
	r.publishLocked(change)

	watchers := r.watchers[id]
	delete(r.watchers, id)
	delete(r.plugins, id)
	delete(r.metadata, id)
	delete(r.states, id)
	for i, registered := range r.order {
		if registered == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	for _, w := range watchers {
		w.Close()
	}

	r.log.Debugw("plugin unregistered", "plugin_id", id)
	return nil
}

// Get retrieves a plugin instance by id
func (r *Registry) Get(id string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[id]
	return p, ok
}

// Contains reports whether a plugin id is registered
func (r *Registry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.plugins[id]
	return ok
}

// Meta returns the registered metadata for an id
func (r *Registry) Meta(id string) (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.metadata[id]
	return meta, ok
}

// State returns the current lifecycle state for an id
func (r *Registry) State(id string) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.states[id]
	return state, ok
}

// SetState overwrites a plugin's state and publishes the change on the
// plugin's stream and the global stream.
func (r *Registry) SetState(id string, state State) error {
	r.mu.Lock()
	current, exists := r.states[id]
	if !exists {
		r.mu.Unlock()
		return errors.NewNotFoundError("plugin %q is not registered", id)
	}

	r.states[id] = state
	change := StateChange{
		PluginID:  id,
		From:      current,
		To:        state,
		Timestamp: time.Now(),
	}
	r.publishLocked(change)
	r.mu.Unlock()

	r.log.Debugw("plugin state changed",
		"plugin_id", id,
		"state", state.String())
	return nil
}

// All returns every registered plugin in registration order
func (r *Registry) All() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.plugins[id])
	}
	return result
}

// IDs returns every registered plugin id in registration order
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, len(r.order))
	copy(result, r.order)
	return result
}

// ByCategory returns registered plugins of one category in registration order
func (r *Registry) ByCategory(category Category) []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Plugin
	for _, id := range r.order {
		if r.metadata[id].Category == category {
			result = append(result, r.plugins[id])
		}
	}
	return result
}

// ByState returns registered plugins in one state in registration order
func (r *Registry) ByState(state State) []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Plugin
	for _, id := range r.order {
		if r.states[id] == state {
			result = append(result, r.plugins[id])
		}
	}
	return result
}

// Active returns started plugins in registration order
func (r *Registry) Active() []Plugin {
	return r.ByState(StateStarted)
}

// WatchState returns a live stream of one plugin's state changes. The
// stream does not replay the current state; it closes when the plugin is
// unregistered or the watch is closed.
func (r *Registry) WatchState(id string) (*StateWatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[id]; !exists {
		return nil, errors.NewNotFoundError("plugin %q is not registered", id)
	}

	w := newStateWatch(defaultWatchBuffer)
	r.watchers[id] = append(r.watchers[id], w)
	return w, nil
}

// WatchAll returns a live stream of every plugin's state changes,
// including registrations and unregistrations.
func (r *Registry) WatchAll() *StateWatch {
	r.mu.Lock()
	defer r.mu.Unlock()

	w := newStateWatch(defaultWatchBuffer)
	r.global = append(r.global, w)
	return w
}

// Clear removes every plugin and closes every stream. Teardown and tests.
func (r *Registry) Clear() {
	r.mu.Lock()
	var all []*StateWatch
	for _, ws := range r.watchers {
		all = append(all, ws...)
	}
	all = append(all, r.global...)

	r.plugins = make(map[string]Plugin)
	r.metadata = make(map[string]Metadata)
	r.states = make(map[string]State)
	r.order = nil
	r.watchers = make(map[string][]*StateWatch)
	r.global = nil
	r.mu.Unlock()

	for _, w := range all {
		w.Close()
	}
}

// Status returns registry diagnostics: totals and per-state/category counts
func (r *Registry) Status() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byState := make(map[string]int)
	for _, state := range r.states {
		byState[state.String()]++
	}
	byCategory := make(map[string]int)
	for _, meta := range r.metadata {
		byCategory[string(meta.Category)]++
	}

	watcherCount := len(r.global)
	for _, ws := range r.watchers {
		watcherCount += len(ws)
	}

	return map[string]any{
		"plugins":         len(r.plugins),
		"by_state":        byState,
		"by_category":     byCategory,
		"watchers":        watcherCount,
		"dropped_changes": r.dropped.Load(),
	}
}

// publishLocked fans a change out to the plugin's watchers and the global
// watchers, pruning closed ones. Caller holds r.mu. Sends never block;
// full channels drop the change and count it.
func (r *Registry) publishLocked(change StateChange) {
	r.watchers[change.PluginID] = r.sendAll(r.watchers[change.PluginID], change)
	if len(r.watchers[change.PluginID]) == 0 {
		delete(r.watchers, change.PluginID)
	}
	r.global = r.sendAll(r.global, change)
}

func (r *Registry) sendAll(watchers []*StateWatch, change StateChange) []*StateWatch {
	live := watchers[:0]
	for _, w := range watchers {
		delivered, open := w.send(change)
		if !open {
			continue
		}
		if !delivered {
			r.dropped.Add(1)
		}
		live = append(live, w)
	}
	return live
}
