package plugin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"github.com/atelierdev/atelier/errors"
)

// ConflictKind classifies why a dependency cannot be satisfied
type ConflictKind string

const (
	// ConflictMissing means a required plugin is not registered or installable
	ConflictMissing ConflictKind = "missing"
	// ConflictVersion means the dependency exists but fails its constraint
	ConflictVersion ConflictKind = "version"
	// ConflictCycle means the declaration graph contains a cycle
	ConflictCycle ConflictKind = "cycle"
)

// Conflict reports one unsatisfiable dependency found during resolution
type Conflict struct {
	Kind         ConflictKind
	PluginID     string   // the dependent plugin
	DependencyID string   // the dependency that failed
	Constraint   string   // declared constraint, if any
	Version      string   // version found, empty when missing
	Cycle        []string // members in order, cycle conflicts only
	Err          error    // wraps errors.ErrDependency
}

func (c Conflict) String() string {
	switch c.Kind {
	case ConflictCycle:
		return fmt.Sprintf("cycle: %s", strings.Join(c.Cycle, " -> "))
	case ConflictVersion:
		return fmt.Sprintf("%s requires %s %s, found %s", c.PluginID, c.DependencyID, c.Constraint, c.Version)
	default:
		return fmt.Sprintf("%s requires %s, which is missing", c.PluginID, c.DependencyID)
	}
}

// Resolution is the outcome of resolving a batch of plugins. LoadOrder
// places every dependency before its dependents; ties are broken by
// declaration order, so the order is reproducible. When OK is false the
// order must not be used for loading.
type Resolution struct {
	OK        bool
	LoadOrder []string
	Conflicts []Conflict
}

// DependencyManager answers ordering and safety questions over plugin
// dependency declarations. Pure graph computation: it reads the Registry
// but never mutates plugin state. Adjacency is maintained incrementally
// (Track on register, Forget on unregister) rather than rebuilt per query.
type DependencyManager struct {
	mu           sync.RWMutex
	dependencies map[string][]Dependency        // id -> declared dependencies
	dependents   map[string]map[string]struct{} // id -> ids declaring a dependency on it

	registry *Registry
	catalog  *Catalog
	loader   *Loader

	log *zap.SugaredLogger
}

// NewDependencyManager creates a dependency manager over a registry
func NewDependencyManager(registry *Registry, log *zap.SugaredLogger) *DependencyManager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &DependencyManager{
		dependencies: make(map[string][]Dependency),
		dependents:   make(map[string]map[string]struct{}),
		registry:     registry,
		log:          log,
	}
}

// SetCatalog attaches the catalog AutoInstall draws candidates from
func (d *DependencyManager) SetCatalog(c *Catalog) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.catalog = c
}

// SetLoader attaches the loader AutoInstall loads candidates through
func (d *DependencyManager) SetLoader(l *Loader) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loader = l
}

// Track records a plugin's declarations in the adjacency maps
func (d *DependencyManager) Track(p Plugin) {
	meta := p.Meta()

	d.mu.Lock()
	defer d.mu.Unlock()

	deps := make([]Dependency, len(meta.Dependencies))
	copy(deps, meta.Dependencies)
	d.dependencies[meta.ID] = deps

	for _, dep := range deps {
		if d.dependents[dep.ID] == nil {
			d.dependents[dep.ID] = make(map[string]struct{})
		}
		d.dependents[dep.ID][meta.ID] = struct{}{}
	}
}

// Forget removes a plugin's own declarations. Declarations other plugins
// made on it remain; they still name it even while it is unloaded.
func (d *DependencyManager) Forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, dep := range d.dependencies[id] {
		if set, ok := d.dependents[dep.ID]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(d.dependents, dep.ID)
			}
		}
	}
	delete(d.dependencies, id)
}

// Resolve computes a load order for the given plugins. Dependencies inside
// the batch become ordering edges; dependencies outside it must already be
// registered or they are reported as conflicts. A cycle is reported as a
// conflict, never panicked on, so one call surfaces every problem at once.
func (d *DependencyManager) Resolve(plugins []Plugin) Resolution {
	byID := make(map[string]Plugin, len(plugins))
	ids := make([]string, 0, len(plugins))
	for _, p := range plugins {
		id := p.Meta().ID
		if _, dup := byID[id]; dup {
			continue
		}
		byID[id] = p
		ids = append(ids, id)
	}

	const (
		unvisited = iota
		visiting
		visited
	)

	res := Resolution{}
	marks := make(map[string]int, len(ids))
	inCycle := make(map[string]bool)
	var stack []string
	var order []string

	var visit func(id string)
	visit = func(id string) {
		marks[id] = visiting
		stack = append(stack, id)

		for _, dep := range byID[id].Meta().Dependencies {
			target, inBatch := byID[dep.ID]
			if !inBatch {
				if c := d.externalConflict(id, dep); c != nil {
					res.Conflicts = append(res.Conflicts, *c)
				}
				continue
			}

			switch marks[dep.ID] {
			case unvisited:
				visit(dep.ID)
			case visiting:
				cycle := extractCycle(stack, dep.ID)
				res.Conflicts = append(res.Conflicts, Conflict{
					Kind:         ConflictCycle,
					PluginID:     id,
					DependencyID: dep.ID,
					Cycle:        cycle,
					Err: errors.NewDependencyError("dependency cycle: %s -> %s",
						strings.Join(cycle, " -> "), dep.ID),
				})
				for _, member := range cycle {
					inCycle[member] = true
				}
			}

			if c := versionConflict(id, dep, target.Meta().Version); c != nil {
				res.Conflicts = append(res.Conflicts, *c)
			}
		}

		stack = stack[:len(stack)-1]
		marks[id] = visited
		order = append(order, id)
	}

	for _, id := range ids {
		if marks[id] == unvisited {
			visit(id)
		}
	}

	for _, id := range order {
		if !inCycle[id] {
			res.LoadOrder = append(res.LoadOrder, id)
		}
	}
	res.OK = len(res.Conflicts) == 0
	return res
}

// externalConflict checks a dependency that is not part of the batch being
// resolved: it must already be registered with a satisfying version.
// Optional dependencies never conflict.
func (d *DependencyManager) externalConflict(pluginID string, dep Dependency) *Conflict {
	meta, registered := d.registry.Meta(dep.ID)
	if !registered {
		if dep.Optional {
			return nil
		}
		return &Conflict{
			Kind:         ConflictMissing,
			PluginID:     pluginID,
			DependencyID: dep.ID,
			Constraint:   dep.Constraint,
			Err:          errors.NewDependencyError("plugin %q requires %q, which is not registered", pluginID, dep.ID),
		}
	}
	return versionConflict(pluginID, dep, meta.Version)
}

// versionConflict checks a present dependency's version against the
// declared constraint. Unparseable constraints or versions are treated as
// unmet. Optional dependencies never conflict.
func versionConflict(pluginID string, dep Dependency, version string) *Conflict {
	if dep.Optional {
		return nil
	}
	ok, err := satisfiesConstraint(dep.Constraint, version)
	if err != nil {
		return &Conflict{
			Kind:         ConflictVersion,
			PluginID:     pluginID,
			DependencyID: dep.ID,
			Constraint:   dep.Constraint,
			Version:      version,
			Err:          errors.WrapDependency(err, fmt.Sprintf("plugin %q constraint on %q", pluginID, dep.ID)),
		}
	}
	if !ok {
		return &Conflict{
			Kind:         ConflictVersion,
			PluginID:     pluginID,
			DependencyID: dep.ID,
			Constraint:   dep.Constraint,
			Version:      version,
			Err: errors.NewDependencyError("plugin %q requires %q %s, found %s",
				pluginID, dep.ID, dep.Constraint, version),
		}
	}
	return nil
}

// satisfiesConstraint checks a version against a semver range expression.
// An empty constraint accepts any version.
func satisfiesConstraint(constraint, version string) (bool, error) {
	if constraint == "" {
		return true, nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, errors.Wrapf(err, "invalid constraint %q", constraint)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false, errors.Wrapf(err, "invalid version %q", version)
	}
	return c.Check(v), nil
}

// extractCycle returns the members of the cycle closed by a back edge to
// start, in walk order.
func extractCycle(stack []string, start string) []string {
	for i, id := range stack {
		if id == start {
			cycle := make([]string, len(stack)-i)
			copy(cycle, stack[i:])
			return cycle
		}
	}
	return []string{start}
}

// Satisfied reports whether every non-optional dependency of p is
// registered with a version satisfying its constraint. Unparseable
// versions or constraints count as unmet.
func (d *DependencyManager) Satisfied(p Plugin) bool {
	for _, dep := range p.Meta().Dependencies {
		if dep.Optional {
			continue
		}
		meta, ok := d.registry.Meta(dep.ID)
		if !ok {
			return false
		}
		satisfied, err := satisfiesConstraint(dep.Constraint, meta.Version)
		if err != nil || !satisfied {
			return false
		}
	}
	return true
}

// Missing returns the non-optional dependencies of p that are absent or
// fail their version constraint, in declaration order.
func (d *DependencyManager) Missing(p Plugin) []Dependency {
	var missing []Dependency
	for _, dep := range p.Meta().Dependencies {
		if dep.Optional {
			continue
		}
		meta, ok := d.registry.Meta(dep.ID)
		if !ok {
			missing = append(missing, dep)
			continue
		}
		satisfied, err := satisfiesConstraint(dep.Constraint, meta.Version)
		if err != nil || !satisfied {
			missing = append(missing, dep)
		}
	}
	return missing
}

// InCycle reports whether the tracked declaration graph contains a path
// from id back to itself.
func (d *DependencyManager) InCycle(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	seen := make(map[string]bool)
	var walk func(current string) bool
	walk = func(current string) bool {
		for _, dep := range d.dependencies[current] {
			if dep.ID == id {
				return true
			}
			if !seen[dep.ID] {
				seen[dep.ID] = true
				if walk(dep.ID) {
					return true
				}
			}
		}
		return false
	}
	return walk(id)
}

// DependenciesOf returns id's tracked dependency ids in declaration order.
// With recursive, the transitive closure in depth-first order, deduplicated.
func (d *DependencyManager) DependenciesOf(id string, recursive bool) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !recursive {
		deps := d.dependencies[id]
		result := make([]string, 0, len(deps))
		for _, dep := range deps {
			result = append(result, dep.ID)
		}
		return result
	}

	var result []string
	seen := map[string]bool{id: true}
	var walk func(current string)
	walk = func(current string) {
		for _, dep := range d.dependencies[current] {
			if seen[dep.ID] {
				continue
			}
			seen[dep.ID] = true
			result = append(result, dep.ID)
			walk(dep.ID)
		}
	}
	walk(id)
	return result
}

// DependentsOf returns the ids of tracked plugins declaring a dependency
// on id, sorted for determinism.
func (d *DependencyManager) DependentsOf(id string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	set := d.dependents[id]
	result := make([]string, 0, len(set))
	for dependent := range set {
		result = append(result, dependent)
	}
	sort.Strings(result)
	return result
}

// CanUnload reports whether id can be unloaded without breaking another
// started plugin: false when any other started plugin declares a
// non-optional dependency on it.
func (d *DependencyManager) CanUnload(id string) bool {
	d.mu.RLock()
	dependents := make([]string, 0, len(d.dependents[id]))
	for dependent := range d.dependents[id] {
		dependents = append(dependents, dependent)
	}
	declarations := make(map[string][]Dependency, len(dependents))
	for _, dependent := range dependents {
		declarations[dependent] = d.dependencies[dependent]
	}
	d.mu.RUnlock()

	for _, dependent := range dependents {
		if dependent == id {
			continue
		}
		state, ok := d.registry.State(dependent)
		if !ok || state != StateStarted {
			continue
		}
		for _, dep := range declarations[dependent] {
			if dep.ID == id && !dep.Optional {
				return false
			}
		}
	}
	return true
}

// AutoInstall resolves p's missing dependencies against the catalog,
// loading the candidates it can verify, transitive dependencies first.
// Returns the newly installed ids. A non-optional dependency that cannot
// be installed or verified is reported in the returned error; optional
// ones are skipped silently. Best-effort: verified installs proceed even
// when others fail.
func (d *DependencyManager) AutoInstall(ctx context.Context, p Plugin) ([]string, error) {
	d.mu.RLock()
	catalog, loader := d.catalog, d.loader
	d.mu.RUnlock()

	if catalog == nil {
		return nil, errors.New("auto-install requires a catalog")
	}
	if loader == nil {
		return nil, errors.New("auto-install requires a loader")
	}

	var installed []string
	var failures []string
	visited := map[string]bool{p.Meta().ID: true}

	var install func(target Plugin)
	install = func(target Plugin) {
		for _, dep := range target.Meta().Dependencies {
			if visited[dep.ID] {
				continue
			}
			visited[dep.ID] = true

			if _, registered := d.registry.Meta(dep.ID); registered {
				continue
			}

			candidate, err := catalog.New(dep.ID)
			if err != nil {
				if !dep.Optional {
					failures = append(failures, fmt.Sprintf("%s: not in catalog", dep.ID))
				}
				continue
			}

			satisfied, err := satisfiesConstraint(dep.Constraint, candidate.Meta().Version)
			if err != nil || !satisfied {
				if !dep.Optional {
					failures = append(failures, fmt.Sprintf("%s: catalog version %s does not satisfy %q",
						dep.ID, candidate.Meta().Version, dep.Constraint))
				}
				continue
			}

			install(candidate)

			if err := loader.Load(ctx, candidate, 0); err != nil {
				if !dep.Optional {
					failures = append(failures, fmt.Sprintf("%s: %v", dep.ID, err))
				}
				continue
			}

			installed = append(installed, dep.ID)
			d.log.Infow("dependency auto-installed",
				"plugin_id", dep.ID,
				"for", target.Meta().ID)
		}
	}
	install(p)

	if len(failures) > 0 {
		return installed, errors.NewDependencyError("auto-install incomplete for %q: %s",
			p.Meta().ID, strings.Join(failures, "; "))
	}
	return installed, nil
}

// Status returns dependency graph diagnostics
func (d *DependencyManager) Status() map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()

	edges := 0
	for _, deps := range d.dependencies {
		edges += len(deps)
	}

	return map[string]any{
		"tracked": len(d.dependencies),
		"edges":   edges,
		"catalog": d.catalog != nil,
		"loader":  d.loader != nil,
	}
}
