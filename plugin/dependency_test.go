package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelierdev/atelier/errors"
)

func pluginWithDeps(id, version string, deps ...Dependency) *mockPlugin {
	p := newMockPlugin(id)
	p.meta.Version = version
	p.meta.Dependencies = deps
	return p
}

// =============================================================================
// Resolve Tests
// =============================================================================

func TestDependencyManager_Resolve(t *testing.T) {
	t.Run("linear chain", func(t *testing.T) {
		d := NewDependencyManager(NewRegistry(nil), nil)

		a := pluginWithDeps("a", "1.0.0")
		b := pluginWithDeps("b", "1.0.0", Dependency{ID: "a"})
		c := pluginWithDeps("c", "1.0.0", Dependency{ID: "b"})

		res := d.Resolve([]Plugin{c, b, a})
		assert.True(t, res.OK)
		assert.Empty(t, res.Conflicts)
		assert.Equal(t, []string{"a", "b", "c"}, res.LoadOrder)
	})

	t.Run("independent plugins keep batch order", func(t *testing.T) {
		d := NewDependencyManager(NewRegistry(nil), nil)

		res := d.Resolve([]Plugin{
			pluginWithDeps("x", "1.0.0"),
			pluginWithDeps("y", "1.0.0"),
			pluginWithDeps("z", "1.0.0"),
		})
		assert.True(t, res.OK)
		assert.Equal(t, []string{"x", "y", "z"}, res.LoadOrder)
	})

	t.Run("diamond", func(t *testing.T) {
		d := NewDependencyManager(NewRegistry(nil), nil)

		a := pluginWithDeps("a", "1.0.0")
		b := pluginWithDeps("b", "1.0.0", Dependency{ID: "a"})
		c := pluginWithDeps("c", "1.0.0", Dependency{ID: "a"})
		top := pluginWithDeps("top", "1.0.0", Dependency{ID: "b"}, Dependency{ID: "c"})

		res := d.Resolve([]Plugin{top, b, c, a})
		require.True(t, res.OK)
		assert.Equal(t, []string{"a", "b", "c", "top"}, res.LoadOrder)
	})

	t.Run("cycle is reported, never panicked on", func(t *testing.T) {
		d := NewDependencyManager(NewRegistry(nil), nil)

		a := pluginWithDeps("a", "1.0.0", Dependency{ID: "b"})
		b := pluginWithDeps("b", "1.0.0", Dependency{ID: "a"})
		c := pluginWithDeps("c", "1.0.0")

		res := d.Resolve([]Plugin{a, b, c})
		assert.False(t, res.OK)
		require.Len(t, res.Conflicts, 1)

		conflict := res.Conflicts[0]
		assert.Equal(t, ConflictCycle, conflict.Kind)
		assert.ElementsMatch(t, []string{"a", "b"}, conflict.Cycle)
		assert.True(t, errors.IsDependencyError(conflict.Err))

		// Cycle members are excluded; the unaffected plugin still orders
		assert.Equal(t, []string{"c"}, res.LoadOrder)
	})

	t.Run("missing external dependency", func(t *testing.T) {
		d := NewDependencyManager(NewRegistry(nil), nil)

		res := d.Resolve([]Plugin{
			pluginWithDeps("a", "1.0.0", Dependency{ID: "ghost"}),
		})
		assert.False(t, res.OK)
		require.Len(t, res.Conflicts, 1)
		assert.Equal(t, ConflictMissing, res.Conflicts[0].Kind)
		assert.Equal(t, "a", res.Conflicts[0].PluginID)
		assert.Equal(t, "ghost", res.Conflicts[0].DependencyID)
	})

	t.Run("external dependency satisfied by the registry", func(t *testing.T) {
		registry := NewRegistry(nil)
		require.NoError(t, registry.Register(pluginWithDeps("base", "1.2.0")))
		d := NewDependencyManager(registry, nil)

		res := d.Resolve([]Plugin{
			pluginWithDeps("a", "1.0.0", Dependency{ID: "base", Constraint: "^1.0"}),
		})
		assert.True(t, res.OK)
		assert.Equal(t, []string{"a"}, res.LoadOrder)
	})

	t.Run("external version conflict", func(t *testing.T) {
		registry := NewRegistry(nil)
		require.NoError(t, registry.Register(pluginWithDeps("base", "1.0.0")))
		d := NewDependencyManager(registry, nil)

		res := d.Resolve([]Plugin{
			pluginWithDeps("a", "1.0.0", Dependency{ID: "base", Constraint: "^2.0"}),
		})
		assert.False(t, res.OK)
		require.Len(t, res.Conflicts, 1)

		conflict := res.Conflicts[0]
		assert.Equal(t, ConflictVersion, conflict.Kind)
		assert.Equal(t, "^2.0", conflict.Constraint)
		assert.Equal(t, "1.0.0", conflict.Version)
	})

	t.Run("optional missing dependency is not a conflict", func(t *testing.T) {
		d := NewDependencyManager(NewRegistry(nil), nil)

		res := d.Resolve([]Plugin{
			pluginWithDeps("a", "1.0.0", Dependency{ID: "ghost", Optional: true}),
		})
		assert.True(t, res.OK)
	})

	t.Run("in-batch version conflict", func(t *testing.T) {
		d := NewDependencyManager(NewRegistry(nil), nil)

		a := pluginWithDeps("a", "1.0.0")
		b := pluginWithDeps("b", "1.0.0", Dependency{ID: "a", Constraint: "^2.0"})

		res := d.Resolve([]Plugin{a, b})
		assert.False(t, res.OK)
		require.Len(t, res.Conflicts, 1)
		assert.Equal(t, ConflictVersion, res.Conflicts[0].Kind)
	})

	t.Run("duplicate batch entries deduplicated", func(t *testing.T) {
		d := NewDependencyManager(NewRegistry(nil), nil)
		a := pluginWithDeps("a", "1.0.0")

		res := d.Resolve([]Plugin{a, a})
		assert.True(t, res.OK)
		assert.Equal(t, []string{"a"}, res.LoadOrder)
	})
}

// =============================================================================
// Adjacency Tests
// =============================================================================

func TestDependencyManager_TrackForget(t *testing.T) {
	t.Run("track records both directions", func(t *testing.T) {
		d := NewDependencyManager(NewRegistry(nil), nil)
		d.Track(pluginWithDeps("b", "1.0.0", Dependency{ID: "a"}))

		assert.Equal(t, []string{"a"}, d.DependenciesOf("b", false))
		assert.Equal(t, []string{"b"}, d.DependentsOf("a"))
	})

	t.Run("forget removes own declarations", func(t *testing.T) {
		d := NewDependencyManager(NewRegistry(nil), nil)
		d.Track(pluginWithDeps("b", "1.0.0", Dependency{ID: "a"}))

		d.Forget("b")
		assert.Empty(t, d.DependenciesOf("b", false))
		assert.Empty(t, d.DependentsOf("a"))
	})

	t.Run("forget keeps declarations made by others", func(t *testing.T) {
		d := NewDependencyManager(NewRegistry(nil), nil)
		d.Track(pluginWithDeps("a", "1.0.0"))
		d.Track(pluginWithDeps("b", "1.0.0", Dependency{ID: "a"}))

		// Unloading a does not erase b's declared need for it
		d.Forget("a")
		assert.Equal(t, []string{"b"}, d.DependentsOf("a"))
	})
}

func TestDependencyManager_SatisfiedMissing(t *testing.T) {
	registry := NewRegistry(nil)
	require.NoError(t, registry.Register(pluginWithDeps("base", "1.2.0")))
	d := NewDependencyManager(registry, nil)

	t.Run("satisfied constraint", func(t *testing.T) {
		p := pluginWithDeps("a", "1.0.0", Dependency{ID: "base", Constraint: "^1.0"})
		assert.True(t, d.Satisfied(p))
		assert.Empty(t, d.Missing(p))
	})

	t.Run("failing constraint", func(t *testing.T) {
		p := pluginWithDeps("a", "1.0.0", Dependency{ID: "base", Constraint: "^2.0"})
		assert.False(t, d.Satisfied(p))

		missing := d.Missing(p)
		require.Len(t, missing, 1)
		assert.Equal(t, "base", missing[0].ID)
	})

	t.Run("absent dependency", func(t *testing.T) {
		p := pluginWithDeps("a", "1.0.0", Dependency{ID: "ghost"})
		assert.False(t, d.Satisfied(p))
	})

	t.Run("optional dependencies never count", func(t *testing.T) {
		p := pluginWithDeps("a", "1.0.0", Dependency{ID: "ghost", Optional: true})
		assert.True(t, d.Satisfied(p))
		assert.Empty(t, d.Missing(p))
	})

	t.Run("unparseable constraint counts as unmet", func(t *testing.T) {
		p := pluginWithDeps("a", "1.0.0", Dependency{ID: "base", Constraint: "not-a-range"})
		assert.False(t, d.Satisfied(p))
	})
}

func TestDependencyManager_InCycle(t *testing.T) {
	d := NewDependencyManager(NewRegistry(nil), nil)
	d.Track(pluginWithDeps("a", "1.0.0", Dependency{ID: "b"}))
	d.Track(pluginWithDeps("b", "1.0.0", Dependency{ID: "a"}))
	d.Track(pluginWithDeps("c", "1.0.0", Dependency{ID: "a"}))

	assert.True(t, d.InCycle("a"))
	assert.True(t, d.InCycle("b"))
	assert.False(t, d.InCycle("c"), "c points into the cycle but is not on it")
}

func TestDependencyManager_DependenciesOf(t *testing.T) {
	d := NewDependencyManager(NewRegistry(nil), nil)
	d.Track(pluginWithDeps("a", "1.0.0", Dependency{ID: "b"}, Dependency{ID: "c"}))
	d.Track(pluginWithDeps("b", "1.0.0", Dependency{ID: "d"}))

	assert.Equal(t, []string{"b", "c"}, d.DependenciesOf("a", false))
	assert.Equal(t, []string{"b", "d", "c"}, d.DependenciesOf("a", true))
	assert.Empty(t, d.DependenciesOf("ghost", false))
}

func TestDependencyManager_CanUnload(t *testing.T) {
	setup := func(t *testing.T, optional bool) (*DependencyManager, *Registry) {
		t.Helper()
		registry := NewRegistry(nil)
		d := NewDependencyManager(registry, nil)

		a := pluginWithDeps("a", "1.0.0")
		b := pluginWithDeps("b", "1.0.0", Dependency{ID: "a", Optional: optional})
		require.NoError(t, registry.Register(a))
		require.NoError(t, registry.Register(b))
		d.Track(a)
		d.Track(b)
		return d, registry
	}

	t.Run("no dependents", func(t *testing.T) {
		d, _ := setup(t, false)
		assert.True(t, d.CanUnload("b"))
	})

	t.Run("started dependent blocks", func(t *testing.T) {
		d, registry := setup(t, false)
		require.NoError(t, registry.SetState("b", StateStarted))
		assert.False(t, d.CanUnload("a"))
	})

	t.Run("paused dependent does not block", func(t *testing.T) {
		d, registry := setup(t, false)
		require.NoError(t, registry.SetState("b", StatePaused))
		assert.True(t, d.CanUnload("a"))
	})

	t.Run("optional dependent does not block", func(t *testing.T) {
		d, registry := setup(t, true)
		require.NoError(t, registry.SetState("b", StateStarted))
		assert.True(t, d.CanUnload("a"))
	})

	t.Run("unregistered dependent does not block", func(t *testing.T) {
		d, registry := setup(t, false)
		require.NoError(t, registry.SetState("b", StateStarted))
		require.NoError(t, registry.Unregister("b"))
		assert.True(t, d.CanUnload("a"))
	})
}

// =============================================================================
// AutoInstall Tests
// =============================================================================

func TestDependencyManager_AutoInstall(t *testing.T) {
	setup := func(t *testing.T) (*DependencyManager, *Registry, *Catalog) {
		t.Helper()
		registry := NewRegistry(nil)
		d := NewDependencyManager(registry, nil)
		loader := NewLoader(registry, d, LoaderConfig{}, nil)
		catalog := NewCatalog()
		d.SetLoader(loader)
		d.SetCatalog(catalog)
		return d, registry, catalog
	}

	t.Run("installs transitively, dependencies first", func(t *testing.T) {
		d, registry, catalog := setup(t)
		require.NoError(t, catalog.Add("base", func() Plugin {
			return pluginWithDeps("base", "1.0.0")
		}))
		require.NoError(t, catalog.Add("mid", func() Plugin {
			return pluginWithDeps("mid", "1.0.0", Dependency{ID: "base"})
		}))

		p := pluginWithDeps("app", "1.0.0", Dependency{ID: "mid"})
		installed, err := d.AutoInstall(context.Background(), p)
		require.NoError(t, err)
		assert.Equal(t, []string{"base", "mid"}, installed)

		state, _ := registry.State("base")
		assert.Equal(t, StateStarted, state)
		state, _ = registry.State("mid")
		assert.Equal(t, StateStarted, state)
	})

	t.Run("already registered dependencies are skipped", func(t *testing.T) {
		d, registry, _ := setup(t)
		require.NoError(t, registry.Register(pluginWithDeps("base", "1.0.0")))

		p := pluginWithDeps("app", "1.0.0", Dependency{ID: "base"})
		installed, err := d.AutoInstall(context.Background(), p)
		require.NoError(t, err)
		assert.Empty(t, installed)
	})

	t.Run("non-optional dependency missing from the catalog", func(t *testing.T) {
		d, _, _ := setup(t)

		p := pluginWithDeps("app", "1.0.0", Dependency{ID: "ghost"})
		_, err := d.AutoInstall(context.Background(), p)
		assert.Error(t, err)
		assert.True(t, errors.IsDependencyError(err))
		assert.Contains(t, err.Error(), "not in catalog")
	})

	t.Run("optional dependency missing from the catalog", func(t *testing.T) {
		d, _, _ := setup(t)

		p := pluginWithDeps("app", "1.0.0", Dependency{ID: "ghost", Optional: true})
		installed, err := d.AutoInstall(context.Background(), p)
		assert.NoError(t, err)
		assert.Empty(t, installed)
	})

	t.Run("catalog version fails the constraint", func(t *testing.T) {
		d, _, catalog := setup(t)
		require.NoError(t, catalog.Add("base", func() Plugin {
			return pluginWithDeps("base", "1.0.0")
		}))

		p := pluginWithDeps("app", "1.0.0", Dependency{ID: "base", Constraint: "^2.0"})
		_, err := d.AutoInstall(context.Background(), p)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "does not satisfy")
	})

	t.Run("requires a catalog and loader", func(t *testing.T) {
		d := NewDependencyManager(NewRegistry(nil), nil)

		_, err := d.AutoInstall(context.Background(), pluginWithDeps("app", "1.0.0"))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "catalog")
	})
}

func TestDependencyManager_Status(t *testing.T) {
	d := NewDependencyManager(NewRegistry(nil), nil)
	d.Track(pluginWithDeps("a", "1.0.0", Dependency{ID: "b"}, Dependency{ID: "c"}))

	status := d.Status()
	assert.Equal(t, 1, status["tracked"])
	assert.Equal(t, 2, status["edges"])
	assert.Equal(t, false, status["catalog"])
}
