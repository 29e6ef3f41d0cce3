package plugin

import (
	"sort"
	"sync"

	"github.com/atelierdev/atelier/errors"
)

// Factory constructs a fresh plugin instance
type Factory func() Plugin

// Catalog holds named factories for locally constructible plugins, such as
// the builtin set. It backs dependency auto-installation and replacement
// construction for watch-triggered reloads.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// Add registers a factory under a plugin id
func (c *Catalog) Add(id string, f Factory) error {
	if id == "" {
		return errors.New("catalog id cannot be empty")
	}
	if f == nil {
		return errors.Newf("catalog factory for %q cannot be nil", id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.factories[id]; exists {
		return errors.NewAlreadyExistsError("catalog already has a factory for %q", id)
	}
	c.factories[id] = f
	return nil
}

// New constructs a fresh instance of a cataloged plugin
func (c *Catalog) New(id string) (Plugin, error) {
	c.mu.RLock()
	f, ok := c.factories[id]
	c.mu.RUnlock()

	if !ok {
		return nil, errors.NewNotFoundError("no catalog entry for %q", id)
	}
	return f(), nil
}

// Has reports whether the catalog can construct id
func (c *Catalog) Has(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.factories[id]
	return ok
}

// IDs returns the cataloged plugin ids, sorted
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.factories))
	for id := range c.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
