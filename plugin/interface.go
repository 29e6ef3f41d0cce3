// Package plugin implements the Atelier plugin runtime core.
//
// A plugin is an in-process extension with a managed lifecycle. The runtime
// registers plugins, resolves their dependency graph, drives them through
// the lifecycle state machine, and routes messages and events between them.
//
// Architecture:
//   - Registry is the single source of truth for instances and state
//   - DependencyManager computes load order and unload safety over declarations
//   - Loader owns all lifecycle invocations and the state machine
//   - Messenger delivers addressed request/response and notification traffic
//   - Bus fans out unaddressed events to subscribers
//   - HotReloader rebuilds plugins in place during development
//
// All components are explicit instances wired together by a Runtime facade.
// Everything runs in one process; there is no cross-process transport and
// no code sandboxing.
package plugin

import (
	"context"

	"github.com/Masterminds/semver/v3"

	"github.com/atelierdev/atelier/errors"
)

// Payload carries structured data between plugins. Treated as immutable
// once attached to a Message or Event.
type Payload = map[string]any

// Plugin defines the contract every Atelier plugin implements.
// Lifecycle methods are invoked only by the Loader, in state machine order;
// plugins never call their own lifecycle methods.
type Plugin interface {
	// Meta returns the plugin's immutable metadata
	Meta() Metadata

	// Initialize prepares the plugin after registration, before Start.
	// Dependencies are guaranteed satisfied when Initialize runs.
	Initialize(ctx context.Context) error

	// Start activates the plugin. Only started plugins receive messages
	// and owned event subscriptions.
	Start(ctx context.Context) error

	// Pause temporarily suspends the plugin without losing state
	Pause(ctx context.Context) error

	// Resume restores a paused plugin to active operation
	Resume(ctx context.Context) error

	// Stop deactivates the plugin ahead of disposal
	Stop(ctx context.Context) error

	// Dispose releases all resources. The instance is dead afterwards.
	Dispose(ctx context.Context) error

	// HandleMessage processes an addressed message. The returned payload
	// becomes the response for request-type messages and is discarded for
	// notifications and broadcasts.
	HandleMessage(ctx context.Context, action string, payload Payload) (Payload, error)

	// ConfigSurface returns the plugin's configuration surface, opaque to
	// the core. Hosts that render UI cast it to their widget type.
	ConfigSurface() any

	// MainSurface returns the plugin's primary surface, opaque to the core
	MainSurface() any
}

// Stateful is an optional interface for plugins whose configuration should
// survive a hot reload. Detected by type assertion.
type Stateful interface {
	Plugin

	// ConfigSnapshot captures the plugin's current configuration
	ConfigSnapshot() Payload

	// RestoreConfig applies a previously captured configuration
	RestoreConfig(config Payload) error
}

// Category classifies a plugin by its role in the host application
type Category string

const (
	CategorySystem  Category = "system"
	CategoryUI      Category = "ui"
	CategoryTool    Category = "tool"
	CategoryGame    Category = "game"
	CategoryTheme   Category = "theme"
	CategoryWidget  Category = "widget"
	CategoryService Category = "service"
)

// Categories lists all valid plugin categories
var Categories = []Category{
	CategorySystem,
	CategoryUI,
	CategoryTool,
	CategoryGame,
	CategoryTheme,
	CategoryWidget,
	CategoryService,
}

// Valid reports whether the category is one of the known categories
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Permission is a capability a plugin requires from the host.
// The Loader refuses plugins that require a permission the host has
// not granted.
type Permission string

const (
	PermissionStorage       Permission = "storage"
	PermissionNetwork       Permission = "network"
	PermissionNotifications Permission = "notifications"
	PermissionClipboard     Permission = "clipboard"
	PermissionBackground    Permission = "background"
	PermissionSystem        Permission = "system"
)

// Permissions lists all known capability flags
var Permissions = []Permission{
	PermissionStorage,
	PermissionNetwork,
	PermissionNotifications,
	PermissionClipboard,
	PermissionBackground,
	PermissionSystem,
}

// Dependency declares that a plugin requires another plugin.
// Read-only after declaration.
type Dependency struct {
	// ID is the required plugin's id
	ID string

	// Constraint is a semver range expression (">= 1.2.0, < 2", "^1.0").
	// Empty means any version.
	Constraint string

	// Optional dependencies never block loading or unloading
	Optional bool
}

// Metadata describes a plugin. ID is unique and immutable for the life of
// the instance.
type Metadata struct {
	// ID is the unique plugin identifier (e.g., "heartbeat")
	ID string

	// Name is the human-readable plugin name
	Name string

	// Version is the plugin version (semver)
	Version string

	// Description summarizes what the plugin does
	Description string

	// Category classifies the plugin's role
	Category Category

	// Permissions are the capabilities the plugin requires
	Permissions []Permission

	// Dependencies are the plugins this plugin requires, in declaration
	// order. Declaration order breaks ties in load order.
	Dependencies []Dependency

	// Platforms restricts where the plugin runs (empty = all platforms)
	Platforms []string
}

// Validate checks the metadata for structural problems: empty ids,
// malformed versions, unknown categories, self-dependencies, and duplicate
// dependency declarations.
func (m Metadata) Validate() error {
	if m.ID == "" {
		return errors.New("plugin id cannot be empty")
	}

	if _, err := semver.NewVersion(m.Version); err != nil {
		return errors.Wrapf(err, "plugin %q has invalid version %q", m.ID, m.Version)
	}

	if m.Category != "" && !m.Category.Valid() {
		return errors.Newf("plugin %q has unknown category %q", m.ID, m.Category)
	}

	seen := make(map[string]bool, len(m.Dependencies))
	for _, dep := range m.Dependencies {
		if dep.ID == "" {
			return errors.Newf("plugin %q declares a dependency with an empty id", m.ID)
		}
		if dep.ID == m.ID {
			return errors.Newf("plugin %q depends on itself", m.ID)
		}
		if seen[dep.ID] {
			return errors.Newf("plugin %q declares dependency %q twice", m.ID, dep.ID)
		}
		seen[dep.ID] = true
	}

	return nil
}
