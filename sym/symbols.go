// Package sym defines canonical glyphs for Atelier subsystem markers.
// These symbols are stable across CLI output, logs, and documentation.
package sym

// Subsystem markers. Each long-lived subsystem gets one glyph, used as a
// prefix in CLI help text and command output.
const (
	Runtime = "⟐" // plugin runtime host
	Plugin  = "⬡" // individual plugin
	Reload  = "↻" // hot reload watcher
	Config  = "≡" // configuration and system settings
	Bus     = "⇶" // event bus traffic
	Msg     = "⇄" // plugin-to-plugin messaging
)

// GlyphToCommand maps glyph strings to the CLI command that fronts the
// subsystem. Only subsystems with a dedicated command appear here.
var GlyphToCommand = map[string]string{
	Runtime: "run",
	Plugin:  "plugins",
	Config:  "config",
}

// CommandToGlyph maps CLI commands to their canonical glyph strings.
var CommandToGlyph = map[string]string{
	"run":     Runtime,
	"plugins": Plugin,
	"config":  Config,
}

// CommandDescriptions provides human-readable explanations for help text
// and tooltips.
var CommandDescriptions = map[string]string{
	"run":     "Runtime: host plugins in the foreground",
	"plugins": "Plugins: inspect the builtin catalog",
	"config":  "Configuration: settings and their sources",
}

// Commands lists the subsystem-fronting commands in display order.
var Commands = []string{"run", "plugins", "config"}

// MarkerOrder defines the canonical ordering for status lines and banners.
var MarkerOrder = []string{Runtime, Plugin, Reload, Config, Bus, Msg}

// Labels names every marker for legends and diagnostics output.
var Labels = map[string]string{
	Runtime: "runtime",
	Plugin:  "plugin",
	Reload:  "reload",
	Config:  "config",
	Bus:     "bus",
	Msg:     "messaging",
}
