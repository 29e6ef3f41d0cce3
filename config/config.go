package config

import (
	"fmt"
	"time"
)

// Config represents the core Atelier configuration
type Config struct {
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
	HotReload HotReloadConfig `mapstructure:"hotreload"`
	Plugins   PluginsConfig   `mapstructure:"plugins"`
	Log       LogConfig       `mapstructure:"log"`
}

// RuntimeConfig configures the plugin runtime core
type RuntimeConfig struct {
	LoadTimeoutSecs    int `mapstructure:"load_timeout_secs"`    // Per lifecycle call (default: 30)
	MessageTimeoutSecs int `mapstructure:"message_timeout_secs"` // Default request timeout (default: 5)
	MailboxBuffer      int `mapstructure:"mailbox_buffer"`       // Per-target message queue depth (default: 64)
	StreamBuffer       int `mapstructure:"stream_buffer"`        // Event/state stream channel depth (default: 16)
}

// LoadTimeout returns the per-lifecycle-call timeout as a duration
func (r RuntimeConfig) LoadTimeout() time.Duration {
	if r.LoadTimeoutSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(r.LoadTimeoutSecs) * time.Second
}

// MessageTimeout returns the default request timeout as a duration
func (r RuntimeConfig) MessageTimeout() time.Duration {
	if r.MessageTimeoutSecs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(r.MessageTimeoutSecs) * time.Second
}

// HotReloadConfig configures development-time plugin reloading
type HotReloadConfig struct {
	WatchDebounceMs int     `mapstructure:"watch_debounce_ms"` // Quiet period after a file change (default: 500)
	ReloadsPerSec   float64 `mapstructure:"reloads_per_sec"`   // Per-plugin reload rate limit (default: 0.5)
	ReloadBurst     int     `mapstructure:"reload_burst"`      // Rate limiter burst (default: 1)
	PreserveState   bool    `mapstructure:"preserve_state"`    // Carry plugin config across reloads (default: true)
}

// Debounce returns the watch debounce period as a duration
func (h HotReloadConfig) Debounce() time.Duration {
	if h.WatchDebounceMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(h.WatchDebounceMs) * time.Millisecond
}

// PluginsConfig configures which plugins the host runs and what they may do
type PluginsConfig struct {
	Enabled []string `mapstructure:"enabled"` // Whitelist of enabled plugins (e.g., ["heartbeat", "echo"])
	Paths   []string `mapstructure:"paths"`   // Plugin watch paths (e.g., ["~/.atelier/plugins"])
	Grants  []string `mapstructure:"grants"`  // Capability grants (storage, network, notifications, clipboard, background, system)
}

// LogConfig configures logging output
type LogConfig struct {
	JSON  bool   `mapstructure:"json"`  // JSON structured output instead of console
	Theme string `mapstructure:"theme"` // Color theme: gruvbox, everforest
}

// GetLogTheme returns the log theme (default: everforest)
func (c *Config) GetLogTheme() string {
	if c.Log.Theme == "" {
		return "everforest"
	}
	return c.Log.Theme
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Runtime: {LoadTimeout: %ds}, Plugins: {Enabled: %d}, Log: {Theme: %s}}",
		c.Runtime.LoadTimeoutSecs, len(c.Plugins.Enabled), c.GetLogTheme())
}

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)
