package config

import (
	"github.com/spf13/viper"
)

// AllGrants lists every capability the host can grant to plugins.
// Mirrors the permission set understood by the plugin runtime.
var AllGrants = []string{
	"storage",
	"network",
	"notifications",
	"clipboard",
	"background",
	"system",
}

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Runtime defaults
	v.SetDefault("runtime.load_timeout_secs", 30)   // Per lifecycle call
	v.SetDefault("runtime.message_timeout_secs", 5) // Default request timeout
	v.SetDefault("runtime.mailbox_buffer", 64)      // Per-target message queue depth
	v.SetDefault("runtime.stream_buffer", 16)       // Event/state stream channel depth

	// Hot reload defaults
	v.SetDefault("hotreload.watch_debounce_ms", 500) // Quiet period after a file change
	v.SetDefault("hotreload.reloads_per_sec", 0.5)   // One reload per 2s per plugin
	v.SetDefault("hotreload.reload_burst", 1)
	v.SetDefault("hotreload.preserve_state", true)

	// Plugin defaults: the builtin set, all capabilities granted
	v.SetDefault("plugins.enabled", []string{"heartbeat", "echo", "sysmon"})
	v.SetDefault("plugins.paths", []string{"~/.atelier/plugins"})
	v.SetDefault("plugins.grants", AllGrants)

	// Log defaults
	v.SetDefault("log.json", false)
	v.SetDefault("log.theme", "everforest")
}

// BindEnvOverrides explicitly binds configuration to environment variables
func BindEnvOverrides(v *viper.Viper) {
	v.BindEnv("log.json", "ATELIER_LOG_JSON")
	v.BindEnv("log.theme", "ATELIER_LOG_THEME")
	v.BindEnv("plugins.enabled", "ATELIER_PLUGINS_ENABLED")
	v.BindEnv("runtime.load_timeout_secs", "ATELIER_RUNTIME_LOAD_TIMEOUT_SECS")
}
