package config

import "github.com/atelierdev/atelier/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Runtime timeouts: 0 = use default, negative = invalid
	if c.Runtime.LoadTimeoutSecs < 0 {
		return errors.Newf("runtime.load_timeout_secs must be >= 0, got %d", c.Runtime.LoadTimeoutSecs)
	}
	if c.Runtime.MessageTimeoutSecs < 0 {
		return errors.Newf("runtime.message_timeout_secs must be >= 0, got %d", c.Runtime.MessageTimeoutSecs)
	}

	// Buffers: 0 = use default, negative = invalid
	if c.Runtime.MailboxBuffer < 0 {
		return errors.Newf("runtime.mailbox_buffer must be >= 0, got %d", c.Runtime.MailboxBuffer)
	}
	if c.Runtime.StreamBuffer < 0 {
		return errors.Newf("runtime.stream_buffer must be >= 0, got %d", c.Runtime.StreamBuffer)
	}

	// Hot reload: 0 = use default, negative = invalid
	if c.HotReload.WatchDebounceMs < 0 {
		return errors.Newf("hotreload.watch_debounce_ms must be >= 0, got %d", c.HotReload.WatchDebounceMs)
	}
	if c.HotReload.ReloadsPerSec < 0 {
		return errors.Newf("hotreload.reloads_per_sec must be >= 0, got %f", c.HotReload.ReloadsPerSec)
	}
	if c.HotReload.ReloadBurst < 0 {
		return errors.Newf("hotreload.reload_burst must be >= 0, got %d", c.HotReload.ReloadBurst)
	}

	// Grants must name known capabilities
	known := make(map[string]bool, len(AllGrants))
	for _, g := range AllGrants {
		known[g] = true
	}
	for _, g := range c.Plugins.Grants {
		if !known[g] {
			return errors.Newf("plugins.grants contains unknown capability %q (valid: %v)", g, AllGrants)
		}
	}

	// Log theme must be a supported palette
	if c.Log.Theme != "" && c.Log.Theme != "gruvbox" && c.Log.Theme != "everforest" {
		return errors.Newf("log.theme must be gruvbox or everforest, got %q", c.Log.Theme)
	}

	return nil
}
