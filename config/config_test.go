package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoad_Defaults(t *testing.T) {
	// Create isolated viper instance without loading user/system config
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	if err != nil {
		t.Fatalf("LoadWithViper() failed: %v", err)
	}

	if cfg.Runtime.LoadTimeoutSecs != 30 {
		t.Errorf("expected default load timeout 30, got %d", cfg.Runtime.LoadTimeoutSecs)
	}

	if cfg.Runtime.MessageTimeoutSecs != 5 {
		t.Errorf("expected default message timeout 5, got %d", cfg.Runtime.MessageTimeoutSecs)
	}

	if cfg.HotReload.WatchDebounceMs != 500 {
		t.Errorf("expected default debounce 500, got %d", cfg.HotReload.WatchDebounceMs)
	}

	if !cfg.HotReload.PreserveState {
		t.Error("expected preserve_state to default to true")
	}

	if len(cfg.Plugins.Enabled) != 3 {
		t.Errorf("expected 3 default plugins, got %v", cfg.Plugins.Enabled)
	}

	if cfg.GetLogTheme() != "everforest" {
		t.Errorf("expected default theme everforest, got %q", cfg.GetLogTheme())
	}
}

func TestSetDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	tests := []struct {
		key      string
		expected interface{}
	}{
		{"runtime.load_timeout_secs", 30},
		{"runtime.message_timeout_secs", 5},
		{"runtime.mailbox_buffer", 64},
		{"runtime.stream_buffer", 16},
		{"hotreload.watch_debounce_ms", 500},
		{"hotreload.reload_burst", 1},
		{"hotreload.preserve_state", true},
		{"log.json", false},
		{"log.theme", "everforest"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got := v.Get(tt.key)
			if got != tt.expected {
				t.Errorf("default %s = %v, want %v", tt.key, got, tt.expected)
			}
		})
	}
}

func TestValidate_ZeroValues(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name: "zero load timeout is valid (use default)",
			config: Config{
				Runtime: RuntimeConfig{LoadTimeoutSecs: 0},
			},
			wantErr: false,
		},
		{
			name: "negative load timeout is invalid",
			config: Config{
				Runtime: RuntimeConfig{LoadTimeoutSecs: -1},
			},
			wantErr: true,
		},
		{
			name: "zero mailbox buffer is valid (use default)",
			config: Config{
				Runtime: RuntimeConfig{MailboxBuffer: 0},
			},
			wantErr: false,
		},
		{
			name: "negative mailbox buffer is invalid",
			config: Config{
				Runtime: RuntimeConfig{MailboxBuffer: -8},
			},
			wantErr: true,
		},
		{
			name: "negative reload rate is invalid",
			config: Config{
				HotReload: HotReloadConfig{ReloadsPerSec: -0.5},
			},
			wantErr: true,
		},
		{
			name: "known grants are valid",
			config: Config{
				Plugins: PluginsConfig{Grants: []string{"storage", "network"}},
			},
			wantErr: false,
		},
		{
			name: "unknown grant is invalid",
			config: Config{
				Plugins: PluginsConfig{Grants: []string{"teleportation"}},
			},
			wantErr: true,
		},
		{
			name: "empty theme is valid (use default)",
			config: Config{
				Log: LogConfig{Theme: ""},
			},
			wantErr: false,
		},
		{
			name: "unsupported theme is invalid",
			config: Config{
				Log: LogConfig{Theme: "solarized"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	r := RuntimeConfig{LoadTimeoutSecs: 10, MessageTimeoutSecs: 2}
	if r.LoadTimeout() != 10*time.Second {
		t.Errorf("LoadTimeout() = %v, want 10s", r.LoadTimeout())
	}
	if r.MessageTimeout() != 2*time.Second {
		t.Errorf("MessageTimeout() = %v, want 2s", r.MessageTimeout())
	}

	// Zeroes fall back to defaults
	var zero RuntimeConfig
	if zero.LoadTimeout() != 30*time.Second {
		t.Errorf("zero LoadTimeout() = %v, want 30s", zero.LoadTimeout())
	}
	if zero.MessageTimeout() != 5*time.Second {
		t.Errorf("zero MessageTimeout() = %v, want 5s", zero.MessageTimeout())
	}

	h := HotReloadConfig{WatchDebounceMs: 250}
	if h.Debounce() != 250*time.Millisecond {
		t.Errorf("Debounce() = %v, want 250ms", h.Debounce())
	}
	if (HotReloadConfig{}).Debounce() != 500*time.Millisecond {
		t.Error("zero Debounce() should default to 500ms")
	}
}

func TestFindProjectConfig(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("finds atelier.toml walking up", func(t *testing.T) {
		subDir := filepath.Join(tmpDir, "test1", "subdir")
		os.MkdirAll(subDir, DefaultDirPermissions)

		os.WriteFile(filepath.Join(tmpDir, "test1", "atelier.toml"), []byte(""), DefaultFilePermissions)

		oldWd, _ := os.Getwd()
		defer os.Chdir(oldWd)
		os.Chdir(subDir)

		result := findProjectConfig()
		if result == "" {
			t.Error("expected to find config file")
		}
		if !filepath.IsAbs(result) {
			t.Error("expected absolute path")
		}
		if filepath.Base(result) != "atelier.toml" {
			t.Errorf("expected atelier.toml, got %s", filepath.Base(result))
		}
	})

	t.Run("no config found", func(t *testing.T) {
		subDir := filepath.Join(tmpDir, "test2", "subdir")
		os.MkdirAll(subDir, DefaultDirPermissions)

		oldWd, _ := os.Getwd()
		defer os.Chdir(oldWd)
		os.Chdir(subDir)

		result := findProjectConfig()
		if result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "atelier.toml")

	content := `
[runtime]
load_timeout_secs = 7

[plugins]
enabled = ["echo"]

[log]
theme = "gruvbox"
`
	if err := os.WriteFile(configPath, []byte(content), DefaultFilePermissions); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() failed: %v", err)
	}

	if cfg.Runtime.LoadTimeoutSecs != 7 {
		t.Errorf("expected load timeout 7, got %d", cfg.Runtime.LoadTimeoutSecs)
	}
	if len(cfg.Plugins.Enabled) != 1 || cfg.Plugins.Enabled[0] != "echo" {
		t.Errorf("expected enabled [echo], got %v", cfg.Plugins.Enabled)
	}
	if cfg.Log.Theme != "gruvbox" {
		t.Errorf("expected theme gruvbox, got %q", cfg.Log.Theme)
	}

	// Defaults still apply for unset keys
	if cfg.Runtime.MessageTimeoutSecs != 5 {
		t.Errorf("expected default message timeout 5, got %d", cfg.Runtime.MessageTimeoutSecs)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config should validate: %v", err)
	}
}
