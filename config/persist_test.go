package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"
)

func TestCreateBackup(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "atelier.toml")

	write := func(content string) {
		if err := os.WriteFile(configPath, []byte(content), DefaultFilePermissions); err != nil {
			t.Fatal(err)
		}
	}

	read := func(path string) string {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		return string(data)
	}

	t.Run("no file means no backup", func(t *testing.T) {
		if err := createBackup(configPath); err != nil {
			t.Errorf("createBackup with missing file should be a no-op, got %v", err)
		}
		if _, err := os.Stat(configPath + ".back1"); !os.IsNotExist(err) {
			t.Error("backup should not exist")
		}
	})

	t.Run("rotates three generations", func(t *testing.T) {
		for i, content := range []string{"gen1", "gen2", "gen3", "gen4"} {
			write(content)
			if err := createBackup(configPath); err != nil {
				t.Fatalf("createBackup #%d: %v", i+1, err)
			}
		}

		// Newest backup first, oldest generation dropped
		if got := read(configPath + ".back1"); got != "gen4" {
			t.Errorf("back1 = %q, want gen4", got)
		}
		if got := read(configPath + ".back2"); got != "gen3" {
			t.Errorf("back2 = %q, want gen3", got)
		}
		if got := read(configPath + ".back3"); got != "gen2" {
			t.Errorf("back3 = %q, want gen2", got)
		}
		if _, err := os.Stat(configPath + ".back4"); !os.IsNotExist(err) {
			t.Error("only three backup generations should be kept")
		}
	})
}

func TestIsBackupFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/home/user/.atelier/atelier.toml.back1", true},
		{"/home/user/.atelier/atelier.toml.back3", true},
		{"/home/user/.atelier/atelier.toml", false},
		{"/etc/atelier/atelier.toml", false},
	}

	for _, tt := range tests {
		if got := isBackupFile(tt.path); got != tt.want {
			t.Errorf("isBackupFile(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestSetValue(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	defer Reset()

	t.Run("creates user config with nested key", func(t *testing.T) {
		Reset()
		if err := SetValue("runtime.load_timeout_secs", 12); err != nil {
			t.Fatalf("SetValue() failed: %v", err)
		}

		path := UserConfigPath()
		if path == "" {
			t.Fatal("could not determine user config path")
		}

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("user config not written: %v", err)
		}

		var parsed map[string]interface{}
		if err := toml.Unmarshal(data, &parsed); err != nil {
			t.Fatalf("written config is not valid TOML: %v", err)
		}

		runtime, ok := parsed["runtime"].(map[string]interface{})
		if !ok {
			t.Fatalf("expected [runtime] table, got %T", parsed["runtime"])
		}
		if runtime["load_timeout_secs"] != int64(12) {
			t.Errorf("load_timeout_secs = %v, want 12", runtime["load_timeout_secs"])
		}
	})

	t.Run("preserves sibling keys", func(t *testing.T) {
		Reset()
		if err := SetValue("log.theme", "gruvbox"); err != nil {
			t.Fatal(err)
		}
		if err := SetValue("log.json", true); err != nil {
			t.Fatal(err)
		}

		path := UserConfigPath()
		data, _ := os.ReadFile(path)
		content := string(data)

		if !strings.Contains(content, "gruvbox") {
			t.Error("earlier key should survive later writes")
		}
		if !strings.Contains(content, "json = true") {
			t.Error("later key should be written")
		}
	})

	t.Run("unset removes key", func(t *testing.T) {
		Reset()
		if err := SetValue("log.theme", "gruvbox"); err != nil {
			t.Fatal(err)
		}
		if err := UnsetValue("log.theme"); err != nil {
			t.Fatalf("UnsetValue() failed: %v", err)
		}

		path := UserConfigPath()
		data, _ := os.ReadFile(path)
		if strings.Contains(string(data), "gruvbox") {
			t.Error("unset key should be removed from user config")
		}
	})

	t.Run("writes create backups", func(t *testing.T) {
		Reset()
		if err := SetValue("runtime.mailbox_buffer", 128); err != nil {
			t.Fatal(err)
		}
		if err := SetValue("runtime.mailbox_buffer", 256); err != nil {
			t.Fatal(err)
		}

		path := UserConfigPath()
		if _, err := os.Stat(path + ".back1"); err != nil {
			t.Error("second write should leave a backup of the first")
		}
	})
}
