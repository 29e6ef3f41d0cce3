package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandWatchPaths(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	pluginDir := filepath.Join(home, ".atelier", "plugins")
	require.NoError(t, os.MkdirAll(pluginDir, 0o755))

	other := t.TempDir()

	got := expandWatchPaths([]string{
		"~/.atelier/plugins",
		"~",
		other,
		filepath.Join(other, "does-not-exist"),
		"/nonexistent/atelier",
	})

	assert.Equal(t, []string{pluginDir, home, other}, got)
}

func TestExpandWatchPathsEmpty(t *testing.T) {
	assert.Empty(t, expandWatchPaths(nil))
	assert.Empty(t, expandWatchPaths([]string{"/definitely/not/here"}))
}
