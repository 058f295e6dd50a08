package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/syncwatch/pkg/config"
	"github.com/sidkik/syncwatch/pkg/errors"
)

func TestFlags(t *testing.T) {
	cmd := New()
	require.NoError(t, cmd.ParseFlags([]string{"--setup", "/etc/sync-watch/setup.yaml", "-s", "--debounce", "250ms"}))

	setup, err := cmd.Flags().GetString("setup")
	assert.NoError(t, err)
	assert.Equal(t, "/etc/sync-watch/setup.yaml", setup)

	startup, err := cmd.Flags().GetBool("startup")
	assert.NoError(t, err)
	assert.True(t, startup)

	window, err := cmd.Flags().GetDuration("debounce")
	assert.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, window)

	create, err := cmd.Flags().GetBool("create")
	assert.NoError(t, err)
	assert.False(t, create)
}

func TestCreate(t *testing.T) {
	dir := t.TempDir()
	mockGetwd(t, dir)

	var code = -1
	exit = func(c int) { code = c }
	defer func() { exit = os.Exit }()

	cmd := New()
	cmd.SetArgs([]string{"-c"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, 0, code)

	settingsPath := filepath.Join(dir, config.SettingsFileName)
	_, err := os.Stat(settingsPath)
	assert.NoError(t, err)

	// The template isn't usable until the placeholders are filled in, but it
	// should parse.
	settings, err := config.ResolveSettings(settingsPath, dir)
	assert.NoError(t, err)
	assert.Equal(t, dir, settings.LocalPath)
	assert.True(t, settings.AcceptAnyHostKey())

	// Existing settings aren't overwritten.
	err = createTemplate()
	assert.Error(t, err)
	assert.Contains(t, errors.GetPrintableMessage(err), "already exists")
}

func TestRejectsArgs(t *testing.T) {
	cmd := New()
	cmd.SetArgs([]string{"extra"})
	assert.Error(t, cmd.Execute())
}

func TestManagerConfig(t *testing.T) {
	cfg := options{setupPath: "/etc/sync-watch/setup.yaml", startup: true, debounce: time.Second}.managerConfig()
	assert.Equal(t, "/etc/sync-watch/logs", cfg.LogsDir)
	assert.True(t, cfg.Startup)
	assert.Equal(t, time.Second, cfg.Debounce)
	assert.NotNil(t, cfg.Provider)
	assert.NotNil(t, cfg.Source)

	cfg = options{}.managerConfig()
	assert.Equal(t, "logs", cfg.LogsDir)
}

func mockGetwd(t *testing.T, dir string) {
	getwd = func() (string, error) { return dir, nil }
	t.Cleanup(func() { getwd = os.Getwd })
}
