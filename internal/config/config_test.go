package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "go-enc2ly", cfg.Tools.Enc2Ly)
	assert.Equal(t, "python3", cfg.Tools.Python)
	assert.Equal(t, "ly", cfg.Tools.Library)
	assert.Equal(t, "musicxml", cfg.Tools.Subcommand)
	assert.Equal(t, DefaultSearchDirs(), cfg.Tools.SearchDirs)
	assert.Equal(t, 1000, cfg.Events.Max)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, 90, cfg.History.RetentionDays)
	assert.Empty(t, cfg.Tools.ExtraDirs)
}

func TestLoadConfigFileAndEnvOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "config.yaml")
	content := "tools:\n  shell: /bin/zsh\n  search_dirs:\n    - /opt/tools/bin\n  extra_dirs:\n    - /srv/bin\nlog:\n  level: debug\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("ENCORE_TOOLS_PYTHON", "python3.12")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/bin/zsh", cfg.Tools.Shell)
	assert.Equal(t, []string{"/opt/tools/bin"}, cfg.Tools.SearchDirs)
	assert.Equal(t, []string{"/srv/bin"}, cfg.Tools.ExtraDirs)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "python3.12", cfg.Tools.Python)
}

func TestValidateRequiresTools(t *testing.T) {
	cfg := Config{Tools: ToolsConfig{Python: "python3", Library: "ly", Subcommand: "musicxml"}}
	assert.EqualError(t, cfg.Validate(), "tools.enc2ly is required")

	cfg.Tools.Enc2Ly = "go-enc2ly"
	cfg.History.Enabled = true
	assert.Error(t, cfg.Validate())

	cfg.History.Path = "/tmp/history.db"
	assert.NoError(t, cfg.Validate())

	cfg.History.RetentionDays = -1
	assert.Error(t, cfg.Validate())
}

func TestHistoryPruneCutoff(t *testing.T) {
	now := time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC)

	_, ok := HistoryConfig{}.PruneCutoff(now)
	assert.False(t, ok)

	cutoff, ok := HistoryConfig{RetentionDays: 30}.PruneCutoff(now)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), cutoff)
}
