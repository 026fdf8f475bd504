package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"ECHOGENT_CONFIG_DIR", "ECHOGENT_PROVIDER", "ECHOGENT_MODEL", "ECHOGENT_MAX_STEPS",
		"ECHOGENT_LOG_LEVEL", "ECHOGENT_API_KEY", "ECHOGENT_SHELL_TIMEOUT", "ECHOGENT_JOURNAL_PATH",
		"ECHOGENT_RESUME",
	} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.Dir)
	assert.Equal(t, "echo", cfg.Provider)
	assert.Equal(t, "claude-sonnet-4-20250514", cfg.Model)
	assert.Equal(t, 15, cfg.MaxSteps)
	assert.Equal(t, 4096, cfg.MaxTokens)
	assert.Equal(t, "d4db70fb-4df9-4161-a89b-9ec53125088b", cfg.AppID)
	assert.Equal(t, 1.0, cfg.BalanceThreshold)
	assert.Equal(t, 10.0, cfg.TopUpAmount)
	assert.Zero(t, cfg.ShellTimeout)
	assert.Zero(t, cfg.ToolOutputLimit)
	assert.Equal(t, slog.LevelWarn, cfg.SlogLevel())
	assert.True(t, cfg.IsEcho())
	assert.Equal(t, filepath.Join(dir, "api-key.txt"), cfg.CredentialPath())
}

func TestLoadEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("ECHOGENT_PROVIDER", "Anthropic")
	t.Setenv("ECHOGENT_MAX_STEPS", "7")
	t.Setenv("ECHOGENT_SHELL_TIMEOUT", "30s")
	t.Setenv("ECHOGENT_LOG_LEVEL", "DEBUG")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.Provider)
	assert.Equal(t, 7, cfg.MaxSteps)
	assert.Equal(t, 30*time.Second, cfg.ShellTimeout)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.False(t, cfg.IsEcho())
}

func TestLoadFileOverridesEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("ECHOGENT_MODEL", "claude-3-5-haiku-20241022")
	t.Setenv("ECHOGENT_MAX_STEPS", "7")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(
		"model: opus\nshell_timeout: 2m\ntool_output_limit: 5000\njournal_path: /tmp/j.db\n"), 0600))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "opus", cfg.Model)
	assert.Equal(t, 7, cfg.MaxSteps, "keys absent from the file keep their environment value")
	assert.Equal(t, 2*time.Minute, cfg.ShellTimeout)
	assert.Equal(t, 5000, cfg.ToolOutputLimit)
	assert.Equal(t, "/tmp/j.db", cfg.JournalPath)
}

func TestLoadConfigDirFromEnvironment(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("ECHOGENT_CONFIG_DIR", dir)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Dir)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("max_steps: 0\n"), 0600))

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MaxSteps")

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("log_level: loud\n"), 0600))
	_, err = Load(dir)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("model: [unterminated\n"), 0600))
	_, err = Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}

func TestResumeRequiresJournal(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("ECHOGENT_RESUME", "last")

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JournalPath")

	t.Setenv("ECHOGENT_JOURNAL_PATH", filepath.Join(dir, "journal.db"))
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "last", cfg.Resume)
}

func TestSessionConfig(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	cfg.Model = "sonnet"
	cfg.ToolOutputLimit = 100
	cfg.LoopDetectionWindow = 6
	cfg.ShellTimeout = time.Second

	sc := cfg.SessionConfig()
	assert.Equal(t, "claude-sonnet-4-20250514", sc.Model)
	assert.Equal(t, "echo", sc.Provider)
	assert.Equal(t, 15, sc.MaxSteps)
	assert.Equal(t, 100, sc.Truncation.Chars)
	assert.Equal(t, 6, sc.LoopDetectionWindow)
	assert.Equal(t, time.Second, cfg.ToolOptions().ShellTimeout)
}
