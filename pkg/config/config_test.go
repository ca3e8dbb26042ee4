package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RequiredFieldMissing(t *testing.T) {
	t.Setenv("DATABASE_FILE_PATH", "")
	t.Setenv("CONFIG_FILE", "/nonexistent/config.yaml")

	cfg, err := New()
	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required config")
	assert.Contains(t, err.Error(), "DATABASE_FILE_PATH")
	assert.Contains(t, err.Error(), "database_file_path")
}

func TestNew_WithEnvVar(t *testing.T) {
	t.Setenv("DATABASE_FILE_PATH", "/tmp/test.db")
	t.Setenv("CONFIG_FILE", "/nonexistent/config.yaml")
	t.Setenv("CONFIG_DIRECTORY", t.TempDir())

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/test.db", cfg.DatabaseFilePath)
}

func TestNew_Defaults(t *testing.T) {
	t.Setenv("DATABASE_FILE_PATH", "/tmp/test.db")
	t.Setenv("CONFIG_FILE", "/nonexistent/config.yaml")
	t.Setenv("CONFIG_DIRECTORY", t.TempDir())

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, "queue", cfg.TaskRunnerBackend)
	assert.Equal(t, 2, cfg.WorkerProcesses)
	assert.Equal(t, 5*time.Second, cfg.TaskPollInterval)
	assert.InDelta(t, 0.85, cfg.DuplicateSimilarityThreshold, 0.0001)
	assert.Equal(t, 100, cfg.MaxWorksPerAuthor)
	assert.Nil(t, cfg.StaleDataMaxAgeDays)
}

func TestNew_WithConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
database_file_path: /data/bibliograph.db
task_runner_backend: pool
worker_processes: 4
stale_data_max_age_days: 30
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o644))

	t.Setenv("CONFIG_FILE", configPath)
	t.Setenv("CONFIG_DIRECTORY", tmpDir)

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, "/data/bibliograph.db", cfg.DatabaseFilePath)
	assert.Equal(t, "pool", cfg.TaskRunnerBackend)
	assert.Equal(t, 4, cfg.WorkerProcesses)
	require.NotNil(t, cfg.StaleDataMaxAgeDays)
	assert.InDelta(t, 30, *cfg.StaleDataMaxAgeDays, 0.0001)
}

func TestNew_EnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	require.NoError(t, os.WriteFile(configPath, []byte("database_file_path: /data/from-file.db\n"), 0o644))

	t.Setenv("CONFIG_FILE", configPath)
	t.Setenv("CONFIG_DIRECTORY", tmpDir)
	t.Setenv("DATABASE_FILE_PATH", "/data/from-env.db")

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, "/data/from-env.db", cfg.DatabaseFilePath)
}

func TestUserConfig_Roundtrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	userConfig := &UserConfig{
		SyncIntervalMinutes: 30,
		ScanStartHour:       4,
		ScanWindowMinutes:   15,
		ForceRematch:        true,
	}
	require.NoError(t, saveUserConfigFile(userConfig, path))

	loaded, err := loadUserConfig(path)
	require.NoError(t, err)
	assert.Equal(t, userConfig, loaded)
}

func TestUserConfig_MissingFileReturnsDefaults(t *testing.T) {
	loaded, err := loadUserConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, 60, loaded.SyncIntervalMinutes)
	assert.Equal(t, 2, loaded.ScanStartHour)
}
