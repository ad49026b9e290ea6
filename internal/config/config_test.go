package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearVenueEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LIQENGINE_DATA_DIR", "VENUE_API_KEY", "VENUE_API_SECRET", "VENUE_BASE_URL",
		"EMERGENCY_STOP_PIN", "LOG_LEVEL", "PORT", "DEV_MODE",
		"BACKUP_S3_BUCKET", "BACKUP_S3_ENDPOINT", "BACKUP_S3_REGION",
	} {
		original, had := os.LookupEnv(key)
		os.Unsetenv(key)
		t.Cleanup(func() {
			if had {
				os.Setenv(key, original)
			}
		})
	}
}

func TestLoad_UsesDataDirOverrideFirst(t *testing.T) {
	clearVenueEnv(t)
	tmpDir := t.TempDir()
	os.Setenv("LIQENGINE_DATA_DIR", filepath.Join(tmpDir, "env-path"))

	cfg, err := Load(filepath.Join(tmpDir, "override-path"))
	require.NoError(t, err)

	want, err := filepath.Abs(filepath.Join(tmpDir, "override-path"))
	require.NoError(t, err)
	assert.Equal(t, want, cfg.DataDir)
}

func TestLoad_AppliesDefaults(t *testing.T) {
	clearVenueEnv(t)
	os.Setenv("LIQENGINE_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8001, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.DevMode)
	assert.False(t, cfg.Backup.Enabled)
	assert.Equal(t, "https://fapi.binance.com", cfg.VenueBaseURL)
}

func TestLoad_BackupEnabledOnlyWhenBucketSet(t *testing.T) {
	clearVenueEnv(t)
	os.Setenv("LIQENGINE_DATA_DIR", t.TempDir())
	os.Setenv("BACKUP_S3_BUCKET", "liqengine-backups")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Backup.Enabled)
	assert.Equal(t, "liqengine-backups", cfg.Backup.Bucket)
}

func TestValidate_RejectsBackupEnabledWithoutBucket(t *testing.T) {
	cfg := &Config{Backup: BackupConfig{Enabled: true}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BACKUP_S3_BUCKET")
}
