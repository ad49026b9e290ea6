// Package config loads the engine's runtime configuration from environment
// variables (and an optional .env file). Strategy tuning itself lives in the
// database and is never read from here — this package covers only what the
// process needs before it can open a database connection at all: data
// directory, venue credentials, log level, server port, and backup target.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds process-level configuration resolved once at startup.
type Config struct {
	DataDir string // base directory for the ledger.db/state.db files

	VenueAPIKey    string // exchange API key
	VenueAPISecret string // exchange API secret
	VenueBaseURL   string // REST base URL
	ForceOrderURL  string // forced-liquidation WebSocket stream URL
	UserDataURL    string // account/user-data WebSocket stream URL

	EmergencyStopPIN string // required to confirm POST /api/strategy/{id}/emergency-stop

	LogLevel string
	Port     int
	DevMode  bool

	Backup BackupConfig
}

// BackupConfig configures the periodic ledger snapshot-and-upload job.
// Enabled is true only when BACKUP_S3_BUCKET is set; Region and RetentionDays
// carry their defaults either way.
type BackupConfig struct {
	Enabled         bool
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	RetentionDays   int
}

// Load reads configuration from environment variables. dataDirOverride, if
// given, takes priority over LIQENGINE_DATA_DIR and the built-in default.
func Load(dataDirOverride ...string) (*Config, error) {
	_ = godotenv.Load() // .env is optional; a missing file is not an error

	var dataDir string
	if len(dataDirOverride) > 0 && dataDirOverride[0] != "" {
		dataDir = dataDirOverride[0]
	} else {
		dataDir = getEnv("LIQENGINE_DATA_DIR", "")
		if dataDir == "" {
			dataDir = "./data"
		}
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:          absDataDir,
		VenueAPIKey:      getEnv("VENUE_API_KEY", ""),
		VenueAPISecret:   getEnv("VENUE_API_SECRET", ""),
		VenueBaseURL:     getEnv("VENUE_BASE_URL", "https://fapi.binance.com"),
		ForceOrderURL:    getEnv("VENUE_FORCE_ORDER_URL", "wss://fstream.binance.com/ws/!forceOrder@arr"),
		UserDataURL:      getEnv("VENUE_USER_DATA_URL", ""),
		EmergencyStopPIN: getEnv("EMERGENCY_STOP_PIN", ""),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		Port:             getEnvAsInt("PORT", 8001),
		DevMode:          getEnvAsBool("DEV_MODE", false),
		Backup:           loadBackupConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks for configuration combinations that can never work rather
// than requiring every field up front — missing venue credentials, for
// instance, are not fatal here.
func (c *Config) Validate() error {
	if c.Backup.Enabled && c.Backup.Bucket == "" {
		return fmt.Errorf("config: BACKUP_S3_BUCKET must be set when backups are enabled")
	}
	return nil
}

func loadBackupConfig() BackupConfig {
	bucket := getEnv("BACKUP_S3_BUCKET", "")
	return BackupConfig{
		Enabled:         bucket != "",
		Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
		Region:          getEnv("BACKUP_S3_REGION", "us-east-1"),
		Bucket:          bucket,
		AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
		RetentionDays:   getEnvAsInt("BACKUP_RETENTION_DAYS", 14),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
