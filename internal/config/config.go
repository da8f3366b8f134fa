// Package config loads application configuration for the trade core.
//
// Loading order:
//  1. `.env` file, if present (github.com/joho/godotenv).
//  2. Process environment variables, overlaying the `.env` values.
//  3. The settings database, overlaying both, once it is open. This lets an
//     operator rotate a broker API key or tune `min_tp_sl_percent` through
//     whatever settings surface the embedding program exposes, without a
//     restart requiring an environment change.
//
// CLI flags (`--db-file`, `--cache-folder`, `--log-folder`, `--port`)
// are parsed by the caller (cmd/server) and applied on top of
// this package's defaults, since flag parsing is bootstrap-only and not part
// of the core.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/bmigette/tradecore/internal/domain"
	"github.com/joho/godotenv"
)

// Application setting keys overlaid from the settings database.
const (
	SettingMinTPSLPercent        = "min_tp_sl_percent"
	SettingAccountRefreshMinutes = "account_refresh_interval"
	SettingPriceCacheSeconds     = "PRICE_CACHE_TIME"
	SettingDBPerfLogThresholdMS  = "DB_PERF_LOG_THRESHOLD_MS"
)

// Defaults for the app settings above, created on first start if absent.
const (
	DefaultMinTPSLPercent        = 3.0
	DefaultAccountRefreshMinutes = 5.0
	DefaultPriceCacheSeconds     = 60.0
	DefaultDBPerfLogThresholdMS  = 200.0
)

// Config holds process-wide configuration resolved from env/.env, CLI flags,
// and (once available) the settings database.
type Config struct {
	DataDir     string // base directory for every sqlite database file
	DBFile      string // primary database filename, relative to DataDir unless absolute
	CacheFolder string // price-cache snapshot / backup staging directory
	LogFolder   string
	LogLevel    string
	Port        int
	DevMode     bool

	// Provider credentials are opaque to the core: the core
	// never branches on their value, only passes them through to whichever
	// concrete broker adapter the embedding program constructs.
	BrokerAPIKey    string
	BrokerAPISecret string

	// S3-compatible backup destination (internal/backup), opaque beyond the
	// fact that it addresses an S3 API.
	BackupBucket          string
	BackupRegion          string
	BackupEndpoint        string
	BackupAccessKeyID     string
	BackupSecretAccessKey string

	MinTPSLPercent        float64
	AccountRefreshMinutes float64
	PriceCacheSeconds     float64
	DBPerfLogThresholdMS  float64
}

// Load reads configuration from `.env` (if present) and the environment.
// Settings-database values are applied afterwards via UpdateFromSettings,
// once the database is open.
func Load() (*Config, error) {
	_ = godotenv.Load() // optional; environment variables still apply if absent

	dataDir := getEnv("TRADECORE_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}

	port, err := strconv.Atoi(getEnv("TRADECORE_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("parse TRADECORE_PORT: %w", err)
	}

	return &Config{
		DataDir:     absDataDir,
		DBFile:      getEnv("TRADECORE_DB_FILE", "tradecore.db"),
		CacheFolder: getEnv("TRADECORE_CACHE_FOLDER", filepath.Join(absDataDir, "cache")),
		LogFolder:   getEnv("TRADECORE_LOG_FOLDER", filepath.Join(absDataDir, "logs")),
		LogLevel:    getEnv("TRADECORE_LOG_LEVEL", "info"),
		Port:        port,
		DevMode:     getEnv("TRADECORE_DEV_MODE", "false") == "true",

		BrokerAPIKey:    os.Getenv("TRADECORE_BROKER_API_KEY"),
		BrokerAPISecret: os.Getenv("TRADECORE_BROKER_API_SECRET"),

		BackupBucket:          os.Getenv("TRADECORE_BACKUP_BUCKET"),
		BackupRegion:          getEnv("TRADECORE_BACKUP_REGION", "auto"),
		BackupEndpoint:        os.Getenv("TRADECORE_BACKUP_ENDPOINT"),
		BackupAccessKeyID:     os.Getenv("TRADECORE_BACKUP_ACCESS_KEY_ID"),
		BackupSecretAccessKey: os.Getenv("TRADECORE_BACKUP_SECRET_ACCESS_KEY"),

		MinTPSLPercent:        DefaultMinTPSLPercent,
		AccountRefreshMinutes: DefaultAccountRefreshMinutes,
		PriceCacheSeconds:     DefaultPriceCacheSeconds,
		DBPerfLogThresholdMS:  DefaultDBPerfLogThresholdMS,
	}, nil
}

// SettingsStore is the subset of store.Store that UpdateFromSettings needs;
// kept as a narrow interface so this package never imports internal/store
// (config is loaded before the database is open).
type SettingsStore interface {
	GetOrCreateFloatSetting(ctx context.Context, key string, def float64) (float64, error)
	GetSetting(ctx context.Context, owner domain.SettingOwnerKind, ownerID int64, key string) (domain.Setting, bool, error)
}

// UpdateFromSettings overlays settings-database values on top of env/.env,
// self-healing each app setting with its default the first time it is read.
// Called once the settings database is open.
func (c *Config) UpdateFromSettings(ctx context.Context, s SettingsStore) error {
	minTPSL, err := s.GetOrCreateFloatSetting(ctx, SettingMinTPSLPercent, DefaultMinTPSLPercent)
	if err != nil {
		return fmt.Errorf("load %s: %w", SettingMinTPSLPercent, err)
	}
	c.MinTPSLPercent = minTPSL

	refreshMinutes, err := s.GetOrCreateFloatSetting(ctx, SettingAccountRefreshMinutes, DefaultAccountRefreshMinutes)
	if err != nil {
		return fmt.Errorf("load %s: %w", SettingAccountRefreshMinutes, err)
	}
	c.AccountRefreshMinutes = refreshMinutes

	cacheSeconds, err := s.GetOrCreateFloatSetting(ctx, SettingPriceCacheSeconds, DefaultPriceCacheSeconds)
	if err != nil {
		return fmt.Errorf("load %s: %w", SettingPriceCacheSeconds, err)
	}
	c.PriceCacheSeconds = cacheSeconds

	perfThreshold, err := s.GetOrCreateFloatSetting(ctx, SettingDBPerfLogThresholdMS, DefaultDBPerfLogThresholdMS)
	if err != nil {
		return fmt.Errorf("load %s: %w", SettingDBPerfLogThresholdMS, err)
	}
	c.DBPerfLogThresholdMS = perfThreshold

	// Settings-database credentials take precedence over env/.env. They are
	// read only when UpdateFromSettings runs (once, at startup from di.Wire).
	if apiKey, ok, err := s.GetSetting(ctx, domain.OwnerApp, 0, "broker_api_key"); err == nil && ok {
		var v string
		if json.Unmarshal([]byte(apiKey.RawValue), &v) == nil {
			c.BrokerAPIKey = v
		}
	}
	if apiSecret, ok, err := s.GetSetting(ctx, domain.OwnerApp, 0, "broker_api_secret"); err == nil && ok {
		var v string
		if json.Unmarshal([]byte(apiSecret.RawValue), &v) == nil {
			c.BrokerAPISecret = v
		}
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
