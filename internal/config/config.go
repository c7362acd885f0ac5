// Package config loads the service settings from the environment and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// Port is the HTTP listen port without the colon.
	Port string `mapstructure:"PORT"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	// ClerkSecretKey verifies bearer tokens on the user-facing routes.
	ClerkSecretKey string `mapstructure:"CLERK_SECRET_KEY"`

	MetricsUser string `mapstructure:"METRICS_USER"`
	MetricsPass string `mapstructure:"METRICS_PASS"`
	// AdminUser and AdminPass guard the manual batch triggers under /admin.
	AdminUser string `mapstructure:"ADMIN_USER"`
	AdminPass string `mapstructure:"ADMIN_PASS"`
	// PprofSecret must be sent as X-Pprof-Secret to reach /debug/pprof.
	PprofSecret string `mapstructure:"PPROF_SECRET"`

	// Timezone is the IANA zone the 00/06/12/18 schedule and "today" are evaluated in.
	Timezone string `mapstructure:"APP_TIMEZONE"`
	// SchedulerEnabled turns the background batch jobs on. The CLI runs jobs on demand regardless.
	SchedulerEnabled bool `mapstructure:"SCHEDULER_ENABLED"`

	// FCMCredentialsFile is read when FCM_SERVICE_ACCOUNT_JSON is empty.
	FCMCredentialsFile string `mapstructure:"FCM_CREDENTIALS_FILE"`
	NotifyWorkers      int    `mapstructure:"NOTIFY_WORKERS"`
	NotifyQueueSize    int    `mapstructure:"NOTIFY_QUEUE_SIZE"`
	// NotificationRetentionDays bounds how long dedup history rows are kept.
	NotificationRetentionDays int `mapstructure:"NOTIFICATION_RETENTION_DAYS"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore missing .env

	v.AutomaticEnv()

	v.SetDefault("PORT", "3333")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_MAX_CONNS", 25)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CLERK_SECRET_KEY", "")
	v.SetDefault("METRICS_USER", "")
	v.SetDefault("METRICS_PASS", "")
	v.SetDefault("ADMIN_USER", "")
	v.SetDefault("ADMIN_PASS", "")
	v.SetDefault("PPROF_SECRET", "")
	v.SetDefault("APP_TIMEZONE", "Asia/Seoul")
	v.SetDefault("SCHEDULER_ENABLED", true)
	v.SetDefault("FCM_CREDENTIALS_FILE", "./serviceAccountKey.json")
	v.SetDefault("NOTIFY_WORKERS", 5)
	v.SetDefault("NOTIFY_QUEUE_SIZE", 100)
	v.SetDefault("NOTIFICATION_RETENTION_DAYS", 30)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.Port == "" {
		return nil, errors.New("config: PORT must be set")
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("config: APP_TIMEZONE %q is not a valid zone: %w", cfg.Timezone, err)
	}
	if cfg.DBMinConns > cfg.DBMaxConns {
		return nil, errors.New("config: DB_MIN_CONNS must not exceed DB_MAX_CONNS")
	}
	if cfg.NotifyWorkers < 1 {
		return nil, errors.New("config: NOTIFY_WORKERS must be at least 1")
	}
	if cfg.NotifyQueueSize < 1 {
		return nil, errors.New("config: NOTIFY_QUEUE_SIZE must be at least 1")
	}
	if cfg.NotificationRetentionDays < 1 {
		cfg.NotificationRetentionDays = 30
	}

	return &cfg, nil
}

// Location returns the configured zone. Load has already validated it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// NotificationRetention returns the history retention as a duration.
func (c *Config) NotificationRetention() time.Duration {
	return time.Duration(c.NotificationRetentionDays) * 24 * time.Hour
}
