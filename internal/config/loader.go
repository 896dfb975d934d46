package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Loader reads configuration from the environment. The internal mutex keeps
// the shared viper instance safe when Load is called from tests in parallel.
type Loader struct {
	lock    sync.Mutex
	envFile string
}

// LoaderOption defines a functional option for configuring a Loader.
type LoaderOption func(*Loader)

// WithEnvFile sets an explicit .env file path to load before reading the
// environment.
func WithEnvFile(envFile string) LoaderOption {
	return func(l *Loader) {
		l.envFile = envFile
	}
}

// Load builds a Config from the environment.
func Load(opts ...LoaderOption) (*Config, error) {
	loader := &Loader{}
	for _, opt := range opts {
		opt(loader)
	}
	return loader.Load()
}

func (l *Loader) Load() (*Config, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	// Missing .env is fine; explicit paths must exist.
	if l.envFile != "" {
		if err := godotenv.Load(l.envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %q: %w", l.envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	l.setDefaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		AppSecret: v.GetString("APP_SECRET"),
		AdminUser: v.GetString("ADMIN_USER"),
		AdminPass: v.GetString("ADMIN_PASS"),
		Host:      v.GetString("HOST"),
		Port:      v.GetInt("PORT"),
		RootPath:  v.GetString("ROOT_PATH"),

		DBPath:     v.GetString("DB_URL"),
		LogDir:     v.GetString("LOG_DIR"),
		MetricsDir: v.GetString("METRICS_DIR"),
		JobsFile:   v.GetString("JOBS_FILE"),

		LogLevel:       v.GetString("LOG_LEVEL"),
		LogMaxBytes:    v.GetInt("LOG_MAX_BYTES"),
		LogBackupCount: v.GetInt("LOG_BACKUP_COUNT"),
		AppLogName:     v.GetString("APP_LOG_NAME"),

		MaxWorkers:        v.GetInt("MAX_WORKERS"),
		DefaultTimeoutSec: v.GetInt("DEFAULT_TIMEOUT_SEC"),
		RunZombieSec:      v.GetInt("RUN_ZOMBIE_SEC"),

		MetricsRetentionDays: v.GetInt("METRICS_RETENTION_DAYS"),

		AlertSuppressSec: v.GetInt("ALERT_SUPPRESS_SEC"),
		AlertPushScript:  v.GetString("ALERT_PUSH_SCRIPT"),
		AlertPushTitle:   v.GetString("ALERT_PUSH_TITLE"),
		AlertPushGroup:   v.GetString("ALERT_PUSH_GROUP"),
		AlertPushLevel:   v.GetString("ALERT_PUSH_LEVEL"),

		Timezone: v.GetString("TIMEZONE"),
	}

	// Accept SQLAlchemy-style URLs for compatibility with older deployments.
	cfg.DBPath = strings.TrimPrefix(cfg.DBPath, "sqlite:///")

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	if cfg.MaxWorkers < 1 {
		return nil, fmt.Errorf("MAX_WORKERS must be positive, got %d", cfg.MaxWorkers)
	}

	return cfg, nil
}

func (l *Loader) setDefaults(v *viper.Viper) {
	v.SetDefault("APP_SECRET", "change_me")
	v.SetDefault("ADMIN_USER", "admin")
	v.SetDefault("ADMIN_PASS", "admin123")
	v.SetDefault("DB_URL", "./data/app.db")
	v.SetDefault("HOST", "127.0.0.1")
	v.SetDefault("PORT", 8000)
	v.SetDefault("ROOT_PATH", "")
	v.SetDefault("MAX_WORKERS", 8)
	v.SetDefault("ALERT_SUPPRESS_SEC", 900)
	v.SetDefault("LOG_DIR", "./data/logs")
	v.SetDefault("LOG_LEVEL", "INFO")
	v.SetDefault("LOG_MAX_BYTES", 10485760)
	v.SetDefault("LOG_BACKUP_COUNT", 5)
	v.SetDefault("APP_LOG_NAME", "app.log")
	v.SetDefault("METRICS_RETENTION_DAYS", 30)
	v.SetDefault("METRICS_DIR", "./data/metrics")
	v.SetDefault("ALERT_PUSH_SCRIPT", "/root/sh/push.py")
	v.SetDefault("ALERT_PUSH_TITLE", "everping")
	v.SetDefault("ALERT_PUSH_GROUP", "WH-ubuntu")
	v.SetDefault("ALERT_PUSH_LEVEL", "active")
	v.SetDefault("RUN_ZOMBIE_SEC", 3600)
	v.SetDefault("TIMEZONE", "Asia/Shanghai")
	v.SetDefault("JOBS_FILE", "./jobs.json")
	v.SetDefault("DEFAULT_TIMEOUT_SEC", 60)
}
