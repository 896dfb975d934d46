package config

import (
	"fmt"
	"time"
)

// Config holds the full runtime configuration. All values come from the
// environment (optionally seeded from a .env file) with defaults suitable
// for a single-node deployment.
type Config struct {
	// Server
	AppSecret string
	AdminUser string
	AdminPass string
	Host      string
	Port      int
	RootPath  string

	// Storage
	DBPath     string
	LogDir     string
	MetricsDir string
	JobsFile   string

	// Application log
	LogLevel       string
	LogMaxBytes    int
	LogBackupCount int
	AppLogName     string

	// Execution
	MaxWorkers        int
	DefaultTimeoutSec int
	RunZombieSec      int

	// Metrics
	MetricsRetentionDays int

	// Alerts
	AlertSuppressSec int
	AlertPushScript  string
	AlertPushTitle   string
	AlertPushGroup   string
	AlertPushLevel   string

	// Timezone
	Timezone string
	Location *time.Location
}

// Addr returns the listen address for the admin API.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Now returns the current wall time in the configured local timezone.
func (c *Config) Now() time.Time {
	return time.Now().In(c.Location)
}
