package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported store backends
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all configuration values
type Config struct {
	Addr         string        `yaml:"addr"`
	DBDriver     string        `yaml:"db_driver"`
	DBPath       string        `yaml:"db_path"`
	DatabaseURL  string        `yaml:"database_url"`
	MaxConns     int           `yaml:"max_conns"`
	APIKey       string        `yaml:"api_key"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`

	// Signing key (PEM text wins over path)
	PrivateKeyPEM  string `yaml:"private_key_pem"`
	PrivateKeyPath string `yaml:"private_key_path"`

	// Shared secret the billing provider sends with every webhook call
	WebhookSecret string `yaml:"webhook_secret"`

	Licensing Licensing `yaml:"licensing"`

	// Newest sqlite snapshots kept by POST /api/admin/backup, 0 keeps all
	BackupKeep  int     `yaml:"backup_keep"`
	DownloadURL string  `yaml:"download_url"`
	RateLimit   float64 `yaml:"rate_limit"` // requests per second per client IP, 0 disables
	LogLevel    string  `yaml:"log_level"`

	DBPathSource string // where DBPath was set from: "default", "yaml file", or "env var"
	DemoMode     bool   // load sample data on new database (set via -demo flag)
}

// Licensing holds the lifecycle policy knobs
type Licensing struct {
	RenewalWindow    time.Duration `yaml:"renewal_window"`
	CancelSentinel   time.Duration `yaml:"cancel_sentinel"`
	TrialDays        int           `yaml:"trial_days"`
	NextCheckSeconds int           `yaml:"next_check_seconds"`
	PaidFeatures     []string      `yaml:"paid_features"`
	TrialFeatures    []string      `yaml:"trial_features"`
}

// Load loads configuration from YAML file and overrides with env vars if present
func Load(path string) (*Config, error) {
	// Defaults
	cfg := &Config{
		Addr:         ":8080",
		DBDriver:     DriverSQLite,
		DBPath:       "./licenses.db",
		DBPathSource: "default",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		MaxConns:     10,
		BackupKeep:   14,
		RateLimit:    20,
		LogLevel:     "info",
		Licensing: Licensing{
			RenewalWindow:    30 * 24 * time.Hour,
			CancelSentinel:   3650 * 24 * time.Hour,
			TrialDays:        7,
			NextCheckSeconds: 43200,
			PaidFeatures:     []string{"Import", "Export", "UnlimitedRows"},
			TrialFeatures:    []string{"rows:max:30", "print:off"},
		},
	}

	// Load from YAML if file exists
	if f, err := os.Open(path); err == nil {
		defer f.Close()
		prevDBPath := cfg.DBPath
		decoder := yaml.NewDecoder(f)
		if err := decoder.Decode(cfg); err != nil {
			return nil, err
		}
		if cfg.DBPath != prevDBPath {
			cfg.DBPathSource = "yaml file"
		}
	}

	// Override with environment variables
	if v := os.Getenv("PORT"); v != "" {
		cfg.Addr = ":" + v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
		cfg.DBPathSource = "env var"
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
		cfg.DBDriver = DriverPostgres
	}
	if v := os.Getenv("DB_DRIVER"); v != "" {
		cfg.DBDriver = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("HOTMART_HOTTOK"); v != "" {
		cfg.WebhookSecret = v
	}
	if v := os.Getenv("WEBHOOK_SECRET"); v != "" {
		cfg.WebhookSecret = v
	}
	if v := os.Getenv("PRIVATE_KEY_PEM"); v != "" {
		cfg.PrivateKeyPEM = v
	}
	if v := os.Getenv("PRIVATE_KEY_PATH"); v != "" {
		cfg.PrivateKeyPath = v
	}
	if v := os.Getenv("DOWNLOAD_URL"); v != "" {
		cfg.DownloadURL = v
	}

	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	cfg.WebhookSecret = strings.TrimSpace(cfg.WebhookSecret)

	return cfg, nil
}

// Validate checks values the server cannot start without
func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverSQLite, DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("postgres driver requires DATABASE_URL")
		}
	default:
		return errors.New("unknown db_driver " + c.DBDriver)
	}
	if c.APIKey == "" {
		return errors.New("API_KEY environment variable is required")
	}
	if c.PrivateKeyPEM == "" && c.PrivateKeyPath == "" {
		return errors.New("PRIVATE_KEY_PEM or PRIVATE_KEY_PATH is required")
	}
	if c.Licensing.RenewalWindow <= 0 {
		return errors.New("licensing.renewal_window must be positive")
	}
	if c.Licensing.CancelSentinel < c.Licensing.RenewalWindow {
		return errors.New("licensing.cancel_sentinel must be at least the renewal window")
	}
	if c.Licensing.TrialDays <= 0 {
		return errors.New("licensing.trial_days must be positive")
	}
	return nil
}
