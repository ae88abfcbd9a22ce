package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/briefcast-io/calsync/internal/syncer"
)

// Config is the top-level application config plus resolved classifier rules.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Vault      VaultConfig      `koanf:"vault"`
	Provider   ProviderConfig   `koanf:"provider"`
	Sync       SyncConfig       `koanf:"sync"`
	Classifier ClassifierConfig `koanf:"classifier"`

	// Rules is populated by Load after parsing classifier rule files.
	Rules []syncer.ClassifierRule `koanf:"-"`
}

type ServerConfig struct {
	Port int    `koanf:"port"`
	Host string `koanf:"host"`
	Mode string `koanf:"mode"` // debug | release
}

type DatabaseConfig struct {
	Type         string `koanf:"type"` // postgres | memory
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

type VaultConfig struct {
	// Secret is the long-lived key material the vault derives per-call cipher
	// keys from. Required; there is no insecure fallback.
	Secret string `koanf:"secret"`
}

type ProviderConfig struct {
	Name           string `koanf:"name"` // google
	ClientID       string `koanf:"client_id"`
	ClientSecret   string `koanf:"client_secret"`
	RedirectURL    string `koanf:"redirect_url"`
	RequestTimeout string `koanf:"request_timeout"` // parsed and validated on startup
}

type SyncConfig struct {
	MonthsBack             int    `koanf:"months_back"`
	MonthsForward          int    `koanf:"months_forward"`
	MaxConsecutiveFailures int    `koanf:"max_consecutive_failures"`
	LeaseTimeout           string `koanf:"lease_timeout"`
	ReconcileInterval      string `koanf:"reconcile_interval"`
}

type ClassifierConfig struct {
	ConfigDir string `koanf:"config_dir"`
}

func (c ProviderConfig) EffectiveRequestTimeout() (time.Duration, error) {
	return time.ParseDuration(c.RequestTimeout)
}

func (c SyncConfig) EffectiveLeaseTimeout() (time.Duration, error) {
	return time.ParseDuration(c.LeaseTimeout)
}

func (c SyncConfig) EffectiveReconcileInterval() (time.Duration, error) {
	return time.ParseDuration(c.ReconcileInterval)
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	if c.Database.Type != "postgres" && c.Database.Type != "memory" {
		return fmt.Errorf("unsupported database.type %q (must be postgres or memory)", c.Database.Type)
	}
	if c.Database.Type == "postgres" {
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database.dsn is required")
		}
		if c.Database.MaxOpenConns <= 0 {
			return fmt.Errorf("database.max_open_conns must be > 0")
		}
		if c.Database.MaxIdleConns <= 0 {
			return fmt.Errorf("database.max_idle_conns must be > 0")
		}
	}

	// Missing key material or provider credentials is fatal at startup, not
	// recoverable per-request.
	if strings.TrimSpace(c.Vault.Secret) == "" {
		return fmt.Errorf("vault.secret is required")
	}

	if c.Provider.Name != "google" {
		return fmt.Errorf("unsupported provider.name %q", c.Provider.Name)
	}
	if strings.TrimSpace(c.Provider.ClientID) == "" {
		return fmt.Errorf("provider.client_id is required")
	}
	if strings.TrimSpace(c.Provider.ClientSecret) == "" {
		return fmt.Errorf("provider.client_secret is required")
	}
	if strings.TrimSpace(c.Provider.RedirectURL) == "" {
		return fmt.Errorf("provider.redirect_url is required")
	}
	if timeout, err := c.Provider.EffectiveRequestTimeout(); err != nil || timeout <= 0 {
		return fmt.Errorf("invalid provider.request_timeout %q", c.Provider.RequestTimeout)
	}

	if c.Sync.MonthsBack < 0 {
		return fmt.Errorf("sync.months_back must be >= 0")
	}
	if c.Sync.MonthsForward < 0 {
		return fmt.Errorf("sync.months_forward must be >= 0")
	}
	if c.Sync.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("sync.max_consecutive_failures must be > 0")
	}
	if timeout, err := c.Sync.EffectiveLeaseTimeout(); err != nil || timeout <= 0 {
		return fmt.Errorf("invalid sync.lease_timeout %q", c.Sync.LeaseTimeout)
	}
	if interval, err := c.Sync.EffectiveReconcileInterval(); err != nil || interval <= 0 {
		return fmt.Errorf("invalid sync.reconcile_interval %q", c.Sync.ReconcileInterval)
	}

	return nil
}

// Load parses config from file + env, validates it, then loads classifier
// rules (falling back to the built-in analyst-firm defaults when the rule
// directory yields none).
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":                   8080,
		"server.host":                   "0.0.0.0",
		"server.mode":                   "release",
		"database.type":                 "postgres",
		"database.dsn":                  "",
		"database.max_open_conns":       25,
		"database.max_idle_conns":       25,
		"database.auto_migrate":         true,
		"vault.secret":                  "",
		"provider.name":                 "google",
		"provider.client_id":            "",
		"provider.client_secret":        "",
		"provider.redirect_url":         "",
		"provider.request_timeout":      "30s",
		"sync.months_back":              3,
		"sync.months_forward":           1,
		"sync.max_consecutive_failures": 3,
		"sync.lease_timeout":            "1h",
		"sync.reconcile_interval":       "5m",
		"classifier.config_dir":         "./config/classifier",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("CALSYNC_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "CALSYNC_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rules, err := syncer.LoadRules(cfg.Classifier.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load classifier rules: %w", err)
	}
	if len(rules) == 0 {
		rules = syncer.DefaultRules()
	}
	cfg.Rules = rules

	return &cfg, nil
}
