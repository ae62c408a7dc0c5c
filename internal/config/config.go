// Package config loads nordgo settings from an optional YAML file with
// environment variable overrides. The user identifier and any secret come
// from the environment only; nothing credential-like is ever written back.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	// User is the MitID user identifier.
	User string

	// Method selects the MitID authenticator method. Defaults to APP.
	Method string

	// Proxy is an optional SOCKS5 host:port applied to all outbound calls.
	Proxy string

	// SessionPath is where the session artifact is persisted.
	SessionPath string

	// ExportDir receives CSV exports.
	ExportDir string

	// BrokerBaseURL and APIBaseURL override the production endpoints, for
	// testing against local fakes.
	BrokerBaseURL string
	APIBaseURL    string

	// PollInterval is the delay between approval polls.
	PollInterval time.Duration

	// ApprovalMaxWait bounds the approval wait.
	ApprovalMaxWait time.Duration

	// RedirectCeiling bounds every redirect chain during login.
	RedirectCeiling int

	// HTTPTimeout bounds every request outside the approval wait.
	HTTPTimeout time.Duration

	// InsecureSkipVerify disables TLS verification. Debugging only.
	InsecureSkipVerify bool
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Method:          "APP",
		SessionPath:     defaultSessionPath(),
		ExportDir:       "exports",
		PollInterval:    2 * time.Second,
		ApprovalMaxWait: 5 * time.Minute,
		RedirectCeiling: 15,
		HTTPTimeout:     30 * time.Second,
	}
}

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".nordgo-session.json"
	}
	return filepath.Join(dir, "nordgo", "session.json")
}

// fileConfig is the YAML shape of the config file. Durations are strings
// ("2s", "5m") since yaml does not decode into time.Duration.
type fileConfig struct {
	User               string `yaml:"user"`
	Method             string `yaml:"method"`
	Proxy              string `yaml:"proxy"`
	SessionPath        string `yaml:"sessionPath"`
	ExportDir          string `yaml:"exportDir"`
	BrokerBaseURL      string `yaml:"brokerBaseUrl"`
	APIBaseURL         string `yaml:"apiBaseUrl"`
	PollInterval       string `yaml:"pollInterval"`
	ApprovalMaxWait    string `yaml:"approvalMaxWait"`
	RedirectCeiling    int    `yaml:"redirectCeiling"`
	HTTPTimeout        string `yaml:"httpTimeout"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
}

func (f *fileConfig) apply(cfg *Config) error {
	setString := func(src string, dst *string) {
		if src != "" {
			*dst = src
		}
	}
	setString(f.User, &cfg.User)
	setString(f.Method, &cfg.Method)
	setString(f.Proxy, &cfg.Proxy)
	setString(f.SessionPath, &cfg.SessionPath)
	setString(f.ExportDir, &cfg.ExportDir)
	setString(f.BrokerBaseURL, &cfg.BrokerBaseURL)
	setString(f.APIBaseURL, &cfg.APIBaseURL)

	setDuration := func(key, src string, dst *time.Duration) error {
		if src == "" {
			return nil
		}
		d, err := time.ParseDuration(src)
		if err != nil {
			return fmt.Errorf("bad %s %q: %w", key, src, err)
		}
		*dst = d
		return nil
	}
	if err := setDuration("pollInterval", f.PollInterval, &cfg.PollInterval); err != nil {
		return err
	}
	if err := setDuration("approvalMaxWait", f.ApprovalMaxWait, &cfg.ApprovalMaxWait); err != nil {
		return err
	}
	if err := setDuration("httpTimeout", f.HTTPTimeout, &cfg.HTTPTimeout); err != nil {
		return err
	}

	if f.RedirectCeiling > 0 {
		cfg.RedirectCeiling = f.RedirectCeiling
	}
	if f.InsecureSkipVerify {
		cfg.InsecureSkipVerify = true
	}
	return nil
}

// Load reads path (when non-empty) over the defaults, then applies
// environment overrides. A missing file at the default path is not an
// error; an explicitly given path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		var file fileConfig
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		if err := file.apply(cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.User == "" {
		return nil, fmt.Errorf("no user configured: set NORDGO_USER or the user key in the config file")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("NORDGO_USER", &cfg.User)
	setString("NORDGO_METHOD", &cfg.Method)
	setString("NORDGO_PROXY", &cfg.Proxy)
	setString("NORDGO_SESSION_PATH", &cfg.SessionPath)
	setString("NORDGO_EXPORT_DIR", &cfg.ExportDir)
	setString("NORDGO_BROKER_BASE_URL", &cfg.BrokerBaseURL)
	setString("NORDGO_API_BASE_URL", &cfg.APIBaseURL)

	if v := os.Getenv("NORDGO_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PollInterval = d
		}
	}
	if v := os.Getenv("NORDGO_APPROVAL_MAX_WAIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ApprovalMaxWait = d
		}
	}
	if v := os.Getenv("NORDGO_REDIRECT_CEILING"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RedirectCeiling = n
		}
	}
}
