package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"stooqfetch/pkg/logger"
)

// Config holds all configuration options for the stooq downloader
type Config struct {
	// Site endpoints and transport settings
	Site SiteConfig `yaml:"site" json:"site"`

	// CAPTCHA recognition settings
	Captcha CaptchaConfig `yaml:"captcha" json:"captcha"`

	// Session persistence settings
	Session SessionConfig `yaml:"session" json:"session"`

	// Site-side settings profile requirements
	Settings SettingsConfig `yaml:"settings" json:"settings"`

	// Download settings
	Download DownloadConfig `yaml:"download" json:"download"`

	// Post-download verification settings
	Verify VerifyConfig `yaml:"verify" json:"verify"`

	// Request pacing
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Logging configuration
	Logging logger.Config `yaml:"logging" json:"logging"`
}

// SiteConfig holds stooq endpoint configuration
type SiteConfig struct {
	BaseURL        string        `yaml:"base_url" json:"base_url"`
	UserAgent      string        `yaml:"user_agent" json:"user_agent"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// CaptchaConfig holds recognition engine configuration
type CaptchaConfig struct {
	ModelPath string `yaml:"model_path" json:"model_path"`
	// MinConfidence is the per-glyph similarity a solve must reach to be
	// trusted. Tuned empirically against the labeled sample corpus.
	MinConfidence float64 `yaml:"min_confidence" json:"min_confidence"`
	MaxAttempts   int     `yaml:"max_attempts" json:"max_attempts"`
}

// SessionConfig holds session persistence configuration
type SessionConfig struct {
	// Backend selects the cookie store: "file", "encrypted" or "keyring"
	Backend    string `yaml:"backend" json:"backend"`
	CookiePath string `yaml:"cookie_path" json:"cookie_path"`
	Passphrase string `yaml:"-" json:"-"`
}

// SettingsConfig holds the required site-side profile entries
type SettingsConfig struct {
	// Groups are the ticker groups that must be enabled for every interval
	Groups      []string `yaml:"groups" json:"groups"`
	MaxAttempts int      `yaml:"max_attempts" json:"max_attempts"`
}

// DownloadConfig holds download-specific configuration
type DownloadConfig struct {
	OutputDir           string        `yaml:"output_dir" json:"output_dir"`
	ConcurrentDownloads int           `yaml:"concurrent_downloads" json:"concurrent_downloads"`
	DownloadTimeout     time.Duration `yaml:"download_timeout" json:"download_timeout"`
	RetryAttempts       int           `yaml:"retry_attempts" json:"retry_attempts"`
	// RowFallback is how many candidate rows to try before giving up when
	// the newest row set fails verification.
	RowFallback int `yaml:"row_fallback" json:"row_fallback"`
}

// VerifyConfig holds verification marker configuration
type VerifyConfig struct {
	RequiredTickers  []string `yaml:"required_tickers" json:"required_tickers"`
	ForbiddenTickers []string `yaml:"forbidden_tickers" json:"forbidden_tickers"`
	MinRows          int      `yaml:"min_rows" json:"min_rows"`
}

// RateLimitConfig holds request pacing configuration
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			BaseURL:        "https://stooq.com/db/",
			UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			RequestTimeout: 15 * time.Second,
		},
		Captcha: CaptchaConfig{
			ModelPath:     filepath.Join(xdg.DataHome, "stooqfetch", "model.json"),
			MinConfidence: 0.5,
			MaxAttempts:   3,
		},
		Session: SessionConfig{
			Backend:    "file",
			CookiePath: filepath.Join(xdg.StateHome, "stooqfetch", "session.json"),
		},
		Settings: SettingsConfig{
			Groups:      []string{"world_indices", "us_all"},
			MaxAttempts: 5,
		},
		Download: DownloadConfig{
			OutputDir:           "./data",
			ConcurrentDownloads: 1,
			DownloadTimeout:     60 * time.Second,
			RetryAttempts:       3,
			RowFallback:         3,
		},
		Verify: VerifyConfig{
			RequiredTickers: []string{"AAPL.US", "^SPX", "^DJI", "GLD.US"},
			MinRows:         5,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 30,
		},
		Logging: logger.Config{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if baseURL := os.Getenv("STOOQFETCH_BASE_URL"); baseURL != "" {
		c.Site.BaseURL = baseURL
	}
	if userAgent := os.Getenv("STOOQFETCH_USER_AGENT"); userAgent != "" {
		c.Site.UserAgent = userAgent
	}
	if modelPath := os.Getenv("STOOQFETCH_MODEL_PATH"); modelPath != "" {
		c.Captcha.ModelPath = modelPath
	}
	if cookiePath := os.Getenv("STOOQFETCH_COOKIE_PATH"); cookiePath != "" {
		c.Session.CookiePath = cookiePath
	}
	if backend := os.Getenv("STOOQFETCH_SESSION_BACKEND"); backend != "" {
		c.Session.Backend = backend
	}
	if pass := os.Getenv("STOOQFETCH_SESSION_PASSPHRASE"); pass != "" {
		c.Session.Passphrase = pass
	}
	if outputDir := os.Getenv("STOOQFETCH_OUTPUT_DIR"); outputDir != "" {
		c.Download.OutputDir = outputDir
	}
	if markers := os.Getenv("STOOQFETCH_REQUIRED_TICKERS"); markers != "" {
		c.Verify.RequiredTickers = splitList(markers)
	}
	if markers := os.Getenv("STOOQFETCH_FORBIDDEN_TICKERS"); markers != "" {
		c.Verify.ForbiddenTickers = splitList(markers)
	}
	if rpm := os.Getenv("STOOQFETCH_REQUESTS_PER_MINUTE"); rpm != "" {
		var val int
		fmt.Sscanf(rpm, "%d", &val)
		if val > 0 {
			c.RateLimit.RequestsPerMinute = val
		}
	}
	if logLevel := os.Getenv("STOOQFETCH_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		".stooqfetch.yaml",
		".stooqfetch.yml",
		filepath.Join(xdg.ConfigHome, "stooqfetch", "config.yaml"),
		filepath.Join(xdg.ConfigHome, "stooqfetch", "config.yml"),
		filepath.Join(os.Getenv("HOME"), ".stooqfetch.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Site.BaseURL == "" {
		errs = append(errs, errors.New("site base URL is required"))
	}
	if c.Captcha.ModelPath == "" {
		errs = append(errs, errors.New("captcha model path is required"))
	}
	if c.Captcha.MinConfidence < 0 || c.Captcha.MinConfidence > 1 {
		errs = append(errs, errors.New("captcha min confidence must be in [0,1]"))
	}
	if c.Captcha.MaxAttempts <= 0 {
		errs = append(errs, errors.New("captcha max attempts must be positive"))
	}
	switch c.Session.Backend {
	case "file", "encrypted", "keyring":
	default:
		errs = append(errs, fmt.Errorf("unknown session backend %q", c.Session.Backend))
	}
	if c.Download.OutputDir == "" {
		errs = append(errs, errors.New("output directory is required"))
	}
	if c.Download.ConcurrentDownloads <= 0 {
		errs = append(errs, errors.New("concurrent downloads must be positive"))
	}
	if c.Download.ConcurrentDownloads > 3 {
		errs = append(errs, errors.New("concurrent downloads should not exceed 3"))
	}
	if c.Verify.MinRows < 0 {
		errs = append(errs, errors.New("minimum rows cannot be negative"))
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "disabled": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return fmt.Errorf("configuration errors: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// ApplyFlags overrides configuration with command line flag values
func (c *Config) ApplyFlags(flags map[string]interface{}) {
	for key, value := range flags {
		switch key {
		case "output":
			if v, ok := value.(string); ok && v != "" {
				c.Download.OutputDir = v
			}
		case "model":
			if v, ok := value.(string); ok && v != "" {
				c.Captcha.ModelPath = v
			}
		case "concurrent":
			if v, ok := value.(int); ok && v > 0 {
				c.Download.ConcurrentDownloads = v
			}
		case "captcha-attempts":
			if v, ok := value.(int); ok && v > 0 {
				c.Captcha.MaxAttempts = v
			}
		case "log-level":
			if v, ok := value.(string); ok && v != "" {
				c.Logging.Level = v
			}
		}
	}
}

// Load builds the effective configuration: defaults, then config file,
// then environment, then command line flags.
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// A .env file is optional; ignore a missing one
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if err := cfg.LoadFromFile(configPath); err != nil {
		return nil, err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	cfg.ApplyFlags(flags)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
