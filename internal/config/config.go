package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Duration is a time.Duration that reads from JSON as "30s" or as seconds.
type Duration time.Duration

// UnmarshalJSON accepts a Go duration string or a number of seconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("duration must be a string or number of seconds")
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// MarshalJSON writes the duration as a Go duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Config holds application configuration.
type Config struct {
	// BaseURL is the root of the remote collection service (scheme + host).
	BaseURL string `json:"base_url"`

	// APIPrefix is prepended to every resource path.
	APIPrefix string `json:"api_prefix"`

	// StaleTime is how long a resolved query stays fresh.
	// 0 treats every cached result as stale, so each fetch revalidates.
	StaleTime Duration `json:"stale_time,omitempty"`

	// RequestTimeout bounds a single remote call.
	RequestTimeout Duration `json:"request_timeout,omitempty"`

	// RateLimit caps outgoing requests per second. 0 disables the limiter.
	RateLimit float64 `json:"rate_limit,omitempty"`

	// RateBurst is the limiter burst size. Defaults to 1 when RateLimit is set.
	RateBurst int `json:"rate_burst,omitempty"`

	// PageLimit is the default list page size (1..100).
	PageLimit int `json:"page_limit,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// Environment overrides applied by LoadWithEnv.
const (
	EnvBaseURL   = "GEPDASH_BASE_URL"
	EnvStaleTime = "GEPDASH_STALE_TIME"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        "http://localhost:8000",
		APIPrefix:      "/api/v1",
		RequestTimeout: Duration(30 * time.Second),
		PageLimit:      100,
		LogLevel:       "info",
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.gepdash.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithEnv loads baseDir/config.json and then applies environment overrides.
func LoadWithEnv(baseDir string) (*Config, error) {
	cfg, err := Load(baseDir)
	if err != nil {
		return nil, err
	}

	env := &Config{BaseURL: strings.TrimSpace(os.Getenv(EnvBaseURL))}
	if s := strings.TrimSpace(os.Getenv(EnvStaleTime)); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvStaleTime, err)
		}
		env.StaleTime = Duration(d)
	}

	return Merge(cfg, env), nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	merged := Merge(DefaultConfig(), cfg)
	if err := merged.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", configPath, err)
	}
	return merged, nil
}

// Validate checks value ranges that would otherwise fail at request time.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if c.PageLimit < 1 || c.PageLimit > 100 {
		return fmt.Errorf("page_limit must be between 1 and 100, got %d", c.PageLimit)
	}
	if c.StaleTime < 0 || c.RequestTimeout < 0 {
		return fmt.Errorf("durations must be non-negative")
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return fmt.Errorf("rate_limit and rate_burst must be non-negative")
	}
	return nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.BaseURL = firstString(overlay.BaseURL, base.BaseURL)
	result.APIPrefix = firstString(overlay.APIPrefix, base.APIPrefix)
	result.LogLevel = firstString(overlay.LogLevel, base.LogLevel)

	result.StaleTime = overlay.StaleTime
	if result.StaleTime == 0 {
		result.StaleTime = base.StaleTime
	}

	result.RequestTimeout = overlay.RequestTimeout
	if result.RequestTimeout == 0 {
		result.RequestTimeout = base.RequestTimeout
	}

	result.RateLimit = overlay.RateLimit
	if result.RateLimit == 0 {
		result.RateLimit = base.RateLimit
	}

	result.RateBurst = overlay.RateBurst
	if result.RateBurst == 0 {
		result.RateBurst = base.RateBurst
	}

	result.PageLimit = overlay.PageLimit
	if result.PageLimit == 0 {
		result.PageLimit = base.PageLimit
	}

	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func firstString(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
