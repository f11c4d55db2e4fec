// Package config loads the application configuration: JSON file over
// built-in defaults, then LOGAI_* environment overrides, then
// validation. The services registry itself is a separate YAML file
// owned by the registry package; this config only points at it.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/elis-salobehaj/log-ai/errors"
)

// Duration is a time.Duration that marshals as a string ("90s", "2h").
type Duration time.Duration

// UnmarshalJSON accepts both "2h" strings and nanosecond numbers.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		*d = Duration(parsed)
		return nil
	case float64:
		*d = Duration(time.Duration(val))
		return nil
	default:
		return fmt.Errorf("invalid duration value %v", v)
	}
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the standard library form.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the complete application configuration.
type Config struct {
	HTTP      HTTPConfig      `json:"http"`
	NATS      NATSConfig      `json:"nats"`
	Search    SearchConfig    `json:"search"`
	Cache     CacheConfig     `json:"cache"`
	Registry  RegistryConfig  `json:"registry"`
	Artifacts ArtifactsConfig `json:"artifacts"`
	Logging   LoggingConfig   `json:"logging"`
}

// HTTPConfig bounds the gateway listener.
type HTTPConfig struct {
	Addr           string   `json:"addr"`
	MaxRequestSize int64    `json:"max_request_size"`
	ReadTimeout    Duration `json:"read_timeout"`
	WriteTimeout   Duration `json:"write_timeout"`
}

// NATSConfig describes the optional distributed backend. Disabled
// means the engine runs purely process-local.
type NATSConfig struct {
	Enabled       bool     `json:"enabled"`
	URL           string   `json:"url"`
	Name          string   `json:"name"`
	Username      string   `json:"username,omitempty"`
	Password      string   `json:"password,omitempty"`
	CacheBucket   string   `json:"cache_bucket"`
	CacheTTL      Duration `json:"cache_ttl"`
	LimiterBucket string   `json:"limiter_bucket"`
	LimiterTTL    Duration `json:"limiter_ttl"`
}

// SearchConfig bounds search execution.
type SearchConfig struct {
	GlobalCeiling   int      `json:"global_ceiling"`
	PerRequestLimit int      `json:"per_request_limit"`
	WallClock       Duration `json:"wall_clock"`
	PreviewLimit    int      `json:"preview_limit"`
}

// CacheConfig bounds the result cache's local tier.
type CacheConfig struct {
	Enabled    bool     `json:"enabled"`
	MaxEntries int      `json:"max_entries"`
	MaxBytes   int64    `json:"max_bytes"`
	TTL        Duration `json:"ttl"`
}

// RegistryConfig points at the services YAML.
type RegistryConfig struct {
	Path         string   `json:"path"`
	PollInterval Duration `json:"poll_interval"`
}

// ArtifactsConfig governs overflow artifact storage.
type ArtifactsConfig struct {
	Root          string   `json:"root"`
	Retention     Duration `json:"retention"`
	SweepInterval Duration `json:"sweep_interval"`
}

// LoggingConfig governs slog output and file rotation.
type LoggingConfig struct {
	Level      string `json:"level"` // debug, info, warn, error
	File       string `json:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:           ":8080",
			MaxRequestSize: 1 << 20,
			ReadTimeout:    Duration(30 * time.Second),
			WriteTimeout:   Duration(5 * time.Minute),
		},
		NATS: NATSConfig{
			Enabled:       false,
			URL:           "nats://127.0.0.1:4222",
			Name:          "log-ai",
			CacheBucket:   "logai_results",
			CacheTTL:      Duration(10 * time.Minute),
			LimiterBucket: "logai_admission",
			LimiterTTL:    Duration(10 * time.Minute),
		},
		Search: SearchConfig{
			GlobalCeiling:   20,
			PerRequestLimit: 4,
			WallClock:       Duration(2 * time.Minute),
			PreviewLimit:    100,
		},
		Cache: CacheConfig{
			Enabled:    true,
			MaxEntries: 100,
			MaxBytes:   500 << 20,
			TTL:        Duration(10 * time.Minute),
		},
		Registry: RegistryConfig{
			Path:         "services.yaml",
			PollInterval: Duration(30 * time.Second),
		},
		Artifacts: ArtifactsConfig{
			Root:          "/tmp/logai-artifacts",
			Retention:     Duration(24 * time.Hour),
			SweepInterval: Duration(time.Hour),
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapFatal(err, "Config", "Load", "read config file")
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "parse config file")
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envOverride names follow LOGAI_<SECTION>_<FIELD>.
func applyEnvOverrides(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setDuration := func(key string, dst *Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = Duration(d)
			}
		}
	}

	setString("LOGAI_HTTP_ADDR", &cfg.HTTP.Addr)
	setBool("LOGAI_NATS_ENABLED", &cfg.NATS.Enabled)
	setString("LOGAI_NATS_URL", &cfg.NATS.URL)
	setString("LOGAI_NATS_USERNAME", &cfg.NATS.Username)
	setString("LOGAI_NATS_PASSWORD", &cfg.NATS.Password)
	setInt("LOGAI_SEARCH_GLOBAL_CEILING", &cfg.Search.GlobalCeiling)
	setInt("LOGAI_SEARCH_PER_REQUEST_LIMIT", &cfg.Search.PerRequestLimit)
	setDuration("LOGAI_SEARCH_WALL_CLOCK", &cfg.Search.WallClock)
	setInt("LOGAI_SEARCH_PREVIEW_LIMIT", &cfg.Search.PreviewLimit)
	setBool("LOGAI_CACHE_ENABLED", &cfg.Cache.Enabled)
	setDuration("LOGAI_CACHE_TTL", &cfg.Cache.TTL)
	setString("LOGAI_REGISTRY_PATH", &cfg.Registry.Path)
	setString("LOGAI_ARTIFACTS_ROOT", &cfg.Artifacts.Root)
	setDuration("LOGAI_ARTIFACTS_RETENTION", &cfg.Artifacts.Retention)
	setString("LOGAI_LOG_LEVEL", &cfg.Logging.Level)
	setString("LOGAI_LOG_FILE", &cfg.Logging.File)
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if c.HTTP.Addr == "" {
		problems = append(problems, "http.addr is required")
	}
	if c.HTTP.MaxRequestSize <= 0 {
		problems = append(problems, "http.max_request_size must be positive")
	}
	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			problems = append(problems, "nats.url is required when nats is enabled")
		}
		if c.NATS.CacheBucket == "" {
			problems = append(problems, "nats.cache_bucket is required when nats is enabled")
		}
		if c.NATS.LimiterBucket == "" {
			problems = append(problems, "nats.limiter_bucket is required when nats is enabled")
		}
	}
	if c.Search.GlobalCeiling <= 0 {
		problems = append(problems, "search.global_ceiling must be positive")
	}
	if c.Search.PerRequestLimit <= 0 {
		problems = append(problems, "search.per_request_limit must be positive")
	}
	if c.Search.WallClock.Std() <= 0 {
		problems = append(problems, "search.wall_clock must be positive")
	}
	if c.Search.PreviewLimit <= 0 {
		problems = append(problems, "search.preview_limit must be positive")
	}
	if c.Cache.Enabled {
		if c.Cache.MaxEntries <= 0 {
			problems = append(problems, "cache.max_entries must be positive")
		}
		if c.Cache.MaxBytes <= 0 {
			problems = append(problems, "cache.max_bytes must be positive")
		}
	}
	if c.Registry.Path == "" {
		problems = append(problems, "registry.path is required")
	}
	if c.Artifacts.Root == "" {
		problems = append(problems, "artifacts.root is required")
	}
	if c.Artifacts.Retention.Std() <= 0 {
		problems = append(problems, "artifacts.retention must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}

	if len(problems) > 0 {
		return errors.WrapInvalid(
			errors.New(strings.Join(problems, "; ")),
			"Config", "Validate", "validate configuration")
	}
	return nil
}
