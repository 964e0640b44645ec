// Package config provides unified configuration loading for emuforge.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/emuforge/emuforge/internal/dataset"
	"github.com/emuforge/emuforge/internal/evaluate"
)

// Config contains all emuforge configuration settings.
type Config struct {
	// Build contains settings for the build pipeline.
	Build BuildConfig `json:"build" yaml:"build"`

	// Cache contains settings for the solver sample cache.
	Cache CacheConfig `json:"cache" yaml:"cache"`

	// Hub contains settings for the local store and remote hub.
	Hub HubConfig `json:"hub" yaml:"hub"`

	// Evaluate contains settings for accuracy evaluation.
	Evaluate EvaluateConfig `json:"evaluate" yaml:"evaluate"`

	// Logging contains settings for operational and run-trace logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// BuildConfig configures the build pipeline.
type BuildConfig struct {
	// OutDir is the directory built artifacts are written to.
	OutDir string `json:"out_dir" yaml:"out_dir"`

	// Workers bounds concurrent solver invocations.
	Workers int `json:"workers" yaml:"workers"`

	// MaxRetries bounds re-attempts after transient solver failures.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// Backoff is the first retry delay; it doubles per attempt.
	Backoff time.Duration `json:"backoff" yaml:"backoff"`

	// MaxFailureRate is the fraction of permanently failed samples
	// above which a build aborts instead of training on a degraded set.
	// Range: 0.0 to 1.0
	MaxFailureRate float64 `json:"max_failure_rate" yaml:"max_failure_rate"`

	// GradientProbes is the number of held-out points whose model
	// gradients are checked against finite differences. 0 disables.
	GradientProbes int `json:"gradient_probes,omitempty" yaml:"gradient_probes,omitempty"`
}

// CacheConfig configures where solved samples are stored between runs.
type CacheConfig struct {
	// Backend selects the store: "sqlite" (default), "memory", or "redis".
	Backend string `json:"backend" yaml:"backend"`

	// Path is the SQLite database location. Only used when backend is "sqlite".
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// RedisAddr is the host:port of the Redis server. Only used when
	// backend is "redis".
	RedisAddr string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`

	// RedisPassword authenticates against Redis. Supports ${VAR} syntax
	// for env vars.
	RedisPassword string `json:"redis_password,omitempty" yaml:"redis_password,omitempty"`

	// RedisDB selects the Redis logical database.
	RedisDB int `json:"redis_db,omitempty" yaml:"redis_db,omitempty"`
}

// RedactedPassword returns the Redis password masked for display.
// Returns "" for empty passwords and "(set)" otherwise.
func (c CacheConfig) RedactedPassword() string {
	if c.RedisPassword == "" {
		return ""
	}
	return "(set)"
}

// String implements fmt.Stringer to prevent accidental password logging.
func (c CacheConfig) String() string {
	return fmt.Sprintf("CacheConfig{Backend:%s, Addr:%s, Password:%s}",
		c.Backend, c.RedisAddr, c.RedactedPassword())
}

// HubConfig configures artifact storage and sharing.
type HubConfig struct {
	// Dir is the local store root: content-addressed artifact files
	// plus the name index.
	Dir string `json:"dir" yaml:"dir"`

	// URL is the remote hub base URL. Empty disables remote operations.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Listen is the bind address for `emuforge hub serve`.
	Listen string `json:"listen" yaml:"listen"`
}

// EvaluateConfig configures the accuracy evaluator.
type EvaluateConfig struct {
	// ZeroThreshold is the truth magnitude below which relative error
	// is undefined and the grid value is skipped.
	ZeroThreshold float64 `json:"zero_threshold" yaml:"zero_threshold"`
}

// LoggingConfig configures emuforge's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables run tracing to .emuforge/runs/<run-id>.jsonl.
	// "trace" additionally includes full solver payloads.
	Level string `json:"level" yaml:"level"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Build: BuildConfig{
			OutDir:         "artifacts",
			Workers:        dataset.DefaultWorkers,
			MaxRetries:     dataset.DefaultMaxRetries,
			Backoff:        dataset.DefaultBackoff,
			MaxFailureRate: dataset.DefaultMaxFailureRate,
		},
		Cache: CacheConfig{
			Backend:   "sqlite",
			Path:      filepath.Join(".emuforge", "cache.db"),
			RedisAddr: "localhost:6379",
		},
		Hub: HubConfig{
			Dir:    filepath.Join(".emuforge", "hub"),
			Listen: ":8080",
		},
		Evaluate: EvaluateConfig{
			ZeroThreshold: evaluate.DefaultZeroThreshold,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration for a workspace rooted at dir.
// Order: defaults -> dir/.emuforge/config.yaml -> environment variables.
func Load(dir string) (*Config, error) {
	config := Default()

	configPath := filepath.Join(dir, ".emuforge", "config.yaml")
	if _, statErr := os.Stat(configPath); statErr == nil {
		fileConfig, loadErr := LoadFromFile(configPath)
		if loadErr != nil {
			return nil, fmt.Errorf("loading config file: %w", loadErr)
		}
		config = fileConfig
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Expand environment variables in the password
	config.Cache.RedisPassword = os.Expand(config.Cache.RedisPassword, os.Getenv)

	return config, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Build.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", c.Build.Workers)
	}
	if c.Build.Backoff < 0 {
		return fmt.Errorf("backoff must be non-negative, got %v", c.Build.Backoff)
	}
	if c.Build.MaxFailureRate < 0 || c.Build.MaxFailureRate > 1 {
		return fmt.Errorf("max_failure_rate must be between 0 and 1, got %f", c.Build.MaxFailureRate)
	}
	if c.Build.GradientProbes < 0 {
		return fmt.Errorf("gradient_probes must be non-negative, got %d", c.Build.GradientProbes)
	}

	validBackends := map[string]bool{"": true, "sqlite": true, "memory": true, "redis": true}
	if !validBackends[c.Cache.Backend] {
		return fmt.Errorf("invalid cache backend: %s (valid: sqlite, memory, redis, or empty for default)", c.Cache.Backend)
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		return fmt.Errorf("redis backend requires redis_addr")
	}

	if c.Evaluate.ZeroThreshold < 0 {
		return fmt.Errorf("zero_threshold must be non-negative, got %g", c.Evaluate.ZeroThreshold)
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("EMUFORGE_OUT_DIR"); v != "" {
		config.Build.OutDir = v
	}
	if v := os.Getenv("EMUFORGE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Build.Workers = n
		}
	}
	if v := os.Getenv("EMUFORGE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Build.MaxRetries = n
		}
	}
	if v := os.Getenv("EMUFORGE_BACKOFF"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Build.Backoff = d
		}
	}
	if v := os.Getenv("EMUFORGE_MAX_FAILURE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Build.MaxFailureRate = f
		}
	}

	if v := os.Getenv("EMUFORGE_CACHE_BACKEND"); v != "" {
		config.Cache.Backend = v
	}
	if v := os.Getenv("EMUFORGE_CACHE_PATH"); v != "" {
		config.Cache.Path = v
	}
	if v := os.Getenv("EMUFORGE_REDIS_ADDR"); v != "" {
		config.Cache.RedisAddr = v
	}
	if v := os.Getenv("EMUFORGE_REDIS_PASSWORD"); v != "" {
		config.Cache.RedisPassword = v
	}
	if v := os.Getenv("EMUFORGE_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Cache.RedisDB = n
		}
	}

	if v := os.Getenv("EMUFORGE_HUB_DIR"); v != "" {
		config.Hub.Dir = v
	}
	if v := os.Getenv("EMUFORGE_HUB_URL"); v != "" {
		config.Hub.URL = v
	}
	if v := os.Getenv("EMUFORGE_HUB_LISTEN"); v != "" {
		config.Hub.Listen = v
	}

	if v := os.Getenv("EMUFORGE_ZERO_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Evaluate.ZeroThreshold = f
		}
	}

	if v := os.Getenv("EMUFORGE_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}
