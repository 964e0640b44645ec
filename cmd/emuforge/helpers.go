package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/emuforge/emuforge/internal/cache"
	"github.com/emuforge/emuforge/internal/config"
	"github.com/emuforge/emuforge/internal/emulator"
	"github.com/emuforge/emuforge/internal/hub"
	"github.com/emuforge/emuforge/internal/logging"
)

// loadConfig resolves the workspace directory and reads its
// configuration (defaults, then .emuforge/config.yaml, then
// environment overrides).
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	dir, _ := cmd.Flags().GetString("dir")
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, dir, nil
}

// resolvePath anchors relative paths at the workspace directory.
func resolvePath(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func newLogger(cfg *config.Config) *slog.Logger {
	return logging.NewLogger(cfg.Logging.Level, os.Stderr)
}

// openCache builds the solve cache declared in the configuration.
func openCache(cfg *config.Config, dir string) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case "", "sqlite":
		path := resolvePath(dir, cfg.Cache.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		return cache.NewSQLiteStore(path)
	case "memory":
		return cache.NewMemoryStore(), nil
	case "redis":
		return cache.NewRedisStore(cache.RedisConfig{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Cache.Backend)
	}
}

// openHubStore opens the local emulator library.
func openHubStore(cfg *config.Config, dir string) (*hub.Store, error) {
	store, err := hub.NewStore(resolvePath(dir, cfg.Hub.Dir))
	if err != nil {
		return nil, fmt.Errorf("failed to open emulator store: %w", err)
	}
	return store, nil
}

func newHubClient(cfg *config.Config) *hub.Client {
	if cfg.Hub.URL == "" {
		return nil
	}
	return &hub.Client{BaseURL: cfg.Hub.URL}
}

// newLoader wires the local store and, when configured, the remote hub
// into an emulator loader. Callers close loader.Store when done.
func newLoader(cfg *config.Config, dir string, logger *slog.Logger) (*emulator.Loader, error) {
	store, err := openHubStore(cfg, dir)
	if err != nil {
		return nil, err
	}
	return &emulator.Loader{Store: store, Hub: newHubClient(cfg), Logger: logger}, nil
}

// parseParams parses repeated name=value pairs into a parameter map.
func parseParams(pairs []string) (map[string]float64, error) {
	params := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid parameter %q (want name=value)", pair)
		}
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for parameter %s: %q", name, value)
		}
		params[name] = f
	}
	return params, nil
}

// parseCoords parses a comma-separated axis coordinate list.
func parseCoords(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	coords := make([]float64, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid coordinate %q", p)
		}
		coords[i] = f
	}
	return coords, nil
}
