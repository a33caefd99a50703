package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type contextKey string

const configKey contextKey = "config"

// EnvPrefix is prepended to every environment override, e.g. ECLIPPER_SCAN_THREADS
const EnvPrefix = "ECLIPPER_"

// Config holds all application configuration
type Config struct {
	// Scan settings
	Scan ScanConfig `yaml:"scan" envPrefix:"SCAN_"`

	// Text recognition settings
	OCR OCRConfig `yaml:"ocr" envPrefix:"OCR_"`

	// In-memory cache bounds
	Cache CacheConfig `yaml:"cache" envPrefix:"CACHE_"`

	// Local transport settings
	Server ServerConfig `yaml:"server" envPrefix:"SERVER_"`
}

type ScanConfig struct {
	Threads           int     `yaml:"threads" env:"THREADS"`
	IncludeAssists    bool    `yaml:"include_assists" env:"INCLUDE_ASSISTS"`
	IncludeSpectating bool    `yaml:"include_spectating" env:"INCLUDE_SPECTATING"`
	ElimClipDuration  float64 `yaml:"elim_clip_duration" env:"ELIM_CLIP_DURATION"`
	HardwareAccel     bool    `yaml:"hw_accel" env:"HW_ACCEL"`
}

type OCRConfig struct {
	Language string `yaml:"language" env:"LANGUAGE"`
	DataPath string `yaml:"data_path" env:"DATA_PATH"`
}

type CacheConfig struct {
	ClipCacheBytes    int64 `yaml:"clip_cache_bytes" env:"CLIP_BYTES"`
	ClipCacheEntries  int   `yaml:"clip_cache_entries" env:"CLIP_ENTRIES"`
	FrameCacheEntries int   `yaml:"frame_cache_entries" env:"FRAME_ENTRIES"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

// Load reads configuration from file, applies environment overrides and
// returns defaults for anything left unset
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = findConfigFile()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects values the engine cannot run with
func (c *Config) Validate() error {
	if c.Scan.Threads < 1 {
		return fmt.Errorf("scan.threads must be at least 1, got %d", c.Scan.Threads)
	}
	if c.Scan.ElimClipDuration < 0 {
		return fmt.Errorf("scan.elim_clip_duration must not be negative")
	}
	if c.Cache.ClipCacheEntries < 1 || c.Cache.FrameCacheEntries < 1 {
		return fmt.Errorf("cache entry limits must be at least 1")
	}
	if c.Cache.ClipCacheBytes < 1 {
		return fmt.Errorf("cache.clip_cache_bytes must be positive")
	}
	return nil
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Default returns the built-in configuration
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Scan: ScanConfig{
			Threads:           max(runtime.NumCPU(), 1),
			IncludeAssists:    false,
			IncludeSpectating: false,
			ElimClipDuration:  4.0,
			HardwareAccel:     false,
		},
		OCR: OCRConfig{
			Language: "eng",
		},
		Cache: CacheConfig{
			ClipCacheBytes:    500_000_000,
			ClipCacheEntries:  20,
			FrameCacheEntries: 50,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:0",
		},
	}
}

func findConfigFile() string {
	candidates := []string{
		"./config.yaml",
		"./config.yml",
		filepath.Join(os.Getenv("HOME"), ".eclipper", "config.yaml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return defaultConfig()
}
