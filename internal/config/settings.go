// Package config loads service configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all service settings
type Config struct {
	// ListenAddr is the HTTP API listen address
	ListenAddr string `yaml:"listenAddr"`

	// Tile cache
	CacheDir       string `yaml:"cacheDir"`
	CacheMaxSizeMB int64  `yaml:"cacheMaxSizeMB"`
	CacheTTLDays   int    `yaml:"cacheTTLDays"`

	// Frame store bucket URL in gocloud form, e.g. "file:///var/lib/terra/frames"
	// or "s3://bucket" or "gs://bucket"
	FrameBucketURL string `yaml:"frameBucketURL"`

	// Animation output and queue persistence
	OutputDir string `yaml:"outputDir"`
	QueueDir  string `yaml:"queueDir"`

	// Fetching
	FetchWorkers       int `yaml:"fetchWorkers"`       // frame composition workers
	DefaultConcurrency int `yaml:"defaultConcurrency"` // per-sequence tile concurrency

	// Date overlay font for video exports; empty disables overlays
	FontPath string `yaml:"fontPath"`

	// Metrics
	MetricsNamespace string `yaml:"metricsNamespace"`

	// Analytics
	PostHogKey  string `yaml:"posthogKey"`
	PostHogHost string `yaml:"posthogHost"`
}

// Default returns the configuration used when no file or overrides exist
func Default() *Config {
	dataDir := defaultDataDir()
	return &Config{
		ListenAddr:         ":8080",
		CacheDir:           filepath.Join(dataDir, "tile-cache"),
		CacheMaxSizeMB:     500,
		CacheTTLDays:       30,
		FrameBucketURL:     "file://" + filepath.ToSlash(filepath.Join(dataDir, "frames")),
		OutputDir:          filepath.Join(dataDir, "animations"),
		QueueDir:           filepath.Join(dataDir, "queue"),
		FetchWorkers:       8,
		DefaultConcurrency: 4,
		MetricsNamespace:   "terra_imagery",
		PostHogHost:        "https://us.i.posthog.com",
	}
}

func defaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "terra-imagery")
	}
	return filepath.Join(homeDir, ".terra-imagery")
}

// DefaultPath returns the default config file location
func DefaultPath() string {
	return filepath.Join(defaultDataDir(), "config.yaml")
}

// Load reads configuration from the given YAML file, merges it over the
// defaults, and applies environment overrides. A missing file is not an
// error; defaults plus environment are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		log.Printf("[Config] No config file at %s, using defaults", path)
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		log.Printf("[Config] Loaded %s", path)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with TERRA_* environment variables
func (c *Config) applyEnv() {
	envString("TERRA_LISTEN_ADDR", &c.ListenAddr)
	envString("TERRA_CACHE_DIR", &c.CacheDir)
	envInt64("TERRA_CACHE_MAX_SIZE_MB", &c.CacheMaxSizeMB)
	envInt("TERRA_CACHE_TTL_DAYS", &c.CacheTTLDays)
	envString("TERRA_FRAME_BUCKET_URL", &c.FrameBucketURL)
	envString("TERRA_OUTPUT_DIR", &c.OutputDir)
	envString("TERRA_QUEUE_DIR", &c.QueueDir)
	envInt("TERRA_FETCH_WORKERS", &c.FetchWorkers)
	envInt("TERRA_DEFAULT_CONCURRENCY", &c.DefaultConcurrency)
	envString("TERRA_FONT_PATH", &c.FontPath)
	envString("TERRA_METRICS_NAMESPACE", &c.MetricsNamespace)
	envString("TERRA_POSTHOG_KEY", &c.PostHogKey)
	envString("TERRA_POSTHOG_HOST", &c.PostHogHost)
}

func envString(key string, target *string) {
	if value := os.Getenv(key); value != "" {
		*target = value
	}
}

func envInt(key string, target *int) {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			log.Printf("[Config] Ignoring %s=%q: %v", key, value, err)
			return
		}
		*target = parsed
	}
}

func envInt64(key string, target *int64) {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			log.Printf("[Config] Ignoring %s=%q: %v", key, value, err)
			return
		}
		*target = parsed
	}
}

// Validate rejects settings the service cannot run with
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listenAddr must not be empty")
	}
	if c.CacheMaxSizeMB <= 0 {
		return fmt.Errorf("cacheMaxSizeMB must be positive, got %d", c.CacheMaxSizeMB)
	}
	if c.CacheTTLDays <= 0 {
		return fmt.Errorf("cacheTTLDays must be positive, got %d", c.CacheTTLDays)
	}
	if c.FetchWorkers <= 0 {
		return fmt.Errorf("fetchWorkers must be positive, got %d", c.FetchWorkers)
	}
	if c.DefaultConcurrency <= 0 {
		return fmt.Errorf("defaultConcurrency must be positive, got %d", c.DefaultConcurrency)
	}
	if c.FrameBucketURL == "" {
		return fmt.Errorf("frameBucketURL must not be empty")
	}
	return nil
}

// Save writes the configuration to the given YAML file
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
