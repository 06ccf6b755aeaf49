// Package config provides configuration for the weave daemon and CLI.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"weave/internal/kernel"
)

// Config holds daemon and scheduler configuration.
type Config struct {
	// Listen is the address to listen on (e.g., ":9432").
	Listen string `yaml:"listen"`
	// DataDir is the root directory for database files.
	DataDir string `yaml:"dataDir"`
	// MaxConcurrency caps concurrent task execution across kernels.
	MaxConcurrency int `yaml:"maxConcurrency"`
	// KernelReadyTimeout bounds the wait for a kernel's readiness marker.
	KernelReadyTimeout time.Duration `yaml:"kernelReadyTimeout"`
	// Debug enables debug logging.
	Debug bool `yaml:"debug"`
	// Watch lists glob patterns of documents the daemon watches for
	// external edits, doublestar syntax (e.g. "docs/**/*.json").
	Watch []string `yaml:"watch"`
	// Kernels registers the available kernel types.
	Kernels []kernel.Type `yaml:"kernels"`
}

// FromEnv creates a Config from environment variables.
func FromEnv() *Config {
	return &Config{
		Listen:             getEnv("WEAVE_LISTEN", ":9432"),
		DataDir:            getEnv("WEAVE_DATA", "./data"),
		MaxConcurrency:     getEnvInt("WEAVE_MAX_CONCURRENCY", 4),
		KernelReadyTimeout: getEnvDuration("WEAVE_KERNEL_READY_TIMEOUT", 10*time.Second),
		Debug:              getEnvBool("WEAVE_DEBUG", false),
	}
}

// Load creates a Config from env, then overlays the YAML file at path
// when it exists. An empty path checks WEAVE_CONFIG.
func Load(path string) (*Config, error) {
	cfg := FromEnv()
	if path == "" {
		path = os.Getenv("WEAVE_CONFIG")
	}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks glob patterns and kernel definitions.
func (c *Config) Validate() error {
	for _, pattern := range c.Watch {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid watch pattern %q", pattern)
		}
	}
	for _, k := range c.Kernels {
		if k.Name == "" {
			return fmt.Errorf("kernel with empty name")
		}
		if len(k.Languages) == 0 {
			return fmt.Errorf("kernel %q declares no languages", k.Name)
		}
		if len(k.Command) == 0 {
			return fmt.Errorf("kernel %q declares no command", k.Name)
		}
	}
	return nil
}

// Watched reports whether a path matches any watch pattern.
func (c *Config) Watched(path string) bool {
	for _, pattern := range c.Watch {
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
