// Package config loads the YAML configuration file for the tasklets engine.
//
// YAML-tagged nested struct decoded with gopkg.in/yaml.v3, covering the
// executor/lifecycle/autoscale/metrics/log sections of the engine.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gotasklets/tasklets/internal/recommend"
)

// Config is the complete on-disk configuration shape.
type Config struct {
	Executor struct {
		WorkerCount   int `yaml:"worker_count"`
		MaxWorkers    int `yaml:"max_workers"`
		BufferSize    int `yaml:"buffer_size"`
		DefaultTimeoutMillis int64 `yaml:"default_timeout_ms"`
	} `yaml:"executor"`

	Lifecycle struct {
		MemoryLimitPercent float64       `yaml:"memory_limit_percent"`
		CleanupInterval    time.Duration `yaml:"cleanup_interval"`
		PoolInitial        int           `yaml:"pool_initial"`
		PoolMax            int           `yaml:"pool_max"`
	} `yaml:"lifecycle"`

	Autoscale struct {
		Enabled       bool          `yaml:"enabled"`
		TickInterval  time.Duration `yaml:"tick_interval"`
		OnDemandEvery uint64        `yaml:"on_demand_every"`
		Strategy      string        `yaml:"strategy"` // conservative | moderate | aggressive
	} `yaml:"autoscale"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text | json
	} `yaml:"log"`
}

// Default returns the built-in configuration used when no file is supplied.
func Default() Config {
	var cfg Config
	cfg.Executor.WorkerCount = 4
	cfg.Executor.MaxWorkers = 0 // resolved from hardware concurrency at New()
	cfg.Executor.BufferSize = 1024
	cfg.Executor.DefaultTimeoutMillis = 30000
	cfg.Lifecycle.MemoryLimitPercent = 85
	cfg.Lifecycle.CleanupInterval = time.Second
	cfg.Lifecycle.PoolInitial = 16
	cfg.Lifecycle.PoolMax = 4096
	cfg.Autoscale.Enabled = true
	cfg.Autoscale.TickInterval = 5 * time.Second
	cfg.Autoscale.OnDemandEvery = 50
	cfg.Autoscale.Strategy = "moderate"
	cfg.Metrics.Enabled = false
	cfg.Metrics.Port = 9090
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

// Load reads and parses a YAML config file, starting from Default() so
// unset fields keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// RecommendStrategy maps the configured strategy name to recommend.Strategy,
// defaulting to Moderate on an unrecognized value.
func (c Config) RecommendStrategy() recommend.Strategy {
	switch c.Autoscale.Strategy {
	case "conservative":
		return recommend.Conservative
	case "aggressive":
		return recommend.Aggressive
	default:
		return recommend.Moderate
	}
}
