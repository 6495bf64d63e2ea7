package config

import (
	"runtime"

	"github.com/mattjoyce/forkpool/internal/pool"
)

// Config represents the complete forkpool configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Parallel ParallelConfig `yaml:"parallel"`
	Journal  JournalConfig  `yaml:"journal"`
	API      APIConfig      `yaml:"api,omitempty"`

	// Path and Hash identify the file the config was loaded from, if any.
	Path string `yaml:"-"`
	Hash string `yaml:"-"`
}

// ServiceConfig defines core process settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// ParallelConfig sizes the worker pool.
type ParallelConfig struct {
	// Workers is the pool size; zero means one per CPU.
	Workers int `yaml:"workers"`
	// Threshold is the job count at or below which a run stays in-process.
	Threshold int `yaml:"threshold"`
	// SocketDir holds the pool's unix socket; the system temp dir when empty.
	SocketDir string `yaml:"socket_dir"`
	// Forced is set when FORKPOOL_WORKERS chose the pool size.
	Forced bool `yaml:"-"`
}

// JournalConfig defines where run results are persisted.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// APIConfig defines the status HTTP server.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "forkpool",
			LogLevel: "info",
		},
		Parallel: ParallelConfig{
			Workers:   runtime.NumCPU(),
			Threshold: pool.DefaultThreshold,
		},
		Journal: JournalConfig{
			Enabled: false,
			Path:    "./data/runs.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9464",
		},
	}
}
