package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables read by the loader.
const (
	EnvConfigPath = "FORKPOOL_CONFIG"
	EnvWorkers    = "FORKPOOL_WORKERS"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file, then applies defaults and
// the FORKPOOL_WORKERS override and validates the result.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "forkpool.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but forkpool.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", absPath, err)
	}

	hash, err := ComputeBlake3Hash(absPath)
	if err != nil {
		return nil, err
	}
	cfg.Path = absPath
	cfg.Hash = hash

	return finish(&cfg)
}

// LoadOrDefault loads configPath, or the discovered config file when it is
// empty. With nothing to load it returns the defaults.
func LoadOrDefault(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = Discover()
	}
	if configPath == "" {
		return finish(Defaults())
	}
	return Load(configPath)
}

// Discover finds a config file by checking standard locations.
// Priority order: $FORKPOOL_CONFIG, ./forkpool.yaml, ~/.config/forkpool/forkpool.yaml.
// It returns "" when none exists.
func Discover() string {
	candidates := []string{os.Getenv(EnvConfigPath), "./forkpool.yaml"}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "forkpool", "forkpool.yaml"))
	}
	for _, path := range candidates {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func finish(cfg *Config) (*Config, error) {
	cfg = applyConfigDefaults(cfg)
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Parallel.Workers == 0 {
		cfg.Parallel.Workers = defaults.Parallel.Workers
	}
	if cfg.Parallel.Threshold == 0 {
		cfg.Parallel.Threshold = defaults.Parallel.Threshold
	}
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = defaults.Journal.Path
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	return cfg
}

// applyEnvOverrides honors FORKPOOL_WORKERS. Setting it also forces a parallel
// run regardless of the threshold.
func applyEnvOverrides(cfg *Config) error {
	raw, ok := os.LookupEnv(EnvWorkers)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%s must be an integer (got %q)", EnvWorkers, raw)
	}
	cfg.Parallel.Workers = n
	cfg.Parallel.Forced = true
	return nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	if cfg.Parallel.Workers < 1 {
		return fmt.Errorf("parallel.workers must be at least 1 (got %d)", cfg.Parallel.Workers)
	}
	if cfg.Parallel.Threshold < 0 {
		return fmt.Errorf("parallel.threshold must not be negative (got %d)", cfg.Parallel.Threshold)
	}
	if envVarPattern.MatchString(cfg.Parallel.SocketDir) {
		return unresolved("parallel.socket_dir", cfg.Parallel.SocketDir)
	}

	if cfg.Journal.Enabled {
		if cfg.Journal.Path == "" {
			return fmt.Errorf("journal.path is required when the journal is enabled")
		}
		if envVarPattern.MatchString(cfg.Journal.Path) {
			return unresolved("journal.path", cfg.Journal.Path)
		}
	}

	if cfg.API.Enabled && cfg.API.Listen == "" {
		return fmt.Errorf("api.listen is required when the api is enabled")
	}
	return nil
}

func unresolved(field, value string) error {
	matches := envVarPattern.FindStringSubmatch(value)
	if len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return fmt.Errorf("%s: unresolved environment variable", field)
}
