// Package config provides configuration parsing and validation for fileup.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrConfig wraps every fileup.yaml read/parse/validation failure.
var ErrConfig = errors.New("config: invalid configuration")

// Config holds the ambient knobs fileup reads from fileup.yaml. It never
// carries protocol-level settings: host, port, display name and the file
// to send live in transfer.info (spec §4.2) and retry counts are fixed by
// the wire protocol, not configurable here.
type Config struct {
	LogLevel       string        `yaml:"log_level"`
	LogFormat      string        `yaml:"log_format"`
	DataDir        string        `yaml:"data_dir"`
	Metrics        MetricsConfig `yaml:"metrics"`
	MaxBytesPerSec int64         `yaml:"max_bytes_per_sec"`
}

// MetricsConfig controls the optional Prometheus exposition.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// Default returns the configuration fileup runs with when fileup.yaml is
// absent.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		DataDir:   ".",
		Metrics: MetricsConfig{
			Enabled: false,
			Address: "127.0.0.1:9090",
		},
		MaxBytesPerSec: 0,
	}
}

// Load reads and parses a YAML config file at path. A missing file is not
// an error: Default() is returned instead, mirroring me.info's "absence
// means unregistered" treatment elsewhere in this repo.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrConfig, path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a Config, expanding environment
// variable references first and filling in any fields the document
// leaves zero-valued with Default()'s values.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("%w: parse yaml: %v", ErrConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their
// values, supporting ${VAR:-default} for a fallback when VAR is unset.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		if idx := strings.Index(name, ":-"); idx != -1 {
			varName := name[:idx]
			defaultVal := name[idx+2:]
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			return defaultVal
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Validate checks the configuration, accumulating every error found
// instead of failing on the first.
func (c *Config) Validate() error {
	var errs []string

	if !isValidLogLevel(c.LogLevel) {
		errs = append(errs, fmt.Sprintf("invalid log_level: %s (must be debug, info, warn, or error)", c.LogLevel))
	}
	if !isValidLogFormat(c.LogFormat) {
		errs = append(errs, fmt.Sprintf("invalid log_format: %s (must be text or json)", c.LogFormat))
	}
	if c.DataDir == "" {
		errs = append(errs, "data_dir is required")
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		errs = append(errs, "metrics.address is required when metrics.enabled is true")
	}
	if c.MaxBytesPerSec < 0 {
		errs = append(errs, "max_bytes_per_sec must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch strings.ToLower(format) {
	case "text", "json":
		return true
	default:
		return false
	}
}
