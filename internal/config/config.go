// Package config resolves the bridge configuration: compiled-in defaults,
// then an optional YAML file, then the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the resolved bridge configuration.
type Config struct {
	// Fixed paths, by contract with the environment image.
	SocketPath    string `yaml:"socket_path" env:"LAMBDAFPM_SOCKET"`
	PidPath       string `yaml:"pid_path" env:"LAMBDAFPM_PID_FILE"`
	FpmConfigPath string `yaml:"fpm_config_path" env:"LAMBDAFPM_FPM_CONFIG"`
	FpmBinary     string `yaml:"fpm_binary" env:"LAMBDAFPM_FPM_BINARY"`

	// Handler script, per the platform's conventions.
	Handler  string `yaml:"handler" env:"_HANDLER"`
	TaskRoot string `yaml:"task_root" env:"LAMBDA_TASK_ROOT"`

	// RuntimeAPI is the host:port of the platform's runtime API.
	RuntimeAPI string `yaml:"runtime_api" env:"AWS_LAMBDA_RUNTIME_API"`

	// MetricsAddr, when set, serves Prometheus metrics (local runs only).
	MetricsAddr string `yaml:"metrics_addr" env:"LAMBDAFPM_METRICS_ADDR"`

	LogLevel string `yaml:"log_level" env:"LAMBDAFPM_LOG_LEVEL"`
}

func defaults() *Config {
	return &Config{
		SocketPath:    "/tmp/.bref/php-fpm.sock",
		PidPath:       "/tmp/.bref/php-fpm.pid",
		FpmConfigPath: "/opt/bref/etc/php-fpm.conf",
		FpmBinary:     "php-fpm",
		Handler:       "index.php",
		TaskRoot:      "/var/task",
		LogLevel:      "info",
	}
}

// Load resolves the configuration. The YAML file is optional; a missing
// file is not an error, a malformed one is.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// optional
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	return cfg, nil
}

// HandlerPath is the absolute path of the handler script the worker runs.
func (c *Config) HandlerPath() string {
	if filepath.IsAbs(c.Handler) {
		return c.Handler
	}
	return filepath.Join(c.TaskRoot, c.Handler)
}
