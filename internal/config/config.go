// Package config loads the yaml configuration shared by the server and
// the role client harness.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full application configuration. Zero values fall back to
// the defaults below.
type Config struct {
	Server struct {
		Port        int `yaml:"port"`
		MetricsPort int `yaml:"metrics_port"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Auth struct {
		JWTSecret string        `yaml:"jwt_secret"`
		TokenTTL  time.Duration `yaml:"token_ttl"`
	} `yaml:"auth"`

	Channel struct {
		InitialBackoff time.Duration `yaml:"initial_backoff"`
		MaxBackoff     time.Duration `yaml:"max_backoff"`
		BackoffFactor  float64       `yaml:"backoff_factor"`
		JoinTimeout    time.Duration `yaml:"join_timeout"`
	} `yaml:"channel"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Server.MetricsPort = 9090
	cfg.Database.Path = "tableflow.db"
	cfg.Auth.JWTSecret = "dev-secret"
	cfg.Auth.TokenTTL = 12 * time.Hour
	cfg.Channel.InitialBackoff = 500 * time.Millisecond
	cfg.Channel.MaxBackoff = 30 * time.Second
	cfg.Channel.BackoffFactor = 2
	cfg.Channel.JoinTimeout = 5 * time.Second
	return cfg
}

// Load reads a yaml config file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
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
	return cfg, nil
}
