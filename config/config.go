package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration. Environment variables win over
// the optional YAML file so containerized deployments can override a baked-in
// config without rebuilding.
type Config struct {
	DatabaseURL string `yaml:"database_url"`
	ServerPort  string `yaml:"server_port"`
	JWTSecret   string `yaml:"jwt_secret"`
}

// Load reads the YAML file named by ESCROWFLOW_CONFIG when set, then applies
// environment variable overrides and defaults.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL: "postgres://localhost/escrowflow?sslmode=disable",
		ServerPort:  "8080",
	}

	if path := os.Getenv("ESCROWFLOW_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	overrideEnv(&cfg.DatabaseURL, "DATABASE_URL")
	overrideEnv(&cfg.ServerPort, "SERVER_PORT")
	overrideEnv(&cfg.JWTSecret, "JWT_SECRET")

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("config: JWT_SECRET is required")
	}
	return cfg, nil
}

func overrideEnv(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}
