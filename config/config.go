/*
Package config loads server settings from the environment.

SOURCES (later wins):
  1. Defaults declared in envDefault tags
  2. .env and .env.local in the working directory, if present
  3. Process environment
  4. Command-line flags applied by cmd/server (-port, -db, -driver)

VARIABLES:
  PORT          HTTP listen port (8080)
  DB_DRIVER     sqlite3 | pgx (sqlite3)
  DB_DSN        SQLite path or PostgreSQL URL (clinic.db)
  CURRENCY      ISO 4217 code prices are kept in (USD)
  LOG_LEVEL     logrus level name (info)
  LOG_FORMAT    text | json (text)
  METRICS_PATH  Prometheus endpoint ("/metrics"; empty disables it)
  CORS_ORIGINS  Comma separated allowed origins (*)
  SEED_DEMO     Load the demo scenario at startup (false)
*/
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/warp/clinic-engine/generic"
)

// DefaultEnvFiles are loaded by Load when they exist.
var DefaultEnvFiles = []string{".env", ".env.local"}

type Config struct {
	Port        int      `env:"PORT" envDefault:"8080"`
	DBDriver    string   `env:"DB_DRIVER" envDefault:"sqlite3"`
	DBDSN       string   `env:"DB_DSN" envDefault:"clinic.db"`
	Currency    string   `env:"CURRENCY" envDefault:"USD"`
	LogLevel    string   `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string   `env:"LOG_FORMAT" envDefault:"text"`
	MetricsPath string   `env:"METRICS_PATH" envDefault:"/metrics"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	SeedDemo    bool     `env:"SEED_DEMO" envDefault:"false"`
}

// Load reads env files (missing ones are skipped) and then the environment.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = DefaultEnvFiles
	}
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) > 0 {
		// godotenv.Load never overrides variables already set in the process.
		if err := godotenv.Load(existing...); err != nil {
			return nil, fmt.Errorf("failed to load %v: %w", existing, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite3", "pgx":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite3 or pgx, got %q", c.DBDriver)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}
	if !generic.Currency(c.Currency).Known() {
		return fmt.Errorf("CURRENCY %q is not an ISO 4217 code", c.Currency)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// Addr is the listen address for http.Server.
func (c *Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }
