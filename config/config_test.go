package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "sqlite3", cfg.DBDriver)
	assert.Equal(t, "USD", cfg.Currency)
	assert.Equal(t, "/metrics", cfg.MetricsPath)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.False(t, cfg.SeedDemo)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvFileAndProcessEnv(t *testing.T) {
	// GIVEN: a .env file plus variables already set in the process
	file := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(file, []byte("DB_DSN=from-file.db\n"), 0o600))
	t.Setenv("PORT", "9090")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("DB_DSN", "") // restored on cleanup
	os.Unsetenv("DB_DSN")

	// WHEN
	cfg, err := Load(file)

	// THEN
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "from-file.db", cfg.DBDSN)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, ":9090", cfg.Addr())
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{Port: 8080, DBDriver: "sqlite3", DBDSN: "x.db", Currency: "EUR", LogLevel: "debug", LogFormat: "json"}
	}
	require.NoError(t, base().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.DBDriver = "mysql" }},
		{"empty dsn", func(c *Config) { c.DBDSN = "" }},
		{"bad port", func(c *Config) { c.Port = 0 }},
		{"unknown currency", func(c *Config) { c.Currency = "QQQ" }},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
