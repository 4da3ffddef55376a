package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ConfigYAML(t *testing.T) {
	path := filepath.Join("..", "..", "config.yaml")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.Database.Host)
	assert.NotZero(t, cfg.RabbitMQ.Port)
	assert.Equal(t, 30, cfg.Waitlist.ServiceMinutes)
	assert.Equal(t, 30*time.Second, cfg.HTTP.RequestTimeout)
	assert.Equal(t, "0.92", cfg.Currency.Rates["EUR"])
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  host: db\n  password: file\n"), 0o600))

	t.Setenv("DB_PASSWORD", "from-env")
	t.Setenv("DB_PORT", "6543")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Database.Password)
	assert.Equal(t, 6543, cfg.Database.Port)
	// untouched sections keep their defaults
	assert.Equal(t, 5, cfg.Fulfillment.MaxAttempts)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"missing db host", func(c *Config) { c.Database.Host = "" }, true},
		{"zero service minutes", func(c *Config) { c.Waitlist.ServiceMinutes = 0 }, true},
		{"unknown exporter", func(c *Config) { c.Telemetry.Exporter = "zipkin" }, true},
		{"otlp exporter", func(c *Config) { c.Telemetry.Exporter = "otlp" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseURL(t *testing.T) {
	cfg := Default()
	cfg.Database.User = "u"
	cfg.Database.Password = "p"
	cfg.Database.Database = "orders"
	assert.Equal(t, "postgres://u:p@localhost:5432/orders?sslmode=disable", cfg.DatabaseURL())
}
