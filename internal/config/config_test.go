package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsAndFile(t *testing.T) {
	// Arrange
	path := writeConfig(t, `
database:
  host: db
  user: qbank
  dbname: qbank
aggregate:
  repair_page_size: 250
`)

	// Act
	cfg, err := Load(path)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 250, cfg.Aggregate.RepairPageSize)
	assert.Equal(t, "permutation", cfg.Aggregate.SamplerMode, "Значение по умолчанию")
	assert.Equal(t, "auto", cfg.Aggregate.StrategyPolicy)
	assert.Equal(t, "qbank:aggregate:ops", cfg.Aggregate.Cluster.Channel)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "5432", cfg.Database.Port)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
database:
  host: db
  user: qbank
  dbname: qbank
`)
	t.Setenv("AGGREGATE_SAMPLER_MODE", "retry")
	t.Setenv("REDIS_ADDRS", "r1:6379, r2:6379")

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "retry", cfg.Aggregate.SamplerMode)
	assert.Equal(t, []string{"r1:6379", "r2:6379"}, cfg.Redis.Addrs)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"нет хоста БД", "database:\n  user: u\n  dbname: d\n"},
		{"неизвестный режим сэмплера", "database:\n  host: h\n  user: u\n  dbname: d\naggregate:\n  sampler_mode: magic\n"},
		{"неизвестная стратегия", "database:\n  host: h\n  user: u\n  dbname: d\naggregate:\n  strategy_policy: guess\n"},
		{"нулевая страница", "database:\n  host: h\n  user: u\n  dbname: d\naggregate:\n  repair_page_size: 0\n"},
		{"нулевой интервал снимков", "database:\n  host: h\n  user: u\n  dbname: d\naggregate:\n  snapshot:\n    interval_sec: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestDatabaseConfig_ConnectionStrings(t *testing.T) {
	d := DatabaseConfig{Host: "h", Port: "5432", User: "u", Password: "p", DBName: "db", SSLMode: "disable"}

	assert.Equal(t, "host=h port=5432 user=u password=p dbname=db sslmode=disable", d.PostgresConnectionString())
	assert.Equal(t, "postgres://u:p@h:5432/db?sslmode=disable", d.MigrationURL())
}
