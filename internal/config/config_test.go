package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "DATA.xlsx", cfg.Input.Path)
	assert.Equal(t, "utf-8", cfg.Input.Encoding)
	assert.Nil(t, cfg.Input.AuxColumns)
	assert.Equal(t, "RESULTADOS_FINALES.xlsx", cfg.Output.Path)
	assert.Equal(t, "auto", cfg.Output.Driver)
	assert.Equal(t, 1000, cfg.Output.BusyTimeoutMs)
	assert.Equal(t, 5, cfg.Output.Retry.MaxAttempts)
	assert.Equal(t, 5, cfg.Workers.Count)
	assert.Equal(t, 2000, cfg.Workers.StaggerMs)
	assert.Equal(t, 500, cfg.Workers.ItemDelayMs)
	assert.Equal(t, 3, cfg.Workers.SessionAttempts)
	assert.Equal(t, 3, cfg.Workers.SessionBackoffSecs)
	assert.Equal(t, 5, cfg.Coordinator.PollIntervalSecs)
	assert.Equal(t, 30, cfg.Coordinator.CheckpointIntervalSecs)
	assert.Equal(t, LookupBrowser, cfg.Lookup.Driver)
	assert.NotEmpty(t, cfg.Lookup.URL)
	assert.Equal(t, 10, cfg.Lookup.TimeoutSecs)
	assert.Equal(t, `\b(?:10|20)\d{9}\b`, cfg.Lookup.IdentifierPattern)
	assert.Equal(t, "20", cfg.Lookup.PreferredPrefix)
	assert.Equal(t, []string{"ACTIVO"}, cfg.Lookup.Keywords.Active)
	assert.Equal(t, []string{"BAJA"}, cfg.Lookup.Keywords.Inactive)
	assert.Equal(t, []string{"SUSPENSION"}, cfg.Lookup.Keywords.Suspended)
	assert.True(t, cfg.Lookup.Browser.Headless)
	assert.Equal(t, -1, cfg.Lookup.Browser.VisibleWorker)
	assert.Empty(t, cfg.Metrics.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
input:
  path: empresas.csv
  key_column: NOMBRE
  aux_columns: [DIRECCION]
output:
  path: progress.db
workers:
  count: 8
lookup:
  driver: http
  keywords:
    active: [HABIDO, ACTIVO]
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "empresas.csv", cfg.Input.Path)
	assert.Equal(t, "NOMBRE", cfg.Input.KeyColumn)
	assert.Equal(t, []string{"DIRECCION"}, cfg.Input.AuxColumns)
	assert.Equal(t, "progress.db", cfg.Output.Path)
	assert.Equal(t, 8, cfg.Workers.Count)
	assert.Equal(t, LookupHTTP, cfg.Lookup.Driver)
	assert.Equal(t, []string{"HABIDO", "ACTIVO"}, cfg.Lookup.Keywords.Active)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Defaults still apply for unset values
	assert.Equal(t, 2000, cfg.Workers.StaggerMs)
	assert.Equal(t, []string{"BAJA"}, cfg.Lookup.Keywords.Inactive)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
workers:
  count: 2
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("TAXID_WORKERS_COUNT", "8")
	t.Setenv("TAXID_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, 8, cfg.Workers.Count)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("TAXID_OUTPUT_PATH", "out.csv")
	t.Setenv("TAXID_METRICS_ADDR", ":9090")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "out.csv", cfg.Output.Path)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("workers: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Input.Path = "DATA.xlsx"
	cfg.Output.Path = "RESULTADOS_FINALES.xlsx"
	cfg.Output.Driver = "auto"
	cfg.Workers.Count = 5
	cfg.Workers.SessionAttempts = 3
	cfg.Workers.SessionBackoffSecs = 3
	cfg.Lookup.Driver = LookupOffline
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"zero workers", func(c *Config) { c.Workers.Count = 0 }, "workers.count must be at least 1"},
		{"zero session attempts", func(c *Config) { c.Workers.SessionAttempts = 0 }, "workers.session_attempts must be at least 1"},
		{"negative session backoff", func(c *Config) { c.Workers.SessionBackoffSecs = -1 }, "workers.session_backoff_secs must not be negative"},
		{"zero session backoff", func(c *Config) { c.Workers.SessionBackoffSecs = 0 }, ""},
		{"no input", func(c *Config) { c.Input.Path = " " }, "input.path is required"},
		{"no output", func(c *Config) { c.Output.Path = "" }, "output.path is required"},
		{"postgres without url", func(c *Config) { c.Output.Driver = "postgres" }, "output.database_url is required"},
		{"postgres with url", func(c *Config) {
			c.Output.Driver = "postgres"
			c.Output.DatabaseURL = "postgres://localhost/taxid"
		}, ""},
		{"unknown store driver", func(c *Config) { c.Output.Driver = "mongo" }, "unknown output.driver"},
		{"browser without url", func(c *Config) { c.Lookup.Driver = LookupBrowser }, "lookup.url is required"},
		{"http with url", func(c *Config) {
			c.Lookup.Driver = LookupHTTP
			c.Lookup.URL = "https://example.test/form"
		}, ""},
		{"unknown lookup driver", func(c *Config) { c.Lookup.Driver = "carrier-pigeon" }, "unknown lookup.driver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
