package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trial-matcher-server/internal/domain"
)

func newTestManager(t *testing.T, yaml string) *Manager {
	t.Helper()
	v := viper.New()
	if yaml != "" {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(t.TempDir())
	}
	m, err := NewManagerWithViper(v)
	require.NoError(t, err)
	return m
}

func TestDefaults(t *testing.T) {
	cfg := newTestManager(t, "").GetConfig()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "examples", cfg.Server.ExamplesDir)
	assert.Equal(t, domain.DefaultEmbeddingDimension, cfg.Embedding.Dimension)
	assert.Equal(t, 30*time.Second, cfg.Embedding.Timeout)
	assert.Equal(t, domain.RationaleProviderOllama, cfg.Rationale.Provider)
	assert.Equal(t, 24*time.Hour, cfg.Rationale.CacheTTL)
	assert.Equal(t, []string{"RECRUITING", "NOT_YET_RECRUITING"}, cfg.CTGov.Statuses)
	assert.Equal(t, 200*time.Millisecond, cfg.CTGov.PageDelay)
	assert.Equal(t, "lymphoma", cfg.CTGov.DefaultCondition)
	assert.Equal(t, "United States", cfg.CTGov.DefaultCountry)
	assert.Equal(t, 10, cfg.Matching.DefaultTopK)
	assert.Equal(t, 50, cfg.Matching.MaxTopK)
	assert.Equal(t, domain.FeedbackDriverPostgres, cfg.Feedback.Driver)
}

func TestConfigFileAndEnvOverride(t *testing.T) {
	t.Setenv("TRIAL_MATCHER_SERVER_PORT", "9191")

	m := newTestManager(t, `
server:
  port: 7000
ctgov:
  default_condition: breast cancer
  statuses: [RECRUITING]
matching:
  default_top_k: 5
`)
	cfg := m.GetConfig()

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "breast cancer", cfg.CTGov.DefaultCondition)
	assert.Equal(t, []string{"RECRUITING"}, cfg.CTGov.Statuses)
	assert.Equal(t, 5, cfg.Matching.DefaultTopK)
	assert.Equal(t, cfg.Server, *m.GetServerConfig())
}

func TestValidate(t *testing.T) {
	valid := func() *domain.Config {
		return newTestManager(t, "").GetConfig()
	}

	require.NoError(t, Validate(valid()))

	tests := []struct {
		name   string
		mutate func(*domain.Config)
		errMsg string
	}{
		{"bad port", func(c *domain.Config) { c.Server.Port = 0 }, "invalid server port"},
		{"missing db host", func(c *domain.Config) { c.Database.Host = "" }, "database host is required"},
		{"zero dimension", func(c *domain.Config) { c.Embedding.Dimension = 0 }, "embedding dimension"},
		{"unknown provider", func(c *domain.Config) { c.Rationale.Provider = "bard" }, "invalid rationale provider"},
		{"gemini without key", func(c *domain.Config) { c.Rationale.Provider = domain.RationaleProviderGemini }, "api key is required"},
		{"top k above max", func(c *domain.Config) { c.Matching.DefaultTopK = 99 }, "exceeds max_top_k"},
		{"sqlite without path", func(c *domain.Config) { c.Feedback.Driver = domain.FeedbackDriverSQLite }, "sqlite_path is required"},
		{"unknown driver", func(c *domain.Config) { c.Feedback.Driver = "mongo" }, "invalid feedback driver"},
		{"bad log level", func(c *domain.Config) { c.Logging.Level = "verbose" }, "invalid log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidateDisabledRationaleSkipsProvider(t *testing.T) {
	cfg := newTestManager(t, "").GetConfig()
	cfg.Rationale.Enabled = false
	cfg.Rationale.Provider = "anything"
	assert.NoError(t, Validate(cfg))
}

func TestApplyLite(t *testing.T) {
	cfg := newTestManager(t, "").GetConfig()
	cfg.Cache.RedisURL = "redis://localhost:6379"
	dir := filepath.Join(t.TempDir(), "data")

	require.NoError(t, ApplyLite(cfg, dir))

	assert.DirExists(t, dir)
	assert.True(t, cfg.Matching.UseMemoryStore)
	assert.Equal(t, domain.FeedbackDriverSQLite, cfg.Feedback.Driver)
	assert.Equal(t, filepath.Join(dir, "feedback.db"), cfg.Feedback.SQLitePath)
	assert.Empty(t, cfg.Cache.RedisURL)

	// Lite mode needs no database settings.
	cfg.Database.Host = ""
	assert.NoError(t, Validate(cfg))
}

func TestDefaultDataDirEnv(t *testing.T) {
	t.Setenv(DataDirEnv, "/tmp/trial-matcher-test")
	assert.Equal(t, "/tmp/trial-matcher-test", DefaultDataDir())
}

func TestConnectionStrings(t *testing.T) {
	m := newTestManager(t, "")
	assert.Equal(t, "host=localhost port=5432 user=postgres password= dbname=trials sslmode=disable",
		m.GetDatabaseConnectionString())
	assert.Empty(t, m.GetRedisConnectionString())
	assert.True(t, m.IsDevelopment())
	assert.False(t, m.IsProduction())
}
