package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trial-matcher-server/internal/config"
	"github.com/trial-matcher-server/internal/domain"
	"github.com/trial-matcher-server/internal/repository"
)

func liteConfig(t *testing.T) *domain.Config {
	t.Helper()
	cfg := &domain.Config{
		Embedding: domain.EmbeddingConfig{BaseURL: "http://127.0.0.1:1/v1", Model: "all-MiniLM-L6-v2", Dimension: 8},
		Rationale: domain.RationaleConfig{Enabled: true, Provider: domain.RationaleProviderOllama, BaseURL: "http://127.0.0.1:1/v1", Model: "llama3.1:instruct"},
		CTGov:     domain.CTGovConfig{RefreshOnEmpty: true},
		Cache:     domain.CacheConfig{RedisURL: "redis://127.0.0.1:1"},
		Matching:  domain.MatchingConfig{DefaultTopK: 5},
		Feedback:  domain.FeedbackConfig{Enabled: true},
	}
	require.NoError(t, config.ApplyLite(cfg, filepath.Join(t.TempDir(), "data")))
	return cfg
}

func TestNewLite(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	a, err := New(context.Background(), liteConfig(t), logger)
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &repository.MemoryTrialStore{}, a.Trials)
	assert.Nil(t, a.DB)
	assert.Nil(t, a.Cache)
	assert.NotNil(t, a.Feedback)
	assert.Equal(t, 8, a.Embedder.Dimension())
	assert.Equal(t, 5, a.Matcher.DefaultTopK())

	count, err := a.Trials.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	cfg := liteConfig(t)
	cfg.Rationale.Provider = "unknown"

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	_, err := New(context.Background(), cfg, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rationale generator")
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger(domain.LoggingConfig{Level: "debug", Format: "text"})
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)

	logger = NewLogger(domain.LoggingConfig{Level: "nonsense"})
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}
