package domain

import (
	"context"
)

// Embedder turns text into unit-normalized vectors of a fixed dimension.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// TrialStore is the vector store holding trial records.
type TrialStore interface {
	Upsert(ctx context.Context, record *TrialRecord) error
	UpsertBatch(ctx context.Context, records []*TrialRecord) error
	// QueryNearest returns at most k trials ascending by cosine distance,
	// ties broken by insertion order.
	QueryNearest(ctx context.Context, vector []float32, k int) ([]RetrievedTrial, error)
	Count(ctx context.Context) (int, error)
}

// RationaleGenerator produces a short natural-language explanation of fit.
// Transport failures are reported wrapped with ErrRationaleUnavailable.
type RationaleGenerator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// TrialRefresher loads trials into the store when it has none.
type TrialRefresher interface {
	RefreshIfNeeded(ctx context.Context, opts RefreshOptions) (int, error)
}

// RefreshOptions steers a registry refresh.
type RefreshOptions struct {
	Force     bool
	Condition string
	Term      string
	State     string
	Country   string
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetRedisConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
