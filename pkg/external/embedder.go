package external

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/trial-matcher-server/internal/domain"
	"github.com/trial-matcher-server/internal/metrics"
)

const (
	defaultEmbeddingTimeout   = 30 * time.Second
	defaultEmbeddingCacheSize = 1024
)

// Embedder turns text into unit-length vectors through an OpenAI-compatible
// embeddings endpoint. The underlying client is built on first use.
type Embedder struct {
	config  domain.EmbeddingConfig
	logger  *logrus.Logger
	metrics *metrics.Metrics

	once    sync.Once
	initErr error
	client  embeddings.Embedder

	cache *lru.Cache[string, []float32]
}

// EmbedderOption configures an Embedder.
type EmbedderOption func(*Embedder)

// WithEmbedderMetrics records cache hits and misses.
func WithEmbedderMetrics(m *metrics.Metrics) EmbedderOption {
	return func(e *Embedder) { e.metrics = m }
}

// WithEmbeddingClient injects a prebuilt langchaingo embedder.
func WithEmbeddingClient(client embeddings.Embedder) EmbedderOption {
	return func(e *Embedder) {
		e.client = client
		e.once.Do(func() {})
	}
}

// NewEmbedder creates a new embedder. No network call is made until the
// first EmbedText.
func NewEmbedder(config domain.EmbeddingConfig, logger *logrus.Logger, opts ...EmbedderOption) (*Embedder, error) {
	if config.Dimension <= 0 {
		config.Dimension = domain.DefaultEmbeddingDimension
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultEmbeddingTimeout
	}
	size := config.CacheSize
	if size <= 0 {
		size = defaultEmbeddingCacheSize
	}

	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}

	e := &Embedder{
		config: config,
		logger: logger,
		cache:  cache,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Embedder) init() error {
	e.once.Do(func() {
		token := e.config.APIKey
		if token == "" {
			token = "none"
		}
		client, err := openai.New(
			openai.WithBaseURL(e.config.BaseURL),
			openai.WithToken(token),
			openai.WithEmbeddingModel(e.config.Model),
		)
		if err != nil {
			e.initErr = fmt.Errorf("failed to create embedding client: %w", err)
			return
		}
		embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
		if err != nil {
			e.initErr = fmt.Errorf("failed to create embedder: %w", err)
			return
		}
		e.client = embedder
		e.logger.WithFields(logrus.Fields{
			"base_url":  e.config.BaseURL,
			"model":     e.config.Model,
			"dimension": e.config.Dimension,
		}).Info("Embedding client initialized")
	})
	return e.initErr
}

// Dimension returns the configured vector dimension.
func (e *Embedder) Dimension() int {
	return e.config.Dimension
}

// EmbedText embeds a single text. Cached vectors are copied, so callers may
// modify the result.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.cache.Get(text); ok {
		e.metrics.IncEmbedCache(true)
		return slices.Clone(v), nil
	}
	e.metrics.IncEmbedCache(false)

	vectors, err := e.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	e.cache.Add(text, slices.Clone(vectors[0]))
	return vectors[0], nil
}

// EmbedTexts embeds texts in one call, preserving order.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	return e.embed(ctx, texts)
}

func (e *Embedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.init(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	vectors, err := e.client.EmbedDocuments(ctx, texts)
	if err != nil {
		e.logger.WithError(err).WithField("count", len(texts)).Error("Failed to generate embeddings")
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding service returned %d vectors for %d texts", len(vectors), len(texts))
	}

	for i, v := range vectors {
		if len(v) != e.config.Dimension {
			return nil, fmt.Errorf("%w: got %d, want %d", domain.ErrDimensionMismatch, len(v), e.config.Dimension)
		}
		vectors[i] = Normalize(v)
	}
	return vectors, nil
}

// Normalize scales v to unit L2 length. A zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
