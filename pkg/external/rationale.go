package external

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/trial-matcher-server/internal/domain"
)

const (
	defaultRationaleTimeout   = 60 * time.Second
	defaultRationaleMaxTokens = 512
	defaultRationaleTemp      = 0.2
)

// completer is one chat round trip against a model backend.
type completer interface {
	complete(ctx context.Context, system, user string) (string, error)
}

// RationaleClient generates short eligibility rationales. Every transport or
// model failure is reported as domain.ErrRationaleUnavailable so callers can
// continue without the text.
type RationaleClient struct {
	provider string
	model    string
	backend  completer
	breaker  *gobreaker.CircuitBreaker
	cache    ResponseCache
	cacheTTL time.Duration
	timeout  time.Duration
	logger   *logrus.Logger
}

// NewRationaleGenerator builds the client for the configured provider.
func NewRationaleGenerator(ctx context.Context, config domain.RationaleConfig, logger *logrus.Logger, cache ResponseCache) (*RationaleClient, error) {
	switch config.Provider {
	case domain.RationaleProviderOllama, "":
		return NewOllamaRationale(config, logger, cache)
	case domain.RationaleProviderGemini:
		return NewGeminiRationale(ctx, config, logger, cache)
	default:
		return nil, fmt.Errorf("unsupported rationale provider %q", config.Provider)
	}
}

// NewOllamaRationale talks to an OpenAI-compatible chat endpoint such as
// Ollama's /v1.
func NewOllamaRationale(config domain.RationaleConfig, logger *logrus.Logger, cache ResponseCache) (*RationaleClient, error) {
	token := config.APIKey
	if token == "" {
		token = "none"
	}
	client, err := openai.New(
		openai.WithBaseURL(config.BaseURL),
		openai.WithToken(token),
		openai.WithModel(config.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat client: %w", err)
	}
	return newRationaleClient(domain.RationaleProviderOllama, config, newChatCompleter(client, config), logger, cache), nil
}

func newRationaleClient(provider string, config domain.RationaleConfig, backend completer, logger *logrus.Logger, cache ResponseCache) *RationaleClient {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultRationaleTimeout
	}
	return &RationaleClient{
		provider: provider,
		model:    config.Model,
		backend:  backend,
		breaker:  NewCircuitBreaker("rationale-"+provider, DefaultCircuitBreakerConfig(), logger),
		cache:    cache,
		cacheTTL: config.CacheTTL,
		timeout:  timeout,
		logger:   logger,
	}
}

// Generate returns the model's answer for one system/user prompt pair.
func (c *RationaleClient) Generate(ctx context.Context, system, user string) (string, error) {
	if c.backend == nil {
		return "", errors.New("rationale backend is not configured")
	}

	key := "trialmatch:rationale:" + fingerprint(c.provider, c.model, system, user)
	if c.cache != nil {
		if text, ok, err := c.cache.GetText(ctx, key); err != nil {
			c.logger.WithError(err).Debug("Rationale cache lookup failed")
		} else if ok {
			return text, nil
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.backend.complete(callCtx, system, user)
	})
	if err != nil {
		fields := logrus.Fields{"provider": c.provider, "model": c.model}
		if isBreakerRejection(err) {
			c.logger.WithFields(fields).Debug("Rationale breaker open")
		} else {
			c.logger.WithFields(fields).WithError(err).Warn("Rationale request failed")
		}
		return "", fmt.Errorf("%w: %w", domain.ErrRationaleUnavailable, err)
	}

	text := strings.TrimSpace(out.(string))
	if text == "" {
		return "", fmt.Errorf("%w: empty response", domain.ErrRationaleUnavailable)
	}

	if c.cache != nil {
		if err := c.cache.SetText(ctx, key, text, c.cacheTTL); err != nil {
			c.logger.WithError(err).Debug("Rationale cache store failed")
		}
	}
	return text, nil
}

type chatCompleter struct {
	model       llms.Model
	temperature float64
	maxTokens   int
}

func newChatCompleter(model llms.Model, config domain.RationaleConfig) *chatCompleter {
	temp := config.Temperature
	if temp <= 0 {
		temp = defaultRationaleTemp
	}
	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultRationaleMaxTokens
	}
	return &chatCompleter{model: model, temperature: temp, maxTokens: maxTokens}
}

func (c *chatCompleter) complete(ctx context.Context, system, user string) (string, error) {
	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(system)},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(user)},
		},
	}

	resp, err := c.model.GenerateContent(ctx, content,
		llms.WithTemperature(c.temperature),
		llms.WithMaxTokens(c.maxTokens),
	)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", errors.New("no choices returned from model")
	}
	return resp.Choices[0].Content, nil
}
