package external

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"github.com/trial-matcher-server/internal/domain"
)

const defaultGeminiModel = "gemini-2.5-flash"

// geminiModels is the subset of *genai.Models used for rationales.
type geminiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type geminiCompleter struct {
	models      geminiModels
	model       string
	temperature float32
	maxTokens   int32
}

// NewGeminiRationale uses the Gemini API backend.
func NewGeminiRationale(ctx context.Context, config domain.RationaleConfig, logger *logrus.Logger, cache ResponseCache) (*RationaleClient, error) {
	apiKey := strings.TrimSpace(config.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	if strings.TrimSpace(config.Model) == "" {
		config.Model = defaultGeminiModel
	}
	return newRationaleClient(domain.RationaleProviderGemini, config, newGeminiCompleter(client.Models, config), logger, cache), nil
}

func newGeminiCompleter(models geminiModels, config domain.RationaleConfig) *geminiCompleter {
	temp := config.Temperature
	if temp <= 0 {
		temp = defaultRationaleTemp
	}
	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultRationaleMaxTokens
	}
	return &geminiCompleter{
		models:      models,
		model:       config.Model,
		temperature: float32(temp),
		maxTokens:   int32(maxTokens),
	}
}

func (g *geminiCompleter) complete(ctx context.Context, system, user string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: system}}},
		Temperature:       genai.Ptr(g.temperature),
		MaxOutputTokens:   g.maxTokens,
	}

	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(user), cfg)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if resp == nil {
		return "", errors.New("gemini api returned no response")
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}
	return builder.String(), nil
}
