package external

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"google.golang.org/genai"

	"github.com/trial-matcher-server/internal/domain"
)

type fakeChatModel struct {
	reply    string
	err      error
	calls    int
	messages []llms.MessageContent
}

func (f *fakeChatModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++
	f.messages = messages
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeChatModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

type memoryCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: map[string]string{}}
}

func (m *memoryCache) GetText(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memoryCache) SetText(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func chatClient(model *fakeChatModel, cache ResponseCache) *RationaleClient {
	cfg := domain.RationaleConfig{Model: "llama3.1:instruct"}
	return newRationaleClient(domain.RationaleProviderOllama, cfg, newChatCompleter(model, cfg), quietLogger(), cache)
}

func TestRationaleClient_Generate(t *testing.T) {
	model := &fakeChatModel{reply: `  {"nct_id": "NCT1", "rationale": "fits", "clarify": []}  `}
	client := chatClient(model, nil)

	text, err := client.Generate(context.Background(), "system prompt", "user prompt")
	require.NoError(t, err)
	assert.Equal(t, `{"nct_id": "NCT1", "rationale": "fits", "clarify": []}`, text)

	require.Len(t, model.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
	assert.Equal(t, llms.TextPart("user prompt"), model.messages[1].Parts[0])
}

func TestRationaleClient_FailuresAreUnavailable(t *testing.T) {
	t.Run("backend error", func(t *testing.T) {
		client := chatClient(&fakeChatModel{err: errors.New("connection refused")}, nil)
		_, err := client.Generate(context.Background(), "s", "u")
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrRationaleUnavailable)
	})

	t.Run("empty reply", func(t *testing.T) {
		client := chatClient(&fakeChatModel{reply: "   "}, nil)
		_, err := client.Generate(context.Background(), "s", "u")
		assert.ErrorIs(t, err, domain.ErrRationaleUnavailable)
	})

	t.Run("missing backend is not soft", func(t *testing.T) {
		client := &RationaleClient{logger: quietLogger()}
		_, err := client.Generate(context.Background(), "s", "u")
		require.Error(t, err)
		assert.False(t, errors.Is(err, domain.ErrRationaleUnavailable))
	})
}

func TestRationaleClient_BreakerOpens(t *testing.T) {
	model := &fakeChatModel{err: errors.New("boom")}
	client := chatClient(model, nil)

	for i := 0; i < 5; i++ {
		_, err := client.Generate(context.Background(), "s", "u")
		assert.ErrorIs(t, err, domain.ErrRationaleUnavailable)
	}
	// Tripped after three failures; later calls never reach the model.
	assert.Equal(t, 3, model.calls)
}

func TestRationaleClient_UsesCache(t *testing.T) {
	model := &fakeChatModel{reply: "cached answer"}
	cache := newMemoryCache()
	client := chatClient(model, cache)

	for i := 0; i < 3; i++ {
		text, err := client.Generate(context.Background(), "s", "u")
		require.NoError(t, err)
		assert.Equal(t, "cached answer", text)
	}
	assert.Equal(t, 1, model.calls)
	assert.Len(t, cache.data, 1)

	_, err := client.Generate(context.Background(), "s", "different")
	require.NoError(t, err)
	assert.Equal(t, 2, model.calls)
}

type fakeGeminiModels struct {
	resp   *genai.GenerateContentResponse
	err    error
	config *genai.GenerateContentConfig
	model  string
}

func (f *fakeGeminiModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.config = config
	return f.resp, f.err
}

func TestGeminiCompleter(t *testing.T) {
	fake := &fakeGeminiModels{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []*genai.Part{{Text: "line one "}, nil, {Text: ""}}}},
			nil,
			{Content: &genai.Content{Parts: []*genai.Part{{Text: "line two"}}}},
		},
	}}
	cfg := domain.RationaleConfig{Model: "gemini-2.5-flash", Temperature: 0.4, MaxTokens: 256}
	client := newRationaleClient(domain.RationaleProviderGemini, cfg, newGeminiCompleter(fake, cfg), quietLogger(), nil)

	text, err := client.Generate(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", text)

	assert.Equal(t, "gemini-2.5-flash", fake.model)
	require.NotNil(t, fake.config.SystemInstruction)
	assert.Equal(t, "system", fake.config.SystemInstruction.Parts[0].Text)
	assert.Equal(t, float32(0.4), *fake.config.Temperature)
	assert.Equal(t, int32(256), fake.config.MaxOutputTokens)
}

func TestGeminiCompleter_EmptyIsUnavailable(t *testing.T) {
	fake := &fakeGeminiModels{resp: &genai.GenerateContentResponse{}}
	cfg := domain.RationaleConfig{Model: "gemini-2.5-flash"}
	client := newRationaleClient(domain.RationaleProviderGemini, cfg, newGeminiCompleter(fake, cfg), quietLogger(), nil)

	_, err := client.Generate(context.Background(), "system", "user")
	assert.ErrorIs(t, err, domain.ErrRationaleUnavailable)
	assert.Equal(t, float32(defaultRationaleTemp), *fake.config.Temperature)
}

func TestNewRationaleGenerator(t *testing.T) {
	_, err := NewRationaleGenerator(context.Background(), domain.RationaleConfig{Provider: "watson"}, quietLogger(), nil)
	assert.Error(t, err)

	_, err = NewRationaleGenerator(context.Background(), domain.RationaleConfig{Provider: domain.RationaleProviderGemini}, quietLogger(), nil)
	assert.Error(t, err)

	client, err := NewRationaleGenerator(context.Background(), domain.RationaleConfig{
		Provider: domain.RationaleProviderOllama,
		BaseURL:  "http://localhost:11434/v1",
		Model:    "llama3.1:instruct",
	}, quietLogger(), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.RationaleProviderOllama, client.provider)
}
