package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/trial-matcher-server/internal/domain"
	"github.com/trial-matcher-server/internal/metrics"
)

// MockEmbedder is a mock implementation of domain.Embedder
type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

func (m *MockEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

func (m *MockEmbedder) Dimension() int {
	return 3
}

// MockTrialStore is a mock implementation of domain.TrialStore
type MockTrialStore struct {
	mock.Mock
}

func (m *MockTrialStore) Upsert(ctx context.Context, record *domain.TrialRecord) error {
	return m.Called(ctx, record).Error(0)
}

func (m *MockTrialStore) UpsertBatch(ctx context.Context, records []*domain.TrialRecord) error {
	return m.Called(ctx, records).Error(0)
}

func (m *MockTrialStore) QueryNearest(ctx context.Context, vector []float32, k int) ([]domain.RetrievedTrial, error) {
	args := m.Called(ctx, vector, k)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RetrievedTrial), args.Error(1)
}

func (m *MockTrialStore) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// MockRationaleGenerator is a mock implementation of domain.RationaleGenerator
type MockRationaleGenerator struct {
	mock.Mock
}

func (m *MockRationaleGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	args := m.Called(ctx, systemPrompt, userPrompt)
	return args.String(0), args.Error(1)
}

// MockRefresher is a mock implementation of domain.TrialRefresher
type MockRefresher struct {
	mock.Mock
}

func (m *MockRefresher) RefreshIfNeeded(ctx context.Context, opts domain.RefreshOptions) (int, error) {
	args := m.Called(ctx, opts)
	return args.Int(0), args.Error(1)
}

const lymphomaBundle = `{
	"patient": {"gender": "female", "birthDate": "1980-01-01"},
	"conditions": [{"code": {"text": "Lymphoma"}}],
	"observations": [
		{"code": {"text": "ECOG"}, "valueQuantity": {"value": 1}},
		{"code": {"text": "panel"}, "valueString": "EGFR positive"}
	]
}`

func retrievedTrials() []domain.RetrievedTrial {
	return []domain.RetrievedTrial{
		{NCTID: "NCT00000001", Title: "Unrelated", Eligibility: "Healthy volunteers", Distance: 0.1, Similarity: 0.9},
		{NCTID: "NCT00000002", Title: "Lymphoma study", Eligibility: "Lymphoma, ECOG 0-1, EGFR, adult women", Distance: 0.2, Similarity: 0.8},
	}
}

func newTestMatcher(embedder *MockEmbedder, store *MockTrialStore, opts ...MatcherOption) *MatcherService {
	return NewMatcherService(testLogger(), NewProfileExtractor(testLogger()), embedder, store, opts...)
}

func TestMatchForPatientBundle(t *testing.T) {
	ctx := context.Background()
	vector := []float32{1, 0, 0}

	t.Run("retrieval order preserved with rationale", func(t *testing.T) {
		embedder := new(MockEmbedder)
		store := new(MockTrialStore)
		gen := new(MockRationaleGenerator)

		embedder.On("EmbedText", ctx, mock.MatchedBy(func(s string) bool {
			return strings.HasPrefix(s, "Diagnosis: lymphoma")
		})).Return(vector, nil)
		store.On("QueryNearest", ctx, vector, 5).Return(retrievedTrials(), nil)
		gen.On("Generate", ctx, MatchSystemPrompt, mock.MatchedBy(func(p string) bool {
			return strings.Contains(p, "Trial NCT00000001: Unrelated")
		})).Return(`{"nct_id":"NCT00000001"}`, nil)
		gen.On("Generate", ctx, MatchSystemPrompt, mock.MatchedBy(func(p string) bool {
			return strings.Contains(p, "Trial NCT00000002: Lymphoma study")
		})).Return("", fmt.Errorf("ollama: %w", domain.ErrRationaleUnavailable))

		matcher := newTestMatcher(embedder, store, WithRationaleGenerator(gen), WithMetrics(metrics.New()))
		results, err := matcher.MatchForPatientBundle(ctx, &domain.MatchRequest{
			PatientFHIR: []byte(lymphomaBundle),
			TopK:        5,
		})
		require.NoError(t, err)
		require.Len(t, results, 2)

		assert.Equal(t, "NCT00000001", results[0].NCTID)
		assert.Equal(t, "NCT00000002", results[1].NCTID)
		assert.Greater(t, results[1].Score, results[0].Score)
		assert.Equal(t, 0.9, results[0].VectorSimilarity)

		require.NotNil(t, results[0].Rationale)
		assert.Equal(t, `{"nct_id":"NCT00000001"}`, *results[0].Rationale)
		assert.Nil(t, results[1].Rationale)

		embedder.AssertExpectations(t)
		store.AssertExpectations(t)
		gen.AssertExpectations(t)
	})

	t.Run("mistyped bundle fields degrade instead of failing", func(t *testing.T) {
		embedder := new(MockEmbedder)
		store := new(MockTrialStore)
		embedder.On("EmbedText", ctx, mock.MatchedBy(func(s string) bool {
			return strings.Contains(s, "ECOG 1") && !strings.Contains(s, "Gender")
		})).Return(vector, nil)
		store.On("QueryNearest", ctx, vector, 3).Return(retrievedTrials(), nil)

		matcher := newTestMatcher(embedder, store, WithMatchingConfig(domain.MatchingConfig{}))
		results, err := matcher.MatchForPatientBundle(ctx, &domain.MatchRequest{
			PatientFHIR: []byte(`{
				"patient": {"gender": 5, "birthDate": "1980-01-01"},
				"conditions": [{"code": {"text": 7}}, {"code": {"text": "Lymphoma"}}],
				"medications": "R-CHOP",
				"observations": [{"code": {"text": "ECOG"}, "valueQuantity": {"value": 1}}]
			}`),
			TopK: 3,
		})
		require.NoError(t, err)
		assert.Len(t, results, 2)
		embedder.AssertExpectations(t)
	})

	t.Run("malformed json is a validation error", func(t *testing.T) {
		matcher := newTestMatcher(new(MockEmbedder), new(MockTrialStore))
		_, err := matcher.MatchForPatientBundle(ctx, &domain.MatchRequest{
			PatientFHIR: []byte(`{"patient": `),
			TopK:        3,
		})
		require.Error(t, err)
		assert.Equal(t, domain.ErrValidation, domain.ErrorCode(err))
	})

	t.Run("sort by score when requested", func(t *testing.T) {
		embedder := new(MockEmbedder)
		store := new(MockTrialStore)
		embedder.On("EmbedText", ctx, mock.Anything).Return(vector, nil)
		store.On("QueryNearest", ctx, vector, 10).Return(retrievedTrials(), nil)

		matcher := newTestMatcher(embedder, store)
		results, err := matcher.MatchForPatientBundle(ctx, &domain.MatchRequest{
			PatientFHIR: []byte(lymphomaBundle),
			TopK:        10,
			SortByScore: true,
		})
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "NCT00000002", results[0].NCTID)
	})

	t.Run("invalid top_k rejected before retrieval", func(t *testing.T) {
		embedder := new(MockEmbedder)
		store := new(MockTrialStore)
		matcher := newTestMatcher(embedder, store)

		for _, k := range []int{0, -3} {
			_, err := matcher.MatchForPatientBundle(ctx, &domain.MatchRequest{TopK: k})
			var verr *domain.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, "top_k", verr.Field)
		}
		embedder.AssertNotCalled(t, "EmbedText", mock.Anything, mock.Anything)
		store.AssertNotCalled(t, "QueryNearest", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("top_k above configured maximum rejected", func(t *testing.T) {
		matcher := newTestMatcher(new(MockEmbedder), new(MockTrialStore),
			WithMatchingConfig(domain.MatchingConfig{DefaultTopK: 10, MaxTopK: 50}))
		_, err := matcher.MatchForPatientBundle(ctx, &domain.MatchRequest{TopK: 51})
		assert.Equal(t, domain.ErrValidation, domain.ErrorCode(err))
	})

	t.Run("embedding failure is fatal", func(t *testing.T) {
		embedder := new(MockEmbedder)
		store := new(MockTrialStore)
		embedder.On("EmbedText", ctx, mock.Anything).Return(nil, errors.New("connection refused"))

		matcher := newTestMatcher(embedder, store)
		results, err := matcher.MatchForPatientBundle(ctx, &domain.MatchRequest{TopK: 3})
		require.Error(t, err)
		assert.Nil(t, results)
		assert.Equal(t, domain.ErrEmbedding, domain.ErrorCode(err))
		store.AssertNotCalled(t, "QueryNearest", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("dimension mismatch surfaces as configuration error", func(t *testing.T) {
		embedder := new(MockEmbedder)
		store := new(MockTrialStore)
		embedder.On("EmbedText", ctx, mock.Anything).Return(vector, nil)
		store.On("QueryNearest", ctx, vector, 3).Return(nil, fmt.Errorf("query: %w", domain.ErrDimensionMismatch))

		matcher := newTestMatcher(embedder, store)
		_, err := matcher.MatchForPatientBundle(ctx, &domain.MatchRequest{TopK: 3})
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrDimensionMismatch))
		assert.Equal(t, domain.ErrConfiguration, domain.ErrorCode(err))
	})

	t.Run("retrieval failure is fatal", func(t *testing.T) {
		embedder := new(MockEmbedder)
		store := new(MockTrialStore)
		embedder.On("EmbedText", ctx, mock.Anything).Return(vector, nil)
		store.On("QueryNearest", ctx, vector, 3).Return(nil, errors.New("pool closed"))

		matcher := newTestMatcher(embedder, store)
		_, err := matcher.MatchForPatientBundle(ctx, &domain.MatchRequest{TopK: 3})
		assert.Equal(t, domain.ErrRetrieval, domain.ErrorCode(err))
	})

	t.Run("hard rationale error aborts", func(t *testing.T) {
		embedder := new(MockEmbedder)
		store := new(MockTrialStore)
		gen := new(MockRationaleGenerator)
		embedder.On("EmbedText", ctx, mock.Anything).Return(vector, nil)
		store.On("QueryNearest", ctx, vector, 3).Return(retrievedTrials(), nil)
		gen.On("Generate", ctx, mock.Anything, mock.Anything).Return("", errors.New("unknown provider"))

		matcher := newTestMatcher(embedder, store, WithRationaleGenerator(gen))
		results, err := matcher.MatchForPatientBundle(ctx, &domain.MatchRequest{TopK: 3})
		require.Error(t, err)
		assert.Nil(t, results)
		gen.AssertNumberOfCalls(t, "Generate", 1)
	})

	t.Run("empty rationale is soft", func(t *testing.T) {
		embedder := new(MockEmbedder)
		store := new(MockTrialStore)
		gen := new(MockRationaleGenerator)
		embedder.On("EmbedText", ctx, mock.Anything).Return(vector, nil)
		store.On("QueryNearest", ctx, vector, 3).Return(retrievedTrials(), nil)
		gen.On("Generate", ctx, mock.Anything, mock.Anything).Return("  ", nil)

		matcher := newTestMatcher(embedder, store, WithRationaleGenerator(gen))
		results, err := matcher.MatchForPatientBundle(ctx, &domain.MatchRequest{TopK: 3})
		require.NoError(t, err)
		for _, r := range results {
			assert.Nil(t, r.Rationale)
		}
	})

	t.Run("refresher receives hints", func(t *testing.T) {
		embedder := new(MockEmbedder)
		store := new(MockTrialStore)
		refresher := new(MockRefresher)
		refresher.On("RefreshIfNeeded", ctx, domain.RefreshOptions{Condition: "myeloma", Country: "Canada"}).Return(12, nil)
		embedder.On("EmbedText", ctx, mock.Anything).Return(vector, nil)
		store.On("QueryNearest", ctx, vector, 2).Return([]domain.RetrievedTrial{}, nil)

		matcher := newTestMatcher(embedder, store, WithRefresher(refresher))
		results, err := matcher.MatchForPatientBundle(ctx, &domain.MatchRequest{
			TopK:     2,
			CondHint: "myeloma",
			Country:  "Canada",
		})
		require.NoError(t, err)
		assert.Empty(t, results)
		refresher.AssertExpectations(t)
	})

	t.Run("refresh failure surfaces", func(t *testing.T) {
		refresher := new(MockRefresher)
		refresher.On("RefreshIfNeeded", ctx, mock.Anything).Return(0, errors.New("registry down"))

		matcher := newTestMatcher(new(MockEmbedder), new(MockTrialStore), WithRefresher(refresher))
		_, err := matcher.MatchForPatientBundle(ctx, &domain.MatchRequest{TopK: 2})
		assert.Equal(t, domain.ErrExternalAPI, domain.ErrorCode(err))
	})

	t.Run("invalid bundle rejected", func(t *testing.T) {
		matcher := newTestMatcher(new(MockEmbedder), new(MockTrialStore))
		_, err := matcher.MatchForPatientBundle(ctx, &domain.MatchRequest{PatientFHIR: []byte(`"text"`), TopK: 2})
		assert.Equal(t, domain.ErrValidation, domain.ErrorCode(err))
	})
}

func TestBuildReport(t *testing.T) {
	ctx := context.Background()
	vector := []float32{0, 1, 0}

	embedder := new(MockEmbedder)
	store := new(MockTrialStore)
	embedder.On("EmbedText", ctx, mock.Anything).Return(vector, nil)
	store.On("QueryNearest", ctx, vector, 10).Return(retrievedTrials(), nil)

	matcher := newTestMatcher(embedder, store)
	bundle, err := domain.DecodeClinicalBundle([]byte(lymphomaBundle))
	require.NoError(t, err)

	notes := "  Call 555-123-4567 or mail pt@example.com. " + strings.Repeat("x", 900)
	report, err := matcher.BuildReport(ctx, bundle, notes)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(report.PatientSummary, "Diagnosis: lymphoma; Age"))
	assert.True(t, strings.HasPrefix(report.NotesPreview, "Call [PHONE] or mail [EMAIL]."))
	assert.Len(t, []rune(report.NotesPreview), 800)
	assert.Len(t, report.Matches, 2)
}

func TestClassifyRationale(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		err    error
		status domain.RationaleStatus
	}{
		{"ok", "fits", nil, domain.RationaleOK},
		{"empty", "", nil, domain.RationaleSoftFailure},
		{"unavailable", "", fmt.Errorf("x: %w", domain.ErrRationaleUnavailable), domain.RationaleSoftFailure},
		{"deadline", "", context.DeadlineExceeded, domain.RationaleSoftFailure},
		{"other", "", errors.New("bad config"), domain.RationaleHardFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, classifyRationale(tt.text, tt.err).Status)
		})
	}
}
