package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trial-matcher-server/internal/domain"
	"github.com/trial-matcher-server/internal/metrics"
	"github.com/trial-matcher-server/pkg/redact"
)

const (
	defaultTopK              = 10
	defaultNotesPreviewChars = 800
)

// MatcherService runs the match pipeline: profile, summary, embedding,
// nearest-trial retrieval, per-trial scoring and best-effort rationale.
type MatcherService struct {
	logger    *logrus.Logger
	extractor *ProfileExtractor
	scorer    *Scorer
	embedder  domain.Embedder
	store     domain.TrialStore
	rationale domain.RationaleGenerator
	refresher domain.TrialRefresher
	metrics   *metrics.Metrics
	config    domain.MatchingConfig
}

// MatcherOption configures optional collaborators.
type MatcherOption func(*MatcherService)

// WithRationaleGenerator enables per-trial rationale generation.
func WithRationaleGenerator(g domain.RationaleGenerator) MatcherOption {
	return func(m *MatcherService) { m.rationale = g }
}

// WithRefresher loads trials on demand when the store is empty.
func WithRefresher(r domain.TrialRefresher) MatcherOption {
	return func(m *MatcherService) { m.refresher = r }
}

// WithMetrics records pipeline metrics.
func WithMetrics(mt *metrics.Metrics) MatcherOption {
	return func(m *MatcherService) { m.metrics = mt }
}

// WithMatchingConfig sets request limits.
func WithMatchingConfig(cfg domain.MatchingConfig) MatcherOption {
	return func(m *MatcherService) { m.config = cfg }
}

// NewMatcherService creates a new matcher service
func NewMatcherService(
	logger *logrus.Logger,
	extractor *ProfileExtractor,
	embedder domain.Embedder,
	store domain.TrialStore,
	opts ...MatcherOption,
) *MatcherService {
	m := &MatcherService{
		logger:    logger,
		extractor: extractor,
		scorer:    NewScorer(),
		embedder:  embedder,
		store:     store,
		config: domain.MatchingConfig{
			DefaultTopK:       defaultTopK,
			NotesPreviewChars: defaultNotesPreviewChars,
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Extractor returns the profile extractor used by the service.
func (m *MatcherService) Extractor() *ProfileExtractor {
	return m.extractor
}

// DefaultTopK is the top_k applied when a caller omits it.
func (m *MatcherService) DefaultTopK() int {
	if m.config.DefaultTopK > 0 {
		return m.config.DefaultTopK
	}
	return defaultTopK
}

// MatchForPatientBundle returns candidate trials for one patient. Results
// keep retrieval order unless the request asks for score order.
func (m *MatcherService) MatchForPatientBundle(ctx context.Context, req *domain.MatchRequest) ([]domain.MatchResult, error) {
	start := time.Now()
	results, err := m.match(ctx, req)
	m.metrics.ObserveMatch(domain.ErrorCode(err), time.Since(start), len(results))
	return results, err
}

func (m *MatcherService) match(ctx context.Context, req *domain.MatchRequest) ([]domain.MatchResult, error) {
	if req == nil {
		return nil, domain.NewValidationError("request", "match request is required", nil)
	}
	if req.TopK <= 0 {
		return nil, domain.NewValidationError("top_k", "must be a positive integer", req.TopK)
	}
	if m.config.MaxTopK > 0 && req.TopK > m.config.MaxTopK {
		return nil, domain.NewValidationError("top_k", fmt.Sprintf("must not exceed %d", m.config.MaxTopK), req.TopK)
	}

	bundle := req.Bundle
	if bundle == nil {
		decoded, err := domain.DecodeClinicalBundle(req.PatientFHIR)
		if err != nil {
			return nil, err
		}
		bundle = decoded
	}

	profile := m.extractor.BuildPatientProfile(bundle, req.Notes)
	summary := SummarizeProfile(&profile)

	logger := m.logger.WithFields(logrus.Fields{
		"top_k":         req.TopK,
		"cond_hint":     req.CondHint,
		"country":       req.Country,
		"sort_by_score": req.SortByScore,
	})
	logger.Info("Starting trial match")

	if m.refresher != nil {
		loaded, err := m.refresher.RefreshIfNeeded(ctx, domain.RefreshOptions{
			Condition: req.CondHint,
			Country:   req.Country,
		})
		if err != nil {
			return nil, domain.NewMatchError(domain.ErrExternalAPI, "failed to refresh trial corpus", err)
		}
		if loaded > 0 {
			logger.WithField("loaded", loaded).Info("Refreshed empty trial corpus")
		}
	}

	stageStart := time.Now()
	vector, err := m.embedder.EmbedText(ctx, summary)
	m.metrics.ObserveStage("embed", time.Since(stageStart))
	if err != nil {
		logger.WithError(err).Error("Failed to embed patient summary")
		return nil, domain.NewMatchError(domain.ErrEmbedding, "failed to embed patient summary", err)
	}

	stageStart = time.Now()
	trials, err := m.store.QueryNearest(ctx, vector, req.TopK)
	m.metrics.ObserveStage("retrieve", time.Since(stageStart))
	if err != nil {
		logger.WithError(err).Error("Failed to retrieve nearest trials")
		return nil, domain.NewMatchError(domain.ErrRetrieval, "failed to retrieve nearest trials", err)
	}

	results := make([]domain.MatchResult, 0, len(trials))
	for _, trial := range trials {
		scored := m.scorer.ComputeScore(&profile, trial.Eligibility)

		outcome, err := m.explain(ctx, summary, trial)
		if err != nil {
			return nil, err
		}

		result := domain.MatchResult{
			NCTID:            trial.NCTID,
			Title:            trial.Title,
			Score:            scored.Score,
			ScoreBreakdown:   scored.Breakdown,
			Uncertain:        scored.Uncertain,
			VectorSimilarity: trial.Similarity,
		}
		if outcome.Status == domain.RationaleOK {
			text := outcome.Text
			result.Rationale = &text
		}
		results = append(results, result)
	}

	if req.SortByScore {
		sort.SliceStable(results, func(i, j int) bool {
			return results[i].Score > results[j].Score
		})
	}

	logger.WithField("matches", len(results)).Info("Trial match completed")
	return results, nil
}

// explain asks for one rationale. Soft failures come back as an outcome;
// only programming or configuration faults are returned as errors.
func (m *MatcherService) explain(ctx context.Context, summary string, trial domain.RetrievedTrial) (domain.RationaleOutcome, error) {
	if m.rationale == nil {
		return domain.RationaleOutcome{Status: domain.RationaleDisabled}, nil
	}

	prompt, err := BuildMatchPrompt(summary, trial.Title, trial.Eligibility, trial.NCTID)
	if err != nil {
		return domain.RationaleOutcome{}, domain.NewMatchError(domain.ErrInternalServer, "invalid rationale prompt", err)
	}

	start := time.Now()
	text, err := m.rationale.Generate(ctx, MatchSystemPrompt, prompt)
	m.metrics.ObserveStage("rationale", time.Since(start))

	outcome := classifyRationale(text, err)
	m.metrics.IncRationale(outcome.Status.String())

	if outcome.Status == domain.RationaleHardFailure {
		m.logger.WithError(outcome.Err).WithField("nct_id", trial.NCTID).Error("Rationale generator failed")
		return outcome, domain.NewMatchError(domain.ErrInternalServer, "rationale generator failed", outcome.Err)
	}
	if outcome.Status == domain.RationaleSoftFailure {
		m.logger.WithFields(logrus.Fields{
			"nct_id": trial.NCTID,
			"error":  outcome.Err,
		}).Warn("Rationale unavailable, continuing without it")
	}
	return outcome, nil
}

func classifyRationale(text string, err error) domain.RationaleOutcome {
	switch {
	case err == nil && strings.TrimSpace(text) == "":
		return domain.RationaleOutcome{Status: domain.RationaleSoftFailure, Err: domain.ErrRationaleUnavailable}
	case err == nil:
		return domain.RationaleOutcome{Status: domain.RationaleOK, Text: text}
	case errors.Is(err, domain.ErrRationaleUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return domain.RationaleOutcome{Status: domain.RationaleSoftFailure, Err: err}
	default:
		return domain.RationaleOutcome{Status: domain.RationaleHardFailure, Err: err}
	}
}

// BuildReport renders the coordinator report: summary, redacted notes
// preview and matches.
func (m *MatcherService) BuildReport(ctx context.Context, bundle *domain.ClinicalBundle, notes string) (*domain.PatientReport, error) {
	matches, err := m.MatchForPatientBundle(ctx, &domain.MatchRequest{
		Bundle: bundle,
		Notes:  notes,
		TopK:   m.DefaultTopK(),
	})
	if err != nil {
		return nil, err
	}

	profile := m.extractor.BuildPatientProfile(bundle, notes)
	previewChars := m.config.NotesPreviewChars
	if previewChars <= 0 {
		previewChars = defaultNotesPreviewChars
	}

	return &domain.PatientReport{
		PatientSummary: SummarizeProfile(&profile),
		NotesPreview:   redact.Preview(notes, previewChars),
		Matches:        matches,
	}, nil
}
