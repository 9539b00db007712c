// Package ingest loads ClinicalTrials.gov studies into the trial store.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"

	"github.com/trial-matcher-server/internal/domain"
	"github.com/trial-matcher-server/internal/metrics"
	"github.com/trial-matcher-server/pkg/external"
)

const (
	defaultBatchSize = 200
	defaultWorkers   = 2
	defaultCondition = "lymphoma"
	defaultCountry   = "United States"
)

// StudyFetcher pages through a trial registry.
type StudyFetcher interface {
	FetchStudies(ctx context.Context, q external.StudyQuery) ([]external.Study, error)
}

// Ingester embeds studies and upserts them in fixed-size batches. Batches
// are embedded concurrently on an ants pool and written in input order.
type Ingester struct {
	fetcher  StudyFetcher
	embedder domain.Embedder
	store    domain.TrialStore
	pool     *ants.Pool
	config   domain.CTGovConfig
	metrics  *metrics.Metrics
	logger   *logrus.Logger

	refreshMu sync.Mutex
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithMetrics counts ingested trials.
func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Ingester) { i.metrics = m }
}

// NewIngester creates a new ingester. Call Release when done.
func NewIngester(
	fetcher StudyFetcher,
	embedder domain.Embedder,
	store domain.TrialStore,
	config domain.CTGovConfig,
	logger *logrus.Logger,
	opts ...Option,
) (*Ingester, error) {
	if config.BatchSize <= 0 {
		config.BatchSize = defaultBatchSize
	}
	if config.Workers <= 0 {
		config.Workers = defaultWorkers
	}
	if config.MaxPages <= 0 {
		config.MaxPages = 1
	}
	if config.DefaultCondition == "" {
		config.DefaultCondition = defaultCondition
	}
	if config.DefaultCountry == "" {
		config.DefaultCountry = defaultCountry
	}

	pool, err := ants.NewPool(config.Workers)
	if err != nil {
		return nil, fmt.Errorf("creating embedding pool: %w", err)
	}

	i := &Ingester{
		fetcher:  fetcher,
		embedder: embedder,
		store:    store,
		pool:     pool,
		config:   config,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Release frees the worker pool.
func (i *Ingester) Release() {
	if i.pool != nil {
		i.pool.Release()
	}
}

// RefreshIfNeeded fetches and ingests studies when the store is empty or
// opts.Force is set. It returns the number of trials written.
func (i *Ingester) RefreshIfNeeded(ctx context.Context, opts domain.RefreshOptions) (int, error) {
	i.refreshMu.Lock()
	defer i.refreshMu.Unlock()

	if !opts.Force {
		n, err := i.store.Count(ctx)
		if err != nil {
			return 0, fmt.Errorf("counting trials: %w", err)
		}
		if n > 0 {
			return 0, nil
		}
	}

	q := external.StudyQuery{
		Condition: firstNonEmpty(opts.Condition, i.config.DefaultCondition),
		Term:      opts.Term,
		State:     opts.State,
		Country:   firstNonEmpty(opts.Country, i.config.DefaultCountry),
		MaxPages:  i.config.MaxPages,
	}
	i.logger.WithFields(logrus.Fields{
		"condition": q.Condition,
		"country":   q.Country,
		"force":     opts.Force,
	}).Info("Refreshing trial corpus")

	return i.Load(ctx, q)
}

// Load fetches studies for q and ingests them.
func (i *Ingester) Load(ctx context.Context, q external.StudyQuery) (int, error) {
	if q.MaxPages <= 0 {
		q.MaxPages = i.config.MaxPages
	}
	studies, err := i.fetcher.FetchStudies(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("fetching studies: %w", err)
	}
	return i.Ingest(ctx, studies)
}

type pendingBatch struct {
	records []*domain.TrialRecord
	texts   []string
	err     error
}

// Ingest embeds and upserts studies. Studies without an NCT id are skipped.
func (i *Ingester) Ingest(ctx context.Context, studies []external.Study) (int, error) {
	var batches []*pendingBatch
	for start := 0; start < len(studies); start += i.config.BatchSize {
		end := start + i.config.BatchSize
		if end > len(studies) {
			end = len(studies)
		}
		b := &pendingBatch{}
		for _, s := range studies[start:end] {
			rec, text, ok := StudyToRecord(s)
			if !ok {
				continue
			}
			b.records = append(b.records, rec)
			b.texts = append(b.texts, text)
		}
		if len(b.records) > 0 {
			batches = append(batches, b)
		}
	}
	if len(batches) == 0 {
		return 0, nil
	}

	var wg sync.WaitGroup
	for _, b := range batches {
		b := b
		wg.Add(1)
		if err := i.pool.Submit(func() {
			defer wg.Done()
			b.err = i.embedBatch(ctx, b)
		}); err != nil {
			wg.Done()
			b.err = fmt.Errorf("submitting embedding job: %w", err)
		}
	}
	wg.Wait()

	written := 0
	for idx, b := range batches {
		if b.err != nil {
			return written, fmt.Errorf("batch %d: %w", idx+1, b.err)
		}
		if err := i.store.UpsertBatch(ctx, b.records); err != nil {
			return written, fmt.Errorf("batch %d: upserting trials: %w", idx+1, err)
		}
		written += len(b.records)
		i.metrics.AddTrialsIngested(len(b.records))
		i.logger.WithFields(logrus.Fields{
			"batch":   idx + 1,
			"records": len(b.records),
		}).Debug("Trial batch ingested")
	}

	i.logger.WithField("trials", written).Info("Trial ingestion completed")
	return written, nil
}

func (i *Ingester) embedBatch(ctx context.Context, b *pendingBatch) error {
	vectors, err := i.embedder.EmbedTexts(ctx, b.texts)
	if err != nil {
		return fmt.Errorf("embedding trials: %w", err)
	}
	if len(vectors) != len(b.records) {
		return errors.New("embedder returned a different number of vectors")
	}
	for idx, v := range vectors {
		b.records[idx].Embedding = v
	}
	return nil
}

// StudyToRecord maps a registry study to a trial record and the text that
// is embedded for it. ok is false when the study has no NCT id.
func StudyToRecord(s external.Study) (rec *domain.TrialRecord, text string, ok bool) {
	ps := s.ProtocolSection
	nctID := strings.TrimSpace(ps.IdentificationModule.NCTID)
	if nctID == "" {
		return nil, "", false
	}

	title := ps.IdentificationModule.BriefTitle
	if title == "" {
		title = ps.IdentificationModule.OfficialTitle
	}
	conditions := strings.Join(ps.ConditionsModule.Conditions, ", ")
	criteria := eligibilityCriteria(ps.EligibilityModule)

	eligibility := ps.EligibilityModule
	if len(eligibility) == 0 || string(eligibility) == "null" {
		eligibility = json.RawMessage("{}")
	}
	locations := ps.ContactsLocationsModule
	if len(locations) == 0 || string(locations) == "null" {
		locations = json.RawMessage("{}")
	}
	payload := s.Raw
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	rec = &domain.TrialRecord{
		NCTID:             nctID,
		Title:             title,
		Conditions:        conditions,
		Eligibility:       criteria,
		EligibilityModule: eligibility,
		Locations:         locations,
		Payload:           payload,
	}
	return rec, TrialText(title, conditions, criteria), true
}

// TrialText is the embedded representation of a trial.
func TrialText(title, conditions, criteria string) string {
	return fmt.Sprintf("%s. Conditions: %s. Eligibility: %s", title, conditions, criteria)
}

func eligibilityCriteria(module json.RawMessage) string {
	if len(module) == 0 {
		return ""
	}
	var m struct {
		EligibilityCriteria string `json:"eligibilityCriteria"`
	}
	if err := json.Unmarshal(module, &m); err != nil {
		return ""
	}
	return m.EligibilityCriteria
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
