package repository

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/trial-matcher-server/internal/domain"
)

// MemoryTrialStore is an exhaustive cosine-distance store for lite mode and
// tests. Re-upserting a trial keeps its original position.
type MemoryTrialStore struct {
	mu        sync.RWMutex
	dimension int
	order     []string
	trials    map[string]*domain.TrialRecord
}

// NewMemoryTrialStore creates an empty store for vectors of the given size.
func NewMemoryTrialStore(dimension int) *MemoryTrialStore {
	if dimension <= 0 {
		dimension = domain.DefaultEmbeddingDimension
	}
	return &MemoryTrialStore{
		dimension: dimension,
		trials:    make(map[string]*domain.TrialRecord),
	}
}

// Upsert inserts or replaces one trial.
func (s *MemoryTrialStore) Upsert(ctx context.Context, trial *domain.TrialRecord) error {
	return s.UpsertBatch(ctx, []*domain.TrialRecord{trial})
}

// UpsertBatch inserts or replaces trials. Nothing is written if any record
// is invalid.
func (s *MemoryTrialStore) UpsertBatch(ctx context.Context, trials []*domain.TrialRecord) error {
	for _, t := range trials {
		if t == nil || t.NCTID == "" {
			return domain.NewValidationError("nct_id", "trial identifier is required", nil)
		}
		if len(t.Embedding) != s.dimension {
			return fmt.Errorf("%w: trial %s has %d, store expects %d", domain.ErrDimensionMismatch, t.NCTID, len(t.Embedding), s.dimension)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range trials {
		if _, ok := s.trials[t.NCTID]; !ok {
			s.order = append(s.order, t.NCTID)
		}
		cp := *t
		cp.Embedding = append([]float32(nil), t.Embedding...)
		s.trials[t.NCTID] = &cp
	}
	return nil
}

// QueryNearest returns up to k trials by ascending cosine distance.
func (s *MemoryTrialStore) QueryNearest(ctx context.Context, vector []float32, k int) ([]domain.RetrievedTrial, error) {
	if k <= 0 {
		return nil, domain.NewValidationError("top_k", "must be a positive integer", k)
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d, store expects %d", domain.ErrDimensionMismatch, len(vector), s.dimension)
	}

	s.mu.RLock()
	hits := make([]domain.RetrievedTrial, 0, len(s.order))
	for _, id := range s.order {
		t := s.trials[id]
		d := CosineDistance(vector, t.Embedding)
		hits = append(hits, domain.RetrievedTrial{
			NCTID:       t.NCTID,
			Title:       t.Title,
			Eligibility: t.Eligibility,
			Distance:    d,
			Similarity:  domain.Round3(1 - d),
		})
	}
	s.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Distance < hits[j].Distance
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Count returns the number of stored trials.
func (s *MemoryTrialStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order), nil
}

// CosineDistance is 1 - cos(a, b), in [0, 2]. A zero vector is at distance 1
// from everything.
func CosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
