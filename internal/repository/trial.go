package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/sirupsen/logrus"

	"github.com/trial-matcher-server/internal/domain"
)

// TrialRepository stores trials and their embeddings in PostgreSQL with
// pgvector. Nearest-neighbour search uses cosine distance.
type TrialRepository struct {
	db        *pgxpool.Pool
	log       *logrus.Logger
	dimension int
}

// NewTrialRepository creates a new trial repository
func NewTrialRepository(db *pgxpool.Pool, dimension int, logger *logrus.Logger) *TrialRepository {
	if dimension <= 0 {
		dimension = domain.DefaultEmbeddingDimension
	}
	return &TrialRepository{
		db:        db,
		log:       logger,
		dimension: dimension,
	}
}

const upsertTrialQuery = `
	INSERT INTO trials (
		nct_id, title, conditions, eligibility, locations, payload, embedding, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, NOW()
	)
	ON CONFLICT (nct_id) DO UPDATE SET
		title = EXCLUDED.title,
		conditions = EXCLUDED.conditions,
		eligibility = EXCLUDED.eligibility,
		locations = EXCLUDED.locations,
		payload = EXCLUDED.payload,
		embedding = EXCLUDED.embedding,
		updated_at = NOW()`

// Upsert inserts or replaces one trial.
func (r *TrialRepository) Upsert(ctx context.Context, trial *domain.TrialRecord) error {
	return r.UpsertBatch(ctx, []*domain.TrialRecord{trial})
}

// UpsertBatch writes trials in one transaction.
func (r *TrialRepository) UpsertBatch(ctx context.Context, trials []*domain.TrialRecord) error {
	if len(trials) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, t := range trials {
		if err := r.checkRecord(t); err != nil {
			return err
		}
		batch.Queue(upsertTrialQuery,
			t.NCTID,
			t.Title,
			t.Conditions,
			eligibilityDocument(t),
			jsonOrEmpty(t.Locations),
			jsonOrEmpty(t.Payload),
			pgvector.NewVector(t.Embedding),
		)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning trial upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	results := tx.SendBatch(ctx, batch)
	for range trials {
		if _, err := results.Exec(); err != nil {
			results.Close()
			r.log.WithError(err).WithField("batch_size", len(trials)).Error("Failed to upsert trials")
			return fmt.Errorf("upserting trials: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("closing upsert batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing trial upsert: %w", err)
	}

	r.log.WithField("count", len(trials)).Debug("Trials upserted")
	return nil
}

// QueryNearest returns up to k trials ordered by ascending cosine distance.
// Ties keep insertion order.
func (r *TrialRepository) QueryNearest(ctx context.Context, vector []float32, k int) ([]domain.RetrievedTrial, error) {
	if k <= 0 {
		return nil, domain.NewValidationError("top_k", "must be a positive integer", k)
	}
	if len(vector) != r.dimension {
		return nil, fmt.Errorf("%w: query has %d, store expects %d", domain.ErrDimensionMismatch, len(vector), r.dimension)
	}

	query := `
		SELECT nct_id, title,
			   COALESCE(eligibility->>'eligibilityCriteria', ''),
			   embedding <=> $1::vector AS distance
		FROM trials
		ORDER BY embedding <=> $1::vector, seq
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, pgvector.NewVector(vector), k)
	if err != nil {
		r.log.WithError(err).WithField("k", k).Error("Failed to query nearest trials")
		return nil, fmt.Errorf("querying nearest trials: %w", err)
	}
	defer rows.Close()

	trials := make([]domain.RetrievedTrial, 0, k)
	for rows.Next() {
		var t domain.RetrievedTrial
		if err := rows.Scan(&t.NCTID, &t.Title, &t.Eligibility, &t.Distance); err != nil {
			return nil, fmt.Errorf("scanning trial row: %w", err)
		}
		t.Similarity = domain.Round3(1 - t.Distance)
		trials = append(trials, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating trial rows: %w", err)
	}

	return trials, nil
}

// Count returns the number of stored trials.
func (r *TrialRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, "SELECT count(*) FROM trials").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting trials: %w", err)
	}
	return n, nil
}

func (r *TrialRepository) checkRecord(t *domain.TrialRecord) error {
	if t == nil || t.NCTID == "" {
		return domain.NewValidationError("nct_id", "trial identifier is required", nil)
	}
	if len(t.Embedding) != r.dimension {
		return fmt.Errorf("%w: trial %s has %d, store expects %d", domain.ErrDimensionMismatch, t.NCTID, len(t.Embedding), r.dimension)
	}
	return nil
}

// eligibilityDocument returns the stored eligibility JSON, synthesising
// {"eligibilityCriteria": ...} when only the text is known.
func eligibilityDocument(t *domain.TrialRecord) []byte {
	if len(t.EligibilityModule) > 0 {
		return t.EligibilityModule
	}
	doc, _ := json.Marshal(map[string]string{"eligibilityCriteria": t.Eligibility})
	return doc
}

func jsonOrEmpty(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}
