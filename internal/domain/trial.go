package domain

import (
	"encoding/json"
	"time"
)

// DefaultEmbeddingDimension matches all-MiniLM-L6-v2 style sentence embeddings.
const DefaultEmbeddingDimension = 384

// TrialRecord is a registry trial as held by the vector store. Records are
// written by ingestion and only read by matching.
type TrialRecord struct {
	NCTID      string `json:"nct_id" db:"nct_id"`
	Title      string `json:"title" db:"title"`
	Conditions string `json:"conditions" db:"conditions"`
	// Eligibility is the free-text criteria; EligibilityModule keeps the
	// registry's full eligibility section.
	Eligibility       string          `json:"eligibility" db:"-"`
	EligibilityModule json.RawMessage `json:"eligibility_module,omitempty" db:"eligibility"`
	Locations         json.RawMessage `json:"locations,omitempty" db:"locations"`
	Payload           json.RawMessage `json:"payload,omitempty" db:"payload"`
	Embedding         []float32       `json:"-" db:"embedding"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// RetrievedTrial is one nearest-neighbour hit from the vector store.
type RetrievedTrial struct {
	NCTID       string  `json:"nct_id"`
	Title       string  `json:"title"`
	Eligibility string  `json:"eligibility"`
	Distance    float64 `json:"distance"`
	// Similarity is 1 - Distance rounded to 3 decimals.
	Similarity float64 `json:"similarity"`
}
