// Package feedback stores coordinator decisions on suggested trial matches.
package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/trial-matcher-server/internal/domain"
)

// Decision is a coordinator's verdict on one patient/trial suggestion.
type Decision string

const (
	DecisionEligible    Decision = "eligible"
	DecisionIneligible  Decision = "ineligible"
	DecisionNeedsReview Decision = "needs_review"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	switch d {
	case DecisionEligible, DecisionIneligible, DecisionNeedsReview:
		return true
	}
	return false
}

// Feedback records a coordinator's decision on a suggested match.
type Feedback struct {
	ID             int64     `json:"id,omitempty"`
	PatientID      string    `json:"patient_id"`
	NCTID          string    `json:"nct_id"`
	Decision       Decision  `json:"decision"`
	SuggestedScore float64   `json:"suggested_score"`
	Reviewer       string    `json:"reviewer,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Validate checks required fields.
func (f *Feedback) Validate() error {
	if strings.TrimSpace(f.PatientID) == "" {
		return domain.NewValidationError("patient_id", "patient_id is required", f.PatientID)
	}
	if strings.TrimSpace(f.NCTID) == "" {
		return domain.NewValidationError("nct_id", "nct_id is required", f.NCTID)
	}
	if !f.Decision.Valid() {
		return domain.NewValidationError("decision", "must be one of eligible, ineligible, needs_review", f.Decision)
	}
	if f.SuggestedScore < 0 || f.SuggestedScore > 1 {
		return domain.NewValidationError("suggested_score", "must be within [0, 1]", f.SuggestedScore)
	}
	return nil
}

// Store defines the interface for feedback storage operations.
type Store interface {
	// Save stores or updates feedback. One entry is kept per patient and trial.
	Save(ctx context.Context, feedback *Feedback) error

	// Get returns the feedback for a patient and trial, or nil if none exists.
	Get(ctx context.Context, patientID, nctID string) (*Feedback, error)

	// List returns feedback entries, newest first.
	List(ctx context.Context, limit, offset int) ([]*Feedback, error)

	// Count returns the total number of feedback entries.
	Count(ctx context.Context) (int64, error)

	// Delete removes a feedback entry by ID.
	Delete(ctx context.Context, id int64) error

	// Close closes the store and releases resources.
	Close() error
}

// FeedbackExport represents the JSON export format.
type FeedbackExport struct {
	Version    string      `json:"version"`
	ExportedAt time.Time   `json:"exported_at"`
	Count      int         `json:"count"`
	Feedback   []*Feedback `json:"feedback"`
}

// maxExportLimit is the maximum number of entries to export at once.
const maxExportLimit = 1000000

// ExportJSON writes all feedback in store to writer.
func ExportJSON(ctx context.Context, store Store, writer io.Writer) error {
	all, err := store.List(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list feedback: %w", err)
	}
	if all == nil {
		all = []*Feedback{}
	}

	export := &FeedbackExport{
		Version:    "1.0",
		ExportedAt: time.Now(),
		Count:      len(all),
		Feedback:   all,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

// ImportJSON loads an export into store, skipping entries that already exist.
func ImportJSON(ctx context.Context, store Store, reader io.Reader) (imported int, skipped int, err error) {
	var export FeedbackExport
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}

	for _, fb := range export.Feedback {
		existing, err := store.Get(ctx, fb.PatientID, fb.NCTID)
		if err != nil {
			return imported, skipped, fmt.Errorf("failed to check existing: %w", err)
		}
		if existing != nil {
			skipped++
			continue
		}

		if err := store.Save(ctx, fb); err != nil {
			return imported, skipped, fmt.Errorf("failed to save: %w", err)
		}
		imported++
	}

	return imported, skipped, nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanFeedback(s scanner) (*Feedback, error) {
	fb := &Feedback{}
	var decision string

	err := s.Scan(
		&fb.ID, &fb.PatientID, &fb.NCTID, &decision,
		&fb.SuggestedScore, &fb.Reviewer, &fb.Notes,
		&fb.CreatedAt, &fb.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	fb.Decision = Decision(decision)
	return fb, nil
}

const selectColumns = `id, patient_id, nct_id, decision, suggested_score, reviewer, notes, created_at, updated_at`
