package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/trial-matcher-server/internal/domain"
	"github.com/trial-matcher-server/internal/feedback"
)

// MatchTrialsInput defines parameters for the match_trials tool
type MatchTrialsInput struct {
	PatientFHIR map[string]any `json:"patient_fhir" jsonschema:"clinical bundle with patient, conditions, medications, observations and socialHistory"`
	Notes       string         `json:"notes,omitempty" jsonschema:"free-text clinician notes"`
	TopK        int            `json:"top_k,omitempty" jsonschema:"number of trials to return, defaults to 10"`
	CondHint    string         `json:"cond_hint,omitempty" jsonschema:"condition used if the trial corpus must be loaded"`
	Country     string         `json:"country,omitempty" jsonschema:"country used if the trial corpus must be loaded"`
	SortByScore bool           `json:"sort_by_score,omitempty" jsonschema:"order results by heuristic score instead of retrieval order"`
}

// SubmitFeedbackInput defines parameters for the submit_feedback tool
type SubmitFeedbackInput struct {
	PatientID      string  `json:"patient_id" jsonschema:"patient identifier"`
	NCTID          string  `json:"nct_id" jsonschema:"trial NCT identifier"`
	Decision       string  `json:"decision" jsonschema:"eligible, ineligible or needs_review"`
	SuggestedScore float64 `json:"suggested_score,omitempty" jsonschema:"score shown when the trial was suggested"`
	Reviewer       string  `json:"reviewer,omitempty"`
	Notes          string  `json:"notes,omitempty"`
}

// ListFeedbackInput defines parameters for the list_feedback tool
type ListFeedbackInput struct {
	Limit  int `json:"limit,omitempty" jsonschema:"maximum entries, defaults to 50"`
	Offset int `json:"offset,omitempty"`
}

// ListFeedbackOutput is the result of list_feedback
type ListFeedbackOutput struct {
	Feedback []*feedback.Feedback `json:"feedback"`
	Total    int64                `json:"total"`
}

// ExportFeedbackOutput is the result of export_feedback
type ExportFeedbackOutput struct {
	Path  string `json:"path"`
	Count int64  `json:"count"`
}

func (s *Server) handleMatchTrials(ctx context.Context, _ *mcp.CallToolRequest, in MatchTrialsInput) (*mcp.CallToolResult, domain.MatchResponse, error) {
	s.logger.WithField("tool", "match_trials").Info("Tool invoked")

	if in.PatientFHIR == nil {
		return nil, domain.MatchResponse{}, domain.NewValidationError("patient_fhir", "patient_fhir is required", nil)
	}
	raw, err := json.Marshal(in.PatientFHIR)
	if err != nil {
		return nil, domain.MatchResponse{}, fmt.Errorf("encoding patient_fhir: %w", err)
	}

	req := &domain.MatchRequest{
		PatientFHIR: raw,
		Notes:       in.Notes,
		TopK:        in.TopK,
		CondHint:    in.CondHint,
		Country:     in.Country,
		SortByScore: in.SortByScore,
	}
	// JSON arguments cannot tell an omitted top_k from zero.
	if req.TopK == 0 {
		req.TopK = s.matcher.DefaultTopK()
	}
	if req.Country == "" {
		req.Country = s.country
	}

	matches, err := s.matcher.MatchForPatientBundle(ctx, req)
	if err != nil {
		s.logger.WithError(err).WithField("code", domain.ErrorCode(err)).Warn("match_trials failed")
		return nil, domain.MatchResponse{}, fmt.Errorf("%s: %w", domain.ErrorCode(err), err)
	}
	if matches == nil {
		matches = []domain.MatchResult{}
	}
	return nil, domain.MatchResponse{Matches: matches}, nil
}

func (s *Server) handleSubmitFeedback(ctx context.Context, _ *mcp.CallToolRequest, in SubmitFeedbackInput) (*mcp.CallToolResult, feedback.Feedback, error) {
	fb := feedback.Feedback{
		PatientID:      in.PatientID,
		NCTID:          in.NCTID,
		Decision:       feedback.Decision(in.Decision),
		SuggestedScore: in.SuggestedScore,
		Reviewer:       in.Reviewer,
		Notes:          in.Notes,
	}
	if err := fb.Validate(); err != nil {
		return nil, feedback.Feedback{}, err
	}
	if err := s.feedback.Save(ctx, &fb); err != nil {
		return nil, feedback.Feedback{}, fmt.Errorf("failed to save feedback: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"nct_id":   fb.NCTID,
		"decision": fb.Decision,
	}).Info("Feedback recorded")
	return nil, fb, nil
}

func (s *Server) handleListFeedback(ctx context.Context, _ *mcp.CallToolRequest, in ListFeedbackInput) (*mcp.CallToolResult, ListFeedbackOutput, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = 50
	}
	if in.Offset < 0 {
		return nil, ListFeedbackOutput{}, domain.NewValidationError("offset", "must be a non-negative integer", in.Offset)
	}

	entries, err := s.feedback.List(ctx, limit, in.Offset)
	if err != nil {
		return nil, ListFeedbackOutput{}, fmt.Errorf("failed to list feedback: %w", err)
	}
	total, err := s.feedback.Count(ctx)
	if err != nil {
		return nil, ListFeedbackOutput{}, fmt.Errorf("failed to count feedback: %w", err)
	}
	if entries == nil {
		entries = []*feedback.Feedback{}
	}
	return nil, ListFeedbackOutput{Feedback: entries, Total: total}, nil
}

func (s *Server) handleExportFeedback(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, ExportFeedbackOutput, error) {
	dir := s.config.ExportDir
	if dir == "" {
		dir = "exports"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, ExportFeedbackOutput{}, fmt.Errorf("failed to create export directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("feedback_%s.json", time.Now().UTC().Format("20060102T150405Z")))
	file, err := os.Create(path)
	if err != nil {
		return nil, ExportFeedbackOutput{}, fmt.Errorf("failed to create export file: %w", err)
	}
	defer file.Close()

	if err := feedback.ExportJSON(ctx, s.feedback, file); err != nil {
		return nil, ExportFeedbackOutput{}, err
	}
	count, err := s.feedback.Count(ctx)
	if err != nil {
		return nil, ExportFeedbackOutput{}, fmt.Errorf("failed to count feedback: %w", err)
	}
	return nil, ExportFeedbackOutput{Path: path, Count: count}, nil
}
