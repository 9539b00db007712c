package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/trial-matcher-server/internal/domain"
	"github.com/trial-matcher-server/internal/feedback"
	"github.com/trial-matcher-server/internal/middleware"
)

const (
	defaultCountry       = "United States"
	defaultFeedbackLimit = 50
	maxFeedbackLimit     = 500
)

var patientIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// matchRequestBody distinguishes an omitted top_k from an explicit zero.
type matchRequestBody struct {
	PatientFHIR json.RawMessage `json:"patient_fhir"`
	Notes       string          `json:"notes"`
	TopK        *int            `json:"top_k"`
	CondHint    string          `json:"cond_hint"`
	Country     *string         `json:"country"`
	SortByScore bool            `json:"sort_by_score"`
}

func (s *Server) handleHome(c *gin.Context) {
	c.HTML(http.StatusOK, "home", gin.H{
		"Name":           s.config.MCP.ServerName,
		"ExamplePatient": "patient_01",
	})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   s.config.MCP.ServerVersion,
	}
	if s.trials != nil {
		count, err := s.trials.Count(c.Request.Context())
		if err != nil {
			s.logger.WithError(err).Warn("Health check could not count trials")
			body["status"] = "degraded"
			body["error"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		body["trials"] = count
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleMatch(c *gin.Context) {
	var body matchRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.writeError(c, domain.NewMatchError(domain.ErrInvalidInput, "request body must be a JSON object", err))
		return
	}
	if len(body.PatientFHIR) == 0 || string(body.PatientFHIR) == "null" {
		s.writeError(c, domain.NewValidationError("patient_fhir", "patient_fhir is required", nil))
		return
	}

	req := &domain.MatchRequest{
		PatientFHIR: body.PatientFHIR,
		Notes:       body.Notes,
		TopK:        s.matcher.DefaultTopK(),
		CondHint:    body.CondHint,
		Country:     s.defaultCountry(),
		SortByScore: body.SortByScore,
	}
	if body.TopK != nil {
		req.TopK = *body.TopK
	}
	if body.Country != nil {
		req.Country = *body.Country
	}

	matches, err := s.matcher.MatchForPatientBundle(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, domain.MatchResponse{Matches: matches})
}

func (s *Server) defaultCountry() string {
	if s.config.CTGov.DefaultCountry != "" {
		return s.config.CTGov.DefaultCountry
	}
	return defaultCountry
}

// handleReport renders the coordinator report page for a bundled example patient.
func (s *Server) handleReport(c *gin.Context) {
	patientID := c.Param("patient_id")
	report, err := s.buildReport(c, patientID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.HTML(http.StatusNotFound, "not_found", gin.H{"PatientID": patientID})
			return
		}
		status, merr := s.errorResponse(c, err)
		c.HTML(status, "error", merr)
		return
	}
	c.HTML(http.StatusOK, "report", report)
}

func (s *Server) handleReportJSON(c *gin.Context) {
	report, err := s.buildReport(c, c.Param("patient_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) buildReport(c *gin.Context, patientID string) (*domain.PatientReport, error) {
	bundle, notes, err := s.loadExamplePatient(patientID)
	if err != nil {
		return nil, err
	}
	report, err := s.matcher.BuildReport(c.Request.Context(), bundle, notes)
	if err != nil {
		return nil, err
	}
	report.PatientID = patientID
	return report, nil
}

// loadExamplePatient reads <examples>/patients/<id>.json and the optional
// <examples>/notes/<id>.txt.
func (s *Server) loadExamplePatient(patientID string) (*domain.ClinicalBundle, string, error) {
	if !patientIDPattern.MatchString(patientID) {
		return nil, "", domain.ErrNotFound
	}
	dir := s.config.Server.ExamplesDir
	if dir == "" {
		dir = "examples"
	}

	data, err := os.ReadFile(filepath.Join(dir, "patients", patientID+".json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", domain.ErrNotFound
		}
		return nil, "", domain.NewMatchError(domain.ErrInternalServer, "failed to read patient bundle", err)
	}
	bundle, err := domain.DecodeClinicalBundle(data)
	if err != nil {
		return nil, "", domain.NewMatchError(domain.ErrInvalidInput, "example patient bundle is malformed", err)
	}

	notes, err := os.ReadFile(filepath.Join(dir, "notes", patientID+".txt"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, "", domain.NewMatchError(domain.ErrInternalServer, "failed to read patient notes", err)
	}
	return bundle, string(notes), nil
}

func (s *Server) handleSaveFeedback(c *gin.Context) {
	if s.feedback == nil {
		s.writeError(c, domain.NewMatchError(domain.ErrConfiguration, "feedback store is disabled", nil))
		return
	}

	var fb feedback.Feedback
	if err := c.ShouldBindJSON(&fb); err != nil {
		s.writeError(c, domain.NewMatchError(domain.ErrInvalidInput, "request body must be a JSON object", err))
		return
	}
	if err := fb.Validate(); err != nil {
		s.writeError(c, err)
		return
	}
	if err := s.feedback.Save(c.Request.Context(), &fb); err != nil {
		s.writeError(c, domain.NewMatchError(domain.ErrDatabaseError, "failed to save feedback", err))
		return
	}
	c.JSON(http.StatusCreated, fb)
}

func (s *Server) handleListFeedback(c *gin.Context) {
	if s.feedback == nil {
		s.writeError(c, domain.NewMatchError(domain.ErrConfiguration, "feedback store is disabled", nil))
		return
	}
	ctx := c.Request.Context()

	if patientID, nctID := c.Query("patient_id"), c.Query("nct_id"); patientID != "" && nctID != "" {
		fb, err := s.feedback.Get(ctx, patientID, nctID)
		if err != nil {
			s.writeError(c, domain.NewMatchError(domain.ErrDatabaseError, "failed to load feedback", err))
			return
		}
		if fb == nil {
			notFound := domain.NewMatchError(domain.ErrInvalidInput, "no feedback for patient and trial", nil)
			c.JSON(http.StatusNotFound, gin.H{"error": notFound.WithRequestID(middleware.GetRequestID(c))})
			return
		}
		c.JSON(http.StatusOK, fb)
		return
	}

	limit, err := queryInt(c, "limit", defaultFeedbackLimit)
	if err != nil || limit <= 0 || limit > maxFeedbackLimit {
		s.writeError(c, domain.NewValidationError("limit", "must be between 1 and 500", c.Query("limit")))
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		s.writeError(c, domain.NewValidationError("offset", "must be a non-negative integer", c.Query("offset")))
		return
	}

	entries, err := s.feedback.List(ctx, limit, offset)
	if err != nil {
		s.writeError(c, domain.NewMatchError(domain.ErrDatabaseError, "failed to list feedback", err))
		return
	}
	total, err := s.feedback.Count(ctx)
	if err != nil {
		s.writeError(c, domain.NewMatchError(domain.ErrDatabaseError, "failed to count feedback", err))
		return
	}
	if entries == nil {
		entries = []*feedback.Feedback{}
	}
	c.JSON(http.StatusOK, gin.H{"feedback": entries, "total": total})
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
