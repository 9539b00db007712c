package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/trial-matcher-server/internal/domain"
	"github.com/trial-matcher-server/internal/feedback"
)

type mockMatcher struct {
	mock.Mock
}

func (m *mockMatcher) MatchForPatientBundle(ctx context.Context, req *domain.MatchRequest) ([]domain.MatchResult, error) {
	args := m.Called(ctx, req)
	results, _ := args.Get(0).([]domain.MatchResult)
	return results, args.Error(1)
}

func (m *mockMatcher) DefaultTopK() int {
	return 10
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

// connect wires s to an in-memory client session.
func connect(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	ss, err := s.MCPServer().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func callTool(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	return res
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestListTools(t *testing.T) {
	store, err := feedback.NewSQLiteStore(filepath.Join(t.TempDir(), "feedback.db"))
	require.NoError(t, err)

	cs := connect(t, NewServer(domain.MCPConfig{}, &mockMatcher{}, testLogger(), WithFeedbackStore(store)))

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"match_trials", "submit_feedback", "list_feedback", "export_feedback"}, names)
}

func TestMatchTrialsTool(t *testing.T) {
	matcher := &mockMatcher{}
	rationale := "Adult with ECOG 1."
	matcher.On("MatchForPatientBundle", mock.Anything, mock.MatchedBy(func(req *domain.MatchRequest) bool {
		var bundle map[string]any
		_ = json.Unmarshal(req.PatientFHIR, &bundle)
		return req.TopK == 10 && req.Country == "Canada" && req.Notes == "ECOG 1" && bundle["patient"] != nil
	})).Return([]domain.MatchResult{{
		NCTID:            "NCT00000001",
		Title:            "Lymphoma study",
		Score:            0.55,
		ScoreBreakdown:   domain.ScoreBreakdown{domain.CategoryECOG: 0.15},
		Uncertain:        []string{},
		VectorSimilarity: 0.9,
		Rationale:        &rationale,
	}}, nil)

	cs := connect(t, NewServer(domain.MCPConfig{}, matcher, testLogger(), WithDefaultCountry("Canada")))
	res := callTool(t, cs, "match_trials", map[string]any{
		"patient_fhir": map[string]any{"patient": map[string]any{"gender": "female"}},
		"notes":        "ECOG 1",
	})

	require.False(t, res.IsError, resultText(t, res))
	var resp domain.MatchResponse
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &resp))
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, "NCT00000001", resp.Matches[0].NCTID)
	assert.Equal(t, rationale, *resp.Matches[0].Rationale)
	matcher.AssertExpectations(t)
}

func TestMatchTrialsToolErrors(t *testing.T) {
	matcher := &mockMatcher{}
	matcher.On("MatchForPatientBundle", mock.Anything, mock.Anything).
		Return(nil, domain.NewMatchError(domain.ErrEmbedding, "failed to embed patient summary", errors.New("refused")))

	cs := connect(t, NewServer(domain.MCPConfig{}, matcher, testLogger()))

	res := callTool(t, cs, "match_trials", map[string]any{"patient_fhir": map[string]any{}})
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), domain.ErrEmbedding)

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: "match_trials", Arguments: map[string]any{"notes": "x"}})
	if err == nil {
		assert.True(t, res.IsError)
	}
}

func TestMatchTrialsToolEmptyResult(t *testing.T) {
	matcher := &mockMatcher{}
	matcher.On("MatchForPatientBundle", mock.Anything, mock.Anything).Return(nil, nil)

	cs := connect(t, NewServer(domain.MCPConfig{}, matcher, testLogger()))
	res := callTool(t, cs, "match_trials", map[string]any{"patient_fhir": map[string]any{}, "top_k": 3})

	require.False(t, res.IsError, resultText(t, res))
	assert.JSONEq(t, `{"matches": []}`, resultText(t, res))
}

func TestFeedbackTools(t *testing.T) {
	store, err := feedback.NewSQLiteStore(filepath.Join(t.TempDir(), "feedback.db"))
	require.NoError(t, err)
	exportDir := filepath.Join(t.TempDir(), "exports")

	s := NewServer(domain.MCPConfig{ExportDir: exportDir}, &mockMatcher{}, testLogger(), WithFeedbackStore(store))
	defer s.Close()
	cs := connect(t, s)

	res := callTool(t, cs, "submit_feedback", map[string]any{
		"patient_id":      "patient_01",
		"nct_id":          "NCT00000001",
		"decision":        "eligible",
		"suggested_score": 0.62,
	})
	require.False(t, res.IsError, resultText(t, res))

	res = callTool(t, cs, "submit_feedback", map[string]any{
		"patient_id": "patient_01",
		"nct_id":     "NCT00000002",
		"decision":   "maybe",
	})
	assert.True(t, res.IsError)

	res = callTool(t, cs, "list_feedback", map[string]any{})
	require.False(t, res.IsError, resultText(t, res))
	var list ListFeedbackOutput
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &list))
	assert.Equal(t, int64(1), list.Total)
	require.Len(t, list.Feedback, 1)
	assert.Equal(t, feedback.DecisionEligible, list.Feedback[0].Decision)

	res = callTool(t, cs, "export_feedback", map[string]any{})
	require.False(t, res.IsError, resultText(t, res))
	var export ExportFeedbackOutput
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &export))
	assert.Equal(t, int64(1), export.Count)
	data, err := os.ReadFile(export.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "NCT00000001")
}
