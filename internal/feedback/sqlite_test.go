package feedback

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trial-matcher-server/internal/domain"
)

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "feedback.db"))
	require.NoError(t, err)
	return store
}

func TestNewSQLiteStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NotNil(t, store)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "Database file should exist")
}

func TestSQLiteStore_SaveAndUpdate(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	fb := &Feedback{
		PatientID:      "P001",
		NCTID:          "NCT01234567",
		Decision:       DecisionNeedsReview,
		SuggestedScore: 0.62,
		Reviewer:       "coordinator-a",
	}
	require.NoError(t, store.Save(ctx, fb))
	assert.NotZero(t, fb.ID)
	firstID := fb.ID

	update := &Feedback{
		PatientID:      "P001",
		NCTID:          "NCT01234567",
		Decision:       DecisionIneligible,
		SuggestedScore: 0.62,
		Notes:          "prior CAR-T excluded",
	}
	require.NoError(t, store.Save(ctx, update))
	assert.Equal(t, firstID, update.ID)

	got, err := store.Get(ctx, "P001", "NCT01234567")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, DecisionIneligible, got.Decision)
	assert.Equal(t, "prior CAR-T excluded", got.Notes)
	assert.InDelta(t, 0.62, got.SuggestedScore, 1e-9)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	got, err := store.Get(context.Background(), "nobody", "NCT0")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteStore_Validation(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	cases := []*Feedback{
		{NCTID: "NCT1", Decision: DecisionEligible},
		{PatientID: "P1", Decision: DecisionEligible},
		{PatientID: "P1", NCTID: "NCT1", Decision: "maybe"},
		{PatientID: "P1", NCTID: "NCT1", Decision: DecisionEligible, SuggestedScore: 1.5},
	}
	for _, fb := range cases {
		err := store.Save(context.Background(), fb)
		var verr *domain.ValidationError
		assert.True(t, errors.As(err, &verr), "expected validation error for %+v", fb)
	}
}

func TestSQLiteStore_ListAndDelete(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	for _, id := range []string{"NCT1", "NCT2", "NCT3"} {
		require.NoError(t, store.Save(ctx, &Feedback{PatientID: "P1", NCTID: id, Decision: DecisionEligible}))
	}

	all, err := store.List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "NCT3", all[0].NCTID)

	page, err := store.List(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "NCT2", page[0].NCTID)

	require.NoError(t, store.Delete(ctx, all[0].ID))
	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestExportImportJSON(t *testing.T) {
	ctx := context.Background()
	source := createTestStore(t)
	defer source.Close()

	require.NoError(t, source.Save(ctx, &Feedback{PatientID: "P1", NCTID: "NCT1", Decision: DecisionEligible, SuggestedScore: 0.8}))
	require.NoError(t, source.Save(ctx, &Feedback{PatientID: "P2", NCTID: "NCT1", Decision: DecisionIneligible}))

	var buf bytes.Buffer
	require.NoError(t, ExportJSON(ctx, source, &buf))
	assert.Contains(t, buf.String(), `"count": 2`)

	target := createTestStore(t)
	defer target.Close()
	require.NoError(t, target.Save(ctx, &Feedback{PatientID: "P1", NCTID: "NCT1", Decision: DecisionNeedsReview}))

	imported, skipped, err := ImportJSON(ctx, target, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 1, imported)
	assert.Equal(t, 1, skipped)

	kept, err := target.Get(ctx, "P1", "NCT1")
	require.NoError(t, err)
	assert.Equal(t, DecisionNeedsReview, kept.Decision)
}
