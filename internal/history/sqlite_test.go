package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/disease-intake-server/internal/encoder"
	"github.com/disease-intake-server/pkg/predictor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() *predictor.PredictionResult {
	return &predictor.PredictionResult{
		PredictedDisease: "malaria",
		Confidence:       0.82,
		AllProbabilities: predictor.Probabilities{{Category: "malaria", Value: 0.82}, {Category: "typhoid", Value: 0.10}, {Category: "healthy", Value: 0.08}},
		Timestamp:        "2024-03-01T10:15:30",
	}
}

func sampleEntry(t *testing.T, session string) *Entry {
	t.Helper()
	req := encoder.Request{
		Demographics: []encoder.Attribute{{Key: "age_band", Value: "25-44"}},
		Symptoms:     []encoder.Flag{{Key: "fever", Value: 1}, {Key: "cough", Value: 0}},
	}
	e, err := NewEntry(session, req, sampleResult())
	require.NoError(t, err)
	return e
}

func TestNewEntry(t *testing.T) {
	e := sampleEntry(t, "s-1")

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "s-1", e.SessionID)
	assert.Equal(t, "malaria", e.PredictedDisease)
	assert.Equal(t, "2024-03-01T10:15:30", e.ServiceTimestamp)
	assert.JSONEq(t, `{"age_band":"25-44","fever":1,"cough":0}`, string(e.Request))
	assert.JSONEq(t, `{"malaria":0.82,"typhoid":0.10,"healthy":0.08}`, string(e.Probabilities))
}

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "nested", "history.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file should exist")
	assert.Equal(t, dbPath, store.Path())
}

func TestSQLiteStore_SaveAndGet(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	entry := sampleEntry(t, "s-1")
	require.NoError(t, store.Save(ctx, entry))
	assert.False(t, entry.CreatedAt.IsZero())

	got, err := store.Get(ctx, entry.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entry.ID, got.ID)
	assert.Equal(t, "s-1", got.SessionID)
	assert.Equal(t, "malaria", got.PredictedDisease)
	assert.InDelta(t, 0.82, got.Confidence, 1e-9)
	assert.JSONEq(t, string(entry.Request), string(got.Request))
	assert.JSONEq(t, string(entry.Probabilities), string(got.Probabilities))

	var probs predictor.Probabilities
	require.NoError(t, json.Unmarshal(got.Probabilities, &probs))
	assert.Equal(t, "malaria", probs[0].Category)
}

func TestSQLiteStore_SaveAssignsID(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	entry := &Entry{PredictedDisease: "typhoid", Confidence: 0.5}
	require.NoError(t, store.Save(ctx, entry))
	assert.NotEmpty(t, entry.ID)

	got, err := store.Get(ctx, entry.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.JSONEq(t, `{}`, string(got.Request))
}

func TestSQLiteStore_Get_NotFound(t *testing.T) {
	store := createTestStore(t)

	got, err := store.Get(context.Background(), "missing")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteStore_ListCountDelete(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	ids := map[string]bool{}
	for i := 0; i < 5; i++ {
		e := sampleEntry(t, "s-list")
		require.NoError(t, store.Save(ctx, e))
		ids[e.ID] = true
	}

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)

	page1, err := store.List(ctx, 3, 0)
	require.NoError(t, err)
	page2, err := store.List(ctx, 3, 3)
	require.NoError(t, err)
	assert.Len(t, page1, 3)
	assert.Len(t, page2, 2)

	seen := map[string]bool{}
	for _, e := range append(page1, page2...) {
		seen[e.ID] = true
	}
	assert.Equal(t, ids, seen)

	require.NoError(t, store.Delete(ctx, page1[0].ID))
	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	got, err := store.Get(ctx, page1[0].ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteStore_ExportJSON(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	entry := sampleEntry(t, "s-export")
	require.NoError(t, store.Save(ctx, entry))

	var buf bytes.Buffer
	require.NoError(t, store.ExportJSON(ctx, &buf))

	var export Export
	require.NoError(t, json.Unmarshal(buf.Bytes(), &export))
	assert.Equal(t, "1.0", export.Version)
	assert.Equal(t, 1, export.Count)
	require.Len(t, export.Entries, 1)
	assert.Equal(t, entry.ID, export.Entries[0].ID)
}

func TestSQLiteStore_ExportJSON_Empty(t *testing.T) {
	store := createTestStore(t)

	var buf bytes.Buffer
	require.NoError(t, store.ExportJSON(context.Background(), &buf))
	assert.Contains(t, buf.String(), `"entries": []`)
	assert.Contains(t, buf.String(), `"count": 0`)
}

func TestSQLiteStore_DriverErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS prediction_history").
		WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := newSQLiteStoreFromDB(db)
	require.NoError(t, err)

	ctx := context.Background()

	mock.ExpectExec("INSERT INTO prediction_history").
		WillReturnError(errors.New("disk I/O error"))
	err = store.Save(ctx, sampleEntry(t, "s-err"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert")

	mock.ExpectQuery("SELECT (.+) FROM prediction_history WHERE id").
		WithArgs("abc").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "session_id", "predicted_disease", "confidence",
			"request", "probabilities", "service_timestamp", "created_at",
		}))
	got, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Nil(t, got)

	mock.ExpectQuery("SELECT COUNT").WillReturnError(errors.New("database is locked"))
	_, err = store.Count(ctx)
	assert.Error(t, err)

	mock.ExpectQuery("SELECT (.+) FROM prediction_history ORDER BY").
		WillReturnError(errors.New("database is locked"))
	var buf bytes.Buffer
	err = store.ExportJSON(ctx, &buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list history")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_SchemaError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("read-only database"))
	_, err = newSQLiteStoreFromDB(db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create schema")
}

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
