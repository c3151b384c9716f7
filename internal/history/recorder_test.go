package history

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/disease-intake-server/internal/encoder"
	"github.com/disease-intake-server/internal/intake"
	"github.com/disease-intake-server/internal/lifecycle"
	"github.com/disease-intake-server/internal/taxonomy"
	"github.com/disease-intake-server/pkg/predictor"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPredictor struct {
	result *predictor.PredictionResult
	err    error
}

func (s stubPredictor) Predict(ctx context.Context, req encoder.Request) (*predictor.PredictionResult, error) {
	return s.result, s.err
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestController(svc lifecycle.Predictor) *lifecycle.Controller {
	schema := intake.NewSchema(taxonomy.Default())
	return lifecycle.New(schema, svc, lifecycle.WithLogger(quietLogger()), lifecycle.WithID("session-42"))
}

func TestRecorder_SavesSucceededPredictions(t *testing.T) {
	store := createTestStore(t)
	rec := NewRecorder(store, quietLogger())

	c := newTestController(stubPredictor{result: sampleResult()})
	detach := rec.Attach(c)
	defer detach()

	require.NoError(t, c.SetSymptom("fever", true))
	_, err := c.Submit(context.Background())
	require.NoError(t, err)

	list, err := store.List(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "session-42", list[0].SessionID)
	assert.Equal(t, "malaria", list[0].PredictedDisease)
	assert.Contains(t, string(list[0].Request), `"fever":1`)
}

func TestRecorder_IgnoresFailuresAndNavigation(t *testing.T) {
	store := createTestStore(t)
	rec := NewRecorder(store, quietLogger())

	c := newTestController(stubPredictor{err: errors.New("connection refused")})
	rec.Attach(c)

	_, err := c.Submit(context.Background())
	require.Error(t, err)
	require.NoError(t, c.Dismiss())
	c.Reset()

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRecorder_Detach(t *testing.T) {
	store := createTestStore(t)
	rec := NewRecorder(store, quietLogger())

	c := newTestController(stubPredictor{result: sampleResult()})
	rec.Attach(c)()

	_, err := c.Submit(context.Background())
	require.NoError(t, err)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRecorder_StoreFailureDoesNotFailSubmission(t *testing.T) {
	store := createTestStore(t)
	require.NoError(t, store.Close())
	logger, hook := test.NewNullLogger()
	rec := NewRecorder(store, logger)

	c := newTestController(stubPredictor{result: sampleResult()})
	rec.Attach(c)

	result, err := c.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "malaria", result.PredictedDisease)
	assert.Equal(t, lifecycle.Succeeded, c.Snapshot().Phase)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "Failed to save prediction history", entry.Message)
	assert.Equal(t, "session-42", entry.Data["session_id"])
}
