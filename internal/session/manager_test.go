package session

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disease-intake-server/internal/encoder"
	"github.com/disease-intake-server/internal/intake"
	"github.com/disease-intake-server/internal/lifecycle"
	"github.com/disease-intake-server/internal/taxonomy"
	"github.com/disease-intake-server/pkg/predictor"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gatedPredictor struct {
	gate chan struct{}
}

func (g *gatedPredictor) Predict(ctx context.Context, req encoder.Request) (*predictor.PredictionResult, error) {
	if g.gate != nil {
		<-g.gate
	}
	return &predictor.PredictionResult{
		PredictedDisease: "typhoid",
		Confidence:       0.6,
		AllProbabilities: predictor.Probabilities{{Category: "typhoid", Value: 0.6}, {Category: "malaria", Value: 0.4}},
	}, nil
}

func newManager(t *testing.T, cfg Config, svc lifecycle.Predictor, hooks ...Hook) *Manager {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	m := NewManager(intake.NewSchema(taxonomy.Default()), svc, cfg, logger, hooks...)
	t.Cleanup(m.Close)
	return m
}

func TestManager_CreateGetDelete(t *testing.T) {
	m := newManager(t, Config{}, &gatedPredictor{})

	c := m.Create()
	require.NotEmpty(t, c.ID())
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, lifecycle.Idle, c.Snapshot().Phase)

	got, err := m.Get(c.ID())
	require.NoError(t, err)
	assert.Same(t, c, got)

	require.NoError(t, m.Delete(c.ID()))
	assert.Equal(t, 0, m.Len())

	_, err = m.Get(c.ID())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Delete(c.ID()), ErrNotFound)
}

func TestManager_SessionsAreIndependent(t *testing.T) {
	m := newManager(t, Config{}, &gatedPredictor{})

	a := m.Create()
	b := m.Create()
	assert.NotEqual(t, a.ID(), b.ID())

	require.NoError(t, a.SetSymptom("fever", true))
	assert.Equal(t, 1, a.Snapshot().SelectedCount)
	assert.Equal(t, 0, b.Snapshot().SelectedCount)
}

func TestManager_EvictsLeastRecentlyUsed(t *testing.T) {
	m := newManager(t, Config{MaxSessions: 2}, &gatedPredictor{})

	first := m.Create()
	second := m.Create()
	_, err := m.Get(first.ID())
	require.NoError(t, err)

	m.Create()
	assert.Equal(t, 2, m.Len())

	_, err = m.Get(second.ID())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Get(first.ID())
	assert.NoError(t, err)
}

func TestManager_Expiry(t *testing.T) {
	m := newManager(t, Config{TTL: 50 * time.Millisecond}, &gatedPredictor{})

	c := m.Create()
	assert.Eventually(t, func() bool {
		_, err := m.Get(c.ID())
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_DeleteAbandonsPendingSubmission(t *testing.T) {
	svc := &gatedPredictor{gate: make(chan struct{})}
	m := newManager(t, Config{}, svc)

	c := m.Create()
	done, err := c.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Pending, c.Snapshot().Phase)

	require.NoError(t, m.Delete(c.ID()))
	close(svc.gate)

	outcome := <-done
	assert.ErrorIs(t, outcome.Err, lifecycle.ErrAbandoned)
	assert.Equal(t, lifecycle.Idle, c.Snapshot().Phase)
}

func TestManager_HooksRunAndRelease(t *testing.T) {
	var attached, released atomic.Int32
	hook := func(c *lifecycle.Controller) func() {
		attached.Add(1)
		return func() { released.Add(1) }
	}
	m := newManager(t, Config{}, &gatedPredictor{}, hook)

	a := m.Create()
	m.Create()
	assert.Equal(t, int32(2), attached.Load())

	require.NoError(t, m.Delete(a.ID()))
	assert.Equal(t, int32(1), released.Load())

	m.Close()
	assert.Equal(t, int32(2), released.Load())
	assert.Equal(t, 0, m.Len())
}

func TestManager_RenewAfterDeleteDoesNotRevive(t *testing.T) {
	var attached, released atomic.Int32
	hook := func(c *lifecycle.Controller) func() {
		attached.Add(1)
		return func() { released.Add(1) }
	}
	m := newManager(t, Config{}, &gatedPredictor{}, hook)

	c := m.Create()
	e, ok := m.sessions.Peek(c.ID())
	require.True(t, ok)

	// Delete lands between Get's lookup and its TTL renewal.
	require.NoError(t, m.Delete(c.ID()))
	_, err := m.renew(c.ID(), e)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 0, m.Len())
	_, err = m.Get(c.ID())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), attached.Load())
	assert.Equal(t, int32(1), released.Load(), "hooks are released exactly once")
}
