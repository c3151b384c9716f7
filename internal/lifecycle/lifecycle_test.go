package lifecycle

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disease-intake-server/internal/domain"
	"github.com/disease-intake-server/internal/encoder"
	"github.com/disease-intake-server/internal/intake"
	"github.com/disease-intake-server/internal/taxonomy"
	"github.com/disease-intake-server/pkg/predictor"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePredictor struct {
	calls  atomic.Int32
	gate   chan struct{}
	result *predictor.PredictionResult
	err    error
	last   encoder.Request
	mu     sync.Mutex
}

func (f *fakePredictor) Predict(ctx context.Context, req encoder.Request) (*predictor.PredictionResult, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.result, f.err
}

func malaria() *predictor.PredictionResult {
	return &predictor.PredictionResult{
		PredictedDisease: "malaria",
		Confidence:       0.82,
		AllProbabilities: predictor.Probabilities{{Category: "malaria", Value: 0.82}, {Category: "typhoid", Value: 0.10}, {Category: "healthy", Value: 0.08}},
		Timestamp:        "2024-03-01T10:15:30",
	}
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type recorder struct {
	mu    sync.Mutex
	steps []Transition
}

func (r *recorder) record(t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, t)
}

func (r *recorder) path() []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.steps) == 0 {
		return nil
	}
	out := []Phase{r.steps[0].From}
	for _, t := range r.steps {
		out = append(out, t.To)
	}
	return out
}

func newController(t *testing.T, svc Predictor) (*Controller, *recorder) {
	t.Helper()
	c := New(intake.NewSchema(taxonomy.Default()), svc, WithLogger(quietLogger()), WithID("test-session"))
	rec := &recorder{}
	c.Subscribe(rec.record)
	return c, rec
}

func TestSubmit_Success(t *testing.T) {
	svc := &fakePredictor{result: malaria()}
	c, rec := newController(t, svc)

	require.NoError(t, c.SetSymptom("fever", true))
	_, err := c.Toggle("headache")
	require.NoError(t, err)

	result, err := c.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "malaria", result.PredictedDisease)

	assert.Equal(t, []Phase{Idle, Pending, Succeeded}, rec.path())
	assert.Equal(t, int32(1), svc.calls.Load())

	v, ok := svc.last.Value("fever")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	v, _ = svc.last.Value("cough")
	assert.Equal(t, 0, v)

	snap := c.Snapshot()
	assert.Equal(t, Succeeded, snap.Phase)
	assert.Equal(t, result, snap.Result)
	assert.Empty(t, snap.Error)
	assert.Equal(t, []string{"fever", "headache"}, snap.Selected)
	assert.Equal(t, uint64(1), snap.Generation)

	rec.mu.Lock()
	require.Len(t, rec.steps, 2)
	assert.NotNil(t, rec.steps[0].Request)
	assert.Equal(t, result, rec.steps[1].Result)
	rec.mu.Unlock()
}

func TestSubmit_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := predictor.NewClient(predictor.Config{BaseURL: url, Timeout: time.Second, RateLimit: 100}, quietLogger())
	c, rec := newController(t, client)
	require.NoError(t, c.SetSymptom("fever", true))
	before := c.Snapshot().Record

	_, err := c.Submit(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindService, Classify(err))

	snap := c.Snapshot()
	assert.Equal(t, Failed, snap.Phase)
	assert.NotEmpty(t, snap.Error)
	assert.Equal(t, KindService, snap.ErrorKind)
	assert.Equal(t, before, snap.Record, "record untouched for retry")
	assert.Equal(t, []Phase{Idle, Pending, Failed}, rec.path())
}

func TestSubmit_RetryFromFailed(t *testing.T) {
	svc := &fakePredictor{err: errors.New("timeout")}
	c, rec := newController(t, svc)

	_, err := c.Submit(context.Background())
	require.Error(t, err)

	svc.err = nil
	svc.result = malaria()
	_, err = c.Submit(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []Phase{Idle, Pending, Failed, Pending, Succeeded}, rec.path())
	assert.Equal(t, int32(2), svc.calls.Load())
	assert.Empty(t, c.Snapshot().Error)
}

func TestSubmit_ValidationNeverReachesNetwork(t *testing.T) {
	svc := &fakePredictor{result: malaria()}
	c, rec := newController(t, svc)

	require.NoError(t, c.SetDemographic("region", "atlantis"))

	_, err := c.Submit(context.Background())
	var verrs domain.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Contains(t, verrs.ByField(), "region")
	assert.Equal(t, KindValidation, Classify(err))

	assert.Equal(t, int32(0), svc.calls.Load())
	assert.Empty(t, rec.path())
	assert.Equal(t, Idle, c.Snapshot().Phase)

	_, err = c.Start(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int32(0), svc.calls.Load())
}

func TestSubmit_DoubleSubmitMakesOneCall(t *testing.T) {
	svc := &fakePredictor{result: malaria(), gate: make(chan struct{})}
	c, rec := newController(t, svc)

	done, err := c.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Pending, c.Snapshot().Phase)

	_, err = c.Submit(context.Background())
	assert.ErrorIs(t, err, ErrSubmissionInFlight)
	_, err = c.Start(context.Background())
	assert.ErrorIs(t, err, ErrSubmissionInFlight)

	close(svc.gate)
	out := <-done
	require.NoError(t, out.Err)
	assert.Equal(t, "malaria", out.Result.PredictedDisease)

	assert.Equal(t, int32(1), svc.calls.Load())
	assert.Equal(t, []Phase{Idle, Pending, Succeeded}, rec.path())
}

func TestSubmit_ConcurrentSubmitters(t *testing.T) {
	svc := &fakePredictor{result: malaria(), gate: make(chan struct{})}
	c, _ := newController(t, svc)

	const n = 20
	var wg sync.WaitGroup
	var inFlight, started atomic.Int32
	ready := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ready
			_, err := c.Start(context.Background())
			switch {
			case err == nil:
				started.Add(1)
			case errors.Is(err, ErrSubmissionInFlight):
				inFlight.Add(1)
			}
		}()
	}
	close(ready)
	wg.Wait()
	close(svc.gate)

	assert.Equal(t, int32(1), started.Load())
	assert.Equal(t, int32(n-1), inFlight.Load())
	assert.Eventually(t, func() bool { return c.Snapshot().Phase == Succeeded }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), svc.calls.Load())
}

func TestReset_AbandonsPendingRequest(t *testing.T) {
	svc := &fakePredictor{result: malaria(), gate: make(chan struct{})}
	c, rec := newController(t, svc)
	require.NoError(t, c.SetSymptom("cough", true))

	done, err := c.Start(context.Background())
	require.NoError(t, err)

	c.Reset()
	snap := c.Snapshot()
	assert.Equal(t, Idle, snap.Phase)
	assert.Equal(t, 0, snap.SelectedCount)

	close(svc.gate)
	out := <-done
	assert.ErrorIs(t, out.Err, ErrAbandoned)
	assert.Nil(t, out.Result)

	snap = c.Snapshot()
	assert.Equal(t, Idle, snap.Phase, "late completion must not mutate state")
	assert.Nil(t, snap.Result)
	assert.Equal(t, []Phase{Idle, Pending, Idle}, rec.path())
}

func TestBack(t *testing.T) {
	svc := &fakePredictor{result: malaria()}
	c, rec := newController(t, svc)

	assert.ErrorIs(t, c.Back(), ErrInvalidTransition)

	require.NoError(t, c.SetDemographic("gender", "female"))
	require.NoError(t, c.SetSymptom("rash", true))
	_, err := c.Submit(context.Background())
	require.NoError(t, err)

	require.NoError(t, c.Back())
	snap := c.Snapshot()
	assert.Equal(t, Idle, snap.Phase)
	assert.Nil(t, snap.Result)
	assert.Equal(t, "male", snap.Record.Demographics["gender"], "back clears the record")
	assert.Equal(t, 0, snap.SelectedCount)
	assert.Equal(t, []Phase{Idle, Pending, Succeeded, Idle}, rec.path())
}

func TestDismiss_KeepsRecord(t *testing.T) {
	svc := &fakePredictor{err: errors.New("503")}
	c, _ := newController(t, svc)
	require.NoError(t, c.SetSymptom("fever", true))

	assert.ErrorIs(t, c.Dismiss(), ErrInvalidTransition)

	_, err := c.Submit(context.Background())
	require.Error(t, err)

	require.NoError(t, c.Dismiss())
	snap := c.Snapshot()
	assert.Equal(t, Idle, snap.Phase)
	assert.Empty(t, snap.Error)
	assert.Equal(t, []string{"fever"}, snap.Selected)
}

func TestEditing_LockedOutsideIdleAndFailed(t *testing.T) {
	svc := &fakePredictor{result: malaria(), gate: make(chan struct{})}
	c, _ := newController(t, svc)

	done, err := c.Start(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, c.SetSymptom("fever", true), ErrFormLocked)
	_, err = c.Toggle("fever")
	assert.ErrorIs(t, err, ErrFormLocked)
	assert.ErrorIs(t, c.SetDemographic("region", "south"), ErrFormLocked)

	close(svc.gate)
	<-done
	assert.ErrorIs(t, c.SetSymptom("fever", true), ErrFormLocked)

	_, err = c.Submit(context.Background())
	assert.ErrorIs(t, err, ErrInvalidTransition, "a shown result must be left via back or reset")

	svc.err, svc.result, svc.gate = errors.New("boom"), nil, nil
	require.NoError(t, c.Back())
	_, err = c.Submit(context.Background())
	require.Error(t, err)
	assert.NoError(t, c.SetSymptom("fever", true), "failed state stays editable")
}

func TestSubmit_NilResultIsFailure(t *testing.T) {
	c, rec := newController(t, &fakePredictor{})

	_, err := c.Submit(context.Background())
	assert.ErrorIs(t, err, predictor.ErrMalformedResponse)
	assert.Equal(t, []Phase{Idle, Pending, Failed}, rec.path())
}

func TestSubscribe_Cancel(t *testing.T) {
	svc := &fakePredictor{result: malaria()}
	c, _ := newController(t, svc)

	var count atomic.Int32
	cancel := c.Subscribe(func(Transition) { count.Add(1) })
	_, err := c.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), count.Load())

	cancel()
	c.Reset()
	assert.Equal(t, int32(2), count.Load())
}

func TestClassifyAndCode(t *testing.T) {
	tests := []struct {
		err  error
		kind ErrorKind
		code string
	}{
		{nil, KindNone, domain.ErrInternalServer},
		{domain.ValidationErrors{domain.NewValidationError("region", "bad", "x")}, KindValidation, domain.ErrValidation},
		{domain.NewValidationError("fever", "unknown symptom", nil), KindValidation, domain.ErrValidation},
		{&encoder.MismatchError{Missing: []string{"fever"}}, KindEncoding, domain.ErrEncoding},
		{ErrSubmissionInFlight, KindConflict, domain.ErrSubmissionInFlight},
		{ErrFormLocked, KindConflict, domain.ErrInvalidTransition},
		{&predictor.ServiceError{StatusCode: 500}, KindService, domain.ErrService},
		{context.DeadlineExceeded, KindService, domain.ErrService},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.kind, Classify(tt.err), "%v", tt.err)
		assert.Equal(t, tt.code, Code(tt.err), "%v", tt.err)
	}
}

func TestListeners_ReceiveTransitionsInOrder(t *testing.T) {
	c := New(intake.NewSchema(taxonomy.Default()), &fakePredictor{result: malaria()}, WithLogger(quietLogger()))

	entered := make(chan struct{})
	release := make(chan struct{})
	rec := &recorder{}
	c.Subscribe(func(tr Transition) {
		if tr.To == Pending {
			close(entered)
			<-release
		}
		rec.record(tr)
	})

	go func() { _, _ = c.Start(context.Background()) }()
	<-entered

	// Reset completes its state change while the pending event is still
	// being delivered; its own event must wait.
	resetDone := make(chan struct{})
	go func() {
		c.Reset()
		close(resetDone)
	}()
	assert.Eventually(t, func() bool { return c.Snapshot().Phase == Idle }, time.Second, 5*time.Millisecond)
	assert.Nil(t, rec.path(), "nothing delivered while the first listener runs")

	close(release)
	select {
	case <-resetDone:
	case <-time.After(time.Second):
		t.Fatal("reset never delivered its transition")
	}

	assert.Equal(t, []Phase{Idle, Pending, Idle}, rec.path())
}
