package mockservice

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/disease-intake-server/internal/encoder"
	"github.com/disease-intake-server/internal/intake"
	"github.com/disease-intake-server/internal/taxonomy"
	"github.com/disease-intake-server/pkg/predictor"
)

func newService(t *testing.T, cfg Config) (*Service, *predictor.Client) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	tax := taxonomy.Default()
	svc := New(tax, cfg, logger)
	ts := httptest.NewServer(svc.Handler())
	t.Cleanup(ts.Close)

	client := predictor.NewClient(predictor.Config{
		BaseURL:  ts.URL,
		Timeout:  2 * time.Second,
		Outcomes: tax.OutcomeKeys(),
	}, logger)
	return svc, client
}

func encode(t *testing.T, selected ...string) encoder.Request {
	t.Helper()
	tax := taxonomy.Default()
	record, err := intake.NewSchema(tax).FromSelected(map[string]string{
		"age_band": "25-44", "gender": "male", "setting": "rural", "region": "north", "season": "rainy",
	}, selected)
	require.NoError(t, err)
	req, err := encoder.Encode(tax, record)
	require.NoError(t, err)
	return req
}

func TestScore_Deterministic(t *testing.T) {
	tax := taxonomy.Default()
	record, err := intake.NewSchema(tax).FromSelected(map[string]string{
		"age_band": "25-44", "gender": "male", "setting": "urban", "region": "north", "season": "dry",
	}, []string{"fever", "chills"})
	require.NoError(t, err)

	a := Score(tax, record)
	b := Score(tax, record)
	assert.Equal(t, a, b)
	assert.Len(t, a, len(tax.OutcomeKeys()))

	var sum float64
	for _, p := range a {
		sum += p.Value
		assert.GreaterOrEqual(t, p.Value, 0.0)
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestPredict_ThroughClient(t *testing.T) {
	tests := []struct {
		name     string
		selected []string
		want     string
	}{
		{"no symptoms", nil, "healthy"},
		{"malaria picture", []string{"fever", "chills", "sweats", "headache"}, "malaria"},
		{"tuberculosis picture", []string{"chronic_cough", "night_sweats", "weight_loss", "hemoptysis"}, "tuberculosis"},
		{"diabetes picture", []string{"polyuria", "polydipsia", "polyphagia"}, "diabetes"},
		{"peptic ulcer picture", []string{"epigastric_pain", "heartburn", "hunger_pain"}, "peptic_ulcer"},
	}
	_, client := newService(t, Config{})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := client.Predict(context.Background(), encode(t, tt.selected...))
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.PredictedDisease)
			assert.True(t, result.PredictedIsMax(1e-9))
			_, err = result.Time()
			assert.NoError(t, err)
		})
	}
}

func TestPredict_RejectsIncompleteRecord(t *testing.T) {
	_, client := newService(t, Config{})

	req := encode(t, "fever")
	req.Symptoms = req.Symptoms[1:]

	_, err := client.Predict(context.Background(), req)
	require.Error(t, err)
	var svcErr *predictor.ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, http.StatusUnprocessableEntity, svcErr.StatusCode)
	assert.Contains(t, svcErr.Detail, "fever")
}

func TestFailureInjection(t *testing.T) {
	svc, client := newService(t, Config{FailStatus: http.StatusServiceUnavailable})

	_, err := client.Predict(context.Background(), encode(t))
	var svcErr *predictor.ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, http.StatusServiceUnavailable, svcErr.StatusCode)
	assert.Equal(t, "Injected failure", svcErr.Detail)

	health, err := client.Health(context.Background())
	require.NoError(t, err, "health is not affected by injected failures")
	assert.True(t, health.ModelLoaded)

	svc.SetFailure(0)
	_, err = client.Predict(context.Background(), encode(t))
	assert.NoError(t, err)
	assert.Equal(t, int64(2), svc.Requests())
}

func TestLatencyHonoursCallerDeadline(t *testing.T) {
	_, client := newService(t, Config{Latency: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Predict(ctx, encode(t))
	assert.Error(t, err)
}

func TestBatchAndMetadata(t *testing.T) {
	_, client := newService(t, Config{})
	ctx := context.Background()

	batch, err := client.PredictBatch(ctx, []encoder.Request{
		encode(t, "diarrhea", "vomiting", "nausea"),
		encode(t, "maculopapular_rash", "conjunctivitis", "runny_nose"),
	})
	require.NoError(t, err)
	require.Len(t, batch.Predictions, 2)
	assert.Equal(t, 2, batch.TotalPatients)
	assert.Equal(t, "gastroenteritis", batch.Predictions[0].PredictedDisease)
	assert.Equal(t, "measles", batch.Predictions[1].PredictedDisease)

	cats, err := client.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, 11, cats.TotalDiseases)

	info, err := client.ModelInfo(ctx)
	require.NoError(t, err)
	assert.Len(t, info.Features, 46)
}
