package predictor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// Probability is one category's share of a prediction.
type Probability struct {
	Category string
	Value    float64
}

// Probabilities keeps the category order the service sent, which makes it a
// stable tie-break for ranking.
type Probabilities []Probability

// ProbabilitiesFromMap builds Probabilities with keys in sorted order.
func ProbabilitiesFromMap(m map[string]float64) Probabilities {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(Probabilities, len(keys))
	for i, k := range keys {
		out[i] = Probability{Category: k, Value: m[k]}
	}
	return out
}

// Get returns the probability for category.
func (p Probabilities) Get(category string) (float64, bool) {
	for _, e := range p {
		if e.Category == category {
			return e.Value, true
		}
	}
	return 0, false
}

// Map converts to a plain map. Order is lost.
func (p Probabilities) Map() map[string]float64 {
	out := make(map[string]float64, len(p))
	for _, e := range p {
		out[e.Category] = e.Value
	}
	return out
}

// MarshalJSON writes an object with keys in slice order.
func (p Probabilities) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Category)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object of numbers, keeping key order and duplicates
// so Validate can reject them. A null value is malformed, not zero.
func (p *Probabilities) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*p = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("all_probabilities must be an object")
	}

	out := Probabilities{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key := tok.(string)

		var v *float64
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("probability for %q: %w", key, err)
		}
		if v == nil {
			return fmt.Errorf("%w: probability for %q is null", ErrMalformedResponse, key)
		}
		out = append(out, Probability{Category: key, Value: *v})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*p = out
	return nil
}

// PredictionResult is the service's answer for one patient.
type PredictionResult struct {
	PredictedDisease string        `json:"predicted_disease"`
	Confidence       float64       `json:"confidence"`
	AllProbabilities Probabilities `json:"all_probabilities"`
	Timestamp        string        `json:"timestamp"`
}

// UnmarshalJSON rejects a missing or null confidence, which a plain float64
// would read as 0.
func (r *PredictionResult) UnmarshalJSON(data []byte) error {
	type plain PredictionResult
	aux := struct {
		*plain
		Confidence *float64 `json:"confidence"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Confidence == nil {
		return fmt.Errorf("%w: confidence is missing or null", ErrMalformedResponse)
	}
	r.Confidence = *aux.Confidence
	return nil
}

// tolerance for probabilities that overshoot 1 through float rounding
const probabilityEpsilon = 1e-9

// Validate rejects partial or malformed results. When outcomes is non-empty
// every category must belong to it.
func (r *PredictionResult) Validate(outcomes []string) error {
	if r.PredictedDisease == "" {
		return fmt.Errorf("%w: predicted_disease is empty", ErrMalformedResponse)
	}
	if !inUnitInterval(r.Confidence) {
		return fmt.Errorf("%w: confidence %v outside [0, 1]", ErrMalformedResponse, r.Confidence)
	}
	if len(r.AllProbabilities) == 0 {
		return fmt.Errorf("%w: all_probabilities is empty", ErrMalformedResponse)
	}

	var allowed map[string]bool
	if len(outcomes) > 0 {
		allowed = make(map[string]bool, len(outcomes))
		for _, o := range outcomes {
			allowed[o] = true
		}
	}

	seen := make(map[string]bool, len(r.AllProbabilities))
	for _, e := range r.AllProbabilities {
		if e.Category == "" {
			return fmt.Errorf("%w: empty category key", ErrMalformedResponse)
		}
		if seen[e.Category] {
			return fmt.Errorf("%w: category %q repeated", ErrMalformedResponse, e.Category)
		}
		seen[e.Category] = true
		if !inUnitInterval(e.Value) {
			return fmt.Errorf("%w: probability %v for %q outside [0, 1]", ErrMalformedResponse, e.Value, e.Category)
		}
		if allowed != nil && !allowed[e.Category] {
			return fmt.Errorf("%w: unknown category %q", ErrMalformedResponse, e.Category)
		}
	}

	if !seen[r.PredictedDisease] {
		return fmt.Errorf("%w: predicted category %q missing from all_probabilities", ErrMalformedResponse, r.PredictedDisease)
	}
	return nil
}

// PredictedIsMax reports whether the predicted category's probability is
// within tol of the largest probability. The service owns this invariant; the
// client only checks it.
func (r *PredictionResult) PredictedIsMax(tol float64) bool {
	p, ok := r.AllProbabilities.Get(r.PredictedDisease)
	if !ok {
		return false
	}
	for _, e := range r.AllProbabilities {
		if e.Value > p+tol {
			return false
		}
	}
	return true
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Time parses Timestamp. Offset-less timestamps are read as UTC.
func (r *PredictionResult) Time() (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, r.Timestamp); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", r.Timestamp)
}

func inUnitInterval(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1+probabilityEpsilon
}

// BatchRequest is the body of a batch prediction.
type BatchRequest struct {
	Patients []json.RawMessage `json:"patients"`
}

// BatchResult is the service's answer for a batch.
type BatchResult struct {
	Predictions   []PredictionResult `json:"predictions"`
	TotalPatients int                `json:"total_patients"`
}

// HealthStatus is the liveness probe payload.
type HealthStatus struct {
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	ModelLoaded bool   `json:"model_loaded"`
	Version     string `json:"version"`
}

// Categories lists the outcome categories the model can return.
type Categories struct {
	Diseases      []string `json:"diseases"`
	TotalDiseases int      `json:"total_diseases"`
}

// ModelInfo describes the deployed model.
type ModelInfo struct {
	ModelType    string   `json:"model_type"`
	Classes      []string `json:"classes"`
	TotalClasses int      `json:"total_classes"`
	Features     []string `json:"features"`
	Accuracy     string   `json:"accuracy"`
	Description  string   `json:"description"`
}
