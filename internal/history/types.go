// Package history keeps an audit trail of succeeded predictions. It sits
// outside the intake pipeline: a session works the same with or without it.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/disease-intake-server/internal/encoder"
	"github.com/disease-intake-server/pkg/predictor"
	"github.com/google/uuid"
)

// Entry is one recorded prediction.
type Entry struct {
	ID               string          `json:"id"`
	SessionID        string          `json:"session_id"`
	PredictedDisease string          `json:"predicted_disease"`
	Confidence       float64         `json:"confidence"`
	Request          json.RawMessage `json:"request"`
	Probabilities    json.RawMessage `json:"probabilities"`
	ServiceTimestamp string          `json:"service_timestamp,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// NewEntry captures the wire request and result of one prediction.
func NewEntry(sessionID string, req encoder.Request, result *predictor.PredictionResult) (*Entry, error) {
	rawReq, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	rawProbs, err := json.Marshal(result.AllProbabilities)
	if err != nil {
		return nil, fmt.Errorf("failed to encode probabilities: %w", err)
	}
	return &Entry{
		ID:               uuid.NewString(),
		SessionID:        sessionID,
		PredictedDisease: result.PredictedDisease,
		Confidence:       result.Confidence,
		Request:          rawReq,
		Probabilities:    rawProbs,
		ServiceTimestamp: result.Timestamp,
	}, nil
}

// Store defines the interface for history storage operations.
type Store interface {
	// Save inserts an entry. A missing ID is generated and CreatedAt is set.
	Save(ctx context.Context, entry *Entry) error

	// Get returns the entry with id, or nil if there is none.
	Get(ctx context.Context, id string) (*Entry, error)

	// List returns entries newest first.
	List(ctx context.Context, limit, offset int) ([]*Entry, error)

	// Count returns the total number of entries.
	Count(ctx context.Context) (int64, error)

	// Delete removes an entry by ID.
	Delete(ctx context.Context, id string) error

	// ExportJSON writes every entry as one JSON document.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// Close releases resources.
	Close() error
}

// Export represents the JSON export format.
type Export struct {
	Version    string    `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Count      int       `json:"count"`
	Entries    []*Entry  `json:"entries"`
}

// maxExportLimit is the maximum number of entries to export at once.
const maxExportLimit = 1000000

func exportJSON(ctx context.Context, s Store, writer io.Writer) error {
	all, err := s.List(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}
	if all == nil {
		all = []*Entry{}
	}

	enc := json.NewEncoder(writer)
	enc.SetIndent("", "  ")
	return enc.Encode(&Export{
		Version:    "1.0",
		ExportedAt: time.Now().UTC(),
		Count:      len(all),
		Entries:    all,
	})
}

func prepare(entry *Entry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.CreatedAt = time.Now().UTC()
	if len(entry.Request) == 0 {
		entry.Request = json.RawMessage("{}")
	}
	if len(entry.Probabilities) == 0 {
		entry.Probabilities = json.RawMessage("{}")
	}
}
