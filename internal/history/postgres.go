package history

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the Store interface on a pgx pool. The schema is
// created by the migrations in /migrations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an open pool. The pool stays owned by the caller.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func scanPgEntry(row pgx.Row) (*Entry, error) {
	e := &Entry{}
	var req, probs []byte
	err := row.Scan(
		&e.ID, &e.SessionID, &e.PredictedDisease, &e.Confidence,
		&req, &probs, &e.ServiceTimestamp, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Request = req
	e.Probabilities = probs
	return e, nil
}

const pgSelectEntry = `
	SELECT id::text, session_id, predicted_disease, confidence,
		request, probabilities, service_timestamp, created_at
	FROM prediction_history`

// Save inserts an entry.
func (s *PostgresStore) Save(ctx context.Context, entry *Entry) error {
	prepare(entry)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO prediction_history (
			id, session_id, predicted_disease, confidence,
			request, probabilities, service_timestamp, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		entry.ID,
		entry.SessionID,
		entry.PredictedDisease,
		entry.Confidence,
		[]byte(entry.Request),
		[]byte(entry.Probabilities),
		entry.ServiceTimestamp,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert: %w", err)
	}
	return nil
}

// Get returns the entry with id, or nil if there is none.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Entry, error) {
	e, err := scanPgEntry(s.pool.QueryRow(ctx, pgSelectEntry+" WHERE id::text = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return e, nil
}

// List returns entries newest first.
func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]*Entry, error) {
	rows, err := s.pool.Query(ctx, pgSelectEntry+" ORDER BY created_at DESC, id LIMIT $1 OFFSET $2", limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var result []*Entry
	for rows.Next() {
		e, err := scanPgEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// Count returns the total number of entries.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM prediction_history").Scan(&count)
	return count, err
}

// Delete removes an entry by ID.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM prediction_history WHERE id::text = $1", id)
	return err
}

// ExportJSON writes every entry as one JSON document.
func (s *PostgresStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	return exportJSON(ctx, s, writer)
}

// Close is a no-op; the pool belongs to the caller.
func (s *PostgresStore) Close() error {
	return nil
}
