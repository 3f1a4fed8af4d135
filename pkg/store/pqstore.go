// Copyright 2025 Certen Protocol

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/tracechain/tracechain/pkg/record"
)

// PQStore is a supplemental SQL-backed record store, grounded on the
// database package's repository pattern (parameterized queries over a
// *sql.DB, sentinel not-found errors). It is not one of the three
// mandated backends; it enriches the pluggable store interface for
// deployments that already run Postgres.
type PQStore struct {
	db    *sql.DB
	limit int
}

const pqSchema = `
CREATE TABLE IF NOT EXISTS trace_records (
	entry_hash    TEXT PRIMARY KEY,
	previous_hash TEXT NOT NULL,
	signature     TEXT NOT NULL,
	signer        TEXT NOT NULL,
	status        TEXT NOT NULL,
	seq           BIGSERIAL,
	payload       JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS trace_records_status_idx ON trace_records (status);
`

// OpenPQStore connects to connStr and ensures the schema exists.
func OpenPQStore(connStr string, limit int) (*PQStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("pqstore: open: %w", err)
	}
	if _, err := db.Exec(pqSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("pqstore: migrate: %w", err)
	}
	return &PQStore{db: db, limit: limit}, nil
}

func (s *PQStore) Append(ctx context.Context, sr *record.Signed) error {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM trace_records WHERE entry_hash = $1)`, sr.EntryHash).Scan(&exists); err != nil {
		return fmt.Errorf("pqstore: check existing: %w", err)
	}
	if exists {
		return ErrDuplicateHash
	}
	if s.limit > 0 {
		var count int
		if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM trace_records`).Scan(&count); err != nil {
			return fmt.Errorf("pqstore: count: %w", err)
		}
		if count >= s.limit {
			return ErrCapacityExceeded
		}
	}
	payload, err := json.Marshal(sr)
	if err != nil {
		return fmt.Errorf("pqstore: marshal: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trace_records (entry_hash, previous_hash, signature, signer, status, payload)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		sr.EntryHash, sr.PreviousHash, sr.Signature, sr.Signer, string(sr.Anchor.State), payload)
	if err != nil {
		return fmt.Errorf("pqstore: insert: %w", err)
	}
	return nil
}

func (s *PQStore) scanPayload(row *sql.Row) (*record.Signed, error) {
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("pqstore: scan: %w", err)
	}
	var sr record.Signed
	if err := json.Unmarshal(payload, &sr); err != nil {
		return nil, fmt.Errorf("pqstore: decode: %w", err)
	}
	return &sr, nil
}

func (s *PQStore) Get(ctx context.Context, entryHash string) (*record.Signed, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM trace_records WHERE entry_hash = $1`, entryHash)
	return s.scanPayload(row)
}

func (s *PQStore) queryAll(ctx context.Context, query string, args ...any) ([]*record.Signed, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pqstore: query: %w", err)
	}
	defer rows.Close()
	var out []*record.Signed
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("pqstore: scan: %w", err)
		}
		var sr record.Signed
		if err := json.Unmarshal(payload, &sr); err != nil {
			return nil, fmt.Errorf("pqstore: decode: %w", err)
		}
		out = append(out, &sr)
	}
	return out, rows.Err()
}

func (s *PQStore) GetAll(ctx context.Context) ([]*record.Signed, error) {
	return s.queryAll(ctx, `SELECT payload FROM trace_records ORDER BY seq ASC`)
}

func (s *PQStore) GetByStatus(ctx context.Context, state record.State) ([]*record.Signed, error) {
	return s.queryAll(ctx, `SELECT payload FROM trace_records WHERE status = $1 ORDER BY seq ASC`, string(state))
}

func (s *PQStore) UpdateStatus(ctx context.Context, entryHash string, status record.AnchorStatus) error {
	existing, err := s.Get(ctx, entryHash)
	if err != nil {
		return err
	}
	if err := applyTransition(existing, status); err != nil {
		return err
	}
	payload, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("pqstore: marshal: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE trace_records SET status = $1, payload = $2 WHERE entry_hash = $3`,
		string(existing.Anchor.State), payload, entryHash)
	if err != nil {
		return fmt.Errorf("pqstore: update: %w", err)
	}
	return nil
}

func (s *PQStore) GetStats(ctx context.Context) (Stats, error) {
	all, err := s.GetAll(ctx)
	if err != nil {
		return Stats{}, err
	}
	return statsFromRecords(all, s.limit), nil
}

func (s *PQStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM trace_records`)
	if err != nil {
		return fmt.Errorf("pqstore: clear: %w", err)
	}
	return nil
}

func (s *PQStore) Close() error {
	return s.db.Close()
}
