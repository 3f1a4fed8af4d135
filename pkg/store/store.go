// Copyright 2025 Certen Protocol
//
// Package store defines the pluggable record store interface and its
// backends (in-memory, filesystem-JSON, embedded durable KV, and a
// supplemental SQL store).
package store

import (
	"context"
	"errors"

	"github.com/tracechain/tracechain/pkg/record"
)

// Sentinel errors, following the database package's explicit-error
// convention rather than returning (nil, nil) on a miss.
var (
	ErrNotFound         = errors.New("store: record not found")
	ErrCapacityExceeded = errors.New("store: capacity exceeded")
	ErrInvalidTransition = errors.New("store: status transition not permitted")
	ErrDuplicateHash    = errors.New("store: a record with this entry hash already exists")
)

// Stats summarizes a store's current contents.
type Stats struct {
	Count          int
	CapacityLimit  int
	CapacityPct    float64
	ByState        map[record.State]int
}

// Store is implemented by every record-store backend. All methods must
// be safe for concurrent use.
type Store interface {
	// Append persists sr. It returns ErrCapacityExceeded if the store's
	// limit would be exceeded, or ErrDuplicateHash if a record with the
	// same entry hash already exists.
	Append(ctx context.Context, sr *record.Signed) error

	// Get returns the record with the given entry hash, or ErrNotFound.
	Get(ctx context.Context, entryHash string) (*record.Signed, error)

	// GetAll returns every record, oldest first.
	GetAll(ctx context.Context) ([]*record.Signed, error)

	// GetByStatus returns every record currently in the given state.
	GetByStatus(ctx context.Context, state record.State) ([]*record.Signed, error)

	// UpdateStatus applies a new anchor status to the record with the
	// given hash, enforcing the permitted state-transition graph.
	UpdateStatus(ctx context.Context, entryHash string, status record.AnchorStatus) error

	// GetStats reports current occupancy.
	GetStats(ctx context.Context) (Stats, error)

	// Clear removes every record.
	Clear(ctx context.Context) error

	// Close releases any resources the backend holds open.
	Close() error
}

// applyTransition validates and applies a status update in place,
// returning ErrInvalidTransition if the move is not permitted by the
// state graph in the record package.
func applyTransition(existing *record.Signed, next record.AnchorStatus) error {
	if !record.CanTransition(existing.Anchor.State, next.State) {
		return ErrInvalidTransition
	}
	existing.Anchor = next
	return nil
}

func statsFromRecords(records []*record.Signed, limit int) Stats {
	byState := map[record.State]int{}
	for _, r := range records {
		byState[r.Anchor.State]++
	}
	stats := Stats{Count: len(records), CapacityLimit: limit, ByState: byState}
	if limit > 0 {
		stats.CapacityPct = float64(len(records)) / float64(limit) * 100
	}
	return stats
}
