// Copyright 2025 Certen Protocol

package store

import (
	"context"
	"sync"

	"github.com/tracechain/tracechain/pkg/record"
)

// MemStore is a volatile, process-local backend, grounded on the
// composition root's own in-memory map-plus-mutex backend.
type MemStore struct {
	mu      sync.RWMutex
	records map[string]*record.Signed
	order   []string
	limit   int
}

// NewMemStore returns an empty MemStore. limit <= 0 means unbounded.
func NewMemStore(limit int) *MemStore {
	return &MemStore{records: make(map[string]*record.Signed), limit: limit}
}

func (s *MemStore) Append(_ context.Context, sr *record.Signed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[sr.EntryHash]; exists {
		return ErrDuplicateHash
	}
	if s.limit > 0 && len(s.records) >= s.limit {
		return ErrCapacityExceeded
	}
	cp := *sr
	s.records[sr.EntryHash] = &cp
	s.order = append(s.order, sr.EntryHash)
	return nil
}

func (s *MemStore) Get(_ context.Context, entryHash string) (*record.Signed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sr, ok := s.records[entryHash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sr
	return &cp, nil
}

func (s *MemStore) GetAll(_ context.Context) ([]*record.Signed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*record.Signed, 0, len(s.order))
	for _, hash := range s.order {
		cp := *s.records[hash]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemStore) GetByStatus(ctx context.Context, state record.State) ([]*record.Signed, error) {
	all, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*record.Signed, 0)
	for _, r := range all {
		if r.Anchor.State == state {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemStore) UpdateStatus(_ context.Context, entryHash string, status record.AnchorStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sr, ok := s.records[entryHash]
	if !ok {
		return ErrNotFound
	}
	return applyTransition(sr, status)
}

func (s *MemStore) GetStats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]*record.Signed, 0, len(s.records))
	for _, r := range s.records {
		records = append(records, r)
	}
	return statsFromRecords(records, s.limit), nil
}

func (s *MemStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*record.Signed)
	s.order = nil
	return nil
}

func (s *MemStore) Close() error { return nil }
