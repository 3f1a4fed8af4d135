// Copyright 2025 Certen Protocol

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tracechain/tracechain/pkg/record"
)

// flushDelay is the debounce window between the most recent write and
// the scheduled disk flush.
const flushDelay = 1 * time.Second

// FSStore persists every record to a single JSON file, flushing at most
// once per flushDelay after the most recent mutation. Grounded on the
// ledger package's key-prefix JSON store, simplified to a single file
// since there is no embedded KV engine backing this tier.
type FSStore struct {
	mu       sync.Mutex
	path     string
	limit    int
	records  map[string]*record.Signed
	order    []string
	timer    *time.Timer
	dirty    bool
	closed   bool
}

type fsDocument struct {
	Order   []string                  `json:"order"`
	Records map[string]*record.Signed `json:"records"`
}

// OpenFSStore loads path if it exists, or starts empty.
func OpenFSStore(path string, limit int) (*FSStore, error) {
	s := &FSStore{path: path, limit: limit, records: make(map[string]*record.Signed)}
	if raw, err := os.ReadFile(path); err == nil {
		var doc fsDocument
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("fsstore: parse %s: %w", path, err)
		}
		s.order = doc.Order
		if doc.Records != nil {
			s.records = doc.Records
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("fsstore: read %s: %w", path, err)
	}
	return s, nil
}

func (s *FSStore) scheduleFlush() {
	s.dirty = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(flushDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		_ = s.flushLocked()
	})
}

func (s *FSStore) flushLocked() error {
	if !s.dirty || s.closed {
		return nil
	}
	doc := fsDocument{Order: s.order, Records: s.records}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("fsstore: marshal: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("fsstore: mkdir: %w", err)
	}
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("fsstore: write: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("fsstore: rename: %w", err)
	}
	s.dirty = false
	return nil
}

func (s *FSStore) Append(_ context.Context, sr *record.Signed) error {
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
	s.scheduleFlush()
	return nil
}

func (s *FSStore) Get(_ context.Context, entryHash string) (*record.Signed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sr, ok := s.records[entryHash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sr
	return &cp, nil
}

func (s *FSStore) GetAll(_ context.Context) ([]*record.Signed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*record.Signed, 0, len(s.order))
	for _, hash := range s.order {
		if sr, ok := s.records[hash]; ok {
			cp := *sr
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *FSStore) GetByStatus(ctx context.Context, state record.State) ([]*record.Signed, error) {
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

func (s *FSStore) UpdateStatus(_ context.Context, entryHash string, status record.AnchorStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sr, ok := s.records[entryHash]
	if !ok {
		return ErrNotFound
	}
	if err := applyTransition(sr, status); err != nil {
		return err
	}
	s.scheduleFlush()
	return nil
}

func (s *FSStore) GetStats(_ context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]*record.Signed, 0, len(s.records))
	for _, r := range s.records {
		records = append(records, r)
	}
	return statsFromRecords(records, s.limit), nil
}

func (s *FSStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*record.Signed)
	s.order = nil
	s.scheduleFlush()
	return nil
}

// Close flushes any pending write synchronously and stops the debounce
// timer.
func (s *FSStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	err := s.flushLocked()
	s.closed = true
	return err
}
