// Copyright 2025 Certen Protocol

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/tracechain/tracechain/pkg/record"
)

var (
	keyRecordPrefix = []byte("tracechain:record:")
	keyOrderPrefix  = []byte("tracechain:order:")
)

func recordKey(entryHash string) []byte {
	return append(append([]byte{}, keyRecordPrefix...), []byte(entryHash)...)
}

func orderKey(seq uint64) []byte {
	return append(append([]byte{}, keyOrderPrefix...), []byte(fmt.Sprintf("%020d", seq))...)
}

// KVStore persists records in an embedded goleveldb database via
// cometbft-db, standing in for a browser-grade durable local store.
// Secondary ordering and status indexes are rebuilt into memory at open
// time from a key-prefix scan, following the ledger package's key-layout
// convention.
type KVStore struct {
	mu      sync.RWMutex
	db      dbm.DB
	limit   int
	order   []string
	nextSeq uint64
	byState map[record.State]map[string]bool
}

// OpenKVStore opens (creating if necessary) a goleveldb database at dir
// under the given name.
func OpenKVStore(name, dir string, limit int) (*KVStore, error) {
	db, err := dbm.NewGoLevelDB(name, dir)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open: %w", err)
	}
	s := &KVStore{db: db, limit: limit, byState: map[record.State]map[string]bool{}}
	if err := s.rebuildIndex(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *KVStore) rebuildIndex() error {
	iter, err := s.db.Iterator(keyOrderPrefix, dbm.PrefixEndBytes(keyOrderPrefix))
	if err != nil {
		return fmt.Errorf("kvstore: iterate order index: %w", err)
	}
	defer iter.Close()
	for ; iter.Valid(); iter.Next() {
		hash := string(iter.Value())
		s.order = append(s.order, hash)
		s.nextSeq++

		raw, err := s.db.Get(recordKey(hash))
		if err != nil {
			return fmt.Errorf("kvstore: read record %s: %w", hash, err)
		}
		if raw == nil {
			continue
		}
		var sr record.Signed
		if err := json.Unmarshal(raw, &sr); err != nil {
			return fmt.Errorf("kvstore: decode record %s: %w", hash, err)
		}
		s.indexState(hash, sr.Anchor.State)
	}
	return nil
}

func (s *KVStore) indexState(hash string, state record.State) {
	if s.byState[state] == nil {
		s.byState[state] = map[string]bool{}
	}
	s.byState[state][hash] = true
}

func (s *KVStore) unindexState(hash string, state record.State) {
	delete(s.byState[state], hash)
}

func (s *KVStore) Append(_ context.Context, sr *record.Signed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, err := s.db.Get(recordKey(sr.EntryHash))
	if err != nil {
		return fmt.Errorf("kvstore: check existing record: %w", err)
	}
	if existing != nil {
		return ErrDuplicateHash
	}
	if s.limit > 0 && len(s.order) >= s.limit {
		return ErrCapacityExceeded
	}
	raw, err := json.Marshal(sr)
	if err != nil {
		return fmt.Errorf("kvstore: marshal: %w", err)
	}
	if err := s.db.SetSync(recordKey(sr.EntryHash), raw); err != nil {
		return fmt.Errorf("kvstore: write record: %w", err)
	}
	if err := s.db.SetSync(orderKey(s.nextSeq), []byte(sr.EntryHash)); err != nil {
		return fmt.Errorf("kvstore: write order index: %w", err)
	}
	s.nextSeq++
	s.order = append(s.order, sr.EntryHash)
	s.indexState(sr.EntryHash, sr.Anchor.State)
	return nil
}

func (s *KVStore) getLocked(entryHash string) (*record.Signed, error) {
	raw, err := s.db.Get(recordKey(entryHash))
	if err != nil {
		return nil, fmt.Errorf("kvstore: read record: %w", err)
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	var sr record.Signed
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, fmt.Errorf("kvstore: decode record: %w", err)
	}
	return &sr, nil
}

func (s *KVStore) Get(_ context.Context, entryHash string) (*record.Signed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(entryHash)
}

func (s *KVStore) GetAll(_ context.Context) ([]*record.Signed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*record.Signed, 0, len(s.order))
	for _, hash := range s.order {
		sr, err := s.getLocked(hash)
		if err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	return out, nil
}

func (s *KVStore) GetByStatus(_ context.Context, state record.State) ([]*record.Signed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*record.Signed, 0, len(s.byState[state]))
	for hash := range s.byState[state] {
		sr, err := s.getLocked(hash)
		if err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	return out, nil
}

func (s *KVStore) UpdateStatus(_ context.Context, entryHash string, status record.AnchorStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sr, err := s.getLocked(entryHash)
	if err != nil {
		return err
	}
	prevState := sr.Anchor.State
	if err := applyTransition(sr, status); err != nil {
		return err
	}
	raw, err := json.Marshal(sr)
	if err != nil {
		return fmt.Errorf("kvstore: marshal: %w", err)
	}
	if err := s.db.SetSync(recordKey(entryHash), raw); err != nil {
		return fmt.Errorf("kvstore: write record: %w", err)
	}
	s.unindexState(entryHash, prevState)
	s.indexState(entryHash, sr.Anchor.State)
	return nil
}

func (s *KVStore) GetStats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]*record.Signed, 0, len(s.order))
	for _, hash := range s.order {
		sr, err := s.getLocked(hash)
		if err != nil {
			return Stats{}, err
		}
		records = append(records, sr)
	}
	return statsFromRecords(records, s.limit), nil
}

func (s *KVStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, hash := range s.order {
		_ = s.db.DeleteSync(recordKey(hash))
	}
	for i := uint64(0); i < s.nextSeq; i++ {
		_ = s.db.DeleteSync(orderKey(i))
	}
	s.order = nil
	s.nextSeq = 0
	s.byState = map[record.State]map[string]bool{}
	return nil
}

func (s *KVStore) Close() error {
	return s.db.Close()
}
