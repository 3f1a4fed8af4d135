// Copyright 2025 Certen Protocol
//
// Package cache provides the facade over a record store that tracks
// capacity warnings, fans callbacks out to observers, and exposes
// Prometheus metrics, following the status-snapshot idiom of the batch
// package's health reporting.
package cache

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tracechain/tracechain/pkg/record"
	"github.com/tracechain/tracechain/pkg/store"
)

// Callbacks lets a caller observe cache-manager activity. Every field is
// optional; a callback that panics is recovered and logged, never
// propagated to the caller that triggered it.
type Callbacks struct {
	OnRecordSigned    func(*record.Signed)
	OnAnchorPending   func(*record.Signed)
	OnAnchorConfirmed func(*record.Signed)
	OnAnchorFailed    func(*record.Signed)
	OnStorageWarning  func(pct float64)
}

// Config controls capacity-warning behavior.
type Config struct {
	WarningThreshold float64 // fraction of capacity, e.g. 0.8
}

func DefaultConfig() Config {
	return Config{WarningThreshold: 0.8}
}

// Manager is the facade C8 composes on top of a store.Store.
type Manager struct {
	mu          sync.Mutex
	store       store.Store
	cfg         Config
	callbacks   Callbacks
	logger      *log.Logger
	warned      bool
	metrics     *metrics
}

type metrics struct {
	signed    prometheus.Counter
	confirmed prometheus.Counter
	failed    prometheus.Counter
	capacity  prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		signed:    prometheus.NewCounter(prometheus.CounterOpts{Name: "tracechain_records_signed_total", Help: "Records signed into the chain."}),
		confirmed: prometheus.NewCounter(prometheus.CounterOpts{Name: "tracechain_records_confirmed_total", Help: "Records confirmed anchored."}),
		failed:    prometheus.NewCounter(prometheus.CounterOpts{Name: "tracechain_records_failed_total", Help: "Records that failed anchoring."}),
		capacity:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "tracechain_store_capacity_percent", Help: "Store occupancy as a percentage of its configured limit."}),
	}
	if reg != nil {
		reg.MustRegister(m.signed, m.confirmed, m.failed, m.capacity)
	}
	return m
}

// New builds a Manager over s. reg may be nil to skip metrics
// registration (e.g. in tests that construct multiple Managers against
// the default registry).
func New(s store.Store, cfg Config, cb Callbacks, reg prometheus.Registerer) *Manager {
	return &Manager{
		store:     s,
		cfg:       cfg,
		callbacks: cb,
		logger:    log.New(log.Writer(), "[cache] ", log.LstdFlags),
		metrics:   newMetrics(reg),
	}
}

func (m *Manager) safeCall(fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Printf("recovered panic in callback: %v", r)
		}
	}()
	fn()
}

// RecordSigned persists a newly signed record and fires OnRecordSigned,
// followed by a storage-warning check.
func (m *Manager) RecordSigned(ctx context.Context, sr *record.Signed) error {
	if err := m.store.Append(ctx, sr); err != nil {
		return fmt.Errorf("cache: append: %w", err)
	}
	m.metrics.signed.Inc()
	m.safeCall(func() { m.callbacks.OnRecordSigned(sr) })
	m.checkCapacity(ctx)
	return nil
}

func (m *Manager) checkCapacity(ctx context.Context) {
	stats, err := m.store.GetStats(ctx)
	if err != nil || stats.CapacityLimit <= 0 {
		return
	}
	m.metrics.capacity.Set(stats.CapacityPct)

	m.mu.Lock()
	defer m.mu.Unlock()
	if stats.CapacityPct >= m.cfg.WarningThreshold*100 {
		if !m.warned {
			m.warned = true
			m.safeCall(func() { m.callbacks.OnStorageWarning(stats.CapacityPct) })
		}
	}
}

// UpdateStatus applies a status transition and fires the matching
// lifecycle callback.
func (m *Manager) UpdateStatus(ctx context.Context, entryHash string, status record.AnchorStatus) error {
	if err := m.store.UpdateStatus(ctx, entryHash, status); err != nil {
		return err
	}
	sr, err := m.store.Get(ctx, entryHash)
	if err != nil {
		return err
	}
	switch status.State {
	case record.StateSubmitted:
		m.safeCall(func() { m.callbacks.OnAnchorPending(sr) })
	case record.StateConfirmed:
		m.metrics.confirmed.Inc()
		m.safeCall(func() { m.callbacks.OnAnchorConfirmed(sr) })
	case record.StateFailed, record.StateRejected:
		m.metrics.failed.Inc()
		m.safeCall(func() { m.callbacks.OnAnchorFailed(sr) })
	}
	return nil
}

// MarkLocallyVerified transitions a record to local-only, preserving its
// retry count, per the state graph's operator-override edge reachable
// from any non-confirmed state.
func (m *Manager) MarkLocallyVerified(ctx context.Context, entryHash string) error {
	sr, err := m.store.Get(ctx, entryHash)
	if err != nil {
		return err
	}
	status := sr.Anchor
	status.State = record.StateLocalOnly
	status.VerifiedLocal = true
	status.UpdatedAt = time.Now()
	return m.store.UpdateStatus(ctx, entryHash, status)
}

// GetPending returns every record in pending, submitted, or failed
// state — the union the consistency coordinator operates over.
func (m *Manager) GetPending(ctx context.Context) ([]*record.Signed, error) {
	var out []*record.Signed
	for _, state := range []record.State{record.StatePending, record.StateSubmitted, record.StateFailed} {
		recs, err := m.store.GetByStatus(ctx, state)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

// GetStatusCounts reports how many records are in each anchor state.
func (m *Manager) GetStatusCounts(ctx context.Context) (map[record.State]int, error) {
	stats, err := m.store.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	return stats.ByState, nil
}

// Stats returns the underlying store's occupancy statistics.
func (m *Manager) Stats(ctx context.Context) (store.Stats, error) {
	return m.store.GetStats(ctx)
}

// Clear resets both the store and the capacity-warning hysteresis.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.warned = false
	m.mu.Unlock()
	return m.store.Clear(ctx)
}

// Get fetches a single record.
func (m *Manager) Get(ctx context.Context, entryHash string) (*record.Signed, error) {
	return m.store.Get(ctx, entryHash)
}

// GetAll fetches every record.
func (m *Manager) GetAll(ctx context.Context) ([]*record.Signed, error) {
	return m.store.GetAll(ctx)
}
