// Copyright 2025 Certen Protocol
//
// Package consistency provides the pluggable strategies that bridge a
// locally signed record to external anchor submission, grounded on the
// chain execution strategy interface's common-interface/async-callback
// design and the anchor scheduler's periodic-timer batch flush.
package consistency

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tracechain/tracechain/pkg/record"
)

// ErrAnchorInFlight is returned by RetryAnchor when the target record is
// already submitted and awaiting confirmation — a deliberate resolution
// of the "retry on in-flight record" open question: reject rather than
// race a concurrent submission of the same hash.
var ErrAnchorInFlight = errors.New("consistency: anchor already in flight for this record")

// AnchorError describes a failed anchor submission: the record's status
// is already persisted as failed by the time this is returned, so
// callers that only need the failed status (Async, Cache, TwoPhase) can
// ignore it, while a caller that must surface the failure synchronously
// (Sync) returns it to its own caller.
type AnchorError struct {
	EntryHash  string
	RetryCount int
	Err        error
}

func (e *AnchorError) Error() string {
	return fmt.Sprintf("consistency: anchor failed for %s after %d attempt(s): %v", e.EntryHash, e.RetryCount, e.Err)
}

func (e *AnchorError) Unwrap() error { return e.Err }

// AnchorFunc submits a record to an external chain and returns the
// resulting transaction hash, or an error.
type AnchorFunc func(ctx context.Context, sr *record.Signed) (txHash string, err error)

// UpdateStatusFunc applies a new anchor status to a persisted record.
type UpdateStatusFunc func(ctx context.Context, entryHash string, status record.AnchorStatus) error

// Strategy is implemented by every consistency strategy.
type Strategy interface {
	// OnActionComplete is invoked immediately after a record has been
	// locally signed and stored in pending state.
	OnActionComplete(ctx context.Context, sr *record.Signed, anchor AnchorFunc, update UpdateStatusFunc) error

	// Stop releases any background resources (timers, goroutines).
	Stop(ctx context.Context) error
}

// FlightTracker tracks hashes currently submitted but not yet resolved, so
// RetryAnchor can reject a race against an in-progress submission.
type FlightTracker struct {
	mu sync.Mutex
	m  map[string]bool
}

func NewFlightTracker() *FlightTracker { return &FlightTracker{m: map[string]bool{}} }

func (f *FlightTracker) tryStart(hash string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.m[hash] {
		return false
	}
	f.m[hash] = true
	return true
}

func (f *FlightTracker) finish(hash string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.m, hash)
}

// submitOnce runs anchor, transitions through submitted, and finally to
// confirmed or failed, tracking in-flight state for RetryAnchor.
func submitOnce(ctx context.Context, sr *record.Signed, anchor AnchorFunc, update UpdateStatusFunc, flight *FlightTracker, logger *log.Logger) error {
	if !flight.tryStart(sr.EntryHash) {
		return ErrAnchorInFlight
	}
	defer flight.finish(sr.EntryHash)

	if err := update(ctx, sr.EntryHash, record.AnchorStatus{
		State: record.StateSubmitted, UpdatedAt: time.Now(), RetryCount: sr.Anchor.RetryCount,
	}); err != nil {
		return fmt.Errorf("consistency: mark submitted: %w", err)
	}

	txHash, err := anchor(ctx, sr)
	if err != nil {
		retryCount := sr.Anchor.RetryCount + 1
		logger.Printf("anchor failed for %s: %v", sr.EntryHash, err)
		if uerr := update(ctx, sr.EntryHash, record.AnchorStatus{
			State: record.StateFailed, UpdatedAt: time.Now(),
			RetryCount: retryCount, LastError: err.Error(),
		}); uerr != nil {
			return fmt.Errorf("consistency: mark failed: %w", uerr)
		}
		return &AnchorError{EntryHash: sr.EntryHash, RetryCount: retryCount, Err: err}
	}
	return update(ctx, sr.EntryHash, record.AnchorStatus{
		State: record.StateConfirmed, TxHash: txHash, UpdatedAt: time.Now(), RetryCount: sr.Anchor.RetryCount,
	})
}

// RetryAnchor re-attempts anchoring a record that is currently failed or
// pending. A record already submitted is rejected with
// ErrAnchorInFlight rather than raced.
func RetryAnchor(ctx context.Context, sr *record.Signed, anchor AnchorFunc, update UpdateStatusFunc, flight *FlightTracker, logger *log.Logger) error {
	if sr.Anchor.State != record.StateFailed && sr.Anchor.State != record.StatePending {
		return ErrAnchorInFlight
	}
	return submitOnce(ctx, sr, anchor, update, flight, logger)
}

// ---- Sync strategy ----

// Sync submits synchronously and propagates any anchor failure back to
// the caller of OnActionComplete, per spec's blocking/error-propagating
// strategy.
type Sync struct {
	flight *FlightTracker
	logger *log.Logger
}

func NewSync() *Sync {
	return &Sync{flight: NewFlightTracker(), logger: log.New(log.Writer(), "[sync] ", log.LstdFlags)}
}

func (s *Sync) OnActionComplete(ctx context.Context, sr *record.Signed, anchor AnchorFunc, update UpdateStatusFunc) error {
	return submitOnce(ctx, sr, anchor, update, s.flight, s.logger)
}

func (s *Sync) Stop(context.Context) error { return nil }

// ---- Async strategy ----

// Async submits in a background goroutine; any failure is swallowed
// into the record's own status rather than returned to the caller.
type Async struct {
	flight *FlightTracker
	logger *log.Logger
	wg     sync.WaitGroup
}

func NewAsync() *Async {
	return &Async{flight: NewFlightTracker(), logger: log.New(log.Writer(), "[async] ", log.LstdFlags)}
}

func (a *Async) OnActionComplete(ctx context.Context, sr *record.Signed, anchor AnchorFunc, update UpdateStatusFunc) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := submitOnce(context.WithoutCancel(ctx), sr, anchor, update, a.flight, a.logger); err != nil {
			a.logger.Printf("background anchor error for %s: %v", sr.EntryHash, err)
		}
	}()
	return nil
}

func (a *Async) Stop(context.Context) error {
	a.wg.Wait()
	return nil
}

// ---- Cache strategy ----

// Cache buffers pending records and flushes them as a batch on a
// periodic timer, grounded on the anchor scheduler's running-bool
// re-entrancy guard. Records are drained from the buffer before any are
// submitted, so a concurrent flush can never double-submit a record
// still sitting in the buffer.
type Cache struct {
	mu        sync.Mutex
	buffer    []*record.Signed
	flight    *FlightTracker
	logger    *log.Logger
	isFlushing bool
	ticker    *time.Ticker
	done      chan struct{}
	anchor    AnchorFunc
	update    UpdateStatusFunc
}

// NewCache starts a background flush loop firing every interval.
func NewCache(interval time.Duration) *Cache {
	c := &Cache{
		flight: NewFlightTracker(),
		logger: log.New(log.Writer(), "[cache-strategy] ", log.LstdFlags),
		ticker: time.NewTicker(interval),
		done:   make(chan struct{}),
	}
	go c.loop()
	return c
}

func (c *Cache) loop() {
	for {
		select {
		case <-c.ticker.C:
			c.Flush(context.Background())
		case <-c.done:
			return
		}
	}
}

func (c *Cache) OnActionComplete(_ context.Context, sr *record.Signed, anchor AnchorFunc, update UpdateStatusFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.anchor = anchor
	c.update = update
	c.buffer = append(c.buffer, sr)
	return nil
}

// Flush drains the buffer and submits every record it held, skipping
// the round entirely if a flush is already in progress.
func (c *Cache) Flush(ctx context.Context) {
	c.mu.Lock()
	if c.isFlushing {
		c.mu.Unlock()
		return
	}
	c.isFlushing = true
	batch := c.buffer
	c.buffer = nil
	anchor, update := c.anchor, c.update
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.isFlushing = false
		c.mu.Unlock()
	}()

	if anchor == nil || update == nil {
		return
	}
	for _, sr := range batch {
		if err := submitOnce(ctx, sr, anchor, update, c.flight, c.logger); err != nil {
			c.logger.Printf("batch anchor error for %s: %v", sr.EntryHash, err)
		}
	}
}

func (c *Cache) Stop(ctx context.Context) error {
	c.ticker.Stop()
	close(c.done)
	c.Flush(ctx)
	return nil
}

// ---- Two-phase strategy ----

// TwoPhase synchronously marks a record local-only-verified (phase one,
// always succeeds locally), then submits to the external anchor
// asynchronously (phase two), combining Sync's local guarantee with
// Async's non-blocking external submission.
type TwoPhase struct {
	async *Async
}

func NewTwoPhase() *TwoPhase {
	return &TwoPhase{async: NewAsync()}
}

func (t *TwoPhase) OnActionComplete(ctx context.Context, sr *record.Signed, anchor AnchorFunc, update UpdateStatusFunc) error {
	if err := update(ctx, sr.EntryHash, record.AnchorStatus{
		State: sr.Anchor.State, UpdatedAt: time.Now(), VerifiedLocal: true, RetryCount: sr.Anchor.RetryCount,
	}); err != nil {
		return fmt.Errorf("consistency: local verification phase: %w", err)
	}
	return t.async.OnActionComplete(ctx, sr, anchor, update)
}

func (t *TwoPhase) Stop(ctx context.Context) error {
	return t.async.Stop(ctx)
}
