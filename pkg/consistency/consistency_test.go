package consistency

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/tracechain/tracechain/pkg/record"
)

func nopLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

type fakeLedger struct {
	mu       sync.Mutex
	statuses map[string]record.AnchorStatus
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{statuses: map[string]record.AnchorStatus{}}
}

func (l *fakeLedger) update(_ context.Context, hash string, status record.AnchorStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses[hash] = status
	return nil
}

func (l *fakeLedger) get(hash string) record.AnchorStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.statuses[hash]
}

func sampleRecord(hash string) *record.Signed {
	return &record.Signed{EntryHash: hash, PreviousHash: record.Genesis, Anchor: record.AnchorStatus{State: record.StatePending}}
}

func TestSyncPropagatesAnchorSuccess(t *testing.T) {
	ledger := newFakeLedger()
	s := NewSync()
	anchor := func(context.Context, *record.Signed) (string, error) { return "0xtx", nil }

	if err := s.OnActionComplete(context.Background(), sampleRecord("0x1"), anchor, ledger.update); err != nil {
		t.Fatal(err)
	}
	if got := ledger.get("0x1"); got.State != record.StateConfirmed || got.TxHash != "0xtx" {
		t.Fatalf("expected confirmed with tx hash, got %+v", got)
	}
}

func TestSyncPropagatesAnchorFailure(t *testing.T) {
	ledger := newFakeLedger()
	s := NewSync()
	wantErr := errors.New("rpc unreachable: out of gas")
	anchor := func(context.Context, *record.Signed) (string, error) { return "", wantErr }

	err := s.OnActionComplete(context.Background(), sampleRecord("0x1"), anchor, ledger.update)
	var aerr *AnchorError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected *AnchorError propagated to the caller, got %v", err)
	}
	if aerr.RetryCount != 1 || !errors.Is(aerr, wantErr) {
		t.Fatalf("expected AnchorError wrapping the anchor error with retry count 1, got %+v", aerr)
	}
	if got := ledger.get("0x1"); got.State != record.StateFailed || got.LastError != wantErr.Error() {
		t.Fatalf("expected failed status recording the error, got %+v", got)
	}
}

func TestAsyncDoesNotBlock(t *testing.T) {
	ledger := newFakeLedger()
	a := NewAsync()
	started := make(chan struct{})
	anchor := func(context.Context, *record.Signed) (string, error) {
		close(started)
		return "0xtx", nil
	}
	if err := a.OnActionComplete(context.Background(), sampleRecord("0x1"), anchor, ledger.update); err != nil {
		t.Fatal(err)
	}
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("expected background anchor to run")
	}
	if err := a.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := ledger.get("0x1"); got.State != record.StateConfirmed {
		t.Fatalf("expected eventual confirmation, got %+v", got)
	}
}

func TestCacheBatchesAndFlushes(t *testing.T) {
	ledger := newFakeLedger()
	c := NewCache(time.Hour) // long interval; flush manually
	var calls int
	anchor := func(context.Context, *record.Signed) (string, error) {
		calls++
		return "0xtx", nil
	}
	if err := c.OnActionComplete(context.Background(), sampleRecord("0x1"), anchor, ledger.update); err != nil {
		t.Fatal(err)
	}
	if err := c.OnActionComplete(context.Background(), sampleRecord("0x2"), anchor, ledger.update); err != nil {
		t.Fatal(err)
	}
	if got := ledger.get("0x1"); got.State != "" {
		t.Fatalf("expected no submission before flush, got %+v", got)
	}
	c.Flush(context.Background())
	if calls != 2 {
		t.Fatalf("expected 2 anchor calls after flush, got %d", calls)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestTwoPhaseMarksLocalThenAnchorsAsync(t *testing.T) {
	ledger := newFakeLedger()
	tp := NewTwoPhase()
	anchor := func(context.Context, *record.Signed) (string, error) { return "0xtx", nil }

	if err := tp.OnActionComplete(context.Background(), sampleRecord("0x1"), anchor, ledger.update); err != nil {
		t.Fatal(err)
	}
	if err := tp.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := ledger.get("0x1"); got.State != record.StateConfirmed {
		t.Fatalf("expected eventual confirmation, got %+v", got)
	}
}

func TestRetryAnchorRejectsInFlight(t *testing.T) {
	ledger := newFakeLedger()
	flight := NewFlightTracker()
	flight.tryStart("0x1")
	defer flight.finish("0x1")

	sr := sampleRecord("0x1")
	sr.Anchor.State = record.StateFailed
	anchor := func(context.Context, *record.Signed) (string, error) { return "0xtx", nil }

	err := RetryAnchor(context.Background(), sr, anchor, ledger.update, flight, nopLogger())
	if !errors.Is(err, ErrAnchorInFlight) {
		t.Fatalf("expected ErrAnchorInFlight, got %v", err)
	}
}

func TestRetryAnchorRejectsConfirmedRecord(t *testing.T) {
	ledger := newFakeLedger()
	flight := NewFlightTracker()
	sr := sampleRecord("0x1")
	sr.Anchor.State = record.StateConfirmed
	anchor := func(context.Context, *record.Signed) (string, error) { return "0xtx", nil }

	err := RetryAnchor(context.Background(), sr, anchor, ledger.update, flight, nopLogger())
	if !errors.Is(err, ErrAnchorInFlight) {
		t.Fatalf("expected ErrAnchorInFlight for a confirmed record, got %v", err)
	}
}
