package tracewrap

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tracechain/tracechain/pkg/cache"
	"github.com/tracechain/tracechain/pkg/config"
	"github.com/tracechain/tracechain/pkg/consistency"
	"github.com/tracechain/tracechain/pkg/record"
)

// a well-known test-only secp256k1 private key; the wrapped methods
// below never touch anything financial, so reuse is harmless.
const testKeyHex = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f25"

type ledger struct {
	name string
}

func (l *ledger) Deposit(amount int) (int, error) {
	if amount < 0 {
		return 0, errors.New("negative deposit")
	}
	return amount, nil
}

func baseConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.PrivateKeyHex = testKeyHex
	cfg.StoreBackend = config.StoreMemory
	cfg.ConsistencyStrategy = config.StrategySync
	return cfg
}

func TestNewWrapsAndRecords(t *testing.T) {
	anchor := func(context.Context, *record.Signed) (string, error) { return "0xabc", nil }

	w, err := New(&ledger{name: "acct"}, baseConfig(), anchor, WithRegisterer(nil))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close(context.Background())

	result, err := w.Agent.Invoke(context.Background(), "Deposit", 100)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result.(int) != 100 {
		t.Fatalf("expected 100, got %v", result)
	}

	pending, err := w.GetPendingRecords(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("sync strategy should confirm immediately, got %d still pending", len(pending))
	}
}

func TestRecordReachesConfirmedViaSyncStrategy(t *testing.T) {
	anchor := func(context.Context, *record.Signed) (string, error) { return "0xtx1", nil }
	w, err := New(&ledger{}, baseConfig(), anchor, WithRegisterer(nil))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close(context.Background())

	if _, err := w.Agent.Invoke(context.Background(), "Deposit", 5); err != nil {
		t.Fatal(err)
	}

	all, err := w.cache.GetAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 record, got %d", len(all))
	}
	status, err := w.GetAnchorStatus(context.Background(), all[0].EntryHash)
	if err != nil {
		t.Fatal(err)
	}
	if status.State != record.StateConfirmed || status.TxHash != "0xtx1" {
		t.Fatalf("expected confirmed with tx hash, got %+v", status)
	}

	url, err := w.GetExplorerUrl(context.Background(), all[0].EntryHash)
	if err != nil {
		t.Fatal(err)
	}
	if url != "https://sepolia.etherscan.io/tx/0xtx1" {
		t.Fatalf("unexpected explorer url: %s", url)
	}
}

func TestRetryAnchorRejectsAlreadyConfirmed(t *testing.T) {
	anchor := func(context.Context, *record.Signed) (string, error) { return "0xtx2", nil }
	w, err := New(&ledger{}, baseConfig(), anchor, WithRegisterer(nil))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close(context.Background())

	if _, err := w.Agent.Invoke(context.Background(), "Deposit", 5); err != nil {
		t.Fatal(err)
	}
	all, err := w.cache.GetAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	err = w.RetryAnchor(context.Background(), all[0].EntryHash)
	if !errors.Is(err, consistency.ErrAnchorInFlight) {
		t.Fatalf("expected ErrAnchorInFlight for a confirmed record, got %v", err)
	}
}

func TestRetryAnchorRetriesFailedRecord(t *testing.T) {
	var calls int
	anchor := func(context.Context, *record.Signed) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("rpc down: out of gas")
		}
		return "0xretry", nil
	}
	w, err := New(&ledger{}, baseConfig(), anchor, WithRegisterer(nil))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close(context.Background())

	result, invokeErr := w.Agent.Invoke(context.Background(), "Deposit", 5)
	if result.(int) != 5 {
		t.Fatalf("expected the deposit's own result to still be returned, got %v", result)
	}
	var af *AnchorFailure
	if !errors.As(invokeErr, &af) {
		t.Fatalf("expected the Sync strategy's anchor failure to surface from Invoke, got %v", invokeErr)
	}
	if af.RetryCount != 1 || !strings.Contains(af.LastError, "gas") {
		t.Fatalf("expected anchor failure mentioning retry count and gas, got %+v", af)
	}

	all, err := w.cache.GetAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	hash := all[0].EntryHash

	status, err := w.GetAnchorStatus(context.Background(), hash)
	if err != nil {
		t.Fatal(err)
	}
	if status.State != record.StateFailed {
		t.Fatalf("expected first anchor attempt to fail, got %+v", status)
	}

	if err := w.RetryAnchor(context.Background(), hash); err != nil {
		t.Fatalf("RetryAnchor: %v", err)
	}
	status, err = w.GetAnchorStatus(context.Background(), hash)
	if err != nil {
		t.Fatal(err)
	}
	if status.State != record.StateConfirmed || status.TxHash != "0xretry" {
		t.Fatalf("expected confirmed after retry, got %+v", status)
	}
}

func TestWithCallbacksOptionWiresLifecycleHooks(t *testing.T) {
	anchor := func(context.Context, *record.Signed) (string, error) { return "0xcb", nil }
	var signed, confirmed *record.Signed

	w, err := New(&ledger{}, baseConfig(), anchor, WithRegisterer(nil), WithCallbacks(cache.Callbacks{
		OnRecordSigned:    func(sr *record.Signed) { signed = sr },
		OnAnchorConfirmed: func(sr *record.Signed) { confirmed = sr },
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close(context.Background())

	if _, err := w.Agent.Invoke(context.Background(), "Deposit", 5); err != nil {
		t.Fatal(err)
	}
	if signed == nil {
		t.Fatal("expected OnRecordSigned to fire")
	}
	if confirmed == nil || confirmed.EntryHash != signed.EntryHash {
		t.Fatalf("expected OnAnchorConfirmed for the same record, got %+v", confirmed)
	}
}
