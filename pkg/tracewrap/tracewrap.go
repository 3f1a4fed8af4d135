// Copyright 2025 Certen Protocol
//
// Package tracewrap composes the redactor, signing context, record
// store, cache manager, interceptor, and consistency strategy into the
// single facade an application wraps its service with, grounded on the
// validator's main.go composition-root wiring style.
package tracewrap

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tracechain/tracechain/pkg/cache"
	"github.com/tracechain/tracechain/pkg/config"
	"github.com/tracechain/tracechain/pkg/consistency"
	"github.com/tracechain/tracechain/pkg/intercept"
	"github.com/tracechain/tracechain/pkg/record"
	"github.com/tracechain/tracechain/pkg/redact"
	"github.com/tracechain/tracechain/pkg/signing"
	"github.com/tracechain/tracechain/pkg/store"
	"github.com/tracechain/tracechain/pkg/trace"
)

// Wrapper is the public facade around a wrapped target value.
type Wrapper struct {
	Agent *intercept.Agent

	cfg         config.Config
	redactor    *redact.Redactor
	signer      *signing.Context
	cache       *cache.Manager
	strategy    consistency.Strategy
	anchor      consistency.AnchorFunc
	retryFlight *consistency.FlightTracker
	logger      *log.Logger
}

// buildOptions accumulates the Option values applied during New before
// the cache manager (and its registerer/callbacks) is constructed.
type buildOptions struct {
	callbacks  cache.Callbacks
	registerer prometheus.Registerer
}

// Option customizes a Wrapper during construction.
type Option func(*buildOptions)

// WithCallbacks wires lifecycle callbacks (e.g. a firestoresync.Sink's
// OnRecordSigned/OnAnchorPending/OnAnchorConfirmed/OnAnchorFailed
// methods) into the cache manager the Wrapper builds.
func WithCallbacks(cb cache.Callbacks) Option {
	return func(b *buildOptions) { b.callbacks = cb }
}

// WithRegisterer overrides the Prometheus registerer the cache manager's
// metrics are registered against, in place of prometheus.DefaultRegisterer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(b *buildOptions) { b.registerer = reg }
}

// New validates cfg, builds every component per the configured backend
// and strategy, and wraps target for reflective interception.
func New(target any, cfg config.Config, anchor consistency.AnchorFunc, opts ...Option) (*Wrapper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{Err: err}
	}

	key, err := loadKey(cfg)
	if err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("load key: %w", err)}
	}

	w := &Wrapper{
		cfg:         cfg,
		anchor:      anchor,
		retryFlight: consistency.NewFlightTracker(),
		logger:      log.New(log.Writer(), "[tracewrap] ", log.LstdFlags),
	}
	build := buildOptions{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&build)
	}

	redactCfg := redact.Config{UseBuiltins: cfg.Redaction.UseBuiltins, Token: cfg.Redaction.Token}
	if cfg.Redaction.Enabled {
		for i, expr := range cfg.Redaction.Patterns {
			p, err := redact.NewPattern(fmt.Sprintf("custom_%d", i), expr)
			if err != nil {
				return nil, &ConfigError{Err: fmt.Errorf("redaction pattern %q: %w", expr, err)}
			}
			redactCfg.Patterns = append(redactCfg.Patterns, p)
		}
		w.redactor = redact.New(redactCfg)
	}

	w.signer = signing.New(key, signing.Callbacks{})

	st, err := openStore(cfg)
	if err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("open store: %w", err)}
	}

	w.cache = cache.New(st, cache.Config{WarningThreshold: cfg.WarningThreshold}, build.callbacks, build.registerer)

	w.strategy, err = openStrategy(cfg)
	if err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("open strategy: %w", err)}
	}

	w.Agent = intercept.New(target, intercept.RecorderFunc(w.recordEntry))
	return w, nil
}

func loadKey(cfg config.Config) (*ecdsa.PrivateKey, error) {
	if cfg.PrivateKeyHex != "" {
		return crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
	}
	raw, err := os.ReadFile(cfg.KeySourcePath)
	if err != nil {
		return nil, fmt.Errorf("read key source: %w", err)
	}
	return crypto.HexToECDSA(strings.TrimSpace(strings.TrimPrefix(string(raw), "0x")))
}

func openStore(cfg config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.StorePQ:
		return store.OpenPQStore(cfg.DatabaseURL, cfg.StoreLimit)
	default:
		return store.Open(store.Options{
			Backend: string(cfg.StoreBackend),
			Dir:     cfg.StoreDir,
			Limit:   cfg.StoreLimit,
		})
	}
}

func openStrategy(cfg config.Config) (consistency.Strategy, error) {
	switch cfg.ConsistencyStrategy {
	case config.StrategySync:
		return consistency.NewSync(), nil
	case config.StrategyAsync:
		return consistency.NewAsync(), nil
	case config.StrategyCache:
		return consistency.NewCache(cfg.CacheFlushInterval), nil
	case config.StrategyTwoPhase:
		return consistency.NewTwoPhase(), nil
	default:
		return nil, fmt.Errorf("unknown consistency strategy %q", cfg.ConsistencyStrategy)
	}
}

// recordEntry is the intercept.Recorder the Agent calls after every
// invocation: redact, sign, persist, then hand off to the consistency
// strategy for anchoring. Its return value is surfaced by Agent.Invoke
// alongside the wrapped call's own result — the only error that
// reaches the caller this way is a synchronous anchor failure (the Sync
// strategy); every other strategy reports failure only through the
// record's persisted status.
func (w *Wrapper) recordEntry(ctx context.Context, entry trace.Entry) error {
	if w.redactor != nil {
		if len(entry.Args) > 0 {
			if redacted, ok := w.redactor.Redact(entry.Args).([]any); ok {
				entry.Args = redacted
			}
		}
		if entry.Result != nil {
			entry.Result = w.redactor.Redact(entry.Result)
		}
	}

	sr, err := w.signer.Sign(entry)
	if err != nil {
		w.logger.Printf("sign failed for %s: %v", entry.Method, err)
		return nil
	}
	if err := w.cache.RecordSigned(ctx, sr); err != nil {
		w.logger.Printf("store failed for %s: %v", entry.Method, wrapStoreErr(sr.EntryHash, err))
		return nil
	}
	if w.anchor == nil {
		return nil
	}
	if err := w.strategy.OnActionComplete(ctx, sr, w.anchor, w.cache.UpdateStatus); err != nil {
		var aerr *consistency.AnchorError
		if errors.As(err, &aerr) {
			return newAnchorFailure(aerr.EntryHash, aerr.RetryCount, aerr.Err.Error())
		}
		w.logger.Printf("anchor dispatch failed for %s: %v", sr.EntryHash, err)
		return nil
	}
	return nil
}

// GetPendingRecords returns every record in the pending, submitted or
// failed state.
func (w *Wrapper) GetPendingRecords(ctx context.Context) ([]*record.Signed, error) {
	return w.cache.GetPending(ctx)
}

// RetryAnchor re-attempts anchoring the record with the given entry
// hash.
func (w *Wrapper) RetryAnchor(ctx context.Context, entryHash string) error {
	sr, err := w.cache.Get(ctx, entryHash)
	if err != nil {
		return wrapStoreErr(entryHash, err)
	}
	if w.anchor == nil {
		return &ConfigError{Err: fmt.Errorf("no anchor function configured")}
	}
	err = consistency.RetryAnchor(ctx, sr, w.anchor, w.cache.UpdateStatus, w.retryFlight, w.logger)
	var aerr *consistency.AnchorError
	if errors.As(err, &aerr) {
		return newAnchorFailure(aerr.EntryHash, aerr.RetryCount, aerr.Err.Error())
	}
	return err
}

// CheckAnchorFailure returns a *AnchorFailure describing the record's
// last anchor attempt if its current status is failed, or nil
// otherwise — a typed alternative to inspecting AnchorStatus directly.
func (w *Wrapper) CheckAnchorFailure(ctx context.Context, entryHash string) error {
	status, err := w.GetAnchorStatus(ctx, entryHash)
	if err != nil {
		return err
	}
	if status.State != record.StateFailed {
		return nil
	}
	return newAnchorFailure(entryHash, status.RetryCount, status.LastError)
}

// VerifyRecord recomputes sr's entry hash and recovers its signer,
// returning a *SignatureInvalidError if either check fails.
func (w *Wrapper) VerifyRecord(sr *record.Signed) error {
	return wrapVerifyErr(sr.EntryHash, signing.VerifyRecord(sr))
}

// MarkLocallyVerified moves a record to the local-only state and sets its
// VerifiedLocal flag, keeping its retry count. It does not check the
// record's signature.
func (w *Wrapper) MarkLocallyVerified(ctx context.Context, entryHash string) error {
	return w.cache.MarkLocallyVerified(ctx, entryHash)
}

// GetStorageStats reports current store occupancy.
func (w *Wrapper) GetStorageStats(ctx context.Context) (store.Stats, error) {
	return w.cache.Stats(ctx)
}

// FlushCache forces an immediate flush if the consistency strategy
// supports batching (the Cache strategy); a no-op otherwise.
func (w *Wrapper) FlushCache(ctx context.Context) {
	if c, ok := w.strategy.(*consistency.Cache); ok {
		c.Flush(ctx)
	}
}

// GetAnchorStatus returns the anchor status of a single record.
func (w *Wrapper) GetAnchorStatus(ctx context.Context, entryHash string) (record.AnchorStatus, error) {
	sr, err := w.cache.Get(ctx, entryHash)
	if err != nil {
		return record.AnchorStatus{}, wrapStoreErr(entryHash, err)
	}
	return sr.Anchor, nil
}

// GetExplorerUrl derives a block-explorer link for a confirmed record's
// anchor transaction, or "" if it has none yet.
func (w *Wrapper) GetExplorerUrl(ctx context.Context, entryHash string) (string, error) {
	status, err := w.GetAnchorStatus(ctx, entryHash)
	if err != nil {
		return "", err
	}
	if status.TxHash == "" {
		return "", nil
	}
	chain := status.Chain
	if chain == "" {
		chain = "sepolia"
	}
	return fmt.Sprintf("https://%s.etherscan.io/tx/%s", chain, status.TxHash), nil
}

// Close stops the consistency strategy's background work. It does not
// close the record store.
func (w *Wrapper) Close(ctx context.Context) error {
	if err := w.strategy.Stop(ctx); err != nil {
		return err
	}
	return nil
}
