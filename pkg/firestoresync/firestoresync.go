// Copyright 2025 Certen Protocol
//
// Package firestoresync mirrors anchor status transitions into
// Firestore for a real-time dashboard, adapted from the firestore
// client's enabled-flag/no-op-when-disabled pattern.
package firestoresync

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	gcpfirestore "cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"github.com/tracechain/tracechain/pkg/record"
)

// Config controls whether and how the sink connects to Firestore.
type Config struct {
	ProjectID       string
	CredentialsFile string
	Collection      string
	Enabled         bool
}

// DefaultConfig mirrors DefaultConfig's environment-driven convention;
// Enabled defaults to false so a tracewrap instance never silently
// depends on GCP credentials being present.
func DefaultConfig() Config {
	return Config{
		ProjectID:       os.Getenv("TRACECHAIN_FIRESTORE_PROJECT"),
		CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		Collection:      "trace_records",
		Enabled:         os.Getenv("TRACECHAIN_FIRESTORE_ENABLED") == "true",
	}
}

// Sink is a cache.Callbacks-compatible sink that mirrors record anchor
// status transitions into a Firestore collection. When disabled, every
// method is a no-op, matching the teacher's enabled-flag convention.
type Sink struct {
	app        *firebase.App
	client     *gcpfirestore.Client
	collection string
	enabled    bool
	logger     *log.Logger
}

// New connects to Firestore if cfg.Enabled, or returns a no-op Sink
// otherwise.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	logger := log.New(log.Writer(), "[firestoresync] ", log.LstdFlags)
	if !cfg.Enabled {
		return &Sink{enabled: false, logger: logger}, nil
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestoresync: init app: %w", err)
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("firestoresync: init client: %w", err)
	}
	return &Sink{
		app: app, client: client, collection: cfg.Collection,
		enabled: true, logger: logger,
	}, nil
}

// mirror writes sr's current state to Firestore, logging (never
// propagating) any failure — this sink is an observability aid, never
// a dependency of the anchoring pipeline itself.
func (s *Sink) mirror(sr *record.Signed) {
	if !s.enabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.client.Collection(s.collection).Doc(sr.EntryHash).Set(ctx, map[string]any{
		"entryHash":  sr.EntryHash,
		"state":      string(sr.Anchor.State),
		"txHash":     sr.Anchor.TxHash,
		"retryCount": sr.Anchor.RetryCount,
		"updatedAt":  sr.Anchor.UpdatedAt,
	})
	if err != nil {
		s.logger.Printf("mirror %s failed: %v", sr.EntryHash, err)
	}
}

// OnRecordSigned, OnAnchorPending, OnAnchorConfirmed, and OnAnchorFailed
// satisfy cache.Callbacks' function fields.
func (s *Sink) OnRecordSigned(sr *record.Signed)    { s.mirror(sr) }
func (s *Sink) OnAnchorPending(sr *record.Signed)   { s.mirror(sr) }
func (s *Sink) OnAnchorConfirmed(sr *record.Signed) { s.mirror(sr) }
func (s *Sink) OnAnchorFailed(sr *record.Signed)    { s.mirror(sr) }

// Close releases the underlying Firestore client, if one was opened.
func (s *Sink) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
