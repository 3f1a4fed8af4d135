// Copyright 2025 Certen Protocol
//
// Package trace defines the captured-call data model shared by the
// interceptor, canonicalizer, and signing context.
package trace

import "time"

// Entry is a single captured method invocation, prior to signing.
// Field order here matches the canonical serialization order exactly:
// id, method, args, result, error, timestamp, duration, parentId.
type Entry struct {
	ID       string        `json:"id"`
	Method   string        `json:"method"`
	Args     []any         `json:"args,omitempty"`
	Result   any           `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
	Time     time.Time     `json:"timestamp"`
	Duration time.Duration `json:"duration"`
	ParentID string        `json:"parentId,omitempty"`
}
