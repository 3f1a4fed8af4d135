package tracewrap

import (
	"errors"
	"fmt"

	"github.com/tracechain/tracechain/pkg/signing"
	"github.com/tracechain/tracechain/pkg/store"
)

// ConfigError wraps a construction-time configuration failure. It is
// never recovered — a Wrapper that fails to build must be reconstructed
// with a corrected Config, not retried.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("tracewrap: config: %v", e.Err) }
func (e *ConfigError) Unwrap() error { return e.Err }

// CapacityError wraps store.ErrCapacityExceeded with the entry hash that
// could not be persisted.
type CapacityError struct {
	EntryHash string
	Err       error
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("tracewrap: capacity exceeded recording %s: %v", e.EntryHash, e.Err)
}
func (e *CapacityError) Unwrap() error { return e.Err }

// NotFoundError wraps store.ErrNotFound with the entry hash that was
// requested.
type NotFoundError struct {
	EntryHash string
	Err       error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tracewrap: record %s: %v", e.EntryHash, e.Err)
}
func (e *NotFoundError) Unwrap() error { return e.Err }

// AnchorFailure carries a record's retry count and last anchor error for
// a failed anchor submission. It is returned by Agent.Invoke under the
// Sync strategy, by RetryAnchor, and by CheckAnchorFailure.
type AnchorFailure struct {
	EntryHash  string
	RetryCount int
	LastError  string
}

func (e *AnchorFailure) Error() string {
	return fmt.Sprintf("tracewrap: anchor failed for %s after %d attempt(s): %s", e.EntryHash, e.RetryCount, e.LastError)
}

// SignatureInvalidError wraps signing.ErrSignatureInvalid or
// signing.ErrChainBroken for a specific entry hash, returned only from
// verification paths (never from the write path).
type SignatureInvalidError struct {
	EntryHash string
	Err       error
}

func (e *SignatureInvalidError) Error() string {
	return fmt.Sprintf("tracewrap: signature verification failed for %s: %v", e.EntryHash, e.Err)
}
func (e *SignatureInvalidError) Unwrap() error { return e.Err }

// wrapStoreErr concretizes a pkg/store sentinel error into the taxonomy
// above, for errors returned on an operation keyed by entryHash. Errors
// it doesn't recognize pass through unchanged.
func wrapStoreErr(entryHash string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return &NotFoundError{EntryHash: entryHash, Err: err}
	case errors.Is(err, store.ErrCapacityExceeded):
		return &CapacityError{EntryHash: entryHash, Err: err}
	default:
		return err
	}
}

// wrapVerifyErr concretizes a pkg/signing verification error for a
// specific entry hash.
func wrapVerifyErr(entryHash string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, signing.ErrSignatureInvalid) || errors.Is(err, signing.ErrChainBroken) {
		return &SignatureInvalidError{EntryHash: entryHash, Err: err}
	}
	return err
}

// newAnchorFailure builds the structured AnchorFailure form of a
// record's current failed-anchor status, for callers that want a typed
// error rather than inspecting AnchorStatus fields directly.
func newAnchorFailure(entryHash string, retryCount int, lastError string) error {
	return &AnchorFailure{EntryHash: entryHash, RetryCount: retryCount, LastError: lastError}
}
