package tracewrap

import (
	"errors"
	"testing"

	"github.com/tracechain/tracechain/pkg/signing"
	"github.com/tracechain/tracechain/pkg/store"
)

func TestWrapStoreErrConcretizesNotFound(t *testing.T) {
	err := wrapStoreErr("0xabc", store.ErrNotFound)
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected *NotFoundError, got %T", err)
	}
	if nf.EntryHash != "0xabc" {
		t.Fatalf("expected entry hash preserved, got %q", nf.EntryHash)
	}
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatal("expected Unwrap chain to preserve store.ErrNotFound")
	}
}

func TestWrapStoreErrConcretizesCapacity(t *testing.T) {
	err := wrapStoreErr("0xabc", store.ErrCapacityExceeded)
	var ce *CapacityError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *CapacityError, got %T", err)
	}
}

func TestWrapStoreErrPassesThroughUnknown(t *testing.T) {
	other := errors.New("boom")
	if got := wrapStoreErr("0xabc", other); got != other {
		t.Fatalf("expected unrecognized error passed through unchanged, got %v", got)
	}
}

func TestWrapVerifyErrConcretizesSignatureInvalid(t *testing.T) {
	err := wrapVerifyErr("0xabc", signing.ErrSignatureInvalid)
	var sie *SignatureInvalidError
	if !errors.As(err, &sie) {
		t.Fatalf("expected *SignatureInvalidError, got %T", err)
	}
}

func TestNewAnchorFailureFormatsDetails(t *testing.T) {
	err := newAnchorFailure("0xabc", 3, "rpc unreachable")
	if err.Error() == "" {
		t.Fatal("expected non-empty error message")
	}
	var af *AnchorFailure
	if !errors.As(err, &af) || af.RetryCount != 3 {
		t.Fatalf("expected AnchorFailure with retry count 3, got %+v", af)
	}
}
