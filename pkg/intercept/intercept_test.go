package intercept

import (
	"context"
	"errors"
	"testing"

	"github.com/tracechain/tracechain/pkg/trace"
)

type widget struct{}

func (widget) Create(name string) (string, error) {
	if name == "" {
		return "", errors.New("name required")
	}
	return "created:" + name, nil
}

func (widget) Lookup(ctx context.Context, id int) int {
	return id * 2
}

func TestInvokeRecordsEntry(t *testing.T) {
	var entries []trace.Entry
	rec := RecorderFunc(func(_ context.Context, e trace.Entry) error { entries = append(entries, e); return nil })
	a := New(widget{}, rec)

	result, err := a.Invoke(context.Background(), "Create", "gadget")
	if err != nil {
		t.Fatal(err)
	}
	if result != "created:gadget" {
		t.Fatalf("unexpected result: %v", result)
	}
	if len(entries) != 1 || entries[0].Method != "Create" {
		t.Fatalf("expected one recorded entry, got %+v", entries)
	}
}

func TestInvokeRethrowsError(t *testing.T) {
	var entries []trace.Entry
	rec := RecorderFunc(func(_ context.Context, e trace.Entry) error { entries = append(entries, e); return nil })
	a := New(widget{}, rec)

	_, err := a.Invoke(context.Background(), "Create", "")
	if err == nil {
		t.Fatal("expected error to be rethrown")
	}
	if len(entries) != 1 || entries[0].Error == "" {
		t.Fatalf("expected recorded entry to carry the error, got %+v", entries)
	}
}

func TestInvokePassesContextAutomatically(t *testing.T) {
	a := New(widget{}, nil)
	result, err := a.Invoke(context.Background(), "Lookup", 21)
	if err != nil {
		t.Fatal(err)
	}
	if result != 42 {
		t.Fatalf("expected 42, got %v", result)
	}
}

func TestInvokeUnknownMethod(t *testing.T) {
	a := New(widget{}, nil)
	_, err := a.Invoke(context.Background(), "DoesNotExist")
	if !errors.Is(err, ErrMethodNotFound) {
		t.Fatalf("expected ErrMethodNotFound, got %v", err)
	}
}

func TestInvokeExcludedMethod(t *testing.T) {
	a := New(widget{}, nil)
	_, err := a.Invoke(context.Background(), "String")
	if !errors.Is(err, ErrMethodExcluded) {
		t.Fatalf("expected ErrMethodExcluded, got %v", err)
	}
}

func TestInvokeSurfacesRecorderError(t *testing.T) {
	recErr := errors.New("anchor failed: 3 attempts, out of gas")
	rec := RecorderFunc(func(_ context.Context, e trace.Entry) error { return recErr })
	a := New(widget{}, rec)

	result, err := a.Invoke(context.Background(), "Create", "gadget")
	if result != "created:gadget" {
		t.Fatalf("expected the underlying call's result to still be returned, got %v", result)
	}
	if !errors.Is(err, recErr) {
		t.Fatalf("expected the recorder's error to be surfaced from Invoke, got %v", err)
	}
}

func TestInvokeJoinsCallAndRecorderErrors(t *testing.T) {
	recErr := errors.New("anchor failed")
	rec := RecorderFunc(func(_ context.Context, e trace.Entry) error { return recErr })
	a := New(widget{}, rec)

	_, err := a.Invoke(context.Background(), "Create", "")
	if !errors.Is(err, recErr) {
		t.Fatalf("expected recorder error present in joined error, got %v", err)
	}
}

func TestParentIDPropagatesToNestedCall(t *testing.T) {
	var parentEntry, childEntry trace.Entry
	seen := 0
	rec := RecorderFunc(func(_ context.Context, e trace.Entry) error {
		if seen == 0 {
			parentEntry = e
		} else {
			childEntry = e
		}
		seen++
		return nil
	})
	a := New(widget{}, rec)

	ctx := context.Background()
	if _, err := a.Invoke(ctx, "Create", "outer"); err != nil {
		t.Fatal(err)
	}
	childCtx := WithParentID(ctx, parentEntry.ID)
	if _, err := a.Invoke(childCtx, "Create", "inner"); err != nil {
		t.Fatal(err)
	}
	if childEntry.ParentID != parentEntry.ID {
		t.Fatalf("expected child.ParentID == parent.ID, got %q != %q", childEntry.ParentID, parentEntry.ID)
	}
}

func TestInvokeAsync(t *testing.T) {
	a := New(widget{}, nil)
	ch := a.InvokeAsync(context.Background(), "Create", "async")
	res := <-ch
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if res.Value != "created:async" {
		t.Fatalf("unexpected async result: %v", res.Value)
	}
}
