// Copyright 2025 Certen Protocol
//
// Package intercept provides the Go redesign of dynamic-proxy method
// capture: a reflection-based Agent dispatches calls by method name
// (the idiom net/rpc's server uses to invoke registered receivers) and
// threads call-stack ancestry explicitly through context.Context rather
// than relying on an implicit per-goroutine call stack.
package intercept

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/tracechain/tracechain/pkg/trace"
)

// ErrMethodNotFound is returned when the wrapped value has no method of
// the requested name.
var ErrMethodNotFound = errors.New("intercept: method not found")

// ErrMethodExcluded is returned for a method on the exclusion list.
var ErrMethodExcluded = errors.New("intercept: method excluded from interception")

// excludedMethods mirrors the reserved formatting methods a tracer
// should never intercept, the closest Go analogue to JS's toString/
// valueOf exclusion.
var excludedMethods = map[string]bool{
	"String":   true,
	"GoString": true,
}

type parentIDKey struct{}

// WithParentID returns a context carrying parentID, read by Invoke to
// stamp a child call's trace entry with its caller's entry id.
func WithParentID(ctx context.Context, parentID string) context.Context {
	return context.WithValue(ctx, parentIDKey{}, parentID)
}

func parentIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(parentIDKey{}).(string)
	return id
}

// Recorder receives each completed call's trace entry. A typical
// implementation signs it, appends it to a record store, and hands it
// to a consistency strategy for anchoring. Record may return a non-nil
// error for a failure that occurred after the wrapped method itself
// already succeeded (e.g. a synchronous anchor submission failure) —
// Invoke surfaces that error alongside the call's own result rather
// than swallowing it.
type Recorder interface {
	Record(ctx context.Context, entry trace.Entry) error
}

// RecorderFunc adapts a plain function to Recorder.
type RecorderFunc func(ctx context.Context, entry trace.Entry) error

func (f RecorderFunc) Record(ctx context.Context, entry trace.Entry) error { return f(ctx, entry) }

// Result is delivered on InvokeAsync's channel.
type Result struct {
	Value any
	Err   error
}

// Agent wraps an arbitrary value and dispatches calls to it by method
// name, recording a trace.Entry for each call.
type Agent struct {
	target   reflect.Value
	recorder Recorder
	exclude  map[string]bool
}

// New wraps target. exclude adds additional method names (beyond
// String/GoString) that must never be intercepted.
func New(target any, recorder Recorder, exclude ...string) *Agent {
	ex := map[string]bool{}
	for k := range excludedMethods {
		ex[k] = true
	}
	for _, name := range exclude {
		ex[name] = true
	}
	return &Agent{target: reflect.ValueOf(target), recorder: recorder, exclude: ex}
}

// Invoke calls method on the wrapped target synchronously, recording a
// trace entry for the call. The underlying method's own result and
// error are always returned (re-thrown, per the capture protocol); if
// the Recorder also reports an error — a failure discovered only after
// the call completed, such as a synchronous anchor submission failure —
// it is joined onto the returned error so neither is lost.
func (a *Agent) Invoke(ctx context.Context, method string, args ...any) (any, error) {
	if a.exclude[method] {
		return nil, fmt.Errorf("%w: %s", ErrMethodExcluded, method)
	}
	fn := a.target.MethodByName(method)
	if !fn.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, method)
	}

	id := uuid.NewString()
	callCtx := WithParentID(ctx, id)
	start := time.Now()

	in, err := buildArgs(fn, callCtx, args)
	if err != nil {
		return nil, err
	}

	out := fn.Call(in)
	duration := time.Since(start)

	value, callErr := splitResults(out)

	entry := trace.Entry{
		ID:       id,
		Method:   method,
		Args:     args,
		Result:   value,
		Time:     start,
		Duration: duration,
		ParentID: parentIDFrom(ctx),
	}
	if callErr != nil {
		entry.Error = callErr.Error()
	}
	var recErr error
	if a.recorder != nil {
		recErr = a.recorder.Record(ctx, entry)
	}
	switch {
	case callErr != nil && recErr != nil:
		return value, errors.Join(callErr, recErr)
	case recErr != nil:
		return value, recErr
	default:
		return value, callErr
	}
}

// InvokeAsync runs Invoke in a new goroutine and returns a channel that
// receives exactly one Result.
func (a *Agent) InvokeAsync(ctx context.Context, method string, args ...any) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		value, err := a.Invoke(ctx, method, args...)
		ch <- Result{Value: value, Err: err}
	}()
	return ch
}

// buildArgs adapts the caller's loosely-typed args to the reflected
// method's parameter types. If the method's first parameter is a
// context.Context, ctx is passed as that argument automatically so
// traced methods can themselves make further traced calls carrying
// ancestry.
func buildArgs(fn reflect.Value, ctx context.Context, args []any) ([]reflect.Value, error) {
	t := fn.Type()
	offset := 0
	var in []reflect.Value
	if t.NumIn() > 0 && t.In(0) == reflect.TypeOf((*context.Context)(nil)).Elem() {
		in = append(in, reflect.ValueOf(ctx))
		offset = 1
	}
	if t.NumIn()-offset != len(args) {
		return nil, fmt.Errorf("intercept: method expects %d argument(s), got %d", t.NumIn()-offset, len(args))
	}
	for i, arg := range args {
		want := t.In(i + offset)
		if arg == nil {
			in = append(in, reflect.Zero(want))
			continue
		}
		av := reflect.ValueOf(arg)
		if !av.Type().AssignableTo(want) {
			if av.Type().ConvertibleTo(want) {
				av = av.Convert(want)
			} else {
				return nil, fmt.Errorf("intercept: argument %d: cannot use %s as %s", i, av.Type(), want)
			}
		}
		in = append(in, av)
	}
	return in, nil
}

// splitResults separates a trailing error return (the idiomatic Go
// convention) from the rest of the method's return values. Zero results
// yield (nil, nil); exactly one non-error result is unwrapped; multiple
// non-error results are returned as a []any.
func splitResults(out []reflect.Value) (any, error) {
	if len(out) == 0 {
		return nil, nil
	}
	errType := reflect.TypeOf((*error)(nil)).Elem()
	last := out[len(out)-1]
	var callErr error
	values := out
	if last.Type().Implements(errType) {
		if !last.IsNil() {
			callErr = last.Interface().(error)
		}
		values = out[:len(out)-1]
	}
	switch len(values) {
	case 0:
		return nil, callErr
	case 1:
		return values[0].Interface(), callErr
	default:
		vals := make([]any, len(values))
		for i, v := range values {
			vals[i] = v.Interface()
		}
		return vals, callErr
	}
}
