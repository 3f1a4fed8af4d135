// Copyright 2025 Certen Protocol
//
// Package record defines the signed, chained record produced by the
// signing context and persisted by the record store.
package record

import (
	"strings"
	"time"

	"github.com/tracechain/tracechain/pkg/trace"
)

// State is one of the six permitted anchor lifecycle states.
type State string

const (
	StatePending   State = "pending"
	StateSubmitted State = "submitted"
	StateConfirmed State = "confirmed"
	StateFailed    State = "failed"
	StateRejected  State = "rejected"
	StateLocalOnly State = "local-only"
)

// transitions enumerates the permitted state graph. A transition not
// present here is rejected by CanTransition. failed moves straight
// back to submitted on retry — there is no intermediate "retrying"
// state — and local-only is reachable from any non-confirmed state via
// markLocallyVerified. confirmed and local-only are terminal; rejected
// leaves only for local-only. The anchor function reports only a
// transaction hash or an error, never a distinct on-chain-rejection
// signal, so nothing currently produces rejected.
var transitions = map[State][]State{
	StatePending:   {StateSubmitted, StateFailed, StateLocalOnly},
	StateSubmitted: {StateConfirmed, StateFailed, StateRejected, StateLocalOnly},
	StateFailed:    {StateSubmitted, StateRejected, StateLocalOnly},
	StateConfirmed: {},
	StateRejected:  {StateLocalOnly},
	StateLocalOnly: {},
}

// CanTransition reports whether moving from 'from' to 'to' is permitted
// by the anchor status state graph.
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AnchorStatus tracks a record's progress toward external anchoring.
type AnchorStatus struct {
	State       State     `json:"state"`
	TxHash      string    `json:"txHash,omitempty"`
	Chain       string    `json:"chain,omitempty"`
	RetryCount  int       `json:"retryCount"`
	LastError   string    `json:"lastError,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
	VerifiedLocal bool    `json:"verifiedLocal"`
}

// Signed is a trace entry bound into the hash chain: its own content
// hash, the previous record's hash, a signature over both, and its
// current anchor status.
type Signed struct {
	Entry        trace.Entry  `json:"entry"`
	EntryHash    string       `json:"entryHash"`
	PreviousHash string       `json:"previousHash"`
	Signature    string       `json:"signature"`
	Signer       string       `json:"signer"`
	Anchor       AnchorStatus `json:"anchor"`
}

// Genesis is the sentinel previous-hash value used for the first record
// in a chain: 32 zero bytes, rendered as 0x + 64 zero hex digits.
var Genesis = "0x" + strings.Repeat("0", 64)
