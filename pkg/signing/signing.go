// Copyright 2025 Certen Protocol
//
// Package signing provides the secp256k1 signing context that binds
// trace entries into a hash chain, adapted from the Ethereum client's
// key handling and the attestation signer's mutex-guarded sign/verify
// structure.
package signing

import (
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/tracechain/tracechain/pkg/canonical"
	"github.com/tracechain/tracechain/pkg/record"
	"github.com/tracechain/tracechain/pkg/trace"
)

// ErrSignatureInvalid is returned by VerifyRecord when a record's signature
// does not recover to its claimed signer.
var ErrSignatureInvalid = errors.New("signing: signature does not recover to claimed signer")

// ErrChainBroken is returned by VerifyChain when a record's previousHash
// does not match the preceding record's entryHash.
var ErrChainBroken = errors.New("signing: hash chain discontinuity")

// Callbacks lets a caller observe signing activity; all are optional.
type Callbacks struct {
	OnSigned func(*record.Signed)
}

// Context holds the active signing key and hash-chain cursor. A single
// Context must not sign concurrently from multiple goroutines without
// its internal lock, which is why Sign takes it itself.
type Context struct {
	mu           sync.Mutex
	key          *ecdsa.PrivateKey
	address      common.Address
	previousHash string
	callbacks    Callbacks
}

// New builds a signing Context from an existing ECDSA key, starting the
// chain at genesis.
func New(key *ecdsa.PrivateKey, cb Callbacks) *Context {
	return &Context{
		key:          key,
		address:      crypto.PubkeyToAddress(key.PublicKey),
		previousHash: record.Genesis,
		callbacks:    cb,
	}
}

// Generate creates a Context backed by a freshly generated secp256k1
// key. Intended for demos and tests; production use should load a key
// from an external wallet/key source (see Config in the tracewrap
// package).
func Generate(cb Callbacks) (*Context, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("signing: generate key: %w", err)
	}
	return New(key, cb), nil
}

// Address returns the signer's Ethereum-style address.
func (c *Context) Address() common.Address {
	return c.address
}

// Reset reverts the chain cursor to genesis.
func (c *Context) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.previousHash = record.Genesis
}

// SetPreviousHash resumes an existing chain at the given hash, e.g.
// after loading a record store that already holds prior records.
func (c *Context) SetPreviousHash(hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.previousHash = hash
}

// Sign computes the entry hash, builds the chained signing message,
// signs it, advances the chain cursor, and returns a pending Signed
// record. Sign is safe for concurrent use; calls are serialized so the
// chain cursor advances exactly once per entry.
func (c *Context) Sign(entry trace.Entry) (*record.Signed, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entryHash, err := canonical.Hash(&entry)
	if err != nil {
		return nil, fmt.Errorf("signing: hash entry: %w", err)
	}
	entryHashHex := fmt.Sprintf("0x%x", entryHash)

	prevBytes, err := decodeHash(c.previousHash)
	if err != nil {
		return nil, fmt.Errorf("signing: decode previous hash: %w", err)
	}

	message := signingMessage(entryHash, prevBytes, entry.Time)
	digest := accounts.TextHash(message)

	sig, err := crypto.Sign(digest, c.key)
	if err != nil {
		return nil, fmt.Errorf("signing: sign: %w", err)
	}

	signed := &record.Signed{
		Entry:        entry,
		EntryHash:    entryHashHex,
		PreviousHash: c.previousHash,
		Signature:    fmt.Sprintf("0x%x", sig),
		Signer:       strings.ToLower(c.address.Hex()),
		Anchor: record.AnchorStatus{
			State:     record.StatePending,
			UpdatedAt: entry.Time,
		},
	}

	c.previousHash = entryHashHex

	if c.callbacks.OnSigned != nil {
		c.callbacks.OnSigned(signed)
	}
	return signed, nil
}

// signingMessage reproduces, in Go, the equivalent of Solidity's
// solidityPackedKeccak256(bytes32,bytes32,uint256) over
// (entryHash, previousHash, timestamp).
func signingMessage(entryHash [32]byte, previousHash [32]byte, ts time.Time) []byte {
	var tsBytes [32]byte
	binary.BigEndian.PutUint64(tsBytes[24:], uint64(ts.UnixNano()))
	buf := make([]byte, 0, 96)
	buf = append(buf, entryHash[:]...)
	buf = append(buf, previousHash[:]...)
	buf = append(buf, tsBytes[:]...)
	return crypto.Keccak256(buf)
}

func decodeHash(h string) ([32]byte, error) {
	var out [32]byte
	h = strings.TrimPrefix(h, "0x")
	if len(h) != 64 {
		return out, fmt.Errorf("expected 32-byte hex hash, got %d hex chars", len(h))
	}
	decoded, err := decodeHex(h)
	if err != nil {
		return out, err
	}
	copy(out[:], decoded)
	return out, nil
}

func decodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, errors.New("odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := 0; i < len(out); i++ {
		hi, err := hexVal(s[i*2])
		if err != nil {
			return nil, err
		}
		lo, err := hexVal(s[i*2+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexVal(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("invalid hex digit %q", c)
	}
}

// VerifyRecord checks that sr.Signature recovers to sr.Signer over the
// same chained message that Sign constructed.
func VerifyRecord(sr *record.Signed) error {
	entryHash, err := canonical.Hash(&sr.Entry)
	if err != nil {
		return fmt.Errorf("signing: hash entry: %w", err)
	}
	if fmt.Sprintf("0x%x", entryHash) != sr.EntryHash {
		return fmt.Errorf("signing: stored entryHash does not match recomputed hash")
	}
	prevBytes, err := decodeHash(sr.PreviousHash)
	if err != nil {
		return fmt.Errorf("signing: decode previous hash: %w", err)
	}
	message := signingMessage(entryHash, prevBytes, sr.Entry.Time)
	digest := accounts.TextHash(message)

	sigBytes, err := decodeHex(strings.TrimPrefix(sr.Signature, "0x"))
	if err != nil {
		return fmt.Errorf("signing: decode signature: %w", err)
	}

	pub, err := crypto.SigToPub(digest, sigBytes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	recovered := strings.ToLower(crypto.PubkeyToAddress(*pub).Hex())
	if recovered != strings.ToLower(sr.Signer) {
		return ErrSignatureInvalid
	}
	return nil
}

// VerifyChain checks every record's signature and that each record's
// previousHash matches the entryHash of the record before it. records
// must be in chain order, oldest first.
func VerifyChain(records []*record.Signed) error {
	prev := record.Genesis
	for i, r := range records {
		if err := VerifyRecord(r); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		if r.PreviousHash != prev {
			return fmt.Errorf("record %d: %w", i, ErrChainBroken)
		}
		prev = r.EntryHash
	}
	return nil
}
