// Copyright 2025 Certen Protocol
//
// Package anchorchain provides a reference consistency.AnchorFunc that
// submits a record's entry hash to an EVM anchor contract, grounded on
// the Ethereum client's dial/nonce/gas-price/send pattern and the
// anchor manager's ABI-constant convention.
package anchorchain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/tracechain/tracechain/pkg/record"
)

// GasStrategy names a gas-pricing tier applied as a multiplier on the
// node's suggested gas price, or an explicit EIP-1559 fee cap pair that
// overrides the tier entirely when both are set.
type GasStrategy struct {
	Tier                 string
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

var gasTierMultiplier = map[string]float64{
	"economy":    0.8,
	"normal":     1.0,
	"standard":   1.0,
	"aggressive": 1.5,
}

func (g GasStrategy) multiplier() float64 {
	if m, ok := gasTierMultiplier[g.Tier]; ok {
		return m
	}
	return 1.0
}

func (g GasStrategy) eip1559() bool {
	return g.MaxFeePerGas != nil && g.MaxPriorityFeePerGas != nil
}

// scaleGasPrice applies mult to price, rounding down to the nearest wei.
func scaleGasPrice(price *big.Int, mult float64) *big.Int {
	if mult == 1.0 {
		return price
	}
	scaled := new(big.Float).Mul(new(big.Float).SetInt(price), big.NewFloat(mult))
	out, _ := scaled.Int(nil)
	return out
}

// retryBaseDelay and retryMultiplier match the exponential backoff
// policy applied to a failed submitOnce attempt.
const retryBaseDelay = time.Second
const retryMultiplier = 2

// anchorABI exposes a single method, matching the shape the original
// anchor manager's contract constant assumes: submit a 32-byte hash and
// get back a transaction.
const anchorABI = `[{"inputs":[{"internalType":"bytes32","name":"entryHash","type":"bytes32"}],"name":"anchor","outputs":[],"stateMutability":"nonpayable","type":"function"}]`

// Submitter anchors records to a single EVM contract using a single
// signing key.
type Submitter struct {
	client     *ethclient.Client
	chainID    *big.Int
	contract   common.Address
	abi        abi.ABI
	key        *ecdsaSigner
	maxRetries int
	gas        GasStrategy
}

// ecdsaSigner is the minimal surface Submitter needs from a signing
// key; kept separate from pkg/signing.Context so the anchor submitter
// does not need to reach into the hash-chain signer's internal mutex.
type ecdsaSigner struct {
	address common.Address
	signTx  bind.SignerFn
}

// NewSubmitter dials url and prepares to anchor against contractAddr
// using keyHex (a 0x-prefixed secp256k1 private key, distinct from the
// chain-signing key used for trace entries). A failed submission is
// retried up to maxRetries times with exponential backoff, and gas is
// priced according to gas.
func NewSubmitter(url string, chainID int64, contractAddr, keyHex string, maxRetries int, gas GasStrategy) (*Submitter, error) {
	client, err := ethclient.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("anchorchain: dial: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(anchorABI))
	if err != nil {
		return nil, fmt.Errorf("anchorchain: parse abi: %w", err)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("anchorchain: parse key: %w", err)
	}
	cid := big.NewInt(chainID)
	signer, err := bind.NewKeyedTransactorWithChainID(key, cid)
	if err != nil {
		return nil, fmt.Errorf("anchorchain: build transactor: %w", err)
	}
	return &Submitter{
		client:     client,
		chainID:    cid,
		contract:   common.HexToAddress(contractAddr),
		abi:        parsed,
		key:        &ecdsaSigner{address: signer.From, signTx: signer.Signer},
		maxRetries: maxRetries,
		gas:        gas,
	}, nil
}

// Submit implements consistency.AnchorFunc: it packs the record's entry
// hash into the anchor contract call, signs and broadcasts the
// transaction, retrying a failed attempt up to s.maxRetries times with
// exponential backoff, and returns its hash once accepted by the node
// (not necessarily mined — confirmation polling is left to the caller).
func (s *Submitter) Submit(ctx context.Context, sr *record.Signed) (string, error) {
	delay := retryBaseDelay
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
			delay *= retryMultiplier
		}
		txHash, err := s.submitOnce(ctx, sr)
		if err == nil {
			return txHash, nil
		}
		lastErr = err
	}
	return "", lastErr
}

func (s *Submitter) submitOnce(ctx context.Context, sr *record.Signed) (string, error) {
	var hashBytes [32]byte
	hexStr := strings.TrimPrefix(sr.EntryHash, "0x")
	decoded, err := decodeHex(hexStr)
	if err != nil {
		return "", fmt.Errorf("anchorchain: decode entry hash: %w", err)
	}
	copy(hashBytes[:], decoded)

	data, err := s.abi.Pack("anchor", hashBytes)
	if err != nil {
		return "", fmt.Errorf("anchorchain: pack call: %w", err)
	}

	nonce, err := s.client.PendingNonceAt(ctx, s.key.address)
	if err != nil {
		return "", fmt.Errorf("anchorchain: nonce: %w", err)
	}
	gasLimit, err := s.client.EstimateGas(ctx, ethCallMsg(s.key.address, s.contract, data))
	if err != nil {
		return "", fmt.Errorf("anchorchain: estimate gas: %w", err)
	}

	var tx *types.Transaction
	if s.gas.eip1559() {
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   s.chainID,
			Nonce:     nonce,
			To:        &s.contract,
			Value:     big.NewInt(0),
			Gas:       gasLimit,
			GasFeeCap: s.gas.MaxFeePerGas,
			GasTipCap: s.gas.MaxPriorityFeePerGas,
			Data:      data,
		})
	} else {
		gasPrice, err := s.client.SuggestGasPrice(ctx)
		if err != nil {
			return "", fmt.Errorf("anchorchain: gas price: %w", err)
		}
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			To:       &s.contract,
			Value:    big.NewInt(0),
			Gas:      gasLimit,
			GasPrice: scaleGasPrice(gasPrice, s.gas.multiplier()),
			Data:     data,
		})
	}
	signedTx, err := s.key.signTx(s.key.address, tx)
	if err != nil {
		return "", fmt.Errorf("anchorchain: sign tx: %w", err)
	}
	if err := s.client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("anchorchain: send tx: %w", err)
	}
	return signedTx.Hash().Hex(), nil
}

func ethCallMsg(from, to common.Address, data []byte) ethereum.CallMsg {
	return ethereum.CallMsg{From: from, To: &to, Data: data}
}

func decodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		var b byte
		if _, err := fmt.Sscanf(s[i*2:i*2+2], "%02x", &b); err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}
