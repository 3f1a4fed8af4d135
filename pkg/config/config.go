// Copyright 2025 Certen Protocol
//
// Package config loads and validates tracechain's runtime configuration,
// following the validator's own env-var Config struct and
// getEnv/getEnvInt/Validate conventions, plus a YAML file loader for the
// richer nested fields (redaction rules, gas strategy) a flat
// environment can't comfortably express.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// StoreBackend names a pkg/store backend.
type StoreBackend string

const (
	StoreAuto   StoreBackend = "auto"
	StoreMemory StoreBackend = "memory"
	StoreFS     StoreBackend = "filesystem"
	StoreKV     StoreBackend = "kv"
	StorePQ     StoreBackend = "postgres"
)

// ConsistencyStrategy names a pkg/consistency strategy.
type ConsistencyStrategy string

const (
	StrategySync     ConsistencyStrategy = "sync"
	StrategyAsync    ConsistencyStrategy = "async"
	StrategyCache    ConsistencyStrategy = "cache"
	StrategyTwoPhase ConsistencyStrategy = "twophase"
)

// GasStrategy names a gas-pricing tier applied as a multiplier on the
// node's suggested gas price, or an explicit EIP-1559 fee cap pair
// (decimal wei strings) that overrides the tier entirely when both are
// set.
type GasStrategy struct {
	Tier                 string `yaml:"tier"`
	MaxFeePerGas         string `yaml:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string `yaml:"maxPriorityFeePerGas,omitempty"`
}

var validGasTiers = map[string]bool{"normal": true, "standard": true, "aggressive": true, "economy": true}

// RedactionConfig configures the redactor.
type RedactionConfig struct {
	Enabled     bool     `yaml:"enabled"`
	UseBuiltins bool     `yaml:"useBuiltins"`
	Token       string   `yaml:"token"`
	Patterns    []string `yaml:"patterns"`
}

// Config is the full runtime configuration for a tracewrap instance.
type Config struct {
	// Wallet / key source. Exactly one of PrivateKeyHex or
	// KeySourcePath must be set (spec's wallet/key-source exclusivity
	// rule).
	PrivateKeyHex string `yaml:"privateKeyHex"`
	KeySourcePath string `yaml:"keySourcePath"`

	StoreBackend        StoreBackend        `yaml:"storeBackend"`
	StoreDir            string              `yaml:"storeDir"`
	StoreLimit          int                 `yaml:"storeLimit"`
	DatabaseURL         string              `yaml:"databaseURL"`
	ConsistencyStrategy ConsistencyStrategy `yaml:"consistencyStrategy"`
	CacheFlushInterval  time.Duration       `yaml:"cacheFlushInterval"`

	WarningThreshold float64 `yaml:"warningThreshold"`

	EthereumRPCURL      string      `yaml:"ethereumRpcURL"`
	AnchorContractAddr  string      `yaml:"anchorContractAddress"`
	EthChainID          int64       `yaml:"ethChainID"`
	MaxRetries          int         `yaml:"maxRetries"`
	GasStrategy         GasStrategy `yaml:"gasStrategy"`

	MetricsAddr string `yaml:"metricsAddr"`

	Redaction RedactionConfig `yaml:"redaction"`

	FirestoreProjectID string `yaml:"firestoreProjectID"`
}

// DefaultConfig returns sane, entirely-local defaults: in-memory store,
// synchronous consistency strategy, all built-in redaction patterns
// enabled, no external chain or Firestore configured.
func DefaultConfig() Config {
	return Config{
		StoreBackend:        StoreAuto,
		StoreLimit:          10000,
		ConsistencyStrategy: StrategySync,
		CacheFlushInterval:  30 * time.Second,
		WarningThreshold:    0.8,
		EthChainID:          1,
		MaxRetries:          3,
		GasStrategy:         GasStrategy{Tier: "normal"},
		Redaction:           RedactionConfig{Enabled: true, UseBuiltins: true},
	}
}

// Load builds a Config from environment variables layered over
// DefaultConfig.
func Load() (Config, error) {
	cfg := DefaultConfig()

	cfg.PrivateKeyHex = getEnv("TRACECHAIN_PRIVATE_KEY", cfg.PrivateKeyHex)
	cfg.KeySourcePath = getEnv("TRACECHAIN_KEY_SOURCE_PATH", cfg.KeySourcePath)
	cfg.StoreBackend = StoreBackend(getEnv("TRACECHAIN_STORE_BACKEND", string(cfg.StoreBackend)))
	cfg.StoreDir = getEnv("TRACECHAIN_STORE_DIR", cfg.StoreDir)
	cfg.StoreLimit = getEnvInt("TRACECHAIN_STORE_LIMIT", cfg.StoreLimit)
	cfg.DatabaseURL = getEnv("TRACECHAIN_DATABASE_URL", cfg.DatabaseURL)
	cfg.ConsistencyStrategy = ConsistencyStrategy(getEnv("TRACECHAIN_CONSISTENCY_STRATEGY", string(cfg.ConsistencyStrategy)))
	cfg.CacheFlushInterval = getEnvDuration("TRACECHAIN_CACHE_FLUSH_INTERVAL", cfg.CacheFlushInterval)
	cfg.WarningThreshold = getEnvFloat("TRACECHAIN_WARNING_THRESHOLD", cfg.WarningThreshold)
	cfg.EthereumRPCURL = getEnv("TRACECHAIN_ETH_RPC_URL", cfg.EthereumRPCURL)
	cfg.AnchorContractAddr = getEnv("TRACECHAIN_ANCHOR_CONTRACT", cfg.AnchorContractAddr)
	cfg.EthChainID = int64(getEnvInt("TRACECHAIN_ETH_CHAIN_ID", int(cfg.EthChainID)))
	cfg.MaxRetries = getEnvInt("TRACECHAIN_MAX_RETRIES", cfg.MaxRetries)
	cfg.GasStrategy.Tier = getEnv("TRACECHAIN_GAS_STRATEGY", cfg.GasStrategy.Tier)
	cfg.MetricsAddr = getEnv("TRACECHAIN_METRICS_ADDR", cfg.MetricsAddr)
	cfg.FirestoreProjectID = getEnv("TRACECHAIN_FIRESTORE_PROJECT", cfg.FirestoreProjectID)
	cfg.Redaction.Enabled = getEnvBool("TRACECHAIN_REDACTION_ENABLED", cfg.Redaction.Enabled)
	cfg.Redaction.UseBuiltins = getEnvBool("TRACECHAIN_REDACTION_BUILTINS", cfg.Redaction.UseBuiltins)

	return cfg, cfg.Validate()
}

// LoadYAML reads a YAML config file over DefaultConfig, for settings
// too rich to express as a flat environment (patterns, per-chain
// gas/anchor settings).
func LoadYAML(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate aggregates every configuration error into a single message,
// following the validator's Validate() convention.
func (c Config) Validate() error {
	var errs []string

	hasKey := c.PrivateKeyHex != ""
	hasKeySource := c.KeySourcePath != ""
	if hasKey && hasKeySource {
		errs = append(errs, "exactly one of privateKeyHex or keySourcePath must be set, not both")
	}
	if !hasKey && !hasKeySource {
		errs = append(errs, "one of privateKeyHex or keySourcePath must be set")
	}

	switch c.StoreBackend {
	case StoreAuto, StoreMemory, StoreFS, StoreKV:
	case StorePQ:
		if c.DatabaseURL == "" {
			errs = append(errs, "storeBackend=postgres requires databaseURL")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown storeBackend %q", c.StoreBackend))
	}

	switch c.ConsistencyStrategy {
	case StrategySync, StrategyAsync, StrategyCache, StrategyTwoPhase:
	default:
		errs = append(errs, fmt.Sprintf("unknown consistencyStrategy %q", c.ConsistencyStrategy))
	}

	if c.WarningThreshold <= 0 || c.WarningThreshold > 1 {
		errs = append(errs, "warningThreshold must be in (0, 1]")
	}

	if c.CacheFlushInterval < time.Second {
		errs = append(errs, "cacheFlushInterval must be at least 1000ms")
	}

	if c.MaxRetries < 0 {
		errs = append(errs, "maxRetries must be non-negative")
	}

	switch {
	case c.GasStrategy.MaxFeePerGas != "" || c.GasStrategy.MaxPriorityFeePerGas != "":
		if c.GasStrategy.MaxFeePerGas == "" || c.GasStrategy.MaxPriorityFeePerGas == "" {
			errs = append(errs, "gasStrategy: maxFeePerGas and maxPriorityFeePerGas must both be set together")
		}
	case c.GasStrategy.Tier != "" && !validGasTiers[c.GasStrategy.Tier]:
		errs = append(errs, fmt.Sprintf("unknown gasStrategy tier %q", c.GasStrategy.Tier))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
