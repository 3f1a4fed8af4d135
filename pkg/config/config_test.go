package config

import (
	"os"
	"testing"
	"time"
)

func TestValidateRequiresExactlyOneKeySource(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when neither key source is set")
	}
	cfg.PrivateKeyHex = "abc"
	cfg.KeySourcePath = "/etc/key"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when both key sources are set")
	}
	cfg.KeySourcePath = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateRejectsUnknownStrategy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PrivateKeyHex = "abc"
	cfg.ConsistencyStrategy = "bogus"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown consistency strategy")
	}
}

func TestValidateRejectsSubSecondCacheFlushInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PrivateKeyHex = "abc"
	cfg.CacheFlushInterval = 500 * time.Millisecond
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for a sub-1000ms cacheFlushInterval")
	}
	cfg.CacheFlushInterval = time.Second
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected 1000ms cacheFlushInterval to be valid, got %v", err)
	}
}

func TestValidateRejectsNegativeMaxRetries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PrivateKeyHex = "abc"
	cfg.MaxRetries = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative maxRetries")
	}
}

func TestValidateRejectsUnknownGasTier(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PrivateKeyHex = "abc"
	cfg.GasStrategy.Tier = "bogus"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown gasStrategy tier")
	}
}

func TestValidateRejectsPartialGasFeeCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PrivateKeyHex = "abc"
	cfg.GasStrategy = GasStrategy{MaxFeePerGas: "1000"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when only one of the fee cap pair is set")
	}
	cfg.GasStrategy.MaxPriorityFeePerGas = "100"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected a complete fee cap pair to validate, got %v", err)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	os.Setenv("TRACECHAIN_PRIVATE_KEY", "deadbeef")
	os.Setenv("TRACECHAIN_STORE_BACKEND", "memory")
	os.Setenv("TRACECHAIN_STORE_LIMIT", "500")
	defer os.Unsetenv("TRACECHAIN_PRIVATE_KEY")
	defer os.Unsetenv("TRACECHAIN_STORE_BACKEND")
	defer os.Unsetenv("TRACECHAIN_STORE_LIMIT")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StoreBackend != StoreMemory || cfg.StoreLimit != 500 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}
