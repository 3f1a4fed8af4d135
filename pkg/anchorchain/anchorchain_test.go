package anchorchain

import (
	"math/big"
	"testing"
)

func TestGasStrategyMultiplier(t *testing.T) {
	cases := map[string]float64{
		"economy":    0.8,
		"normal":     1.0,
		"standard":   1.0,
		"aggressive": 1.5,
		"":           1.0,
		"bogus":      1.0,
	}
	for tier, want := range cases {
		g := GasStrategy{Tier: tier}
		if got := g.multiplier(); got != want {
			t.Errorf("tier %q: multiplier() = %v, want %v", tier, got, want)
		}
	}
}

func TestScaleGasPrice(t *testing.T) {
	price := big.NewInt(1000)
	if got := scaleGasPrice(price, 1.0); got.Cmp(price) != 0 {
		t.Fatalf("1.0 multiplier should return price unchanged, got %v", got)
	}
	if got := scaleGasPrice(price, 1.5); got.Cmp(big.NewInt(1500)) != 0 {
		t.Fatalf("expected 1500, got %v", got)
	}
	if got := scaleGasPrice(price, 0.8); got.Cmp(big.NewInt(800)) != 0 {
		t.Fatalf("expected 800, got %v", got)
	}
}

func TestGasStrategyEIP1559(t *testing.T) {
	g := GasStrategy{Tier: "normal"}
	if g.eip1559() {
		t.Fatal("tier-only strategy should not be eip1559")
	}
	g.MaxFeePerGas = big.NewInt(100)
	if g.eip1559() {
		t.Fatal("a single fee cap should not be eip1559")
	}
	g.MaxPriorityFeePerGas = big.NewInt(10)
	if !g.eip1559() {
		t.Fatal("a complete fee cap pair should be eip1559")
	}
}
