package risk

import (
	"math"
	"testing"

	"github.com/CiscoZulfikar/bitget-trade/internal/config"
)

var testTiers = []config.MarginTier{
	{MinBalance: 0, Fraction: 0.15},
	{MinBalance: 1000, Fraction: 0.10},
	{MinBalance: 10000, Fraction: 0.05},
}

func TestPositionMargin_TierSelection(t *testing.T) {
	cases := []struct {
		balance float64
		want    float64
	}{
		{0, 0},
		{500, 75},
		{999.99, 149.9985},
		{1000, 100},
		{5000, 500},
		{10000, 500},
		{50000, 2500},
	}

	for _, tc := range cases {
		got := PositionMargin(tc.balance, testTiers)
		if math.Abs(got-tc.want) > 1e-6 {
			t.Errorf("PositionMargin(%v) = %v, want %v", tc.balance, got, tc.want)
		}
	}
}

func TestPositionMargin_FractionNonIncreasing(t *testing.T) {
	prevFraction := math.Inf(1)
	for balance := 100.0; balance <= 100000; balance *= 1.7 {
		margin := PositionMargin(balance, testTiers)
		fraction := margin / balance
		if fraction > prevFraction+1e-12 {
			t.Fatalf("margin fraction increased at balance %v: %v > %v", balance, fraction, prevFraction)
		}
		prevFraction = fraction
	}
}

func TestRequiredLeverage_Scenario(t *testing.T) {
	// entry=100, stop=98 → riskPct=2%, safety 1.1 → 2.2%,
	// floor(0.5/0.022)=22
	got := RequiredLeverage(100, 98, 0.5, 1.0, 1.1, 50)
	if got != 22 {
		t.Fatalf("RequiredLeverage = %d, want 22", got)
	}
}

func TestRequiredLeverage_Bounds(t *testing.T) {
	const maxLev = 50
	for _, stop := range []float64{50, 90, 99, 99.9, 99.999} {
		lev := RequiredLeverage(100, stop, 0.5, 1.0, 1.1, maxLev)
		if lev < 1 || lev > maxLev {
			t.Errorf("RequiredLeverage(100, %v) = %d out of [1,%d]", stop, lev, maxLev)
		}
	}

	if got := RequiredLeverage(0, 98, 0.5, 1.0, 1.1, maxLev); got != 1 {
		t.Errorf("entry=0 should fail closed to 1, got %d", got)
	}
	if got := RequiredLeverage(100, 100, 0.5, 1.0, 1.1, maxLev); got != maxLev {
		t.Errorf("zero stop distance should clamp to max, got %d", got)
	}
}

func TestDecideEntryAction_Partition(t *testing.T) {
	const (
		marketDev = 0.005
		abortDev  = 0.010
	)

	cases := []struct {
		name        string
		signalEntry float64
		marketPrice float64
		want        EntryAction
		wantPrice   float64
	}{
		{"zero deviation market", 100, 100, ActionMarket, 100},
		{"exact half percent still market", 100, 99.5, ActionMarket, 99.5},
		{"moderate gap limit", 100, 99.3, ActionLimit, 100},
		{"exact one percent still limit", 100, 99, ActionLimit, 100},
		{"large gap abort", 100, 98, ActionAbort, 0},
	}

	for _, tc := range cases {
		got := DecideEntryAction(tc.signalEntry, tc.marketPrice, false, marketDev, abortDev)
		if got.Action != tc.want {
			t.Errorf("%s: action = %s, want %s", tc.name, got.Action, tc.want)
		}
		if tc.want != ActionAbort && math.Abs(got.Price-tc.wantPrice) > 1e-9 {
			t.Errorf("%s: price = %v, want %v", tc.name, got.Price, tc.wantPrice)
		}
	}
}

func TestDecideEntryAction_ExplicitLimitOverride(t *testing.T) {
	got := DecideEntryAction(100, 90, true, 0.005, 0.010)
	if got.Action != ActionLimit {
		t.Fatalf("explicit limit should always yield LIMIT, got %s", got.Action)
	}
	if got.Price != 100 {
		t.Fatalf("explicit limit should rest at signal entry, got %v", got.Price)
	}
}

func TestRescalePrice_Idempotent(t *testing.T) {
	for _, p := range []float64{0.00000378, 0.042, 1.0, 97.5, 64000} {
		if got := RescalePrice(p, p); got != p {
			t.Errorf("RescalePrice(%v, %v) = %v, want unchanged", p, p, got)
		}
	}
}

func TestRescalePrice_KeepsPricesNearMagnitudeBoundary(t *testing.T) {
	// 98 与 100 的 log10 数量级不同，但这是合法报价，不能改写
	if got := RescalePrice(98, 100); got != 98 {
		t.Fatalf("RescalePrice(98, 100) = %v, want 98", got)
	}
	if got := RescalePrice(0.0095, 0.0102); got != 0.0095 {
		t.Fatalf("RescalePrice(0.0095, 0.0102) = %v, want unchanged", got)
	}
}

func TestRescalePrice_MagnitudeCorrection(t *testing.T) {
	market := 0.00000378
	got := RescalePrice(0.00378, market)
	if got < market/5 || got > market*5 {
		t.Fatalf("RescalePrice(0.00378, %v) = %v outside 5x band", market, got)
	}

	// typo one magnitude up
	got = RescalePrice(645000, 64500)
	if got < 64500/5.0 || got > 64500*5.0 {
		t.Fatalf("RescalePrice(645000, 64500) = %v outside 5x band", got)
	}
}

func TestRMultiple(t *testing.T) {
	// long: entry=100, stop=98, mark=101 → R=0.5
	if got := RMultiple(100, 98, 101, false); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("long RMultiple = %v, want 0.5", got)
	}
	// short: entry=100, stop=102, mark=99 → R=0.5
	if got := RMultiple(100, 102, 99, true); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("short RMultiple = %v, want 0.5", got)
	}
	// losing long is negative
	if got := RMultiple(100, 98, 99, false); got >= 0 {
		t.Errorf("losing long should be negative, got %v", got)
	}
	if got := RMultiple(100, 100, 105, false); got != 0 {
		t.Errorf("zero risk distance should yield 0, got %v", got)
	}
}

func TestBreakevenPrice(t *testing.T) {
	if got := BreakevenPrice(100, 0.001, false); math.Abs(got-100.1) > 1e-9 {
		t.Errorf("long breakeven = %v, want 100.1", got)
	}
	if got := BreakevenPrice(100, 0.001, true); math.Abs(got-99.9) > 1e-9 {
		t.Errorf("short breakeven = %v, want 99.9", got)
	}
}
