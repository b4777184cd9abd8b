package strategy

import (
	"math"
	"strings"
	"testing"
)

// declineWithSpike builds the classic oversold setup: a steady decline
// with a volume surge on the final bar.
func declineWithSpike(n int) (prices, volumes []float64) {
	prices = make([]float64, n)
	volumes = make([]float64, n)
	for i := range prices {
		prices[i] = 100 - 2*float64(i)
		volumes[i] = 1_000_000
	}
	volumes[n-1] = 3_000_000
	return prices, volumes
}

func steadyRise(n int) (prices, volumes []float64) {
	prices = make([]float64, n)
	volumes = make([]float64, n)
	for i := range prices {
		prices[i] = 50 + 2*float64(i)
		volumes[i] = 1_000_000
	}
	return prices, volumes
}

func TestGenerate_InsufficientData(t *testing.T) {
	g := NewGenerator()

	for _, n := range []int{0, 1, 10, 29} {
		prices := make([]float64, n)
		volumes := make([]float64, n)
		for i := range prices {
			prices[i] = 100
			volumes[i] = 1000
		}
		sig := g.Generate(prices, volumes)
		if sig.Kind != SignalHold {
			t.Errorf("n=%d: expected HOLD, got %s", n, sig.Kind)
		}
		if sig.Confidence != 0 {
			t.Errorf("n=%d: expected confidence 0, got %v", n, sig.Confidence)
		}
		if !strings.Contains(sig.Reason, "nsufficient data") {
			t.Errorf("n=%d: unexpected reason %q", n, sig.Reason)
		}
	}
}

func TestGenerate_OversoldBuy(t *testing.T) {
	g := NewGenerator()
	prices, volumes := declineWithSpike(50)

	sig := g.Generate(prices, volumes)
	if sig.Kind != SignalBuy {
		t.Fatalf("expected BUY, got %s (%s)", sig.Kind, sig.Reason)
	}
	if sig.Confidence < MinTriggerConfidence {
		t.Errorf("expected confidence >= %.2f, got %v", MinTriggerConfidence, sig.Confidence)
	}
	if !sig.Indicators.VolumeSpike {
		t.Error("expected volume spike in snapshot")
	}
	if sig.Indicators.RSI >= RSIOversoldThreshold {
		t.Errorf("expected oversold RSI, got %v", sig.Indicators.RSI)
	}
}

func TestGenerate_OverboughtSell(t *testing.T) {
	g := NewGenerator()
	prices, volumes := steadyRise(50)

	sig := g.Generate(prices, volumes)
	if sig.Kind != SignalSell {
		t.Fatalf("expected SELL, got %s (%s)", sig.Kind, sig.Reason)
	}
	if sig.Confidence < MinTriggerConfidence {
		t.Errorf("expected confidence >= %.2f, got %v", MinTriggerConfidence, sig.Confidence)
	}
	if sig.Indicators.RSI <= RSIOverboughtThreshold {
		t.Errorf("expected overbought RSI, got %v", sig.Indicators.RSI)
	}
}

func TestGenerate_FlatMarketHold(t *testing.T) {
	g := NewGenerator()
	prices := make([]float64, 60)
	volumes := make([]float64, 60)
	for i := range prices {
		prices[i] = 100.0
		volumes[i] = 1_000_000
	}

	sig := g.Generate(prices, volumes)
	if sig.Kind != SignalHold {
		t.Fatalf("expected HOLD in flat market, got %s (%s)", sig.Kind, sig.Reason)
	}
	if sig.Confidence > 0.5 {
		t.Errorf("expected confidence <= 0.5, got %v", sig.Confidence)
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	g := NewGenerator()
	prices, volumes := declineWithSpike(50)

	first := g.Generate(prices, volumes)
	for i := 0; i < 5; i++ {
		again := g.Generate(prices, volumes)
		if again.Kind != first.Kind || again.Confidence != first.Confidence || again.Reason != first.Reason {
			t.Fatalf("non-deterministic output on run %d: %+v vs %+v", i, again, first)
		}
		if !snapshotEqual(again.Indicators, first.Indicators) {
			t.Fatalf("non-deterministic snapshot on run %d", i)
		}
	}
}

func TestGenerate_TruncatesToShorterSeries(t *testing.T) {
	g := NewGenerator()
	prices, volumes := declineWithSpike(50)

	// Extra price bars beyond the volume series must be ignored; the
	// spike bar is the last shared position.
	longPrices := append(append([]float64{}, prices...), 1.5, 1.0)
	sig := g.Generate(longPrices, volumes)
	want := g.Generate(prices, volumes)
	if sig.Kind != want.Kind || sig.Confidence != want.Confidence {
		t.Errorf("truncation mismatch: got (%s, %v), want (%s, %v)",
			sig.Kind, sig.Confidence, want.Kind, want.Confidence)
	}
}

func TestGenerate_MissingVolumesDefaultToZero(t *testing.T) {
	g := NewGenerator()
	prices, _ := steadyRise(50)

	// All-zero volumes: mean is zero, so every bar after the first
	// counts as a spike and the sell rule loses its "volume decrease"
	// leg. The generator must still produce a coherent signal.
	sig := g.Generate(prices, nil)
	if sig.Kind == "" {
		t.Fatal("expected a signal")
	}
	if sig.Indicators.CurrentPrice != prices[len(prices)-1] {
		t.Errorf("snapshot price mismatch: %v", sig.Indicators.CurrentPrice)
	}
}

// snapshotEqual compares snapshots treating NaN as equal to NaN.
func snapshotEqual(a, b Snapshot) bool {
	eq := func(x, y float64) bool {
		if math.IsNaN(x) && math.IsNaN(y) {
			return true
		}
		return x == y
	}
	return eq(a.RSI, b.RSI) &&
		eq(a.MACDLine, b.MACDLine) &&
		eq(a.MACDSignal, b.MACDSignal) &&
		eq(a.MACDHistogram, b.MACDHistogram) &&
		eq(a.BollingerUpper, b.BollingerUpper) &&
		eq(a.BollingerMiddle, b.BollingerMiddle) &&
		eq(a.BollingerLower, b.BollingerLower) &&
		a.BelowLowerBand == b.BelowLowerBand &&
		a.AboveUpperBand == b.AboveUpperBand &&
		a.VolumeSpike == b.VolumeSpike &&
		a.GoldenCross == b.GoldenCross &&
		a.DeathCross == b.DeathCross &&
		eq(a.CurrentPrice, b.CurrentPrice)
}
