// Package strategy implements the BNF-style contrarian swing trading
// strategy and the signal generator that feeds it.
//
// Design rules:
//   - The strategy is a pure decision engine over a typed indicator
//     snapshot. Same input, same output — no time source, no randomness.
//   - The strategy never places orders. It produces Signals, which are
//     validated by risk management before execution.
package strategy

import (
	"math"
)

// SignalKind represents the direction of a trading signal.
type SignalKind string

const (
	SignalBuy  SignalKind = "BUY"
	SignalSell SignalKind = "SELL"
	SignalHold SignalKind = "HOLD"
)

// Snapshot holds the indicator values at a single point in time.
//
// Numeric fields use NaN for undefined values; check them with
// indicator.IsDefined before comparing. Boolean fields are false when the
// underlying indicator is undefined.
type Snapshot struct {
	RSI             float64
	MACDLine        float64
	MACDSignal      float64
	MACDHistogram   float64
	BollingerUpper  float64
	BollingerMiddle float64
	BollingerLower  float64
	BelowLowerBand  bool
	AboveUpperBand  bool
	VolumeSpike     bool
	GoldenCross     bool
	DeathCross      bool
	CurrentPrice    float64
}

// Signal is a trading signal with confidence and reasoning.
type Signal struct {
	Kind       SignalKind
	Confidence float64 // 0.0 to 1.0; strength of the signal, not a probability
	Reason     string
	Indicators Snapshot
}

// EmptySnapshot returns a Snapshot with all numeric fields undefined.
func EmptySnapshot() Snapshot {
	nan := math.NaN()
	return Snapshot{
		RSI:             nan,
		MACDLine:        nan,
		MACDSignal:      nan,
		MACDHistogram:   nan,
		BollingerUpper:  nan,
		BollingerMiddle: nan,
		BollingerLower:  nan,
		CurrentPrice:    nan,
	}
}
