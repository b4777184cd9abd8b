// Signal generator: builds the indicator snapshot from raw price/volume
// history and resolves the strategy's buy/sell evaluations into one signal.
package strategy

import (
	"fmt"

	"github.com/kingsick/autotrader/internal/indicator"
)

// Generator parameters.
const (
	// MinDataPoints is the minimum history length for stable indicators.
	MinDataPoints = 30

	RSIPeriod = 14

	BollingerPeriod = 20
	BollingerStdDev = 2.0

	VolumeSpikeThreshold = 2.0
	VolumeLookback       = 20

	ShortMAPeriod = 5
	LongMAPeriod  = 20

	MACDFastPeriod   = 12
	MACDSlowPeriod   = 26
	MACDSignalPeriod = 9

	// conflictPenalty reduces confidence when buy and sell trigger together.
	conflictPenalty = 0.8
)

// Generator produces trading signals from price and volume history.
type Generator struct {
	strategy BNFStrategy
}

// NewGenerator creates a signal generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate produces a trading signal from price and volume history,
// oldest to newest. It is deterministic: identical inputs always yield
// identical outputs.
func (g *Generator) Generate(prices, volumes []float64) Signal {
	if len(prices) < 2 {
		return Signal{
			Kind:       SignalHold,
			Confidence: 0.0,
			Reason:     "insufficient data for signal generation",
			Indicators: EmptySnapshot(),
		}
	}

	// Truncate to the shorter of the two series; missing volumes are zero.
	minLen := len(prices)
	if len(volumes) > 0 && len(volumes) < minLen {
		minLen = len(volumes)
	}
	prices = prices[:minLen]
	if len(volumes) == 0 {
		volumes = make([]float64, minLen)
	} else {
		volumes = volumes[:minLen]
	}

	if len(prices) < MinDataPoints {
		return Signal{
			Kind:       SignalHold,
			Confidence: 0.0,
			Reason:     fmt.Sprintf("insufficient data (need at least %d points)", MinDataPoints),
			Indicators: EmptySnapshot(),
		}
	}

	snap := g.buildSnapshot(prices, volumes)

	isBuy, buyConfidence, buyReason := g.strategy.CheckBuySignal(snap)
	isSell, sellConfidence, sellReason := g.strategy.CheckSellSignal(snap)

	switch {
	case isBuy && !isSell:
		return Signal{Kind: SignalBuy, Confidence: buyConfidence, Reason: buyReason, Indicators: snap}
	case isSell && !isBuy:
		return Signal{Kind: SignalSell, Confidence: sellConfidence, Reason: sellReason, Indicators: snap}
	case isBuy && isSell:
		// Conflicting signals: pick the stronger side at reduced
		// confidence, or hold outright when they tie.
		if buyConfidence > sellConfidence {
			return Signal{
				Kind:       SignalBuy,
				Confidence: buyConfidence * conflictPenalty,
				Reason:     buyReason + " (conflicting sell signal)",
				Indicators: snap,
			}
		}
		if sellConfidence > buyConfidence {
			return Signal{
				Kind:       SignalSell,
				Confidence: sellConfidence * conflictPenalty,
				Reason:     sellReason + " (conflicting buy signal)",
				Indicators: snap,
			}
		}
		return Signal{
			Kind:       SignalHold,
			Confidence: 0.5,
			Reason:     "conflicting buy/sell signals with equal strength",
			Indicators: snap,
		}
	default:
		return Signal{
			Kind:       SignalHold,
			Confidence: 0.5,
			Reason:     "market conditions neutral - no clear signal",
			Indicators: snap,
		}
	}
}

// buildSnapshot computes all indicators at the last position. Period
// arguments are compile-time constants, so the indicator calls cannot
// fail; errors are discarded.
func (g *Generator) buildSnapshot(prices, volumes []float64) Snapshot {
	snap := EmptySnapshot()
	last := len(prices) - 1
	snap.CurrentPrice = prices[last]

	rsi, _ := indicator.RSI(prices, RSIPeriod)
	snap.RSI = rsi[last]

	macdLine, macdSignal, macdHist, _ := indicator.MACD(prices, MACDFastPeriod, MACDSlowPeriod, MACDSignalPeriod)
	snap.MACDLine = macdLine[last]
	snap.MACDSignal = macdSignal[last]
	snap.MACDHistogram = macdHist[last]

	upper, middle, lower, _ := indicator.BollingerBands(prices, BollingerPeriod, BollingerStdDev)
	snap.BollingerUpper = upper[last]
	snap.BollingerMiddle = middle[last]
	snap.BollingerLower = lower[last]
	if indicator.IsDefined(lower[last]) {
		snap.BelowLowerBand = snap.CurrentPrice < lower[last]
	}
	if indicator.IsDefined(upper[last]) {
		snap.AboveUpperBand = snap.CurrentPrice > upper[last]
	}

	spikes, _ := indicator.VolumeSpike(volumes, VolumeSpikeThreshold, VolumeLookback)
	snap.VolumeSpike = spikes[last]

	snap.GoldenCross, _ = indicator.DetectGoldenCross(prices, ShortMAPeriod, LongMAPeriod)
	snap.DeathCross, _ = indicator.DetectDeathCross(prices, ShortMAPeriod, LongMAPeriod)

	return snap
}
