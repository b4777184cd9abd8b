// BNF strategy rules: buy oversold extremes, sell overbought extremes,
// confirmed by volume and Bollinger band breakouts.
package strategy

import (
	"fmt"
	"math"
	"strings"
)

// Strategy thresholds. Tunable at build time.
const (
	RSIOversoldThreshold   = 30.0
	RSIOverboughtThreshold = 70.0
)

// Confidence weights. They sum to 1.0; a triggered signal is floored at
// MinTriggerConfidence even when only the required conditions are met.
const (
	rsiWeight       = 0.35
	volumeWeight    = 0.25
	bollingerWeight = 0.25
	crossWeight     = 0.15

	MinTriggerConfidence = 0.5
)

// BNFStrategy evaluates buy and sell rules over an indicator snapshot.
// It is stateless; the zero value is ready to use.
type BNFStrategy struct{}

// CheckBuySignal evaluates the contrarian entry rule.
//
// Trigger: RSI oversold AND (volume spike OR price below the lower
// Bollinger band). A golden cross contributes confidence but is not
// required. Returns (triggered, confidence, reason).
func (s BNFStrategy) CheckBuySignal(snap Snapshot) (bool, float64, string) {
	if math.IsNaN(snap.RSI) {
		return false, 0.0, "RSI is not available"
	}

	var conditionsMet []string
	confidence := 0.0

	rsiOversold := snap.RSI < RSIOversoldThreshold
	if rsiOversold {
		// Deeper oversold, higher score, boosted 1.5x and capped at 1.
		rsiScore := (RSIOversoldThreshold - snap.RSI) / RSIOversoldThreshold
		rsiScore = math.Min(1.0, rsiScore*1.5)
		confidence += rsiWeight * rsiScore
		conditionsMet = append(conditionsMet, fmt.Sprintf("RSI oversold (%.1f)", snap.RSI))
	}

	if snap.VolumeSpike {
		confidence += volumeWeight
		conditionsMet = append(conditionsMet, "Volume spike detected")
	}

	if snap.BelowLowerBand {
		confidence += bollingerWeight
		conditionsMet = append(conditionsMet, "Below Bollinger lower band")
	}

	if snap.GoldenCross {
		confidence += crossWeight
		conditionsMet = append(conditionsMet, "Golden cross confirmed")
	}

	isBuy := rsiOversold && (snap.VolumeSpike || snap.BelowLowerBand)
	confidence = normalizeConfidence(confidence, isBuy)

	reason := "No buy conditions met"
	if len(conditionsMet) > 0 {
		reason = "BUY signal: " + strings.Join(conditionsMet, ", ")
	}
	return isBuy, confidence, reason
}

// CheckSellSignal evaluates the contrarian exit rule.
//
// Trigger: RSI overbought AND (volume decrease OR price above the upper
// Bollinger band). "Volume decrease" means no volume spike on the current
// bar. A death cross contributes confidence but is not required.
func (s BNFStrategy) CheckSellSignal(snap Snapshot) (bool, float64, string) {
	if math.IsNaN(snap.RSI) {
		return false, 0.0, "RSI is not available"
	}

	var conditionsMet []string
	confidence := 0.0

	rsiOverbought := snap.RSI > RSIOverboughtThreshold
	if rsiOverbought {
		rsiScore := (snap.RSI - RSIOverboughtThreshold) / (100 - RSIOverboughtThreshold)
		rsiScore = math.Min(1.0, rsiScore*1.5)
		confidence += rsiWeight * rsiScore
		conditionsMet = append(conditionsMet, fmt.Sprintf("RSI overbought (%.1f)", snap.RSI))
	}

	volumeDecrease := !snap.VolumeSpike
	if volumeDecrease {
		confidence += volumeWeight
		conditionsMet = append(conditionsMet, "Volume decreasing")
	}

	if snap.AboveUpperBand {
		confidence += bollingerWeight
		conditionsMet = append(conditionsMet, "Above Bollinger upper band")
	}

	if snap.DeathCross {
		confidence += crossWeight
		conditionsMet = append(conditionsMet, "Death cross confirmed")
	}

	isSell := rsiOverbought && (volumeDecrease || snap.AboveUpperBand)
	confidence = normalizeConfidence(confidence, isSell)

	reason := "No sell conditions met"
	if len(conditionsMet) > 0 {
		reason = "SELL signal: " + strings.Join(conditionsMet, ", ")
	}
	return isSell, confidence, reason
}

// normalizeConfidence scales the accumulated weight by the maximum
// possible and floors a triggered signal at MinTriggerConfidence.
func normalizeConfidence(confidence float64, triggered bool) float64 {
	maxConfidence := rsiWeight + volumeWeight + bollingerWeight + crossWeight
	confidence = math.Min(1.0, confidence/maxConfidence)
	if triggered && confidence < MinTriggerConfidence {
		confidence = MinTriggerConfidence
	}
	return confidence
}
