// Package indicator provides technical indicator calculations for the
// BNF-style swing trading strategy.
//
// All functions are stateless and deterministic — given the same input
// series, they return the same result. Outputs are aligned element-wise
// with the inputs: positions whose window is incomplete carry NaN.
// Callers must check values with IsDefined before comparing them.
package indicator

import (
	"errors"
	"math"
)

// ErrInvalidPeriod is returned when a period argument is not positive.
var ErrInvalidPeriod = errors.New("indicator: period must be positive")

// IsDefined reports whether an indicator value is defined (not NaN).
func IsDefined(v float64) bool {
	return !math.IsNaN(v)
}

func validatePeriod(period int) error {
	if period <= 0 {
		return ErrInvalidPeriod
	}
	return nil
}

// SMA computes the Simple Moving Average over the given period.
// The first period-1 positions are NaN.
func SMA(prices []float64, period int) ([]float64, error) {
	if err := validatePeriod(period); err != nil {
		return nil, err
	}
	if len(prices) == 0 {
		return []float64{}, nil
	}

	result := make([]float64, len(prices))
	var sum float64
	for i := range prices {
		sum += prices[i]
		if i >= period {
			sum -= prices[i-period]
		}
		if i < period-1 {
			result[i] = math.NaN()
		} else {
			result[i] = sum / float64(period)
		}
	}
	return result, nil
}

// EMA computes the Exponential Moving Average over the given period.
// The value at position period-1 is seeded with the SMA of the first
// period values, then extended with multiplier 2/(period+1).
func EMA(prices []float64, period int) ([]float64, error) {
	if err := validatePeriod(period); err != nil {
		return nil, err
	}
	if len(prices) == 0 {
		return []float64{}, nil
	}

	result := make([]float64, len(prices))
	multiplier := 2.0 / float64(period+1)

	for i := range prices {
		switch {
		case i < period-1:
			result[i] = math.NaN()
		case i == period-1:
			var sum float64
			for _, p := range prices[:period] {
				sum += p
			}
			result[i] = sum / float64(period)
		default:
			result[i] = prices[i]*multiplier + result[i-1]*(1-multiplier)
		}
	}
	return result, nil
}

// RSI computes the Relative Strength Index over the given period using
// Wilder's smoothing. Positions 0..period-1 are NaN. When the smoothed
// average loss is zero: RSI is 100 if there were gains, NaN if the series
// has been completely flat.
func RSI(prices []float64, period int) ([]float64, error) {
	if err := validatePeriod(period); err != nil {
		return nil, err
	}
	if len(prices) == 0 {
		return []float64{}, nil
	}

	result := make([]float64, len(prices))
	if len(prices) < 2 {
		for i := range result {
			result[i] = math.NaN()
		}
		return result, nil
	}

	gains := make([]float64, len(prices))
	losses := make([]float64, len(prices))
	for i := 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gains[i] = change
		} else {
			losses[i] = -change
		}
	}

	var avgGain, avgLoss float64
	for i := range prices {
		switch {
		case i < period:
			result[i] = math.NaN()
		case i == period:
			var gainSum, lossSum float64
			for j := 1; j <= period; j++ {
				gainSum += gains[j]
				lossSum += losses[j]
			}
			avgGain = gainSum / float64(period)
			avgLoss = lossSum / float64(period)
			result[i] = rsiValue(avgGain, avgLoss)
		default:
			avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
			avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
			result[i] = rsiValue(avgGain, avgLoss)
		}
	}
	return result, nil
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return math.NaN()
		}
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - 100.0/(1.0+rs)
}

// MACD computes the Moving Average Convergence Divergence.
//
// The MACD line is EMA(fast) - EMA(slow), NaN where either EMA is. The
// signal line is seeded at position slow-1+signal-1 with the SMA of the
// first signal defined MACD values, then EMA-extended with multiplier
// 2/(signal+1). The histogram is line - signal where both are defined.
func MACD(prices []float64, fast, slow, signal int) (line, signalLine, histogram []float64, err error) {
	for _, p := range []int{fast, slow, signal} {
		if err := validatePeriod(p); err != nil {
			return nil, nil, nil, err
		}
	}
	if len(prices) == 0 {
		return []float64{}, []float64{}, []float64{}, nil
	}

	fastEMA, err := EMA(prices, fast)
	if err != nil {
		return nil, nil, nil, err
	}
	slowEMA, err := EMA(prices, slow)
	if err != nil {
		return nil, nil, nil, err
	}

	line = make([]float64, len(prices))
	for i := range prices {
		if !IsDefined(fastEMA[i]) || !IsDefined(slowEMA[i]) {
			line[i] = math.NaN()
		} else {
			line[i] = fastEMA[i] - slowEMA[i]
		}
	}

	// First index with a defined MACD value.
	validStart := slow - 1

	signalLine = make([]float64, len(prices))
	multiplier := 2.0 / float64(signal+1)
	for i := range prices {
		switch {
		case i < validStart+signal-1:
			signalLine[i] = math.NaN()
		case i == validStart+signal-1:
			var sum float64
			for _, v := range line[validStart : validStart+signal] {
				sum += v
			}
			signalLine[i] = sum / float64(signal)
		default:
			if !IsDefined(signalLine[i-1]) || !IsDefined(line[i]) {
				signalLine[i] = math.NaN()
			} else {
				signalLine[i] = line[i]*multiplier + signalLine[i-1]*(1-multiplier)
			}
		}
	}

	histogram = make([]float64, len(prices))
	for i := range prices {
		if !IsDefined(line[i]) || !IsDefined(signalLine[i]) {
			histogram[i] = math.NaN()
		} else {
			histogram[i] = line[i] - signalLine[i]
		}
	}

	return line, signalLine, histogram, nil
}

// BollingerBands computes the upper, middle, and lower Bollinger Bands.
// The middle band is SMA(period); the upper and lower bands are offset by
// stdDev population standard deviations (divisor n) over the same window.
func BollingerBands(prices []float64, period int, stdDev float64) (upper, middle, lower []float64, err error) {
	if err := validatePeriod(period); err != nil {
		return nil, nil, nil, err
	}
	if len(prices) == 0 {
		return []float64{}, []float64{}, []float64{}, nil
	}

	middle, err = SMA(prices, period)
	if err != nil {
		return nil, nil, nil, err
	}

	upper = make([]float64, len(prices))
	lower = make([]float64, len(prices))
	for i := range prices {
		if i < period-1 {
			upper[i] = math.NaN()
			lower[i] = math.NaN()
			continue
		}
		window := prices[i-period+1 : i+1]
		var sqSum float64
		for _, p := range window {
			d := p - middle[i]
			sqSum += d * d
		}
		sigma := math.Sqrt(sqSum / float64(period))
		upper[i] = middle[i] + stdDev*sigma
		lower[i] = middle[i] - stdDev*sigma
	}
	return upper, middle, lower, nil
}

// VolumeSpike detects volume spikes. Position i is true when volume[i] is
// at least threshold times the mean of the volumes strictly before i,
// looking back at most lookback-1 elements. Position 0 is always false.
func VolumeSpike(volumes []float64, threshold float64, lookback int) ([]bool, error) {
	if err := validatePeriod(lookback); err != nil {
		return nil, err
	}
	if len(volumes) == 0 {
		return []bool{}, nil
	}

	result := make([]bool, len(volumes))
	for i := range volumes {
		if i == 0 {
			continue
		}
		start := i - lookback + 1
		if start < 0 {
			start = 0
		}
		window := volumes[start:i]
		var sum float64
		for _, v := range window {
			sum += v
		}
		avg := sum / float64(len(window))
		result[i] = volumes[i] >= avg*threshold
	}
	return result, nil
}

// DetectGoldenCross reports whether the short MA crossed above the long MA
// at the latest bar: short > long now and short <= long on the previous
// bar, with all four values defined.
func DetectGoldenCross(prices []float64, shortPeriod, longPeriod int) (bool, error) {
	sCurr, lCurr, sPrev, lPrev, ok, err := maCrossState(prices, shortPeriod, longPeriod)
	if err != nil || !ok {
		return false, err
	}
	return sCurr > lCurr && sPrev <= lPrev, nil
}

// DetectDeathCross reports whether the short MA crossed below the long MA
// at the latest bar: short < long now and short >= long on the previous
// bar, with all four values defined.
func DetectDeathCross(prices []float64, shortPeriod, longPeriod int) (bool, error) {
	sCurr, lCurr, sPrev, lPrev, ok, err := maCrossState(prices, shortPeriod, longPeriod)
	if err != nil || !ok {
		return false, err
	}
	return sCurr < lCurr && sPrev >= lPrev, nil
}

// maCrossState returns the short and long MA at the last two bars. ok is
// false when any of the four values is undefined or the series is too
// short for a crossing to be observable.
func maCrossState(prices []float64, shortPeriod, longPeriod int) (sCurr, lCurr, sPrev, lPrev float64, ok bool, err error) {
	if err := validatePeriod(shortPeriod); err != nil {
		return 0, 0, 0, 0, false, err
	}
	if err := validatePeriod(longPeriod); err != nil {
		return 0, 0, 0, 0, false, err
	}
	if len(prices) < longPeriod+1 {
		return 0, 0, 0, 0, false, nil
	}

	shortMA, err := SMA(prices, shortPeriod)
	if err != nil {
		return 0, 0, 0, 0, false, err
	}
	longMA, err := SMA(prices, longPeriod)
	if err != nil {
		return 0, 0, 0, 0, false, err
	}

	curr := len(prices) - 1
	prev := curr - 1
	if !IsDefined(shortMA[curr]) || !IsDefined(longMA[curr]) ||
		!IsDefined(shortMA[prev]) || !IsDefined(longMA[prev]) {
		return 0, 0, 0, 0, false, nil
	}

	return shortMA[curr], longMA[curr], shortMA[prev], longMA[prev], true, nil
}
