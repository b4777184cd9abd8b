// Package risk implements hard risk guardrails for the trading engine.
//
// Design rules:
//   - Risk rules cannot be overridden by the strategy.
//   - Capital preservation > returns: stop-loss beats take-profit when
//     both would fire on the same bar.
//   - The manager is free of wall-clock and I/O dependencies so the same
//     code can drive live trading and backtest replay.
package risk

import (
	"fmt"
)

// Action is the outcome of a position risk check.
type Action string

const (
	ActionHold         Action = "HOLD"
	ActionStopLoss     Action = "STOP_LOSS"
	ActionTakeProfit   Action = "TAKE_PROFIT"
	ActionTrailingStop Action = "TRAILING_STOP"
)

// CheckResult is the result of a position risk check.
// TriggerPrice is zero when Action is ActionHold.
type CheckResult struct {
	Action           Action
	Reason           string
	CurrentProfitPct float64
	TriggerPrice     float64
}

// Triggered reports whether the result demands a forced exit.
func (r CheckResult) Triggered() bool {
	return r.Action == ActionStopLoss || r.Action == ActionTakeProfit || r.Action == ActionTrailingStop
}

// Config defines the risk limits for one engine instance.
type Config struct {
	// StopLossPct is the loss threshold as a negative percentage.
	StopLossPct float64

	// TakeProfitPct is the profit threshold as a positive percentage.
	TakeProfitPct float64

	// TrailingStopEnabled controls whether trailing stops are evaluated.
	TrailingStopEnabled bool

	// TrailingStopPct is the trailing distance as a positive percentage.
	TrailingStopPct float64

	// MaxInvestmentPerStock caps the amount invested in a single stock (KRW).
	MaxInvestmentPerStock float64

	// MaxStocks limits the number of concurrently held stocks.
	MaxStocks int

	// DailyLossLimit halts new entries when the daily P&L falls to or
	// below this negative percentage.
	DailyLossLimit float64
}

// DefaultConfig returns the standard BNF risk limits.
func DefaultConfig() Config {
	return Config{
		StopLossPct:           -5.0,
		TakeProfitPct:         10.0,
		TrailingStopEnabled:   false,
		TrailingStopPct:       5.0,
		MaxInvestmentPerStock: 1_000_000,
		MaxStocks:             10,
		DailyLossLimit:        -10.0,
	}
}

// DefaultRiskPerTradePct is the share of available capital risked on a
// single trade when sizing a position.
const DefaultRiskPerTradePct = 2.0

// Manager enforces all risk rules. It is the final gatekeeper before any
// order is placed.
type Manager struct {
	config Config
}

// NewManager creates a risk manager with the given configuration.
func NewManager(cfg Config) *Manager {
	return &Manager{config: cfg}
}

// Config returns the manager's current configuration.
func (m *Manager) Config() Config {
	return m.config
}

// CheckPosition evaluates a position against stop-loss, take-profit, and
// trailing stop thresholds. First match wins; stop-loss has priority.
func (m *Manager) CheckPosition(entryPrice, currentPrice float64, trailing *TrailingStop) CheckResult {
	if entryPrice == 0 {
		return CheckResult{
			Action: ActionHold,
			Reason: "invalid entry price",
		}
	}

	profitPct := (currentPrice - entryPrice) / entryPrice * 100

	if profitPct <= m.config.StopLossPct {
		return CheckResult{
			Action: ActionStopLoss,
			Reason: fmt.Sprintf("stop loss triggered: current loss %.2f%% reached stop line %.1f%%",
				profitPct, m.config.StopLossPct),
			CurrentProfitPct: profitPct,
			TriggerPrice:     entryPrice * (1 + m.config.StopLossPct/100),
		}
	}

	if profitPct >= m.config.TakeProfitPct {
		return CheckResult{
			Action: ActionTakeProfit,
			Reason: fmt.Sprintf("take profit triggered: current profit %.2f%% reached target line %.1f%%",
				profitPct, m.config.TakeProfitPct),
			CurrentProfitPct: profitPct,
			TriggerPrice:     entryPrice * (100 + m.config.TakeProfitPct) / 100,
		}
	}

	if m.config.TrailingStopEnabled && trailing != nil && trailing.IsTriggered(currentPrice) {
		return CheckResult{
			Action: ActionTrailingStop,
			Reason: fmt.Sprintf("trailing stop triggered: price %.0f at or below stop %.0f",
				currentPrice, trailing.StopPrice),
			CurrentProfitPct: profitPct,
			TriggerPrice:     trailing.StopPrice,
		}
	}

	return CheckResult{
		Action:           ActionHold,
		Reason:           "no risk conditions met - holding position",
		CurrentProfitPct: profitPct,
	}
}

// CanOpenPosition checks whether a new position may be opened. The
// returned reason is empty when the position is allowed.
func (m *Manager) CanOpenPosition(investmentAmount float64, currentPositionsCount int, dailyPnLPct float64) (bool, string) {
	if dailyPnLPct <= m.config.DailyLossLimit {
		return false, fmt.Sprintf("daily loss limit exceeded: %.2f%% at or below limit %.1f%% - trading halted for the day",
			dailyPnLPct, m.config.DailyLossLimit)
	}

	if investmentAmount > m.config.MaxInvestmentPerStock {
		return false, fmt.Sprintf("max investment per stock exceeded: %.0f over limit %.0f",
			investmentAmount, m.config.MaxInvestmentPerStock)
	}

	if currentPositionsCount >= m.config.MaxStocks {
		return false, fmt.Sprintf("max stock count reached: holding %d of %d",
			currentPositionsCount, m.config.MaxStocks)
	}

	return true, ""
}

// CalculatePositionSize returns the number of whole shares to buy, sized
// so that hitting the stop-loss costs at most riskPerTradePct of the
// available capital, capped by the per-stock investment limit.
func (m *Manager) CalculatePositionSize(availableCapital, stockPrice, riskPerTradePct float64) int {
	if stockPrice <= 0 || availableCapital <= 0 {
		return 0
	}

	riskAmount := availableCapital * (riskPerTradePct / 100)

	stopLossRatio := m.config.StopLossPct / 100
	if stopLossRatio < 0 {
		stopLossRatio = -stopLossRatio
	}
	if stopLossRatio == 0 {
		stopLossRatio = 0.05
	}

	maxInvestmentByRisk := riskAmount / stopLossRatio
	maxInvestment := maxInvestmentByRisk
	if m.config.MaxInvestmentPerStock < maxInvestment {
		maxInvestment = m.config.MaxInvestmentPerStock
	}

	return int(maxInvestment / stockPrice)
}
