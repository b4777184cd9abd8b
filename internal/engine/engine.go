// Package engine implements the dual-mode trading engine.
//
// One Engine instance serves one user. Per tick it:
//  1. Fetches current prices for watchlist and positions in one batch.
//  2. Checks each position against risk rules (stop-loss, take-profit,
//     trailing stop) and sells, or generates an exit signal.
//  3. Scans the watchlist for BNF buy signals.
//  4. Executes orders (AUTO mode) or queues alerts for approval (ALERT
//     mode).
//
// A user's ticks never overlap (the scheduler guarantees it), so the
// trailing-stop map is effectively single-writer. All collaborators are
// constructor-injected; tests replace them with fakes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kingsick/autotrader/internal/alert"
	"github.com/kingsick/autotrader/internal/broker"
	"github.com/kingsick/autotrader/internal/market"
	"github.com/kingsick/autotrader/internal/metrics"
	"github.com/kingsick/autotrader/internal/notify"
	"github.com/kingsick/autotrader/internal/risk"
	"github.com/kingsick/autotrader/internal/store"
	"github.com/kingsick/autotrader/internal/strategy"
)

// Mode is the engine's operating mode.
type Mode string

const (
	// ModeAuto places orders automatically.
	ModeAuto Mode = "auto"
	// ModeAlert queues orders as pending alerts for manual approval.
	ModeAlert Mode = "alert"
)

// Alert lifecycle results, returned as explicit errors rather than
// provider exceptions.
var (
	ErrAlertNotFound = errors.New("alert not found")
	ErrAlertExpired  = errors.New("alert expired")
)

// DefaultMaxConcurrentFetches bounds in-flight daily-price fetches per
// user during the prefetch phase.
const DefaultMaxConcurrentFetches = 5

// LoopInput is everything one trading-loop tick needs for one user.
type LoopInput struct {
	Watchlist     []string
	Positions     []broker.Position
	UserID        string
	NotifyChannel string
	StockNames    map[string]string
	Overrides     map[string]store.Overrides
}

// LoopResult summarizes one trading-loop tick.
type LoopResult struct {
	ProcessedStocks  int
	SignalsGenerated int
	OrdersExecuted   int
	AlertsSent       int
	Errors           []string
}

// EventFunc receives engine lifecycle events ("alert_created",
// "order_executed") for the dashboard feed. Must not block.
type EventFunc func(event string, data any)

// Engine is the per-user trading orchestrator.
type Engine struct {
	mode     Mode
	broker   broker.Client
	signals  *strategy.Generator
	risk     *risk.Manager
	alerts   alert.Store
	notifier notify.Notifier // nil disables notifications
	history  *market.History // nil falls back to direct broker fetches
	events   EventFunc       // nil disables event publishing
	logger   *log.Logger

	maxConcurrentFetches int

	mu            sync.Mutex
	trailingStops map[string]*risk.TrailingStop
	dailyPnLPct   float64

	// now is swapped by tests to control alert expiry.
	now func() time.Time
}

// Options configures an Engine.
type Options struct {
	Mode     Mode
	Broker   broker.Client
	Signals  *strategy.Generator
	Risk     *risk.Manager
	Alerts   alert.Store
	Notifier notify.Notifier
	History  *market.History
	Events   EventFunc
	Logger   *log.Logger

	// MaxConcurrentFetches bounds parallel daily-price prefetches.
	// Zero selects DefaultMaxConcurrentFetches.
	MaxConcurrentFetches int
}

// New creates a trading engine.
func New(opts Options) (*Engine, error) {
	if opts.Broker == nil {
		return nil, fmt.Errorf("engine: broker is required")
	}
	if opts.Signals == nil {
		opts.Signals = strategy.NewGenerator()
	}
	if opts.Risk == nil {
		opts.Risk = risk.NewManager(risk.DefaultConfig())
	}
	if opts.Alerts == nil {
		opts.Alerts = alert.NewMemoryStore()
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "", log.LstdFlags)
	}
	if opts.Mode == "" {
		opts.Mode = ModeAlert
	}
	if opts.MaxConcurrentFetches <= 0 {
		opts.MaxConcurrentFetches = DefaultMaxConcurrentFetches
	}

	return &Engine{
		mode:                 opts.Mode,
		broker:               opts.Broker,
		signals:              opts.Signals,
		risk:                 opts.Risk,
		alerts:               opts.Alerts,
		notifier:             opts.Notifier,
		history:              opts.History,
		events:               opts.Events,
		logger:               opts.Logger,
		maxConcurrentFetches: opts.MaxConcurrentFetches,
		trailingStops:        make(map[string]*risk.TrailingStop),
		now:                  time.Now,
	}, nil
}

// Mode returns the current operating mode.
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// SetMode changes the operating mode between ticks.
func (e *Engine) SetMode(mode Mode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logger.Printf("[engine] trading mode changed from %s to %s", e.mode, mode)
	e.mode = mode
}

// SetDailyPnL sets the daily P&L percentage used by the position gates.
// Called by the scheduler at the start of each tick.
func (e *Engine) SetDailyPnL(pnlPct float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dailyPnLPct = pnlPct
}

// TrailingStops returns a copy of the active trailing stops.
func (e *Engine) TrailingStops() map[string]risk.TrailingStop {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]risk.TrailingStop, len(e.trailingStops))
	for code, ts := range e.trailingStops {
		out[code] = *ts
	}
	return out
}

// PendingAlerts returns all alerts awaiting approval.
func (e *Engine) PendingAlerts(ctx context.Context) ([]alert.Alert, error) {
	return e.alerts.GetAll(ctx)
}

// Positions returns the user's current positions from the broker.
func (e *Engine) Positions(ctx context.Context) ([]broker.Position, error) {
	return e.broker.GetPositions(ctx)
}

// RunTradingLoop executes one tick for one user.
func (e *Engine) RunTradingLoop(ctx context.Context, in LoopInput) LoopResult {
	var result LoopResult

	if len(in.Watchlist) == 0 && len(in.Positions) == 0 {
		return result
	}

	positionCodes := make(map[string]bool, len(in.Positions))
	for _, p := range in.Positions {
		positionCodes[p.StockCode] = true
	}

	allCodes := make([]string, 0, len(in.Watchlist)+len(in.Positions))
	seen := make(map[string]bool, len(in.Watchlist)+len(in.Positions))
	for _, code := range in.Watchlist {
		if !seen[code] {
			seen[code] = true
			allCodes = append(allCodes, code)
		}
	}
	for _, p := range in.Positions {
		if !seen[p.StockCode] {
			seen[p.StockCode] = true
			allCodes = append(allCodes, p.StockCode)
		}
	}

	// One batch quote fetch per tick: all price comparisons below use a
	// consistent snapshot. Failure here aborts the whole tick.
	prices, err := e.broker.GetStockPrices(ctx, allCodes)
	if err != nil {
		msg := fmt.Sprintf("failed to fetch stock prices: %v", err)
		e.logger.Printf("[engine] %s", msg)
		result.Errors = append(result.Errors, msg)
		metrics.LoopErrors.Inc()
		return result
	}
	priceMap := make(map[string]broker.StockPrice, len(prices))
	for _, p := range prices {
		priceMap[p.Code] = p
	}
	result.ProcessedStocks = len(prices)

	e.prefetchHistories(ctx, allCodes)

	for _, position := range in.Positions {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("tick cancelled: %v", ctx.Err()))
			return result
		}
		if err := e.processPosition(ctx, position, priceMap, in, &result); err != nil {
			msg := fmt.Sprintf("error processing position %s: %v", position.StockCode, err)
			e.logger.Printf("[engine] %s", msg)
			result.Errors = append(result.Errors, msg)
			metrics.LoopErrors.Inc()
		}
	}

	for _, code := range in.Watchlist {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("tick cancelled: %v", ctx.Err()))
			return result
		}
		// Already holding: the position pass covered it.
		if positionCodes[code] {
			continue
		}
		if err := e.processWatchlistStock(ctx, code, priceMap, len(in.Positions), in, &result); err != nil {
			msg := fmt.Sprintf("error processing watchlist %s: %v", code, err)
			e.logger.Printf("[engine] %s", msg)
			result.Errors = append(result.Errors, msg)
			metrics.LoopErrors.Inc()
		}
	}

	return result
}

// prefetchHistories warms the daily-price cache with bounded concurrency
// so the sequential passes below hit the cache. Errors are ignored here;
// the sequential path retries and records them per stock.
func (e *Engine) prefetchHistories(ctx context.Context, codes []string) {
	if e.history == nil || len(codes) == 0 {
		return
	}

	sem := make(chan struct{}, e.maxConcurrentFetches)
	var wg sync.WaitGroup
	for _, code := range codes {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(code string) {
			defer wg.Done()
			defer func() { <-sem }()
			_, _ = e.history.GetDailyPrices(ctx, code)
		}(code)
	}
	wg.Wait()
}

// fetchDaily returns daily bars for a code, via the cache when present.
func (e *Engine) fetchDaily(ctx context.Context, code string) ([]broker.DailyPrice, error) {
	if e.history != nil {
		return e.history.GetDailyPrices(ctx, code)
	}
	return e.broker.GetDailyPrices(ctx, code, market.DefaultHistoryCount)
}

// ensureTrailingStop creates the trailing stop for a position on first
// observation.
func (e *Engine) ensureTrailingStop(position broker.Position) *risk.TrailingStop {
	e.mu.Lock()
	defer e.mu.Unlock()
	ts, ok := e.trailingStops[position.StockCode]
	if !ok {
		ts = risk.NewTrailingStop(position.AvgPrice, e.risk.Config().TrailingStopPct)
		e.trailingStops[position.StockCode] = ts
	}
	return ts
}

func (e *Engine) removeTrailingStop(code string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.trailingStops, code)
}

func (e *Engine) processPosition(ctx context.Context, position broker.Position, priceMap map[string]broker.StockPrice, in LoopInput, result *LoopResult) error {
	ts := e.ensureTrailingStop(position)

	quote, ok := priceMap[position.StockCode]
	if !ok {
		return nil
	}
	currentPrice := quote.CurrentPrice

	ts.UpdatePrice(currentPrice)

	riskResult := e.checkPositionRisk(position, currentPrice, ts, in.Overrides[position.StockCode])

	if riskResult.Triggered() {
		// Risk-triggered exit: synthesize a full-confidence sell.
		sellSignal := strategy.Signal{
			Kind:       strategy.SignalSell,
			Confidence: 1.0,
			Reason:     riskResult.Reason,
		}
		orderResult, err := e.executeSell(ctx, sellSignal, position, currentPrice, in, result)
		if err != nil {
			return err
		}
		if orderResult != nil && orderResult.Success {
			e.removeTrailingStop(position.StockCode)
		}
		return nil
	}

	// No risk trigger: look for a strategy exit.
	bars, err := e.fetchDaily(ctx, position.StockCode)
	if err != nil {
		e.logger.Printf("[engine] failed to fetch daily prices for %s: %v", position.StockCode, err)
		return err
	}
	if len(bars) < strategy.MinDataPoints {
		return nil
	}

	closes, volumes := market.ClosesAndVolumes(bars)
	sig := e.signals.Generate(closes, volumes)
	result.SignalsGenerated++
	metrics.SignalsGenerated.WithLabelValues(string(sig.Kind)).Inc()

	if sig.Kind == strategy.SignalSell {
		_, err = e.executeSell(ctx, sig, position, currentPrice, in, result)
		return err
	}
	return nil
}

// checkPositionRisk applies per-stock absolute-price overrides before the
// generic percentage rules.
func (e *Engine) checkPositionRisk(position broker.Position, currentPrice float64, ts *risk.TrailingStop, ov store.Overrides) risk.CheckResult {
	if ov.StopLossPrice != nil && currentPrice <= *ov.StopLossPrice {
		return risk.CheckResult{
			Action: risk.ActionStopLoss,
			Reason: fmt.Sprintf("stop loss triggered: price %.0f at or below user stop %.0f",
				currentPrice, *ov.StopLossPrice),
			CurrentProfitPct: profitPct(position.AvgPrice, currentPrice),
			TriggerPrice:     *ov.StopLossPrice,
		}
	}
	if ov.TargetPrice != nil && currentPrice >= *ov.TargetPrice {
		return risk.CheckResult{
			Action: risk.ActionTakeProfit,
			Reason: fmt.Sprintf("take profit triggered: price %.0f at or above user target %.0f",
				currentPrice, *ov.TargetPrice),
			CurrentProfitPct: profitPct(position.AvgPrice, currentPrice),
			TriggerPrice:     *ov.TargetPrice,
		}
	}
	return e.risk.CheckPosition(position.AvgPrice, currentPrice, ts)
}

func (e *Engine) publish(event string, data any) {
	if e.events != nil {
		e.events(event, data)
	}
}

func (e *Engine) publishOrder(code string, side broker.OrderSide, quantity int, orderID, reason string) {
	e.publish("order_executed", map[string]any{
		"stock_code": code,
		"side":       string(side),
		"quantity":   quantity,
		"order_id":   orderID,
		"reason":     reason,
	})
}

func profitPct(entry, current float64) float64 {
	if entry == 0 {
		return 0
	}
	return (current - entry) / entry * 100
}

func (e *Engine) processWatchlistStock(ctx context.Context, code string, priceMap map[string]broker.StockPrice, positionsCount int, in LoopInput, result *LoopResult) error {
	quote, ok := priceMap[code]
	if !ok {
		return nil
	}

	bars, err := e.fetchDaily(ctx, code)
	if err != nil {
		e.logger.Printf("[engine] failed to fetch daily prices for %s: %v", code, err)
		return err
	}
	if len(bars) < strategy.MinDataPoints {
		return nil
	}

	closes, volumes := market.ClosesAndVolumes(bars)
	sig := e.signals.Generate(closes, volumes)
	result.SignalsGenerated++
	metrics.SignalsGenerated.WithLabelValues(string(sig.Kind)).Inc()

	if sig.Kind == strategy.SignalBuy && sig.Confidence >= strategy.MinTriggerConfidence {
		return e.executeBuy(ctx, sig, code, quote.CurrentPrice, positionsCount, in, result)
	}
	return nil
}

// executeBuy sizes and gates a buy, then orders (AUTO) or alerts (ALERT).
func (e *Engine) executeBuy(ctx context.Context, sig strategy.Signal, code string, currentPrice float64, positionsCount int, in LoopInput, result *LoopResult) error {
	availableAmount := 0.0
	if balance, err := e.broker.GetBalance(ctx); err == nil {
		availableAmount = balance.AvailableAmount
	}

	quantity := e.risk.CalculatePositionSize(availableAmount, currentPrice, risk.DefaultRiskPerTradePct)
	if ov, ok := in.Overrides[code]; ok && ov.Quantity != nil && *ov.Quantity > 0 && *ov.Quantity < quantity {
		quantity = *ov.Quantity
	}
	if quantity <= 0 {
		return nil
	}

	investment := currentPrice * float64(quantity)
	e.mu.Lock()
	dailyPnL := e.dailyPnLPct
	e.mu.Unlock()
	allowed, reason := e.risk.CanOpenPosition(investment, positionsCount, dailyPnL)
	if !allowed {
		e.logger.Printf("[engine] cannot open position for %s: %s", code, reason)
		return nil
	}

	if e.Mode() == ModeAuto {
		orderResult, err := e.broker.PlaceOrder(ctx, code, broker.OrderSideBuy, quantity, nil)
		if err != nil {
			return err
		}
		if orderResult.Success {
			result.OrdersExecuted++
			metrics.OrdersExecuted.WithLabelValues("BUY", "success").Inc()
			e.logger.Printf("[engine] buy order executed: %s qty=%d order_id=%s", code, quantity, orderResult.OrderID)
			e.publishOrder(code, broker.OrderSideBuy, quantity, orderResult.OrderID, sig.Reason)
		} else {
			metrics.OrdersExecuted.WithLabelValues("BUY", "failed").Inc()
			e.logger.Printf("[engine] buy order failed: %s", orderResult.Message)
		}
		return nil
	}

	return e.createAlert(ctx, sig, code, currentPrice, quantity, in, result)
}

// executeSell orders the full position (AUTO) or queues a sell alert.
func (e *Engine) executeSell(ctx context.Context, sig strategy.Signal, position broker.Position, currentPrice float64, in LoopInput, result *LoopResult) (*broker.OrderResult, error) {
	if e.Mode() == ModeAuto {
		orderResult, err := e.broker.PlaceOrder(ctx, position.StockCode, broker.OrderSideSell, position.Quantity, nil)
		if err != nil {
			return nil, err
		}
		if orderResult.Success {
			result.OrdersExecuted++
			metrics.OrdersExecuted.WithLabelValues("SELL", "success").Inc()
			e.logger.Printf("[engine] sell order executed: %s qty=%d order_id=%s reason=%s",
				position.StockCode, position.Quantity, orderResult.OrderID, sig.Reason)
			e.publishOrder(position.StockCode, broker.OrderSideSell, position.Quantity, orderResult.OrderID, sig.Reason)
		} else {
			metrics.OrdersExecuted.WithLabelValues("SELL", "failed").Inc()
			e.logger.Printf("[engine] sell order failed: %s", orderResult.Message)
		}
		return orderResult, nil
	}

	sellPrice := currentPrice
	if sellPrice == 0 {
		sellPrice = position.CurrentPrice
	}
	sig.Indicators.CurrentPrice = sellPrice
	if err := e.createSellAlert(ctx, sig, position, sellPrice, in, result); err != nil {
		return nil, err
	}
	return nil, nil
}

func (e *Engine) createAlert(ctx context.Context, sig strategy.Signal, code string, currentPrice float64, quantity int, in LoopInput, result *LoopResult) error {
	a := alert.Alert{
		AlertID:           uuid.NewString(),
		UserID:            in.UserID,
		StockCode:         code,
		StockName:         e.stockName(code, in),
		SignalKind:        sig.Kind,
		Confidence:        sig.Confidence,
		CurrentPrice:      currentPrice,
		SuggestedQuantity: quantity,
		Reason:            sig.Reason,
		CreatedAt:         e.now(),
	}
	return e.storeAndNotify(ctx, a, in, result)
}

func (e *Engine) createSellAlert(ctx context.Context, sig strategy.Signal, position broker.Position, currentPrice float64, in LoopInput, result *LoopResult) error {
	a := alert.Alert{
		AlertID:           uuid.NewString(),
		UserID:            in.UserID,
		StockCode:         position.StockCode,
		StockName:         e.stockName(position.StockCode, in),
		SignalKind:        strategy.SignalSell,
		Confidence:        sig.Confidence,
		CurrentPrice:      currentPrice,
		SuggestedQuantity: position.Quantity,
		Reason:            sig.Reason,
		CreatedAt:         e.now(),
	}
	return e.storeAndNotify(ctx, a, in, result)
}

// storeAndNotify persists the alert, then notifies best-effort: a
// notifier failure never invalidates the stored alert.
func (e *Engine) storeAndNotify(ctx context.Context, a alert.Alert, in LoopInput, result *LoopResult) error {
	if err := e.alerts.Save(ctx, a); err != nil {
		return fmt.Errorf("save alert for %s: %w", a.StockCode, err)
	}
	result.AlertsSent++
	metrics.AlertsSent.Inc()
	metrics.PendingAlerts.Inc()
	e.logger.Printf("[engine] %s alert created: %s alert_id=%s", a.SignalKind, a.StockCode, a.AlertID)
	e.publish("alert_created", map[string]any{
		"alert_id":           a.AlertID,
		"user_id":            a.UserID,
		"stock_code":         a.StockCode,
		"signal_kind":        string(a.SignalKind),
		"confidence":         a.Confidence,
		"suggested_quantity": a.SuggestedQuantity,
	})

	if e.notifier != nil && in.NotifyChannel != "" {
		if err := e.notifier.SendAlert(ctx, in.NotifyChannel, a); err != nil {
			e.logger.Printf("[engine] failed to send alert notification: %v", err)
		}
	}
	return nil
}

func (e *Engine) stockName(code string, in LoopInput) string {
	if name, ok := in.StockNames[code]; ok && name != "" {
		return name
	}
	return code
}

// ApproveAlert consumes a pending alert and places the implied market
// order. Returns ErrAlertNotFound when the alert never existed, was
// already consumed, or lost the pop race; ErrAlertExpired when it
// outlived its TTL. In the expired case no broker call is made.
func (e *Engine) ApproveAlert(ctx context.Context, alertID string) (*broker.OrderResult, error) {
	a, err := e.alerts.PopAtomic(ctx, alertID)
	if err != nil {
		return nil, fmt.Errorf("approve alert %s: %w", alertID, err)
	}
	if a == nil {
		e.logger.Printf("[engine] alert not found: %s", alertID)
		return nil, ErrAlertNotFound
	}
	metrics.PendingAlerts.Dec()

	if a.Expired(e.now()) {
		e.logger.Printf("[engine] alert expired: %s created_at=%s", alertID, a.CreatedAt.Format(time.RFC3339))
		return nil, ErrAlertExpired
	}

	side := broker.OrderSideBuy
	if a.SignalKind == strategy.SignalSell {
		side = broker.OrderSideSell
	}

	orderResult, err := e.broker.PlaceOrder(ctx, a.StockCode, side, a.SuggestedQuantity, nil)
	if err != nil {
		return nil, fmt.Errorf("approve alert %s: %w", alertID, err)
	}
	if orderResult.Success {
		if side == broker.OrderSideSell {
			e.removeTrailingStop(a.StockCode)
		}
		metrics.OrdersExecuted.WithLabelValues(string(side), "success").Inc()
		e.logger.Printf("[engine] alert approved and order executed: %s order_id=%s", a.StockCode, orderResult.OrderID)
		e.publishOrder(a.StockCode, side, a.SuggestedQuantity, orderResult.OrderID, a.Reason)
	} else {
		metrics.OrdersExecuted.WithLabelValues(string(side), "failed").Inc()
		e.logger.Printf("[engine] alert approved but order failed: %s", orderResult.Message)
	}
	return orderResult, nil
}

// RejectAlert removes a pending alert without executing. Rejecting an
// absent alert is a no-op that reports found=false.
func (e *Engine) RejectAlert(ctx context.Context, alertID string) (bool, error) {
	found, err := e.alerts.Delete(ctx, alertID)
	if err != nil {
		return false, fmt.Errorf("reject alert %s: %w", alertID, err)
	}
	if found {
		metrics.PendingAlerts.Dec()
		e.logger.Printf("[engine] alert rejected: %s", alertID)
	} else {
		e.logger.Printf("[engine] alert not found for rejection: %s", alertID)
	}
	return found, nil
}

// CleanupExpiredAlerts sweeps alerts past their TTL. Idempotent; safe to
// call from a background task.
func (e *Engine) CleanupExpiredAlerts(ctx context.Context) (int, error) {
	alerts, err := e.alerts.GetAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired alerts: %w", err)
	}

	removed := 0
	now := e.now()
	for _, a := range alerts {
		if !a.Expired(now) {
			continue
		}
		found, err := e.alerts.Delete(ctx, a.AlertID)
		if err != nil {
			return removed, fmt.Errorf("cleanup expired alerts: %w", err)
		}
		if found {
			removed++
			metrics.PendingAlerts.Dec()
			e.logger.Printf("[engine] expired alert cleaned up: %s", a.AlertID)
		}
	}
	return removed, nil
}
