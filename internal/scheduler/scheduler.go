// Package scheduler drives the periodic trading loop.
//
// The scheduler fires a trading job at absolute minute boundaries every
// TickInterval during KRX market hours. At most one job instance runs at
// a time: a slow tick makes overlapping fires skip rather than queue.
// Each job iterates the active users and runs one trading-loop tick per
// user with a shared per-tick deadline.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/kingsick/autotrader/internal/broker"
	"github.com/kingsick/autotrader/internal/engine"
	"github.com/kingsick/autotrader/internal/market"
	"github.com/kingsick/autotrader/internal/metrics"
	"github.com/kingsick/autotrader/internal/store"
)

// EngineFactory builds (or returns a cached) trading engine for a user.
// Engines must be reused across ticks so trailing-stop state survives.
type EngineFactory interface {
	EngineFor(user store.User) (*engine.Engine, error)
}

// TickObserver receives the result of each per-user tick. Used to push
// results to the dashboard broadcaster; may be nil.
type TickObserver func(user store.User, result engine.LoopResult)

// Scheduler manages the trading job lifecycle.
type Scheduler struct {
	calendar   *market.Calendar
	users      store.UserStore
	watchlists store.WatchlistStore
	engines    EngineFactory
	logger     *log.Logger

	tickInterval time.Duration
	tickDeadline time.Duration

	observer TickObserver

	// jobMu enforces at most one outstanding job instance.
	jobMu sync.Mutex

	// now is swapped by tests.
	now func() time.Time
}

// Options configures a Scheduler.
type Options struct {
	Calendar   *market.Calendar
	Users      store.UserStore
	Watchlists store.WatchlistStore
	Engines    EngineFactory
	Logger     *log.Logger

	TickInterval time.Duration // default 5 minutes
	TickDeadline time.Duration // default 4 minutes
	Observer     TickObserver
}

// New creates a scheduler.
func New(opts Options) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "", log.LstdFlags)
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = 5 * time.Minute
	}
	if opts.TickDeadline <= 0 {
		opts.TickDeadline = 4 * time.Minute
	}
	return &Scheduler{
		calendar:     opts.Calendar,
		users:        opts.Users,
		watchlists:   opts.Watchlists,
		engines:      opts.Engines,
		logger:       opts.Logger,
		tickInterval: opts.TickInterval,
		tickDeadline: opts.TickDeadline,
		observer:     opts.Observer,
		now:          time.Now,
	}
}

// Run fires the trading job on the tick schedule until ctx is cancelled.
// The first fire is aligned to the next absolute interval boundary.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Printf("[scheduler] trading loop every %v during market hours (%02d:%02d-%02d:%02d %s)",
		s.tickInterval, market.MarketOpenHour, market.MarketOpenMin,
		market.MarketCloseHour, market.MarketCloseMin, s.calendar.Location())

	for {
		next := s.now().Truncate(s.tickInterval).Add(s.tickInterval)
		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Println("[scheduler] shutdown signal received, exiting")
			return
		case <-timer.C:
			s.RunTradingJob(ctx)
		}
	}
}

// RunTradingJob executes one trading job: all active users, one tick
// each. Off-hours fires and overlapping fires return immediately.
func (s *Scheduler) RunTradingJob(ctx context.Context) {
	if !s.calendar.IsMarketOpen(s.now()) {
		s.logger.Println("[scheduler] outside market hours, skipping trading loop")
		metrics.TicksTotal.WithLabelValues("skipped").Inc()
		return
	}

	if !s.jobMu.TryLock() {
		s.logger.Println("[scheduler] previous trading loop still running, skipping this fire")
		metrics.TicksTotal.WithLabelValues("skipped").Inc()
		return
	}
	defer s.jobMu.Unlock()

	start := s.now()
	s.logger.Println("[scheduler] starting trading loop execution")

	// The job is detached from the loop context so a shutdown signal
	// drains the current tick instead of aborting it; the tick deadline
	// still bounds it.
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.tickDeadline)
	defer cancel()

	users, err := s.users.ListActiveUsers(jobCtx)
	if err != nil {
		s.logger.Printf("[scheduler] failed to load active users: %v", err)
		metrics.TicksTotal.WithLabelValues("error").Inc()
		return
	}

	for _, user := range users {
		if jobCtx.Err() != nil {
			s.logger.Printf("[scheduler] tick deadline reached, %v", jobCtx.Err())
			break
		}
		s.processUser(jobCtx, user)
	}

	elapsed := s.now().Sub(start)
	metrics.TickDuration.Observe(elapsed.Seconds())
	metrics.TicksTotal.WithLabelValues("ok").Inc()
	s.logger.Printf("[scheduler] trading loop execution completed in %v", elapsed.Round(time.Millisecond))
}

// processUser runs one tick for one user. Failures are logged; the next
// user still runs.
func (s *Scheduler) processUser(ctx context.Context, user store.User) {
	items, err := s.watchlists.GetUserWatchlist(ctx, user.ID)
	if err != nil {
		s.logger.Printf("[scheduler] failed to load watchlist for user %s: %v", user.ID, err)
		return
	}

	eng, err := s.engines.EngineFor(user)
	if err != nil {
		s.logger.Printf("[scheduler] failed to build engine for user %s: %v", user.ID, err)
		return
	}

	positions, err := eng.Positions(ctx)
	if err != nil {
		s.logger.Printf("[scheduler] failed to load positions for user %s: %v", user.ID, err)
		return
	}

	if len(items) == 0 && len(positions) == 0 {
		return
	}

	watchlist := make([]string, 0, len(items))
	stockNames := make(map[string]string, len(items))
	overrides := make(map[string]store.Overrides, len(items))
	for _, item := range items {
		watchlist = append(watchlist, item.StockCode)
		stockNames[item.StockCode] = item.StockName
		if item.TargetPrice != nil || item.StopLossPrice != nil || item.Quantity != nil {
			overrides[item.StockCode] = store.Overrides{
				TargetPrice:   item.TargetPrice,
				StopLossPrice: item.StopLossPrice,
				Quantity:      item.Quantity,
			}
		}
	}

	eng.SetDailyPnL(unrealizedPnLPct(positions))

	result := eng.RunTradingLoop(ctx, engine.LoopInput{
		Watchlist:     watchlist,
		Positions:     positions,
		UserID:        user.ID,
		NotifyChannel: user.SlackWebhookURL,
		StockNames:    stockNames,
		Overrides:     overrides,
	})

	s.logger.Printf("[scheduler] user %s trading loop: processed=%d signals=%d orders=%d alerts=%d",
		user.ID, result.ProcessedStocks, result.SignalsGenerated, result.OrdersExecuted, result.AlertsSent)
	for _, errMsg := range result.Errors {
		s.logger.Printf("[scheduler] user %s trading error: %s", user.ID, errMsg)
	}

	if s.observer != nil {
		s.observer(user, result)
	}
}

// Drain blocks until the in-flight trading job (if any) completes, up to
// the grace period. Reports whether the job finished in time.
func (s *Scheduler) Drain(grace time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.jobMu.Lock()
		s.jobMu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(grace):
		return false
	}
}

// unrealizedPnLPct approximates the daily P&L gate input from the open
// positions' unrealized profit against their cost basis.
func unrealizedPnLPct(positions []broker.Position) float64 {
	var pnl, cost float64
	for _, p := range positions {
		pnl += p.ProfitLoss
		cost += p.AvgPrice * float64(p.Quantity)
	}
	if cost == 0 {
		return 0
	}
	return pnl / cost * 100
}
