// Command scheduler is the long-running trading daemon.
//
// It:
//  1. Loads configuration from the environment (optionally via .env)
//  2. Initializes the broker, stores, notifier, and market calendar
//  3. Builds one trading engine per active user (lazily, cached, so
//     trailing-stop state survives across ticks)
//  4. Fires the trading loop every tick interval during KRX market hours
//  5. Routes out-of-band alert approvals from Postgres to the engines
//  6. Serves Prometheus metrics and the WebSocket event feed
//
// Exit code 0 on clean shutdown (SIGINT/SIGTERM drains the current
// tick), non-zero on fatal startup errors.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kingsick/autotrader/internal/alert"
	"github.com/kingsick/autotrader/internal/approval"
	"github.com/kingsick/autotrader/internal/broker"
	"github.com/kingsick/autotrader/internal/config"
	"github.com/kingsick/autotrader/internal/dashboard"
	"github.com/kingsick/autotrader/internal/engine"
	"github.com/kingsick/autotrader/internal/market"
	"github.com/kingsick/autotrader/internal/metrics"
	"github.com/kingsick/autotrader/internal/notify"
	"github.com/kingsick/autotrader/internal/risk"
	"github.com/kingsick/autotrader/internal/scheduler"
	"github.com/kingsick/autotrader/internal/store"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	// .env is optional; real deployments configure the environment
	// directly.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Printf("[main] skipping .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("[main] %v", err)
	}
	logger.Printf("[main] starting trading scheduler: mode=%s mock=%t interval=%v",
		cfg.Mode, cfg.KIS.IsMock, cfg.TickInterval)

	calendar, err := market.NewCalendar(cfg.MarketTZ, cfg.HolidayFile)
	if err != nil {
		logger.Fatalf("[main] %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	userStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("[main] %v", err)
	}
	defer userStore.Close()

	var alerts alert.Store
	if cfg.RedisURL != "" {
		redisStore, err := alert.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Fatalf("[main] %v", err)
		}
		if err := redisStore.Ping(ctx); err != nil {
			logger.Fatalf("[main] redis unreachable: %v", err)
		}
		defer redisStore.Close()
		alerts = redisStore
		logger.Println("[main] alert store: redis")
	} else {
		alerts = alert.NewMemoryStore()
		logger.Println("[main] alert store: in-memory (single process only)")
	}

	tokens, err := broker.NewTokenCache()
	if err != nil {
		logger.Fatalf("[main] %v", err)
	}
	kisClient, err := broker.NewKISClient(broker.KISConfig{
		AppKey:    cfg.KIS.AppKey,
		AppSecret: cfg.KIS.AppSecret,
		AccountNo: cfg.KIS.AccountNo,
		IsMock:    cfg.KIS.IsMock,
	}, tokens, logger)
	if err != nil {
		logger.Fatalf("[main] %v", err)
	}

	history, err := market.NewHistory(kisClient, 0)
	if err != nil {
		logger.Fatalf("[main] %v", err)
	}

	var notifier notify.Notifier
	if cfg.SlackEnabled {
		notifier = notify.NewSlackNotifier(logger)
	}

	broadcaster := dashboard.NewBroadcaster(logger)
	go broadcaster.Run()
	defer broadcaster.Shutdown()

	if cfg.DashboardAddr != "" {
		dashSrv := dashboard.NewServer(cfg.DashboardAddr, broadcaster, logger)
		dashSrv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			dashSrv.Shutdown(shutdownCtx)
		}()
	}

	if cfg.MetricsAddr != "" {
		metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler()}
		go func() {
			logger.Printf("[main] serving metrics on %s", cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("[main] metrics server error: %v", err)
			}
		}()
		defer metricsSrv.Close()
	}

	factory := &engineFactory{
		cfg:      cfg,
		broker:   kisClient,
		history:  history,
		alerts:   alerts,
		notifier: notifier,
		events:   broadcaster.Publish,
		logger:   logger,
		engines:  make(map[string]*engine.Engine),
	}

	sched := scheduler.New(scheduler.Options{
		Calendar:     calendar,
		Users:        userStore,
		Watchlists:   userStore,
		Engines:      factory,
		Logger:       logger,
		TickInterval: cfg.TickInterval,
		TickDeadline: cfg.TickDeadline,
		Observer: func(user store.User, result engine.LoopResult) {
			broadcaster.Publish(dashboard.EventTickResult, map[string]any{
				"user_id":           user.ID,
				"processed_stocks":  result.ProcessedStocks,
				"signals_generated": result.SignalsGenerated,
				"orders_executed":   result.OrdersExecuted,
				"alerts_sent":       result.AlertsSent,
				"errors":            result.Errors,
			})
		},
	})

	decisions := approval.NewListener(cfg.DatabaseURL, func(ctx context.Context, d approval.Decision) {
		handleDecision(ctx, factory, broadcaster, logger, d)
	}, logger)
	decisions.Start(ctx)

	go runAlertCleanup(ctx, factory, logger)

	sched.Run(ctx)

	// Shutdown: let the in-flight tick finish within the grace period.
	logger.Println("[main] draining current tick...")
	if !sched.Drain(cfg.GracePeriod) {
		logger.Printf("[main] tick did not finish within %v, exiting anyway", cfg.GracePeriod)
	}
	logger.Println("[main] shutdown complete")
}

// engineFactory builds and caches one trading engine per user.
type engineFactory struct {
	cfg      *config.Config
	broker   broker.Client
	history  *market.History
	alerts   alert.Store
	notifier notify.Notifier
	events   engine.EventFunc
	logger   *log.Logger

	mu      sync.Mutex
	engines map[string]*engine.Engine
}

func (f *engineFactory) EngineFor(user store.User) (*engine.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if eng, ok := f.engines[user.ID]; ok {
		return eng, nil
	}

	mode := f.cfg.Mode
	switch user.TradingMode {
	case store.ModeAuto:
		mode = engine.ModeAuto
	case store.ModeAlert:
		mode = engine.ModeAlert
	}

	eng, err := engine.New(engine.Options{
		Mode:                 mode,
		Broker:               f.broker,
		Risk:                 risk.NewManager(f.cfg.Risk),
		Alerts:               f.alerts,
		Notifier:             f.notifier,
		History:              f.history,
		Events:               f.events,
		Logger:               f.logger,
		MaxConcurrentFetches: f.cfg.MaxConcurrentBrokerCalls,
	})
	if err != nil {
		return nil, err
	}
	f.engines[user.ID] = eng
	return eng, nil
}

// cached returns the engine for a user ID without creating one.
func (f *engineFactory) cached(userID string) *engine.Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engines[userID]
}

// all returns a snapshot of every cached engine.
func (f *engineFactory) all() []*engine.Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	engines := make([]*engine.Engine, 0, len(f.engines))
	for _, eng := range f.engines {
		engines = append(engines, eng)
	}
	return engines
}

// handleDecision routes one out-of-band approval decision to the owning
// user's engine and broadcasts the outcome.
func handleDecision(ctx context.Context, factory *engineFactory, broadcaster *dashboard.Broadcaster, logger *log.Logger, d approval.Decision) {
	eng := factory.cached(d.UserID)
	if eng == nil {
		logger.Printf("[main] decision for unknown user %s, alert %s", d.UserID, d.AlertID)
		return
	}

	outcome := map[string]any{
		"user_id":  d.UserID,
		"alert_id": d.AlertID,
		"decision": d.Decision,
	}

	switch d.Decision {
	case "approve":
		orderResult, err := eng.ApproveAlert(ctx, d.AlertID)
		switch {
		case errors.Is(err, engine.ErrAlertNotFound):
			outcome["result"] = "not_found"
		case errors.Is(err, engine.ErrAlertExpired):
			outcome["result"] = "expired"
		case err != nil:
			outcome["result"] = "error"
			logger.Printf("[main] approve alert %s: %v", d.AlertID, err)
		case orderResult.Success:
			outcome["result"] = "executed"
			outcome["order_id"] = orderResult.OrderID
		default:
			outcome["result"] = "order_failed"
			outcome["message"] = orderResult.Message
		}
	case "reject":
		found, err := eng.RejectAlert(ctx, d.AlertID)
		switch {
		case err != nil:
			outcome["result"] = "error"
			logger.Printf("[main] reject alert %s: %v", d.AlertID, err)
		case found:
			outcome["result"] = "rejected"
		default:
			outcome["result"] = "not_found"
		}
	}

	broadcaster.Publish(dashboard.EventAlertDecided, outcome)
}

// runAlertCleanup sweeps expired alerts once per minute.
func runAlertCleanup(ctx context.Context, factory *engineFactory, logger *log.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, eng := range factory.all() {
				if removed, err := eng.CleanupExpiredAlerts(ctx); err != nil {
					logger.Printf("[main] alert cleanup: %v", err)
				} else if removed > 0 {
					logger.Printf("[main] cleaned up %d expired alerts", removed)
				}
			}
		}
	}
}
