// Package approval receives out-of-band alert decisions.
//
// The approval surface (REST façade, chat callback handler) runs in a
// separate process. When a user approves or rejects a pending alert it
// records the decision and emits a Postgres NOTIFY on the
// alert_decisions channel. The trading daemon LISTENs on that channel
// and routes each decision to the owning user's engine. Alert-store
// atomicity (PopAtomic) makes duplicate deliveries harmless.
package approval

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/lib/pq"
)

// Channel is the Postgres notification channel for alert decisions.
const Channel = "alert_decisions"

const (
	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute

	// pingInterval keeps the listener connection alive through idle
	// periods and forces reconnection when the server went away.
	pingInterval = 90 * time.Second
)

// Decision is the payload of one alert_decisions notification.
type Decision struct {
	UserID   string `json:"user_id"`
	AlertID  string `json:"alert_id"`
	Decision string `json:"decision"` // "approve" or "reject"
}

// Handler processes one decision. Implementations route to the owning
// user's trading engine.
type Handler func(ctx context.Context, d Decision)

// Listener consumes alert decisions from Postgres.
type Listener struct {
	dbURL   string
	handler Handler
	logger  *log.Logger
}

// NewListener creates an approval listener.
func NewListener(dbURL string, handler Handler, logger *log.Logger) *Listener {
	return &Listener{
		dbURL:   dbURL,
		handler: handler,
		logger:  logger,
	}
}

// Start begins listening in a background goroutine until ctx is
// cancelled. Connection drops are retried with backoff by pq.Listener.
func (l *Listener) Start(ctx context.Context) {
	go l.listenLoop(ctx)
}

func (l *Listener) listenLoop(ctx context.Context) {
	defer l.logger.Println("[approval] listener shut down")

	pqListener := pq.NewListener(l.dbURL, minReconnectInterval, maxReconnectInterval,
		func(event pq.ListenerEventType, err error) {
			if err != nil {
				l.logger.Printf("[approval] listener event %d: %v", event, err)
			}
		})
	defer pqListener.Close()

	if err := pqListener.Listen(Channel); err != nil {
		l.logger.Printf("[approval] cannot LISTEN on %s: %v — approval feed disabled", Channel, err)
		return
	}
	l.logger.Printf("[approval] listening for decisions on %s", Channel)

	for {
		select {
		case <-ctx.Done():
			return
		case notification := <-pqListener.Notify:
			// Nil notification signals a reconnect; pending decisions
			// are re-delivered by the approval surface on its side.
			if notification == nil {
				l.logger.Println("[approval] connection re-established")
				continue
			}
			l.dispatch(ctx, notification.Extra)
		case <-time.After(pingInterval):
			go func() {
				if err := pqListener.Ping(); err != nil {
					l.logger.Printf("[approval] ping failed: %v", err)
				}
			}()
		}
	}
}

func (l *Listener) dispatch(ctx context.Context, payload string) {
	var d Decision
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		l.logger.Printf("[approval] invalid decision payload: %v", err)
		return
	}
	if d.AlertID == "" || (d.Decision != "approve" && d.Decision != "reject") {
		l.logger.Printf("[approval] malformed decision: alert_id=%q decision=%q", d.AlertID, d.Decision)
		return
	}
	l.handler(ctx, d)
}
