// Package dashboard pushes engine events to connected front-ends over
// WebSocket: tick results, alert lifecycle changes, and executed orders.
package dashboard

import (
	"log"
	"sync"
	"time"
)

// Event types pushed to clients.
const (
	EventTickResult   = "tick_result"
	EventAlertCreated = "alert_created"
	EventAlertDecided = "alert_decided"
	EventOrder        = "order_executed"
)

// Client represents a connected WebSocket client.
type Client struct {
	ID   string
	Send chan Message
}

// Message is the envelope for all messages sent to clients.
type Message struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

// Broadcaster manages WebSocket client connections and fans events out
// to all of them. Slow clients drop messages rather than blocking the
// trading loop.
type Broadcaster struct {
	mu        sync.RWMutex
	clients   map[*Client]bool
	broadcast chan Message
	shutdown  chan struct{}
	closeOnce sync.Once
	logger    *log.Logger
}

// NewBroadcaster creates a broadcaster. Call Run to start the fan-out
// loop.
func NewBroadcaster(logger *log.Logger) *Broadcaster {
	return &Broadcaster{
		clients:   make(map[*Client]bool),
		broadcast: make(chan Message, 256),
		shutdown:  make(chan struct{}),
		logger:    logger,
	}
}

// Run fans queued events out to clients until Shutdown is called.
func (b *Broadcaster) Run() {
	for {
		select {
		case <-b.shutdown:
			b.mu.Lock()
			for client := range b.clients {
				close(client.Send)
				delete(b.clients, client)
			}
			b.mu.Unlock()
			return
		case message := <-b.broadcast:
			b.mu.RLock()
			for client := range b.clients {
				select {
				case client.Send <- message:
				default:
					// Client cannot keep up; drop the message.
				}
			}
			b.mu.RUnlock()
		}
	}
}

// Register adds a client to the broadcast set.
func (b *Broadcaster) Register(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[client] = true
	b.logger.Printf("[dashboard] client connected: %s (%d total)", client.ID, len(b.clients))
}

// Unregister removes a client.
func (b *Broadcaster) Unregister(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.clients[client] {
		delete(b.clients, client)
		close(client.Send)
		b.logger.Printf("[dashboard] client disconnected: %s (%d total)", client.ID, len(b.clients))
	}
}

// Publish queues an event for broadcast. Never blocks the caller.
func (b *Broadcaster) Publish(eventType string, data any) {
	message := Message{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	select {
	case b.broadcast <- message:
	case <-b.shutdown:
	default:
		// Buffer full; dashboard traffic is best-effort.
	}
}

// Shutdown stops the fan-out loop and disconnects all clients.
func (b *Broadcaster) Shutdown() {
	b.closeOnce.Do(func() { close(b.shutdown) })
}
