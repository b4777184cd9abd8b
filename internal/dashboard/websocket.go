// WebSocket endpoint serving the broadcaster to front-end clients.
package dashboard

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	pingPeriod   = 30 * time.Second
	pongWait     = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served on an internal port; origin checks are the
	// reverse proxy's job.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// Server exposes the broadcaster over /ws plus a /health endpoint.
type Server struct {
	broadcaster *Broadcaster
	logger      *log.Logger
	srv         *http.Server
}

// NewServer creates a dashboard server listening on addr when started.
func NewServer(addr string, broadcaster *Broadcaster, logger *log.Logger) *Server {
	s := &Server{
		broadcaster: broadcaster,
		logger:      logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status":"ok"}`)
	})

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // WebSocket connections manage their own deadlines.
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	s.logger.Printf("[dashboard] serving websocket on %s/ws", s.srv.Addr)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("[dashboard] server error: %v", err)
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("[dashboard] websocket upgrade failed: %v", err)
		return
	}
	defer ws.Close()

	client := &Client{
		ID:   r.RemoteAddr,
		Send: make(chan Message, 256),
	}
	s.broadcaster.Register(client)
	defer s.broadcaster.Unregister(client)

	go s.writePump(ws, client)
	s.readPump(ws)
}

// writePump sends broadcast messages and keepalive pings to one client.
func (s *Server) writePump(ws *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteJSON(message); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					s.logger.Printf("[dashboard] write error for %s: %v", client.ID, err)
				}
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames to detect disconnects and answer pings.
func (s *Server) readPump(ws *websocket.Conn) {
	ws.SetReadLimit(512)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}
