package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"grimm.is/toggled/internal/events"
	"grimm.is/toggled/internal/logging"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Enforce same-origin for browser clients (cross-site websocket hijacking).
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if strings.Contains(origin, "://localhost:") || strings.Contains(origin, "://127.0.0.1:") {
			return true
		}
		host := r.Host
		if rest, ok := strings.CutPrefix(origin, "http://"); ok {
			return rest == host
		}
		if rest, ok := strings.CutPrefix(origin, "https://"); ok {
			return rest == host
		}
		return false
	},
}

// WSMessage is a topic-based message sent to clients.
type WSMessage struct {
	Topic     events.EventType `json:"topic"`
	Timestamp time.Time        `json:"timestamp"`
	Data      any              `json:"data"`
}

// WSManager tracks websocket clients so they can be closed on shutdown.
type WSManager struct {
	hub    *events.Hub
	logger *logging.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	closed  bool
}

// NewWSManager creates a manager streaming events from hub.
func NewWSManager(hub *events.Hub, logger *logging.Logger) *WSManager {
	return &WSManager{
		hub:     hub,
		logger:  logger,
		clients: make(map[*websocket.Conn]struct{}),
	}
}

func (m *WSManager) add(conn *websocket.Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.clients[conn] = struct{}{}
	return true
}

func (m *WSManager) remove(conn *websocket.Conn) {
	m.mu.Lock()
	delete(m.clients, conn)
	m.mu.Unlock()
	conn.Close()
}

// Count returns the number of connected clients.
func (m *WSManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// Close disconnects every client and refuses new ones.
func (m *WSManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for conn := range m.clients {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
	}
}

// handleEventsWS streams hub events. ?types=toggle.state,snapshot.updated
// limits the stream; no filter streams everything.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.ws == nil {
		WriteError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}

	var types []events.EventType
	if v := r.URL.Query().Get("types"); v != "" {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, events.EventType(t))
			}
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	if !s.ws.add(conn) {
		conn.Close()
		return
	}
	defer s.ws.remove(conn)

	sub := s.hub.Subscribe(wsBuffer, types...)
	defer s.hub.Unsubscribe(sub)

	// The read side only handles pongs and notices the peer leaving.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case e := <-sub:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(WSMessage{Topic: e.Type, Timestamp: e.Timestamp, Data: e.Data}); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
