package notify

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/geowatch/geowatch/internal/app/models"
)

var _ Notifier = (*Hub)(nil)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced at the HTTP layer.
		return true
	},
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 90 * time.Second
	maxMessageSize = 4 * 1024
)

// envelope is the wire frame every push shares.
type envelope struct {
	Type  string        `json:"type"` // "alert" or "reminder"
	Label string        `json:"label,omitempty"`
	Alert *models.Alert `json:"alert,omitempty"`
	Text  string        `json:"text,omitempty"`
}

// session is one user's WebSocket connection. Writes are serialized
// per connection; gorilla allows only one concurrent writer.
type session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *session) writeJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

// Hub tracks one live WebSocket session per user, keyed by external
// identifier. A reconnect replaces the previous session.
type Hub struct {
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*session
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

// ServeWS handles GET /v1/ws. It upgrades the connection and parks in a
// read loop until the client disconnects.
func (h *Hub) ServeWS(c *gin.Context) {
	externalID := c.Query("external_id")
	if externalID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "external_id is required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	s := &session{conn: conn}
	h.register(externalID, s)
	h.logger.Debug("WebSocket session opened", zap.String("externalID", externalID))

	defer func() {
		h.unregister(externalID, s)
		_ = conn.Close()
		h.logger.Debug("WebSocket session closed", zap.String("externalID", externalID))
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Inbound frames are ignored; the socket is push-only. The loop
	// exists to surface disconnects and service pings.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

func (h *Hub) register(externalID string, s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.sessions[externalID]; ok {
		_ = old.conn.Close()
	}
	h.sessions[externalID] = s
}

func (h *Hub) unregister(externalID string, s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	// Only drop the entry if it still points at this session; a
	// reconnect may already have replaced it.
	if cur, ok := h.sessions[externalID]; ok && cur == s {
		delete(h.sessions, externalID)
	}
}

func (h *Hub) get(externalID string) (*session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[externalID]
	return s, ok
}

// Connected reports whether the user currently holds a live session.
func (h *Hub) Connected(externalID string) bool {
	_, ok := h.get(externalID)
	return ok
}

func (h *Hub) DeliverAlert(ctx context.Context, to models.Subscriber, alert models.Alert) error {
	s, ok := h.get(to.ExternalID)
	if !ok {
		return fmt.Errorf("recipient %q not connected", to.ExternalID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.writeJSON(envelope{
		Type:  "alert",
		Label: alert.Category.Label(to.Language),
		Alert: &alert,
	})
}

func (h *Hub) DeliverReminder(ctx context.Context, externalID, text string) error {
	s, ok := h.get(externalID)
	if !ok {
		return fmt.Errorf("recipient %q not connected", externalID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.writeJSON(envelope{
		Type: "reminder",
		Text: text,
	})
}
