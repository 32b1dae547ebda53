package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/3O98/pgp-based-communication-app/internal/relay"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxMessageSize   = 4096
	maxEventsPerSec  = 20
	sendBufferFrames = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

var allowedOrigins []string

func SetAllowedOrigins(origins []string) {
	allowedOrigins = make([]string, len(origins))
	for i, o := range origins {
		allowedOrigins[i] = strings.TrimSpace(o)
	}
}

// checkOrigin enforces the configured https origin allowlist for browser
// clients. With no allowlist configured the check is skipped: native
// clients send no Origin header and transport security is the deployment's
// concern.
func checkOrigin(r *http.Request) bool {
	if len(allowedOrigins) == 0 {
		return true
	}

	normalizedOrigin, ok := normalizeHTTPSOrigin(r.Header.Get("Origin"))
	if !ok {
		return false
	}

	for _, allowed := range allowedOrigins {
		if strings.EqualFold(strings.TrimSpace(allowed), normalizedOrigin) {
			return true
		}
	}
	return false
}

func normalizeHTTPSOrigin(origin string) (string, bool) {
	originURL, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || originURL.Scheme == "" || originURL.Host == "" {
		return "", false
	}
	if !strings.EqualFold(originURL.Scheme, "https") {
		return "", false
	}
	if (originURL.Path != "" && originURL.Path != "/") || originURL.RawQuery != "" || originURL.Fragment != "" || originURL.User != nil {
		return "", false
	}
	return "https://" + strings.ToLower(originURL.Host), true
}

// wsChannel is one connected client's live channel. It satisfies
// presence.Channel; the writePump goroutine owns all writes to the
// underlying connection.
type wsChannel struct {
	connID string
	conn   *websocket.Conn
	send   chan []byte

	closeOnce sync.Once
	closed    chan struct{}

	eventCount int
	lastReset  time.Time
}

// Deliver queues payload for the write pump without blocking. A closed
// channel or a full buffer is an error for the caller to log; the relay
// never retries over this channel.
func (c *wsChannel) Deliver(payload []byte) error {
	select {
	case <-c.closed:
		return errors.New("channel closed")
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

func (c *wsChannel) shutdown() {
	c.closeOnce.Do(func() { close(c.closed) })
}

type WSHandler struct {
	Engine *relay.Engine
}

func NewWSHandler(engine *relay.Engine) *WSHandler {
	return &WSHandler{Engine: engine}
}

// clientEvent is the only inbound frame the server understands: a client
// binding its identity to this connection. Binding needs no acknowledgment.
type clientEvent struct {
	Type     string `json:"type"`
	Identity string `json:"identity"`
}

const eventBind = "bind"

func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade error", "error", err)
		return
	}

	ch := &wsChannel{
		connID:    uuid.New().String(),
		conn:      conn,
		send:      make(chan []byte, sendBufferFrames),
		closed:    make(chan struct{}),
		lastReset: time.Now(),
	}

	slog.Info("WebSocket connected", "conn_id", ch.connID, "remote_addr", r.RemoteAddr)

	go h.writePump(ch)
	h.readPump(ch)
}

func (h *WSHandler) readPump(ch *wsChannel) {
	defer func() {
		h.Engine.Unbind(ch)
		ch.shutdown()
		ch.conn.Close()
		slog.Info("WebSocket disconnected", "conn_id", ch.connID)
	}()

	ch.conn.SetReadLimit(maxMessageSize)
	ch.conn.SetReadDeadline(time.Now().Add(pongWait))
	ch.conn.SetPongHandler(func(string) error {
		ch.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := ch.conn.ReadMessage()
		if err != nil {
			return
		}

		if time.Since(ch.lastReset) > time.Second {
			ch.eventCount = 0
			ch.lastReset = time.Now()
		}
		ch.eventCount++
		if ch.eventCount > maxEventsPerSec {
			slog.Warn("WebSocket event rate limit exceeded", "conn_id", ch.connID)
			return
		}

		var event clientEvent
		if err := json.Unmarshal(frame, &event); err != nil {
			slog.Warn("Malformed WebSocket event", "conn_id", ch.connID, "error", err)
			continue
		}

		switch event.Type {
		case eventBind:
			if err := h.Engine.Bind(event.Identity, ch); err != nil {
				slog.Warn("Rejected channel bind", "conn_id", ch.connID, "error", err)
				continue
			}
			slog.Info("Channel bound", "conn_id", ch.connID, "identity", event.Identity)
		default:
			slog.Warn("Unknown WebSocket event type", "conn_id", ch.connID, "type", event.Type)
		}
	}
}

func (h *WSHandler) writePump(ch *wsChannel) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ch.conn.Close()
	}()

	for {
		select {
		case payload := <-ch.send:
			ch.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ch.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			ch.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ch.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-ch.closed:
			ch.conn.SetWriteDeadline(time.Now().Add(writeWait))
			ch.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
