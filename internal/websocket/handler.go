package websocket

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"familychat/internal/gateway"
)

// HandlerOptions configures the upgrade and the per-connection heartbeat.
type HandlerOptions struct {
	// AllowedOrigins lists hosts allowed to open a socket. "*" allows any
	// origin; requests without an Origin header are always accepted.
	AllowedOrigins  []string
	PingInterval    time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	SendBuffer      int
	MaxMessageBytes int64
}

func DefaultHandlerOptions() HandlerOptions {
	return HandlerOptions{
		AllowedOrigins:  []string{"*"},
		PingInterval:    30 * time.Second,
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    5 * time.Second,
		SendBuffer:      100,
		MaxMessageBytes: 64 * 1024,
	}
}

// Handler upgrades HTTP requests and feeds client frames to gateway sessions.
type Handler struct {
	gateway  *gateway.Gateway
	upgrader websocket.Upgrader
	opts     HandlerOptions
}

func NewHandler(gw *gateway.Gateway, opts HandlerOptions) *Handler {
	defaults := DefaultHandlerOptions()
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaults.PingInterval
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaults.ReadTimeout
	}
	if opts.ReadTimeout <= opts.PingInterval {
		opts.ReadTimeout = 2 * opts.PingInterval
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = defaults.MaxMessageBytes
	}

	h := &Handler{gateway: gw, opts: opts}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || lo.Contains(h.opts.AllowedOrigins, "*") {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return lo.Contains(h.opts.AllowedOrigins, u.Host) || lo.Contains(h.opts.AllowedOrigins, origin)
}

// HandleWebSocket upgrades the request and serves the connection until the
// client goes away. Identity is declared in-band, so the upgrade needs no
// query parameters.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.S().Warnw("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := NewConnection(ws, ConnectionOptions{
		SendBuffer:   h.opts.SendBuffer,
		WriteTimeout: h.opts.WriteTimeout,
	})
	session := h.gateway.Open(conn)

	zap.S().Debugw("websocket accepted", "session", conn.ID(), "remote", r.RemoteAddr)

	go h.handleConnection(conn, session)
}

// handleConnection runs the read pump. Its exit is the transport disconnect
// signal that closes the session.
func (h *Handler) handleConnection(conn *Connection, session *gateway.Session) {
	defer func() {
		session.Close()
		_ = conn.Close()
	}()

	conn.conn.SetReadLimit(h.opts.MaxMessageBytes)
	if err := conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	go h.heartbeat(conn)

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zap.S().Debugw("websocket read failed", "session", conn.ID(), "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		// Dispatch reports its own errors to the client.
		_ = session.Dispatch(data)
	}
}

func (h *Handler) heartbeat(conn *Connection) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				_ = conn.Close()
				return
			}
		case <-conn.Done():
			return
		}
	}
}
