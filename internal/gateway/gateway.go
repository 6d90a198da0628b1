// Package gateway turns transport frames into presence and message
// operations. Each connection gets a Session that walks the
// Unidentified -> Bound -> Closed state machine.
package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"familychat/internal/metrics"
	"familychat/internal/presence"
	"familychat/internal/router"
	"familychat/pkg/interfaces"
	"familychat/pkg/types"
)

// Broadcaster is the part of the broadcast engine sessions drive.
type Broadcaster interface {
	RefreshPresence(group types.GroupID) error
	Publish(message *types.ChatMessage, origin interfaces.Connection) error
	DeliverTyping(group types.GroupID, username string, isTyping bool, originSessionID string) error
	AnnouncePeer(group types.GroupID, username string, joined bool) error
	SendHistory(conn interfaces.Connection, group types.GroupID, limit int) error
}

type Options struct {
	// HistoryLimit is how many recent messages a session gets after binding.
	// Zero disables history replay.
	HistoryLimit int
	// MaxBodyLength caps message bodies in runes. Zero disables the cap.
	MaxBodyLength int
	// MessagesPerMinute is the per-username send budget. Zero disables it.
	MessagesPerMinute int
	// EvictSuperseded closes a session whose username was claimed by a
	// newer session. When false both sessions stay open and only the newer
	// one is visible in presence.
	EvictSuperseded bool
}

func DefaultOptions() Options {
	return Options{
		HistoryLimit:      50,
		MaxBodyLength:     4000,
		MessagesPerMinute: 60,
	}
}

// Gateway owns the collaborators every session needs.
type Gateway struct {
	presence *presence.Registry
	router   *router.Router
	hub      Broadcaster
	limiter  *router.RateLimiter
	metrics  *metrics.Metrics
	opts     Options

	newID func() string
	now   func() time.Time
}

func New(registry *presence.Registry, rt *router.Router, hub Broadcaster, m *metrics.Metrics, opts Options) *Gateway {
	if m == nil {
		m = metrics.New()
	}
	return &Gateway{
		presence: registry,
		router:   rt,
		hub:      hub,
		limiter:  router.NewRateLimiter(opts.MessagesPerMinute, time.Minute),
		metrics:  m,
		opts:     opts,
		newID:    func() string { return uuid.New().String() },
		now:      time.Now,
	}
}

// Open starts a session for a freshly accepted connection.
func (g *Gateway) Open(conn interfaces.Connection) *Session {
	g.metrics.SessionsOpen.Inc()
	zap.S().Debugw("session opened", "session", conn.ID())
	return &Session{gw: g, conn: conn, state: StateUnidentified}
}

// Run sweeps idle rate-limit state until ctx is done.
func (g *Gateway) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.limiter.Cleanup()
		case <-ctx.Done():
			return
		}
	}
}

// supersede handles the older session of a username that just re-bound.
func (g *Gateway) supersede(previous types.PresenceEntry, by string) {
	if !g.opts.EvictSuperseded {
		zap.S().Infow("identity superseded",
			"user", previous.Username,
			"session", previous.SessionID,
			"by", by,
		)
		return
	}

	conn, ok := g.router.Connection(previous.SessionID)
	if !ok {
		return
	}

	zap.S().Infow("evicting superseded session",
		"user", previous.Username,
		"session", previous.SessionID,
		"by", by,
	)
	go func() {
		_ = conn.WriteJSON(types.NewEvent(types.EventDomainError, types.ReasonPayload{
			Reason: "signed in from another connection",
		}))
		if err := conn.Close(); err != nil {
			zap.S().Debugw("closing superseded session", "session", previous.SessionID, "error", err)
		}
	}()
}
