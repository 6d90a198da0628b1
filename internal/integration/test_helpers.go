// Package integration runs the full stack over real WebSocket connections.
package integration

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"familychat/internal/api"
	"familychat/internal/database"
	"familychat/internal/gateway"
	"familychat/internal/hub"
	"familychat/internal/metrics"
	"familychat/internal/presence"
	"familychat/internal/router"
	ws "familychat/internal/websocket"
	dbconfig "familychat/pkg/database"
	"familychat/pkg/interfaces"
	"familychat/pkg/types"
)

const waitTimeout = 3 * time.Second

// ErrInjected is returned by a FlakyStore while failing.
var ErrInjected = errors.New("injected store failure")

// FlakyStore wraps a real store and fails appends on demand.
type FlakyStore struct {
	interfaces.MessageStore
	failing atomic.Bool
}

func (s *FlakyStore) SetFailing(failing bool) {
	s.failing.Store(failing)
}

func (s *FlakyStore) AppendMessage(ctx context.Context, message *types.ChatMessage) error {
	if s.failing.Load() {
		return ErrInjected
	}
	return s.MessageStore.AppendMessage(ctx, message)
}

// Harness is a running server backed by a temporary SQLite database.
type Harness struct {
	Server   *httptest.Server
	Presence *presence.Registry
	Router   *router.Router
	Store    *FlakyStore
	DB       *database.Manager
}

func NewHarness(t testing.TB, opts gateway.Options) *Harness {
	t.Helper()
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))))

	cfg := dbconfig.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "familychat.db")
	db, err := database.NewManager(cfg)
	require.NoError(t, err)

	h := &Harness{
		Presence: presence.NewRegistry(),
		Router:   router.NewRouter(),
		Store:    &FlakyStore{MessageStore: db},
		DB:       db,
	}

	m := metrics.New()
	engine := hub.NewHub(h.Router, h.Presence, h.Store, db, m, hub.Options{})
	require.NoError(t, engine.Start(context.Background()))

	gw := gateway.New(h.Presence, h.Router, engine, m, opts)
	handler := ws.NewHandler(gw, ws.HandlerOptions{})
	srv := api.NewServer(h.Presence, h.Router, engine, h.Store, api.Options{WebSocket: http.HandlerFunc(handler.HandleWebSocket)})

	h.Server = httptest.NewServer(srv)
	t.Cleanup(func() {
		h.Server.Close()
		_ = engine.Stop()
		_ = db.Close()
	})
	return h
}

// Client is one browser tab. A background reader queues every event.
type Client struct {
	t      testing.TB
	conn   *websocket.Conn
	events chan types.Envelope
	done   chan struct{}
}

func (h *Harness) Dial(t testing.TB) *Client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.Server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	c := &Client{t: t, conn: conn, events: make(chan types.Envelope, 256), done: make(chan struct{})}
	go c.readLoop()
	t.Cleanup(c.Close)
	return c
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := types.DecodeEnvelope(raw)
		if err != nil {
			continue
		}
		c.events <- env
	}
}

func (c *Client) Send(event string, data interface{}) {
	c.t.Helper()
	raw, err := types.Encode(types.NewEvent(event, data))
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, raw))
}

// Declare binds the client and waits for the acknowledgement.
func (c *Client) Declare(username string, group types.GroupID) types.IdentityBoundPayload {
	c.t.Helper()
	c.Send(types.EventDeclareIdentity, types.DeclareIdentityPayload{Username: username, Group: string(group)})

	var bound types.IdentityBoundPayload
	require.NoError(c.t, c.Expect(types.EventIdentityBound).DecodeData(&bound))
	return bound
}

// Expect returns the next event named event, skipping others.
func (c *Client) Expect(event string) types.Envelope {
	c.t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case env := <-c.events:
			if env.Event == event {
				return env
			}
		case <-deadline:
			c.t.Fatalf("timed out waiting for %s", event)
		}
	}
}

// ExpectPresence waits for a snapshot listing exactly names.
func (c *Client) ExpectPresence(names ...string) {
	c.t.Helper()
	deadline := time.After(waitTimeout)
	var last []string
	for {
		select {
		case env := <-c.events:
			if env.Event != types.EventPresenceSnapshot {
				continue
			}
			var users []types.PresenceUser
			require.NoError(c.t, env.DecodeData(&users))
			last = last[:0]
			for _, u := range users {
				last = append(last, u.Name)
			}
			if slices.Equal(last, names) {
				return
			}
		case <-deadline:
			c.t.Fatalf("timed out waiting for presence %v, last %v", names, last)
		}
	}
}

// ExpectNone fails if event arrives within d.
func (c *Client) ExpectNone(event string, d time.Duration) {
	c.t.Helper()
	deadline := time.After(d)
	for {
		select {
		case env := <-c.events:
			if env.Event == event {
				c.t.Fatalf("unexpected %s: %s", event, string(env.Data))
			}
		case <-deadline:
			return
		}
	}
}

func (c *Client) Close() {
	_ = c.conn.Close()
	<-c.done
}
