package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"familychat/internal/hub"
	"familychat/internal/metrics"
	"familychat/internal/mocks"
	"familychat/internal/presence"
	"familychat/internal/router"
	"familychat/internal/testutil"
	"familychat/pkg/interfaces"
	"familychat/pkg/types"
)

type serverFixture struct {
	server   *Server
	presence *presence.Registry
	router   *router.Router
	store    *mocks.MockMessageStore
}

func newServerFixture(t *testing.T, opts Options) *serverFixture {
	t.Helper()
	ctrl := gomock.NewController(t)

	f := &serverFixture{
		presence: presence.NewRegistry(),
		router:   router.NewRouter(),
		store:    mocks.NewMockMessageStore(ctrl),
	}
	h := hub.NewHub(f.router, f.presence, f.store, nil, metrics.New(), hub.Options{})
	f.server = NewServer(f.presence, f.router, h, f.store, opts)
	return f
}

func (f *serverFixture) do(method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestServer_Health(t *testing.T) {
	req := require.New(t)
	f := newServerFixture(t, Options{})
	f.presence.Register("alice", types.GroupChoir, "s1")
	req.NoError(f.router.Join(testutil.NewRecordingConn("s1"), types.GroupChoir))

	f.store.EXPECT().HealthCheck(gomock.Any()).Return(nil)
	w := f.do(http.MethodGet, "/health")
	req.Equal(http.StatusOK, w.Code)

	var health HealthResponse
	decode(t, w, &health)
	req.Equal("healthy", health.Status)
	req.Equal(1, health.Connections["online_users"])
	req.Equal(1, health.Connections["joined_sessions"])
	req.Equal("*", w.Header().Get("Access-Control-Allow-Origin"))

	f.store.EXPECT().HealthCheck(gomock.Any()).Return(interfaces.ErrStoreClosed)
	w = f.do(http.MethodGet, "/health")
	req.Equal(http.StatusServiceUnavailable, w.Code)
	decode(t, w, &health)
	req.Equal("unhealthy", health.Status)
	req.Equal("closed", health.Store)
}

func TestServer_ListGroups(t *testing.T) {
	req := require.New(t)
	f := newServerFixture(t, Options{})
	f.presence.Register("alice", types.GroupChoir, "s1")
	f.presence.Register("bob", types.GroupChoir, "s2")
	f.presence.Register("carol", types.GroupYouth, "s3")

	w := f.do(http.MethodGet, "/api/groups")
	req.Equal(http.StatusOK, w.Code)

	var resp ListGroupsResponse
	decode(t, w, &resp)
	req.Len(resp.Groups, len(types.Groups())-1)

	online := map[types.GroupID]int{}
	for _, g := range resp.Groups {
		req.NotEqual(types.GroupAdmins, g.ID)
		online[g.ID] = g.Online
	}
	req.Equal(2, online[types.GroupChoir])
	req.Equal(1, online[types.GroupYouth])
	req.Equal(0, online[types.GroupMedia])
}

func TestServer_GroupPresence(t *testing.T) {
	req := require.New(t)
	f := newServerFixture(t, Options{})
	f.presence.Register("bob", types.GroupElders, "s1")
	f.presence.Register("alice", types.GroupElders, "s2")

	w := f.do(http.MethodGet, "/api/groups/elders/presence")
	req.Equal(http.StatusOK, w.Code)

	var resp PresenceResponse
	decode(t, w, &resp)
	req.Equal(types.GroupElders, resp.Group)
	req.Equal([]types.PresenceUser{
		{Name: "alice", IsOnline: true},
		{Name: "bob", IsOnline: true},
	}, resp.Users)

	w = f.do(http.MethodGet, "/api/groups/lobby/presence")
	req.Equal(http.StatusNotFound, w.Code)
}

func TestServer_GroupMessages(t *testing.T) {
	req := require.New(t)
	f := newServerFixture(t, Options{})

	stored := []*types.ChatMessage{{
		ID: "m1", Sender: "alice", Body: "hi", Kind: "text", Group: types.GroupPrayer,
		Timestamp: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
	}}
	f.store.EXPECT().ListRecent(gomock.Any(), types.GroupPrayer, 10).Return(stored, nil)

	w := f.do(http.MethodGet, "/api/groups/prayer/messages?limit=10")
	req.Equal(http.StatusOK, w.Code)

	var resp types.HistoryPayload
	decode(t, w, &resp)
	req.Equal(types.GroupPrayer, resp.Group)
	req.Len(resp.Messages, 1)
	req.Equal("hi", resp.Messages[0].Body)

	f.store.EXPECT().ListRecent(gomock.Any(), types.GroupPrayer, defaultHistoryLimit).Return(nil, nil)
	w = f.do(http.MethodGet, "/api/groups/prayer/messages")
	req.Equal(http.StatusOK, w.Code)
	decode(t, w, &resp)
	req.NotNil(resp.Messages)
	req.Empty(resp.Messages)

	for _, bad := range []string{"0", "-3", "abc", "501"} {
		w = f.do(http.MethodGet, "/api/groups/prayer/messages?limit="+bad)
		req.Equal(http.StatusBadRequest, w.Code, "limit=%s", bad)
	}

	f.store.EXPECT().ListRecent(gomock.Any(), types.GroupMedia, defaultHistoryLimit).Return(nil, errors.New("disk on fire"))
	w = f.do(http.MethodGet, "/api/groups/media/messages")
	req.Equal(http.StatusInternalServerError, w.Code)

	var apiErr ErrorResponse
	decode(t, w, &apiErr)
	req.Equal("Failed to load messages", apiErr.Message)
}

func TestServer_PreflightAndMethods(t *testing.T) {
	req := require.New(t)
	f := newServerFixture(t, Options{})

	w := f.do(http.MethodOptions, "/api/groups/choir/messages")
	req.Equal(http.StatusOK, w.Code)
	req.Equal("GET, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))

	w = f.do(http.MethodPost, "/api/groups")
	req.Equal(http.StatusMethodNotAllowed, w.Code)
}

func TestServer_MountsOptionalHandlers(t *testing.T) {
	req := require.New(t)
	ws := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	f := newServerFixture(t, Options{WebSocket: ws, Metrics: metrics.New().Handler()})

	req.Equal(http.StatusTeapot, f.do(http.MethodGet, "/ws").Code)

	w := f.do(http.MethodGet, "/metrics")
	req.Equal(http.StatusOK, w.Code)
	req.Contains(w.Body.String(), "familychat_sessions_open")

	bare := newServerFixture(t, Options{})
	req.Equal(http.StatusNotFound, bare.do(http.MethodGet, "/metrics").Code)
}
