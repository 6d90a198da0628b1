// Package api serves the read-only HTTP surface next to the WebSocket
// endpoint.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"familychat/pkg/interfaces"
	"familychat/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type Presence interface {
	Count() int
	CountByGroup() map[types.GroupID]int
}

type Rooms interface {
	Stats() map[string]int
}

type Snapshotter interface {
	Snapshot(ctx context.Context, group types.GroupID) ([]types.PresenceUser, error)
}

// Options mounts the non-JSON handlers. Nil handlers are left unmounted.
type Options struct {
	WebSocket http.Handler
	Metrics   http.Handler
}

// Server routes HTTP requests. It holds no state of its own beyond start
// time; every answer comes from the components it wraps.
type Server struct {
	presence Presence
	rooms    Rooms
	hub      Snapshotter
	store    interfaces.MessageStore
	router   *http.ServeMux
	started  time.Time
}

func NewServer(presence Presence, rooms Rooms, hub Snapshotter, store interfaces.MessageStore, opts Options) *Server {
	s := &Server{
		presence: presence,
		rooms:    rooms,
		hub:      hub,
		store:    store,
		router:   http.NewServeMux(),
		started:  time.Now(),
	}

	s.setupRoutes(opts)
	return s
}

func (s *Server) setupRoutes(opts Options) {
	s.router.Handle("GET /health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
	s.router.Handle("GET /api/groups", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.listGroups))))
	s.router.Handle("GET /api/groups/{group}/presence", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.groupPresence))))
	s.router.Handle("GET /api/groups/{group}/messages", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.groupMessages))))
	s.router.Handle("OPTIONS /api/", s.corsMiddleware(http.NotFoundHandler()))

	if opts.WebSocket != nil {
		s.router.Handle("/ws", opts.WebSocket)
	}
	if opts.Metrics != nil {
		s.router.Handle("GET /metrics", opts.Metrics)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type GroupSummary struct {
	ID     types.GroupID `json:"id"`
	Online int           `json:"online"`
}

type ListGroupsResponse struct {
	Groups []GroupSummary `json:"groups"`
}

type PresenceResponse struct {
	Group types.GroupID        `json:"group"`
	Users []types.PresenceUser `json:"users"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Store       string         `json:"store"`
	Connections map[string]int `json:"connections"`
	Uptime      string         `json:"uptime"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /api/groups lists the catalog with online counts. The reserved admins
// group is not listed.
func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	counts := s.presence.CountByGroup()
	groups := lo.FilterMap(types.Groups(), func(id types.GroupID, _ int) (GroupSummary, bool) {
		return GroupSummary{ID: id, Online: counts[id]}, !id.IsReserved()
	})
	s.sendJSON(w, http.StatusOK, ListGroupsResponse{Groups: groups})
}

// GET /api/groups/{group}/presence
func (s *Server) groupPresence(w http.ResponseWriter, r *http.Request) {
	group, ok := s.groupParam(w, r)
	if !ok {
		return
	}

	users, err := s.hub.Snapshot(r.Context(), group)
	if err != nil {
		s.sendError(w, "Failed to build presence", http.StatusInternalServerError)
		return
	}
	s.sendJSON(w, http.StatusOK, PresenceResponse{Group: group, Users: users})
}

// GET /api/groups/{group}/messages?limit=N
func (s *Server) groupMessages(w http.ResponseWriter, r *http.Request) {
	group, ok := s.groupParam(w, r)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			s.sendError(w, fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit), http.StatusBadRequest)
			return
		}
		limit = n
	}

	messages, err := s.store.ListRecent(r.Context(), group, limit)
	if err != nil {
		zap.S().Warnw("history query failed", "group", group, "error", err)
		s.sendError(w, "Failed to load messages", http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []*types.ChatMessage{}
	}
	s.sendJSON(w, http.StatusOK, types.HistoryPayload{Group: group, Messages: messages})
}

func (s *Server) groupParam(w http.ResponseWriter, r *http.Request) (types.GroupID, bool) {
	group, err := types.ParseGroup(r.PathValue("group"))
	if err != nil {
		s.sendError(w, "Group not found", http.StatusNotFound)
		return "", false
	}
	return group, true
}

// GET /health reports 503 when the store is unreachable.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, storeStatus, code := "healthy", "healthy", http.StatusOK
	if err := s.store.HealthCheck(ctx); err != nil {
		status, code = "unhealthy", http.StatusServiceUnavailable
		storeStatus = fmt.Sprintf("error: %v", err)
		if errors.Is(err, interfaces.ErrStoreClosed) {
			storeStatus = "closed"
		}
	}

	connections := s.rooms.Stats()
	connections["online_users"] = s.presence.Count()

	s.sendJSON(w, code, HealthResponse{
		Status:      status,
		Timestamp:   time.Now().UTC(),
		Store:       storeStatus,
		Connections: connections,
		Uptime:      time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.S().Debugw("response write failed", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
