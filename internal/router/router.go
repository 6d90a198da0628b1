// Package router tracks which live sessions are subscribed to which group
// room. It is the dispatch table the broadcast engine fans out over.
package router

import (
	"sort"
	"sync"

	"github.com/samber/lo"

	"familychat/pkg/interfaces"
	"familychat/pkg/types"
)

// Router maps groups to the set of sessions joined to them.
// A session belongs to at most one room; re-joining is rejected rather than
// silently re-bound, so a group change always goes through disconnect and
// reconnect.
type Router struct {
	mu       sync.RWMutex
	rooms    map[types.GroupID]map[string]interfaces.Connection // group -> sessionID -> conn
	sessions map[string]types.GroupID                           // sessionID -> group
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{
		rooms:    make(map[types.GroupID]map[string]interfaces.Connection),
		sessions: make(map[string]types.GroupID),
	}
}

// Join subscribes conn to the room of group.
func (r *Router) Join(conn interfaces.Connection, group types.GroupID) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !types.IsValidGroup(group) {
		return types.ErrUnknownGroup
	}

	sessionID := conn.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, joined := r.sessions[sessionID]; joined {
		return ErrAlreadyJoined
	}

	if r.rooms[group] == nil {
		r.rooms[group] = make(map[string]interfaces.Connection)
	}
	r.rooms[group][sessionID] = conn
	r.sessions[sessionID] = group

	return nil
}

// Leave removes the session from whatever room it was in. It is a no-op for
// sessions that never joined and reports whether anything was removed.
func (r *Router) Leave(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	group, joined := r.sessions[sessionID]
	if !joined {
		return false
	}
	delete(r.sessions, sessionID)

	if members, exists := r.rooms[group]; exists {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(r.rooms, group)
		}
	}
	return true
}

// MembersOf returns the session IDs subscribed to group, sorted.
func (r *Router) MembersOf(group types.GroupID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := lo.Keys(r.rooms[group])
	sort.Strings(members)
	return members
}

// Connections returns the connections subscribed to group.
// The slice is a snapshot; writes happen without holding the router lock.
func (r *Router) Connections(group types.GroupID) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Values(r.rooms[group])
}

// Connection returns the joined connection for sessionID.
func (r *Router) Connection(sessionID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	group, joined := r.sessions[sessionID]
	if !joined {
		return nil, false
	}
	conn, exists := r.rooms[group][sessionID]
	return conn, exists
}

// GroupOf returns the room a session is joined to.
func (r *Router) GroupOf(sessionID string) (types.GroupID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	group, joined := r.sessions[sessionID]
	return group, joined
}

// Stats returns router statistics for monitoring.
func (r *Router) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"joined_sessions": len(r.sessions),
		"active_rooms":    len(r.rooms),
	}
}
