// Package presence holds the authoritative record of which usernames are
// connected and to which group they are bound.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"familychat/pkg/types"
)

// Registry maps usernames to presence entries.
// Identity, not connection, is the unit of presence: the registry holds at
// most one entry per username and the last registration wins.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]types.PresenceEntry // username -> entry
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]types.PresenceEntry),
		now:     time.Now,
	}
}

// Register binds username to group for sessionID, replacing any prior entry
// for the same username regardless of its group. The superseded entry, if
// any, is returned so the caller can decide whether to evict its session.
func (r *Registry) Register(username string, group types.GroupID, sessionID string) (types.PresenceEntry, *types.PresenceEntry) {
	entry := types.PresenceEntry{
		Username:    username,
		Group:       group,
		SessionID:   sessionID,
		ConnectedAt: r.now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var previous *types.PresenceEntry
	if prior, exists := r.entries[username]; exists {
		previous = lo.ToPtr(prior)
	}
	r.entries[username] = entry

	return entry, previous
}

// Unregister removes the entry for username. Calling it for an unknown
// username, or twice in a row, is a no-op.
func (r *Registry) Unregister(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, username)
}

// UnregisterSession removes the entry for username only if it is still owned
// by sessionID. A superseded session closing late therefore never erases the
// binding of the session that replaced it. It reports whether an entry was removed.
func (r *Registry) UnregisterSession(username, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[username]
	if !exists || entry.SessionID != sessionID {
		return false
	}
	delete(r.entries, username)
	return true
}

// ListByGroup returns the usernames currently bound to group, sorted.
// The result is a point-in-time copy, not a live view.
func (r *Registry) ListByGroup(group types.GroupID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	usernames := make([]string, 0)
	for username, entry := range r.entries {
		if entry.Group == group {
			usernames = append(usernames, username)
		}
	}
	sort.Strings(usernames)
	return usernames
}

// Lookup returns the current entry for username.
func (r *Registry) Lookup(username string) (types.PresenceEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, exists := r.entries[username]
	return entry, exists
}

// Count returns the number of usernames online across all groups.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// CountByGroup returns the number of online usernames per group.
func (r *Registry) CountByGroup() map[types.GroupID]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[types.GroupID]int)
	for _, entry := range r.entries {
		counts[entry.Group]++
	}
	return counts
}
