// Package hub is the broadcast engine: it composes presence snapshots and
// message envelopes and pushes them to every session in a group room.
package hub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"familychat/internal/metrics"
	"familychat/pkg/interfaces"
	"familychat/pkg/types"
)

// Members is the view of the room router the engine fans out over.
type Members interface {
	Connections(group types.GroupID) []interfaces.Connection
}

// Presence is the view of the presence registry used to build snapshots.
type Presence interface {
	ListByGroup(group types.GroupID) []string
}

// Options tunes the engine.
type Options struct {
	StoreTimeout    time.Duration
	ResolverTimeout time.Duration
	QueueSize       int
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		StoreTimeout:    5 * time.Second,
		ResolverTimeout: 2 * time.Second,
		QueueSize:       256,
	}
}

// job runs on a room's delivery loop.
type job func(ctx context.Context)

// room is the per-group delivery state. Everything fanned out into a group
// goes through its queue, so deliveries within one room keep their order.
type room struct {
	group types.GroupID
	queue chan job

	snapMu    sync.Mutex
	issued    uint64        // last snapshot sequence handed out, guarded by snapMu
	delivered atomic.Uint64 // last snapshot sequence pushed, written by the loop only
}

// Hub runs one delivery loop per catalog group.
type Hub struct {
	members  Members
	presence Presence
	store    interfaces.MessageStore
	resolver interfaces.IdentityResolver
	metrics  *metrics.Metrics
	opts     Options

	rooms           map[types.GroupID]*room
	shutdownChannel chan struct{}
	loops           sync.WaitGroup
	refreshes       sync.WaitGroup

	ctx     context.Context
	running bool
	mu      sync.RWMutex
}

// NewHub creates an engine. resolver may be nil, in which case snapshots
// carry no avatars.
func NewHub(members Members, presence Presence, store interfaces.MessageStore, resolver interfaces.IdentityResolver, m *metrics.Metrics, opts Options) *Hub {
	defaults := DefaultOptions()
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaults.StoreTimeout
	}
	if opts.ResolverTimeout <= 0 {
		opts.ResolverTimeout = defaults.ResolverTimeout
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaults.QueueSize
	}
	if m == nil {
		m = metrics.New()
	}

	rooms := make(map[types.GroupID]*room)
	for _, group := range types.Groups() {
		rooms[group] = &room{group: group, queue: make(chan job, opts.QueueSize)}
	}

	return &Hub{
		members:         members,
		presence:        presence,
		store:           store,
		resolver:        resolver,
		metrics:         m,
		opts:            opts,
		rooms:           rooms,
		shutdownChannel: make(chan struct{}),
	}
}

// Start launches the room loops.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	select {
	case <-h.shutdownChannel:
		return ErrHubStopped
	default:
	}

	h.running = true
	h.ctx = ctx

	for _, r := range h.rooms {
		h.loops.Add(1)
		go h.run(ctx, r)
	}

	zap.S().Infow("broadcast engine started", "rooms", len(h.rooms))
	return nil
}

// Stop shuts the loops down and waits for them to exit. Queued jobs that
// have not started are dropped.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	h.mu.Unlock()

	h.refreshes.Wait()
	h.loops.Wait()

	zap.S().Infow("broadcast engine stopped")
	return nil
}

func (h *Hub) run(ctx context.Context, r *room) {
	defer h.loops.Done()

	for {
		select {
		case j := <-r.queue:
			j(ctx)
		case <-h.shutdownChannel:
			return
		case <-ctx.Done():
			return
		}
	}
}

// enqueue hands j to the loop of group, blocking while the queue is full.
func (h *Hub) enqueue(group types.GroupID, j job) error {
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		return ErrHubNotRunning
	}

	r, exists := h.rooms[group]
	if !exists {
		return types.ErrUnknownGroup
	}

	select {
	case r.queue <- j:
		return nil
	case <-h.shutdownChannel:
		return ErrHubNotRunning
	}
}

// Flush blocks until every job queued on group before the call has run.
func (h *Hub) Flush(ctx context.Context, group types.GroupID) error {
	done := make(chan struct{})
	if err := h.enqueue(group, func(context.Context) { close(done) }); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.shutdownChannel:
		return ErrHubNotRunning
	}
}

// Publish persists message and, once the store has accepted it, delivers it
// to the whole room. If persistence fails only origin is told, with a
// message-error; nothing unpersisted is ever fanned out and nothing is retried.
func (h *Hub) Publish(message *types.ChatMessage, origin interfaces.Connection) error {
	if message == nil {
		return ErrNilMessage
	}
	return h.enqueue(message.Group, func(ctx context.Context) {
		if err := h.persist(ctx, message); err != nil {
			zap.S().Warnw("message not persisted",
				"group", message.Group,
				"sender", message.Sender,
				"message", message.ID,
				"error", err,
			)
			h.metrics.MessagesFailed.WithLabelValues("store").Inc()
			if origin != nil {
				h.write(origin, types.NewEvent(types.EventMessageError, types.ReasonPayload{
					Reason: "message could not be saved",
				}))
			}
			return
		}
		h.deliverMessage(message)
	})
}

// persist appends message, bounded by the store timeout even if the store
// ignores its context.
func (h *Hub) persist(ctx context.Context, message *types.ChatMessage) error {
	if h.store == nil {
		return ErrNoStore
	}

	storeCtx, cancel := context.WithTimeout(ctx, h.opts.StoreTimeout)
	defer cancel()

	start := time.Now()
	result := make(chan error, 1)
	go func() { result <- h.store.AppendMessage(storeCtx, message) }()

	var err error
	select {
	case err = <-result:
	case <-storeCtx.Done():
		err = storeCtx.Err()
	}
	h.metrics.StoreAppendSeconds.Observe(time.Since(start).Seconds())

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrStoreTimeout
	}
	return err
}

// DeliverMessage pushes an already persisted message to every session in
// its room, the sender included.
func (h *Hub) DeliverMessage(message *types.ChatMessage) error {
	if message == nil {
		return ErrNilMessage
	}
	return h.enqueue(message.Group, func(context.Context) {
		h.deliverMessage(message)
	})
}

func (h *Hub) deliverMessage(message *types.ChatMessage) {
	h.fanout(message.Group, types.NewEvent(types.EventMessageDelivered, message), "")
	h.metrics.MessagesDelivered.WithLabelValues(message.Group.String()).Inc()
}

// DeliverTyping pushes a typing indicator to every session in the room
// except the one it came from.
func (h *Hub) DeliverTyping(group types.GroupID, username string, isTyping bool, originSessionID string) error {
	event := types.NewEvent(types.EventTypingIndicator, types.TypingPayload{User: username, IsTyping: isTyping})
	return h.enqueue(group, func(context.Context) {
		h.fanout(group, event, originSessionID)
	})
}

// AnnouncePeer tells the room that username joined or left.
func (h *Hub) AnnouncePeer(group types.GroupID, username string, joined bool) error {
	name := types.EventPeerLeft
	if joined {
		name = types.EventPeerJoined
	}
	event := types.NewEvent(name, types.PeerPayload{User: username})
	return h.enqueue(group, func(context.Context) {
		h.fanout(group, event, "")
	})
}

// SendHistory queues the group's recent messages for conn alone. It runs on
// the room loop, so it cannot interleave with a message being fanned out;
// a message delivered between the join and this job may appear twice and
// clients dedupe by message ID.
func (h *Hub) SendHistory(conn interfaces.Connection, group types.GroupID, limit int) error {
	if limit <= 0 || h.store == nil {
		return nil
	}
	return h.enqueue(group, func(ctx context.Context) {
		storeCtx, cancel := context.WithTimeout(ctx, h.opts.StoreTimeout)
		defer cancel()

		messages, err := h.store.ListRecent(storeCtx, group, limit)
		if err != nil {
			zap.S().Warnw("history unavailable", "group", group, "session", conn.ID(), "error", err)
			h.write(conn, types.NewEvent(types.EventDomainError, types.ReasonPayload{
				Reason: "message history unavailable",
			}))
			return
		}
		if messages == nil {
			messages = []*types.ChatMessage{}
		}
		h.write(conn, types.NewEvent(types.EventMessageHistory, types.HistoryPayload{
			Group:    group,
			Messages: messages,
		}))
	})
}

// RefreshPresence recomputes the group's presence snapshot and pushes it to
// every session in the room. The username list is captured synchronously;
// avatars are resolved off the room loop. Snapshots older than one already
// delivered are discarded, so the last snapshot a room sees always reflects
// the most recent registry read.
func (h *Hub) RefreshPresence(group types.GroupID) error {
	r, exists := h.rooms[group]
	if !exists {
		return types.ErrUnknownGroup
	}

	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ErrHubNotRunning
	}
	ctx := h.ctx
	h.refreshes.Add(1)
	h.mu.RUnlock()

	r.snapMu.Lock()
	r.issued++
	seq := r.issued
	usernames := h.presence.ListByGroup(group)
	r.snapMu.Unlock()

	go func() {
		defer h.refreshes.Done()

		users := h.resolve(ctx, group, usernames)
		err := h.enqueue(group, func(context.Context) {
			if seq <= r.delivered.Load() {
				return
			}
			r.delivered.Store(seq)
			h.fanout(group, types.NewEvent(types.EventPresenceSnapshot, users), "")
			h.metrics.PresenceRefreshes.WithLabelValues(group.String()).Inc()
		})
		if err != nil && !errors.Is(err, ErrHubNotRunning) {
			zap.S().Warnw("presence refresh dropped", "group", group, "error", err)
		}
	}()

	return nil
}

// Snapshot builds the current presence list of group without pushing it.
func (h *Hub) Snapshot(ctx context.Context, group types.GroupID) ([]types.PresenceUser, error) {
	if !types.IsValidGroup(group) {
		return nil, types.ErrUnknownGroup
	}
	return h.resolve(ctx, group, h.presence.ListByGroup(group)), nil
}

// resolve turns usernames into presence rows. Lookups run concurrently and a
// failed lookup only costs that user its avatar.
func (h *Hub) resolve(ctx context.Context, group types.GroupID, usernames []string) []types.PresenceUser {
	users := make([]types.PresenceUser, len(usernames))
	var wg sync.WaitGroup

	for i, username := range usernames {
		users[i] = types.PresenceUser{Name: username, IsOnline: true}
		if h.resolver == nil {
			continue
		}

		wg.Add(1)
		go func(i int, username string) {
			defer wg.Done()

			lookupCtx, cancel := context.WithTimeout(ctx, h.opts.ResolverTimeout)
			defer cancel()

			profile, err := h.resolver.Resolve(lookupCtx, username, group)
			if err != nil {
				if !errors.Is(err, interfaces.ErrUserNotFound) {
					zap.S().Debugw("identity lookup failed", "user", username, "group", group, "error", err)
				}
				h.metrics.ResolverFailures.Inc()
				return
			}
			if profile == nil {
				return
			}
			users[i].DisplayName = profile.DisplayName
			users[i].Avatar = profile.AvatarRef
		}(i, username)
	}

	wg.Wait()
	return users
}

// fanout writes event to every connection in the room except exceptSession.
// A failing connection does not stop delivery to the others.
func (h *Hub) fanout(group types.GroupID, event types.OutboundEvent, exceptSession string) {
	for _, conn := range h.members.Connections(group) {
		if exceptSession != "" && conn.ID() == exceptSession {
			continue
		}
		h.write(conn, event)
	}
}

func (h *Hub) write(conn interfaces.Connection, event types.OutboundEvent) {
	if err := conn.WriteJSON(event); err != nil {
		zap.S().Debugw("delivery failed", "session", conn.ID(), "event", event.Event, "error", err)
	}
}
