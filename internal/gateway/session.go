package gateway

import (
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"familychat/internal/router"
	"familychat/pkg/interfaces"
	"familychat/pkg/types"
)

type State int

const (
	StateUnidentified State = iota
	StateBound
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnidentified:
		return "unidentified"
	case StateBound:
		return "bound"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the per-connection state machine. Handlers run to completion
// under the session lock, so a session's own state changes never interleave.
type Session struct {
	gw   *Gateway
	conn interfaces.Connection

	mu       sync.Mutex
	state    State
	username string
	group    types.GroupID
}

func (s *Session) ID() string { return s.conn.ID() }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Identity returns the bound username and group.
func (s *Session) Identity() (string, types.GroupID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username, s.group, s.state == StateBound
}

// Dispatch decodes a raw client frame and handles it. Errors have already
// been reported to the client when Dispatch returns them.
func (s *Session) Dispatch(raw []byte) error {
	cmd, err := ParseCommand(raw)
	if err != nil {
		s.gw.metrics.DomainErrors.WithLabelValues("invalid").Inc()
		s.reply(types.EventDomainError, err)
		return err
	}
	return s.Handle(cmd)
}

// Handle applies cmd to the session. A command the current state does not
// accept is rejected and leaves the state unchanged.
func (s *Session) Handle(cmd Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	switch s.state {
	case StateUnidentified:
		err = s.handleUnidentified(cmd)
	case StateBound:
		err = s.handleBound(cmd)
	default:
		return ErrSessionClosed
	}

	if err != nil {
		s.reject(cmd, err)
	}
	return err
}

func (s *Session) handleUnidentified(cmd Command) error {
	switch c := cmd.(type) {
	case DeclareIdentity:
		return s.bind(c)
	case SendMessage, TypingStart, TypingStop:
		return ErrNotIdentified
	default:
		return ErrUnknownEvent
	}
}

func (s *Session) handleBound(cmd Command) error {
	switch c := cmd.(type) {
	case DeclareIdentity:
		return ErrAlreadyIdentified
	case SendMessage:
		return s.send(c)
	case TypingStart:
		return s.gw.hub.DeliverTyping(s.group, s.username, true, s.ID())
	case TypingStop:
		return s.gw.hub.DeliverTyping(s.group, s.username, false, s.ID())
	default:
		return ErrUnknownEvent
	}
}

func (s *Session) bind(c DeclareIdentity) error {
	username := strings.TrimSpace(c.Username)
	if !types.IsValidUsername(username) {
		return types.ErrInvalidUsername
	}
	group, err := types.ParseGroup(c.Group)
	if err != nil {
		return err
	}

	if err := s.gw.router.Join(s.conn, group); err != nil {
		return err
	}
	_, previous := s.gw.presence.Register(username, group, s.ID())

	s.state = StateBound
	s.username = username
	s.group = group
	s.gw.metrics.SessionsBound.Inc()

	zap.S().Infow("identity bound", "session", s.ID(), "user", username, "group", group)

	s.write(types.NewEvent(types.EventIdentityBound, types.IdentityBoundPayload{
		User:      username,
		Group:     group,
		SessionID: s.ID(),
	}))

	if previous != nil && previous.SessionID != s.ID() {
		s.gw.supersede(*previous, s.ID())
	}

	s.engine(s.gw.hub.AnnouncePeer(group, username, true))
	s.engine(s.gw.hub.RefreshPresence(group))
	if previous != nil && previous.Group != group {
		s.engine(s.gw.hub.RefreshPresence(previous.Group))
	}
	s.engine(s.gw.hub.SendHistory(s.conn, group, s.gw.opts.HistoryLimit))

	return nil
}

func (s *Session) send(c SendMessage) error {
	if c.Group != "" && types.GroupID(c.Group) != s.group {
		return ErrGroupMismatch
	}

	message := &types.ChatMessage{
		ID:             s.gw.newID(),
		Sender:         s.username,
		Body:           c.Body,
		Kind:           c.Kind,
		Group:          s.group,
		Timestamp:      s.gw.now().UTC(),
		VoiceNote:      c.VoiceNote,
		FileAttachment: c.FileAttachment,
	}
	if message.IsEmpty() {
		return ErrEmptyMessage
	}
	if err := message.Validate(s.gw.opts.MaxBodyLength); err != nil {
		return err
	}
	if !s.gw.limiter.Allow(s.username) {
		return router.ErrRateLimitExceeded
	}

	return s.gw.hub.Publish(message, s.conn)
}

// Close moves the session to Closed. It is driven by the transport going
// away and is safe to call more than once. A session closed before binding
// has nothing to clean up.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}
	previous := s.state
	s.state = StateClosed
	s.gw.metrics.SessionsOpen.Dec()

	if previous != StateBound {
		zap.S().Debugw("session closed before binding", "session", s.ID())
		return
	}

	s.gw.router.Leave(s.ID())
	owned := s.gw.presence.UnregisterSession(s.username, s.ID())
	s.gw.metrics.SessionsBound.Dec()

	zap.S().Infow("session closed", "session", s.ID(), "user", s.username, "group", s.group, "owned", owned)

	if owned {
		s.engine(s.gw.hub.AnnouncePeer(s.group, s.username, false))
	}
	s.engine(s.gw.hub.RefreshPresence(s.group))
}

// reject reports err to the client. Send failures go out as message-error,
// everything else as domain-error.
func (s *Session) reject(cmd Command, err error) {
	event := types.EventDomainError
	if _, ok := cmd.(SendMessage); ok && s.state == StateBound {
		event = types.EventMessageError
		s.gw.metrics.MessagesFailed.WithLabelValues(failureReason(err)).Inc()
	} else {
		s.gw.metrics.DomainErrors.WithLabelValues(cmd.Event()).Inc()
	}

	zap.S().Debugw("command rejected", "session", s.ID(), "event", cmd.Event(), "state", s.state, "error", err)
	s.reply(event, err)
}

func (s *Session) reply(event string, err error) {
	s.write(types.NewEvent(event, types.ReasonPayload{Reason: err.Error()}))
}

func (s *Session) write(event types.OutboundEvent) {
	if err := s.conn.WriteJSON(event); err != nil {
		zap.S().Debugw("write failed", "session", s.ID(), "event", event.Event, "error", err)
	}
}

// engine logs a broadcast engine refusal; the session itself stays valid.
func (s *Session) engine(err error) {
	if err != nil {
		zap.S().Warnw("broadcast engine rejected request", "session", s.ID(), "group", s.group, "error", err)
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, router.ErrRateLimitExceeded):
		return "rate_limited"
	case errors.Is(err, ErrGroupMismatch):
		return "group_mismatch"
	default:
		return "invalid"
	}
}
