// Package testutil holds fakes shared by package tests.
package testutil

import (
	"errors"
	"sync"

	"familychat/pkg/types"
)

var ErrConnClosed = errors.New("connection closed")

// RecordingConn is an in-memory connection that keeps every event written
// to it.
type RecordingConn struct {
	id string

	mu     sync.Mutex
	events []types.OutboundEvent
	closed bool
	fail   error
}

func NewRecordingConn(id string) *RecordingConn {
	return &RecordingConn{id: id}
}

func (c *RecordingConn) ID() string { return c.id }

func (c *RecordingConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fail != nil {
		return c.fail
	}
	if c.closed {
		return ErrConnClosed
	}
	if event, ok := v.(types.OutboundEvent); ok {
		c.events = append(c.events, event)
	}
	return nil
}

func (c *RecordingConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// FailWith makes every later write return err.
func (c *RecordingConn) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = err
}

func (c *RecordingConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Events returns a copy of everything written so far.
func (c *RecordingConn) Events() []types.OutboundEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.OutboundEvent(nil), c.events...)
}

// Named returns the written events called name, in order.
func (c *RecordingConn) Named(name string) []types.OutboundEvent {
	var out []types.OutboundEvent
	for _, event := range c.Events() {
		if event.Event == name {
			out = append(out, event)
		}
	}
	return out
}

// Last returns the most recent event called name.
func (c *RecordingConn) Last(name string) (types.OutboundEvent, bool) {
	named := c.Named(name)
	if len(named) == 0 {
		return types.OutboundEvent{}, false
	}
	return named[len(named)-1], true
}

// Reset forgets recorded events.
func (c *RecordingConn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}
