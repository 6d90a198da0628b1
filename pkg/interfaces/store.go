//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../../internal/mocks/mock_store.go -package=mocks
package interfaces

import (
	"context"

	"familychat/pkg/types"
)

// MessageStore persists chat messages durably.
type MessageStore interface {
	// AppendMessage persists a fully built message. The caller bounds the
	// call with ctx; a deadline exceeded is a persistence failure.
	AppendMessage(ctx context.Context, message *types.ChatMessage) error

	// ListRecent returns at most limit of the group's latest messages,
	// ordered by timestamp ascending.
	ListRecent(ctx context.Context, group types.GroupID, limit int) ([]*types.ChatMessage, error)

	// HealthCheck verifies the backing store is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases the store.
	Close() error
}
