//go:generate go run go.uber.org/mock/mockgen -source=identity.go -destination=../../internal/mocks/mock_identity.go -package=mocks
package interfaces

import (
	"context"

	"familychat/pkg/types"
)

// IdentityResolver looks up the display profile of a user within a group.
// Implementations return ErrUserNotFound when the directory has no match.
type IdentityResolver interface {
	Resolve(ctx context.Context, username string, group types.GroupID) (*types.Profile, error)
}
