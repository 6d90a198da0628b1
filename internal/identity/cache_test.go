package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"familychat/internal/mocks"
	"familychat/pkg/interfaces"
	"familychat/pkg/types"
)

var _ interfaces.IdentityResolver = (*CachedResolver)(nil)

func TestCachedResolver_HitsBackendOnce(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockIdentityResolver(ctrl)

	avatar := "avatars/alice.png"
	backend.EXPECT().
		Resolve(gomock.Any(), "alice", types.GroupChoir).
		Return(&types.Profile{Username: "alice", DisplayName: "Alice", AvatarRef: &avatar}, nil).
		Times(1)

	r := NewCachedResolver(backend, time.Minute)
	ctx := context.Background()

	first, err := r.Resolve(ctx, "alice", types.GroupChoir)
	req.NoError(err)
	req.Equal("Alice", first.DisplayName)

	// Mutating a returned profile must not leak into the cache.
	first.DisplayName = "changed"
	*first.AvatarRef = "changed"

	second, err := r.Resolve(ctx, "alice", types.GroupChoir)
	req.NoError(err)
	req.Equal("Alice", second.DisplayName)
	req.Equal(avatar, *second.AvatarRef)
	req.Equal(1, r.Len())
}

func TestCachedResolver_CachesMisses(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockIdentityResolver(ctrl)

	backend.EXPECT().
		Resolve(gomock.Any(), "ghost", types.GroupYouth).
		Return(nil, interfaces.ErrUserNotFound).
		Times(1)

	r := NewCachedResolver(backend, time.Minute)
	for i := 0; i < 3; i++ {
		_, err := r.Resolve(context.Background(), "ghost", types.GroupYouth)
		req.ErrorIs(err, interfaces.ErrUserNotFound)
	}
}

func TestCachedResolver_DoesNotCacheFailures(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockIdentityResolver(ctrl)

	boom := errors.New("directory down")
	gomock.InOrder(
		backend.EXPECT().Resolve(gomock.Any(), "bob", types.GroupElders).Return(nil, boom),
		backend.EXPECT().Resolve(gomock.Any(), "bob", types.GroupElders).Return(&types.Profile{Username: "bob", DisplayName: "Bob"}, nil),
	)

	r := NewCachedResolver(backend, time.Minute)
	_, err := r.Resolve(context.Background(), "bob", types.GroupElders)
	req.ErrorIs(err, boom)

	profile, err := r.Resolve(context.Background(), "bob", types.GroupElders)
	req.NoError(err)
	req.Equal("Bob", profile.DisplayName)
}

func TestCachedResolver_KeysByGroupAndInvalidate(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockIdentityResolver(ctrl)

	backend.EXPECT().Resolve(gomock.Any(), "alice", types.GroupChoir).
		Return(&types.Profile{Username: "alice", DisplayName: "Choir Alice"}, nil).Times(2)
	backend.EXPECT().Resolve(gomock.Any(), "alice", types.GroupMedia).
		Return(&types.Profile{Username: "alice", DisplayName: "Media Alice"}, nil).Times(1)

	r := NewCachedResolver(backend, time.Minute)
	ctx := context.Background()

	choir, err := r.Resolve(ctx, "alice", types.GroupChoir)
	req.NoError(err)
	media, err := r.Resolve(ctx, "alice", types.GroupMedia)
	req.NoError(err)
	req.NotEqual(choir.DisplayName, media.DisplayName)

	r.Invalidate("alice", types.GroupChoir)
	_, err = r.Resolve(ctx, "alice", types.GroupChoir)
	req.NoError(err)
}
