package identity

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"familychat/pkg/interfaces"
	"familychat/pkg/types"
)

var _ interfaces.IdentityResolver = (*MongoResolver)(nil)

func TestMongoConfig_Validate(t *testing.T) {
	req := require.New(t)
	req.NoError(DefaultMongoConfig().Validate())

	err := MongoConfig{}.Validate()
	req.Error(err)
	req.Contains(err.Error(), "uri")
	req.Contains(err.Error(), "database")
	req.Contains(err.Error(), "collection")
}

func TestMongoResolver(t *testing.T) {
	uri := os.Getenv("FAMILYCHAT_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("FAMILYCHAT_TEST_MONGO_URI not set")
	}

	req := require.New(t)
	ctx := context.Background()

	cfg := DefaultMongoConfig()
	cfg.URI = uri
	cfg.Database = "familychat_test_" + uuid.NewString()[:8]
	cfg.Collections = []string{"members", "guests"}

	r, err := NewMongoResolver(ctx, cfg)
	req.NoError(err)
	t.Cleanup(func() {
		_ = r.client.Database(cfg.Database).Drop(context.Background())
		_ = r.Close(context.Background())
	})

	_, err = r.Resolve(ctx, "alice", types.GroupChoir)
	req.ErrorIs(err, interfaces.ErrUserNotFound)

	avatar := "avatars/alice.png"
	req.NoError(r.UpsertProfile(ctx, types.GroupChoir, &types.Profile{Username: "alice", DisplayName: "Alice", AvatarRef: &avatar}))

	profile, err := r.Resolve(ctx, "alice", types.GroupChoir)
	req.NoError(err)
	req.Equal("Alice", profile.DisplayName)
	req.Equal(avatar, *profile.AvatarRef)

	_, err = r.Resolve(ctx, "alice", types.GroupYouth)
	req.ErrorIs(err, interfaces.ErrUserNotFound)

	// Later collections are consulted when earlier ones miss.
	_, err = r.client.Database(cfg.Database).Collection("guests").InsertOne(ctx, userDocument{
		Username: "grandma", Group: string(types.GroupElders), DisplayName: "Grandma",
	})
	req.NoError(err)

	guest, err := r.Resolve(ctx, "grandma", types.GroupElders)
	req.NoError(err)
	req.Equal("Grandma", guest.DisplayName)
	req.Nil(guest.AvatarRef)
}
