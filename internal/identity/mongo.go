package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"familychat/pkg/interfaces"
	"familychat/pkg/types"
)

type MongoConfig struct {
	URI            string        `mapstructure:"uri" json:"uri"`
	Database       string        `mapstructure:"database" json:"database"`
	Collections    []string      `mapstructure:"collections" json:"collections"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" json:"connect_timeout"`
}

func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:            "mongodb://localhost:27017",
		Database:       "familychat",
		Collections:    []string{"users"},
		ConnectTimeout: 10 * time.Second,
	}
}

func (c MongoConfig) Validate() error {
	var err error
	if c.URI == "" {
		err = multierr.Append(err, errors.New("mongo uri is required"))
	}
	if c.Database == "" {
		err = multierr.Append(err, errors.New("mongo database is required"))
	}
	if len(c.Collections) == 0 {
		err = multierr.Append(err, errors.New("at least one mongo collection is required"))
	}
	return err
}

// userDocument is the directory record shape.
type userDocument struct {
	Username    string  `bson:"username"`
	Group       string  `bson:"group"`
	DisplayName string  `bson:"displayName"`
	Avatar      *string `bson:"avatar,omitempty"`
}

// MongoResolver looks users up in one or more MongoDB collections, in the
// configured order. The first match wins.
type MongoResolver struct {
	client      *mongo.Client
	collections []*mongo.Collection
}

func NewMongoResolver(ctx context.Context, cfg MongoConfig) (*MongoResolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mongo config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(cfg.Database)
	r := &MongoResolver{client: client}
	for _, name := range cfg.Collections {
		r.collections = append(r.collections, db.Collection(name))
	}

	zap.S().Infow("mongo identity directory connected",
		"database", cfg.Database,
		"collections", cfg.Collections,
	)
	return r, nil
}

func (r *MongoResolver) Resolve(ctx context.Context, username string, group types.GroupID) (*types.Profile, error) {
	filter := bson.M{"username": username, "group": string(group)}

	for _, coll := range r.collections {
		var doc userDocument
		err := coll.FindOne(ctx, filter).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", coll.Name(), err)
		}

		profile := &types.Profile{
			Username:    doc.Username,
			DisplayName: doc.DisplayName,
		}
		if doc.Avatar != nil && *doc.Avatar != "" {
			profile.AvatarRef = doc.Avatar
		}
		return profile, nil
	}
	return nil, interfaces.ErrUserNotFound
}

// UpsertProfile writes a directory entry into the first collection.
func (r *MongoResolver) UpsertProfile(ctx context.Context, group types.GroupID, profile *types.Profile) error {
	if !types.IsValidGroup(group) {
		return types.ErrUnknownGroup
	}
	if !types.IsValidUsername(profile.Username) {
		return types.ErrInvalidUsername
	}

	_, err := r.collections[0].ReplaceOne(ctx,
		bson.M{"username": profile.Username, "group": string(group)},
		userDocument{
			Username:    profile.Username,
			Group:       string(group),
			DisplayName: profile.DisplayName,
			Avatar:      profile.AvatarRef,
		},
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

func (r *MongoResolver) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
