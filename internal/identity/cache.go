// Package identity holds the identity directory backends and the profile
// cache placed in front of them.
package identity

import (
	"context"
	"errors"
	"time"

	"github.com/patrickmn/go-cache"

	"familychat/pkg/interfaces"
	"familychat/pkg/types"
)

// CachedResolver memoises profile lookups of another resolver. Misses are
// cached as well so that unknown users do not hit the directory on every
// presence refresh.
type CachedResolver struct {
	next interfaces.IdentityResolver
	c    *cache.Cache
}

// entry is a cached lookup; a nil profile records a miss.
type entry struct {
	profile *types.Profile
}

func NewCachedResolver(next interfaces.IdentityResolver, ttl time.Duration) *CachedResolver {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedResolver{
		next: next,
		c:    cache.New(ttl, 5*ttl),
	}
}

func key(username string, group types.GroupID) string {
	return string(group) + "/" + username
}

// Resolve returns a copy of the cached profile, or asks the wrapped resolver.
// Errors other than ErrUserNotFound are not cached.
func (r *CachedResolver) Resolve(ctx context.Context, username string, group types.GroupID) (*types.Profile, error) {
	k := key(username, group)
	if v, ok := r.c.Get(k); ok {
		e := v.(entry)
		if e.profile == nil {
			return nil, interfaces.ErrUserNotFound
		}
		return clone(e.profile), nil
	}

	profile, err := r.next.Resolve(ctx, username, group)
	switch {
	case errors.Is(err, interfaces.ErrUserNotFound):
		r.c.SetDefault(k, entry{})
		return nil, err
	case err != nil:
		return nil, err
	}

	r.c.SetDefault(k, entry{profile: clone(profile)})
	return profile, nil
}

// Invalidate drops the cached lookup of username in group.
func (r *CachedResolver) Invalidate(username string, group types.GroupID) {
	r.c.Delete(key(username, group))
}

func (r *CachedResolver) Len() int {
	return r.c.ItemCount()
}

func clone(p *types.Profile) *types.Profile {
	out := *p
	if p.AvatarRef != nil {
		avatar := *p.AvatarRef
		out.AvatarRef = &avatar
	}
	return &out
}
