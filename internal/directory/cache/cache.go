// Package cache fronts a directory.Source with a redis read-through cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"reliefhub/internal/directory"
	id "reliefhub/pkg/domain"
)

const (
	userKeyPrefix  = "directory:user:"
	emailKeyPrefix = "directory:email:"
)

// RedisCache caches positive lookups for ttl. Misses are never cached, so a
// deleted user stops resolving once its entry expires. Redis failures fall
// through to the source.
type RedisCache struct {
	client *redis.Client
	source directory.Source
	ttl    time.Duration
	logger *slog.Logger
}

type Option func(*RedisCache)

func WithLogger(logger *slog.Logger) Option {
	return func(c *RedisCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func New(client *redis.Client, source directory.Source, ttl time.Duration, opts ...Option) *RedisCache {
	c := &RedisCache{client: client, source: source, ttl: ttl, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisCache) FindByID(ctx context.Context, userID id.UserID) (*directory.UserRef, error) {
	key := userKeyPrefix + userID.String()
	if u, ok := c.get(ctx, key); ok {
		return u, nil
	}
	u, err := c.source.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.set(ctx, u)
	return u, nil
}

func (c *RedisCache) FindByEmail(ctx context.Context, email string) (*directory.UserRef, error) {
	email = directory.NormalizeEmail(email)
	if u, ok := c.get(ctx, emailKeyPrefix+email); ok {
		return u, nil
	}
	u, err := c.source.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	c.set(ctx, u)
	return u, nil
}

// ListByRole is not cached; administrator fan-out must see role changes promptly.
func (c *RedisCache) ListByRole(ctx context.Context, role id.Role) ([]directory.UserRef, error) {
	return c.source.ListByRole(ctx, role)
}

// Invalidate drops cached entries for a user.
func (c *RedisCache) Invalidate(ctx context.Context, u directory.UserRef) error {
	return c.client.Del(ctx, userKeyPrefix+u.ID.String(), emailKeyPrefix+directory.NormalizeEmail(u.Email)).Err()
}

func (c *RedisCache) get(ctx context.Context, key string) (*directory.UserRef, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WarnContext(ctx, "directory cache read failed", "key", key, "error", err)
		}
		return nil, false
	}
	var u directory.UserRef
	if err := json.Unmarshal(raw, &u); err != nil {
		c.logger.WarnContext(ctx, "directory cache entry corrupt", "key", key, "error", err)
		return nil, false
	}
	return &u, true
}

func (c *RedisCache) set(ctx context.Context, u *directory.UserRef) {
	raw, err := json.Marshal(u)
	if err != nil {
		return
	}
	pipe := c.client.Pipeline()
	pipe.Set(ctx, userKeyPrefix+u.ID.String(), raw, c.ttl)
	if u.Email != "" {
		pipe.Set(ctx, emailKeyPrefix+directory.NormalizeEmail(u.Email), raw, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.WarnContext(ctx, "directory cache write failed", "user_id", u.ID.String(), "error", err)
	}
}
