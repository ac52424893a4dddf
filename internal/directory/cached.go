package directory

import (
	"context"
	"errors"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// cache is the subset of the redis client the decorator uses.
type cache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Cached keeps display names in Redis in front of another Directory.
// Redis problems are logged and the lookup falls through to next.
type Cached struct {
	next    Directory
	client  cache
	logger  *slog.Logger
	prefix  string
	ttl     time.Duration
	timeout time.Duration
}

// NewCached wraps next with a Redis cache.
func NewCached(next Directory, client cache, ttl time.Duration, logger *slog.Logger) *Cached {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{
		next:    next,
		client:  client,
		logger:  logger,
		prefix:  "teamup:username:",
		ttl:     ttl,
		timeout: 250 * time.Millisecond,
	}
}

// NewRedisClient connects to Redis and checks the connection.
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// DisplayName implements Directory.
func (c *Cached) DisplayName(ctx context.Context, userID string) (string, bool, error) {
	key := c.prefix + userID
	cacheCtx, cancel := context.WithTimeout(ctx, c.timeout)
	name, err := c.client.Get(cacheCtx, key).Result()
	cancel()
	switch {
	case err == nil && name != "":
		return name, true, nil
	case err != nil && !errors.Is(err, redis.Nil):
		c.logRedisError("get", err)
	}

	name, ok, err := c.next.DisplayName(ctx, userID)
	if err != nil || !ok {
		return name, ok, err
	}
	cacheCtx, cancel = context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.client.Set(cacheCtx, key, name, c.ttl).Err(); err != nil {
		c.logRedisError("set", err)
	}
	return name, true, nil
}

// SetDisplayName implements Updater when next does, dropping the cached
// entry afterwards.
func (c *Cached) SetDisplayName(ctx context.Context, userID, name string) error {
	updater, ok := c.next.(Updater)
	if !ok {
		return errors.New("directory: underlying directory is read-only")
	}
	if err := updater.SetDisplayName(ctx, userID, name); err != nil {
		return err
	}
	cacheCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.client.Del(cacheCtx, c.prefix+userID).Err(); err != nil {
		c.logRedisError("del", err)
	}
	return nil
}

func (c *Cached) logRedisError(op string, err error) {
	c.logger.Error("redis directory cache error", "op", op, "error", err)
}
