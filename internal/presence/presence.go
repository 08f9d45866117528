// Package presence mirrors online/offline transitions into shared storage
// so services outside the realtime process can read who is online.
package presence

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Tyrowin/chatify/internal/logging"
)

// Mirror records presence transitions. Failures are the caller's to log;
// they never affect routing.
type Mirror interface {
	Online(ctx context.Context, userID string) error
	Offline(ctx context.Context, userID string) error
}

// Nop is a Mirror that records nothing.
type Nop struct{}

func (Nop) Online(context.Context, string) error  { return nil }
func (Nop) Offline(context.Context, string) error { return nil }

// Key is the redis key holding userID's presence.
func Key(userID string) string { return "im:presence:" + userID }

// Redis stores presence as im:presence:<user> = node id with a TTL, renewed
// by KeepAlive while the user stays registered.
type Redis struct {
	client *redis.Client
	nodeID string
	ttl    time.Duration
	log    *zap.Logger
}

// RedisConfig holds connection settings for NewRedisClient.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects and pings redis.
func NewRedisClient(ctx context.Context, c RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB})

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "redis: ping")
	}
	return rdb, nil
}

// NewRedis creates a mirror writing through client.
func NewRedis(client *redis.Client, nodeID string, ttl time.Duration, log *zap.Logger) *Redis {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Redis{client: client, nodeID: nodeID, ttl: ttl, log: logging.OrNop(log).Named("presence")}
}

func (r *Redis) Online(ctx context.Context, userID string) error {
	return errors.Wrap(r.client.Set(ctx, Key(userID), r.nodeID, r.ttl).Err(), "redis: presence online")
}

func (r *Redis) Offline(ctx context.Context, userID string) error {
	return errors.Wrap(r.client.Del(ctx, Key(userID)).Err(), "redis: presence offline")
}

// Lookup reports whether userID is marked online and by which node.
func (r *Redis) Lookup(ctx context.Context, userID string) (string, bool, error) {
	val, err := r.client.Get(ctx, Key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "redis: presence lookup")
	}
	return val, true, nil
}

// KeepAlive renews the presence keys of every user returned by online at
// half the TTL until ctx is done.
func (r *Redis) KeepAlive(ctx context.Context, online func() []string) {
	ticker := time.NewTicker(r.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.refresh(ctx, online()); err != nil && ctx.Err() == nil {
				r.log.Warn("Failed to renew presence keys", zap.Error(err))
			}
		}
	}
}

func (r *Redis) refresh(ctx context.Context, users []string) error {
	if len(users) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for _, userID := range users {
		pipe.Set(ctx, Key(userID), r.nodeID, r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "redis: presence refresh")
}
