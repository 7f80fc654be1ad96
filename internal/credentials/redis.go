package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zulandar/reelyard/internal/config"
)

// revokedTTL bounds how long an invalidated token is remembered.
const revokedTTL = 24 * time.Hour

// Redis reads tokens written by an external rotation service. Each family's
// current token lives at <prefix><family>; invalidated tokens are recorded
// under <prefix>revoked:<token> so the rotator can see them.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis connects a go-redis client for the configured address.
func NewRedis(cfg config.RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("credentials: redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// Token returns the current token for family, or "" if none is stored or it
// has been revoked.
func (r *Redis) Token(ctx context.Context, family string) (string, error) {
	tok, err := r.client.Get(ctx, r.prefix+family).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("credentials: get %s token: %w", family, err)
	}
	revoked, err := r.client.Exists(ctx, r.revokedKey(tok)).Result()
	if err != nil {
		return "", fmt.Errorf("credentials: check revoked %s token: %w", family, err)
	}
	if revoked > 0 {
		return "", nil
	}
	return tok, nil
}

// Invalidate marks token revoked and clears the family key if it still holds it.
func (r *Redis) Invalidate(ctx context.Context, family, token string) error {
	if token == "" {
		return nil
	}
	if err := r.client.Set(ctx, r.revokedKey(token), family, revokedTTL).Err(); err != nil {
		return fmt.Errorf("credentials: revoke %s token: %w", family, err)
	}
	key := r.prefix + family
	cur, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("credentials: get %s token: %w", family, err)
	}
	if cur == token {
		if err := r.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("credentials: delete %s token: %w", family, err)
		}
	}
	return nil
}

// Close releases the client connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) revokedKey(token string) string {
	return r.prefix + "revoked:" + token
}
