package token

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lolerskatez/landio/internal/apperror"
)

// usedKeyPrefix is the Redis key prefix for consumed token ids.
const usedKeyPrefix = "tokens:used:"

// ReplayGuard makes a token single-use by remembering its id until it would
// have expired anyway.
type ReplayGuard interface {
	// Consume marks the token as used. A second call for the same token
	// returns TokenInvalid.
	Consume(ctx context.Context, claims *Claims) error

	// Used reports whether the token was already consumed without
	// consuming it.
	Used(ctx context.Context, claims *Claims) (bool, error)
}

// redisReplayGuard implements ReplayGuard with SET NX.
type redisReplayGuard struct {
	redis *redis.Client
	now   func() time.Time
}

// NewReplayGuard creates a Redis-backed replay guard.
func NewReplayGuard(rdb *redis.Client) ReplayGuard {
	return &redisReplayGuard{redis: rdb, now: time.Now}
}

func (g *redisReplayGuard) Consume(ctx context.Context, claims *Claims) error {
	if claims.ID == "" || claims.ExpiresAt == nil {
		return apperror.NewTokenInvalid()
	}

	ttl := claims.ExpiresAt.Time.Sub(g.now())
	if ttl < time.Second {
		ttl = time.Second
	}

	ok, err := g.redis.SetNX(ctx, usedKeyPrefix+claims.ID, "1", ttl).Result()
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("recording token use: %w", err))
	}
	if !ok {
		return apperror.NewTokenInvalid()
	}
	return nil
}

func (g *redisReplayGuard) Used(ctx context.Context, claims *Claims) (bool, error) {
	if claims.ID == "" {
		return true, nil
	}
	n, err := g.redis.Exists(ctx, usedKeyPrefix+claims.ID).Result()
	if err != nil {
		return false, apperror.NewInternal(fmt.Errorf("checking token use: %w", err))
	}
	return n > 0, nil
}
