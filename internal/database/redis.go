package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lolerskatez/landio/internal/config"
)

// clientName identifies Landio's connections in CLIENT LIST.
const clientName = "landio"

// NewRedis parses the URL, connects and pings before returning.
//
// Redis only holds short-lived, per-attempt state (pending SSO attempts,
// unconfirmed 2FA enrollments, consumed token ids). Losing it aborts
// in-flight flows but never grants access. Evicting a consumed token id
// does, since the token becomes usable again. Every key Landio writes has a
// TTL, so only noeviction keeps them all; any other policy is reported at
// startup.
func NewRedis(cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	if opts.ClientName == "" {
		opts.ClientName = clientName
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	checkEvictionPolicy(ctx, client)
	return client, nil
}

// checkEvictionPolicy warns when maxmemory-policy can evict Landio's keys.
// Managed services often refuse CONFIG GET; that is not an error.
func checkEvictionPolicy(ctx context.Context, client *redis.Client) {
	vals, err := client.ConfigGet(ctx, "maxmemory-policy").Result()
	if err != nil {
		slog.Debug("cannot read redis eviction policy", slog.Any("error", err))
		return
	}
	if policy := vals["maxmemory-policy"]; unsafeEviction(policy) {
		slog.Warn("redis may evict consumed token ids; set maxmemory-policy to noeviction",
			slog.String("maxmemory_policy", policy),
		)
	}
}

// unsafeEviction reports whether policy may evict keys that carry a TTL.
func unsafeEviction(policy string) bool {
	policy = strings.TrimSpace(policy)
	return policy != "" && policy != "noeviction"
}
