package sso

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// attemptKeyPrefix is the Redis key prefix for pending SSO attempts.
const attemptKeyPrefix = "sso:attempt:"

// AttemptStore holds pending login attempts. Take is one-shot: an attempt
// can be completed at most once, whatever the outcome.
type AttemptStore interface {
	// Put stores a new attempt and returns its id.
	Put(ctx context.Context, a *attempt) (string, error)
	// Take returns and removes an attempt. Nil when absent or expired.
	Take(ctx context.Context, id string) (*attempt, error)
}

// redisAttemptStore implements AttemptStore with expiring Redis keys.
type redisAttemptStore struct {
	redis *redis.Client
}

// NewAttemptStore creates a Redis-backed attempt store.
func NewAttemptStore(rdb *redis.Client) AttemptStore {
	return &redisAttemptStore{redis: rdb}
}

func (s *redisAttemptStore) Put(ctx context.Context, a *attempt) (string, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("marshaling sso attempt: %w", err)
	}
	id := uuid.NewString()
	if err := s.redis.Set(ctx, attemptKeyPrefix+id, data, attemptTTL).Err(); err != nil {
		return "", fmt.Errorf("storing sso attempt: %w", err)
	}
	return id, nil
}

func (s *redisAttemptStore) Take(ctx context.Context, id string) (*attempt, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	data, err := s.redis.GetDel(ctx, attemptKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading sso attempt: %w", err)
	}

	var a attempt
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("unmarshaling sso attempt: %w", err)
	}
	return &a, nil
}
