package twofactor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// pendingKeyPrefix is the Redis key prefix for unconfirmed enrollments.
const pendingKeyPrefix = "2fa:pending:"

// PendingStore holds unconfirmed enrollments, one per user.
type PendingStore interface {
	Save(ctx context.Context, userID int64, p *pendingEnrollment) error
	// Load returns nil when there is no pending enrollment.
	Load(ctx context.Context, userID int64) (*pendingEnrollment, error)
	Delete(ctx context.Context, userID int64) error
}

// redisPendingStore implements PendingStore with expiring Redis keys.
type redisPendingStore struct {
	redis *redis.Client
}

// NewPendingStore creates a Redis-backed pending enrollment store.
func NewPendingStore(rdb *redis.Client) PendingStore {
	return &redisPendingStore{redis: rdb}
}

func pendingKey(userID int64) string {
	return pendingKeyPrefix + strconv.FormatInt(userID, 10)
}

// Save replaces any previous pending enrollment for the user.
func (s *redisPendingStore) Save(ctx context.Context, userID int64, p *pendingEnrollment) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling pending enrollment: %w", err)
	}
	if err := s.redis.Set(ctx, pendingKey(userID), data, pendingTTL).Err(); err != nil {
		return fmt.Errorf("storing pending enrollment: %w", err)
	}
	return nil
}

func (s *redisPendingStore) Load(ctx context.Context, userID int64) (*pendingEnrollment, error) {
	data, err := s.redis.Get(ctx, pendingKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading pending enrollment: %w", err)
	}

	var p pendingEnrollment
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshaling pending enrollment: %w", err)
	}
	return &p, nil
}

func (s *redisPendingStore) Delete(ctx context.Context, userID int64) error {
	if err := s.redis.Del(ctx, pendingKey(userID)).Err(); err != nil {
		return fmt.Errorf("deleting pending enrollment: %w", err)
	}
	return nil
}
