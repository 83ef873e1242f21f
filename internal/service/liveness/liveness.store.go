package liveness

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/krobus00/quote-stream-service/internal/constant"
	"github.com/krobus00/quote-stream-service/internal/entity"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps per-component heartbeats and the id of each component's current run.
// Every key has a single writer: the component that owns it, or the supervisor while
// it restarts that component.
type RedisStore struct {
	client *redis.Client
	clock  clockwork.Clock
}

func NewRedisStore(client *redis.Client, clock clockwork.Clock) *RedisStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &RedisStore{client: client, clock: clock}
}

func (s *RedisStore) Touch(ctx context.Context, component entity.ComponentID) error {
	now := s.clock.Now().UTC().UnixMilli()
	return s.client.Set(ctx, constant.GetHeartbeatKey(component.String()), now, 0).Err()
}

func (s *RedisStore) LastSeen(ctx context.Context, component entity.ComponentID) (time.Time, bool, error) {
	raw, err := s.client.Get(ctx, constant.GetHeartbeatKey(component.String())).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}

	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// an unreadable heartbeat is treated as absent
		return time.Time{}, false, nil
	}

	return time.UnixMilli(millis).UTC(), true, nil
}

func (s *RedisStore) ClearHeartbeat(ctx context.Context, component entity.ComponentID) error {
	return s.client.Del(ctx, constant.GetHeartbeatKey(component.String())).Err()
}

func (s *RedisStore) SetRunID(ctx context.Context, component entity.ComponentID, runID string) error {
	return s.client.Set(ctx, constant.GetRunIDKey(component.String()), runID, 0).Err()
}

func (s *RedisStore) GetRunID(ctx context.Context, component entity.ComponentID) (string, bool, error) {
	runID, err := s.client.Get(ctx, constant.GetRunIDKey(component.String())).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}

	return runID, true, nil
}
