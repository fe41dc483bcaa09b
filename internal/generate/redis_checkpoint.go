package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisCheckpointStore shares checkpoints between machines. Locks expire
// after lockTTL so a crashed holder does not block the run forever.
type RedisCheckpointStore struct {
	rdb     *redis.Client
	prefix  string
	lockTTL time.Duration
}

func NewRedisCheckpointStore(rdb *redis.Client, prefix string, lockTTL time.Duration) *RedisCheckpointStore {
	if prefix == "" {
		prefix = "seedkit"
	}
	if lockTTL <= 0 {
		lockTTL = 30 * time.Minute
	}
	return &RedisCheckpointStore{rdb: rdb, prefix: prefix, lockTTL: lockTTL}
}

// OpenRedisCheckpointStore parses a redis:// URL and pings the server.
func OpenRedisCheckpointStore(ctx context.Context, url string) (*RedisCheckpointStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisCheckpointStore(rdb, "", 0), nil
}

func (s *RedisCheckpointStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisCheckpointStore) key(runID, suffix string) string {
	return s.prefix + ":run:" + runID + ":" + suffix
}

func (s *RedisCheckpointStore) Load(ctx context.Context, runID string) (*Checkpoint, error) {
	data, err := s.rdb.Get(ctx, s.key(runID, "checkpoint")).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint: %w", err)
	}
	return &cp, nil
}

func (s *RedisCheckpointStore) Save(ctx context.Context, cp *Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key(cp.RunID, "checkpoint"), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (s *RedisCheckpointStore) Delete(ctx context.Context, runID string) error {
	if err := s.rdb.Del(ctx, s.key(runID, "checkpoint")).Err(); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// compare-and-delete so a holder whose lock expired cannot release a newer one
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (s *RedisCheckpointStore) Lock(ctx context.Context, runID string) (func() error, error) {
	key := s.key(runID, "lock")
	token := uuid.NewString()
	ok, err := s.rdb.SetNX(ctx, key, token, s.lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return func() error {
		if err := unlockScript.Run(context.Background(), s.rdb, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("failed to release lock: %w", err)
		}
		return nil
	}, nil
}
