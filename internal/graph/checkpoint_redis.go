package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisCheckpointTTL = 24 * time.Hour

// RedisCheckpointer persists checkpoints in Redis so a suspended thread can be
// resumed by another process.
type RedisCheckpointer struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisCheckpointer wraps an existing Redis client.
func NewRedisCheckpointer(rdb *redis.Client) *RedisCheckpointer {
	return &RedisCheckpointer{rdb: rdb, prefix: "veritas:checkpoint:"}
}

func (r *RedisCheckpointer) key(threadID string) string { return r.prefix + threadID }

func (r *RedisCheckpointer) Save(ctx context.Context, cp Checkpoint) error {
	b, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := r.rdb.Set(ctx, r.key(cp.ThreadID), b, redisCheckpointTTL).Err(); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (r *RedisCheckpointer) Load(ctx context.Context, threadID string) (Checkpoint, bool, error) {
	b, err := r.rdb.Get(ctx, r.key(threadID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("load checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(b, &cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("decode checkpoint: %w", err)
	}
	return cp, true, nil
}

func (r *RedisCheckpointer) Delete(ctx context.Context, threadID string) error {
	return r.rdb.Del(ctx, r.key(threadID)).Err()
}
