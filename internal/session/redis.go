package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/revlens-ai/revlens/internal/engine"
)

// NewRedisClient connects and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed (%s): %w", addr, err)
	}
	return rdb, nil
}

// RedisHistory keeps conversation turns in a capped redis list per session.
type RedisHistory struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisHistory creates a history store with the given retention TTL.
func NewRedisHistory(rdb *redis.Client, ttl time.Duration) *RedisHistory {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisHistory{rdb: rdb, ttl: ttl}
}

func historyKey(sessionID string) string { return "revlens:history:" + sessionID }

// Append pushes one turn and re-arms the key TTL.
func (h *RedisHistory) Append(ctx context.Context, sessionID string, turn engine.Turn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return err
	}
	key := historyKey(sessionID)
	pipe := h.rdb.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -10, -1)
	pipe.Expire(ctx, key, h.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// Recent returns up to n most recent turns, oldest first.
func (h *RedisHistory) Recent(ctx context.Context, sessionID string, n int) ([]engine.Turn, error) {
	if n <= 0 {
		n = 5
	}
	raw, err := h.rdb.LRange(ctx, historyKey(sessionID), int64(-n), -1).Result()
	if err != nil {
		return nil, err
	}
	turns := make([]engine.Turn, 0, len(raw))
	for _, item := range raw {
		var t engine.Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}
