package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "quotebot:history:"

// RedisStore keeps each conversation as a Redis list so several replicas can
// share histories. The key expires idleTTL after the last append.
type RedisStore struct {
	rdb     *redis.Client
	idleTTL time.Duration
}

func NewRedisStore(rdb *redis.Client, idleTTL time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, idleTTL: idleTTL}
}

func (s *RedisStore) Append(ctx context.Context, conversationID string, turn Turn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}
	key := keyPrefix + conversationID
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		if s.idleTTL > 0 {
			pipe.Expire(ctx, key, s.idleTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, conversationID string) ([]Turn, error) {
	raw, err := s.rdb.LRange(ctx, keyPrefix+conversationID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	turns := make([]Turn, 0, len(raw))
	for _, item := range raw {
		var t Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("unmarshal turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}
