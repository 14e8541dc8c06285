package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/okorolenko/substack-digest-bot/types"
)

const rateUpdateRetries = 5

// RedisRateStore keeps the sliding-window timestamp lists for the rate
// limiter. Each (user, class) pair lives under its own key with a TTL equal
// to the class window, so idle users expire out of Redis on their own.
type RedisRateStore struct {
	client *RedisClient
}

func NewRedisRateStore(client *RedisClient) *RedisRateStore {
	return &RedisRateStore{client: client}
}

func (s *RedisRateStore) key(userID int64, class types.ActionClass) string {
	return s.client.generateKey("ratelimit", string(class), fmt.Sprintf("%d", userID))
}

// Update applies fn to the stored timestamp list under an optimistic WATCH
// transaction, so two concurrent checks for the same identity cannot lose an
// append to each other.
func (s *RedisRateStore) Update(ctx context.Context, userID int64, class types.ActionClass, ttl time.Duration, fn func([]int64) []int64) error {
	key := s.key(userID, class)

	txf := func(tx *redis.Tx) error {
		var timestamps []int64
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil && err != redis.Nil {
			return err
		}
		if err == nil {
			if jerr := json.Unmarshal(data, &timestamps); jerr != nil {
				// Corrupt entry: start from an empty window rather than fail.
				timestamps = nil
			}
		}

		next := fn(timestamps)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(next) == 0 {
				pipe.Del(ctx, key)
				return nil
			}
			payload, jerr := json.Marshal(next)
			if jerr != nil {
				return jerr
			}
			pipe.Set(ctx, key, payload, ttl)
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < rateUpdateRetries; i++ {
		err = s.client.client.Watch(ctx, txf, key)
		if err != redis.TxFailedErr {
			return err
		}
	}
	return err
}
