package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore хранит счетчики окон в Redis: INCR атомарен, поэтому два
// конкурентных запроса никогда не получат одно значение счетчика.
// TTL ключа задает момент сброса окна.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Take(ctx context.Context, key string, limit int, window time.Duration) (int64, time.Time, bool, error) {
	current, err := s.client.Get(ctx, key).Int64()
	if err != nil && err != redis.Nil {
		return 0, time.Time{}, false, err
	}

	// Лимит уже исчерпан: не инкрементируем, сообщаем время до сброса
	if err == nil && current >= int64(limit) {
		return current, s.resetAt(ctx, key, window), false, nil
	}

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, false, err
	}

	if count == 1 {
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return count, time.Now().Add(window), true, err
		}
		return count, time.Now().Add(window), true, nil
	}

	// Гонку между GET и INCR закрывает атомарность INCR: значение выше лимита
	// означает, что слот достался другому запросу
	return count, s.resetAt(ctx, key, window), count <= int64(limit), nil
}

func (s *RedisStore) resetAt(ctx context.Context, key string, window time.Duration) time.Time {
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		ttl = window
	}
	return time.Now().Add(ttl)
}
