package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// checkAndIncrementScript выполняется в Redis атомарно.
// KEYS — ключи окон, ARGV — пары (limit, ttl_seconds) для каждого ключа.
// Возвращает номер исчерпанного окна (с 0) или -1.
var checkAndIncrementScript = redis.NewScript(`
for i, key in ipairs(KEYS) do
	local limit = tonumber(ARGV[(i - 1) * 2 + 1])
	local count = tonumber(redis.call('GET', key) or '0')
	if count >= limit then
		return i - 1
	end
end
for i, key in ipairs(KEYS) do
	local ttl = tonumber(ARGV[(i - 1) * 2 + 2])
	local count = redis.call('INCR', key)
	if count == 1 then
		redis.call('EXPIRE', key, ttl)
	end
end
return -1
`)

// releaseScript уменьшает положительные счётчики KEYS на 1.
var releaseScript = redis.NewScript(`
for _, key in ipairs(KEYS) do
	local count = tonumber(redis.call('GET', key) or '0')
	if count > 0 then
		redis.call('DECR', key)
	end
end
return 0
`)

// RedisStore — счётчики в Redis. Один Lua-скрипт на проверку и инкремент.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore создаёт хранилище счётчиков Redis.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "farm-photos:rl:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// NewRedisClient создаёт клиента Redis и проверяет подключение.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ошибка подключения к Redis %s: %w", addr, err)
	}
	return client, nil
}

// CheckAndIncrement реализует CounterStore.
func (s *RedisStore) CheckAndIncrement(ctx context.Context, submitterID string, windows []Window) (int, error) {
	keys := make([]string, 0, len(windows))
	args := make([]any, 0, len(windows)*2)
	for _, w := range windows {
		keys = append(keys, s.key(submitterID, w))
		// Ключ живёт до конца окна плюс минута запаса на расхождение часов
		ttl := int64(w.End().Sub(w.Start).Seconds()) + 60
		args = append(args, w.Limit, ttl)
	}

	res, err := checkAndIncrementScript.Run(ctx, s.client, keys, args...).Int()
	if err != nil {
		return 0, fmt.Errorf("ошибка выполнения скрипта лимита: %w", err)
	}
	return res, nil
}

// Release реализует CounterStore.
func (s *RedisStore) Release(ctx context.Context, submitterID string, windows []Window) error {
	keys := make([]string, 0, len(windows))
	for _, w := range windows {
		keys = append(keys, s.key(submitterID, w))
	}
	if err := releaseScript.Run(ctx, s.client, keys).Err(); err != nil {
		return fmt.Errorf("ошибка выполнения скрипта возврата квоты: %w", err)
	}
	return nil
}

// key строит ключ окна. Отправитель в фигурных скобках — hash tag:
// в Redis Cluster все окна отправителя попадают в один слот.
func (s *RedisStore) key(submitterID string, w Window) string {
	return s.prefix + "{" + submitterID + "}:" + w.Name + ":" + strconv.FormatInt(w.Start.Unix(), 10)
}
