// redis — драйвер хранилища поверх Redis.
// Применяется, когда профиль устройства разделяют несколько процессов
// (CLI и фоновый агент). Ключи: <prefix><key>, без TTL — срок жизни
// токенов определяет сервер.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/pribylovaa/schedscan-client/internal/storage"
)

// DefaultPrefix — префикс ключей по умолчанию.
const DefaultPrefix = "schedscan:cred:"

type Store struct {
	rdb    *redis.Client
	prefix string
}

// New создаёт клиент Redis из URL (например, redis://:pass@host:6379/0).
// Если prefix пустой — используется DefaultPrefix.
func New(ctx context.Context, redisURL, prefix string) (*Store, error) {
	const op = "storage.redis.New"

	if prefix == "" {
		prefix = DefaultPrefix
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rdb := redis.NewClient(opt)

	// Fail-fast на старте.
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Store{rdb: rdb, prefix: prefix}, nil
}

func (s *Store) key(k string) string { return s.prefix + k }

func (s *Store) Put(ctx context.Context, key, value string) error {
	return storage.Wrap("put", key, s.rdb.Set(ctx, s.key(key), value, 0).Err())
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", storage.ErrNotFound
		}

		return "", storage.Wrap("get", key, err)
	}

	return v, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return storage.Wrap("delete", key, s.rdb.Del(ctx, s.key(key)).Err())
}

// Close закрывает клиент Redis.
func (s *Store) Close() error { return s.rdb.Close() }
