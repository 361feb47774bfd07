package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pribylovaa/schedscan-client/internal/config"
	"github.com/pribylovaa/schedscan-client/internal/storage"
	"github.com/pribylovaa/schedscan-client/internal/storage/file"
	"github.com/pribylovaa/schedscan-client/internal/storage/memory"
	"github.com/pribylovaa/schedscan-client/internal/storage/redis"
)

// openStore выбирает драйвер хранилища по конфигурации.
// Возвращаемая функция закрывает ресурсы драйвера.
func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, func() error, error) {
	const op = "main.openStore"

	noop := func() error { return nil }

	switch cfg.Driver {
	case config.StorageMemory:
		return memory.New(), noop, nil

	case config.StorageFile:
		st, err := file.New(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		return st, noop, nil

	case config.StorageRedis:
		rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		st, err := redis.New(rctx, cfg.RedisURL, cfg.Prefix)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		return st, st.Close, nil

	default:
		return nil, nil, fmt.Errorf("%s: unknown storage driver %q", op, cfg.Driver)
	}
}
