package interceptors

import (
	"context"
	"time"

	"github.com/pribylovaa/schedscan-client/internal/models"
)

// ClientWithTimeout навешивает таймаут d на исходящий вызов, если у контекста
// ещё нет дедлайна. Существующий дедлайн не переопределяется.
//
// Контракт:
//  1. d <= 0 — не модифицирует контекст;
//  2. у ctx уже есть deadline — оставляет как есть;
//  3. иначе — context.WithTimeout(ctx, d) на время вызова, включая чтение тела.
//
// По истечении дедлайна транспорт вернёт context.DeadlineExceeded,
// диспетчер классифицирует это как сетевую ошибку.
func ClientWithTimeout(d time.Duration) Interceptor {
	return func(ctx context.Context, req models.Request, next Invoker) (*models.Response, error) {
		if d <= 0 {
			return next(ctx, req)
		}
		if _, ok := ctx.Deadline(); ok {
			return next(ctx, req)
		}

		cctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		return next(cctx, req)
	}
}
