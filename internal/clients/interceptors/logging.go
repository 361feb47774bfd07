package interceptors

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pribylovaa/schedscan-client/internal/models"
	"github.com/pribylovaa/schedscan-client/internal/pkg/log"
)

// ClientLoggingInterceptor — логирование исходящих вызовов.
// Поведение:
//   - берёт X-Request-Id из заголовков запроса (или генерирует новый и добавляет);
//   - добавляет поля method/path/attempt, прокладывает обогащённый логгер в контекст (pkg/log);
//   - пишет одну финальную запись уровня Info: msg="http", status, dur (и err при сбое транспорта).
//
// Безопасность: не логирует тело и заголовок Authorization.
func ClientLoggingInterceptor(base *slog.Logger) Interceptor {
	if base == nil {
		base = slog.Default()
	}

	return func(ctx context.Context, req models.Request, next Invoker) (*models.Response, error) {
		start := time.Now()

		rid := req.Header.Get(HeaderRequestID)
		if rid == "" {
			rid = uuid.NewString()
			req = req.Clone()
			req.Header.Set(HeaderRequestID, rid)
		}

		l := base.With(
			slog.String("request_id", rid),
			slog.String("method", req.Method),
			slog.String("path", req.Path),
			slog.Int("attempt", AttemptFrom(ctx)),
		)
		ctx = log.Into(ctx, l)

		resp, err := next(ctx, req)

		status := 0
		if resp != nil {
			status = resp.Status
		}

		attrs := []any{
			slog.Int("status", status),
			slog.Duration("dur", time.Since(start)),
		}
		if err != nil {
			attrs = append(attrs, slog.String("err", err.Error()))
		}
		l.Info("http", attrs...)

		return resp, err
	}
}
