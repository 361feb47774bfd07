package interceptors

import (
	"context"

	"github.com/pribylovaa/schedscan-client/internal/models"
)

type CtxKey string

const (
	CtxRequestID CtxKey = "request_id"
	CtxAuthToken CtxKey = "auth_token"
	CtxAttempt   CtxKey = "attempt"
)

// Заголовки, которые выставляет цепочка.
const (
	HeaderRequestID     = "X-Request-Id"
	HeaderAuthorization = "Authorization"
	HeaderUserAgent     = "User-Agent"
)

// WithAttempt помечает номер попытки (0 — исходный запрос, 1 — повтор после refresh).
func WithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, CtxAttempt, attempt)
}

// AttemptFrom возвращает номер попытки из контекста.
func AttemptFrom(ctx context.Context) int {
	n, _ := ctx.Value(CtxAttempt).(int)
	return n
}

// ClientWithMetadata — добавляет в исходящий запрос заголовки:
//   - X-Request-Id (если есть в контексте),
//   - Authorization: Bearer <token> (если есть в контексте),
//   - User-Agent (если передан параметром).
//
// Запрос копируется: снимок вызывающего остаётся без заголовков авторизации.
func ClientWithMetadata(userAgent string) Interceptor {
	return func(ctx context.Context, req models.Request, next Invoker) (*models.Response, error) {
		req = req.Clone()

		if rid, _ := ctx.Value(CtxRequestID).(string); rid != "" {
			req.Header.Set(HeaderRequestID, rid)
		}
		if tok, _ := ctx.Value(CtxAuthToken).(string); tok != "" {
			req.Header.Set(HeaderAuthorization, "Bearer "+tok)
		}
		if userAgent != "" {
			req.Header.Set(HeaderUserAgent, userAgent)
		}

		return next(ctx, req)
	}
}
