// interceptors предоставляет цепочку клиентских HTTP-интерсепторов
// в той же форме, что и unary-интерсепторы gRPC: каждое звено получает
// запрос и следующий Invoker.
package interceptors

import (
	"context"

	"github.com/pribylovaa/schedscan-client/internal/models"
)

// Invoker выполняет запрос (транспорт или остаток цепочки).
type Invoker func(ctx context.Context, req models.Request) (*models.Response, error)

// Interceptor — звено цепочки.
type Interceptor func(ctx context.Context, req models.Request, next Invoker) (*models.Response, error)

// Chain собирает цепочку: первый интерсептор — внешний.
func Chain(final Invoker, ics ...Interceptor) Invoker {
	next := final
	for i := len(ics) - 1; i >= 0; i-- {
		ic, inner := ics[i], next
		next = func(ctx context.Context, req models.Request) (*models.Response, error) {
			return ic(ctx, req, inner)
		}
	}

	return next
}
