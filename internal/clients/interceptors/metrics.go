package interceptors

import (
	"context"
	"time"

	"github.com/pribylovaa/schedscan-client/internal/metrics"
	"github.com/pribylovaa/schedscan-client/internal/models"
)

// ClientWithMetrics учитывает каждый вызов в m (nil — no-op).
func ClientWithMetrics(m *metrics.Metrics) Interceptor {
	return func(ctx context.Context, req models.Request, next Invoker) (*models.Response, error) {
		start := time.Now()

		resp, err := next(ctx, req)

		status := 0
		if err == nil && resp != nil {
			status = resp.Status
		}
		m.ObserveRequest(req.Method, req.Path, status, time.Since(start))

		return resp, err
	}
}
