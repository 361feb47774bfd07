// metrics — Prometheus-метрики слоя сессии.
//
// Набор повторяет grpc_prometheus на стороне клиента:
//   - schedscan_client_requests_total{method,path,code} — завершённые вызовы;
//   - schedscan_client_request_duration_seconds{method,path} — длительность;
//   - schedscan_client_refresh_total{result} — исходы обновления токена.
//
// Все методы безопасны на nil-получателе: метрики опциональны.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "schedscan_client"

// Исходы обновления токена.
const (
	RefreshOK     = "ok"
	RefreshFailed = "failed"
	RefreshShared = "shared"
)

// CodeNetwork — метка code для вызовов без HTTP-ответа.
const CodeNetwork = "network"

type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	refresh  *prometheus.CounterVec
}

// New создаёт коллекторы и регистрирует их в reg (nil — без регистрации).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Outbound API calls by method, path and status code.",
		}, []string{"method", "path", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Outbound API call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		refresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Access token refresh outcomes.",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(m.requests, m.duration, m.refresh)
	}

	return m
}

// ObserveRequest учитывает завершённый вызов; status == 0 — сбой транспорта.
func (m *Metrics) ObserveRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}

	code := CodeNetwork
	if status > 0 {
		code = strconv.Itoa(status)
	}

	m.requests.WithLabelValues(method, path, code).Inc()
	m.duration.WithLabelValues(method, path).Observe(d.Seconds())
}

// Refresh учитывает исход цикла обновления токена.
func (m *Metrics) Refresh(result string) {
	if m == nil {
		return
	}

	m.refresh.WithLabelValues(result).Inc()
}

// RefreshCounter — счётчик исхода result (для тестов и экспорта в другие реестры).
func (m *Metrics) RefreshCounter(result string) prometheus.Counter {
	return m.refresh.WithLabelValues(result)
}
