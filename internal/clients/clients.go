// clients — единая точка исходящих вызовов к API SchedScan.
//
// Dispatcher подставляет access-токен из хранилища, прогоняет запрос через
// цепочку интерсепторов (metadata -> timeout -> logging -> metrics -> transport)
// и при 401 передаёт управление циклу обновления токена (refresh.go).
package clients

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/pribylovaa/schedscan-client/internal/clients/interceptors"
	"github.com/pribylovaa/schedscan-client/internal/config"
	apierrors "github.com/pribylovaa/schedscan-client/internal/errors"
	"github.com/pribylovaa/schedscan-client/internal/metrics"
	"github.com/pribylovaa/schedscan-client/internal/models"
	"github.com/pribylovaa/schedscan-client/internal/storage"
)

// maxBodySize ограничивает чтение тела ответа.
const maxBodySize = 4 << 20

// Options — необязательные зависимости диспетчера.
type Options struct {
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	HTTPClient *http.Client
}

// Dispatcher безопасен для конкурентного использования.
type Dispatcher struct {
	creds   *storage.Credentials
	invoke  interceptors.Invoker
	hc      *http.Client
	log     *slog.Logger
	metrics *metrics.Metrics

	// refresh: single flight по отклонённому токену + глобальный мьютекс обмена.
	group     singleflight.Group
	refreshMu sync.Mutex
}

// New собирает диспетчер поверх хранилища учётных данных.
func New(cfg config.Config, creds *storage.Credentials, opts Options) (*Dispatcher, error) {
	const op = "internal/clients/New"

	if creds == nil {
		return nil, fmt.Errorf("%s: nil credentials", op)
	}

	base, err := url.Parse(cfg.API.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s: parse base url: %w", op, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("%s: unsupported base url scheme %q", op, base.Scheme)
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}

	d := &Dispatcher{
		creds:   creds,
		hc:      opts.HTTPClient,
		log:     opts.Logger,
		metrics: opts.Metrics,
	}

	d.invoke = interceptors.Chain(
		transport(opts.HTTPClient, strings.TrimRight(base.String(), "/")),
		interceptors.ClientWithMetadata(cfg.API.UserAgent),
		interceptors.ClientWithTimeout(cfg.Timeouts.Request),
		interceptors.ClientLoggingInterceptor(opts.Logger),
		interceptors.ClientWithMetrics(opts.Metrics),
	)

	return d, nil
}

// Send выполняет запрос.
//
// Контракт:
//   - любой HTTP-статус, кроме обработанного 401, возвращается как есть, без ошибки;
//   - сбой транспорта или таймаут — *apierrors.Error{Kind: KindNetwork}, без refresh;
//   - 401 на неанонимный запрос запускает не более одного цикла обновления
//     и не более одного повтора; при неудаче обновления хранилище очищается,
//     а вызывающему возвращается исходный 401 с заполненным RefreshErr.
func (d *Dispatcher) Send(ctx context.Context, req models.Request) (*models.Response, error) {
	token := ""
	if !req.Anonymous {
		token = d.creds.AccessToken(ctx)
	}

	return d.dispatch(ctx, req, token, 0)
}

// dispatch — одна попытка; attempt > 0 отключает повторный вход в refresh.
func (d *Dispatcher) dispatch(ctx context.Context, req models.Request, token string, attempt int) (*models.Response, error) {
	const op = "clients.Dispatcher.Send"

	cctx := interceptors.WithAttempt(ctx, attempt)
	if token != "" {
		cctx = context.WithValue(cctx, interceptors.CtxAuthToken, token)
	}

	resp, err := d.invoke(cctx, req)
	if err != nil {
		return nil, apierrors.Network(op, err)
	}

	if resp.Status != http.StatusUnauthorized || req.Anonymous || attempt > 0 {
		return resp, nil
	}

	return d.recoverUnauthorized(ctx, req, token, resp)
}

// Close освобождает простаивающие соединения.
func (d *Dispatcher) Close() {
	d.hc.CloseIdleConnections()
}

// transport — конечное звено цепочки: net/http.
func transport(hc *http.Client, baseURL string) interceptors.Invoker {
	return func(ctx context.Context, req models.Request) (*models.Response, error) {
		var body io.Reader
		if req.Body != nil {
			body = bytes.NewReader(req.Body)
		}

		method := req.Method
		if method == "" {
			method = http.MethodGet
		}

		hreq, err := http.NewRequestWithContext(ctx, method, baseURL+req.Path, body)
		if err != nil {
			return nil, err
		}
		for k, vs := range req.Header {
			for _, v := range vs {
				hreq.Header.Add(k, v)
			}
		}
		if hreq.Header.Get("Accept") == "" {
			hreq.Header.Set("Accept", "application/json")
		}

		hresp, err := hc.Do(hreq)
		if err != nil {
			return nil, err
		}
		defer hresp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(hresp.Body, maxBodySize))
		if err != nil {
			return nil, err
		}

		return &models.Response{
			Status: hresp.StatusCode,
			Header: hresp.Header,
			Body:   raw,
		}, nil
	}
}
