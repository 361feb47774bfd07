package clients

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/pribylovaa/schedscan-client/internal/clients/interceptors"
	apierrors "github.com/pribylovaa/schedscan-client/internal/errors"
	"github.com/pribylovaa/schedscan-client/internal/metrics"
	"github.com/pribylovaa/schedscan-client/internal/models"
	"github.com/pribylovaa/schedscan-client/internal/pkg/redact"
)

// ErrNoRefreshToken — в хранилище нет refresh-токена, обмен не выполнялся.
var ErrNoRefreshToken = errors.New("no refresh token stored")

// recoverUnauthorized обрабатывает 401 на исходный запрос.
//
// Конкурентные 401 с одним и тем же отклонённым токеном разделяют один
// обмен (singleflight). Обмены с разными ключами сериализуются refreshMu.
// При неудаче вызывающий получает исходный ответ с RefreshErr.
func (d *Dispatcher) recoverUnauthorized(ctx context.Context, req models.Request, rejected string, orig *models.Response) (*models.Response, error) {
	// Отмена контекста одного вызывающего не должна срывать общий обмен
	// и приводить к принудительному выходу остальных.
	flightCtx := context.WithoutCancel(ctx)

	led := false
	v, err, _ := d.group.Do(rejected, func() (any, error) {
		led = true
		return d.refreshToken(flightCtx, rejected)
	})
	if !led {
		d.metrics.Refresh(metrics.RefreshShared)
	}

	if err != nil {
		orig.RefreshErr = err
		return orig, nil
	}

	return d.dispatch(ctx, req, v.(string), 1)
}

// refreshToken выполняет не более одного обмена refresh-токена и возвращает
// действующий access-токен. Неудача очищает хранилище.
func (d *Dispatcher) refreshToken(ctx context.Context, rejected string) (string, error) {
	const op = "clients.Dispatcher.refreshToken"

	d.refreshMu.Lock()
	defer d.refreshMu.Unlock()

	// Пока ждали мьютекс, токен мог обновить другой обмен.
	if cur := d.creds.AccessToken(ctx); cur != "" && cur != rejected {
		d.metrics.Refresh(metrics.RefreshShared)
		return cur, nil
	}

	refresh := d.creds.RefreshToken(ctx)
	if refresh == "" {
		return "", d.refreshFailed(ctx, ErrNoRefreshToken)
	}

	body, err := json.Marshal(models.RefreshRequest{Refresh: refresh})
	if err != nil {
		return "", d.refreshFailed(ctx, err)
	}

	resp, err := d.invoke(interceptors.WithAttempt(ctx, 0), models.Request{
		Method:    http.MethodPost,
		Path:      models.PathRefresh,
		Header:    http.Header{"Content-Type": {"application/json"}},
		Body:      body,
		Anonymous: true,
	})
	if err != nil {
		return "", d.refreshFailed(ctx, apierrors.Network(op, err))
	}
	if err := apierrors.FromResponse(op, resp); err != nil {
		return "", d.refreshFailed(ctx, err)
	}

	var out models.RefreshResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", d.refreshFailed(ctx, apierrors.Malformed(op, resp.Status, err))
	}
	if out.Access == "" {
		return "", d.refreshFailed(ctx, apierrors.Malformed(op, resp.Status, errors.New("empty access token")))
	}

	// Без ротации сервер не присылает refresh: сохраняется прежний.
	if err := d.creds.SaveTokens(ctx, models.TokenPair{Access: out.Access, Refresh: out.Refresh}); err != nil {
		return "", d.refreshFailed(ctx, apierrors.Storage(op, err))
	}

	d.metrics.Refresh(metrics.RefreshOK)
	d.log.Info("token_refreshed",
		slog.String("access", redact.Token(out.Access)),
		slog.Bool("rotated", out.Refresh != ""),
	)

	return out.Access, nil
}

// refreshFailed — принудительный выход: пара токенов и профиль удаляются.
func (d *Dispatcher) refreshFailed(ctx context.Context, cause error) error {
	d.metrics.Refresh(metrics.RefreshFailed)

	d.log.Warn("refresh_failed", slog.String("err", cause.Error()))

	if err := d.creds.Clear(ctx); err != nil {
		d.log.Error("credentials_clear_failed", slog.String("err", err.Error()))
	}

	return cause
}
