package clients

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/schedscan-client/internal/config"
	apierrors "github.com/pribylovaa/schedscan-client/internal/errors"
	"github.com/pribylovaa/schedscan-client/internal/metrics"
	"github.com/pribylovaa/schedscan-client/internal/models"
	"github.com/pribylovaa/schedscan-client/internal/storage"
	"github.com/pribylovaa/schedscan-client/internal/storage/memory"
)

// recHandler считает записи по сообщению.
type recHandler struct {
	mu    sync.Mutex
	count map[string]int
}

func (h *recHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *recHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == nil {
		h.count = make(map[string]int)
	}
	h.count[r.Message]++
	return nil
}
func (h *recHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recHandler) WithGroup(string) slog.Handler      { return h }

func (h *recHandler) n(msg string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count[msg]
}

// fakeAPI — бэкенд с одним защищённым эндпоинтом /api/auth/user/.
type fakeAPI struct {
	mu      sync.Mutex
	access  string // принимаемый access-токен
	refresh string // принимаемый refresh-токен
	next    models.TokenPair
	rotate  bool

	// refreshStatus != 0 — обмен отклоняется этим статусом.
	refreshStatus int
	// refreshGate — обмен ждёт закрытия канала.
	refreshGate chan struct{}
	// alwaysReject — /auth/user/ всегда отвечает 401.
	alwaysReject bool
	userDelay    time.Duration

	userCalls    atomic.Int32
	refreshCalls atomic.Int32
	unauthorized atomic.Int32

	seenAuth []string
}

func (f *fakeAPI) auths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seenAuth...)
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api"+models.PathUser, func(w http.ResponseWriter, r *http.Request) {
		f.userCalls.Add(1)
		if f.userDelay > 0 {
			time.Sleep(f.userDelay)
		}

		auth := r.Header.Get("Authorization")
		f.mu.Lock()
		f.seenAuth = append(f.seenAuth, auth)
		ok := !f.alwaysReject && auth == "Bearer "+f.access
		f.mu.Unlock()

		if !ok {
			f.unauthorized.Add(1)
			apierrors.WriteDetail(w, http.StatusUnauthorized, "Given token not valid for any token type")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":1,"email":"ivan@example.com","first_name":"Ivan","last_name":"Petrov"}`))
	})

	mux.HandleFunc("/api"+models.PathRefresh, func(w http.ResponseWriter, r *http.Request) {
		f.refreshCalls.Add(1)
		if f.refreshGate != nil {
			select {
			case <-f.refreshGate:
			case <-time.After(2 * time.Second):
			}
		}

		if r.Header.Get("Authorization") != "" {
			apierrors.WriteDetail(w, http.StatusBadRequest, "refresh must be anonymous")
			return
		}

		var in models.RefreshRequest
		_ = json.NewDecoder(r.Body).Decode(&in)

		f.mu.Lock()
		defer f.mu.Unlock()

		if f.refreshStatus != 0 {
			apierrors.WriteDetail(w, f.refreshStatus, "Token is invalid or expired")
			return
		}
		if in.Refresh != f.refresh {
			apierrors.WriteDetail(w, http.StatusUnauthorized, "Token is invalid or expired")
			return
		}

		out := models.RefreshResponse{Access: f.next.Access}
		f.access = f.next.Access
		if f.rotate {
			out.Refresh = f.next.Refresh
			f.refresh = f.next.Refresh
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})

	mux.HandleFunc("/api/status/", func(w http.ResponseWriter, r *http.Request) {
		code := http.StatusNotFound
		switch {
		case strings.HasSuffix(r.URL.Path, "/500"):
			code = http.StatusInternalServerError
		case strings.HasSuffix(r.URL.Path, "/400"):
			code = http.StatusBadRequest
		}
		apierrors.WriteFields(w, code, map[string][]string{"email": {"bad"}})
	})

	return mux
}

type fixture struct {
	api   *fakeAPI
	srv   *httptest.Server
	store *memory.Store
	creds *storage.Credentials
	d     *Dispatcher
	logs  *recHandler
	m     *metrics.Metrics
}

func newFixture(t *testing.T, api *fakeAPI, timeout time.Duration) *fixture {
	t.Helper()

	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	store := memory.New()
	creds := storage.NewCredentials(store)
	logs := &recHandler{}
	m := metrics.New(nil)

	cfg := config.Config{
		API:      config.APIConfig{BaseURL: srv.URL + "/api", UserAgent: "schedscan-test"},
		Timeouts: config.TimeoutConfig{Request: timeout},
	}

	d, err := New(cfg, creds, Options{Logger: slog.New(logs), Metrics: m})
	require.NoError(t, err)
	t.Cleanup(d.Close)

	return &fixture{api: api, srv: srv, store: store, creds: creds, d: d, logs: logs, m: m}
}

func (f *fixture) login(t *testing.T, access, refresh string) {
	t.Helper()
	require.NoError(t, f.creds.SaveTokens(context.Background(), models.TokenPair{Access: access, Refresh: refresh}))
}

func getUser() models.Request {
	return models.Request{Method: http.MethodGet, Path: models.PathUser}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	creds := storage.NewCredentials(memory.New())

	_, err := New(config.Config{API: config.APIConfig{BaseURL: "ftp://x"}}, creds, Options{})
	require.Error(t, err)

	_, err = New(config.Config{API: config.APIConfig{BaseURL: "http://x/api"}}, nil, Options{})
	require.Error(t, err)

	d, err := New(config.Config{API: config.APIConfig{BaseURL: "http://x/api/"}}, creds, Options{})
	require.NoError(t, err)
	require.NotNil(t, d)
}

func TestSend_AttachesBearer(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeAPI{access: "A1"}, time.Second)
	f.login(t, "A1", "R1")

	resp, err := f.d.Send(context.Background(), getUser())
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)
	require.Contains(t, string(resp.Body), "ivan@example.com")
	require.Equal(t, []string{"Bearer A1"}, f.api.auths())
	require.Equal(t, 1, f.logs.n("http"))
}

func TestSend_NoToken_GoesUnauthenticated(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeAPI{access: "A1"}, time.Second)

	resp, err := f.d.Send(context.Background(), getUser())
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.Status)
	require.ErrorIs(t, resp.RefreshErr, ErrNoRefreshToken)
	require.Equal(t, []string{""}, f.api.auths())
	require.Equal(t, int32(0), f.api.refreshCalls.Load())
}

func TestSend_Anonymous_NoBearer_NoRefresh(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeAPI{access: "other"}, time.Second)
	f.login(t, "A1", "R1")

	req := getUser()
	req.Anonymous = true

	resp, err := f.d.Send(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.Status)
	require.NoError(t, resp.RefreshErr)
	require.Equal(t, []string{""}, f.api.auths())
	require.Equal(t, int32(0), f.api.refreshCalls.Load())

	pair, ok := f.creds.Tokens(context.Background())
	require.True(t, ok, "anonymous 401 must not clear credentials")
	require.Equal(t, "A1", pair.Access)
}

func TestSend_OtherStatuses_ReturnedUnmodified(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeAPI{access: "A1"}, time.Second)
	f.login(t, "A1", "R1")

	cases := map[string]int{
		"/status/400": http.StatusBadRequest,
		"/status/404": http.StatusNotFound,
		"/status/500": http.StatusInternalServerError,
	}

	for path, code := range cases {
		resp, err := f.d.Send(context.Background(), models.Request{Method: http.MethodGet, Path: path})
		require.NoError(t, err)
		require.Equal(t, code, resp.Status)
		require.JSONEq(t, `{"email":["bad"]}`, string(resp.Body))
	}

	require.Equal(t, int32(0), f.api.refreshCalls.Load())
}

func TestSend_Unauthorized_RefreshesOnceAndReplays(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{access: "A2", refresh: "R1", next: models.TokenPair{Access: "A2", Refresh: "R2"}, rotate: true}
	f := newFixture(t, api, time.Second)
	f.login(t, "A1", "R1")

	resp, err := f.d.Send(context.Background(), getUser())
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)

	require.Equal(t, int32(1), api.refreshCalls.Load())
	require.Equal(t, int32(2), api.userCalls.Load())
	require.Equal(t, []string{"Bearer A1", "Bearer A2"}, api.auths())

	pair, ok := f.creds.Tokens(context.Background())
	require.True(t, ok)
	require.Equal(t, models.TokenPair{Access: "A2", Refresh: "R2"}, pair)

	require.Equal(t, 1.0, testutil.ToFloat64(f.m.RefreshCounter(metrics.RefreshOK)))
}

func TestSend_RefreshWithoutRotation_KeepsRefreshToken(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{access: "A2", refresh: "R1", next: models.TokenPair{Access: "A2"}}
	f := newFixture(t, api, time.Second)
	f.login(t, "A1", "R1")

	resp, err := f.d.Send(context.Background(), getUser())
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)

	pair, ok := f.creds.Tokens(context.Background())
	require.True(t, ok)
	require.Equal(t, models.TokenPair{Access: "A2", Refresh: "R1"}, pair)
}

func TestSend_NoRefreshToken_ClearsWithoutNetworkCall(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeAPI{access: "A2"}, time.Second)
	ctx := context.Background()
	require.NoError(t, f.store.Put(ctx, storage.KeyAccessToken, "A1"))
	require.NoError(t, f.creds.SaveUser(ctx, models.User{ID: 1}))

	resp, err := f.d.Send(ctx, getUser())
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.Status)
	require.ErrorIs(t, resp.RefreshErr, ErrNoRefreshToken)

	require.Equal(t, int32(0), f.api.refreshCalls.Load())
	require.Empty(t, f.creds.AccessToken(ctx))
	_, ok := f.creds.User(ctx)
	require.False(t, ok)
	require.Equal(t, 0, f.store.Len())
	require.Equal(t, 1, f.logs.n("refresh_failed"))
}

func TestSend_RefreshRejected_ClearsAndReturnsOriginal401(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{access: "A2", refresh: "R1", refreshStatus: http.StatusUnauthorized}
	f := newFixture(t, api, time.Second)
	f.login(t, "A1", "R1")

	resp, err := f.d.Send(context.Background(), getUser())
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.Status)
	require.Contains(t, string(resp.Body), "Given token not valid")

	require.Error(t, resp.RefreshErr)
	require.Equal(t, apierrors.KindAuthorization, apierrors.KindOf(resp.RefreshErr))

	require.Equal(t, int32(1), api.refreshCalls.Load())
	require.Equal(t, int32(1), api.userCalls.Load(), "no replay after failed refresh")
	require.Equal(t, 0, f.store.Len())

	callerErr := apierrors.FromResponse("test", resp)
	require.ErrorIs(t, callerErr, apierrors.ErrUnauthorized)
	require.Equal(t, 1.0, testutil.ToFloat64(f.m.RefreshCounter(metrics.RefreshFailed)))
}

func TestSend_RefreshMalformed_IsFailure(t *testing.T) {
	t.Parallel()

	// next.Access пустой: сервер отвечает 200 без access.
	api := &fakeAPI{access: "A2", refresh: "R1"}
	f := newFixture(t, api, time.Second)
	f.login(t, "A1", "R1")

	resp, err := f.d.Send(context.Background(), getUser())
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.Status)
	require.Equal(t, apierrors.KindServer, apierrors.KindOf(resp.RefreshErr))
	require.Equal(t, 0, f.store.Len())
}

func TestSend_ReplayUnauthorized_NotRetriedAgain(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{access: "A2", refresh: "R1", next: models.TokenPair{Access: "A2", Refresh: "R2"}, rotate: true, alwaysReject: true}
	f := newFixture(t, api, time.Second)
	f.login(t, "A1", "R1")

	resp, err := f.d.Send(context.Background(), getUser())
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.Status)
	require.NoError(t, resp.RefreshErr, "replay outcome is returned verbatim")

	require.Equal(t, int32(1), api.refreshCalls.Load())
	require.Equal(t, int32(2), api.userCalls.Load())

	pair, ok := f.creds.Tokens(context.Background())
	require.True(t, ok, "successful refresh keeps the new pair")
	require.Equal(t, "A2", pair.Access)
}

func TestSend_ConcurrentUnauthorized_SingleRefresh(t *testing.T) {
	t.Parallel()

	const n = 10

	gate := make(chan struct{})
	api := &fakeAPI{access: "A2", refresh: "R1", next: models.TokenPair{Access: "A2", Refresh: "R2"}, rotate: true, refreshGate: gate}
	f := newFixture(t, api, 5*time.Second)
	f.login(t, "A1", "R1")

	// Обмен отвечает только после того, как все n запросов получили 401.
	go func() {
		deadline := time.After(2 * time.Second)
		for api.unauthorized.Load() < n {
			select {
			case <-deadline:
				close(gate)
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
		close(gate)
	}()

	var wg sync.WaitGroup
	statuses := make([]int, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := f.d.Send(context.Background(), getUser())
			errs[i] = err
			if resp != nil {
				statuses[i] = resp.Status
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, http.StatusOK, statuses[i])
	}

	require.Equal(t, int32(1), api.refreshCalls.Load())
	require.Equal(t, int32(2*n), api.userCalls.Load(), "each request replayed exactly once")

	pair, ok := f.creds.Tokens(context.Background())
	require.True(t, ok)
	require.Equal(t, models.TokenPair{Access: "A2", Refresh: "R2"}, pair)
}

func TestSend_ConcurrentUnauthorized_RefreshRejected_AllFail(t *testing.T) {
	t.Parallel()

	const n = 10

	gate := make(chan struct{})
	api := &fakeAPI{access: "A2", refresh: "R1", refreshStatus: http.StatusUnauthorized, refreshGate: gate}
	f := newFixture(t, api, 5*time.Second)
	f.login(t, "A1", "R1")

	go func() {
		deadline := time.After(2 * time.Second)
		for api.unauthorized.Load() < n {
			select {
			case <-deadline:
				close(gate)
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
		close(gate)
	}()

	var wg sync.WaitGroup
	resps := make([]*models.Response, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resps[i], errs[i] = f.d.Send(context.Background(), getUser())
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, http.StatusUnauthorized, resps[i].Status)
		require.Error(t, resps[i].RefreshErr)
	}

	require.Equal(t, int32(1), api.refreshCalls.Load())
	require.Equal(t, int32(n), api.userCalls.Load(), "no replays after failed refresh")
	require.Equal(t, 0, f.store.Len())

	// Запоздавший 401 с тем же отклонённым токеном: обмена больше нет.
	resp, err := f.d.dispatch(context.Background(), getUser(), "A1", 0)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.Status)
	require.ErrorIs(t, resp.RefreshErr, ErrNoRefreshToken)

	require.Equal(t, int32(1), api.refreshCalls.Load())
	require.Equal(t, int32(n+1), api.userCalls.Load())
	require.Equal(t, 0, f.store.Len())
}

func TestRefreshToken_StaleRejectedToken_ReusesStored(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{access: "A2", refresh: "R2"}
	f := newFixture(t, api, time.Second)
	f.login(t, "A2", "R2")

	tok, err := f.d.refreshToken(context.Background(), "A1")
	require.NoError(t, err)
	require.Equal(t, "A2", tok)
	require.Equal(t, int32(0), api.refreshCalls.Load())
	require.Equal(t, 1.0, testutil.ToFloat64(f.m.RefreshCounter(metrics.RefreshShared)))
}

func TestSend_Timeout_IsNetworkError_NoRefresh(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{access: "A1", refresh: "R1", userDelay: 300 * time.Millisecond}
	f := newFixture(t, api, 50*time.Millisecond)
	f.login(t, "A1", "R1")

	resp, err := f.d.Send(context.Background(), getUser())
	require.Nil(t, resp)
	require.ErrorIs(t, err, apierrors.ErrNetwork)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, int32(0), api.refreshCalls.Load())

	pair, ok := f.creds.Tokens(context.Background())
	require.True(t, ok, "timeout must not clear credentials")
	require.Equal(t, "A1", pair.Access)
}

func TestSend_ServerDown_IsNetworkError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeAPI{}, time.Second)
	f.srv.Close()

	_, err := f.d.Send(context.Background(), getUser())
	require.Error(t, err)
	require.Equal(t, apierrors.KindNetwork, apierrors.KindOf(err))
	require.Equal(t, 1, f.logs.n("http"))
}

// failingPut — хранилище, отказывающее в записи.
type failingPut struct {
	*memory.Store
}

func (s failingPut) Put(context.Context, string, string) error {
	return storage.Wrap("put", "", errors.New("read-only filesystem"))
}

func TestSend_RefreshStorageFailure_IsRefreshFailed(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{access: "A2", refresh: "R1", next: models.TokenPair{Access: "A2", Refresh: "R2"}, rotate: true}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	mem := memory.New()
	ctx := context.Background()
	require.NoError(t, mem.Put(ctx, storage.KeyAccessToken, "A1"))
	require.NoError(t, mem.Put(ctx, storage.KeyRefreshToken, "R1"))

	creds := storage.NewCredentials(failingPut{mem})
	d, err := New(config.Config{API: config.APIConfig{BaseURL: srv.URL + "/api"}, Timeouts: config.TimeoutConfig{Request: time.Second}}, creds, Options{Logger: slog.New(&recHandler{})})
	require.NoError(t, err)

	resp, err := d.Send(ctx, getUser())
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.Status)
	require.ErrorIs(t, resp.RefreshErr, apierrors.ErrStorage)
	require.ErrorIs(t, resp.RefreshErr, storage.ErrStorage)
	require.Equal(t, 0, mem.Len())
}
