// session — фасад аутентифицированной сессии: вход, регистрация, выход,
// профиль текущего пользователя. Владеет переходами жизненного цикла
// учётных данных; сетевые вызовы идут через диспетчер (clients.Dispatcher),
// который прозрачно обновляет access-токен.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/pribylovaa/schedscan-client/internal/errors"
	"github.com/pribylovaa/schedscan-client/internal/models"
	"github.com/pribylovaa/schedscan-client/internal/pkg/redact"
	"github.com/pribylovaa/schedscan-client/internal/storage"
)

// Sender — контракт диспетчера запросов.
//
//go:generate mockgen -destination=mocks/mock_sender.go -package=mocks github.com/pribylovaa/schedscan-client/internal/session Sender
type Sender interface {
	Send(ctx context.Context, req models.Request) (*models.Response, error)
}

// Session безопасен для конкурентного использования.
type Session struct {
	sender Sender
	creds  *storage.Credentials
	log    *slog.Logger
}

func New(sender Sender, creds *storage.Credentials, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}

	return &Session{sender: sender, creds: creds, log: log}
}

// Login проверяет форму входных данных локально и выполняет вход.
// При успехе сохраняет пару токенов и профиль.
func (s *Session) Login(ctx context.Context, email, password string) (*models.Session, error) {
	const op = "session.Login"

	if errs := validateLogin(email, password); len(errs) > 0 {
		return nil, apierrors.Validation(op, errs)
	}

	req, err := jsonRequest(http.MethodPost, models.PathLogin, models.LoginRequest{Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	req.Anonymous = true

	resp, err := s.sender.Send(ctx, req)
	if err != nil {
		return nil, err
	}

	sess, err := s.establish(ctx, op, resp)
	if err != nil {
		s.log.Info("login_failed",
			slog.String("email", redact.Email(email)),
			slog.String("err", err.Error()),
		)
		return nil, err
	}

	s.log.Info("login_succeeded",
		slog.String("email", redact.Email(email)),
		slog.Int64("user_id", sess.User.ID),
	)

	return sess, nil
}

// Register создаёт аккаунт (multipart/form-data) и открывает сессию.
func (s *Session) Register(ctx context.Context, in models.RegisterInput) (*models.Session, error) {
	const op = "session.Register"

	if errs := validateRegister(in); len(errs) > 0 {
		return nil, apierrors.Validation(op, errs)
	}

	req, err := registerRequest(in)
	if err != nil {
		return nil, err
	}

	resp, err := s.sender.Send(ctx, req)
	if err != nil {
		return nil, err
	}

	sess, err := s.establish(ctx, op, resp)
	if err != nil {
		s.log.Info("register_failed",
			slog.String("email", redact.Email(in.Email)),
			slog.String("err", err.Error()),
		)
		return nil, err
	}

	s.log.Info("register_succeeded",
		slog.String("email", redact.Email(in.Email)),
		slog.Int64("user_id", sess.User.ID),
	)

	return sess, nil
}

// Logout — best-effort отзыв refresh-токена на сервере и безусловная
// очистка хранилища. Возвращает только ошибку очистки.
//
// Очистка выполняется и после истечения или отмены ctx вызывающего.
func (s *Session) Logout(ctx context.Context) error {
	const op = "session.Logout"

	if refresh := s.creds.RefreshToken(ctx); refresh != "" {
		s.revoke(ctx, refresh)
	}

	if err := s.creds.Clear(context.WithoutCancel(ctx)); err != nil {
		s.log.Error("logout_clear_failed", slog.String("err", err.Error()))
		return apierrors.Storage(op, err)
	}

	s.log.Info("logged_out")

	return nil
}

// revoke отзывает refresh-токен. Если во время вызова сработало обновление
// с ротацией, повтор несёт старый токен и отклоняется; тогда отзывается
// новый токен из хранилища (одна дополнительная попытка).
func (s *Session) revoke(ctx context.Context, refresh string) {
	err := s.sendLogout(ctx, refresh)
	if err == nil {
		return
	}

	rotated := s.creds.RefreshToken(ctx)
	if rotated != "" && rotated != refresh {
		refresh = rotated
		err = s.sendLogout(ctx, refresh)
	}

	if err != nil {
		s.log.Warn("logout_remote_failed",
			slog.String("refresh", redact.Token(refresh)),
			slog.String("err", err.Error()),
		)
	}
}

func (s *Session) sendLogout(ctx context.Context, refresh string) error {
	const op = "session.Logout"

	req, err := jsonRequest(http.MethodPost, models.PathLogout, models.LogoutRequest{Refresh: refresh})
	if err != nil {
		return err
	}

	resp, err := s.sender.Send(ctx, req)
	if err != nil {
		return err
	}

	return apierrors.FromResponse(op, resp)
}

// CurrentUser запрашивает профиль с сервера и обновляет кэш.
// Сбой записи кэша не влияет на результат: профиль в хранилище — только подсказка.
func (s *Session) CurrentUser(ctx context.Context) (*models.User, error) {
	const op = "session.CurrentUser"

	resp, err := s.sender.Send(ctx, models.Request{Method: http.MethodGet, Path: models.PathUser})
	if err != nil {
		return nil, err
	}

	return s.acceptUser(ctx, op, resp)
}

// UpdateProfile меняет имя и/или фамилию (PATCH /auth/user/).
func (s *Session) UpdateProfile(ctx context.Context, in models.ProfileUpdate) (*models.User, error) {
	const op = "session.UpdateProfile"

	if errs := validateProfile(in); len(errs) > 0 {
		return nil, apierrors.Validation(op, errs)
	}

	req, err := jsonRequest(http.MethodPatch, models.PathUser, in)
	if err != nil {
		return nil, err
	}

	resp, err := s.sender.Send(ctx, req)
	if err != nil {
		return nil, err
	}

	return s.acceptUser(ctx, op, resp)
}

// IsAuthenticated — локальная проверка: в хранилище есть полная пара токенов.
// Сервер при этом не опрашивается.
func (s *Session) IsAuthenticated(ctx context.Context) bool {
	_, ok := s.creds.Tokens(ctx)
	return ok
}

// StoredUser возвращает кэшированный профиль без обращения к сети.
func (s *Session) StoredUser(ctx context.Context) (*models.User, bool) {
	return s.creds.User(ctx)
}

// Ping проверяет доступность бэкенда (GET / без авторизации).
func (s *Session) Ping(ctx context.Context) error {
	const op = "session.Ping"

	resp, err := s.sender.Send(ctx, models.Request{Method: http.MethodGet, Path: "/", Anonymous: true})
	if err != nil {
		return err
	}

	return apierrors.FromResponse(op, resp)
}

// establish разбирает AuthResponse и сохраняет сессию целиком. При сбое
// записи восстанавливается прежняя сессия, если она была.
func (s *Session) establish(ctx context.Context, op string, resp *models.Response) (*models.Session, error) {
	if err := apierrors.FromResponse(op, resp); err != nil {
		return nil, err
	}

	var out models.AuthResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, apierrors.Malformed(op, resp.Status, err)
	}
	if !out.Tokens.Complete() {
		return nil, apierrors.Malformed(op, resp.Status, errors.New("incomplete token pair"))
	}

	prev := s.snapshot(ctx)

	if err := s.creds.SaveTokens(ctx, out.Tokens); err != nil {
		s.rollback(ctx, prev)
		return nil, apierrors.Storage(op, err)
	}
	if err := s.creds.SaveUser(ctx, out.User); err != nil {
		s.rollback(ctx, prev)
		return nil, apierrors.Storage(op, err)
	}

	return &models.Session{User: out.User, Tokens: out.Tokens}, nil
}

// stored — содержимое хранилища до перезаписи.
type stored struct {
	tokens  models.TokenPair
	user    *models.User
	present bool
}

func (s *Session) snapshot(ctx context.Context) stored {
	pair, ok := s.creds.Tokens(ctx)
	if !ok {
		return stored{}
	}

	u, _ := s.creds.User(ctx)
	return stored{tokens: pair, user: u, present: true}
}

// rollback возвращает хранилище к prev. Если вернуть не удалось,
// хранилище остаётся пустым.
func (s *Session) rollback(ctx context.Context, prev stored) {
	ctx = context.WithoutCancel(ctx)

	err := s.creds.Clear(ctx)
	if err == nil && prev.present {
		err = s.creds.SaveTokens(ctx, prev.tokens)
		if err == nil && prev.user != nil {
			err = s.creds.SaveUser(ctx, *prev.user)
		}
		if err != nil {
			s.log.Warn("session_restore_failed", slog.String("err", err.Error()))
			err = s.creds.Clear(ctx)
		}
	}

	if err != nil {
		s.log.Error("credentials_clear_failed", slog.String("err", err.Error()))
	}
}

func (s *Session) acceptUser(ctx context.Context, op string, resp *models.Response) (*models.User, error) {
	if err := apierrors.FromResponse(op, resp); err != nil {
		return nil, err
	}

	var u models.User
	if err := json.Unmarshal(resp.Body, &u); err != nil {
		return nil, apierrors.Malformed(op, resp.Status, err)
	}

	if err := s.creds.SaveUser(ctx, u); err != nil {
		s.log.Warn("profile_cache_failed", slog.String("err", err.Error()))
	}

	return &u, nil
}

func jsonRequest(method, path string, v any) (models.Request, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return models.Request{}, err
	}

	return models.Request{
		Method: method,
		Path:   path,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   body,
	}, nil
}
