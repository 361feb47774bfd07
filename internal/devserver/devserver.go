// devserver — локальная in-memory реализация пяти эндпоинтов /api/auth/*,
// которыми пользуется клиент: регистрация, вход, обновление токена, выход
// и профиль. Форматы ответов и ошибок повторяют бэкенд на DRF + SimpleJWT.
//
// Предназначен для разработки и e2e-тестов клиента; данные живут в памяти
// процесса и теряются при перезапуске.
package devserver

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pribylovaa/schedscan-client/internal/models"
)

const (
	defaultAccessTTL  = 5 * time.Minute
	defaultRefreshTTL = 24 * time.Hour
	maxUploadSize     = 5 << 20
)

// Options — параметры dev-сервера.
type Options struct {
	JWTSecret  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Rotate — выдавать новый refresh-токен при каждом обновлении
	// (старый отзывается).
	Rotate bool
	Logger *slog.Logger
	// Now — источник времени; nil — time.Now.
	Now func() time.Time
}

type userRecord struct {
	user         models.User
	passwordHash []byte
}

type mediaFile struct {
	data        []byte
	contentType string
}

// Server безопасен для конкурентного использования.
type Server struct {
	opts Options

	mu      sync.Mutex
	nextID  int64
	users   map[int64]*userRecord
	byEmail map[string]int64
	refresh map[string]*refreshRecord
	media   map[string]mediaFile
}

func New(opts Options) *Server {
	if opts.JWTSecret == "" {
		opts.JWTSecret = "dev-secret"
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = defaultAccessTTL
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = defaultRefreshTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Server{
		opts:    opts,
		users:   make(map[int64]*userRecord),
		byEmail: make(map[string]int64),
		refresh: make(map[string]*refreshRecord),
		media:   make(map[string]mediaFile),
	}
}

// Handler собирает chi-роутер: API смонтирован под /api.
func (s *Server) Handler() http.Handler {
	root := chi.NewRouter()

	// Middleware (внешний -> внутренний).
	root.Use(
		recoverer(),
		requestID(),
		logging(s.opts.Logger),
	)

	api := chi.NewRouter()
	s.registerRoutes(api)
	root.Mount("/api", api)

	root.Get("/media/profile_pictures/{name}", s.servePicture)

	return root
}

// registerRoutes — единая точка регистрации REST-эндпоинтов.
func (s *Server) registerRoutes(r chi.Router) {
	r.Get("/", s.index)

	// auth
	r.Post(models.PathRegister, s.register)
	r.Post(models.PathLogin, s.login)
	r.Post(models.PathRefresh, s.refreshToken)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Post(models.PathLogout, s.logout)
		r.Get(models.PathUser, s.getUser)
		r.Patch(models.PathUser, s.updateUser)
	})
}
