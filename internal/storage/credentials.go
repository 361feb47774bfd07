package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pribylovaa/schedscan-client/internal/models"
)

// Credentials — типизированный доступ к слотам хранилища.
//
// Правила:
//   - на путях чтения любая ошибка хранилища трактуется как "нет данных";
//   - на путях записи ошибки возвращаются вызывающему;
//   - пара токенов, от которой сохранилась только половина (прерванная запись),
//     считается отсутствующей, что вынуждает пройти аутентификацию заново.
type Credentials struct {
	store Store
}

// NewCredentials создаёт обёртку над драйвером.
func NewCredentials(store Store) *Credentials {
	return &Credentials{store: store}
}

// AccessToken — горячий путь: читается перед каждым запросом.
func (c *Credentials) AccessToken(ctx context.Context) string {
	v, err := c.store.Get(ctx, KeyAccessToken)
	if err != nil {
		return ""
	}

	return v
}

// RefreshToken возвращает refresh-токен или "".
func (c *Credentials) RefreshToken(ctx context.Context) string {
	v, err := c.store.Get(ctx, KeyRefreshToken)
	if err != nil {
		return ""
	}

	return v
}

// Tokens возвращает пару токенов, если она сохранена целиком.
func (c *Credentials) Tokens(ctx context.Context) (models.TokenPair, bool) {
	pair := models.TokenPair{
		Access:  c.AccessToken(ctx),
		Refresh: c.RefreshToken(ctx),
	}
	if !pair.Complete() {
		return models.TokenPair{}, false
	}

	return pair, true
}

// SaveTokens записывает пару: сначала refresh, затем access. Прерванная
// запись оставляет либо старый access рядом с новым refresh, либо refresh без
// access (пара неполная, сессии нет).
//
// Пустой pair.Refresh сохраняет текущий refresh-токен (сервер без ротации).
func (c *Credentials) SaveTokens(ctx context.Context, pair models.TokenPair) error {
	const op = "storage.Credentials.SaveTokens"

	if pair.Access == "" {
		return fmt.Errorf("%s: empty access token", op)
	}

	if pair.Refresh != "" {
		if err := c.store.Put(ctx, KeyRefreshToken, pair.Refresh); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	if err := c.store.Put(ctx, KeyAccessToken, pair.Access); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// SaveUser кэширует профиль.
func (c *Credentials) SaveUser(ctx context.Context, user models.User) error {
	const op = "storage.Credentials.SaveUser"

	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := c.store.Put(ctx, KeyUser, string(raw)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// User возвращает кэшированный профиль; битый JSON трактуется как отсутствие.
func (c *Credentials) User(ctx context.Context) (*models.User, bool) {
	raw, err := c.store.Get(ctx, KeyUser)
	if err != nil || raw == "" {
		return nil, false
	}

	var u models.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, false
	}

	return &u, true
}

// Clear удаляет все слоты. Пытается удалить каждый ключ, даже если
// предыдущий не удалился, и возвращает объединённую ошибку.
func (c *Credentials) Clear(ctx context.Context) error {
	const op = "storage.Credentials.Clear"

	var errs []error
	for _, key := range []string{KeyAccessToken, KeyRefreshToken, KeyUser} {
		if err := c.store.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
