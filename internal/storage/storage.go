// storage описывает контракт локального хранилища учётных данных
// (аналог secure storage на устройстве) и типизированную обёртку над ним.
//
// Хранилище — три независимых слота: access_token, refresh_token и user.
// Мультиключевых транзакций драйверы не гарантируют; согласованность пары
// токенов обеспечивает Credentials.
package storage

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/pribylovaa/schedscan-client/internal/storage Store

import (
	"context"
	"errors"
	"fmt"
)

// Ключи слотов хранилища.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyUser         = "user"
)

var (
	// ErrNotFound — значение по ключу отсутствует.
	ErrNotFound = errors.New("not found")
	// ErrStorage — сбой локального хранилища (доступ, повреждение, сеть до redis).
	ErrStorage = errors.New("storage failure")
)

// Store — асинхронное (контекстное) key-value хранилище.
type Store interface {
	// Put сохраняет значение по ключу.
	Put(ctx context.Context, key, value string) error
	// Get возвращает значение или ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Delete удаляет ключ; отсутствие ключа ошибкой не считается.
	Delete(ctx context.Context, key string) error
}

// Error — ошибка драйвера хранилища с контекстом операции.
type Error struct {
	Op  string // "put", "get", "delete"
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is позволяет сопоставлять любую ошибку драйвера с ErrStorage.
func (e *Error) Is(target error) bool { return target == ErrStorage }

// Wrap оборачивает ошибку драйвера; nil и ErrNotFound возвращаются как есть.
func Wrap(op, key string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}

	return &Error{Op: op, Key: key, Err: err}
}
