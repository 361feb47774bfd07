// file — драйвер хранилища в JSON-файле с правами 0600.
//
// Формат: один объект {"key": "value", ...}. Запись атомарна на уровне файла:
// временный файл + rename. Повреждённый файл читается как пустой (учётные
// данные отсутствуют) и перезаписывается при следующем Put/Delete.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/pribylovaa/schedscan-client/internal/storage"
)

// DefaultName — имя файла в каталоге конфигурации пользователя.
const DefaultName = "credentials.json"

type Store struct {
	path string
	mu   sync.Mutex
}

// New создаёт драйвер поверх файла path. Пустой path означает
// <os.UserConfigDir>/schedscan/credentials.json.
func New(path string) (*Store, error) {
	const op = "storage.file.New"

	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		path = filepath.Join(dir, "schedscan", DefaultName)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Store{path: path}, nil
}

// Path возвращает путь к файлу.
func (s *Store) Path() string { return s.path }

func (s *Store) Put(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return storage.Wrap("put", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return storage.Wrap("put", key, err)
	}
	data[key] = value

	return storage.Wrap("put", key, s.save(data))
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", storage.Wrap("get", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return "", storage.Wrap("get", key, err)
	}

	v, ok := data[key]
	if !ok {
		return "", storage.ErrNotFound
	}

	return v, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return storage.Wrap("delete", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return storage.Wrap("delete", key, err)
	}

	if _, ok := data[key]; !ok {
		return nil
	}
	delete(data, key)

	return storage.Wrap("delete", key, s.save(data))
}

// load читает файл. Отсутствующий или повреждённый файл — пустая карта;
// ошибкой считаются только сбои ввода-вывода (права доступа и т.п.).
func (s *Store) load() (map[string]string, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return make(map[string]string), nil
		}

		return nil, err
	}

	data := make(map[string]string)
	if err := json.Unmarshal(raw, &data); err != nil {
		return make(map[string]string), nil
	}

	return data, nil
}

func (s *Store) save(data map[string]string) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		if rmErr := os.Remove(tmp); rmErr != nil {
			return fmt.Errorf("rename temp file: %v; remove temp file: %w", err, rmErr)
		}

		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}
