// config - источник загрузки конфигурации клиента SchedScan и dev-сервера.
//
// Источники (по убыванию приоритета):
//  1. явный путь --config;
//  2. CONFIG_PATH;
//  3. ./local.yaml;
//  4. только ENV (cleanenv).
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Драйверы хранилища учётных данных.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageRedis  = "redis"
)

type Config struct {
	Env       string          `yaml:"env" env:"ENV" env-default:"local"`
	API       APIConfig       `yaml:"api"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
	Storage   StorageConfig   `yaml:"storage"`
	DevServer DevServerConfig `yaml:"devserver"`
}

// APIConfig — адрес бэкенда и идентификация клиента.
type APIConfig struct {
	BaseURL   string `yaml:"base_url"   env:"API_BASE_URL"   env-default:"http://127.0.0.1:8000/api"`
	UserAgent string `yaml:"user_agent" env:"API_USER_AGENT" env-default:"schedscan-client"`
}

// TimeoutConfig — таймаут одного сетевого вызова.
type TimeoutConfig struct {
	Request time.Duration `yaml:"request" env:"REQUEST_TIMEOUT" env-default:"10s"`
}

// StorageConfig — где лежат токены и профиль.
// Path пустой — файл в пользовательском каталоге конфигурации.
type StorageConfig struct {
	Driver   string `yaml:"driver"    env:"STORAGE_DRIVER"    env-default:"file"`
	Path     string `yaml:"path"      env:"STORAGE_PATH"`
	RedisURL string `yaml:"redis_url" env:"STORAGE_REDIS_URL" env-default:"redis://127.0.0.1:6379/0"`
	Prefix   string `yaml:"prefix"    env:"STORAGE_PREFIX"    env-default:"schedscan:cred:"`
}

// DevServerConfig — локальный бэкенд для разработки и e2e-тестов.
type DevServerConfig struct {
	Host      string        `yaml:"host"       env:"DEVSERVER_HOST"       env-default:"127.0.0.1"`
	Port      string        `yaml:"port"       env:"DEVSERVER_PORT"       env-default:"8000"`
	JWTSecret string        `yaml:"jwt_secret" env:"DEVSERVER_JWT_SECRET" env-default:"dev-secret"`
	AccessTTL time.Duration `yaml:"access_ttl" env:"DEVSERVER_ACCESS_TTL" env-default:"5m"`
}

func (d DevServerConfig) Addr() string { return net.JoinHostPort(d.Host, d.Port) }

// Validate проверяет значения, которые cleanenv не умеет проверить сам.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageMemory, StorageFile, StorageRedis:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if c.API.BaseURL == "" {
		return fmt.Errorf("empty api base_url")
	}

	return nil
}

// MustLoad — паника при ошибке загрузки.
func MustLoad(path string) *Config {
	cfg, err := Load(path)

	if err != nil {
		panic(err)
	}

	return cfg
}

func Load(path string) (*Config, error) {
	var cfg Config

	read := func(p string) (*Config, error) {
		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}

		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}

		return &cfg, nil
	}

	tryRead := func(p string) (*Config, error) {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", p, err)
		}

		return read(p)
	}

	// 1) --config
	if path != "" {
		return tryRead(path)
	}

	// 2) CONFIG_PATH
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return tryRead(envPath)
	}

	// 3) ./local.yaml
	if _, err := os.Stat("local.yaml"); err == nil {
		return read("local.yaml")
	}

	// 4) только ENV
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}
