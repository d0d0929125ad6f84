package config

import (
	"io/ioutil"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации приложения.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	EventBus EventBusConfig `yaml:"eventbus"`
	Game     GameConfig     `yaml:"game"`
}

type ServerConfig struct {
	GamePort int `yaml:"game_port"` // WebSocket игровой сервер
	RESTPort int `yaml:"rest_port"` // REST API (health, user, leaderboard)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DatabaseConfig описывает хранилище аккаунтов.
// Backend: "maria", "mongo" или "memory" (для разработки и тестов).
type DatabaseConfig struct {
	Backend  string `yaml:"backend"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	MongoURI string `yaml:"mongo_uri"`
}

type EventBusConfig struct {
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

// GameConfig содержит настройки игрового мира и таймеров.
type GameConfig struct {
	HayIntervalMs   int     `yaml:"hay_interval_ms"`   // интервал спавна сена
	HayCapacity     int     `yaml:"hay_capacity"`      // максимум сена в мире
	WorldBound      float64 `yaml:"world_bound"`       // ±N по горизонтальным осям
	SweepSeconds    int     `yaml:"sweep_seconds"`     // интервал чистки мертвых соединений
	StoreTimeoutSec int     `yaml:"store_timeout_sec"` // таймаут обращений к внешним хранилищам
	ShutdownSec     int     `yaml:"shutdown_sec"`      // общий лимит graceful shutdown
}

// GetGamePort возвращает игровой порт с поддержкой fallback значений
func (s *ServerConfig) GetGamePort() int {
	return getPortWithEnvFallback(s.GamePort, "COW_GAME_PORT", 8080)
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "COW_REST_PORT", 6060)
}

// GetAddr возвращает адрес Redis с приоритетом: config -> env -> default
func (r *RedisConfig) GetAddr() string {
	if r.Addr != "" {
		return r.Addr
	}
	if env := os.Getenv("REDIS_ADDR"); env != "" {
		return env
	}
	return "127.0.0.1:6379"
}

// HayInterval возвращает интервал спавна сена
func (g *GameConfig) HayInterval() time.Duration {
	if g.HayIntervalMs > 0 {
		return time.Duration(g.HayIntervalMs) * time.Millisecond
	}
	return 2000 * time.Millisecond
}

// MaxHay возвращает вместимость мира по сену
func (g *GameConfig) MaxHay() int {
	if g.HayCapacity > 0 {
		return g.HayCapacity
	}
	return 20
}

// Bound возвращает границу игровой зоны
func (g *GameConfig) Bound() float64 {
	if g.WorldBound > 0 {
		return g.WorldBound
	}
	return 20
}

// SweepInterval возвращает интервал чистки мертвых соединений
func (g *GameConfig) SweepInterval() time.Duration {
	if g.SweepSeconds > 0 {
		return time.Duration(g.SweepSeconds) * time.Second
	}
	return 30 * time.Second
}

// StoreTimeout возвращает таймаут обращений к внешним хранилищам
func (g *GameConfig) StoreTimeout() time.Duration {
	if g.StoreTimeoutSec > 0 {
		return time.Duration(g.StoreTimeoutSec) * time.Second
	}
	return 5 * time.Second
}

// ShutdownTimeout возвращает общий лимит graceful shutdown
func (g *GameConfig) ShutdownTimeout() time.Duration {
	if g.ShutdownSec > 0 {
		return time.Duration(g.ShutdownSec) * time.Second
	}
	return 10 * time.Second
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	// Если порт задан в конфиге и больше 0, используем его
	if configPort > 0 {
		return configPort
	}

	// Пробуем прочитать из environment variable
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	// Используем дефолтное значение
	return defaultPort
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать из ENV COW_CONFIG или возвращает nil, nil.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("COW_CONFIG")
		if path == "" {
			return nil, nil // конфиг не задан — использовать дефолты
		}
	}

	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
