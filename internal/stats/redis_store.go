package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/annel0/cow-game/internal/logging"
	"github.com/go-redis/redis/v8"
)

// PlayerKeyPrefix — префикс ключей прогресса игроков. Используется
// также синхронизацией таблицы лидеров.
const PlayerKeyPrefix = "cow_game:stats:"

const (
	globalKey = "cow_game:global_stats"

	// Прогресс игрока живет год с момента последней записи.
	playerTTL = 365 * 24 * time.Hour

	defaultOpTimeout = 5 * time.Second
)

// RedisConfig — настройки подключения к Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// OpTimeout ограничивает каждую операцию с Redis. Ноль означает
	// значение по умолчанию.
	OpTimeout time.Duration
}

// RedisStatsStore реализует StatsStore поверх Redis.
// Прогресс хранится JSON-блобами: по ключу на игрока плюс один
// глобальный ключ. Ошибки Redis логируются и не прерывают игру.
type RedisStatsStore struct {
	client  *redis.Client
	logger  *logging.Logger
	timeout time.Duration
}

// NewRedisStatsStore подключается к Redis и инициализирует глобальную
// статистику, если её ещё нет.
func NewRedisStatsStore(cfg RedisConfig) (*RedisStatsStore, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaultOpTimeout
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  cfg.OpTimeout,
		WriteTimeout: cfg.OpTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.OpTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	store := &RedisStatsStore{
		client:  rdb,
		logger:  logging.GetStatsLogger(),
		timeout: cfg.OpTimeout,
	}
	store.initGlobal(ctx)
	return store, nil
}

// initGlobal создаёт глобальную запись при первом запуске сервера.
// serverStartTime записывается один раз и дальше не меняется.
func (s *RedisStatsStore) initGlobal(ctx context.Context) {
	exists, err := s.client.Exists(ctx, globalKey).Result()
	if err != nil {
		s.logger.Warn("Не удалось проверить глобальную статистику: %v", err)
		return
	}
	if exists > 0 {
		return
	}
	g := GlobalProgress{ServerStartTime: time.Now().UTC()}
	data, _ := json.Marshal(g)
	// Глобальный ключ без TTL
	if err := s.client.Set(ctx, globalKey, data, 0).Err(); err != nil {
		s.logger.Warn("Не удалось инициализировать глобальную статистику: %v", err)
	}
}

func playerKey(identity string) string {
	return PlayerKeyPrefix + identity
}

// GetPlayerProgress читает прогресс игрока. Повреждённая или
// отсутствующая запись даёт прогресс нового игрока.
func (s *RedisStatsStore) GetPlayerProgress(ctx context.Context, identity string) PlayerProgress {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, err := s.client.Get(ctx, playerKey(identity)).Bytes()
	if err == redis.Nil {
		return NewPlayerProgress()
	}
	if err != nil {
		s.logger.Warn("Ошибка чтения прогресса %s: %v", identity, err)
		return NewPlayerProgress()
	}

	var p PlayerProgress
	if err := json.Unmarshal(data, &p); err != nil {
		s.logger.Warn("Повреждённый прогресс %s: %v", identity, err)
		return NewPlayerProgress()
	}

	// Уровень пересчитывается при каждом чтении. Если запись
	// расходится с производным значением, чиним её на месте.
	repaired := p
	repaired.Repair()
	if repaired != p {
		s.SetPlayerProgress(ctx, identity, repaired)
	}
	return repaired
}

// SetPlayerProgress перезаписывает прогресс игрока и продлевает TTL.
func (s *RedisStatsStore) SetPlayerProgress(ctx context.Context, identity string, p PlayerProgress) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	p.Repair()
	data, err := json.Marshal(p)
	if err != nil {
		s.logger.Warn("Ошибка сериализации прогресса %s: %v", identity, err)
		return
	}
	if err := s.client.Set(ctx, playerKey(identity), data, playerTTL).Err(); err != nil {
		s.logger.Warn("Ошибка записи прогресса %s: %v", identity, err)
	}
}

// IncrementPlayerStat прибавляет delta к статистике игрока.
func (s *RedisStatsStore) IncrementPlayerStat(ctx context.Context, identity string, stat string, delta int64) PlayerProgress {
	p := s.GetPlayerProgress(ctx, identity)
	switch stat {
	case StatExperience:
		p.Experience += delta
	case StatCoins:
		p.Coins += delta
	case StatTimePlayed:
		p.TimePlayed += delta
	case StatHayEaten:
		p.HayEaten += delta
	default:
		s.logger.Warn("Неизвестная статистика игрока: %s", stat)
		return p
	}
	p.Repair()
	s.SetPlayerProgress(ctx, identity, p)
	return p
}

// GetGlobalProgress читает глобальную статистику сервера.
func (s *RedisStatsStore) GetGlobalProgress(ctx context.Context) GlobalProgress {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, err := s.client.Get(ctx, globalKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("Ошибка чтения глобальной статистики: %v", err)
		}
		return GlobalProgress{ServerStartTime: time.Now().UTC()}
	}

	var g GlobalProgress
	if err := json.Unmarshal(data, &g); err != nil {
		s.logger.Warn("Повреждённая глобальная статистика: %v", err)
		return GlobalProgress{ServerStartTime: time.Now().UTC()}
	}
	if g.TotalPlayers < 0 {
		g.TotalPlayers = 0
	}
	return g
}

// IncrementGlobalStat прибавляет delta к глобальному счетчику.
func (s *RedisStatsStore) IncrementGlobalStat(ctx context.Context, stat string, delta int64) {
	g := s.GetGlobalProgress(ctx)
	switch stat {
	case GlobalTotalPlayers:
		g.TotalPlayers += delta
		if g.TotalPlayers < 0 {
			g.TotalPlayers = 0
		}
	case GlobalTotalHayEaten:
		g.TotalHayEaten += delta
	case GlobalTotalTimePlayed:
		g.TotalTimePlayed += delta
	default:
		s.logger.Warn("Неизвестная глобальная статистика: %s", stat)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	data, err := json.Marshal(g)
	if err != nil {
		s.logger.Warn("Ошибка сериализации глобальной статистики: %v", err)
		return
	}
	if err := s.client.Set(ctx, globalKey, data, 0).Err(); err != nil {
		s.logger.Warn("Ошибка записи глобальной статистики: %v", err)
	}
}

// Client возвращает низкоуровневый Redis клиент (для синхронизации
// таблицы лидеров).
func (s *RedisStatsStore) Client() *redis.Client {
	return s.client
}

// Ping проверяет доступность Redis.
func (s *RedisStatsStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Close закрывает соединение с Redis.
func (s *RedisStatsStore) Close() error {
	return s.client.Close()
}
