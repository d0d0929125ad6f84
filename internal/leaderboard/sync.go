// Package leaderboard переносит прогресс игроков из Redis в
// реляционную таблицу лидеров и отдает её содержимое REST API.
package leaderboard

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/cow-game/internal/logging"
	"github.com/annel0/cow-game/internal/stats"
)

// Entry — строка таблицы лидеров.
type Entry struct {
	Username   string `json:"username"`
	Level      int    `json:"level"`
	Experience int64  `json:"experience"`
	HayEaten   int64  `json:"hayEaten"`
}

// Syncer сканирует ключи cow_game:stats:* и апсертит их в таблицу
// leaderboard. Запускается периодически или однократно (cron).
type Syncer struct {
	rdb    *redis.Client
	db     *sql.DB
	logger *logging.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewSyncer создаёт синхронизатор и гарантирует наличие таблицы.
func NewSyncer(rdb *redis.Client, db *sql.DB) (*Syncer, error) {
	s := &Syncer{
		rdb:    rdb,
		db:     db,
		logger: logging.GetStatsLogger(),
	}
	if err := s.ensureTable(); err != nil {
		return nil, fmt.Errorf("leaderboard table: %w", err)
	}
	return s, nil
}

func (s *Syncer) ensureTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS leaderboard (
			username VARCHAR(64) PRIMARY KEY,
			level INT NOT NULL DEFAULT 1,
			experience BIGINT NOT NULL DEFAULT 0,
			hay_eaten BIGINT NOT NULL DEFAULT 0,
			updated_at BIGINT NOT NULL DEFAULT 0
		)
	`)
	return err
}

// Sync выполняет один проход: читает все записи прогресса из Redis
// и апсертит их в таблицу. Поврежденные записи пропускаются.
func (s *Syncer) Sync(ctx context.Context) (int, error) {
	var (
		cursor   uint64
		upserted int
		now      = time.Now().UnixMilli()
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, stats.PlayerKeyPrefix+"*", 100).Result()
		if err != nil {
			return upserted, fmt.Errorf("redis scan: %w", err)
		}
		for _, key := range keys {
			identity := key[len(stats.PlayerKeyPrefix):]
			if identity == "" {
				continue
			}
			raw, err := s.rdb.Get(ctx, key).Bytes()
			if err != nil {
				continue
			}
			var p stats.PlayerProgress
			if err := json.Unmarshal(raw, &p); err != nil {
				s.logger.Warn("Пропущена поврежденная запись %s: %v", key, err)
				continue
			}
			p.Repair()

			_, err = s.db.ExecContext(ctx, `
				INSERT INTO leaderboard (username, level, experience, hay_eaten, updated_at)
				VALUES (?, ?, ?, ?, ?)
				ON DUPLICATE KEY UPDATE
					level = VALUES(level),
					experience = VALUES(experience),
					hay_eaten = VALUES(hay_eaten),
					updated_at = VALUES(updated_at)
			`, identity, p.Level, p.Experience, p.HayEaten, now)
			if err != nil {
				return upserted, fmt.Errorf("leaderboard upsert %s: %w", identity, err)
			}
			upserted++
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if upserted > 0 {
		s.logger.Debug("Синхронизировано %d записей таблицы лидеров", upserted)
	}
	return upserted, nil
}

// Top возвращает верх таблицы лидеров по опыту.
func (s *Syncer) Top(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, level, experience, hay_eaten
		FROM leaderboard
		ORDER BY experience DESC, hay_eaten DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("leaderboard query: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Username, &e.Level, &e.Experience, &e.HayEaten); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// StartPeriodic запускает фоновую синхронизацию с заданным интервалом.
func (s *Syncer) StartPeriodic(interval time.Duration) {
	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if _, err := s.Sync(ctx); err != nil {
					s.logger.Warn("Синхронизация таблицы лидеров: %v", err)
				}
				cancel()
			case <-stop:
				return
			}
		}
	}()
}

// StopPeriodic останавливает фоновую синхронизацию и дожидается её
// завершения.
func (s *Syncer) StopPeriodic() {
	s.mu.Lock()
	if s.stop == nil {
		s.mu.Unlock()
		return
	}
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	close(stop)
	<-done
}
