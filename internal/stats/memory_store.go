package stats

import (
	"context"
	"sync"
	"time"
)

// MemoryStatsStore хранит статистику в памяти. Используется в тестах
// и как fallback, когда Redis недоступен при старте.
type MemoryStatsStore struct {
	mu      sync.RWMutex
	players map[string]PlayerProgress
	global  GlobalProgress
}

// NewMemoryStatsStore создаёт пустое хранилище.
func NewMemoryStatsStore() *MemoryStatsStore {
	return &MemoryStatsStore{
		players: make(map[string]PlayerProgress),
		global:  GlobalProgress{ServerStartTime: time.Now().UTC()},
	}
}

// GetPlayerProgress implements StatsStore.
func (s *MemoryStatsStore) GetPlayerProgress(_ context.Context, identity string) PlayerProgress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[identity]
	if !ok {
		return NewPlayerProgress()
	}
	p.Repair()
	return p
}

// SetPlayerProgress implements StatsStore.
func (s *MemoryStatsStore) SetPlayerProgress(_ context.Context, identity string, p PlayerProgress) {
	p.Repair()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.players[identity] = p
}

// IncrementPlayerStat implements StatsStore.
func (s *MemoryStatsStore) IncrementPlayerStat(_ context.Context, identity string, stat string, delta int64) PlayerProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[identity]
	if !ok {
		p = NewPlayerProgress()
	}
	switch stat {
	case StatExperience:
		p.Experience += delta
	case StatCoins:
		p.Coins += delta
	case StatTimePlayed:
		p.TimePlayed += delta
	case StatHayEaten:
		p.HayEaten += delta
	}
	p.Repair()
	s.players[identity] = p
	return p
}

// GetGlobalProgress implements StatsStore.
func (s *MemoryStatsStore) GetGlobalProgress(_ context.Context) GlobalProgress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.global
}

// IncrementGlobalStat implements StatsStore.
func (s *MemoryStatsStore) IncrementGlobalStat(_ context.Context, stat string, delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch stat {
	case GlobalTotalPlayers:
		s.global.TotalPlayers += delta
		if s.global.TotalPlayers < 0 {
			s.global.TotalPlayers = 0
		}
	case GlobalTotalHayEaten:
		s.global.TotalHayEaten += delta
	case GlobalTotalTimePlayed:
		s.global.TotalTimePlayed += delta
	}
}

// Ping implements StatsStore.
func (s *MemoryStatsStore) Ping(_ context.Context) error {
	return nil
}

// Close implements StatsStore.
func (s *MemoryStatsStore) Close() error {
	return nil
}
