package stats

import (
	"context"
	"sync"
)

// ProgressSource — источник прогресса для одной сессии.
//
// У авторизованного игрока прогресс живет в StatsStore по его identity.
// У гостя прогресс эфемерный: копится в памяти сессии и исчезает
// вместе с подключением. Эфемерный прогресс защищен мьютексом:
// разбор сессии может идти параллельно с ее обработчиком сообщений.
type ProgressSource struct {
	identity string
	store    StatsStore

	mu        sync.Mutex
	ephemeral PlayerProgress
}

// PersistedSource возвращает источник, привязанный к аккаунту.
func PersistedSource(store StatsStore, identity string) *ProgressSource {
	return &ProgressSource{identity: identity, store: store}
}

// EphemeralSource возвращает гостевой источник с прогрессом нового игрока.
func EphemeralSource() *ProgressSource {
	return &ProgressSource{ephemeral: NewPlayerProgress()}
}

// Persisted сообщает, сохраняется ли прогресс между подключениями.
func (ps *ProgressSource) Persisted() bool {
	return ps.store != nil
}

// Identity возвращает ключ аккаунта, пустая строка для гостя.
func (ps *ProgressSource) Identity() string {
	return ps.identity
}

// Get возвращает текущий прогресс.
func (ps *ProgressSource) Get(ctx context.Context) PlayerProgress {
	if ps.store != nil {
		return ps.store.GetPlayerProgress(ctx, ps.identity)
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.ephemeral
}

// Increment прибавляет delta к статистике и возвращает обновленный прогресс.
func (ps *ProgressSource) Increment(ctx context.Context, stat string, delta int64) PlayerProgress {
	if ps.store != nil {
		return ps.store.IncrementPlayerStat(ctx, ps.identity, stat, delta)
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	switch stat {
	case StatExperience:
		ps.ephemeral.Experience += delta
	case StatCoins:
		ps.ephemeral.Coins += delta
	case StatTimePlayed:
		ps.ephemeral.TimePlayed += delta
	case StatHayEaten:
		ps.ephemeral.HayEaten += delta
	}
	ps.ephemeral.Repair()
	return ps.ephemeral
}
