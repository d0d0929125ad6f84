package stats

import "context"

// StatsStore — хранилище прогресса игроков и глобальной статистики.
//
// Контракт "never-fail": операции чтения при недоступности бэкенда
// возвращают значения по умолчанию, операции записи молча теряются.
// Игровой цикл никогда не блокируется и не падает из-за хранилища.
type StatsStore interface {
	// GetPlayerProgress возвращает прогресс игрока по identity
	// (нижний регистр имени аккаунта). Новый или недоступный игрок
	// получает NewPlayerProgress().
	GetPlayerProgress(ctx context.Context, identity string) PlayerProgress

	// SetPlayerProgress полностью перезаписывает прогресс игрока.
	SetPlayerProgress(ctx context.Context, identity string, p PlayerProgress)

	// IncrementPlayerStat прибавляет delta к одной статистике игрока
	// и возвращает обновленный прогресс.
	IncrementPlayerStat(ctx context.Context, identity string, stat string, delta int64) PlayerProgress

	// GetGlobalProgress возвращает глобальную статистику сервера.
	GetGlobalProgress(ctx context.Context) GlobalProgress

	// IncrementGlobalStat прибавляет delta к глобальному счетчику.
	// Счетчик totalPlayers никогда не опускается ниже нуля.
	IncrementGlobalStat(ctx context.Context, stat string, delta int64)

	// Ping проверяет доступность бэкенда (для /health).
	Ping(ctx context.Context) error

	// Close освобождает ресурсы хранилища.
	Close() error
}
