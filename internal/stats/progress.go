package stats

import "time"

// Имена статистик игрока для инкрементальных операций.
const (
	StatExperience = "experience"
	StatCoins      = "coins"
	StatTimePlayed = "timePlayed"
	StatHayEaten   = "hayEaten"
)

// Имена глобальных статистик.
const (
	GlobalTotalPlayers    = "totalPlayers"
	GlobalTotalHayEaten   = "totalHayEaten"
	GlobalTotalTimePlayed = "totalTimePlayed"
)

// PlayerProgress — накопленный прогресс одного игрока.
// Уровень всегда производен от опыта: level = experience/100 + 1.
type PlayerProgress struct {
	Level      int   `json:"level"`
	Experience int64 `json:"experience"`
	Coins      int64 `json:"coins"`
	TimePlayed int64 `json:"timePlayed"` // секунды
	HayEaten   int64 `json:"hayEaten"`
}

// GlobalProgress — агрегированная статистика сервера.
type GlobalProgress struct {
	TotalPlayers    int64     `json:"totalPlayers"`
	TotalHayEaten   int64     `json:"totalHayEaten"`
	TotalTimePlayed int64     `json:"totalTimePlayed"`
	ServerStartTime time.Time `json:"serverStartTime"`
}

// NewPlayerProgress возвращает прогресс нового игрока.
func NewPlayerProgress() PlayerProgress {
	return PlayerProgress{Level: 1}
}

// DeriveLevel вычисляет уровень из количества опыта.
func DeriveLevel(experience int64) int {
	if experience < 0 {
		return 1
	}
	return int(experience/100) + 1
}

// Repair восстанавливает инварианты прогресса: уровень пересчитывается
// из опыта, отрицательные счетчики обнуляются.
func (p *PlayerProgress) Repair() {
	if p.Experience < 0 {
		p.Experience = 0
	}
	if p.Coins < 0 {
		p.Coins = 0
	}
	if p.TimePlayed < 0 {
		p.TimePlayed = 0
	}
	if p.HayEaten < 0 {
		p.HayEaten = 0
	}
	p.Level = DeriveLevel(p.Experience)
}
