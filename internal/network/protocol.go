package network

import (
	"github.com/annel0/cow-game/internal/stats"
	"github.com/annel0/cow-game/internal/vec"
	"github.com/annel0/cow-game/internal/world"
)

// Типы входящих сообщений.
const (
	MsgAuthenticate   = "authenticate"
	MsgSetUsername    = "set_username"
	MsgUpdatePosition = "update_position"
	MsgChatMessage    = "chat_message"
	MsgCollectHay     = "collect_hay"
	MsgGetStats       = "get_stats"
)

// InboundMessage — входящее сообщение клиента. Плоская структура с
// дискриминатором type; неиспользуемые поля остаются нулевыми.
type InboundMessage struct {
	Type     string    `json:"type"`
	Username string    `json:"username,omitempty"`
	Password string    `json:"password,omitempty"`
	Color    string    `json:"color,omitempty"`
	Position *vec.Vec3 `json:"position,omitempty"`
	Rotation float64   `json:"rotation,omitempty"`
	Text     string    `json:"text,omitempty"`
	HayID    string    `json:"hayId,omitempty"`
}

// PlayerInfo — публичное состояние игрока для снапшотов.
type PlayerInfo struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Position vec.Vec3 `json:"position"`
	Rotation float64  `json:"rotation"`
	Color    string   `json:"color"`
}

// InitEvent отправляется один раз сразу после подключения.
type InitEvent struct {
	Type        string               `json:"type"` // "init"
	ID          string               `json:"id"`
	Stats       stats.PlayerProgress `json:"stats"`
	GlobalStats stats.GlobalProgress `json:"globalStats"`
	Players     []PlayerInfo         `json:"players"`
	Hay         []world.HayItem      `json:"hay"`
}

// PlayerJoinedEvent рассылается остальным при новом подключении.
type PlayerJoinedEvent struct {
	Type     string   `json:"type"` // "player_joined"
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Position vec.Vec3 `json:"position"`
	Rotation float64  `json:"rotation"`
	Color    string   `json:"color"`
}

// PositionUpdateEvent рассылается при движении игрока.
type PositionUpdateEvent struct {
	Type     string   `json:"type"` // "position_update"
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Position vec.Vec3 `json:"position"`
	Rotation float64  `json:"rotation"`
	Color    string   `json:"color"`
}

// PlayerColor — пара игрок/цвет для color_update.
type PlayerColor struct {
	ID    string `json:"id"`
	Color string `json:"color"`
}

// ColorUpdateEvent рассылается при смене цвета коровы.
type ColorUpdateEvent struct {
	Type    string        `json:"type"` // "color_update"
	Players []PlayerColor `json:"players"`
}

// UsernameUpdateEvent рассылается при смене имени.
type UsernameUpdateEvent struct {
	Type        string `json:"type"` // "username_update"
	ID          string `json:"id"`
	OldUsername string `json:"oldUsername"`
	Username    string `json:"username"`
	Color       string `json:"color"`
}

// UsernameErrorEvent отправляется только инициатору неудачной смены имени.
type UsernameErrorEvent struct {
	Type    string `json:"type"` // "username_error"
	Message string `json:"message"`
}

// AuthResultEvent — ответ на authenticate.
type AuthResultEvent struct {
	Type      string `json:"type"` // "auth_result"
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	IsNewUser bool   `json:"isNewUser"`
}

// ChatMessageEvent рассылается всем при сообщении в чат.
type ChatMessageEvent struct {
	Type     string `json:"type"` // "chat_message"
	Username string `json:"username"`
	Text     string `json:"text"`
}

// HaySpawnedEvent рассылается всем при появлении сена.
type HaySpawnedEvent struct {
	Type     string   `json:"type"` // "hay_spawned"
	HayID    string   `json:"hayId"`
	Position vec.Vec2 `json:"position"`
}

// HayCollectedEvent рассылается всем при сборе сена.
type HayCollectedEvent struct {
	Type     string    `json:"type"` // "hay_collected"
	PlayerID string    `json:"playerId"`
	Username string    `json:"username"`
	HayID    string    `json:"hayId"`
	Position *vec.Vec3 `json:"position,omitempty"`
}

// StatsUpdatedEvent отправляется инициатору после изменения прогресса.
type StatsUpdatedEvent struct {
	Type      string               `json:"type"` // "stats_updated"
	Stats     stats.PlayerProgress `json:"stats"`
	IsNewUser bool                 `json:"isNewUser"`
}

// LevelUpEvent отправляется только игроку, поднявшему уровень.
type LevelUpEvent struct {
	Type     string `json:"type"` // "level_up"
	NewLevel int    `json:"newLevel"`
}

// PlayerStatsUpdatedEvent рассылается остальным при изменении прогресса игрока.
type PlayerStatsUpdatedEvent struct {
	Type     string               `json:"type"` // "player_stats_updated"
	PlayerID string               `json:"playerId"`
	Username string               `json:"username"`
	Stats    stats.PlayerProgress `json:"stats"`
}

// GlobalStatsUpdatedEvent рассылается всем при изменении глобальной статистики.
type GlobalStatsUpdatedEvent struct {
	Type        string               `json:"type"` // "global_stats_updated"
	GlobalStats stats.GlobalProgress `json:"globalStats"`
}

// PlayerLeftEvent рассылается при отключении игрока.
type PlayerLeftEvent struct {
	Type     string `json:"type"` // "player_left"
	ID       string `json:"id"`
	Username string `json:"username"`
}
