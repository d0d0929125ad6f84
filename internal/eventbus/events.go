package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Типы событий игрового сервера.
const (
	EventPlayerJoined = "player.joined"
	EventPlayerLeft   = "player.left"
	EventHayCollected = "hay.collected"
	EventChatMessage  = "chat.message"
	EventLevelUp      = "player.levelup"
)

const sourceName = "cow-game"

// PlayerEvent — полезная нагрузка событий подключения/отключения.
type PlayerEvent struct {
	SessionID string `json:"sessionId"`
	Username  string `json:"username"`
	Identity  string `json:"identity,omitempty"`
}

// HayCollectedEvent — полезная нагрузка события сбора сена.
type HayCollectedEvent struct {
	SessionID string `json:"sessionId"`
	Username  string `json:"username"`
	HayID     string `json:"hayId"`
}

// LevelUpEvent — полезная нагрузка события повышения уровня.
type LevelUpEvent struct {
	SessionID string `json:"sessionId"`
	Username  string `json:"username"`
	NewLevel  int    `json:"newLevel"`
}

// PublishEvent сериализует payload и отправляет его в глобальную шину.
// Ошибки публикации не критичны для игрового цикла и игнорируются
// вызывающими; шина сама ведет счетчик dropped.
func PublishEvent(ctx context.Context, eventType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return Publish(ctx, &Envelope{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Source:    sourceName,
		EventType: eventType,
		Version:   1,
		Payload:   data,
	})
}
