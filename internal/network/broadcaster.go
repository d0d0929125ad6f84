package network

import (
	"encoding/json"
	"sync"

	"github.com/annel0/cow-game/internal/logging"
)

// Peer — получатель событий. Реализуется *Conn; в тестах подменяется
// заглушкой.
type Peer interface {
	Send(data []byte) error
	IsOpen() bool
}

// Broadcaster рассылает типизированные события подключенным клиентам.
// Событие сериализуется один раз на вызов; ошибка записи одному
// получателю не мешает доставке остальным.
type Broadcaster struct {
	mu     sync.RWMutex
	peers  map[string]Peer
	logger *logging.Logger
}

// NewBroadcaster создаёт рассыльщик без получателей.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		peers:  make(map[string]Peer),
		logger: logging.GetNetworkLogger(),
	}
}

// Register привязывает соединение к идентификатору сессии.
func (b *Broadcaster) Register(sessionID string, peer Peer) {
	b.mu.Lock()
	b.peers[sessionID] = peer
	b.mu.Unlock()
}

// Unregister отвязывает соединение. Отсутствующий id безопасен.
func (b *Broadcaster) Unregister(sessionID string) {
	b.mu.Lock()
	delete(b.peers, sessionID)
	b.mu.Unlock()
}

// Peer возвращает соединение сессии.
func (b *Broadcaster) Peer(sessionID string) (Peer, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.peers[sessionID]
	return p, ok
}

// SendTo отправляет событие одной сессии. Закрытое или отсутствующее
// соединение не является ошибкой: событие просто теряется.
func (b *Broadcaster) SendTo(sessionID string, event interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("Ошибка сериализации события: %v", err)
		return
	}
	b.mu.RLock()
	peer, ok := b.peers[sessionID]
	b.mu.RUnlock()
	if !ok || !peer.IsOpen() {
		return
	}
	if err := peer.Send(data); err != nil {
		b.logger.Debug("Доставка %s не удалась: %v", sessionID, err)
	}
}

// SendToAll рассылает событие всем открытым соединениям.
func (b *Broadcaster) SendToAll(event interface{}) {
	b.sendToAllExcept("", event)
}

// SendToAllExcept рассылает событие всем, кроме указанной сессии.
func (b *Broadcaster) SendToAllExcept(excludedSessionID string, event interface{}) {
	b.sendToAllExcept(excludedSessionID, event)
}

func (b *Broadcaster) sendToAllExcept(excluded string, event interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("Ошибка сериализации события: %v", err)
		return
	}

	GetMetrics().Broadcasts.Inc()

	b.mu.RLock()
	targets := make(map[string]Peer, len(b.peers))
	for id, peer := range b.peers {
		if id == excluded {
			continue
		}
		targets[id] = peer
	}
	b.mu.RUnlock()

	for id, peer := range targets {
		if !peer.IsOpen() {
			continue
		}
		if err := peer.Send(data); err != nil {
			b.logger.Debug("Доставка %s не удалась: %v", id, err)
		}
	}
}
