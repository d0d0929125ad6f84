package world

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/annel0/cow-game/internal/logging"
	"github.com/annel0/cow-game/internal/vec"
)

// HayItem — сено, лежащее на поле и доступное для сбора.
type HayItem struct {
	ID       string   `json:"hayId"`
	Position vec.Vec2 `json:"position"`
}

// SpawnFunc вызывается при появлении нового сена (для рассылки клиентам).
type SpawnFunc func(item HayItem)

// HaySpawner порождает сено по таймеру, пока на поле меньше capacity
// предметов. Жизненный цикл: Idle -> StartSpawning -> Running ->
// StopSpawning -> Idle. После возврата из StopSpawning новые тики
// гарантированно не происходят.
type HaySpawner struct {
	mu       sync.Mutex
	items    map[string]HayItem
	capacity int
	bound    float64
	interval time.Duration
	onSpawn  SpawnFunc

	running bool
	stop    chan struct{}
	done    chan struct{}

	rng    *rand.Rand
	logger *logging.Logger
}

// NewHaySpawner создаёт спаунер в состоянии Idle.
// capacity <= 0 и bound <= 0 заменяются значениями по умолчанию.
func NewHaySpawner(capacity int, bound float64, interval time.Duration, onSpawn SpawnFunc) *HaySpawner {
	if capacity <= 0 {
		capacity = 20
	}
	if bound <= 0 {
		bound = 20
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &HaySpawner{
		items:    make(map[string]HayItem),
		capacity: capacity,
		bound:    bound,
		interval: interval,
		onSpawn:  onSpawn,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:   logging.GetGameLogger(),
	}
}

// StartSpawning запускает таймер. Повторный вызов в состоянии Running
// игнорируется.
func (h *HaySpawner) StartSpawning() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.stop = make(chan struct{})
	h.done = make(chan struct{})
	stop, done := h.stop, h.done
	h.mu.Unlock()

	h.logger.Info("Спаунер сена запущен: интервал %v, лимит %d", h.interval, h.capacity)

	go func() {
		defer close(done)
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.Tick()
			case <-stop:
				return
			}
		}
	}()
}

// StopSpawning останавливает таймер и дожидается завершения его
// горутины. Идемпотентен.
func (h *HaySpawner) StopSpawning() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	stop, done := h.stop, h.done
	h.mu.Unlock()

	close(stop)
	<-done
	h.logger.Info("Спаунер сена остановлен")
}

// Tick выполняет один шаг таймера: порождает сено, если лимит не
// достигнут. Вынесен отдельно для детерминированных тестов.
func (h *HaySpawner) Tick() {
	h.mu.Lock()
	if len(h.items) >= h.capacity {
		h.mu.Unlock()
		return
	}
	item := HayItem{
		ID: h.newItemID(),
		Position: vec.Vec2{
			X: (h.rng.Float64()*2 - 1) * h.bound,
			Z: (h.rng.Float64()*2 - 1) * h.bound,
		},
	}
	h.items[item.ID] = item
	onSpawn := h.onSpawn
	h.mu.Unlock()

	if onSpawn != nil {
		onSpawn(item)
	}
}

// newItemID вырабатывает уникальный идентификатор из времени и
// случайного суффикса. Вызывается под h.mu.
func (h *HaySpawner) newItemID() string {
	for {
		id := fmt.Sprintf("hay_%d_%04d", time.Now().UnixMilli(), h.rng.Intn(10000))
		if _, exists := h.items[id]; !exists {
			return id
		}
	}
}

// RemoveItem удаляет сено с поля. Удаление уже собранного предмета
// не является ошибкой: возвращается false.
func (h *HaySpawner) RemoveItem(itemID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.items[itemID]; !ok {
		return false
	}
	delete(h.items, itemID)
	return true
}

// Count возвращает текущее количество сена на поле.
func (h *HaySpawner) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items)
}

// Snapshot возвращает копию текущего набора сена для инициализации
// нового подключения.
func (h *HaySpawner) Snapshot() []HayItem {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]HayItem, 0, len(h.items))
	for _, item := range h.items {
		out = append(out, item)
	}
	return out
}
