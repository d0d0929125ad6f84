package session

import (
	"errors"
	"sync"
	"time"

	"github.com/annel0/cow-game/internal/stats"
	"github.com/annel0/cow-game/internal/vec"
	"github.com/google/uuid"
)

// AuthState — состояние авторизации сессии.
type AuthState int

const (
	Guest AuthState = iota
	Authenticated
)

// Значения по умолчанию для новой сессии.
const (
	DefaultUsername = "Anonymous"
	DefaultColor    = "#ffffff"
)

var ErrAlreadyAuthenticated = errors.New("session already authenticated")

// Session — серверное состояние одного подключенного клиента.
// Владелец — Registry; мутации проходят через Registry.Update, чтобы
// снапшоты для рассылки не видели частично обновленную сессию.
type Session struct {
	ID       string
	Position vec.Vec3
	Rotation float64
	Username string
	Color    string

	AuthState AuthState
	// Identity — ключ аккаунта (нижний регистр). Устанавливается один
	// раз при авторизации и дальше не меняется.
	Identity string

	// Progress — источник прогресса: персистентный для авторизованных,
	// эфемерный для гостей.
	Progress *stats.ProgressSource

	ConnectedAt time.Time
}

// Registry — авторитетная карта подключенных клиентов.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create регистрирует новую гостевую сессию с состоянием по умолчанию
// и возвращает её идентификатор.
func (r *Registry) Create() string {
	id := uuid.New().String()
	s := &Session{
		ID:        id,
		Position:  vec.Vec3{X: 0, Y: 0.5, Z: 0},
		Rotation:  0,
		Username:  DefaultUsername,
		Color:     DefaultColor,
		AuthState: Guest,
		Progress:  stats.EphemeralSource(),

		ConnectedAt: time.Now(),
	}
	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
	return id
}

// Get возвращает копию сессии. Второе значение false, если сессии нет.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Update применяет мутацию к сессии атомарно относительно снапшотов.
// Возвращает копию обновленной сессии.
func (r *Registry) Update(id string, fn func(*Session)) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	fn(s)
	return *s, true
}

// Authenticate переводит сессию в авторизованное состояние.
// Identity сессии неизменен после установки: повторная авторизация
// возвращает ErrAlreadyAuthenticated.
func (r *Registry) Authenticate(id string, identity string, username string, progress *stats.ProgressSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return errors.New("session not found")
	}
	if s.AuthState == Authenticated {
		return ErrAlreadyAuthenticated
	}
	s.AuthState = Authenticated
	s.Identity = identity
	s.Username = username
	s.Progress = progress
	return nil
}

// Remove удаляет сессию. Возвращает false, если сессии уже нет:
// это позволяет конкурирующим путям удаления (цикл чтения и sweep)
// выполнить разбор сессии ровно один раз.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// All возвращает согласованный снапшот всех сессий.
func (r *Registry) All() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	return out
}

// Count возвращает число подключенных клиентов.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
