package auth

import (
	"sync"
	"time"
)

// MemoryUserRepo хранит аккаунты в памяти. Используется в тестах и как
// fallback, когда внешняя БД недоступна.
type MemoryUserRepo struct {
	mu     sync.RWMutex
	users  map[string]*User // ключ: normalize(username)
	nextID uint64
}

// NewMemoryUserRepo создаёт пустой репозиторий.
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{
		users:  make(map[string]*User),
		nextID: 1,
	}
}

// FindByUsername implements UserRepository.
func (m *MemoryUserRepo) FindByUsername(username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[normalize(username)]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// CreateUser implements UserRepository.
func (m *MemoryUserRepo) CreateUser(username string, passwordHash string, color string) (*User, error) {
	if color == "" {
		color = DefaultColor
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := normalize(username)
	if _, exists := m.users[key]; exists {
		return nil, ErrUserExists
	}
	now := time.Now()
	u := &User{
		ID:           m.nextID,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		LastLogin:    now,
		Color:        color,
	}
	m.nextID++
	m.users[key] = u
	cp := *u
	return &cp, nil
}

// RecordLogin implements UserRepository.
func (m *MemoryUserRepo) RecordLogin(username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[normalize(username)]
	if !ok {
		return ErrUserNotFound
	}
	u.LastLogin = time.Now()
	return nil
}

// GetColor implements UserRepository.
func (m *MemoryUserRepo) GetColor(username string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[normalize(username)]
	if !ok || u.Color == "" {
		return DefaultColor, nil
	}
	return u.Color, nil
}

// SetColor implements UserRepository.
func (m *MemoryUserRepo) SetColor(username string, color string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[normalize(username)]
	if !ok {
		return ErrUserNotFound
	}
	u.Color = color
	return nil
}
