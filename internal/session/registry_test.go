package session

import (
	"sync"
	"testing"

	"github.com/annel0/cow-game/internal/stats"
	"github.com/annel0/cow-game/internal/vec"
)

// TestRegistryCreateDefaults тестирует состояние новой сессии
func TestRegistryCreateDefaults(t *testing.T) {
	reg := NewRegistry()
	id := reg.Create()

	s, ok := reg.Get(id)
	if !ok {
		t.Fatal("Созданная сессия не найдена")
	}
	if s.Position != (vec.Vec3{X: 0, Y: 0.5, Z: 0}) {
		t.Errorf("Неверная стартовая позиция: %+v", s.Position)
	}
	if s.Username != DefaultUsername || s.Color != DefaultColor {
		t.Errorf("Неверные значения по умолчанию: %s %s", s.Username, s.Color)
	}
	if s.AuthState != Guest {
		t.Error("Новая сессия должна быть гостевой")
	}
	if s.Progress == nil || s.Progress.Persisted() {
		t.Error("У гостя должен быть эфемерный прогресс")
	}
}

// TestRegistryUniqueIDs тестирует уникальность идентификаторов
func TestRegistryUniqueIDs(t *testing.T) {
	reg := NewRegistry()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := reg.Create()
		if seen[id] {
			t.Fatalf("Дубликат идентификатора сессии: %s", id)
		}
		seen[id] = true
	}
}

// TestRegistryUpdate тестирует атомарное обновление сессии
func TestRegistryUpdate(t *testing.T) {
	reg := NewRegistry()
	id := reg.Create()

	updated, ok := reg.Update(id, func(s *Session) {
		s.Position = vec.Vec3{X: 3, Y: 0.5, Z: -7}
		s.Rotation = 1.5
		s.Username = "Bob"
	})
	if !ok {
		t.Fatal("Update не нашел сессию")
	}
	if updated.Username != "Bob" || updated.Rotation != 1.5 {
		t.Errorf("Обновление не применилось: %+v", updated)
	}

	if _, ok := reg.Update("missing", func(s *Session) {}); ok {
		t.Error("Update несуществующей сессии должен вернуть false")
	}
}

// TestRegistryAuthenticateOnce тестирует неизменность identity сессии
func TestRegistryAuthenticateOnce(t *testing.T) {
	reg := NewRegistry()
	id := reg.Create()

	store := stats.NewMemoryStatsStore()
	if err := reg.Authenticate(id, "bob", "Bob", stats.PersistedSource(store, "bob")); err != nil {
		t.Fatalf("Авторизация не прошла: %v", err)
	}

	s, _ := reg.Get(id)
	if s.AuthState != Authenticated || s.Identity != "bob" {
		t.Errorf("Сессия не авторизована: %+v", s)
	}

	// Повторная авторизация отклоняется, identity не меняется
	err := reg.Authenticate(id, "mallory", "Mallory", stats.PersistedSource(store, "mallory"))
	if err != ErrAlreadyAuthenticated {
		t.Errorf("Ожидался ErrAlreadyAuthenticated, получено: %v", err)
	}
	s, _ = reg.Get(id)
	if s.Identity != "bob" {
		t.Errorf("Identity изменился после повторной авторизации: %s", s.Identity)
	}
}

// TestRegistryRemove тестирует удаление сессии
func TestRegistryRemove(t *testing.T) {
	reg := NewRegistry()
	id := reg.Create()

	if !reg.Remove(id) {
		t.Error("Первое удаление должно вернуть true")
	}
	if _, ok := reg.Get(id); ok {
		t.Error("Сессия найдена после удаления")
	}
	// Повторное удаление безопасно и сообщает, что сессии уже нет
	if reg.Remove(id) {
		t.Error("Повторное удаление должно вернуть false")
	}
}

// TestRegistryConcurrentAccess тестирует конкурентные мутации и снапшоты
func TestRegistryConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	ids := make([]string, 10)
	for i := range ids {
		ids[i] = reg.Create()
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				reg.Update(id, func(s *Session) {
					s.Position.X += 0.1
				})
			}
		}(id)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			for range reg.All() {
			}
		}
	}()
	wg.Wait()

	if reg.Count() != 10 {
		t.Errorf("Потеряны сессии: %d", reg.Count())
	}
}
