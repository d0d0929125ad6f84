package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/annel0/cow-game/internal/auth"
	"github.com/annel0/cow-game/internal/session"
	"github.com/annel0/cow-game/internal/stats"
)

var (
	testOnce   sync.Once
	testServer *RestServer
	testUsers  *auth.MemoryUserRepo
	testStore  *stats.MemoryStatsStore
)

// newTestServer создает общий сервер для всех тестов пакета:
// prometheus middleware регистрирует метрики в глобальном регистре
// и не переживает повторного создания.
func newTestServer(t *testing.T) *RestServer {
	t.Helper()
	testOnce.Do(func() {
		testUsers = auth.NewMemoryUserRepo()
		testStore = stats.NewMemoryStatsStore()
		hash, _ := auth.HashPassword("secret123")
		testUsers.CreateUser("Alice", hash, "#ff0000")

		testServer = NewRestServer(Config{
			Port:       ":0",
			UserRepo:   testUsers,
			StatsStore: testStore,
			Registry:   session.NewRegistry(),
		})
	})
	return testServer
}

func doRequest(rs *RestServer, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	rs.router.ServeHTTP(w, req)
	return w
}

// TestHealth тестирует /health
func TestHealth(t *testing.T) {
	rs := newTestServer(t)
	w := doRequest(rs, http.MethodGet, "/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Ожидался 200, получен %d", w.Code)
	}
	var resp map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["status"] != "ok" || resp["redis"] != "connected" {
		t.Errorf("Неверный ответ health: %v", resp)
	}
}

// TestUserCheck тестирует проверку занятости имени
func TestUserCheck(t *testing.T) {
	rs := newTestServer(t)

	t.Run("свободное имя", func(t *testing.T) {
		w := doRequest(rs, http.MethodGet, "/user/nobody", nil, nil)
		var resp UserCheckResponse
		json.Unmarshal(w.Body.Bytes(), &resp)
		if !resp.Available || resp.Exists {
			t.Errorf("Свободное имя помечено занятым: %+v", resp)
		}
	})

	t.Run("занятое имя без учета регистра", func(t *testing.T) {
		w := doRequest(rs, http.MethodGet, "/user/ALICE", nil, nil)
		var resp UserCheckResponse
		json.Unmarshal(w.Body.Bytes(), &resp)
		if resp.Available || !resp.Exists {
			t.Errorf("Занятое имя помечено свободным: %+v", resp)
		}
		if resp.Color != "#ff0000" {
			t.Errorf("Не возвращен сохраненный цвет: %s", resp.Color)
		}
	})
}

// TestUserPut тестирует создание аккаунта и обновление цвета
func TestUserPut(t *testing.T) {
	rs := newTestServer(t)

	t.Run("создание без пароля отклоняется", func(t *testing.T) {
		w := doRequest(rs, http.MethodPut, "/user/newcow", UserPutRequest{Color: "#00ff00"}, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("Ожидался 400, получен %d", w.Code)
		}
	})

	t.Run("создание аккаунта", func(t *testing.T) {
		w := doRequest(rs, http.MethodPut, "/user/newcow", UserPutRequest{Password: "pw123", Color: "#00ff00"}, nil)
		if w.Code != http.StatusCreated {
			t.Fatalf("Ожидался 201, получен %d: %s", w.Code, w.Body.String())
		}
		if _, err := testUsers.FindByUsername("newcow"); err != nil {
			t.Errorf("Аккаунт не создан: %v", err)
		}
	})

	t.Run("обновление цвета", func(t *testing.T) {
		w := doRequest(rs, http.MethodPut, "/user/Alice", UserPutRequest{Color: "#0000ff"}, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Ожидался 200, получен %d", w.Code)
		}
		color, _ := testUsers.GetColor("alice")
		if color != "#0000ff" {
			t.Errorf("Цвет не обновлен: %s", color)
		}
	})
}

// TestLoginAndProtectedStats тестирует вход и доступ к защищенному эндпоинту
func TestLoginAndProtectedStats(t *testing.T) {
	rs := newTestServer(t)

	// Без токена доступ закрыт
	w := doRequest(rs, http.MethodGet, "/api/stats", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Ожидался 401 без токена, получен %d", w.Code)
	}

	// Неверный пароль
	w = doRequest(rs, http.MethodPost, "/api/auth/login", LoginRequest{Username: "Alice", Password: "wrong"}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Вход с неверным паролем: %d", w.Code)
	}

	// Успешный вход
	w = doRequest(rs, http.MethodPost, "/api/auth/login", LoginRequest{Username: "Alice", Password: "secret123"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Ожидался 200, получен %d: %s", w.Code, w.Body.String())
	}
	var login LoginResponse
	json.Unmarshal(w.Body.Bytes(), &login)
	if !login.Success || login.Token == "" {
		t.Fatalf("Нет токена в ответе: %+v", login)
	}

	// С токеном статистика доступна
	w = doRequest(rs, http.MethodGet, "/api/stats", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Ожидался 200 с токеном, получен %d", w.Code)
	}
	var resp GenericResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Success {
		t.Errorf("Неуспешный ответ статистики: %+v", resp)
	}
}

// TestLeaderboardDisabled тестирует ответ без настроенной таблицы лидеров
func TestLeaderboardDisabled(t *testing.T) {
	rs := newTestServer(t)
	w := doRequest(rs, http.MethodGet, "/api/leaderboard", nil, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Ожидался 503, получен %d", w.Code)
	}
}

// stuckRepo — справочник, у которого поиск никогда не завершается.
type stuckRepo struct {
	*auth.MemoryUserRepo
	release chan struct{}
}

func (r *stuckRepo) FindByUsername(username string) (*auth.User, error) {
	<-r.release
	return nil, auth.ErrUserNotFound
}

// TestFindUserTimeout тестирует настраиваемый лимит времени поиска:
// повисший справочник дает мягкий отказ, а не вечное ожидание
func TestFindUserTimeout(t *testing.T) {
	repo := &stuckRepo{MemoryUserRepo: auth.NewMemoryUserRepo(), release: make(chan struct{})}
	defer close(repo.release)

	rs := &RestServer{userRepo: repo, dirTimeout: 30 * time.Millisecond}

	start := time.Now()
	_, err := rs.findUserWithTimeout("ghost")
	if err == nil {
		t.Fatal("Ожидалась ошибка таймаута")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Поиск не уложился в лимит: %v", elapsed)
	}
}
