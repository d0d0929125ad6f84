package stats

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

// TestDeriveLevel тестирует вычисление уровня из опыта
func TestDeriveLevel(t *testing.T) {
	cases := []struct {
		exp   int64
		level int
	}{
		{0, 1},
		{50, 1},
		{99, 1},
		{100, 2},
		{199, 2},
		{200, 3},
		{1000, 11},
		{-5, 1},
	}
	for _, c := range cases {
		if got := DeriveLevel(c.exp); got != c.level {
			t.Errorf("DeriveLevel(%d) = %d, ожидалось %d", c.exp, got, c.level)
		}
	}
}

// TestRepair тестирует восстановление инвариантов прогресса
func TestRepair(t *testing.T) {
	p := PlayerProgress{Level: 99, Experience: 150, Coins: -3}
	p.Repair()
	if p.Level != 2 {
		t.Errorf("Уровень не пересчитан: %d", p.Level)
	}
	if p.Coins != 0 {
		t.Errorf("Отрицательные монеты не обнулены: %d", p.Coins)
	}
}

func newTestRedisStore(t *testing.T) (*RedisStatsStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStatsStore(RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("Ошибка подключения к miniredis: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, mr
}

// TestRedisStoreNewPlayer тестирует чтение прогресса нового игрока
func TestRedisStoreNewPlayer(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	p := store.GetPlayerProgress(ctx, "newcow")
	if p.Level != 1 || p.Experience != 0 {
		t.Errorf("Новый игрок должен иметь уровень 1 и 0 опыта, получено: %+v", p)
	}
}

// TestRedisStoreRoundTrip тестирует запись и чтение прогресса
func TestRedisStoreRoundTrip(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	store.SetPlayerProgress(ctx, "alice", PlayerProgress{Experience: 250, Coins: 7, HayEaten: 12})

	p := store.GetPlayerProgress(ctx, "alice")
	if p.Experience != 250 || p.Coins != 7 || p.HayEaten != 12 {
		t.Errorf("Прогресс не совпадает: %+v", p)
	}
	if p.Level != 3 {
		t.Errorf("Уровень должен быть производным от опыта: %d", p.Level)
	}

	// У записи игрока установлен TTL
	if mr.TTL(playerKey("alice")) <= 0 {
		t.Error("TTL не установлен на ключе игрока")
	}
}

// TestRedisStoreLevelRepair тестирует починку уровня при чтении
func TestRedisStoreLevelRepair(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	// Запись с расходящимся уровнем, как от старой версии сервера
	mr.Set(playerKey("bob"), `{"level":1,"experience":500,"coins":0,"timePlayed":0,"hayEaten":0}`)

	p := store.GetPlayerProgress(ctx, "bob")
	if p.Level != 6 {
		t.Errorf("Уровень не починен при чтении: %d", p.Level)
	}
}

// TestRedisStoreIncrement тестирует инкремент статистики игрока
func TestRedisStoreIncrement(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	p := store.IncrementPlayerStat(ctx, "carl", StatExperience, 95)
	if p.Level != 1 {
		t.Errorf("Преждевременное повышение уровня: %d", p.Level)
	}
	p = store.IncrementPlayerStat(ctx, "carl", StatExperience, 5)
	if p.Level != 2 {
		t.Errorf("Уровень не повысился на 100 опыта: %d", p.Level)
	}
	if p.Experience != 100 {
		t.Errorf("Опыт не накопился: %d", p.Experience)
	}
}

// TestRedisStoreGlobal тестирует глобальную статистику
func TestRedisStoreGlobal(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	g := store.GetGlobalProgress(ctx)
	if g.ServerStartTime.IsZero() {
		t.Error("serverStartTime не инициализирован")
	}

	store.IncrementGlobalStat(ctx, GlobalTotalPlayers, 1)
	store.IncrementGlobalStat(ctx, GlobalTotalHayEaten, 3)
	g = store.GetGlobalProgress(ctx)
	if g.TotalPlayers != 1 || g.TotalHayEaten != 3 {
		t.Errorf("Глобальные счетчики не сходятся: %+v", g)
	}

	// totalPlayers не уходит в минус
	store.IncrementGlobalStat(ctx, GlobalTotalPlayers, -5)
	g = store.GetGlobalProgress(ctx)
	if g.TotalPlayers != 0 {
		t.Errorf("totalPlayers ушел в минус: %d", g.TotalPlayers)
	}

	// Глобальный ключ без TTL
	if mr.TTL(globalKey) != 0 {
		t.Error("На глобальном ключе не должно быть TTL")
	}
}

// TestRedisStoreCorruptRecord тестирует чтение повреждённой записи
func TestRedisStoreCorruptRecord(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	mr.Set(playerKey("broken"), "{not json")
	p := store.GetPlayerProgress(ctx, "broken")
	if p.Level != 1 || p.Experience != 0 {
		t.Errorf("Повреждённая запись должна давать прогресс нового игрока: %+v", p)
	}
}

// TestEphemeralSource тестирует гостевой прогресс
func TestEphemeralSource(t *testing.T) {
	ctx := context.Background()
	src := EphemeralSource()

	if src.Persisted() {
		t.Error("Гостевой источник не должен быть persisted")
	}
	p := src.Increment(ctx, StatHayEaten, 1)
	if p.HayEaten != 1 {
		t.Errorf("Гостевой инкремент не применился: %+v", p)
	}
	p = src.Increment(ctx, StatExperience, 100)
	if p.Level != 2 {
		t.Errorf("Уровень гостя не пересчитан: %d", p.Level)
	}
}

// TestPersistedSource тестирует источник поверх хранилища
func TestPersistedSource(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStatsStore()
	src := PersistedSource(store, "dana")

	src.Increment(ctx, StatCoins, 5)
	if got := store.GetPlayerProgress(ctx, "dana").Coins; got != 5 {
		t.Errorf("Инкремент не дошел до хранилища: %d", got)
	}
}

// TestEphemeralSourceConcurrent тестирует параллельный доступ к гостевому
// прогрессу: разбор сессии может читать его одновременно с обработчиком
func TestEphemeralSourceConcurrent(t *testing.T) {
	ctx := context.Background()
	src := EphemeralSource()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 250; j++ {
				src.Increment(ctx, StatExperience, 1)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = src.Get(ctx)
		}
	}()
	wg.Wait()

	p := src.Get(ctx)
	if p.Experience != 1000 {
		t.Errorf("Потеряны инкременты: %d из 1000", p.Experience)
	}
	if p.Level != 11 {
		t.Errorf("Уровень не пересчитан: %d", p.Level)
	}
}
