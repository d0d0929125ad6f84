package network

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/annel0/cow-game/internal/auth"
	"github.com/annel0/cow-game/internal/session"
	"github.com/annel0/cow-game/internal/stats"
	"github.com/annel0/cow-game/internal/world"
)

// fakePeer — тестовый получатель событий вместо WebSocket соединения.
type fakePeer struct {
	mu     sync.Mutex
	open   bool
	events []map[string]interface{}
}

func newFakePeer() *fakePeer {
	return &fakePeer{open: true}
}

func (p *fakePeer) Send(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return ErrConnClosed
	}
	var ev map[string]interface{}
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePeer) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

func (p *fakePeer) close() {
	p.mu.Lock()
	p.open = false
	p.mu.Unlock()
}

// countType возвращает число полученных событий данного типа.
func (p *fakePeer) countType(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev["type"] == eventType {
			n++
		}
	}
	return n
}

// lastOfType возвращает последнее событие данного типа.
func (p *fakePeer) lastOfType(eventType string) map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i]["type"] == eventType {
			return p.events[i]
		}
	}
	return nil
}

func newTestManager() (*ConnectionManager, stats.StatsStore, *auth.MemoryUserRepo) {
	registry := session.NewRegistry()
	spawner := world.NewHaySpawner(20, 20, time.Hour, nil)
	store := stats.NewMemoryStatsStore()
	users := auth.NewMemoryUserRepo()
	m := NewConnectionManager(registry, spawner, store, users, NewBroadcaster())
	return m, store, users
}

// TestBroadcastSkipsClosedPeer тестирует изоляцию отказов при рассылке
func TestBroadcastSkipsClosedPeer(t *testing.T) {
	b := NewBroadcaster()
	a, bPeer, c := newFakePeer(), newFakePeer(), newFakePeer()
	b.Register("A", a)
	b.Register("B", bPeer)
	b.Register("C", c)

	// B закрыт без уведомления реестра
	bPeer.close()

	b.SendToAll(ChatMessageEvent{Type: "chat_message", Username: "x", Text: "hello"})

	if a.countType("chat_message") != 1 || c.countType("chat_message") != 1 {
		t.Error("Открытые соединения не получили рассылку")
	}
	if bPeer.countType("chat_message") != 0 {
		t.Error("Закрытое соединение получило рассылку")
	}
}

// TestBroadcastExcludesSender тестирует рассылку с исключением
func TestBroadcastExcludesSender(t *testing.T) {
	b := NewBroadcaster()
	a, c := newFakePeer(), newFakePeer()
	b.Register("A", a)
	b.Register("C", c)

	b.SendToAllExcept("A", PlayerLeftEvent{Type: "player_left", ID: "x"})
	if a.countType("player_left") != 0 {
		t.Error("Исключенная сессия получила событие")
	}
	if c.countType("player_left") != 1 {
		t.Error("Остальные не получили событие")
	}
}

// TestRegisterSendsInit тестирует снапшот мира при подключении
func TestRegisterSendsInit(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	first := newFakePeer()
	m.register(ctx, first)

	second := newFakePeer()
	m.register(ctx, second)

	init := second.lastOfType("init")
	if init == nil {
		t.Fatal("Новый клиент не получил init")
	}
	players, _ := init["players"].([]interface{})
	if len(players) != 1 {
		t.Errorf("В init должен быть один другой игрок, получено %d", len(players))
	}
	if first.countType("player_joined") != 1 {
		t.Error("Существующий клиент не получил player_joined")
	}
}

// TestJoinLeaveTotalPlayers тестирует счетчик онлайна
func TestJoinLeaveTotalPlayers(t *testing.T) {
	m, store, _ := newTestManager()
	ctx := context.Background()

	ids := make([]string, 3)
	for i := range ids {
		ids[i] = m.register(ctx, newFakePeer())
	}
	if got := store.GetGlobalProgress(ctx).TotalPlayers; got != 3 {
		t.Errorf("После 3 подключений ожидалось 3, получено %d", got)
	}

	m.teardown(ctx, ids[0])
	if got := store.GetGlobalProgress(ctx).TotalPlayers; got != 2 {
		t.Errorf("После отключения ожидалось 2, получено %d", got)
	}

	// Повторный teardown той же сессии не двигает счетчик
	m.teardown(ctx, ids[0])
	if got := store.GetGlobalProgress(ctx).TotalPlayers; got != 2 {
		t.Errorf("Повторный teardown изменил счетчик: %d", got)
	}

	m.teardown(ctx, ids[1])
	m.teardown(ctx, ids[2])
	if got := store.GetGlobalProgress(ctx).TotalPlayers; got != 0 {
		t.Errorf("После всех отключений ожидалось 0, получено %d", got)
	}
}

// TestGuestUsernameConflict тестирует защиту имен зарегистрированных аккаунтов
func TestGuestUsernameConflict(t *testing.T) {
	m, _, users := newTestManager()
	ctx := context.Background()

	hash, _ := auth.HashPassword("pw")
	if _, err := users.CreateUser("Alice", hash, ""); err != nil {
		t.Fatalf("Ошибка создания аккаунта: %v", err)
	}

	guest := newFakePeer()
	guestID := m.register(ctx, guest)
	observer := newFakePeer()
	m.register(ctx, observer)

	// Попытка занять имя в другом регистре
	m.dispatch(ctx, guestID, &InboundMessage{Type: MsgSetUsername, Username: "ALICE"})

	if guest.countType("username_error") != 1 {
		t.Error("Гость не получил username_error")
	}
	if observer.countType("username_update") != 0 {
		t.Error("username_update разослан несмотря на отказ")
	}

	sess, _ := m.registry.Get(guestID)
	if sess.Username != session.DefaultUsername {
		t.Errorf("Имя сессии изменилось: %s", sess.Username)
	}
}

// TestSetUsernameBroadcast тестирует успешную смену имени и цвета
func TestSetUsernameBroadcast(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	client := newFakePeer()
	clientID := m.register(ctx, client)
	observer := newFakePeer()
	m.register(ctx, observer)

	m.dispatch(ctx, clientID, &InboundMessage{Type: MsgSetUsername, Username: "Bob", Color: "#ff0000"})

	update := observer.lastOfType("username_update")
	if update == nil {
		t.Fatal("Остальные не получили username_update")
	}
	if update["username"] != "Bob" || update["oldUsername"] != session.DefaultUsername {
		t.Errorf("Неверное содержимое username_update: %v", update)
	}
	if observer.countType("color_update") == 0 {
		t.Error("Остальные не получили color_update")
	}

	reply := client.lastOfType("stats_updated")
	if reply == nil {
		t.Fatal("Инициатор не получил stats_updated")
	}
	statsObj, _ := reply["stats"].(map[string]interface{})
	if statsObj["level"].(float64) != 1 || statsObj["experience"].(float64) != 0 {
		t.Errorf("У нового игрока должен быть уровень 1 и 0 опыта: %v", statsObj)
	}
}

// TestCollectHayRewards тестирует награду и повышение уровня.
// 20 сборов по 5 опыта дают ровно 100 опыта и второй уровень.
func TestCollectHayRewards(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	collector := newFakePeer()
	collectorID := m.register(ctx, collector)
	observer := newFakePeer()
	m.register(ctx, observer)

	for i := 0; i < 19; i++ {
		m.dispatch(ctx, collectorID, &InboundMessage{Type: MsgCollectHay, HayID: "hay_1"})
	}
	if collector.countType("level_up") != 0 {
		t.Error("Преждевременное повышение уровня")
	}
	last := collector.lastOfType("stats_updated")
	statsObj := last["stats"].(map[string]interface{})
	if statsObj["experience"].(float64) != 95 || statsObj["level"].(float64) != 1 {
		t.Errorf("После 19 сборов ожидалось 95 опыта на уровне 1: %v", statsObj)
	}

	// Двадцатый сбор переваливает за 100 опыта
	m.dispatch(ctx, collectorID, &InboundMessage{Type: MsgCollectHay, HayID: "hay_1"})

	if collector.countType("level_up") != 1 {
		t.Error("Сборщик не получил level_up")
	}
	levelUp := collector.lastOfType("level_up")
	if levelUp["newLevel"].(float64) != 2 {
		t.Errorf("Неверный newLevel: %v", levelUp["newLevel"])
	}
	// level_up уходит только сборщику
	if observer.countType("level_up") != 0 {
		t.Error("level_up разослан посторонним")
	}
	// Остальные видят прогресс сборщика
	if observer.countType("player_stats_updated") != 20 {
		t.Errorf("Ожидалось 20 player_stats_updated, получено %d", observer.countType("player_stats_updated"))
	}
	if observer.countType("hay_collected") != 20 {
		t.Errorf("Ожидалось 20 hay_collected, получено %d", observer.countType("hay_collected"))
	}
}

// TestCollectHayDoubleCredit тестирует принятую гонку за одно сено:
// оба сборщика получают награду, повторное удаление — no-op.
func TestCollectHayDoubleCredit(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	m.spawner.Tick()
	hayID := m.spawner.Snapshot()[0].ID

	first := newFakePeer()
	firstID := m.register(ctx, first)
	second := newFakePeer()
	secondID := m.register(ctx, second)

	m.dispatch(ctx, firstID, &InboundMessage{Type: MsgCollectHay, HayID: hayID})
	m.dispatch(ctx, secondID, &InboundMessage{Type: MsgCollectHay, HayID: hayID})

	if m.spawner.Count() != 0 {
		t.Error("Сено осталось на поле")
	}
	for i, peer := range []*fakePeer{first, second} {
		reply := peer.lastOfType("stats_updated")
		statsObj := reply["stats"].(map[string]interface{})
		if statsObj["hayEaten"].(float64) != 1 {
			t.Errorf("Сборщик %d не получил награду: %v", i, statsObj)
		}
	}
}

// TestAuthenticate тестирует регистрацию при первом входе и
// неизменность identity сессии
func TestAuthenticate(t *testing.T) {
	m, store, users := newTestManager()
	ctx := context.Background()

	client := newFakePeer()
	clientID := m.register(ctx, client)

	m.dispatch(ctx, clientID, &InboundMessage{Type: MsgAuthenticate, Username: "Dana", Password: "secret"})

	result := client.lastOfType("auth_result")
	if result == nil || result["success"] != true {
		t.Fatalf("Авторизация не прошла: %v", result)
	}
	if result["isNewUser"] != true {
		t.Error("Первый вход должен создавать аккаунт")
	}
	if _, err := users.FindByUsername("dana"); err != nil {
		t.Errorf("Аккаунт не создан: %v", err)
	}

	sess, _ := m.registry.Get(clientID)
	if sess.AuthState != session.Authenticated || sess.Identity != "dana" {
		t.Errorf("Сессия не авторизована: %+v", sess)
	}

	// Прогресс теперь персистентный
	m.dispatch(ctx, clientID, &InboundMessage{Type: MsgCollectHay, HayID: "hay_x"})
	if got := store.GetPlayerProgress(ctx, "dana").HayEaten; got != 1 {
		t.Errorf("Прогресс не сохранился в хранилище: %d", got)
	}

	// Повторная авторизация отклоняется
	m.dispatch(ctx, clientID, &InboundMessage{Type: MsgAuthenticate, Username: "Other", Password: "pw"})
	result = client.lastOfType("auth_result")
	if result["success"] == true {
		t.Error("Повторная авторизация прошла")
	}
	sess, _ = m.registry.Get(clientID)
	if sess.Identity != "dana" {
		t.Errorf("Identity изменился: %s", sess.Identity)
	}
}

// TestAuthenticateWrongPassword тестирует отказ по неверному паролю
func TestAuthenticateWrongPassword(t *testing.T) {
	m, _, users := newTestManager()
	ctx := context.Background()

	hash, _ := auth.HashPassword("right")
	users.CreateUser("Eve", hash, "")

	client := newFakePeer()
	clientID := m.register(ctx, client)
	m.dispatch(ctx, clientID, &InboundMessage{Type: MsgAuthenticate, Username: "Eve", Password: "wrong"})

	result := client.lastOfType("auth_result")
	if result["success"] == true {
		t.Error("Вход с неверным паролем прошел")
	}
	sess, _ := m.registry.Get(clientID)
	if sess.AuthState != session.Guest {
		t.Error("Сессия авторизовалась с неверным паролем")
	}
}

// TestSweepRemovesDeadSessions тестирует уборку мертвых соединений
func TestSweepRemovesDeadSessions(t *testing.T) {
	m, store, _ := newTestManager()
	ctx := context.Background()

	alive := newFakePeer()
	m.register(ctx, alive)
	dead := newFakePeer()
	deadID := m.register(ctx, dead)

	dead.close()
	m.Sweep()

	if _, ok := m.registry.Get(deadID); ok {
		t.Error("Мертвая сессия пережила sweep")
	}
	if m.registry.Count() != 1 {
		t.Errorf("Ожидалась одна сессия, получено %d", m.registry.Count())
	}
	if got := store.GetGlobalProgress(ctx).TotalPlayers; got != 1 {
		t.Errorf("Счетчик онлайна не уменьшен: %d", got)
	}
	if alive.countType("player_left") != 1 {
		t.Error("Живой клиент не получил player_left")
	}
}

// TestChatBroadcast тестирует доставку чата всем, включая отправителя
func TestChatBroadcast(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	sender := newFakePeer()
	senderID := m.register(ctx, sender)
	observer := newFakePeer()
	m.register(ctx, observer)

	m.dispatch(ctx, senderID, &InboundMessage{Type: MsgSetUsername, Username: "Bob"})
	m.dispatch(ctx, senderID, &InboundMessage{Type: MsgChatMessage, Text: "mooo"})

	for name, peer := range map[string]*fakePeer{"отправитель": sender, "наблюдатель": observer} {
		msg := peer.lastOfType("chat_message")
		if msg == nil {
			t.Fatalf("%s не получил сообщение чата", name)
		}
		if msg["username"] != "Bob" || msg["text"] != "mooo" {
			t.Errorf("Неверное содержимое чата у %s: %v", name, msg)
		}
	}
}

// TestPositionUpdate тестирует трансляцию движения
func TestPositionUpdate(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	mover := newFakePeer()
	moverID := m.register(ctx, mover)
	observer := newFakePeer()
	m.register(ctx, observer)

	raw := []byte(`{"type":"update_position","position":{"x":1,"y":0.5,"z":-2},"rotation":1.57}`)
	var msg InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("Ошибка разбора сообщения: %v", err)
	}
	m.dispatch(ctx, moverID, &msg)

	update := observer.lastOfType("position_update")
	if update == nil {
		t.Fatal("Наблюдатель не получил position_update")
	}
	pos := update["position"].(map[string]interface{})
	if pos["x"].(float64) != 1 || pos["z"].(float64) != -2 {
		t.Errorf("Неверная позиция: %v", pos)
	}
	// Отправитель свою позицию обратно не получает
	if mover.countType("position_update") != 0 {
		t.Error("Отправитель получил собственный position_update")
	}
}

// hangingRepo — справочник, у которого поиск никогда не завершается.
type hangingRepo struct {
	*auth.MemoryUserRepo
	release chan struct{}
}

func (r *hangingRepo) FindByUsername(username string) (*auth.User, error) {
	<-r.release
	return nil, auth.ErrUserNotFound
}

// TestAuthenticateDirectoryTimeout тестирует мягкий отказ авторизации
// при повисшем справочнике: сессия остается гостевой и продолжает жить
func TestAuthenticateDirectoryTimeout(t *testing.T) {
	registry := session.NewRegistry()
	spawner := world.NewHaySpawner(20, 20, time.Hour, nil)
	store := stats.NewMemoryStatsStore()
	repo := &hangingRepo{MemoryUserRepo: auth.NewMemoryUserRepo(), release: make(chan struct{})}
	defer close(repo.release)

	m := NewConnectionManager(registry, spawner, store, repo, NewBroadcaster())
	m.dirTimeout = 30 * time.Millisecond
	ctx := context.Background()

	client := newFakePeer()
	clientID := m.register(ctx, client)

	m.dispatch(ctx, clientID, &InboundMessage{Type: MsgAuthenticate, Username: "Dana", Password: "secret"})

	result := client.lastOfType("auth_result")
	if result == nil {
		t.Fatal("Клиент не получил auth_result")
	}
	if result["success"] == true {
		t.Error("Авторизация прошла при недоступном справочнике")
	}
	if result["message"] != "Account service unavailable" {
		t.Errorf("Неожиданное сообщение: %v", result["message"])
	}

	sess, _ := m.registry.Get(clientID)
	if sess.AuthState != session.Guest {
		t.Error("Сессия должна остаться гостевой")
	}
}

// TestSetUsernameDirectoryTimeout тестирует смену имени при повисшем
// справочнике: имя считается свободным, сессия не блокируется
func TestSetUsernameDirectoryTimeout(t *testing.T) {
	registry := session.NewRegistry()
	spawner := world.NewHaySpawner(20, 20, time.Hour, nil)
	store := stats.NewMemoryStatsStore()
	repo := &hangingRepo{MemoryUserRepo: auth.NewMemoryUserRepo(), release: make(chan struct{})}
	defer close(repo.release)

	m := NewConnectionManager(registry, spawner, store, repo, NewBroadcaster())
	m.dirTimeout = 30 * time.Millisecond
	ctx := context.Background()

	client := newFakePeer()
	clientID := m.register(ctx, client)

	done := make(chan struct{})
	go func() {
		m.dispatch(ctx, clientID, &InboundMessage{Type: MsgSetUsername, Username: "Bob"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Обработчик завис на повисшем справочнике")
	}

	sess, _ := m.registry.Get(clientID)
	if sess.Username != "Bob" {
		t.Errorf("Имя не обновилось: %s", sess.Username)
	}
}
