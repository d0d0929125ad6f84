package network

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/annel0/cow-game/internal/auth"
	"github.com/annel0/cow-game/internal/eventbus"
	"github.com/annel0/cow-game/internal/logging"
	"github.com/annel0/cow-game/internal/session"
	"github.com/annel0/cow-game/internal/stats"
	"github.com/annel0/cow-game/internal/world"
)

// Награда за съеденное сено.
const (
	hayExperienceReward = 5
	hayCoinReward       = 1
)

// Таймаут обращения к справочнику аккаунтов из цикла сообщений.
// Повисший справочник не должен останавливать обработку сессии.
const directoryTimeout = 5 * time.Second

var errDirectoryTimeout = errors.New("user lookup timed out")

// ConnectionManager владеет жизненным циклом подключений: принимает
// соединение, заводит сессию, последовательно обрабатывает входящие
// сообщения и разбирает сессию при отключении.
//
// Сообщения одного клиента обрабатываются строго по порядку его
// циклом чтения; разные клиенты друг друга не блокируют.
type ConnectionManager struct {
	registry    *session.Registry
	spawner     *world.HaySpawner
	store       stats.StatsStore
	users       auth.UserRepository
	broadcaster *Broadcaster

	logger     *logging.Logger
	metrics    *Metrics
	dirTimeout time.Duration

	sweepMu   sync.Mutex
	sweepStop chan struct{}
	sweepDone chan struct{}
}

// NewConnectionManager собирает менеджер из готовых компонентов.
// users может быть nil: тогда авторизация и проверка занятости имен
// отключены (все имена свободны).
func NewConnectionManager(registry *session.Registry, spawner *world.HaySpawner, store stats.StatsStore, users auth.UserRepository, broadcaster *Broadcaster) *ConnectionManager {
	return &ConnectionManager{
		registry:    registry,
		spawner:     spawner,
		store:       store,
		users:       users,
		broadcaster: broadcaster,
		logger:      logging.GetNetworkLogger(),
		metrics:     GetMetrics(),
		dirTimeout:  directoryTimeout,
	}
}

// findUserWithTimeout обращается к справочнику с ограничением по
// времени. Повисший запрос считается мягким отказом.
func (m *ConnectionManager) findUserWithTimeout(username string) (*auth.User, error) {
	type result struct {
		user *auth.User
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		u, err := m.users.FindByUsername(username)
		ch <- result{u, err}
	}()
	select {
	case r := <-ch:
		return r.user, r.err
	case <-time.After(m.dirTimeout):
		return nil, errDirectoryTimeout
	}
}

// Broadcaster возвращает рассыльщик менеджера (для спаунера и REST).
func (m *ConnectionManager) Broadcaster() *Broadcaster {
	return m.broadcaster
}

// HandleConnection обслуживает одно соединение до его закрытия.
// Вызывается из HTTP-обработчика, уже находящегося в своей горутине.
func (m *ConnectionManager) HandleConnection(conn *Conn) {
	ctx := context.Background()
	id := m.register(ctx, conn)

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				m.logger.Warn("Ошибка чтения %s: %v", id, err)
			}
			break
		}

		var msg InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			m.logger.Warn("Некорректное сообщение от %s: %v", id, err)
			continue
		}
		m.metrics.MessagesReceived.WithLabelValues(msg.Type).Inc()
		m.dispatch(ctx, id, &msg)
	}

	conn.Close(websocket.CloseNormalClosure, "")
	m.teardown(ctx, id)
}

// register заводит сессию для нового соединения: регистрирует его в
// рассыльщике, увеличивает счетчик онлайна, отправляет снапшот мира
// и уведомляет остальных.
func (m *ConnectionManager) register(ctx context.Context, peer Peer) string {
	id := m.registry.Create()
	m.broadcaster.Register(id, peer)
	m.metrics.ConnectionsTotal.Inc()
	m.metrics.ConnectionsActive.Inc()

	m.store.IncrementGlobalStat(ctx, stats.GlobalTotalPlayers, 1)

	sess, _ := m.registry.Get(id)
	m.sendInit(ctx, id, sess)

	m.broadcaster.SendToAllExcept(id, PlayerJoinedEvent{
		Type:     "player_joined",
		ID:       id,
		Username: sess.Username,
		Position: sess.Position,
		Rotation: sess.Rotation,
		Color:    sess.Color,
	})
	m.broadcaster.SendToAll(GlobalStatsUpdatedEvent{
		Type:        "global_stats_updated",
		GlobalStats: m.store.GetGlobalProgress(ctx),
	})
	eventbus.PublishEvent(ctx, eventbus.EventPlayerJoined, eventbus.PlayerEvent{
		SessionID: id,
		Username:  sess.Username,
	})
	m.logger.Info("Подключение %s принято", id)
	return id
}

// sendInit отправляет новому клиенту снапшот мира: его статистику,
// глобальную статистику, остальных игроков и сено на поле.
func (m *ConnectionManager) sendInit(ctx context.Context, id string, sess session.Session) {
	players := make([]PlayerInfo, 0)
	for _, other := range m.registry.All() {
		if other.ID == id {
			continue
		}
		players = append(players, PlayerInfo{
			ID:       other.ID,
			Username: other.Username,
			Position: other.Position,
			Rotation: other.Rotation,
			Color:    other.Color,
		})
	}

	m.broadcaster.SendTo(id, InitEvent{
		Type:        "init",
		ID:          id,
		Stats:       sess.Progress.Get(ctx),
		GlobalStats: m.store.GetGlobalProgress(ctx),
		Players:     players,
		Hay:         m.spawner.Snapshot(),
	})
}

// dispatch разбирает входящее сообщение по типу. Неизвестные типы
// логируются и отбрасываются.
func (m *ConnectionManager) dispatch(ctx context.Context, id string, msg *InboundMessage) {
	switch msg.Type {
	case MsgAuthenticate:
		m.handleAuthenticate(ctx, id, msg)
	case MsgSetUsername:
		m.handleSetUsername(ctx, id, msg)
	case MsgUpdatePosition:
		m.handleUpdatePosition(id, msg)
	case MsgChatMessage:
		m.handleChatMessage(ctx, id, msg)
	case MsgCollectHay:
		m.handleCollectHay(ctx, id, msg)
	case MsgGetStats:
		m.handleGetStats(ctx, id)
	default:
		m.logger.Warn("Неизвестный тип сообщения от %s: %q", id, msg.Type)
	}
}

// handleAuthenticate авторизует сессию по логину и паролю. Если
// аккаунта нет, он создаётся (регистрация при первом входе).
func (m *ConnectionManager) handleAuthenticate(ctx context.Context, id string, msg *InboundMessage) {
	if m.users == nil {
		m.broadcaster.SendTo(id, AuthResultEvent{Type: "auth_result", Message: "Authentication is disabled"})
		return
	}
	if msg.Username == "" || msg.Password == "" {
		m.broadcaster.SendTo(id, AuthResultEvent{Type: "auth_result", Message: "Username and password are required"})
		return
	}

	sess, ok := m.registry.Get(id)
	if !ok {
		return
	}
	if sess.AuthState == session.Authenticated {
		m.broadcaster.SendTo(id, AuthResultEvent{Type: "auth_result", Message: "Already authenticated"})
		return
	}

	var (
		user      *auth.User
		isNewUser bool
	)
	user, err := m.findUserWithTimeout(msg.Username)
	switch {
	case err == auth.ErrUserNotFound:
		hash, herr := auth.HashPassword(msg.Password)
		if herr != nil {
			m.logger.Error("Ошибка хеширования пароля: %v", herr)
			m.broadcaster.SendTo(id, AuthResultEvent{Type: "auth_result", Message: "Internal error"})
			return
		}
		user, err = m.users.CreateUser(msg.Username, hash, sess.Color)
		if err != nil {
			m.logger.Warn("Ошибка создания аккаунта %s: %v", msg.Username, err)
			m.broadcaster.SendTo(id, AuthResultEvent{Type: "auth_result", Message: "Registration failed"})
			return
		}
		isNewUser = true
	case err != nil:
		m.logger.Warn("Ошибка поиска аккаунта %s: %v", msg.Username, err)
		m.broadcaster.SendTo(id, AuthResultEvent{Type: "auth_result", Message: "Account service unavailable"})
		return
	default:
		if !auth.CheckPassword(user.PasswordHash, msg.Password) {
			m.broadcaster.SendTo(id, AuthResultEvent{Type: "auth_result", Message: "Invalid password"})
			return
		}
		if err := m.users.RecordLogin(user.Username); err != nil {
			m.logger.Warn("Ошибка записи времени входа %s: %v", user.Username, err)
		}
	}

	identity := auth.Identity(user.Username)
	progress := stats.PersistedSource(m.store, identity)
	if err := m.registry.Authenticate(id, identity, user.Username, progress); err != nil {
		m.broadcaster.SendTo(id, AuthResultEvent{Type: "auth_result", Message: "Already authenticated"})
		return
	}

	color, _ := m.users.GetColor(user.Username)
	oldUsername := sess.Username
	updated, _ := m.registry.Update(id, func(s *session.Session) {
		s.Color = color
	})

	m.broadcaster.SendTo(id, AuthResultEvent{
		Type:      "auth_result",
		Success:   true,
		Message:   "Welcome, " + user.Username,
		IsNewUser: isNewUser,
	})
	m.broadcaster.SendTo(id, StatsUpdatedEvent{
		Type:      "stats_updated",
		Stats:     progress.Get(ctx),
		IsNewUser: isNewUser,
	})
	m.broadcaster.SendToAllExcept(id, UsernameUpdateEvent{
		Type:        "username_update",
		ID:          id,
		OldUsername: oldUsername,
		Username:    updated.Username,
		Color:       updated.Color,
	})
	m.broadcaster.SendToAllExcept(id, ColorUpdateEvent{
		Type:    "color_update",
		Players: []PlayerColor{{ID: id, Color: updated.Color}},
	})
}

// handleSetUsername меняет отображаемое имя и цвет. Гость не может
// занять имя существующего аккаунта.
func (m *ConnectionManager) handleSetUsername(ctx context.Context, id string, msg *InboundMessage) {
	if msg.Username == "" {
		m.broadcaster.SendTo(id, UsernameErrorEvent{Type: "username_error", Message: "Username cannot be empty"})
		return
	}

	sess, ok := m.registry.Get(id)
	if !ok {
		return
	}

	if sess.AuthState == session.Guest && m.users != nil {
		_, err := m.findUserWithTimeout(msg.Username)
		switch {
		case err == nil:
			// Имя занято зарегистрированным аккаунтом.
			m.broadcaster.SendTo(id, UsernameErrorEvent{
				Type:    "username_error",
				Message: "This username is registered. Please log in to use it.",
			})
			return
		case err != auth.ErrUserNotFound:
			// Справочник недоступен: считаем имя свободным.
			m.logger.Warn("Проверка имени %s не удалась: %v", msg.Username, err)
		}
	}

	oldUsername := sess.Username
	updated, _ := m.registry.Update(id, func(s *session.Session) {
		s.Username = msg.Username
		if msg.Color != "" {
			s.Color = msg.Color
		}
	})

	if sess.AuthState == session.Authenticated && msg.Color != "" {
		if err := m.users.SetColor(sess.Identity, msg.Color); err != nil {
			m.logger.Warn("Ошибка сохранения цвета %s: %v", sess.Identity, err)
		}
	}

	m.broadcaster.SendToAllExcept(id, UsernameUpdateEvent{
		Type:        "username_update",
		ID:          id,
		OldUsername: oldUsername,
		Username:    updated.Username,
		Color:       updated.Color,
	})
	m.broadcaster.SendToAllExcept(id, ColorUpdateEvent{
		Type:    "color_update",
		Players: []PlayerColor{{ID: id, Color: updated.Color}},
	})
	m.broadcaster.SendTo(id, StatsUpdatedEvent{
		Type:  "stats_updated",
		Stats: updated.Progress.Get(ctx),
	})
}

// handleUpdatePosition сохраняет позицию и транслирует её остальным.
func (m *ConnectionManager) handleUpdatePosition(id string, msg *InboundMessage) {
	if msg.Position == nil {
		return
	}
	updated, ok := m.registry.Update(id, func(s *session.Session) {
		s.Position = *msg.Position
		s.Rotation = msg.Rotation
	})
	if !ok {
		return
	}
	m.broadcaster.SendToAllExcept(id, PositionUpdateEvent{
		Type:     "position_update",
		ID:       id,
		Username: updated.Username,
		Position: updated.Position,
		Rotation: updated.Rotation,
		Color:    updated.Color,
	})
}

// handleChatMessage рассылает сообщение чата всем, включая отправителя.
func (m *ConnectionManager) handleChatMessage(ctx context.Context, id string, msg *InboundMessage) {
	if msg.Text == "" {
		return
	}
	sess, ok := m.registry.Get(id)
	if !ok {
		return
	}
	m.metrics.ChatMessages.Inc()
	m.broadcaster.SendToAll(ChatMessageEvent{
		Type:     "chat_message",
		Username: sess.Username,
		Text:     msg.Text,
	})
	eventbus.PublishEvent(ctx, eventbus.EventChatMessage, eventbus.PlayerEvent{
		SessionID: id,
		Username:  sess.Username,
	})
}

// handleCollectHay начисляет награду за сено и рассылает события.
// Гонка двух клиентов за одно сено не арбитрируется: повторное
// удаление — no-op, но награда и рассылка происходят для каждого
// сборщика.
func (m *ConnectionManager) handleCollectHay(ctx context.Context, id string, msg *InboundMessage) {
	if msg.HayID == "" {
		return
	}
	sess, ok := m.registry.Get(id)
	if !ok {
		return
	}

	m.spawner.RemoveItem(msg.HayID)
	m.metrics.HayCollected.Inc()

	before := sess.Progress.Get(ctx)
	progress := sess.Progress.Increment(ctx, stats.StatExperience, hayExperienceReward)
	progress = sess.Progress.Increment(ctx, stats.StatCoins, hayCoinReward)
	progress = sess.Progress.Increment(ctx, stats.StatHayEaten, 1)

	m.store.IncrementGlobalStat(ctx, stats.GlobalTotalHayEaten, 1)

	m.broadcaster.SendToAll(HayCollectedEvent{
		Type:     "hay_collected",
		PlayerID: id,
		Username: sess.Username,
		HayID:    msg.HayID,
		Position: msg.Position,
	})
	m.broadcaster.SendTo(id, StatsUpdatedEvent{
		Type:  "stats_updated",
		Stats: progress,
	})
	m.broadcaster.SendToAllExcept(id, PlayerStatsUpdatedEvent{
		Type:     "player_stats_updated",
		PlayerID: id,
		Username: sess.Username,
		Stats:    progress,
	})
	m.broadcaster.SendToAll(GlobalStatsUpdatedEvent{
		Type:        "global_stats_updated",
		GlobalStats: m.store.GetGlobalProgress(ctx),
	})

	if progress.Level > before.Level {
		m.broadcaster.SendTo(id, LevelUpEvent{
			Type:     "level_up",
			NewLevel: progress.Level,
		})
		eventbus.PublishEvent(ctx, eventbus.EventLevelUp, eventbus.LevelUpEvent{
			SessionID: id,
			Username:  sess.Username,
			NewLevel:  progress.Level,
		})
	}
	eventbus.PublishEvent(ctx, eventbus.EventHayCollected, eventbus.HayCollectedEvent{
		SessionID: id,
		Username:  sess.Username,
		HayID:     msg.HayID,
	})
}

// handleGetStats отправляет клиенту его текущую статистику.
func (m *ConnectionManager) handleGetStats(ctx context.Context, id string) {
	sess, ok := m.registry.Get(id)
	if !ok {
		return
	}
	m.broadcaster.SendTo(id, StatsUpdatedEvent{
		Type:  "stats_updated",
		Stats: sess.Progress.Get(ctx),
	})
	m.broadcaster.SendTo(id, GlobalStatsUpdatedEvent{
		Type:        "global_stats_updated",
		GlobalStats: m.store.GetGlobalProgress(ctx),
	})
}

// teardown разбирает сессию: фиксирует время игры, уменьшает счетчик
// онлайна и уведомляет остальных. Выполняется ровно один раз на
// сессию, кто бы ни пришел первым (цикл чтения, sweep или shutdown).
func (m *ConnectionManager) teardown(ctx context.Context, id string) {
	sess, ok := m.registry.Get(id)
	if !ok {
		return
	}
	if !m.registry.Remove(id) {
		return
	}
	m.broadcaster.Unregister(id)
	m.metrics.ConnectionsActive.Dec()

	playedSec := int64(time.Since(sess.ConnectedAt).Seconds())
	if playedSec > 0 {
		sess.Progress.Increment(ctx, stats.StatTimePlayed, playedSec)
		m.store.IncrementGlobalStat(ctx, stats.GlobalTotalTimePlayed, playedSec)
	}
	m.store.IncrementGlobalStat(ctx, stats.GlobalTotalPlayers, -1)

	m.broadcaster.SendToAll(PlayerLeftEvent{
		Type:     "player_left",
		ID:       id,
		Username: sess.Username,
	})
	m.broadcaster.SendToAll(GlobalStatsUpdatedEvent{
		Type:        "global_stats_updated",
		GlobalStats: m.store.GetGlobalProgress(ctx),
	})
	eventbus.PublishEvent(ctx, eventbus.EventPlayerLeft, eventbus.PlayerEvent{
		SessionID: id,
		Username:  sess.Username,
		Identity:  sess.Identity,
	})
	m.logger.Info("Сессия %s завершена (в игре %dс)", id, playedSec)
}

// StartSweep запускает периодическую уборку сессий с мертвым
// транспортом. Страховка на случай пропущенного события закрытия.
func (m *ConnectionManager) StartSweep(interval time.Duration) {
	m.sweepMu.Lock()
	if m.sweepStop != nil {
		m.sweepMu.Unlock()
		return
	}
	m.sweepStop = make(chan struct{})
	m.sweepDone = make(chan struct{})
	stop, done := m.sweepStop, m.sweepDone
	m.sweepMu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Sweep()
			case <-stop:
				return
			}
		}
	}()
}

// StopSweep останавливает уборку и дожидается завершения её горутины.
func (m *ConnectionManager) StopSweep() {
	m.sweepMu.Lock()
	if m.sweepStop == nil {
		m.sweepMu.Unlock()
		return
	}
	stop, done := m.sweepStop, m.sweepDone
	m.sweepStop, m.sweepDone = nil, nil
	m.sweepMu.Unlock()

	close(stop)
	<-done
}

// Sweep разбирает сессии, чей транспорт уже не открыт.
func (m *ConnectionManager) Sweep() {
	ctx := context.Background()
	for _, sess := range m.registry.All() {
		peer, ok := m.broadcaster.Peer(sess.ID)
		if !ok || !peer.IsOpen() {
			m.logger.Warn("Sweep: сессия %s без живого транспорта", sess.ID)
			m.teardown(ctx, sess.ID)
		}
	}
}

// CloseAll закрывает все соединения с кодом "server shutting down"
// и разбирает их сессии. Используется при остановке сервера.
func (m *ConnectionManager) CloseAll() {
	ctx := context.Background()
	for _, sess := range m.registry.All() {
		if peer, ok := m.broadcaster.Peer(sess.ID); ok {
			if conn, isConn := peer.(*Conn); isConn {
				conn.Close(websocket.CloseGoingAway, "server shutting down")
			}
		}
		m.teardown(ctx, sess.ID)
	}
}
