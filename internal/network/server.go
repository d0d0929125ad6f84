package network

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/annel0/cow-game/internal/logging"
)

// Конфигурация WebSocket
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // В продакшене следует ограничить доступ
	},
}

// GameServer принимает WebSocket подключения и передает их менеджеру.
type GameServer struct {
	manager *ConnectionManager
	logger  *logging.Logger
	httpSrv *http.Server
}

// NewGameServer создаёт сервер на указанном порту.
func NewGameServer(port int, manager *ConnectionManager) *GameServer {
	s := &GameServer{
		manager: manager,
		logger:  logging.GetNetworkLogger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	return s
}

// Start начинает принимать подключения. Блокирует до остановки сервера.
func (s *GameServer) Start() error {
	s.logger.Info("Игровой сервер слушает %s", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// handleUpgrade апгрейдит HTTP запрос до WebSocket и обслуживает
// соединение до закрытия.
func (s *GameServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Ошибка апгрейда соединения: %v", err)
		return
	}

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	conn := NewConn(ws)
	s.manager.HandleConnection(conn)
}

// Shutdown останавливает прием новых подключений и закрывает
// существующие с кодом "server shutting down". httpSrv.Shutdown
// ждет завершения обработчиков, поэтому соединения закрываются
// параллельно с ним, иначе ожидание не завершится.
func (s *GameServer) Shutdown(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- s.httpSrv.Shutdown(ctx) }()
	s.manager.CloseAll()
	return <-done
}
