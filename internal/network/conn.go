package network

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var ErrConnClosed = errors.New("connection closed")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendQueueSize  = 256
)

// Conn оборачивает WebSocket соединение: исходящие сообщения идут
// через буферизованный канал и единственную пишущую горутину, чтобы
// рассылки и ответы обработчика не конкурировали за сокет.
type Conn struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewConn создаёт обёртку и запускает пишущую горутину.
func NewConn(ws *websocket.Conn) *Conn {
	c := &Conn{
		ws:   ws,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
	go c.writePump()
	return c
}

// Send ставит сообщение в очередь отправки. Медленный клиент с полной
// очередью считается мертвым: соединение закрывается.
func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnClosed
	}
	c.mu.Unlock()

	select {
	case c.send <- data:
		return nil
	default:
		c.Close(websocket.ClosePolicyViolation, "send queue overflow")
		return ErrConnClosed
	}
}

// IsOpen сообщает, открыто ли еще соединение.
func (c *Conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Close отправляет close-фрейм с указанным кодом и закрывает сокет.
// Повторные вызовы безопасны.
func (c *Conn) Close(code int, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	// WriteControl безопасен параллельно с writePump, обычный
	// WriteMessage отсюда конкурировал бы с пишущей горутиной.
	message := websocket.FormatCloseMessage(code, reason)
	c.ws.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeWait))
	c.ws.Close()
}

// ReadMessage блокирующе читает следующее сообщение клиента.
func (c *Conn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

// writePump переносит сообщения из очереди в сокет и поддерживает
// соединение ping-фреймами.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}
