package network

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics — метрики игровой подсистемы.
//
// * game_connections_active — gauge
// * game_connections_total — counter
// * game_messages_received_total{type} — counter
// * game_broadcasts_total — counter
// * game_hay_collected_total — counter
// * game_chat_messages_total — counter
type Metrics struct {
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	MessagesReceived  *prometheus.CounterVec
	Broadcasts        prometheus.Counter
	HayCollected      prometheus.Counter
	ChatMessages      prometheus.Counter
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// GetMetrics возвращает singleton метрик, регистрируя их при первом
// обращении.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "game",
				Name:      "connections_active",
				Help:      "Текущее количество подключенных клиентов.",
			}),
			ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "game",
				Name:      "connections_total",
				Help:      "Общее число принятых подключений.",
			}),
			MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "game",
				Name:      "messages_received_total",
				Help:      "Входящие сообщения по типам.",
			}, []string{"type"}),
			Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "game",
				Name:      "broadcasts_total",
				Help:      "Число выполненных рассылок.",
			}),
			HayCollected: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "game",
				Name:      "hay_collected_total",
				Help:      "Общее число собранного сена.",
			}),
			ChatMessages: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "game",
				Name:      "chat_messages_total",
				Help:      "Общее число сообщений в чате.",
			}),
		}
		prometheus.MustRegister(
			metricsInstance.ConnectionsActive,
			metricsInstance.ConnectionsTotal,
			metricsInstance.MessagesReceived,
			metricsInstance.Broadcasts,
			metricsInstance.HayCollected,
			metricsInstance.ChatMessages,
		)
	})
	return metricsInstance
}
