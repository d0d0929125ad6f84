package eventbus

import "context"

// Шина процесса. Игровые обработчики публикуют через неё события
// (сбор сена, повышение уровня, чат), не протаскивая шину сквозь
// все слои сервера.
var globalBus EventBus

// Init устанавливает шину процесса. nil отключает публикацию.
func Init(bus EventBus) { globalBus = bus }

// Publish отправляет событие в шину процесса. Пока шина не
// инициализирована, события молча отбрасываются: игра от неё
// не зависит.
func Publish(ctx context.Context, ev *Envelope) error {
	if globalBus == nil {
		return nil
	}
	return globalBus.Publish(ctx, ev)
}
