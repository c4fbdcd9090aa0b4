package conflict

import (
	"context"

	"possync/internal/domain/order"
)

// Repository хранилище конфликтов и отложенных разрешений.
type Repository interface {
	// Create сохраняет конфликт и помечает рабочую копию заказа как
	// конфликтную в одной транзакции.
	Create(ctx context.Context, c OrderConflict) error
	Get(ctx context.Context, id string) (*OrderConflict, error)
	// ListOpen возвращает открытые конфликты в порядке создания.
	ListOpen(ctx context.Context) ([]OrderConflict, error)
	ListByOrder(ctx context.Context, orderID string) ([]OrderConflict, error)
	Count(ctx context.Context) (int, error)

	// Apply атомарно записывает итоговый заказ как подтвержденную рабочую
	// копию, удаляет конфликт и его отложенное разрешение.
	Apply(ctx context.Context, conflictID string, resolved order.Order) error
	// Replace атомарно заменяет устаревший конфликт новым и удаляет
	// отложенное разрешение старого.
	Replace(ctx context.Context, oldID string, c OrderConflict) error

	SavePending(ctx context.Context, p PendingResolution) error
	// ListPending возвращает отложенные разрешения в порядке создания конфликтов.
	ListPending(ctx context.Context) ([]PendingResolution, error)
	CountPending(ctx context.Context) (int, error)
}

// Pusher отправляет итог разрешения в облако.
type Pusher interface {
	// PushResolution записывает заказ поверх baseVersion облака. Ключ
	// идемпотентности делает повторную отправку безопасной.
	PushResolution(ctx context.Context, o order.Order, baseVersion int64, idempotencyKey string) (*order.Order, error)
}
