// Package conflict обнаруживает расхождение версий заказа при отправке в
// облако и разрешает его по явному решению оператора.
package conflict

import (
	"errors"
	"fmt"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"possync/internal/domain/order"
	"possync/internal/domain/sync"
)

var (
	ErrNotFound             = errors.New("conflict not found")
	ErrSameVersion          = errors.New("local and remote versions are equal")
	ErrMergeNotAllowed      = errors.New("merge is not allowed: local and remote changes overlap")
	ErrOlderConflictPending = errors.New("an older conflict on the same order must be resolved first")
	ErrUnknownStrategy      = errors.New("unknown resolution strategy")
	ErrConflictSuperseded   = errors.New("order changed in the cloud again, conflict must be resolved anew")
)

// Type вид конфликта по главному разошедшемуся полю.
type Type string

const (
	TypeStatusChange        Type = "status_change"
	TypePriceUpdate         Type = "price_update"
	TypeItemsModified       Type = "items_modified"
	TypeCustomerInfo        Type = "customer_info"
	TypePaymentStatus       Type = "payment_status"
	TypeDriverAssignment    Type = "driver_assignment"
	TypePreparationProgress Type = "preparation_progress"
	TypeCancellation        Type = "cancellation"
)

// Strategy решение оператора.
type Strategy string

const (
	KeepLocal  Strategy = "keep_local"
	KeepRemote Strategy = "keep_remote"
	Merge      Strategy = "merge"
)

func (Strategy) Schema(huma.Registry) *huma.Schema {
	return &huma.Schema{
		Type:        "string",
		Enum:        []any{string(KeepLocal), string(KeepRemote), string(Merge)},
		Description: "Стратегия разрешения конфликта",
	}
}

// Validate реализует интерфейс huma.Validatable.
func (s Strategy) Validate() error {
	switch s {
	case KeepLocal, KeepRemote, Merge:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

// OrderConflict зафиксированное расхождение. Запись не меняется после
// создания. Она удаляется успешным разрешением или заменяется новой, если
// облако отклонило разрешение из-за еще более новой версии заказа.
type OrderConflict struct {
	ID            string        `json:"id"`
	OrderID       string        `json:"order_id"`
	LocalVersion  int64         `json:"local_version"`
	RemoteVersion int64         `json:"remote_version"`
	Type          Type          `json:"conflict_type"`
	Field         order.Field   `json:"field,omitempty"`
	BaseValue     order.Order   `json:"base_value"`
	LocalValue    order.Order   `json:"local_value"`
	RemoteValue   order.Order   `json:"remote_value"`
	LocalFields   []order.Field `json:"local_fields"`
	RemoteFields  []order.Field `json:"remote_fields"`
	CreatedAt     time.Time     `json:"created_at"`
}

// PendingResolution выбранная оператором стратегия, отправка которой не
// удалась из-за связи. Повторяется при восстановлении соединения.
type PendingResolution struct {
	ConflictID string    `json:"conflict_id"`
	OrderID    string    `json:"order_id"`
	Strategy   Strategy  `json:"strategy"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ChangeKind причина изменения списка конфликтов.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeResolved ChangeKind = "resolved"
	ChangeDeferred ChangeKind = "deferred"
	// ChangeSuperseded конфликт пересчитан по новой версии облака.
	ChangeSuperseded ChangeKind = "superseded"
)

// Change событие списка конфликтов.
type Change struct {
	Kind       ChangeKind `json:"kind"`
	ConflictID string     `json:"conflict_id"`
	OrderID    string     `json:"order_id"`
}

// TopicChanged тема событий конфликтов.
var TopicChanged = sync.NewTopic[Change]("conflict.changed")
