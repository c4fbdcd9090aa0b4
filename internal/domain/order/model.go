// Package order описывает заказ с версией для оптимистичной конкурентности
// и рабочую копию заказа на терминале.
package order

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"possync/internal/domain/sync"
)

type Status string

const (
	StatusNew            Status = "NEW"
	StatusPreparing      Status = "PREPARING"
	StatusReady          Status = "READY"
	StatusOutForDelivery Status = "OUT_FOR_DELIVERY"
	StatusCompleted      Status = "COMPLETED"
	StatusCancelled      Status = "CANCELLED"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentRefunded PaymentStatus = "REFUNDED"
	PaymentFailed   PaymentStatus = "FAILED"
)

var (
	ErrNotFound            = errors.New("order not found")
	ErrEmptyID             = errors.New("order id is required")
	ErrInvalidQuantity     = errors.New("item quantity must be > 0")
	ErrInvalidProgress     = errors.New("preparation progress must be within 0..100")
	ErrNegativeAmount      = errors.New("amounts must not be negative")
	ErrUnknownStatus       = errors.New("unknown order status")
	ErrUnknownPaymentState = errors.New("unknown payment status")
)

// Item позиция заказа.
type Item struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int32           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Notes     string          `json:"notes,omitempty"`
}

// Pricing денежные итоги заказа.
type Pricing struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
}

// Customer данные покупателя.
type Customer struct {
	Name    string `json:"name,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

// Order заказ. Version увеличивается облаком при каждом подтвержденном изменении.
type Order struct {
	ID                  string        `json:"id"`
	Version             int64         `json:"version"`
	Status              Status        `json:"status"`
	Items               []Item        `json:"items"`
	Pricing             Pricing       `json:"pricing"`
	Customer            Customer      `json:"customer"`
	PaymentStatus       PaymentStatus `json:"payment_status"`
	DriverID            string        `json:"driver_id,omitempty"`
	PreparationProgress int           `json:"preparation_progress"`
	CancellationReason  string        `json:"cancellation_reason,omitempty"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// Validate проверяет заказ на границе отправки.
func (o Order) Validate() error {
	if o.ID == "" {
		return ErrEmptyID
	}

	switch o.Status {
	case StatusNew, StatusPreparing, StatusReady, StatusOutForDelivery, StatusCompleted, StatusCancelled:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStatus, o.Status)
	}

	switch o.PaymentStatus {
	case PaymentPending, PaymentPaid, PaymentRefunded, PaymentFailed:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPaymentState, o.PaymentStatus)
	}

	if o.PreparationProgress < 0 || o.PreparationProgress > 100 {
		return ErrInvalidProgress
	}

	for _, it := range o.Items {
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: product %s", ErrInvalidQuantity, it.ProductID)
		}
		if it.UnitPrice.IsNegative() {
			return ErrNegativeAmount
		}
	}

	if o.Pricing.Subtotal.IsNegative() || o.Pricing.Discount.IsNegative() || o.Pricing.Total.IsNegative() {
		return ErrNegativeAmount
	}

	return nil
}

// Clone возвращает копию заказа, не разделяющую срез позиций.
func (o Order) Clone() Order {
	c := o
	if o.Items != nil {
		c.Items = make([]Item, len(o.Items))
		copy(c.Items, o.Items)
	}
	return c
}

// SyncState состояние рабочей копии относительно облака.
type SyncState string

const (
	// StateSynced копия совпадает с последней подтвержденной версией.
	StateSynced SyncState = "synced"
	// StatePending есть локальные изменения, ожидающие отправки.
	StatePending SyncState = "pending"
	// StateConflicted отправка отклонена, открыт конфликт.
	StateConflicted SyncState = "conflicted"
)

// LocalOrder рабочая копия заказа на терминале. Base хранит последнюю
// версию, подтвержденную облаком; от нее считаются локальные изменения.
type LocalOrder struct {
	Current   Order     `json:"current"`
	Base      Order     `json:"base"`
	State     SyncState `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BaseVersion версия, от которой терминал начал правку.
func (l LocalOrder) BaseVersion() int64 {
	return l.Base.Version
}

// ChangedFields поля, измененные локально относительно базы.
func (l LocalOrder) ChangedFields() []Field {
	return Diff(l.Base, l.Current)
}

// TouchesPayment сообщает, меняет ли локальная правка оплату.
func (l LocalOrder) TouchesPayment() bool {
	for _, f := range l.ChangedFields() {
		if f == FieldPaymentStatus || f == FieldPricing {
			return true
		}
	}
	return false
}

// VersionConflictError облако отклонило запись: его версия отличается от базовой.
type VersionConflictError struct {
	OrderID     string
	BaseVersion int64
	Remote      *Order
}

func (e *VersionConflictError) Error() string {
	remote := int64(-1)
	if e.Remote != nil {
		remote = e.Remote.Version
	}
	return fmt.Sprintf("order %s: version conflict: base %d, remote %d", e.OrderID, e.BaseVersion, remote)
}

// ErrorKind относит ошибку к классу конфликтов.
func (e *VersionConflictError) ErrorKind() sync.Kind {
	return sync.KindConflict
}

// Edit возвращает рабочую копию после локальной правки o. Для заказа без
// известной базы база содержит только идентификатор и версию, поэтому
// все заполненные поля считаются измененными локально.
func Edit(existing *LocalOrder, o Order, now time.Time) LocalOrder {
	var lo LocalOrder
	if existing != nil {
		lo = *existing
	} else {
		lo.Base = Order{ID: o.ID, Version: o.Version}
	}

	lo.Current = o.Clone()
	lo.Current.Version = lo.Base.Version
	lo.Current.UpdatedAt = now
	lo.UpdatedAt = now

	if lo.State != StateConflicted {
		lo.State = StatePending
	}
	return lo
}
