package conflict

import (
	"time"

	"github.com/google/uuid"

	"possync/internal/domain/order"
)

// priority порядок выбора вида конфликта, от важного к менее важному.
var priority = []struct {
	field order.Field
	typ   Type
}{
	{order.FieldPaymentStatus, TypePaymentStatus},
	{order.FieldPricing, TypePriceUpdate},
	{order.FieldItems, TypeItemsModified},
	{order.FieldDriver, TypeDriverAssignment},
	{order.FieldStatus, TypeStatusChange},
	{order.FieldPreparation, TypePreparationProgress},
	{order.FieldCustomer, TypeCustomerInfo},
}

// Detect сравнивает рабочую копию с текущим заказом облака. Конфликт есть
// тогда и только тогда, когда базовая версия копии отличается от версии облака.
func Detect(local order.LocalOrder, remote order.Order, now time.Time) (*OrderConflict, bool) {
	if local.BaseVersion() == remote.Version {
		return nil, false
	}

	localFields := order.Diff(local.Base, local.Current)
	remoteFields := order.Diff(local.Base, remote)
	typ, field := InferType(local.Current, remote, localFields, remoteFields)

	return &OrderConflict{
		ID:            uuid.NewString(),
		OrderID:       remote.ID,
		LocalVersion:  local.BaseVersion(),
		RemoteVersion: remote.Version,
		Type:          typ,
		Field:         field,
		BaseValue:     local.Base.Clone(),
		LocalValue:    local.Current.Clone(),
		RemoteValue:   remote.Clone(),
		LocalFields:   localFields,
		RemoteFields:  remoteFields,
		CreatedAt:     now,
	}, true
}

// InferType выбирает вид конфликта. Отмена с любой стороны важнее всего;
// иначе берутся поля, измененные в облаке, а если их нет, то локальные.
func InferType(local, remote order.Order, localFields, remoteFields []order.Field) (Type, order.Field) {
	if cancelled(local, localFields) || cancelled(remote, remoteFields) {
		return TypeCancellation, order.FieldStatus
	}

	fields := remoteFields
	if len(fields) == 0 {
		fields = localFields
	}
	for _, p := range priority {
		if order.Contains(fields, p.field) {
			return p.typ, p.field
		}
	}
	return TypeStatusChange, ""
}

func cancelled(o order.Order, changed []order.Field) bool {
	return o.Status == order.StatusCancelled && order.Contains(changed, order.FieldStatus)
}

// CanMerge сообщает, можно ли слить изменения сторон. Слияние допустимо,
// только если группы полей не пересекаются; позиции и цены считаются
// одной группой, отмену слить нельзя.
func CanMerge(c OrderConflict) bool {
	if c.Type == TypeCancellation {
		return false
	}
	local := coupled(c.LocalFields)
	for _, f := range coupled(c.RemoteFields) {
		if order.Contains(local, f) {
			return false
		}
	}
	return true
}

func coupled(fields []order.Field) []order.Field {
	out := append([]order.Field(nil), fields...)
	hasItems := order.Contains(fields, order.FieldItems)
	hasPricing := order.Contains(fields, order.FieldPricing)
	if hasItems && !hasPricing {
		out = append(out, order.FieldPricing)
	}
	if hasPricing && !hasItems {
		out = append(out, order.FieldItems)
	}
	return out
}

// Winner строит заказ, который будет записан по стратегии s. Версия
// результата больше версий обеих сторон.
func Winner(c OrderConflict, s Strategy) (order.Order, error) {
	if err := s.Validate(); err != nil {
		return order.Order{}, err
	}

	var out order.Order
	switch s {
	case KeepLocal:
		out = c.LocalValue.Clone()
	case KeepRemote:
		out = c.RemoteValue.Clone()
	case Merge:
		if !CanMerge(c) {
			return order.Order{}, ErrMergeNotAllowed
		}
		out = c.RemoteValue.Clone()
		order.Apply(&out, c.LocalValue, c.LocalFields)
	}

	out.ID = c.OrderID
	out.Version = max(c.LocalVersion, c.RemoteVersion) + 1
	return out, nil
}
