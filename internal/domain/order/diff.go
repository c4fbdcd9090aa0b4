package order

import "fmt"

// Field группа полей заказа, которая сравнивается и сливается целиком.
type Field string

const (
	FieldStatus        Field = "status"
	FieldItems         Field = "items"
	FieldPricing       Field = "pricing"
	FieldCustomer      Field = "customer"
	FieldPaymentStatus Field = "payment_status"
	FieldDriver        Field = "driver"
	FieldPreparation   Field = "preparation"
)

// AllFields все группы полей в каноническом порядке.
var AllFields = []Field{
	FieldStatus,
	FieldItems,
	FieldPricing,
	FieldCustomer,
	FieldPaymentStatus,
	FieldDriver,
	FieldPreparation,
}

// ParseField восстанавливает Field из строки.
func ParseField(s string) (Field, error) {
	for _, f := range AllFields {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown order field: %q", s)
}

// Diff возвращает группы полей, в которых a и b различаются.
// Версия и время обновления не сравниваются.
func Diff(a, b Order) []Field {
	var fields []Field
	for _, f := range AllFields {
		if !fieldEqual(f, a, b) {
			fields = append(fields, f)
		}
	}
	return fields
}

// Apply переносит в dst значения полей fields из src.
func Apply(dst *Order, src Order, fields []Field) {
	for _, f := range fields {
		switch f {
		case FieldStatus:
			dst.Status = src.Status
			dst.CancellationReason = src.CancellationReason
		case FieldItems:
			dst.Items = src.Clone().Items
		case FieldPricing:
			dst.Pricing = src.Pricing
		case FieldCustomer:
			dst.Customer = src.Customer
		case FieldPaymentStatus:
			dst.PaymentStatus = src.PaymentStatus
		case FieldDriver:
			dst.DriverID = src.DriverID
		case FieldPreparation:
			dst.PreparationProgress = src.PreparationProgress
		}
	}
}

// Contains сообщает, есть ли f среди fields.
func Contains(fields []Field, f Field) bool {
	for _, x := range fields {
		if x == f {
			return true
		}
	}
	return false
}

func fieldEqual(f Field, a, b Order) bool {
	switch f {
	case FieldStatus:
		return a.Status == b.Status && a.CancellationReason == b.CancellationReason
	case FieldItems:
		return itemsEqual(a.Items, b.Items)
	case FieldPricing:
		return a.Pricing.Subtotal.Equal(b.Pricing.Subtotal) &&
			a.Pricing.Discount.Equal(b.Pricing.Discount) &&
			a.Pricing.Total.Equal(b.Pricing.Total)
	case FieldCustomer:
		return a.Customer == b.Customer
	case FieldPaymentStatus:
		return a.PaymentStatus == b.PaymentStatus
	case FieldDriver:
		return a.DriverID == b.DriverID
	case FieldPreparation:
		return a.PreparationProgress == b.PreparationProgress
	default:
		return true
	}
}

func itemsEqual(a, b []Item) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ProductID != b[i].ProductID ||
			a[i].Name != b[i].Name ||
			a[i].Quantity != b[i].Quantity ||
			a[i].Notes != b[i].Notes ||
			!a[i].UnitPrice.Equal(b[i].UnitPrice) {
			return false
		}
	}
	return true
}
