package financial

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrAmountRequired   = errors.New("amount must be greater than zero")
	ErrDriverRequired   = errors.New("driver id is required")
	ErrStaffRequired    = errors.New("staff id is required")
	ErrShiftRequired    = errors.New("shift id is required")
	ErrCategoryRequired = errors.New("expense category is required")
	ErrRecordRequired   = errors.New("record id is required")
)

// Payload полезная нагрузка изменения. Конкретный тип определяется парой
// таблица + операция, см. PayloadFactory.
type Payload interface {
	Table() TableName
	Validate() error
}

// DriverEarningPayload начисление водителю за доставку.
type DriverEarningPayload struct {
	DriverID  string          `json:"driver_id"`
	OrderID   string          `json:"order_id,omitempty"`
	ShiftID   string          `json:"shift_id"`
	Amount    decimal.Decimal `json:"amount"`
	Tips      decimal.Decimal `json:"tips"`
	EarnedAt  time.Time       `json:"earned_at"`
	Cancelled bool            `json:"cancelled,omitempty"`
}

func (p *DriverEarningPayload) Table() TableName { return TableDriverEarnings }

func (p *DriverEarningPayload) Validate() error {
	if strings.TrimSpace(p.DriverID) == "" {
		return ErrDriverRequired
	}
	if strings.TrimSpace(p.ShiftID) == "" {
		return ErrShiftRequired
	}
	if !p.Amount.IsPositive() {
		return ErrAmountRequired
	}
	if p.Tips.IsNegative() {
		return fmt.Errorf("tips must not be negative")
	}
	return nil
}

// StaffPaymentPayload выплата сотруднику.
type StaffPaymentPayload struct {
	StaffID     string          `json:"staff_id"`
	ShiftID     string          `json:"shift_id"`
	Amount      decimal.Decimal `json:"amount"`
	PaymentType string          `json:"payment_type"`
	Note        string          `json:"note,omitempty"`
	PaidAt      time.Time       `json:"paid_at"`
}

func (p *StaffPaymentPayload) Table() TableName { return TableStaffPayments }

func (p *StaffPaymentPayload) Validate() error {
	if strings.TrimSpace(p.StaffID) == "" {
		return ErrStaffRequired
	}
	if strings.TrimSpace(p.ShiftID) == "" {
		return ErrShiftRequired
	}
	if !p.Amount.IsPositive() {
		return ErrAmountRequired
	}
	switch p.PaymentType {
	case "wage", "advance", "bonus":
	default:
		return fmt.Errorf("unknown payment type: %q", p.PaymentType)
	}
	return nil
}

// ShiftExpensePayload расход, оплаченный из кассы смены.
type ShiftExpensePayload struct {
	ShiftID     string          `json:"shift_id"`
	Category    string          `json:"category"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
	ReceiptRef  string          `json:"receipt_ref,omitempty"`
	SpentAt     time.Time       `json:"spent_at"`
}

func (p *ShiftExpensePayload) Table() TableName { return TableShiftExpenses }

func (p *ShiftExpensePayload) Validate() error {
	if strings.TrimSpace(p.ShiftID) == "" {
		return ErrShiftRequired
	}
	if strings.TrimSpace(p.Category) == "" {
		return ErrCategoryRequired
	}
	if !p.Amount.IsPositive() {
		return ErrAmountRequired
	}
	return nil
}

// DeletePayload удаление записи любой таблицы.
type DeletePayload struct {
	TableName TableName `json:"table_name"`
	RecordID  string    `json:"record_id"`
	Reason    string    `json:"reason,omitempty"`
}

func (p *DeletePayload) Table() TableName { return p.TableName }

func (p *DeletePayload) Validate() error {
	if err := p.TableName.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(p.RecordID) == "" {
		return ErrRecordRequired
	}
	return nil
}

// Envelope сериализованная нагрузка вместе с дискриминатором.
type Envelope struct {
	Table     TableName       `json:"table_name"`
	Operation Operation       `json:"operation"`
	Data      json.RawMessage `json:"data"`
}
