package financial

import (
	"fmt"

	"github.com/danielgtaylor/huma/v2"
)

// TableName финансовая таблица, изменения которой идут через очередь.
type TableName string

const (
	TableDriverEarnings TableName = "driver_earnings"
	TableStaffPayments  TableName = "staff_payments"
	TableShiftExpenses  TableName = "shift_expenses"
)

// Tables все поддерживаемые таблицы.
var Tables = []TableName{TableDriverEarnings, TableStaffPayments, TableShiftExpenses}

func (TableName) Schema(huma.Registry) *huma.Schema {
	return &huma.Schema{
		Type: "string",
		Enum: []any{
			string(TableDriverEarnings),
			string(TableStaffPayments),
			string(TableShiftExpenses),
		},
		Description: "Финансовая таблица",
		Examples:    []any{TableDriverEarnings},
	}
}

// Validate реализует интерфейс huma.Validatable.
func (t TableName) Validate() error {
	switch t {
	case TableDriverEarnings, TableStaffPayments, TableShiftExpenses:
		return nil
	}
	return fmt.Errorf("unknown financial table: %q", t)
}

func (t TableName) String() string {
	return string(t)
}

// DisplayName возвращает человекочитаемое название таблицы.
func (t TableName) DisplayName() string {
	switch t {
	case TableDriverEarnings:
		return "Заработок водителей"
	case TableStaffPayments:
		return "Выплаты персоналу"
	case TableShiftExpenses:
		return "Расходы смены"
	default:
		return "Неизвестная таблица"
	}
}

// Operation вид изменения записи.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

func (o Operation) Validate() error {
	switch o {
	case OpInsert, OpUpdate, OpDelete:
		return nil
	}
	return fmt.Errorf("unknown financial operation: %q", o)
}

func (o Operation) String() string {
	return string(o)
}
