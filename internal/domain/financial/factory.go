package financial

import (
	"encoding/json"
	"fmt"
)

// PayloadFactory создает и разбирает нагрузки по паре таблица + операция.
type PayloadFactory struct{}

// NewPayloadFactory создает новую фабрику.
func NewPayloadFactory() *PayloadFactory {
	return &PayloadFactory{}
}

// Create возвращает пустую нагрузку для таблицы и операции.
func (f *PayloadFactory) Create(table TableName, op Operation) (Payload, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	if err := op.Validate(); err != nil {
		return nil, err
	}

	if op == OpDelete {
		return &DeletePayload{TableName: table}, nil
	}

	switch table {
	case TableDriverEarnings:
		return &DriverEarningPayload{}, nil
	case TableStaffPayments:
		return &StaffPaymentPayload{}, nil
	case TableShiftExpenses:
		return &ShiftExpensePayload{}, nil
	default:
		return nil, fmt.Errorf("unsupported financial table: %s", table)
	}
}

// Parse разбирает JSON нагрузки. Валидация не выполняется.
func (f *PayloadFactory) Parse(table TableName, op Operation, data []byte) (Payload, error) {
	p, err := f.Create(table, op)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse %s/%s payload: %w", table, op, err)
	}

	if d, ok := p.(*DeletePayload); ok && d.TableName != table {
		return nil, fmt.Errorf("delete payload table %q does not match %q", d.TableName, table)
	}

	return p, nil
}

// Validate проверяет, что нагрузка соответствует таблице и корректна.
func (f *PayloadFactory) Validate(table TableName, op Operation, p Payload) error {
	if p == nil {
		return fmt.Errorf("payload is required")
	}
	if p.Table() != table {
		return fmt.Errorf("payload for %s used with table %s", p.Table(), table)
	}
	_, isDelete := p.(*DeletePayload)
	if isDelete != (op == OpDelete) {
		return fmt.Errorf("payload %T does not fit operation %s", p, op)
	}
	return p.Validate()
}

// Marshal упаковывает нагрузку в Envelope.
func (f *PayloadFactory) Marshal(op Operation, p Payload) (Envelope, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return Envelope{Table: p.Table(), Operation: op, Data: data}, nil
}
