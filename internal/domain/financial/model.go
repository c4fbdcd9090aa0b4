// Package financial реализует очередь неотправленных финансовых изменений
// терминала: заработок водителей, выплаты персоналу и расходы смены.
package financial

import (
	"encoding/json"
	"errors"
	"time"

	"possync/internal/domain/sync"
)

// DefaultListLimit размер выборки по умолчанию для списка ошибок.
const DefaultListLimit = 50

var (
	ErrNotFound    = errors.New("financial item not found")
	ErrInvalidItem = errors.New("invalid financial item")
)

// Item изменение, которое не удалось доставить в облако.
// Attempts не уменьшается, пока запись существует.
type Item struct {
	ID            string          `json:"id"`
	TableName     TableName       `json:"table_name"`
	RecordID      string          `json:"record_id"`
	Operation     Operation       `json:"operation"`
	Payload       json.RawMessage `json:"payload"`
	Attempts      int             `json:"attempts"`
	ErrorMessage  string          `json:"error_message"`
	ErrorKind     sync.Kind       `json:"-"`
	NextAttemptAt *time.Time      `json:"next_attempt_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Key ключ идемпотентности изменения на стороне облака.
func (i Item) Key() string {
	return string(i.TableName) + "/" + i.RecordID + "/" + string(i.Operation)
}

// Flagged сообщает, исключена ли запись из автоматических повторов.
func (i Item) Flagged() bool {
	return !i.ErrorKind.Retryable()
}

// Mutation финансовое изменение до отправки.
type Mutation struct {
	Table     TableName
	RecordID  string
	Operation Operation
	Payload   Payload
}

// Counts число записей в очереди.
type Counts struct {
	ByTable map[TableName]int `json:"by_table"`
	Total   int               `json:"total"`
	Flagged int               `json:"flagged"`
}

// ItemResult итог повтора одной записи.
type ItemResult struct {
	ItemID   string      `json:"item_id"`
	Attempts int         `json:"attempts"`
	Result   sync.Result `json:"result"`
}

// RetryReport итог RetryAll.
type RetryReport struct {
	Total     int          `json:"total"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Items     []ItemResult `json:"items"`
}

// ChangeKind причина изменения очереди.
type ChangeKind string

const (
	ChangeEnqueued    ChangeKind = "enqueued"
	ChangeRetried     ChangeKind = "retried"
	ChangeRetryFailed ChangeKind = "retry_failed"
	ChangePurged      ChangeKind = "purged"
	ChangeReconciled  ChangeKind = "reconciled"
)

// Change событие изменения очереди.
type Change struct {
	Kind   ChangeKind `json:"kind"`
	ItemID string     `json:"item_id,omitempty"`
	Counts Counts     `json:"counts"`
}

// TopicChanged тема событий очереди.
var TopicChanged = sync.NewTopic[Change]("financial.changed")
