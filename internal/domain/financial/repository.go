package financial

import (
	"context"
	"time"

	"possync/internal/domain/sync"
)

// Repository долговременное хранилище очереди.
type Repository interface {
	// Upsert сохраняет новую запись с Attempts=1. Если запись с тем же
	// ключом идемпотентности уже есть, она получает новую нагрузку и ошибку,
	// а Attempts увеличивается на единицу. Возвращает сохраненную запись.
	Upsert(ctx context.Context, item Item) (*Item, error)
	Get(ctx context.Context, id string) (*Item, error)
	// GetByKey ищет запись по ключу идемпотентности.
	GetByKey(ctx context.Context, table TableName, recordID string, op Operation) (*Item, error)
	// List возвращает записи от старых к новым; limit <= 0 означает все.
	List(ctx context.Context, limit int) ([]Item, error)
	// ListDue возвращает записи, допускающие автоповтор, срок которых наступил.
	ListDue(ctx context.Context, now time.Time, limit int) ([]Item, error)
	// RecordFailure увеличивает Attempts и сохраняет ошибку последней попытки.
	RecordFailure(ctx context.Context, id string, kind sync.Kind, message string, next *time.Time) (*Item, error)
	Delete(ctx context.Context, id string) error
	CountByTable(ctx context.Context) (map[TableName]int, int, error)
}

// Cloud операции облака, которые нужны очереди.
type Cloud interface {
	// PushFinancial отправляет изменение. Облако дедуплицирует по
	// таблице, записи и операции.
	PushFinancial(ctx context.Context, item Item) error
	// AckFailed сообщает облаку, что сохраненная им ошибка устранена.
	AckFailed(ctx context.Context, id string) error
	// FetchFailed возвращает ошибки, записанные облаком для терминала.
	FetchFailed(ctx context.Context) ([]Item, error)
}
