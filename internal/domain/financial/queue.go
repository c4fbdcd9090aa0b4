package financial

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/singleflight"

	"possync/internal/domain/sync"
)

const retryAllKey = "retry-all"

// Queue очередь финансовых изменений с доставкой не менее одного раза.
// Записи удаляются только после успешной отправки или вручную оператором.
type Queue struct {
	repo     Repository
	cloud    Cloud
	factory  *PayloadFactory
	schedule Schedule
	bus      *sync.Bus
	log      *slog.Logger

	items *sync.KeyedQueue
	group singleflight.Group
	runMu gosync.Mutex

	now func() time.Time
}

// NewQueue создает очередь.
func NewQueue(repo Repository, cloud Cloud, bus *sync.Bus, schedule Schedule, log *slog.Logger) *Queue {
	return &Queue{
		repo:     repo,
		cloud:    cloud,
		factory:  NewPayloadFactory(),
		schedule: schedule,
		bus:      bus,
		log:      log.With("component", "financial_queue"),
		items:    sync.NewKeyedQueue(),
		now:      time.Now,
	}
}

// Submit отправляет изменение в облако. Некорректное изменение отклоняется
// сразу и в очередь не попадает; при сбое отправки изменение ставится в очередь.
func (q *Queue) Submit(ctx context.Context, m Mutation) sync.Result {
	if err := q.factory.Validate(m.Table, m.Operation, m.Payload); err != nil {
		return sync.Fail(sync.Validation("submit financial mutation", err))
	}
	if m.RecordID == "" {
		return sync.Fail(sync.Validation("submit financial mutation", ErrRecordRequired))
	}

	env, err := q.factory.Marshal(m.Operation, m.Payload)
	if err != nil {
		return sync.Fail(sync.Validation("submit financial mutation", err))
	}

	item := Item{
		ID:        uuid.NewString(),
		TableName: m.Table,
		RecordID:  m.RecordID,
		Operation: m.Operation,
		Payload:   env.Data,
	}

	pushErr := q.cloud.PushFinancial(ctx, item)
	if pushErr == nil {
		return sync.Ok("delivered")
	}

	stored, err := q.enqueue(ctx, item, pushErr)
	if err != nil {
		q.log.Error("failed to enqueue financial mutation",
			"table", m.Table, "record_id", m.RecordID, "error", err)
		return sync.Fail(fmt.Errorf("enqueue: %w", err))
	}

	res := sync.Fail(pushErr)
	res.Message = fmt.Sprintf("queued as %s, attempts %d", stored.ID, stored.Attempts)
	return res
}

// Enqueue сохраняет неудавшееся изменение. cause ошибка отправки.
func (q *Queue) Enqueue(ctx context.Context, m Mutation, cause error) (*Item, error) {
	if err := m.Table.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}
	if err := m.Operation.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}
	if m.Payload == nil || m.RecordID == "" {
		return nil, fmt.Errorf("%w: payload and record id are required", ErrInvalidItem)
	}

	env, err := q.factory.Marshal(m.Operation, m.Payload)
	if err != nil {
		return nil, err
	}

	// нагрузку, не прошедшую проверку, все равно сохраняем, но без автоповтора
	if vErr := q.factory.Validate(m.Table, m.Operation, m.Payload); vErr != nil {
		cause = sync.Validation("enqueue", vErr)
	}

	return q.enqueue(ctx, Item{
		ID:        uuid.NewString(),
		TableName: m.Table,
		RecordID:  m.RecordID,
		Operation: m.Operation,
		Payload:   env.Data,
	}, cause)
}

func (q *Queue) enqueue(ctx context.Context, item Item, cause error) (*Item, error) {
	now := q.now()
	item.Attempts = 1
	item.ErrorKind = failureKind(cause)
	item.ErrorMessage = errorMessage(cause)
	item.CreatedAt = now
	item.UpdatedAt = now
	if item.ErrorKind.Retryable() {
		next := q.schedule.NextAttempt(now, item.Attempts)
		item.NextAttemptAt = &next
	}

	stored, err := q.repo.Upsert(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("failed to store financial item: %w", err)
	}

	q.log.Info("financial mutation queued",
		"item_id", stored.ID,
		"table", stored.TableName,
		"record_id", stored.RecordID,
		"operation", stored.Operation,
		"attempts", stored.Attempts,
		"kind", stored.ErrorKind.String(),
	)
	q.publish(ctx, ChangeEnqueued, stored.ID)
	return stored, nil
}

// ListFailed возвращает записи очереди от старых к новым.
func (q *Queue) ListFailed(ctx context.Context, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	items, err := q.repo.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list financial items: %w", err)
	}
	return items, nil
}

// RetryOne повторяет отправку одной записи. Сбой сети не является ошибкой
// метода: он отражается в ItemResult, а запись остается в очереди.
func (q *Queue) RetryOne(ctx context.Context, id string) (ItemResult, error) {
	release, err := q.items.Acquire(ctx, id)
	if err != nil {
		return ItemResult{}, sync.Cancelled("retry financial item", err)
	}
	defer release()

	return q.retry(ctx, id)
}

func (q *Queue) retry(ctx context.Context, id string) (ItemResult, error) {
	item, err := q.repo.Get(ctx, id)
	if err != nil {
		return ItemResult{}, err
	}

	if _, err := q.factory.Parse(item.TableName, item.Operation, item.Payload); err != nil {
		return q.fail(ctx, item, sync.Validation("retry", err))
	}

	if err := q.cloud.PushFinancial(ctx, *item); err != nil {
		return q.fail(ctx, item, err)
	}

	if err := q.repo.Delete(ctx, item.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return ItemResult{}, fmt.Errorf("failed to remove delivered item: %w", err)
	}

	if err := q.cloud.AckFailed(ctx, item.ID); err != nil {
		q.log.Debug("failed to acknowledge financial item", "item_id", item.ID, "error", err)
	}

	q.log.Info("financial item delivered", "item_id", item.ID, "attempts", item.Attempts)
	q.publish(ctx, ChangeRetried, item.ID)

	return ItemResult{ItemID: item.ID, Attempts: item.Attempts, Result: sync.Ok("delivered")}, nil
}

func (q *Queue) fail(ctx context.Context, item *Item, cause error) (ItemResult, error) {
	kind := failureKind(cause)

	var next *time.Time
	if kind.Retryable() {
		t := q.schedule.NextAttempt(q.now(), item.Attempts+1)
		next = &t
	}

	updated, err := q.repo.RecordFailure(ctx, item.ID, kind, errorMessage(cause), next)
	if err != nil {
		return ItemResult{}, fmt.Errorf("failed to record retry failure: %w", err)
	}

	q.log.Warn("financial item retry failed",
		"item_id", item.ID,
		"attempts", updated.Attempts,
		"kind", kind.String(),
		"error", cause,
	)
	q.publish(ctx, ChangeRetryFailed, item.ID)

	return ItemResult{ItemID: item.ID, Attempts: updated.Attempts, Result: sync.Fail(cause)}, nil
}

// RetryAll повторяет все записи последовательно. Вызовы, пришедшие во
// время выполнения, получают отчет выполняющегося вызова.
func (q *Queue) RetryAll(ctx context.Context) (RetryReport, error) {
	v, err, _ := q.group.Do(retryAllKey, func() (interface{}, error) {
		q.runMu.Lock()
		defer q.runMu.Unlock()

		items, err := q.repo.List(ctx, 0)
		if err != nil {
			return RetryReport{}, fmt.Errorf("failed to list financial items: %w", err)
		}
		return q.retryItems(ctx, items)
	})
	if err != nil {
		return RetryReport{}, err
	}
	return v.(RetryReport), nil
}

// RetryDue автоматически повторяет записи, срок которых наступил.
// Записи с ошибками валидации и неустранимыми ошибками пропускаются.
// Если идет ручной повтор, вызов ничего не делает.
func (q *Queue) RetryDue(ctx context.Context, limit int) (RetryReport, error) {
	if !q.runMu.TryLock() {
		return RetryReport{}, nil
	}
	defer q.runMu.Unlock()

	items, err := q.repo.ListDue(ctx, q.now(), limit)
	if err != nil {
		return RetryReport{}, fmt.Errorf("failed to list due financial items: %w", err)
	}
	if len(items) == 0 {
		return RetryReport{}, nil
	}

	q.log.Debug("retrying due financial items", "count", len(items))
	return q.retryItems(ctx, items)
}

func (q *Queue) retryItems(ctx context.Context, items []Item) (RetryReport, error) {
	report := RetryReport{Items: make([]ItemResult, 0, len(items))}

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return report, sync.Cancelled("retry financial items", err)
		}

		res, err := q.RetryOne(ctx, it.ID)
		if errors.Is(err, ErrNotFound) {
			// удалена оператором или другим повтором
			continue
		}
		if err != nil {
			return report, err
		}

		report.Total++
		if res.Result.Success {
			report.Succeeded++
		} else {
			report.Failed++
		}
		report.Items = append(report.Items, res)
	}

	return report, nil
}

// Purge удаляет запись по решению оператора.
func (q *Queue) Purge(ctx context.Context, id string) error {
	release, err := q.items.Acquire(ctx, id)
	if err != nil {
		return sync.Cancelled("purge financial item", err)
	}
	defer release()

	if err := q.repo.Delete(ctx, id); err != nil {
		return err
	}

	q.log.Warn("financial item purged by operator", "item_id", id)
	q.publish(ctx, ChangePurged, id)
	return nil
}

// Counts возвращает число записей по таблицам.
func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	byTable, flagged, err := q.repo.CountByTable(ctx)
	if err != nil {
		return Counts{}, fmt.Errorf("failed to count financial items: %w", err)
	}

	c := Counts{ByTable: byTable, Flagged: flagged}
	for _, n := range byTable {
		c.Total += n
	}
	return c, nil
}

// Reconcile добавляет в очередь ошибки, которые облако записало для
// терминала, но которых нет локально. Запись с тем же ключом
// идемпотентности считается уже имеющейся: ее попытки и расписание не
// меняются. Возвращает число добавленных.
func (q *Queue) Reconcile(ctx context.Context) (int, error) {
	remote, err := q.cloud.FetchFailed(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch failed items: %w", err)
	}

	imported := 0
	for _, it := range remote {
		_, err := q.repo.Get(ctx, it.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return imported, err
		}

		if err := it.TableName.Validate(); err != nil {
			q.log.Warn("skipping remote failed item", "item_id", it.ID, "error", err)
			continue
		}

		local, err := q.repo.GetByKey(ctx, it.TableName, it.RecordID, it.Operation)
		if err == nil {
			q.log.Debug("remote failed item already queued",
				"item_id", it.ID, "local_item_id", local.ID, "key", it.Key())
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return imported, err
		}
		if it.Attempts < 1 {
			it.Attempts = 1
		}
		now := q.now()
		if it.CreatedAt.IsZero() {
			it.CreatedAt = now
		}
		it.UpdatedAt = now
		if it.ErrorKind.Retryable() {
			next := now
			it.NextAttemptAt = &next
		}

		if _, err := q.repo.Upsert(ctx, it); err != nil {
			return imported, fmt.Errorf("failed to import item %s: %w", it.ID, err)
		}
		imported++
	}

	if imported > 0 {
		q.log.Info("imported failed financial items from cloud", "count", imported)
		q.publish(ctx, ChangeReconciled, "")
	}
	return imported, nil
}

func (q *Queue) publish(ctx context.Context, kind ChangeKind, id string) {
	if q.bus == nil {
		return
	}
	counts, err := q.Counts(ctx)
	if err != nil {
		q.log.Debug("failed to count items for notification", "error", err)
	}
	sync.Publish(q.bus, TopicChanged, Change{Kind: kind, ItemID: id, Counts: counts})
}

// failureKind класс сбоя для финансовой записи. Конфликт версий у
// финансовых изменений не разрешается оператором и считается неустранимым.
func failureKind(err error) sync.Kind {
	k := sync.KindOf(err)
	if k == sync.KindConflict {
		return sync.KindPermanent
	}
	return k
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
