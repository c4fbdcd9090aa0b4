package conflict

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"golang.org/x/exp/slog"

	"possync/internal/domain/order"
	"possync/internal/domain/sync"
)

// Service ведет открытые конфликты. Разрешения по одному заказу
// выполняются по одному и в порядке поступления.
type Service struct {
	repo   Repository
	pusher Pusher
	bus    *sync.Bus
	log    *slog.Logger

	orders   *sync.KeyedQueue
	replayMu gosync.Mutex

	now func() time.Time
}

// ReplayReport итог повтора отложенных разрешений.
type ReplayReport struct {
	Resolved  int  `json:"resolved"`
	Failed    int  `json:"failed"`
	Remaining int  `json:"remaining"`
	Stopped   bool `json:"stopped"`
}

// NewService создает сервис конфликтов.
func NewService(repo Repository, pusher Pusher, bus *sync.Bus, log *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		pusher: pusher,
		bus:    bus,
		log:    log.With("component", "conflict_service"),
		orders: sync.NewKeyedQueue(),
		now:    time.Now,
	}
}

// UseOrderQueue подключает общую с правками заказов очередь блокировок.
// Вызывается до первого использования сервиса.
func (s *Service) UseOrderQueue(q *sync.KeyedQueue) {
	s.orders = q
}

// Record фиксирует конфликт между рабочей копией и заказом облака.
// Повторное обнаружение того же расхождения возвращает уже открытый конфликт.
func (s *Service) Record(ctx context.Context, local order.LocalOrder, remote order.Order) (*OrderConflict, error) {
	c, ok := Detect(local, remote, s.now())
	if !ok {
		return nil, ErrSameVersion
	}

	existing, err := s.repo.ListByOrder(ctx, c.OrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list order conflicts: %w", err)
	}
	for i := range existing {
		e := existing[i]
		if e.LocalVersion == c.LocalVersion && e.RemoteVersion == c.RemoteVersion {
			return &e, nil
		}
	}

	if err := s.repo.Create(ctx, *c); err != nil {
		return nil, fmt.Errorf("failed to store conflict: %w", err)
	}

	s.log.Warn("order conflict detected",
		"conflict_id", c.ID,
		"order_id", c.OrderID,
		"local_version", c.LocalVersion,
		"remote_version", c.RemoteVersion,
		"type", c.Type,
	)
	s.publish(ChangeCreated, c.ID, c.OrderID)
	return c, nil
}

// ListOpen возвращает открытые конфликты в порядке создания.
func (s *Service) ListOpen(ctx context.Context) ([]OrderConflict, error) {
	list, err := s.repo.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	return list, nil
}

// Get возвращает конфликт по идентификатору.
func (s *Service) Get(ctx context.Context, id string) (*OrderConflict, error) {
	return s.repo.Get(ctx, id)
}

// Count число открытых конфликтов.
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

// CountPending число отложенных разрешений.
func (s *Service) CountPending(ctx context.Context) (int, error) {
	return s.repo.CountPending(ctx)
}

// Resolve разрешает конфликт по стратегии. Либо заказ записывается с новой
// версией и конфликт удаляется, либо ничего не меняется. Если отправка не
// удалась из-за связи, стратегия сохраняется и повторяется через Replay.
func (s *Service) Resolve(ctx context.Context, id string, strategy Strategy) sync.Result {
	if err := strategy.Validate(); err != nil {
		return sync.Fail(sync.Validation("resolve conflict", err))
	}

	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return s.getFailure(err)
	}

	release, err := s.orders.Acquire(ctx, c.OrderID)
	if err != nil {
		res := sync.Fail(sync.Cancelled("resolve conflict", err))
		res.Message = "cancelled"
		return res
	}
	defer release()

	res, _ := s.resolve(ctx, id, strategy)
	return res
}

func (s *Service) resolve(ctx context.Context, id string, strategy Strategy) (sync.Result, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return s.getFailure(err), err
	}

	siblings, err := s.repo.ListByOrder(ctx, c.OrderID)
	if err != nil {
		return sync.Fail(err), err
	}
	for _, o := range siblings {
		if o.ID != c.ID && o.CreatedAt.Before(c.CreatedAt) {
			err := sync.Validation("resolve conflict", fmt.Errorf("%w: %s", ErrOlderConflictPending, o.ID))
			return sync.Fail(err), err
		}
	}

	winner, err := Winner(*c, strategy)
	if err != nil {
		err = sync.Validation("resolve conflict", err)
		return sync.Fail(err), err
	}

	accepted, err := s.pusher.PushResolution(ctx, winner, c.RemoteVersion, c.ID)
	var vc *order.VersionConflictError
	if errors.As(err, &vc) && vc.Remote != nil {
		return s.supersede(ctx, c, *vc.Remote, err)
	}
	if err != nil {
		res := sync.Fail(err)
		if sync.IsRetryable(err) {
			s.deferResolution(ctx, c, strategy, err)
			res.Message = "resolution saved and will be sent when the cloud is reachable"
		}
		s.log.Warn("conflict resolution push failed",
			"conflict_id", c.ID, "order_id", c.OrderID, "strategy", strategy, "error", err)
		return res, err
	}

	final := winner
	if accepted != nil && accepted.Version > 0 {
		final = *accepted
	}

	if err := s.repo.Apply(ctx, c.ID, final); err != nil {
		// облако уже приняло запись; повтор по тому же ключу безопасен
		s.deferResolution(ctx, c, strategy, err)
		s.log.Error("failed to apply accepted resolution", "conflict_id", c.ID, "error", err)
		return sync.Fail(err), err
	}

	s.log.Info("order conflict resolved",
		"conflict_id", c.ID,
		"order_id", c.OrderID,
		"strategy", strategy,
		"version", final.Version,
	)
	s.publish(ChangeResolved, c.ID, c.OrderID)
	return sync.Ok(fmt.Sprintf("order %s saved at version %d", c.OrderID, final.Version)), nil
}

// supersede заменяет конфликт, разрешение которого облако отклонило из-за
// новой версии заказа, конфликтом против этой версии. Снимки базы и
// локальной правки сохраняются, порядок создания тоже.
func (s *Service) supersede(ctx context.Context, c *OrderConflict, remote order.Order, cause error) (sync.Result, error) {
	if remote.Version == c.RemoteVersion {
		return sync.Fail(cause), cause
	}

	local := order.LocalOrder{Current: c.LocalValue, Base: c.BaseValue, State: order.StateConflicted}
	next, ok := Detect(local, remote, s.now())
	if !ok {
		return sync.Fail(cause), cause
	}
	next.CreatedAt = c.CreatedAt

	if err := s.repo.Replace(ctx, c.ID, *next); err != nil {
		s.log.Error("failed to replace stale conflict", "conflict_id", c.ID, "error", err)
		return sync.Fail(err), err
	}

	s.log.Warn("order conflict superseded",
		"old_conflict_id", c.ID,
		"conflict_id", next.ID,
		"order_id", c.OrderID,
		"old_remote_version", c.RemoteVersion,
		"remote_version", next.RemoteVersion,
		"type", next.Type,
	)
	s.publish(ChangeSuperseded, next.ID, next.OrderID)

	err := sync.Wrap(sync.KindConflict, "resolve conflict", fmt.Errorf("%w: %s", ErrConflictSuperseded, next.ID))
	res := sync.Fail(err)
	res.Message = fmt.Sprintf("order %s changed in the cloud, resolve conflict %s again", c.OrderID, next.ID)
	return res, err
}

func (s *Service) deferResolution(ctx context.Context, c *OrderConflict, strategy Strategy, cause error) {
	now := s.now()
	err := s.repo.SavePending(ctx, PendingResolution{
		ConflictID: c.ID,
		OrderID:    c.OrderID,
		Strategy:   strategy,
		Attempts:   1,
		LastError:  cause.Error(),
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		s.log.Error("failed to save pending resolution", "conflict_id", c.ID, "error", err)
		return
	}
	s.publish(ChangeDeferred, c.ID, c.OrderID)
}

// Replay повторяет отложенные разрешения в порядке создания конфликтов.
// Останавливается на первой ошибке связи. Параллельный вызов ничего не делает.
func (s *Service) Replay(ctx context.Context) (ReplayReport, error) {
	var report ReplayReport
	if !s.replayMu.TryLock() {
		return report, nil
	}
	defer s.replayMu.Unlock()

	pending, err := s.repo.ListPending(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list pending resolutions: %w", err)
	}

	for i, p := range pending {
		release, err := s.orders.Acquire(ctx, p.OrderID)
		if err != nil {
			return report, sync.Cancelled("replay resolutions", err)
		}
		_, err = s.resolve(ctx, p.ConflictID, p.Strategy)
		release()

		if err == nil {
			report.Resolved++
			continue
		}
		if errors.Is(err, ErrNotFound) {
			continue
		}
		report.Failed++
		if sync.KindOf(err) == sync.KindConnectivity {
			report.Stopped = true
			report.Remaining = len(pending) - i - 1
			break
		}
	}

	if report.Resolved > 0 || report.Failed > 0 {
		s.log.Info("pending resolutions replayed",
			"resolved", report.Resolved, "failed", report.Failed, "stopped", report.Stopped)
	}
	return report, nil
}

func (s *Service) getFailure(err error) sync.Result {
	if errors.Is(err, ErrNotFound) {
		return sync.Fail(sync.Permanent("resolve conflict", err))
	}
	return sync.Fail(err)
}

func (s *Service) publish(kind ChangeKind, conflictID, orderID string) {
	if s.bus == nil {
		return
	}
	sync.Publish(s.bus, TopicChanged, Change{Kind: kind, ConflictID: conflictID, OrderID: orderID})
}
