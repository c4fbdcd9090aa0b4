package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"possync/internal/domain/order"
)

// OrderRepository рабочие копии заказов терминала.
type OrderRepository struct {
	db *sql.DB
}

const orderColumns = `id, current_value, base_value, state, updated_at`

// Save сохраняет рабочую копию целиком.
func (r *OrderRepository) Save(ctx context.Context, lo order.LocalOrder) error {
	return saveOrder(ctx, r.db, lo)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveOrder(ctx context.Context, db execer, lo order.LocalOrder) error {
	current, err := json.Marshal(lo.Current)
	if err != nil {
		return fmt.Errorf("ошибка сериализации заказа: %w", err)
	}
	base, err := json.Marshal(lo.Base)
	if err != nil {
		return fmt.Errorf("ошибка сериализации базы заказа: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO local_orders (id, current_value, base_value, base_version, state, touches_payment, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			current_value   = excluded.current_value,
			base_value      = excluded.base_value,
			base_version    = excluded.base_version,
			state           = excluded.state,
			touches_payment = excluded.touches_payment,
			updated_at      = excluded.updated_at
	`, lo.Current.ID, string(current), string(base), lo.BaseVersion(), string(lo.State),
		lo.TouchesPayment(), toUnix(lo.UpdatedAt))
	if err != nil {
		return fmt.Errorf("ошибка сохранения заказа %s: %w", lo.Current.ID, err)
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*order.LocalOrder, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM local_orders WHERE id = ?`, id)
	return scanOrder(row)
}

// ListByState возвращает копии в состоянии state, давно измененные первыми.
func (r *OrderRepository) ListByState(ctx context.Context, state order.SyncState, limit int) ([]order.LocalOrder, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM local_orders
		WHERE state = ?
		ORDER BY updated_at, id
		LIMIT ?
	`, string(state), limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения заказов: %w", err)
	}
	defer rows.Close()

	var out []order.LocalOrder
	for rows.Next() {
		lo, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *lo)
	}
	return out, rows.Err()
}

// CountPending число неотправленных копий и тех из них, что меняют оплату.
func (r *OrderRepository) CountPending(ctx context.Context) (pending, payment int, err error) {
	err = r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(touches_payment), 0)
		FROM local_orders
		WHERE state = ?
	`, string(order.StatePending)).Scan(&pending, &payment)
	if err != nil {
		return 0, 0, fmt.Errorf("ошибка подсчета заказов: %w", err)
	}
	return pending, payment, nil
}

// Acknowledge фиксирует принятую облаком версию. Если за время отправки
// копию снова изменили, новая правка остается неотправленной поверх
// принятой базы.
func (r *OrderRepository) Acknowledge(ctx context.Context, pushed, accepted order.Order) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM local_orders WHERE id = ?`, accepted.ID)
		lo, err := scanOrder(row)
		if err != nil && !errors.Is(err, order.ErrNotFound) {
			return err
		}

		now := time.Now()
		next := order.LocalOrder{Current: accepted.Clone(), Base: accepted.Clone(), State: order.StateSynced, UpdatedAt: now}
		if lo != nil && len(order.Diff(lo.Current, pushed)) > 0 {
			next.Current = lo.Current.Clone()
			next.Current.Version = accepted.Version
			next.State = order.StatePending
		}
		return saveOrder(ctx, tx, next)
	})
}

func scanOrder(s scanner) (*order.LocalOrder, error) {
	var (
		lo            order.LocalOrder
		id            string
		current, base string
		state         string
		updatedAt     int64
	)
	err := s.Scan(&id, &current, &base, &state, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, order.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения заказа: %w", err)
	}

	if err := json.Unmarshal([]byte(current), &lo.Current); err != nil {
		return nil, fmt.Errorf("ошибка разбора заказа %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(base), &lo.Base); err != nil {
		return nil, fmt.Errorf("ошибка разбора базы заказа %s: %w", id, err)
	}
	lo.State = order.SyncState(state)
	lo.UpdatedAt = fromUnix(updatedAt)
	return &lo, nil
}
