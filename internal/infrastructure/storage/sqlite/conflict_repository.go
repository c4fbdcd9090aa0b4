package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"possync/internal/domain/conflict"
	"possync/internal/domain/order"
)

// ConflictRepository реализует conflict.Repository.
type ConflictRepository struct {
	db *sql.DB
}

var _ conflict.Repository = (*ConflictRepository)(nil)

const conflictColumns = `id, order_id, local_version, remote_version, conflict_type, field,
	base_value, local_value, remote_value, local_fields, remote_fields, created_at`

func (r *ConflictRepository) Create(ctx context.Context, c conflict.OrderConflict) error {
	values, err := marshalAll(c.BaseValue, c.LocalValue, c.RemoteValue, c.LocalFields, c.RemoteFields)
	if err != nil {
		return fmt.Errorf("ошибка сериализации конфликта: %w", err)
	}

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_conflicts (`+conflictColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (order_id, local_version, remote_version) DO NOTHING
		`, c.ID, c.OrderID, c.LocalVersion, c.RemoteVersion, string(c.Type), string(c.Field),
			values[0], values[1], values[2], values[3], values[4], toUnix(c.CreatedAt))
		if err != nil {
			return fmt.Errorf("ошибка сохранения конфликта: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE local_orders SET state = ?, updated_at = ? WHERE id = ?
		`, string(order.StateConflicted), toUnix(time.Now()), c.OrderID)
		if err != nil {
			return fmt.Errorf("ошибка обновления состояния заказа: %w", err)
		}
		return nil
	})
}

func (r *ConflictRepository) Get(ctx context.Context, id string) (*conflict.OrderConflict, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+conflictColumns+` FROM order_conflicts WHERE id = ?`, id)
	return scanConflict(row)
}

func (r *ConflictRepository) ListOpen(ctx context.Context) ([]conflict.OrderConflict, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+conflictColumns+` FROM order_conflicts ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения конфликтов: %w", err)
	}
	return scanConflicts(rows)
}

func (r *ConflictRepository) ListByOrder(ctx context.Context, orderID string) ([]conflict.OrderConflict, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+conflictColumns+` FROM order_conflicts WHERE order_id = ? ORDER BY created_at, id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения конфликтов заказа: %w", err)
	}
	return scanConflicts(rows)
}

func (r *ConflictRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM order_conflicts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("ошибка подсчета конфликтов: %w", err)
	}
	return n, nil
}

func (r *ConflictRepository) Apply(ctx context.Context, conflictID string, resolved order.Order) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM order_conflicts WHERE id = ?`, conflictID)
		if err != nil {
			return fmt.Errorf("ошибка удаления конфликта: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return conflict.ErrNotFound
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_resolutions WHERE conflict_id = ?`, conflictID); err != nil {
			return fmt.Errorf("ошибка удаления отложенного разрешения: %w", err)
		}

		var remaining int
		err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM order_conflicts WHERE order_id = ?`, resolved.ID).
			Scan(&remaining)
		if err != nil {
			return fmt.Errorf("ошибка подсчета конфликтов заказа: %w", err)
		}

		state := order.StateSynced
		if remaining > 0 {
			state = order.StateConflicted
		}
		return saveOrder(ctx, tx, order.LocalOrder{
			Current:   resolved.Clone(),
			Base:      resolved.Clone(),
			State:     state,
			UpdatedAt: time.Now(),
		})
	})
}

func (r *ConflictRepository) Replace(ctx context.Context, oldID string, c conflict.OrderConflict) error {
	values, err := marshalAll(c.BaseValue, c.LocalValue, c.RemoteValue, c.LocalFields, c.RemoteFields)
	if err != nil {
		return fmt.Errorf("ошибка сериализации конфликта: %w", err)
	}

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_resolutions WHERE conflict_id = ?`, oldID); err != nil {
			return fmt.Errorf("ошибка удаления отложенного разрешения: %w", err)
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM order_conflicts WHERE id = ?`, oldID)
		if err != nil {
			return fmt.Errorf("ошибка удаления конфликта: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return conflict.ErrNotFound
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_conflicts (`+conflictColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (order_id, local_version, remote_version) DO NOTHING
		`, c.ID, c.OrderID, c.LocalVersion, c.RemoteVersion, string(c.Type), string(c.Field),
			values[0], values[1], values[2], values[3], values[4], toUnix(c.CreatedAt))
		if err != nil {
			return fmt.Errorf("ошибка сохранения конфликта: %w", err)
		}
		return nil
	})
}

func (r *ConflictRepository) SavePending(ctx context.Context, p conflict.PendingResolution) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pending_resolutions (conflict_id, order_id, strategy, attempts, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (conflict_id) DO UPDATE SET
			strategy   = excluded.strategy,
			attempts   = pending_resolutions.attempts + 1,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
	`, p.ConflictID, p.OrderID, string(p.Strategy), max(p.Attempts, 1), p.LastError,
		toUnix(p.CreatedAt), toUnix(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("ошибка сохранения отложенного разрешения: %w", err)
	}
	return nil
}

func (r *ConflictRepository) ListPending(ctx context.Context) ([]conflict.PendingResolution, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.conflict_id, p.order_id, p.strategy, p.attempts, p.last_error, p.created_at, p.updated_at
		FROM pending_resolutions p
		JOIN order_conflicts c ON c.id = p.conflict_id
		ORDER BY c.created_at, c.id
	`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения отложенных разрешений: %w", err)
	}
	defer rows.Close()

	var out []conflict.PendingResolution
	for rows.Next() {
		var (
			p                    conflict.PendingResolution
			strategy             string
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&p.ConflictID, &p.OrderID, &strategy, &p.Attempts, &p.LastError, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("ошибка чтения отложенного разрешения: %w", err)
		}
		p.Strategy = conflict.Strategy(strategy)
		p.CreatedAt = fromUnix(createdAt)
		p.UpdatedAt = fromUnix(updatedAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *ConflictRepository) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_resolutions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("ошибка подсчета отложенных разрешений: %w", err)
	}
	return n, nil
}

func marshalAll(values ...any) ([]string, error) {
	out := make([]string, len(values))
	for i, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		out[i] = string(b)
	}
	return out, nil
}

func scanConflict(s scanner) (*conflict.OrderConflict, error) {
	var (
		c                         conflict.OrderConflict
		typ, field                string
		base, local, remote       string
		localFields, remoteFields string
		createdAt                 int64
	)
	err := s.Scan(&c.ID, &c.OrderID, &c.LocalVersion, &c.RemoteVersion, &typ, &field,
		&base, &local, &remote, &localFields, &remoteFields, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, conflict.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения конфликта: %w", err)
	}

	c.Type = conflict.Type(typ)
	c.Field = order.Field(field)
	c.CreatedAt = fromUnix(createdAt)

	targets := []struct {
		raw string
		dst any
	}{
		{base, &c.BaseValue},
		{local, &c.LocalValue},
		{remote, &c.RemoteValue},
		{localFields, &c.LocalFields},
		{remoteFields, &c.RemoteFields},
	}
	for _, t := range targets {
		if err := json.Unmarshal([]byte(t.raw), t.dst); err != nil {
			return nil, fmt.Errorf("ошибка разбора конфликта %s: %w", c.ID, err)
		}
	}
	return &c, nil
}

func scanConflicts(rows *sql.Rows) ([]conflict.OrderConflict, error) {
	defer rows.Close()

	var out []conflict.OrderConflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
