package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"possync/internal/domain/financial"
	"possync/internal/domain/sync"
)

// FinancialRepository реализует financial.Repository.
type FinancialRepository struct {
	db *sql.DB
}

var _ financial.Repository = (*FinancialRepository)(nil)

const financialColumns = `id, table_name, record_id, operation, payload, attempts,
	error_message, error_kind, next_attempt_at, created_at, updated_at`

func (r *FinancialRepository) Upsert(ctx context.Context, item financial.Item) (*financial.Item, error) {
	if item.Attempts < 1 {
		item.Attempts = 1
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO financial_items (`+financialColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (table_name, record_id, operation) DO UPDATE SET
			payload         = excluded.payload,
			attempts        = financial_items.attempts + 1,
			error_message   = excluded.error_message,
			error_kind      = excluded.error_kind,
			next_attempt_at = excluded.next_attempt_at,
			updated_at      = excluded.updated_at
	`, item.ID, item.TableName, item.RecordID, item.Operation, string(item.Payload), item.Attempts,
		item.ErrorMessage, item.ErrorKind.String(), toNullUnix(item.NextAttemptAt),
		toUnix(item.CreatedAt), toUnix(item.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("ошибка сохранения финансовой записи: %w", err)
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT `+financialColumns+` FROM financial_items
		WHERE table_name = ? AND record_id = ? AND operation = ?
	`, item.TableName, item.RecordID, item.Operation)
	return scanItem(row)
}

func (r *FinancialRepository) Get(ctx context.Context, id string) (*financial.Item, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+financialColumns+` FROM financial_items WHERE id = ?`, id)
	return scanItem(row)
}

func (r *FinancialRepository) GetByKey(ctx context.Context, table financial.TableName, recordID string, op financial.Operation) (*financial.Item, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+financialColumns+` FROM financial_items
		WHERE table_name = ? AND record_id = ? AND operation = ?
	`, table, recordID, op)
	return scanItem(row)
}

func (r *FinancialRepository) List(ctx context.Context, limit int) ([]financial.Item, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+financialColumns+` FROM financial_items
		ORDER BY created_at, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения финансовых записей: %w", err)
	}
	return scanItems(rows)
}

func (r *FinancialRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]financial.Item, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+financialColumns+` FROM financial_items
		WHERE next_attempt_at IS NOT NULL AND next_attempt_at <= ?
		ORDER BY created_at, id
		LIMIT ?
	`, toUnix(now), limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения записей для повтора: %w", err)
	}
	return scanItems(rows)
}

func (r *FinancialRepository) RecordFailure(ctx context.Context, id string, kind sync.Kind, message string, next *time.Time) (*financial.Item, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE financial_items
		SET attempts = attempts + 1,
			error_kind = ?,
			error_message = ?,
			next_attempt_at = ?,
			updated_at = ?
		WHERE id = ?
	`, kind.String(), message, toNullUnix(next), toUnix(time.Now()), id)
	if err != nil {
		return nil, fmt.Errorf("ошибка обновления финансовой записи: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, financial.ErrNotFound
	}
	return r.Get(ctx, id)
}

func (r *FinancialRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM financial_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления финансовой записи: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return financial.ErrNotFound
	}
	return nil
}

func (r *FinancialRepository) CountByTable(ctx context.Context) (map[financial.TableName]int, int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT table_name,
		       COUNT(*),
		       SUM(CASE WHEN error_kind IN ('validation', 'permanent', 'conflict') THEN 1 ELSE 0 END)
		FROM financial_items
		GROUP BY table_name
	`)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчета финансовых записей: %w", err)
	}
	defer rows.Close()

	out := make(map[financial.TableName]int)
	flagged := 0
	for rows.Next() {
		var (
			table string
			n, f  int
		)
		if err := rows.Scan(&table, &n, &f); err != nil {
			return nil, 0, err
		}
		out[financial.TableName(table)] = n
		flagged += f
	}
	return out, flagged, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(s scanner) (*financial.Item, error) {
	var (
		it                   financial.Item
		table, op, kind      string
		payload              string
		next                 sql.NullInt64
		createdAt, updatedAt int64
	)
	err := s.Scan(&it.ID, &table, &it.RecordID, &op, &payload, &it.Attempts,
		&it.ErrorMessage, &kind, &next, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, financial.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения финансовой записи: %w", err)
	}

	it.TableName = financial.TableName(table)
	it.Operation = financial.Operation(op)
	it.Payload = []byte(payload)
	it.ErrorKind = sync.ParseKind(kind)
	it.NextAttemptAt = fromNullUnix(next)
	it.CreatedAt = fromUnix(createdAt)
	it.UpdatedAt = fromUnix(updatedAt)
	return &it, nil
}

func scanItems(rows *sql.Rows) ([]financial.Item, error) {
	defer rows.Close()

	var out []financial.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *it)
	}
	return out, rows.Err()
}
