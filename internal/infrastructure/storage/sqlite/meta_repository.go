package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Ключи служебных значений терминала.
const (
	MetaSettingsVersion = "settings_version"
	MetaMenuVersion     = "menu_version"
	MetaLastSyncAt      = "last_sync_at"
	MetaLastSyncError   = "last_sync_error"
)

// MetaRepository хранилище ключ-значение терминала.
type MetaRepository struct {
	db *sql.DB
}

// Get возвращает значение ключа и признак его наличия.
func (r *MetaRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM terminal_meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("ошибка чтения %s: %w", key, err)
	}
	return v, true, nil
}

func (r *MetaRepository) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO terminal_meta (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, toUnix(time.Now()))
	if err != nil {
		return fmt.Errorf("ошибка записи %s: %w", key, err)
	}
	return nil
}

// Int возвращает числовое значение, 0 если ключа нет.
func (r *MetaRepository) Int(ctx context.Context, key string) (int, error) {
	v, ok, err := r.Get(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("значение %s не число: %w", key, err)
	}
	return n, nil
}

func (r *MetaRepository) SetInt(ctx context.Context, key string, n int) error {
	return r.Set(ctx, key, strconv.Itoa(n))
}

// Time возвращает время или nil, если ключа нет.
func (r *MetaRepository) Time(ctx context.Context, key string) (*time.Time, error) {
	v, ok, err := r.Get(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, fmt.Errorf("значение %s не время: %w", key, err)
	}
	return &t, nil
}

func (r *MetaRepository) SetTime(ctx context.Context, key string, t time.Time) error {
	return r.Set(ctx, key, t.UTC().Format(time.RFC3339Nano))
}
