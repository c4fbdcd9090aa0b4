// Package sqlite локальное хранилище терминала: очередь финансовых
// изменений, рабочие копии заказов, конфликты и служебные значения.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/exp/slog"

	"possync/internal/infrastructure/migration"
)

// Store открытая база терминала.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open открывает или создает базу по пути path и применяет миграции.
func Open(path string, log *slog.Logger) (*Store, error) {
	return OpenWithEngine(path, migration.DefaultEngine, log)
}

// OpenWithEngine как Open, но с заданным мигратором.
func OpenWithEngine(path string, engine migration.MigrationEngine, log *slog.Logger) (*Store, error) {
	version, err := migration.NewMigration(path, engine).Up()
	if err != nil {
		return nil, fmt.Errorf("ошибка миграции базы данных: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия базы данных: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка подключения к базе данных: %w", err)
	}

	// один писатель, иначе SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}

	log.Debug("terminal database opened", "path", path, "schema_version", version)
	return &Store{db: db, log: log.With("component", "sqlite")}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("ошибка выполнения %q: %w", pragma, err)
		}
	}
	return nil
}

// Close закрывает базу.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping проверяет соединение с базой.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Financial репозиторий очереди финансовых изменений.
func (s *Store) Financial() *FinancialRepository {
	return &FinancialRepository{db: s.db}
}

// Conflicts репозиторий конфликтов.
func (s *Store) Conflicts() *ConflictRepository {
	return &ConflictRepository{db: s.db}
}

// Orders репозиторий рабочих копий заказов.
func (s *Store) Orders() *OrderRepository {
	return &OrderRepository{db: s.db}
}

// Meta репозиторий служебных значений терминала.
func (s *Store) Meta() *MetaRepository {
	return &MetaRepository{db: s.db}
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

func toUnix(t time.Time) int64 {
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func toNullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullUnix(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromUnix(n.Int64)
	return &t
}
