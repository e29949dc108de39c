// Пакет database — PostgreSQL хранилища записей: схема (golang-migrate),
// пул pgxpool и его представления для topologymetrics и /health/ready.
package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/farm-photos/internal/config"
)

// DependencyName — имя PostgreSQL в readiness и в графе topologymetrics.
const DependencyName = "postgresql"

// readyTimeout — предел ping в readiness probe.
const readyTimeout = 3 * time.Second

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB — пул соединений хранилища записей.
type DB struct {
	Pool *pgxpool.Pool

	sqlOnce sync.Once
	sqlDB   *sql.DB
}

// Open применяет миграции и подключается к PostgreSQL.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*DB, error) {
	if err := Migrate(cfg, logger); err != nil {
		return nil, err
	}
	return Connect(ctx, cfg, logger)
}

// Connect создаёт пул и проверяет доступность базы.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = "farm-photos"

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула подключений: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("PostgreSQL %s недоступен: %w", DependencyURL(cfg), err)
	}

	logger.Info("Подключение к PostgreSQL установлено",
		slog.String("url", DependencyURL(cfg)),
		slog.Int("max_conns", int(poolCfg.MaxConns)),
	)
	return &DB{Pool: pool}, nil
}

// Migrate применяет встроенные SQL-миграции.
func Migrate(cfg *config.Config, logger *slog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ошибка создания источника миграций: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, cfg.MigrateURL())
	if err != nil {
		return fmt.Errorf("ошибка инициализации миграций: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("ошибка применения миграций: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("ошибка чтения версии схемы: %w", err)
	}
	if dirty {
		return fmt.Errorf("схема в состоянии dirty на версии %d", version)
	}
	logger.Info("Схема БД актуальна", slog.Uint64("version", uint64(version)))
	return nil
}

// SQL возвращает database/sql поверх того же пула. Проверки
// topologymetrics идут через него и видят исчерпание пула.
func (db *DB) SQL() *sql.DB {
	db.sqlOnce.Do(func() {
		db.sqlDB = stdlib.OpenDBFromPool(db.Pool)
	})
	return db.sqlDB
}

// Close закрывает представление database/sql и пул.
func (db *DB) Close() {
	if db.sqlDB != nil {
		db.sqlDB.Close()
	}
	db.Pool.Close()
}

// Name реализует handlers.ReadinessChecker.
func (db *DB) Name() string {
	return DependencyName
}

// CheckReady реализует handlers.ReadinessChecker: fail — база не отвечает,
// degraded — все соединения пула заняты.
func (db *DB) CheckReady() (status, message string) {
	stat := db.Pool.Stat()
	if stat.AcquiredConns() >= stat.MaxConns() {
		return "degraded", fmt.Sprintf("пул исчерпан: занято %d из %d соединений", stat.AcquiredConns(), stat.MaxConns())
	}

	ctx, cancel := context.WithTimeout(context.Background(), readyTimeout)
	defer cancel()
	if err := db.Pool.Ping(ctx); err != nil {
		return "fail", fmt.Sprintf("PostgreSQL недоступен: %v", err)
	}
	return "ok", fmt.Sprintf("занято %d из %d соединений", stat.AcquiredConns(), stat.MaxConns())
}

// DependencyURL возвращает адрес базы без учётных данных: для логов
// и лейблов topologymetrics.
func DependencyURL(cfg *config.Config) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(cfg.DBHost, strconv.Itoa(cfg.DBPort)),
		Path:   "/" + cfg.DBName,
	}
	return u.String()
}
