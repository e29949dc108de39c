package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// counterRetention — сколько хранятся строки закрытых окон.
const counterRetention = 48 * time.Hour

// PostgresStore — счётчики в таблице rate_counters.
// Строки окон блокируются SELECT ... FOR UPDATE внутри одной транзакции,
// поэтому параллельные отправки одного отправителя сериализуются.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore создаёт хранилище счётчиков PostgreSQL.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// CheckAndIncrement реализует CounterStore.
func (s *PostgresStore) CheckAndIncrement(ctx context.Context, submitterID string, windows []Window) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	denied, err := checkAndIncrementTx(ctx, tx, submitterID, windows)
	if err != nil {
		return 0, err
	}
	if denied >= 0 {
		return denied, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("ошибка фиксации счётчиков: %w", err)
	}
	return -1, nil
}

func checkAndIncrementTx(ctx context.Context, tx pgx.Tx, submitterID string, windows []Window) (int, error) {
	for _, w := range windows {
		_, err := tx.Exec(ctx, `
			INSERT INTO rate_counters (submitter_id, window_name, window_start, count)
			VALUES ($1, $2, $3, 0)
			ON CONFLICT (submitter_id, window_name, window_start) DO NOTHING`,
			submitterID, w.Name, w.Start,
		)
		if err != nil {
			return 0, fmt.Errorf("ошибка создания счётчика %s: %w", w.Name, err)
		}
	}

	for i, w := range windows {
		var count int
		err := tx.QueryRow(ctx, `
			SELECT count FROM rate_counters
			WHERE submitter_id = $1 AND window_name = $2 AND window_start = $3
			FOR UPDATE`,
			submitterID, w.Name, w.Start,
		).Scan(&count)
		if err != nil {
			return 0, fmt.Errorf("ошибка чтения счётчика %s: %w", w.Name, err)
		}
		if count >= w.Limit {
			return i, nil
		}
	}

	for _, w := range windows {
		_, err := tx.Exec(ctx, `
			UPDATE rate_counters SET count = count + 1
			WHERE submitter_id = $1 AND window_name = $2 AND window_start = $3`,
			submitterID, w.Name, w.Start,
		)
		if err != nil {
			return 0, fmt.Errorf("ошибка увеличения счётчика %s: %w", w.Name, err)
		}
	}

	// Строки закрытых окон этого отправителя больше не нужны
	if len(windows) > 0 {
		_, err := tx.Exec(ctx, `
			DELETE FROM rate_counters
			WHERE submitter_id = $1 AND window_start < $2`,
			submitterID, windows[0].Start.Add(-counterRetention),
		)
		if err != nil {
			return 0, fmt.Errorf("ошибка удаления старых счётчиков: %w", err)
		}
	}
	return -1, nil
}

// Release реализует CounterStore.
func (s *PostgresStore) Release(ctx context.Context, submitterID string, windows []Window) error {
	for _, w := range windows {
		_, err := s.pool.Exec(ctx, `
			UPDATE rate_counters SET count = count - 1
			WHERE submitter_id = $1 AND window_name = $2 AND window_start = $3 AND count > 0`,
			submitterID, w.Name, w.Start,
		)
		if err != nil {
			return fmt.Errorf("ошибка уменьшения счётчика %s: %w", w.Name, err)
		}
	}
	return nil
}
