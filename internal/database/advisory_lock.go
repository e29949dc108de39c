package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PurgeLockKey — ключ advisory lock прохода очистки.
const PurgeLockKey int64 = 0x66617270686f746f // "farphoto"

// AdvisoryLock — межпроцессная блокировка на pg_try_advisory_lock.
// Блокировка сессионная, поэтому удерживается на выделенном соединении
// до вызова release.
type AdvisoryLock struct {
	pool *pgxpool.Pool
	key  int64
}

// NewAdvisoryLock создаёт блокировку с заданным ключом.
func NewAdvisoryLock(pool *pgxpool.Pool, key int64) *AdvisoryLock {
	return &AdvisoryLock{pool: pool, key: key}
}

// TryLock пытается захватить блокировку без ожидания.
// ok=false — блокировку держит другой экземпляр.
func (l *AdvisoryLock) TryLock(ctx context.Context) (release func(), ok bool, err error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("получение соединения для advisory lock: %w", err)
	}

	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", l.key).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("pg_try_advisory_lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}

	release = func() {
		// Контекст вызова может быть уже отменён, снимаем блокировку независимо от него.
		_, _ = conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", l.key)
		conn.Release()
	}
	return release, true, nil
}
