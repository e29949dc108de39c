package database_test

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/farm-photos/internal/config"
	"github.com/bigkaa/farm-photos/internal/database"
	"github.com/bigkaa/farm-photos/internal/database/dbtest"
)

// TestMigrate_Schema проверяет, что миграции создали все таблицы.
func TestMigrate_Schema(t *testing.T) {
	pool := dbtest.Setup(t)
	ctx := context.Background()

	for _, table := range []string{"photo_submissions", "photo_transitions", "rate_counters"} {
		var exists bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table,
		).Scan(&exists)
		if err != nil {
			t.Fatalf("проверка таблицы %s: %v", table, err)
		}
		if !exists {
			t.Errorf("таблица %s не создана", table)
		}
	}
}

// TestCheckReady — ok на свободном пуле, degraded при занятых соединениях.
func TestCheckReady(t *testing.T) {
	db := dbtest.SetupDB(t)
	ctx := context.Background()

	if status, msg := db.CheckReady(); status != "ok" {
		t.Fatalf("CheckReady() = %s (%s), ожидалось ok", status, msg)
	}
	if db.Name() != database.DependencyName {
		t.Errorf("Name() = %q", db.Name())
	}

	var conns []*pgxpool.Conn
	for range db.Pool.Stat().MaxConns() {
		c, err := db.Pool.Acquire(ctx)
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		conns = append(conns, c)
	}
	if status, msg := db.CheckReady(); status != "degraded" {
		t.Errorf("исчерпанный пул: CheckReady() = %s (%s), ожидалось degraded", status, msg)
	}
	for _, c := range conns {
		c.Release()
	}
	if status, _ := db.CheckReady(); status != "ok" {
		t.Errorf("после освобождения: CheckReady() = %s", status)
	}
}

// TestSQLView — database/sql работает поверх того же пула.
func TestSQLView(t *testing.T) {
	db := dbtest.SetupDB(t)
	if db.SQL() != db.SQL() {
		t.Error("SQL() должен возвращать одно представление")
	}
	var n int
	if err := db.SQL().QueryRow("SELECT count(*) FROM photo_submissions").Scan(&n); err != nil {
		t.Fatalf("запрос через database/sql: %v", err)
	}
}

func TestDependencyURL(t *testing.T) {
	cfg := &config.Config{DBHost: "pg.farm.svc", DBPort: 5432, DBName: "farm_photos", DBUser: "u", DBPassword: "secret"}
	got := database.DependencyURL(cfg)
	if got != "postgres://pg.farm.svc:5432/farm_photos" {
		t.Errorf("DependencyURL() = %q", got)
	}
}

// TestAdvisoryLock — второй захват того же ключа не удаётся до освобождения.
func TestAdvisoryLock(t *testing.T) {
	pool := dbtest.Setup(t)
	ctx := context.Background()

	first := database.NewAdvisoryLock(pool, database.PurgeLockKey)
	second := database.NewAdvisoryLock(pool, database.PurgeLockKey)

	release, ok, err := first.TryLock(ctx)
	if err != nil || !ok {
		t.Fatalf("первый захват: ok=%v err=%v", ok, err)
	}

	if _, ok, err := second.TryLock(ctx); err != nil || ok {
		t.Fatalf("второй захват должен не удаться: ok=%v err=%v", ok, err)
	}

	release()

	release2, ok, err := second.TryLock(ctx)
	if err != nil || !ok {
		t.Fatalf("захват после освобождения: ok=%v err=%v", ok, err)
	}
	release2()
}
