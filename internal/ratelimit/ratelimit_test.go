package ratelimit

import (
	"context"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/farm-photos/internal/database/dbtest"
)

// fixedClock возвращает управляемые часы.
func fixedClock(t time.Time) (func() time.Time, func(time.Duration)) {
	var mu sync.Mutex
	cur := t
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return cur
	}
	advance := func(d time.Duration) {
		mu.Lock()
		cur = cur.Add(d)
		mu.Unlock()
	}
	return now, advance
}

func newTestLimiter(t *testing.T, store CounterStore, limits Limits, start time.Time) (*Limiter, func(time.Duration)) {
	t.Helper()
	l, err := New(store, limits)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	now, advance := fixedClock(start)
	l.SetClock(now)
	return l, advance
}

// record выполняет n разрешённых отправок, падая на первом отказе.
func record(t *testing.T, l *Limiter, submitter string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		d, err := l.CheckAndRecord(context.Background(), submitter)
		if err != nil {
			t.Fatalf("отправка %d: %v", i+1, err)
		}
		if !d.Allowed {
			t.Fatalf("отправка %d отклонена (окно %s)", i+1, d.Window)
		}
	}
}

// TestHourlyBoundary — 9 отправок разрешают 10-ю, 10 отправок запрещают 11-ю.
func TestHourlyBoundary(t *testing.T) {
	start := time.Date(2026, 5, 10, 14, 5, 0, 0, time.UTC)
	l, _ := newTestLimiter(t, NewMemoryStore(), Limits{PerHour: 10, PerDay: 50}, start)

	record(t, l, "alice@example.com", 9)

	d, err := l.CheckAndRecord(context.Background(), "alice@example.com")
	if err != nil || !d.Allowed {
		t.Fatalf("10-я отправка должна быть разрешена: %+v, %v", d, err)
	}

	d, err = l.CheckAndRecord(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("CheckAndRecord: %v", err)
	}
	if d.Allowed {
		t.Fatal("11-я отправка в течение часа должна быть отклонена")
	}
	if d.Window != WindowHour {
		t.Errorf("Window = %q, ожидалось hour", d.Window)
	}
	if d.RetryAfter != 55*time.Minute {
		t.Errorf("RetryAfter = %v, ожидалось 55m (до 15:00)", d.RetryAfter)
	}
}

// TestDeniedNotCounted — отклонённая попытка не увеличивает счётчики.
func TestDeniedNotCounted(t *testing.T) {
	store := NewMemoryStore()
	start := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	l, _ := newTestLimiter(t, store, Limits{PerHour: 2, PerDay: 50}, start)

	record(t, l, "bob", 2)
	for i := 0; i < 5; i++ {
		if d, _ := l.CheckAndRecord(context.Background(), "bob"); d.Allowed {
			t.Fatal("ожидался отказ")
		}
	}
	if got := store.Count("bob", WindowDay); got != 2 {
		t.Errorf("суточный счётчик = %d, ожидалось 2", got)
	}
}

// TestHourWindowResets — в новом часе лимит снова доступен, суточный сохраняется.
func TestHourWindowResets(t *testing.T) {
	store := NewMemoryStore()
	start := time.Date(2026, 5, 10, 9, 30, 0, 0, time.UTC)
	l, advance := newTestLimiter(t, store, Limits{PerHour: 3, PerDay: 50}, start)

	record(t, l, "carol", 3)
	advance(31 * time.Minute)
	record(t, l, "carol", 3)

	if got := store.Count("carol", WindowDay); got != 6 {
		t.Errorf("суточный счётчик = %d, ожидалось 6", got)
	}
}

// TestDailyLimit — суточное окно отказывает, даже если часовое свободно.
func TestDailyLimit(t *testing.T) {
	start := time.Date(2026, 5, 10, 0, 10, 0, 0, time.UTC)
	l, advance := newTestLimiter(t, NewMemoryStore(), Limits{PerHour: 10, PerDay: 15}, start)

	record(t, l, "dave", 10)
	advance(time.Hour)
	record(t, l, "dave", 5)

	d, _ := l.CheckAndRecord(context.Background(), "dave")
	if d.Allowed {
		t.Fatal("16-я отправка за сутки должна быть отклонена")
	}
	if d.Window != WindowDay {
		t.Errorf("Window = %q, ожидалось day", d.Window)
	}
	if want := 22*time.Hour + 50*time.Minute; d.RetryAfter != want {
		t.Errorf("RetryAfter = %v, ожидалось %v", d.RetryAfter, want)
	}

	advance(23 * time.Hour)
	record(t, l, "dave", 1)
}

// TestSubmittersIndependent — лимиты считаются по отправителю.
func TestSubmittersIndependent(t *testing.T) {
	start := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	l, _ := newTestLimiter(t, NewMemoryStore(), Limits{PerHour: 1, PerDay: 1}, start)

	record(t, l, "erin", 1)
	record(t, l, "frank", 1)
}

func TestEmptySubmitter(t *testing.T) {
	l, _ := newTestLimiter(t, NewMemoryStore(), Limits{PerHour: 1, PerDay: 1}, time.Now())
	if _, err := l.CheckAndRecord(context.Background(), ""); err != ErrEmptySubmitter {
		t.Errorf("ожидалась ErrEmptySubmitter, получено %v", err)
	}
}

func TestNew_InvalidLimits(t *testing.T) {
	if _, err := New(NewMemoryStore(), Limits{PerHour: 0, PerDay: 5}); err == nil {
		t.Error("ожидалась ошибка для нулевого лимита")
	}
}

// assertConcurrentLimit — из N параллельных отправок проходит ровно limit.
func assertConcurrentLimit(t *testing.T, store CounterStore, limit, workers int) {
	t.Helper()
	start := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	l, _ := newTestLimiter(t, store, Limits{PerHour: limit, PerDay: 100}, start)

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.CheckAndRecord(context.Background(), "concurrent")
			if err != nil {
				t.Errorf("CheckAndRecord: %v", err)
				return
			}
			if d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := int(allowed.Load()); got != limit {
		t.Errorf("разрешено %d отправок, ожидалось ровно %d", got, limit)
	}
}

// assertRelease — возвращённая квота снова доступна, возврат запрещённой
// отправки и возврат после смены окна счётчики не трогают.
func assertRelease(t *testing.T, store CounterStore, submitter string) {
	t.Helper()
	ctx := context.Background()
	start := time.Date(2026, 5, 10, 11, 50, 0, 0, time.UTC)
	l, advance := newTestLimiter(t, store, Limits{PerHour: 2, PerDay: 3}, start)

	record(t, l, submitter, 1)
	last, err := l.CheckAndRecord(ctx, submitter)
	if err != nil || !last.Allowed {
		t.Fatalf("2-я отправка должна быть разрешена: %+v, %v", last, err)
	}
	denied, _ := l.CheckAndRecord(ctx, submitter)
	if denied.Allowed {
		t.Fatal("3-я отправка в течение часа должна быть отклонена")
	}
	if err := l.Release(ctx, submitter, denied); err != nil {
		t.Fatalf("Release отказа: %v", err)
	}
	if d, _ := l.CheckAndRecord(ctx, submitter); d.Allowed {
		t.Fatal("возврат отказа не должен освобождать квоту")
	}

	if err := l.Release(ctx, submitter, last); err != nil {
		t.Fatalf("Release: %v", err)
	}
	record(t, l, submitter, 1)

	// Часовое окно сменилось: возврат старого окна не трогает новое
	advance(15 * time.Minute)
	record(t, l, submitter, 1)
	if err := l.Release(ctx, submitter, last); err != nil {
		t.Fatalf("Release устаревшего окна: %v", err)
	}
	record(t, l, submitter, 1)
	d, _ := l.CheckAndRecord(ctx, submitter)
	if d.Allowed || d.Window != WindowHour {
		t.Errorf("ожидался отказ по часовому окну, получено %+v", d)
	}
}

func TestMemoryStore_Release(t *testing.T) {
	store := NewMemoryStore()
	assertRelease(t, store, "dave")
	if got := store.Count("dave", WindowDay); got != 3 {
		t.Errorf("суточный счётчик = %d, ожидалось 3", got)
	}
}

func TestMemoryStore_ReleaseNeverNegative(t *testing.T) {
	store := NewMemoryStore()
	w := Window{Name: WindowHour, Start: time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC), Length: time.Hour, Limit: 1}
	if err := store.Release(context.Background(), "erin", []Window{w}); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if n, _ := store.CheckAndIncrement(context.Background(), "erin", []Window{w}); n != -1 {
		t.Fatal("первая отправка должна быть разрешена")
	}
	if n, _ := store.CheckAndIncrement(context.Background(), "erin", []Window{w}); n != 0 {
		t.Error("возврат пустого окна не должен давать лишнюю квоту")
	}
}

func TestRedisStore_KeysShareHashSlot(t *testing.T) {
	store := NewRedisStore(nil, "farmphotos:ratelimit:")
	now := time.Date(2026, 5, 10, 9, 30, 0, 0, time.UTC)
	l := &Limiter{limits: Limits{PerHour: 10, PerDay: 50}}

	for _, w := range l.windows(now) {
		key := store.key("anna@example.com", w)
		if !strings.Contains(key, "{anna@example.com}") {
			t.Errorf("ключ %q без hash tag отправителя", key)
		}
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	assertConcurrentLimit(t, NewMemoryStore(), 10, 50)
}

func TestPostgresStore_Concurrent(t *testing.T) {
	pool := dbtest.Setup(t)
	assertConcurrentLimit(t, NewPostgresStore(pool), 10, 30)
}

func TestPostgresStore_Boundary(t *testing.T) {
	pool := dbtest.Setup(t)
	start := time.Date(2026, 5, 10, 14, 5, 0, 0, time.UTC)
	l, advance := newTestLimiter(t, NewPostgresStore(pool), Limits{PerHour: 10, PerDay: 50}, start)

	record(t, l, "pg-user", 10)
	if d, _ := l.CheckAndRecord(context.Background(), "pg-user"); d.Allowed {
		t.Fatal("11-я отправка должна быть отклонена")
	}

	advance(time.Hour)
	record(t, l, "pg-user", 1)
}

func TestPostgresStore_Release(t *testing.T) {
	assertRelease(t, NewPostgresStore(dbtest.Setup(t)), "pg-release")
}

// setupRedis запускает Redis в testcontainers.
func setupRedis(t *testing.T) *RedisStore {
	t.Helper()
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "docker.io/redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Не удалось запустить Redis контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Не удалось получить адрес Redis: %v", err)
	}

	client, err := NewRedisClient(ctx, endpoint, "", 0)
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return NewRedisStore(client, "test:rl:")
}

func TestRedisStore_Concurrent(t *testing.T) {
	assertConcurrentLimit(t, setupRedis(t), 10, 30)
}

func TestRedisStore_Release(t *testing.T) {
	assertRelease(t, setupRedis(t), "redis-release")
}

func TestRedisStore_DailyWindow(t *testing.T) {
	store := setupRedis(t)
	start := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
	l, advance := newTestLimiter(t, store, Limits{PerHour: 5, PerDay: 6}, start)

	record(t, l, "redis-user", 5)
	advance(time.Hour)
	record(t, l, "redis-user", 1)

	d, _ := l.CheckAndRecord(context.Background(), "redis-user")
	if d.Allowed || d.Window != WindowDay {
		t.Errorf("ожидался отказ по суточному окну, получено %+v", d)
	}
}
