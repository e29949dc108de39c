// Пакет ratelimit — ограничение частоты отправок фотографий.
//
// Для каждого отправителя ведутся два фиксированных окна: календарный час
// и календарные сутки (UTC). Проверка и инкремент обоих окон выполняются
// одной атомарной операцией CounterStore: два параллельных запроса не могут
// оба пройти границу лимита.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Имена окон.
const (
	WindowHour = "hour"
	WindowDay  = "day"
)

// Window — одно окно подсчёта в момент проверки.
type Window struct {
	// Name — имя окна (hour, day)
	Name string
	// Start — начало текущего окна
	Start time.Time
	// Length — длительность окна
	Length time.Duration
	// Limit — максимум отправок в окне
	Limit int
}

// End возвращает момент окончания окна.
func (w Window) End() time.Time {
	return w.Start.Add(w.Length)
}

// CounterStore — хранилище счётчиков с атомарной операцией check-and-increment.
type CounterStore interface {
	// CheckAndIncrement увеличивает счётчики всех окон на 1, только если
	// ни в одном окне счётчик не достиг лимита. Возвращает индекс первого
	// исчерпанного окна или -1, если отправка разрешена и учтена.
	CheckAndIncrement(ctx context.Context, submitterID string, windows []Window) (int, error)
	// Release уменьшает счётчики окон на 1, не опуская их ниже нуля.
	// Окна, которые уже сменились, не затрагиваются.
	Release(ctx context.Context, submitterID string, windows []Window) error
}

// Decision — результат проверки лимита.
type Decision struct {
	Allowed bool
	// RetryAfter — через сколько откроется исчерпанное окно
	RetryAfter time.Duration
	// Window — имя исчерпанного окна
	Window string

	// windows — окна, в которых учтена разрешённая отправка
	windows []Window
}

// Limits — лимиты отправок.
type Limits struct {
	PerHour int
	PerDay  int
}

// Validate проверяет лимиты.
func (l Limits) Validate() error {
	if l.PerHour <= 0 || l.PerDay <= 0 {
		return fmt.Errorf("лимиты должны быть положительными: %d/час, %d/сутки", l.PerHour, l.PerDay)
	}
	return nil
}

// ErrEmptySubmitter — пустой идентификатор отправителя.
var ErrEmptySubmitter = errors.New("идентификатор отправителя не задан")

// Limiter — ограничитель частоты отправок.
type Limiter struct {
	store  CounterStore
	limits Limits
	now    func() time.Time
}

// New создаёт Limiter поверх хранилища счётчиков.
func New(store CounterStore, limits Limits) (*Limiter, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	return &Limiter{
		store:  store,
		limits: limits,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetClock подменяет источник времени (для тестов).
func (l *Limiter) SetClock(now func() time.Time) {
	l.now = now
}

// Limits возвращает действующие лимиты.
func (l *Limiter) Limits() Limits {
	return l.limits
}

// CheckAndRecord проверяет лимиты отправителя и, если отправка разрешена,
// учитывает её в обоих окнах.
func (l *Limiter) CheckAndRecord(ctx context.Context, submitterID string) (Decision, error) {
	if submitterID == "" {
		return Decision{}, ErrEmptySubmitter
	}

	now := l.now()
	windows := l.windows(now)

	denied, err := l.store.CheckAndIncrement(ctx, submitterID, windows)
	if err != nil {
		return Decision{}, fmt.Errorf("проверка лимита: %w", err)
	}
	if denied < 0 {
		return Decision{Allowed: true, windows: windows}, nil
	}

	w := windows[denied]
	return Decision{
		Allowed:    false,
		RetryAfter: w.End().Sub(now),
		Window:     w.Name,
	}, nil
}

// Release возвращает квоту разрешённой отправки, которая не была принята
// (дубликат, отказ хранилища). Для запрещённой отправки ничего не делает.
func (l *Limiter) Release(ctx context.Context, submitterID string, d Decision) error {
	if !d.Allowed || len(d.windows) == 0 {
		return nil
	}
	if err := l.store.Release(ctx, submitterID, d.windows); err != nil {
		return fmt.Errorf("возврат квоты: %w", err)
	}
	return nil
}

// windows возвращает текущие окна для момента now.
func (l *Limiter) windows(now time.Time) []Window {
	now = now.UTC()
	return []Window{
		{
			Name:   WindowHour,
			Start:  now.Truncate(time.Hour),
			Length: time.Hour,
			Limit:  l.limits.PerHour,
		},
		{
			Name:   WindowDay,
			Start:  time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC),
			Length: 24 * time.Hour,
			Limit:  l.limits.PerDay,
		},
	}
}
