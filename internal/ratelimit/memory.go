package ratelimit

import (
	"context"
	"sync"
	"time"
)

type counterKey struct {
	submitter string
	window    string
}

type counter struct {
	start time.Time
	count int
}

// MemoryStore — счётчики в памяти процесса. Подходит для одного экземпляра
// и для тестов.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[counterKey]*counter
}

// NewMemoryStore создаёт пустое хранилище счётчиков.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[counterKey]*counter)}
}

// CheckAndIncrement реализует CounterStore под одной блокировкой.
func (s *MemoryStore) CheckAndIncrement(_ context.Context, submitterID string, windows []Window) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := make([]*counter, len(windows))
	for i, w := range windows {
		key := counterKey{submitter: submitterID, window: w.Name}
		c, ok := s.counters[key]
		if !ok || !c.start.Equal(w.Start) {
			// Окно сменилось — счёт начинается заново
			c = &counter{start: w.Start}
			s.counters[key] = c
		}
		if c.count >= w.Limit {
			return i, nil
		}
		current[i] = c
	}

	for _, c := range current {
		c.count++
	}
	return -1, nil
}

// Release реализует CounterStore.
func (s *MemoryStore) Release(_ context.Context, submitterID string, windows []Window) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range windows {
		c, ok := s.counters[counterKey{submitter: submitterID, window: w.Name}]
		if !ok || !c.start.Equal(w.Start) || c.count == 0 {
			continue
		}
		c.count--
	}
	return nil
}

// Count возвращает счётчик окна (для тестов и отладки).
func (s *MemoryStore) Count(submitterID, window string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.counters[counterKey{submitter: submitterID, window: window}]; ok {
		return c.count
	}
	return 0
}
