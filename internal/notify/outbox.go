package notify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Outbox пишет события в JSON-lines файл, который читает внешний отправщик писем.
type Outbox struct {
	mu   sync.Mutex
	file *os.File
}

// NewOutbox открывает (или создаёт) файл outbox в режиме добавления.
func NewOutbox(path string) (*Outbox, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("создание директории outbox: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("открытие outbox %s: %w", path, err)
	}
	return &Outbox{file: f}, nil
}

// Publish дописывает событие одной строкой и синхронизирует файл.
func (o *Outbox) Publish(_ context.Context, e Event) error {
	data, err := e.Marshal()
	if err != nil {
		return fmt.Errorf("сериализация события: %w", err)
	}
	data = append(data, '\n')

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, err := o.file.Write(data); err != nil {
		return fmt.Errorf("запись в outbox: %w", err)
	}
	return o.file.Sync()
}

// Close закрывает файл.
func (o *Outbox) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.file.Close()
}
