package policy

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultDebounce — пауза после последнего события перед перечитыванием.
const defaultDebounce = 500 * time.Millisecond

// Watcher перечитывает файл политики при изменении и обновляет Store.
type Watcher struct {
	store    *Store
	path     string
	base     Thresholds
	debounce time.Duration
	logger   *slog.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher создаёт наблюдатель за файлом политики.
// Следит за каталогом файла: редакторы и ConfigMap заменяют файл через rename.
func NewWatcher(store *Store, path string, base Thresholds, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("создание fsnotify watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("наблюдение за %s: %w", filepath.Dir(path), err)
	}

	return &Watcher{
		store:    store,
		path:     filepath.Clean(path),
		base:     base,
		debounce: defaultDebounce,
		logger:   logger.With(slog.String("component", "policy")),
		watcher:  fw,
		done:     make(chan struct{}),
	}, nil
}

// Start запускает цикл обработки событий до отмены ctx или Stop.
func (w *Watcher) Start(ctx context.Context) {
	timer := time.NewTimer(w.debounce)
	timer.Stop()

	go func() {
		defer close(w.done)
		for {
			select {
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if !w.relevant(event) {
					continue
				}
				w.logger.Debug("Изменение файла политики",
					slog.String("file", event.Name),
					slog.String("op", event.Op.String()),
				)
				timer.Reset(w.debounce)

			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Error("Ошибка fsnotify", slog.String("error", err.Error()))

			case <-timer.C:
				w.reload()

			case <-ctx.Done():
				return
			}
		}
	}()

	w.logger.Info("Наблюдение за файлом политики запущено", slog.String("path", w.path))
}

// Stop останавливает наблюдение и дожидается завершения горутины.
func (w *Watcher) Stop() error {
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0
}

// reload перечитывает файл. При ошибке сохраняются прежние пороги.
func (w *Watcher) reload() {
	t, err := LoadFile(w.path, w.base)
	if err != nil {
		w.logger.Warn("Файл политики не применён, действуют прежние пороги",
			slog.String("error", err.Error()),
		)
		return
	}
	prev := w.store.Current()
	if err := w.store.Replace(t); err != nil {
		w.logger.Warn("Пороги отклонены", slog.String("error", err.Error()))
		return
	}
	w.logger.Info("Пороги модерации обновлены",
		slog.Int("auto_approve_prev", prev.AutoApprove),
		slog.Int("auto_approve", t.AutoApprove),
		slog.Int("min_quality_prev", prev.MinQuality),
		slog.Int("min_quality", t.MinQuality),
	)
}
