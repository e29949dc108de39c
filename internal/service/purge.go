// purge.go — фоновая очистка (sweep) по расписанию cron.
//
// Один проход выполняет три фазы:
//  1. Повтор удаления байтов у purged записей, где прошлое удаление не удалось
//  2. Перевод soft_deleted записей с наступившим дедлайном в purged и удаление байтов
//  3. Перевод зависших в received/scoring записей на ручную проверку
//
// Параллельные вызовы внутри процесса объединяются (singleflight),
// между экземплярами сервиса — сериализуются блокировкой (Locker).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/bigkaa/farm-photos/internal/domain/model"
	"github.com/bigkaa/farm-photos/internal/notify"
	"github.com/bigkaa/farm-photos/internal/repository"
	"github.com/bigkaa/farm-photos/internal/storage"
)

// Prometheus метрики очистки
var (
	purgeRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farmphotos_purge_runs_total",
		Help: "Количество проходов очистки по результату",
	}, []string{"outcome"})

	purgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "farmphotos_purged_total",
		Help: "Количество фотографий, переведённых в purged",
	})

	bytesRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "farmphotos_bytes_removed_total",
		Help: "Количество объектов, удалённых из хранилища при очистке",
	})

	redrivenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "farmphotos_redriven_total",
		Help: "Количество зависших записей, переведённых на ручную проверку",
	})

	purgeDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "farmphotos_purge_duration_seconds",
		Help:    "Длительность прохода очистки в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})

	photosByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "farmphotos_photos",
		Help: "Количество фотографий по состояниям",
	}, []string{"state"})
)

// Locker — межпроцессная блокировка прохода очистки.
type Locker interface {
	// TryLock захватывает блокировку без ожидания.
	// ok == false — блокировка занята другим экземпляром.
	TryLock(ctx context.Context) (release func(), ok bool, err error)
}

// LocalLocker — Locker для одного процесса (in-memory хранилище).
type LocalLocker struct {
	mu sync.Mutex
}

// TryLock реализует Locker.
func (l *LocalLocker) TryLock(context.Context) (func(), bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	return l.mu.Unlock, true, nil
}

// PurgeResult — результат одного прохода очистки.
type PurgeResult struct {
	// Purged — записи, переведённые в purged в этом проходе
	Purged int
	// BytesRemoved — удалённые объекты (включая повторы)
	BytesRemoved int
	// BytesPending — объекты, которые не удалось удалить (повтор в следующем проходе)
	BytesPending int
	// Redriven — зависшие записи, переведённые на ручную проверку
	Redriven int
	// Conflicts — записи, изменённые параллельно (например, восстановлены)
	Conflicts int
	// Skipped — проход пропущен: блокировку держит другой экземпляр
	Skipped  bool
	Duration time.Duration
}

// PurgeConfig — параметры очистки.
type PurgeConfig struct {
	// Schedule — расписание cron (например, "@every 1h")
	Schedule string
	// BatchSize — максимум записей одной фазы за проход
	BatchSize int
	// StuckAfter — через сколько запись в received/scoring считается зависшей
	StuckAfter time.Duration
	// Delete — повторы удаления байтов
	Delete storage.DeletePolicy
}

// PurgeService — сервис очистки.
type PurgeService struct {
	records    *Records
	gateway    storage.Gateway
	moderation *ModerationService
	locker     Locker
	notifier   *notify.Dispatcher
	cfg        PurgeConfig
	logger     *slog.Logger

	sf   singleflight.Group
	cron *cron.Cron
}

// NewPurgeService создаёт сервис очистки.
func NewPurgeService(
	records *Records,
	gateway storage.Gateway,
	moderation *ModerationService,
	locker Locker,
	notifier *notify.Dispatcher,
	cfg PurgeConfig,
	logger *slog.Logger,
) *PurgeService {
	if locker == nil {
		locker = &LocalLocker{}
	}
	return &PurgeService{
		records:    records,
		gateway:    gateway,
		moderation: moderation,
		locker:     locker,
		notifier:   notifier,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "purge")),
	}
}

// Start запускает очистку по расписанию.
func (s *PurgeService) Start(ctx context.Context) error {
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(s.cfg.Schedule, func() {
		if _, err := s.PurgeExpired(ctx); err != nil {
			s.logger.Error("Ошибка очистки по расписанию", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("расписание очистки %q: %w", s.cfg.Schedule, err)
	}
	s.cron = c
	c.Start()

	s.logger.Info("Очистка по расписанию запущена",
		slog.String("schedule", s.cfg.Schedule),
	)
	return nil
}

// Stop останавливает расписание и ждёт завершения текущего прохода.
func (s *PurgeService) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.logger.Info("Очистка по расписанию остановлена")
}

// PurgeExpired выполняет проход очистки. Идемпотентна.
// Параллельные вызовы получают результат одного прохода.
func (s *PurgeService) PurgeExpired(ctx context.Context) (PurgeResult, error) {
	v, err, _ := s.sf.Do("purge", func() (any, error) {
		return s.runOnce(ctx)
	})
	if err != nil {
		return PurgeResult{}, err
	}
	return v.(PurgeResult), nil
}

func (s *PurgeService) runOnce(ctx context.Context) (PurgeResult, error) {
	start := time.Now()
	var result PurgeResult

	release, ok, err := s.locker.TryLock(ctx)
	if err != nil {
		purgeRunsTotal.WithLabelValues("error").Inc()
		return result, fmt.Errorf("блокировка очистки: %w", err)
	}
	if !ok {
		result.Skipped = true
		purgeRunsTotal.WithLabelValues("skipped").Inc()
		s.logger.Info("Очистка пропущена: выполняется другим экземпляром")
		return result, nil
	}
	defer release()

	s.logger.Debug("Очистка начата")

	// Фаза 1: повтор удаления байтов
	if err := s.retryPendingBytes(ctx, &result); err != nil {
		purgeRunsTotal.WithLabelValues("error").Inc()
		return result, err
	}

	// Фаза 2: истёкшие soft_deleted → purged
	if err := s.purgeDue(ctx, &result); err != nil {
		purgeRunsTotal.WithLabelValues("error").Inc()
		return result, err
	}

	// Фаза 3: зависшие received/scoring → pending_review
	if err := s.redriveStuck(ctx, &result); err != nil {
		purgeRunsTotal.WithLabelValues("error").Inc()
		return result, err
	}

	s.refreshStateGauge(ctx)

	result.Duration = time.Since(start)
	purgeRunsTotal.WithLabelValues("ok").Inc()
	purgedTotal.Add(float64(result.Purged))
	bytesRemovedTotal.Add(float64(result.BytesRemoved))
	redrivenTotal.Add(float64(result.Redriven))
	purgeDurationSeconds.Observe(result.Duration.Seconds())

	s.logger.Info("Очистка завершена",
		slog.Int("purged", result.Purged),
		slog.Int("bytes_removed", result.BytesRemoved),
		slog.Int("bytes_pending", result.BytesPending),
		slog.Int("redriven", result.Redriven),
		slog.Int("conflicts", result.Conflicts),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

// retryPendingBytes удаляет байты purged записей без bytes_removed_at.
func (s *PurgeService) retryPendingBytes(ctx context.Context, result *PurgeResult) error {
	photos, err := s.records.List(ctx, repository.Filter{
		States:       []model.State{model.StatePurged},
		BytesPending: true,
		Order:        repository.OrderSubmittedAsc,
		Limit:        s.cfg.BatchSize,
	})
	if err != nil {
		return err
	}
	for _, p := range photos {
		s.removeBytes(ctx, p, result)
	}
	return nil
}

// purgeDue переводит записи с наступившим дедлайном в purged.
// Дедлайн не включается в окно восстановления: purge_deadline ≤ now.
func (s *PurgeService) purgeDue(ctx context.Context, result *PurgeResult) error {
	now := s.records.Now()
	photos, err := s.records.List(ctx, repository.Filter{
		States:             []model.State{model.StateSoftDeleted},
		DeadlineAtOrBefore: &now,
		Order:              repository.OrderPurgeDeadlineAsc,
		Limit:              s.cfg.BatchSize,
	})
	if err != nil {
		return err
	}

	for _, p := range photos {
		err := s.records.Transition(ctx, p, model.StatePurged, ActorSystem, func(p *model.PhotoSubmission, now time.Time) {
			p.PurgedAt = &now
		})
		if err != nil {
			if errors.Is(err, ErrStateConflict) || errors.Is(err, ErrInvalidTransition) {
				result.Conflicts++
				s.logger.Info("Запись изменена параллельно, очистка пропущена",
					slog.String("photo_id", p.ID),
				)
				continue
			}
			return fmt.Errorf("очистка %s: %w", p.ID, err)
		}
		result.Purged++
		s.logger.Debug("Фотография очищена", slog.String("photo_id", p.ID))
		s.notifier.Send(ctx, notify.Event{
			Kind:    notify.KindPurged,
			PhotoID: p.ID,
			FarmID:  p.FarmID,
			State:   string(p.State),
			Actor:   ActorSystem,
			At:      *p.PurgedAt,
		})

		s.removeBytes(ctx, p, result)
	}
	return nil
}

// removeBytes удаляет объект из хранилища и отмечает bytes_removed_at.
// При ошибке запись остаётся в очереди повтора.
func (s *PurgeService) removeBytes(ctx context.Context, p *model.PhotoSubmission, result *PurgeResult) {
	if err := storage.DeleteWithRetry(ctx, s.gateway, p.StorageHandle, s.cfg.Delete, s.logger); err != nil {
		result.BytesPending++
		s.logger.Error("Не удалось удалить байты, повтор при следующей очистке",
			slog.String("photo_id", p.ID),
			slog.String("handle", p.StorageHandle),
			slog.String("error", err.Error()),
		)
		return
	}

	now := s.records.Now()
	p.BytesRemovedAt = &now
	if err := s.records.Save(ctx, p); err != nil {
		// Delete идемпотентен: при следующем проходе удаление повторится.
		result.BytesPending++
		s.logger.Error("Не удалось отметить удаление байтов",
			slog.String("photo_id", p.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	result.BytesRemoved++
}

// redriveStuck переводит записи, зависшие в received/scoring, на ручную проверку.
func (s *PurgeService) redriveStuck(ctx context.Context, result *PurgeResult) error {
	if s.cfg.StuckAfter <= 0 {
		return nil
	}
	before := s.records.Now().Add(-s.cfg.StuckAfter)
	photos, err := s.records.List(ctx, repository.Filter{
		States:        []model.State{model.StateReceived, model.StateScoring},
		UpdatedBefore: &before,
		Order:         repository.OrderSubmittedAsc,
		Limit:         s.cfg.BatchSize,
	})
	if err != nil {
		return err
	}

	for _, p := range photos {
		if err := s.moderation.Redrive(ctx, p); err != nil {
			if errors.Is(err, ErrStateConflict) || errors.Is(err, ErrInvalidTransition) {
				result.Conflicts++
				continue
			}
			return fmt.Errorf("перевод зависшей записи %s: %w", p.ID, err)
		}
		result.Redriven++
		s.logger.Warn("Зависшая запись переведена на ручную проверку",
			slog.String("photo_id", p.ID),
		)
	}
	return nil
}

// refreshStateGauge обновляет метрику количества фотографий по состояниям.
func (s *PurgeService) refreshStateGauge(ctx context.Context) {
	counts, err := s.records.Repository().CountByState(ctx)
	if err != nil {
		s.logger.Warn("Не удалось подсчитать фотографии по состояниям",
			slog.String("error", err.Error()),
		)
		return
	}
	for _, st := range model.AllStates {
		photosByState.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}
