// ingest.go — приём фотографии: валидация, лимит, сохранение байтов,
// создание записи и модерация.
//
// Порядок шагов:
//  1. Валидация до побочных эффектов: неудачная попытка не учитывается в лимите
//  2. Поиск живого дубликата по SHA-256 в пределах фермы
//  3. Проверка и учёт лимита отправителя
//  4. Сохранение байтов через Storage Gateway
//  5. Создание записи в received (при ошибке байты удаляются)
//  6. Модерация: received → scoring → решение
//
// Если шаг 4 или 5 не удался, учтённая квота возвращается.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/farm-photos/internal/domain/model"
	"github.com/bigkaa/farm-photos/internal/notify"
	"github.com/bigkaa/farm-photos/internal/ratelimit"
	"github.com/bigkaa/farm-photos/internal/repository"
	"github.com/bigkaa/farm-photos/internal/storage"
)

// sniffLen — сколько первых байт содержимого проверяется на сигнатуру.
const sniffLen = 512

var submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "farmphotos_submissions_total",
	Help: "Количество отправок фотографий по результату",
}, []string{"outcome"})

// SubmitRequest — параметры отправки фотографии.
type SubmitRequest struct {
	FarmID        string
	SubmitterID   string
	SubmitterName string
	MimeType      string
	Description   string
	Content       []byte
	// SkipScoring — запрос обхода оценки. Игнорируется: каждая
	// фотография проходит через scoring.
	SkipScoring bool
}

// IngestService — приём фотографий.
type IngestService struct {
	records      *Records
	validator    *Validator
	limiter      *ratelimit.Limiter
	gateway      storage.Gateway
	moderation   *ModerationService
	notifier     *notify.Dispatcher
	deletePolicy storage.DeletePolicy
	logger       *slog.Logger
}

// NewIngestService создаёт сервис приёма.
func NewIngestService(
	records *Records,
	validator *Validator,
	limiter *ratelimit.Limiter,
	gateway storage.Gateway,
	moderation *ModerationService,
	notifier *notify.Dispatcher,
	deletePolicy storage.DeletePolicy,
	logger *slog.Logger,
) *IngestService {
	return &IngestService{
		records:      records,
		validator:    validator,
		limiter:      limiter,
		gateway:      gateway,
		moderation:   moderation,
		notifier:     notifier,
		deletePolicy: deletePolicy,
		logger:       logger.With(slog.String("component", "ingest")),
	}
}

// Submit принимает фотографию. Возвращает запись в состоянии после модерации
// (auto_approved, pending_review или rejected).
//
// Ошибки: *ValidationError, *RateLimitError, ErrDuplicate.
// Сбой оценщика не возвращается: запись уходит в pending_review.
func (s *IngestService) Submit(ctx context.Context, req SubmitRequest) (*model.PhotoSubmission, error) {
	req.FarmID = strings.TrimSpace(req.FarmID)
	req.SubmitterID = strings.TrimSpace(req.SubmitterID)
	if req.FarmID == "" {
		submissionsTotal.WithLabelValues("invalid").Inc()
		return nil, invalid(ReasonMissingField, "не указана ферма")
	}
	if req.SubmitterID == "" {
		submissionsTotal.WithLabelValues("invalid").Inc()
		return nil, invalid(ReasonMissingField, "не указан отправитель")
	}

	head := req.Content
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	if err := s.validator.Validate(req.MimeType, int64(len(req.Content)), head, req.Description); err != nil {
		submissionsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	sum := sha256.Sum256(req.Content)
	contentHash := hex.EncodeToString(sum[:])
	if err := s.rejectLiveDuplicate(ctx, req.FarmID, contentHash); err != nil {
		return nil, err
	}

	decision, err := s.limiter.CheckAndRecord(ctx, req.SubmitterID)
	if err != nil {
		submissionsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("проверка лимита отправок: %w", err)
	}
	if !decision.Allowed {
		submissionsTotal.WithLabelValues("rate_limited").Inc()
		s.logger.Info("Отправка отклонена по лимиту",
			slog.String("submitter_id", req.SubmitterID),
			slog.String("window", decision.Window),
			slog.Duration("retry_after", decision.RetryAfter),
		)
		return nil, &RateLimitError{RetryAfter: decision.RetryAfter, Window: decision.Window}
	}

	if req.SkipScoring {
		s.logger.Warn("Запрос обхода оценки проигнорирован",
			slog.String("submitter_id", req.SubmitterID),
			slog.String("farm_id", req.FarmID),
		)
	}

	now := s.records.Now()
	p := &model.PhotoSubmission{
		ID:            uuid.NewString(),
		SubmitterID:   req.SubmitterID,
		SubmitterName: strings.TrimSpace(req.SubmitterName),
		FarmID:        req.FarmID,
		MimeType:      normalizeMime(req.MimeType),
		SizeBytes:     int64(len(req.Content)),
		Description:   req.Description,
		ContentHash:   contentHash,
		State:         model.StateReceived,
		SubmittedAt:   now,
		UpdatedAt:     now,
	}

	handle, err := s.gateway.Put(ctx, req.Content, storage.ObjectMeta{
		PhotoID:     p.ID,
		FarmID:      p.FarmID,
		MimeType:    p.MimeType,
		ContentHash: p.ContentHash,
		Size:        p.SizeBytes,
		StoredAt:    now,
	})
	if err != nil {
		submissionsTotal.WithLabelValues("error").Inc()
		s.releaseQuota(ctx, req.SubmitterID, decision)
		return nil, fmt.Errorf("%w: сохранение фотографии: %w", ErrStorageUnavailable, err)
	}
	p.StorageHandle = handle

	if err := s.records.Create(ctx, p); err != nil {
		s.discardBytes(ctx, p)
		s.releaseQuota(ctx, req.SubmitterID, decision)
		if errors.Is(err, ErrDuplicate) {
			submissionsTotal.WithLabelValues("duplicate").Inc()
		} else {
			submissionsTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	submissionsTotal.WithLabelValues("accepted").Inc()
	s.logger.Info("Фотография принята",
		slog.String("photo_id", p.ID),
		slog.String("farm_id", p.FarmID),
		slog.String("submitter_id", p.SubmitterID),
		slog.Int64("size", p.SizeBytes),
	)
	s.notifyReceived(ctx, p)

	// Модерация завершается и при обрыве соединения клиента.
	modCtx := context.WithoutCancel(ctx)
	if err := s.moderation.Moderate(modCtx, p, req.Content); err != nil {
		// Запись остаётся в received/scoring и будет переведена
		// на ручную проверку при очистке зависших записей.
		s.logger.Error("Ошибка модерации",
			slog.String("photo_id", p.ID),
			slog.String("error", err.Error()),
		)
		if current, getErr := s.records.Get(modCtx, p.ID); getErr == nil {
			p = current
		}
	}
	return p, nil
}

// rejectLiveDuplicate возвращает ErrDuplicate, если у фермы уже есть живая
// запись с тем же содержимым. Гонку двух одновременных отправок закрывает
// уникальный индекс хранилища.
func (s *IngestService) rejectLiveDuplicate(ctx context.Context, farmID, contentHash string) error {
	existing, err := s.records.List(ctx, repository.Filter{
		FarmID:      farmID,
		ContentHash: contentHash,
		States:      model.LiveStates(),
		Limit:       1,
	})
	if err != nil {
		submissionsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("поиск дубликата: %w", err)
	}
	if len(existing) == 0 {
		return nil
	}
	submissionsTotal.WithLabelValues("duplicate").Inc()
	s.logger.Info("Повторная отправка той же фотографии",
		slog.String("farm_id", farmID),
		slog.String("photo_id", existing[0].ID),
	)
	return fmt.Errorf("%w: запись %s", ErrDuplicate, existing[0].ID)
}

// releaseQuota возвращает квоту отправки, которая не была принята.
func (s *IngestService) releaseQuota(ctx context.Context, submitterID string, d ratelimit.Decision) {
	if err := s.limiter.Release(context.WithoutCancel(ctx), submitterID, d); err != nil {
		s.logger.Warn("Не удалось вернуть квоту отправки",
			slog.String("submitter_id", submitterID),
			slog.String("error", err.Error()),
		)
	}
}

// discardBytes — компенсирующее удаление байтов, если запись не создана.
func (s *IngestService) discardBytes(ctx context.Context, p *model.PhotoSubmission) {
	err := storage.DeleteWithRetry(context.WithoutCancel(ctx), s.gateway, p.StorageHandle, s.deletePolicy, s.logger)
	if err != nil {
		s.logger.Error("Не удалось удалить байты несозданной записи",
			slog.String("photo_id", p.ID),
			slog.String("handle", p.StorageHandle),
			slog.String("error", err.Error()),
		)
	}
}

func (s *IngestService) notifyReceived(ctx context.Context, p *model.PhotoSubmission) {
	recipients := []string{p.SubmitterID}
	if admin := s.notifier.AdminEmail(); admin != "" {
		recipients = append(recipients, admin)
	}
	s.notifier.Send(ctx, notify.Event{
		Kind:       notify.KindSubmissionReceived,
		PhotoID:    p.ID,
		FarmID:     p.FarmID,
		State:      string(p.State),
		Recipients: recipients,
		Actor:      p.SubmitterID,
		Note:       p.Description,
		At:         p.SubmittedAt,
	})
}
