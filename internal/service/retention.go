// retention.go — удаление и восстановление опубликованных фотографий.
//
// {auto_approved | approved} → deletion_requested → soft_deleted → purged
// soft_deleted → approved — только пока now < purge_deadline.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bigkaa/farm-photos/internal/domain/model"
	"github.com/bigkaa/farm-photos/internal/notify"
	"github.com/bigkaa/farm-photos/internal/repository"
)

// MinDeletionReasonLength — минимальная длина причины удаления (символов).
const MinDeletionReasonLength = 10

// RetentionService — жизненный цикл хранения.
type RetentionService struct {
	records        *Records
	recoveryWindow time.Duration
	notifier       *notify.Dispatcher
	logger         *slog.Logger
}

// NewRetentionService создаёт сервис хранения.
func NewRetentionService(
	records *Records,
	recoveryWindow time.Duration,
	notifier *notify.Dispatcher,
	logger *slog.Logger,
) *RetentionService {
	return &RetentionService{
		records:        records,
		recoveryWindow: recoveryWindow,
		notifier:       notifier,
		logger:         logger.With(slog.String("component", "retention")),
	}
}

// RecoveryWindow возвращает длительность окна восстановления.
func (s *RetentionService) RecoveryWindow() time.Duration {
	return s.recoveryWindow
}

// RequestDeletion — запрос удаления опубликованной фотографии.
// Ошибки: ErrNotFound, ErrAlreadyDeleted, ErrInvalidTransition, *ValidationError.
func (s *RetentionService) RequestDeletion(ctx context.Context, id, requestedBy, reason string) (*model.PhotoSubmission, error) {
	requestedBy = strings.TrimSpace(requestedBy)
	reason = strings.TrimSpace(reason)
	if requestedBy == "" {
		return nil, invalid(ReasonMissingField, "не указан автор запроса")
	}
	if n := utf8.RuneCountInString(reason); n < MinDeletionReasonLength {
		return nil, invalid(ReasonReasonTooShort, "причина удаления %d символов, минимум %d", n, MinDeletionReasonLength)
	}

	p, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case isDeletionState(p.State):
		return nil, fmt.Errorf("%w: фотография в состоянии %s", ErrAlreadyDeleted, p.State)
	case !p.IsPublished():
		return nil, fmt.Errorf("%w: удалить можно только опубликованную фотографию (состояние %s)",
			ErrInvalidTransition, p.State)
	}

	if err := s.records.Transition(ctx, p, model.StateDeletionRequested, requestedBy, func(p *model.PhotoSubmission, now time.Time) {
		p.DeletionRequestedAt = &now
		p.DeletionRequestedBy = requestedBy
		p.DeletionReason = reason
	}); err != nil {
		return nil, err
	}

	s.logger.Info("Запрошено удаление фотографии",
		slog.String("photo_id", p.ID),
		slog.String("requested_by", requestedBy),
	)
	s.send(ctx, p, notify.KindDeletionRequested, requestedBy, reason, s.notifier.AdminEmail())
	return p, nil
}

// ListPendingDeletionRequests возвращает запросы удаления, старые первыми.
func (s *RetentionService) ListPendingDeletionRequests(ctx context.Context) ([]*model.PhotoSubmission, error) {
	return s.records.List(ctx, repository.Filter{
		States: []model.State{model.StateDeletionRequested},
		Order:  repository.OrderDeletionRequestedAsc,
	})
}

// ConfirmDeletion скрывает фотографию и открывает окно восстановления:
// purge_deadline = now + окно.
func (s *RetentionService) ConfirmDeletion(ctx context.Context, id, actor string) (*model.PhotoSubmission, error) {
	p, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch p.State {
	case model.StateDeletionRequested:
	case model.StateSoftDeleted, model.StatePurged:
		return nil, fmt.Errorf("%w: фотография в состоянии %s", ErrAlreadyDeleted, p.State)
	default:
		return nil, fmt.Errorf("%w: удаление не запрошено (состояние %s)", ErrInvalidTransition, p.State)
	}

	if err := s.records.Transition(ctx, p, model.StateSoftDeleted, actor, func(p *model.PhotoSubmission, now time.Time) {
		deadline := now.Add(s.recoveryWindow)
		p.PurgeDeadline = &deadline
	}); err != nil {
		return nil, err
	}

	s.logger.Info("Удаление подтверждено",
		slog.String("photo_id", p.ID),
		slog.String("actor", actor),
		slog.Time("purge_deadline", *p.PurgeDeadline),
	)
	s.send(ctx, p, notify.KindDeletionConfirmed, actor, "", p.DeletionRequestedBy)
	return p, nil
}

// ListRecoverablePhotos возвращает soft_deleted фотографии с purge_deadline > now,
// ближайший дедлайн первым.
func (s *RetentionService) ListRecoverablePhotos(ctx context.Context) ([]*model.PhotoSubmission, error) {
	now := s.records.Now()
	return s.records.List(ctx, repository.Filter{
		States:        []model.State{model.StateSoftDeleted},
		DeadlineAfter: &now,
		Order:         repository.OrderPurgeDeadlineAsc,
	})
}

// Recover возвращает фотографию в approved, пока не истёк дедлайн.
// Ошибки: ErrNotFound, ErrWindowExpired (дедлайн наступил или фотография
// уже очищена), ErrInvalidTransition, ErrStateConflict (параллельная очистка).
func (s *RetentionService) Recover(ctx context.Context, id, actor string) (*model.PhotoSubmission, error) {
	p, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.State == model.StatePurged {
		return nil, fmt.Errorf("%w: фотография уже очищена", ErrWindowExpired)
	}
	if p.State != model.StateSoftDeleted {
		return nil, fmt.Errorf("%w: фотография в состоянии %s", ErrInvalidTransition, p.State)
	}
	if now := s.records.Now(); !p.IsRecoverable(now) {
		return nil, fmt.Errorf("%w: дедлайн %s", ErrWindowExpired, p.PurgeDeadline.Format(time.RFC3339))
	}

	if err := s.records.Transition(ctx, p, model.StateApproved, actor, nil); err != nil {
		return nil, err
	}

	s.logger.Info("Фотография восстановлена",
		slog.String("photo_id", p.ID),
		slog.String("actor", actor),
	)
	s.send(ctx, p, notify.KindRecovered, actor, "", p.DeletionRequestedBy)
	return p, nil
}

func (s *RetentionService) send(ctx context.Context, p *model.PhotoSubmission, kind notify.Kind, actor, note, recipient string) {
	var recipients []string
	if recipient != "" {
		recipients = append(recipients, recipient)
	}
	s.notifier.Send(ctx, notify.Event{
		Kind:       kind,
		PhotoID:    p.ID,
		FarmID:     p.FarmID,
		State:      string(p.State),
		Recipients: recipients,
		Actor:      actor,
		Note:       note,
		At:         p.UpdatedAt,
	})
}

// isDeletionState — удаление уже запрошено или выполнено.
func isDeletionState(st model.State) bool {
	return st == model.StateDeletionRequested || st == model.StateSoftDeleted || st == model.StatePurged
}
