// moderation.go — автоматическая оценка и решения модератора.
//
// received → scoring → {auto_approved | pending_review | rejected}
// pending_review → {approved | rejected}
//
// Сбой оценки никогда не отклоняет фотографию: запись уходит
// на ручную проверку.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/farm-photos/internal/domain/model"
	"github.com/bigkaa/farm-photos/internal/notify"
	"github.com/bigkaa/farm-photos/internal/policy"
	"github.com/bigkaa/farm-photos/internal/repository"
	"github.com/bigkaa/farm-photos/internal/scoring"
)

// Решения модератора.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

var moderationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "farmphotos_moderation_outcomes_total",
	Help: "Результаты автоматической модерации",
}, []string{"state"})

// ModerationService — движок модерации.
type ModerationService struct {
	records    *Records
	thresholds *policy.Store
	scorer     scoring.Scorer
	notifier   *notify.Dispatcher
	logger     *slog.Logger
}

// NewModerationService создаёт сервис модерации.
// scorer должен сам ограничивать число попыток и их длительность (scoring.Retrying).
func NewModerationService(
	records *Records,
	thresholds *policy.Store,
	scorer scoring.Scorer,
	notifier *notify.Dispatcher,
	logger *slog.Logger,
) *ModerationService {
	return &ModerationService{
		records:    records,
		thresholds: thresholds,
		scorer:     scorer,
		notifier:   notifier,
		logger:     logger.With(slog.String("component", "moderation")),
	}
}

// Moderate проводит запись в состоянии received через оценку к решению.
// content — содержимое фотографии для оценщика.
func (s *ModerationService) Moderate(ctx context.Context, p *model.PhotoSubmission, content []byte) error {
	if err := s.records.Transition(ctx, p, model.StateScoring, ActorSystem, nil); err != nil {
		return fmt.Errorf("начало оценки %s: %w", p.ID, err)
	}

	target, score, err := s.decide(ctx, p, content)
	if err != nil {
		s.logger.Warn("Оценка не получена, фотография направлена на ручную проверку",
			slog.String("photo_id", p.ID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.records.Transition(ctx, p, target, ActorSystem, func(p *model.PhotoSubmission, now time.Time) {
		if score != nil {
			p.QualityScore = score
		}
		if target != model.StatePendingReview {
			p.DecidedAt = &now
		}
	}); err != nil {
		return fmt.Errorf("решение по %s: %w", p.ID, err)
	}

	moderationOutcomes.WithLabelValues(string(target)).Inc()
	s.logger.Info("Фотография оценена",
		slog.String("photo_id", p.ID),
		slog.String("farm_id", p.FarmID),
		slog.String("state", string(target)),
		slog.Any("score", scoreAttr(p.QualityScore)),
	)
	s.notifyDecision(ctx, p, ActorSystem)
	return nil
}

// decide получает оценку и выбирает целевое состояние по действующим порогам.
// При ошибке оценки — pending_review без оценки.
func (s *ModerationService) decide(ctx context.Context, p *model.PhotoSubmission, content []byte) (model.State, *int, error) {
	if p.QualityScore != nil {
		return s.thresholds.Current().Decide(*p.QualityScore), nil, nil
	}

	score, err := s.scorer.Score(ctx, scoring.Request{
		PhotoID:     p.ID,
		FarmID:      p.FarmID,
		MimeType:    p.MimeType,
		Description: p.Description,
		Content:     content,
	})
	if err != nil {
		return model.StatePendingReview, nil, fmt.Errorf("%w: %v", ErrScoringUnavailable, err)
	}
	return s.thresholds.Current().Decide(score), &score, nil
}

// Review — решение модератора по записи в pending_review.
func (s *ModerationService) Review(ctx context.Context, id, decision, actor, note string) (*model.PhotoSubmission, error) {
	var target model.State
	switch strings.ToLower(decision) {
	case DecisionApprove:
		target = model.StateApproved
	case DecisionReject:
		target = model.StateRejected
	default:
		return nil, invalid(ReasonInvalidDecision, "решение %q, допустимые: approve, reject", decision)
	}
	if actor == "" {
		return nil, invalid(ReasonMissingField, "не указан модератор")
	}

	p, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.State != model.StatePendingReview {
		return nil, fmt.Errorf("%w: фотография в состоянии %s", ErrInvalidTransition, p.State)
	}

	if err := s.records.Transition(ctx, p, target, actor, func(p *model.PhotoSubmission, now time.Time) {
		p.DecidedAt = &now
		p.ReviewedBy = actor
		p.ReviewerNote = note
	}); err != nil {
		return nil, err
	}

	s.logger.Info("Решение модератора",
		slog.String("photo_id", p.ID),
		slog.String("state", string(target)),
		slog.String("reviewed_by", actor),
	)
	s.notifyDecision(ctx, p, actor)
	return p, nil
}

// Queue возвращает фотографии на ручной проверке, старые первыми.
func (s *ModerationService) Queue(ctx context.Context, limit int) ([]*model.PhotoSubmission, error) {
	return s.records.List(ctx, repository.Filter{
		States: []model.State{model.StatePendingReview},
		Order:  repository.OrderSubmittedAsc,
		Limit:  limit,
	})
}

// Redrive переводит зависшую в received/scoring запись на ручную проверку.
func (s *ModerationService) Redrive(ctx context.Context, p *model.PhotoSubmission) error {
	if p.State == model.StateReceived {
		if err := s.records.Transition(ctx, p, model.StateScoring, ActorSystem, nil); err != nil {
			return err
		}
	}
	if p.State != model.StateScoring {
		return fmt.Errorf("%w: фотография в состоянии %s", ErrInvalidTransition, p.State)
	}
	if err := s.records.Transition(ctx, p, model.StatePendingReview, ActorSystem, nil); err != nil {
		return err
	}
	moderationOutcomes.WithLabelValues(string(model.StatePendingReview)).Inc()
	return nil
}

func (s *ModerationService) notifyDecision(ctx context.Context, p *model.PhotoSubmission, actor string) {
	var kind notify.Kind
	switch {
	case p.IsPublished():
		kind = notify.KindApproved
	case p.State == model.StateRejected:
		kind = notify.KindRejected
	default:
		return
	}
	s.notifier.Send(ctx, notify.Event{
		Kind:       kind,
		PhotoID:    p.ID,
		FarmID:     p.FarmID,
		State:      string(p.State),
		Recipients: []string{p.SubmitterID},
		Actor:      actor,
		Note:       p.ReviewerNote,
		At:         s.records.Now(),
	})
}

// scoreAttr — оценка для логов (nil — «нет оценки»).
func scoreAttr(score *int) any {
	if score == nil {
		return nil
	}
	return *score
}
