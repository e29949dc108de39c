// records.go — общий доступ к записям: переход состояния одним CAS-обновлением
// вместе с записью аудита и инвалидацией кэша.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/farm-photos/internal/domain/lifecycle"
	"github.com/bigkaa/farm-photos/internal/domain/model"
	"github.com/bigkaa/farm-photos/internal/repository"
)

// ActorSystem — исполнитель автоматических переходов.
const ActorSystem = "system"

var transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "farmphotos_transitions_total",
	Help: "Количество выполненных переходов состояний",
}, []string{"from", "to"})

// Records — операции над записями, общие для всех сервисов.
type Records struct {
	repo  repository.PhotoRepository
	cache *PhotoCache
	now   func() time.Time
}

// NewRecords создаёт Records. cache может быть nil.
func NewRecords(repo repository.PhotoRepository, cache *PhotoCache) *Records {
	return &Records{
		repo:  repo,
		cache: cache,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetClock подменяет источник времени (для тестов).
func (r *Records) SetClock(now func() time.Time) {
	r.now = now
}

// Now возвращает текущее время сервиса.
func (r *Records) Now() time.Time {
	return r.now()
}

// Repository возвращает хранилище записей.
func (r *Records) Repository() repository.PhotoRepository {
	return r.repo
}

// Get возвращает запись по ID.
func (r *Records) Get(ctx context.Context, id string) (*model.PhotoSubmission, error) {
	p, err := r.repo.Get(ctx, id)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return p, nil
}

// List возвращает записи по фильтру.
func (r *Records) List(ctx context.Context, f repository.Filter) ([]*model.PhotoSubmission, error) {
	photos, err := r.repo.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("получение списка фотографий: %w", err)
	}
	return photos, nil
}

// Transition переводит p в состояние to. mutate (может быть nil) заполняет
// поля, сопутствующие переходу. Запись сохраняется, только если её версия
// не изменилась с момента чтения; иначе ErrStateConflict.
//
// Инварианты записи поддерживаются здесь:
//   - PurgeDeadline задан только в soft_deleted;
//   - оценка качества, однажды установленная, не меняется.
func (r *Records) Transition(
	ctx context.Context,
	p *model.PhotoSubmission,
	to model.State,
	actor string,
	mutate func(p *model.PhotoSubmission, now time.Time),
) error {
	from := p.State
	if err := lifecycle.Check(from, to); err != nil {
		return mapRepoError(err)
	}

	now := r.now()
	before := p.Clone()
	if mutate != nil {
		mutate(p, now)
	}
	if before.QualityScore != nil {
		score := *before.QualityScore
		p.QualityScore = &score
	}
	p.State = to
	if to != model.StateSoftDeleted {
		p.PurgeDeadline = nil
	}
	p.UpdatedAt = now

	rec := &model.TransitionRecord{
		PhotoID:   p.ID,
		From:      from,
		To:        to,
		Actor:     actor,
		Timestamp: now,
	}
	if err := r.repo.Update(ctx, p, rec); err != nil {
		*p = *before
		return mapRepoError(err)
	}

	r.cache.Delete(p.ID)
	transitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	return nil
}

// Save сохраняет поля записи без смены состояния (CAS по версии).
func (r *Records) Save(ctx context.Context, p *model.PhotoSubmission) error {
	updatedAt := p.UpdatedAt
	p.UpdatedAt = r.now()
	if err := r.repo.Update(ctx, p, nil); err != nil {
		p.UpdatedAt = updatedAt
		return mapRepoError(err)
	}
	r.cache.Delete(p.ID)
	return nil
}

// Create сохраняет новую запись.
func (r *Records) Create(ctx context.Context, p *model.PhotoSubmission) error {
	if err := r.repo.Create(ctx, p); err != nil {
		return mapRepoError(err)
	}
	return nil
}
