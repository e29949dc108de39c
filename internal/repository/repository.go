// Пакет repository — хранилище записей PhotoSubmission.
//
// Две реализации одного контракта: PostgreSQL (чистый SQL через pgx,
// без ORM) и in-memory. Каждое изменение записи — compare-and-swap по
// полю version: из двух конкурирующих обновлений одной записи проходит
// ровно одно, второе получает ErrVersionConflict.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bigkaa/farm-photos/internal/domain/model"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrDuplicate — живая фотография с тем же содержимым уже есть у фермы.
	ErrDuplicate = errors.New("фотография с таким содержимым уже существует")
	// ErrVersionConflict — запись изменена параллельно (версия не совпала).
	ErrVersionConflict = errors.New("запись изменена параллельно")
)

// Order — порядок сортировки списка.
type Order int

const (
	// OrderSubmittedDesc — новые первые (галерея)
	OrderSubmittedDesc Order = iota
	// OrderSubmittedAsc — старые первые (очередь модерации)
	OrderSubmittedAsc
	// OrderDeletionRequestedAsc — по времени запроса удаления, старые первые
	OrderDeletionRequestedAsc
	// OrderPurgeDeadlineAsc — ближайший дедлайн первым
	OrderPurgeDeadlineAsc
)

// Filter — условия выборки. Пустые поля не ограничивают выборку.
type Filter struct {
	States []model.State
	FarmID string
	// ContentHash — SHA-256 содержимого
	ContentHash string
	// DeadlineAfter — purge_deadline > значения
	DeadlineAfter *time.Time
	// DeadlineAtOrBefore — purge_deadline ≤ значения
	DeadlineAtOrBefore *time.Time
	// BytesPending — только записи без bytes_removed_at
	BytesPending bool
	// UpdatedBefore — updated_at < значения
	UpdatedBefore *time.Time
	Order         Order
	// Limit — максимум записей (0 — без ограничения)
	Limit int
}

// PhotoRepository — контракт хранилища записей.
type PhotoRepository interface {
	// Create сохраняет новую запись (Version = 1) и аудит создания.
	// ErrDuplicate — у фермы уже есть живая запись с тем же content_hash.
	Create(ctx context.Context, p *model.PhotoSubmission) error
	// Get возвращает запись по ID.
	Get(ctx context.Context, id string) (*model.PhotoSubmission, error)
	// Version возвращает текущую версию записи без чтения всей строки.
	Version(ctx context.Context, id string) (int64, error)
	// Update сохраняет запись, если её версия в хранилище равна p.Version.
	// При успехе p.Version увеличивается. UpdatedAt сохраняется как задан
	// вызывающим кодом (часы сервиса). rec (может быть nil) пишется
	// в историю переходов в той же операции.
	Update(ctx context.Context, p *model.PhotoSubmission, rec *model.TransitionRecord) error
	// List возвращает записи по фильтру.
	List(ctx context.Context, f Filter) ([]*model.PhotoSubmission, error)
	// CountByState возвращает количество записей по состояниям.
	CountByState(ctx context.Context) (map[model.State]int, error)
	// Transitions возвращает историю переходов записи по времени.
	Transitions(ctx context.Context, photoID string) ([]model.TransitionRecord, error)
}

// matches проверяет запись по фильтру (общая логика для in-memory реализации).
func (f Filter) matches(p *model.PhotoSubmission) bool {
	if len(f.States) > 0 {
		ok := false
		for _, st := range f.States {
			if p.State == st {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.FarmID != "" && p.FarmID != f.FarmID {
		return false
	}
	if f.ContentHash != "" && p.ContentHash != f.ContentHash {
		return false
	}
	if f.DeadlineAfter != nil && (p.PurgeDeadline == nil || !p.PurgeDeadline.After(*f.DeadlineAfter)) {
		return false
	}
	if f.DeadlineAtOrBefore != nil && (p.PurgeDeadline == nil || p.PurgeDeadline.After(*f.DeadlineAtOrBefore)) {
		return false
	}
	if f.BytesPending && p.BytesRemovedAt != nil {
		return false
	}
	if f.UpdatedBefore != nil && !p.UpdatedAt.Before(*f.UpdatedBefore) {
		return false
	}
	return true
}
