package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bigkaa/farm-photos/internal/domain/model"
)

type liveKey struct {
	farmID string
	hash   string
}

// MemoryRepository — потокобезопасное in-memory хранилище записей.
// Не персистентное: для тестов и локального запуска.
// Наружу отдаются только копии записей.
type MemoryRepository struct {
	mu          sync.RWMutex
	photos      map[string]*model.PhotoSubmission
	live        map[liveKey]string // (farm, hash) → id живой записи
	transitions map[string][]model.TransitionRecord
}

// NewMemoryRepository создаёт пустое хранилище.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		photos:      make(map[string]*model.PhotoSubmission),
		live:        make(map[liveKey]string),
		transitions: make(map[string][]model.TransitionRecord),
	}
}

// Create реализует PhotoRepository.
func (r *MemoryRepository) Create(_ context.Context, p *model.PhotoSubmission) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.photos[p.ID]; ok {
		return fmt.Errorf("%w: id %s уже существует", ErrDuplicate, p.ID)
	}
	key := liveKey{farmID: p.FarmID, hash: p.ContentHash}
	if p.State.IsLive() {
		if existing, ok := r.live[key]; ok {
			return fmt.Errorf("%w: ферма %s, запись %s", ErrDuplicate, p.FarmID, existing)
		}
	}

	p.Version = 1
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.SubmittedAt
	}
	r.photos[p.ID] = p.Clone()
	if p.State.IsLive() {
		r.live[key] = p.ID
	}
	r.transitions[p.ID] = append(r.transitions[p.ID], model.TransitionRecord{
		PhotoID:   p.ID,
		To:        p.State,
		Actor:     p.SubmitterID,
		Timestamp: p.SubmittedAt,
	})
	return nil
}

// Get реализует PhotoRepository.
func (r *MemoryRepository) Get(_ context.Context, id string) (*model.PhotoSubmission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.photos[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

// Version реализует PhotoRepository.
func (r *MemoryRepository) Version(_ context.Context, id string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.photos[id]
	if !ok {
		return 0, ErrNotFound
	}
	return p.Version, nil
}

// Update реализует PhotoRepository.
func (r *MemoryRepository) Update(_ context.Context, p *model.PhotoSubmission, rec *model.TransitionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.photos[p.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != p.Version {
		return fmt.Errorf("%w: запись %s, версия %d, ожидалась %d", ErrVersionConflict, p.ID, current.Version, p.Version)
	}

	oldKey := liveKey{farmID: current.FarmID, hash: current.ContentHash}
	newKey := liveKey{farmID: p.FarmID, hash: p.ContentHash}
	if p.State.IsLive() {
		if holder, ok := r.live[newKey]; ok && holder != p.ID {
			return fmt.Errorf("%w: ферма %s, запись %s", ErrDuplicate, p.FarmID, holder)
		}
	}

	p.Version++
	r.photos[p.ID] = p.Clone()

	if current.State.IsLive() && r.live[oldKey] == p.ID {
		delete(r.live, oldKey)
	}
	if p.State.IsLive() {
		r.live[newKey] = p.ID
	}
	if rec != nil {
		r.transitions[p.ID] = append(r.transitions[p.ID], *rec)
	}
	return nil
}

// List реализует PhotoRepository.
func (r *MemoryRepository) List(_ context.Context, f Filter) ([]*model.PhotoSubmission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*model.PhotoSubmission
	for _, p := range r.photos {
		if f.matches(p) {
			result = append(result, p.Clone())
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return less(result[i], result[j], f.Order)
	})

	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

// CountByState реализует PhotoRepository.
func (r *MemoryRepository) CountByState(_ context.Context) (map[model.State]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[model.State]int, len(model.AllStates))
	for _, p := range r.photos {
		counts[p.State]++
	}
	return counts, nil
}

// Transitions реализует PhotoRepository.
func (r *MemoryRepository) Transitions(_ context.Context, photoID string) ([]model.TransitionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.photos[photoID]; !ok {
		return nil, ErrNotFound
	}
	recs := r.transitions[photoID]
	out := make([]model.TransitionRecord, len(recs))
	copy(out, recs)
	return out, nil
}

// less сравнивает записи по порядку сортировки; при равенстве — по ID.
func less(a, b *model.PhotoSubmission, order Order) bool {
	var ta, tb time.Time
	switch order {
	case OrderSubmittedAsc:
		ta, tb = a.SubmittedAt, b.SubmittedAt
	case OrderDeletionRequestedAsc:
		ta, tb = timeOrZero(a.DeletionRequestedAt), timeOrZero(b.DeletionRequestedAt)
	case OrderPurgeDeadlineAsc:
		ta, tb = timeOrZero(a.PurgeDeadline), timeOrZero(b.PurgeDeadline)
	default:
		if !a.SubmittedAt.Equal(b.SubmittedAt) {
			return a.SubmittedAt.After(b.SubmittedAt)
		}
		return a.ID < b.ID
	}
	if !ta.Equal(tb) {
		return ta.Before(tb)
	}
	return a.ID < b.ID
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
