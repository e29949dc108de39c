// gallery.go — чтение опубликованных фотографий: галерея фермы,
// метаданные и содержимое.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bigkaa/farm-photos/internal/domain/model"
	"github.com/bigkaa/farm-photos/internal/repository"
	"github.com/bigkaa/farm-photos/internal/storage"
)

// GalleryService — публичное чтение фотографий.
type GalleryService struct {
	records *Records
	cache   *PhotoCache
	gateway storage.Gateway
	logger  *slog.Logger
}

// NewGalleryService создаёт сервис галереи. cache может быть nil.
func NewGalleryService(records *Records, cache *PhotoCache, gateway storage.Gateway, logger *slog.Logger) *GalleryService {
	return &GalleryService{
		records: records,
		cache:   cache,
		gateway: gateway,
		logger:  logger.With(slog.String("component", "gallery")),
	}
}

// GetPublished возвращает опубликованную фотографию.
// Неопубликованные фотографии для публичного чтения не существуют (ErrNotFound).
//
// Кэш локален для экземпляра, а переходы могут выполняться другими
// экземплярами. Поэтому попадание в кэш сверяется с версией записи
// в репозитории: устаревшая копия отбрасывается и запись читается заново.
func (s *GalleryService) GetPublished(ctx context.Context, id string) (*model.PhotoSubmission, error) {
	if p, ok := s.cache.Get(id); ok {
		version, err := s.records.Repository().Version(ctx, id)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, mapRepoError(err)
		}
		if err == nil && version == p.Version {
			return p, nil
		}
		s.cache.Delete(id)
	}
	p, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsPublished() {
		return nil, ErrNotFound
	}
	s.cache.Set(p)
	return p, nil
}

// Get возвращает фотографию в любом состоянии вместе с историей переходов.
func (s *GalleryService) Get(ctx context.Context, id string) (*model.PhotoSubmission, []model.TransitionRecord, error) {
	p, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	history, err := s.records.Repository().Transitions(ctx, id)
	if err != nil {
		return nil, nil, mapRepoError(err)
	}
	return p, history, nil
}

// ListFarm возвращает фотографии фермы, новые первыми.
// states пуст — только опубликованные.
func (s *GalleryService) ListFarm(ctx context.Context, farmID string, states []model.State, limit int) ([]*model.PhotoSubmission, error) {
	if farmID == "" {
		return nil, invalid(ReasonMissingField, "не указана ферма")
	}
	if len(states) == 0 {
		states = []model.State{model.StateAutoApproved, model.StateApproved}
	}
	return s.records.List(ctx, repository.Filter{
		States: states,
		FarmID: farmID,
		Order:  repository.OrderSubmittedDesc,
		Limit:  limit,
	})
}

// OpenContent открывает содержимое опубликованной фотографии.
// Вызывающий код закрывает ReadCloser.
func (s *GalleryService) OpenContent(ctx context.Context, id string) (io.ReadCloser, *model.PhotoSubmission, error) {
	p, err := s.GetPublished(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.gateway.Get(ctx, p.StorageHandle)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			s.logger.Error("Байты опубликованной фотографии отсутствуют в хранилище",
				slog.String("photo_id", p.ID),
				slog.String("handle", p.StorageHandle),
			)
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("%w: чтение фотографии %s: %w", ErrStorageUnavailable, p.ID, err)
	}
	return rc, p, nil
}
