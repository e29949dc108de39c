// moderation.go — обработчики поверхности модератора.
// Авторизация: scope photos:moderate — на уровне middleware.
package handlers

import (
	"fmt"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/farm-photos/internal/api/errors"
	"github.com/bigkaa/farm-photos/internal/api/middleware"
	"github.com/bigkaa/farm-photos/internal/domain/model"
)

// defaultActor — модератор, если аутентификация отключена (разработка).
const defaultActor = "moderator"

// Типы выборки GET /api/v1/photos/deletion-requests.
const (
	deletionTypePending     = "pending"
	deletionTypeRecoverable = "recoverable"
	deletionTypeCleanup     = "cleanup"
)

// moderationPhotoResponse — полное представление для модератора.
type moderationPhotoResponse struct {
	*model.PhotoSubmission
	Transitions []model.TransitionRecord `json:"transitions,omitempty"`
}

// moderationListResponse — список фотографий с количеством.
type moderationListResponse struct {
	Items []*model.PhotoSubmission `json:"items"`
	Count int                      `json:"count"`
}

// cleanupResponse — результат ручного запуска очистки.
type cleanupResponse struct {
	CleanedCount int    `json:"cleaned_count"`
	BytesRemoved int    `json:"bytes_removed"`
	BytesPending int    `json:"bytes_pending"`
	Redriven     int    `json:"redriven"`
	Skipped      bool   `json:"skipped"`
	Duration     string `json:"duration"`
}

// ListDeletionRequests обрабатывает GET /api/v1/photos/deletion-requests.
// type=pending — запросы, ожидающие подтверждения;
// type=recoverable — мягко удалённые с открытым окном восстановления;
// type=cleanup — запуск очистки, возвращает количество очищенных.
func (h *APIHandler) ListDeletionRequests(w http.ResponseWriter, r *http.Request, params ListDeletionRequestsParams) {
	var (
		photos []*model.PhotoSubmission
		err    error
	)

	switch params.Type {
	case deletionTypePending:
		photos, err = h.retention.ListPendingDeletionRequests(r.Context())
	case deletionTypeRecoverable:
		photos, err = h.retention.ListRecoverablePhotos(r.Context())
	case deletionTypeCleanup:
		h.runCleanup(w, r)
		return
	default:
		apierrors.ValidationError(w, fmt.Sprintf("Недопустимый type %q, допустимые: pending, recoverable, cleanup", params.Type))
		return
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, moderationListResponse{Items: nonNil(photos), Count: len(photos)})
}

func (h *APIHandler) runCleanup(w http.ResponseWriter, r *http.Request) {
	res, err := h.purge.PurgeExpired(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cleanupResponse{
		CleanedCount: res.Purged,
		BytesRemoved: res.BytesRemoved,
		BytesPending: res.BytesPending,
		Redriven:     res.Redriven,
		Skipped:      res.Skipped,
		Duration:     res.Duration.Round(time.Millisecond).String(),
	})
}

// ModerationQueue обрабатывает GET /api/v1/moderation/queue.
func (h *APIHandler) ModerationQueue(w http.ResponseWriter, r *http.Request, params QueueParams) {
	photos, err := h.moderation.Queue(r.Context(), h.listLimit(params.Limit))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, moderationListResponse{Items: nonNil(photos), Count: len(photos)})
}

// GetModerationPhoto обрабатывает GET /api/v1/moderation/photos/{photo_id}.
// Фотография в любом состоянии вместе с историей переходов.
func (h *APIHandler) GetModerationPhoto(w http.ResponseWriter, r *http.Request, photoID PhotoID) {
	p, history, err := h.gallery.Get(r.Context(), photoID.String())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, moderationPhotoResponse{PhotoSubmission: p, Transitions: history})
}

// decisionBody — тело POST .../decision.
type decisionBody struct {
	Decision string `json:"decision"`
	Note     string `json:"note"`
}

// DecidePhoto обрабатывает POST /api/v1/moderation/photos/{photo_id}/decision.
func (h *APIHandler) DecidePhoto(w http.ResponseWriter, r *http.Request, photoID PhotoID) {
	var body decisionBody
	if err := decodeJSON(r, &body); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	actor := middleware.ActorFromContext(r.Context(), defaultActor)
	p, err := h.moderation.Review(r.Context(), photoID.String(), body.Decision, actor, body.Note)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ConfirmDeletion обрабатывает POST /api/v1/moderation/photos/{photo_id}/confirm-deletion.
func (h *APIHandler) ConfirmDeletion(w http.ResponseWriter, r *http.Request, photoID PhotoID) {
	actor := middleware.ActorFromContext(r.Context(), defaultActor)
	p, err := h.retention.ConfirmDeletion(r.Context(), photoID.String(), actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// RecoverPhoto обрабатывает POST /api/v1/moderation/photos/{photo_id}/recover.
func (h *APIHandler) RecoverPhoto(w http.ResponseWriter, r *http.Request, photoID PhotoID) {
	actor := middleware.ActorFromContext(r.Context(), defaultActor)
	p, err := h.retention.Recover(r.Context(), photoID.String(), actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// nonNil — пустой список сериализуется как [], а не null.
func nonNil(photos []*model.PhotoSubmission) []*model.PhotoSubmission {
	if photos == nil {
		return []*model.PhotoSubmission{}
	}
	return photos
}
