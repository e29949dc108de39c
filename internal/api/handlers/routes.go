// routes.go — маршруты API и привязка параметров.
// Параметры пути и запроса разбираются oapi-codegen runtime (style simple/form),
// как в сгенерированных обёртках ServerInterfaceWrapper.
package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/bigkaa/farm-photos/internal/api/errors"
)

// PhotoID — идентификатор фотографии в пути.
type PhotoID = openapi_types.UUID

// ListPhotosParams — параметры GET /api/v1/photos.
type ListPhotosParams struct {
	FarmID string
	State  *[]string
	Limit  *int
}

// ListDeletionRequestsParams — параметры GET /api/v1/photos/deletion-requests.
type ListDeletionRequestsParams struct {
	// Type — pending, recoverable или cleanup
	Type string
}

// QueueParams — параметры GET /api/v1/moderation/queue.
type QueueParams struct {
	Limit *int
}

// Routes регистрирует маршруты на router.
// moderator — middleware аутентификации модератора (nil — без аутентификации).
func (h *APIHandler) Routes(r chi.Router, moderator func(http.Handler) http.Handler) {
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
	r.Get("/metrics", h.health.GetMetrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/photos", h.SubmitPhoto)
		r.Get("/photos", h.listPhotosWrapper)
		r.Get("/photos/{photo_id}", withPhotoID(h.GetPhoto))
		r.Get("/photos/{photo_id}/content", withPhotoID(h.GetPhotoContent))
		r.Post("/photos/{photo_id}/deletion-request", withPhotoID(h.RequestDeletion))

		r.Group(func(r chi.Router) {
			if moderator != nil {
				r.Use(moderator)
			}
			r.Get("/photos/deletion-requests", h.listDeletionRequestsWrapper)
			r.Get("/moderation/queue", h.queueWrapper)
			r.Get("/moderation/photos/{photo_id}", withPhotoID(h.GetModerationPhoto))
			r.Post("/moderation/photos/{photo_id}/decision", withPhotoID(h.DecidePhoto))
			r.Post("/moderation/photos/{photo_id}/confirm-deletion", withPhotoID(h.ConfirmDeletion))
			r.Post("/moderation/photos/{photo_id}/recover", withPhotoID(h.RecoverPhoto))
		})
	})
}

// withPhotoID разбирает {photo_id} и передаёт его обработчику.
func withPhotoID(next func(http.ResponseWriter, *http.Request, PhotoID)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var photoID PhotoID
		err := runtime.BindStyledParameterWithOptions("simple", "photo_id", chi.URLParam(r, "photo_id"), &photoID,
			runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
		if err != nil {
			apierrors.ValidationError(w, fmt.Sprintf("Некорректный параметр photo_id: %s", err))
			return
		}
		next(w, r, photoID)
	}
}

func (h *APIHandler) listPhotosWrapper(w http.ResponseWriter, r *http.Request) {
	var params ListPhotosParams
	query := r.URL.Query()

	if err := runtime.BindQueryParameter("form", true, true, "farm_id", query, &params.FarmID); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный параметр farm_id: %s", err))
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "state", query, &params.State); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный параметр state: %s", err))
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "limit", query, &params.Limit); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный параметр limit: %s", err))
		return
	}
	h.ListPhotos(w, r, params)
}

func (h *APIHandler) listDeletionRequestsWrapper(w http.ResponseWriter, r *http.Request) {
	var params ListDeletionRequestsParams
	if err := runtime.BindQueryParameter("form", true, true, "type", r.URL.Query(), &params.Type); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный параметр type: %s", err))
		return
	}
	h.ListDeletionRequests(w, r, params)
}

func (h *APIHandler) queueWrapper(w http.ResponseWriter, r *http.Request) {
	var params QueueParams
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &params.Limit); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный параметр limit: %s", err))
		return
	}
	h.ModerationQueue(w, r, params)
}
