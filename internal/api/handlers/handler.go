// handler.go — основной обработчик API.
// Объединяет health, публичные и модераторские обработчики и делегирует
// запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/farm-photos/internal/api/errors"
	"github.com/bigkaa/farm-photos/internal/service"
)

// Limits — ограничения HTTP-слоя.
type Limits struct {
	// MaxFileSize — максимальный размер фотографии (совпадает с валидатором)
	MaxFileSize int64
	// DefaultListLimit — размер страницы по умолчанию
	DefaultListLimit int
	// MaxListLimit — максимальный размер страницы
	MaxListLimit int
}

// APIHandler — основной обработчик API.
type APIHandler struct {
	health     *HealthHandler
	ingest     *service.IngestService
	gallery    *service.GalleryService
	moderation *service.ModerationService
	retention  *service.RetentionService
	purge      *service.PurgeService
	limits     Limits
	logger     *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	ingest *service.IngestService,
	gallery *service.GalleryService,
	moderation *service.ModerationService,
	retention *service.RetentionService,
	purge *service.PurgeService,
	limits Limits,
	logger *slog.Logger,
) *APIHandler {
	if limits.DefaultListLimit <= 0 {
		limits.DefaultListLimit = 50
	}
	if limits.MaxListLimit < limits.DefaultListLimit {
		limits.MaxListLimit = 500
	}
	return &APIHandler{
		health:     health,
		ingest:     ingest,
		gallery:    gallery,
		moderation: moderation,
		retention:  retention,
		purge:      purge,
		limits:     limits,
		logger:     logger.With(slog.String("component", "api_handler")),
	}
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON разбирает тело запроса. Неизвестные поля отклоняются.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("некорректный JSON в теле запроса: %w", err)
	}
	return nil
}

// listLimit нормализует параметр limit.
func (h *APIHandler) listLimit(limit *int) int {
	if limit == nil {
		return h.limits.DefaultListLimit
	}
	switch l := *limit; {
	case l < 1:
		return 1
	case l > h.limits.MaxListLimit:
		return h.limits.MaxListLimit
	default:
		return l
	}
}

// writeServiceError переводит ошибку сервисного слоя в HTTP-ответ.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *service.ValidationError
	var rle *service.RateLimitError

	switch {
	case errors.As(err, &ve):
		apierrors.ValidationReason(w, ve.Reason, ve.Message)
	case errors.As(err, &rle):
		apierrors.RateLimited(w, rle.RetryAfter, rle.Error())
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, "Фотография не найдена")
	case errors.Is(err, service.ErrDuplicate):
		apierrors.Conflict(w, apierrors.CodeDuplicatePhoto, "Эта фотография уже отправлена для фермы")
	case errors.Is(err, service.ErrAlreadyDeleted):
		apierrors.Conflict(w, apierrors.CodeAlreadyDeleted, err.Error())
	case errors.Is(err, service.ErrInvalidTransition):
		apierrors.Conflict(w, apierrors.CodeInvalidTransition, err.Error())
	case errors.Is(err, service.ErrStateConflict):
		apierrors.Conflict(w, apierrors.CodeStateConflict, "Фотография изменена параллельно, повторите запрос")
	case errors.Is(err, service.ErrWindowExpired):
		apierrors.WindowExpired(w, "Окно восстановления истекло")
	case errors.Is(err, service.ErrStorageUnavailable):
		h.logger.Error("Ошибка хранилища",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.StorageError(w, "Хранилище фотографий недоступно")
	default:
		h.logger.Error("Внутренняя ошибка",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}
