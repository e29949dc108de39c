// photos.go — публичные обработчики: приём фотографии, галерея фермы,
// метаданные и содержимое опубликованной фотографии, запрос удаления.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	apierrors "github.com/bigkaa/farm-photos/internal/api/errors"
	"github.com/bigkaa/farm-photos/internal/domain/model"
	"github.com/bigkaa/farm-photos/internal/service"
)

const (
	// multipartMemory — часть формы, которая держится в памяти (остальное во временных файлах)
	multipartMemory = 8 << 20
	// multipartOverhead — запас на заголовки и текстовые поля формы
	multipartOverhead = 1 << 20
	// contentCacheControl — содержимое по photo_id неизменно
	contentCacheControl = "public, max-age=31536000, immutable"
)

// photoResponse — публичное представление фотографии.
// Email отправителя и служебные поля не раскрываются.
type photoResponse struct {
	ID            string      `json:"id"`
	FarmID        string      `json:"farm_id"`
	SubmitterName string      `json:"submitter_name,omitempty"`
	MimeType      string      `json:"mime_type"`
	SizeBytes     int64       `json:"size_bytes"`
	Description   string      `json:"description,omitempty"`
	QualityScore  *int        `json:"quality_score,omitempty"`
	State         model.State `json:"state"`
	SubmittedAt   time.Time   `json:"submitted_at"`
	DecidedAt     *time.Time  `json:"decided_at,omitempty"`
}

func toPhotoResponse(p *model.PhotoSubmission) photoResponse {
	return photoResponse{
		ID:            p.ID,
		FarmID:        p.FarmID,
		SubmitterName: p.SubmitterName,
		MimeType:      p.MimeType,
		SizeBytes:     p.SizeBytes,
		Description:   p.Description,
		QualityScore:  p.QualityScore,
		State:         p.State,
		SubmittedAt:   p.SubmittedAt,
		DecidedAt:     p.DecidedAt,
	}
}

// submitResponse — ответ на приём фотографии.
type submitResponse struct {
	ID           string      `json:"id"`
	State        model.State `json:"state"`
	QualityScore *int        `json:"quality_score,omitempty"`
	Published    bool        `json:"published"`
}

// photoListResponse — страница галереи.
type photoListResponse struct {
	Items []photoResponse `json:"items"`
	Count int             `json:"count"`
}

// SubmitPhoto обрабатывает POST /api/v1/photos.
// Multipart form: file (обязательно), farm_id, submitter_email (обязательно),
// submitter_name, description (опционально).
func (h *APIHandler) SubmitPhoto(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.limits.MaxFileSize+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			apierrors.ValidationReason(w, service.ReasonFileTooLarge,
				fmt.Sprintf("Размер запроса превышает %d байт", mbe.Limit))
			return
		}
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationReason(w, service.ReasonMissingField, "Поле 'file' обязательно")
		return
	}
	defer file.Close()

	// Читается на байт больше максимума: превышение определяет валидатор.
	content, err := io.ReadAll(io.LimitReader(file, h.limits.MaxFileSize+1))
	if err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка чтения файла: %s", err))
		return
	}

	skip, _ := strconv.ParseBool(r.FormValue("skip_scoring"))
	p, err := h.ingest.Submit(r.Context(), service.SubmitRequest{
		FarmID:        r.FormValue("farm_id"),
		SubmitterID:   r.FormValue("submitter_email"),
		SubmitterName: r.FormValue("submitter_name"),
		MimeType:      header.Header.Get("Content-Type"),
		Description:   r.FormValue("description"),
		Content:       content,
		SkipScoring:   skip,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, submitResponse{
		ID:           p.ID,
		State:        p.State,
		QualityScore: p.QualityScore,
		Published:    p.IsPublished(),
	})
}

// ListPhotos обрабатывает GET /api/v1/photos.
// По умолчанию возвращает опубликованные фотографии фермы, новые первыми.
// Фильтр state вне опубликованных состояний требует прав модератора
// и доступен через /api/v1/moderation.
func (h *APIHandler) ListPhotos(w http.ResponseWriter, r *http.Request, params ListPhotosParams) {
	var states []model.State
	if params.State != nil {
		for _, s := range *params.State {
			st := model.State(s)
			if !st.IsPublished() {
				apierrors.ValidationError(w, fmt.Sprintf("Недопустимое состояние для галереи: %s", s))
				return
			}
			states = append(states, st)
		}
	}

	photos, err := h.gallery.ListFarm(r.Context(), params.FarmID, states, h.listLimit(params.Limit))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	items := make([]photoResponse, 0, len(photos))
	for _, p := range photos {
		items = append(items, toPhotoResponse(p))
	}
	writeJSON(w, http.StatusOK, photoListResponse{Items: items, Count: len(items)})
}

// GetPhoto обрабатывает GET /api/v1/photos/{photo_id}.
func (h *APIHandler) GetPhoto(w http.ResponseWriter, r *http.Request, photoID PhotoID) {
	p, err := h.gallery.GetPublished(r.Context(), photoID.String())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPhotoResponse(p))
}

// GetPhotoContent обрабатывает GET /api/v1/photos/{photo_id}/content.
// ETag — SHA-256 содержимого; If-None-Match → 304.
func (h *APIHandler) GetPhotoContent(w http.ResponseWriter, r *http.Request, photoID PhotoID) {
	rc, p, err := h.gallery.OpenContent(r.Context(), photoID.String())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	defer rc.Close()

	etag := `"` + p.ContentHash + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", contentCacheControl)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", p.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(p.SizeBytes, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("Передача содержимого прервана",
			slog.String("photo_id", p.ID),
			slog.String("error", err.Error()),
		)
	}
}

// deletionRequestBody — тело POST /api/v1/photos/{photo_id}/deletion-request.
type deletionRequestBody struct {
	RequestedBy string `json:"requested_by"`
	Reason      string `json:"reason"`
}

// deletionAcceptedResponse — ответ 202 на запрос удаления.
type deletionAcceptedResponse struct {
	ID    string      `json:"id"`
	State model.State `json:"state"`
}

// RequestDeletion обрабатывает POST /api/v1/photos/{photo_id}/deletion-request.
// Фотография скрывается только после подтверждения модератором.
func (h *APIHandler) RequestDeletion(w http.ResponseWriter, r *http.Request, photoID PhotoID) {
	var body deletionRequestBody
	if err := decodeJSON(r, &body); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	p, err := h.retention.RequestDeletion(r.Context(), photoID.String(), body.RequestedBy, body.Reason)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, deletionAcceptedResponse{ID: p.ID, State: p.State})
}
