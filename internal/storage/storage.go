// Пакет storage — Storage Gateway: хранение байтов фотографий.
//
// Контракт: Put возвращает handle, по которому объект читается (Get)
// и удаляется (Delete). Delete идемпотентен: удаление отсутствующего
// объекта не является ошибкой, что позволяет повторять очистку.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrObjectNotFound — объект с таким handle отсутствует.
var ErrObjectNotFound = errors.New("объект не найден")

// ErrInvalidHandle — handle не соответствует формату хранилища.
var ErrInvalidHandle = errors.New("некорректный handle объекта")

// ObjectMeta — метаданные, сохраняемые вместе с объектом.
type ObjectMeta struct {
	PhotoID     string    `json:"photo_id"`
	FarmID      string    `json:"farm_id"`
	MimeType    string    `json:"mime_type"`
	ContentHash string    `json:"content_hash"`
	Size        int64     `json:"size"`
	StoredAt    time.Time `json:"stored_at"`
}

// Gateway — хранилище байтов фотографий.
type Gateway interface {
	// Put сохраняет данные и возвращает handle объекта.
	Put(ctx context.Context, data []byte, meta ObjectMeta) (string, error)
	// Get открывает объект для чтения. Вызывающий код закрывает ReadCloser.
	Get(ctx context.Context, handle string) (io.ReadCloser, error)
	// Delete удаляет объект. Отсутствующий объект — не ошибка.
	Delete(ctx context.Context, handle string) error
}

// extensions — расширения по MIME-типу.
var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// Handle формирует ключ объекта: {farm}/{photo_id}{ext}.
// Одинаков для всех backend'ов.
func Handle(meta ObjectMeta) string {
	return sanitize(meta.FarmID) + "/" + sanitize(meta.PhotoID) + extensions[meta.MimeType]
}

// ValidateHandle отклоняет пустые, абсолютные и выходящие за корень handle.
func ValidateHandle(handle string) error {
	if handle == "" || strings.HasPrefix(handle, "/") || strings.Contains(handle, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidHandle, handle)
	}
	if cleaned := path.Clean(handle); cleaned != handle || strings.HasPrefix(cleaned, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidHandle, handle)
	}
	return nil
}

// sanitize оставляет буквы, цифры, дефис и подчёркивание.
func sanitize(s string) string {
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return "unknown"
	}
	return result.String()
}

// DeletePolicy — повторы удаления при очистке.
type DeletePolicy struct {
	Attempts       int
	AttemptTimeout time.Duration
	InitialBackoff time.Duration
}

// DeleteWithRetry удаляет объект с ограниченным числом попыток
// и таймаутом на каждую.
func DeleteWithRetry(ctx context.Context, gw Gateway, handle string, policy DeletePolicy, logger *slog.Logger) error {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	exp := backoff.NewExponentialBackOff()
	if policy.InitialBackoff > 0 {
		exp.InitialInterval = policy.InitialBackoff
	}
	exp.MaxElapsedTime = 0
	bo := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(policy.Attempts-1)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		opCtx := ctx
		if policy.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			opCtx, cancel = context.WithTimeout(ctx, policy.AttemptTimeout)
			defer cancel()
		}

		err := gw.Delete(opCtx, handle)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrInvalidHandle) {
			return backoff.Permanent(err)
		}
		logger.Warn("Попытка удаления объекта не удалась",
			slog.String("handle", handle),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		return err
	}, bo)
}
