// Пакет service — бизнес-логика сервиса фотографий ферм:
// приём, модерация, хранение и очистка.
//
// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/bigkaa/farm-photos/internal/domain/lifecycle"
	"github.com/bigkaa/farm-photos/internal/repository"
)

var (
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrRateLimited — превышен лимит отправок.
	ErrRateLimited = errors.New("превышен лимит отправок")
	// ErrScoringUnavailable — оценка качества не получена. Отправителю не возвращается.
	ErrScoringUnavailable = errors.New("оценка качества недоступна")
	// ErrStateConflict — запись изменена параллельно.
	ErrStateConflict = errors.New("состояние фотографии изменено параллельно")
	// ErrNotFound — фотография не найдена.
	ErrNotFound = errors.New("фотография не найдена")
	// ErrWindowExpired — окно восстановления истекло.
	ErrWindowExpired = errors.New("окно восстановления истекло")
	// ErrAlreadyDeleted — удаление уже запрошено или выполнено.
	ErrAlreadyDeleted = errors.New("фотография уже удалена или ожидает удаления")
	// ErrInvalidTransition — операция недопустима в текущем состоянии.
	ErrInvalidTransition = errors.New("операция недопустима в текущем состоянии")
	// ErrDuplicate — у фермы уже есть такая фотография.
	ErrDuplicate = errors.New("фотография уже отправлена для этой фермы")
	// ErrStorageUnavailable — Storage Gateway не выполнил операцию.
	ErrStorageUnavailable = errors.New("хранилище фотографий недоступно")
)

// Причины ошибок валидации.
const (
	ReasonUnsupportedType    = "UNSUPPORTED_TYPE"
	ReasonFileTooLarge       = "FILE_TOO_LARGE"
	ReasonEmptyFile          = "EMPTY_FILE"
	ReasonDescriptionTooLong = "DESCRIPTION_TOO_LONG"
	ReasonReasonTooShort     = "REASON_TOO_SHORT"
	ReasonMissingField       = "MISSING_FIELD"
	ReasonInvalidDecision    = "INVALID_DECISION"
)

// ValidationError — ошибка валидации с машиночитаемой причиной.
type ValidationError struct {
	Reason  string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// Unwrap позволяет errors.Is(err, ErrValidation).
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(reason, format string, args ...any) *ValidationError {
	return &ValidationError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// RateLimitError — отказ по лимиту с временем до открытия окна.
type RateLimitError struct {
	RetryAfter time.Duration
	Window     string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("превышен лимит отправок (окно %s), повторите через %s", e.Window, e.RetryAfter)
}

// Unwrap позволяет errors.Is(err, ErrRateLimited).
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// mapRepoError переводит ошибки репозитория и автомата в ошибки сервиса.
func mapRepoError(err error) error {
	if err == nil {
		return nil
	}
	var te *lifecycle.TransitionError
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrVersionConflict):
		return fmt.Errorf("%w: %v", ErrStateConflict, err)
	case errors.Is(err, repository.ErrDuplicate):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	case errors.As(err, &te):
		return fmt.Errorf("%w: %s", ErrInvalidTransition, te.Message)
	}
	return err
}
