// validator.go — проверка файла и описания до любых побочных эффектов.
package service

import (
	"net/http"
	"strings"
	"unicode/utf8"
)

// ValidationLimits — ограничения на загружаемую фотографию.
type ValidationLimits struct {
	MaxFileSize          int64
	AllowedMimeTypes     []string
	MaxDescriptionLength int
}

// Validator проверяет фотографию. Не имеет состояния и побочных эффектов.
type Validator struct {
	limits  ValidationLimits
	allowed map[string]bool
}

// NewValidator создаёт Validator.
func NewValidator(limits ValidationLimits) *Validator {
	allowed := make(map[string]bool, len(limits.AllowedMimeTypes))
	for _, mt := range limits.AllowedMimeTypes {
		allowed[strings.ToLower(mt)] = true
	}
	return &Validator{limits: limits, allowed: allowed}
}

// Validate проверяет заявленный MIME-тип, размер и описание.
// head — первые байты содержимого (может быть пустым): сигнатура
// файла должна соответствовать допустимому типу.
// Возвращает *ValidationError.
func (v *Validator) Validate(mimeType string, size int64, head []byte, description string) error {
	mimeType = normalizeMime(mimeType)
	if !v.allowed[mimeType] {
		return invalid(ReasonUnsupportedType, "тип %q не поддерживается, допустимые: %s",
			mimeType, strings.Join(v.limits.AllowedMimeTypes, ", "))
	}
	if size <= 0 {
		return invalid(ReasonEmptyFile, "файл пуст")
	}
	if size > v.limits.MaxFileSize {
		return invalid(ReasonFileTooLarge, "размер %d байт превышает максимум %d байт", size, v.limits.MaxFileSize)
	}
	if n := utf8.RuneCountInString(description); n > v.limits.MaxDescriptionLength {
		return invalid(ReasonDescriptionTooLong, "описание %d символов, максимум %d", n, v.limits.MaxDescriptionLength)
	}
	if len(head) > 0 {
		sniffed := normalizeMime(http.DetectContentType(head))
		if !v.allowed[sniffed] {
			return invalid(ReasonUnsupportedType, "содержимое файла (%s) не является допустимым изображением", sniffed)
		}
	}
	return nil
}

// normalizeMime отбрасывает параметры и приводит к нижнему регистру.
func normalizeMime(mt string) string {
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return strings.ToLower(strings.TrimSpace(mt))
}
