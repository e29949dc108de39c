// Пакет scoring — оценка качества фотографий (0..100).
//
// Оценщик — внешняя возможность: HTTP-сервис или детерминированная
// реализация для тестов и локальной разработки. Любая ошибка оценщика
// приводится к ErrUnavailable; решение о ручной модерации принимает
// вызывающий код.
package scoring

import (
	"context"
	"errors"
	"fmt"
)

// Границы допустимой оценки.
const (
	MinScore = 0
	MaxScore = 100
)

// ErrUnavailable — оценка не получена (ошибка, таймаут, некорректный ответ).
var ErrUnavailable = errors.New("оценка качества недоступна")

// Request — данные фотографии для оценки.
type Request struct {
	PhotoID     string
	FarmID      string
	MimeType    string
	Description string
	Content     []byte
}

// Scorer — оценщик качества.
type Scorer interface {
	Score(ctx context.Context, req Request) (int, error)
}

// ScorerFunc — адаптер функции к Scorer.
type ScorerFunc func(ctx context.Context, req Request) (int, error)

// Score вызывает f.
func (f ScorerFunc) Score(ctx context.Context, req Request) (int, error) {
	return f(ctx, req)
}

// Static всегда возвращает одну и ту же оценку.
type Static struct {
	Value int
}

// Score реализует Scorer.
func (s Static) Score(ctx context.Context, _ Request) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := checkRange(s.Value); err != nil {
		return 0, err
	}
	return s.Value, nil
}

// checkRange — оценка вне 0..100 считается отказом оценщика.
func checkRange(score int) error {
	if score < MinScore || score > MaxScore {
		return fmt.Errorf("%w: оценка %d вне диапазона %d-%d", ErrUnavailable, score, MinScore, MaxScore)
	}
	return nil
}
