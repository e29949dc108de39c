// Пакет policy — пороги автоматической модерации.
//
// Пороги читаются из окружения при старте и, если задан YAML-файл,
// перечитываются при его изменении без перезапуска сервиса.
// Читатели получают снимок через Store.Current: атомарная замена указателя,
// снимок неизменяем.
package policy

import (
	"fmt"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/bigkaa/farm-photos/internal/config"
	"github.com/bigkaa/farm-photos/internal/domain/model"
)

// Thresholds — пороги решения по оценке качества.
type Thresholds struct {
	// AutoApprove — оценка ≥ порога публикуется автоматически
	AutoApprove int `yaml:"auto_approve_threshold"`
	// MinQuality — оценка < порога отклоняется
	MinQuality int `yaml:"min_quality_score"`
}

// Validate проверяет диапазоны и порядок порогов.
func (t Thresholds) Validate() error {
	return config.ValidateThresholds(t.AutoApprove, t.MinQuality)
}

// Decide отображает оценку в результат модерации:
// score ≥ AutoApprove → auto_approved, score < MinQuality → rejected,
// иначе pending_review.
func (t Thresholds) Decide(score int) model.State {
	switch {
	case score >= t.AutoApprove:
		return model.StateAutoApproved
	case score < t.MinQuality:
		return model.StateRejected
	default:
		return model.StatePendingReview
	}
}

// Store хранит текущие пороги.
type Store struct {
	current atomic.Pointer[Thresholds]
}

// NewStore создаёт Store с начальными порогами.
func NewStore(initial Thresholds) (*Store, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	s := &Store{}
	s.current.Store(&initial)
	return s, nil
}

// Current возвращает снимок текущих порогов.
func (s *Store) Current() Thresholds {
	return *s.current.Load()
}

// Replace заменяет пороги после валидации. Некорректные пороги отклоняются,
// текущие остаются в силе.
func (s *Store) Replace(t Thresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.current.Store(&t)
	return nil
}

// LoadFile читает пороги из YAML-файла. Отсутствующие в файле поля
// берутся из base.
func LoadFile(path string, base Thresholds) (Thresholds, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Thresholds{}, fmt.Errorf("чтение файла политики %s: %w", path, err)
	}

	t := base
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Thresholds{}, fmt.Errorf("разбор файла политики %s: %w", path, err)
	}
	if err := t.Validate(); err != nil {
		return Thresholds{}, fmt.Errorf("файл политики %s: %w", path, err)
	}
	return t, nil
}
