// Пакет lifecycle — конечный автомат жизненного цикла фотографии.
//
// Два участка:
//   - модерация: received → scoring → {auto_approved | pending_review | rejected},
//     pending_review → {approved | rejected}
//   - хранение: {auto_approved | approved} → deletion_requested → soft_deleted → purged
//     Единственный обратный переход: soft_deleted → approved (восстановление),
//     допустим только до purge_deadline — проверяется вызывающим кодом.
//
// Автомат не хранит состояние: запись в хранилище — единственный источник истины,
// здесь только матрица переходов.
package lifecycle

import (
	"fmt"

	"github.com/bigkaa/farm-photos/internal/domain/model"
)

// Коды ошибок перехода.
const (
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeUnknownState      = "UNKNOWN_STATE"
)

// validTransitions — матрица допустимых переходов.
// Ключ — текущее состояние, значение — набор допустимых целевых состояний.
var validTransitions = map[model.State]map[model.State]bool{
	model.StateReceived: {model.StateScoring: true},
	model.StateScoring: {
		model.StateAutoApproved:  true,
		model.StatePendingReview: true,
		model.StateRejected:      true,
	},
	model.StatePendingReview: {
		model.StateApproved: true,
		model.StateRejected: true,
	},
	model.StateAutoApproved:      {model.StateDeletionRequested: true},
	model.StateApproved:          {model.StateDeletionRequested: true},
	model.StateDeletionRequested: {model.StateSoftDeleted: true},
	model.StateSoftDeleted:       {model.StatePurged: true, model.StateApproved: true},
	model.StateRejected:          {}, // Конечное состояние
	model.StatePurged:            {}, // Конечное состояние, запись остаётся для аудита
}

// backTransitions — обратные переходы, требующие проверки дедлайна.
var backTransitions = map[model.State]map[model.State]bool{
	model.StateSoftDeleted: {model.StateApproved: true},
}

// CanTransition проверяет, допустим ли переход from → to.
func CanTransition(from, to model.State) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsRecovery возвращает true для обратного перехода soft_deleted → approved.
func IsRecovery(from, to model.State) bool {
	targets, ok := backTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal проверяет, что из состояния нет переходов.
func IsTerminal(s model.State) bool {
	return len(validTransitions[s]) == 0
}

// Check возвращает *TransitionError, если переход from → to недопустим.
func Check(from, to model.State) error {
	if !from.IsValid() {
		return &TransitionError{
			Code:    CodeUnknownState,
			From:    from,
			To:      to,
			Message: fmt.Sprintf("неизвестное текущее состояние: %q", from),
		}
	}
	if !to.IsValid() {
		return &TransitionError{
			Code:    CodeUnknownState,
			From:    from,
			To:      to,
			Message: fmt.Sprintf("неизвестное целевое состояние: %q", to),
		}
	}
	if !CanTransition(from, to) {
		return &TransitionError{
			Code:    CodeInvalidTransition,
			From:    from,
			To:      to,
			Message: fmt.Sprintf("переход %s → %s недопустим", from, to),
		}
	}
	return nil
}

// Targets возвращает допустимые целевые состояния для from.
func Targets(from model.State) []model.State {
	result := make([]model.State, 0, len(validTransitions[from]))
	for _, st := range model.AllStates {
		if validTransitions[from][st] {
			result = append(result, st)
		}
	}
	return result
}

// ParseState преобразует строку в model.State.
func ParseState(s string) (model.State, error) {
	st := model.State(s)
	if !st.IsValid() {
		return "", fmt.Errorf("недопустимое состояние: %q", s)
	}
	return st, nil
}

// TransitionError — ошибка перехода между состояниями.
type TransitionError struct {
	Code    string // Машиночитаемый код (INVALID_TRANSITION, UNKNOWN_STATE)
	From    model.State
	To      model.State
	Message string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
