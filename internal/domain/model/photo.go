// Пакет model — доменные модели сервиса фотографий ферм.
// PhotoSubmission — единая запись жизненного цикла фотографии:
// от приёма и модерации до мягкого удаления и окончательной очистки.
package model

import (
	"time"
)

// State — состояние фотографии в жизненном цикле.
type State string

const (
	// StateReceived — фотография принята, байты сохранены
	StateReceived State = "received"
	// StateScoring — выполняется автоматическая оценка качества
	StateScoring State = "scoring"
	// StateAutoApproved — опубликована автоматически (оценка выше порога)
	StateAutoApproved State = "auto_approved"
	// StatePendingReview — ожидает решения модератора
	StatePendingReview State = "pending_review"
	// StateApproved — опубликована модератором (или восстановлена)
	StateApproved State = "approved"
	// StateRejected — отклонена
	StateRejected State = "rejected"
	// StateDeletionRequested — запрошено удаление, ожидает подтверждения
	StateDeletionRequested State = "deletion_requested"
	// StateSoftDeleted — скрыта, доступна для восстановления до PurgeDeadline
	StateSoftDeleted State = "soft_deleted"
	// StatePurged — байты удалены, запись сохраняется для аудита
	StatePurged State = "purged"
)

// AllStates — все состояния в порядке жизненного цикла.
var AllStates = []State{
	StateReceived,
	StateScoring,
	StateAutoApproved,
	StatePendingReview,
	StateApproved,
	StateRejected,
	StateDeletionRequested,
	StateSoftDeleted,
	StatePurged,
}

// IsValid проверяет, является ли значение допустимым состоянием.
func (s State) IsValid() bool {
	for _, st := range AllStates {
		if s == st {
			return true
		}
	}
	return false
}

// IsPublished — auto_approved и approved сходятся в единый статус «опубликована».
func (s State) IsPublished() bool {
	return s == StateAutoApproved || s == StateApproved
}

// IsLive — запись участвует в проверке дубликатов (не purged и не rejected).
func (s State) IsLive() bool {
	return s != StatePurged && s != StateRejected
}

// LiveStates возвращает состояния, для которых IsLive истинно.
func LiveStates() []State {
	live := make([]State, 0, len(AllStates))
	for _, st := range AllStates {
		if st.IsLive() {
			live = append(live, st)
		}
	}
	return live
}

// PhotoSubmission — фотография, присланная пользователем, вместе с метаданными.
type PhotoSubmission struct {
	// ID — уникальный идентификатор (UUID v4), генерируется при приёме
	ID string `json:"id"`

	// SubmitterID — email или идентификатор сессии отправителя
	SubmitterID string `json:"submitter_id"`
	// SubmitterName — имя отправителя (опционально)
	SubmitterName string `json:"submitter_name,omitempty"`

	// FarmID — ссылка на ферму (не принадлежит сервису)
	FarmID string `json:"farm_id"`

	MimeType    string `json:"mime_type"`
	SizeBytes   int64  `json:"size_bytes"`
	Description string `json:"description,omitempty"`

	// ContentHash — SHA-256 содержимого, участвует в уникальности (farm_id, content_hash)
	ContentHash string `json:"content_hash"`
	// StorageHandle — ключ объекта в Storage Gateway. Не возвращается в API.
	StorageHandle string `json:"-"`

	// QualityScore — оценка 0..100, nil пока не оценена.
	// Устанавливается не более одного раза.
	QualityScore *int `json:"quality_score,omitempty"`

	State State `json:"state"`

	SubmittedAt  time.Time  `json:"submitted_at"`
	DecidedAt    *time.Time `json:"decided_at,omitempty"`
	ReviewedBy   string     `json:"reviewed_by,omitempty"`
	ReviewerNote string     `json:"reviewer_note,omitempty"`

	DeletionRequestedAt *time.Time `json:"deletion_requested_at,omitempty"`
	DeletionRequestedBy string     `json:"deletion_requested_by,omitempty"`
	DeletionReason      string     `json:"deletion_reason,omitempty"`

	// PurgeDeadline задан тогда и только тогда, когда State == soft_deleted
	PurgeDeadline *time.Time `json:"purge_deadline,omitempty"`

	PurgedAt *time.Time `json:"purged_at,omitempty"`
	// BytesRemovedAt — момент удаления байтов из хранилища.
	// nil у purged записи означает, что удаление нужно повторить.
	BytesRemovedAt *time.Time `json:"-"`

	// Version — счётчик для оптимистичной блокировки
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsPublished проверяет, что фотография опубликована.
func (p *PhotoSubmission) IsPublished() bool {
	return p.State.IsPublished()
}

// IsRecoverable проверяет, можно ли восстановить фотографию в момент now.
// Дедлайн не включается: восстановление ровно в PurgeDeadline уже невозможно.
func (p *PhotoSubmission) IsRecoverable(now time.Time) bool {
	if p.State != StateSoftDeleted || p.PurgeDeadline == nil {
		return false
	}
	return now.Before(*p.PurgeDeadline)
}

// IsPurgeDue проверяет, истекло ли окно восстановления.
func (p *PhotoSubmission) IsPurgeDue(now time.Time) bool {
	if p.State != StateSoftDeleted || p.PurgeDeadline == nil {
		return false
	}
	return !now.Before(*p.PurgeDeadline)
}

// Clone возвращает глубокую копию записи.
func (p *PhotoSubmission) Clone() *PhotoSubmission {
	c := *p
	c.QualityScore = cloneInt(p.QualityScore)
	c.DecidedAt = cloneTime(p.DecidedAt)
	c.DeletionRequestedAt = cloneTime(p.DeletionRequestedAt)
	c.PurgeDeadline = cloneTime(p.PurgeDeadline)
	c.PurgedAt = cloneTime(p.PurgedAt)
	c.BytesRemovedAt = cloneTime(p.BytesRemovedAt)
	return &c
}

// TransitionRecord — запись аудита о переходе между состояниями.
type TransitionRecord struct {
	PhotoID   string    `json:"photo_id"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
