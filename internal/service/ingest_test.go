package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/farm-photos/internal/domain/model"
	"github.com/bigkaa/farm-photos/internal/notify"
)

func TestValidator(t *testing.T) {
	v := NewValidator(ValidationLimits{
		MaxFileSize:          1024,
		AllowedMimeTypes:     []string{"image/jpeg", "image/png", "image/webp"},
		MaxDescriptionLength: 10,
	})

	tests := []struct {
		name        string
		mime        string
		size        int64
		head        []byte
		description string
		reason      string
	}{
		{name: "допустимый jpeg", mime: "image/jpeg", size: 100, head: jpeg("x")},
		{name: "тип с параметрами", mime: "Image/JPEG; charset=binary", size: 100},
		{name: "gif не поддерживается", mime: "image/gif", size: 100, reason: ReasonUnsupportedType},
		{name: "ровно максимум", mime: "image/png", size: 1024},
		{name: "больше максимума", mime: "image/png", size: 1025, reason: ReasonFileTooLarge},
		{name: "пустой файл", mime: "image/png", size: 0, reason: ReasonEmptyFile},
		{name: "описание 10 символов кириллицей", mime: "image/webp", size: 1, description: "десятьбукв"},
		{name: "описание длиннее", mime: "image/webp", size: 1, description: "одиннадцать", reason: ReasonDescriptionTooLong},
		{name: "содержимое не изображение", mime: "image/jpeg", size: 100, head: []byte("<html>"), reason: ReasonUnsupportedType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.mime, tt.size, tt.head, tt.description)
			if tt.reason == "" {
				if err != nil {
					t.Fatalf("неожиданная ошибка: %v", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("ожидалась *ValidationError, получено %v", err)
			}
			if ve.Reason != tt.reason {
				t.Errorf("Reason = %s, ожидалась %s", ve.Reason, tt.reason)
			}
			if !errors.Is(err, ErrValidation) {
				t.Error("errors.Is(err, ErrValidation) = false")
			}
		})
	}
}

// TestSubmit_Decisions — оценка определяет итоговое состояние.
func TestSubmit_Decisions(t *testing.T) {
	tests := []struct {
		score int
		want  model.State
	}{
		{score: 90, want: model.StateAutoApproved},
		{score: 85, want: model.StateAutoApproved},
		{score: 84, want: model.StatePendingReview},
		{score: 60, want: model.StatePendingReview},
		{score: 50, want: model.StatePendingReview},
		{score: 49, want: model.StateRejected},
		{score: 40, want: model.StateRejected},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("оценка %d", tt.score), func(t *testing.T) {
			env := newTestEnv(t)
			p := env.submit(t, "farm-1", "seed", tt.score)

			if p.State != tt.want {
				t.Errorf("оценка %d: состояние %s, ожидалось %s", tt.score, p.State, tt.want)
			}
			if p.QualityScore == nil || *p.QualityScore != tt.score {
				t.Errorf("QualityScore = %v, ожидалось %d", p.QualityScore, tt.score)
			}

			history, err := env.repo.Transitions(context.Background(), p.ID)
			if err != nil {
				t.Fatal(err)
			}
			if len(history) != 3 || history[1].To != model.StateScoring || history[2].To != tt.want {
				t.Errorf("история переходов = %+v", history)
			}
		})
	}
}

// TestSubmit_ScoringFailure — сбой оценщика никогда не отклоняет фотографию.
func TestSubmit_ScoringFailure(t *testing.T) {
	env := newTestEnv(t)
	env.scorer.set(0, errors.New("scorer down"))

	p, err := env.ingest.Submit(context.Background(), SubmitRequest{
		FarmID:      "farm-1",
		SubmitterID: "anna@example.com",
		MimeType:    "image/jpeg",
		Content:     jpeg("a"),
	})
	if err != nil {
		t.Fatalf("сбой оценки не должен возвращаться отправителю: %v", err)
	}
	if p.State != model.StatePendingReview {
		t.Errorf("состояние %s, ожидалось pending_review", p.State)
	}
	if p.QualityScore != nil {
		t.Errorf("оценка не должна быть установлена: %d", *p.QualityScore)
	}
	if env.scorer.calls != 3 {
		t.Errorf("попыток оценки %d, ожидалось 3", env.scorer.calls)
	}
}

// TestSubmit_BypassIgnored — запрос обхода оценки игнорируется.
func TestSubmit_BypassIgnored(t *testing.T) {
	env := newTestEnv(t)
	env.scorer.set(40, nil)

	p, err := env.ingest.Submit(context.Background(), SubmitRequest{
		FarmID:      "farm-1",
		SubmitterID: "anna@example.com",
		MimeType:    "image/jpeg",
		Content:     jpeg("a"),
		SkipScoring: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if p.State != model.StateRejected || env.scorer.calls != 1 {
		t.Errorf("состояние %s, вызовов оценщика %d", p.State, env.scorer.calls)
	}
}

// TestSubmit_RateLimit — неудачная валидация не учитывается, 11-я отправка за час отклоняется.
func TestSubmit_RateLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.clock.Set(t0.Add(5 * time.Minute))

	_, err := env.ingest.Submit(ctx, SubmitRequest{
		FarmID: "farm-1", SubmitterID: "anna@example.com", MimeType: "image/gif", Content: []byte("GIF89a"),
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ожидалась ошибка валидации, получено %v", err)
	}

	for i := range 10 {
		env.submit(t, "farm-1", strings.Repeat("x", i+1), 70)
	}

	_, err = env.ingest.Submit(ctx, SubmitRequest{
		FarmID: "farm-1", SubmitterID: "anna@example.com", MimeType: "image/jpeg", Content: jpeg("eleventh"),
	})
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("ожидалась *RateLimitError, получено %v", err)
	}
	if rle.RetryAfter != 55*time.Minute {
		t.Errorf("RetryAfter = %s, ожидалось 55m", rle.RetryAfter)
	}
	if env.gateway.count() != 10 {
		t.Errorf("в хранилище %d объектов, ожидалось 10", env.gateway.count())
	}
}

// TestSubmit_Duplicate — повторная отправка того же содержимого для фермы
// отклоняется до сохранения байтов.
func TestSubmit_Duplicate(t *testing.T) {
	env := newTestEnv(t)
	env.submit(t, "farm-1", "same", 70)

	_, err := env.ingest.Submit(context.Background(), SubmitRequest{
		FarmID: "farm-1", SubmitterID: "boris@example.com", MimeType: "image/jpeg", Content: jpeg("same"),
	})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("ожидалась ErrDuplicate, получено %v", err)
	}
	if env.gateway.count() != 1 {
		t.Errorf("в хранилище %d объектов, ожидался 1", env.gateway.count())
	}

	// Та же фотография для другой фермы допустима.
	env.submit(t, "farm-2", "same", 70)
}

// TestSubmit_DuplicatesKeepQuota — дубликаты не расходуют часовой лимит.
func TestSubmit_DuplicatesKeepQuota(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.clock.Set(t0.Add(5 * time.Minute))

	env.submit(t, "farm-1", "barn", 70)
	for i := range 9 {
		_, err := env.ingest.Submit(ctx, SubmitRequest{
			FarmID: "farm-1", SubmitterID: "anna@example.com", MimeType: "image/jpeg", Content: jpeg("barn"),
		})
		if !errors.Is(err, ErrDuplicate) {
			t.Fatalf("повтор %d: ожидалась ErrDuplicate, получено %v", i+1, err)
		}
	}

	// Лимит 10 в час: после одной принятой доступны ещё 9 новых фотографий.
	for i := range 9 {
		env.submit(t, "farm-1", fmt.Sprintf("field-%d", i), 70)
	}
	_, err := env.ingest.Submit(ctx, SubmitRequest{
		FarmID: "farm-1", SubmitterID: "anna@example.com", MimeType: "image/jpeg", Content: jpeg("one-too-many"),
	})
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("ожидалась *RateLimitError, получено %v", err)
	}
}

// TestSubmit_StorageFailureReleasesQuota — отказ хранилища возвращает квоту.
func TestSubmit_StorageFailureReleasesQuota(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.gateway.failPuts = 10

	for i := range 10 {
		_, err := env.ingest.Submit(ctx, SubmitRequest{
			FarmID: "farm-1", SubmitterID: "anna@example.com", MimeType: "image/jpeg", Content: jpeg(fmt.Sprintf("lost-%d", i)),
		})
		if !errors.Is(err, ErrStorageUnavailable) {
			t.Fatalf("попытка %d: ожидалась ErrStorageUnavailable, получено %v", i+1, err)
		}
	}

	p := env.submit(t, "farm-1", "saved", 70)
	if !env.gateway.has(p.StorageHandle) {
		t.Error("байты принятой фотографии не сохранены")
	}
}

func TestSubmit_MissingFields(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.ingest.Submit(context.Background(), SubmitRequest{MimeType: "image/jpeg", Content: jpeg("a")})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Reason != ReasonMissingField {
		t.Errorf("ожидалась MISSING_FIELD, получено %v", err)
	}
}

func TestSubmit_Notifications(t *testing.T) {
	env := newTestEnv(t)
	env.submit(t, "farm-1", "a", 90)

	kinds := env.publisher.kinds()
	if len(kinds) != 2 || kinds[0] != notify.KindSubmissionReceived || kinds[1] != notify.KindApproved {
		t.Errorf("события = %v", kinds)
	}
	first := env.publisher.events[0]
	if len(first.Recipients) != 2 || first.Recipients[1] != "admin@example.com" {
		t.Errorf("получатели = %v", first.Recipients)
	}
}
