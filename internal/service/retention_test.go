package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/farm-photos/internal/domain/model"
	"github.com/bigkaa/farm-photos/internal/notify"
)

const window = 30 * 24 * time.Hour

// TestRetention_RoundTrip — запрос → подтверждение → восстановление
// возвращает фотографию в approved без дедлайна.
func TestRetention_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.submit(t, "farm-1", "a", 90)

	if _, err := env.retention.RequestDeletion(ctx, p.ID, "owner@farm.example", "коротко"); !errors.Is(err, ErrValidation) {
		t.Fatalf("короткая причина: ожидалась ошибка валидации, получено %v", err)
	}

	env.clock.Advance(time.Minute)
	req, err := env.retention.RequestDeletion(ctx, p.ID, "owner@farm.example", "Фото устарело, ферма перестроена")
	if err != nil {
		t.Fatalf("RequestDeletion: %v", err)
	}
	if req.State != model.StateDeletionRequested || req.DeletionRequestedAt == nil {
		t.Errorf("после запроса: %+v", req)
	}
	if _, err := env.retention.RequestDeletion(ctx, p.ID, "owner@farm.example", "Повторный запрос удаления"); !errors.Is(err, ErrAlreadyDeleted) {
		t.Errorf("повторный запрос: ожидалась ErrAlreadyDeleted, получено %v", err)
	}

	pending, err := env.retention.ListPendingDeletionRequests(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("ListPendingDeletionRequests: %d, %v", len(pending), err)
	}

	confirmed, err := env.retention.ConfirmDeletion(ctx, p.ID, "moderator")
	if err != nil {
		t.Fatalf("ConfirmDeletion: %v", err)
	}
	wantDeadline := env.clock.Now().Add(window)
	if confirmed.PurgeDeadline == nil || !confirmed.PurgeDeadline.Equal(wantDeadline) {
		t.Errorf("PurgeDeadline = %v, ожидалось %v", confirmed.PurgeDeadline, wantDeadline)
	}
	if _, err := env.retention.ConfirmDeletion(ctx, p.ID, "moderator"); !errors.Is(err, ErrAlreadyDeleted) {
		t.Errorf("повторное подтверждение: ожидалась ErrAlreadyDeleted, получено %v", err)
	}
	if _, err := env.gallery.GetPublished(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("удалённая фотография не должна быть видна: %v", err)
	}

	recoverable, err := env.retention.ListRecoverablePhotos(ctx)
	if err != nil || len(recoverable) != 1 {
		t.Fatalf("ListRecoverablePhotos: %d, %v", len(recoverable), err)
	}

	recovered, err := env.retention.Recover(ctx, p.ID, "moderator")
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if recovered.State != model.StateApproved || recovered.PurgeDeadline != nil {
		t.Errorf("после восстановления: состояние %s, дедлайн %v", recovered.State, recovered.PurgeDeadline)
	}
	if _, err := env.gallery.GetPublished(ctx, p.ID); err != nil {
		t.Errorf("восстановленная фотография должна быть видна: %v", err)
	}
	if !env.gateway.has(p.StorageHandle) {
		t.Error("байты восстановленной фотографии удалены")
	}

	env.assertDeadlineInvariant(t)

	kinds := env.publisher.kinds()
	want := []notify.Kind{
		notify.KindSubmissionReceived, notify.KindApproved,
		notify.KindDeletionRequested, notify.KindDeletionConfirmed, notify.KindRecovered,
	}
	if len(kinds) != len(want) {
		t.Fatalf("события = %v, ожидалось %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("событие %d = %s, ожидалось %s", i, kinds[i], want[i])
		}
	}
}

func TestRequestDeletion_NotPublished(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.submit(t, "farm-1", "a", 60)

	_, err := env.retention.RequestDeletion(ctx, p.ID, "owner@farm.example", "Фото устарело, ферма перестроена")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("ожидалась ErrInvalidTransition, получено %v", err)
	}
	if _, err := env.retention.RequestDeletion(ctx, "missing", "owner@farm.example", "Фото устарело, ферма перестроена"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
}

func TestConfirmDeletion_NotRequested(t *testing.T) {
	env := newTestEnv(t)
	p := env.submit(t, "farm-1", "a", 90)

	if _, err := env.retention.ConfirmDeletion(context.Background(), p.ID, "moderator"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("ожидалась ErrInvalidTransition, получено %v", err)
	}
}

// TestTimeline — восстановление на T0+29д успешно; очистка на T0+31д
// переводит в purged, последующее восстановление — WindowExpired.
func TestTimeline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	early := env.softDeleted(t, "early")
	late := env.softDeleted(t, "late")

	env.clock.Set(t0.Add(29 * 24 * time.Hour))
	if _, err := env.retention.Recover(ctx, early.ID, "moderator"); err != nil {
		t.Fatalf("восстановление на T0+29д: %v", err)
	}

	env.clock.Set(t0.Add(31 * 24 * time.Hour))
	res, err := env.purge.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if res.Purged != 1 || res.BytesRemoved != 1 {
		t.Errorf("результат очистки = %+v", res)
	}

	got, _ := env.repo.Get(ctx, late.ID)
	if got.State != model.StatePurged || got.PurgedAt == nil || got.BytesRemovedAt == nil {
		t.Errorf("после очистки: %+v", got)
	}
	if env.gateway.has(late.StorageHandle) {
		t.Error("байты очищенной фотографии не удалены")
	}
	if !env.gateway.has(early.StorageHandle) {
		t.Error("байты восстановленной фотографии удалены")
	}

	if _, err := env.retention.Recover(ctx, late.ID, "moderator"); !errors.Is(err, ErrWindowExpired) {
		t.Errorf("восстановление после очистки: ожидалась ErrWindowExpired, получено %v", err)
	}
	env.assertDeadlineInvariant(t)
}

// TestDeadlineExclusive — ровно в момент дедлайна восстановление невозможно,
// а очистка выполняется.
func TestDeadlineExclusive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.softDeleted(t, "a")

	env.clock.Set(p.PurgeDeadline.Add(-time.Nanosecond))
	if res, _ := env.purge.PurgeExpired(ctx); res.Purged != 0 {
		t.Fatalf("очистка до дедлайна: %+v", res)
	}

	env.clock.Set(*p.PurgeDeadline)
	if _, err := env.retention.Recover(ctx, p.ID, "moderator"); !errors.Is(err, ErrWindowExpired) {
		t.Errorf("восстановление в дедлайн: ожидалась ErrWindowExpired, получено %v", err)
	}
	if res, _ := env.purge.PurgeExpired(ctx); res.Purged != 1 {
		t.Errorf("очистка в дедлайн: %+v", res)
	}
}

// TestRecoverPurgeRace — из конкурирующих восстановления и очистки
// одной записи побеждает ровно одна операция.
func TestRecoverPurgeRace(t *testing.T) {
	for i := range 20 {
		env := newTestEnv(t)
		ctx := context.Background()
		p := env.softDeleted(t, "race")

		// Обе стороны прочитали запись до изменения.
		forRecover, _ := env.repo.Get(ctx, p.ID)
		forPurge, _ := env.repo.Get(ctx, p.ID)

		var (
			wg                 sync.WaitGroup
			recoverErr, purgeErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			recoverErr = env.records.Transition(ctx, forRecover, model.StateApproved, "moderator", nil)
		}()
		go func() {
			defer wg.Done()
			purgeErr = env.records.Transition(ctx, forPurge, model.StatePurged, ActorSystem, func(p *model.PhotoSubmission, now time.Time) {
				p.PurgedAt = &now
			})
		}()
		wg.Wait()

		if (recoverErr == nil) == (purgeErr == nil) {
			t.Fatalf("итерация %d: recover=%v purge=%v, ожидался ровно один успех", i, recoverErr, purgeErr)
		}
		loser := recoverErr
		if loser == nil {
			loser = purgeErr
		}
		if !errors.Is(loser, ErrStateConflict) {
			t.Errorf("итерация %d: проигравший получил %v, ожидалась ErrStateConflict", i, loser)
		}
		env.assertDeadlineInvariant(t)
	}
}

// TestScoreImmutable — однажды установленная оценка не меняется.
func TestScoreImmutable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.submit(t, "farm-1", "a", 60)

	p, err := env.moderation.Review(ctx, p.ID, DecisionApprove, "moderator", "")
	if err != nil {
		t.Fatal(err)
	}
	err = env.records.Transition(ctx, p, model.StateDeletionRequested, "owner", func(p *model.PhotoSubmission, _ time.Time) {
		other := 99
		p.QualityScore = &other
	})
	if err != nil {
		t.Fatal(err)
	}

	got, _ := env.repo.Get(ctx, p.ID)
	if got.QualityScore == nil || *got.QualityScore != 60 {
		t.Errorf("QualityScore = %v, ожидалось 60", got.QualityScore)
	}
}

func TestReview(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.submit(t, "farm-1", "a", 60)

	if _, err := env.moderation.Review(ctx, p.ID, "maybe", "moderator", ""); !errors.Is(err, ErrValidation) {
		t.Errorf("неизвестное решение: %v", err)
	}

	queue, err := env.moderation.Queue(ctx, 0)
	if err != nil || len(queue) != 1 {
		t.Fatalf("Queue: %d, %v", len(queue), err)
	}

	rejected, err := env.moderation.Review(ctx, p.ID, DecisionReject, "moderator", "Размытое фото")
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if rejected.State != model.StateRejected || rejected.ReviewedBy != "moderator" || rejected.DecidedAt == nil {
		t.Errorf("после отклонения: %+v", rejected)
	}

	if _, err := env.moderation.Review(ctx, p.ID, DecisionApprove, "moderator", ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("повторное решение: ожидалась ErrInvalidTransition, получено %v", err)
	}
}
