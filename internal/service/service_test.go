package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/farm-photos/internal/domain/model"
	"github.com/bigkaa/farm-photos/internal/notify"
	"github.com/bigkaa/farm-photos/internal/policy"
	"github.com/bigkaa/farm-photos/internal/ratelimit"
	"github.com/bigkaa/farm-photos/internal/repository"
	"github.com/bigkaa/farm-photos/internal/scoring"
	"github.com/bigkaa/farm-photos/internal/storage"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testClock — управляемые часы.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memGateway — Storage Gateway в памяти с управляемыми сбоями записи и удаления.
type memGateway struct {
	mu          sync.Mutex
	objects     map[string][]byte
	failPuts    int
	failDeletes int
	deleteCalls int
}

func newMemGateway() *memGateway {
	return &memGateway{objects: make(map[string][]byte)}
}

func (g *memGateway) Put(_ context.Context, data []byte, meta storage.ObjectMeta) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failPuts > 0 {
		g.failPuts--
		return "", errors.New("хранилище недоступно")
	}
	handle := storage.Handle(meta)
	g.objects[handle] = bytes.Clone(data)
	return handle, nil
}

func (g *memGateway) Get(_ context.Context, handle string) (io.ReadCloser, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	data, ok := g.objects[handle]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (g *memGateway) Delete(_ context.Context, handle string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleteCalls++
	if g.failDeletes > 0 {
		g.failDeletes--
		return errors.New("хранилище недоступно")
	}
	delete(g.objects, handle)
	return nil
}

func (g *memGateway) has(handle string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.objects[handle]
	return ok
}

func (g *memGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.objects)
}

// recordingPublisher запоминает опубликованные события.
type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e notify.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) kinds() []notify.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]notify.Kind, len(p.events))
	for i, e := range p.events {
		out[i] = e.Kind
	}
	return out
}

// stubScorer — оценщик с управляемым результатом.
type stubScorer struct {
	mu    sync.Mutex
	score int
	err   error
	calls int
}

func (s *stubScorer) Score(context.Context, scoring.Request) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.score, s.err
}

func (s *stubScorer) set(score int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.score, s.err = score, err
}

// testEnv — сервисы поверх in-memory зависимостей.
type testEnv struct {
	clock      *testClock
	repo       *repository.MemoryRepository
	records    *Records
	cache      *PhotoCache
	gateway    *memGateway
	publisher  *recordingPublisher
	scorer     *stubScorer
	moderation *ModerationService
	ingest     *IngestService
	retention  *RetentionService
	purge      *PurgeService
	gallery    *GalleryService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := testLogger()

	env := &testEnv{
		clock:     &testClock{now: t0},
		repo:      repository.NewMemoryRepository(),
		cache:     NewPhotoCache(100, time.Hour),
		gateway:   newMemGateway(),
		publisher: &recordingPublisher{},
		scorer:    &stubScorer{score: 70},
	}
	env.records = NewRecords(env.repo, env.cache)
	env.records.SetClock(env.clock.Now)

	thresholds, err := policy.NewStore(policy.Thresholds{AutoApprove: 85, MinQuality: 50})
	if err != nil {
		t.Fatal(err)
	}
	limiter, err := ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.Limits{PerHour: 10, PerDay: 50})
	if err != nil {
		t.Fatal(err)
	}
	limiter.SetClock(env.clock.Now)

	dispatcher := notify.NewDispatcher(env.publisher, "admin@example.com", logger)
	retrying := scoring.NewRetrying(env.scorer, scoring.RetryPolicy{
		Attempts:        3,
		InitialInterval: time.Millisecond,
		AttemptTimeout:  time.Second,
	}, logger)
	deletePolicy := storage.DeletePolicy{Attempts: 2, InitialBackoff: time.Millisecond}

	env.moderation = NewModerationService(env.records, thresholds, retrying, dispatcher, logger)
	env.ingest = NewIngestService(env.records, NewValidator(ValidationLimits{
		MaxFileSize:          5 << 20,
		AllowedMimeTypes:     []string{"image/jpeg", "image/png", "image/webp"},
		MaxDescriptionLength: 500,
	}), limiter, env.gateway, env.moderation, dispatcher, deletePolicy, logger)
	env.retention = NewRetentionService(env.records, 30*24*time.Hour, dispatcher, logger)
	env.purge = NewPurgeService(env.records, env.gateway, env.moderation, nil, dispatcher, PurgeConfig{
		Schedule:   "@every 1h",
		BatchSize:  100,
		StuckAfter: 15 * time.Minute,
		Delete:     deletePolicy,
	}, logger)
	env.gallery = NewGalleryService(env.records, env.cache, env.gateway, logger)
	return env
}

// jpeg возвращает содержимое с сигнатурой JPEG; seed делает хеш уникальным.
func jpeg(seed string) []byte {
	return append([]byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00"), seed...)
}

func (e *testEnv) submit(t *testing.T, farm, seed string, score int) *model.PhotoSubmission {
	t.Helper()
	e.scorer.set(score, nil)
	p, err := e.ingest.Submit(context.Background(), SubmitRequest{
		FarmID:      farm,
		SubmitterID: "anna@example.com",
		MimeType:    "image/jpeg",
		Description: "Поле подсолнухов",
		Content:     jpeg(seed),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return p
}

// softDeleted проводит опубликованную фотографию до soft_deleted в момент clock.
func (e *testEnv) softDeleted(t *testing.T, seed string) *model.PhotoSubmission {
	t.Helper()
	ctx := context.Background()
	p := e.submit(t, "farm-1", seed, 90)
	if _, err := e.retention.RequestDeletion(ctx, p.ID, "owner@farm.example", "Фото устарело, ферма перестроена"); err != nil {
		t.Fatalf("RequestDeletion: %v", err)
	}
	p, err := e.retention.ConfirmDeletion(ctx, p.ID, "moderator")
	if err != nil {
		t.Fatalf("ConfirmDeletion: %v", err)
	}
	return p
}

// assertDeadlineInvariant — purge_deadline задан тогда и только тогда, когда soft_deleted.
func (e *testEnv) assertDeadlineInvariant(t *testing.T) {
	t.Helper()
	all, err := e.repo.List(context.Background(), repository.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range all {
		if (p.State == model.StateSoftDeleted) != (p.PurgeDeadline != nil) {
			t.Errorf("запись %s: состояние %s, purge_deadline %v", p.ID, p.State, p.PurgeDeadline)
		}
	}
}
