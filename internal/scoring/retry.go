package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// scoringAttemptsTotal — попытки оценки по результату.
var scoringAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "farmphotos_scoring_attempts_total",
	Help: "Количество попыток оценки качества по результату",
}, []string{"outcome"})

// RetryPolicy — параметры повторов оценки.
type RetryPolicy struct {
	// Attempts — максимум попыток (≥ 1)
	Attempts int
	// InitialInterval — пауза перед второй попыткой, далее растёт экспоненциально
	InitialInterval time.Duration
	// AttemptTimeout — таймаут одной попытки
	AttemptTimeout time.Duration
}

// Retrying — оценщик с ограниченным числом попыток и таймаутом каждой.
type Retrying struct {
	inner  Scorer
	policy RetryPolicy
	logger *slog.Logger
}

// NewRetrying оборачивает оценщик политикой повторов.
func NewRetrying(inner Scorer, policy RetryPolicy, logger *slog.Logger) *Retrying {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = 500 * time.Millisecond
	}
	return &Retrying{
		inner:  inner,
		policy: policy,
		logger: logger.With(slog.String("component", "scoring")),
	}
}

// Score выполняет до Attempts попыток. Ошибка всегда оборачивает ErrUnavailable.
// Таймаут попытки считается обычным отказом.
func (r *Retrying) Score(ctx context.Context, req Request) (int, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.policy.InitialInterval
	exp.MaxElapsedTime = 0
	bo := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(r.policy.Attempts-1)), ctx)

	attempt := 0
	var score int
	operation := func() error {
		attempt++
		attemptCtx := ctx
		if r.policy.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, r.policy.AttemptTimeout)
			defer cancel()
		}

		s, err := r.inner.Score(attemptCtx, req)
		if err == nil {
			if rangeErr := checkRange(s); rangeErr != nil {
				err = rangeErr
			}
		}
		if err != nil {
			scoringAttemptsTotal.WithLabelValues(outcomeOf(attemptCtx, err)).Inc()
			r.logger.Warn("Попытка оценки не удалась",
				slog.String("photo_id", req.PhotoID),
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", r.policy.Attempts),
				slog.String("error", err.Error()),
			)
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}

		scoringAttemptsTotal.WithLabelValues("ok").Inc()
		score = s
		return nil
	}

	if err := backoff.Retry(operation, bo); err != nil {
		if errors.Is(err, ErrUnavailable) {
			return 0, fmt.Errorf("после %d попыток: %w", attempt, err)
		}
		return 0, fmt.Errorf("%w: после %d попыток: %v", ErrUnavailable, attempt, err)
	}
	return score, nil
}

func outcomeOf(ctx context.Context, err error) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}
