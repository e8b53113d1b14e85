package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/order-consumer/internal/domain"
)

func newTestRetrier(cfg Config) (*Retrier, *[]time.Duration) {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)

	r := New(cfg, logger.WithField("component", "retry-test"))
	delays := make([]time.Duration, 0)
	r.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return r, &delays
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, 5*time.Second, cfg.MaxDelay)
	assert.Equal(t, 2.0, cfg.BackoffFactor)
}

func TestConfig_DelayIsCapped(t *testing.T) {
	cfg := Config{MaxAttempts: 10, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2}

	assert.Equal(t, 100*time.Millisecond, cfg.Delay(1))
	assert.Equal(t, 200*time.Millisecond, cfg.Delay(2))
	assert.Equal(t, 400*time.Millisecond, cfg.Delay(3))
	assert.Equal(t, 800*time.Millisecond, cfg.Delay(4))
	assert.Equal(t, time.Second, cfg.Delay(5))
	assert.Equal(t, time.Second, cfg.Delay(50))
}

func TestRetrier_SucceedsAfterTransientErrors(t *testing.T) {
	r, delays := newTestRetrier(Config{MaxAttempts: 5, InitialDelay: 10 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2})

	var notified []int
	r.WithNotifier(func(_ string, attempt int, _ error) { notified = append(notified, attempt) })

	calls := 0
	attempts, err := r.Do(context.Background(), "persist", func(context.Context) error {
		calls++
		if calls < 3 {
			return domain.ErrStoreUnavailable
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, *delays)
	assert.Equal(t, []int{1, 2}, notified)
}

func TestRetrier_NonRetryableReturnsImmediately(t *testing.T) {
	r, delays := newTestRetrier(DefaultConfig())

	calls := 0
	attempts, err := r.Do(context.Background(), "persist", func(context.Context) error {
		calls++
		return domain.ErrInvalidOrder
	})

	require.ErrorIs(t, err, domain.ErrInvalidOrder)
	assert.False(t, errors.Is(err, ErrAttemptsExhausted))
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *delays)
}

func TestRetrier_Exhausted(t *testing.T) {
	r, delays := newTestRetrier(Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2})

	attempts, err := r.Do(context.Background(), "commit", func(context.Context) error {
		return domain.ErrStoreUnavailable
	})

	require.ErrorIs(t, err, ErrAttemptsExhausted)
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Equal(t, 3, attempts)
	assert.Len(t, *delays, 2)
}

func TestRetrier_ContextCancelledDuringBackoff(t *testing.T) {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	r := New(Config{MaxAttempts: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, BackoffFactor: 2}, logger.WithField("component", "retry-test"))

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	attempts, err := r.Do(ctx, "commit", func(context.Context) error {
		calls++
		cancel()
		return domain.ErrStoreUnavailable
	})

	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestRetrier_CustomShouldRetry(t *testing.T) {
	r, _ := newTestRetrier(Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2})
	r.WithShouldRetry(func(error) bool { return true })

	sentinel := errors.New("boom")
	attempts, err := r.Do(context.Background(), "op", func(context.Context) error { return sentinel })

	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 2, attempts)
}

func TestRetrier_NormalizesConfig(t *testing.T) {
	r := New(Config{}, nil)
	cfg := r.Config()

	assert.Equal(t, DefaultConfig().MaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, DefaultConfig().MaxDelay, cfg.MaxDelay)
	assert.Equal(t, DefaultConfig().BackoffFactor, cfg.BackoffFactor)
}
