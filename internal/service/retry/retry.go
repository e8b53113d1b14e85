// Package retry реализует повтор операций с экспоненциальной задержкой.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/order-consumer/internal/domain"
)

// ErrAttemptsExhausted — операция не удалась после всех попыток.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Config конфигурация для retry логики.
type Config struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   5,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

func (c Config) normalized() Config {
	defaults := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaults.MaxDelay
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = defaults.BackoffFactor
	}
	return c
}

// Delay возвращает задержку перед попыткой attempt+1.
func (c Config) Delay(attempt int) time.Duration {
	c = c.normalized()
	delay := c.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * c.BackoffFactor)
		if delay >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}

// Notifier вызывается перед каждой повторной попыткой.
type Notifier func(operation string, attempt int, err error)

// Retrier повторяет операции, пока ошибка считается временной.
type Retrier struct {
	config      Config
	logger      *log.Entry
	shouldRetry func(error) bool
	notify      Notifier
	sleep       func(ctx context.Context, d time.Duration) error
}

// New создаёт Retrier. По умолчанию повторяются ошибки domain.IsRetryable.
func New(config Config, logger *log.Entry) *Retrier {
	if logger == nil {
		logger = log.New().WithField("component", "retry")
	}

	return &Retrier{
		config:      config.normalized(),
		logger:      logger,
		shouldRetry: domain.IsRetryable,
		sleep:       sleepContext,
	}
}

// WithNotifier задаёт обработчик повторов (например, для метрик).
func (r *Retrier) WithNotifier(n Notifier) *Retrier {
	r.notify = n
	return r
}

// WithShouldRetry переопределяет классификацию ошибок.
func (r *Retrier) WithShouldRetry(fn func(error) bool) *Retrier {
	if fn != nil {
		r.shouldRetry = fn
	}
	return r
}

// Config возвращает нормализованную конфигурацию.
func (r *Retrier) Config() Config {
	return r.config
}

// Do выполняет fn, повторяя временные ошибки. Возвращает число сделанных попыток.
// Невременная ошибка возвращается сразу, исчерпание оборачивается в ErrAttemptsExhausted.
func (r *Retrier) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) (int, error) {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.WithFields(log.Fields{
					"operation": operation,
					"attempt":   attempt,
				}).Info("Operation succeeded after retry")
			}
			return attempt, nil
		}

		lastErr = err

		if !r.shouldRetry(err) {
			return attempt, err
		}

		if attempt == r.config.MaxAttempts {
			break
		}

		delay := r.config.Delay(attempt)
		r.logger.WithFields(log.Fields{
			"operation": operation,
			"attempt":   attempt,
			"delay":     delay,
		}).WithError(err).Warn("Operation failed, retrying")

		if r.notify != nil {
			r.notify(operation, attempt, err)
		}

		if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
			return attempt, fmt.Errorf("%s interrupted: %w", operation, errors.Join(sleepErr, lastErr))
		}
	}

	r.logger.WithFields(log.Fields{
		"operation":    operation,
		"max_attempts": r.config.MaxAttempts,
	}).WithError(lastErr).Error("Operation failed after all retry attempts")

	return r.config.MaxAttempts, fmt.Errorf("%s: %w after %d attempts: %w", operation, ErrAttemptsExhausted, r.config.MaxAttempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
