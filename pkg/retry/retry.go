// Package retry - повтор операций с экспоненциальной задержкой.
//
// Используется для идемпотентных запросов к брокеру (статус ордера, позиции,
// баланс) и синхронизации ордеров. Размещение ордера через retry не проходит:
// одна попытка, при ошибке ордер отклоняется.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config конфигурация повторов
//
// delay = min(InitialDelay * Multiplier^attempt, MaxDelay) ± jitter
type Config struct {
	// MaxAttempts - количество попыток, включая первую (минимум 1)
	MaxAttempts int

	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// JitterFactor - доля случайной вариации задержки (0.0 - 1.0)
	JitterFactor float64

	// RetryIf решает, повторять ли ошибку. nil = IsRetryable.
	RetryIf func(error) bool

	// OnRetry вызывается перед ожиданием очередной попытки
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig - 3 попытки, 200ms, 400ms
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// NetworkConfig - для нестабильной сети до брокера: 4 попытки, 1s, 2s, 4s
func NetworkConfig() Config {
	return Config{
		MaxAttempts:  4,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.2,
	}
}

func (c *Config) normalize() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Multiplier < 1 {
		c.Multiplier = 2.0
	}
	c.JitterFactor = math.Max(0, math.Min(1, c.JitterFactor))
	if c.RetryIf == nil {
		c.RetryIf = IsRetryable
	}
}

func (c *Config) delay(attempt int) time.Duration {
	d := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt))
	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	if c.JitterFactor > 0 {
		d += d * c.JitterFactor * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Do выполняет операцию с повторами
func Do(ctx context.Context, operation func() error, cfg Config) error {
	_, err := DoWithResult(ctx, func() (struct{}, error) {
		return struct{}{}, operation()
	}, cfg)
	return err
}

// DoWithResult выполняет операцию с результатом и повторами.
// Возвращает последнюю ошибку, если все попытки неудачны.
//
//	status, err := retry.DoWithResult(ctx, func() (*broker.OrderStatusRecord, error) {
//	    return adapter.GetOrderStatus(ctx, id)
//	}, retry.DefaultConfig())
func DoWithResult[T any](ctx context.Context, operation func() (T, error), cfg Config) (T, error) {
	cfg.normalize()

	var (
		zero    T
		lastErr error
	)
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}

		result, err := operation()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !cfg.RetryIf(err) || attempt == cfg.MaxAttempts-1 {
			break
		}

		d := cfg.delay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, d)
		}

		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		}
	}
	return zero, lastErr
}

// RetryableError - ошибка, которая сама знает, можно ли её повторять
type RetryableError interface {
	error
	Retryable() bool
}

// IsRetryable: ошибки контекста и Permanent не повторяются,
// RetryableError решает сама, остальные повторяются.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var re RetryableError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return true
}

// PermanentError помечает ошибку как неповторяемую
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string   { return e.Err.Error() }
func (e *PermanentError) Unwrap() error   { return e.Err }
func (e *PermanentError) Retryable() bool { return false }

// Permanent оборачивает err, запрещая повтор
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}
