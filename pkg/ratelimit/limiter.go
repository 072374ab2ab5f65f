// Package ratelimit - token bucket для запросов к API брокера.
//
// У брокеров раздельные лимиты на торговые запросы и запросы данных,
// поэтому адаптер держит MultiLimiter с категориями.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Категории запросов
const (
	CategoryOrder = "order" // размещение, отмена
	CategoryData  = "data"  // статусы, позиции, баланс
)

// RateLimiter - token bucket: rate токенов в секунду, ёмкость burst
type RateLimiter struct {
	rate       float64
	burst      float64
	tokens     float64
	lastRefill time.Time
	mu         sync.Mutex
}

// NewRateLimiter создаёт limiter с полным ведром.
// rate <= 0 даёт 10 req/sec, burst меньше rate поднимается до rate.
func NewRateLimiter(rate, burst float64) *RateLimiter {
	if rate <= 0 {
		rate = 10
	}
	if burst < rate {
		burst = rate
	}
	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     burst,
		lastRefill: time.Now(),
	}
}

// вызывается под mu
func (rl *RateLimiter) refill(now time.Time) {
	rl.tokens += now.Sub(rl.lastRefill).Seconds() * rl.rate
	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}
	rl.lastRefill = now
}

// Wait блокирует до получения токена или отмены контекста
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		rl.refill(time.Now())
		if rl.tokens >= 1 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
		rl.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Allow забирает токен без ожидания
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill(time.Now())
	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// Tokens возвращает текущее количество токенов
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill(time.Now())
	return rl.tokens
}

// MultiLimiter - набор limiter'ов по категориям запросов
type MultiLimiter struct {
	limiters map[string]*RateLimiter
	mu       sync.RWMutex
}

// NewMultiLimiter создаёт пустой набор
func NewMultiLimiter() *MultiLimiter {
	return &MultiLimiter{limiters: make(map[string]*RateLimiter)}
}

// Add задаёт лимит для категории
func (ml *MultiLimiter) Add(category string, rate, burst float64) *MultiLimiter {
	ml.mu.Lock()
	ml.limiters[category] = NewRateLimiter(rate, burst)
	ml.mu.Unlock()
	return ml
}

// Wait ждёт токен категории. Категория без лимита проходит сразу.
func (ml *MultiLimiter) Wait(ctx context.Context, category string) error {
	ml.mu.RLock()
	l, ok := ml.limiters[category]
	ml.mu.RUnlock()
	if !ok {
		return nil
	}
	return l.Wait(ctx)
}

// Get возвращает limiter категории или nil
func (ml *MultiLimiter) Get(category string) *RateLimiter {
	ml.mu.RLock()
	defer ml.mu.RUnlock()
	return ml.limiters[category]
}
