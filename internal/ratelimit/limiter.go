package ratelimit

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Policy описывает политику фиксированного окна для одного пространства ключей.
// Анонимные и авторизованные запросы используют разные Name и потому
// никогда не делят ключи счетчиков.
type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Result содержит решение лимитера и метаданные для заголовков ответа
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Store выполняет атомарный check-and-increment для ключа окна.
// Take обязан быть безопасным при конкурентных вызовах с одним ключом:
// при count >= limit счетчик не инкрементируется и возвращается allowed=false.
type Store interface {
	Take(ctx context.Context, key string, limit int, window time.Duration) (count int64, resetAt time.Time, allowed bool, err error)
}

// Limiter применяет политику фиксированного окна поверх Store
type Limiter struct {
	store    Store
	policy   Policy
	failOpen bool
}

func New(store Store, policy Policy, failOpen bool) *Limiter {
	return &Limiter{
		store:    store,
		policy:   policy,
		failOpen: failOpen,
	}
}

// Allow проверяет и инкрементирует счетчик ключа. Передача limit > 0
// переопределяет лимит политики (индивидуальные квоты владельцев).
func (l *Limiter) Allow(ctx context.Context, key string, limit int) Result {
	if limit <= 0 {
		limit = l.policy.Limit
	}

	fullKey := fmt.Sprintf("%s:%s", l.policy.Name, key)

	count, resetAt, allowed, err := l.store.Take(ctx, fullKey, limit, l.policy.Window)
	if err != nil {
		log.Printf("[RateLimit] store error for key %s: %v (fail-open=%v)", fullKey, err, l.failOpen)
		if l.failOpen {
			return Result{
				Allowed:   true,
				Limit:     limit,
				Remaining: limit,
				ResetAt:   time.Now().Add(l.policy.Window),
			}
		}
		return Result{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    time.Now().Add(l.policy.Window),
			RetryAfter: l.policy.Window,
		}
	}

	remaining := int64(limit) - count
	if remaining < 0 {
		remaining = 0
	}

	res := Result{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: int(remaining),
		ResetAt:   resetAt,
	}

	if !allowed {
		res.Remaining = 0
		res.RetryAfter = time.Until(resetAt)
		if res.RetryAfter < time.Second {
			res.RetryAfter = time.Second
		}
	}

	return res
}

// RetryAfterSeconds возвращает время до сброса окна в целых секундах
func (r Result) RetryAfterSeconds() int {
	secs := int(r.RetryAfter.Round(time.Second) / time.Second)
	if !r.Allowed && secs < 1 {
		secs = 1
	}
	return secs
}
