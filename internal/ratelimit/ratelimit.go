// Package ratelimit реализует ограничение частоты запросов с двумя окнами: часовым и минутным.
// Счётчики хранятся во внешнем kv.Store и истекают сами по TTL окна.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/Policy-Guru-za/chipin/internal/kv"
)

const (
	hourWindow   = time.Hour
	minuteWindow = time.Minute
)

// Result описывает решение по одному запросу.
type Result struct {
	Allowed bool
	// Unlimited выставляется, когда лимит отключён конфигурацией.
	Unlimited bool
	Remaining int64
	Reset     time.Time
	// RetryAfter заполняется только для отклонённых запросов.
	RetryAfter time.Duration
}

// Limiter ограничивает частоту действий по ключу.
type Limiter struct {
	store kv.Store
	now   kv.Clock
}

// New создаёт ограничитель поверх хранилища. Если clock равен nil, используется time.Now.
func New(store kv.Store, clock kv.Clock) *Limiter {
	if clock == nil {
		clock = time.Now
	}
	return &Limiter{store: store, now: clock}
}

// Key собирает ключ ограничения из действия и идентичности вызывающего.
func Key(action, identity string) string {
	return action + ":" + identity
}

// Enforce учитывает запрос и решает, пропускать ли его.
// hourLimit <= 0 полностью отключает ограничение, minuteBurstLimit <= 0 отключает только минутное окно.
// При ошибке хранилища возвращается разрешающий результат вместе с ошибкой.
func (l *Limiter) Enforce(ctx context.Context, key string, hourLimit, minuteBurstLimit int64) (Result, error) {
	if hourLimit <= 0 {
		return Result{Allowed: true, Unlimited: true}, nil
	}

	hour, err := l.store.Incr(ctx, "rl:"+key+":h", hourWindow)
	if err != nil {
		return Result{Allowed: true}, fmt.Errorf("incr hour counter: %w", err)
	}

	now := l.now()
	res := Result{
		Allowed:   true,
		Remaining: clamp(hourLimit - hour.Value),
		Reset:     hour.ExpiresAt,
	}
	var retryAfter time.Duration

	if hour.Value > hourLimit {
		res.Allowed = false
		retryAfter = untilReset(hour.ExpiresAt, now)
	}

	if minuteBurstLimit > 0 {
		minute, err := l.store.Incr(ctx, "rl:"+key+":m", minuteWindow)
		if err != nil {
			return Result{Allowed: true}, fmt.Errorf("incr minute counter: %w", err)
		}

		if left := clamp(minuteBurstLimit - minute.Value); left < res.Remaining {
			res.Remaining = left
			if res.Allowed {
				res.Reset = minute.ExpiresAt
			}
		}

		if minute.Value > minuteBurstLimit {
			res.Allowed = false
			if d := untilReset(minute.ExpiresAt, now); d > retryAfter {
				retryAfter = d
			}
		}
	}

	if !res.Allowed {
		res.RetryAfter = retryAfter
		res.Reset = now.Add(retryAfter)
	}

	return res, nil
}

func clamp(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}

// untilReset округляет оставшееся время окна вверх до секунды, минимум одна секунда.
func untilReset(expiresAt, now time.Time) time.Duration {
	d := expiresAt.Sub(now)
	if d <= 0 {
		return time.Second
	}
	return ((d + time.Second - 1) / time.Second) * time.Second
}
