// Package kv описывает внешнее хранилище ключ-значение с TTL, общее для всех экземпляров сервиса.
// В нём живут счётчики ограничения частоты запросов и кэш токенов доступа провайдеров.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidTTL возвращается, если счётчику передан неположительный TTL.
var ErrInvalidTTL = errors.New("kv: counter ttl must be positive")

// Counter содержит значение счётчика после инкремента и момент его истечения.
type Counter struct {
	Value     int64
	ExpiresAt time.Time
}

// Store описывает хранилище ключ-значение с автоматическим истечением записей.
type Store interface {
	// Get возвращает значение ключа; false, если ключа нет или он истёк.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set сохраняет значение; ttl <= 0 означает запись без срока жизни.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Incr атомарно увеличивает счётчик на единицу. TTL выставляется только
	// при создании счётчика, повторные вызовы его не продлевают.
	Incr(ctx context.Context, key string, ttl time.Duration) (Counter, error)
	// Delete удаляет ключ; отсутствие ключа ошибкой не считается.
	Delete(ctx context.Context, key string) error
	Close() error
}

// Clock возвращает текущее время. Подменяется в тестах.
type Clock func() time.Time

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func expired(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && !now.Before(expiresAt)
}
