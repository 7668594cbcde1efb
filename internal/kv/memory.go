package kv

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	count     int64
	expiresAt time.Time
}

// Memory хранит данные в памяти процесса. Подходит для одного экземпляра и для тестов.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     Clock
}

// NewMemory создаёт хранилище в памяти. Если clock равен nil, используется time.Now.
func NewMemory(clock Clock) *Memory {
	if clock == nil {
		clock = time.Now
	}
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     clock,
	}
}

// Get возвращает значение ключа.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if expired(e.expiresAt, m.now()) {
		delete(m.entries, key)
		return nil, false, nil
	}

	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

// Set сохраняет значение ключа.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := make([]byte, len(value))
	copy(v, value)
	m.entries[key] = memoryEntry{value: v, expiresAt: expiry(m.now(), ttl)}
	return nil
}

// Delete удаляет ключ.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

// Incr увеличивает счётчик.
func (m *Memory) Incr(_ context.Context, key string, ttl time.Duration) (Counter, error) {
	if ttl <= 0 {
		return Counter{}, ErrInvalidTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.entries[key]
	if !ok || expired(e.expiresAt, now) {
		e = memoryEntry{expiresAt: expiry(now, ttl)}
	}
	if e.expiresAt.IsZero() {
		e.expiresAt = expiry(now, ttl)
	}
	e.count++
	m.entries[key] = e

	return Counter{Value: e.count, ExpiresAt: e.expiresAt}, nil
}

// Close ничего не делает.
func (m *Memory) Close() error { return nil }
