// Package validation содержит функции валидации входных данных от платёжных провайдеров.
package validation

import (
	"errors"
	"time"
	"unicode"
)

// MaxReferenceLength ограничивает длину ссылки на платёж у провайдера.
const MaxReferenceLength = 128

// IsValidReference проверяет, что ссылка провайдера непустая и состоит из печатных символов без пробелов.
func IsValidReference(ref string) bool {
	if ref == "" || len(ref) > MaxReferenceLength {
		return false
	}

	for _, ch := range ref {
		if ch > unicode.MaxASCII || !unicode.IsPrint(ch) || unicode.IsSpace(ch) {
			return false
		}
	}

	return true
}

var (
	// ErrStale возвращается, если событие старше допустимого возраста.
	ErrStale = errors.New("event timestamp is too old")
	// ErrFromFuture возвращается, если событие датировано слишком далеко в будущем.
	ErrFromFuture = errors.New("event timestamp is in the future")
)

// CheckFreshness проверяет метку времени события относительно now.
// Отклонение в будущее допускается в пределах skew.
func CheckFreshness(ts, now time.Time, maxAge, skew time.Duration) error {
	if maxAge > 0 && now.Sub(ts) > maxAge {
		return ErrStale
	}
	if ts.Sub(now) > skew {
		return ErrFromFuture
	}
	return nil
}
