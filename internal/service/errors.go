package service

import (
	"errors"
	"fmt"

	"github.com/Policy-Guru-za/chipin/internal/model"
)

var (
	// ErrUnknownProvider возвращается для провайдера без зарегистрированного адаптера.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrInvalidPayload возвращается, если тело уведомления не разобрано.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrInvalidTimestamp возвращается для устаревшего или пришедшего из будущего уведомления.
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	// ErrMissingReference возвращается, если в уведомлении нет корректной ссылки платежа.
	ErrMissingReference = errors.New("missing reference")
	// ErrAmountMissing возвращается, если сумму в уведомлении разобрать нельзя.
	ErrAmountMissing = errors.New("amount missing")
	// ErrAmountMismatch сопоставляется с *AmountMismatchError через errors.Is.
	ErrAmountMismatch = errors.New("amount mismatch")
	// ErrNotFound возвращается, если взнос по ссылке не найден.
	ErrNotFound = model.ErrContributionNotFound
)

// AmountMismatchError описывает уведомление, сумма которого не совпала с ожидаемой.
type AmountMismatchError struct {
	Provider       model.Provider
	ContributionID string
	Reference      string
	ExpectedCents  int64
	ReceivedCents  int64
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("amount mismatch for %s/%s: expected %d, received %d",
		e.Provider, e.Reference, e.ExpectedCents, e.ReceivedCents)
}

// Is позволяет проверять ошибку через errors.Is(err, ErrAmountMismatch).
func (e *AmountMismatchError) Is(target error) bool {
	return target == ErrAmountMismatch
}
