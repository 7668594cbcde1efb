package service

import (
	"github.com/Policy-Guru-za/chipin/internal/model"
	"github.com/Policy-Guru-za/chipin/internal/provider"
)

// DecisionKind - итог сопоставления данных провайдера и взноса.
type DecisionKind int

const (
	// DecisionNone - менять нечего.
	DecisionNone DecisionKind = iota
	// DecisionUpdate - взнос нужно перевести в Decision.Status.
	DecisionUpdate
	// DecisionMismatch - провайдер сообщил об успехе, но сумма не совпала или отсутствует.
	DecisionMismatch
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionUpdate:
		return "update"
	case DecisionMismatch:
		return "mismatch"
	default:
		return "none"
	}
}

// Decision - решение по одному взносу.
type Decision struct {
	Kind          DecisionKind
	Status        model.PaymentStatus
	ExpectedCents int64
	ReceivedCents *int64
}

// Decide - единая политика для уведомлений и сверки. Не обращается к хранилищу.
func Decide(status provider.Status, expectedCents int64, receivedCents *int64) Decision {
	switch status {
	case provider.StatusFailed:
		return Decision{Kind: DecisionUpdate, Status: model.PaymentStatusFailed}
	case provider.StatusCompleted:
		if receivedCents != nil && *receivedCents == expectedCents {
			return Decision{Kind: DecisionUpdate, Status: model.PaymentStatusCompleted}
		}
		return Decision{
			Kind:          DecisionMismatch,
			ExpectedCents: expectedCents,
			ReceivedCents: receivedCents,
		}
	default:
		return Decision{Kind: DecisionNone}
	}
}
