// Package model содержит доменные сущности сервиса приёма платежей ChipIn.
package model

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// ErrContributionNotFound возвращается хранилищем, если взнос с такой ссылкой не найден.
var ErrContributionNotFound = errors.New("contribution not found")

// ErrDreamBoardNotFound возвращается хранилищем, если доски с таким id нет.
var ErrDreamBoardNotFound = errors.New("dream board not found")

// Provider обозначает платёжного провайдера, через которого прошёл взнос.
type Provider string

const (
	ProviderPayFast  Provider = "payfast"
	ProviderOzow     Provider = "ozow"
	ProviderSnapScan Provider = "snapscan"
)

// Providers перечисляет всех известных провайдеров в порядке обхода при сверке.
var Providers = []Provider{ProviderPayFast, ProviderOzow, ProviderSnapScan}

// ParseProvider возвращает провайдера по его строковому имени.
func ParseProvider(s string) (Provider, error) {
	for _, p := range Providers {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown payment provider %q", s)
}

// PaymentStatus описывает статус оплаты взноса.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// OpenPaymentStatuses - статусы взносов, ожидающих подтверждения от провайдера.
var OpenPaymentStatuses = []PaymentStatus{PaymentStatusPending, PaymentStatusProcessing}

// SettledPaymentStatuses - статусы, которые уведомления и сверка не меняют:
// completed не откатывается, refunded выставляется вне этого сервиса.
var SettledPaymentStatuses = []PaymentStatus{PaymentStatusCompleted, PaymentStatusRefunded}

// IsSettled сообщает, закрыт ли взнос для изменений по данным провайдера.
func (s PaymentStatus) IsSettled() bool {
	return slices.Contains(SettledPaymentStatuses, s)
}

// Contribution описывает взнос гостя в доску мечты.
type Contribution struct {
	ID              string
	DreamBoardID    string
	AmountCents     int64
	FeeCents        int64
	PaymentProvider Provider
	PaymentRef      string
	PaymentStatus   PaymentStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NetCents возвращает сумму, которая идёт в зачёт цели доски.
func (c *Contribution) NetCents() int64 {
	return c.AmountCents - c.FeeCents
}

// ExpectedTotalCents возвращает сумму, которую провайдер должен списать с гостя.
func (c *Contribution) ExpectedTotalCents() int64 {
	return c.AmountCents + c.FeeCents
}

// DreamBoardStatus описывает состояние сбора.
type DreamBoardStatus string

const (
	DreamBoardStatusActive    DreamBoardStatus = "active"
	DreamBoardStatusFunded    DreamBoardStatus = "funded"
	DreamBoardStatusClosed    DreamBoardStatus = "closed"
	DreamBoardStatusCancelled DreamBoardStatus = "cancelled"
)

// DreamBoard описывает сбор на подарок ребёнку.
type DreamBoard struct {
	ID        string
	GoalCents int64
	Status    DreamBoardStatus
	FundedAt  *time.Time
	CreatedAt time.Time
}

// ReconcilePass обозначает проход сверки, в котором обнаружено расхождение.
type ReconcilePass string

const (
	PassPrimary  ReconcilePass = "primary"
	PassLongTail ReconcilePass = "long_tail"
)

// Mismatch описывает платёж, который провайдер считает успешным, но с неверной суммой.
type Mismatch struct {
	ContributionID string        `json:"contributionId"`
	Provider       Provider      `json:"provider"`
	Reference      string        `json:"reference"`
	ExpectedCents  int64         `json:"expectedCents"`
	ReceivedCents  *int64        `json:"receivedCents"`
	ProviderStatus string        `json:"providerStatus"`
	Pass           ReconcilePass `json:"pass"`
}

// ReconcileWindow описывает границы сверки по времени создания взноса.
type ReconcileWindow struct {
	LookbackStart time.Time `json:"lookbackStart"`
	Cutoff        time.Time `json:"cutoff"`
	LongTailStart time.Time `json:"longTailStart"`
}

// HasLongTail сообщает, есть ли у окна непустой хвостовой интервал.
func (w ReconcileWindow) HasLongTail() bool {
	return w.LongTailStart.Before(w.LookbackStart)
}
