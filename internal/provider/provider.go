// Package provider описывает общий контракт адаптеров платёжных провайдеров:
// проверку подписи уведомлений, разбор тела, извлечение ссылки и суммы,
// сопоставление статусов и (где есть API) постраничную выгрузку транзакций.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/Policy-Guru-za/chipin/internal/model"
)

var (
	// ErrInvalidSignature возвращается, если подпись уведомления не сошлась.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrInvalidSource возвращается, если уведомление пришло с неразрешённого адреса.
	ErrInvalidSource = errors.New("invalid source")
	// ErrInvalidMerchant возвращается, если идентификатор мерчанта в уведомлении чужой.
	ErrInvalidMerchant = errors.New("invalid merchant")
)

// Status - нормализованный статус платежа у провайдера.
type Status string

const (
	StatusCompleted  Status = "completed"
	StatusProcessing Status = "processing"
	StatusFailed     Status = "failed"
)

// Request содержит всё, что нужно для проверки подлинности уведомления.
type Request struct {
	Body       []byte
	Header     http.Header
	SourceIP   netip.Addr
	ReceivedAt time.Time
}

// Transaction - взгляд провайдера на одну попытку оплаты.
// Получается из тела уведомления или из выгрузки транзакций и нигде не сохраняется.
type Transaction struct {
	Reference string
	Status    string
	Amount    string
	// Timestamp равен нулю, если провайдер не прислал время события.
	Timestamp time.Time
}

// Adapter реализуется каждым провайдером.
type Adapter interface {
	Provider() model.Provider
	VerifySignature(req *Request) error
	// ParsePayload возвращает false для некорректного тела и никогда не паникует.
	ParsePayload(body []byte) (*Transaction, bool)
	ExtractReference(tx *Transaction) (string, bool)
	// ParseAmountCents возвращает false, если сумму разобрать нельзя; ноль не подставляется.
	ParseAmountCents(tx *Transaction) (int64, bool)
	MapStatus(tx *Transaction) Status
}

// Listing - результат постраничной выгрузки транзакций.
type Listing struct {
	Transactions []Transaction
	PagesFetched int
	// PagingComplete равен false, если выгрузка остановлена по лимиту страниц.
	PagingComplete bool
}

// Lister реализуется провайдерами, у которых есть API истории транзакций.
type Lister interface {
	ListTransactions(ctx context.Context, from, to time.Time) (*Listing, error)
}

// UpstreamError описывает сбой обращения к API провайдера.
type UpstreamError struct {
	Provider   model.Provider
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s api: unexpected status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s api: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Registry сопоставляет провайдера и его адаптер.
type Registry struct {
	adapters map[model.Provider]Adapter
}

// NewRegistry создаёт реестр из набора адаптеров.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[model.Provider]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Provider()] = a
	}
	return r
}

// Get возвращает адаптер провайдера.
func (r *Registry) Get(p model.Provider) (Adapter, bool) {
	if r == nil {
		return nil, false
	}
	a, ok := r.adapters[p]
	return a, ok
}

// Providers возвращает настроенных провайдеров в порядке model.Providers.
func (r *Registry) Providers() []model.Provider {
	var out []model.Provider
	for _, p := range model.Providers {
		if _, ok := r.Get(p); ok {
			out = append(out, p)
		}
	}
	return out
}

// Vocabulary - словари статусов провайдера.
type Vocabulary struct {
	Success []string
	Failure []string
}

// Map сопоставляет статус провайдера без учёта регистра.
// Незнакомый статус считается обрабатываемым, а не неуспешным: платёж может быть ещё в пути.
func (v Vocabulary) Map(raw string) Status {
	raw = strings.TrimSpace(raw)
	for _, s := range v.Success {
		if strings.EqualFold(raw, s) {
			return StatusCompleted
		}
	}
	for _, s := range v.Failure {
		if strings.EqualFold(raw, s) {
			return StatusFailed
		}
	}
	return StatusProcessing
}
