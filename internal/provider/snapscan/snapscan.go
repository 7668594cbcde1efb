// Package snapscan реализует адаптер SnapScan. Уведомление приходит формой payload=<json>
// или голым JSON и подписывается HMAC-SHA256 в заголовке Authorization.
package snapscan

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Policy-Guru-za/chipin/internal/model"
	"github.com/Policy-Guru-za/chipin/internal/money"
	"github.com/Policy-Guru-za/chipin/internal/provider"
	"github.com/Policy-Guru-za/chipin/internal/validation"
)

const (
	authScheme = "SnapScan signature="

	defaultPageSize = 100
	defaultMaxPages = 50
)

// Config содержит настройки адаптера SnapScan.
type Config struct {
	WebhookAuthKey string
	APIBaseURL     string
	APIKey         string
	PageSize       int
	MaxPages       int
}

var vocabulary = provider.Vocabulary{
	Success: []string{"completed", "success", "successful", "paid"},
	Failure: []string{"error", "failed", "declined", "cancelled", "canceled"},
}

// Adapter - адаптер SnapScan.
type Adapter struct {
	cfg        Config
	httpClient *http.Client
}

// New создаёт адаптер SnapScan.
func New(cfg Config, httpClient *http.Client) *Adapter {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	cfg.APIBaseURL = provider.NormalizeBaseURL(cfg.APIBaseURL)

	return &Adapter{cfg: cfg, httpClient: httpClient}
}

// Provider возвращает model.ProviderSnapScan.
func (a *Adapter) Provider() model.Provider { return model.ProviderSnapScan }

// VerifySignature сверяет HMAC-SHA256 тела запроса с заголовком Authorization.
func (a *Adapter) VerifySignature(req *provider.Request) error {
	header := strings.TrimSpace(req.Header.Get("Authorization"))
	got, ok := strings.CutPrefix(header, authScheme)
	if !ok || got == "" || a.cfg.WebhookAuthKey == "" {
		return provider.ErrInvalidSignature
	}

	want := Sign(a.cfg.WebhookAuthKey, req.Body)
	if !hmac.Equal([]byte(strings.ToLower(got)), []byte(want)) {
		return provider.ErrInvalidSignature
	}
	return nil
}

// Sign вычисляет подпись тела запроса в hex.
func Sign(key string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

type paymentDTO struct {
	ID                json.RawMessage `json:"id"`
	Status            string          `json:"status"`
	TotalAmount       json.RawMessage `json:"totalAmount"`
	MerchantReference string          `json:"merchantReference"`
	Date              string          `json:"date"`
}

func (p paymentDTO) transaction() provider.Transaction {
	var ts time.Time
	if p.Date != "" {
		if t, err := time.Parse(time.RFC3339, p.Date); err == nil {
			ts = t
		}
	}
	return provider.Transaction{
		Reference: p.MerchantReference,
		Status:    p.Status,
		Amount:    provider.JSONScalar(p.TotalAmount),
		Timestamp: ts,
	}
}

// ParsePayload разбирает тело уведомления в любом из двух форматов.
func (a *Adapter) ParsePayload(body []byte) (*provider.Transaction, bool) {
	raw := bytes.TrimSpace(body)
	if len(raw) == 0 {
		return nil, false
	}

	if raw[0] != '{' {
		form, err := url.ParseQuery(string(raw))
		if err != nil || !form.Has("payload") {
			return nil, false
		}
		raw = []byte(form.Get("payload"))
	}

	var p paymentDTO
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, false
	}
	if p.MerchantReference == "" && p.Status == "" {
		return nil, false
	}

	tx := p.transaction()
	return &tx, true
}

// ExtractReference возвращает merchantReference.
func (a *Adapter) ExtractReference(tx *provider.Transaction) (string, bool) {
	ref := strings.TrimSpace(tx.Reference)
	return ref, validation.IsValidReference(ref)
}

// ParseAmountCents разбирает totalAmount; SnapScan присылает сумму в центах.
func (a *Adapter) ParseAmountCents(tx *provider.Transaction) (int64, bool) {
	return money.ParseCents(tx.Amount, money.Minor)
}

// MapStatus сопоставляет статус платежа.
func (a *Adapter) MapStatus(tx *provider.Transaction) provider.Status {
	return vocabulary.Map(tx.Status)
}

// ListTransactions выгружает платежи за период [from, to] постранично.
// Выгрузка останавливается на неполной странице или по достижении MaxPages.
func (a *Adapter) ListTransactions(ctx context.Context, from, to time.Time) (*provider.Listing, error) {
	if a.cfg.APIBaseURL == "" || a.cfg.APIKey == "" {
		return nil, &provider.UpstreamError{Provider: model.ProviderSnapScan, Err: fmt.Errorf("api not configured")}
	}

	listing := &provider.Listing{}

	for page := 1; page <= a.cfg.MaxPages; page++ {
		items, err := a.fetchPage(ctx, from, to, page)
		if err != nil {
			return nil, err
		}
		listing.PagesFetched++

		for _, p := range items {
			listing.Transactions = append(listing.Transactions, p.transaction())
		}

		if len(items) < a.cfg.PageSize {
			listing.PagingComplete = true
			break
		}
	}

	return listing, nil
}

func (a *Adapter) fetchPage(ctx context.Context, from, to time.Time, page int) ([]paymentDTO, error) {
	q := url.Values{}
	q.Set("startDate", from.UTC().Format(time.RFC3339))
	q.Set("endDate", to.UTC().Format(time.RFC3339))
	q.Set("page", strconv.Itoa(page))
	q.Set("perPage", strconv.Itoa(a.cfg.PageSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.APIBaseURL+"/merchant/api/v1/payments?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(a.cfg.APIKey, "")
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, &provider.UpstreamError{Provider: model.ProviderSnapScan, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &provider.UpstreamError{Provider: model.ProviderSnapScan, StatusCode: resp.StatusCode}
	}

	var items []paymentDTO
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, &provider.UpstreamError{Provider: model.ProviderSnapScan, Err: fmt.Errorf("decode response: %w", err)}
	}
	return items, nil
}
