// Package ozow реализует адаптер Ozow: уведомления подписываются тройкой заголовков
// webhook-id, webhook-timestamp и webhook-signature, история транзакций выгружается
// постранично по курсору с OAuth2-токеном.
package ozow

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
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
	headerID        = "webhook-id"
	headerTimestamp = "webhook-timestamp"
	headerSignature = "webhook-signature"

	defaultTolerance = 5 * time.Minute
	defaultPageSize  = 100
	defaultMaxPages  = 50
)

// Config содержит настройки адаптера Ozow.
type Config struct {
	WebhookSecret string
	Tolerance     time.Duration
	APIBaseURL    string
	PageSize      int
	MaxPages      int
}

// AccessTokenSource выдаёт токен доступа к API. Ему удовлетворяет *provider.TokenCache.
type AccessTokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	// Invalidate сбрасывает токен, который API перестал принимать.
	Invalidate(ctx context.Context) error
}

var vocabulary = provider.Vocabulary{
	Success: []string{"complete", "completed", "succeeded", "successful", "paid", "payment.succeeded"},
	Failure: []string{"cancelled", "canceled", "error", "failed", "abandoned", "declined", "expired", "payment.failed"},
}

// Adapter - адаптер Ozow.
type Adapter struct {
	cfg        Config
	httpClient *http.Client
	tokens     AccessTokenSource
	now        func() time.Time
}

// New создаёт адаптер Ozow.
func New(cfg Config, httpClient *http.Client, tokens AccessTokenSource) *Adapter {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = defaultTolerance
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	cfg.APIBaseURL = provider.NormalizeBaseURL(cfg.APIBaseURL)

	return &Adapter{
		cfg:        cfg,
		httpClient: httpClient,
		tokens:     tokens,
		now:        time.Now,
	}
}

// Provider возвращает model.ProviderOzow.
func (a *Adapter) Provider() model.Provider { return model.ProviderOzow }

// VerifySignature проверяет подпись id.timestamp.body и окно допустимого расхождения часов.
// Без настроенного секрета любое уведомление отклоняется.
func (a *Adapter) VerifySignature(req *provider.Request) error {
	if a.cfg.WebhookSecret == "" {
		return provider.ErrInvalidSignature
	}

	id := req.Header.Get(headerID)
	ts := req.Header.Get(headerTimestamp)
	sigs := req.Header.Get(headerSignature)
	if id == "" || ts == "" || sigs == "" {
		return provider.ErrInvalidSignature
	}

	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return provider.ErrInvalidSignature
	}

	now := req.ReceivedAt
	if now.IsZero() {
		now = a.now()
	}
	if d := now.Sub(time.Unix(sec, 0)); d > a.cfg.Tolerance || d < -a.cfg.Tolerance {
		return provider.ErrInvalidSignature
	}

	expected := Sign(a.cfg.WebhookSecret, id, ts, req.Body)
	for _, part := range strings.Fields(sigs) {
		version, sig, ok := strings.Cut(part, ",")
		if !ok || version != "v1" {
			continue
		}
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}

	return provider.ErrInvalidSignature
}

// Sign вычисляет подпись v1 в base64. Секрет с префиксом whsec_ хранится в base64,
// без префикса используется как есть.
func Sign(secret, id, timestamp string, body []byte) string {
	key := []byte(secret)
	if trimmed, ok := strings.CutPrefix(secret, "whsec_"); ok {
		if decoded, err := base64.StdEncoding.DecodeString(trimmed); err == nil {
			key = decoded
		}
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(id + "." + timestamp + "."))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type paymentDTO struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	Amount      json.RawMessage `json:"amount"`
	CreatedDate string          `json:"createdDate"`
	Metadata    struct {
		Reference string `json:"reference"`
	} `json:"metadata"`
}

func (p paymentDTO) transaction() provider.Transaction {
	return provider.Transaction{
		Reference: p.Metadata.Reference,
		Status:    p.Status,
		Amount:    provider.JSONScalar(p.Amount),
		Timestamp: parseTime(p.CreatedDate),
	}
}

type eventDTO struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	CreatedDate string     `json:"createdDate"`
	Payload     paymentDTO `json:"payload"`
}

// ParsePayload разбирает JSON-событие.
func (a *Adapter) ParsePayload(body []byte) (*provider.Transaction, bool) {
	var ev eventDTO
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, false
	}
	if ev.Type == "" && ev.Payload.ID == "" {
		return nil, false
	}

	tx := ev.Payload.transaction()
	if tx.Status == "" {
		tx.Status = ev.Type
	}
	if ts := parseTime(ev.CreatedDate); !ts.IsZero() {
		tx.Timestamp = ts
	}
	return &tx, true
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ExtractReference возвращает ссылку из metadata.reference.
func (a *Adapter) ExtractReference(tx *provider.Transaction) (string, bool) {
	ref := strings.TrimSpace(tx.Reference)
	return ref, validation.IsValidReference(ref)
}

// ParseAmountCents разбирает сумму: целое число - центы, строка с точкой - ранды.
func (a *Adapter) ParseAmountCents(tx *provider.Transaction) (int64, bool) {
	return money.ParseCents(tx.Amount, money.Minor)
}

// MapStatus сопоставляет статус платежа или тип события.
func (a *Adapter) MapStatus(tx *provider.Transaction) provider.Status {
	return vocabulary.Map(tx.Status)
}

type listResponse struct {
	Data       []paymentDTO `json:"data"`
	NextCursor string       `json:"nextCursor"`
}

// ListTransactions выгружает транзакции за период [from, to] постранично.
func (a *Adapter) ListTransactions(ctx context.Context, from, to time.Time) (*provider.Listing, error) {
	if a.cfg.APIBaseURL == "" || a.tokens == nil {
		return nil, &provider.UpstreamError{Provider: model.ProviderOzow, Err: fmt.Errorf("api not configured")}
	}

	token, err := a.tokens.AccessToken(ctx)
	if err != nil {
		return nil, &provider.UpstreamError{Provider: model.ProviderOzow, Err: err}
	}

	listing := &provider.Listing{}
	cursor := ""

	for listing.PagesFetched < a.cfg.MaxPages {
		page, err := a.fetchPage(ctx, token, from, to, cursor)
		if err != nil {
			var upErr *provider.UpstreamError
			if errors.As(err, &upErr) && upErr.StatusCode == http.StatusUnauthorized {
				// Следующая сверка получит новый токен.
				_ = a.tokens.Invalidate(ctx)
			}
			return nil, err
		}
		listing.PagesFetched++

		for _, p := range page.Data {
			listing.Transactions = append(listing.Transactions, p.transaction())
		}

		if page.NextCursor == "" {
			listing.PagingComplete = true
			break
		}
		cursor = page.NextCursor
	}

	return listing, nil
}

func (a *Adapter) fetchPage(ctx context.Context, token string, from, to time.Time, cursor string) (*listResponse, error) {
	q := url.Values{}
	q.Set("createdAfter", from.UTC().Format(time.RFC3339))
	q.Set("createdBefore", to.UTC().Format(time.RFC3339))
	q.Set("limit", strconv.Itoa(a.cfg.PageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.APIBaseURL+"/v1/transactions?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, &provider.UpstreamError{Provider: model.ProviderOzow, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &provider.UpstreamError{Provider: model.ProviderOzow, StatusCode: resp.StatusCode}
	}

	var page listResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, &provider.UpstreamError{Provider: model.ProviderOzow, Err: fmt.Errorf("decode response: %w", err)}
	}
	return &page, nil
}
