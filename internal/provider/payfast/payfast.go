// Package payfast реализует адаптер PayFast: уведомления ITN в виде формы,
// подписанные MD5 от отсортированных полей и парольной фразы. API выгрузки транзакций не используется.
package payfast

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"net/netip"
	"net/url"
	"sort"
	"strings"

	"github.com/Policy-Guru-za/chipin/internal/model"
	"github.com/Policy-Guru-za/chipin/internal/money"
	"github.com/Policy-Guru-za/chipin/internal/provider"
	"github.com/Policy-Guru-za/chipin/internal/validation"
)

// Config содержит настройки проверки уведомлений PayFast.
type Config struct {
	MerchantID string
	Passphrase string
	// Strict включает проверку мерчанта, используется в продакшене.
	Strict bool
	// AllowedSources - разрешённые сети отправителей; пустой список отключает проверку.
	AllowedSources []netip.Prefix
}

var vocabulary = provider.Vocabulary{
	Success: []string{"COMPLETE", "COMPLETED", "SUCCESS", "PAID"},
	Failure: []string{"FAILED", "CANCELLED", "CANCELED", "DECLINED", "ERROR"},
}

// Adapter - адаптер PayFast.
type Adapter struct {
	cfg Config
}

// New создаёт адаптер PayFast.
func New(cfg Config) *Adapter {
	return &Adapter{cfg: cfg}
}

// Provider возвращает model.ProviderPayFast.
func (a *Adapter) Provider() model.Provider { return model.ProviderPayFast }

// VerifySignature проверяет адрес отправителя, подпись и мерчанта.
func (a *Adapter) VerifySignature(req *provider.Request) error {
	if len(a.cfg.AllowedSources) > 0 && !a.sourceAllowed(req.SourceIP) {
		return provider.ErrInvalidSource
	}

	fields, err := url.ParseQuery(string(req.Body))
	if err != nil {
		return provider.ErrInvalidSignature
	}

	got := strings.ToLower(strings.TrimSpace(fields.Get("signature")))
	if got == "" {
		return provider.ErrInvalidSignature
	}

	want := Sign(fields, a.cfg.Passphrase)
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return provider.ErrInvalidSignature
	}

	if a.cfg.Strict && strings.TrimSpace(fields.Get("merchant_id")) != a.cfg.MerchantID {
		return provider.ErrInvalidMerchant
	}

	return nil
}

func (a *Adapter) sourceAllowed(ip netip.Addr) bool {
	if !ip.IsValid() {
		return false
	}
	ip = ip.Unmap()
	for _, p := range a.cfg.AllowedSources {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// Sign вычисляет подпись PayFast: поля без signature сортируются по имени, пустые пропускаются,
// значения кодируются как в URL, в конце добавляется парольная фраза.
func Sign(fields url.Values, passphrase string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		v := strings.TrimSpace(fields.Get(k))
		if v == "" {
			continue
		}
		pairs = append(pairs, k+"="+url.QueryEscape(v))
	}
	if p := strings.TrimSpace(passphrase); p != "" {
		pairs = append(pairs, "passphrase="+url.QueryEscape(p))
	}

	sum := md5.Sum([]byte(strings.Join(pairs, "&")))
	return hex.EncodeToString(sum[:])
}

// ParsePayload разбирает форму ITN.
func (a *Adapter) ParsePayload(body []byte) (*provider.Transaction, bool) {
	fields, err := url.ParseQuery(string(body))
	if err != nil || len(fields) == 0 {
		return nil, false
	}
	if !fields.Has("m_payment_id") && !fields.Has("payment_status") {
		return nil, false
	}

	return &provider.Transaction{
		Reference: fields.Get("m_payment_id"),
		Status:    fields.Get("payment_status"),
		Amount:    fields.Get("amount_gross"),
	}, true
}

// ExtractReference возвращает m_payment_id, под которым платёж создавался.
func (a *Adapter) ExtractReference(tx *provider.Transaction) (string, bool) {
	ref := strings.TrimSpace(tx.Reference)
	return ref, validation.IsValidReference(ref)
}

// ParseAmountCents разбирает amount_gross; PayFast присылает сумму в рандах.
func (a *Adapter) ParseAmountCents(tx *provider.Transaction) (int64, bool) {
	return money.ParseCents(tx.Amount, money.Major)
}

// MapStatus сопоставляет payment_status.
func (a *Adapter) MapStatus(tx *provider.Transaction) provider.Status {
	return vocabulary.Map(tx.Status)
}
