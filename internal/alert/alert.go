// Package alert доставляет сводные оповещения о расхождениях сумм, найденных при сверке.
// Доставка всегда best-effort: ошибка отправки логируется вызывающим и ничего не откатывает.
package alert

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/Policy-Guru-za/chipin/internal/model"
	"github.com/Policy-Guru-za/chipin/internal/money"
)

// Message - готовое к отправке оповещение. Header и Lines уже экранированы и используют
// только теги, которые понимает Telegram: b, code, pre. Каждая строка Lines описывает
// одно расхождение, каналы сами решают, как разбить их на сообщения.
type Message struct {
	Subject string
	Header  string
	Lines   []string
}

// HTML возвращает полный текст оповещения со всеми строками.
func (m Message) HTML() string {
	return renderHTML(m.Header, m.Lines)
}

func renderHTML(header string, lines []string) string {
	var sb strings.Builder
	sb.WriteString(header)
	if len(lines) > 0 {
		sb.WriteString("<pre>")
		for _, l := range lines {
			sb.WriteString(l)
			sb.WriteByte('\n')
		}
		sb.WriteString("</pre>")
	}
	return sb.String()
}

// Sender отправляет оповещение в один канал.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Nop ничего не отправляет, используется при выключенных оповещениях.
type Nop struct{}

// Send реализует Sender.
func (Nop) Send(context.Context, Message) error { return nil }

// Multi рассылает оповещение во все каналы и объединяет ошибки.
type Multi []Sender

// Send реализует Sender.
func (m Multi) Send(ctx context.Context, msg Message) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Retrying повторяет отправку с экспоненциальной задержкой.
type Retrying struct {
	next     Sender
	base     time.Duration
	attempts uint64
}

// WithRetry оборачивает канал повторными попытками. attempts - общее число попыток.
func WithRetry(next Sender, attempts int, base time.Duration) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	return &Retrying{next: next, base: base, attempts: uint64(attempts)}
}

// Send реализует Sender.
func (r *Retrying) Send(ctx context.Context, msg Message) error {
	b := retry.WithMaxRetries(r.attempts-1, retry.NewExponential(r.base))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		if err := r.next.Send(ctx, msg); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

// RenderMismatches собирает одно сводное оповещение по всем расхождениям прогона.
func RenderMismatches(window model.ReconcileWindow, mismatches []model.Mismatch) Message {
	subject := fmt.Sprintf("ChipIn reconciliation: %d amount mismatch(es)", len(mismatches))

	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>%s</b>\n", html.EscapeString(subject))
	fmt.Fprintf(&sb, "Window: <code>%s</code> .. <code>%s</code>\n",
		window.LookbackStart.UTC().Format(time.RFC3339), window.Cutoff.UTC().Format(time.RFC3339))
	if window.HasLongTail() {
		fmt.Fprintf(&sb, "Long tail from: <code>%s</code>\n", window.LongTailStart.UTC().Format(time.RFC3339))
	}

	lines := make([]string, 0, len(mismatches))
	for _, m := range mismatches {
		received := "missing"
		if m.ReceivedCents != nil {
			received = money.FormatCents(*m.ReceivedCents)
		}
		lines = append(lines, fmt.Sprintf("%s %s ref=%s expected=%s received=%s status=%s pass=%s",
			html.EscapeString(string(m.Provider)),
			html.EscapeString(m.ContributionID),
			html.EscapeString(m.Reference),
			money.FormatCents(m.ExpectedCents),
			received,
			html.EscapeString(m.ProviderStatus),
			m.Pass,
		))
	}

	return Message{Subject: subject, Header: sb.String(), Lines: lines}
}
