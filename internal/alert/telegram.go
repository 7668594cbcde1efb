package alert

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const (
	// telegramMaxText - лимит Bot API на длину текста одного сообщения.
	telegramMaxText = 4096
	// partNoteReserve - запас под строку "Part i/n".
	partNoteReserve = 32
)

// MessageSender - часть клиента Telegram, нужная для оповещений. Ей удовлетворяет *bot.Bot.
type MessageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// Telegram отправляет оповещения в чат операторов.
type Telegram struct {
	client MessageSender
	chatID int64
}

// NewTelegram создаёт канал Telegram.
func NewTelegram(client MessageSender, chatID int64) *Telegram {
	return &Telegram{client: client, chatID: chatID}
}

// NewTelegramBot создаёт клиента Bot API без проверочного вызова getMe.
func NewTelegramBot(token string) (*bot.Bot, error) {
	b, err := bot.New(token, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return b, nil
}

// Send реализует Sender. Оповещение, не влезающее в одно сообщение, уходит
// несколькими частями, каждая с заголовком и своей долей строк.
func (t *Telegram) Send(ctx context.Context, msg Message) error {
	parts := splitForTelegram(msg)
	for i, text := range parts {
		_, err := t.client.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:    t.chatID,
			Text:      text,
			ParseMode: models.ParseModeHTML,
		})
		if err != nil {
			return fmt.Errorf("send telegram alert part %d/%d: %w", i+1, len(parts), err)
		}
	}
	return nil
}

func splitForTelegram(msg Message) []string {
	full := msg.HTML()
	if utf8.RuneCountInString(full) <= telegramMaxText {
		return []string{full}
	}

	budget := telegramMaxText - utf8.RuneCountInString(msg.Header) - len("<pre></pre>") - partNoteReserve
	if budget < 1 {
		budget = 1
	}

	var (
		chunks [][]string
		cur    []string
		size   int
	)
	for _, l := range msg.Lines {
		n := utf8.RuneCountInString(l) + 1
		if len(cur) > 0 && size+n > budget {
			chunks = append(chunks, cur)
			cur, size = nil, 0
		}
		cur = append(cur, l)
		size += n
	}
	if len(cur) > 0 {
		chunks = append(chunks, cur)
	}

	out := make([]string, 0, len(chunks))
	for i, c := range chunks {
		header := msg.Header + fmt.Sprintf("Part %d/%d\n", i+1, len(chunks))
		out = append(out, renderHTML(header, c))
	}
	return out
}
