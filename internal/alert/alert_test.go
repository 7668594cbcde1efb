package alert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Policy-Guru-za/chipin/internal/model"
)

type stubSender struct {
	fails int
	calls int
	last  Message
}

func (s *stubSender) Send(_ context.Context, msg Message) error {
	s.calls++
	s.last = msg
	if s.calls <= s.fails {
		return errors.New("channel down")
	}
	return nil
}

type stubTelegram struct {
	sent []*bot.SendMessageParams
	err  error
}

func (s *stubTelegram) SendMessage(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	s.sent = append(s.sent, params)
	return &models.Message{}, s.err
}

type stubPutter struct {
	input *s3.PutObjectInput
	body  string
}

func (s *stubPutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	s.input = in
	b, _ := io.ReadAll(in.Body)
	s.body = string(b)
	return &s3.PutObjectOutput{}, nil
}

func testWindow() model.ReconcileWindow {
	cutoff := time.Date(2026, 10, 16, 9, 50, 0, 0, time.UTC)
	return model.ReconcileWindow{
		LookbackStart: cutoff.Add(-2 * time.Hour),
		Cutoff:        cutoff,
		LongTailStart: cutoff.Add(-72 * time.Hour),
	}
}

func TestRenderMismatches(t *testing.T) {
	received := int64(20000)
	msg := RenderMismatches(testWindow(), []model.Mismatch{
		{ContributionID: "c-1", Provider: model.ProviderOzow, Reference: "<ref>", ExpectedCents: 20600, ReceivedCents: &received, ProviderStatus: "Complete", Pass: model.PassPrimary},
		{ContributionID: "c-2", Provider: model.ProviderSnapScan, Reference: "r2", ExpectedCents: 5000, ProviderStatus: "completed", Pass: model.PassLongTail},
	})

	body := msg.HTML()
	assert.Contains(t, msg.Subject, "2 amount mismatch")
	assert.Len(t, msg.Lines, 2)
	assert.Contains(t, body, "&lt;ref&gt;")
	assert.NotContains(t, body, "<ref>")
	assert.Contains(t, body, "expected=206.00 received=200.00")
	assert.Contains(t, body, "received=missing")
	assert.Contains(t, body, "pass=long_tail")
	assert.Contains(t, body, "Long tail from: <code>2026-10-13T09:50:00Z</code>")
}

func manyMismatches(n int) []model.Mismatch {
	list := make([]model.Mismatch, n)
	for i := range list {
		list[i] = model.Mismatch{
			ContributionID: fmt.Sprintf("c-%03d", i),
			Provider:       model.ProviderOzow,
			Reference:      fmt.Sprintf("CHIP-%03d-abcdefghijklmnopqrstuvwxyz", i),
			ExpectedCents:  20600,
			ProviderStatus: "Complete",
			Pass:           model.PassPrimary,
		}
	}
	return list
}

func TestRenderMismatches_ListsEveryMismatch(t *testing.T) {
	msg := RenderMismatches(testWindow(), manyMismatches(120))

	assert.Len(t, msg.Lines, 120)
	assert.Equal(t, 120, strings.Count(msg.HTML(), "pass=primary"))
	assert.Contains(t, msg.HTML(), "c-119 ")
}

func TestS3Archive_KeepsEveryMismatch(t *testing.T) {
	putter := &stubPutter{}
	err := NewS3Archive(putter, "b", "p").Send(context.Background(), RenderMismatches(testWindow(), manyMismatches(120)))
	require.NoError(t, err)

	assert.Equal(t, 120, strings.Count(putter.body, "pass=primary"))
}

func TestTelegram_SplitsLongAlert(t *testing.T) {
	client := &stubTelegram{}
	err := NewTelegram(client, 7).Send(context.Background(), RenderMismatches(testWindow(), manyMismatches(120)))
	require.NoError(t, err)

	require.Greater(t, len(client.sent), 1)
	total := 0
	for i, p := range client.sent {
		assert.LessOrEqual(t, utf8.RuneCountInString(p.Text), telegramMaxText, "part %d", i+1)
		assert.Contains(t, p.Text, "120 amount mismatch")
		assert.Contains(t, p.Text, fmt.Sprintf("Part %d/%d", i+1, len(client.sent)))
		assert.True(t, strings.HasSuffix(p.Text, "</pre>"), "part %d must close pre", i+1)
		total += strings.Count(p.Text, "pass=primary")
	}
	assert.Equal(t, 120, total)
	assert.Contains(t, client.sent[len(client.sent)-1].Text, "c-119 ")
}

func TestMulti_JoinsErrors(t *testing.T) {
	ok := &stubSender{}
	broken := &stubSender{fails: 1}

	err := Multi{broken, ok}.Send(context.Background(), Message{Subject: "s"})
	require.Error(t, err)
	assert.Equal(t, 1, ok.calls)
	assert.Equal(t, 1, broken.calls)
}

func TestRetrying(t *testing.T) {
	t.Run("recovers", func(t *testing.T) {
		s := &stubSender{fails: 2}
		err := WithRetry(s, 3, time.Millisecond).Send(context.Background(), Message{})
		assert.NoError(t, err)
		assert.Equal(t, 3, s.calls)
	})

	t.Run("gives up", func(t *testing.T) {
		s := &stubSender{fails: 10}
		err := WithRetry(s, 2, time.Millisecond).Send(context.Background(), Message{})
		assert.Error(t, err)
		assert.Equal(t, 2, s.calls)
	})
}

func TestTelegram_Send(t *testing.T) {
	client := &stubTelegram{}
	err := NewTelegram(client, -100123).Send(context.Background(), Message{Header: "<b>x</b>\n", Lines: []string{"row"}})
	require.NoError(t, err)
	require.Len(t, client.sent, 1)
	assert.Equal(t, int64(-100123), client.sent[0].ChatID)
	assert.Equal(t, models.ParseModeHTML, client.sent[0].ParseMode)
	assert.Equal(t, "<b>x</b>\n<pre>row\n</pre>", client.sent[0].Text)

	client.err = errors.New("forbidden")
	assert.Error(t, NewTelegram(client, 1).Send(context.Background(), Message{}))
}

func TestS3Archive_Send(t *testing.T) {
	putter := &stubPutter{}
	a := NewS3Archive(putter, "alerts-bucket", "/chipin/mismatches/")
	a.now = func() time.Time { return time.Date(2026, 10, 16, 23, 0, 0, 0, time.UTC) }

	err := a.Send(context.Background(), Message{Subject: "a & b", Lines: []string{"x"}})
	require.NoError(t, err)

	assert.Equal(t, "alerts-bucket", aws.ToString(putter.input.Bucket))
	key := aws.ToString(putter.input.Key)
	assert.True(t, strings.HasPrefix(key, "chipin/mismatches/2026/10/16/"), key)
	assert.True(t, strings.HasSuffix(key, ".html"), key)
	assert.Contains(t, putter.body, "<title>a &amp; b</title>")
	assert.Contains(t, putter.body, "<pre>x\n</pre>")
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Send(context.Background(), Message{}))
}
