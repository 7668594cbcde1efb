package provider

import (
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// zapLeveled подключает логгер zap к retryablehttp.
type zapLeveled struct {
	s *zap.SugaredLogger
}

func (l zapLeveled) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l zapLeveled) Info(msg string, kv ...interface{})  { l.s.Infow(msg, kv...) }
func (l zapLeveled) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l zapLeveled) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }

// NewHTTPClient создаёт HTTP-клиент для API провайдеров с таймаутом на запрос
// и повторами на сетевых ошибках, 5xx и 429 (с учётом Retry-After).
// После исчерпания повторов возвращается последний ответ, чтобы вызывающий видел код статуса.
func NewHTTPClient(timeout time.Duration, retries int, logger *zap.Logger) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = retries
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = timeout
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = nil
	if logger != nil {
		rc.Logger = zapLeveled{s: logger.Named("provider-http").Sugar()}
	}
	return rc.StandardClient()
}

// NormalizeBaseURL убирает завершающий слэш и добавляет схему, если её нет.
func NormalizeBaseURL(base string) string {
	base = strings.TrimRight(base, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	return base
}
