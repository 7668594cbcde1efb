// Package handler содержит HTTP-обработчики уведомлений провайдеров и запуска сверки.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Policy-Guru-za/chipin/internal/middleware"
	"github.com/Policy-Guru-za/chipin/internal/model"
	"github.com/Policy-Guru-za/chipin/internal/provider"
	"github.com/Policy-Guru-za/chipin/internal/ratelimit"
	"github.com/Policy-Guru-za/chipin/internal/service"
)

const (
	defaultMaxBodyBytes     = 64 << 10
	defaultReconcileTimeout = 10 * time.Minute
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	ProcessWebhook(ctx context.Context, p model.Provider, req *provider.Request) error
	Reconcile(ctx context.Context) (*service.Report, error)
}

// Config содержит настройки HTTP-слоя.
type Config struct {
	// Providers - провайдеры, для которых регистрируются маршруты уведомлений.
	Providers []model.Provider
	// Limiter может быть nil, тогда частота уведомлений не ограничивается.
	Limiter          *ratelimit.Limiter
	HourLimit        int64
	MinuteBurstLimit int64
	ReconcileSecret  string
	// TrustProxy включает разбор X-Forwarded-For и X-Real-IP.
	TrustProxy   bool
	MaxBodyBytes int64
	// ReconcileTimeout ограничивает прогон сверки, запущенный по HTTP.
	// Прогон не прерывается, если вызывающий закрыл соединение.
	ReconcileTimeout time.Duration
	// Ready проверяет зависимости для /readyz; nil означает, что проверять нечего.
	Ready func(ctx context.Context) error
}

// Handler реализует HTTP-обработчики сервиса.
type Handler struct {
	service Service
	logger  *zap.Logger
	cfg     Config
	auth    *middleware.BearerAuth
	now     func() time.Time
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, cfg Config) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.ReconcileTimeout <= 0 {
		cfg.ReconcileTimeout = defaultReconcileTimeout
	}
	return &Handler{
		service: s,
		logger:  logger,
		cfg:     cfg,
		auth:    middleware.NewBearerAuth(cfg.ReconcileSecret),
		now:     time.Now,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type receivedResponse struct {
	Received bool `json:"received"`
}

// Webhook возвращает обработчик уведомлений провайдера p.
func (h *Handler) Webhook(p model.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
		if err != nil {
			h.logger.Warn("read webhook body", zap.String("provider", string(p)), zap.Error(err))
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_payload"})
			return
		}

		req := &provider.Request{
			Body:       body,
			Header:     r.Header,
			SourceIP:   middleware.ClientIP(r),
			ReceivedAt: h.now(),
		}

		if err := h.service.ProcessWebhook(r.Context(), p, req); err != nil {
			status, code := errorStatus(err)
			if status == http.StatusInternalServerError {
				h.logger.Error("process webhook", zap.String("provider", string(p)), zap.Error(err))
			}
			writeJSON(w, status, errorResponse{Error: code})
			return
		}

		writeJSON(w, http.StatusOK, receivedResponse{Received: true})
	}
}

// Reconcile запускает сверку и возвращает отчёт.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.cfg.ReconcileTimeout)
	defer cancel()

	report, err := h.service.Reconcile(ctx)
	if err != nil {
		h.logger.Error("reconcile", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_error"})
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// Healthz отвечает, что процесс жив.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Readyz проверяет доступность зависимостей, прежде всего БД.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.cfg.Ready(ctx); err != nil {
			h.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "unavailable"})
			return
		}
	}
	h.Healthz(w, r)
}

// errorStatus сопоставляет ошибку обработки уведомления с HTTP-статусом и кодом ответа.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, provider.ErrInvalidSignature):
		return http.StatusBadRequest, "invalid_signature"
	case errors.Is(err, provider.ErrInvalidSource):
		return http.StatusForbidden, "invalid_source"
	case errors.Is(err, provider.ErrInvalidMerchant):
		return http.StatusForbidden, "invalid_merchant"
	case errors.Is(err, service.ErrInvalidPayload):
		return http.StatusBadRequest, "invalid_payload"
	case errors.Is(err, service.ErrInvalidTimestamp):
		return http.StatusBadRequest, "invalid_timestamp"
	case errors.Is(err, service.ErrMissingReference):
		return http.StatusBadRequest, "missing_reference"
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrUnknownProvider):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrAmountMissing):
		return http.StatusBadRequest, "amount_missing"
	case errors.Is(err, service.ErrAmountMismatch):
		return http.StatusBadRequest, "amount_mismatch"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
