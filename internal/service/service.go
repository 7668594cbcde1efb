// Package service реализует подтверждение платежей по уведомлениям провайдеров
// и периодическую сверку незавершённых взносов с историей транзакций провайдеров.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Policy-Guru-za/chipin/internal/alert"
	"github.com/Policy-Guru-za/chipin/internal/model"
	"github.com/Policy-Guru-za/chipin/internal/provider"
)

// Store описывает контракт хранилища взносов и досок мечты, используемый сервисом.
type Store interface {
	FindContributionByRef(ctx context.Context, p model.Provider, ref string) (*model.Contribution, error)
	UpdateContributionStatus(ctx context.Context, id string, status model.PaymentStatus) (bool, error)
	MarkDreamBoardFundedIfNeeded(ctx context.Context, dreamBoardID string) (bool, error)
	ListPendingByProviderAndWindow(ctx context.Context, p model.Provider, from, to time.Time) ([]model.Contribution, error)
	RaisedCents(ctx context.Context, dreamBoardID string) (int64, error)
	FindDreamBoard(ctx context.Context, dreamBoardID string) (*model.DreamBoard, error)
}

// Config содержит настройки проверки уведомлений и окон сверки.
type Config struct {
	// WebhookMaxAge - максимальный возраст события; ноль отключает проверку.
	WebhookMaxAge time.Duration
	// ClockSkew - допустимое опережение часов провайдера.
	ClockSkew time.Duration

	ReconcileMinAge           time.Duration
	ReconcileLookback         time.Duration
	ReconcileLongTailLookback time.Duration

	AlertsEnabled bool
}

// Service содержит логику подтверждения и сверки платежей.
type Service struct {
	store     Store
	providers *provider.Registry
	alerts    alert.Sender
	logger    *zap.Logger
	cfg       Config
	now       func() time.Time
}

// NewService создаёт сервис. alerts может быть nil, тогда оповещения не отправляются.
func NewService(store Store, providers *provider.Registry, alerts alert.Sender, logger *zap.Logger, cfg Config) *Service {
	if alerts == nil {
		alerts = alert.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		providers: providers,
		alerts:    alerts,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// StartReconciliation запускает фоновую сверку с заданным интервалом.
// Нулевой интервал отключает фоновую сверку.
func (s *Service) StartReconciliation(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				report, err := s.Reconcile(ctx)
				if err != nil {
					s.logger.Error("scheduled reconciliation failed", zap.Error(err))
					continue
				}
				s.logger.Info("scheduled reconciliation finished",
					zap.Int("scanned", report.Scanned),
					zap.Int("updated", report.Updated),
					zap.Int("unresolved", report.Unresolved),
				)
			}
		}
	}()
}
