package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Policy-Guru-za/chipin/internal/model"
	"github.com/Policy-Guru-za/chipin/internal/provider"
	"github.com/Policy-Guru-za/chipin/internal/validation"
)

// ProcessWebhook проверяет и применяет уведомление провайдера. Ограничение частоты
// выполняется раньше, в HTTP-слое. Повторная доставка уже подтверждённого взноса
// завершается успешно без записи в хранилище.
func (s *Service) ProcessWebhook(ctx context.Context, p model.Provider, req *provider.Request) error {
	adapter, ok := s.providers.Get(p)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, p)
	}

	log := s.logger.With(zap.String("provider", string(p)))
	if req.SourceIP.IsValid() {
		log = log.With(zap.String("source_ip", req.SourceIP.String()))
	}

	if err := adapter.VerifySignature(req); err != nil {
		log.Warn("webhook rejected", zap.Bool("security", true), zap.Error(err))
		return err
	}

	tx, ok := adapter.ParsePayload(req.Body)
	if !ok {
		log.Warn("webhook payload malformed")
		return ErrInvalidPayload
	}

	if tx.Timestamp.IsZero() {
		log.Warn("webhook without event timestamp, freshness not checked")
	} else {
		receivedAt := req.ReceivedAt
		if receivedAt.IsZero() {
			receivedAt = s.now()
		}
		if err := validation.CheckFreshness(tx.Timestamp, receivedAt, s.cfg.WebhookMaxAge, s.cfg.ClockSkew); err != nil {
			log.Warn("webhook timestamp rejected", zap.Time("event_time", tx.Timestamp), zap.Error(err))
			return fmt.Errorf("%w: %v", ErrInvalidTimestamp, err)
		}
	}

	ref, ok := adapter.ExtractReference(tx)
	if !ok {
		log.Warn("webhook without valid reference")
		return ErrMissingReference
	}
	log = log.With(zap.String("reference", ref))

	c, err := s.store.FindContributionByRef(ctx, p, ref)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Warn("webhook for unknown contribution")
			return err
		}
		return fmt.Errorf("find contribution: %w", err)
	}
	log = log.With(zap.String("contribution_id", c.ID))

	if c.PaymentStatus.IsSettled() {
		log.Info("webhook for settled contribution acknowledged without changes",
			zap.String("status", string(c.PaymentStatus)),
			zap.String("provider_status", tx.Status),
		)
		return nil
	}

	received, ok := adapter.ParseAmountCents(tx)
	if !ok {
		log.Warn("webhook amount missing or unparsable", zap.String("raw_amount", tx.Amount))
		return ErrAmountMissing
	}

	expected := c.ExpectedTotalCents()
	if received != expected {
		log.Warn("webhook amount mismatch",
			zap.Int64("expected_cents", expected),
			zap.Int64("received_cents", received),
			zap.String("provider_status", tx.Status),
		)
		return &AmountMismatchError{
			Provider:       p,
			ContributionID: c.ID,
			Reference:      ref,
			ExpectedCents:  expected,
			ReceivedCents:  received,
		}
	}

	status := adapter.MapStatus(tx)
	d := Decide(status, expected, &received)

	switch d.Kind {
	case DecisionUpdate:
		updated, err := s.store.UpdateContributionStatus(ctx, c.ID, d.Status)
		if err != nil {
			return fmt.Errorf("update contribution: %w", err)
		}
		log.Info("contribution status applied",
			zap.String("status", string(d.Status)),
			zap.Bool("changed", updated),
		)
	case DecisionNone:
		if c.PaymentStatus == model.PaymentStatusPending && status == provider.StatusProcessing {
			if _, err := s.store.UpdateContributionStatus(ctx, c.ID, model.PaymentStatusProcessing); err != nil {
				return fmt.Errorf("update contribution: %w", err)
			}
		}
		log.Info("webhook acknowledged without transition", zap.String("provider_status", tx.Status))
	}

	if d.Kind == DecisionUpdate && d.Status == model.PaymentStatusCompleted {
		if err := s.checkFunding(ctx, c.DreamBoardID); err != nil {
			return err
		}
	}

	return nil
}
