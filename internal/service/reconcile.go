package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Policy-Guru-za/chipin/internal/alert"
	"github.com/Policy-Guru-za/chipin/internal/model"
	"github.com/Policy-Guru-za/chipin/internal/provider"
)

// PassReport содержит счётчики одного прохода сверки.
type PassReport struct {
	Scanned    int `json:"scanned"`
	Updated    int `json:"updated"`
	Failed     int `json:"failed"`
	Mismatches int `json:"mismatches"`
	Unresolved int `json:"unresolved"`
}

func (r *PassReport) add(o PassReport) {
	r.Scanned += o.Scanned
	r.Updated += o.Updated
	r.Failed += o.Failed
	r.Mismatches += o.Mismatches
	r.Unresolved += o.Unresolved
}

// Report - итог прогона сверки. Верхнеуровневые счётчики включают оба прохода,
// LongTail повторяет счётчики хвостового прохода отдельно.
type Report struct {
	PassReport
	Window          model.ReconcileWindow `json:"window"`
	LongTail        PassReport            `json:"longTail"`
	MismatchDetails []model.Mismatch      `json:"mismatchDetails,omitempty"`
}

// Window вычисляет окна сверки относительно now.
func (s *Service) Window(now time.Time) model.ReconcileWindow {
	cutoff := now.Add(-s.cfg.ReconcileMinAge)
	return model.ReconcileWindow{
		LookbackStart: cutoff.Add(-s.cfg.ReconcileLookback),
		Cutoff:        cutoff,
		LongTailStart: cutoff.Add(-s.cfg.ReconcileLongTailLookback),
	}
}

// Reconcile сверяет незавершённые взносы с историей транзакций провайдеров.
// Ошибки API провайдера не прерывают прогон, ошибки хранилища прерывают.
func (s *Service) Reconcile(ctx context.Context) (*Report, error) {
	now := s.now()
	w := s.Window(now)
	report := &Report{Window: w}

	s.logger.Info("reconciliation started",
		zap.Time("lookback_start", w.LookbackStart),
		zap.Time("cutoff", w.Cutoff),
		zap.Time("long_tail_start", w.LongTailStart),
	)

	primary, mismatches, err := s.runPass(ctx, model.PassPrimary, w.LookbackStart, w.Cutoff, now)
	if err != nil {
		return nil, err
	}
	report.add(primary)
	report.MismatchDetails = append(report.MismatchDetails, mismatches...)

	if w.HasLongTail() {
		longTail, mismatches, err := s.runPass(ctx, model.PassLongTail, w.LongTailStart, w.LookbackStart, now)
		if err != nil {
			return nil, err
		}
		report.add(longTail)
		report.LongTail = longTail
		report.MismatchDetails = append(report.MismatchDetails, mismatches...)
	} else {
		s.logger.Info("long-tail pass skipped, lookback covers it",
			zap.Duration("lookback", s.cfg.ReconcileLookback),
			zap.Duration("long_tail_lookback", s.cfg.ReconcileLongTailLookback),
		)
	}

	if len(report.MismatchDetails) > 0 && s.cfg.AlertsEnabled {
		if err := s.alerts.Send(ctx, alert.RenderMismatches(w, report.MismatchDetails)); err != nil {
			s.logger.Error("mismatch alert failed", zap.Int("mismatches", len(report.MismatchDetails)), zap.Error(err))
		}
	}

	s.logger.Info("reconciliation finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("updated", report.Updated),
		zap.Int("failed", report.Failed),
		zap.Int("mismatches", report.Mismatches),
		zap.Int("unresolved", report.Unresolved),
	)

	return report, nil
}

// runPass обходит всех известных провайдеров по очереди для взносов,
// созданных в интервале [from, to).
func (s *Service) runPass(ctx context.Context, pass model.ReconcilePass, from, to, now time.Time) (PassReport, []model.Mismatch, error) {
	var (
		rep        PassReport
		mismatches []model.Mismatch
	)

	for _, p := range model.Providers {
		group, err := s.store.ListPendingByProviderAndWindow(ctx, p, from, to)
		if err != nil {
			return rep, nil, fmt.Errorf("list pending %s contributions: %w", p, err)
		}
		if len(group) == 0 {
			continue
		}
		rep.Scanned += len(group)

		log := s.logger.With(zap.String("provider", string(p)), zap.String("pass", string(pass)))

		adapter, ok := s.providers.Get(p)
		var lister provider.Lister
		if ok {
			lister, ok = adapter.(provider.Lister)
		}
		if !ok {
			for _, c := range group {
				log.Info("contribution awaits webhook, provider has no listing api",
					zap.String("contribution_id", c.ID),
					zap.Float64("age_minutes", now.Sub(c.CreatedAt).Minutes()),
				)
			}
			rep.Unresolved += len(group)
			continue
		}

		groupRep, groupMismatches, err := s.reconcileGroup(ctx, log, pass, adapter, lister, group, now)
		if err != nil {
			return rep, nil, err
		}
		rep.add(groupRep)
		mismatches = append(mismatches, groupMismatches...)
	}

	return rep, mismatches, nil
}

func (s *Service) reconcileGroup(
	ctx context.Context,
	log *zap.Logger,
	pass model.ReconcilePass,
	adapter provider.Adapter,
	lister provider.Lister,
	group []model.Contribution,
	now time.Time,
) (PassReport, []model.Mismatch, error) {
	var (
		rep        PassReport
		mismatches []model.Mismatch
	)

	earliest := group[0].CreatedAt
	for _, c := range group[1:] {
		if c.CreatedAt.Before(earliest) {
			earliest = c.CreatedAt
		}
	}

	listing, err := lister.ListTransactions(ctx, earliest, now)
	if err != nil {
		log.Error("provider listing failed, group left unresolved",
			zap.Int("contributions", len(group)),
			zap.Error(err),
		)
		rep.Unresolved += len(group)
		return rep, nil, nil
	}
	if !listing.PagingComplete {
		log.Warn("provider listing truncated by page cap",
			zap.Int("pages", listing.PagesFetched),
			zap.Int("transactions", len(listing.Transactions)),
		)
	}

	byRef := indexByReference(adapter, listing.Transactions)

	for _, c := range group {
		tx, found := byRef[c.PaymentRef]
		if !found {
			rep.Unresolved++
			continue
		}

		var received *int64
		if cents, ok := adapter.ParseAmountCents(&tx); ok {
			received = &cents
		}

		d := Decide(adapter.MapStatus(&tx), c.ExpectedTotalCents(), received)

		switch d.Kind {
		case DecisionUpdate:
			updated, err := s.store.UpdateContributionStatus(ctx, c.ID, d.Status)
			if err != nil {
				return rep, nil, fmt.Errorf("update contribution %s: %w", c.ID, err)
			}
			if updated {
				rep.Updated++
				if d.Status == model.PaymentStatusFailed {
					rep.Failed++
				}
				log.Info("contribution reconciled",
					zap.String("contribution_id", c.ID),
					zap.String("status", string(d.Status)),
				)
			}
			if d.Status == model.PaymentStatusCompleted {
				if err := s.checkFunding(ctx, c.DreamBoardID); err != nil {
					return rep, nil, err
				}
			}
		case DecisionMismatch:
			rep.Mismatches++
			rep.Unresolved++
			mismatches = append(mismatches, model.Mismatch{
				ContributionID: c.ID,
				Provider:       c.PaymentProvider,
				Reference:      c.PaymentRef,
				ExpectedCents:  d.ExpectedCents,
				ReceivedCents:  d.ReceivedCents,
				ProviderStatus: tx.Status,
				Pass:           pass,
			})
			fields := []zap.Field{
				zap.String("contribution_id", c.ID),
				zap.String("reference", c.PaymentRef),
				zap.Int64("expected_cents", d.ExpectedCents),
			}
			if d.ReceivedCents != nil {
				fields = append(fields, zap.Int64("received_cents", *d.ReceivedCents))
			}
			log.Warn("reconciliation amount mismatch", fields...)
		default:
			rep.Unresolved++
		}
	}

	return rep, mismatches, nil
}

// indexByReference строит отображение ссылка -> транзакция. Если по ссылке пришло
// несколько попыток, предпочтение отдаётся успешной.
func indexByReference(adapter provider.Adapter, txs []provider.Transaction) map[string]provider.Transaction {
	byRef := make(map[string]provider.Transaction, len(txs))
	for _, tx := range txs {
		ref := strings.TrimSpace(tx.Reference)
		if ref == "" {
			continue
		}
		if prev, ok := byRef[ref]; ok && adapter.MapStatus(&prev) == provider.StatusCompleted {
			continue
		}
		byRef[ref] = tx
	}
	return byRef
}
