package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"ai-subscription-payments/internal/domain/model"
	"ai-subscription-payments/internal/domain/ports/repository"
	"ai-subscription-payments/internal/infra/gateway"
)

// PaymentReconciler periodically scans for stale non-terminal payments and
// queries the provider for their real status. This covers callbacks that
// never arrived or a process that crashed mid-update. Results flow through
// the same conditional-update path as webhooks, so a reconciler tick racing
// a late callback is harmless.
type PaymentReconciler struct {
	manager     *gateway.Manager
	payments    repository.PaymentRepository
	interval    time.Duration // how often to scan
	staleAfter  time.Duration // how old a pending payment must be to query
	expireAfter time.Duration // how old before an unanswered payment is expired
	log         *zerolog.Logger
}

func NewPaymentReconciler(manager *gateway.Manager, payments repository.PaymentRepository, interval, staleAfter time.Duration, log *zerolog.Logger) *PaymentReconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	return &PaymentReconciler{
		manager:     manager,
		payments:    payments,
		interval:    interval,
		staleAfter:  staleAfter,
		expireAfter: 24 * time.Hour,
		log:         log,
	}
}

func (w *PaymentReconciler) Start(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.tick(ctx)
		}
	}
}

func (w *PaymentReconciler) tick(ctx context.Context) {
	cutoff := time.Now().Add(-w.staleAfter)
	pending, err := w.payments.ListPendingOlderThan(ctx, nil, cutoff, 200)
	if err != nil {
		w.log.Error().Err(err).Msg("payment-reconciler: list pending failed")
		return
	}
	for _, rec := range pending {
		w.reconcile(ctx, rec)
	}
}

func (w *PaymentReconciler) reconcile(ctx context.Context, rec *model.PaymentRecord) {
	p, err := w.manager.Provider(rec.Provider)
	if err != nil {
		w.log.Warn().Str("provider", rec.Provider).Str("payment_id", rec.PaymentID).Msg("payment-reconciler: provider unavailable")
		return
	}
	status, err := p.GetPaymentStatus(ctx, rec.PaymentID)
	if err != nil {
		w.log.Warn().Err(err).Str("payment_id", rec.PaymentID).Msg("payment-reconciler: status query failed")
		return
	}

	if !status.Terminal() {
		// Still open upstream. Give up on payments the payer abandoned.
		if time.Since(rec.CreatedAt) > w.expireAfter {
			status = model.PaymentStatusExpired
		} else {
			return
		}
	}

	// Route through the provider's webhook path so the terminal transition and
	// its one-shot side effects use the same idempotent machinery.
	ev := &model.WebhookEvent{
		Type:      "reconcile",
		Provider:  rec.Provider,
		PaymentID: rec.PaymentID,
		Status:    status,
		Timestamp: time.Now(),
	}
	if _, err := p.HandleWebhook(ctx, ev); err != nil {
		w.log.Error().Err(err).Str("payment_id", rec.PaymentID).Msg("payment-reconciler: apply failed")
		return
	}
	w.log.Info().Str("payment_id", rec.PaymentID).Str("status", string(status)).Msg("payment-reconciler: reconciled")
}
