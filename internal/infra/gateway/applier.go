package gateway

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"ai-subscription-payments/internal/domain/model"
	port "ai-subscription-payments/internal/domain/ports/gateway"
	"ai-subscription-payments/internal/domain/ports/repository"
	"ai-subscription-payments/internal/infra/metrics"
)

// recordApplier applies a validated webhook event to the billing record. All
// four providers share it, so the idempotency rules live in exactly one place:
// success is a conditional one-shot transition (the hook fires only on the
// first application), every other status change is refused once the record is
// terminal.
type recordApplier struct {
	payments  repository.PaymentRepository
	txm       repository.TransactionManager
	onSuccess port.SuccessHook
	log       *zerolog.Logger
}

func newRecordApplier(payments repository.PaymentRepository, txm repository.TransactionManager, onSuccess port.SuccessHook, log *zerolog.Logger) *recordApplier {
	return &recordApplier{payments: payments, txm: txm, onSuccess: onSuccess, log: log}
}

func (a *recordApplier) apply(ctx context.Context, provider string, ev *model.WebhookEvent) (*model.PaymentResult, error) {
	switch ev.Status {
	case model.PaymentStatusSucceeded:
		return a.applySuccess(ctx, provider, ev)
	case model.PaymentStatusFailed, model.PaymentStatusCanceled, model.PaymentStatusExpired, model.PaymentStatusProcessing, model.PaymentStatusRequiresAction:
		applied, err := a.payments.UpdateStatusIfNotTerminal(ctx, nil, provider, ev.PaymentID, ev.Status)
		if err != nil {
			return nil, fmt.Errorf("update payment %s: %w", ev.PaymentID, err)
		}
		if !applied {
			a.log.Debug().Str("provider", provider).Str("payment_id", ev.PaymentID).
				Str("status", string(ev.Status)).Msg("webhook ignored: record already terminal")
		}
		metrics.IncWebhookHandled(provider, string(ev.Status))
		return &model.PaymentResult{Success: true, PaymentID: ev.PaymentID, Status: ev.Status}, nil
	default:
		// Unhandled event types are accepted as no-ops, not errors.
		metrics.IncWebhookHandled(provider, "ignored")
		return &model.PaymentResult{Success: true, PaymentID: ev.PaymentID, Status: model.PaymentStatusProcessing, Message: "event ignored"}, nil
	}
}

// applySuccess runs the conditional transition and the success hook in one
// transaction. A hook failure rolls the transition back, leaving the record
// non-terminal, so the provider's redelivery (or the reconciler) retries the
// whole application instead of losing the activation.
func (a *recordApplier) applySuccess(ctx context.Context, provider string, ev *model.WebhookEvent) (*model.PaymentResult, error) {
	var first bool
	var rec *model.PaymentRecord
	run := func(ctx context.Context, tx repository.Tx) error {
		var err error
		first, err = a.payments.MarkSucceeded(ctx, tx, provider, ev.PaymentID, ev.TransactionID)
		if err != nil {
			return fmt.Errorf("mark payment %s succeeded: %w", ev.PaymentID, err)
		}
		if !first {
			return nil
		}
		rec, err = a.payments.FindByProviderPaymentID(ctx, tx, provider, ev.PaymentID)
		if err != nil {
			return fmt.Errorf("load payment %s after success: %w", ev.PaymentID, err)
		}
		if a.onSuccess != nil {
			if err := a.onSuccess(ctx, tx, rec); err != nil {
				return fmt.Errorf("success hook for payment %s: %w", ev.PaymentID, err)
			}
		}
		return nil
	}
	var err error
	if a.txm != nil {
		err = a.txm.WithTx(ctx, pgx.TxOptions{}, run)
	} else {
		err = run(ctx, nil)
	}
	if err != nil {
		return nil, err
	}
	metrics.IncWebhookHandled(provider, string(model.PaymentStatusSucceeded))
	if !first {
		// Duplicate delivery of an already-applied success: acknowledge without
		// re-triggering the downstream activation.
		a.log.Debug().Str("provider", provider).Str("payment_id", ev.PaymentID).Msg("duplicate success webhook, no-op")
		return &model.PaymentResult{Success: true, PaymentID: ev.PaymentID, Status: model.PaymentStatusSucceeded}, nil
	}
	metrics.IncPayment(provider, string(model.PaymentStatusSucceeded))
	metrics.AddPaymentRevenue(provider, rec.Currency, rec.Amount)
	return &model.PaymentResult{Success: true, PaymentID: ev.PaymentID, Status: model.PaymentStatusSucceeded}, nil
}

// persistedStatus is the shared status fallback for providers whose remote
// query failed or who communicate exclusively via callback.
func (a *recordApplier) persistedStatus(ctx context.Context, provider, paymentID string) (model.PaymentStatus, error) {
	rec, err := a.payments.FindByProviderPaymentID(ctx, nil, provider, paymentID)
	if err != nil {
		return "", err
	}
	return rec.Status, nil
}
