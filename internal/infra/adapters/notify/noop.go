package notify

import (
	"context"

	"ai-subscription-payments/internal/domain/model"
	"ai-subscription-payments/internal/domain/ports/adapter"
)

var _ adapter.PaymentNotifier = (*NoopNotifier)(nil)

// NoopNotifier is used when no notification channel is configured.
type NoopNotifier struct{}

func (NoopNotifier) NotifyPaymentSucceeded(context.Context, *model.PaymentRecord, *model.SubscriptionPlan) error {
	return nil
}
