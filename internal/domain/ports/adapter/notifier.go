package adapter

import (
	"context"

	"ai-subscription-payments/internal/domain/model"
)

// PaymentNotifier is informed after a payment first reaches succeeded.
// Implementations must be best-effort; a notification failure never rolls back
// the payment.
type PaymentNotifier interface {
	NotifyPaymentSucceeded(ctx context.Context, rec *model.PaymentRecord, plan *model.SubscriptionPlan) error
}
