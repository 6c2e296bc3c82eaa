package repository

import (
	"context"
	"time"

	"ai-subscription-payments/internal/domain/model"
)

// PaymentRepository is the billing record store. All state transitions are
// single-statement conditional updates scoped by (payment_id, provider) so a
// duplicate or forged notification for a foreign provider can never mutate a
// record it does not own, and a terminal record never reverts.
type PaymentRepository interface {
	Save(ctx context.Context, tx Tx, rec *model.PaymentRecord) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.PaymentRecord, error)
	FindByProviderPaymentID(ctx context.Context, tx Tx, provider, paymentID string) (*model.PaymentRecord, error)

	// MarkSucceeded sets succeeded/transaction_id/completed_at only when the
	// record is not already terminal. It reports whether this call applied the
	// transition, which gates the one-shot success side effects.
	MarkSucceeded(ctx context.Context, tx Tx, provider, paymentID, transactionID string) (bool, error)
	// UpdateStatusIfNotTerminal moves the record to status unless it is already
	// terminal; failed_at is stamped when status is failed.
	UpdateStatusIfNotTerminal(ctx context.Context, tx Tx, provider, paymentID string, status model.PaymentStatus) (bool, error)

	ListPendingOlderThan(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.PaymentRecord, error)
	SumByPeriod(ctx context.Context, tx Tx, period string) (int64, error)
}
