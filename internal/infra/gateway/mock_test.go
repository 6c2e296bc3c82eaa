//go:build !integration

package gateway

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"

	"ai-subscription-payments/internal/domain"
	"ai-subscription-payments/internal/domain/model"
	port "ai-subscription-payments/internal/domain/ports/gateway"
	"ai-subscription-payments/internal/domain/ports/repository"
)

// mockPaymentRepo lets each test wire just the calls it expects.
type mockPaymentRepo struct {
	SaveFunc                    func(ctx context.Context, tx repository.Tx, rec *model.PaymentRecord) error
	FindByIDFunc                func(ctx context.Context, tx repository.Tx, id string) (*model.PaymentRecord, error)
	FindByProviderPaymentIDFunc func(ctx context.Context, tx repository.Tx, provider, paymentID string) (*model.PaymentRecord, error)
	MarkSucceededFunc           func(ctx context.Context, tx repository.Tx, provider, paymentID, transactionID string) (bool, error)
	UpdateStatusIfNotTermFunc   func(ctx context.Context, tx repository.Tx, provider, paymentID string, status model.PaymentStatus) (bool, error)
	ListPendingOlderThanFunc    func(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.PaymentRecord, error)
	SumByPeriodFunc             func(ctx context.Context, tx repository.Tx, period string) (int64, error)
}

var _ repository.PaymentRepository = (*mockPaymentRepo)(nil)

func (m *mockPaymentRepo) Save(ctx context.Context, tx repository.Tx, rec *model.PaymentRecord) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, tx, rec)
	}
	return nil
}

func (m *mockPaymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentRecord, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, tx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *mockPaymentRepo) FindByProviderPaymentID(ctx context.Context, tx repository.Tx, provider, paymentID string) (*model.PaymentRecord, error) {
	if m.FindByProviderPaymentIDFunc != nil {
		return m.FindByProviderPaymentIDFunc(ctx, tx, provider, paymentID)
	}
	return nil, domain.ErrNotFound
}

func (m *mockPaymentRepo) MarkSucceeded(ctx context.Context, tx repository.Tx, provider, paymentID, transactionID string) (bool, error) {
	if m.MarkSucceededFunc != nil {
		return m.MarkSucceededFunc(ctx, tx, provider, paymentID, transactionID)
	}
	return true, nil
}

func (m *mockPaymentRepo) UpdateStatusIfNotTerminal(ctx context.Context, tx repository.Tx, provider, paymentID string, status model.PaymentStatus) (bool, error) {
	if m.UpdateStatusIfNotTermFunc != nil {
		return m.UpdateStatusIfNotTermFunc(ctx, tx, provider, paymentID, status)
	}
	return true, nil
}

func (m *mockPaymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.PaymentRecord, error) {
	if m.ListPendingOlderThanFunc != nil {
		return m.ListPendingOlderThanFunc(ctx, tx, olderThan, limit)
	}
	return nil, nil
}

func (m *mockPaymentRepo) SumByPeriod(ctx context.Context, tx repository.Tx, period string) (int64, error) {
	if m.SumByPeriodFunc != nil {
		return m.SumByPeriodFunc(ctx, tx, period)
	}
	return 0, nil
}

// mockTxManager runs the closure inline with a nil tx; repositories accept
// nil as the non-transactional path.
type mockTxManager struct{}

func (mockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, nil)
}

// fakeProvider is a minimal Provider for manager tests.
type fakeProvider struct {
	name         string
	enabled      bool
	CreateFunc   func(ctx context.Context, params model.CreatePaymentParams) (*model.PaymentIntent, error)
	ValidateFunc func(ctx context.Context, payload []byte, sig port.Signature) *model.WebhookEvent
	HandleFunc   func(ctx context.Context, ev *model.WebhookEvent) (*model.PaymentResult, error)
	StatusFunc   func(ctx context.Context, paymentID string) (model.PaymentStatus, error)
}

var _ port.Provider = (*fakeProvider)(nil)

func (f *fakeProvider) Name() string  { return f.name }
func (f *fakeProvider) Enabled() bool { return f.enabled }
func (f *fakeProvider) Method() port.MethodInfo {
	return port.MethodInfo{Provider: f.name, Name: f.name, Enabled: f.enabled}
}

func (f *fakeProvider) CreatePayment(ctx context.Context, params model.CreatePaymentParams) (*model.PaymentIntent, error) {
	if f.CreateFunc != nil {
		return f.CreateFunc(ctx, params)
	}
	return &model.PaymentIntent{ID: "fake-1", Amount: params.Amount, Currency: params.Currency, Status: model.PaymentStatusPending}, nil
}

func (f *fakeProvider) GetPaymentStatus(ctx context.Context, paymentID string) (model.PaymentStatus, error) {
	if f.StatusFunc != nil {
		return f.StatusFunc(ctx, paymentID)
	}
	return model.PaymentStatusPending, nil
}

func (f *fakeProvider) ConfirmPayment(ctx context.Context, paymentID string) (*model.PaymentResult, error) {
	return nil, domain.ErrUnsupportedOperation
}

func (f *fakeProvider) CancelPayment(ctx context.Context, paymentID string) (*model.PaymentResult, error) {
	return nil, domain.ErrUnsupportedOperation
}

func (f *fakeProvider) RefundPayment(ctx context.Context, paymentID string, amountMinor int64, reason string) (*model.PaymentResult, error) {
	return nil, domain.ErrUnsupportedOperation
}

func (f *fakeProvider) ValidateWebhook(ctx context.Context, payload []byte, sig port.Signature) *model.WebhookEvent {
	if f.ValidateFunc != nil {
		return f.ValidateFunc(ctx, payload, sig)
	}
	return nil
}

func (f *fakeProvider) HandleWebhook(ctx context.Context, ev *model.WebhookEvent) (*model.PaymentResult, error) {
	if f.HandleFunc != nil {
		return f.HandleFunc(ctx, ev)
	}
	return &model.PaymentResult{Success: true, PaymentID: ev.PaymentID, Status: ev.Status}, nil
}

func (f *fakeProvider) WebhookAck() (string, string) { return "text/plain", "ok" }
