package gateway

import (
	"context"

	"ai-subscription-payments/internal/domain/model"
	"ai-subscription-payments/internal/domain/ports/repository"
)

// Signature carries the out-of-band webhook authentication material. Depending
// on the provider it arrives as a query parameter, a form field embedded in the
// body, or a structured header set.
type Signature struct {
	Value     string
	Timestamp string
	Nonce     string
	SerialNo  string
}

// MethodInfo is the public-safe description of a configured provider. It must
// never carry secrets; it crosses the boundary to clients verbatim.
type MethodInfo struct {
	Provider string `json:"provider"`
	Name     string `json:"name"`
	Enabled  bool   `json:"enabled"`
	TestMode bool   `json:"testMode"`
}

// Provider is the contract every payment gateway implementation satisfies.
//
// ValidateWebhook returns nil on signature mismatch or undecryptable payloads
// rather than an error, so the HTTP layer can reject with a bare 4xx without
// leaking verification internals. HandleWebhook must be safe to call more than
// once with the same event.
type Provider interface {
	Name() string
	// Enabled reports config-enabled AND config-complete.
	Enabled() bool
	Method() MethodInfo

	CreatePayment(ctx context.Context, params model.CreatePaymentParams) (*model.PaymentIntent, error)
	// GetPaymentStatus queries the remote gateway, falling back to the last
	// persisted status when the remote query itself fails.
	GetPaymentStatus(ctx context.Context, paymentID string) (model.PaymentStatus, error)

	// Optional capabilities; providers lacking one fail with
	// domain.ErrUnsupportedOperation.
	ConfirmPayment(ctx context.Context, paymentID string) (*model.PaymentResult, error)
	CancelPayment(ctx context.Context, paymentID string) (*model.PaymentResult, error)
	RefundPayment(ctx context.Context, paymentID string, amountMinor int64, reason string) (*model.PaymentResult, error)

	ValidateWebhook(ctx context.Context, payload []byte, sig Signature) *model.WebhookEvent
	HandleWebhook(ctx context.Context, ev *model.WebhookEvent) (*model.PaymentResult, error)

	// WebhookAck returns the content type and literal body the remote gateway
	// expects on an accepted notification; gateways retry on anything else.
	WebhookAck() (contentType string, body string)
}

// SuccessHook runs exactly once when a payment record first transitions to
// succeeded. It executes inside the same transaction as the conditional
// update (tx is the live transaction handle): if the hook fails, the
// transition rolls back and the next delivery retries both together.
type SuccessHook func(ctx context.Context, tx repository.Tx, rec *model.PaymentRecord) error
