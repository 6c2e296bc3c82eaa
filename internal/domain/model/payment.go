package model

import (
	"time"

	"ai-subscription-payments/internal/domain"
)

type PaymentStatus string

const (
	PaymentStatusPending        PaymentStatus = "pending"         // record created; payer has not acted yet
	PaymentStatusProcessing     PaymentStatus = "processing"      // payer acted; awaiting gateway confirmation
	PaymentStatusRequiresAction PaymentStatus = "requires_action" // card flows needing further user interaction
	PaymentStatusSucceeded      PaymentStatus = "succeeded"
	PaymentStatusFailed         PaymentStatus = "failed"
	PaymentStatusCanceled       PaymentStatus = "canceled"
	PaymentStatusExpired        PaymentStatus = "expired"
)

// Terminal reports whether the status is final. A terminal record must never
// revert to a non-terminal state; duplicate webhooks re-reporting the same
// terminal status are no-ops.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusCanceled, PaymentStatusExpired:
		return true
	}
	return false
}

// PaymentFlow selects how the payer completes the payment.
type PaymentFlow string

const (
	FlowRedirect PaymentFlow = "redirect" // browser redirect / H5 form
	FlowQR       PaymentFlow = "qr"       // precreated QR code for scan-to-pay
	FlowInApp    PaymentFlow = "in_app"   // JSAPI-style in-app flow; needs a payer id
)

// CreatePaymentParams is the caller-facing input for opening a payment.
// Amount is in decimal major units of Currency.
type CreatePaymentParams struct {
	Amount         float64
	Currency       string
	Description    string
	UserID         string
	UserEmail      string
	PlanID         string
	SubscriptionID string
	NotifyURL      string
	ReturnURL      string
	Flow           PaymentFlow
	PayerID        string // provider-side payer identifier (e.g. openid) for in-app flows
	ClientIP       string // payer's source address, required by some H5 risk fields
	Metadata       map[string]string
	Provider       string // explicit provider choice; empty means registry default
}

func (p CreatePaymentParams) Validate() error {
	if p.Amount <= 0 {
		return domain.ErrInvalidAmount
	}
	if p.Currency == "" || p.UserID == "" {
		return domain.ErrInvalidArgument
	}
	return nil
}

// PaymentIntent is the result of creating a payment with a provider.
// Exactly one of ClientSecret / PaymentURL / QRCode is populated, depending on
// the provider's flow. ID is stable for the lifetime of the transaction and is
// the join key to the persisted PaymentRecord.
type PaymentIntent struct {
	ID           string
	Amount       float64
	Currency     string
	Status       PaymentStatus
	ClientSecret string
	PaymentURL   string
	QRCode       string
	Metadata     map[string]string
	CreatedAt    time.Time
	ExpiresAt    *time.Time
}

// PaymentRecord is the persisted billing record. Amount is stored in minor
// units of Currency to avoid float drift in the ledger; conversion back to
// major units is currency-aware.
type PaymentRecord struct {
	ID             string // = PaymentIntent.ID
	UserID         string
	Provider       string
	PaymentMethod  string
	Amount         int64
	Currency       string
	Status         PaymentStatus
	Description    string
	PaymentID      string // provider-side order id
	TransactionID  string // provider-side settlement id, set only on success
	PlanID         string
	SubscriptionID string
	Metadata       map[string]string // provider-specific technical fields only
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
	FailedAt       *time.Time
}

// WebhookEvent is the normalized shape assembled after signature validation.
// It is ephemeral; only its effects on the billing record are persisted.
type WebhookEvent struct {
	ID            string
	Type          string
	Provider      string
	PaymentID     string // provider-side order id the event refers to
	TransactionID string
	Status        PaymentStatus // unified mapping of the remote status
	Data          map[string]string
	Raw           []byte
	Timestamp     time.Time
}

// PaymentResult reports the outcome of a confirm/cancel/refund/webhook operation.
type PaymentResult struct {
	Success   bool
	PaymentID string
	Status    PaymentStatus
	Message   string
}
