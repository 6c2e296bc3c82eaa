package gateway

import (
	"context"
	"crypto/hmac"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"ai-subscription-payments/internal/domain"
	"ai-subscription-payments/internal/domain/model"
	port "ai-subscription-payments/internal/domain/ports/gateway"
	"ai-subscription-payments/internal/domain/ports/repository"
)

// EpayConfig configures the redirect/QR aggregator. SignType supports "MD5";
// "RSA" is accepted by upstream docs but not implemented here, and selecting
// it fails loudly rather than silently falling back.
type EpayConfig struct {
	Enabled     bool
	TestMode    bool
	MerchantID  string // pid
	MerchantKey string
	APIBase     string // gateway root, e.g. https://pay.example.com
	SignType    string // MD5
	Channel     string // default payment channel hint (alipay|wxpay|qqpay)
	NotifyURL   string
	ReturnURL   string
}

// epayWindow is the business payment window enforced by the aggregator and
// mirrored into the intent expiry.
const epayWindow = 15 * time.Minute

var _ port.Provider = (*Epay)(nil)

// Epay builds a signed redirect-form payment URL. The aggregator communicates
// exclusively via asynchronous callback, so status is read from the locally
// persisted record and there are no remote query calls at all.
type Epay struct {
	cfg     EpayConfig
	applier *recordApplier
	log     *zerolog.Logger
}

func NewEpay(cfg EpayConfig, payments repository.PaymentRepository, txm repository.TransactionManager, onSuccess port.SuccessHook, log *zerolog.Logger) *Epay {
	if cfg.SignType == "" {
		cfg.SignType = "MD5"
	}
	if cfg.Channel == "" {
		cfg.Channel = "alipay"
	}
	return &Epay{cfg: cfg, applier: newRecordApplier(payments, txm, onSuccess, log), log: log}
}

func (e *Epay) Name() string { return "epay" }

func (e *Epay) Enabled() bool {
	return e.cfg.Enabled && e.cfg.MerchantID != "" && e.cfg.MerchantKey != "" && e.cfg.APIBase != ""
}

func (e *Epay) Method() port.MethodInfo {
	return port.MethodInfo{Provider: e.Name(), Name: "Epay (Alipay / WeChat / QQ)", Enabled: e.Enabled(), TestMode: e.cfg.TestMode}
}

func (e *Epay) CreatePayment(ctx context.Context, params model.CreatePaymentParams) (*model.PaymentIntent, error) {
	if !e.Enabled() {
		return nil, fmt.Errorf("%w: epay", domain.ErrProviderDisabled)
	}
	if !strings.EqualFold(e.cfg.SignType, "MD5") {
		return nil, fmt.Errorf("%w: epay sign type %q is not implemented", domain.ErrUnsupportedOperation, e.cfg.SignType)
	}
	channel := e.cfg.Channel
	if c := params.Metadata["channel"]; c != "" {
		channel = c
	}
	notify := params.NotifyURL
	if notify == "" {
		notify = e.cfg.NotifyURL
	}
	ret := params.ReturnURL
	if ret == "" {
		ret = e.cfg.ReturnURL
	}
	orderID := ulid.Make().String()
	p := map[string]string{
		"pid":          e.cfg.MerchantID,
		"type":         channel,
		"out_trade_no": orderID,
		"notify_url":   notify,
		"return_url":   ret,
		"name":         params.Description,
		"money":        FormatAmount(params.Amount, params.Currency),
	}
	sign := md5Sign(sortedQuery(p, "sign", "sign_type"), e.cfg.MerchantKey)

	q := url.Values{}
	for k, v := range p {
		if v != "" {
			q.Set(k, v)
		}
	}
	q.Set("sign", sign)
	q.Set("sign_type", "MD5")

	now := time.Now()
	expires := now.Add(epayWindow)
	return &model.PaymentIntent{
		ID:         orderID,
		Amount:     params.Amount,
		Currency:   params.Currency,
		Status:     model.PaymentStatusPending,
		PaymentURL: strings.TrimRight(e.cfg.APIBase, "/") + "/submit.php?" + q.Encode(),
		Metadata:   params.Metadata,
		CreatedAt:  now,
		ExpiresAt:  &expires,
	}, nil
}

// GetPaymentStatus reads the locally persisted record; the aggregator has no
// query API.
func (e *Epay) GetPaymentStatus(ctx context.Context, paymentID string) (model.PaymentStatus, error) {
	return e.applier.persistedStatus(ctx, e.Name(), paymentID)
}

func (e *Epay) ConfirmPayment(ctx context.Context, paymentID string) (*model.PaymentResult, error) {
	return nil, fmt.Errorf("%w: epay confirm", domain.ErrUnsupportedOperation)
}

func (e *Epay) CancelPayment(ctx context.Context, paymentID string) (*model.PaymentResult, error) {
	return nil, fmt.Errorf("%w: epay cancel", domain.ErrUnsupportedOperation)
}

// RefundPayment is declared unsupported by the aggregator: it reports a static
// manual-processing result and never makes an outbound call.
func (e *Epay) RefundPayment(ctx context.Context, paymentID string, amountMinor int64, reason string) (*model.PaymentResult, error) {
	return &model.PaymentResult{
		Success:   false,
		PaymentID: paymentID,
		Status:    model.PaymentStatusFailed,
		Message:   "manual processing required",
	}, nil
}

// ValidateWebhook recomputes the MD5 signature over the callback parameters
// and compares it to the transmitted sign field (or the out-of-band signature
// when the gateway sends one). Any mismatch returns nil with no state touched.
func (e *Epay) ValidateWebhook(ctx context.Context, payload []byte, sig port.Signature) *model.WebhookEvent {
	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return nil
	}
	p := make(map[string]string, len(values))
	for k := range values {
		p[k] = values.Get(k)
	}
	provided := p["sign"]
	if provided == "" {
		provided = sig.Value
	}
	if provided == "" {
		return nil
	}
	expected := md5Sign(sortedQuery(p, "sign", "sign_type"), e.cfg.MerchantKey)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(provided))) {
		return nil
	}
	return &model.WebhookEvent{
		ID:            p["trade_no"],
		Type:          p["trade_status"],
		Provider:      e.Name(),
		PaymentID:     p["out_trade_no"],
		TransactionID: p["trade_no"],
		Status:        epayStatus(p["trade_status"]),
		Data:          p,
		Raw:           payload,
		Timestamp:     time.Now(),
	}
}

func (e *Epay) HandleWebhook(ctx context.Context, ev *model.WebhookEvent) (*model.PaymentResult, error) {
	return e.applier.apply(ctx, e.Name(), ev)
}

func (e *Epay) WebhookAck() (string, string) { return "text/plain", "success" }

func epayStatus(tradeStatus string) model.PaymentStatus {
	switch tradeStatus {
	case "TRADE_SUCCESS", "TRADE_FINISHED":
		return model.PaymentStatusSucceeded
	case "TRADE_CLOSED":
		return model.PaymentStatusCanceled
	default:
		return model.PaymentStatusProcessing
	}
}
