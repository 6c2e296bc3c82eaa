package gateway

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ai-subscription-payments/internal/domain"
	"ai-subscription-payments/internal/domain/model"
	port "ai-subscription-payments/internal/domain/ports/gateway"
	"ai-subscription-payments/internal/domain/ports/repository"
)

// StripeConfig configures the card-network intent provider. It is owned by the
// provider constructed with it and never mutated afterwards.
type StripeConfig struct {
	Enabled       bool
	TestMode      bool
	APIKey        string
	WebhookSecret string
	APIBase       string
}

// webhookTolerance bounds the accepted age of a signed event envelope.
const stripeWebhookTolerance = 5 * time.Minute

var _ port.Provider = (*Stripe)(nil)

// Stripe creates card payments through the intent API and confirms them via
// signed webhook events. Amounts are converted to the per-currency minor-unit
// convention on the way out and reversed on the way back.
type Stripe struct {
	cfg     StripeConfig
	submit  *http.Client
	query   *http.Client
	applier *recordApplier
	now     func() time.Time
	log     *zerolog.Logger
}

func NewStripe(cfg StripeConfig, payments repository.PaymentRepository, txm repository.TransactionManager, onSuccess port.SuccessHook, log *zerolog.Logger) *Stripe {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.stripe.com"
	}
	return &Stripe{
		cfg:     cfg,
		submit:  newHTTPClient(submitTimeout),
		query:   newHTTPClient(statusTimeout),
		applier: newRecordApplier(payments, txm, onSuccess, log),
		now:     time.Now,
		log:     log,
	}
}

func (s *Stripe) Name() string { return "stripe" }

func (s *Stripe) Enabled() bool {
	return s.cfg.Enabled && s.cfg.APIKey != "" && s.cfg.WebhookSecret != ""
}

func (s *Stripe) Method() port.MethodInfo {
	return port.MethodInfo{Provider: s.Name(), Name: "Credit / Debit Card", Enabled: s.Enabled(), TestMode: s.cfg.TestMode}
}

func (s *Stripe) CreatePayment(ctx context.Context, params model.CreatePaymentParams) (*model.PaymentIntent, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("%w: stripe", domain.ErrProviderDisabled)
	}
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(ToMinorUnits(params.Amount, params.Currency), 10))
	form.Set("currency", strings.ToLower(params.Currency))
	form.Set("automatic_payment_methods[enabled]", "true")
	if params.Description != "" {
		form.Set("description", params.Description)
	}
	if params.UserEmail != "" {
		form.Set("receipt_email", params.UserEmail)
	}
	form.Set("metadata[user_id]", params.UserID)
	if params.PlanID != "" {
		form.Set("metadata[plan_id]", params.PlanID)
	}
	for k, v := range params.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	var out stripeIntent
	if err := s.call(ctx, s.submit, http.MethodPost, "/v1/payment_intents", form, &out, "create"); err != nil {
		return nil, err
	}
	return &model.PaymentIntent{
		ID:           out.ID,
		Amount:       FromMinorUnits(out.Amount, out.Currency),
		Currency:     strings.ToUpper(out.Currency),
		Status:       stripeStatus(out.Status),
		ClientSecret: out.ClientSecret,
		Metadata:     params.Metadata,
		CreatedAt:    time.Unix(out.Created, 0),
	}, nil
}

func (s *Stripe) GetPaymentStatus(ctx context.Context, paymentID string) (model.PaymentStatus, error) {
	var out stripeIntent
	if err := s.call(ctx, s.query, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(paymentID), nil, &out, "status"); err != nil {
		// The remote query failed; fall back to the last persisted status.
		return s.applier.persistedStatus(ctx, s.Name(), paymentID)
	}
	return stripeStatus(out.Status), nil
}

func (s *Stripe) ConfirmPayment(ctx context.Context, paymentID string) (*model.PaymentResult, error) {
	var out stripeIntent
	if err := s.call(ctx, s.submit, http.MethodPost, "/v1/payment_intents/"+url.PathEscape(paymentID)+"/confirm", url.Values{}, &out, "confirm"); err != nil {
		return nil, err
	}
	st := stripeStatus(out.Status)
	return &model.PaymentResult{Success: st == model.PaymentStatusSucceeded || st == model.PaymentStatusProcessing, PaymentID: paymentID, Status: st}, nil
}

func (s *Stripe) CancelPayment(ctx context.Context, paymentID string) (*model.PaymentResult, error) {
	var out stripeIntent
	if err := s.call(ctx, s.query, http.MethodPost, "/v1/payment_intents/"+url.PathEscape(paymentID)+"/cancel", url.Values{}, &out, "cancel"); err != nil {
		return nil, err
	}
	return &model.PaymentResult{Success: true, PaymentID: paymentID, Status: model.PaymentStatusCanceled}, nil
}

func (s *Stripe) RefundPayment(ctx context.Context, paymentID string, amountMinor int64, reason string) (*model.PaymentResult, error) {
	form := url.Values{}
	form.Set("payment_intent", paymentID)
	if amountMinor > 0 {
		form.Set("amount", strconv.FormatInt(amountMinor, 10))
	}
	if reason != "" {
		form.Set("reason", reason)
	}
	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := s.call(ctx, s.submit, http.MethodPost, "/v1/refunds", form, &out, "refund"); err != nil {
		return nil, err
	}
	return &model.PaymentResult{Success: out.Status == "succeeded" || out.Status == "pending", PaymentID: paymentID, Status: model.PaymentStatusSucceeded, Message: "refund " + out.Status}, nil
}

// ValidateWebhook checks the signed-event envelope: a timestamped HMAC-SHA256
// over "t.payload" with the shared webhook secret, within the tolerance
// window. Returns nil on any mismatch.
func (s *Stripe) ValidateWebhook(ctx context.Context, payload []byte, sig port.Signature) *model.WebhookEvent {
	ts, candidates := parseStripeSignature(sig.Value)
	if ts == "" || len(candidates) == 0 {
		return nil
	}
	tsUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil
	}
	age := s.now().Sub(time.Unix(tsUnix, 0))
	if age > stripeWebhookTolerance || age < -stripeWebhookTolerance {
		return nil
	}
	expected := hmacSHA256Hex([]byte(s.cfg.WebhookSecret), ts+"."+string(payload))
	valid := false
	for _, c := range candidates {
		if hmac.Equal([]byte(expected), []byte(c)) {
			valid = true
			break
		}
	}
	if !valid {
		return nil
	}

	var env struct {
		ID      string `json:"id"`
		Type    string `json:"type"`
		Created int64  `json:"created"`
		Data    struct {
			Object struct {
				ID           string `json:"id"`
				Status       string `json:"status"`
				LatestCharge string `json:"latest_charge"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil
	}
	return &model.WebhookEvent{
		ID:            env.ID,
		Type:          env.Type,
		Provider:      s.Name(),
		PaymentID:     env.Data.Object.ID,
		TransactionID: env.Data.Object.LatestCharge,
		Status:        stripeEventStatus(env.Type),
		Raw:           payload,
		Timestamp:     time.Unix(env.Created, 0),
	}
}

func (s *Stripe) HandleWebhook(ctx context.Context, ev *model.WebhookEvent) (*model.PaymentResult, error) {
	return s.applier.apply(ctx, s.Name(), ev)
}

func (s *Stripe) WebhookAck() (string, string) { return "application/json", `{"received":true}` }

// ---- wire helpers ----

type stripeIntent struct {
	ID           string `json:"id"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
	ClientSecret string `json:"client_secret"`
	Created      int64  `json:"created"`
}

func (s *Stripe) call(ctx context.Context, client *http.Client, method, path string, form url.Values, out any, op string) error {
	defer observe(s.Name(), op, time.Now())
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, s.cfg.APIBase+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := client.Do(req)
	if err != nil {
		return classifyTransportErr(s.Name(), err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyTransportErr(s.Name(), err)
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		return upstreamRejected(apiErr.Error.Code, apiErr.Error.Message)
	}
	return json.Unmarshal(raw, out)
}

// parseStripeSignature splits "t=1492774577,v1=abc,v1=def" into the timestamp
// and the v1 signature candidates.
func parseStripeSignature(header string) (ts string, v1 []string) {
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts = kv[1]
		case "v1":
			v1 = append(v1, kv[1])
		}
	}
	return ts, v1
}

// stripeStatus is the fixed remote-status table. Undocumented values map to
// failed, never to succeeded.
func stripeStatus(remote string) model.PaymentStatus {
	switch remote {
	case "requires_payment_method", "requires_confirmation":
		return model.PaymentStatusPending
	case "requires_action":
		return model.PaymentStatusRequiresAction
	case "processing", "requires_capture":
		return model.PaymentStatusProcessing
	case "canceled":
		return model.PaymentStatusCanceled
	case "succeeded":
		return model.PaymentStatusSucceeded
	default:
		return model.PaymentStatusFailed
	}
}

// stripeEventStatus maps handled webhook event types; anything else yields an
// empty status which the applier treats as an accepted no-op.
func stripeEventStatus(eventType string) model.PaymentStatus {
	switch eventType {
	case "payment_intent.succeeded":
		return model.PaymentStatusSucceeded
	case "payment_intent.payment_failed":
		return model.PaymentStatusFailed
	case "payment_intent.canceled":
		return model.PaymentStatusCanceled
	case "payment_intent.requires_action":
		return model.PaymentStatusRequiresAction
	default:
		return ""
	}
}
