package gateway

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
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

// AlipayConfig configures the RSA2-signed direct gateway.
type AlipayConfig struct {
	Enabled         bool
	TestMode        bool
	AppID           string
	PrivateKey      string // merchant private key, PEM (PKCS#1 or PKCS#8)
	AlipayPublicKey string // partner public key used to verify callbacks, PEM
	GatewayURL      string
	NotifyURL       string
	ReturnURL       string
}

const (
	alipaySuccessCode = "10000"
	alipayTimeFormat  = "2006-01-02 15:04:05"
	alipayWindow      = 15 * time.Minute
)

var _ port.Provider = (*Alipay)(nil)

// Alipay signs requests with RSA-SHA256 over the sorted, filtered parameter
// string using the merchant private key and verifies inbound callbacks with
// the partner public key the same way. Status query, cancel, and refund are
// live remote calls with per-method business-response envelopes.
type Alipay struct {
	cfg     AlipayConfig
	priv    *rsa.PrivateKey
	pub     *rsa.PublicKey
	submit  *http.Client
	query   *http.Client
	applier *recordApplier
	log     *zerolog.Logger
}

func NewAlipay(cfg AlipayConfig, payments repository.PaymentRepository, txm repository.TransactionManager, onSuccess port.SuccessHook, log *zerolog.Logger) (*Alipay, error) {
	if cfg.GatewayURL == "" {
		cfg.GatewayURL = "https://openapi.alipay.com/gateway.do"
	}
	a := &Alipay{
		cfg:     cfg,
		submit:  newHTTPClient(submitTimeout),
		query:   newHTTPClient(statusTimeout),
		applier: newRecordApplier(payments, txm, onSuccess, log),
		log:     log,
	}
	if cfg.PrivateKey != "" {
		priv, err := ParseRSAPrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("alipay private key: %w", err)
		}
		a.priv = priv
	}
	if cfg.AlipayPublicKey != "" {
		pub, err := ParseRSAPublicKey(cfg.AlipayPublicKey)
		if err != nil {
			return nil, fmt.Errorf("alipay public key: %w", err)
		}
		a.pub = pub
	}
	return a, nil
}

func (a *Alipay) Name() string { return "alipay" }

func (a *Alipay) Enabled() bool {
	return a.cfg.Enabled && a.cfg.AppID != "" && a.priv != nil && a.pub != nil
}

func (a *Alipay) Method() port.MethodInfo {
	return port.MethodInfo{Provider: a.Name(), Name: "Alipay", Enabled: a.Enabled(), TestMode: a.cfg.TestMode}
}

func (a *Alipay) CreatePayment(ctx context.Context, params model.CreatePaymentParams) (*model.PaymentIntent, error) {
	if !a.Enabled() {
		return nil, fmt.Errorf("%w: alipay", domain.ErrProviderDisabled)
	}
	orderID := ulid.Make().String()
	now := time.Now()
	expires := now.Add(alipayWindow)

	if params.Flow == model.FlowQR {
		// QR generation is a secondary remote call; on failure degrade to a
		// plain redirect URL instead of raising.
		qr, err := a.precreate(ctx, orderID, params)
		if err == nil {
			return &model.PaymentIntent{
				ID: orderID, Amount: params.Amount, Currency: params.Currency,
				Status: model.PaymentStatusPending, QRCode: qr,
				Metadata: params.Metadata, CreatedAt: now, ExpiresAt: &expires,
			}, nil
		}
		a.log.Warn().Err(err).Str("order_id", orderID).Msg("alipay precreate failed, degrading to redirect")
	}

	biz, _ := json.Marshal(map[string]string{
		"out_trade_no":    orderID,
		"total_amount":    FormatAmount(params.Amount, params.Currency),
		"subject":         params.Description,
		"product_code":    "FAST_INSTANT_TRADE_PAY",
		"timeout_express": "15m",
	})
	p := a.baseParams("alipay.trade.page.pay", string(biz), params)
	sign, err := rsaSign(a.priv, []byte(sortedQuery(p, "sign")))
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	for k, v := range p {
		if v != "" {
			q.Set(k, v)
		}
	}
	q.Set("sign", sign)
	return &model.PaymentIntent{
		ID: orderID, Amount: params.Amount, Currency: params.Currency,
		Status:     model.PaymentStatusPending,
		PaymentURL: a.cfg.GatewayURL + "?" + q.Encode(),
		Metadata:   params.Metadata, CreatedAt: now, ExpiresAt: &expires,
	}, nil
}

func (a *Alipay) GetPaymentStatus(ctx context.Context, paymentID string) (model.PaymentStatus, error) {
	resp, err := a.bizCall(ctx, a.query, "alipay.trade.query", map[string]string{"out_trade_no": paymentID}, "status")
	if err != nil {
		// Remote query failed; fall back to the last persisted status.
		return a.applier.persistedStatus(ctx, a.Name(), paymentID)
	}
	if resp.Code != alipaySuccessCode {
		return a.applier.persistedStatus(ctx, a.Name(), paymentID)
	}
	return alipayStatus(resp.TradeStatus), nil
}

func (a *Alipay) ConfirmPayment(ctx context.Context, paymentID string) (*model.PaymentResult, error) {
	return nil, fmt.Errorf("%w: alipay confirm", domain.ErrUnsupportedOperation)
}

func (a *Alipay) CancelPayment(ctx context.Context, paymentID string) (*model.PaymentResult, error) {
	resp, err := a.bizCall(ctx, a.query, "alipay.trade.close", map[string]string{"out_trade_no": paymentID}, "cancel")
	if err != nil {
		return nil, err
	}
	if resp.Code != alipaySuccessCode {
		return &model.PaymentResult{Success: false, PaymentID: paymentID, Status: model.PaymentStatusFailed, Message: resp.Message()}, nil
	}
	return &model.PaymentResult{Success: true, PaymentID: paymentID, Status: model.PaymentStatusCanceled}, nil
}

func (a *Alipay) RefundPayment(ctx context.Context, paymentID string, amountMinor int64, reason string) (*model.PaymentResult, error) {
	rec, err := a.applier.payments.FindByProviderPaymentID(ctx, nil, a.Name(), paymentID)
	if err != nil {
		return nil, err
	}
	biz := map[string]string{
		"out_trade_no":  paymentID,
		"refund_amount": FormatAmount(FromMinorUnits(amountMinor, rec.Currency), rec.Currency),
	}
	if reason != "" {
		biz["refund_reason"] = reason
	}
	resp, err := a.bizCall(ctx, a.submit, "alipay.trade.refund", biz, "refund")
	if err != nil {
		return nil, err
	}
	if resp.Code != alipaySuccessCode {
		return &model.PaymentResult{Success: false, PaymentID: paymentID, Status: model.PaymentStatusFailed, Message: resp.Message()}, nil
	}
	return &model.PaymentResult{Success: true, PaymentID: paymentID, Status: model.PaymentStatusSucceeded, Message: "refund accepted"}, nil
}

// ValidateWebhook verifies the callback form with the partner public key,
// excluding the sign and sign_type fields from the signed string.
func (a *Alipay) ValidateWebhook(ctx context.Context, payload []byte, sig port.Signature) *model.WebhookEvent {
	if a.pub == nil {
		return nil
	}
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
	base := sortedQuery(p, "sign", "sign_type")
	if rsaVerify(a.pub, []byte(base), provided) != nil {
		return nil
	}
	return &model.WebhookEvent{
		ID:            p["notify_id"],
		Type:          p["trade_status"],
		Provider:      a.Name(),
		PaymentID:     p["out_trade_no"],
		TransactionID: p["trade_no"],
		Status:        alipayStatus(p["trade_status"]),
		Data:          p,
		Raw:           payload,
		Timestamp:     time.Now(),
	}
}

func (a *Alipay) HandleWebhook(ctx context.Context, ev *model.WebhookEvent) (*model.PaymentResult, error) {
	return a.applier.apply(ctx, a.Name(), ev)
}

func (a *Alipay) WebhookAck() (string, string) { return "text/plain", "success" }

// ---- wire helpers ----

func (a *Alipay) baseParams(method, bizContent string, params model.CreatePaymentParams) map[string]string {
	notify := params.NotifyURL
	if notify == "" {
		notify = a.cfg.NotifyURL
	}
	ret := params.ReturnURL
	if ret == "" {
		ret = a.cfg.ReturnURL
	}
	return map[string]string{
		"app_id":      a.cfg.AppID,
		"method":      method,
		"charset":     "utf-8",
		"sign_type":   "RSA2",
		"timestamp":   time.Now().Format(alipayTimeFormat),
		"version":     "1.0",
		"notify_url":  notify,
		"return_url":  ret,
		"biz_content": bizContent,
	}
}

// alipayResponse is the shared business-response envelope: code discriminates
// success from failure and the error message is surfaced to the caller.
type alipayResponse struct {
	Code        string `json:"code"`
	Msg         string `json:"msg"`
	SubMsg      string `json:"sub_msg"`
	TradeNo     string `json:"trade_no"`
	TradeStatus string `json:"trade_status"`
	QRCode      string `json:"qr_code"`
}

func (r alipayResponse) Message() string {
	if r.SubMsg != "" {
		return r.SubMsg
	}
	return r.Msg
}

func (a *Alipay) precreate(ctx context.Context, orderID string, params model.CreatePaymentParams) (string, error) {
	biz, _ := json.Marshal(map[string]string{
		"out_trade_no": orderID,
		"total_amount": FormatAmount(params.Amount, params.Currency),
		"subject":      params.Description,
		"product_code": "FACE_TO_FACE_PAYMENT",
	})
	resp, err := a.call(ctx, a.submit, "alipay.trade.precreate", string(biz), model.CreatePaymentParams{}, "precreate")
	if err != nil {
		return "", err
	}
	if resp.Code != alipaySuccessCode || resp.QRCode == "" {
		return "", upstreamRejected(resp.Code, resp.Message())
	}
	return resp.QRCode, nil
}

func (a *Alipay) bizCall(ctx context.Context, client *http.Client, method string, biz map[string]string, op string) (*alipayResponse, error) {
	b, _ := json.Marshal(biz)
	return a.call(ctx, client, method, string(b), model.CreatePaymentParams{}, op)
}

// call POSTs a signed request to the gateway and unwraps the method-specific
// response envelope (the envelope key is derived from the method name).
func (a *Alipay) call(ctx context.Context, client *http.Client, method, bizContent string, params model.CreatePaymentParams, op string) (*alipayResponse, error) {
	defer observe(a.Name(), op, time.Now())
	p := a.baseParams(method, bizContent, params)
	sign, err := rsaSign(a.priv, []byte(sortedQuery(p, "sign")))
	if err != nil {
		return nil, err
	}
	form := url.Values{}
	for k, v := range p {
		if v != "" {
			form.Set(k, v)
		}
	}
	form.Set("sign", sign)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.GatewayURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyTransportErr(a.Name(), err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportErr(a.Name(), err)
	}
	envelopeKey := strings.ReplaceAll(method, ".", "_") + "_response"
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(raw, &outer); err != nil {
		return nil, fmt.Errorf("alipay response: %w", err)
	}
	inner, ok := outer[envelopeKey]
	if !ok {
		return nil, upstreamRejected("", "missing response envelope")
	}
	var out alipayResponse
	if err := json.Unmarshal(inner, &out); err != nil {
		return nil, fmt.Errorf("alipay response envelope: %w", err)
	}
	return &out, nil
}

// alipayStatus is the fixed trade-status table; undocumented values map to
// processing, never to succeeded.
func alipayStatus(tradeStatus string) model.PaymentStatus {
	switch tradeStatus {
	case "WAIT_BUYER_PAY":
		return model.PaymentStatusPending
	case "TRADE_CLOSED":
		return model.PaymentStatusCanceled
	case "TRADE_SUCCESS", "TRADE_FINISHED":
		return model.PaymentStatusSucceeded
	default:
		return model.PaymentStatusProcessing
	}
}
