package gateway

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"ai-subscription-payments/internal/domain"
	"ai-subscription-payments/internal/domain/model"
	port "ai-subscription-payments/internal/domain/ports/gateway"
	"ai-subscription-payments/internal/domain/ports/repository"
)

// WeChatPayConfig configures the private-key REST gateway. APIv3Key is the
// 32-byte symmetric key used to authenticated-decrypt webhook resources.
// PlatformPublicKey is optional; when set, callback header signatures are
// verified in addition to the AEAD authentication.
type WeChatPayConfig struct {
	Enabled           bool
	TestMode          bool
	MchID             string
	AppID             string
	SerialNo          string // merchant certificate serial
	PrivateKey        string // merchant private key, PEM
	APIv3Key          string
	PlatformPublicKey string // platform public key for callback header verification, PEM
	APIBase           string
	NotifyURL         string
}

const wechatWindow = 15 * time.Minute

var _ port.Provider = (*WeChatPay)(nil)

// WeChatPay authenticates every outbound call per-request: a canonical string
// METHOD\nPATH\nTIMESTAMP\nNONCE\nBODY\n signed with the merchant private key
// and carried in a structured Authorization header. No static API key is sent
// on the wire. Amounts are minor-unit (x100) for this gateway specifically,
// independent of the per-currency table used by the card provider.
type WeChatPay struct {
	cfg         WeChatPayConfig
	priv        *rsa.PrivateKey
	platformPub *rsa.PublicKey
	submit      *http.Client
	query       *http.Client
	applier     *recordApplier
	now         func() time.Time
	log         *zerolog.Logger
}

func NewWeChatPay(cfg WeChatPayConfig, payments repository.PaymentRepository, txm repository.TransactionManager, onSuccess port.SuccessHook, log *zerolog.Logger) (*WeChatPay, error) {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.mch.weixin.qq.com"
	}
	w := &WeChatPay{
		cfg:     cfg,
		submit:  newHTTPClient(submitTimeout),
		query:   newHTTPClient(statusTimeout),
		applier: newRecordApplier(payments, txm, onSuccess, log),
		now:     time.Now,
		log:     log,
	}
	if cfg.PrivateKey != "" {
		priv, err := ParseRSAPrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("wechatpay private key: %w", err)
		}
		w.priv = priv
	}
	if cfg.PlatformPublicKey != "" {
		pub, err := ParseRSAPublicKey(cfg.PlatformPublicKey)
		if err != nil {
			return nil, fmt.Errorf("wechatpay platform public key: %w", err)
		}
		w.platformPub = pub
	}
	return w, nil
}

func (w *WeChatPay) Name() string { return "wechatpay" }

func (w *WeChatPay) Enabled() bool {
	return w.cfg.Enabled && w.cfg.MchID != "" && w.cfg.AppID != "" &&
		w.cfg.SerialNo != "" && w.priv != nil && len(w.cfg.APIv3Key) == 32
}

func (w *WeChatPay) Method() port.MethodInfo {
	return port.MethodInfo{Provider: w.Name(), Name: "WeChat Pay", Enabled: w.Enabled(), TestMode: w.cfg.TestMode}
}

func (w *WeChatPay) CreatePayment(ctx context.Context, params model.CreatePaymentParams) (*model.PaymentIntent, error) {
	if !w.Enabled() {
		return nil, fmt.Errorf("%w: wechatpay", domain.ErrProviderDisabled)
	}
	orderID := ulid.Make().String()
	notify := params.NotifyURL
	if notify == "" {
		notify = w.cfg.NotifyURL
	}
	body := map[string]any{
		"appid":        w.cfg.AppID,
		"mchid":        w.cfg.MchID,
		"description":  params.Description,
		"out_trade_no": orderID,
		"notify_url":   notify,
		"amount": map[string]any{
			"total":    wechatMinor(params.Amount),
			"currency": params.Currency,
		},
	}

	var path string
	switch params.Flow {
	case model.FlowInApp:
		if params.PayerID == "" {
			return nil, fmt.Errorf("%w: wechatpay in-app flow requires a payer openid", domain.ErrInvalidArgument)
		}
		path = "/v3/pay/transactions/jsapi"
		body["payer"] = map[string]string{"openid": params.PayerID}
	case model.FlowRedirect:
		path = "/v3/pay/transactions/h5"
		ip := params.ClientIP
		if ip == "" {
			ip = "127.0.0.1"
		}
		body["scene_info"] = map[string]any{
			"payer_client_ip": ip,
			"h5_info":         map[string]string{"type": "Wap"},
		}
	default: // NATIVE is the default flow
		path = "/v3/pay/transactions/native"
	}

	var out struct {
		CodeURL  string `json:"code_url"`
		H5URL    string `json:"h5_url"`
		PrepayID string `json:"prepay_id"`
	}
	if err := w.call(ctx, w.submit, http.MethodPost, path, body, &out, "create"); err != nil {
		return nil, err
	}

	now := w.now()
	expires := now.Add(wechatWindow)
	intent := &model.PaymentIntent{
		ID: orderID, Amount: params.Amount, Currency: params.Currency,
		Status: model.PaymentStatusPending, Metadata: params.Metadata,
		CreatedAt: now, ExpiresAt: &expires,
	}
	switch params.Flow {
	case model.FlowInApp:
		intent.ClientSecret = out.PrepayID
	case model.FlowRedirect:
		intent.PaymentURL = out.H5URL
	default:
		intent.QRCode = out.CodeURL
	}
	return intent, nil
}

func (w *WeChatPay) GetPaymentStatus(ctx context.Context, paymentID string) (model.PaymentStatus, error) {
	path := "/v3/pay/transactions/out-trade-no/" + paymentID + "?mchid=" + w.cfg.MchID
	var out struct {
		TradeState string `json:"trade_state"`
	}
	if err := w.call(ctx, w.query, http.MethodGet, path, nil, &out, "status"); err != nil {
		// Remote query failed; fall back to the last persisted status.
		return w.applier.persistedStatus(ctx, w.Name(), paymentID)
	}
	return wechatStatus(out.TradeState), nil
}

func (w *WeChatPay) ConfirmPayment(ctx context.Context, paymentID string) (*model.PaymentResult, error) {
	return nil, fmt.Errorf("%w: wechatpay confirm", domain.ErrUnsupportedOperation)
}

func (w *WeChatPay) CancelPayment(ctx context.Context, paymentID string) (*model.PaymentResult, error) {
	path := "/v3/pay/transactions/out-trade-no/" + paymentID + "/close"
	if err := w.call(ctx, w.query, http.MethodPost, path, map[string]any{"mchid": w.cfg.MchID}, nil, "cancel"); err != nil {
		return nil, err
	}
	return &model.PaymentResult{Success: true, PaymentID: paymentID, Status: model.PaymentStatusCanceled}, nil
}

func (w *WeChatPay) RefundPayment(ctx context.Context, paymentID string, amountMinor int64, reason string) (*model.PaymentResult, error) {
	rec, err := w.applier.payments.FindByProviderPaymentID(ctx, nil, w.Name(), paymentID)
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"out_trade_no":  paymentID,
		"out_refund_no": paymentID + "-R1",
		"amount": map[string]any{
			"refund":   amountMinor,
			"total":    rec.Amount,
			"currency": rec.Currency,
		},
	}
	if reason != "" {
		body["reason"] = reason
	}
	var out struct {
		Status string `json:"status"`
	}
	if err := w.call(ctx, w.submit, http.MethodPost, "/v3/refund/domestic/refunds", body, &out, "refund"); err != nil {
		return nil, err
	}
	return &model.PaymentResult{Success: true, PaymentID: paymentID, Status: model.PaymentStatusSucceeded, Message: "refund " + out.Status}, nil
}

// ValidateWebhook authenticated-decrypts the encrypted resource envelope with
// the symmetric API key (explicit nonce and associated data; fails closed on
// authentication failure) and, when a platform public key is configured, also
// verifies the header signature over TIMESTAMP\nNONCE\nBODY\n.
func (w *WeChatPay) ValidateWebhook(ctx context.Context, payload []byte, sig port.Signature) *model.WebhookEvent {
	if w.platformPub != nil {
		base := sig.Timestamp + "\n" + sig.Nonce + "\n" + string(payload) + "\n"
		if rsaVerify(w.platformPub, []byte(base), sig.Value) != nil {
			return nil
		}
	}
	var env struct {
		ID         string `json:"id"`
		CreateTime string `json:"create_time"`
		EventType  string `json:"event_type"`
		Resource   struct {
			Ciphertext     string `json:"ciphertext"`
			Nonce          string `json:"nonce"`
			AssociatedData string `json:"associated_data"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil
	}
	plain, err := aeadDecrypt([]byte(w.cfg.APIv3Key), env.Resource.Nonce, env.Resource.AssociatedData, env.Resource.Ciphertext)
	if err != nil {
		// DecryptionError is treated identically to an invalid signature:
		// rejected, never partially trusted.
		return nil
	}
	var tx struct {
		OutTradeNo    string `json:"out_trade_no"`
		TransactionID string `json:"transaction_id"`
		TradeState    string `json:"trade_state"`
	}
	if err := json.Unmarshal(plain, &tx); err != nil {
		return nil
	}
	ts, _ := time.Parse(time.RFC3339, env.CreateTime)
	return &model.WebhookEvent{
		ID:            env.ID,
		Type:          env.EventType,
		Provider:      w.Name(),
		PaymentID:     tx.OutTradeNo,
		TransactionID: tx.TransactionID,
		Status:        wechatEventStatus(env.EventType),
		Raw:           plain,
		Timestamp:     ts,
	}
}

func (w *WeChatPay) HandleWebhook(ctx context.Context, ev *model.WebhookEvent) (*model.PaymentResult, error) {
	return w.applier.apply(ctx, w.Name(), ev)
}

func (w *WeChatPay) WebhookAck() (string, string) {
	return "application/json", `{"code":"SUCCESS","message":"OK"}`
}

// ---- wire helpers ----

// call performs an authenticated request: canonical string signed with the
// merchant private key, carried in the structured Authorization header
// together with merchant id, nonce, timestamp, and certificate serial.
func (w *WeChatPay) call(ctx context.Context, client *http.Client, method, path string, body any, out any, op string) error {
	defer observe(w.Name(), op, time.Now())
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	ts := strconv.FormatInt(w.now().Unix(), 10)
	nonce := randomNonce()
	canonical := method + "\n" + path + "\n" + ts + "\n" + nonce + "\n" + string(payload) + "\n"
	sig, err := rsaSign(w.priv, []byte(canonical))
	if err != nil {
		return err
	}
	auth := fmt.Sprintf(
		`WECHATPAY2-SHA256-RSA2048 mchid="%s",nonce_str="%s",signature="%s",timestamp="%s",serial_no="%s"`,
		w.cfg.MchID, nonce, sig, ts, w.cfg.SerialNo,
	)

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, w.cfg.APIBase+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return classifyTransportErr(w.Name(), err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyTransportErr(w.Name(), err)
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		return upstreamRejected(apiErr.Code, apiErr.Message)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// wechatMinor converts major units to this gateway's fixed x100 convention.
func wechatMinor(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func randomNonce() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// wechatStatus is the fixed trade-state table; undocumented values map to
// processing, never to succeeded.
func wechatStatus(tradeState string) model.PaymentStatus {
	switch tradeState {
	case "SUCCESS", "REFUND":
		return model.PaymentStatusSucceeded
	case "NOTPAY":
		return model.PaymentStatusPending
	case "CLOSED", "REVOKED":
		return model.PaymentStatusCanceled
	case "USERPAYING":
		return model.PaymentStatusProcessing
	case "PAYERROR":
		return model.PaymentStatusFailed
	default:
		return model.PaymentStatusProcessing
	}
}

// wechatEventStatus maps callback event types; only the two SUCCESS events
// drive success handling, anything else is accepted as processing.
func wechatEventStatus(eventType string) model.PaymentStatus {
	switch eventType {
	case "TRANSACTION.SUCCESS", "REFUND.SUCCESS":
		return model.PaymentStatusSucceeded
	default:
		return model.PaymentStatusProcessing
	}
}
