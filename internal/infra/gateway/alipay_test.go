//go:build !integration

package gateway

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"ai-subscription-payments/internal/domain/model"
	port "ai-subscription-payments/internal/domain/ports/gateway"
	"ai-subscription-payments/internal/domain/ports/repository"
)

func testAlipay(t *testing.T, gatewayURL string) (*Alipay, *rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	merchantKey := testRSAKey(t)
	partnerKey := testRSAKey(t)
	a, err := NewAlipay(AlipayConfig{
		Enabled:         true,
		AppID:           "2021000000000001",
		PrivateKey:      pemPrivate(t, merchantKey),
		AlipayPublicKey: pemPublic(t, partnerKey),
		GatewayURL:      gatewayURL,
		NotifyURL:       "https://shop.example.com/notify",
	}, &mockPaymentRepo{}, nil, nil, nopLogger())
	if err != nil {
		t.Fatalf("NewAlipay: %v", err)
	}
	return a, merchantKey, partnerKey
}

func TestAlipayCreatePaymentRedirect(t *testing.T) {
	a, merchantKey, _ := testAlipay(t, "https://openapi.example.com/gateway.do")

	intent, err := a.CreatePayment(context.Background(), model.CreatePaymentParams{
		Amount: 88.80, Currency: "CNY", UserID: "u1", Description: "Pro plan", Flow: model.FlowRedirect,
	})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	u, err := url.Parse(intent.PaymentURL)
	if err != nil {
		t.Fatalf("parse payment URL: %v", err)
	}
	q := u.Query()
	if q.Get("method") != "alipay.trade.page.pay" || q.Get("sign_type") != "RSA2" {
		t.Errorf("method=%q sign_type=%q", q.Get("method"), q.Get("sign_type"))
	}

	// The URL carries its own proof: the sign must verify over the sorted
	// parameters excluding sign itself.
	p := map[string]string{}
	for k := range q {
		p[k] = q.Get(k)
	}
	if err := rsaVerify(&merchantKey.PublicKey, []byte(sortedQuery(p, "sign")), q.Get("sign")); err != nil {
		t.Errorf("payment URL signature does not verify: %v", err)
	}

	var biz map[string]string
	if err := json.Unmarshal([]byte(q.Get("biz_content")), &biz); err != nil {
		t.Fatalf("biz_content: %v", err)
	}
	if biz["total_amount"] != "88.8" {
		t.Errorf("total_amount = %q", biz["total_amount"])
	}
	if biz["out_trade_no"] != intent.ID {
		t.Error("intent ID must be the order id")
	}
}

func TestAlipayQRDegradesToRedirect(t *testing.T) {
	// Gateway refuses the precreate; creation must still succeed as redirect.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"alipay_trade_precreate_response": map[string]string{"code": "40004", "sub_msg": "merchant not allowed"},
		})
	}))
	defer srv.Close()

	a, _, _ := testAlipay(t, srv.URL)
	intent, err := a.CreatePayment(context.Background(), model.CreatePaymentParams{
		Amount: 10, Currency: "CNY", UserID: "u1", Flow: model.FlowQR,
	})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	if intent.QRCode != "" || intent.PaymentURL == "" {
		t.Errorf("expected redirect degradation, got %+v", intent)
	}
}

func TestAlipayQRPrecreate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"alipay_trade_precreate_response": map[string]string{"code": "10000", "qr_code": "https://qr.example.com/x"},
		})
	}))
	defer srv.Close()

	a, _, _ := testAlipay(t, srv.URL)
	intent, err := a.CreatePayment(context.Background(), model.CreatePaymentParams{
		Amount: 10, Currency: "CNY", UserID: "u1", Flow: model.FlowQR,
	})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	if intent.QRCode != "https://qr.example.com/x" {
		t.Errorf("QRCode = %q", intent.QRCode)
	}
}

func alipayNotify(t *testing.T, partnerKey *rsa.PrivateKey, overrides map[string]string) []byte {
	t.Helper()
	p := map[string]string{
		"notify_id":    "n-1",
		"out_trade_no": "ord-1",
		"trade_no":     "2024123112345",
		"trade_status": "TRADE_SUCCESS",
		"total_amount": "88.80",
		"app_id":       "2021000000000001",
	}
	for k, v := range overrides {
		p[k] = v
	}
	sign, err := rsaSign(partnerKey, []byte(sortedQuery(p, "sign", "sign_type")))
	if err != nil {
		t.Fatalf("sign notify: %v", err)
	}
	q := url.Values{}
	for k, v := range p {
		q.Set(k, v)
	}
	q.Set("sign", sign)
	q.Set("sign_type", "RSA2")
	return []byte(q.Encode())
}

func TestAlipayValidateWebhook(t *testing.T) {
	a, merchantKey, partnerKey := testAlipay(t, "")

	t.Run("valid notify", func(t *testing.T) {
		ev := a.ValidateWebhook(context.Background(), alipayNotify(t, partnerKey, nil), port.Signature{})
		if ev == nil {
			t.Fatal("valid notify rejected")
		}
		if ev.PaymentID != "ord-1" || ev.Status != model.PaymentStatusSucceeded {
			t.Errorf("unexpected event %+v", ev)
		}
	})

	t.Run("tampered amount", func(t *testing.T) {
		valid := string(alipayNotify(t, partnerKey, nil))
		tampered := strings.Replace(valid, "total_amount=88.80", "total_amount=0.01", 1)
		if ev := a.ValidateWebhook(context.Background(), []byte(tampered), port.Signature{}); ev != nil {
			t.Error("tampered notify accepted")
		}
	})

	t.Run("signed with the wrong key", func(t *testing.T) {
		// Signed by the merchant key instead of the partner key.
		if ev := a.ValidateWebhook(context.Background(), alipayNotify(t, merchantKey, nil), port.Signature{}); ev != nil {
			t.Error("notify signed by a foreign key accepted")
		}
	})

	t.Run("wait buyer pay maps to pending", func(t *testing.T) {
		ev := a.ValidateWebhook(context.Background(), alipayNotify(t, partnerKey, map[string]string{"trade_status": "WAIT_BUYER_PAY"}), port.Signature{})
		if ev == nil {
			t.Fatal("valid notify rejected")
		}
		if ev.Status != model.PaymentStatusPending {
			t.Errorf("WAIT_BUYER_PAY mapped to %s", ev.Status)
		}
	})
}

func TestAlipayStatusTable(t *testing.T) {
	cases := map[string]model.PaymentStatus{
		"WAIT_BUYER_PAY": model.PaymentStatusPending,
		"TRADE_CLOSED":   model.PaymentStatusCanceled,
		"TRADE_SUCCESS":  model.PaymentStatusSucceeded,
		"TRADE_FINISHED": model.PaymentStatusSucceeded,
		"SOMETHING_NEW":  model.PaymentStatusProcessing,
	}
	for remote, want := range cases {
		if got := alipayStatus(remote); got != want {
			t.Errorf("alipayStatus(%q) = %s, want %s", remote, got, want)
		}
	}
}

func TestAlipayQueryEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.PostForm.Get("method") != "alipay.trade.query" {
			t.Errorf("method = %q", r.PostForm.Get("method"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"alipay_trade_query_response": map[string]string{
				"code": "10000", "trade_no": "tx-1", "trade_status": "TRADE_SUCCESS",
			},
		})
	}))
	defer srv.Close()

	a, _, _ := testAlipay(t, srv.URL)
	status, err := a.GetPaymentStatus(context.Background(), "ord-1")
	if err != nil {
		t.Fatalf("GetPaymentStatus: %v", err)
	}
	if status != model.PaymentStatusSucceeded {
		t.Errorf("status = %s", status)
	}
}

func TestAlipayRefundUsesRecordCurrency(t *testing.T) {
	var refundAmount string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		var biz map[string]string
		if err := json.Unmarshal([]byte(r.PostForm.Get("biz_content")), &biz); err != nil {
			t.Errorf("biz_content: %v", err)
		}
		refundAmount = biz["refund_amount"]
		_ = json.NewEncoder(w).Encode(map[string]any{
			"alipay_trade_refund_response": map[string]string{"code": "10000"},
		})
	}))
	defer srv.Close()

	merchantKey := testRSAKey(t)
	repo := &mockPaymentRepo{
		FindByProviderPaymentIDFunc: func(ctx context.Context, tx repository.Tx, provider, paymentID string) (*model.PaymentRecord, error) {
			return &model.PaymentRecord{ID: paymentID, PaymentID: paymentID, Currency: "JPY", Amount: 500}, nil
		},
	}
	a, err := NewAlipay(AlipayConfig{
		Enabled:         true,
		AppID:           "2021000000000001",
		PrivateKey:      pemPrivate(t, merchantKey),
		AlipayPublicKey: pemPublic(t, merchantKey),
		GatewayURL:      srv.URL,
	}, repo, nil, nil, nopLogger())
	if err != nil {
		t.Fatalf("NewAlipay: %v", err)
	}

	res, err := a.RefundPayment(context.Background(), "ord-jpy", 500, "")
	if err != nil {
		t.Fatalf("RefundPayment: %v", err)
	}
	if !res.Success {
		t.Fatalf("refund rejected: %+v", res)
	}
	// Yen has no fractional unit: 500 minor units is 500, not 5.00.
	if refundAmount != "500" {
		t.Errorf("refund_amount = %q, want %q", refundAmount, "500")
	}
}
