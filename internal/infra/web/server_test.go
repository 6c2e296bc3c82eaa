//go:build !integration

package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ai-subscription-payments/internal/domain"
	"ai-subscription-payments/internal/domain/model"
	port "ai-subscription-payments/internal/domain/ports/gateway"
	"ai-subscription-payments/internal/domain/ports/repository"
	"ai-subscription-payments/internal/infra/gateway"
)

func nopLogger() *zerolog.Logger {
	l := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	return &l
}

// fakeUC scripts the use-case surface per test.
type fakeUC struct {
	CreateFunc func(ctx context.Context, params model.CreatePaymentParams) (*model.PaymentIntent, error)
	GetFunc    func(ctx context.Context, id string) (*model.PaymentRecord, error)
}

func (f *fakeUC) Create(ctx context.Context, params model.CreatePaymentParams) (*model.PaymentIntent, error) {
	if f.CreateFunc != nil {
		return f.CreateFunc(ctx, params)
	}
	return &model.PaymentIntent{ID: "ord-1", Amount: params.Amount, Currency: params.Currency, Status: model.PaymentStatusPending}, nil
}

func (f *fakeUC) Get(ctx context.Context, id string) (*model.PaymentRecord, error) {
	if f.GetFunc != nil {
		return f.GetFunc(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeUC) Methods() []port.MethodInfo {
	return []port.MethodInfo{{Provider: "epay", Name: "Epay", Enabled: true}}
}

func (f *fakeUC) ActivateSubscription(ctx context.Context, tx repository.Tx, rec *model.PaymentRecord) error {
	return nil
}

func (f *fakeUC) SumByPeriod(ctx context.Context, period string) (int64, error) { return 0, nil }

// webhookProvider accepts payloads containing the literal "valid" and records
// what it saw.
type webhookProvider struct {
	lastPayload []byte
	lastSig     port.Signature
	handleErr   error
}

func (p *webhookProvider) Name() string  { return "epay" }
func (p *webhookProvider) Enabled() bool { return true }
func (p *webhookProvider) Method() port.MethodInfo {
	return port.MethodInfo{Provider: "epay", Name: "Epay", Enabled: true}
}

func (p *webhookProvider) CreatePayment(ctx context.Context, params model.CreatePaymentParams) (*model.PaymentIntent, error) {
	return &model.PaymentIntent{ID: "ord-1", Status: model.PaymentStatusPending}, nil
}

func (p *webhookProvider) GetPaymentStatus(ctx context.Context, paymentID string) (model.PaymentStatus, error) {
	return model.PaymentStatusPending, nil
}

func (p *webhookProvider) ConfirmPayment(ctx context.Context, paymentID string) (*model.PaymentResult, error) {
	return nil, domain.ErrUnsupportedOperation
}

func (p *webhookProvider) CancelPayment(ctx context.Context, paymentID string) (*model.PaymentResult, error) {
	return nil, domain.ErrUnsupportedOperation
}

func (p *webhookProvider) RefundPayment(ctx context.Context, paymentID string, amountMinor int64, reason string) (*model.PaymentResult, error) {
	return nil, domain.ErrUnsupportedOperation
}

func (p *webhookProvider) ValidateWebhook(ctx context.Context, payload []byte, sig port.Signature) *model.WebhookEvent {
	p.lastPayload = payload
	p.lastSig = sig
	if !bytes.Contains(payload, []byte("valid")) {
		return nil
	}
	return &model.WebhookEvent{PaymentID: "ord-1", Status: model.PaymentStatusSucceeded}
}

func (p *webhookProvider) HandleWebhook(ctx context.Context, ev *model.WebhookEvent) (*model.PaymentResult, error) {
	if p.handleErr != nil {
		return nil, p.handleErr
	}
	return &model.PaymentResult{Success: true, PaymentID: ev.PaymentID, Status: ev.Status}, nil
}

func (p *webhookProvider) WebhookAck() (string, string) { return "text/plain", "success" }

func testServer(t *testing.T, uc *fakeUC, providers ...port.Provider) (*Server, http.Handler) {
	t.Helper()
	manager := gateway.NewManager(nopLogger())
	for _, p := range providers {
		manager.Register(p)
	}
	auth := NewAuthManager("test-secret", false, "", time.Hour)
	s := NewServer(uc, manager, nil, auth, "admin-key", nopLogger())
	return s, s.Router()
}

func TestHealth(t *testing.T) {
	_, router := testServer(t, &fakeUC{}, &webhookProvider{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health = %d", rec.Code)
	}

	_, empty := testServer(t, &fakeUC{})
	rec = httptest.NewRecorder()
	empty.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("health with no providers = %d, want 503", rec.Code)
	}
}

func TestWebhookDelivery(t *testing.T) {
	p := &webhookProvider{}
	_, router := testServer(t, &fakeUC{}, p)

	t.Run("valid post acknowledged", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/epay", strings.NewReader("out_trade_no=valid"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
		}
		if rec.Body.String() != "success" || rec.Header().Get("Content-Type") != "text/plain" {
			t.Errorf("ack = %q (%s), want provider ack verbatim", rec.Body, rec.Header().Get("Content-Type"))
		}
	})

	t.Run("get passes raw query as payload", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/webhooks/epay?out_trade_no=valid&sign=abc", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if string(p.lastPayload) != "out_trade_no=valid&sign=abc" {
			t.Errorf("provider saw payload %q", p.lastPayload)
		}
	})

	t.Run("invalid signature", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/epay", strings.NewReader("out_trade_no=forged"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("forged payload = %d, want 400", rec.Code)
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/nope", strings.NewReader("x"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("unknown provider = %d, want 404", rec.Code)
		}
	})

	t.Run("processing failure is retriable", func(t *testing.T) {
		p.handleErr = domain.ErrUpstreamTimeout
		defer func() { p.handleErr = nil }()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/epay", strings.NewReader("valid"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("processing failure = %d, want 500 so the provider redelivers", rec.Code)
		}
	})

	t.Run("header signature forwarded", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/epay", strings.NewReader("valid"))
		req.Header.Set("Wechatpay-Signature", "sig")
		req.Header.Set("Wechatpay-Timestamp", "1700000000")
		req.Header.Set("Wechatpay-Nonce", "n1")
		req.Header.Set("Wechatpay-Serial", "serial")
		router.ServeHTTP(httptest.NewRecorder(), req)
		if p.lastSig.Value != "sig" || p.lastSig.Timestamp != "1700000000" || p.lastSig.Nonce != "n1" || p.lastSig.SerialNo != "serial" {
			t.Errorf("signature material not forwarded: %+v", p.lastSig)
		}
	})
}

func login(t *testing.T, router http.Handler) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"key": "admin-key"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d", rec.Code)
	}
	var out map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	if out["token"] == "" {
		t.Fatal("login returned no token")
	}
	return out["token"]
}

func TestLogin(t *testing.T) {
	_, router := testServer(t, &fakeUC{}, &webhookProvider{})
	login(t, router)

	body, _ := json.Marshal(map[string]string{"key": "wrong"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body)))
	if rec.Code != http.StatusForbidden {
		t.Errorf("wrong key = %d, want 403", rec.Code)
	}
}

func TestPaymentAPIRequiresAuth(t *testing.T) {
	_, router := testServer(t, &fakeUC{}, &webhookProvider{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/payment-methods", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated = %d, want 401", rec.Code)
	}
}

func TestCreatePayment(t *testing.T) {
	expires := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	uc := &fakeUC{
		CreateFunc: func(ctx context.Context, params model.CreatePaymentParams) (*model.PaymentIntent, error) {
			if params.Amount <= 0 {
				return nil, domain.ErrInvalidAmount
			}
			// httptest requests carry RemoteAddr 192.0.2.1:1234; the handler
			// must strip the port and pass the address through.
			if params.ClientIP != "192.0.2.1" {
				t.Errorf("ClientIP = %q, want 192.0.2.1", params.ClientIP)
			}
			return &model.PaymentIntent{
				ID: "ord-1", Amount: params.Amount, Currency: params.Currency,
				Status: model.PaymentStatusPending, PaymentURL: "https://pay.example.com/submit",
				ExpiresAt: &expires,
			}, nil
		},
	}
	_, router := testServer(t, uc, &webhookProvider{})
	token := login(t, router)

	post := func(payload any) *httptest.ResponseRecorder {
		body, _ := json.Marshal(payload)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := post(createPaymentRequest{Amount: 99, Currency: "USD", UserID: "u1", Flow: "redirect"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d, body = %s", rec.Code, rec.Body)
	}
	var resp paymentIntentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response: %v", err)
	}
	if resp.ID != "ord-1" || resp.PaymentURL == "" || resp.ExpiresAt != "2026-03-01T12:00:00Z" {
		t.Errorf("unexpected response %+v", resp)
	}

	if rec := post(createPaymentRequest{Amount: 0, Currency: "USD", UserID: "u1"}); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid amount = %d, want 400", rec.Code)
	}
}

func TestGetPaymentNotFound(t *testing.T) {
	_, router := testServer(t, &fakeUC{}, &webhookProvider{})
	token := login(t, router)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/nope", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing record = %d, want 404", rec.Code)
	}
}
