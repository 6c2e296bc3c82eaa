package web

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ai-subscription-payments/internal/domain"
	port "ai-subscription-payments/internal/domain/ports/gateway"
	"ai-subscription-payments/internal/infra/logging"
	"ai-subscription-payments/internal/infra/metrics"
)

// maxWebhookBody bounds how much of a callback we are willing to read.
const maxWebhookBody = 1 << 20

// handleWebhook is the single entry point for provider callbacks. The raw
// body (or, for GET-style aggregator callbacks, the raw query) is handed to
// the provider untouched: signature verification happens over the exact bytes
// that arrived.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	p, err := s.manager.Provider(name)
	if err != nil {
		metrics.IncWebhookRejected(name, "unknown_provider")
		http.Error(w, "unknown provider", http.StatusNotFound)
		return
	}
	metrics.IncWebhookReceived(p.Name())
	ctx := logging.WithProvider(r.Context(), p.Name())

	var payload []byte
	if r.Method == http.MethodGet {
		payload = []byte(r.URL.RawQuery)
	} else {
		payload, err = io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			metrics.IncWebhookRejected(p.Name(), "body_read")
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
	}

	if s.guard != nil && !s.guard.FirstDelivery(ctx, p.Name(), payload) {
		// Replay of a body we already processed: acknowledge so the provider
		// stops retrying, but touch nothing.
		metrics.IncWebhookRejected(p.Name(), "replay")
		ct, body := p.WebhookAck()
		w.Header().Set("Content-Type", ct)
		_, _ = w.Write([]byte(body))
		return
	}

	_, err = s.manager.HandleWebhook(ctx, p.Name(), payload, signatureFromRequest(r))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidSignature), errors.Is(err, domain.ErrDecryptionFailed):
			metrics.IncWebhookRejected(p.Name(), "signature")
			http.Error(w, "invalid signature", http.StatusBadRequest)
		default:
			logging.With(ctx, s.log).Error().Err(err).Msg("webhook processing failed")
			// Non-2xx makes the provider redeliver; the conditional update
			// keeps the retry safe.
			http.Error(w, "processing failed", http.StatusInternalServerError)
		}
		return
	}
	ct, body := p.WebhookAck()
	w.Header().Set("Content-Type", ct)
	_, _ = w.Write([]byte(body))
}

// signatureFromRequest collects the signature material each protocol carries
// in headers. Form/query-embedded signatures (epay, alipay) travel inside the
// payload itself and are extracted provider-side.
func signatureFromRequest(r *http.Request) port.Signature {
	if v := r.Header.Get("Stripe-Signature"); v != "" {
		return port.Signature{Value: v}
	}
	if v := r.Header.Get("Wechatpay-Signature"); v != "" {
		return port.Signature{
			Value:     v,
			Timestamp: r.Header.Get("Wechatpay-Timestamp"),
			Nonce:     r.Header.Get("Wechatpay-Nonce"),
			SerialNo:  r.Header.Get("Wechatpay-Serial"),
		}
	}
	return port.Signature{}
}
