package web

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ai-subscription-payments/internal/domain"
	"ai-subscription-payments/internal/domain/model"
)

type createPaymentRequest struct {
	Amount      float64           `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description"`
	UserID      string            `json:"user_id"`
	UserEmail   string            `json:"user_email"`
	PlanID      string            `json:"plan_id"`
	Flow        string            `json:"flow"`
	PayerID     string            `json:"payer_id"`
	Provider    string            `json:"provider"`
	ReturnURL   string            `json:"return_url"`
	Metadata    map[string]string `json:"metadata"`
}

type paymentIntentResponse struct {
	ID           string  `json:"id"`
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency"`
	Status       string  `json:"status"`
	ClientSecret string  `json:"client_secret,omitempty"`
	PaymentURL   string  `json:"payment_url,omitempty"`
	QRCode       string  `json:"qr_code,omitempty"`
	ExpiresAt    string  `json:"expires_at,omitempty"`
}

func (s *Server) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	intent, err := s.uc.Create(r.Context(), model.CreatePaymentParams{
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
		UserID:      req.UserID,
		UserEmail:   req.UserEmail,
		PlanID:      req.PlanID,
		Flow:        model.PaymentFlow(req.Flow),
		PayerID:     req.PayerID,
		ClientIP:    clientIP(r),
		Provider:    req.Provider,
		ReturnURL:   req.ReturnURL,
		Metadata:    req.Metadata,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := paymentIntentResponse{
		ID:           intent.ID,
		Amount:       intent.Amount,
		Currency:     intent.Currency,
		Status:       string(intent.Status),
		ClientSecret: intent.ClientSecret,
		PaymentURL:   intent.PaymentURL,
		QRCode:       intent.QRCode,
	}
	if intent.ExpiresAt != nil {
		resp.ExpiresAt = intent.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	rec, err := s.uc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleMethods(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.uc.Methods())
}

type loginRequest struct {
	Key string `json:"key"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if s.adminKey == "" || req.Key != s.adminKey {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	tok, err := s.auth.Mint(w)
	if err != nil {
		http.Error(w, "Failed to mint session", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": tok})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrProviderDisabled), errors.Is(err, domain.ErrNoProviderAvailable):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, domain.ErrUpstreamTimeout):
		http.Error(w, "Upstream timeout", http.StatusGatewayTimeout)
	case errors.Is(err, domain.ErrUpstreamRejected):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		s.log.Error().Err(err).Msg("request failed")
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}

// clientIP extracts the payer's address; RealIP middleware has already
// resolved forwarding headers into RemoteAddr.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
