package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"ai-subscription-payments/internal/infra/gateway"
	"ai-subscription-payments/internal/infra/logging"
	"ai-subscription-payments/internal/infra/redis"
	"ai-subscription-payments/internal/usecase"
)

type Server struct {
	uc       usecase.PaymentUseCase
	manager  *gateway.Manager
	guard    *redis.ReplayGuard
	auth     *AuthManager
	adminKey string
	log      *zerolog.Logger
}

func NewServer(
	uc usecase.PaymentUseCase,
	manager *gateway.Manager,
	guard *redis.ReplayGuard,
	auth *AuthManager,
	adminKey string,
	logger *zerolog.Logger,
) *Server {
	return &Server{uc: uc, manager: manager, guard: guard, auth: auth, adminKey: adminKey, log: logger}
}

// Router assembles the HTTP surface. Webhooks, health, and metrics are open;
// the payment API sits behind the admin session.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.traceMiddleware)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Providers call back with whatever verb their protocol mandates.
	r.Post("/api/v1/webhooks/{provider}", s.handleWebhook)
	r.Get("/api/v1/webhooks/{provider}", s.handleWebhook)

	r.Post("/api/v1/auth/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/api/v1/payments", s.handleCreatePayment)
		r.Get("/api/v1/payments/{id}", s.handleGetPayment)
		r.Get("/api/v1/payment-methods", s.handleMethods)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.manager.HasAvailableProviders() {
		http.Error(w, "no payment providers available", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// traceMiddleware assigns each request a trace id so every log line it
// produces can be correlated.
func (s *Server) traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.WithTraceID(r.Context(), uuid.NewString())
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		logging.With(ctx, s.log).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// authMiddleware gates the payment API behind a valid admin session.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.auth.ParseFromRequest(r); err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
