package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"ai-subscription-payments/internal/domain"
	"ai-subscription-payments/internal/infra/metrics"
)

const (
	// submitTimeout bounds payment-submission calls; statusTimeout bounds
	// status/close/query pings.
	submitTimeout = 15 * time.Second
	statusTimeout = 10 * time.Second
)

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// classifyTransportErr separates retryable timeouts from other transport
// failures so callers can distinguish ErrUpstreamTimeout from ErrUpstreamRejected.
func classifyTransportErr(provider string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		metrics.IncUpstreamError(provider, "timeout")
		return fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
	}
	metrics.IncUpstreamError(provider, "transport")
	return fmt.Errorf("gateway request failed: %w", err)
}

// upstreamRejected wraps a business-level gateway failure with its message.
func upstreamRejected(code, msg string) error {
	if msg == "" {
		msg = code
	}
	return fmt.Errorf("%w: %s", domain.ErrUpstreamRejected, msg)
}

// observe records the upstream call duration for the metrics histogram.
func observe(provider, op string, start time.Time) {
	metrics.ObserveUpstreamDuration(provider, op, time.Since(start))
}
