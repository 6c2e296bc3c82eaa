package gateway

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"ai-subscription-payments/internal/domain"
	"ai-subscription-payments/internal/domain/model"
	port "ai-subscription-payments/internal/domain/ports/gateway"
	"ai-subscription-payments/internal/infra/metrics"
)

// Manager is the provider registry. It is constructed once at process start
// and passed by handle to the HTTP layer; tests build isolated managers with
// fake providers. The first enabled provider registered becomes the default
// unless SetDefault overrides it.
type Manager struct {
	mu          sync.RWMutex
	providers   map[string]port.Provider
	defaultName string
	log         *zerolog.Logger
}

func NewManager(log *zerolog.Logger) *Manager {
	return &Manager{providers: make(map[string]port.Provider), log: log}
}

// Register adds a provider under its name. Disabled providers are registered
// too (so webhooks for them can be rejected deliberately) but never become the
// default.
func (m *Manager) Register(p port.Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := strings.ToLower(p.Name())
	m.providers[name] = p
	if m.defaultName == "" && p.Enabled() {
		m.defaultName = name
	}
	m.log.Info().Str("provider", name).Bool("enabled", p.Enabled()).Msg("payment provider registered")
}

// SetDefault overrides the auto-selected default provider.
func (m *Manager) SetDefault(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = strings.ToLower(name)
	p, ok := m.providers[name]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNoProviderAvailable, name)
	}
	if !p.Enabled() {
		return fmt.Errorf("%w: %s", domain.ErrProviderDisabled, name)
	}
	m.defaultName = name
	return nil
}

// Provider resolves an explicit provider choice, or the default when name is
// empty. A named-but-disabled provider is an error, never a silent fallback.
func (m *Manager) Provider(name string) (port.Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if name == "" {
		name = m.defaultName
	}
	if name == "" {
		return nil, domain.ErrNoProviderAvailable
	}
	p, ok := m.providers[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoProviderAvailable, name)
	}
	if !p.Enabled() {
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderDisabled, p.Name())
	}
	return p, nil
}

// CreatePayment routes to the chosen provider and returns the intent plus the
// provider that produced it.
func (m *Manager) CreatePayment(ctx context.Context, params model.CreatePaymentParams) (*model.PaymentIntent, port.Provider, error) {
	if err := params.Validate(); err != nil {
		return nil, nil, err
	}
	p, err := m.Provider(params.Provider)
	if err != nil {
		return nil, nil, err
	}
	intent, err := p.CreatePayment(ctx, params)
	if err != nil {
		metrics.IncPayment(p.Name(), "create_failed")
		return nil, nil, err
	}
	metrics.IncPayment(p.Name(), string(intent.Status))
	return intent, p, nil
}

// HandleWebhook validates and dispatches a raw webhook delivery. Signature
// failures surface as domain.ErrInvalidSignature with no state touched.
func (m *Manager) HandleWebhook(ctx context.Context, providerName string, payload []byte, sig port.Signature) (*model.PaymentResult, error) {
	m.mu.RLock()
	p, ok := m.providers[strings.ToLower(providerName)]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoProviderAvailable, providerName)
	}
	ev := p.ValidateWebhook(ctx, payload, sig)
	if ev == nil {
		return nil, domain.ErrInvalidSignature
	}
	return p.HandleWebhook(ctx, ev)
}

// AvailableMethods returns public-safe provider info for client consumption,
// sorted by provider name. Secrets never cross this boundary.
func (m *Manager) AvailableMethods() []port.MethodInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]port.MethodInfo, 0, len(m.providers))
	for _, p := range m.providers {
		if p.Enabled() {
			out = append(out, p.Method())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// HasAvailableProviders is a cheap liveness check used before accepting new
// payment requests.
func (m *Manager) HasAvailableProviders() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.providers {
		if p.Enabled() {
			return true
		}
	}
	return false
}
