package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or PSP confirmation.
	StatusPending Status = "pending"
	// StatusAuthorized indicates funds are held but not yet captured.
	StatusAuthorized Status = "authorized"
	// StatusCaptured indicates the PSP reports the payment as captured.
	StatusCaptured Status = "captured"
	// StatusCanceled indicates the authorization was voided before capture.
	StatusCanceled Status = "canceled"
	// StatusRefunded indicates the captured payment has been fully refunded.
	StatusRefunded Status = "refunded"
	// StatusFailed indicates the PSP reports a failure and no further action is possible.
	StatusFailed Status = "failed"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// CreateSessionRequest captures the payload required to open a payment session.
type CreateSessionRequest struct {
	Amount         int64
	Currency       string
	CustomerID     string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

// LookupRequest identifies an existing session for status retrieval.
type LookupRequest struct {
	IntentID string
}

// CancelRequest voids an uncaptured authorization.
type CancelRequest struct {
	IntentID       string
	Reason         string
	IdempotencyKey string
}

// RefundRequest returns captured funds, optionally partially.
type RefundRequest struct {
	IntentID       string
	Amount         *int64
	Note           string
	IdempotencyKey string
	Metadata       map[string]string
}

// SessionDetails normalises PSP specific session state for storage.
type SessionDetails struct {
	Provider string
	IntentID string
	Status   Status
	Amount   int64
	Currency string
	Raw      map[string]any
}

// Provider defines the contract for PSP adapters to implement.
type Provider interface {
	CreateSession(ctx context.Context, req CreateSessionRequest) (SessionDetails, error)
	LookupSession(ctx context.Context, req LookupRequest) (SessionDetails, error)
	Cancel(ctx context.Context, req CancelRequest) (SessionDetails, error)
	Refund(ctx context.Context, req RefundRequest) (SessionDetails, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		providers: copyMap,
	}
	if _, ok := copyMap["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
	Metadata          map[string]string
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := strings.TrimSpace(strings.ToLower(ctx.PreferredProvider)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateSession delegates to the resolved provider.
func (m *Manager) CreateSession(ctx context.Context, paymentCtx PaymentContext, req CreateSessionRequest) (SessionDetails, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return SessionDetails{}, err
	}
	details, err := provider.CreateSession(ctx, req)
	if err != nil {
		return SessionDetails{}, err
	}
	details.Provider = key
	return details, nil
}

// LookupSession delegates to the resolved provider.
func (m *Manager) LookupSession(ctx context.Context, paymentCtx PaymentContext, req LookupRequest) (SessionDetails, error) {
	_, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return SessionDetails{}, err
	}
	return provider.LookupSession(ctx, req)
}

// Cancel delegates to the resolved provider.
func (m *Manager) Cancel(ctx context.Context, paymentCtx PaymentContext, req CancelRequest) (SessionDetails, error) {
	_, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return SessionDetails{}, err
	}
	return provider.Cancel(ctx, req)
}

// Refund delegates to the resolved provider.
func (m *Manager) Refund(ctx context.Context, paymentCtx PaymentContext, req RefundRequest) (SessionDetails, error) {
	_, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return SessionDetails{}, err
	}
	return provider.Refund(ctx, req)
}

// MinorUnits converts a decimal amount to the smallest currency unit used by
// PSP APIs. Zero-decimal currencies pass the amount through.
func MinorUnits(amount float64, currency string) int64 {
	if isZeroDecimalCurrency(currency) {
		return int64(amount + 0.5)
	}
	return int64(amount*100 + 0.5)
}

func isZeroDecimalCurrency(currency string) bool {
	switch strings.ToLower(strings.TrimSpace(currency)) {
	case "bif", "clp", "djf", "gnf", "jpy", "kmf", "krw", "mga", "pyg", "rwf", "ugx", "vnd", "vuv", "xaf", "xof", "xpf":
		return true
	default:
		return false
	}
}
