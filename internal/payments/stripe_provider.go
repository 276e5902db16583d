package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// stripePaymentIntentAPI abstracts the Stripe payment intent endpoints used by
// the provider so tests can substitute fakes.
type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	paymentIntents stripePaymentIntentAPI
	refunds        stripeRefundAPI
}

// StripeLogger receives structured events emitted by the Stripe provider.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

// StripeProviderConfig wires the dependencies of the Stripe adapter.
type StripeProviderConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Logger   StripeLogger
	Clock    func() time.Time
	Clients  *stripeClients
}

// StripeProvider implements Provider on top of the Stripe API.
type StripeProvider struct {
	clients stripeClients
	logger  StripeLogger
	clock   func() time.Time
}

var _ Provider = (*StripeProvider)(nil)

// NewStripeProvider builds a StripeProvider from the supplied configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	clients := cfg.Clients
	if clients == nil {
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("payments: stripe api key is required")
		}
		sc := client.New(cfg.APIKey, cfg.Backends)
		clients = &stripeClients{
			paymentIntents: sc.PaymentIntents,
			refunds:        sc.Refunds,
		}
	}
	if clients.paymentIntents == nil || clients.refunds == nil {
		return nil, errors.New("payments: stripe clients are incomplete")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &StripeProvider{
		clients: *clients,
		logger:  logger,
		clock:   clock,
	}, nil
}

// CreateSession opens a manual-capture payment intent for the requested amount.
func (p *StripeProvider) CreateSession(ctx context.Context, req CreateSessionRequest) (SessionDetails, error) {
	if req.Amount <= 0 {
		return SessionDetails{}, errors.New("payments: session amount must be positive")
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		return SessionDetails{}, errors.New("payments: session currency is required")
	}
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	params.Context = ctx
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	intent, err := p.clients.paymentIntents.New(params)
	if err != nil {
		return SessionDetails{}, fmt.Errorf("payments: create stripe payment intent: %w", err)
	}
	p.logger(ctx, "payments.stripe.session_created", map[string]any{
		"intent_id": intent.ID,
		"amount":    intent.Amount,
		"currency":  intent.Currency,
	})
	return stripeSessionDetails(intent), nil
}

// LookupSession retrieves the current state of an intent.
func (p *StripeProvider) LookupSession(ctx context.Context, req LookupRequest) (SessionDetails, error) {
	if strings.TrimSpace(req.IntentID) == "" {
		return SessionDetails{}, errors.New("payments: intent id is required")
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := p.clients.paymentIntents.Get(req.IntentID, params)
	if err != nil {
		return SessionDetails{}, fmt.Errorf("payments: lookup stripe payment intent: %w", err)
	}
	return stripeSessionDetails(intent), nil
}

// Cancel voids an uncaptured authorization.
func (p *StripeProvider) Cancel(ctx context.Context, req CancelRequest) (SessionDetails, error) {
	if strings.TrimSpace(req.IntentID) == "" {
		return SessionDetails{}, errors.New("payments: intent id is required")
	}
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if reason := mapStripeCancellationReason(req.Reason); reason != "" {
		params.CancellationReason = stripe.String(reason)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	intent, err := p.clients.paymentIntents.Cancel(req.IntentID, params)
	if err != nil {
		return SessionDetails{}, fmt.Errorf("payments: cancel stripe payment intent: %w", err)
	}
	p.logger(ctx, "payments.stripe.session_canceled", map[string]any{
		"intent_id": intent.ID,
		"reason":    req.Reason,
	})
	return stripeSessionDetails(intent), nil
}

// Refund returns captured funds. A nil amount refunds the full capture.
func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (SessionDetails, error) {
	if strings.TrimSpace(req.IntentID) == "" {
		return SessionDetails{}, errors.New("payments: intent id is required")
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.IntentID),
	}
	params.Context = ctx
	if req.Amount != nil {
		params.Amount = stripe.Int64(*req.Amount)
	}
	if req.Note != "" {
		params.AddMetadata("note", req.Note)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	refund, err := p.clients.refunds.New(params)
	if err != nil {
		return SessionDetails{}, fmt.Errorf("payments: refund stripe payment intent: %w", err)
	}
	p.logger(ctx, "payments.stripe.session_refunded", map[string]any{
		"intent_id": req.IntentID,
		"refund_id": refund.ID,
		"amount":    refund.Amount,
	})
	details := SessionDetails{
		IntentID: req.IntentID,
		Status:   StatusRefunded,
		Amount:   refund.Amount,
		Currency: string(refund.Currency),
		Raw: map[string]any{
			"refund_id":     refund.ID,
			"refund_status": string(refund.Status),
		},
	}
	return details, nil
}

func stripeSessionDetails(intent *stripe.PaymentIntent) SessionDetails {
	details := SessionDetails{
		IntentID: intent.ID,
		Status:   mapStripeIntentStatus(intent.Status),
		Amount:   intent.Amount,
		Currency: string(intent.Currency),
		Raw: map[string]any{
			"stripe_status": string(intent.Status),
		},
	}
	if intent.LatestCharge != nil {
		details.Raw["latest_charge_id"] = intent.LatestCharge.ID
	}
	return details
}

func mapStripeIntentStatus(status stripe.PaymentIntentStatus) Status {
	switch status {
	case stripe.PaymentIntentStatusRequiresCapture:
		return StatusAuthorized
	case stripe.PaymentIntentStatusSucceeded:
		return StatusCaptured
	case stripe.PaymentIntentStatusCanceled:
		return StatusCanceled
	case stripe.PaymentIntentStatusRequiresPaymentMethod,
		stripe.PaymentIntentStatusRequiresConfirmation,
		stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusProcessing:
		return StatusPending
	default:
		return StatusFailed
	}
}

func mapStripeCancellationReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case "duplicate", "fraudulent", "requested_by_customer", "abandoned":
		return strings.ToLower(strings.TrimSpace(reason))
	case "":
		return ""
	default:
		return string(stripe.PaymentIntentCancellationReasonAbandoned)
	}
}
