package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/stripe/stripe-go/v78"
)

type fakePaymentIntentAPI struct {
	newFn    func(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	getFn    func(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	cancelFn func(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
}

func (f *fakePaymentIntentAPI) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if f.newFn == nil {
		return nil, errors.New("unexpected New call")
	}
	return f.newFn(params)
}

func (f *fakePaymentIntentAPI) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if f.getFn == nil {
		return nil, errors.New("unexpected Get call")
	}
	return f.getFn(id, params)
}

func (f *fakePaymentIntentAPI) Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error) {
	if f.cancelFn == nil {
		return nil, errors.New("unexpected Cancel call")
	}
	return f.cancelFn(id, params)
}

type fakeRefundAPI struct {
	newFn func(params *stripe.RefundParams) (*stripe.Refund, error)
}

func (f *fakeRefundAPI) New(params *stripe.RefundParams) (*stripe.Refund, error) {
	if f.newFn == nil {
		return nil, errors.New("unexpected refund call")
	}
	return f.newFn(params)
}

func newTestProvider(t *testing.T, intents *fakePaymentIntentAPI, refunds *fakeRefundAPI) *StripeProvider {
	t.Helper()
	if intents == nil {
		intents = &fakePaymentIntentAPI{}
	}
	if refunds == nil {
		refunds = &fakeRefundAPI{}
	}
	provider, err := NewStripeProvider(StripeProviderConfig{
		Clients: &stripeClients{paymentIntents: intents, refunds: refunds},
	})
	if err != nil {
		t.Fatalf("NewStripeProvider returned error: %v", err)
	}
	return provider
}

func TestCreateSessionBuildsManualCaptureIntent(t *testing.T) {
	var captured *stripe.PaymentIntentParams
	intents := &fakePaymentIntentAPI{
		newFn: func(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
			captured = params
			return &stripe.PaymentIntent{
				ID:       "pi_123",
				Amount:   2500,
				Currency: "usd",
				Status:   stripe.PaymentIntentStatusRequiresPaymentMethod,
			}, nil
		},
	}
	provider := newTestProvider(t, intents, nil)

	details, err := provider.CreateSession(context.Background(), CreateSessionRequest{
		Amount:         2500,
		Currency:       "USD",
		CustomerID:     "cus_1",
		Description:    "Draft order",
		Metadata:       map[string]string{"cart_id": "cart_1"},
		IdempotencyKey: "pc_1-session",
	})
	if err != nil {
		t.Fatalf("CreateSession returned error: %v", err)
	}
	if captured == nil {
		t.Fatal("expected intent params to be captured")
	}
	if got := stripe.StringValue(captured.CaptureMethod); got != string(stripe.PaymentIntentCaptureMethodManual) {
		t.Fatalf("expected manual capture method, got %q", got)
	}
	if got := stripe.StringValue(captured.Currency); got != "usd" {
		t.Fatalf("expected lowered currency, got %q", got)
	}
	if captured.IdempotencyKey == nil || *captured.IdempotencyKey != "pc_1-session" {
		t.Fatal("expected idempotency key to be set")
	}
	if captured.Metadata["cart_id"] != "cart_1" {
		t.Fatalf("expected cart metadata, got %#v", captured.Metadata)
	}
	if details.IntentID != "pi_123" || details.Status != StatusPending {
		t.Fatalf("unexpected details: %+v", details)
	}
}

func TestLookupSessionMapsStatuses(t *testing.T) {
	cases := []struct {
		stripeStatus stripe.PaymentIntentStatus
		want         Status
	}{
		{stripe.PaymentIntentStatusRequiresCapture, StatusAuthorized},
		{stripe.PaymentIntentStatusSucceeded, StatusCaptured},
		{stripe.PaymentIntentStatusCanceled, StatusCanceled},
		{stripe.PaymentIntentStatusProcessing, StatusPending},
	}
	for _, tc := range cases {
		intents := &fakePaymentIntentAPI{
			getFn: func(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
				return &stripe.PaymentIntent{ID: id, Status: tc.stripeStatus}, nil
			},
		}
		provider := newTestProvider(t, intents, nil)
		details, err := provider.LookupSession(context.Background(), LookupRequest{IntentID: "pi_x"})
		if err != nil {
			t.Fatalf("LookupSession(%s) returned error: %v", tc.stripeStatus, err)
		}
		if details.Status != tc.want {
			t.Fatalf("status %s mapped to %s, want %s", tc.stripeStatus, details.Status, tc.want)
		}
	}
}

func TestCancelVoidsAuthorization(t *testing.T) {
	var canceledID string
	intents := &fakePaymentIntentAPI{
		cancelFn: func(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error) {
			canceledID = id
			if params.CancellationReason == nil {
				return nil, errors.New("expected cancellation reason")
			}
			return &stripe.PaymentIntent{ID: id, Status: stripe.PaymentIntentStatusCanceled}, nil
		},
	}
	provider := newTestProvider(t, intents, nil)

	details, err := provider.Cancel(context.Background(), CancelRequest{
		IntentID: "pi_auth",
		Reason:   "abandoned",
	})
	if err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if canceledID != "pi_auth" {
		t.Fatalf("expected pi_auth to be canceled, got %q", canceledID)
	}
	if details.Status != StatusCanceled {
		t.Fatalf("expected canceled status, got %s", details.Status)
	}
}

func TestRefundAttachesNoteMetadata(t *testing.T) {
	var captured *stripe.RefundParams
	refunds := &fakeRefundAPI{
		newFn: func(params *stripe.RefundParams) (*stripe.Refund, error) {
			captured = params
			return &stripe.Refund{
				ID:       "re_1",
				Amount:   2500,
				Currency: "usd",
				Status:   stripe.RefundStatusSucceeded,
			}, nil
		},
	}
	provider := newTestProvider(t, nil, refunds)

	details, err := provider.Refund(context.Background(), RefundRequest{
		IntentID: "pi_cap",
		Note:     "Refunded due to cart completion failure",
	})
	if err != nil {
		t.Fatalf("Refund returned error: %v", err)
	}
	if captured == nil {
		t.Fatal("expected refund params to be captured")
	}
	if got := stripe.StringValue(captured.PaymentIntent); got != "pi_cap" {
		t.Fatalf("expected refund for pi_cap, got %q", got)
	}
	if captured.Metadata["note"] != "Refunded due to cart completion failure" {
		t.Fatalf("expected note metadata, got %#v", captured.Metadata)
	}
	if details.Status != StatusRefunded || details.Amount != 2500 {
		t.Fatalf("unexpected details: %+v", details)
	}
}

func TestRefundErrorsAreWrapped(t *testing.T) {
	refunds := &fakeRefundAPI{
		newFn: func(params *stripe.RefundParams) (*stripe.Refund, error) {
			return nil, errors.New("charge_already_refunded")
		},
	}
	provider := newTestProvider(t, nil, refunds)

	if _, err := provider.Refund(context.Background(), RefundRequest{IntentID: "pi_cap"}); err == nil {
		t.Fatal("expected refund error")
	}
}

func TestManagerResolvesPreferredProvider(t *testing.T) {
	stripeProvider := newTestProvider(t, &fakePaymentIntentAPI{
		getFn: func(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
			return &stripe.PaymentIntent{ID: id, Status: stripe.PaymentIntentStatusRequiresCapture}, nil
		},
		cancelFn: func(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error) {
			return &stripe.PaymentIntent{ID: id, Status: stripe.PaymentIntentStatusCanceled}, nil
		},
	}, nil)
	manager, err := NewManager(map[string]Provider{"stripe": stripeProvider})
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}

	details, err := manager.LookupSession(context.Background(), PaymentContext{PreferredProvider: "Stripe"}, LookupRequest{IntentID: "pi_1"})
	if err != nil {
		t.Fatalf("LookupSession returned error: %v", err)
	}
	if details.Status != StatusAuthorized {
		t.Fatalf("expected authorized status, got %s", details.Status)
	}

	if _, err := manager.Cancel(context.Background(), PaymentContext{PreferredProvider: "adyen"}, CancelRequest{IntentID: "pi_1"}); err != nil {
		// Unknown preference falls back to the default stripe provider.
		t.Fatalf("expected fallback to default provider, got error: %v", err)
	}
}

func TestMinorUnits(t *testing.T) {
	if got := MinorUnits(25.50, "usd"); got != 2550 {
		t.Fatalf("expected 2550, got %d", got)
	}
	if got := MinorUnits(1200, "jpy"); got != 1200 {
		t.Fatalf("expected 1200, got %d", got)
	}
}
