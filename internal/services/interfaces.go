package services

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cartforge/api/internal/domain"
	"github.com/cartforge/api/internal/payments"
	"github.com/cartforge/api/internal/platform/events"
)

// Logger is the structured event callback services emit telemetry through.
type Logger func(ctx context.Context, event string, fields map[string]any)

// Clock abstracts time for deterministic tests.
type Clock func() time.Time

// PaymentGateway is the subset of the payment manager the order services use.
type PaymentGateway interface {
	CreateSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CreateSessionRequest) (payments.SessionDetails, error)
	LookupSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.LookupRequest) (payments.SessionDetails, error)
	Cancel(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CancelRequest) (payments.SessionDetails, error)
	Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.SessionDetails, error)
}

// OrderEventPublisher emits order lifecycle events to the message bus.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event events.OrderEvent) (string, error)
}

// CompleteCartCommand identifies the cart to transition into an order.
type CompleteCartCommand struct {
	CartID string
}

// CompleteCartResult carries the id of the order the cart produced.
type CompleteCartResult struct {
	OrderID string `json:"orderId"`
}

// CreateDraftOrderCommand is the admin payload for placing an order on behalf
// of a customer.
type CreateDraftOrderCommand struct {
	Email           string
	CustomerID      string
	RegionID        string
	CurrencyCode    string
	SalesChannelID  string
	ShippingAddress *domain.Address
	BillingAddress  *domain.Address
	// ShippingAddressExisting marks the shipping address as one the admin
	// picked from the customer's saved entries, so no address book write
	// is made for it. BillingAddressExisting is the billing counterpart.
	ShippingAddressExisting bool
	BillingAddressExisting  bool
	Items                   []DraftOrderItem
	PromoCodes      []string
	ShippingOption  DraftOrderShipping
	PaymentProvider string
	Metadata        map[string]any
	NoNotification  bool
}

// DraftOrderItem is a requested order line. Prices are supplied by the caller
// and passed through untouched.
type DraftOrderItem struct {
	Title          string
	VariantID      string
	ProductID      string
	SKU            string
	Quantity       int64
	UnitPrice      float64
	IsTaxInclusive bool
	TaxLines       []domain.TaxLine
	Adjustments    []domain.Adjustment
	Metadata       map[string]any
}

// DraftOrderShipping selects the shipping option for the draft cart.
type DraftOrderShipping struct {
	OptionID  string
	Amount    float64
	RawAmount *float64
}

// CreateDraftOrderResult returns the committed order.
type CreateDraftOrderResult struct {
	Order domain.Order
}

// ConfirmOrderEditCommand closes the pending edit window on an order.
type ConfirmOrderEditCommand struct {
	OrderID     string
	ConfirmedBy string
}

// ConfirmOrderEditResult returns the confirmed edit and the order it belongs to.
type ConfirmOrderEditResult struct {
	Order domain.Order
	Edit  domain.OrderEdit
}

func newID(prefix string) string {
	return prefix + "_" + strings.ToLower(ulid.Make().String())
}

func noopLogger(context.Context, string, map[string]any) {}
