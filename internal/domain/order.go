package domain

import "time"

// OrderDraft is the order-creation payload produced by the cart-to-order
// transform. Field values are carried over from the cart snapshot without
// recomputation.
type OrderDraft struct {
	RegionID        string
	CustomerID      string
	SalesChannelID  string
	Email           string
	CurrencyCode    string
	ShippingAddress *Address
	BillingAddress  *Address
	Items           []OrderItemDraft
	ShippingMethods []OrderShippingMethodDraft
	CreditLines     []CreditLine
	Metadata        map[string]any
	PromoCodes      []string
	NoNotification  bool
}

// OrderItemDraft is a normalized order line derived from a cart line item.
type OrderItemDraft struct {
	Title          string
	Subtitle       string
	Thumbnail      string
	VariantID      string
	ProductID      string
	SKU            string
	Barcode        string
	Quantity       int64
	UnitPrice      float64
	IsTaxInclusive bool
	TaxLines       []TaxLine
	Adjustments    []Adjustment
	Metadata       map[string]any
}

// OrderShippingMethodDraft is a normalized order shipping method.
type OrderShippingMethodDraft struct {
	Name             string
	Description      string
	Amount           float64
	IsTaxInclusive   bool
	ShippingOptionID string
	Data             map[string]any
	Metadata         map[string]any
	TaxLines         []TaxLine
	Adjustments      []Adjustment
}

// Order is the committed purchase aggregate created from a completed cart.
type Order struct {
	ID              string
	DisplayID       int64
	Status          OrderStatus
	RegionID        string
	CustomerID      string
	SalesChannelID  string
	Email           string
	CurrencyCode    string
	ShippingAddress *Address
	BillingAddress  *Address
	Items           []OrderItemDraft
	ShippingMethods []OrderShippingMethodDraft
	CreditLines     []CreditLine
	Metadata        map[string]any
	PromoCodes      []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderStatus enumerates order lifecycle states.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusDraft     OrderStatus = "draft"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCanceled  OrderStatus = "canceled"
)

// OrderEdit is the draft modification window opened against a new order.
type OrderEdit struct {
	ID           string
	OrderID      string
	InternalNote string
	CreatedBy    string
	CreatedAt    time.Time
	ConfirmedBy  string
	ConfirmedAt  *time.Time
}

// Pending reports whether the edit is still open for confirmation.
func (e OrderEdit) Pending() bool {
	return e.ConfirmedAt == nil
}

// OrderCartLink records the one-to-one relation between a completed cart and
// the order it produced. Its existence is the idempotency guard for the
// completion workflow.
type OrderCartLink struct {
	CartID    string
	OrderID   string
	CreatedAt time.Time
}

// OrderPaymentCollectionLink relates an order to the payment collection that
// funded it.
type OrderPaymentCollectionLink struct {
	OrderID             string
	PaymentCollectionID string
	CreatedAt           time.Time
}

// PromotionUsage is a single promotion application reported to the promotion
// accounting service. One record per adjustment carrying a code; duplicates are
// reported as found.
type PromotionUsage struct {
	Amount float64
	Code   string
}
