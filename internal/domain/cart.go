package domain

import "time"

// Cart is the pre-order aggregate read by the completion workflow. All monetary
// values on the cart are opaque pass-through figures owned by the cart service;
// this module never recomputes them.
type Cart struct {
	ID                string
	Email             string
	CurrencyCode      string
	SalesChannelID    string
	RegionID          string
	Region            *Region
	CustomerID        string
	Customer          *Customer
	Items             []CartLineItem
	ShippingMethods   []CartShippingMethod
	CreditLines       []CreditLine
	ShippingAddress   *Address
	BillingAddress    *Address
	PaymentCollection *PaymentCollection
	Totals            CartTotals
	Metadata          map[string]any
	CompletedAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CartTotals carries the cart service's computed totals verbatim.
type CartTotals struct {
	Total         float64
	Subtotal      float64
	TaxTotal      float64
	DiscountTotal float64
	ItemTotal     float64
	ShippingTotal float64
}

// CartLineItem is a single cart line with its tax and promotion breakdown.
type CartLineItem struct {
	ID             string
	Title          string
	Subtitle       string
	Thumbnail      string
	Quantity       int64
	UnitPrice      float64
	IsTaxInclusive bool
	Variant        *VariantSnapshot
	TaxLines       []TaxLine
	Adjustments    []Adjustment
	Metadata       map[string]any
}

// VariantSnapshot captures the product/variant linkage and fulfillment metadata
// hydrated onto a cart line at read time.
type VariantSnapshot struct {
	ID                string
	ProductID         string
	SKU               string
	Barcode           string
	ShippingProfileID string
	ManageInventory   bool
	AllowBackorder    bool
	RequiresShipping  bool
}

// TaxLine is copied verbatim from cart lines onto order lines.
type TaxLine struct {
	Description string
	TaxRateID   string
	Code        string
	Rate        float64
	ProviderID  string
}

// Adjustment is a price modification attributable to an applied promotion.
// Code is empty for non-promotion adjustments.
type Adjustment struct {
	Code        string
	Amount      float64
	Description string
	PromotionID string
	ProviderID  string
}

// CartShippingMethod is a selected shipping option on the cart. RawAmount, when
// present, holds the unrounded amount and takes precedence over Amount.
type CartShippingMethod struct {
	ID               string
	Name             string
	Description      string
	Amount           float64
	RawAmount        *float64
	IsTaxInclusive   bool
	ShippingOptionID string
	Data             map[string]any
	Metadata         map[string]any
	TaxLines         []TaxLine
	Adjustments      []Adjustment
}

// CreditLine is a store-credit application copied onto the order untouched.
type CreditLine struct {
	Amount      float64
	RawAmount   *float64
	Reference   string
	ReferenceID string
	Metadata    map[string]any
}

// Address is a postal address snapshot.
type Address struct {
	ID          string
	AddressName string
	FirstName   string
	LastName    string
	Company     string
	Address1    string
	Address2    string
	City        string
	CountryCode string
	Province    string
	PostalCode  string
	Phone       string
}

// Region identifies the pricing/tax region a cart belongs to.
type Region struct {
	ID           string
	Name         string
	CurrencyCode string
}

// Customer is the buyer the draft order is placed for.
type Customer struct {
	ID          string
	Email       string
	FirstName   string
	LastName    string
	Phone       string
	CompanyName string
	HasAccount  bool
	CreatedAt   time.Time
}

// ShippingOption is the subset of a shipping option needed for profile
// compatibility validation.
type ShippingOption struct {
	ID                string
	Name              string
	ShippingProfileID string
}
