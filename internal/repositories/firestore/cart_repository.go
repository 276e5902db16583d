package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/cartforge/api/internal/domain"
	pfirestore "github.com/cartforge/api/internal/platform/firestore"
	"github.com/cartforge/api/internal/repositories"
)

const cartCollection = "carts"

// CartRepository persists cart aggregates within Firestore. The payment
// collection attached to a cart lives in its own collection and is hydrated
// on reads.
type CartRepository struct {
	base        *pfirestore.BaseRepository[cartDocument]
	collections *PaymentCollectionRepository
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider, collections *PaymentCollectionRepository) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	if collections == nil {
		return nil, errors.New("cart repository requires payment collection repository")
	}
	return &CartRepository{
		base:        pfirestore.NewBaseRepository[cartDocument](provider, cartCollection),
		collections: collections,
	}, nil
}

// FindByID loads the cart with items, shipping methods, addresses, and the
// attached payment collection hydrated.
func (r *CartRepository) FindByID(ctx context.Context, cartID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	id := strings.TrimSpace(cartID)
	if id == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Cart{}, err
	}

	cart := cartFromDocument(doc.ID, doc.Data)

	if collectionID := strings.TrimSpace(doc.Data.PaymentCollectionID); collectionID != "" {
		collection, err := r.collections.FindByID(ctx, collectionID)
		if err != nil {
			var repoErr repositories.RepositoryError
			if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
				return domain.Cart{}, err
			}
		} else {
			cart.PaymentCollection = &collection
		}
	}

	return cart, nil
}

// Save upserts the cart aggregate using the cart ID as document identifier.
func (r *CartRepository) Save(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	id := strings.TrimSpace(cart.ID)
	if id == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}

	now := time.Now().UTC()
	createdAt := cart.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}

	doc := cartToDocument(cart)
	doc.CreatedAt = createdAt
	doc.UpdatedAt = now

	result, err := r.base.Set(ctx, id, doc)
	if err != nil {
		return domain.Cart{}, err
	}

	saved := cart
	saved.CreatedAt = createdAt
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// MarkCompleted stamps the completion time on the cart.
func (r *CartRepository) MarkCompleted(ctx context.Context, cartID string, completedAt time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	id := strings.TrimSpace(cartID)
	if id == "" {
		return errors.New("cart repository: cart id is required")
	}

	_, err := r.base.Update(ctx, id, []firestore.Update{
		{Path: "completedAt", Value: completedAt.UTC()},
		{Path: "updatedAt", Value: time.Now().UTC()},
	})
	return err
}

// ClearCompleted reverts the completion stamp when a later workflow step fails.
func (r *CartRepository) ClearCompleted(ctx context.Context, cartID string) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	id := strings.TrimSpace(cartID)
	if id == "" {
		return errors.New("cart repository: cart id is required")
	}

	_, err := r.base.Update(ctx, id, []firestore.Update{
		{Path: "completedAt", Value: firestore.Delete},
		{Path: "updatedAt", Value: time.Now().UTC()},
	})
	return err
}

type cartDocument struct {
	Email               string                       `firestore:"email,omitempty"`
	CurrencyCode        string                       `firestore:"currencyCode"`
	SalesChannelID      string                       `firestore:"salesChannelId,omitempty"`
	RegionID            string                       `firestore:"regionId,omitempty"`
	Region              *regionDocument              `firestore:"region,omitempty"`
	CustomerID          string                       `firestore:"customerId,omitempty"`
	Customer            *customerDocument            `firestore:"customer,omitempty"`
	Items               []cartItemDocument           `firestore:"items"`
	ShippingMethods     []cartShippingMethodDocument `firestore:"shippingMethods"`
	CreditLines         []creditLineDocument         `firestore:"creditLines,omitempty"`
	ShippingAddress     *addressDocument             `firestore:"shippingAddress,omitempty"`
	BillingAddress      *addressDocument             `firestore:"billingAddress,omitempty"`
	PaymentCollectionID string                       `firestore:"paymentCollectionId,omitempty"`
	Totals              cartTotalsDocument           `firestore:"totals"`
	Metadata            map[string]any               `firestore:"metadata,omitempty"`
	CompletedAt         *time.Time                   `firestore:"completedAt,omitempty"`
	CreatedAt           time.Time                    `firestore:"createdAt"`
	UpdatedAt           time.Time                    `firestore:"updatedAt"`
}

type cartTotalsDocument struct {
	Total         float64 `firestore:"total"`
	Subtotal      float64 `firestore:"subtotal"`
	TaxTotal      float64 `firestore:"taxTotal"`
	DiscountTotal float64 `firestore:"discountTotal"`
	ItemTotal     float64 `firestore:"itemTotal"`
	ShippingTotal float64 `firestore:"shippingTotal"`
}

type regionDocument struct {
	ID           string `firestore:"id"`
	Name         string `firestore:"name,omitempty"`
	CurrencyCode string `firestore:"currencyCode,omitempty"`
}

type cartItemDocument struct {
	ID             string               `firestore:"id"`
	Title          string               `firestore:"title,omitempty"`
	Subtitle       string               `firestore:"subtitle,omitempty"`
	Thumbnail      string               `firestore:"thumbnail,omitempty"`
	Quantity       int64                `firestore:"quantity"`
	UnitPrice      float64              `firestore:"unitPrice"`
	IsTaxInclusive bool                 `firestore:"isTaxInclusive"`
	Variant        *variantDocument     `firestore:"variant,omitempty"`
	TaxLines       []taxLineDocument    `firestore:"taxLines,omitempty"`
	Adjustments    []adjustmentDocument `firestore:"adjustments,omitempty"`
	Metadata       map[string]any       `firestore:"metadata,omitempty"`
}

type variantDocument struct {
	ID                string `firestore:"id"`
	ProductID         string `firestore:"productId,omitempty"`
	SKU               string `firestore:"sku,omitempty"`
	Barcode           string `firestore:"barcode,omitempty"`
	ShippingProfileID string `firestore:"shippingProfileId,omitempty"`
	ManageInventory   bool   `firestore:"manageInventory"`
	AllowBackorder    bool   `firestore:"allowBackorder"`
	RequiresShipping  bool   `firestore:"requiresShipping"`
}

type cartShippingMethodDocument struct {
	ID               string               `firestore:"id"`
	Name             string               `firestore:"name,omitempty"`
	Description      string               `firestore:"description,omitempty"`
	Amount           float64              `firestore:"amount"`
	RawAmount        *float64             `firestore:"rawAmount,omitempty"`
	IsTaxInclusive   bool                 `firestore:"isTaxInclusive"`
	ShippingOptionID string               `firestore:"shippingOptionId,omitempty"`
	Data             map[string]any       `firestore:"data,omitempty"`
	Metadata         map[string]any       `firestore:"metadata,omitempty"`
	TaxLines         []taxLineDocument    `firestore:"taxLines,omitempty"`
	Adjustments      []adjustmentDocument `firestore:"adjustments,omitempty"`
}

func cartToDocument(cart domain.Cart) cartDocument {
	doc := cartDocument{
		Email:          strings.TrimSpace(cart.Email),
		CurrencyCode:   strings.ToLower(strings.TrimSpace(cart.CurrencyCode)),
		SalesChannelID: strings.TrimSpace(cart.SalesChannelID),
		RegionID:       strings.TrimSpace(cart.RegionID),
		CustomerID:     strings.TrimSpace(cart.CustomerID),
		CreditLines:    creditLinesToDocuments(cart.CreditLines),
		ShippingAddress: addressToDocument(cart.ShippingAddress),
		BillingAddress:  addressToDocument(cart.BillingAddress),
		Totals: cartTotalsDocument{
			Total:         cart.Totals.Total,
			Subtotal:      cart.Totals.Subtotal,
			TaxTotal:      cart.Totals.TaxTotal,
			DiscountTotal: cart.Totals.DiscountTotal,
			ItemTotal:     cart.Totals.ItemTotal,
			ShippingTotal: cart.Totals.ShippingTotal,
		},
		Metadata:    cloneAnyMap(cart.Metadata),
		CompletedAt: cart.CompletedAt,
	}

	if cart.Region != nil {
		doc.Region = &regionDocument{
			ID:           cart.Region.ID,
			Name:         cart.Region.Name,
			CurrencyCode: cart.Region.CurrencyCode,
		}
	}
	if cart.Customer != nil {
		doc.Customer = customerToDocument(*cart.Customer)
	}
	if cart.PaymentCollection != nil {
		doc.PaymentCollectionID = strings.TrimSpace(cart.PaymentCollection.ID)
	}

	doc.Items = make([]cartItemDocument, 0, len(cart.Items))
	for _, item := range cart.Items {
		itemDoc := cartItemDocument{
			ID:             item.ID,
			Title:          item.Title,
			Subtitle:       item.Subtitle,
			Thumbnail:      item.Thumbnail,
			Quantity:       item.Quantity,
			UnitPrice:      item.UnitPrice,
			IsTaxInclusive: item.IsTaxInclusive,
			TaxLines:       taxLinesToDocuments(item.TaxLines),
			Adjustments:    adjustmentsToDocuments(item.Adjustments),
			Metadata:       cloneAnyMap(item.Metadata),
		}
		if item.Variant != nil {
			itemDoc.Variant = &variantDocument{
				ID:                item.Variant.ID,
				ProductID:         item.Variant.ProductID,
				SKU:               item.Variant.SKU,
				Barcode:           item.Variant.Barcode,
				ShippingProfileID: item.Variant.ShippingProfileID,
				ManageInventory:   item.Variant.ManageInventory,
				AllowBackorder:    item.Variant.AllowBackorder,
				RequiresShipping:  item.Variant.RequiresShipping,
			}
		}
		doc.Items = append(doc.Items, itemDoc)
	}

	doc.ShippingMethods = make([]cartShippingMethodDocument, 0, len(cart.ShippingMethods))
	for _, method := range cart.ShippingMethods {
		doc.ShippingMethods = append(doc.ShippingMethods, cartShippingMethodDocument{
			ID:               method.ID,
			Name:             method.Name,
			Description:      method.Description,
			Amount:           method.Amount,
			RawAmount:        method.RawAmount,
			IsTaxInclusive:   method.IsTaxInclusive,
			ShippingOptionID: method.ShippingOptionID,
			Data:             cloneAnyMap(method.Data),
			Metadata:         cloneAnyMap(method.Metadata),
			TaxLines:         taxLinesToDocuments(method.TaxLines),
			Adjustments:      adjustmentsToDocuments(method.Adjustments),
		})
	}

	return doc
}

func cartFromDocument(id string, doc cartDocument) domain.Cart {
	cart := domain.Cart{
		ID:              id,
		Email:           doc.Email,
		CurrencyCode:    doc.CurrencyCode,
		SalesChannelID:  doc.SalesChannelID,
		RegionID:        doc.RegionID,
		CustomerID:      doc.CustomerID,
		CreditLines:     creditLinesFromDocuments(doc.CreditLines),
		ShippingAddress: addressFromDocument(doc.ShippingAddress),
		BillingAddress:  addressFromDocument(doc.BillingAddress),
		Totals: domain.CartTotals{
			Total:         doc.Totals.Total,
			Subtotal:      doc.Totals.Subtotal,
			TaxTotal:      doc.Totals.TaxTotal,
			DiscountTotal: doc.Totals.DiscountTotal,
			ItemTotal:     doc.Totals.ItemTotal,
			ShippingTotal: doc.Totals.ShippingTotal,
		},
		Metadata:    cloneAnyMap(doc.Metadata),
		CompletedAt: doc.CompletedAt,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}

	if doc.Region != nil {
		cart.Region = &domain.Region{
			ID:           doc.Region.ID,
			Name:         doc.Region.Name,
			CurrencyCode: doc.Region.CurrencyCode,
		}
	}
	if doc.Customer != nil {
		customer := customerFromDocument(doc.CustomerID, *doc.Customer)
		cart.Customer = &customer
	}

	cart.Items = make([]domain.CartLineItem, 0, len(doc.Items))
	for _, itemDoc := range doc.Items {
		item := domain.CartLineItem{
			ID:             itemDoc.ID,
			Title:          itemDoc.Title,
			Subtitle:       itemDoc.Subtitle,
			Thumbnail:      itemDoc.Thumbnail,
			Quantity:       itemDoc.Quantity,
			UnitPrice:      itemDoc.UnitPrice,
			IsTaxInclusive: itemDoc.IsTaxInclusive,
			TaxLines:       taxLinesFromDocuments(itemDoc.TaxLines),
			Adjustments:    adjustmentsFromDocuments(itemDoc.Adjustments),
			Metadata:       cloneAnyMap(itemDoc.Metadata),
		}
		if itemDoc.Variant != nil {
			item.Variant = &domain.VariantSnapshot{
				ID:                itemDoc.Variant.ID,
				ProductID:         itemDoc.Variant.ProductID,
				SKU:               itemDoc.Variant.SKU,
				Barcode:           itemDoc.Variant.Barcode,
				ShippingProfileID: itemDoc.Variant.ShippingProfileID,
				ManageInventory:   itemDoc.Variant.ManageInventory,
				AllowBackorder:    itemDoc.Variant.AllowBackorder,
				RequiresShipping:  itemDoc.Variant.RequiresShipping,
			}
		}
		cart.Items = append(cart.Items, item)
	}

	cart.ShippingMethods = make([]domain.CartShippingMethod, 0, len(doc.ShippingMethods))
	for _, methodDoc := range doc.ShippingMethods {
		cart.ShippingMethods = append(cart.ShippingMethods, domain.CartShippingMethod{
			ID:               methodDoc.ID,
			Name:             methodDoc.Name,
			Description:      methodDoc.Description,
			Amount:           methodDoc.Amount,
			RawAmount:        methodDoc.RawAmount,
			IsTaxInclusive:   methodDoc.IsTaxInclusive,
			ShippingOptionID: methodDoc.ShippingOptionID,
			Data:             cloneAnyMap(methodDoc.Data),
			Metadata:         cloneAnyMap(methodDoc.Metadata),
			TaxLines:         taxLinesFromDocuments(methodDoc.TaxLines),
			Adjustments:      adjustmentsFromDocuments(methodDoc.Adjustments),
		})
	}

	return cart
}
