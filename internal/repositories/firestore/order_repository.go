package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/cartforge/api/internal/domain"
	pfirestore "github.com/cartforge/api/internal/platform/firestore"
	"github.com/cartforge/api/internal/repositories"
)

const (
	orderCollection   = "orders"
	counterCollection = "counters"
	orderCounterDoc   = "orders_display_id"
)

// OrderRepository persists order aggregates within Firestore. Display IDs are
// allocated from a transactional counter document.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		base:     pfirestore.NewBaseRepository[orderDocument](provider, orderCollection),
		provider: provider,
	}, nil
}

// Insert stores the order, assigning the next display ID when none is set.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) (domain.Order, error) {
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	if order.DisplayID == 0 {
		displayID, err := r.nextDisplayID(ctx)
		if err != nil {
			return domain.Order{}, err
		}
		order.DisplayID = displayID
	}

	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	if _, err := r.base.Create(ctx, id, orderToDocument(order)); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// MarkCanceled flips the order into the canceled state. Used as the rollback
// action when a completion step after order creation fails.
func (r *OrderRepository) MarkCanceled(ctx context.Context, orderID string, canceledAt time.Time) error {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	_, err := r.base.Update(ctx, id, []firestore.Update{
		{Path: "status", Value: string(domain.OrderStatusCanceled)},
		{Path: "updatedAt", Value: canceledAt.UTC()},
	})
	return err
}

// FindByID loads the order by identifier.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return orderFromDocument(doc.ID, doc.Data), nil
}

func (r *OrderRepository) nextDisplayID(ctx context.Context) (int64, error) {
	var next int64
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		client, err := r.provider.Client(ctx)
		if err != nil {
			return err
		}
		ref := client.Collection(counterCollection).Doc(orderCounterDoc)

		snap, err := tx.Get(ref)
		if err != nil && !isNotFoundStatus(err) {
			return err
		}

		current := int64(0)
		if snap != nil && snap.Exists() {
			if value, err := snap.DataAt("value"); err == nil {
				if parsed, ok := value.(int64); ok {
					current = parsed
				}
			}
		}

		next = current + 1
		return tx.Set(ref, map[string]any{"value": next})
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

func isNotFoundStatus(err error) bool {
	return status.Code(err) == codes.NotFound
}

type orderDocument struct {
	DisplayID       int64                         `firestore:"displayId"`
	Status          string                        `firestore:"status"`
	RegionID        string                        `firestore:"regionId,omitempty"`
	CustomerID      string                        `firestore:"customerId,omitempty"`
	SalesChannelID  string                        `firestore:"salesChannelId,omitempty"`
	Email           string                        `firestore:"email,omitempty"`
	CurrencyCode    string                        `firestore:"currencyCode"`
	ShippingAddress *addressDocument              `firestore:"shippingAddress,omitempty"`
	BillingAddress  *addressDocument              `firestore:"billingAddress,omitempty"`
	Items           []orderItemDocument           `firestore:"items"`
	ShippingMethods []orderShippingMethodDocument `firestore:"shippingMethods"`
	CreditLines     []creditLineDocument          `firestore:"creditLines,omitempty"`
	Metadata        map[string]any                `firestore:"metadata,omitempty"`
	PromoCodes      []string                      `firestore:"promoCodes,omitempty"`
	CreatedAt       time.Time                     `firestore:"createdAt"`
	UpdatedAt       time.Time                     `firestore:"updatedAt"`
}

type orderItemDocument struct {
	Title          string               `firestore:"title,omitempty"`
	Subtitle       string               `firestore:"subtitle,omitempty"`
	Thumbnail      string               `firestore:"thumbnail,omitempty"`
	VariantID      string               `firestore:"variantId,omitempty"`
	ProductID      string               `firestore:"productId,omitempty"`
	SKU            string               `firestore:"sku,omitempty"`
	Barcode        string               `firestore:"barcode,omitempty"`
	Quantity       int64                `firestore:"quantity"`
	UnitPrice      float64              `firestore:"unitPrice"`
	IsTaxInclusive bool                 `firestore:"isTaxInclusive"`
	TaxLines       []taxLineDocument    `firestore:"taxLines,omitempty"`
	Adjustments    []adjustmentDocument `firestore:"adjustments,omitempty"`
	Metadata       map[string]any       `firestore:"metadata,omitempty"`
}

type orderShippingMethodDocument struct {
	Name             string               `firestore:"name,omitempty"`
	Description      string               `firestore:"description,omitempty"`
	Amount           float64              `firestore:"amount"`
	IsTaxInclusive   bool                 `firestore:"isTaxInclusive"`
	ShippingOptionID string               `firestore:"shippingOptionId,omitempty"`
	Data             map[string]any       `firestore:"data,omitempty"`
	Metadata         map[string]any       `firestore:"metadata,omitempty"`
	TaxLines         []taxLineDocument    `firestore:"taxLines,omitempty"`
	Adjustments      []adjustmentDocument `firestore:"adjustments,omitempty"`
}

func orderToDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		DisplayID:       order.DisplayID,
		Status:          string(order.Status),
		RegionID:        order.RegionID,
		CustomerID:      order.CustomerID,
		SalesChannelID:  order.SalesChannelID,
		Email:           strings.TrimSpace(order.Email),
		CurrencyCode:    strings.ToLower(strings.TrimSpace(order.CurrencyCode)),
		ShippingAddress: addressToDocument(order.ShippingAddress),
		BillingAddress:  addressToDocument(order.BillingAddress),
		CreditLines:     creditLinesToDocuments(order.CreditLines),
		Metadata:        cloneAnyMap(order.Metadata),
		PromoCodes:      append([]string(nil), order.PromoCodes...),
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
	}

	doc.Items = make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			Title:          item.Title,
			Subtitle:       item.Subtitle,
			Thumbnail:      item.Thumbnail,
			VariantID:      item.VariantID,
			ProductID:      item.ProductID,
			SKU:            item.SKU,
			Barcode:        item.Barcode,
			Quantity:       item.Quantity,
			UnitPrice:      item.UnitPrice,
			IsTaxInclusive: item.IsTaxInclusive,
			TaxLines:       taxLinesToDocuments(item.TaxLines),
			Adjustments:    adjustmentsToDocuments(item.Adjustments),
			Metadata:       cloneAnyMap(item.Metadata),
		})
	}

	doc.ShippingMethods = make([]orderShippingMethodDocument, 0, len(order.ShippingMethods))
	for _, method := range order.ShippingMethods {
		doc.ShippingMethods = append(doc.ShippingMethods, orderShippingMethodDocument{
			Name:             method.Name,
			Description:      method.Description,
			Amount:           method.Amount,
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

func orderFromDocument(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:              id,
		DisplayID:       doc.DisplayID,
		Status:          domain.OrderStatus(doc.Status),
		RegionID:        doc.RegionID,
		CustomerID:      doc.CustomerID,
		SalesChannelID:  doc.SalesChannelID,
		Email:           doc.Email,
		CurrencyCode:    doc.CurrencyCode,
		ShippingAddress: addressFromDocument(doc.ShippingAddress),
		BillingAddress:  addressFromDocument(doc.BillingAddress),
		CreditLines:     creditLinesFromDocuments(doc.CreditLines),
		Metadata:        cloneAnyMap(doc.Metadata),
		PromoCodes:      append([]string(nil), doc.PromoCodes...),
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
	}

	order.Items = make([]domain.OrderItemDraft, 0, len(doc.Items))
	for _, itemDoc := range doc.Items {
		order.Items = append(order.Items, domain.OrderItemDraft{
			Title:          itemDoc.Title,
			Subtitle:       itemDoc.Subtitle,
			Thumbnail:      itemDoc.Thumbnail,
			VariantID:      itemDoc.VariantID,
			ProductID:      itemDoc.ProductID,
			SKU:            itemDoc.SKU,
			Barcode:        itemDoc.Barcode,
			Quantity:       itemDoc.Quantity,
			UnitPrice:      itemDoc.UnitPrice,
			IsTaxInclusive: itemDoc.IsTaxInclusive,
			TaxLines:       taxLinesFromDocuments(itemDoc.TaxLines),
			Adjustments:    adjustmentsFromDocuments(itemDoc.Adjustments),
			Metadata:       cloneAnyMap(itemDoc.Metadata),
		})
	}

	order.ShippingMethods = make([]domain.OrderShippingMethodDraft, 0, len(doc.ShippingMethods))
	for _, methodDoc := range doc.ShippingMethods {
		order.ShippingMethods = append(order.ShippingMethods, domain.OrderShippingMethodDraft{
			Name:             methodDoc.Name,
			Description:      methodDoc.Description,
			Amount:           methodDoc.Amount,
			IsTaxInclusive:   methodDoc.IsTaxInclusive,
			ShippingOptionID: methodDoc.ShippingOptionID,
			Data:             cloneAnyMap(methodDoc.Data),
			Metadata:         cloneAnyMap(methodDoc.Metadata),
			TaxLines:         taxLinesFromDocuments(methodDoc.TaxLines),
			Adjustments:      adjustmentsFromDocuments(methodDoc.Adjustments),
		})
	}

	return order
}
