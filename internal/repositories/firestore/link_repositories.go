package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/cartforge/api/internal/domain"
	pfirestore "github.com/cartforge/api/internal/platform/firestore"
	"github.com/cartforge/api/internal/repositories"
)

const (
	orderCartLinkCollection              = "order_cart_links"
	orderPaymentCollectionLinkCollection = "order_payment_collection_links"
)

// OrderCartLinkRepository maintains the cart/order relation. The cart ID is
// the document identifier, so creating a second link for the same cart fails
// with a conflict at the storage layer.
type OrderCartLinkRepository struct {
	base *pfirestore.BaseRepository[orderCartLinkDocument]
}

var _ repositories.OrderCartLinkRepository = (*OrderCartLinkRepository)(nil)

// NewOrderCartLinkRepository constructs a Firestore-backed link repository.
func NewOrderCartLinkRepository(provider *pfirestore.Provider) (*OrderCartLinkRepository, error) {
	if provider == nil {
		return nil, errors.New("order cart link repository requires firestore provider")
	}
	return &OrderCartLinkRepository{
		base: pfirestore.NewBaseRepository[orderCartLinkDocument](provider, orderCartLinkCollection),
	}, nil
}

// FindByCartID returns the link for the cart, or a not-found repository error.
func (r *OrderCartLinkRepository) FindByCartID(ctx context.Context, cartID string) (domain.OrderCartLink, error) {
	id := strings.TrimSpace(cartID)
	if id == "" {
		return domain.OrderCartLink{}, errors.New("order cart link repository: cart id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.OrderCartLink{}, err
	}
	return domain.OrderCartLink{
		CartID:    doc.ID,
		OrderID:   doc.Data.OrderID,
		CreatedAt: doc.Data.CreatedAt,
	}, nil
}

// Create stores the link, failing with a conflict when one already exists.
func (r *OrderCartLinkRepository) Create(ctx context.Context, link domain.OrderCartLink) error {
	cartID := strings.TrimSpace(link.CartID)
	orderID := strings.TrimSpace(link.OrderID)
	if cartID == "" || orderID == "" {
		return errors.New("order cart link repository: cart id and order id are required")
	}

	createdAt := link.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.base.Create(ctx, cartID, orderCartLinkDocument{
		OrderID:   orderID,
		CreatedAt: createdAt,
	})
	return err
}

// Delete removes the link for the cart.
func (r *OrderCartLinkRepository) Delete(ctx context.Context, cartID string) error {
	id := strings.TrimSpace(cartID)
	if id == "" {
		return errors.New("order cart link repository: cart id is required")
	}
	return r.base.Delete(ctx, id)
}

type orderCartLinkDocument struct {
	OrderID   string    `firestore:"orderId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// OrderPaymentCollectionLinkRepository relates orders to payment collections,
// keyed by order ID.
type OrderPaymentCollectionLinkRepository struct {
	base *pfirestore.BaseRepository[orderPaymentCollectionLinkDocument]
}

var _ repositories.OrderPaymentCollectionLinkRepository = (*OrderPaymentCollectionLinkRepository)(nil)

// NewOrderPaymentCollectionLinkRepository constructs a Firestore-backed link repository.
func NewOrderPaymentCollectionLinkRepository(provider *pfirestore.Provider) (*OrderPaymentCollectionLinkRepository, error) {
	if provider == nil {
		return nil, errors.New("order payment collection link repository requires firestore provider")
	}
	return &OrderPaymentCollectionLinkRepository{
		base: pfirestore.NewBaseRepository[orderPaymentCollectionLinkDocument](provider, orderPaymentCollectionLinkCollection),
	}, nil
}

// Create stores the link between an order and its payment collection.
func (r *OrderPaymentCollectionLinkRepository) Create(ctx context.Context, link domain.OrderPaymentCollectionLink) error {
	orderID := strings.TrimSpace(link.OrderID)
	collectionID := strings.TrimSpace(link.PaymentCollectionID)
	if orderID == "" || collectionID == "" {
		return errors.New("order payment collection link repository: order id and collection id are required")
	}

	createdAt := link.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.base.Create(ctx, orderID, orderPaymentCollectionLinkDocument{
		PaymentCollectionID: collectionID,
		CreatedAt:           createdAt,
	})
	return err
}

// Delete removes the link for the order.
func (r *OrderPaymentCollectionLinkRepository) Delete(ctx context.Context, orderID string) error {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return errors.New("order payment collection link repository: order id is required")
	}
	return r.base.Delete(ctx, id)
}

type orderPaymentCollectionLinkDocument struct {
	PaymentCollectionID string    `firestore:"paymentCollectionId"`
	CreatedAt           time.Time `firestore:"createdAt"`
}
