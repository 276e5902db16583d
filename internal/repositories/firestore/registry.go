package firestore

import (
	"context"
	"errors"

	"google.golang.org/api/iterator"

	pfirestore "github.com/cartforge/api/internal/platform/firestore"
	"github.com/cartforge/api/internal/repositories"
)

// Registry wires the Firestore-backed repositories behind the
// repositories.Registry interface.
type Registry struct {
	provider *pfirestore.Provider

	carts              *CartRepository
	customers          *CustomerRepository
	orders             *OrderRepository
	orderEdits         *OrderEditRepository
	cartLinks          *OrderCartLinkRepository
	collectionLinks    *OrderPaymentCollectionLinkRepository
	shippingOptions    *ShippingOptionRepository
	promotions         *PromotionRepository
	promotionUsage     *PromotionUsageRepository
	paymentCollections *PaymentCollectionRepository
	executions         *ExecutionStore
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs all Firestore repositories sharing one provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	paymentCollections, err := NewPaymentCollectionRepository(provider)
	if err != nil {
		return nil, err
	}
	carts, err := NewCartRepository(provider, paymentCollections)
	if err != nil {
		return nil, err
	}
	customers, err := NewCustomerRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	orderEdits, err := NewOrderEditRepository(provider)
	if err != nil {
		return nil, err
	}
	cartLinks, err := NewOrderCartLinkRepository(provider)
	if err != nil {
		return nil, err
	}
	collectionLinks, err := NewOrderPaymentCollectionLinkRepository(provider)
	if err != nil {
		return nil, err
	}
	shippingOptions, err := NewShippingOptionRepository(provider)
	if err != nil {
		return nil, err
	}
	promotions, err := NewPromotionRepository(provider)
	if err != nil {
		return nil, err
	}
	promotionUsage, err := NewPromotionUsageRepository(provider)
	if err != nil {
		return nil, err
	}
	executions, err := NewExecutionStore(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:           provider,
		carts:              carts,
		customers:          customers,
		orders:             orders,
		orderEdits:         orderEdits,
		cartLinks:          cartLinks,
		collectionLinks:    collectionLinks,
		shippingOptions:    shippingOptions,
		promotions:         promotions,
		promotionUsage:     promotionUsage,
		paymentCollections: paymentCollections,
		executions:         executions,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

// Carts implements repositories.Registry.
func (r *Registry) Carts() repositories.CartRepository { return r.carts }

// Customers implements repositories.Registry.
func (r *Registry) Customers() repositories.CustomerRepository { return r.customers }

// Orders implements repositories.Registry.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// OrderEdits implements repositories.Registry.
func (r *Registry) OrderEdits() repositories.OrderEditRepository { return r.orderEdits }

// OrderCartLinks implements repositories.Registry.
func (r *Registry) OrderCartLinks() repositories.OrderCartLinkRepository { return r.cartLinks }

// OrderPaymentCollectionLinks implements repositories.Registry.
func (r *Registry) OrderPaymentCollectionLinks() repositories.OrderPaymentCollectionLinkRepository {
	return r.collectionLinks
}

// ShippingOptions implements repositories.Registry.
func (r *Registry) ShippingOptions() repositories.ShippingOptionRepository { return r.shippingOptions }

// Promotions implements repositories.Registry.
func (r *Registry) Promotions() repositories.PromotionRepository { return r.promotions }

// PromotionUsage implements repositories.Registry.
func (r *Registry) PromotionUsage() repositories.PromotionUsageRepository { return r.promotionUsage }

// PaymentCollections implements repositories.Registry.
func (r *Registry) PaymentCollections() repositories.PaymentCollectionRepository {
	return r.paymentCollections
}

// WorkflowExecutions exposes the execution store consumed by the workflow engine.
func (r *Registry) WorkflowExecutions() *ExecutionStore { return r.executions }

// Health implements repositories.Registry.
func (r *Registry) Health() repositories.HealthRepository {
	return &healthRepository{provider: r.provider}
}

// RunInTx executes fn within a Firestore transaction scope. Repositories
// write whole documents atomically; cross-document consistency is provided by
// workflow compensation rather than multi-document transactions.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("registry: transaction function is nil")
	}
	return fn(ctx)
}

type healthRepository struct {
	provider *pfirestore.Provider
}

// Ping verifies Firestore connectivity with a lightweight collection listing.
func (h *healthRepository) Ping(ctx context.Context) error {
	client, err := h.provider.Client(ctx)
	if err != nil {
		return err
	}
	iter := client.Collections(ctx)
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return pfirestore.WrapError("health.ping", err)
	}
	return nil
}
