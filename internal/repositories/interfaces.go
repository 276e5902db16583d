package repositories

import (
	"context"
	"time"

	domain "github.com/cartforge/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Customers() CustomerRepository
	Orders() OrderRepository
	OrderEdits() OrderEditRepository
	OrderCartLinks() OrderCartLinkRepository
	OrderPaymentCollectionLinks() OrderPaymentCollectionLinkRepository
	ShippingOptions() ShippingOptionRepository
	Promotions() PromotionRepository
	PromotionUsage() PromotionUsageRepository
	PaymentCollections() PaymentCollectionRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CartRepository loads and mutates cart aggregates. FindByID returns the cart
// fully hydrated: items with tax lines and adjustments, shipping methods,
// addresses, customer, region, and the attached payment collection.
type CartRepository interface {
	FindByID(ctx context.Context, cartID string) (domain.Cart, error)
	Save(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	MarkCompleted(ctx context.Context, cartID string, completedAt time.Time) error
	ClearCompleted(ctx context.Context, cartID string) error
}

// CustomerRepository persists buyer records for draft orders. AddAddress
// appends an entry to the customer's address book.
type CustomerRepository interface {
	FindByID(ctx context.Context, customerID string) (domain.Customer, error)
	FindByEmail(ctx context.Context, email string) (domain.Customer, error)
	Insert(ctx context.Context, customer domain.Customer) (domain.Customer, error)
	AddAddress(ctx context.Context, customerID string, address domain.Address) (domain.Address, error)
}

// OrderRepository persists order aggregates created from completed carts.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	MarkCanceled(ctx context.Context, orderID string, canceledAt time.Time) error
}

// OrderEditRepository records edit windows opened against orders. Confirm
// stamps the edit with the confirming actor and time.
type OrderEditRepository interface {
	Insert(ctx context.Context, edit domain.OrderEdit) (domain.OrderEdit, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.OrderEdit, error)
	Confirm(ctx context.Context, editID string, confirmedBy string, confirmedAt time.Time) error
}

// OrderCartLinkRepository maintains the one-to-one cart/order relation.
// Create fails with a conflict when a link already exists for the cart, and
// FindByCartID reports not-found through RepositoryError categorisation.
type OrderCartLinkRepository interface {
	FindByCartID(ctx context.Context, cartID string) (domain.OrderCartLink, error)
	Create(ctx context.Context, link domain.OrderCartLink) error
	Delete(ctx context.Context, cartID string) error
}

// OrderPaymentCollectionLinkRepository relates orders to the payment
// collections that fund them.
type OrderPaymentCollectionLinkRepository interface {
	Create(ctx context.Context, link domain.OrderPaymentCollectionLink) error
	Delete(ctx context.Context, orderID string) error
}

// ShippingOptionRepository resolves shipping option definitions.
type ShippingOptionRepository interface {
	ListByIDs(ctx context.Context, ids []string) ([]domain.ShippingOption, error)
}

// PromotionRepository resolves promotion definitions by code.
type PromotionRepository interface {
	ListByCodes(ctx context.Context, codes []string) ([]domain.Promotion, error)
}

// PromotionUsageRepository records promotion applications once an order is
// committed. One record per application; duplicate codes are stored as found.
type PromotionUsageRepository interface {
	RecordBatch(ctx context.Context, orderID string, usages []domain.PromotionUsage) error
}

// PaymentCollectionRepository persists payment collections and their sessions.
type PaymentCollectionRepository interface {
	Insert(ctx context.Context, collection domain.PaymentCollection) (domain.PaymentCollection, error)
	FindByID(ctx context.Context, collectionID string) (domain.PaymentCollection, error)
	SaveSession(ctx context.Context, collectionID string, session domain.PaymentSession) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Ping(ctx context.Context) error
}
