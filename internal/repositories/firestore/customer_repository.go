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
	customerCollection        = "customers"
	customerAddressCollection = "customer_addresses"
)

// CustomerRepository persists buyer records within Firestore. Address book
// entries live in their own collection keyed by the address id.
type CustomerRepository struct {
	base      *pfirestore.BaseRepository[customerDocument]
	addresses *pfirestore.BaseRepository[customerAddressDocument]
}

var _ repositories.CustomerRepository = (*CustomerRepository)(nil)

// NewCustomerRepository constructs a Firestore-backed customer repository.
func NewCustomerRepository(provider *pfirestore.Provider) (*CustomerRepository, error) {
	if provider == nil {
		return nil, errors.New("customer repository requires firestore provider")
	}
	return &CustomerRepository{
		base:      pfirestore.NewBaseRepository[customerDocument](provider, customerCollection),
		addresses: pfirestore.NewBaseRepository[customerAddressDocument](provider, customerAddressCollection),
	}, nil
}

// FindByID loads a customer by identifier.
func (r *CustomerRepository) FindByID(ctx context.Context, customerID string) (domain.Customer, error) {
	id := strings.TrimSpace(customerID)
	if id == "" {
		return domain.Customer{}, errors.New("customer repository: customer id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}
	return customerFromDocument(doc.ID, doc.Data), nil
}

// FindByEmail returns the customer registered under the given email address.
func (r *CustomerRepository) FindByEmail(ctx context.Context, email string) (domain.Customer, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return domain.Customer{}, errors.New("customer repository: email is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("email", "==", normalized).Limit(1)
	})
	if err != nil {
		return domain.Customer{}, err
	}
	if len(docs) == 0 {
		return domain.Customer{}, pfirestore.WrapError("customers.find_by_email", status.Error(codes.NotFound, "customer not found"))
	}
	return customerFromDocument(docs[0].ID, docs[0].Data), nil
}

// Insert stores a new customer record.
func (r *CustomerRepository) Insert(ctx context.Context, customer domain.Customer) (domain.Customer, error) {
	id := strings.TrimSpace(customer.ID)
	if id == "" {
		return domain.Customer{}, errors.New("customer repository: customer id is required")
	}

	doc := customerToDocument(customer)
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	if _, err := r.base.Create(ctx, id, *doc); err != nil {
		return domain.Customer{}, err
	}

	saved := customer
	saved.CreatedAt = doc.CreatedAt
	return saved, nil
}

// AddAddress appends an entry to the customer's address book.
func (r *CustomerRepository) AddAddress(ctx context.Context, customerID string, address domain.Address) (domain.Address, error) {
	custID := strings.TrimSpace(customerID)
	if custID == "" {
		return domain.Address{}, errors.New("customer repository: customer id is required")
	}
	addrID := strings.TrimSpace(address.ID)
	if addrID == "" {
		return domain.Address{}, errors.New("customer repository: address id is required")
	}

	doc := customerAddressDocument{
		CustomerID: custID,
		Address:    *addressToDocument(&address),
		CreatedAt:  time.Now().UTC(),
	}
	if _, err := r.addresses.Create(ctx, addrID, doc); err != nil {
		return domain.Address{}, err
	}
	return address, nil
}

type customerDocument struct {
	Email       string    `firestore:"email"`
	FirstName   string    `firestore:"firstName,omitempty"`
	LastName    string    `firestore:"lastName,omitempty"`
	Phone       string    `firestore:"phone,omitempty"`
	CompanyName string    `firestore:"companyName,omitempty"`
	HasAccount  bool      `firestore:"hasAccount"`
	CreatedAt   time.Time `firestore:"createdAt"`
}

func customerToDocument(customer domain.Customer) *customerDocument {
	return &customerDocument{
		Email:       strings.ToLower(strings.TrimSpace(customer.Email)),
		FirstName:   customer.FirstName,
		LastName:    customer.LastName,
		Phone:       customer.Phone,
		CompanyName: customer.CompanyName,
		HasAccount:  customer.HasAccount,
		CreatedAt:   customer.CreatedAt.UTC(),
	}
}

func customerFromDocument(id string, doc customerDocument) domain.Customer {
	return domain.Customer{
		ID:          id,
		Email:       doc.Email,
		FirstName:   doc.FirstName,
		LastName:    doc.LastName,
		Phone:       doc.Phone,
		CompanyName: doc.CompanyName,
		HasAccount:  doc.HasAccount,
		CreatedAt:   doc.CreatedAt,
	}
}

type customerAddressDocument struct {
	CustomerID string          `firestore:"customerId"`
	Address    addressDocument `firestore:"address"`
	CreatedAt  time.Time       `firestore:"createdAt"`
}
