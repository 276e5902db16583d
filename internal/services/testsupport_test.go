package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cartforge/api/internal/domain"
	"github.com/cartforge/api/internal/payments"
	"github.com/cartforge/api/internal/platform/events"
)

// stubRepoError implements repositories.RepositoryError for tests.
type stubRepoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *stubRepoError) Error() string       { return e.msg }
func (e *stubRepoError) IsNotFound() bool    { return e.notFound }
func (e *stubRepoError) IsConflict() bool    { return e.conflict }
func (e *stubRepoError) IsUnavailable() bool { return e.unavailable }

func notFoundErr(msg string) error    { return &stubRepoError{msg: msg, notFound: true} }
func conflictErr(msg string) error    { return &stubRepoError{msg: msg, conflict: true} }
func unavailableErr(msg string) error { return &stubRepoError{msg: msg, unavailable: true} }

type fakeCartRepo struct {
	mu        sync.Mutex
	carts     map[string]domain.Cart
	completed map[string]time.Time
	cleared   []string

	findErr error
	saveErr error
	markErr error
}

func newFakeCartRepo(carts ...domain.Cart) *fakeCartRepo {
	repo := &fakeCartRepo{
		carts:     make(map[string]domain.Cart),
		completed: make(map[string]time.Time),
	}
	for _, cart := range carts {
		repo.carts[cart.ID] = cart
	}
	return repo
}

func (r *fakeCartRepo) FindByID(ctx context.Context, cartID string) (domain.Cart, error) {
	if r.findErr != nil {
		return domain.Cart{}, r.findErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cart, ok := r.carts[cartID]
	if !ok {
		return domain.Cart{}, notFoundErr("cart " + cartID + " not found")
	}
	return cart, nil
}

func (r *fakeCartRepo) Save(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if r.saveErr != nil {
		return domain.Cart{}, r.saveErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.carts[cart.ID] = cart
	return cart, nil
}

func (r *fakeCartRepo) MarkCompleted(ctx context.Context, cartID string, completedAt time.Time) error {
	if r.markErr != nil {
		return r.markErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed[cartID] = completedAt
	return nil
}

func (r *fakeCartRepo) ClearCompleted(ctx context.Context, cartID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.completed, cartID)
	r.cleared = append(r.cleared, cartID)
	return nil
}

type fakeOrderRepo struct {
	mu       sync.Mutex
	orders   map[string]domain.Order
	canceled []string
	inserts  int

	insertErr error
	nextID    int64
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{orders: make(map[string]domain.Order)}
}

func (r *fakeOrderRepo) Insert(ctx context.Context, order domain.Order) (domain.Order, error) {
	if r.insertErr != nil {
		return domain.Order{}, r.insertErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inserts++
	r.nextID++
	order.DisplayID = r.nextID
	r.orders[order.ID] = order
	return order, nil
}

func (r *fakeOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, notFoundErr("order " + orderID + " not found")
	}
	return order, nil
}

func (r *fakeOrderRepo) MarkCanceled(ctx context.Context, orderID string, canceledAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if order, ok := r.orders[orderID]; ok {
		order.Status = domain.OrderStatusCanceled
		r.orders[orderID] = order
	}
	r.canceled = append(r.canceled, orderID)
	return nil
}

type fakeOrderEditRepo struct {
	mu    sync.Mutex
	edits []domain.OrderEdit

	confirmErr error
}

func (r *fakeOrderEditRepo) Insert(ctx context.Context, edit domain.OrderEdit) (domain.OrderEdit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edits = append(r.edits, edit)
	return edit, nil
}

func (r *fakeOrderEditRepo) Confirm(ctx context.Context, editID string, confirmedBy string, confirmedAt time.Time) error {
	if r.confirmErr != nil {
		return r.confirmErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.edits {
		if r.edits[i].ID == editID {
			stamp := confirmedAt
			r.edits[i].ConfirmedBy = confirmedBy
			r.edits[i].ConfirmedAt = &stamp
			return nil
		}
	}
	return notFoundErr("order edit " + editID + " not found")
}

func (r *fakeOrderEditRepo) ListByOrder(ctx context.Context, orderID string) ([]domain.OrderEdit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.OrderEdit
	for _, edit := range r.edits {
		if edit.OrderID == orderID {
			out = append(out, edit)
		}
	}
	return out, nil
}

type fakeOrderCartLinkRepo struct {
	mu      sync.Mutex
	links   map[string]domain.OrderCartLink
	deleted []string
}

func newFakeOrderCartLinkRepo() *fakeOrderCartLinkRepo {
	return &fakeOrderCartLinkRepo{links: make(map[string]domain.OrderCartLink)}
}

func (r *fakeOrderCartLinkRepo) FindByCartID(ctx context.Context, cartID string) (domain.OrderCartLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	link, ok := r.links[cartID]
	if !ok {
		return domain.OrderCartLink{}, notFoundErr("no link for cart " + cartID)
	}
	return link, nil
}

func (r *fakeOrderCartLinkRepo) Create(ctx context.Context, link domain.OrderCartLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.links[link.CartID]; ok {
		return conflictErr("link exists for cart " + link.CartID)
	}
	r.links[link.CartID] = link
	return nil
}

func (r *fakeOrderCartLinkRepo) Delete(ctx context.Context, cartID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.links, cartID)
	r.deleted = append(r.deleted, cartID)
	return nil
}

type fakePaymentLinkRepo struct {
	mu      sync.Mutex
	links   map[string]domain.OrderPaymentCollectionLink
	deleted []string
}

func newFakePaymentLinkRepo() *fakePaymentLinkRepo {
	return &fakePaymentLinkRepo{links: make(map[string]domain.OrderPaymentCollectionLink)}
}

func (r *fakePaymentLinkRepo) Create(ctx context.Context, link domain.OrderPaymentCollectionLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links[link.OrderID] = link
	return nil
}

func (r *fakePaymentLinkRepo) Delete(ctx context.Context, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.links, orderID)
	r.deleted = append(r.deleted, orderID)
	return nil
}

type fakeShippingOptionRepo struct {
	options map[string]domain.ShippingOption
	listErr error
}

func newFakeShippingOptionRepo(options ...domain.ShippingOption) *fakeShippingOptionRepo {
	repo := &fakeShippingOptionRepo{options: make(map[string]domain.ShippingOption)}
	for _, option := range options {
		repo.options[option.ID] = option
	}
	return repo
}

func (r *fakeShippingOptionRepo) ListByIDs(ctx context.Context, ids []string) ([]domain.ShippingOption, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []domain.ShippingOption
	for _, id := range ids {
		if option, ok := r.options[id]; ok {
			out = append(out, option)
		}
	}
	return out, nil
}

type fakePromotionRepo struct {
	promos []domain.Promotion
}

func (r *fakePromotionRepo) ListByCodes(ctx context.Context, codes []string) ([]domain.Promotion, error) {
	want := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		want[code] = struct{}{}
	}
	var out []domain.Promotion
	for _, promo := range r.promos {
		if _, ok := want[promo.Code]; ok {
			out = append(out, promo)
		}
	}
	return out, nil
}

type fakePromotionUsageRepo struct {
	mu      sync.Mutex
	batches map[string][]domain.PromotionUsage
}

func newFakePromotionUsageRepo() *fakePromotionUsageRepo {
	return &fakePromotionUsageRepo{batches: make(map[string][]domain.PromotionUsage)}
}

func (r *fakePromotionUsageRepo) RecordBatch(ctx context.Context, orderID string, usages []domain.PromotionUsage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches[orderID] = append(r.batches[orderID], usages...)
	return nil
}

type fakeCustomerRepo struct {
	mu        sync.Mutex
	byID      map[string]domain.Customer
	byEmail   map[string]domain.Customer
	addresses map[string][]domain.Address
	inserts   int

	addAddressErr error
}

func newFakeCustomerRepo(customers ...domain.Customer) *fakeCustomerRepo {
	repo := &fakeCustomerRepo{
		byID:      make(map[string]domain.Customer),
		byEmail:   make(map[string]domain.Customer),
		addresses: make(map[string][]domain.Address),
	}
	for _, customer := range customers {
		repo.byID[customer.ID] = customer
		repo.byEmail[customer.Email] = customer
	}
	return repo
}

func (r *fakeCustomerRepo) FindByID(ctx context.Context, customerID string) (domain.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	customer, ok := r.byID[customerID]
	if !ok {
		return domain.Customer{}, notFoundErr("customer " + customerID + " not found")
	}
	return customer, nil
}

func (r *fakeCustomerRepo) FindByEmail(ctx context.Context, email string) (domain.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	customer, ok := r.byEmail[email]
	if !ok {
		return domain.Customer{}, notFoundErr("customer " + email + " not found")
	}
	return customer, nil
}

func (r *fakeCustomerRepo) Insert(ctx context.Context, customer domain.Customer) (domain.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inserts++
	r.byID[customer.ID] = customer
	r.byEmail[customer.Email] = customer
	return customer, nil
}

func (r *fakeCustomerRepo) AddAddress(ctx context.Context, customerID string, address domain.Address) (domain.Address, error) {
	if r.addAddressErr != nil {
		return domain.Address{}, r.addAddressErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addresses[customerID] = append(r.addresses[customerID], address)
	return address, nil
}

type fakePaymentCollectionRepo struct {
	mu          sync.Mutex
	collections map[string]domain.PaymentCollection

	sessionSaves   int
	saveSessionErr error
}

func newFakePaymentCollectionRepo() *fakePaymentCollectionRepo {
	return &fakePaymentCollectionRepo{collections: make(map[string]domain.PaymentCollection)}
}

func (r *fakePaymentCollectionRepo) Insert(ctx context.Context, collection domain.PaymentCollection) (domain.PaymentCollection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collections[collection.ID] = collection
	return collection, nil
}

func (r *fakePaymentCollectionRepo) FindByID(ctx context.Context, collectionID string) (domain.PaymentCollection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	collection, ok := r.collections[collectionID]
	if !ok {
		return domain.PaymentCollection{}, notFoundErr("payment collection " + collectionID + " not found")
	}
	return collection, nil
}

func (r *fakePaymentCollectionRepo) SaveSession(ctx context.Context, collectionID string, session domain.PaymentSession) error {
	if r.saveSessionErr != nil {
		return r.saveSessionErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionSaves++
	collection, ok := r.collections[collectionID]
	if !ok {
		return notFoundErr("payment collection " + collectionID + " not found")
	}
	collection.Sessions = append(collection.Sessions, session)
	r.collections[collectionID] = collection
	return nil
}

type fakePaymentGateway struct {
	mu       sync.Mutex
	statuses map[string]payments.Status
	canceled []string
	refunded []string
	notes    []string
	created  []payments.CreateSessionRequest

	lookupErr error
	cancelErr error
	refundErr error
	createErr error
}

func newFakePaymentGateway() *fakePaymentGateway {
	return &fakePaymentGateway{statuses: make(map[string]payments.Status)}
}

func (g *fakePaymentGateway) CreateSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CreateSessionRequest) (payments.SessionDetails, error) {
	if g.createErr != nil {
		return payments.SessionDetails{}, g.createErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.created = append(g.created, req)
	return payments.SessionDetails{
		Provider: "stripe",
		IntentID: "pi_test",
		Status:   payments.StatusPending,
		Amount:   req.Amount,
		Currency: req.Currency,
	}, nil
}

func (g *fakePaymentGateway) LookupSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.LookupRequest) (payments.SessionDetails, error) {
	if g.lookupErr != nil {
		return payments.SessionDetails{}, g.lookupErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	status, ok := g.statuses[req.IntentID]
	if !ok {
		status = payments.StatusPending
	}
	return payments.SessionDetails{IntentID: req.IntentID, Status: status}, nil
}

func (g *fakePaymentGateway) Cancel(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CancelRequest) (payments.SessionDetails, error) {
	if g.cancelErr != nil {
		return payments.SessionDetails{}, g.cancelErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.canceled = append(g.canceled, req.IntentID)
	return payments.SessionDetails{IntentID: req.IntentID, Status: payments.StatusCanceled}, nil
}

func (g *fakePaymentGateway) Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.SessionDetails, error) {
	if g.refundErr != nil {
		return payments.SessionDetails{}, g.refundErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunded = append(g.refunded, req.IntentID)
	g.notes = append(g.notes, req.Note)
	return payments.SessionDetails{IntentID: req.IntentID, Status: payments.StatusRefunded}, nil
}

type fakeEventPublisher struct {
	mu     sync.Mutex
	events []events.OrderEvent

	failOn string
}

func (p *fakeEventPublisher) PublishOrderEvent(ctx context.Context, event events.OrderEvent) (string, error) {
	if p.failOn != "" && event.EventName == p.failOn {
		return "", errors.New("publish failed")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return "msg_1", nil
}

func (p *fakeEventPublisher) byName(name string) []events.OrderEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.OrderEvent
	for _, event := range p.events {
		if event.EventName == name {
			out = append(out, event)
		}
	}
	return out
}
