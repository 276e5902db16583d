package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cartforge/api/internal/domain"
	"github.com/cartforge/api/internal/payments"
	"github.com/cartforge/api/internal/platform/events"
	"github.com/cartforge/api/internal/services"
	"github.com/cartforge/api/internal/workflow"
)

// memoryBackend implements the repository contracts over process memory so
// the route can be exercised end to end.
type memoryBackend struct {
	mu          sync.Mutex
	carts       map[string]domain.Cart
	customers   map[string]domain.Customer
	addresses   map[string][]domain.Address
	orders      map[string]domain.Order
	edits       []domain.OrderEdit
	cartLinks   map[string]domain.OrderCartLink
	payLinks    map[string]domain.OrderPaymentCollectionLink
	options     map[string]domain.ShippingOption
	promotions  []domain.Promotion
	usages      map[string][]domain.PromotionUsage
	collections map[string]domain.PaymentCollection
	nextDisplay int64
}

type backendNotFound struct{ msg string }

func (e *backendNotFound) Error() string       { return e.msg }
func (e *backendNotFound) IsNotFound() bool    { return true }
func (e *backendNotFound) IsConflict() bool    { return false }
func (e *backendNotFound) IsUnavailable() bool { return false }

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{
		carts:     make(map[string]domain.Cart),
		customers: make(map[string]domain.Customer),
		addresses: make(map[string][]domain.Address),
		orders:    make(map[string]domain.Order),
		cartLinks: make(map[string]domain.OrderCartLink),
		payLinks:  make(map[string]domain.OrderPaymentCollectionLink),
		options: map[string]domain.ShippingOption{
			"so_1": {ID: "so_1", Name: "Standard", ShippingProfileID: "sp_default"},
		},
		promotions: []domain.Promotion{
			{ID: "promo_1", Code: "SAVE10", Status: "active"},
		},
		usages:      make(map[string][]domain.PromotionUsage),
		collections: make(map[string]domain.PaymentCollection),
	}
}

func (b *memoryBackend) FindByID(ctx context.Context, cartID string) (domain.Cart, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cart, ok := b.carts[cartID]
	if !ok {
		return domain.Cart{}, &backendNotFound{msg: "cart not found"}
	}
	return cart, nil
}

func (b *memoryBackend) Save(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.carts[cart.ID] = cart
	return cart, nil
}

func (b *memoryBackend) MarkCompleted(ctx context.Context, cartID string, completedAt time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cart := b.carts[cartID]
	cart.CompletedAt = &completedAt
	b.carts[cartID] = cart
	return nil
}

func (b *memoryBackend) ClearCompleted(ctx context.Context, cartID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cart := b.carts[cartID]
	cart.CompletedAt = nil
	b.carts[cartID] = cart
	return nil
}

type backendCustomers struct{ b *memoryBackend }

func (r backendCustomers) FindByID(ctx context.Context, customerID string) (domain.Customer, error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	customer, ok := r.b.customers[customerID]
	if !ok {
		return domain.Customer{}, &backendNotFound{msg: "customer not found"}
	}
	return customer, nil
}

func (r backendCustomers) FindByEmail(ctx context.Context, email string) (domain.Customer, error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	for _, customer := range r.b.customers {
		if customer.Email == email {
			return customer, nil
		}
	}
	return domain.Customer{}, &backendNotFound{msg: "customer not found"}
}

func (r backendCustomers) Insert(ctx context.Context, customer domain.Customer) (domain.Customer, error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	r.b.customers[customer.ID] = customer
	return customer, nil
}

func (r backendCustomers) AddAddress(ctx context.Context, customerID string, address domain.Address) (domain.Address, error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	r.b.addresses[customerID] = append(r.b.addresses[customerID], address)
	return address, nil
}

type backendOrders struct{ b *memoryBackend }

func (r backendOrders) Insert(ctx context.Context, order domain.Order) (domain.Order, error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	r.b.nextDisplay++
	order.DisplayID = r.b.nextDisplay
	r.b.orders[order.ID] = order
	return order, nil
}

func (r backendOrders) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	order, ok := r.b.orders[orderID]
	if !ok {
		return domain.Order{}, &backendNotFound{msg: "order not found"}
	}
	return order, nil
}

func (r backendOrders) MarkCanceled(ctx context.Context, orderID string, canceledAt time.Time) error {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	order := r.b.orders[orderID]
	order.Status = domain.OrderStatusCanceled
	r.b.orders[orderID] = order
	return nil
}

type backendEdits struct{ b *memoryBackend }

func (r backendEdits) Insert(ctx context.Context, edit domain.OrderEdit) (domain.OrderEdit, error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	r.b.edits = append(r.b.edits, edit)
	return edit, nil
}

func (r backendEdits) ListByOrder(ctx context.Context, orderID string) ([]domain.OrderEdit, error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	var out []domain.OrderEdit
	for _, edit := range r.b.edits {
		if edit.OrderID == orderID {
			out = append(out, edit)
		}
	}
	return out, nil
}

func (r backendEdits) Confirm(ctx context.Context, editID string, confirmedBy string, confirmedAt time.Time) error {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	for i := range r.b.edits {
		if r.b.edits[i].ID == editID {
			stamp := confirmedAt
			r.b.edits[i].ConfirmedBy = confirmedBy
			r.b.edits[i].ConfirmedAt = &stamp
			return nil
		}
	}
	return &backendNotFound{msg: "edit not found"}
}

type backendCartLinks struct{ b *memoryBackend }

func (r backendCartLinks) FindByCartID(ctx context.Context, cartID string) (domain.OrderCartLink, error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	link, ok := r.b.cartLinks[cartID]
	if !ok {
		return domain.OrderCartLink{}, &backendNotFound{msg: "link not found"}
	}
	return link, nil
}

func (r backendCartLinks) Create(ctx context.Context, link domain.OrderCartLink) error {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	r.b.cartLinks[link.CartID] = link
	return nil
}

func (r backendCartLinks) Delete(ctx context.Context, cartID string) error {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	delete(r.b.cartLinks, cartID)
	return nil
}

type backendPayLinks struct{ b *memoryBackend }

func (r backendPayLinks) Create(ctx context.Context, link domain.OrderPaymentCollectionLink) error {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	r.b.payLinks[link.OrderID] = link
	return nil
}

func (r backendPayLinks) Delete(ctx context.Context, orderID string) error {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	delete(r.b.payLinks, orderID)
	return nil
}

type backendOptions struct{ b *memoryBackend }

func (r backendOptions) ListByIDs(ctx context.Context, ids []string) ([]domain.ShippingOption, error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	var out []domain.ShippingOption
	for _, id := range ids {
		if option, ok := r.b.options[id]; ok {
			out = append(out, option)
		}
	}
	return out, nil
}

type backendPromotions struct{ b *memoryBackend }

func (r backendPromotions) ListByCodes(ctx context.Context, codes []string) ([]domain.Promotion, error) {
	want := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		want[code] = struct{}{}
	}
	var out []domain.Promotion
	for _, promo := range r.b.promotions {
		if _, ok := want[promo.Code]; ok {
			out = append(out, promo)
		}
	}
	return out, nil
}

type backendUsages struct{ b *memoryBackend }

func (r backendUsages) RecordBatch(ctx context.Context, orderID string, usages []domain.PromotionUsage) error {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	r.b.usages[orderID] = append(r.b.usages[orderID], usages...)
	return nil
}

type backendCollections struct{ b *memoryBackend }

func (r backendCollections) Insert(ctx context.Context, collection domain.PaymentCollection) (domain.PaymentCollection, error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	r.b.collections[collection.ID] = collection
	return collection, nil
}

func (r backendCollections) FindByID(ctx context.Context, collectionID string) (domain.PaymentCollection, error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	collection, ok := r.b.collections[collectionID]
	if !ok {
		return domain.PaymentCollection{}, &backendNotFound{msg: "collection not found"}
	}
	return collection, nil
}

func (r backendCollections) SaveSession(ctx context.Context, collectionID string, session domain.PaymentSession) error {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	collection, ok := r.b.collections[collectionID]
	if !ok {
		return &backendNotFound{msg: "collection not found"}
	}
	collection.Sessions = append(collection.Sessions, session)
	r.b.collections[collectionID] = collection
	return nil
}

type stubGateway struct{}

func (stubGateway) CreateSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CreateSessionRequest) (payments.SessionDetails, error) {
	return payments.SessionDetails{Provider: "stripe", IntentID: "pi_test", Status: payments.StatusPending}, nil
}

func (stubGateway) LookupSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.LookupRequest) (payments.SessionDetails, error) {
	return payments.SessionDetails{IntentID: req.IntentID, Status: payments.StatusPending}, nil
}

func (stubGateway) Cancel(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CancelRequest) (payments.SessionDetails, error) {
	return payments.SessionDetails{IntentID: req.IntentID, Status: payments.StatusCanceled}, nil
}

func (stubGateway) Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.SessionDetails, error) {
	return payments.SessionDetails{IntentID: req.IntentID, Status: payments.StatusRefunded}, nil
}

type stubPublisher struct {
	mu     sync.Mutex
	events []events.OrderEvent
}

func (p *stubPublisher) PublishOrderEvent(ctx context.Context, event events.OrderEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return "msg_1", nil
}

func newTestRouter(t *testing.T) (http.Handler, *memoryBackend) {
	t.Helper()

	backend := newMemoryBackend()

	engine, err := workflow.NewEngine(workflow.EngineDeps{Store: workflow.NewMemoryExecutionStore()})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	compensator, err := services.NewPaymentCompensator(services.PaymentCompensatorDeps{Payments: stubGateway{}, Events: &stubPublisher{}})
	if err != nil {
		t.Fatalf("NewPaymentCompensator: %v", err)
	}
	completion, err := services.NewCartCompletionService(services.CartCompletionServiceDeps{
		Engine:         engine,
		Carts:          backend,
		Orders:         backendOrders{backend},
		OrderEdits:     backendEdits{backend},
		OrderCartLinks: backendCartLinks{backend},
		PaymentLinks:   backendPayLinks{backend},
		Shipping:       backendOptions{backend},
		PromotionUsage: backendUsages{backend},
		Compensator:    compensator,
		Events:         &stubPublisher{},
	})
	if err != nil {
		t.Fatalf("NewCartCompletionService: %v", err)
	}
	draftOrders, err := services.NewDraftOrderService(services.DraftOrderServiceDeps{
		Carts:              backend,
		Customers:          backendCustomers{backend},
		Orders:             backendOrders{backend},
		OrderEdits:         backendEdits{backend},
		Promotions:         backendPromotions{backend},
		Shipping:           backendOptions{backend},
		PaymentCollections: backendCollections{backend},
		Completion:         completion,
		Payments:           stubGateway{},
		Events:             &stubPublisher{},
		PromotionsEnabled:  true,
	})
	if err != nil {
		t.Fatalf("NewDraftOrderService: %v", err)
	}
	adminHandlers, err := NewAdminOrderHandlers(draftOrders, nil)
	if err != nil {
		t.Fatalf("NewAdminOrderHandlers: %v", err)
	}

	router := NewRouter(WithAdminRoutes(adminHandlers.Routes))
	return router, backend
}

const createOrderBody = `{
	"email": "buyer@example.com",
	"regionId": "reg_1",
	"currencyCode": "EUR",
	"shippingAddress": {
		"firstName": "Ada",
		"lastName": "Lovelace",
		"address1": "1 Analytical Way",
		"city": "London",
		"countryCode": "gb",
		"postalCode": "N1 9GU"
	},
	"items": [
		{"title": "Widget", "variantId": "variant_1", "quantity": 2, "unitPrice": 10}
	],
	"shippingOption": {"optionId": "so_1", "amount": 5}
}`

func TestCreateOrderEndpointPlacesOrder(t *testing.T) {
	router, backend := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/create-order", strings.NewReader(createOrderBody))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp createOrderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if resp.Order.ID == "" || len(resp.Order.Items) != 1 {
		t.Fatalf("unexpected order payload %+v", resp.Order)
	}
	if resp.Order.Items[0].UnitPrice != 10 {
		t.Fatalf("unit price changed: %v", resp.Order.Items[0].UnitPrice)
	}

	if len(backend.orders) != 1 {
		t.Fatalf("expected one stored order, got %d", len(backend.orders))
	}
	if len(backend.cartLinks) != 1 {
		t.Fatalf("expected an order cart link, got %d", len(backend.cartLinks))
	}
}

func TestCreateOrderEndpointSanitisesFreeText(t *testing.T) {
	router, _ := newTestRouter(t)

	body := strings.Replace(createOrderBody, `"title": "Widget"`, `"title": "<script>alert(1)</script>Widget"`, 1)
	req := httptest.NewRequest(http.MethodPost, "/admin/create-order", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp createOrderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if resp.Order.Items[0].Title != "Widget" {
		t.Fatalf("expected markup stripped, got %q", resp.Order.Items[0].Title)
	}
}

func TestCreateOrderEndpointRejectsBadCountryCode(t *testing.T) {
	router, _ := newTestRouter(t)

	body := strings.Replace(createOrderBody, `"countryCode": "gb"`, `"countryCode": "zz9"`, 1)
	req := httptest.NewRequest(http.MethodPost, "/admin/create-order", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCreateOrderEndpointReportsFailures(t *testing.T) {
	router, _ := newTestRouter(t)

	body := strings.Replace(createOrderBody, `"optionId": "so_1"`, `"optionId": "so_missing"`, 1)
	req := httptest.NewRequest(http.MethodPost, "/admin/create-order", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d: %s", rr.Code, rr.Body.String())
	}

	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload["error"] != "invalid_shipping_option" {
		t.Fatalf("unexpected error code %v", payload["error"])
	}
	if payload["message"] == "" {
		t.Fatal("expected a message field")
	}
}

func TestCreateOrderEndpointRejectsEmptyBody(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/create-order", strings.NewReader(""))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCreateOrderEndpointStoresNewAddress(t *testing.T) {
	router, backend := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/create-order", strings.NewReader(createOrderBody))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var total int
	for _, book := range backend.addresses {
		total += len(book)
	}
	if total != 1 {
		t.Fatalf("expected one stored address, got %d", total)
	}
}

func TestCreateOrderEndpointHonorsExistingAddressFlag(t *testing.T) {
	router, backend := newTestRouter(t)

	body := strings.Replace(createOrderBody, `"shippingAddress": {`, `"shippingAddress": {
		"isExistingAddress": true,`, 1)
	req := httptest.NewRequest(http.MethodPost, "/admin/create-order", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(backend.addresses) != 0 {
		t.Fatalf("existing address must not be stored, got %+v", backend.addresses)
	}
}

func TestConfirmOrderEditEndpoint(t *testing.T) {
	router, backend := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/create-order", strings.NewReader(createOrderBody))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("create order failed: %d: %s", rr.Code, rr.Body.String())
	}
	var placed createOrderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &placed); err != nil {
		t.Fatalf("parse response: %v", err)
	}

	confirmReq := httptest.NewRequest(http.MethodPost, "/admin/order-edits/"+placed.Order.ID+"/confirm", strings.NewReader(`{"confirmedBy": "usr_admin"}`))
	confirmRR := httptest.NewRecorder()
	router.ServeHTTP(confirmRR, confirmReq)

	if confirmRR.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", confirmRR.Code, confirmRR.Body.String())
	}
	var resp confirmOrderEditResponse
	if err := json.Unmarshal(confirmRR.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if resp.Order.ID != placed.Order.ID {
		t.Fatalf("expected order %s, got %s", placed.Order.ID, resp.Order.ID)
	}
	if resp.Edit.ConfirmedBy != "usr_admin" || resp.Edit.ConfirmedAt == "" {
		t.Fatalf("edit not stamped: %+v", resp.Edit)
	}

	if len(backend.edits) != 1 || backend.edits[0].ConfirmedAt == nil {
		t.Fatalf("stored edit must be confirmed, got %+v", backend.edits)
	}
}

func TestConfirmOrderEditEndpointUnknownOrder(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/order-edits/ord_missing/confirm", strings.NewReader(""))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d: %s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload["error"] != "invalid_request" {
		t.Fatalf("unexpected error code %v", payload["error"])
	}
}
