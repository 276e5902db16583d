package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cartforge/api/internal/domain"
	"github.com/cartforge/api/internal/payments"
	"github.com/cartforge/api/internal/platform/events"
	"github.com/cartforge/api/internal/repositories"
)

var (
	// ErrDraftOrderInvalidInput indicates the admin payload fails validation.
	ErrDraftOrderInvalidInput = errors.New("draft order: invalid input")
	// ErrDraftOrderInvalidPromotion indicates a requested code could not be applied.
	ErrDraftOrderInvalidPromotion = errors.New("draft order: invalid promotion code")
	// ErrDraftOrderInvalidShipping indicates the requested shipping option is not offered.
	ErrDraftOrderInvalidShipping = errors.New("draft order: invalid shipping option")
	// ErrDraftOrderInvalidData indicates the committed order came back inconsistent.
	ErrDraftOrderInvalidData = errors.New("draft order: inconsistent order data")
	// ErrDraftOrderUnavailable indicates a downstream dependency failed.
	ErrDraftOrderUnavailable = errors.New("draft order: service unavailable")
)

const defaultPaymentProvider = "pp_system_default"

// DraftOrderServiceDeps wires the collaborators of the draft-order flow.
type DraftOrderServiceDeps struct {
	Carts              repositories.CartRepository
	Customers          repositories.CustomerRepository
	Orders             repositories.OrderRepository
	OrderEdits         repositories.OrderEditRepository
	Promotions         repositories.PromotionRepository
	Shipping           repositories.ShippingOptionRepository
	PaymentCollections repositories.PaymentCollectionRepository
	Completion         *CartCompletionService
	Payments           PaymentGateway
	Events             OrderEventPublisher
	Logger             Logger
	Clock              Clock
	// PromotionsEnabled toggles promo code validation. When off, requested
	// codes are carried on the cart without being checked.
	PromotionsEnabled bool
}

// DraftOrderService builds a cart on behalf of an admin, opens its payment
// collection, and drives it through the completion workflow.
type DraftOrderService struct {
	carts              repositories.CartRepository
	customers          repositories.CustomerRepository
	orders             repositories.OrderRepository
	orderEdits         repositories.OrderEditRepository
	promotions         repositories.PromotionRepository
	shipping           repositories.ShippingOptionRepository
	paymentCollections repositories.PaymentCollectionRepository
	completion         *CartCompletionService
	payments           PaymentGateway
	events             OrderEventPublisher
	logger             Logger
	now                func() time.Time
	promotionsEnabled  bool
}

// NewDraftOrderService constructs the service validating dependencies.
func NewDraftOrderService(deps DraftOrderServiceDeps) (*DraftOrderService, error) {
	if deps.Carts == nil {
		return nil, errors.New("draft order service: cart repository is required")
	}
	if deps.Customers == nil {
		return nil, errors.New("draft order service: customer repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("draft order service: order repository is required")
	}
	if deps.OrderEdits == nil {
		return nil, errors.New("draft order service: order edit repository is required")
	}
	if deps.Promotions == nil {
		return nil, errors.New("draft order service: promotion repository is required")
	}
	if deps.Shipping == nil {
		return nil, errors.New("draft order service: shipping option repository is required")
	}
	if deps.PaymentCollections == nil {
		return nil, errors.New("draft order service: payment collection repository is required")
	}
	if deps.Completion == nil {
		return nil, errors.New("draft order service: completion service is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("draft order service: payment gateway is required")
	}
	if deps.Events == nil {
		return nil, errors.New("draft order service: event publisher is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &DraftOrderService{
		carts:              deps.Carts,
		customers:          deps.Customers,
		orders:             deps.Orders,
		orderEdits:         deps.OrderEdits,
		promotions:         deps.Promotions,
		shipping:           deps.Shipping,
		paymentCollections: deps.PaymentCollections,
		completion:         deps.Completion,
		payments:           deps.Payments,
		events:             deps.Events,
		logger:             logger,
		now: func() time.Time {
			return clock().UTC()
		},
		promotionsEnabled: deps.PromotionsEnabled,
	}, nil
}

// CreateOrder places an order for a customer from an admin-supplied payload:
// find-or-create the customer, build the cart, validate promotions and
// shipping, open the payment collection, then run the completion workflow.
// A feed notification is emitted on both outcomes unless suppressed.
func (s *DraftOrderService) CreateOrder(ctx context.Context, cmd CreateDraftOrderCommand) (CreateDraftOrderResult, error) {
	if err := validateDraftOrderCommand(cmd); err != nil {
		return CreateDraftOrderResult{}, err
	}

	customer, err := s.resolveCustomer(ctx, cmd)
	if err != nil {
		return CreateDraftOrderResult{}, err
	}

	if err := s.saveCustomerAddresses(ctx, cmd, customer); err != nil {
		return CreateDraftOrderResult{}, err
	}

	cart, err := s.buildCart(ctx, cmd, customer)
	if err != nil {
		return CreateDraftOrderResult{}, err
	}

	result, err := s.completion.CompleteCart(ctx, CompleteCartCommand{CartID: cart.ID})
	if err != nil {
		s.notify(ctx, cmd, events.OrderEvent{
			EventName:  events.EventOrderNotification,
			OrderID:    cart.ID,
			CartID:     cart.ID,
			CustomerID: customer.ID,
			Email:      customer.Email,
			OccurredAt: s.now(),
			Payload: map[string]any{
				"outcome": "failed",
				"error":   err.Error(),
			},
		})
		return CreateDraftOrderResult{}, s.classify(err)
	}

	order, err := s.orders.FindByID(ctx, result.OrderID)
	if err != nil {
		return CreateDraftOrderResult{}, fmt.Errorf("%w: load order %s: %v", ErrDraftOrderUnavailable, result.OrderID, err)
	}
	if len(order.Items) == 0 {
		return CreateDraftOrderResult{}, fmt.Errorf("%w: order %s has no items", ErrDraftOrderInvalidData, order.ID)
	}

	s.notify(ctx, cmd, events.OrderEvent{
		EventName:  events.EventOrderNotification,
		OrderID:    order.ID,
		DisplayID:  order.DisplayID,
		CartID:     cart.ID,
		CustomerID: customer.ID,
		Email:      customer.Email,
		OccurredAt: s.now(),
		Payload: map[string]any{
			"outcome": "placed",
		},
	})

	s.logger(ctx, "draft_order.created", map[string]any{
		"order_id":    order.ID,
		"display_id":  order.DisplayID,
		"cart_id":     cart.ID,
		"customer_id": customer.ID,
	})
	return CreateDraftOrderResult{Order: order}, nil
}

// ConfirmOrderEdit closes the pending edit window on an order, stamping it
// with the confirming actor. The newest unconfirmed edit is the active one.
func (s *DraftOrderService) ConfirmOrderEdit(ctx context.Context, cmd ConfirmOrderEditCommand) (ConfirmOrderEditResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return ConfirmOrderEditResult{}, fmt.Errorf("%w: order id is required", ErrDraftOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isNotFound(err) {
			return ConfirmOrderEditResult{}, fmt.Errorf("%w: order %s not found", ErrDraftOrderInvalidInput, orderID)
		}
		return ConfirmOrderEditResult{}, fmt.Errorf("%w: load order: %v", ErrDraftOrderUnavailable, err)
	}

	edits, err := s.orderEdits.ListByOrder(ctx, orderID)
	if err != nil {
		return ConfirmOrderEditResult{}, fmt.Errorf("%w: load order edits: %v", ErrDraftOrderUnavailable, err)
	}

	var pending *domain.OrderEdit
	for i := range edits {
		if edits[i].Pending() {
			pending = &edits[i]
		}
	}
	if pending == nil {
		return ConfirmOrderEditResult{}, fmt.Errorf("%w: order %s has no pending edit", ErrDraftOrderInvalidInput, orderID)
	}

	confirmedAt := s.now()
	confirmedBy := strings.TrimSpace(cmd.ConfirmedBy)
	if err := s.orderEdits.Confirm(ctx, pending.ID, confirmedBy, confirmedAt); err != nil {
		return ConfirmOrderEditResult{}, fmt.Errorf("%w: confirm order edit: %v", ErrDraftOrderUnavailable, err)
	}

	edit := *pending
	edit.ConfirmedBy = confirmedBy
	edit.ConfirmedAt = &confirmedAt

	s.logger(ctx, "draft_order.edit_confirmed", map[string]any{
		"order_id":     orderID,
		"edit_id":      edit.ID,
		"confirmed_by": confirmedBy,
	})
	return ConfirmOrderEditResult{Order: order, Edit: edit}, nil
}

func validateDraftOrderCommand(cmd CreateDraftOrderCommand) error {
	if strings.TrimSpace(cmd.Email) == "" && strings.TrimSpace(cmd.CustomerID) == "" {
		return fmt.Errorf("%w: customer email or id is required", ErrDraftOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.RegionID) == "" {
		return fmt.Errorf("%w: region id is required", ErrDraftOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.CurrencyCode) == "" {
		return fmt.Errorf("%w: currency code is required", ErrDraftOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrDraftOrderInvalidInput)
	}
	for i, item := range cmd.Items {
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item %d has non-positive quantity", ErrDraftOrderInvalidInput, i)
		}
		if strings.TrimSpace(item.Title) == "" && strings.TrimSpace(item.VariantID) == "" {
			return fmt.Errorf("%w: item %d needs a title or variant", ErrDraftOrderInvalidInput, i)
		}
	}
	return nil
}

// resolveCustomer returns the referenced customer, finding by email or
// creating a fresh record when the email is unknown.
func (s *DraftOrderService) resolveCustomer(ctx context.Context, cmd CreateDraftOrderCommand) (domain.Customer, error) {
	if id := strings.TrimSpace(cmd.CustomerID); id != "" {
		customer, err := s.customers.FindByID(ctx, id)
		if err != nil {
			if isNotFound(err) {
				return domain.Customer{}, fmt.Errorf("%w: customer %s not found", ErrDraftOrderInvalidInput, id)
			}
			return domain.Customer{}, fmt.Errorf("%w: load customer: %v", ErrDraftOrderUnavailable, err)
		}
		return customer, nil
	}

	email := strings.ToLower(strings.TrimSpace(cmd.Email))
	customer, err := s.customers.FindByEmail(ctx, email)
	if err == nil {
		return customer, nil
	}
	if !isNotFound(err) {
		return domain.Customer{}, fmt.Errorf("%w: look up customer: %v", ErrDraftOrderUnavailable, err)
	}

	created, err := s.customers.Insert(ctx, domain.Customer{
		ID:         newID("cus"),
		Email:      email,
		FirstName:  addressField(cmd.ShippingAddress, func(a *domain.Address) string { return a.FirstName }),
		LastName:   addressField(cmd.ShippingAddress, func(a *domain.Address) string { return a.LastName }),
		Phone:      addressField(cmd.ShippingAddress, func(a *domain.Address) string { return a.Phone }),
		HasAccount: false,
		CreatedAt:  s.now(),
	})
	if err != nil {
		return domain.Customer{}, fmt.Errorf("%w: create customer: %v", ErrDraftOrderUnavailable, err)
	}
	s.logger(ctx, "draft_order.customer_created", map[string]any{
		"customer_id": created.ID,
	})
	return created, nil
}

// saveCustomerAddresses records freshly supplied addresses in the customer's
// address book. Addresses flagged as existing were picked from the book and
// are not written again.
func (s *DraftOrderService) saveCustomerAddresses(ctx context.Context, cmd CreateDraftOrderCommand, customer domain.Customer) error {
	if cmd.ShippingAddress != nil && !cmd.ShippingAddressExisting {
		if err := s.addCustomerAddress(ctx, customer.ID, *cmd.ShippingAddress); err != nil {
			return err
		}
	}
	if cmd.BillingAddress != nil && !cmd.BillingAddressExisting {
		if err := s.addCustomerAddress(ctx, customer.ID, *cmd.BillingAddress); err != nil {
			return err
		}
	}
	return nil
}

func (s *DraftOrderService) addCustomerAddress(ctx context.Context, customerID string, address domain.Address) error {
	address.ID = newID("cuaddr")
	saved, err := s.customers.AddAddress(ctx, customerID, address)
	if err != nil {
		return fmt.Errorf("%w: save customer address: %v", ErrDraftOrderUnavailable, err)
	}
	s.logger(ctx, "draft_order.customer_address_created", map[string]any{
		"customer_id": customerID,
		"address_id":  saved.ID,
	})
	return nil
}

// buildCart assembles and persists the pre-completion cart: items, addresses,
// validated promotions and shipping, and an open payment collection.
func (s *DraftOrderService) buildCart(ctx context.Context, cmd CreateDraftOrderCommand, customer domain.Customer) (domain.Cart, error) {
	now := s.now()

	cart := domain.Cart{
		ID:              newID("cart"),
		Email:           customer.Email,
		CurrencyCode:    strings.ToLower(strings.TrimSpace(cmd.CurrencyCode)),
		SalesChannelID:  cmd.SalesChannelID,
		RegionID:        cmd.RegionID,
		CustomerID:      customer.ID,
		Customer:        &customer,
		ShippingAddress: copyAddress(cmd.ShippingAddress),
		BillingAddress:  copyAddress(cmd.BillingAddress),
		Metadata:        cmd.Metadata,
		CreatedAt:       now,
	}
	if cart.BillingAddress == nil {
		cart.BillingAddress = copyAddress(cmd.ShippingAddress)
	}

	var itemTotal float64
	for _, item := range cmd.Items {
		line := domain.CartLineItem{
			ID:             newID("cali"),
			Title:          item.Title,
			Quantity:       item.Quantity,
			UnitPrice:      item.UnitPrice,
			IsTaxInclusive: item.IsTaxInclusive,
			TaxLines:       item.TaxLines,
			Adjustments:    item.Adjustments,
			Metadata:       item.Metadata,
		}
		if item.VariantID != "" {
			line.Variant = &domain.VariantSnapshot{
				ID:               item.VariantID,
				ProductID:        item.ProductID,
				SKU:              item.SKU,
				RequiresShipping: true,
			}
		}
		cart.Items = append(cart.Items, line)
		itemTotal += item.UnitPrice * float64(item.Quantity)
	}

	if err := s.validatePromotions(ctx, cmd.PromoCodes, cart); err != nil {
		return domain.Cart{}, err
	}

	shippingTotal, err := s.applyShipping(ctx, cmd, &cart)
	if err != nil {
		return domain.Cart{}, err
	}

	cart.Totals = domain.CartTotals{
		ItemTotal:     itemTotal,
		ShippingTotal: shippingTotal,
		Subtotal:      itemTotal,
		Total:         itemTotal + shippingTotal,
	}

	collection, err := s.openPaymentCollection(ctx, cmd, cart)
	if err != nil {
		return domain.Cart{}, err
	}
	cart.PaymentCollection = &collection

	saved, err := s.carts.Save(ctx, cart)
	if err != nil {
		// The PSP intent was opened for a cart that will never complete.
		s.abandonPayment(ctx, collection)
		return domain.Cart{}, fmt.Errorf("%w: save cart: %v", ErrDraftOrderUnavailable, err)
	}
	return saved, nil
}

// validatePromotions checks every requested code resolves to an active
// promotion and that the cart actually carries an application for it. With
// promotions disabled the codes ride along unchecked.
func (s *DraftOrderService) validatePromotions(ctx context.Context, codes []string, cart domain.Cart) error {
	if !s.promotionsEnabled {
		return nil
	}

	requested := make([]string, 0, len(codes))
	for _, code := range codes {
		if c := strings.TrimSpace(code); c != "" {
			requested = append(requested, c)
		}
	}
	if len(requested) == 0 {
		return nil
	}

	promos, err := s.promotions.ListByCodes(ctx, requested)
	if err != nil {
		return fmt.Errorf("%w: load promotions: %v", ErrDraftOrderUnavailable, err)
	}
	active := make(map[string]struct{}, len(promos))
	for _, promo := range promos {
		if promo.Status == "active" {
			active[promo.Code] = struct{}{}
		}
	}

	applied := make(map[string]struct{})
	for _, item := range cart.Items {
		for _, adj := range item.Adjustments {
			if adj.Code != "" {
				applied[adj.Code] = struct{}{}
			}
		}
	}

	for _, code := range requested {
		if _, ok := active[code]; !ok {
			return fmt.Errorf("%w: %s", ErrDraftOrderInvalidPromotion, code)
		}
		if _, ok := applied[code]; !ok {
			return fmt.Errorf("%w: %s was not applied to the cart", ErrDraftOrderInvalidPromotion, code)
		}
	}
	return nil
}

// applyShipping resolves the requested option and attaches it to the cart as
// a shipping method. Returns the shipping amount added to the totals.
func (s *DraftOrderService) applyShipping(ctx context.Context, cmd CreateDraftOrderCommand, cart *domain.Cart) (float64, error) {
	optionID := strings.TrimSpace(cmd.ShippingOption.OptionID)
	if optionID == "" {
		return 0, nil
	}

	options, err := s.shipping.ListByIDs(ctx, []string{optionID})
	if err != nil {
		return 0, fmt.Errorf("%w: load shipping options: %v", ErrDraftOrderUnavailable, err)
	}
	if len(options) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrDraftOrderInvalidShipping, optionID)
	}
	option := options[0]

	method := domain.CartShippingMethod{
		ID:               newID("casm"),
		Name:             option.Name,
		Amount:           cmd.ShippingOption.Amount,
		RawAmount:        cmd.ShippingOption.RawAmount,
		ShippingOptionID: option.ID,
	}
	cart.ShippingMethods = append(cart.ShippingMethods, method)

	for i := range cart.Items {
		if cart.Items[i].Variant != nil && cart.Items[i].Variant.ShippingProfileID == "" {
			cart.Items[i].Variant.ShippingProfileID = option.ShippingProfileID
		}
	}

	if method.RawAmount != nil {
		return *method.RawAmount, nil
	}
	return method.Amount, nil
}

// openPaymentCollection persists a collection for the cart total and opens a
// PSP session against it.
func (s *DraftOrderService) openPaymentCollection(ctx context.Context, cmd CreateDraftOrderCommand, cart domain.Cart) (domain.PaymentCollection, error) {
	providerID := strings.TrimSpace(cmd.PaymentProvider)
	if providerID == "" {
		providerID = defaultPaymentProvider
	}

	collection := domain.PaymentCollection{
		ID:           newID("paycol"),
		CurrencyCode: cart.CurrencyCode,
		Amount:       cart.Totals.Total,
	}

	// The collection row goes in before the PSP call so a created intent is
	// always reachable from storage.
	stored, err := s.paymentCollections.Insert(ctx, collection)
	if err != nil {
		return domain.PaymentCollection{}, fmt.Errorf("%w: save payment collection: %v", ErrDraftOrderUnavailable, err)
	}

	session := domain.PaymentSession{
		ID:           newID("payses"),
		ProviderID:   providerID,
		Status:       domain.PaymentSessionStatusPending,
		Amount:       stored.Amount,
		CurrencyCode: stored.CurrencyCode,
	}

	details, err := s.payments.CreateSession(ctx, payments.PaymentContext{PreferredProvider: providerKey(providerID)}, payments.CreateSessionRequest{
		Amount:         payments.MinorUnits(stored.Amount, stored.CurrencyCode),
		Currency:       stored.CurrencyCode,
		CustomerID:     cart.CustomerID,
		Description:    "Draft order " + cart.ID,
		Metadata:       map[string]string{"cart_id": cart.ID},
		IdempotencyKey: session.ID + "-create",
	})
	if err != nil {
		return domain.PaymentCollection{}, fmt.Errorf("%w: open payment session: %v", ErrDraftOrderUnavailable, err)
	}
	session.PaymentID = details.IntentID
	if details.Provider != "" {
		session.ProviderID = "pp_" + details.Provider
	}

	if err := s.paymentCollections.SaveSession(ctx, stored.ID, session); err != nil {
		s.abandonPayment(ctx, domain.PaymentCollection{ID: stored.ID, Sessions: []domain.PaymentSession{session}})
		return domain.PaymentCollection{}, fmt.Errorf("%w: save payment session: %v", ErrDraftOrderUnavailable, err)
	}
	stored.Sessions = append(stored.Sessions, session)
	return stored, nil
}

// abandonPayment voids the PSP intents opened for a cart that never got
// persisted. Failures are logged for manual follow-up, never propagated.
func (s *DraftOrderService) abandonPayment(ctx context.Context, collection domain.PaymentCollection) {
	for _, session := range collection.Sessions {
		if session.PaymentID == "" {
			continue
		}
		if _, err := s.payments.Cancel(ctx, payments.PaymentContext{PreferredProvider: providerKey(session.ProviderID)}, payments.CancelRequest{
			IntentID:       session.PaymentID,
			Reason:         "abandoned",
			IdempotencyKey: session.ID + "-cancel",
		}); err != nil {
			s.logger(ctx, "draft_order.payment_abandon_failed", map[string]any{
				"collection_id": collection.ID,
				"session_id":    session.ID,
				"intent_id":     session.PaymentID,
				"error":         err.Error(),
			})
			continue
		}
		s.logger(ctx, "draft_order.payment_abandoned", map[string]any{
			"collection_id": collection.ID,
			"session_id":    session.ID,
			"intent_id":     session.PaymentID,
		})
	}
}

// notify emits an admin feed event. Delivery failures are logged, never fatal.
func (s *DraftOrderService) notify(ctx context.Context, cmd CreateDraftOrderCommand, event events.OrderEvent) {
	if cmd.NoNotification {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "draft_order.notification_failed", map[string]any{
			"order_id": event.OrderID,
			"error":    err.Error(),
		})
	}
}

func (s *DraftOrderService) classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCompletionInvalidShipping):
		return fmt.Errorf("%w: %v", ErrDraftOrderInvalidShipping, err)
	case errors.Is(err, ErrCompletionNoItems):
		return fmt.Errorf("%w: %v", ErrDraftOrderInvalidData, err)
	case errors.Is(err, ErrCompletionInvalidInput), errors.Is(err, ErrCompletionCartNotFound):
		return fmt.Errorf("%w: %v", ErrDraftOrderInvalidInput, err)
	case errors.Is(err, ErrCompletionUnavailable):
		return fmt.Errorf("%w: %v", ErrDraftOrderUnavailable, err)
	default:
		return err
	}
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func addressField(addr *domain.Address, get func(*domain.Address) string) string {
	if addr == nil {
		return ""
	}
	return get(addr)
}
