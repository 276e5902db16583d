package services

import (
	"context"
	"errors"
	"testing"

	"github.com/cartforge/api/internal/domain"
	"github.com/cartforge/api/internal/payments"
	"github.com/cartforge/api/internal/workflow"
)

type completionFixture struct {
	service        *CartCompletionService
	carts          *fakeCartRepo
	orders         *fakeOrderRepo
	orderEdits     *fakeOrderEditRepo
	orderCartLinks *fakeOrderCartLinkRepo
	paymentLinks   *fakePaymentLinkRepo
	shipping       *fakeShippingOptionRepo
	promotionUsage *fakePromotionUsageRepo
	gateway        *fakePaymentGateway
	publisher      *fakeEventPublisher
}

func newCompletionFixture(t *testing.T, carts ...domain.Cart) *completionFixture {
	t.Helper()

	engine, err := workflow.NewEngine(workflow.EngineDeps{Store: workflow.NewMemoryExecutionStore()})
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}

	fixture := &completionFixture{
		carts:          newFakeCartRepo(carts...),
		orders:         newFakeOrderRepo(),
		orderEdits:     &fakeOrderEditRepo{},
		orderCartLinks: newFakeOrderCartLinkRepo(),
		paymentLinks:   newFakePaymentLinkRepo(),
		shipping: newFakeShippingOptionRepo(
			domain.ShippingOption{ID: "so_1", Name: "Standard", ShippingProfileID: "sp_default"},
		),
		promotionUsage: newFakePromotionUsageRepo(),
		gateway:        newFakePaymentGateway(),
		publisher:      &fakeEventPublisher{},
	}

	compensator, err := NewPaymentCompensator(PaymentCompensatorDeps{Payments: fixture.gateway, Events: fixture.publisher})
	if err != nil {
		t.Fatalf("NewPaymentCompensator returned error: %v", err)
	}

	fixture.service, err = NewCartCompletionService(CartCompletionServiceDeps{
		Engine:         engine,
		Carts:          fixture.carts,
		Orders:         fixture.orders,
		OrderEdits:     fixture.orderEdits,
		OrderCartLinks: fixture.orderCartLinks,
		PaymentLinks:   fixture.paymentLinks,
		Shipping:       fixture.shipping,
		PromotionUsage: fixture.promotionUsage,
		Compensator:    compensator,
		Events:         fixture.publisher,
	})
	if err != nil {
		t.Fatalf("NewCartCompletionService returned error: %v", err)
	}
	return fixture
}

func completableCart(id string) domain.Cart {
	return domain.Cart{
		ID:           id,
		Email:        "buyer@example.com",
		CurrencyCode: "eur",
		RegionID:     "reg_1",
		CustomerID:   "cus_1",
		Items: []domain.CartLineItem{
			{
				ID:        "cali_1",
				Title:     "Widget",
				Quantity:  1,
				UnitPrice: 25,
				Variant: &domain.VariantSnapshot{
					ID:                "variant_1",
					RequiresShipping:  true,
					ShippingProfileID: "sp_default",
				},
				Adjustments: []domain.Adjustment{{Code: "SAVE10", Amount: 2.5}},
			},
		},
		ShippingMethods: []domain.CartShippingMethod{
			{ID: "casm_1", Name: "Standard", Amount: 5, ShippingOptionID: "so_1"},
		},
		PaymentCollection: &domain.PaymentCollection{
			ID:           "paycol_1",
			CurrencyCode: "eur",
			Amount:       27.5,
			Sessions: []domain.PaymentSession{
				{ID: "payses_1", ProviderID: "pp_stripe_eur", Status: domain.PaymentSessionStatusAuthorized, PaymentID: "pi_1"},
			},
		},
	}
}

func TestCompleteCartCreatesOrderAndSideEffects(t *testing.T) {
	ctx := context.Background()
	fixture := newCompletionFixture(t, completableCart("cart_1"))

	result, err := fixture.service.CompleteCart(ctx, CompleteCartCommand{CartID: "cart_1"})
	if err != nil {
		t.Fatalf("CompleteCart returned error: %v", err)
	}
	if result.OrderID == "" {
		t.Fatal("expected an order id")
	}

	order, err := fixture.orders.FindByID(ctx, result.OrderID)
	if err != nil {
		t.Fatalf("order not stored: %v", err)
	}
	if order.Email != "buyer@example.com" || len(order.Items) != 1 {
		t.Fatalf("unexpected order: %+v", order)
	}

	link, err := fixture.orderCartLinks.FindByCartID(ctx, "cart_1")
	if err != nil {
		t.Fatalf("order cart link not created: %v", err)
	}
	if link.OrderID != result.OrderID {
		t.Fatalf("link points at %s, want %s", link.OrderID, result.OrderID)
	}
	if _, ok := fixture.paymentLinks.links[result.OrderID]; !ok {
		t.Fatal("payment collection link not created")
	}
	if _, ok := fixture.carts.completed["cart_1"]; !ok {
		t.Fatal("cart not stamped completed")
	}

	if len(fixture.orderEdits.edits) != 1 {
		t.Fatalf("expected 1 order edit, got %d", len(fixture.orderEdits.edits))
	}
	if fixture.orderEdits.edits[0].InternalNote != "Initial order edit" {
		t.Fatalf("unexpected order edit note %q", fixture.orderEdits.edits[0].InternalNote)
	}

	placed := fixture.publisher.byName("order.placed")
	if len(placed) != 1 || placed[0].OrderID != result.OrderID {
		t.Fatalf("expected one order.placed event, got %+v", placed)
	}

	usages := fixture.promotionUsage.batches[result.OrderID]
	if len(usages) != 1 || usages[0].Code != "SAVE10" || usages[0].Amount != 2.5 {
		t.Fatalf("unexpected promotion usages %+v", usages)
	}
}

func TestCompleteCartTwiceReturnsSameOrder(t *testing.T) {
	ctx := context.Background()
	fixture := newCompletionFixture(t, completableCart("cart_1"))

	first, err := fixture.service.CompleteCart(ctx, CompleteCartCommand{CartID: "cart_1"})
	if err != nil {
		t.Fatalf("first CompleteCart returned error: %v", err)
	}
	second, err := fixture.service.CompleteCart(ctx, CompleteCartCommand{CartID: "cart_1"})
	if err != nil {
		t.Fatalf("second CompleteCart returned error: %v", err)
	}

	if first.OrderID != second.OrderID {
		t.Fatalf("order ids differ: %s vs %s", first.OrderID, second.OrderID)
	}
	if fixture.orders.inserts != 1 {
		t.Fatalf("expected 1 order insert, got %d", fixture.orders.inserts)
	}
}

func TestCompleteCartWithoutItemsFailsAndCancelsOrder(t *testing.T) {
	ctx := context.Background()
	cart := completableCart("cart_1")
	cart.Items = nil
	fixture := newCompletionFixture(t, cart)

	_, err := fixture.service.CompleteCart(ctx, CompleteCartCommand{CartID: "cart_1"})
	if !errors.Is(err, ErrCompletionNoItems) {
		t.Fatalf("expected ErrCompletionNoItems, got %v", err)
	}

	if len(fixture.orders.canceled) != 1 {
		t.Fatalf("expected the orphan order to be canceled, got %v", fixture.orders.canceled)
	}
	if _, ok := fixture.carts.completed["cart_1"]; ok {
		t.Fatal("cart must not stay completed after a failed run")
	}
	if len(fixture.orderCartLinks.links) != 0 {
		t.Fatalf("no link may survive a failed run, got %v", fixture.orderCartLinks.links)
	}
}

func TestCompleteCartEventFailureUnwindsSideEffects(t *testing.T) {
	ctx := context.Background()
	fixture := newCompletionFixture(t, completableCart("cart_1"))
	fixture.publisher.failOn = "order.placed"
	fixture.gateway.statuses["pi_1"] = payments.StatusAuthorized

	_, err := fixture.service.CompleteCart(ctx, CompleteCartCommand{CartID: "cart_1"})
	if err == nil {
		t.Fatal("expected completion to fail")
	}

	// The sibling branches applied their writes; the unwind then removed them.
	if len(fixture.orderCartLinks.deleted) != 1 {
		t.Fatalf("expected link rollback, got %v", fixture.orderCartLinks.deleted)
	}
	if len(fixture.carts.cleared) != 1 {
		t.Fatalf("expected completion stamp rollback, got %v", fixture.carts.cleared)
	}
	if len(fixture.orders.canceled) != 1 {
		t.Fatalf("expected order cancellation, got %v", fixture.orders.canceled)
	}
	if len(fixture.gateway.canceled) != 1 || fixture.gateway.canceled[0] != "pi_1" {
		t.Fatalf("expected authorized payment voided, got %v", fixture.gateway.canceled)
	}
	reversed := fixture.publisher.byName("order.payment_reversed")
	if len(reversed) != 1 || reversed[0].CartID != "cart_1" || reversed[0].OrderID == "" {
		t.Fatalf("expected a reversal event keyed by order and cart, got %+v", reversed)
	}
}

func TestCompleteCartRefundsCapturedPaymentOnFailure(t *testing.T) {
	ctx := context.Background()
	fixture := newCompletionFixture(t, completableCart("cart_1"))
	fixture.publisher.failOn = "order.placed"
	fixture.gateway.statuses["pi_1"] = payments.StatusCaptured

	_, err := fixture.service.CompleteCart(ctx, CompleteCartCommand{CartID: "cart_1"})
	if err == nil {
		t.Fatal("expected completion to fail")
	}
	if len(fixture.gateway.refunded) != 1 || fixture.gateway.refunded[0] != "pi_1" {
		t.Fatalf("expected captured payment refunded, got %v", fixture.gateway.refunded)
	}
	if fixture.gateway.notes[0] != "Refunded due to cart completion failure" {
		t.Fatalf("unexpected refund note %q", fixture.gateway.notes[0])
	}
}

func TestCompleteCartUnknownShippingOptionFails(t *testing.T) {
	ctx := context.Background()
	cart := completableCart("cart_1")
	cart.ShippingMethods[0].ShippingOptionID = "so_missing"
	fixture := newCompletionFixture(t, cart)

	_, err := fixture.service.CompleteCart(ctx, CompleteCartCommand{CartID: "cart_1"})
	if !errors.Is(err, ErrCompletionInvalidShipping) {
		t.Fatalf("expected ErrCompletionInvalidShipping, got %v", err)
	}
	if fixture.orders.inserts != 0 {
		t.Fatalf("no order may be created, got %d inserts", fixture.orders.inserts)
	}
}

func TestCompleteCartProfileMismatchFails(t *testing.T) {
	ctx := context.Background()
	cart := completableCart("cart_1")
	cart.Items[0].Variant.ShippingProfileID = "sp_bulky"
	fixture := newCompletionFixture(t, cart)

	_, err := fixture.service.CompleteCart(ctx, CompleteCartCommand{CartID: "cart_1"})
	if !errors.Is(err, ErrCompletionInvalidShipping) {
		t.Fatalf("expected ErrCompletionInvalidShipping, got %v", err)
	}
}

func TestCompleteCartMissingCart(t *testing.T) {
	ctx := context.Background()
	fixture := newCompletionFixture(t)

	_, err := fixture.service.CompleteCart(ctx, CompleteCartCommand{CartID: "cart_missing"})
	if !errors.Is(err, ErrCompletionCartNotFound) {
		t.Fatalf("expected ErrCompletionCartNotFound, got %v", err)
	}
}

func TestCompleteCartValidatesInput(t *testing.T) {
	ctx := context.Background()
	fixture := newCompletionFixture(t)

	_, err := fixture.service.CompleteCart(ctx, CompleteCartCommand{})
	if !errors.Is(err, ErrCompletionInvalidInput) {
		t.Fatalf("expected ErrCompletionInvalidInput, got %v", err)
	}
}

func TestCompleteCartShortCircuitsOnExistingLink(t *testing.T) {
	ctx := context.Background()
	fixture := newCompletionFixture(t)
	if err := fixture.orderCartLinks.Create(ctx, domain.OrderCartLink{CartID: "cart_1", OrderID: "ord_existing"}); err != nil {
		t.Fatalf("seed link: %v", err)
	}

	result, err := fixture.service.CompleteCart(ctx, CompleteCartCommand{CartID: "cart_1"})
	if err != nil {
		t.Fatalf("CompleteCart returned error: %v", err)
	}
	if result.OrderID != "ord_existing" {
		t.Fatalf("expected existing order id, got %s", result.OrderID)
	}
	if fixture.orders.inserts != 0 {
		t.Fatalf("guard must prevent order creation, got %d inserts", fixture.orders.inserts)
	}
}
