package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cartforge/api/internal/domain"
	"github.com/cartforge/api/internal/platform/events"
	"github.com/cartforge/api/internal/repositories"
	"github.com/cartforge/api/internal/workflow"
)

var (
	// ErrCompletionInvalidInput indicates the command payload fails validation.
	ErrCompletionInvalidInput = errors.New("completion: invalid input")
	// ErrCompletionCartNotFound indicates the cart does not exist.
	ErrCompletionCartNotFound = errors.New("completion: cart not found")
	// ErrCompletionNoItems indicates the materialized order carries no line items.
	ErrCompletionNoItems = errors.New("completion: order has no items")
	// ErrCompletionInvalidShipping indicates the cart's shipping selection cannot
	// serve its items.
	ErrCompletionInvalidShipping = errors.New("completion: invalid shipping configuration")
	// ErrCompletionUnavailable indicates a downstream dependency failed.
	ErrCompletionUnavailable = errors.New("completion: service unavailable")
)

// completionWorkflowName keys execution records and per-cart serialisation.
const completionWorkflowName = "complete-cart-with-pending"

const defaultCompletionRetention = 72 * time.Hour

const initialOrderEditNote = "Initial order edit"

// CartCompletionServiceDeps wires every collaborator of the completion service.
type CartCompletionServiceDeps struct {
	Engine         *workflow.Engine
	Carts          repositories.CartRepository
	Orders         repositories.OrderRepository
	OrderEdits     repositories.OrderEditRepository
	OrderCartLinks repositories.OrderCartLinkRepository
	PaymentLinks   repositories.OrderPaymentCollectionLinkRepository
	Shipping       repositories.ShippingOptionRepository
	PromotionUsage repositories.PromotionUsageRepository
	Compensator    *PaymentCompensator
	Events         OrderEventPublisher
	Logger         Logger
	Clock          Clock
	// Retention bounds how long completed runs replay their result. Zero
	// selects the default of three days.
	Retention time.Duration
}

// CartCompletionService transitions carts into orders exactly once. The
// transition is a compensable multi-step workflow: order creation, an initial
// order-edit window, link writes, the cart completion stamp, event emission,
// and promotion usage registration, with payment reversal on failure.
type CartCompletionService struct {
	engine         *workflow.Engine
	carts          repositories.CartRepository
	orders         repositories.OrderRepository
	orderEdits     repositories.OrderEditRepository
	orderCartLinks repositories.OrderCartLinkRepository
	paymentLinks   repositories.OrderPaymentCollectionLinkRepository
	shipping       repositories.ShippingOptionRepository
	promotionUsage repositories.PromotionUsageRepository
	compensator    *PaymentCompensator
	events         OrderEventPublisher
	logger         Logger
	now            func() time.Time
	definition     workflow.Definition
}

// NewCartCompletionService constructs the service validating dependencies.
func NewCartCompletionService(deps CartCompletionServiceDeps) (*CartCompletionService, error) {
	if deps.Engine == nil {
		return nil, errors.New("completion service: workflow engine is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("completion service: cart repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("completion service: order repository is required")
	}
	if deps.OrderEdits == nil {
		return nil, errors.New("completion service: order edit repository is required")
	}
	if deps.OrderCartLinks == nil {
		return nil, errors.New("completion service: order cart link repository is required")
	}
	if deps.PaymentLinks == nil {
		return nil, errors.New("completion service: payment link repository is required")
	}
	if deps.Shipping == nil {
		return nil, errors.New("completion service: shipping option repository is required")
	}
	if deps.PromotionUsage == nil {
		return nil, errors.New("completion service: promotion usage repository is required")
	}
	if deps.Compensator == nil {
		return nil, errors.New("completion service: payment compensator is required")
	}
	if deps.Events == nil {
		return nil, errors.New("completion service: event publisher is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	retention := deps.Retention
	if retention <= 0 {
		retention = defaultCompletionRetention
	}

	return &CartCompletionService{
		engine:         deps.Engine,
		carts:          deps.Carts,
		orders:         deps.Orders,
		orderEdits:     deps.OrderEdits,
		orderCartLinks: deps.OrderCartLinks,
		paymentLinks:   deps.PaymentLinks,
		shipping:       deps.Shipping,
		promotionUsage: deps.PromotionUsage,
		compensator:    deps.Compensator,
		events:         deps.Events,
		logger:         logger,
		now: func() time.Time {
			return clock().UTC()
		},
		definition: workflow.Definition{
			Name:          completionWorkflowName,
			Idempotent:    true,
			RetentionTime: retention,
		},
	}, nil
}

// CompleteCart converts the cart into an order, or returns the order a prior
// completion already produced. Duplicate submissions for the same cart are
// serialised and replay the first run's result.
func (s *CartCompletionService) CompleteCart(ctx context.Context, cmd CompleteCartCommand) (CompleteCartResult, error) {
	cartID := strings.TrimSpace(cmd.CartID)
	if cartID == "" {
		return CompleteCartResult{}, fmt.Errorf("%w: cart id is required", ErrCompletionInvalidInput)
	}

	if link, found, err := s.findLink(ctx, cartID); err != nil {
		return CompleteCartResult{}, err
	} else if found {
		s.logger(ctx, "completion.short_circuit", map[string]any{
			"cart_id":  cartID,
			"order_id": link.OrderID,
		})
		return CompleteCartResult{OrderID: link.OrderID}, nil
	}

	result, err := workflow.Execute(ctx, s.engine, s.definition, cartID, func(ctx context.Context, run *workflow.Run) (CompleteCartResult, error) {
		return s.runCompletion(ctx, run, cartID)
	})
	if err != nil {
		return CompleteCartResult{}, err
	}
	if result.Replayed {
		s.logger(ctx, "completion.replayed", map[string]any{
			"cart_id":  cartID,
			"order_id": result.Value.OrderID,
		})
	}
	return result.Value, nil
}

func (s *CartCompletionService) runCompletion(ctx context.Context, run *workflow.Run, cartID string) (CompleteCartResult, error) {
	cart, err := s.carts.FindByID(ctx, cartID)
	if err != nil {
		return CompleteCartResult{}, s.classify(err, "load cart")
	}

	// A second writer may have completed the cart between the guard check and
	// acquiring the run. The link is authoritative.
	if cart.CompletedAt != nil {
		if link, found, err := s.findLink(ctx, cartID); err != nil {
			return CompleteCartResult{}, err
		} else if found {
			return CompleteCartResult{OrderID: link.OrderID}, nil
		}
	}

	// Registered before any money-adjacent side effect so the reversal runs
	// after every later step has been undone. The closure reads created.ID
	// at unwind time, when the order may or may not have been inserted.
	var created domain.Order
	if cart.PaymentCollection != nil {
		collection := cart.PaymentCollection
		if err := run.Step(ctx, "reserve-payment-sessions",
			func(ctx context.Context) error { return nil },
			func(ctx context.Context) error {
				s.compensator.Compensate(ctx, cartID, created.ID, collection)
				return nil
			},
		); err != nil {
			return CompleteCartResult{}, err
		}
	}

	if err := s.validateShipping(ctx, cart); err != nil {
		return CompleteCartResult{}, err
	}

	draft := cartToOrder(cart)
	now := s.now()

	order := domain.Order{
		ID:              newID("ord"),
		Status:          domain.OrderStatusPending,
		RegionID:        draft.RegionID,
		CustomerID:      draft.CustomerID,
		SalesChannelID:  draft.SalesChannelID,
		Email:           draft.Email,
		CurrencyCode:    draft.CurrencyCode,
		ShippingAddress: draft.ShippingAddress,
		BillingAddress:  draft.BillingAddress,
		Items:           draft.Items,
		ShippingMethods: draft.ShippingMethods,
		CreditLines:     draft.CreditLines,
		Metadata:        draft.Metadata,
		PromoCodes:      draft.PromoCodes,
		CreatedAt:       now,
	}

	if err := run.Step(ctx, "create-order",
		func(ctx context.Context) error {
			var err error
			created, err = s.orders.Insert(ctx, order)
			return err
		},
		func(ctx context.Context) error {
			return s.orders.MarkCanceled(ctx, created.ID, s.now())
		},
	); err != nil {
		return CompleteCartResult{}, s.classify(err, "create order")
	}

	// Checked against the stored order, not the cart, so an empty
	// materialization is caught regardless of where the lines were lost.
	if err := run.Step(ctx, "ensure-order-items",
		func(ctx context.Context) error {
			if len(created.Items) == 0 {
				return fmt.Errorf("%w: order %s", ErrCompletionNoItems, created.ID)
			}
			return nil
		},
		nil,
	); err != nil {
		return CompleteCartResult{}, err
	}

	if err := run.Step(ctx, "open-order-edit",
		func(ctx context.Context) error {
			_, err := s.orderEdits.Insert(ctx, domain.OrderEdit{
				ID:           newID("oe"),
				OrderID:      created.ID,
				InternalNote: initialOrderEditNote,
				CreatedAt:    s.now(),
			})
			return err
		},
		nil,
	); err != nil {
		return CompleteCartResult{}, s.classify(err, "open order edit")
	}

	parallel := []workflow.ParallelStep{
		{
			Name: "link-order-cart",
			Forward: func(ctx context.Context) error {
				return s.orderCartLinks.Create(ctx, domain.OrderCartLink{
					CartID:    cartID,
					OrderID:   created.ID,
					CreatedAt: s.now(),
				})
			},
			Compensate: func(ctx context.Context) error {
				return s.orderCartLinks.Delete(ctx, cartID)
			},
		},
		{
			Name: "stamp-cart-completed",
			Forward: func(ctx context.Context) error {
				return s.carts.MarkCompleted(ctx, cartID, s.now())
			},
			Compensate: func(ctx context.Context) error {
				return s.carts.ClearCompleted(ctx, cartID)
			},
		},
		{
			Name: "publish-order-placed",
			Forward: func(ctx context.Context) error {
				_, err := s.events.PublishOrderEvent(ctx, events.OrderEvent{
					EventName:      events.EventOrderPlaced,
					OrderID:        created.ID,
					DisplayID:      created.DisplayID,
					CartID:         cartID,
					CustomerID:     created.CustomerID,
					Email:          created.Email,
					OccurredAt:     s.now(),
					IdempotencyKey: cartID + "-placed",
				})
				return err
			},
		},
	}
	if cart.PaymentCollection != nil {
		collectionID := cart.PaymentCollection.ID
		parallel = append(parallel, workflow.ParallelStep{
			Name: "link-order-payment-collection",
			Forward: func(ctx context.Context) error {
				return s.paymentLinks.Create(ctx, domain.OrderPaymentCollectionLink{
					OrderID:             created.ID,
					PaymentCollectionID: collectionID,
					CreatedAt:           s.now(),
				})
			},
			Compensate: func(ctx context.Context) error {
				return s.paymentLinks.Delete(ctx, created.ID)
			},
		})
	}
	if err := run.Parallel(ctx, parallel...); err != nil {
		return CompleteCartResult{}, s.classify(err, "apply completion side effects")
	}

	if usages := promotionUsages(cart); len(usages) > 0 {
		if err := run.Step(ctx, "register-promotion-usage",
			func(ctx context.Context) error {
				return s.promotionUsage.RecordBatch(ctx, created.ID, usages)
			},
			nil,
		); err != nil {
			return CompleteCartResult{}, s.classify(err, "register promotion usage")
		}
	}

	s.logger(ctx, "completion.succeeded", map[string]any{
		"cart_id":    cartID,
		"order_id":   created.ID,
		"display_id": created.DisplayID,
	})
	return CompleteCartResult{OrderID: created.ID}, nil
}

// validateShipping checks that every selected shipping option exists and that
// the options' profiles cover all shippable items.
func (s *CartCompletionService) validateShipping(ctx context.Context, cart domain.Cart) error {
	var optionIDs []string
	seen := make(map[string]struct{})
	for _, method := range cart.ShippingMethods {
		id := strings.TrimSpace(method.ShippingOptionID)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		optionIDs = append(optionIDs, id)
	}
	if len(optionIDs) == 0 {
		return nil
	}

	options, err := s.shipping.ListByIDs(ctx, optionIDs)
	if err != nil {
		return s.classify(err, "load shipping options")
	}
	if len(options) != len(optionIDs) {
		return fmt.Errorf("%w: unknown shipping option on cart %s", ErrCompletionInvalidShipping, cart.ID)
	}
	if profile, mismatch := shippingProfileMismatch(cart, options); mismatch {
		return fmt.Errorf("%w: no option serves shipping profile %s", ErrCompletionInvalidShipping, profile)
	}
	return nil
}

func (s *CartCompletionService) findLink(ctx context.Context, cartID string) (domain.OrderCartLink, bool, error) {
	link, err := s.orderCartLinks.FindByCartID(ctx, cartID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.OrderCartLink{}, false, nil
		}
		return domain.OrderCartLink{}, false, s.classify(err, "look up order cart link")
	}
	return link, true, nil
}

// classify folds repository taxonomy into the service's sentinel errors while
// preserving already-classified failures.
func (s *CartCompletionService) classify(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCompletionNoItems),
		errors.Is(err, ErrCompletionInvalidShipping),
		errors.Is(err, ErrCompletionCartNotFound),
		errors.Is(err, ErrCompletionInvalidInput):
		return err
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %s: %v", ErrCompletionCartNotFound, op, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %s: %v", ErrCompletionUnavailable, op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
