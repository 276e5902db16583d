package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cartforge/api/internal/payments"
	"github.com/cartforge/api/internal/platform/config"
	"github.com/cartforge/api/internal/repositories"
	"github.com/cartforge/api/internal/services"
	"github.com/cartforge/api/internal/workflow"
)

// Services bundles the service-layer components handlers rely upon. Concrete
// implementations are assembled via constructor injection in NewContainer.
type Services struct {
	Completion  *services.CartCompletionService
	DraftOrders *services.DraftOrderService
	Compensator *services.PaymentCompensator
	Payments    *payments.Manager
	Events      services.OrderEventPublisher
}

// ContainerDeps carries the runtime dependencies that cannot be built from
// configuration alone. Tests can supply in-memory registries and fakes.
type ContainerDeps struct {
	Config     config.Config
	Registry   repositories.Registry
	Executions workflow.ExecutionStore
	Events     services.OrderEventPublisher
	Logger     services.Logger
	Clock      services.Clock
	// Payments overrides the provider manager built from configuration.
	Payments *payments.Manager
}

// Container wires repositories, services, and the workflow engine for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies.
func NewContainer(ctx context.Context, deps ContainerDeps) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}
	if deps.Events == nil {
		return nil, errors.New("order event publisher is required")
	}

	svc, err := buildServices(ctx, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       deps.Config,
		Repositories: deps.Registry,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(ctx context.Context, deps ContainerDeps) (Services, error) {
	var svc Services

	cfg := deps.Config
	reg := deps.Registry
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	manager := deps.Payments
	if manager == nil {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey: cfg.PSP.StripeAPIKey,
			Logger: payments.StripeLogger(deps.Logger),
			Clock:  clock,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build stripe provider: %w", err)
		}
		manager, err = payments.NewManager(map[string]payments.Provider{
			"stripe": stripeProvider,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build payment manager: %w", err)
		}
	}
	svc.Payments = manager

	compensator, err := services.NewPaymentCompensator(services.PaymentCompensatorDeps{
		Payments: manager,
		Events:   deps.Events,
		Logger:   deps.Logger,
		Clock:    clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment compensator: %w", err)
	}
	svc.Compensator = compensator

	executions := deps.Executions
	if executions == nil {
		executions = workflow.NewMemoryExecutionStore()
	}
	engine, err := workflow.NewEngine(workflow.EngineDeps{
		Store:  executions,
		Clock:  clock,
		Logger: deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build workflow engine: %w", err)
	}

	completion, err := services.NewCartCompletionService(services.CartCompletionServiceDeps{
		Engine:         engine,
		Carts:          reg.Carts(),
		Orders:         reg.Orders(),
		OrderEdits:     reg.OrderEdits(),
		OrderCartLinks: reg.OrderCartLinks(),
		PaymentLinks:   reg.OrderPaymentCollectionLinks(),
		Shipping:       reg.ShippingOptions(),
		PromotionUsage: reg.PromotionUsage(),
		Compensator:    compensator,
		Events:         deps.Events,
		Logger:         deps.Logger,
		Clock:          clock,
		Retention:      cfg.Workflow.ExecutionRetention,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build completion service: %w", err)
	}
	svc.Completion = completion

	draftOrders, err := services.NewDraftOrderService(services.DraftOrderServiceDeps{
		Carts:              reg.Carts(),
		Customers:          reg.Customers(),
		Orders:             reg.Orders(),
		OrderEdits:         reg.OrderEdits(),
		Promotions:         reg.Promotions(),
		Shipping:           reg.ShippingOptions(),
		PaymentCollections: reg.PaymentCollections(),
		Completion:         completion,
		Payments:           manager,
		Events:             deps.Events,
		Logger:             deps.Logger,
		Clock:              clock,
		PromotionsEnabled:  cfg.Features.EnablePromotions,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build draft order service: %w", err)
	}
	svc.DraftOrders = draftOrders
	svc.Events = deps.Events

	return svc, nil
}
