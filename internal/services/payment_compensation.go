package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cartforge/api/internal/domain"
	"github.com/cartforge/api/internal/payments"
	"github.com/cartforge/api/internal/platform/events"
)

// refundNote is attached to refunds issued while rolling back a failed
// completion so support staff can trace the money movement.
const refundNote = "Refunded due to cart completion failure"

// PaymentCompensatorDeps wires the collaborators of the payment compensator.
type PaymentCompensatorDeps struct {
	Payments PaymentGateway
	Events   OrderEventPublisher
	Logger   Logger
	Clock    Clock
}

// PaymentCompensator reverses payment sessions when a cart completion fails
// after money has been authorized or captured. It never propagates its own
// failures: a reversal that cannot be issued is logged for manual follow-up.
type PaymentCompensator struct {
	payments PaymentGateway
	events   OrderEventPublisher
	logger   Logger
	now      func() time.Time
}

// NewPaymentCompensator constructs a PaymentCompensator validating dependencies.
func NewPaymentCompensator(deps PaymentCompensatorDeps) (*PaymentCompensator, error) {
	if deps.Payments == nil {
		return nil, errors.New("payment compensator: payment gateway is required")
	}
	if deps.Events == nil {
		return nil, errors.New("payment compensator: event publisher is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &PaymentCompensator{
		payments: deps.Payments,
		events:   deps.Events,
		logger:   logger,
		now: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// Compensate walks the collection's sessions and reverses the ones holding
// funds: authorized sessions are voided, captured sessions are refunded, and
// every other state is left untouched. The current state is re-fetched from
// the provider because the stored snapshot may be stale. Each reversal is
// announced on the order topic; orderID may be empty when the failure struck
// before an order existed, the cart id then keys the event.
func (c *PaymentCompensator) Compensate(ctx context.Context, cartID, orderID string, collection *domain.PaymentCollection) {
	if c == nil || collection == nil {
		return
	}

	for _, session := range collection.Sessions {
		intentID := strings.TrimSpace(session.PaymentID)
		if intentID == "" {
			continue
		}

		paymentCtx := payments.PaymentContext{PreferredProvider: providerKey(session.ProviderID)}

		details, err := c.payments.LookupSession(ctx, paymentCtx, payments.LookupRequest{IntentID: intentID})
		if err != nil {
			c.logger(ctx, "payments.compensation_lookup_failed", map[string]any{
				"collection_id": collection.ID,
				"session_id":    session.ID,
				"intent_id":     intentID,
				"error":         err.Error(),
			})
			continue
		}

		switch details.Status {
		case payments.StatusAuthorized:
			if _, err := c.payments.Cancel(ctx, paymentCtx, payments.CancelRequest{
				IntentID:       intentID,
				Reason:         "abandoned",
				IdempotencyKey: session.ID + "-cancel",
			}); err != nil {
				c.logger(ctx, "payments.compensation_cancel_failed", map[string]any{
					"collection_id": collection.ID,
					"session_id":    session.ID,
					"intent_id":     intentID,
					"error":         err.Error(),
				})
				continue
			}
			c.logger(ctx, "payments.compensation_canceled", map[string]any{
				"collection_id": collection.ID,
				"session_id":    session.ID,
				"intent_id":     intentID,
			})
			c.announceReversal(ctx, cartID, orderID, collection.ID, session.ID, intentID, "canceled")
		case payments.StatusCaptured:
			if _, err := c.payments.Refund(ctx, paymentCtx, payments.RefundRequest{
				IntentID:       intentID,
				Note:           refundNote,
				IdempotencyKey: session.ID + "-refund",
			}); err != nil {
				c.logger(ctx, "payments.compensation_refund_failed", map[string]any{
					"collection_id": collection.ID,
					"session_id":    session.ID,
					"intent_id":     intentID,
					"error":         err.Error(),
				})
				continue
			}
			c.logger(ctx, "payments.compensation_refunded", map[string]any{
				"collection_id": collection.ID,
				"session_id":    session.ID,
				"intent_id":     intentID,
			})
			c.announceReversal(ctx, cartID, orderID, collection.ID, session.ID, intentID, "refunded")
		default:
			// Pending, canceled, and failed sessions hold no funds.
		}
	}
}

// announceReversal publishes the money-movement event for a reversed session.
// A failed publish is logged; the reversal itself already happened.
func (c *PaymentCompensator) announceReversal(ctx context.Context, cartID, orderID, collectionID, sessionID, intentID, action string) {
	if _, err := c.events.PublishOrderEvent(ctx, events.OrderEvent{
		EventName:      events.EventOrderPaymentReversed,
		OrderID:        orderID,
		CartID:         cartID,
		OccurredAt:     c.now(),
		IdempotencyKey: sessionID + "-reversed",
		Payload: map[string]any{
			"collection_id": collectionID,
			"session_id":    sessionID,
			"intent_id":     intentID,
			"action":        action,
		},
	}); err != nil {
		c.logger(ctx, "payments.reversal_event_failed", map[string]any{
			"collection_id": collectionID,
			"session_id":    sessionID,
			"intent_id":     intentID,
			"error":         err.Error(),
		})
	}
}

// providerKey strips the registration prefix from a session provider id, so
// "pp_stripe_usd" resolves the "stripe" adapter.
func providerKey(providerID string) string {
	key := strings.TrimSpace(strings.ToLower(providerID))
	key = strings.TrimPrefix(key, "pp_")
	if idx := strings.IndexByte(key, '_'); idx > 0 {
		key = key[:idx]
	}
	return key
}
