package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
)

// Event names emitted on the order topic.
const (
	EventOrderPlaced          = "order.placed"
	EventOrderNotification    = "order.notification_requested"
	EventOrderPaymentReversed = "order.payment_reversed"
)

// OrderEvent is the payload published for order lifecycle notifications.
type OrderEvent struct {
	EventName      string         `json:"eventName"`
	OrderID        string         `json:"orderId"`
	DisplayID      int64          `json:"displayId,omitempty"`
	CartID         string         `json:"cartId,omitempty"`
	CustomerID     string         `json:"customerId,omitempty"`
	Email          string         `json:"email,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
}

// PubSubOrderPublisher publishes order lifecycle events to a Pub/Sub topic.
type PubSubOrderPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubOrderPublisher constructs a Pub/Sub backed order event publisher.
func NewPubSubOrderPublisher(topic *pubsub.Topic) (*PubSubOrderPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order publisher: topic is required")
	}
	return &PubSubOrderPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishOrderEvent enqueues an order event message on the configured topic.
func (p *PubSubOrderPublisher) PublishOrderEvent(ctx context.Context, event OrderEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub order publisher: not initialised")
	}
	if strings.TrimSpace(event.EventName) == "" {
		return "", errors.New("pubsub order publisher: event name is required")
	}
	// Payment reversals can fire before an order exists; the cart id keys
	// those messages.
	if strings.TrimSpace(event.OrderID) == "" && strings.TrimSpace(event.CartID) == "" {
		return "", errors.New("pubsub order publisher: order id or cart id is required")
	}

	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventName", event.EventName)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "cartId", event.CartID)
	setAttr(attrs, "customerId", event.CustomerID)
	if event.DisplayID > 0 {
		attrs["displayId"] = strconv.FormatInt(event.DisplayID, 10)
	}
	if key := strings.TrimSpace(event.IdempotencyKey); key != "" {
		attrs["idempotencyKey"] = key
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish order event: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
