package kafka

import "time"

// EventType определяет тип события
type EventType string

const (
	// События checkout-конвейера
	EventTypeOrderCreated   EventType = "order.created"
	EventTypeOrderRepaired  EventType = "order.repaired"
	EventTypeCheckoutFailed EventType = "checkout.failed"

	// События исполнения заказа
	EventTypeFulfillmentChanged EventType = "order.fulfillment_changed"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "checkout.order.events"
	TopicDeadLetterQueue = "checkout.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// OrderEvent представляет событие заказа
type OrderEvent struct {
	EventType        EventType              `json:"event_type"`
	OrderID          string                 `json:"order_id"`
	SessionID        string                 `json:"session_id,omitempty"`
	PaymentReference string                 `json:"payment_reference,omitempty"`
	AmountMinor      int64                  `json:"amount_minor,omitempty"`
	Currency         string                 `json:"currency,omitempty"`
	Timestamp        time.Time              `json:"timestamp"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// NewOrderEvent создает новое событие заказа
func NewOrderEvent(eventType EventType, orderID, sessionID string, metadata map[string]interface{}) *OrderEvent {
	return &OrderEvent{
		EventType: eventType,
		OrderID:   orderID,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
}
