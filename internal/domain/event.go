package domain

import "time"

type EventType string

const (
	EventPaymentCompleted EventType = "payment.completed"
	EventPaymentFailed    EventType = "payment.failed"
	EventRefundCompleted  EventType = "refund.completed"
)

// Event is a lifecycle notification emitted after a state change is durable.
type Event struct {
	Type        EventType         `json:"type"`
	AggregateID string            `json:"aggregateId"`
	OccurredAt  time.Time         `json:"occurredAt"`
	Data        map[string]string `json:"data"`
}

// TokenClaims is the full claim set handed to the token issuer.
type TokenClaims struct {
	TransactionID string `json:"transactionId"`
	Amount        string `json:"amount"`
}
