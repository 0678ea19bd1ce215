package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundCompleted RefundStatus = "completed"
	RefundFailed    RefundStatus = "failed"
)

type Refund struct {
	ID            string
	TransactionID string
	Amount        decimal.Decimal
	Reason        string
	Status        RefundStatus
	CreatedAt     time.Time
	ProcessedAt   *time.Time
}
