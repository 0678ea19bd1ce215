package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TxStatus string

const (
	StatusPending   TxStatus = "pending"
	StatusCompleted TxStatus = "completed"
	StatusFailed    TxStatus = "failed"
	StatusRefunded  TxStatus = "refunded"
)

// Processed reports whether the status carries a processedAt stamp.
func (s TxStatus) Processed() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusRefunded
}

func (s TxStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
)

const DefaultCurrency = CurrencyUSD

func (c Currency) Valid() bool {
	switch c {
	case CurrencyUSD, CurrencyEUR, CurrencyGBP:
		return true
	}
	return false
}

// Transaction is a single payment attempt and its outcome. Only the last four
// digits of the card are kept.
type Transaction struct {
	ID          string
	Amount      decimal.Decimal
	Currency    Currency
	CardLast4   string
	Status      TxStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ProcessedAt *time.Time
	RefundedAt  *time.Time
	// RefundID names the refund whose swap moved the transaction to refunded.
	RefundID string
}
