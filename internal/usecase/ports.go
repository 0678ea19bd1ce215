package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/ShopCx/PaymentService/internal/domain"
	"github.com/ShopCx/PaymentService/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionStore interface {
	CreateTransaction(ctx context.Context, t *domain.Transaction) error
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, id string, from, to domain.TxStatus, at time.Time) error
	MarkRefunded(ctx context.Context, id, refundID string, at time.Time) error
	ListTransactions(ctx context.Context, f repository.TxFilter, limit, offset int) ([]domain.Transaction, error)
}

type RefundStore interface {
	CreateRefund(ctx context.Context, r *domain.Refund) error
	GetRefund(ctx context.Context, id string) (*domain.Refund, error)
	UpdateRefundStatus(ctx context.Context, id string, from, to domain.RefundStatus, at time.Time) error
	ListRefundsByTransaction(ctx context.Context, transactionID string) ([]domain.Refund, error)
}

// Settler moves funds for a payment. It only ever sees the last four digits.
type Settler interface {
	Settle(ctx context.Context, amount decimal.Decimal, cardLast4 string) error
}

type TokenIssuer interface {
	Issue(ctx context.Context, claims domain.TokenClaims) (string, error)
}

type Recorder interface {
	PaymentProcessed()
	RefundProcessed()
}

type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	Next(prefix string) string
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// UUIDGenerator yields ids like "txn_3f1c0e6b9d2a4c51a8e7f05b6d9c2e41".
type UUIDGenerator struct{}

func (UUIDGenerator) Next(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

type nopRecorder struct{}

func (nopRecorder) PaymentProcessed() {}
func (nopRecorder) RefundProcessed()  {}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, domain.Event) error { return nil }

const (
	txnPrefix    = "txn"
	refundPrefix = "rfnd"
)
