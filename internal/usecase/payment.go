package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ShopCx/PaymentService/internal/domain"
	"github.com/ShopCx/PaymentService/internal/repository"
	"github.com/ShopCx/PaymentService/internal/validation"
)

type PaymentDeps struct {
	Store     TransactionStore
	Validator *validation.Validator
	Settler   Settler
	Tokens    TokenIssuer
	Metrics   Recorder
	Events    Publisher
	Clock     Clock
	IDs       IDGenerator
	Log       *slog.Logger
}

type PaymentUsecase struct {
	store    TransactionStore
	validate *validation.Validator
	settler  Settler
	tokens   TokenIssuer
	metrics  Recorder
	events   Publisher
	clock    Clock
	ids      IDGenerator
	log      *slog.Logger
}

type PaymentResult struct {
	TransactionID string
	Token         string
}

func NewPaymentUsecase(d PaymentDeps) *PaymentUsecase {
	u := &PaymentUsecase{
		store:    d.Store,
		validate: d.Validator,
		settler:  d.Settler,
		tokens:   d.Tokens,
		metrics:  d.Metrics,
		events:   d.Events,
		clock:    d.Clock,
		ids:      d.IDs,
		log:      d.Log,
	}
	if u.validate == nil {
		u.validate = validation.New()
	}
	if u.metrics == nil {
		u.metrics = nopRecorder{}
	}
	if u.events == nil {
		u.events = nopPublisher{}
	}
	if u.clock == nil {
		u.clock = SystemClock{}
	}
	if u.ids == nil {
		u.ids = UUIDGenerator{}
	}
	if u.log == nil {
		u.log = slog.Default()
	}
	return u
}

// ProcessPayment validates raw, records a pending transaction, settles it and
// moves it to completed or failed. Exactly one transaction is created per call
// that passes validation.
func (u *PaymentUsecase) ProcessPayment(ctx context.Context, raw []byte) (*PaymentResult, error) {
	req, err := u.validate.ParsePayment(raw)
	if err != nil {
		return nil, err
	}

	now := u.clock.Now()
	tx := &domain.Transaction{
		ID:        u.ids.Next(txnPrefix),
		Amount:    req.Amount,
		Currency:  req.Currency,
		CardLast4: domain.Last4(req.CardNumber),
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := u.store.CreateTransaction(ctx, tx); err != nil {
		u.log.Error("create transaction failed", "transaction_id", tx.ID, "err", err)
		return nil, domain.Internal("Failed to record transaction", err)
	}

	log := u.log.With("transaction_id", tx.ID, "card_last4", tx.CardLast4)

	if err := u.settler.Settle(ctx, tx.Amount, tx.CardLast4); err != nil {
		log.Warn("settlement failed", "err", err)
		if ferr := u.finish(ctx, log, tx, domain.StatusFailed); ferr != nil {
			return nil, &domain.Error{
				Kind:    domain.KindInternal,
				Code:    domain.CodeInternal,
				Message: "Internal server error",
				Details: map[string]string{"transactionId": tx.ID},
				Err:     errors.Join(err, ferr),
			}
		}
		return nil, &domain.Error{
			Kind:    domain.KindDependency,
			Code:    domain.CodePaymentProcessing,
			Message: "Payment processing failed",
			Details: map[string]string{"transactionId": tx.ID},
			Err:     err,
		}
	}

	if err := u.finish(ctx, log, tx, domain.StatusCompleted); err != nil {
		return nil, domain.Internal("Failed to complete transaction", err)
	}

	token, err := u.tokens.Issue(ctx, domain.TokenClaims{
		TransactionID: tx.ID,
		Amount:        tx.Amount.String(),
	})
	if err != nil {
		log.Error("token issue failed", "err", err)
		return nil, domain.Internal("Failed to issue payment token", err)
	}

	u.metrics.PaymentProcessed()
	log.Info("payment processed", "amount", tx.Amount.String(), "currency", tx.Currency)

	return &PaymentResult{TransactionID: tx.ID, Token: token}, nil
}

// finishTimeout bounds the terminal update once it is detached from the
// request.
const finishTimeout = 5 * time.Second

// finish applies the single pending→to transition and emits the matching event.
// It runs even when the request ctx is already cancelled, so a transaction
// never stays pending after settlement answered.
func (u *PaymentUsecase) finish(ctx context.Context, log *slog.Logger, tx *domain.Transaction, to domain.TxStatus) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	at := u.clock.Now()
	if err := u.store.UpdateTransactionStatus(ctx, tx.ID, domain.StatusPending, to, at); err != nil {
		log.Error("transaction status update failed", "to", to, "err", err)
		return err
	}
	tx.Status = to
	tx.UpdatedAt = at
	tx.ProcessedAt = &at

	evType := domain.EventPaymentCompleted
	if to == domain.StatusFailed {
		evType = domain.EventPaymentFailed
	}
	u.publish(ctx, log, domain.Event{
		Type:        evType,
		AggregateID: tx.ID,
		OccurredAt:  at,
		Data: map[string]string{
			"amount":   tx.Amount.String(),
			"currency": string(tx.Currency),
			"status":   string(to),
		},
	})
	return nil
}

func (u *PaymentUsecase) publish(ctx context.Context, log *slog.Logger, ev domain.Event) {
	if err := u.events.Publish(ctx, ev); err != nil {
		log.Warn("event publish failed", "type", ev.Type, "err", err)
	}
}

func (u *PaymentUsecase) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	tx, err := u.store.GetTransaction(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, txNotFound(id)
	}
	if err != nil {
		return nil, domain.Internal("Failed to load transaction", err)
	}
	return tx, nil
}

func (u *PaymentUsecase) ListTransactions(ctx context.Context, f repository.TxFilter, limit, offset int) ([]domain.Transaction, error) {
	if limit <= 0 || limit > repository.MaxListLimit {
		limit = repository.DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	items, err := u.store.ListTransactions(ctx, f, limit, offset)
	if err != nil {
		return nil, domain.Internal("Failed to list transactions", err)
	}
	return items, nil
}

func txNotFound(id string) *domain.Error {
	return domain.NewError(domain.KindNotFound, domain.CodeTxNotFound, "Transaction not found",
		map[string]string{"transactionId": id})
}
