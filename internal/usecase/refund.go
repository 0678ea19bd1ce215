package usecase

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ShopCx/PaymentService/internal/domain"
	"github.com/ShopCx/PaymentService/internal/repository"
	"github.com/ShopCx/PaymentService/internal/validation"
	"github.com/shopspring/decimal"
)

type RefundDeps struct {
	Transactions TransactionStore
	Refunds      RefundStore
	Validator    *validation.Validator
	Metrics      Recorder
	Events       Publisher
	Clock        Clock
	IDs          IDGenerator
	Log          *slog.Logger
}

type RefundUsecase struct {
	txs      TransactionStore
	refunds  RefundStore
	validate *validation.Validator
	metrics  Recorder
	events   Publisher
	clock    Clock
	ids      IDGenerator
	log      *slog.Logger
}

type RefundResult struct {
	RefundID      string
	TransactionID string
	Amount        decimal.Decimal
}

func NewRefundUsecase(d RefundDeps) *RefundUsecase {
	u := &RefundUsecase{
		txs:      d.Transactions,
		refunds:  d.Refunds,
		validate: d.Validator,
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

// ProcessRefund refunds a completed transaction. The completed→refunded
// transition is a conditional update, so of two concurrent refunds for the
// same transaction exactly one succeeds.
func (u *RefundUsecase) ProcessRefund(ctx context.Context, raw []byte) (*RefundResult, error) {
	req, err := u.validate.ParseRefund(raw)
	if err != nil {
		return nil, err
	}

	tx, err := u.txs.GetTransaction(ctx, req.TransactionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, txNotFound(req.TransactionID)
	}
	if err != nil {
		return nil, domain.Internal("Failed to load transaction", err)
	}

	if err := refundable(tx); err != nil {
		return nil, err
	}

	if req.Amount.GreaterThan(tx.Amount) {
		return nil, domain.NewError(domain.KindValidation, domain.CodeInvalidRefundAmount,
			"Refund amount exceeds transaction amount",
			map[string]string{"transactionId": tx.ID, "maxAmount": tx.Amount.String()})
	}

	rf := &domain.Refund{
		ID:            u.ids.Next(refundPrefix),
		TransactionID: tx.ID,
		Amount:        req.Amount,
		Reason:        req.Reason,
		Status:        domain.RefundPending,
		CreatedAt:     u.clock.Now(),
	}
	if err := u.refunds.CreateRefund(ctx, rf); err != nil {
		u.log.Error("create refund failed", "transaction_id", tx.ID, "err", err)
		return nil, domain.Internal("Failed to record refund", err)
	}

	return u.complete(ctx, rf)
}

// RetryRefund resumes a refund left pending by a store failure. It never
// creates another refund record.
func (u *RefundUsecase) RetryRefund(ctx context.Context, refundID string) (*RefundResult, error) {
	rf, err := u.refunds.GetRefund(ctx, refundID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, refundNotFound(refundID)
	}
	if err != nil {
		return nil, domain.Internal("Failed to load refund", err)
	}

	switch rf.Status {
	case domain.RefundCompleted:
		return resultOf(rf), nil
	case domain.RefundFailed:
		return nil, alreadyRefunded(rf.TransactionID)
	}

	return u.complete(ctx, rf)
}

// complete runs the transaction swap and then marks the refund completed. The
// refund is only marked completed after the transaction update is durable.
func (u *RefundUsecase) complete(ctx context.Context, rf *domain.Refund) (*RefundResult, error) {
	log := u.log.With("refund_id", rf.ID, "transaction_id", rf.TransactionID)

	err := u.txs.MarkRefunded(ctx, rf.TransactionID, rf.ID, u.clock.Now())
	if errors.Is(err, repository.ErrStatusConflict) {
		err = u.resolveConflict(ctx, log, rf)
	}
	if err != nil {
		var de *domain.Error
		if errors.As(err, &de) {
			return nil, de
		}
		log.Error("transaction refund update failed", "err", err)
		return nil, &domain.Error{
			Kind:    domain.KindInternal,
			Code:    domain.CodeInternal,
			Message: "Refund recorded but not applied; retry with the refund id",
			Details: map[string]string{"refundId": rf.ID},
			Err:     err,
		}
	}

	at := u.clock.Now()
	if err := u.refunds.UpdateRefundStatus(ctx, rf.ID, domain.RefundPending, domain.RefundCompleted, at); err != nil {
		log.Error("refund completion update failed", "err", err)
		return nil, &domain.Error{
			Kind:    domain.KindInternal,
			Code:    domain.CodeInternal,
			Message: "Refund applied but not finalized; retry with the refund id",
			Details: map[string]string{"refundId": rf.ID},
			Err:     err,
		}
	}
	rf.Status = domain.RefundCompleted
	rf.ProcessedAt = &at

	u.metrics.RefundProcessed()
	log.Info("refund completed", "amount", rf.Amount.String())

	if err := u.events.Publish(ctx, domain.Event{
		Type:        domain.EventRefundCompleted,
		AggregateID: rf.TransactionID,
		OccurredAt:  at,
		Data: map[string]string{
			"refundId": rf.ID,
			"amount":   rf.Amount.String(),
		},
	}); err != nil {
		log.Warn("event publish failed", "type", domain.EventRefundCompleted, "err", err)
	}

	return resultOf(rf), nil
}

// resolveConflict decides what a lost completed→refunded swap means for rf.
// It returns nil when the transaction records rf as the refund that moved it
// to refunded, which happens when an earlier attempt applied the swap but
// reported an error, and a categorized error otherwise.
func (u *RefundUsecase) resolveConflict(ctx context.Context, log *slog.Logger, rf *domain.Refund) error {
	tx, err := u.txs.GetTransaction(ctx, rf.TransactionID)
	if err != nil {
		return err
	}

	if tx.Status == domain.StatusRefunded && tx.RefundID == rf.ID {
		return nil
	}

	if err := u.refunds.UpdateRefundStatus(ctx, rf.ID, domain.RefundPending, domain.RefundFailed, u.clock.Now()); err != nil {
		log.Warn("marking losing refund failed", "err", err)
	}

	if tx.Status == domain.StatusRefunded {
		log.Info("refund rejected, transaction already refunded", "owner_refund_id", tx.RefundID)
		return alreadyRefunded(rf.TransactionID)
	}
	return notRefundable(tx)
}

func (u *RefundUsecase) GetRefund(ctx context.Context, id string) (*domain.Refund, error) {
	rf, err := u.refunds.GetRefund(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, refundNotFound(id)
	}
	if err != nil {
		return nil, domain.Internal("Failed to load refund", err)
	}
	return rf, nil
}

func (u *RefundUsecase) ListRefunds(ctx context.Context, transactionID string) ([]domain.Refund, error) {
	if _, err := u.txs.GetTransaction(ctx, transactionID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, txNotFound(transactionID)
		}
		return nil, domain.Internal("Failed to load transaction", err)
	}

	items, err := u.refunds.ListRefundsByTransaction(ctx, transactionID)
	if err != nil {
		return nil, domain.Internal("Failed to list refunds", err)
	}
	return items, nil
}

func refundable(tx *domain.Transaction) error {
	switch tx.Status {
	case domain.StatusCompleted:
		return nil
	case domain.StatusRefunded:
		return alreadyRefunded(tx.ID)
	default:
		return notRefundable(tx)
	}
}

func resultOf(rf *domain.Refund) *RefundResult {
	return &RefundResult{RefundID: rf.ID, TransactionID: rf.TransactionID, Amount: rf.Amount}
}

func alreadyRefunded(txID string) *domain.Error {
	return domain.NewError(domain.KindConflict, domain.CodeAlreadyRefunded, "Transaction already refunded",
		map[string]string{"transactionId": txID})
}

func notRefundable(tx *domain.Transaction) *domain.Error {
	return domain.NewError(domain.KindConflict, domain.CodeNotRefundable, "Transaction cannot be refunded",
		map[string]string{"transactionId": tx.ID, "status": string(tx.Status)})
}

func refundNotFound(id string) *domain.Error {
	return domain.NewError(domain.KindNotFound, domain.CodeRefundNotFound, "Refund not found",
		map[string]string{"refundId": id})
}
