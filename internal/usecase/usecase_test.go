package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ShopCx/PaymentService/internal/domain"
	"github.com/ShopCx/PaymentService/internal/repository"
	"github.com/shopspring/decimal"
)

var testLog = slog.New(slog.NewTextHandler(io.Discard, nil))

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) Next(prefix string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s_%04d", prefix, s.n)
}

type stubSettler struct{ err error }

func (s stubSettler) Settle(context.Context, decimal.Decimal, string) error { return s.err }

type stubTokens struct {
	claims []domain.TokenClaims
	mu     sync.Mutex
}

func (s *stubTokens) Issue(_ context.Context, c domain.TokenClaims) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims = append(s.claims, c)
	return "tok-" + c.TransactionID, nil
}

type countRecorder struct {
	mu       sync.Mutex
	payments int
	refunds  int
}

func (r *countRecorder) PaymentProcessed() { r.mu.Lock(); r.payments++; r.mu.Unlock() }
func (r *countRecorder) RefundProcessed()  { r.mu.Lock(); r.refunds++; r.mu.Unlock() }

type memEvents struct {
	mu     sync.Mutex
	events []domain.Event
}

func (m *memEvents) Publish(_ context.Context, ev domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// cancellingSettler cancels the caller's request before answering, like a
// client that disconnects while the gateway is deciding.
type cancellingSettler struct {
	cancel context.CancelFunc
	err    error
}

func (s cancellingSettler) Settle(ctx context.Context, _ decimal.Decimal, _ string) error {
	s.cancel()
	if s.err != nil {
		return s.err
	}
	return ctx.Err()
}

// flakyTxStore fails the next n completed→refunded swaps. With applied set the
// swap is committed before the error is returned, as when a commit succeeds
// but its acknowledgement is lost.
type flakyTxStore struct {
	TransactionStore
	mu      sync.Mutex
	fails   int
	applied bool
}

func (f *flakyTxStore) MarkRefunded(ctx context.Context, id, refundID string, at time.Time) error {
	f.mu.Lock()
	if f.fails > 0 {
		f.fails--
		applied := f.applied
		f.mu.Unlock()
		if applied {
			if err := f.TransactionStore.MarkRefunded(ctx, id, refundID, at); err != nil {
				return err
			}
		}
		return errors.New("database is locked")
	}
	f.mu.Unlock()
	return f.TransactionStore.MarkRefunded(ctx, id, refundID, at)
}

type fixture struct {
	repo     *repository.SQLiteRepo
	payments *PaymentUsecase
	refunds  *RefundUsecase
	tokens   *stubTokens
	metrics  *countRecorder
	events   *memEvents
	txs      *flakyTxStore
}

func newFixture(t *testing.T, settleErr error) *fixture {
	t.Helper()
	return newFixtureWithSettler(t, stubSettler{err: settleErr})
}

func newFixtureWithSettler(t *testing.T, settler Settler) *fixture {
	t.Helper()

	repo, err := repository.NewSQLiteRepo(filepath.Join(t.TempDir(), "usecase.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepo failed: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	f := &fixture{
		repo:    repo,
		tokens:  &stubTokens{},
		metrics: &countRecorder{},
		events:  &memEvents{},
		txs:     &flakyTxStore{TransactionStore: repo},
	}
	clock := fixedClock{t: time.Date(2025, 4, 2, 9, 30, 0, 0, time.UTC)}
	ids := &seqIDs{}

	f.payments = NewPaymentUsecase(PaymentDeps{
		Store:   repo,
		Settler: settler,
		Tokens:  f.tokens,
		Metrics: f.metrics,
		Events:  f.events,
		Clock:   clock,
		IDs:     ids,
		Log:     testLog,
	})
	f.refunds = NewRefundUsecase(RefundDeps{
		Transactions: f.txs,
		Refunds:      repo,
		Metrics:      f.metrics,
		Events:       f.events,
		Clock:        clock,
		IDs:          ids,
		Log:          testLog,
	})
	return f
}

func (f *fixture) pay(t *testing.T, amount string) string {
	t.Helper()

	res, err := f.payments.ProcessPayment(context.Background(),
		[]byte(`{"amount":`+amount+`,"cardNumber":"4242424242424242","cvv":"123","currency":"EUR"}`))
	if err != nil {
		t.Fatalf("ProcessPayment failed: %v", err)
	}
	return res.TransactionID
}

func refundJSON(txID, amount string) []byte {
	return []byte(`{"transactionId":"` + txID + `","amount":` + amount + `,"reason":"customer request"}`)
}

func TestProcessPayment(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.payments.ProcessPayment(ctx, []byte(`{"amount":49.99,"cardNumber":"4242 4242 4242 4242","cvv":"123"}`))
	if err != nil {
		t.Fatalf("ProcessPayment failed: %v", err)
	}
	if res.TransactionID != "txn_0001" || res.Token != "tok-txn_0001" {
		t.Fatalf("unexpected result %+v", res)
	}

	tx, err := f.payments.GetTransaction(ctx, res.TransactionID)
	if err != nil {
		t.Fatalf("GetTransaction failed: %v", err)
	}
	if tx.Status != domain.StatusCompleted || tx.ProcessedAt == nil || tx.RefundedAt != nil {
		t.Fatalf("unexpected transaction %+v", tx)
	}
	if tx.Currency != domain.CurrencyUSD || tx.CardLast4 != "4242" {
		t.Fatalf("unexpected defaults %+v", tx)
	}

	if len(f.tokens.claims) != 1 || f.tokens.claims[0] != (domain.TokenClaims{TransactionID: "txn_0001", Amount: "49.99"}) {
		t.Fatalf("unexpected token claims %+v", f.tokens.claims)
	}
	if f.metrics.payments != 1 {
		t.Fatalf("expected 1 payment counted, got %d", f.metrics.payments)
	}
	if len(f.events.events) != 1 || f.events.events[0].Type != domain.EventPaymentCompleted {
		t.Fatalf("unexpected events %+v", f.events.events)
	}
}

func TestProcessPaymentValidationCreatesNothing(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.payments.ProcessPayment(ctx, []byte(`{"amount":20000,"cardNumber":"4242424242424242","cvv":"123"}`))
	if domain.CodeOf(err) != domain.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}

	items, err := f.payments.ListTransactions(ctx, repository.TxFilter{}, 0, 0)
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if len(items) != 0 || f.metrics.payments != 0 {
		t.Fatalf("expected nothing recorded, got %d transactions", len(items))
	}
}

func TestProcessPaymentSettlementFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, errors.New("card declined"))
	ctx := context.Background()

	_, err := f.payments.ProcessPayment(ctx, []byte(`{"amount":10,"cardNumber":"4242424242424242","cvv":"123"}`))
	de := domain.AsError(err)
	if de.Code != domain.CodePaymentProcessing || de.Kind != domain.KindDependency {
		t.Fatalf("expected payment processing error, got %v", err)
	}
	id := de.Details.(map[string]string)["transactionId"]

	tx, err := f.payments.GetTransaction(ctx, id)
	if err != nil {
		t.Fatalf("GetTransaction failed: %v", err)
	}
	if tx.Status != domain.StatusFailed || tx.ProcessedAt == nil {
		t.Fatalf("expected failed transaction with processedAt, got %+v", tx)
	}
	if len(f.tokens.claims) != 0 || f.metrics.payments != 0 {
		t.Fatal("failed payment must not issue a token or count as processed")
	}
	if len(f.events.events) != 1 || f.events.events[0].Type != domain.EventPaymentFailed {
		t.Fatalf("unexpected events %+v", f.events.events)
	}

	_, err = f.refunds.ProcessRefund(ctx, refundJSON(id, "5"))
	if domain.CodeOf(err) != domain.CodeNotRefundable {
		t.Fatalf("expected not refundable, got %v", err)
	}
}

func TestProcessPaymentFailsEvenWhenRequestCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixtureWithSettler(t, cancellingSettler{cancel: cancel})

	_, err := f.payments.ProcessPayment(ctx, []byte(`{"amount":10,"cardNumber":"4242424242424242","cvv":"123"}`))
	de := domain.AsError(err)
	if de.Code != domain.CodePaymentProcessing {
		t.Fatalf("expected payment processing error, got %v", err)
	}
	id := de.Details.(map[string]string)["transactionId"]

	tx, err := f.payments.GetTransaction(context.Background(), id)
	if err != nil {
		t.Fatalf("GetTransaction failed: %v", err)
	}
	if tx.Status != domain.StatusFailed || tx.ProcessedAt == nil {
		t.Fatalf("transaction must not stay pending, got %+v", tx)
	}
	if len(f.events.events) != 1 || f.events.events[0].Type != domain.EventPaymentFailed {
		t.Fatalf("unexpected events %+v", f.events.events)
	}
}

// stuckTxStore records transactions but rejects every status update.
type stuckTxStore struct{ TransactionStore }

func (stuckTxStore) UpdateTransactionStatus(context.Context, string, domain.TxStatus, domain.TxStatus, time.Time) error {
	return errors.New("disk I/O error")
}

func TestProcessPaymentReportsUnrecordedFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	payments := NewPaymentUsecase(PaymentDeps{
		Store:   stuckTxStore{TransactionStore: f.repo},
		Settler: stubSettler{err: errors.New("card declined")},
		Tokens:  f.tokens,
		Log:     testLog,
	})

	_, err := payments.ProcessPayment(context.Background(), []byte(`{"amount":10,"cardNumber":"4242424242424242","cvv":"123"}`))
	de := domain.AsError(err)
	if de.Code != domain.CodeInternal || de.Kind != domain.KindInternal {
		t.Fatalf("expected internal error when the failure cannot be recorded, got %v", err)
	}
	if id := de.Details.(map[string]string)["transactionId"]; id == "" {
		t.Fatalf("expected transaction id in details, got %+v", de.Details)
	}
}

func TestProcessRefund(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()
	txID := f.pay(t, "100")

	res, err := f.refunds.ProcessRefund(ctx, refundJSON(txID, "100"))
	if err != nil {
		t.Fatalf("ProcessRefund failed: %v", err)
	}
	if res.TransactionID != txID || !res.Amount.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("unexpected result %+v", res)
	}

	tx, _ := f.payments.GetTransaction(ctx, txID)
	if tx.Status != domain.StatusRefunded || tx.RefundedAt == nil || tx.RefundID != res.RefundID {
		t.Fatalf("expected transaction refunded by %s, got %+v", res.RefundID, tx)
	}

	rf, err := f.refunds.GetRefund(ctx, res.RefundID)
	if err != nil {
		t.Fatalf("GetRefund failed: %v", err)
	}
	if rf.Status != domain.RefundCompleted || rf.ProcessedAt == nil || rf.Reason != "customer request" {
		t.Fatalf("unexpected refund %+v", rf)
	}

	_, err = f.refunds.ProcessRefund(ctx, refundJSON(txID, "1"))
	if domain.CodeOf(err) != domain.CodeAlreadyRefunded {
		t.Fatalf("expected already refunded, got %v", err)
	}
	if f.metrics.refunds != 1 {
		t.Fatalf("expected 1 refund counted, got %d", f.metrics.refunds)
	}
}

func TestProcessRefundRejections(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()
	txID := f.pay(t, "40")

	tests := []struct {
		name string
		body []byte
		code string
	}{
		{"missing body", nil, domain.CodeMissingBody},
		{"no transaction id", []byte(`{"amount":5}`), domain.CodeValidation},
		{"negative amount", refundJSON(txID, "-1"), domain.CodeValidation},
		{"unknown transaction", refundJSON("txn_nope", "5"), domain.CodeTxNotFound},
		{"exceeds amount", refundJSON(txID, "40.01"), domain.CodeInvalidRefundAmount},
	}
	for _, tt := range tests {
		_, err := f.refunds.ProcessRefund(ctx, tt.body)
		if got := domain.CodeOf(err); got != tt.code {
			t.Errorf("%s: expected %s, got %s (%v)", tt.name, tt.code, got, err)
		}
	}

	items, err := f.refunds.ListRefunds(ctx, txID)
	if err != nil {
		t.Fatalf("ListRefunds failed: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("rejected refunds must not be recorded, got %d", len(items))
	}

	tx, _ := f.payments.GetTransaction(ctx, txID)
	if tx.Status != domain.StatusCompleted {
		t.Fatalf("transaction must stay completed, got %s", tx.Status)
	}
}

func TestPartialRefund(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	txID := f.pay(t, "100")

	res, err := f.refunds.ProcessRefund(context.Background(), refundJSON(txID, "25.50"))
	if err != nil {
		t.Fatalf("ProcessRefund failed: %v", err)
	}
	if !res.Amount.Equal(decimal.RequireFromString("25.5")) {
		t.Fatalf("unexpected refund amount %s", res.Amount)
	}

	tx, _ := f.payments.GetTransaction(context.Background(), txID)
	if tx.Status != domain.StatusRefunded {
		t.Fatalf("expected refunded, got %s", tx.Status)
	}
}

func TestConcurrentRefundsExactlyOneWins(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()
	txID := f.pay(t, "60")

	const n = 10
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.refunds.ProcessRefund(ctx, refundJSON(txID, "60"))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case domain.CodeOf(err) != domain.CodeAlreadyRefunded:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one refund to succeed, got %d", wins)
	}

	items, err := f.refunds.ListRefunds(ctx, txID)
	if err != nil {
		t.Fatalf("ListRefunds failed: %v", err)
	}
	completed := 0
	for _, rf := range items {
		switch rf.Status {
		case domain.RefundCompleted:
			completed++
		case domain.RefundPending:
			t.Fatalf("refund %s left pending", rf.ID)
		}
	}
	if completed != 1 || f.metrics.refunds != 1 {
		t.Fatalf("expected one completed refund, got %d (counted %d)", completed, f.metrics.refunds)
	}
}

func TestRetryRefundAfterStoreFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()
	txID := f.pay(t, "75")

	f.txs.fails = 1
	_, err := f.refunds.ProcessRefund(ctx, refundJSON(txID, "75"))
	de := domain.AsError(err)
	if de.Code != domain.CodeInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
	refundID := de.Details.(map[string]string)["refundId"]

	rf, err := f.refunds.GetRefund(ctx, refundID)
	if err != nil || rf.Status != domain.RefundPending {
		t.Fatalf("expected pending refund, got %+v (%v)", rf, err)
	}

	res, err := f.refunds.RetryRefund(ctx, refundID)
	if err != nil {
		t.Fatalf("RetryRefund failed: %v", err)
	}
	if res.RefundID != refundID {
		t.Fatalf("retry must resume the same refund, got %s", res.RefundID)
	}

	items, _ := f.refunds.ListRefunds(ctx, txID)
	if len(items) != 1 || items[0].Status != domain.RefundCompleted {
		t.Fatalf("expected a single completed refund, got %+v", items)
	}

	again, err := f.refunds.RetryRefund(ctx, refundID)
	if err != nil || again.RefundID != refundID {
		t.Fatalf("retry of completed refund should return it, got %+v (%v)", again, err)
	}
	if f.metrics.refunds != 1 {
		t.Fatalf("expected 1 refund counted, got %d", f.metrics.refunds)
	}

	if _, err := f.refunds.RetryRefund(ctx, "rfnd_missing"); domain.CodeOf(err) != domain.CodeRefundNotFound {
		t.Fatalf("expected refund not found, got %v", err)
	}
}

func TestRetryRefundLosesToSibling(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()
	txID := f.pay(t, "30")

	f.txs.fails = 1
	_, err := f.refunds.ProcessRefund(ctx, refundJSON(txID, "30"))
	stuck := domain.AsError(err).Details.(map[string]string)["refundId"]

	if _, err := f.refunds.ProcessRefund(ctx, refundJSON(txID, "30")); err != nil {
		t.Fatalf("second refund should succeed, got %v", err)
	}

	_, err = f.refunds.RetryRefund(ctx, stuck)
	if domain.CodeOf(err) != domain.CodeAlreadyRefunded {
		t.Fatalf("expected already refunded, got %v", err)
	}

	rf, _ := f.refunds.GetRefund(ctx, stuck)
	if rf.Status != domain.RefundFailed {
		t.Fatalf("expected losing refund failed, got %s", rf.Status)
	}
	if _, err := f.refunds.RetryRefund(ctx, stuck); domain.CodeOf(err) != domain.CodeAlreadyRefunded {
		t.Fatalf("expected failed refund to stay rejected, got %v", err)
	}
}

func TestRetryRefundAfterAppliedSwap(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()
	txID := f.pay(t, "30")

	f.txs.fails = 1
	f.txs.applied = true
	_, err := f.refunds.ProcessRefund(ctx, refundJSON(txID, "30"))
	owner := domain.AsError(err).Details.(map[string]string)["refundId"]

	// A second pending refund for the same transaction, left behind by a
	// request that raced the first one.
	sibling := &domain.Refund{
		ID:            "rfnd_sibling",
		TransactionID: txID,
		Amount:        decimal.NewFromInt(30),
		Status:        domain.RefundPending,
		CreatedAt:     time.Date(2025, 4, 2, 9, 30, 0, 0, time.UTC),
	}
	if err := f.repo.CreateRefund(ctx, sibling); err != nil {
		t.Fatalf("CreateRefund failed: %v", err)
	}

	if _, err := f.refunds.RetryRefund(ctx, sibling.ID); domain.CodeOf(err) != domain.CodeAlreadyRefunded {
		t.Fatalf("expected sibling rejected as already refunded, got %v", err)
	}

	res, err := f.refunds.RetryRefund(ctx, owner)
	if err != nil {
		t.Fatalf("retry of the refund that applied the swap failed: %v", err)
	}
	if res.RefundID != owner {
		t.Fatalf("unexpected refund %s", res.RefundID)
	}

	items, _ := f.refunds.ListRefunds(ctx, txID)
	byID := map[string]domain.RefundStatus{}
	for _, rf := range items {
		byID[rf.ID] = rf.Status
	}
	if byID[owner] != domain.RefundCompleted || byID[sibling.ID] != domain.RefundFailed {
		t.Fatalf("unexpected refund states %v", byID)
	}

	tx, _ := f.payments.GetTransaction(ctx, txID)
	if tx.Status != domain.StatusRefunded || tx.RefundID != owner {
		t.Fatalf("expected transaction refunded by %s, got %+v", owner, tx)
	}
}

func TestListTransactionsClampsLimit(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	for i := 0; i < 3; i++ {
		f.pay(t, "1")
	}

	items, err := f.payments.ListTransactions(context.Background(), repository.TxFilter{Currency: domain.CurrencyEUR}, 1000, -5)
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(items))
	}

	if _, err := f.payments.GetTransaction(context.Background(), "txn_missing"); domain.CodeOf(err) != domain.CodeTxNotFound {
		t.Fatalf("expected transaction not found, got %v", err)
	}
}
