package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ShopCx/PaymentService/internal/domain"
	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type SQLiteRepo struct {
	db *sql.DB
}

func NewSQLiteRepo(dsn string) (*SQLiteRepo, error) {
	db, err := sql.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, err
	}

	// A single connection serializes writers.
	db.SetMaxOpenConns(1)

	r := &SQLiteRepo{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return r, nil
}

// withPragmas appends connection pragmas so every pooled connection gets them.
func withPragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepo) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS transactions(
			id TEXT PRIMARY KEY,
			amount TEXT NOT NULL,
			currency TEXT NOT NULL,
			card_last4 TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			processed_at TEXT,
			refunded_at TEXT,
			refund_id TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_tx_status ON transactions(status);
		CREATE INDEX IF NOT EXISTS idx_tx_created_at ON transactions(created_at);

		CREATE TABLE IF NOT EXISTS refunds(
			id TEXT PRIMARY KEY,
			transaction_id TEXT NOT NULL REFERENCES transactions(id),
			amount TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			processed_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_refund_transaction ON refunds(transaction_id);
		CREATE INDEX IF NOT EXISTS idx_refund_status ON refunds(status);
	`
	_, err := r.db.Exec(schema)
	return err
}

func (r *SQLiteRepo) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	q := `
		INSERT INTO transactions(
			id,
			amount,
			currency,
			card_last4,
			status,
			created_at,
			updated_at,
			processed_at,
			refunded_at
		)
		VALUES(?, ?, ?, ?, ?, ?, ?, NULL, NULL);
	`

	_, err := r.db.ExecContext(
		ctx, q,
		t.ID,
		t.Amount.String(),
		string(t.Currency),
		t.CardLast4,
		string(t.Status),
		formatTime(t.CreatedAt),
		formatTime(t.UpdatedAt),
	)

	return translateSQLiteErr(err)
}

func (r *SQLiteRepo) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	q := `
		SELECT
			id,
			amount,
			currency,
			card_last4,
			status,
			created_at,
			updated_at,
			processed_at,
			refunded_at,
			refund_id
		FROM transactions WHERE id = ?
	`

	t, err := scanTx(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// UpdateTransactionStatus moves a transaction from one status to another only
// if it is still in from. A lost race yields ErrStatusConflict.
func (r *SQLiteRepo) UpdateTransactionStatus(ctx context.Context, id string, from, to domain.TxStatus, at time.Time) error {
	col, err := transactionColumn(to)
	if err != nil {
		return err
	}

	q := `UPDATE transactions SET status = ?, updated_at = ?, ` + col + ` = ? WHERE id = ? AND status = ?`
	stamp := formatTime(at)

	res, err := r.db.ExecContext(ctx, q, string(to), stamp, stamp, id, string(from))
	if err != nil {
		return err
	}

	aff, _ := res.RowsAffected()
	if aff == 0 {
		return r.missingOrConflict(ctx, "transactions", id)
	}

	return nil
}

// MarkRefunded moves a completed transaction to refunded and records refundID
// as the refund that did it, in one conditional update.
func (r *SQLiteRepo) MarkRefunded(ctx context.Context, id, refundID string, at time.Time) error {
	q := `UPDATE transactions SET status = ?, updated_at = ?, refunded_at = ?, refund_id = ? WHERE id = ? AND status = ?`
	stamp := formatTime(at)

	res, err := r.db.ExecContext(ctx, q, string(domain.StatusRefunded), stamp, stamp, refundID, id, string(domain.StatusCompleted))
	if err != nil {
		return err
	}

	aff, _ := res.RowsAffected()
	if aff == 0 {
		return r.missingOrConflict(ctx, "transactions", id)
	}

	return nil
}

func (r *SQLiteRepo) ListTransactions(ctx context.Context, f TxFilter, limit, offset int) ([]domain.Transaction, error) {
	q := `
		SELECT
			id,
			amount,
			currency,
			card_last4,
			status,
			created_at,
			updated_at,
			processed_at,
			refunded_at,
			refund_id
		FROM transactions WHERE 1 = 1
	`
	args := []any{}

	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, string(f.Status))
	}

	if f.Currency != "" {
		q += " AND currency = ?"
		args = append(args, string(f.Currency))
	}

	q += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []domain.Transaction{}
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, err
		}

		res = append(res, *t)
	}

	return res, rows.Err()
}

func (r *SQLiteRepo) CreateRefund(ctx context.Context, rf *domain.Refund) error {
	q := `
		INSERT INTO refunds(
			id,
			transaction_id,
			amount,
			reason,
			status,
			created_at,
			processed_at
		)
		VALUES(?, ?, ?, ?, ?, ?, NULL);
	`

	_, err := r.db.ExecContext(
		ctx, q,
		rf.ID,
		rf.TransactionID,
		rf.Amount.String(),
		rf.Reason,
		string(rf.Status),
		formatTime(rf.CreatedAt),
	)

	return translateSQLiteErr(err)
}

func (r *SQLiteRepo) GetRefund(ctx context.Context, id string) (*domain.Refund, error) {
	q := `
		SELECT id, transaction_id, amount, reason, status, created_at, processed_at
		FROM refunds WHERE id = ?
	`

	rf, err := scanRefund(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rf, err
}

func (r *SQLiteRepo) UpdateRefundStatus(ctx context.Context, id string, from, to domain.RefundStatus, at time.Time) error {
	if err := validRefundTarget(to); err != nil {
		return err
	}

	q := `UPDATE refunds SET status = ?, processed_at = ? WHERE id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, q, string(to), formatTime(at), id, string(from))
	if err != nil {
		return err
	}

	aff, _ := res.RowsAffected()
	if aff == 0 {
		return r.missingOrConflict(ctx, "refunds", id)
	}

	return nil
}

func (r *SQLiteRepo) ListRefundsByTransaction(ctx context.Context, transactionID string) ([]domain.Refund, error) {
	q := `
		SELECT id, transaction_id, amount, reason, status, created_at, processed_at
		FROM refunds WHERE transaction_id = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, q, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []domain.Refund{}
	for rows.Next() {
		rf, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *rf)
	}

	return res, rows.Err()
}

func (r *SQLiteRepo) missingOrConflict(ctx context.Context, table, id string) error {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrStatusConflict
}

func translateSQLiteErr(err error) error {
	if err == nil {
		return nil
	}

	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return fmt.Errorf("%w: %v", ErrDuplicate, err)
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}
	}

	// Fallback for drivers that report only the primary result code.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTx(s scanner) (*domain.Transaction, error) {
	var t domain.Transaction
	var amount, currency, status, createdStr, updatedStr string
	var processedStr, refundedStr *string

	if err := s.Scan(
		&t.ID,
		&amount,
		&currency,
		&t.CardLast4,
		&status,
		&createdStr,
		&updatedStr,
		&processedStr,
		&refundedStr,
		&t.RefundID,
	); err != nil {
		return nil, err
	}

	var err error
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	t.Currency = domain.Currency(currency)
	t.Status = domain.TxStatus(status)

	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr); err != nil {
		return nil, fmt.Errorf("parse created time: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedStr); err != nil {
		return nil, fmt.Errorf("parse updated time: %w", err)
	}
	if t.ProcessedAt, err = parseTimePtr(processedStr); err != nil {
		return nil, fmt.Errorf("parse processed time: %w", err)
	}
	if t.RefundedAt, err = parseTimePtr(refundedStr); err != nil {
		return nil, fmt.Errorf("parse refunded time: %w", err)
	}

	return &t, nil
}

func scanRefund(s scanner) (*domain.Refund, error) {
	var rf domain.Refund
	var amount, status, createdStr string
	var processedStr *string

	if err := s.Scan(
		&rf.ID,
		&rf.TransactionID,
		&amount,
		&rf.Reason,
		&status,
		&createdStr,
		&processedStr,
	); err != nil {
		return nil, err
	}

	var err error
	if rf.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	rf.Status = domain.RefundStatus(status)

	if rf.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr); err != nil {
		return nil, fmt.Errorf("parse created time: %w", err)
	}
	if rf.ProcessedAt, err = parseTimePtr(processedStr); err != nil {
		return nil, fmt.Errorf("parse processed time: %w", err)
	}

	return &rf, nil
}
