package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ShopCx/PaymentService/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

type PostgresRepo struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewPostgresRepo(ctx context.Context, log *slog.Logger, url string) (*PostgresRepo, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("pg connect: %w", err)
	}

	r := &PostgresRepo{log: log, pool: pool}
	if err := r.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return r, nil
}

func (r *PostgresRepo) Close() error {
	r.pool.Close()
	return nil
}

func (r *PostgresRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresRepo) migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			amount NUMERIC NOT NULL CHECK (amount > 0),
			currency TEXT NOT NULL,
			card_last4 TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			processed_at TIMESTAMPTZ,
			refunded_at TIMESTAMPTZ,
			refund_id TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_tx_status ON transactions(status);
		CREATE INDEX IF NOT EXISTS idx_tx_created_at ON transactions(created_at DESC);

		CREATE TABLE IF NOT EXISTS refunds (
			id TEXT PRIMARY KEY,
			transaction_id TEXT NOT NULL REFERENCES transactions(id),
			amount NUMERIC NOT NULL CHECK (amount > 0),
			reason TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			processed_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_refund_transaction ON refunds(transaction_id);
	`)
	return err
}

func (r *PostgresRepo) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO transactions (id, amount, currency, card_last4, status, created_at, updated_at)
		VALUES ($1, $2::text::numeric, $3, $4, $5, $6, $7)`,
		t.ID, t.Amount.String(), string(t.Currency), t.CardLast4, string(t.Status), t.CreatedAt.UTC(), t.UpdatedAt.UTC())
	return translatePgErr(err)
}

func (r *PostgresRepo) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, amount::text, currency, card_last4, status, created_at, updated_at, processed_at, refunded_at, refund_id
		FROM transactions WHERE id = $1`, id)

	t, err := scanPgTx(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func (r *PostgresRepo) UpdateTransactionStatus(ctx context.Context, id string, from, to domain.TxStatus, at time.Time) error {
	col, err := transactionColumn(to)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE transactions SET status = $1, updated_at = $2, `+col+` = $2 WHERE id = $3 AND status = $4`,
		string(to), at.UTC(), id, string(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrConflict(ctx, "transactions", id)
	}
	return nil
}

func (r *PostgresRepo) MarkRefunded(ctx context.Context, id, refundID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE transactions SET status = $1, updated_at = $2, refunded_at = $2, refund_id = $3 WHERE id = $4 AND status = $5`,
		string(domain.StatusRefunded), at.UTC(), refundID, id, string(domain.StatusCompleted))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrConflict(ctx, "transactions", id)
	}
	return nil
}

func (r *PostgresRepo) ListTransactions(ctx context.Context, f TxFilter, limit, offset int) ([]domain.Transaction, error) {
	q := `
		SELECT id, amount::text, currency, card_last4, status, created_at, updated_at, processed_at, refunded_at, refund_id
		FROM transactions WHERE 1 = 1`
	args := []any{}

	if f.Status != "" {
		args = append(args, string(f.Status))
		q += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Currency != "" {
		args = append(args, string(f.Currency))
		q += fmt.Sprintf(" AND currency = $%d", len(args))
	}

	args = append(args, limit, offset)
	q += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []domain.Transaction{}
	for rows.Next() {
		t, err := scanPgTx(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *t)
	}
	return res, rows.Err()
}

func (r *PostgresRepo) CreateRefund(ctx context.Context, rf *domain.Refund) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO refunds (id, transaction_id, amount, reason, status, created_at)
		VALUES ($1, $2, $3::text::numeric, $4, $5, $6)`,
		rf.ID, rf.TransactionID, rf.Amount.String(), rf.Reason, string(rf.Status), rf.CreatedAt.UTC())
	return translatePgErr(err)
}

func (r *PostgresRepo) GetRefund(ctx context.Context, id string) (*domain.Refund, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, transaction_id, amount::text, reason, status, created_at, processed_at
		FROM refunds WHERE id = $1`, id)

	rf, err := scanPgRefund(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rf, err
}

func (r *PostgresRepo) UpdateRefundStatus(ctx context.Context, id string, from, to domain.RefundStatus, at time.Time) error {
	if err := validRefundTarget(to); err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE refunds SET status = $1, processed_at = $2 WHERE id = $3 AND status = $4`,
		string(to), at.UTC(), id, string(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrConflict(ctx, "refunds", id)
	}
	return nil
}

func (r *PostgresRepo) ListRefundsByTransaction(ctx context.Context, transactionID string) ([]domain.Refund, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, transaction_id, amount::text, reason, status, created_at, processed_at
		FROM refunds WHERE transaction_id = $1
		ORDER BY created_at ASC, id ASC`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []domain.Refund{}
	for rows.Next() {
		rf, err := scanPgRefund(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *rf)
	}
	return res, rows.Err()
}

func (r *PostgresRepo) missingOrConflict(ctx context.Context, table, id string) error {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	r.log.Debug("conditional update lost", "table", table, "id", id)
	return ErrStatusConflict
}

func translatePgErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %v", ErrDuplicate, err)
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}
	}
	return err
}

func scanPgTx(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	var amount, currency, status string

	if err := row.Scan(&t.ID, &amount, &currency, &t.CardLast4, &status,
		&t.CreatedAt, &t.UpdatedAt, &t.ProcessedAt, &t.RefundedAt, &t.RefundID); err != nil {
		return nil, err
	}

	var err error
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	t.Currency = domain.Currency(currency)
	t.Status = domain.TxStatus(status)
	return &t, nil
}

func scanPgRefund(row pgx.Row) (*domain.Refund, error) {
	var rf domain.Refund
	var amount, status string

	if err := row.Scan(&rf.ID, &rf.TransactionID, &amount, &rf.Reason, &status,
		&rf.CreatedAt, &rf.ProcessedAt); err != nil {
		return nil, err
	}

	var err error
	if rf.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	rf.Status = domain.RefundStatus(status)
	return &rf, nil
}
