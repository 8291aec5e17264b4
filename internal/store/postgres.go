package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/tokenledger/internal/domain"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var Schema string

var (
	ErrPaymentNotFound = errors.New("payment not found")
	ErrUserNotFound    = errors.New("user not found")
	// ErrConflict marks transient write conflicts. Callers may retry.
	ErrConflict = errors.New("concurrent write conflict")
	// ErrDuplicate marks a unique constraint violation. Retrying will not help.
	ErrDuplicate = errors.New("duplicate record")
)

// Tx is the set of operations available inside a ledger transaction.
type Tx interface {
	FindPaymentForUpdate(ctx context.Context, externalID, referenceID string) (*domain.Payment, error)
	MarkCompleted(ctx context.Context, paymentID int64, externalID string, at time.Time) error
	MarkFailed(ctx context.Context, paymentID int64, externalID, reason string) error
	MarkProcessing(ctx context.Context, paymentID int64, externalID string) error
	LockBalance(ctx context.Context, userID int64) (int64, error)
	SetBalance(ctx context.Context, userID, balance int64) error
	AppendEntry(ctx context.Context, entry *domain.LedgerEntry) error
}

type Store struct {
	Db *pgxpool.Pool
}

func NewStore(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool}, nil
}

func (s *Store) Close() {
	s.Db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.Db.Ping(ctx)
}

// Migrate applies the embedded schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.Db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// InTx runs fn in a read-committed transaction. Row locks taken by Tx methods
// serialize concurrent writers; fn returning an error rolls everything back.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", mapError(err))
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", mapError(err))
	}
	return nil
}

// mapError translates SQLSTATE codes into store sentinels.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		case "23505":
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
		}
	}
	return err
}

const paymentColumns = `id, user_id, external_id, reference_id, amount::text, currency, status,
	error_message, completed_at, created_at, updated_at`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var (
		p      domain.Payment
		amount string
		status string
	)
	err := row.Scan(&p.ID, &p.UserID, &p.ExternalID, &p.ReferenceID, &amount, &p.Currency, &status,
		&p.ErrorMessage, &p.CompletedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("scan payment: %w", mapError(err))
	}
	p.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("payment %d amount %q: %w", p.ID, amount, err)
	}
	p.Status = domain.PaymentStatus(status)
	return &p, nil
}

// CreatePayment inserts a new payment and fills its generated fields.
func (s *Store) CreatePayment(ctx context.Context, p *domain.Payment) error {
	err := s.Db.QueryRow(ctx,
		`INSERT INTO payments (user_id, reference_id, amount, currency, status)
		 VALUES ($1, $2, $3::numeric, $4, $5)
		 RETURNING id, created_at, updated_at`,
		p.UserID, p.ReferenceID, p.Amount.String(), p.Currency, string(p.Status),
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("payment insert failed: %w", mapError(err))
	}
	return nil
}

// EnsureBalance creates the balance row for userID if it does not exist yet.
func (s *Store) EnsureBalance(ctx context.Context, userID, opening int64) error {
	_, err := s.Db.Exec(ctx,
		`INSERT INTO user_balances (user_id, balance, opening_balance) VALUES ($1, $2, $2)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, opening)
	if err != nil {
		return fmt.Errorf("balance insert failed: %w", mapError(err))
	}
	return nil
}

// GetPaymentByReference retrieves a payment by its caller reference id.
func (s *Store) GetPaymentByReference(ctx context.Context, referenceID string) (*domain.Payment, error) {
	return scanPayment(s.Db.QueryRow(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE reference_id = $1", referenceID))
}

// GetBalance retrieves the token balance of a user.
func (s *Store) GetBalance(ctx context.Context, userID int64) (*domain.UserBalance, error) {
	var b domain.UserBalance
	err := s.Db.QueryRow(ctx,
		"SELECT user_id, balance, opening_balance, updated_at FROM user_balances WHERE user_id = $1",
		userID).Scan(&b.UserID, &b.Balance, &b.OpeningBalance, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &b, nil
}

// ListEntries retrieves ledger entries for a user, newest first.
func (s *Store) ListEntries(ctx context.Context, userID int64, limit int) ([]domain.LedgerEntry, error) {
	var exists bool
	err := s.Db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM user_balances WHERE user_id = $1)", userID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrUserNotFound
	}

	rows, err := s.Db.Query(ctx,
		`SELECT id, user_id, type, delta, balance_after, currency, amount::text, receipt_ref, payment_id, created_at
		 FROM ledger_entries WHERE user_id = $1 ORDER BY id DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []domain.LedgerEntry{}
	for rows.Next() {
		var (
			e      domain.LedgerEntry
			amount string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Type, &e.Delta, &e.BalanceAfter, &e.Currency, &amount,
			&e.ReceiptRef, &e.PaymentID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("entry %d amount %q: %w", e.ID, amount, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AuditLedger replays the ledger of a user against its stored balance.
func (s *Store) AuditLedger(ctx context.Context, userID int64) (*domain.LedgerAudit, error) {
	var (
		opening, balance, sum int64
		count                 int
	)
	err := s.Db.QueryRow(ctx,
		`SELECT b.opening_balance, b.balance, COALESCE(SUM(e.delta), 0)::bigint, COUNT(e.id)
		 FROM user_balances b
		 LEFT JOIN ledger_entries e ON e.user_id = b.user_id
		 WHERE b.user_id = $1
		 GROUP BY b.user_id, b.opening_balance, b.balance`,
		userID).Scan(&opening, &balance, &sum, &count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("audit query failed: %w", err)
	}
	return domain.NewLedgerAudit(userID, opening, sum, balance, count), nil
}

type pgTx struct {
	tx pgx.Tx
}

// FindPaymentForUpdate locks the payment matching either identifier.
func (t *pgTx) FindPaymentForUpdate(ctx context.Context, externalID, referenceID string) (*domain.Payment, error) {
	return scanPayment(t.tx.QueryRow(ctx,
		"SELECT "+paymentColumns+` FROM payments
		 WHERE (external_id = $1 AND $1 <> '') OR (reference_id = $2 AND $2 <> '')
		 ORDER BY id LIMIT 1
		 FOR UPDATE`,
		externalID, referenceID))
}

// transition applies a guarded status update. Terminal rows are never touched.
func (t *pgTx) transition(ctx context.Context, sql string, args ...any) error {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("payment update failed: %w", mapError(err))
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: payment already terminal", ErrConflict)
	}
	return nil
}

func (t *pgTx) MarkCompleted(ctx context.Context, paymentID int64, externalID string, at time.Time) error {
	return t.transition(ctx,
		`UPDATE payments
		 SET status = 'completed', external_id = COALESCE(NULLIF($2, ''), external_id),
		     completed_at = $3, error_message = NULL, updated_at = NOW()
		 WHERE id = $1 AND status NOT IN ('completed', 'failed')`,
		paymentID, externalID, at)
}

func (t *pgTx) MarkFailed(ctx context.Context, paymentID int64, externalID, reason string) error {
	return t.transition(ctx,
		`UPDATE payments
		 SET status = 'failed', external_id = COALESCE(NULLIF($2, ''), external_id),
		     error_message = $3, updated_at = NOW()
		 WHERE id = $1 AND status NOT IN ('completed', 'failed')`,
		paymentID, externalID, reason)
}

func (t *pgTx) MarkProcessing(ctx context.Context, paymentID int64, externalID string) error {
	return t.transition(ctx,
		`UPDATE payments
		 SET status = 'processing', external_id = COALESCE(NULLIF($2, ''), external_id), updated_at = NOW()
		 WHERE id = $1 AND status NOT IN ('completed', 'failed')`,
		paymentID, externalID)
}

// LockBalance returns the current balance with the user row locked until commit.
func (t *pgTx) LockBalance(ctx context.Context, userID int64) (int64, error) {
	_, err := t.tx.Exec(ctx,
		"INSERT INTO user_balances (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING", userID)
	if err != nil {
		return 0, fmt.Errorf("balance insert failed: %w", mapError(err))
	}

	var balance int64
	err = t.tx.QueryRow(ctx, "SELECT balance FROM user_balances WHERE user_id = $1 FOR UPDATE", userID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("lock acquisition failed: %w", mapError(err))
	}
	return balance, nil
}

func (t *pgTx) SetBalance(ctx context.Context, userID, balance int64) error {
	_, err := t.tx.Exec(ctx,
		"UPDATE user_balances SET balance = $1, updated_at = NOW() WHERE user_id = $2", balance, userID)
	if err != nil {
		return fmt.Errorf("balance update failed: %w", mapError(err))
	}
	return nil
}

func (t *pgTx) AppendEntry(ctx context.Context, e *domain.LedgerEntry) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO ledger_entries (user_id, type, delta, balance_after, currency, amount, receipt_ref, payment_id)
		 VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8)
		 RETURNING id, created_at`,
		e.UserID, e.Type, e.Delta, e.BalanceAfter, e.Currency, e.Amount.String(), e.ReceiptRef, e.PaymentID,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("ledger entry failed: %w", mapError(err))
	}
	return nil
}
