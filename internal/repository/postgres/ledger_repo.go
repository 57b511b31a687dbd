package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Rierra/LoanCentral/internal/domain/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const loanColumns = `id, lender, borrower, principal, currency, amount_repaid, status, origin_source, created_at, last_updated_at`

type LedgerRepository struct {
	pool *pgxpool.Pool
}

func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

// InTx runs fn in a read committed transaction. Row locks taken by the Tx
// serialize concurrent commands on the same loan.
func (r *LedgerRepository) InTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(fmt.Errorf("begin: %w", err))
	}
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := fn(&ledgerTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("commit: %w", err))
	}
	return nil
}

type ledgerTx struct {
	tx pgx.Tx
}

func (t *ledgerTx) CreateLoan(ctx context.Context, in ledger.NewLoan) (*ledger.Loan, error) {
	q := `
INSERT INTO loans (lender, borrower, principal, currency, amount_repaid, status, origin_source, created_at, last_updated_at)
VALUES ($1, $2, $3, $4, 0, 'confirmed', $5, $6, $6)
RETURNING ` + loanColumns
	out, err := scanLoan(t.tx.QueryRow(ctx, q,
		in.Lender, in.Borrower, in.Principal, in.Currency, in.OriginSource, in.CreatedAt,
	))
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (t *ledgerTx) FindLoanForPayment(ctx context.Context, loanID int64, lender string) (*ledger.Loan, error) {
	q := `
SELECT ` + loanColumns + `
FROM loans
WHERE id = $1 AND lender = $2
FOR UPDATE
`
	out, err := scanLoan(t.tx.QueryRow(ctx, q, loanID, lender))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrLoanNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (t *ledgerTx) FindActiveLoanForRefund(ctx context.Context, lender, borrower string, amount decimal.Decimal, currency string) (*ledger.Loan, error) {
	q := `
SELECT ` + loanColumns + `
FROM loans
WHERE lender = $1
  AND borrower = $2
  AND principal = $3
  AND currency = $4
  AND status <> 'refunded'
ORDER BY created_at DESC, id DESC
LIMIT 1
FOR UPDATE
`
	out, err := scanLoan(t.tx.QueryRow(ctx, q, lender, borrower, amount, currency))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrLoanNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (t *ledgerTx) UpdateLoan(ctx context.Context, in ledger.LoanUpdate) (*ledger.Loan, error) {
	q := `
UPDATE loans
SET amount_repaid = $2,
    status = $3,
    last_updated_at = $4
WHERE id = $1
RETURNING ` + loanColumns
	out, err := scanLoan(t.tx.QueryRow(ctx, q, in.ID, in.AmountRepaid, string(in.Status), in.UpdatedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrLoanNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// ApplyStatsDelta upserts the user's row. A new row starts from the delta
// clamped at zero; an existing row adds it with GREATEST(..., 0).
func (t *ledgerTx) ApplyStatsDelta(ctx context.Context, username string, d ledger.StatsDelta) error {
	if d.IsZero() {
		return nil
	}
	q := `
INSERT INTO user_stats (
  username, loans_as_borrower, loans_as_lender, amount_borrowed, amount_lent,
  amount_repaid, unpaid_loans, unpaid_amount, last_updated_at
) VALUES (
  $1, GREATEST($2::bigint, 0), GREATEST($3::bigint, 0), GREATEST($4::numeric, 0), GREATEST($5::numeric, 0),
  GREATEST($6::numeric, 0), GREATEST($7::bigint, 0), GREATEST($8::numeric, 0), NOW()
)
ON CONFLICT (username) DO UPDATE SET
  loans_as_borrower = GREATEST(user_stats.loans_as_borrower + $2::bigint, 0),
  loans_as_lender   = GREATEST(user_stats.loans_as_lender + $3::bigint, 0),
  amount_borrowed   = GREATEST(user_stats.amount_borrowed + $4::numeric, 0),
  amount_lent       = GREATEST(user_stats.amount_lent + $5::numeric, 0),
  amount_repaid     = GREATEST(user_stats.amount_repaid + $6::numeric, 0),
  unpaid_loans      = GREATEST(user_stats.unpaid_loans + $7::bigint, 0),
  unpaid_amount     = GREATEST(user_stats.unpaid_amount + $8::numeric, 0),
  last_updated_at   = NOW()
`
	_, err := t.tx.Exec(ctx, q, username,
		d.LoansAsBorrower, d.LoansAsLender, d.AmountBorrowed, d.AmountLent,
		d.AmountRepaid, d.UnpaidLoans, d.UnpaidAmount,
	)
	return classify(err)
}

func scanLoan(row pgx.Row) (*ledger.Loan, error) {
	out := &ledger.Loan{}
	var status string
	err := row.Scan(
		&out.ID, &out.Lender, &out.Borrower, &out.Principal, &out.Currency,
		&out.AmountRepaid, &status, &out.OriginSource, &out.CreatedAt, &out.LastUpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	out.Status = ledger.Status(status)
	return out, nil
}

// classify tags errors that are safe to retry from the start of the transaction.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %w", ledger.ErrTransient, err)
		}
		return err
	}
	if pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %w", ledger.ErrTransient, err)
	}
	return err
}
