package postgres

import (
	"context"
	"errors"

	"github.com/Rierra/LoanCentral/internal/domain/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const outstandingStatuses = `('confirmed', 'partially_repaid')`

type ReportRepository struct {
	pool *pgxpool.Pool
}

func NewReportRepository(pool *pgxpool.Pool) *ReportRepository {
	return &ReportRepository{pool: pool}
}

func (r *ReportRepository) GetLoan(ctx context.Context, loanID int64) (*ledger.Loan, error) {
	q := `SELECT ` + loanColumns + ` FROM loans WHERE id = $1`
	out, err := scanLoan(r.pool.QueryRow(ctx, q, loanID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrLoanNotFound
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ReportRepository) GetUserStats(ctx context.Context, username string) (*ledger.UserStats, error) {
	q := `
SELECT username, loans_as_borrower, loans_as_lender, amount_borrowed, amount_lent,
       amount_repaid, unpaid_loans, unpaid_amount, last_updated_at
FROM user_stats
WHERE username = $1
`
	out := &ledger.UserStats{}
	err := r.pool.QueryRow(ctx, q, username).Scan(
		&out.Username, &out.LoansAsBorrower, &out.LoansAsLender, &out.AmountBorrowed, &out.AmountLent,
		&out.AmountRepaid, &out.UnpaidLoans, &out.UnpaidAmount, &out.LastUpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrStatsNotFound
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ReportRepository) CountOutstandingAsBorrower(ctx context.Context, username string) (int64, error) {
	q := `SELECT COUNT(*) FROM loans WHERE borrower = $1 AND status IN ` + outstandingStatuses
	var n int64
	if err := r.pool.QueryRow(ctx, q, username).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *ReportRepository) ListOutstandingAsLender(ctx context.Context, username string, limit int32) ([]ledger.Loan, error) {
	if limit <= 0 {
		limit = 5
	}
	q := `
SELECT ` + loanColumns + `
FROM loans
WHERE lender = $1 AND status IN ` + outstandingStatuses + `
ORDER BY created_at DESC, id DESC
LIMIT $2
`
	rows, err := r.pool.Query(ctx, q, username, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ledger.Loan, 0)
	for rows.Next() {
		item, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ReportRepository) SummarizeOutstandingAsLender(ctx context.Context, username string) (int64, decimal.Decimal, error) {
	q := `
SELECT COUNT(*), COALESCE(SUM(GREATEST(principal - amount_repaid, 0)), 0)
FROM loans
WHERE lender = $1 AND status IN ` + outstandingStatuses
	var n int64
	var total decimal.Decimal
	if err := r.pool.QueryRow(ctx, q, username).Scan(&n, &total); err != nil {
		return 0, decimal.Zero, err
	}
	return n, total, nil
}
