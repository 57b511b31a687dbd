package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/Rierra/LoanCentral/internal/domain/ledger"
	"github.com/shopspring/decimal"
)

const defaultPageSize int32 = 5

type Repository interface {
	GetUserStats(ctx context.Context, username string) (*ledger.UserStats, error)
	CountOutstandingAsBorrower(ctx context.Context, username string) (int64, error)
	ListOutstandingAsLender(ctx context.Context, username string, limit int32) ([]ledger.Loan, error)
	SummarizeOutstandingAsLender(ctx context.Context, username string) (int64, decimal.Decimal, error)
}

type Snapshot struct {
	Username   string           `json:"username"`
	HasHistory bool             `json:"has_history"`
	Stats      ledger.UserStats `json:"stats"`

	OutstandingAsBorrower int64 `json:"outstanding_as_borrower"`

	// OutstandingAsLender is one page, newest first. The totals cover every loan.
	OutstandingAsLender      []ledger.Loan   `json:"outstanding_as_lender"`
	OutstandingAsLenderCount int64           `json:"outstanding_as_lender_count"`
	OutstandingAsLenderTotal decimal.Decimal `json:"outstanding_as_lender_total"`
}

// Omitted is how many outstanding loans did not fit on the page.
func (s Snapshot) Omitted() int64 {
	n := s.OutstandingAsLenderCount - int64(len(s.OutstandingAsLender))
	if n < 0 {
		return 0
	}
	return n
}

type Reporter struct {
	repo     Repository
	pageSize int32
}

func NewReporter(repo Repository, pageSize int32) *Reporter {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Reporter{repo: repo, pageSize: pageSize}
}

func (r *Reporter) Snapshot(ctx context.Context, username string) (*Snapshot, error) {
	username = ledger.NormalizeUsername(username)
	if username == "" {
		return nil, ledger.ErrInvalidUser
	}
	out := &Snapshot{
		Username:                 username,
		Stats:                    ledger.UserStats{Username: username},
		OutstandingAsLender:      []ledger.Loan{},
		OutstandingAsLenderTotal: decimal.Zero,
	}

	stats, err := r.repo.GetUserStats(ctx, username)
	switch {
	case errors.Is(err, ledger.ErrStatsNotFound):
		return out, nil
	case err != nil:
		return nil, fmt.Errorf("load stats for %s: %w", username, err)
	}
	out.HasHistory = true
	out.Stats = *stats

	out.OutstandingAsBorrower, err = r.repo.CountOutstandingAsBorrower(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("count borrower loans for %s: %w", username, err)
	}

	out.OutstandingAsLender, err = r.repo.ListOutstandingAsLender(ctx, username, r.pageSize)
	if err != nil {
		return nil, fmt.Errorf("list lender loans for %s: %w", username, err)
	}

	out.OutstandingAsLenderCount, out.OutstandingAsLenderTotal, err = r.repo.SummarizeOutstandingAsLender(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("summarize lender loans for %s: %w", username, err)
	}
	return out, nil
}
