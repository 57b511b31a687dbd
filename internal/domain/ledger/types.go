package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusNone            Status = ""
	StatusConfirmed       Status = "confirmed"
	StatusPartiallyRepaid Status = "partially_repaid"
	StatusRepaid          Status = "repaid"
	StatusRefunded        Status = "refunded"
)

var transitions = map[Status][]Status{
	StatusNone:            {StatusConfirmed},
	StatusConfirmed:       {StatusPartiallyRepaid, StatusRepaid, StatusRefunded},
	StatusPartiallyRepaid: {StatusPartiallyRepaid, StatusRepaid, StatusRefunded},
}

// CanTransition reports whether a loan may move from one status to another.
// StatusNone stands for a loan that does not exist yet.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusRepaid || s == StatusRefunded
}

// Outstanding reports whether the loan still counts as money owed.
func (s Status) Outstanding() bool {
	return s == StatusConfirmed || s == StatusPartiallyRepaid
}

// AmountScale is the number of decimal places every stored amount carries.
const AmountScale = 2

// ValidAmount reports whether d is positive and needs no more than AmountScale places.
func ValidAmount(d decimal.Decimal) bool {
	return d.IsPositive() && d.Equal(d.Truncate(AmountScale))
}

type Loan struct {
	ID            int64           `json:"id"`
	Lender        string          `json:"lender"`
	Borrower      string          `json:"borrower"`
	Principal     decimal.Decimal `json:"principal"`
	Currency      string          `json:"currency"`
	AmountRepaid  decimal.Decimal `json:"amount_repaid"`
	Status        Status          `json:"status"`
	OriginSource  string          `json:"origin_source,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	LastUpdatedAt time.Time       `json:"last_updated_at"`
}

// Remaining is principal minus repaid, never below zero.
func (l Loan) Remaining() decimal.Decimal {
	rem := l.Principal.Sub(l.AmountRepaid)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

type NewLoan struct {
	Lender       string
	Borrower     string
	Principal    decimal.Decimal
	Currency     string
	OriginSource string
	CreatedAt    time.Time
}

type LoanUpdate struct {
	ID           int64
	AmountRepaid decimal.Decimal
	Status       Status
	UpdatedAt    time.Time
}

type UserStats struct {
	Username        string          `json:"username"`
	LoansAsBorrower int64           `json:"loans_as_borrower"`
	LoansAsLender   int64           `json:"loans_as_lender"`
	AmountBorrowed  decimal.Decimal `json:"amount_borrowed"`
	AmountLent      decimal.Decimal `json:"amount_lent"`
	AmountRepaid    decimal.Decimal `json:"amount_repaid"`
	UnpaidLoans     int64           `json:"unpaid_loans"`
	UnpaidAmount    decimal.Decimal `json:"unpaid_amount"`
	LastUpdatedAt   time.Time       `json:"last_updated_at"`
}

// StatsDelta is a signed change to a user's aggregates.
type StatsDelta struct {
	LoansAsBorrower int64
	LoansAsLender   int64
	AmountBorrowed  decimal.Decimal
	AmountLent      decimal.Decimal
	AmountRepaid    decimal.Decimal
	UnpaidLoans     int64
	UnpaidAmount    decimal.Decimal
}

func (d StatsDelta) IsZero() bool {
	return d.LoansAsBorrower == 0 && d.LoansAsLender == 0 && d.UnpaidLoans == 0 &&
		d.AmountBorrowed.IsZero() && d.AmountLent.IsZero() &&
		d.AmountRepaid.IsZero() && d.UnpaidAmount.IsZero()
}

// Apply adds the delta to s with every field clamped at zero.
func (d StatsDelta) Apply(s UserStats) UserStats {
	s.LoansAsBorrower = clampCount(s.LoansAsBorrower + d.LoansAsBorrower)
	s.LoansAsLender = clampCount(s.LoansAsLender + d.LoansAsLender)
	s.UnpaidLoans = clampCount(s.UnpaidLoans + d.UnpaidLoans)
	s.AmountBorrowed = clampAmount(s.AmountBorrowed.Add(d.AmountBorrowed))
	s.AmountLent = clampAmount(s.AmountLent.Add(d.AmountLent))
	s.AmountRepaid = clampAmount(s.AmountRepaid.Add(d.AmountRepaid))
	s.UnpaidAmount = clampAmount(s.UnpaidAmount.Add(d.UnpaidAmount))
	return s
}

func clampCount(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func clampAmount(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

// Store runs one logical command inside one transaction. fn's error rolls it back.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

type Tx interface {
	CreateLoan(ctx context.Context, in NewLoan) (*Loan, error)
	FindLoanForPayment(ctx context.Context, loanID int64, lender string) (*Loan, error)
	FindActiveLoanForRefund(ctx context.Context, lender, borrower string, amount decimal.Decimal, currency string) (*Loan, error)
	UpdateLoan(ctx context.Context, in LoanUpdate) (*Loan, error)
	ApplyStatsDelta(ctx context.Context, username string, delta StatsDelta) error
}

// Reader is the read-only side used by lookups and reports.
type Reader interface {
	GetLoan(ctx context.Context, loanID int64) (*Loan, error)
	GetUserStats(ctx context.Context, username string) (*UserStats, error)
}
