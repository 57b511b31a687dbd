package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrSelfLoan         = errors.New("self_loan")
	ErrCurrencyMismatch = errors.New("currency_mismatch")
	ErrLoanNotFound     = errors.New("loan_not_found")
	ErrNotAuthorized    = errors.New("not_authorized")
	ErrLoanTerminal     = errors.New("loan_terminal")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrInvalidCurrency  = errors.New("invalid_currency")
	ErrInvalidUser      = errors.New("invalid_username")

	ErrStatsNotFound = errors.New("stats_not_found")

	// ErrTransient marks store failures that are safe to retry from the start of the transaction.
	ErrTransient = errors.New("transient_store_error")
	ErrTimeout   = errors.New("command_timeout")
)

// RejectionError is a semantic failure the user should be told about.
type RejectionError struct {
	Reason error

	LoanID            int64
	Lender            string
	Borrower          string
	LoanCurrency      string
	SpecifiedCurrency string
	Status            Status
}

func (e *RejectionError) Error() string {
	if e.LoanID != 0 {
		return fmt.Sprintf("loan %d rejected: %v", e.LoanID, e.Reason)
	}
	return fmt.Sprintf("command rejected: %v", e.Reason)
}

func (e *RejectionError) Unwrap() error {
	return e.Reason
}

func reject(reason error) *RejectionError {
	return &RejectionError{Reason: reason}
}

// IsRejection reports whether err is a user-facing rejection rather than a store failure.
func IsRejection(err error) bool {
	var rej *RejectionError
	return errors.As(err, &rej)
}
