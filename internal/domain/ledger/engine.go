package ledger

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

type ConfirmInput struct {
	Lender       string
	Borrower     string
	Amount       decimal.Decimal
	Currency     string
	OriginSource string
}

type PaidInput struct {
	LoanID   int64
	Lender   string
	Amount   decimal.Decimal
	Currency string
}

// RefundInput carries the loan terms re-read from the bot's confirmation reply.
type RefundInput struct {
	Author   string
	Lender   string
	Borrower string
	Amount   decimal.Decimal
	Currency string
}

type ConfirmOutcome struct {
	Loan Loan
}

type PaidOutcome struct {
	Before    Loan
	After     Loan
	Amount    decimal.Decimal
	Remaining decimal.Decimal
	// FullyRepaid is true only for the payment that moved the loan into repaid.
	FullyRepaid bool
}

type RefundOutcome struct {
	Loan   Loan
	Amount decimal.Decimal
}

type Engine struct {
	store       Store
	timeout     time.Duration
	maxAttempts int
	now         func() time.Time
}

type EngineOption func(*Engine)

func WithTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithMaxAttempts(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

func NewEngine(store Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:       store,
		timeout:     10 * time.Second,
		maxAttempts: 3,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Confirm(ctx context.Context, in ConfirmInput) (*ConfirmOutcome, error) {
	lender := NormalizeUsername(in.Lender)
	borrower := NormalizeUsername(in.Borrower)
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))

	if lender == "" || borrower == "" {
		return nil, reject(ErrInvalidUser)
	}
	if lender == borrower {
		return nil, &RejectionError{Reason: ErrSelfLoan, Lender: lender, Borrower: borrower}
	}
	if !ValidAmount(in.Amount) {
		return nil, reject(ErrInvalidAmount)
	}
	if !currencyPattern.MatchString(currency) {
		return nil, reject(ErrInvalidCurrency)
	}
	if !CanTransition(StatusNone, StatusConfirmed) {
		return nil, reject(ErrLoanTerminal)
	}

	var out ConfirmOutcome
	err := e.run(ctx, func(ctx context.Context, tx Tx) error {
		created, err := tx.CreateLoan(ctx, NewLoan{
			Lender:       lender,
			Borrower:     borrower,
			Principal:    in.Amount,
			Currency:     currency,
			OriginSource: in.OriginSource,
			CreatedAt:    e.now(),
		})
		if err != nil {
			return fmt.Errorf("create loan: %w", err)
		}

		if err := tx.ApplyStatsDelta(ctx, lender, StatsDelta{
			LoansAsLender: 1,
			AmountLent:    in.Amount,
		}); err != nil {
			return fmt.Errorf("lender stats: %w", err)
		}
		if err := tx.ApplyStatsDelta(ctx, borrower, StatsDelta{
			LoansAsBorrower: 1,
			AmountBorrowed:  in.Amount,
			UnpaidLoans:     1,
			UnpaidAmount:    in.Amount,
		}); err != nil {
			return fmt.Errorf("borrower stats: %w", err)
		}

		out = ConfirmOutcome{Loan: *created}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (e *Engine) Paid(ctx context.Context, in PaidInput) (*PaidOutcome, error) {
	lender := NormalizeUsername(in.Lender)
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))

	var out PaidOutcome
	err := e.run(ctx, func(ctx context.Context, tx Tx) error {
		current, err := tx.FindLoanForPayment(ctx, in.LoanID, lender)
		if errors.Is(err, ErrLoanNotFound) {
			return &RejectionError{Reason: ErrLoanNotFound, LoanID: in.LoanID, Lender: lender}
		}
		if err != nil {
			return fmt.Errorf("find loan %d: %w", in.LoanID, err)
		}

		if current.Currency != currency {
			return &RejectionError{
				Reason:            ErrCurrencyMismatch,
				LoanID:            current.ID,
				LoanCurrency:      current.Currency,
				SpecifiedCurrency: currency,
			}
		}
		if current.Status.Terminal() {
			return &RejectionError{Reason: ErrLoanTerminal, LoanID: current.ID, Status: current.Status}
		}
		if !ValidAmount(in.Amount) {
			return &RejectionError{Reason: ErrInvalidAmount, LoanID: current.ID}
		}

		repaid := current.AmountRepaid.Add(in.Amount)
		next := StatusPartiallyRepaid
		if repaid.GreaterThanOrEqual(current.Principal) {
			next = StatusRepaid
		}
		if !CanTransition(current.Status, next) {
			return &RejectionError{Reason: ErrLoanTerminal, LoanID: current.ID, Status: current.Status}
		}

		updated, err := tx.UpdateLoan(ctx, LoanUpdate{
			ID:           current.ID,
			AmountRepaid: repaid,
			Status:       next,
			UpdatedAt:    e.now(),
		})
		if err != nil {
			return fmt.Errorf("update loan %d: %w", current.ID, err)
		}

		delta := StatsDelta{AmountRepaid: in.Amount}
		if next == StatusRepaid {
			delta.UnpaidLoans = -1
			delta.UnpaidAmount = current.Principal.Neg()
		}
		if err := tx.ApplyStatsDelta(ctx, current.Borrower, delta); err != nil {
			return fmt.Errorf("borrower stats: %w", err)
		}

		out = PaidOutcome{
			Before:      *current,
			After:       *updated,
			Amount:      in.Amount,
			Remaining:   updated.Remaining(),
			FullyRepaid: next == StatusRepaid,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (e *Engine) Refund(ctx context.Context, in RefundInput) (*RefundOutcome, error) {
	author := NormalizeUsername(in.Author)
	lender := NormalizeUsername(in.Lender)
	borrower := NormalizeUsername(in.Borrower)
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))

	if author == "" || author != lender {
		return nil, &RejectionError{Reason: ErrNotAuthorized, Lender: lender, Borrower: borrower}
	}

	var out RefundOutcome
	err := e.run(ctx, func(ctx context.Context, tx Tx) error {
		current, err := tx.FindActiveLoanForRefund(ctx, lender, borrower, in.Amount, currency)
		if errors.Is(err, ErrLoanNotFound) {
			return &RejectionError{Reason: ErrLoanNotFound, Lender: lender, Borrower: borrower}
		}
		if err != nil {
			return fmt.Errorf("find refundable loan: %w", err)
		}
		if !CanTransition(current.Status, StatusRefunded) {
			return &RejectionError{Reason: ErrLoanTerminal, LoanID: current.ID, Status: current.Status}
		}

		updated, err := tx.UpdateLoan(ctx, LoanUpdate{
			ID:           current.ID,
			AmountRepaid: current.AmountRepaid,
			Status:       StatusRefunded,
			UpdatedAt:    e.now(),
		})
		if err != nil {
			return fmt.Errorf("update loan %d: %w", current.ID, err)
		}

		if err := tx.ApplyStatsDelta(ctx, lender, StatsDelta{
			LoansAsLender: -1,
			AmountLent:    in.Amount.Neg(),
		}); err != nil {
			return fmt.Errorf("lender stats: %w", err)
		}
		if err := tx.ApplyStatsDelta(ctx, borrower, StatsDelta{
			LoansAsBorrower: -1,
			AmountBorrowed:  in.Amount.Neg(),
			UnpaidLoans:     -1,
			UnpaidAmount:    current.Principal.Neg(),
		}); err != nil {
			return fmt.Errorf("borrower stats: %w", err)
		}

		out = RefundOutcome{Loan: *updated, Amount: in.Amount}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// run executes fn in a store transaction under the command timeout, retrying
// transient store failures. Rejections and timeouts are never retried.
func (e *Engine) run(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var err error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		err = e.store.InTx(ctx, func(tx Tx) error {
			return fn(ctx, tx)
		})
		if err == nil || IsRejection(err) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		if !errors.Is(err, ErrTransient) {
			return err
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", e.maxAttempts, err)
}

// NormalizeUsername lowercases a platform username and strips a u/ or /u/ prefix.
func NormalizeUsername(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "/")
	if len(name) >= 2 && strings.EqualFold(name[:2], "u/") {
		name = name[2:]
	}
	return strings.ToLower(name)
}
