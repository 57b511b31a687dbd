package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Rierra/LoanCentral/internal/domain/ledger"
	"github.com/Rierra/LoanCentral/internal/domain/ledger/ledgertest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func confirmLoan(t *testing.T, e *ledger.Engine, lender, borrower, amount, ccy string) ledger.Loan {
	t.Helper()
	out, err := e.Confirm(context.Background(), ledger.ConfirmInput{
		Lender:   lender,
		Borrower: borrower,
		Amount:   dec(amount),
		Currency: ccy,
	})
	require.NoError(t, err)
	return out.Loan
}

func requireReason(t *testing.T, err error, reason error) *ledger.RejectionError {
	t.Helper()
	require.Error(t, err)
	var rej *ledger.RejectionError
	require.True(t, errors.As(err, &rej), "expected rejection, got %v", err)
	require.ErrorIs(t, err, reason)
	return rej
}

func TestConfirmCreatesLoanAndStats(t *testing.T) {
	store := ledgertest.NewStore()
	engine := ledger.NewEngine(store)

	loan := confirmLoan(t, engine, "Alice", "bob", "50.00", "usd")

	assert.Equal(t, "alice", loan.Lender)
	assert.Equal(t, "bob", loan.Borrower)
	assert.True(t, loan.Principal.Equal(dec("50")))
	assert.Equal(t, "USD", loan.Currency)
	assert.Equal(t, ledger.StatusConfirmed, loan.Status)
	assert.True(t, loan.AmountRepaid.IsZero())

	lender := store.Stats("alice")
	assert.Equal(t, int64(1), lender.LoansAsLender)
	assert.True(t, lender.AmountLent.Equal(dec("50")))

	borrower := store.Stats("bob")
	assert.Equal(t, int64(1), borrower.LoansAsBorrower)
	assert.True(t, borrower.AmountBorrowed.Equal(dec("50")))
	assert.Equal(t, int64(1), borrower.UnpaidLoans)
	assert.True(t, borrower.UnpaidAmount.Equal(dec("50")))
}

func TestConfirmRejectsBadInput(t *testing.T) {
	store := ledgertest.NewStore()
	engine := ledger.NewEngine(store)
	ctx := context.Background()

	_, err := engine.Confirm(ctx, ledger.ConfirmInput{Lender: "bob", Borrower: "BOB", Amount: dec("5"), Currency: "USD"})
	requireReason(t, err, ledger.ErrSelfLoan)

	_, err = engine.Confirm(ctx, ledger.ConfirmInput{Lender: "alice", Borrower: "bob", Amount: dec("0"), Currency: "USD"})
	requireReason(t, err, ledger.ErrInvalidAmount)

	_, err = engine.Confirm(ctx, ledger.ConfirmInput{Lender: "alice", Borrower: "bob", Amount: dec("1"), Currency: "US"})
	requireReason(t, err, ledger.ErrInvalidCurrency)

	assert.Empty(t, store.Loans())
	assert.False(t, store.HasStats("alice"))
}

func TestSubCentAmountsAreRejected(t *testing.T) {
	store := ledgertest.NewStore()
	engine := ledger.NewEngine(store)
	ctx := context.Background()

	_, err := engine.Confirm(ctx, ledger.ConfirmInput{Lender: "alice", Borrower: "bob", Amount: dec("0.001"), Currency: "USD"})
	requireReason(t, err, ledger.ErrInvalidAmount)
	assert.Empty(t, store.Loans())

	loan := confirmLoan(t, engine, "alice", "bob", "1.00", "USD")
	_, err = engine.Paid(ctx, ledger.PaidInput{LoanID: loan.ID, Lender: "alice", Amount: dec("0.995"), Currency: "USD"})
	requireReason(t, err, ledger.ErrInvalidAmount)

	got, err := store.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusConfirmed, got.Status)
	assert.True(t, got.AmountRepaid.IsZero())

	out, err := engine.Paid(ctx, ledger.PaidInput{LoanID: loan.ID, Lender: "alice", Amount: dec("0.990"), Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPartiallyRepaid, out.After.Status)
	assert.True(t, out.Remaining.Equal(dec("0.01")))
}

func TestPaidSequenceReachesRepaidOnce(t *testing.T) {
	store := ledgertest.NewStore()
	engine := ledger.NewEngine(store)
	ctx := context.Background()
	loan := confirmLoan(t, engine, "alice", "bob", "50.00", "USD")

	first, err := engine.Paid(ctx, ledger.PaidInput{LoanID: loan.ID, Lender: "alice", Amount: dec("20.00"), Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPartiallyRepaid, first.After.Status)
	assert.Equal(t, ledger.StatusConfirmed, first.Before.Status)
	assert.True(t, first.Remaining.Equal(dec("30")))
	assert.False(t, first.FullyRepaid)
	assert.Equal(t, int64(1), store.Stats("bob").UnpaidLoans)

	second, err := engine.Paid(ctx, ledger.PaidInput{LoanID: loan.ID, Lender: "alice", Amount: dec("30.00"), Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusRepaid, second.After.Status)
	assert.True(t, second.After.AmountRepaid.Equal(dec("50")))
	assert.True(t, second.Remaining.IsZero())
	assert.True(t, second.FullyRepaid)

	bob := store.Stats("bob")
	assert.Equal(t, int64(0), bob.UnpaidLoans)
	assert.True(t, bob.UnpaidAmount.IsZero())
	assert.True(t, bob.AmountRepaid.Equal(dec("50")))

	_, err = engine.Paid(ctx, ledger.PaidInput{LoanID: loan.ID, Lender: "alice", Amount: dec("1"), Currency: "USD"})
	requireReason(t, err, ledger.ErrLoanTerminal)
	assert.True(t, store.Stats("bob").AmountRepaid.Equal(dec("50")))
}

func TestPaidOverpaymentClampsRemaining(t *testing.T) {
	engine := ledger.NewEngine(ledgertest.NewStore())
	loan := confirmLoan(t, engine, "alice", "bob", "10", "USD")

	out, err := engine.Paid(context.Background(), ledger.PaidInput{LoanID: loan.ID, Lender: "alice", Amount: dec("12.5"), Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusRepaid, out.After.Status)
	assert.True(t, out.Remaining.IsZero())
}

func TestPaidRejections(t *testing.T) {
	store := ledgertest.NewStore()
	engine := ledger.NewEngine(store)
	ctx := context.Background()
	loan := confirmLoan(t, engine, "alice", "bob", "50", "USD")

	_, err := engine.Paid(ctx, ledger.PaidInput{LoanID: loan.ID, Lender: "mallory", Amount: dec("5"), Currency: "USD"})
	requireReason(t, err, ledger.ErrLoanNotFound)

	_, err = engine.Paid(ctx, ledger.PaidInput{LoanID: 999, Lender: "alice", Amount: dec("5"), Currency: "USD"})
	requireReason(t, err, ledger.ErrLoanNotFound)

	_, err = engine.Paid(ctx, ledger.PaidInput{LoanID: loan.ID, Lender: "alice", Amount: dec("0"), Currency: "USD"})
	requireReason(t, err, ledger.ErrInvalidAmount)

	_, err = engine.Paid(ctx, ledger.PaidInput{LoanID: loan.ID, Lender: "alice", Amount: dec("5"), Currency: "EUR"})
	rej := requireReason(t, err, ledger.ErrCurrencyMismatch)
	assert.Equal(t, "USD", rej.LoanCurrency)
	assert.Equal(t, "EUR", rej.SpecifiedCurrency)

	stored, err := store.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusConfirmed, stored.Status)
	assert.True(t, stored.AmountRepaid.IsZero())
}

func TestPaidCurrencyMismatchWinsOverTerminal(t *testing.T) {
	engine := ledger.NewEngine(ledgertest.NewStore())
	ctx := context.Background()
	loan := confirmLoan(t, engine, "alice", "bob", "50", "USD")
	_, err := engine.Paid(ctx, ledger.PaidInput{LoanID: loan.ID, Lender: "alice", Amount: dec("50"), Currency: "USD"})
	require.NoError(t, err)

	_, err = engine.Paid(ctx, ledger.PaidInput{LoanID: loan.ID, Lender: "alice", Amount: dec("5"), Currency: "EUR"})
	requireReason(t, err, ledger.ErrCurrencyMismatch)
}

func TestRefundReversesStats(t *testing.T) {
	store := ledgertest.NewStore()
	engine := ledger.NewEngine(store)
	ctx := context.Background()
	loan := confirmLoan(t, engine, "alice", "bob", "50", "USD")

	out, err := engine.Refund(ctx, ledger.RefundInput{Author: "alice", Lender: "alice", Borrower: "bob", Amount: dec("50"), Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, loan.ID, out.Loan.ID)
	assert.Equal(t, ledger.StatusRefunded, out.Loan.Status)

	alice := store.Stats("alice")
	assert.Equal(t, int64(0), alice.LoansAsLender)
	assert.True(t, alice.AmountLent.IsZero())
	bob := store.Stats("bob")
	assert.Equal(t, int64(0), bob.LoansAsBorrower)
	assert.True(t, bob.AmountBorrowed.IsZero())
	assert.Equal(t, int64(0), bob.UnpaidLoans)
	assert.True(t, bob.UnpaidAmount.IsZero())

	_, err = engine.Refund(ctx, ledger.RefundInput{Author: "alice", Lender: "alice", Borrower: "bob", Amount: dec("50"), Currency: "USD"})
	requireReason(t, err, ledger.ErrLoanNotFound)

	_, err = engine.Paid(ctx, ledger.PaidInput{LoanID: loan.ID, Lender: "alice", Amount: dec("5"), Currency: "USD"})
	requireReason(t, err, ledger.ErrLoanTerminal)
}

func TestRefundClampsAtZero(t *testing.T) {
	store := ledgertest.NewStore()
	store.PutLoan(ledger.Loan{
		Lender: "alice", Borrower: "bob", Principal: dec("50"), Currency: "USD",
		AmountRepaid: decimal.Zero, Status: ledger.StatusConfirmed, CreatedAt: time.Now(),
	})
	engine := ledger.NewEngine(store)

	_, err := engine.Refund(context.Background(), ledger.RefundInput{Author: "alice", Lender: "alice", Borrower: "bob", Amount: dec("50"), Currency: "USD"})
	require.NoError(t, err)

	alice := store.Stats("alice")
	assert.Equal(t, int64(0), alice.LoansAsLender)
	assert.True(t, alice.AmountLent.IsZero())
	assert.False(t, alice.AmountLent.IsNegative())
	bob := store.Stats("bob")
	assert.Equal(t, int64(0), bob.UnpaidLoans)
	assert.False(t, bob.UnpaidAmount.IsNegative())
}

func TestRefundPicksMostRecentMatch(t *testing.T) {
	store := ledgertest.NewStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	older := store.PutLoan(ledger.Loan{Lender: "alice", Borrower: "bob", Principal: dec("10"), Currency: "USD", Status: ledger.StatusConfirmed, CreatedAt: base})
	newer := store.PutLoan(ledger.Loan{Lender: "alice", Borrower: "bob", Principal: dec("10"), Currency: "USD", Status: ledger.StatusConfirmed, CreatedAt: base.Add(time.Hour)})
	engine := ledger.NewEngine(store)

	out, err := engine.Refund(context.Background(), ledger.RefundInput{Author: "alice", Lender: "alice", Borrower: "bob", Amount: dec("10"), Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, newer.ID, out.Loan.ID)

	stillOpen, err := store.GetLoan(context.Background(), older.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusConfirmed, stillOpen.Status)
}

func TestRefundRejections(t *testing.T) {
	store := ledgertest.NewStore()
	engine := ledger.NewEngine(store)
	ctx := context.Background()
	loan := confirmLoan(t, engine, "alice", "bob", "20", "USD")

	_, err := engine.Refund(ctx, ledger.RefundInput{Author: "bob", Lender: "alice", Borrower: "bob", Amount: dec("20"), Currency: "USD"})
	requireReason(t, err, ledger.ErrNotAuthorized)

	_, err = engine.Paid(ctx, ledger.PaidInput{LoanID: loan.ID, Lender: "alice", Amount: dec("20"), Currency: "USD"})
	require.NoError(t, err)

	_, err = engine.Refund(ctx, ledger.RefundInput{Author: "alice", Lender: "alice", Borrower: "bob", Amount: dec("20"), Currency: "USD"})
	requireReason(t, err, ledger.ErrLoanTerminal)
}

func TestEngineRetriesTransientErrors(t *testing.T) {
	store := ledgertest.NewStore()
	store.FailNextTx(ledger.ErrTransient, ledger.ErrTransient)
	engine := ledger.NewEngine(store, ledger.WithMaxAttempts(3))

	loan := confirmLoan(t, engine, "alice", "bob", "5", "USD")
	assert.NotZero(t, loan.ID)
	assert.Len(t, store.Loans(), 1)
}

func TestEngineGivesUpOnPersistentTransientErrors(t *testing.T) {
	store := ledgertest.NewStore()
	store.FailNextTx(ledger.ErrTransient, ledger.ErrTransient)
	engine := ledger.NewEngine(store, ledger.WithMaxAttempts(2))

	_, err := engine.Confirm(context.Background(), ledger.ConfirmInput{Lender: "alice", Borrower: "bob", Amount: dec("5"), Currency: "USD"})
	require.ErrorIs(t, err, ledger.ErrTransient)
	assert.False(t, ledger.IsRejection(err))
	assert.Empty(t, store.Loans())
}

func TestEngineDoesNotRetryOtherErrors(t *testing.T) {
	store := ledgertest.NewStore()
	boom := errors.New("disk full")
	store.FailNextTx(boom)
	engine := ledger.NewEngine(store)

	_, err := engine.Confirm(context.Background(), ledger.ConfirmInput{Lender: "alice", Borrower: "bob", Amount: dec("5"), Currency: "USD"})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, store.Rollbacks)
	assert.Equal(t, 0, store.Commits)
}

type slowStore struct{}

func (slowStore) InTx(ctx context.Context, _ func(tx ledger.Tx) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestEngineTimeout(t *testing.T) {
	engine := ledger.NewEngine(slowStore{}, ledger.WithTimeout(20*time.Millisecond))

	_, err := engine.Confirm(context.Background(), ledger.ConfirmInput{Lender: "alice", Borrower: "bob", Amount: dec("5"), Currency: "USD"})
	require.ErrorIs(t, err, ledger.ErrTimeout)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcurrentPaymentsSerialize(t *testing.T) {
	store := ledgertest.NewStore()
	engine := ledger.NewEngine(store)
	loan := confirmLoan(t, engine, "alice", "bob", "10", "USD")

	var wg sync.WaitGroup
	var mu sync.Mutex
	fully := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := engine.Paid(context.Background(), ledger.PaidInput{LoanID: loan.ID, Lender: "alice", Amount: dec("1"), Currency: "USD"})
			if err == nil && out.FullyRepaid {
				mu.Lock()
				fully++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fully)
	stored, err := store.GetLoan(context.Background(), loan.ID)
	require.NoError(t, err)
	assert.True(t, stored.AmountRepaid.Equal(dec("10")))
	assert.Equal(t, int64(0), store.Stats("bob").UnpaidLoans)
}
