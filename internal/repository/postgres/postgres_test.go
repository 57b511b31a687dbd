package postgres

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Rierra/LoanCentral/internal/db"
	"github.com/Rierra/LoanCentral/internal/domain/ledger"
	"github.com/Rierra/LoanCentral/internal/domain/report"
	"github.com/Rierra/LoanCentral/internal/jobs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if strings.TrimSpace(dsn) == "" {
		t.Skip("skip integration test: TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Skipf("skip integration test (db connect init): %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("skip integration test (db ping): %v", err)
	}
	t.Cleanup(pool.Close)

	require.NoError(t, db.Migrate(ctx, pool, slog.New(slog.NewTextHandler(io.Discard, nil))))
	_, err = pool.Exec(ctx, `TRUNCATE TABLE outbox_jobs, user_stats, loans RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return pool
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestLedgerLifecycleAgainstPostgres(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	engine := ledger.NewEngine(NewLedgerRepository(pool))
	reports := NewReportRepository(pool)

	confirmed, err := engine.Confirm(ctx, ledger.ConfirmInput{Lender: "alice", Borrower: "bob", Amount: dec("100"), Currency: "USD"})
	require.NoError(t, err)
	loanID := confirmed.Loan.ID
	assert.Equal(t, ledger.StatusConfirmed, confirmed.Loan.Status)

	paid, err := engine.Paid(ctx, ledger.PaidInput{LoanID: loanID, Lender: "alice", Amount: dec("40"), Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPartiallyRepaid, paid.After.Status)
	assert.True(t, paid.Remaining.Equal(dec("60")))

	_, err = engine.Paid(ctx, ledger.PaidInput{LoanID: loanID, Lender: "alice", Amount: dec("5"), Currency: "EUR"})
	assert.ErrorIs(t, err, ledger.ErrCurrencyMismatch)

	_, err = engine.Paid(ctx, ledger.PaidInput{LoanID: loanID, Lender: "carol", Amount: dec("5"), Currency: "USD"})
	assert.ErrorIs(t, err, ledger.ErrLoanNotFound)

	paid, err = engine.Paid(ctx, ledger.PaidInput{LoanID: loanID, Lender: "alice", Amount: dec("60"), Currency: "USD"})
	require.NoError(t, err)
	assert.True(t, paid.FullyRepaid)

	_, err = engine.Paid(ctx, ledger.PaidInput{LoanID: loanID, Lender: "alice", Amount: dec("1"), Currency: "USD"})
	assert.ErrorIs(t, err, ledger.ErrLoanTerminal)

	loan, err := reports.GetLoan(ctx, loanID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusRepaid, loan.Status)
	assert.True(t, loan.AmountRepaid.Equal(dec("100")))

	bob, err := reports.GetUserStats(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1), bob.LoansAsBorrower)
	assert.True(t, bob.AmountRepaid.Equal(dec("100")))
	assert.Equal(t, int64(0), bob.UnpaidLoans)
	assert.True(t, bob.UnpaidAmount.IsZero())

	_, err = reports.GetUserStats(ctx, "nobody")
	assert.ErrorIs(t, err, ledger.ErrStatsNotFound)
	_, err = reports.GetLoan(ctx, loanID+100)
	assert.ErrorIs(t, err, ledger.ErrLoanNotFound)
}

func TestRefundAgainstPostgres(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	engine := ledger.NewEngine(NewLedgerRepository(pool))
	reports := NewReportRepository(pool)

	first, err := engine.Confirm(ctx, ledger.ConfirmInput{Lender: "alice", Borrower: "bob", Amount: dec("25.50"), Currency: "GBP"})
	require.NoError(t, err)
	second, err := engine.Confirm(ctx, ledger.ConfirmInput{Lender: "alice", Borrower: "bob", Amount: dec("25.50"), Currency: "GBP"})
	require.NoError(t, err)

	in := ledger.RefundInput{Author: "alice", Lender: "alice", Borrower: "bob", Amount: dec("25.5"), Currency: "GBP"}
	out, err := engine.Refund(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, second.Loan.ID, out.Loan.ID)
	assert.Equal(t, ledger.StatusRefunded, out.Loan.Status)

	out, err = engine.Refund(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.Loan.ID, out.Loan.ID)

	_, err = engine.Refund(ctx, in)
	assert.ErrorIs(t, err, ledger.ErrLoanNotFound)

	alice, err := reports.GetUserStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), alice.LoansAsLender)
	assert.True(t, alice.AmountLent.IsZero())

	n, err := reports.CountOutstandingAsBorrower(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestStatsNeverGoNegative(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	repo := NewLedgerRepository(pool)

	err := repo.InTx(ctx, func(tx ledger.Tx) error {
		return tx.ApplyStatsDelta(ctx, "ghost", ledger.StatsDelta{LoansAsLender: -3, AmountLent: dec("-10")})
	})
	require.NoError(t, err)

	st, err := NewReportRepository(pool).GetUserStats(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.LoansAsLender)
	assert.True(t, st.AmountLent.IsZero())
}

func TestConcurrentPaymentsSerialize(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	engine := ledger.NewEngine(NewLedgerRepository(pool), ledger.WithMaxAttempts(5))

	c, err := engine.Confirm(ctx, ledger.ConfirmInput{Lender: "alice", Borrower: "bob", Amount: dec("100"), Currency: "USD"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Paid(ctx, ledger.PaidInput{LoanID: c.Loan.ID, Lender: "alice", Amount: dec("10"), Currency: "USD"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	loan, err := NewReportRepository(pool).GetLoan(ctx, c.Loan.ID)
	require.NoError(t, err)
	assert.True(t, loan.AmountRepaid.Equal(dec("100")))
	assert.Equal(t, ledger.StatusRepaid, loan.Status)
}

func TestReportQueries(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	engine := ledger.NewEngine(NewLedgerRepository(pool))
	reports := NewReportRepository(pool)

	for i := 0; i < 7; i++ {
		_, err := engine.Confirm(ctx, ledger.ConfirmInput{Lender: "alice", Borrower: "bob", Amount: dec("10"), Currency: "USD"})
		require.NoError(t, err)
	}
	_, err := engine.Paid(ctx, ledger.PaidInput{LoanID: 1, Lender: "alice", Amount: dec("4"), Currency: "USD"})
	require.NoError(t, err)

	snap, err := report.NewReporter(reports, 5).Snapshot(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, snap.HasHistory)
	assert.Len(t, snap.OutstandingAsLender, 5)
	assert.Equal(t, int64(7), snap.OutstandingAsLenderCount)
	assert.True(t, snap.OutstandingAsLenderTotal.Equal(dec("66")))
	assert.Equal(t, int64(2), snap.Omitted())
	assert.Equal(t, int64(7), snap.OutstandingAsLender[0].ID)

	n, err := reports.CountOutstandingAsBorrower(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestOutboxClaimRetryAndFeed(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	repo := NewOutboxRepository(pool)

	latest, err := repo.LatestID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), latest)

	k1, err := repo.Enqueue(ctx, jobs.TopicReply, []byte(`{"parent_id":"c1","text":"hi"}`))
	require.NoError(t, err)
	_, err = repo.Enqueue(ctx, jobs.TopicModmail, []byte(`{"notification":{"subject":"s"}}`))
	require.NoError(t, err)

	claimed, err := repo.ClaimPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	sort.Slice(claimed, func(i, j int) bool { return claimed[i].ID < claimed[j].ID })
	assert.Equal(t, k1, claimed[0].DeliveryKey)
	assert.Equal(t, jobs.TopicReply, claimed[0].Topic)
	assert.Equal(t, int32(1), claimed[0].Attempts)

	again, err := repo.ClaimPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, repo.MarkDone(ctx, claimed[0].ID))
	require.NoError(t, repo.MarkRetry(ctx, claimed[1].ID, time.Now().Add(-time.Second), "boom"))

	retried, err := repo.ClaimPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, retried, 1)
	assert.Equal(t, int32(2), retried[0].Attempts)
	require.NoError(t, repo.MarkFailed(ctx, retried[0].ID, "gave up"))

	feed, err := repo.ListSince(ctx, jobs.TopicModmail, 0, 10)
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Equal(t, "failed", feed[0].Status)
	assert.Equal(t, "gave up", feed[0].LastError)

	latest, err = repo.LatestID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest)
}
