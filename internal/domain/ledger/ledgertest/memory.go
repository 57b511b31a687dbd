// Package ledgertest provides an in-memory ledger store for tests.
package ledgertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Rierra/LoanCentral/internal/domain/ledger"
	"github.com/shopspring/decimal"
)

// Store keeps loans and stats in maps. InTx works on a copy and swaps it in
// on success, so a failing command leaves no trace.
type Store struct {
	mu     sync.Mutex
	state  state
	failTx []error

	Commits   int
	Rollbacks int
}

type state struct {
	nextID int64
	loans  map[int64]ledger.Loan
	stats  map[string]ledger.UserStats
}

func NewStore() *Store {
	return &Store{state: state{
		loans: map[int64]ledger.Loan{},
		stats: map[string]ledger.UserStats{},
	}}
}

// FailNextTx makes the next len(errs) transactions fail with the given errors before fn runs.
func (s *Store) FailNextTx(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failTx = append(s.failTx, errs...)
}

func (s *Store) InTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.failTx) > 0 {
		err := s.failTx[0]
		s.failTx = s.failTx[1:]
		s.Rollbacks++
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.state.clone()
	if err := fn(&tx{st: &work}); err != nil {
		s.Rollbacks++
		return err
	}
	s.state = work
	s.Commits++
	return nil
}

func (s *Store) GetLoan(_ context.Context, loanID int64) (*ledger.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.state.loans[loanID]
	if !ok {
		return nil, ledger.ErrLoanNotFound
	}
	return &l, nil
}

func (s *Store) GetUserStats(_ context.Context, username string) (*ledger.UserStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state.stats[username]
	if !ok {
		return nil, ledger.ErrStatsNotFound
	}
	return &st, nil
}

func (s *Store) CountOutstandingAsBorrower(_ context.Context, username string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, l := range s.state.loans {
		if l.Borrower == username && l.Status.Outstanding() {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListOutstandingAsLender(_ context.Context, username string, limit int32) ([]ledger.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.state.outstandingAsLender(username)
	if limit > 0 && int(limit) < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SummarizeOutstandingAsLender(_ context.Context, username string) (int64, decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	loans := s.state.outstandingAsLender(username)
	for _, l := range loans {
		total = total.Add(l.Remaining())
	}
	return int64(len(loans)), total, nil
}

// Loans returns every stored loan ordered by id.
func (s *Store) Loans() []ledger.Loan {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.Loan, 0, len(s.state.loans))
	for _, l := range s.state.loans {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats returns the row for username, or a zero row when none exists.
func (s *Store) Stats(username string) ledger.UserStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.stats[username]
}

func (s *Store) HasStats(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.state.stats[username]
	return ok
}

// PutLoan stores a loan directly, assigning an id when it has none.
func (s *Store) PutLoan(l ledger.Loan) ledger.Loan {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == 0 {
		s.state.nextID++
		l.ID = s.state.nextID
	} else if l.ID > s.state.nextID {
		s.state.nextID = l.ID
	}
	s.state.loans[l.ID] = l
	return l
}

func (s *Store) PutStats(st ledger.UserStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.stats[st.Username] = st
}

func (st state) clone() state {
	out := state{
		nextID: st.nextID,
		loans:  make(map[int64]ledger.Loan, len(st.loans)),
		stats:  make(map[string]ledger.UserStats, len(st.stats)),
	}
	for k, v := range st.loans {
		out.loans[k] = v
	}
	for k, v := range st.stats {
		out.stats[k] = v
	}
	return out
}

func (st state) outstandingAsLender(username string) []ledger.Loan {
	out := make([]ledger.Loan, 0)
	for _, l := range st.loans {
		if l.Lender == username && l.Status.Outstanding() {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// column rounds like the NUMERIC(20,2) money columns do.
func column(d decimal.Decimal) decimal.Decimal {
	return d.Round(ledger.AmountScale)
}

type tx struct {
	st *state
}

func (t *tx) CreateLoan(_ context.Context, in ledger.NewLoan) (*ledger.Loan, error) {
	t.st.nextID++
	created := in.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	l := ledger.Loan{
		ID:            t.st.nextID,
		Lender:        in.Lender,
		Borrower:      in.Borrower,
		Principal:     column(in.Principal),
		Currency:      in.Currency,
		AmountRepaid:  decimal.Zero,
		Status:        ledger.StatusConfirmed,
		OriginSource:  in.OriginSource,
		CreatedAt:     created,
		LastUpdatedAt: created,
	}
	t.st.loans[l.ID] = l
	return &l, nil
}

func (t *tx) FindLoanForPayment(_ context.Context, loanID int64, lender string) (*ledger.Loan, error) {
	l, ok := t.st.loans[loanID]
	if !ok || l.Lender != lender {
		return nil, ledger.ErrLoanNotFound
	}
	return &l, nil
}

func (t *tx) FindActiveLoanForRefund(_ context.Context, lender, borrower string, amount decimal.Decimal, currency string) (*ledger.Loan, error) {
	var best *ledger.Loan
	for _, l := range t.st.loans {
		if l.Lender != lender || l.Borrower != borrower || l.Currency != currency ||
			!l.Principal.Equal(amount) || l.Status == ledger.StatusRefunded {
			continue
		}
		if best == nil || l.CreatedAt.After(best.CreatedAt) ||
			(l.CreatedAt.Equal(best.CreatedAt) && l.ID > best.ID) {
			cp := l
			best = &cp
		}
	}
	if best == nil {
		return nil, ledger.ErrLoanNotFound
	}
	return best, nil
}

func (t *tx) UpdateLoan(_ context.Context, in ledger.LoanUpdate) (*ledger.Loan, error) {
	l, ok := t.st.loans[in.ID]
	if !ok {
		return nil, ledger.ErrLoanNotFound
	}
	l.AmountRepaid = column(in.AmountRepaid)
	l.Status = in.Status
	l.LastUpdatedAt = in.UpdatedAt
	t.st.loans[in.ID] = l
	return &l, nil
}

func (t *tx) ApplyStatsDelta(_ context.Context, username string, delta ledger.StatsDelta) error {
	cur, ok := t.st.stats[username]
	if !ok {
		cur = ledger.UserStats{Username: username}
	}
	next := delta.Apply(cur)
	next.AmountBorrowed = column(next.AmountBorrowed)
	next.AmountLent = column(next.AmountLent)
	next.AmountRepaid = column(next.AmountRepaid)
	next.UnpaidAmount = column(next.UnpaidAmount)
	next.LastUpdatedAt = time.Now().UTC()
	t.st.stats[username] = next
	return nil
}
