package reply

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Rierra/LoanCentral/internal/domain/command"
	"github.com/Rierra/LoanCentral/internal/domain/ledger"
	"github.com/Rierra/LoanCentral/internal/domain/report"
	"github.com/shopspring/decimal"
)

// Notification is the message sent to the moderators when a loan is refunded.
type Notification struct {
	Subject   string          `json:"subject"`
	Body      string          `json:"body"`
	LoanID    int64           `json:"loan_id"`
	Lender    string          `json:"lender"`
	Borrower  string          `json:"borrower"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Permalink string          `json:"permalink,omitempty"`
}

func money(d decimal.Decimal, ccy string) string {
	return d.StringFixed(2) + " " + ccy
}

func Offer(o command.Offer) string {
	var b strings.Builder
	fmt.Fprintf(&b, "I've seen that u/%s is offering %s to u/%s!\n\n", o.Lender, money(o.Amount, o.Currency), o.Borrower)
	fmt.Fprintf(&b, "u/%s needs to confirm this transaction using:\n\n", o.Borrower)
	fmt.Fprintf(&b, "```\n$confirm /u/%s %s %s\n```\n\n", o.Lender, o.Amount.StringFixed(2), o.Currency)
	b.WriteString("The loan will only be registered in the database after confirmation. ")
	b.WriteString("This helps ensure that the money was actually sent and received.")
	return b.String()
}

func Confirm(l ledger.Loan) string {
	var b strings.Builder
	b.WriteString("Confirmed: ")
	b.WriteString(command.ConfirmationLine(command.LoanTerms{
		Lender:   l.Lender,
		Borrower: l.Borrower,
		Amount:   l.Principal,
		Currency: l.Currency,
	}))
	b.WriteString("\n\nIf you wish to mark this loan repaid later, you can use:\n\n")
	fmt.Fprintf(&b, "```\n$paid_with_id %d %s %s\n```\n\n", l.ID, l.Principal.StringFixed(2), l.Currency)
	b.WriteString("If the loan transaction did not work out and needs to be refunded then the *lender* ")
	b.WriteString("should reply to this comment with 'Refunded' and moderators will be automatically notified")
	return b.String()
}

func Paid(o ledger.PaidOutcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "u/%s has now repaid u/%s %s.\n\n", o.After.Borrower, o.After.Lender, money(o.Amount, o.After.Currency))
	b.WriteString("Loan before this transaction:\n\n")
	writeLoanTable(&b, o.Before)
	b.WriteString("Loan after this transaction:\n\n")
	writeLoanTable(&b, o.After)
	fmt.Fprintf(&b, "amount specified: %s, remaining: %s", money(o.Amount, o.After.Currency), money(o.Remaining, o.After.Currency))
	return b.String()
}

func writeLoanTable(b *strings.Builder, l ledger.Loan) {
	b.WriteString("|Lender|Borrower|Amount Given|Amount Repaid|Unpaid?|Original Thread|\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	fmt.Fprintf(b, "|%s|%s|%s|%s|%s|%s|\n\n",
		l.Lender, l.Borrower, money(l.Principal, l.Currency), money(l.AmountRepaid, l.Currency),
		yesNo(l.AmountRepaid.LessThan(l.Principal)), threadLink(l.OriginSource))
}

func Refund(o ledger.RefundOutcome) string {
	return fmt.Sprintf("Loan marked as refunded. The loan from u/%s to u/%s for %s has been removed from both users' statistics.",
		o.Loan.Lender, o.Loan.Borrower, money(o.Amount, o.Loan.Currency))
}

// ModeratorNotice builds the refund notice; permalink points at the refund comment.
func ModeratorNotice(o ledger.RefundOutcome, permalink string) Notification {
	var b strings.Builder
	b.WriteString("A loan has been marked as refunded:\n\n")
	fmt.Fprintf(&b, "Lender: u/%s\nBorrower: u/%s\nAmount: %s", o.Loan.Lender, o.Loan.Borrower, money(o.Amount, o.Loan.Currency))
	if permalink != "" {
		fmt.Fprintf(&b, "\n\nLink to comment: %s", permalink)
	}
	return Notification{
		Subject:   fmt.Sprintf("Loan Refunded - %s to %s", o.Loan.Lender, o.Loan.Borrower),
		Body:      b.String(),
		LoanID:    o.Loan.ID,
		Lender:    o.Loan.Lender,
		Borrower:  o.Loan.Borrower,
		Amount:    o.Amount,
		Currency:  o.Loan.Currency,
		Permalink: permalink,
	}
}

// Rejection renders a user-facing error. ok is false when the rejection has no reply.
func Rejection(err error) (string, bool) {
	var rej *ledger.RejectionError
	if !errors.As(err, &rej) {
		return "", false
	}
	switch {
	case errors.Is(rej, ledger.ErrLoanNotFound) && rej.LoanID != 0:
		return fmt.Sprintf("Error: Could not find a loan with ID %d where you are the lender.", rej.LoanID), true
	case errors.Is(rej, ledger.ErrLoanNotFound):
		return fmt.Sprintf("Error: Could not find an open loan from u/%s to u/%s matching that confirmation.", rej.Lender, rej.Borrower), true
	case errors.Is(rej, ledger.ErrCurrencyMismatch):
		return fmt.Sprintf("Error: Currency mismatch. The loan was in %s, but you specified %s.", rej.LoanCurrency, rej.SpecifiedCurrency), true
	case errors.Is(rej, ledger.ErrNotAuthorized):
		return "Only the lender can mark a loan as refunded.", true
	case errors.Is(rej, ledger.ErrLoanTerminal):
		return fmt.Sprintf("Error: Loan %d is already %s and cannot be changed.", rej.LoanID, strings.ReplaceAll(string(rej.Status), "_", " ")), true
	case errors.Is(rej, ledger.ErrSelfLoan):
		return "Error: You cannot confirm a loan from yourself.", true
	case errors.Is(rej, ledger.ErrInvalidAmount):
		return "Error: The amount must be greater than zero with at most two decimal places.", true
	case errors.Is(rej, ledger.ErrInvalidCurrency):
		return "Error: The currency must be a three letter code.", true
	case errors.Is(rej, ledger.ErrInvalidUser):
		return "Error: A username is missing from that command.", true
	default:
		return "", false
	}
}

// UserInfo renders a ledger summary for request posts and $stats queries.
func UserInfo(s *report.Snapshot) string {
	user := s.Username
	var b strings.Builder
	fmt.Fprintf(&b, "Here is my information on u/%s:\n\n", user)
	if !s.HasHistory {
		b.WriteString("This user has no loan history.")
		return b.String()
	}

	st := s.Stats
	fmt.Fprintf(&b, "u/%s has %d loans paid as a borrower, for a total of %s\n\n", user, st.LoansAsBorrower, st.AmountBorrowed.StringFixed(2))
	fmt.Fprintf(&b, "u/%s has %d loans paid as a lender, for a total of %s\n\n", user, st.LoansAsLender, st.AmountLent.StringFixed(2))

	if s.OutstandingAsBorrower == 0 {
		fmt.Fprintf(&b, "u/%s has not received any loans which are currently marked unpaid\n\n", user)
	} else {
		fmt.Fprintf(&b, "u/%s has %d current unpaid loans as borrower\n\n", user, s.OutstandingAsBorrower)
	}

	if len(s.OutstandingAsLender) == 0 {
		return strings.TrimRight(b.String(), "\n")
	}

	fmt.Fprintf(&b, "In-progress loans with u/%s as lender (%d loans, %s)", user, s.OutstandingAsLenderCount, s.OutstandingAsLenderTotal.StringFixed(2))
	if omitted := s.Omitted(); omitted > 0 {
		fmt.Fprintf(&b, " (%d loans omitted from the table)", omitted)
	}
	b.WriteString(":\n\n")
	b.WriteString("Lender | Borrower | Amount Given | Amount Repaid | Unpaid? | Original Thread\n")
	b.WriteString("--- | --- | --- | --- | --- | ---\n")
	for _, l := range s.OutstandingAsLender {
		fmt.Fprintf(&b, "%s | %s | %s | %s | %s | %s\n",
			l.Lender, l.Borrower, money(l.Principal, l.Currency), money(l.AmountRepaid, l.Currency),
			yesNo(l.AmountRepaid.LessThan(l.Principal)), threadLink(l.OriginSource))
	}
	return strings.TrimRight(b.String(), "\n")
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}

func threadLink(url string) string {
	if url == "" {
		return "-"
	}
	return "[Link](" + url + ")"
}
