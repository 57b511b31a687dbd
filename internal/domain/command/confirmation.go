package command

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// The confirmation sentence is written into the bot's reply to $confirm and read
// back when a lender answers that reply with "refunded".
var confirmationRe = regexp.MustCompile(`u/([^\s]+) has confirmed receiving (\d+(?:\.\d+)?)\s+([A-Z]{3}) from u/([^\s.]+)`)

type LoanTerms struct {
	Lender   string
	Borrower string
	Amount   decimal.Decimal
	Currency string
}

// ConfirmationLine renders the sentence that ParseConfirmation understands.
func ConfirmationLine(t LoanTerms) string {
	return fmt.Sprintf("u/%s has confirmed receiving %s %s from u/%s.",
		t.Borrower, t.Amount.StringFixed(2), strings.ToUpper(t.Currency), t.Lender)
}

func ParseConfirmation(body string) (LoanTerms, bool) {
	m := confirmationRe.FindStringSubmatch(body)
	if m == nil {
		return LoanTerms{}, false
	}
	amount, ok := parseAmount(m[2])
	if !ok {
		return LoanTerms{}, false
	}
	return LoanTerms{
		Borrower: normalize(m[1]),
		Amount:   amount,
		Currency: m[3],
		Lender:   normalize(m[4]),
	}, true
}
