package command

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindOffer      Kind = "offer"
	KindConfirm    Kind = "confirm"
	KindPaid       Kind = "paid"
	KindRefund     Kind = "refund"
	KindStatsQuery Kind = "stats_query"
	KindNoMatch    Kind = "no_match"
)

// Command is one of Offer, Confirm, Paid, Refund, StatsQuery or NoMatch.
type Command interface {
	Kind() Kind
}

type Offer struct {
	Lender   string
	Borrower string
	Amount   decimal.Decimal
	Currency string
}

type Confirm struct {
	Lender   string
	Borrower string
	Amount   decimal.Decimal
	Currency string
}

type Paid struct {
	LoanID   int64
	Lender   string
	Amount   decimal.Decimal
	Currency string
}

// Refund carries the loan terms as printed in the bot's confirmation reply.
type Refund struct {
	Author   string
	Lender   string
	Borrower string
	Amount   decimal.Decimal
	Currency string
}

type StatsQuery struct {
	Username string
}

// NoMatch means no command was recognized. Reason is set when a grammar
// matched but the command was dropped.
type NoMatch struct {
	Reason string
}

func (Offer) Kind() Kind      { return KindOffer }
func (Confirm) Kind() Kind    { return KindConfirm }
func (Paid) Kind() Kind       { return KindPaid }
func (Refund) Kind() Kind     { return KindRefund }
func (StatsQuery) Kind() Kind { return KindStatsQuery }
func (NoMatch) Kind() Kind    { return KindNoMatch }

const (
	ReasonMissingPostAuthor = "missing_post_author"
	ReasonSelfLoan          = "self_loan"
	ReasonParentNotBot      = "parent_not_bot"
	ReasonBadAmount         = "bad_amount"
	ReasonBadLoanID         = "bad_loan_id"
)

type Parent struct {
	Author string
	Body   string
}

type Input struct {
	Body       string
	Author     string
	Parent     *Parent
	PostAuthor string
	BotName    string
}

var (
	codeBlockRe = regexp.MustCompile("(?s)```\\s*(.*?)\\s*```")

	offerRe   = regexp.MustCompile(`(?i)\$loan\s+(\d+(?:\.\d+)?)\s+([A-Z]{3})\b`)
	confirmRe = regexp.MustCompile(`(?i)\$confirm\s+/?u/([^\s]+)\s+(\d+(?:\.\d+)?)\s+([A-Z]{3})\b`)
	paidRe    = regexp.MustCompile(`(?i)\$paid_with_id\s+(\d+)\s+(\d+(?:\.\d+)?)\s+([A-Z]{3})\b`)
	statsRe   = regexp.MustCompile(`(?i)\$stats\s+(?:/u/|u/)([^\s]+)`)
)

type matcher struct {
	marker string
	parse  func(in Input) Command
}

// matchers are tried in order; the first marker found in the body picks the grammar.
var matchers = []matcher{
	{marker: "$loan", parse: parseOffer},
	{marker: "$confirm", parse: parseConfirm},
	{marker: "$paid_with_id", parse: parsePaid},
	{marker: "refunded", parse: parseRefund},
	{marker: "$stats", parse: parseStats},
}

// Parse extracts at most one command from a comment.
func Parse(in Input) Command {
	lower := strings.ToLower(in.Body)
	for _, m := range matchers {
		if strings.Contains(lower, m.marker) {
			return m.parse(in)
		}
	}
	return NoMatch{}
}

func parseOffer(in Input) Command {
	m := offerRe.FindStringSubmatch(in.Body)
	if m == nil {
		return NoMatch{}
	}
	amount, ok := parseAmount(m[1])
	if !ok {
		return NoMatch{Reason: ReasonBadAmount}
	}
	lender := normalize(in.Author)
	borrower := normalize(in.PostAuthor)
	if borrower == "" {
		return NoMatch{Reason: ReasonMissingPostAuthor}
	}
	if lender == borrower {
		return NoMatch{Reason: ReasonSelfLoan}
	}
	return Offer{Lender: lender, Borrower: borrower, Amount: amount, Currency: strings.ToUpper(m[2])}
}

func parseConfirm(in Input) Command {
	m := confirmRe.FindStringSubmatch(searchText(in.Body))
	if m == nil {
		return NoMatch{}
	}
	amount, ok := parseAmount(m[2])
	if !ok {
		return NoMatch{Reason: ReasonBadAmount}
	}
	return Confirm{
		Lender:   normalize(m[1]),
		Borrower: normalize(in.Author),
		Amount:   amount,
		Currency: strings.ToUpper(m[3]),
	}
}

func parsePaid(in Input) Command {
	m := paidRe.FindStringSubmatch(searchText(in.Body))
	if m == nil {
		return NoMatch{}
	}
	loanID, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return NoMatch{Reason: ReasonBadLoanID}
	}
	amount, ok := parseAmount(m[2])
	if !ok {
		return NoMatch{Reason: ReasonBadAmount}
	}
	return Paid{
		LoanID:   loanID,
		Lender:   normalize(in.Author),
		Amount:   amount,
		Currency: strings.ToUpper(m[3]),
	}
}

func parseRefund(in Input) Command {
	if in.Parent == nil || in.BotName == "" || !strings.EqualFold(strings.TrimSpace(in.Parent.Author), in.BotName) {
		return NoMatch{Reason: ReasonParentNotBot}
	}
	terms, ok := ParseConfirmation(in.Parent.Body)
	if !ok {
		return NoMatch{}
	}
	return Refund{
		Author:   normalize(in.Author),
		Lender:   terms.Lender,
		Borrower: terms.Borrower,
		Amount:   terms.Amount,
		Currency: terms.Currency,
	}
}

func parseStats(in Input) Command {
	m := statsRe.FindStringSubmatch(in.Body)
	if m == nil {
		return NoMatch{}
	}
	return StatsQuery{Username: normalize(m[1])}
}

// amountScale matches the two decimal places the ledger stores.
const amountScale = 2

// parseAmount rejects amounts with sub-cent digits; trailing zeros are fine.
func parseAmount(s string) (decimal.Decimal, bool) {
	amount, err := decimal.NewFromString(s)
	if err != nil || !amount.Equal(amount.Truncate(amountScale)) {
		return decimal.Decimal{}, false
	}
	return amount, true
}

// searchText returns the first fenced code block when the body has one.
func searchText(body string) string {
	if m := codeBlockRe.FindStringSubmatch(body); m != nil {
		return m[1]
	}
	return body
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
