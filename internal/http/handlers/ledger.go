package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/Rierra/LoanCentral/internal/domain/ledger"
	"github.com/Rierra/LoanCentral/internal/domain/report"
	"github.com/gin-gonic/gin"
)

type StatsReporter interface {
	Snapshot(ctx context.Context, username string) (*report.Snapshot, error)
}

type LoanReader interface {
	GetLoan(ctx context.Context, loanID int64) (*ledger.Loan, error)
}

// LedgerHandler serves read-only ledger lookups.
type LedgerHandler struct {
	reporter StatsReporter
	loans    LoanReader
}

func NewLedgerHandler(reporter StatsReporter, loans LoanReader) *LedgerHandler {
	return &LedgerHandler{reporter: reporter, loans: loans}
}

func (h *LedgerHandler) GetUserStats(c *gin.Context) {
	username := ledger.NormalizeUsername(c.Param("username"))
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_username"})
		return
	}

	snap, err := h.reporter.Snapshot(c.Request.Context(), username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats_lookup_failed"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *LedgerHandler) GetLoan(c *gin.Context) {
	loanID, err := strconv.ParseInt(strings.TrimSpace(c.Param("loanId")), 10, 64)
	if err != nil || loanID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_loan_id"})
		return
	}

	loan, err := h.loans.GetLoan(c.Request.Context(), loanID)
	if err != nil {
		if errors.Is(err, ledger.ErrLoanNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "loan_not_found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "loan_lookup_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"loan":      loan,
		"remaining": loan.Remaining(),
	})
}
