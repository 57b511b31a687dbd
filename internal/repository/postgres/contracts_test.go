package postgres

import (
	"github.com/Rierra/LoanCentral/internal/domain/ledger"
	"github.com/Rierra/LoanCentral/internal/domain/report"
	"github.com/Rierra/LoanCentral/internal/ingest"
	"github.com/Rierra/LoanCentral/internal/jobs"
	"github.com/Rierra/LoanCentral/internal/ws"
)

var (
	_ ledger.Store          = (*LedgerRepository)(nil)
	_ report.Repository     = (*ReportRepository)(nil)
	_ ingest.Outbox         = (*OutboxRepository)(nil)
	_ jobs.OutboxRepository = (*OutboxRepository)(nil)
	_ ws.OutboxFeed         = (*OutboxRepository)(nil)
)
