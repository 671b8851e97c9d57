package accounting

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account keys resolved through the mapping table. Each movement kind debits
// and credits a fixed pair.
const (
	AccountInventory      = "inventory.stock"
	AccountGRIR           = "inventory.grir"
	AccountCOGS           = "inventory.cogs"
	AccountAdjustmentLoss = "inventory.adjustment"
)

// ErrSourceAlreadyPosted indicates the source document already produced a
// journal entry. Treated as success by the bridge.
var ErrSourceAlreadyPosted = errors.New("accounting: source already posted")

// ErrNoOpenPeriod indicates no open accounting period covers the posting date.
var ErrNoOpenPeriod = errors.New("accounting: no open period for date")

// AccountMapping binds a logical account key to a ledger account.
type AccountMapping struct {
	ID        int64
	TenantID  int64
	CompanyID int64
	Key       string
	AccountID int64
}

// Period is an accounting period window.
type Period struct {
	ID        int64
	TenantID  int64
	CompanyID int64
	StartsAt  time.Time
	EndsAt    time.Time
	Open      bool
}

// JournalEntry is one balanced double-entry posting derived from a stock
// movement document. SourceRef is a deterministic UUID of the originating
// document, unique per entry, which makes reposting idempotent.
type JournalEntry struct {
	ID        int64
	TenantID  int64
	CompanyID int64
	PeriodID  int64
	SourceRef uuid.UUID
	Source    string
	Memo      string
	PostedAt  time.Time
	CreatedBy int64
	Lines     []JournalLine
}

// JournalLine is one leg of a journal entry.
type JournalLine struct {
	ID        int64
	EntryID   int64
	AccountID int64
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

// SourceRefFor derives the deterministic journal source id for a document
// reference string such as "purchase_receipt:42".
func SourceRefFor(ref string) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(ref))
}

// Balanced reports whether debits equal credits across all lines.
func (e JournalEntry) Balanced() bool {
	debit, credit := decimal.Zero, decimal.Zero
	for _, line := range e.Lines {
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	return debit.Equal(credit)
}
