package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// ErrLocationExists indicates a concurrent insert won the location code.
// Under repeatable read the winner's row is invisible to the losing
// transaction, so the resolver surfaces a retryable conflict instead.
var ErrLocationExists = errors.New("inventory: location already exists")

// ErrBatchExists indicates a concurrent insert won the batch natural key.
// Callers re-fetch instead of failing.
var ErrBatchExists = errors.New("inventory: batch already exists")

// LevelFilter narrows stock level queries.
type LevelFilter struct {
	ProductID  int64
	LocationID int64
	Limit      int
}

// LedgerFilter narrows ledger queries.
type LedgerFilter struct {
	ProductID  int64
	LocationID int64
	BatchID    *int64
	From       time.Time
	To         time.Time
	Limit      int
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetReceipt(ctx context.Context, rc shared.RequestContext, id int64) (PurchaseReceipt, []ReceiptLine, error)
	GetLevels(ctx context.Context, rc shared.RequestContext, filter LevelFilter) ([]StockLevel, error)
	GetLedger(ctx context.Context, rc shared.RequestContext, filter LedgerFilter) ([]LedgerEntry, error)

	// Reconciliation reads, used by the Reconciler to cross-check the
	// mutable aggregates against the append-only ledger.
	SumLedgerByLevel(ctx context.Context, key LevelKey) (decimal.Decimal, error)
	SumLedgerByBatch(ctx context.Context, rc shared.RequestContext, batchID int64) (decimal.Decimal, error)
	ListBatches(ctx context.Context, rc shared.RequestContext, productID int64, limit int) ([]Batch, error)
}

// TxRepository exposes the transactional operations the orchestrators compose.
// All mutations of StockLevel and Batch counters go through the atomic-delta
// methods here; nothing outside this package overwrites them.
type TxRepository interface {
	// Locations.
	FindLocationByCode(ctx context.Context, rc shared.RequestContext, code string) (StockLocation, error)
	FindLocationByType(ctx context.Context, rc shared.RequestContext, typ LocationType) (StockLocation, error)
	FindAnyLocation(ctx context.Context, rc shared.RequestContext) (StockLocation, error)
	InsertLocation(ctx context.Context, loc StockLocation) (int64, error)

	// Batches.
	FindBatch(ctx context.Context, rc shared.RequestContext, productID int64, batchNo string) (Batch, error)
	InsertBatch(ctx context.Context, batch Batch) (int64, error)
	AddBatchQty(ctx context.Context, rc shared.RequestContext, batchID int64, delta decimal.Decimal) (decimal.Decimal, error)
	GetBatch(ctx context.Context, rc shared.RequestContext, batchID int64) (Batch, error)

	// Stock levels. ApplyLevelDelta performs a single relative upsert and
	// returns the resulting row; SetLevelAbsolute locks the row first.
	ApplyLevelDelta(ctx context.Context, key LevelKey, delta decimal.Decimal) (StockLevel, error)
	SetLevelAbsolute(ctx context.Context, key LevelKey, qty decimal.Decimal) (StockLevel, error)

	// Append-only records.
	InsertMove(ctx context.Context, move StockMove) (int64, error)
	AppendLedger(ctx context.Context, entry LedgerEntry) (int64, error)

	// Documents.
	InsertReceipt(ctx context.Context, receipt PurchaseReceipt) (int64, error)
	InsertReceiptLine(ctx context.Context, line ReceiptLine) (int64, error)
	UpdateReceiptStatus(ctx context.Context, rc shared.RequestContext, id int64, status DocumentStatus) error
	GetReceiptTx(ctx context.Context, rc shared.RequestContext, id int64) (PurchaseReceipt, []ReceiptLine, error)

	InsertPurchaseReturn(ctx context.Context, ret PurchaseReturn) (int64, error)
	InsertPurchaseReturnLine(ctx context.Context, line PurchaseReturnLine) (int64, error)
	SumReturnedQty(ctx context.Context, rc shared.RequestContext, receiptLineID int64) (decimal.Decimal, error)

	InsertSalesReturn(ctx context.Context, ret SalesReturn) (int64, error)
	InsertSalesReturnLine(ctx context.Context, line SalesReturnLine) (int64, error)
	SumSalesReturnedQty(ctx context.Context, rc shared.RequestContext, salesDocID, productID int64) (decimal.Decimal, error)

	InsertAdjustment(ctx context.Context, adj StockAdjustment) (int64, error)
	InsertAdjustmentLine(ctx context.Context, line StockAdjustmentLine) (int64, error)
}

// SalesHistory looks up originally sold quantities; owned by the sales
// subsystem, consumed read-only to cap sales return lines.
type SalesHistory interface {
	SoldQty(ctx context.Context, rc shared.RequestContext, salesDocID, productID int64) (decimal.Decimal, error)
}
