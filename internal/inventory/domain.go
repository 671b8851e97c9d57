package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MovementType enumerates supported ledger movements. The set is closed;
// adding a kind requires updating every switch that consumes it.
type MovementType string

const (
	// MovementIn represents an inbound goods receipt.
	MovementIn MovementType = "in"
	// MovementOut represents a plain outbound movement.
	MovementOut MovementType = "out"
	// MovementReturn represents a purchase return (outbound to supplier).
	MovementReturn MovementType = "return"
	// MovementSaleReturn represents a sales return (inbound from customer).
	MovementSaleReturn MovementType = "sale_return"
	// MovementAdjustment represents a manual stock adjustment.
	MovementAdjustment MovementType = "adjustment"
)

// Valid reports whether the movement type is a known member.
func (m MovementType) Valid() bool {
	switch m {
	case MovementIn, MovementOut, MovementReturn, MovementSaleReturn, MovementAdjustment:
		return true
	}
	return false
}

// DocumentKind tags the originating document family of a ledger entry.
type DocumentKind string

const (
	// DocumentReceipt points to a purchase receipt.
	DocumentReceipt DocumentKind = "purchase_receipt"
	// DocumentPurchaseReturn points to a purchase return.
	DocumentPurchaseReturn DocumentKind = "purchase_return"
	// DocumentSalesReturn points to a sales return.
	DocumentSalesReturn DocumentKind = "sales_return"
	// DocumentAdjustment points to a stock adjustment.
	DocumentAdjustment DocumentKind = "stock_adjustment"
)

// Valid reports whether the kind is a known member.
func (k DocumentKind) Valid() bool {
	switch k {
	case DocumentReceipt, DocumentPurchaseReturn, DocumentSalesReturn, DocumentAdjustment:
		return true
	}
	return false
}

// DocumentRef is a typed reference to the document that caused a movement.
// It replaces a stringly-typed (related_type, related_id) pair.
type DocumentRef struct {
	Kind DocumentKind
	ID   int64
}

func (r DocumentRef) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

// LocationType classifies stock locations.
type LocationType string

const (
	// LocationWarehouse is a warehouse location.
	LocationWarehouse LocationType = "warehouse"
	// LocationStore is a clinic or branch store.
	LocationStore LocationType = "store"
)

// DefaultLocationCode is the code of the lazily created default warehouse.
const DefaultLocationCode = "WH-MAIN"

// StockLocation is a physical or logical place stock can reside.
// Unique per (tenant, company, code).
type StockLocation struct {
	ID        int64
	TenantID  int64
	CompanyID int64
	Code      string
	Name      string
	Type      LocationType
	CreatedAt time.Time
}

// Batch represents a lot of a trackable product. Natural key is
// (tenant, company, product, batch_no); QtyOnHand is a denormalised counter
// mutated by every movement referencing the batch.
type Batch struct {
	ID        int64
	TenantID  int64
	CompanyID int64
	ProductID int64
	BatchNo   string
	Expiry    *time.Time
	UnitCost  decimal.Decimal
	QtyOnHand decimal.Decimal
	CreatedAt time.Time
}

// StockMove is one directed movement event. One location side may be nil,
// representing outside the system. Append-only.
type StockMove struct {
	ID            int64
	TenantID      int64
	CompanyID     int64
	ProductID     int64
	BatchID       *int64
	SrcLocationID *int64
	DstLocationID *int64
	Qty           decimal.Decimal
	UnitCost      decimal.Decimal
	Ref           DocumentRef
	ActorID       int64
	MovedAt       time.Time
}

// LedgerEntry is the authoritative historical record of one quantity change.
// Append-only; never updated or deleted.
type LedgerEntry struct {
	ID         int64
	TenantID   int64
	CompanyID  int64
	ProductID  int64
	LocationID int64
	BatchID    *int64
	Movement   MovementType
	ChangeQty  decimal.Decimal
	UnitCost   decimal.Decimal
	TotalCost  decimal.Decimal
	BalanceQty decimal.Decimal
	Ref        DocumentRef
	ActorID    int64
	OccurredAt time.Time
	Note       string
}

// LevelKey identifies one StockLevel row. A nil batch is part of the key:
// rows differing only by nil-vs-value batch are distinct.
type LevelKey struct {
	TenantID   int64
	CompanyID  int64
	ProductID  int64
	LocationID int64
	BatchID    *int64
}

// StockLevel is the current mutable aggregate for a level key. Its quantity
// must always equal the signed sum of ledger entries sharing the key.
type StockLevel struct {
	TenantID   int64
	CompanyID  int64
	ProductID  int64
	LocationID int64
	BatchID    *int64
	Quantity   decimal.Decimal
	Reserved   decimal.Decimal
	UpdatedAt  time.Time
}

// Key returns the identifying tuple of the level row.
func (l StockLevel) Key() LevelKey {
	return LevelKey{TenantID: l.TenantID, CompanyID: l.CompanyID, ProductID: l.ProductID, LocationID: l.LocationID, BatchID: l.BatchID}
}

// DocumentStatus tracks the lifecycle of movement documents.
type DocumentStatus string

const (
	// StatusDraft marks an unposted document.
	StatusDraft DocumentStatus = "draft"
	// StatusPosted marks a document whose stock effects are committed.
	StatusPosted DocumentStatus = "posted"
)

// AdjustmentReason enumerates accepted adjustment reason codes.
type AdjustmentReason string

const (
	// ReasonAudit is a physical count correction.
	ReasonAudit AdjustmentReason = "audit"
	// ReasonBreakage is damaged stock.
	ReasonBreakage AdjustmentReason = "breakage"
	// ReasonExpiry is expired stock write-off.
	ReasonExpiry AdjustmentReason = "expiry"
	// ReasonWastage is general wastage.
	ReasonWastage AdjustmentReason = "wastage"
)

// Valid reports whether the reason code is a known member.
func (r AdjustmentReason) Valid() bool {
	switch r {
	case ReasonAudit, ReasonBreakage, ReasonExpiry, ReasonWastage:
		return true
	}
	return false
}

// PurchaseReceipt is the business-facing record of a goods receipt.
type PurchaseReceipt struct {
	ID         int64
	TenantID   int64
	CompanyID  int64
	Number     string
	SupplierID *int64
	Reference  string
	ReceivedAt time.Time
	Status     DocumentStatus
	Notes      string
	CreatedBy  int64
	CreatedAt  time.Time
}

// ReceiptLine is one received product line.
type ReceiptLine struct {
	ID         int64
	ReceiptID  int64
	ProductID  int64
	BatchID    *int64
	LocationID int64
	Qty        decimal.Decimal
	UnitCost   decimal.Decimal
}

// PurchaseReturn is the record of goods sent back to a supplier.
type PurchaseReturn struct {
	ID         int64
	TenantID   int64
	CompanyID  int64
	Number     string
	ReceiptID  int64
	SupplierID int64
	Reason     string
	Status     DocumentStatus
	ReturnedAt time.Time
	CreatedBy  int64
	CreatedAt  time.Time
}

// PurchaseReturnLine is one returned line, tied to the originating receipt line.
type PurchaseReturnLine struct {
	ID            int64
	ReturnID      int64
	ReceiptLineID int64
	ProductID     int64
	BatchID       *int64
	LocationID    int64
	Qty           decimal.Decimal
	UnitCost      decimal.Decimal
}

// SalesReturn is the record of goods coming back from a customer.
type SalesReturn struct {
	ID         int64
	TenantID   int64
	CompanyID  int64
	Number     string
	SalesDocID int64
	CustomerID int64
	Reason     string
	Status     DocumentStatus
	ReturnedAt time.Time
	CreatedBy  int64
	CreatedAt  time.Time
}

// SalesReturnLine is one line of a sales return.
type SalesReturnLine struct {
	ID         int64
	ReturnID   int64
	ProductID  int64
	BatchID    *int64
	LocationID int64
	Qty        decimal.Decimal
	UnitCost   decimal.Decimal
}

// StockAdjustment is the record of a manual correction.
type StockAdjustment struct {
	ID         int64
	TenantID   int64
	CompanyID  int64
	Number     string
	Reason     string
	ReasonCode AdjustmentReason
	Status     DocumentStatus
	AdjustedAt time.Time
	CreatedBy  int64
	CreatedAt  time.Time
}

// StockAdjustmentLine records old/new/diff for one level key.
type StockAdjustmentLine struct {
	ID           int64
	AdjustmentID int64
	ProductID    int64
	LocationID   int64
	BatchID      *int64
	OldQty       decimal.Decimal
	NewQty       decimal.Decimal
	DiffQty      decimal.Decimal
	UnitCost     decimal.Decimal
}

// ErrNegativeStock is returned when a movement would drive a level below zero
// and the negative-stock policy forbids it.
var ErrNegativeStock = errors.New("inventory: negative stock not allowed")

// ErrInvalidQuantity indicates a zero or negative quantity.
var ErrInvalidQuantity = errors.New("inventory: quantity must be positive")

// ErrInvalidUnitCost indicates a negative cost value.
var ErrInvalidUnitCost = errors.New("inventory: unit cost must be >= 0")

// ErrReturnExceedsOriginal is returned when a return line exceeds the
// originally received or sold quantity and the return-cap policy is active.
var ErrReturnExceedsOriginal = errors.New("inventory: return quantity exceeds original")
