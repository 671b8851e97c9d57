package inventory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/catalog"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type memoryRepo struct {
	mu        sync.Mutex
	nextID    int64
	locations []StockLocation
	batches   []Batch
	levels    map[string]StockLevel
	moves     []StockMove
	ledger    []LedgerEntry

	receipts        map[int64]PurchaseReceipt
	receiptLines    []ReceiptLine
	purchaseReturns map[int64]PurchaseReturn
	prLines         []PurchaseReturnLine
	salesReturns    map[int64]SalesReturn
	srLines         []SalesReturnLine
	adjustments     map[int64]StockAdjustment
	adjLines        []StockAdjustmentLine
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		levels:          make(map[string]StockLevel),
		receipts:        make(map[int64]PurchaseReceipt),
		purchaseReturns: make(map[int64]PurchaseReturn),
		salesReturns:    make(map[int64]SalesReturn),
		adjustments:     make(map[int64]StockAdjustment),
	}
}

func (r *memoryRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func levelMapKey(key LevelKey) string {
	batch := int64(0)
	if key.BatchID != nil {
		batch = *key.BatchID
	}
	return fmt.Sprintf("%d:%d:%d:%d:%d", key.TenantID, key.CompanyID, key.ProductID, key.LocationID, batch)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	// Serialize transactions the way repeatable-read would for these tests.
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetReceipt(ctx context.Context, rc shared.RequestContext, id int64) (PurchaseReceipt, []ReceiptLine, error) {
	tx := &memoryTx{repo: r}
	return tx.GetReceiptTx(ctx, rc, id)
}

func (r *memoryRepo) GetLevels(ctx context.Context, rc shared.RequestContext, filter LevelFilter) ([]StockLevel, error) {
	out := []StockLevel{}
	for _, level := range r.levels {
		if level.TenantID != rc.TenantID || level.CompanyID != rc.CompanyID {
			continue
		}
		if filter.ProductID != 0 && level.ProductID != filter.ProductID {
			continue
		}
		if filter.LocationID != 0 && level.LocationID != filter.LocationID {
			continue
		}
		out = append(out, level)
	}
	return out, nil
}

func (r *memoryRepo) GetLedger(ctx context.Context, rc shared.RequestContext, filter LedgerFilter) ([]LedgerEntry, error) {
	out := []LedgerEntry{}
	for _, e := range r.ledger {
		if e.TenantID != rc.TenantID || e.CompanyID != rc.CompanyID {
			continue
		}
		if filter.ProductID != 0 && e.ProductID != filter.ProductID {
			continue
		}
		if filter.LocationID != 0 && e.LocationID != filter.LocationID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *memoryRepo) SumLedgerByLevel(ctx context.Context, key LevelKey) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, e := range r.ledger {
		entryKey := LevelKey{TenantID: e.TenantID, CompanyID: e.CompanyID, ProductID: e.ProductID, LocationID: e.LocationID, BatchID: e.BatchID}
		if levelMapKey(entryKey) == levelMapKey(key) {
			sum = sum.Add(e.ChangeQty)
		}
	}
	return sum, nil
}

func (r *memoryRepo) SumLedgerByBatch(ctx context.Context, rc shared.RequestContext, batchID int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, e := range r.ledger {
		if e.TenantID == rc.TenantID && e.CompanyID == rc.CompanyID && e.BatchID != nil && *e.BatchID == batchID {
			sum = sum.Add(e.ChangeQty)
		}
	}
	return sum, nil
}

func (r *memoryRepo) ListBatches(ctx context.Context, rc shared.RequestContext, productID int64, limit int) ([]Batch, error) {
	out := []Batch{}
	for _, b := range r.batches {
		if b.TenantID != rc.TenantID || b.CompanyID != rc.CompanyID {
			continue
		}
		if productID != 0 && b.ProductID != productID {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (tx *memoryTx) FindLocationByCode(ctx context.Context, rc shared.RequestContext, code string) (StockLocation, error) {
	for _, loc := range tx.repo.locations {
		if loc.TenantID == rc.TenantID && loc.CompanyID == rc.CompanyID && loc.Code == code {
			return loc, nil
		}
	}
	return StockLocation{}, shared.ErrNotFound
}

func (tx *memoryTx) FindLocationByType(ctx context.Context, rc shared.RequestContext, typ LocationType) (StockLocation, error) {
	for _, loc := range tx.repo.locations {
		if loc.TenantID == rc.TenantID && loc.CompanyID == rc.CompanyID && loc.Type == typ {
			return loc, nil
		}
	}
	return StockLocation{}, shared.ErrNotFound
}

func (tx *memoryTx) FindAnyLocation(ctx context.Context, rc shared.RequestContext) (StockLocation, error) {
	for _, loc := range tx.repo.locations {
		if loc.TenantID == rc.TenantID && loc.CompanyID == rc.CompanyID {
			return loc, nil
		}
	}
	return StockLocation{}, shared.ErrNotFound
}

func (tx *memoryTx) InsertLocation(ctx context.Context, loc StockLocation) (int64, error) {
	loc.ID = tx.repo.id()
	tx.repo.locations = append(tx.repo.locations, loc)
	return loc.ID, nil
}

func (tx *memoryTx) FindBatch(ctx context.Context, rc shared.RequestContext, productID int64, batchNo string) (Batch, error) {
	for _, b := range tx.repo.batches {
		if b.TenantID == rc.TenantID && b.CompanyID == rc.CompanyID && b.ProductID == productID && b.BatchNo == batchNo {
			return b, nil
		}
	}
	return Batch{}, shared.ErrNotFound
}

func (tx *memoryTx) InsertBatch(ctx context.Context, batch Batch) (int64, error) {
	for _, b := range tx.repo.batches {
		if b.TenantID == batch.TenantID && b.CompanyID == batch.CompanyID && b.ProductID == batch.ProductID && b.BatchNo == batch.BatchNo {
			return 0, ErrBatchExists
		}
	}
	batch.ID = tx.repo.id()
	batch.QtyOnHand = decimal.Zero
	tx.repo.batches = append(tx.repo.batches, batch)
	return batch.ID, nil
}

func (tx *memoryTx) AddBatchQty(ctx context.Context, rc shared.RequestContext, batchID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	for i, b := range tx.repo.batches {
		if b.ID == batchID {
			tx.repo.batches[i].QtyOnHand = b.QtyOnHand.Add(delta)
			return tx.repo.batches[i].QtyOnHand, nil
		}
	}
	return decimal.Zero, shared.ErrNotFound
}

func (tx *memoryTx) GetBatch(ctx context.Context, rc shared.RequestContext, batchID int64) (Batch, error) {
	for _, b := range tx.repo.batches {
		if b.ID == batchID {
			return b, nil
		}
	}
	return Batch{}, shared.ErrNotFound
}

func (tx *memoryTx) ApplyLevelDelta(ctx context.Context, key LevelKey, delta decimal.Decimal) (StockLevel, error) {
	mk := levelMapKey(key)
	level, ok := tx.repo.levels[mk]
	if !ok {
		level = StockLevel{TenantID: key.TenantID, CompanyID: key.CompanyID, ProductID: key.ProductID, LocationID: key.LocationID, BatchID: key.BatchID}
	}
	level.Quantity = level.Quantity.Add(delta)
	level.UpdatedAt = time.Now()
	tx.repo.levels[mk] = level
	return level, nil
}

func (tx *memoryTx) SetLevelAbsolute(ctx context.Context, key LevelKey, qty decimal.Decimal) (StockLevel, error) {
	mk := levelMapKey(key)
	level, ok := tx.repo.levels[mk]
	if !ok {
		level = StockLevel{TenantID: key.TenantID, CompanyID: key.CompanyID, ProductID: key.ProductID, LocationID: key.LocationID, BatchID: key.BatchID}
	}
	level.Quantity = qty
	level.UpdatedAt = time.Now()
	tx.repo.levels[mk] = level
	return level, nil
}

func (tx *memoryTx) InsertMove(ctx context.Context, move StockMove) (int64, error) {
	move.ID = tx.repo.id()
	tx.repo.moves = append(tx.repo.moves, move)
	return move.ID, nil
}

func (tx *memoryTx) AppendLedger(ctx context.Context, entry LedgerEntry) (int64, error) {
	entry.ID = tx.repo.id()
	tx.repo.ledger = append(tx.repo.ledger, entry)
	return entry.ID, nil
}

func (tx *memoryTx) InsertReceipt(ctx context.Context, receipt PurchaseReceipt) (int64, error) {
	receipt.ID = tx.repo.id()
	tx.repo.receipts[receipt.ID] = receipt
	return receipt.ID, nil
}

func (tx *memoryTx) InsertReceiptLine(ctx context.Context, line ReceiptLine) (int64, error) {
	line.ID = tx.repo.id()
	tx.repo.receiptLines = append(tx.repo.receiptLines, line)
	return line.ID, nil
}

func (tx *memoryTx) UpdateReceiptStatus(ctx context.Context, rc shared.RequestContext, id int64, status DocumentStatus) error {
	receipt, ok := tx.repo.receipts[id]
	if !ok {
		return shared.ErrNotFound
	}
	receipt.Status = status
	tx.repo.receipts[id] = receipt
	return nil
}

func (tx *memoryTx) GetReceiptTx(ctx context.Context, rc shared.RequestContext, id int64) (PurchaseReceipt, []ReceiptLine, error) {
	receipt, ok := tx.repo.receipts[id]
	if !ok || receipt.TenantID != rc.TenantID || receipt.CompanyID != rc.CompanyID {
		return PurchaseReceipt{}, nil, shared.ErrNotFound
	}
	lines := []ReceiptLine{}
	for _, line := range tx.repo.receiptLines {
		if line.ReceiptID == id {
			lines = append(lines, line)
		}
	}
	return receipt, lines, nil
}

func (tx *memoryTx) InsertPurchaseReturn(ctx context.Context, ret PurchaseReturn) (int64, error) {
	ret.ID = tx.repo.id()
	tx.repo.purchaseReturns[ret.ID] = ret
	return ret.ID, nil
}

func (tx *memoryTx) InsertPurchaseReturnLine(ctx context.Context, line PurchaseReturnLine) (int64, error) {
	line.ID = tx.repo.id()
	tx.repo.prLines = append(tx.repo.prLines, line)
	return line.ID, nil
}

func (tx *memoryTx) SumReturnedQty(ctx context.Context, rc shared.RequestContext, receiptLineID int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, line := range tx.repo.prLines {
		if line.ReceiptLineID == receiptLineID {
			sum = sum.Add(line.Qty)
		}
	}
	return sum, nil
}

func (tx *memoryTx) InsertSalesReturn(ctx context.Context, ret SalesReturn) (int64, error) {
	ret.ID = tx.repo.id()
	tx.repo.salesReturns[ret.ID] = ret
	return ret.ID, nil
}

func (tx *memoryTx) InsertSalesReturnLine(ctx context.Context, line SalesReturnLine) (int64, error) {
	line.ID = tx.repo.id()
	tx.repo.srLines = append(tx.repo.srLines, line)
	return line.ID, nil
}

func (tx *memoryTx) SumSalesReturnedQty(ctx context.Context, rc shared.RequestContext, salesDocID, productID int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, line := range tx.repo.srLines {
		ret, ok := tx.repo.salesReturns[line.ReturnID]
		if !ok || ret.SalesDocID != salesDocID || line.ProductID != productID {
			continue
		}
		sum = sum.Add(line.Qty)
	}
	return sum, nil
}

func (tx *memoryTx) InsertAdjustment(ctx context.Context, adj StockAdjustment) (int64, error) {
	adj.ID = tx.repo.id()
	tx.repo.adjustments[adj.ID] = adj
	return adj.ID, nil
}

func (tx *memoryTx) InsertAdjustmentLine(ctx context.Context, line StockAdjustmentLine) (int64, error) {
	line.ID = tx.repo.id()
	tx.repo.adjLines = append(tx.repo.adjLines, line)
	return line.ID, nil
}

var (
	_ RepositoryPort = (*memoryRepo)(nil)
	_ TxRepository   = (*memoryTx)(nil)
)

type stubProducts struct {
	products map[int64]catalog.Product
}

func (s *stubProducts) Get(ctx context.Context, rc shared.RequestContext, productID int64) (catalog.Product, error) {
	product, ok := s.products[productID]
	if !ok {
		return catalog.Product{}, shared.ErrNotFound
	}
	return product, nil
}

type stubSales struct {
	sold map[int64]decimal.Decimal
}

func (s *stubSales) SoldQty(ctx context.Context, rc shared.RequestContext, salesDocID, productID int64) (decimal.Decimal, error) {
	return s.sold[productID], nil
}

type stubSequences struct {
	mu       sync.Mutex
	counters map[string]int64
}

func (s *stubSequences) Next(ctx context.Context, rc shared.RequestContext, kind string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counters == nil {
		s.counters = make(map[string]int64)
	}
	s.counters[kind]++
	return s.counters[kind], nil
}

type stubPosting struct {
	mu     sync.Mutex
	events []MovementPostedEvent
	err    error
}

func (s *stubPosting) HandleMovementPosted(ctx context.Context, evt MovementPostedEvent) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

type stubBumper struct {
	mu    sync.Mutex
	bumps int
}

func (s *stubBumper) Bump(ctx context.Context, rc shared.RequestContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bumps++
	return nil
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testScope() shared.RequestContext {
	return shared.RequestContext{TenantID: 1, CompanyID: 1, ActorID: 42}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	repo     *memoryRepo
	products *stubProducts
	sales    *stubSales
	posting  *stubPosting
	bumper   *stubBumper
	svc      *Service
}

func newFixture(cfg ServiceConfig) *fixture {
	f := &fixture{
		repo: newMemoryRepo(),
		products: &stubProducts{products: map[int64]catalog.Product{
			1: {ID: 1, SKU: "AMOX-500", Name: "Amoxicillin 500mg", UOM: "box", TrackingMode: catalog.TrackingBatch, DefaultCost: dec("25000"), Currency: "IDR"},
			2: {ID: 2, SKU: "GLOVE-M", Name: "Nitrile Gloves M", UOM: "pack", TrackingMode: catalog.TrackingNone, DefaultCost: dec("40000"), Currency: "IDR"},
		}},
		sales:   &stubSales{sold: map[int64]decimal.Decimal{1: dec("10"), 2: dec("5")}},
		posting: &stubPosting{},
		bumper:  &stubBumper{},
	}
	f.svc = NewService(f.repo, f.products, f.sales, &stubSequences{}, nil, f.posting, f.bumper, nil, cfg)
	return f
}

func defaultFixture() *fixture {
	return newFixture(ServiceConfig{EnforceReturnCaps: true})
}

func TestReceiveStockCreatesLevelLedgerAndBatch(t *testing.T) {
	f := defaultFixture()
	ctx := context.Background()
	rc := testScope()

	result, err := f.svc.ReceiveStock(ctx, rc, ReceiveStockInput{
		SupplierID: 7,
		Reference:  "PO-1001",
		Items: []ReceiveItemInput{
			{ProductID: 1, Qty: dec("10"), UnitCost: dec("26000"), BatchNumber: "B-2026-01"},
			{ProductID: 2, Qty: dec("4")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, StatusPosted, result.Receipt.Status)
	require.Regexp(t, `^GRN-\d{4}-0001$`, result.Receipt.Number)
	require.Len(t, result.Lines, 2)
	require.Empty(t, result.Warning)

	// Default location is created lazily on first use.
	require.Len(t, f.repo.locations, 1)
	require.Equal(t, DefaultLocationCode, f.repo.locations[0].Code)

	// Batch-tracked line got a batch, untracked line did not.
	require.Len(t, f.repo.batches, 1)
	require.True(t, f.repo.batches[0].QtyOnHand.Equal(dec("10")))
	require.NotNil(t, result.Lines[0].BatchID)
	require.Nil(t, result.Lines[1].BatchID)

	// Untracked line priced from the product default cost.
	require.True(t, result.Lines[1].UnitCost.Equal(dec("40000")))

	levels, err := f.repo.GetLevels(ctx, rc, LevelFilter{})
	require.NoError(t, err)
	require.Len(t, levels, 2)

	require.Len(t, f.repo.ledger, 2)
	for _, entry := range f.repo.ledger {
		require.Equal(t, MovementIn, entry.Movement)
		require.Equal(t, DocumentReceipt, entry.Ref.Kind)
		require.True(t, entry.ChangeQty.IsPositive())
		require.True(t, entry.BalanceQty.Equal(entry.ChangeQty))
		require.True(t, entry.TotalCost.Equal(entry.ChangeQty.Mul(entry.UnitCost)))
	}

	// 10 × 26000 on the batch line, 4 × 40000 on the default-priced line.
	require.True(t, f.repo.ledger[0].TotalCost.Equal(dec("260000")))
	require.True(t, f.repo.ledger[1].TotalCost.Equal(dec("160000")))

	// Post-commit side effects ran once.
	require.Len(t, f.posting.events, 1)
	require.Equal(t, 1, f.bumper.bumps)
}

func TestReceiveStockReusesExistingBatch(t *testing.T) {
	f := defaultFixture()
	ctx := context.Background()
	rc := testScope()

	first, err := f.svc.ReceiveStock(ctx, rc, ReceiveStockInput{
		Items: []ReceiveItemInput{{ProductID: 1, Qty: dec("5"), UnitCost: dec("25000"), BatchNumber: "B-77"}},
	})
	require.NoError(t, err)
	second, err := f.svc.ReceiveStock(ctx, rc, ReceiveStockInput{
		Items: []ReceiveItemInput{{ProductID: 1, Qty: dec("3"), UnitCost: dec("25000"), BatchNumber: "B-77"}},
	})
	require.NoError(t, err)

	require.Len(t, f.repo.batches, 1)
	require.Equal(t, *first.Lines[0].BatchID, *second.Lines[0].BatchID)
	require.True(t, f.repo.batches[0].QtyOnHand.Equal(dec("8")))
}

func TestReceiveStockValidation(t *testing.T) {
	f := defaultFixture()
	ctx := context.Background()
	rc := testScope()

	_, err := f.svc.ReceiveStock(ctx, rc, ReceiveStockInput{})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.ReceiveStock(ctx, rc, ReceiveStockInput{Items: []ReceiveItemInput{{ProductID: 1, Qty: dec("0")}}})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = f.svc.ReceiveStock(ctx, rc, ReceiveStockInput{Items: []ReceiveItemInput{{ProductID: 1, Qty: dec("1"), UnitCost: dec("-5")}}})
	require.ErrorIs(t, err, ErrInvalidUnitCost)

	_, err = f.svc.ReceiveStock(ctx, rc, ReceiveStockInput{Items: []ReceiveItemInput{{ProductID: 99, Qty: dec("1")}}})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.svc.ReceiveStock(ctx, shared.RequestContext{}, ReceiveStockInput{Items: []ReceiveItemInput{{ProductID: 1, Qty: dec("1")}}})
	require.ErrorIs(t, err, shared.ErrUnauthorized)

	// Nothing was written by any rejected call.
	require.Empty(t, f.repo.ledger)
	require.Empty(t, f.repo.moves)
	require.Empty(t, f.posting.events)
}

func receiveFixture(t *testing.T, f *fixture) ReceiveStockResult {
	t.Helper()
	result, err := f.svc.ReceiveStock(context.Background(), testScope(), ReceiveStockInput{
		SupplierID: 7,
		Items: []ReceiveItemInput{
			{ProductID: 1, Qty: dec("10"), UnitCost: dec("26000"), BatchNumber: "B-1"},
		},
	})
	require.NoError(t, err)
	return result
}

func TestPurchaseReturnDecrementsAndCaps(t *testing.T) {
	f := defaultFixture()
	ctx := context.Background()
	rc := testScope()
	receipt := receiveFixture(t, f)

	result, err := f.svc.PurchaseReturn(ctx, rc, PurchaseReturnInput{
		ReceiptID: receipt.Receipt.ID,
		Reason:    "damaged",
		Lines:     []ReturnLineInput{{ReceiptLineID: receipt.Lines[0].ID, Qty: dec("4")}},
	})
	require.NoError(t, err)
	require.Regexp(t, `^PRT-\d{4}-0001$`, result.Return.Number)
	require.Equal(t, int64(7), result.Return.SupplierID)

	levels, err := f.repo.GetLevels(ctx, rc, LevelFilter{ProductID: 1})
	require.NoError(t, err)
	require.Len(t, levels, 1)
	require.True(t, levels[0].Quantity.Equal(dec("6")))
	require.True(t, f.repo.batches[0].QtyOnHand.Equal(dec("6")))

	last := f.repo.ledger[len(f.repo.ledger)-1]
	require.Equal(t, MovementReturn, last.Movement)
	require.True(t, last.ChangeQty.Equal(dec("-4")))
	require.True(t, last.BalanceQty.IsZero())

	// A second return may only take what is left of the original line.
	_, err = f.svc.PurchaseReturn(ctx, rc, PurchaseReturnInput{
		ReceiptID: receipt.Receipt.ID,
		Lines:     []ReturnLineInput{{ReceiptLineID: receipt.Lines[0].ID, Qty: dec("7")}},
	})
	require.ErrorIs(t, err, ErrReturnExceedsOriginal)

	_, err = f.svc.PurchaseReturn(ctx, rc, PurchaseReturnInput{
		ReceiptID: receipt.Receipt.ID,
		Lines:     []ReturnLineInput{{ReceiptLineID: receipt.Lines[0].ID, Qty: dec("6")}},
	})
	require.NoError(t, err)
}

func TestPurchaseReturnUnknownLine(t *testing.T) {
	f := defaultFixture()
	receipt := receiveFixture(t, f)

	_, err := f.svc.PurchaseReturn(context.Background(), testScope(), PurchaseReturnInput{
		ReceiptID: receipt.Receipt.ID,
		Lines:     []ReturnLineInput{{ReceiptLineID: 9999, Qty: dec("1")}},
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestPurchaseReturnCapDisabled(t *testing.T) {
	f := newFixture(ServiceConfig{AllowNegativeStock: true})
	receipt := receiveFixture(t, f)

	_, err := f.svc.PurchaseReturn(context.Background(), testScope(), PurchaseReturnInput{
		ReceiptID: receipt.Receipt.ID,
		Lines:     []ReturnLineInput{{ReceiptLineID: receipt.Lines[0].ID, Qty: dec("15")}},
	})
	require.NoError(t, err)
}

func TestPurchaseReturnNegativeStockGuard(t *testing.T) {
	// Caps off but the negative guard on: returning more than on hand fails.
	f := newFixture(ServiceConfig{})
	receipt := receiveFixture(t, f)

	_, err := f.svc.PurchaseReturn(context.Background(), testScope(), PurchaseReturnInput{
		ReceiptID: receipt.Receipt.ID,
		Lines:     []ReturnLineInput{{ReceiptLineID: receipt.Lines[0].ID, Qty: dec("15")}},
	})
	require.ErrorIs(t, err, ErrNegativeStock)
}

func TestSalesReturnIncrementsAndCaps(t *testing.T) {
	f := defaultFixture()
	ctx := context.Background()
	rc := testScope()

	result, err := f.svc.SalesReturn(ctx, rc, SalesReturnInput{
		SalesDocID: 500,
		CustomerID: 31,
		Reason:     "wrong item",
		Lines:      []SalesReturnLineInput{{ProductID: 1, Qty: dec("3"), UnitCost: dec("30000"), BatchNumber: "B-R1"}},
	})
	require.NoError(t, err)
	require.Regexp(t, `^SRT-\d{4}-0001$`, result.Return.Number)

	levels, err := f.repo.GetLevels(ctx, rc, LevelFilter{ProductID: 1})
	require.NoError(t, err)
	require.Len(t, levels, 1)
	require.True(t, levels[0].Quantity.Equal(dec("3")))

	last := f.repo.ledger[len(f.repo.ledger)-1]
	require.Equal(t, MovementSaleReturn, last.Movement)
	require.True(t, last.ChangeQty.Equal(dec("3")))

	// 10 were sold and 3 already came back; 8 more exceeds the cap.
	_, err = f.svc.SalesReturn(ctx, rc, SalesReturnInput{
		SalesDocID: 500,
		Lines:      []SalesReturnLineInput{{ProductID: 1, Qty: dec("8"), UnitCost: dec("30000")}},
	})
	require.ErrorIs(t, err, ErrReturnExceedsOriginal)

	_, err = f.svc.SalesReturn(ctx, rc, SalesReturnInput{
		SalesDocID: 500,
		Lines:      []SalesReturnLineInput{{ProductID: 1, Qty: dec("7"), UnitCost: dec("30000")}},
	})
	require.NoError(t, err)
}

func TestStockAdjustmentAppliesDiff(t *testing.T) {
	f := defaultFixture()
	ctx := context.Background()
	rc := testScope()
	receipt := receiveFixture(t, f)
	locationID := receipt.Lines[0].LocationID
	batchID := receipt.Lines[0].BatchID

	result, err := f.svc.StockAdjustment(ctx, rc, StockAdjustmentInput{
		Reason:     "cycle count",
		ReasonCode: ReasonAudit,
		Lines: []AdjustmentLineInput{
			{ProductID: 1, LocationID: locationID, BatchID: batchID, CurrentQty: dec("10"), NewQty: dec("7"), UnitCost: dec("26000")},
		},
	})
	require.NoError(t, err)
	require.Regexp(t, `^ADJ-\d{4}-0001$`, result.Adjustment.Number)
	require.Len(t, result.Lines, 1)
	require.True(t, result.Lines[0].DiffQty.Equal(dec("-3")))

	levels, err := f.repo.GetLevels(ctx, rc, LevelFilter{ProductID: 1})
	require.NoError(t, err)
	require.True(t, levels[0].Quantity.Equal(dec("7")))
	require.True(t, f.repo.batches[0].QtyOnHand.Equal(dec("7")))

	last := f.repo.ledger[len(f.repo.ledger)-1]
	require.Equal(t, MovementAdjustment, last.Movement)
	require.True(t, last.ChangeQty.Equal(dec("-3")))
	// Adjustments record the resulting absolute quantity.
	require.True(t, last.BalanceQty.Equal(dec("7")))

	// Outbound move with no destination.
	lastMove := f.repo.moves[len(f.repo.moves)-1]
	require.Nil(t, lastMove.DstLocationID)
	require.NotNil(t, lastMove.SrcLocationID)
	require.True(t, lastMove.Qty.Equal(dec("3")))
}

func TestStockAdjustmentSkipsNoOpLines(t *testing.T) {
	f := defaultFixture()
	ctx := context.Background()
	rc := testScope()
	receipt := receiveFixture(t, f)

	before := len(f.repo.ledger)
	result, err := f.svc.StockAdjustment(ctx, rc, StockAdjustmentInput{
		ReasonCode: ReasonAudit,
		Lines: []AdjustmentLineInput{
			{ProductID: 1, LocationID: receipt.Lines[0].LocationID, CurrentQty: dec("10"), NewQty: dec("10")},
		},
	})
	require.NoError(t, err)
	require.Empty(t, result.Lines)
	require.Len(t, f.repo.ledger, before)
}

func TestStockAdjustmentRejectsUnknownReason(t *testing.T) {
	f := defaultFixture()

	_, err := f.svc.StockAdjustment(context.Background(), testScope(), StockAdjustmentInput{
		ReasonCode: AdjustmentReason("shrinkage"),
		Lines:      []AdjustmentLineInput{{ProductID: 1, LocationID: 1, CurrentQty: dec("1"), NewQty: dec("2")}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestStockAdjustmentNegativeGuard(t *testing.T) {
	f := defaultFixture()
	receipt := receiveFixture(t, f)

	_, err := f.svc.StockAdjustment(context.Background(), testScope(), StockAdjustmentInput{
		ReasonCode: ReasonBreakage,
		Lines: []AdjustmentLineInput{
			{ProductID: 1, LocationID: receipt.Lines[0].LocationID, BatchID: receipt.Lines[0].BatchID, CurrentQty: dec("10"), NewQty: dec("-5")},
		},
	})
	require.ErrorIs(t, err, ErrNegativeStock)
}

func TestStockAdjustmentRejectsForeignBatch(t *testing.T) {
	f := defaultFixture()
	receipt := receiveFixture(t, f)

	// Product 2 adjusted against product 1's batch.
	_, err := f.svc.StockAdjustment(context.Background(), testScope(), StockAdjustmentInput{
		ReasonCode: ReasonAudit,
		Lines: []AdjustmentLineInput{
			{ProductID: 2, LocationID: receipt.Lines[0].LocationID, BatchID: receipt.Lines[0].BatchID, CurrentQty: dec("0"), NewQty: dec("3")},
		},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Len(t, f.repo.adjLines, 0)
}

func TestStockAdjustmentRejectsUnknownBatch(t *testing.T) {
	f := defaultFixture()
	receipt := receiveFixture(t, f)
	missing := int64(9999)

	_, err := f.svc.StockAdjustment(context.Background(), testScope(), StockAdjustmentInput{
		ReasonCode: ReasonAudit,
		Lines: []AdjustmentLineInput{
			{ProductID: 1, LocationID: receipt.Lines[0].LocationID, BatchID: &missing, CurrentQty: dec("10"), NewQty: dec("9")},
		},
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestPostingFailureDegradesToWarning(t *testing.T) {
	f := defaultFixture()
	f.posting.err = errors.New("ledger service unavailable")

	result, err := f.svc.ReceiveStock(context.Background(), testScope(), ReceiveStockInput{
		Items: []ReceiveItemInput{{ProductID: 2, Qty: dec("2")}},
	})
	require.NoError(t, err)
	require.Contains(t, result.Warning, "deferred")
	require.Equal(t, StatusPosted, result.Receipt.Status)

	// The movement itself committed despite the posting failure.
	levels, err := f.repo.GetLevels(context.Background(), testScope(), LevelFilter{ProductID: 2})
	require.NoError(t, err)
	require.Len(t, levels, 1)
}

func TestLevelsMatchLedgerAfterMixedMovements(t *testing.T) {
	f := defaultFixture()
	ctx := context.Background()
	rc := testScope()

	receipt, err := f.svc.ReceiveStock(ctx, rc, ReceiveStockInput{
		Items: []ReceiveItemInput{
			{ProductID: 1, Qty: dec("20"), UnitCost: dec("26000"), BatchNumber: "B-9"},
			{ProductID: 2, Qty: dec("12")},
		},
	})
	require.NoError(t, err)

	_, err = f.svc.PurchaseReturn(ctx, rc, PurchaseReturnInput{
		ReceiptID: receipt.Receipt.ID,
		Lines:     []ReturnLineInput{{ReceiptLineID: receipt.Lines[0].ID, Qty: dec("5")}},
	})
	require.NoError(t, err)

	_, err = f.svc.SalesReturn(ctx, rc, SalesReturnInput{
		SalesDocID: 500,
		Lines:      []SalesReturnLineInput{{ProductID: 2, Qty: dec("2"), UnitCost: dec("41000")}},
	})
	require.NoError(t, err)

	_, err = f.svc.StockAdjustment(ctx, rc, StockAdjustmentInput{
		ReasonCode: ReasonExpiry,
		Lines: []AdjustmentLineInput{
			{ProductID: 1, LocationID: receipt.Lines[0].LocationID, BatchID: receipt.Lines[0].BatchID, CurrentQty: dec("15"), NewQty: dec("11"), UnitCost: dec("26000")},
		},
	})
	require.NoError(t, err)

	report, err := NewReconciler(f.repo, newTestLogger()).Run(ctx, rc, 0)
	require.NoError(t, err)
	require.True(t, report.Clean(), "discrepancies: %+v", report.Discrepancies)
	require.Equal(t, 2, report.LevelsChecked)
	require.Equal(t, 1, report.BatchesChecked)
}

func TestReconcilerFlagsDriftedLevel(t *testing.T) {
	f := defaultFixture()
	ctx := context.Background()
	rc := testScope()
	receiveFixture(t, f)

	// Corrupt a level behind the ledger's back.
	for mk, level := range f.repo.levels {
		level.Quantity = level.Quantity.Add(dec("1"))
		f.repo.levels[mk] = level
		break
	}

	report, err := NewReconciler(f.repo, newTestLogger()).Run(ctx, rc, 0)
	require.NoError(t, err)
	require.False(t, report.Clean())
	require.Equal(t, "level", report.Discrepancies[0].Kind)
}

func TestSelfCheckConcurrentReceipts(t *testing.T) {
	f := defaultFixture()
	ctx := context.Background()
	rc := testScope()
	recon := NewReconciler(f.repo, newTestLogger())

	report, err := SelfCheck(ctx, f.svc, recon, rc, SelfCheckInput{
		ProductID: 2,
		Receipts:  5,
		QtyEach:   dec("4"),
		UnitCost:  dec("100"),
	})
	require.NoError(t, err)
	require.True(t, report.Clean())
	require.Equal(t, 1, report.LevelsChecked)

	total, err := productQuantity(ctx, f.svc, rc, 2)
	require.NoError(t, err)
	require.True(t, total.Equal(dec("20")))
	require.Len(t, f.repo.receipts, 5)
}

func TestSelfCheckRequiresProduct(t *testing.T) {
	f := defaultFixture()
	recon := NewReconciler(f.repo, newTestLogger())

	_, err := SelfCheck(context.Background(), f.svc, recon, testScope(), SelfCheckInput{})
	require.ErrorIs(t, err, shared.ErrValidation)
}

// raceTx simulates losing a get-or-create race under repeatable read: the
// insert reports a duplicate while the winner's committed row stays
// invisible to this transaction's snapshot.
type raceTx struct {
	*memoryTx
	batchInsertErr    error
	locationInsertErr error
}

func (tx *raceTx) InsertBatch(ctx context.Context, batch Batch) (int64, error) {
	if tx.batchInsertErr != nil {
		return 0, tx.batchInsertErr
	}
	return tx.memoryTx.InsertBatch(ctx, batch)
}

func (tx *raceTx) InsertLocation(ctx context.Context, loc StockLocation) (int64, error) {
	if tx.locationInsertErr != nil {
		return 0, tx.locationInsertErr
	}
	return tx.memoryTx.InsertLocation(ctx, loc)
}

func TestResolveBatchLostRaceSurfacesConflict(t *testing.T) {
	f := defaultFixture()
	ctx := context.Background()
	rc := testScope()
	tx := &raceTx{memoryTx: &memoryTx{repo: f.repo}, batchInsertErr: ErrBatchExists}

	product, err := f.products.Get(ctx, rc, 1)
	require.NoError(t, err)

	_, err = resolveBatch(ctx, tx, rc, product, "B-RACE", nil, dec("25000"))
	require.ErrorIs(t, err, shared.ErrConcurrencyConflict)
}

func TestResolveLocationLostRaceSurfacesConflict(t *testing.T) {
	f := defaultFixture()
	tx := &raceTx{memoryTx: &memoryTx{repo: f.repo}, locationInsertErr: ErrLocationExists}

	_, err := resolveDefaultLocation(context.Background(), tx, testScope())
	require.ErrorIs(t, err, shared.ErrConcurrencyConflict)
}

func TestDocumentNumbersAdvancePerKind(t *testing.T) {
	f := defaultFixture()
	ctx := context.Background()
	rc := testScope()

	first, err := f.svc.ReceiveStock(ctx, rc, ReceiveStockInput{
		Items: []ReceiveItemInput{{ProductID: 2, Qty: dec("1")}},
	})
	require.NoError(t, err)
	second, err := f.svc.ReceiveStock(ctx, rc, ReceiveStockInput{
		Items: []ReceiveItemInput{{ProductID: 2, Qty: dec("1")}},
	})
	require.NoError(t, err)

	year := time.Now().UTC().Year()
	require.Equal(t, fmt.Sprintf("GRN-%d-0001", year), first.Receipt.Number)
	require.Equal(t, fmt.Sprintf("GRN-%d-0002", year), second.Receipt.Number)
}
