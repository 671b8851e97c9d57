package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool      *pgxpool.Pool
	txTimeout time.Duration
}

// NewRepository constructs Repository. txTimeout bounds every movement
// transaction; zero disables the bound.
func NewRepository(pool *pgxpool.Pool, txTimeout time.Duration) *Repository {
	return &Repository{pool: pool, txTimeout: txTimeout}
}

type txRepository struct {
	tx pgx.Tx
}

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// WithTx executes the callback inside a repeatable-read transaction bounded
// by the configured timeout. Serialization failures surface as
// ErrConcurrencyConflict so callers can retry the whole movement.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("inventory repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, r.txTimeout, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
	return mapConflict(err)
}

func mapConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected {
			return fmt.Errorf("%w: %s", shared.ErrConcurrencyConflict, pgErr.Message)
		}
	}
	return err
}

// GetReceipt loads a receipt header and its lines.
func (r *Repository) GetReceipt(ctx context.Context, rc shared.RequestContext, id int64) (PurchaseReceipt, []ReceiptLine, error) {
	if r == nil || r.pool == nil {
		return PurchaseReceipt{}, nil, errors.New("inventory repository not initialised")
	}
	return getReceipt(ctx, r.pool, rc, id)
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getReceipt(ctx context.Context, q queryer, rc shared.RequestContext, id int64) (PurchaseReceipt, []ReceiptLine, error) {
	var receipt PurchaseReceipt
	err := q.QueryRow(ctx, `SELECT id, tenant_id, company_id, number, supplier_id, reference, received_at, status, notes, created_by, created_at
FROM purchase_receipts WHERE tenant_id=$1 AND company_id=$2 AND id=$3`, rc.TenantID, rc.CompanyID, id).
		Scan(&receipt.ID, &receipt.TenantID, &receipt.CompanyID, &receipt.Number, &receipt.SupplierID, &receipt.Reference, &receipt.ReceivedAt, &receipt.Status, &receipt.Notes, &receipt.CreatedBy, &receipt.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseReceipt{}, nil, fmt.Errorf("inventory: receipt %d: %w", id, shared.ErrNotFound)
		}
		return PurchaseReceipt{}, nil, err
	}

	rows, err := q.Query(ctx, `SELECT id, receipt_id, product_id, batch_id, location_id, qty, unit_cost
FROM purchase_receipt_lines WHERE receipt_id=$1 ORDER BY id`, id)
	if err != nil {
		return PurchaseReceipt{}, nil, err
	}
	defer rows.Close()
	var lines []ReceiptLine
	for rows.Next() {
		var line ReceiptLine
		if err := rows.Scan(&line.ID, &line.ReceiptID, &line.ProductID, &line.BatchID, &line.LocationID, &line.Qty, &line.UnitCost); err != nil {
			return PurchaseReceipt{}, nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return PurchaseReceipt{}, nil, err
	}
	return receipt, lines, nil
}

// GetLevels lists current stock levels for a company.
func (r *Repository) GetLevels(ctx context.Context, rc shared.RequestContext, filter LevelFilter) ([]StockLevel, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT tenant_id, company_id, product_id, location_id, batch_id, quantity, reserved, updated_at
FROM stock_levels
WHERE tenant_id=$1 AND company_id=$2
  AND ($3::bigint = 0 OR product_id=$3)
  AND ($4::bigint = 0 OR location_id=$4)
ORDER BY product_id, location_id, batch_id NULLS FIRST
LIMIT $5`, rc.TenantID, rc.CompanyID, filter.ProductID, filter.LocationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	levels := []StockLevel{}
	for rows.Next() {
		var level StockLevel
		if err := rows.Scan(&level.TenantID, &level.CompanyID, &level.ProductID, &level.LocationID, &level.BatchID, &level.Quantity, &level.Reserved, &level.UpdatedAt); err != nil {
			return nil, err
		}
		levels = append(levels, level)
	}
	return levels, rows.Err()
}

// GetLedger lists ledger entries for a company.
func (r *Repository) GetLedger(ctx context.Context, rc shared.RequestContext, filter LedgerFilter) ([]LedgerEntry, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, tenant_id, company_id, product_id, location_id, batch_id, movement, change_qty, unit_cost, total_cost, balance_qty, ref_kind, ref_id, actor_id, occurred_at, note
FROM stock_ledger
WHERE tenant_id=$1 AND company_id=$2
  AND ($3::bigint = 0 OR product_id=$3)
  AND ($4::bigint = 0 OR location_id=$4)
  AND occurred_at BETWEEN COALESCE($5, '-infinity') AND COALESCE($6, 'infinity')
ORDER BY occurred_at ASC, id ASC
LIMIT $7`, rc.TenantID, rc.CompanyID, filter.ProductID, filter.LocationID, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []LedgerEntry{}
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.CompanyID, &e.ProductID, &e.LocationID, &e.BatchID, &e.Movement, &e.ChangeQty, &e.UnitCost, &e.TotalCost, &e.BalanceQty, &e.Ref.Kind, &e.Ref.ID, &e.ActorID, &e.OccurredAt, &e.Note); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SumLedgerByLevel returns the signed sum of ledger deltas for one level key.
func (r *Repository) SumLedgerByLevel(ctx context.Context, key LevelKey) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(change_qty), 0)
FROM stock_ledger
WHERE tenant_id=$1 AND company_id=$2 AND product_id=$3 AND location_id=$4 AND batch_id IS NOT DISTINCT FROM $5`,
		key.TenantID, key.CompanyID, key.ProductID, key.LocationID, key.BatchID).Scan(&sum)
	return sum, err
}

// SumLedgerByBatch returns the signed sum of ledger deltas touching a batch.
func (r *Repository) SumLedgerByBatch(ctx context.Context, rc shared.RequestContext, batchID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(change_qty), 0)
FROM stock_ledger
WHERE tenant_id=$1 AND company_id=$2 AND batch_id=$3`, rc.TenantID, rc.CompanyID, batchID).Scan(&sum)
	return sum, err
}

// ListBatches lists batches for a company, optionally narrowed to a product.
func (r *Repository) ListBatches(ctx context.Context, rc shared.RequestContext, productID int64, limit int) ([]Batch, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `SELECT id, tenant_id, company_id, product_id, batch_no, expiry_date, unit_cost, qty_on_hand, created_at
FROM batches
WHERE tenant_id=$1 AND company_id=$2 AND ($3::bigint = 0 OR product_id=$3)
ORDER BY id
LIMIT $4`, rc.TenantID, rc.CompanyID, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	batches := []Batch{}
	for rows.Next() {
		var b Batch
		if err := rows.Scan(&b.ID, &b.TenantID, &b.CompanyID, &b.ProductID, &b.BatchNo, &b.Expiry, &b.UnitCost, &b.QtyOnHand, &b.CreatedAt); err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (r *txRepository) FindLocationByCode(ctx context.Context, rc shared.RequestContext, code string) (StockLocation, error) {
	return r.scanLocation(r.tx.QueryRow(ctx, `SELECT id, tenant_id, company_id, code, name, loc_type, created_at
FROM stock_locations WHERE tenant_id=$1 AND company_id=$2 AND code=$3`, rc.TenantID, rc.CompanyID, code))
}

func (r *txRepository) FindLocationByType(ctx context.Context, rc shared.RequestContext, typ LocationType) (StockLocation, error) {
	return r.scanLocation(r.tx.QueryRow(ctx, `SELECT id, tenant_id, company_id, code, name, loc_type, created_at
FROM stock_locations WHERE tenant_id=$1 AND company_id=$2 AND loc_type=$3 ORDER BY id LIMIT 1`, rc.TenantID, rc.CompanyID, string(typ)))
}

func (r *txRepository) FindAnyLocation(ctx context.Context, rc shared.RequestContext) (StockLocation, error) {
	return r.scanLocation(r.tx.QueryRow(ctx, `SELECT id, tenant_id, company_id, code, name, loc_type, created_at
FROM stock_locations WHERE tenant_id=$1 AND company_id=$2 ORDER BY id LIMIT 1`, rc.TenantID, rc.CompanyID))
}

func (r *txRepository) scanLocation(row pgx.Row) (StockLocation, error) {
	var loc StockLocation
	err := row.Scan(&loc.ID, &loc.TenantID, &loc.CompanyID, &loc.Code, &loc.Name, &loc.Type, &loc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockLocation{}, shared.ErrNotFound
		}
		return StockLocation{}, err
	}
	return loc, nil
}

// InsertLocation maps a unique violation on the location code to
// ErrLocationExists: a concurrent transaction created the row, and its
// version is invisible to this snapshot.
func (r *txRepository) InsertLocation(ctx context.Context, loc StockLocation) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_locations (tenant_id, company_id, code, name, loc_type, created_at)
VALUES ($1,$2,$3,$4,$5,NOW()) RETURNING id`, loc.TenantID, loc.CompanyID, loc.Code, loc.Name, string(loc.Type)).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return 0, ErrLocationExists
		}
		return 0, err
	}
	return id, nil
}

func (r *txRepository) FindBatch(ctx context.Context, rc shared.RequestContext, productID int64, batchNo string) (Batch, error) {
	var batch Batch
	err := r.tx.QueryRow(ctx, `SELECT id, tenant_id, company_id, product_id, batch_no, expiry_date, unit_cost, qty_on_hand, created_at
FROM batches WHERE tenant_id=$1 AND company_id=$2 AND product_id=$3 AND batch_no=$4`, rc.TenantID, rc.CompanyID, productID, batchNo).
		Scan(&batch.ID, &batch.TenantID, &batch.CompanyID, &batch.ProductID, &batch.BatchNo, &batch.Expiry, &batch.UnitCost, &batch.QtyOnHand, &batch.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, shared.ErrNotFound
		}
		return Batch{}, err
	}
	return batch, nil
}

func (r *txRepository) GetBatch(ctx context.Context, rc shared.RequestContext, batchID int64) (Batch, error) {
	var batch Batch
	err := r.tx.QueryRow(ctx, `SELECT id, tenant_id, company_id, product_id, batch_no, expiry_date, unit_cost, qty_on_hand, created_at
FROM batches WHERE tenant_id=$1 AND company_id=$2 AND id=$3`, rc.TenantID, rc.CompanyID, batchID).
		Scan(&batch.ID, &batch.TenantID, &batch.CompanyID, &batch.ProductID, &batch.BatchNo, &batch.Expiry, &batch.UnitCost, &batch.QtyOnHand, &batch.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, fmt.Errorf("inventory: batch %d: %w", batchID, shared.ErrNotFound)
		}
		return Batch{}, err
	}
	return batch, nil
}

// InsertBatch relies on the unique constraint over
// (tenant_id, company_id, product_id, batch_no); a violation is reported as
// ErrBatchExists so the resolver re-fetches instead of failing.
func (r *txRepository) InsertBatch(ctx context.Context, batch Batch) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO batches (tenant_id, company_id, product_id, batch_no, expiry_date, unit_cost, qty_on_hand, created_at)
VALUES ($1,$2,$3,$4,$5,$6,0,NOW()) RETURNING id`,
		batch.TenantID, batch.CompanyID, batch.ProductID, batch.BatchNo, batch.Expiry, batch.UnitCost).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return 0, ErrBatchExists
		}
		return 0, err
	}
	return id, nil
}

func (r *txRepository) AddBatchQty(ctx context.Context, rc shared.RequestContext, batchID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	var qty decimal.Decimal
	err := r.tx.QueryRow(ctx, `UPDATE batches SET qty_on_hand = qty_on_hand + $4
WHERE tenant_id=$1 AND company_id=$2 AND id=$3 RETURNING qty_on_hand`, rc.TenantID, rc.CompanyID, batchID, delta).Scan(&qty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("inventory: batch %d: %w", batchID, shared.ErrNotFound)
		}
		return decimal.Zero, err
	}
	return qty, nil
}

// ApplyLevelDelta is a single relative upsert; it never reads the quantity
// before writing, so concurrent movements on the same key serialize inside
// the database instead of losing updates. The conflict target matches the
// unique expression index over the key with COALESCE(batch_id, 0).
func (r *txRepository) ApplyLevelDelta(ctx context.Context, key LevelKey, delta decimal.Decimal) (StockLevel, error) {
	var level StockLevel
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_levels (tenant_id, company_id, product_id, location_id, batch_id, quantity, reserved, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,0,NOW())
ON CONFLICT (tenant_id, company_id, product_id, location_id, COALESCE(batch_id, 0))
DO UPDATE SET quantity = stock_levels.quantity + EXCLUDED.quantity, updated_at = NOW()
RETURNING tenant_id, company_id, product_id, location_id, batch_id, quantity, reserved, updated_at`,
		key.TenantID, key.CompanyID, key.ProductID, key.LocationID, key.BatchID, delta).
		Scan(&level.TenantID, &level.CompanyID, &level.ProductID, &level.LocationID, &level.BatchID, &level.Quantity, &level.Reserved, &level.UpdatedAt)
	if err != nil {
		return StockLevel{}, err
	}
	return level, nil
}

// SetLevelAbsolute locks the row for the key before replacing its quantity.
func (r *txRepository) SetLevelAbsolute(ctx context.Context, key LevelKey, qty decimal.Decimal) (StockLevel, error) {
	var existing int
	err := r.tx.QueryRow(ctx, `SELECT 1 FROM stock_levels
WHERE tenant_id=$1 AND company_id=$2 AND product_id=$3 AND location_id=$4 AND batch_id IS NOT DISTINCT FROM $5
FOR UPDATE`, key.TenantID, key.CompanyID, key.ProductID, key.LocationID, key.BatchID).Scan(&existing)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return StockLevel{}, err
	}

	var level StockLevel
	if errors.Is(err, pgx.ErrNoRows) {
		err = r.tx.QueryRow(ctx, `INSERT INTO stock_levels (tenant_id, company_id, product_id, location_id, batch_id, quantity, reserved, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,0,NOW())
RETURNING tenant_id, company_id, product_id, location_id, batch_id, quantity, reserved, updated_at`,
			key.TenantID, key.CompanyID, key.ProductID, key.LocationID, key.BatchID, qty).
			Scan(&level.TenantID, &level.CompanyID, &level.ProductID, &level.LocationID, &level.BatchID, &level.Quantity, &level.Reserved, &level.UpdatedAt)
	} else {
		err = r.tx.QueryRow(ctx, `UPDATE stock_levels SET quantity=$6, updated_at=NOW()
WHERE tenant_id=$1 AND company_id=$2 AND product_id=$3 AND location_id=$4 AND batch_id IS NOT DISTINCT FROM $5
RETURNING tenant_id, company_id, product_id, location_id, batch_id, quantity, reserved, updated_at`,
			key.TenantID, key.CompanyID, key.ProductID, key.LocationID, key.BatchID, qty).
			Scan(&level.TenantID, &level.CompanyID, &level.ProductID, &level.LocationID, &level.BatchID, &level.Quantity, &level.Reserved, &level.UpdatedAt)
	}
	if err != nil {
		return StockLevel{}, err
	}
	return level, nil
}

func (r *txRepository) InsertMove(ctx context.Context, move StockMove) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_moves (tenant_id, company_id, product_id, batch_id, src_location_id, dst_location_id, qty, unit_cost, ref_kind, ref_id, actor_id, moved_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NOW()) RETURNING id`,
		move.TenantID, move.CompanyID, move.ProductID, move.BatchID, move.SrcLocationID, move.DstLocationID,
		move.Qty, move.UnitCost, string(move.Ref.Kind), move.Ref.ID, nullInt(move.ActorID), move.MovedAt).Scan(&id)
	return id, err
}

func (r *txRepository) AppendLedger(ctx context.Context, entry LedgerEntry) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_ledger (tenant_id, company_id, product_id, location_id, batch_id, movement, change_qty, unit_cost, total_cost, balance_qty, ref_kind, ref_id, actor_id, occurred_at, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,NOW()) RETURNING id`,
		entry.TenantID, entry.CompanyID, entry.ProductID, entry.LocationID, entry.BatchID, string(entry.Movement),
		entry.ChangeQty, entry.UnitCost, entry.TotalCost, entry.BalanceQty, string(entry.Ref.Kind), entry.Ref.ID,
		nullInt(entry.ActorID), entry.OccurredAt, entry.Note).Scan(&id)
	return id, err
}

func (r *txRepository) InsertReceipt(ctx context.Context, receipt PurchaseReceipt) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_receipts (tenant_id, company_id, number, supplier_id, reference, received_at, status, notes, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW()) RETURNING id`,
		receipt.TenantID, receipt.CompanyID, receipt.Number, receipt.SupplierID, receipt.Reference, receipt.ReceivedAt,
		string(receipt.Status), receipt.Notes, nullInt(receipt.CreatedBy)).Scan(&id)
	return id, err
}

func (r *txRepository) InsertReceiptLine(ctx context.Context, line ReceiptLine) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_receipt_lines (receipt_id, product_id, batch_id, location_id, qty, unit_cost)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		line.ReceiptID, line.ProductID, line.BatchID, line.LocationID, line.Qty, line.UnitCost).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateReceiptStatus(ctx context.Context, rc shared.RequestContext, id int64, status DocumentStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchase_receipts SET status=$4 WHERE tenant_id=$1 AND company_id=$2 AND id=$3`,
		rc.TenantID, rc.CompanyID, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("inventory: receipt %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (r *txRepository) GetReceiptTx(ctx context.Context, rc shared.RequestContext, id int64) (PurchaseReceipt, []ReceiptLine, error) {
	return getReceipt(ctx, r.tx, rc, id)
}

func (r *txRepository) InsertPurchaseReturn(ctx context.Context, ret PurchaseReturn) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_returns (tenant_id, company_id, number, receipt_id, supplier_id, reason, status, returned_at, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW()) RETURNING id`,
		ret.TenantID, ret.CompanyID, ret.Number, ret.ReceiptID, nullInt(ret.SupplierID), ret.Reason,
		string(ret.Status), ret.ReturnedAt, nullInt(ret.CreatedBy)).Scan(&id)
	return id, err
}

func (r *txRepository) InsertPurchaseReturnLine(ctx context.Context, line PurchaseReturnLine) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_return_lines (return_id, receipt_line_id, product_id, batch_id, location_id, qty, unit_cost)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		line.ReturnID, line.ReceiptLineID, line.ProductID, line.BatchID, line.LocationID, line.Qty, line.UnitCost).Scan(&id)
	return id, err
}

func (r *txRepository) SumReturnedQty(ctx context.Context, rc shared.RequestContext, receiptLineID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(l.qty), 0)
FROM purchase_return_lines l
JOIN purchase_returns r ON r.id = l.return_id
WHERE r.tenant_id=$1 AND r.company_id=$2 AND l.receipt_line_id=$3`, rc.TenantID, rc.CompanyID, receiptLineID).Scan(&total)
	return total, err
}

func (r *txRepository) InsertSalesReturn(ctx context.Context, ret SalesReturn) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO sales_returns (tenant_id, company_id, number, sales_doc_id, customer_id, reason, status, returned_at, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW()) RETURNING id`,
		ret.TenantID, ret.CompanyID, ret.Number, ret.SalesDocID, nullInt(ret.CustomerID), ret.Reason,
		string(ret.Status), ret.ReturnedAt, nullInt(ret.CreatedBy)).Scan(&id)
	return id, err
}

func (r *txRepository) InsertSalesReturnLine(ctx context.Context, line SalesReturnLine) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO sales_return_lines (return_id, product_id, batch_id, location_id, qty, unit_cost)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		line.ReturnID, line.ProductID, line.BatchID, line.LocationID, line.Qty, line.UnitCost).Scan(&id)
	return id, err
}

func (r *txRepository) SumSalesReturnedQty(ctx context.Context, rc shared.RequestContext, salesDocID, productID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(l.qty), 0)
FROM sales_return_lines l
JOIN sales_returns r ON r.id = l.return_id
WHERE r.tenant_id=$1 AND r.company_id=$2 AND r.sales_doc_id=$3 AND l.product_id=$4`,
		rc.TenantID, rc.CompanyID, salesDocID, productID).Scan(&total)
	return total, err
}

func (r *txRepository) InsertAdjustment(ctx context.Context, adj StockAdjustment) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_adjustments (tenant_id, company_id, number, reason, reason_code, status, adjusted_at, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW()) RETURNING id`,
		adj.TenantID, adj.CompanyID, adj.Number, adj.Reason, string(adj.ReasonCode), string(adj.Status),
		adj.AdjustedAt, nullInt(adj.CreatedBy)).Scan(&id)
	return id, err
}

func (r *txRepository) InsertAdjustmentLine(ctx context.Context, line StockAdjustmentLine) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_adjustment_lines (adjustment_id, product_id, location_id, batch_id, old_qty, new_qty, diff_qty, unit_cost)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		line.AdjustmentID, line.ProductID, line.LocationID, line.BatchID, line.OldQty, line.NewQty, line.DiffQty, line.UnitCost).Scan(&id)
	return id, err
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

var _ RepositoryPort = (*Repository)(nil)
var _ TxRepository = (*txRepository)(nil)
