package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/catalog"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// resolveBatch finds or creates a batch by its natural key
// (tenant, company, product, batch_no). It returns nil when the product is
// untracked or no batch number was supplied; untracked movements use a nil
// batch key throughout. A unique violation on insert means a concurrent
// caller created the row first; it is re-fetched, and when the winner's row
// is invisible to this snapshot the movement fails with a retryable
// conflict instead.
func resolveBatch(ctx context.Context, tx TxRepository, rc shared.RequestContext, product catalog.Product, batchNo string, expiry *time.Time, unitCost decimal.Decimal) (*Batch, error) {
	if !product.TrackingMode.Tracked() || batchNo == "" {
		return nil, nil
	}

	batch, err := tx.FindBatch(ctx, rc, product.ID, batchNo)
	if err == nil {
		return &batch, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, fmt.Errorf("inventory: find batch %q: %w", batchNo, err)
	}

	batch = Batch{
		TenantID:  rc.TenantID,
		CompanyID: rc.CompanyID,
		ProductID: product.ID,
		BatchNo:   batchNo,
		Expiry:    expiry,
		UnitCost:  unitCost,
	}
	id, err := tx.InsertBatch(ctx, batch)
	if err == nil {
		batch.ID = id
		return &batch, nil
	}
	if errors.Is(err, ErrBatchExists) {
		batch, err = tx.FindBatch(ctx, rc, product.ID, batchNo)
		if errors.Is(err, shared.ErrNotFound) {
			// The winner committed after this snapshot was taken, so its
			// row is invisible here. Retry the movement.
			return nil, fmt.Errorf("%w: batch %q created concurrently", shared.ErrConcurrencyConflict, batchNo)
		}
		if err != nil {
			return nil, fmt.Errorf("inventory: refetch batch %q: %w", batchNo, err)
		}
		return &batch, nil
	}
	return nil, fmt.Errorf("inventory: create batch %q: %w", batchNo, err)
}
