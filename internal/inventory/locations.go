package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// resolveDefaultLocation finds or lazily creates the default location for a
// company. The coalesce chain is deliberate self-healing: stock operations
// must not hard-fail merely because setup data is incomplete. First match
// wins: WH-MAIN by code, any warehouse, any location, then create WH-MAIN.
// Repeated calls return the same row once created.
func resolveDefaultLocation(ctx context.Context, tx TxRepository, rc shared.RequestContext) (StockLocation, error) {
	loc, err := tx.FindLocationByCode(ctx, rc, DefaultLocationCode)
	if err == nil {
		return loc, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return StockLocation{}, fmt.Errorf("inventory: resolve location by code: %w", err)
	}

	loc, err = tx.FindLocationByType(ctx, rc, LocationWarehouse)
	if err == nil {
		return loc, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return StockLocation{}, fmt.Errorf("inventory: resolve location by type: %w", err)
	}

	loc, err = tx.FindAnyLocation(ctx, rc)
	if err == nil {
		return loc, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return StockLocation{}, fmt.Errorf("inventory: resolve any location: %w", err)
	}

	loc = StockLocation{
		TenantID:  rc.TenantID,
		CompanyID: rc.CompanyID,
		Code:      DefaultLocationCode,
		Name:      "Main Warehouse",
		Type:      LocationWarehouse,
	}
	id, err := tx.InsertLocation(ctx, loc)
	if errors.Is(err, ErrLocationExists) {
		// A concurrent movement created WH-MAIN after this snapshot was
		// taken; the row cannot be read back here. Retry the movement.
		return StockLocation{}, fmt.Errorf("%w: default location created concurrently", shared.ErrConcurrencyConflict)
	}
	if err != nil {
		return StockLocation{}, fmt.Errorf("inventory: create default location: %w", err)
	}
	loc.ID = id
	return loc, nil
}
