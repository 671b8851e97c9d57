package inventory

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// LevelMode selects how a level mutation is applied.
type LevelMode string

const (
	// LevelIncrement adds the delta to the current quantity.
	LevelIncrement LevelMode = "increment"
	// LevelDecrement subtracts the delta from the current quantity.
	LevelDecrement LevelMode = "decrement"
	// LevelSetAbsolute replaces the quantity outright.
	LevelSetAbsolute LevelMode = "set_absolute"
)

// applyLevel mutates one StockLevel row through the repository's atomic
// contract. Relative modes never read-then-write; the repository applies a
// single relative update and returns the resulting row, so concurrent
// movements on the same key cannot lose updates. A missing row is created
// with the delta (relative modes) or the given value (absolute mode).
func applyLevel(ctx context.Context, tx TxRepository, key LevelKey, qty decimal.Decimal, mode LevelMode, allowNegative bool) (StockLevel, error) {
	var (
		level StockLevel
		err   error
	)
	switch mode {
	case LevelIncrement:
		level, err = tx.ApplyLevelDelta(ctx, key, qty)
	case LevelDecrement:
		level, err = tx.ApplyLevelDelta(ctx, key, qty.Neg())
	case LevelSetAbsolute:
		level, err = tx.SetLevelAbsolute(ctx, key, qty)
	default:
		return StockLevel{}, fmt.Errorf("inventory: unknown level mode %q", mode)
	}
	if err != nil {
		return StockLevel{}, fmt.Errorf("inventory: apply level %s: %w", mode, err)
	}
	if !allowNegative && level.Quantity.IsNegative() {
		return StockLevel{}, ErrNegativeStock
	}
	return level, nil
}
