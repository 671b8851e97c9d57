package inventory

import (
	"context"
	"fmt"
)

// writeLedger appends exactly one immutable entry for one movement of one
// line. It stamps the document reference and computes total cost; no other
// business logic lives here. Existing rows are never updated or deleted.
func writeLedger(ctx context.Context, tx TxRepository, entry LedgerEntry) (LedgerEntry, error) {
	if !entry.Movement.Valid() {
		return LedgerEntry{}, fmt.Errorf("inventory: unknown movement type %q", entry.Movement)
	}
	if !entry.Ref.Kind.Valid() {
		return LedgerEntry{}, fmt.Errorf("inventory: unknown document kind %q", entry.Ref.Kind)
	}
	entry.TotalCost = entry.ChangeQty.Abs().Mul(entry.UnitCost)
	id, err := tx.AppendLedger(ctx, entry)
	if err != nil {
		return LedgerEntry{}, fmt.Errorf("inventory: append ledger: %w", err)
	}
	entry.ID = id
	return entry, nil
}
