// Package catalog exposes the read-only product lookup this system consumes.
// Product CRUD lives in another subsystem; the inventory engine only needs
// identity, unit of measure, tracking mode and default cost.
package catalog

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// TrackingMode declares how stock of a product is tracked.
type TrackingMode string

const (
	// TrackingNone means plain quantity tracking without lots.
	TrackingNone TrackingMode = "none"
	// TrackingBatch means stock is tracked per supplier batch/lot.
	TrackingBatch TrackingMode = "batch"
	// TrackingSerial means stock is tracked per serial number.
	TrackingSerial TrackingMode = "serial"
)

// Tracked reports whether movements of this product may carry a batch.
func (m TrackingMode) Tracked() bool {
	return m == TrackingBatch || m == TrackingSerial
}

// Product is the read-only projection consumed by the inventory engine.
type Product struct {
	ID           int64
	SKU          string
	Name         string
	UOM          string
	TrackingMode TrackingMode
	DefaultCost  decimal.Decimal
	Currency     string
}

// Validate checks the projection is usable for stock movements.
func (p Product) Validate() error {
	if p.ID == 0 {
		return fmt.Errorf("catalog: %w: product id required", shared.ErrValidation)
	}
	switch p.TrackingMode {
	case TrackingNone, TrackingBatch, TrackingSerial:
	default:
		return fmt.Errorf("catalog: %w: unknown tracking mode %q", shared.ErrValidation, p.TrackingMode)
	}
	if p.Currency != "" {
		if _, err := currency.ParseISO(p.Currency); err != nil {
			return fmt.Errorf("catalog: %w: currency %q: %v", shared.ErrValidation, p.Currency, err)
		}
	}
	return nil
}

// Products is the lookup port. NotFound is fatal to the enclosing movement.
type Products interface {
	Get(ctx context.Context, rc shared.RequestContext, productID int64) (Product, error)
}
