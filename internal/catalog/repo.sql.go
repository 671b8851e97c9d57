package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository reads products from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads one product scoped to the caller's tenant and company.
func (r *Repository) Get(ctx context.Context, rc shared.RequestContext, productID int64) (Product, error) {
	if r == nil || r.pool == nil {
		return Product{}, errors.New("catalog repository not initialised")
	}
	var p Product
	err := r.pool.QueryRow(ctx, `SELECT id, sku, name, uom, tracking_mode, default_cost, currency
FROM products
WHERE tenant_id=$1 AND company_id=$2 AND id=$3`, rc.TenantID, rc.CompanyID, productID).
		Scan(&p.ID, &p.SKU, &p.Name, &p.UOM, &p.TrackingMode, &p.DefaultCost, &p.Currency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, fmt.Errorf("catalog: product %d: %w", productID, shared.ErrNotFound)
		}
		return Product{}, err
	}
	// A malformed master-data row must not feed a stock movement.
	if err := p.Validate(); err != nil {
		return Product{}, fmt.Errorf("catalog: product %d: %w", productID, err)
	}
	return p, nil
}

var _ Products = (*Repository)(nil)
