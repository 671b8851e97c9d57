package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// PGSalesHistory reads originally sold quantities from the sales subsystem's
// line table. Read-only; the sales module owns those rows.
type PGSalesHistory struct {
	pool *pgxpool.Pool
}

// NewPGSalesHistory constructs PGSalesHistory.
func NewPGSalesHistory(pool *pgxpool.Pool) *PGSalesHistory {
	return &PGSalesHistory{pool: pool}
}

// SoldQty sums the quantity sold of one product on one sales document.
func (s *PGSalesHistory) SoldQty(ctx context.Context, rc shared.RequestContext, salesDocID, productID int64) (decimal.Decimal, error) {
	if s == nil || s.pool == nil {
		return decimal.Zero, errors.New("sales history not initialised")
	}
	var total decimal.Decimal
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(SUM(qty), 0)
FROM sales_lines
WHERE tenant_id=$1 AND company_id=$2 AND sales_doc_id=$3 AND product_id=$4`,
		rc.TenantID, rc.CompanyID, salesDocID, productID).Scan(&total)
	return total, err
}

var _ SalesHistory = (*PGSalesHistory)(nil)
