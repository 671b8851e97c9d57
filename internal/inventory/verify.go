package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

const reconcileConcurrency = 8

// Discrepancy is one aggregate row that disagrees with the ledger.
type Discrepancy struct {
	Kind      string          `json:"kind"`
	ProductID int64           `json:"product_id"`
	Key       LevelKey        `json:"key,omitempty"`
	BatchID   int64           `json:"batch_id,omitempty"`
	Stored    decimal.Decimal `json:"stored"`
	Ledger    decimal.Decimal `json:"ledger"`
}

// ReconcileReport summarises one reconciliation run.
type ReconcileReport struct {
	LevelsChecked  int           `json:"levels_checked"`
	BatchesChecked int           `json:"batches_checked"`
	Discrepancies  []Discrepancy `json:"discrepancies"`
}

// Clean reports whether every aggregate matched the ledger.
func (r ReconcileReport) Clean() bool { return len(r.Discrepancies) == 0 }

// Reconciler cross-checks the mutable stock aggregates against the
// append-only ledger: each stock level must equal the signed sum of its
// ledger deltas, and each batch counter must equal the sum of ledger
// deltas carrying its batch id.
type Reconciler struct {
	repo   RepositoryPort
	logger *slog.Logger
}

// NewReconciler constructs a reconciler.
func NewReconciler(repo RepositoryPort, logger *slog.Logger) *Reconciler {
	return &Reconciler{repo: repo, logger: logger}
}

// Run reconciles one company's stock, optionally narrowed to a product.
// Rows are checked concurrently; any query error aborts the run.
func (v *Reconciler) Run(ctx context.Context, rc shared.RequestContext, productID int64) (ReconcileReport, error) {
	if !rc.Valid() {
		return ReconcileReport{}, shared.ErrUnauthorized
	}

	levels, err := v.repo.GetLevels(ctx, rc, LevelFilter{ProductID: productID, Limit: 10000})
	if err != nil {
		return ReconcileReport{}, err
	}
	batches, err := v.repo.ListBatches(ctx, rc, productID, 10000)
	if err != nil {
		return ReconcileReport{}, err
	}

	report := ReconcileReport{LevelsChecked: len(levels), BatchesChecked: len(batches)}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileConcurrency)

	for _, level := range levels {
		g.Go(func() error {
			sum, err := v.repo.SumLedgerByLevel(ctx, level.Key())
			if err != nil {
				return err
			}
			if !level.Quantity.Equal(sum) {
				mu.Lock()
				report.Discrepancies = append(report.Discrepancies, Discrepancy{
					Kind:      "level",
					ProductID: level.ProductID,
					Key:       level.Key(),
					Stored:    level.Quantity,
					Ledger:    sum,
				})
				mu.Unlock()
			}
			return nil
		})
	}

	for _, batch := range batches {
		g.Go(func() error {
			sum, err := v.repo.SumLedgerByBatch(ctx, rc, batch.ID)
			if err != nil {
				return err
			}
			if !batch.QtyOnHand.Equal(sum) {
				mu.Lock()
				report.Discrepancies = append(report.Discrepancies, Discrepancy{
					Kind:      "batch",
					ProductID: batch.ProductID,
					BatchID:   batch.ID,
					Stored:    batch.QtyOnHand,
					Ledger:    sum,
				})
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return ReconcileReport{}, err
	}
	if !report.Clean() {
		v.logger.Warn("stock reconciliation found discrepancies",
			slog.Int64("tenant_id", rc.TenantID),
			slog.Int64("company_id", rc.CompanyID),
			slog.Int("count", len(report.Discrepancies)))
	}
	return report, nil
}

// SelfCheckInput seeds a live end-to-end check for one product.
type SelfCheckInput struct {
	ProductID int64
	Receipts  int
	QtyEach   decimal.Decimal
	UnitCost  decimal.Decimal
}

// SelfCheck pushes several goods receipts through the full movement path
// concurrently, asserts the product's aggregate level moved by exactly the
// received quantity, then reconciles the product against the ledger. It
// writes real documents; point it at a scratch tenant.
func SelfCheck(ctx context.Context, svc *Service, recon *Reconciler, rc shared.RequestContext, in SelfCheckInput) (ReconcileReport, error) {
	if !rc.Valid() {
		return ReconcileReport{}, shared.ErrUnauthorized
	}
	if in.ProductID <= 0 {
		return ReconcileReport{}, fmt.Errorf("%w: product id is required", shared.ErrValidation)
	}
	n := in.Receipts
	if n <= 0 {
		n = 4
	}
	qty := in.QtyEach
	if !qty.IsPositive() {
		qty = decimal.NewFromInt(5)
	}
	cost := in.UnitCost
	if !cost.IsPositive() {
		cost = decimal.NewFromInt(1)
	}

	before, err := productQuantity(ctx, svc, rc, in.ProductID)
	if err != nil {
		return ReconcileReport{}, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileConcurrency)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, err := svc.ReceiveStock(gctx, rc, ReceiveStockInput{
				Reference:  fmt.Sprintf("SELFCHECK-%d", i+1),
				ReceivedAt: time.Now().UTC(),
				Items:      []ReceiveItemInput{{ProductID: in.ProductID, Qty: qty, UnitCost: cost}},
			})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return ReconcileReport{}, err
	}

	after, err := productQuantity(ctx, svc, rc, in.ProductID)
	if err != nil {
		return ReconcileReport{}, err
	}
	want := before.Add(qty.Mul(decimal.NewFromInt(int64(n))))
	if !after.Equal(want) {
		return ReconcileReport{}, fmt.Errorf("stock level is %s after %d receipts, expected %s", after, n, want)
	}
	return recon.Run(ctx, rc, in.ProductID)
}

func productQuantity(ctx context.Context, svc *Service, rc shared.RequestContext, productID int64) (decimal.Decimal, error) {
	levels, err := svc.GetLevels(ctx, rc, LevelFilter{ProductID: productID, Limit: 10000})
	if err != nil {
		return decimal.Decimal{}, err
	}
	total := decimal.Zero
	for _, level := range levels {
		total = total.Add(level.Quantity)
	}
	return total, nil
}
