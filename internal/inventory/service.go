package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/catalog"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// LevelBumper invalidates cached level reads after a movement commits.
type LevelBumper interface {
	Bump(ctx context.Context, rc shared.RequestContext) error
}

// ServiceConfig groups movement policy knobs. The permissive legacy
// behavior (no negative guard, no return caps) stays reachable by flipping
// the flags; the defaults guard both.
type ServiceConfig struct {
	AllowNegativeStock bool
	EnforceReturnCaps  bool
}

// Service implements the movement orchestrators. Every orchestrator runs its
// writes inside exactly one repeatable-read transaction; the accounting
// hand-off happens strictly after commit and can only degrade the response
// to a warning.
type Service struct {
	repo      RepositoryPort
	products  catalog.Products
	sales     SalesHistory
	sequences shared.Sequences
	audit     AuditPort
	posting   PostingHandler
	cache     LevelBumper
	logger    *slog.Logger
	cfg       ServiceConfig
}

// NewService builds Service.
func NewService(repo RepositoryPort, products catalog.Products, sales SalesHistory, sequences shared.Sequences, audit AuditPort, posting PostingHandler, cache LevelBumper, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, products: products, sales: sales, sequences: sequences, audit: audit, posting: posting, cache: cache, logger: logger, cfg: cfg}
}

// ReceiveItemInput is one line of a goods receipt.
type ReceiveItemInput struct {
	ProductID   int64
	Qty         decimal.Decimal
	UnitCost    decimal.Decimal
	BatchNumber string
	ExpiryDate  *time.Time
}

// ReceiveStockInput describes a goods receipt.
type ReceiveStockInput struct {
	SupplierID int64
	Reference  string
	ReceivedAt time.Time
	Notes      string
	Items      []ReceiveItemInput
}

// ReceiveStockResult is the committed receipt plus an optional posting warning.
type ReceiveStockResult struct {
	Receipt PurchaseReceipt
	Lines   []ReceiptLine
	Warning string
}

// ReceiveStock posts a goods receipt: header, lines, one inbound move and
// ledger entry per line, and level/batch increments, all in one transaction.
func (s *Service) ReceiveStock(ctx context.Context, rc shared.RequestContext, input ReceiveStockInput) (ReceiveStockResult, error) {
	if !rc.Valid() {
		return ReceiveStockResult{}, shared.ErrUnauthorized
	}
	if len(input.Items) == 0 {
		return ReceiveStockResult{}, fmt.Errorf("%w: at least one item required", shared.ErrValidation)
	}
	for i, item := range input.Items {
		if item.ProductID == 0 {
			return ReceiveStockResult{}, fmt.Errorf("%w: item %d: product required", shared.ErrValidation, i)
		}
		if !item.Qty.IsPositive() {
			return ReceiveStockResult{}, fmt.Errorf("item %d: %w", i, ErrInvalidQuantity)
		}
		if item.UnitCost.IsNegative() {
			return ReceiveStockResult{}, fmt.Errorf("item %d: %w", i, ErrInvalidUnitCost)
		}
	}

	receivedAt := input.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	number, err := s.nextNumber(ctx, rc, "GRN", receivedAt)
	if err != nil {
		return ReceiveStockResult{}, err
	}

	var (
		receipt PurchaseReceipt
		lines   []ReceiptLine
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		location, err := resolveDefaultLocation(ctx, tx, rc)
		if err != nil {
			return err
		}

		receipt = PurchaseReceipt{
			TenantID:   rc.TenantID,
			CompanyID:  rc.CompanyID,
			Number:     number,
			SupplierID: nilIfZero(input.SupplierID),
			Reference:  input.Reference,
			ReceivedAt: receivedAt,
			Status:     StatusDraft,
			Notes:      input.Notes,
			CreatedBy:  rc.ActorID,
		}
		receiptID, err := tx.InsertReceipt(ctx, receipt)
		if err != nil {
			return err
		}
		receipt.ID = receiptID
		ref := DocumentRef{Kind: DocumentReceipt, ID: receiptID}

		for _, item := range input.Items {
			product, err := s.products.Get(ctx, rc, item.ProductID)
			if err != nil {
				return err
			}
			unitCost := item.UnitCost
			if unitCost.IsZero() {
				unitCost = product.DefaultCost
			}
			batch, err := resolveBatch(ctx, tx, rc, product, item.BatchNumber, item.ExpiryDate, unitCost)
			if err != nil {
				return err
			}
			var batchID *int64
			if batch != nil {
				batchID = &batch.ID
			}

			line := ReceiptLine{
				ReceiptID:  receiptID,
				ProductID:  product.ID,
				BatchID:    batchID,
				LocationID: location.ID,
				Qty:        item.Qty,
				UnitCost:   unitCost,
			}
			lineID, err := tx.InsertReceiptLine(ctx, line)
			if err != nil {
				return err
			}
			line.ID = lineID

			if _, err := tx.InsertMove(ctx, StockMove{
				TenantID:      rc.TenantID,
				CompanyID:     rc.CompanyID,
				ProductID:     product.ID,
				BatchID:       batchID,
				DstLocationID: &location.ID,
				Qty:           item.Qty,
				UnitCost:      unitCost,
				Ref:           ref,
				ActorID:       rc.ActorID,
				MovedAt:       receivedAt,
			}); err != nil {
				return err
			}

			key := LevelKey{TenantID: rc.TenantID, CompanyID: rc.CompanyID, ProductID: product.ID, LocationID: location.ID, BatchID: batchID}
			level, err := applyLevel(ctx, tx, key, item.Qty, LevelIncrement, s.cfg.AllowNegativeStock)
			if err != nil {
				return err
			}

			if _, err := writeLedger(ctx, tx, LedgerEntry{
				TenantID:   rc.TenantID,
				CompanyID:  rc.CompanyID,
				ProductID:  product.ID,
				LocationID: location.ID,
				BatchID:    batchID,
				Movement:   MovementIn,
				ChangeQty:  item.Qty,
				UnitCost:   unitCost,
				BalanceQty: level.Quantity,
				Ref:        ref,
				ActorID:    rc.ActorID,
				OccurredAt: receivedAt,
				Note:       input.Reference,
			}); err != nil {
				return err
			}

			if batchID != nil {
				if _, err := tx.AddBatchQty(ctx, rc, *batchID, item.Qty); err != nil {
					return err
				}
			}
			lines = append(lines, line)
		}

		if err := tx.UpdateReceiptStatus(ctx, rc, receiptID, StatusPosted); err != nil {
			return err
		}
		receipt.Status = StatusPosted
		return nil
	})
	if err != nil {
		return ReceiveStockResult{}, err
	}

	s.afterCommit(ctx, rc, "GRN_POST", receipt.Number, DocumentRef{Kind: DocumentReceipt, ID: receipt.ID}, map[string]any{
		"number": receipt.Number,
		"items":  len(lines),
	})
	warning := s.handoffPosting(ctx, rc, DocumentRef{Kind: DocumentReceipt, ID: receipt.ID}, receipt.Number, receivedAt)
	return ReceiveStockResult{Receipt: receipt, Lines: lines, Warning: warning}, nil
}

// ReturnLineInput references a receipt line to send back.
type ReturnLineInput struct {
	ReceiptLineID int64
	Qty           decimal.Decimal
}

// PurchaseReturnInput describes a return to supplier.
type PurchaseReturnInput struct {
	ReceiptID  int64
	SupplierID int64
	Reason     string
	ReturnedAt time.Time
	Lines      []ReturnLineInput
}

// PurchaseReturnResult is the committed return plus an optional posting warning.
type PurchaseReturnResult struct {
	Return  PurchaseReturn
	Lines   []PurchaseReturnLine
	Warning string
}

// PurchaseReturn posts a return of received goods back to the supplier.
// Each line is capped at the originally received quantity minus what earlier
// returns already took, unless the cap policy is disabled.
func (s *Service) PurchaseReturn(ctx context.Context, rc shared.RequestContext, input PurchaseReturnInput) (PurchaseReturnResult, error) {
	if !rc.Valid() {
		return PurchaseReturnResult{}, shared.ErrUnauthorized
	}
	if input.ReceiptID == 0 {
		return PurchaseReturnResult{}, fmt.Errorf("%w: receipt required", shared.ErrValidation)
	}
	if len(input.Lines) == 0 {
		return PurchaseReturnResult{}, fmt.Errorf("%w: at least one line required", shared.ErrValidation)
	}
	for i, line := range input.Lines {
		if line.ReceiptLineID == 0 {
			return PurchaseReturnResult{}, fmt.Errorf("%w: line %d: receipt line required", shared.ErrValidation, i)
		}
		if !line.Qty.IsPositive() {
			return PurchaseReturnResult{}, fmt.Errorf("line %d: %w", i, ErrInvalidQuantity)
		}
	}

	returnedAt := input.ReturnedAt
	if returnedAt.IsZero() {
		returnedAt = time.Now().UTC()
	}
	number, err := s.nextNumber(ctx, rc, "PRT", returnedAt)
	if err != nil {
		return PurchaseReturnResult{}, err
	}

	var (
		ret      PurchaseReturn
		retLines []PurchaseReturnLine
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		receipt, receiptLines, err := tx.GetReceiptTx(ctx, rc, input.ReceiptID)
		if err != nil {
			return err
		}
		byID := make(map[int64]ReceiptLine, len(receiptLines))
		for _, rl := range receiptLines {
			byID[rl.ID] = rl
		}

		supplierID := input.SupplierID
		if supplierID == 0 && receipt.SupplierID != nil {
			supplierID = *receipt.SupplierID
		}
		ret = PurchaseReturn{
			TenantID:   rc.TenantID,
			CompanyID:  rc.CompanyID,
			Number:     number,
			ReceiptID:  receipt.ID,
			SupplierID: supplierID,
			Reason:     input.Reason,
			Status:     StatusPosted,
			ReturnedAt: returnedAt,
			CreatedBy:  rc.ActorID,
		}
		retID, err := tx.InsertPurchaseReturn(ctx, ret)
		if err != nil {
			return err
		}
		ret.ID = retID
		ref := DocumentRef{Kind: DocumentPurchaseReturn, ID: retID}

		for _, line := range input.Lines {
			source, ok := byID[line.ReceiptLineID]
			if !ok {
				return fmt.Errorf("inventory: receipt line %d: %w", line.ReceiptLineID, shared.ErrNotFound)
			}
			if s.cfg.EnforceReturnCaps {
				already, err := tx.SumReturnedQty(ctx, rc, source.ID)
				if err != nil {
					return err
				}
				if already.Add(line.Qty).GreaterThan(source.Qty) {
					return fmt.Errorf("receipt line %d: %w", source.ID, ErrReturnExceedsOriginal)
				}
			}

			rl := PurchaseReturnLine{
				ReturnID:      retID,
				ReceiptLineID: source.ID,
				ProductID:     source.ProductID,
				BatchID:       source.BatchID,
				LocationID:    source.LocationID,
				Qty:           line.Qty,
				UnitCost:      source.UnitCost,
			}
			rlID, err := tx.InsertPurchaseReturnLine(ctx, rl)
			if err != nil {
				return err
			}
			rl.ID = rlID

			if _, err := tx.InsertMove(ctx, StockMove{
				TenantID:      rc.TenantID,
				CompanyID:     rc.CompanyID,
				ProductID:     source.ProductID,
				BatchID:       source.BatchID,
				SrcLocationID: &source.LocationID,
				Qty:           line.Qty,
				UnitCost:      source.UnitCost,
				Ref:           ref,
				ActorID:       rc.ActorID,
				MovedAt:       returnedAt,
			}); err != nil {
				return err
			}

			key := LevelKey{TenantID: rc.TenantID, CompanyID: rc.CompanyID, ProductID: source.ProductID, LocationID: source.LocationID, BatchID: source.BatchID}
			if _, err := applyLevel(ctx, tx, key, line.Qty, LevelDecrement, s.cfg.AllowNegativeStock); err != nil {
				return err
			}

			// Return entries record a zero balance placeholder; see the
			// adjustment orchestrator for the absolute-balance convention.
			if _, err := writeLedger(ctx, tx, LedgerEntry{
				TenantID:   rc.TenantID,
				CompanyID:  rc.CompanyID,
				ProductID:  source.ProductID,
				LocationID: source.LocationID,
				BatchID:    source.BatchID,
				Movement:   MovementReturn,
				ChangeQty:  line.Qty.Neg(),
				UnitCost:   source.UnitCost,
				BalanceQty: decimal.Zero,
				Ref:        ref,
				ActorID:    rc.ActorID,
				OccurredAt: returnedAt,
				Note:       input.Reason,
			}); err != nil {
				return err
			}

			if source.BatchID != nil {
				if _, err := tx.AddBatchQty(ctx, rc, *source.BatchID, line.Qty.Neg()); err != nil {
					return err
				}
			}
			retLines = append(retLines, rl)
		}
		return nil
	})
	if err != nil {
		return PurchaseReturnResult{}, err
	}

	s.afterCommit(ctx, rc, "PURCHASE_RETURN_POST", ret.Number, DocumentRef{Kind: DocumentPurchaseReturn, ID: ret.ID}, map[string]any{
		"number":  ret.Number,
		"receipt": ret.ReceiptID,
	})
	warning := s.handoffPosting(ctx, rc, DocumentRef{Kind: DocumentPurchaseReturn, ID: ret.ID}, ret.Number, returnedAt)
	return PurchaseReturnResult{Return: ret, Lines: retLines, Warning: warning}, nil
}

// SalesReturnLineInput is one line of goods coming back from a customer.
type SalesReturnLineInput struct {
	ProductID   int64
	Qty         decimal.Decimal
	UnitCost    decimal.Decimal
	BatchNumber string
}

// SalesReturnInput describes a customer return against a sales document.
type SalesReturnInput struct {
	SalesDocID int64
	CustomerID int64
	Reason     string
	ReturnedAt time.Time
	Lines      []SalesReturnLineInput
}

// SalesReturnResult is the committed return plus an optional posting warning.
type SalesReturnResult struct {
	Return  SalesReturn
	Lines   []SalesReturnLine
	Warning string
}

// SalesReturn posts goods coming back from a customer. Lines are capped at
// the originally sold quantity minus earlier returns against the same sales
// document, unless the cap policy is disabled.
func (s *Service) SalesReturn(ctx context.Context, rc shared.RequestContext, input SalesReturnInput) (SalesReturnResult, error) {
	if !rc.Valid() {
		return SalesReturnResult{}, shared.ErrUnauthorized
	}
	if input.SalesDocID == 0 {
		return SalesReturnResult{}, fmt.Errorf("%w: sales document required", shared.ErrValidation)
	}
	if len(input.Lines) == 0 {
		return SalesReturnResult{}, fmt.Errorf("%w: at least one line required", shared.ErrValidation)
	}
	for i, line := range input.Lines {
		if line.ProductID == 0 {
			return SalesReturnResult{}, fmt.Errorf("%w: line %d: product required", shared.ErrValidation, i)
		}
		if !line.Qty.IsPositive() {
			return SalesReturnResult{}, fmt.Errorf("line %d: %w", i, ErrInvalidQuantity)
		}
		if line.UnitCost.IsNegative() {
			return SalesReturnResult{}, fmt.Errorf("line %d: %w", i, ErrInvalidUnitCost)
		}
	}

	returnedAt := input.ReturnedAt
	if returnedAt.IsZero() {
		returnedAt = time.Now().UTC()
	}
	number, err := s.nextNumber(ctx, rc, "SRT", returnedAt)
	if err != nil {
		return SalesReturnResult{}, err
	}

	var (
		ret      SalesReturn
		retLines []SalesReturnLine
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		location, err := resolveDefaultLocation(ctx, tx, rc)
		if err != nil {
			return err
		}

		ret = SalesReturn{
			TenantID:   rc.TenantID,
			CompanyID:  rc.CompanyID,
			Number:     number,
			SalesDocID: input.SalesDocID,
			CustomerID: input.CustomerID,
			Reason:     input.Reason,
			Status:     StatusPosted,
			ReturnedAt: returnedAt,
			CreatedBy:  rc.ActorID,
		}
		retID, err := tx.InsertSalesReturn(ctx, ret)
		if err != nil {
			return err
		}
		ret.ID = retID
		ref := DocumentRef{Kind: DocumentSalesReturn, ID: retID}

		for _, line := range input.Lines {
			product, err := s.products.Get(ctx, rc, line.ProductID)
			if err != nil {
				return err
			}
			if s.cfg.EnforceReturnCaps && s.sales != nil {
				sold, err := s.sales.SoldQty(ctx, rc, input.SalesDocID, product.ID)
				if err != nil {
					return err
				}
				already, err := tx.SumSalesReturnedQty(ctx, rc, input.SalesDocID, product.ID)
				if err != nil {
					return err
				}
				if already.Add(line.Qty).GreaterThan(sold) {
					return fmt.Errorf("product %d: %w", product.ID, ErrReturnExceedsOriginal)
				}
			}

			unitCost := line.UnitCost
			if unitCost.IsZero() {
				unitCost = product.DefaultCost
			}
			batch, err := resolveBatch(ctx, tx, rc, product, line.BatchNumber, nil, unitCost)
			if err != nil {
				return err
			}
			var batchID *int64
			if batch != nil {
				batchID = &batch.ID
			}

			rl := SalesReturnLine{
				ReturnID:   retID,
				ProductID:  product.ID,
				BatchID:    batchID,
				LocationID: location.ID,
				Qty:        line.Qty,
				UnitCost:   unitCost,
			}
			rlID, err := tx.InsertSalesReturnLine(ctx, rl)
			if err != nil {
				return err
			}
			rl.ID = rlID

			if _, err := tx.InsertMove(ctx, StockMove{
				TenantID:      rc.TenantID,
				CompanyID:     rc.CompanyID,
				ProductID:     product.ID,
				BatchID:       batchID,
				DstLocationID: &location.ID,
				Qty:           line.Qty,
				UnitCost:      unitCost,
				Ref:           ref,
				ActorID:       rc.ActorID,
				MovedAt:       returnedAt,
			}); err != nil {
				return err
			}

			key := LevelKey{TenantID: rc.TenantID, CompanyID: rc.CompanyID, ProductID: product.ID, LocationID: location.ID, BatchID: batchID}
			if _, err := applyLevel(ctx, tx, key, line.Qty, LevelIncrement, s.cfg.AllowNegativeStock); err != nil {
				return err
			}

			if _, err := writeLedger(ctx, tx, LedgerEntry{
				TenantID:   rc.TenantID,
				CompanyID:  rc.CompanyID,
				ProductID:  product.ID,
				LocationID: location.ID,
				BatchID:    batchID,
				Movement:   MovementSaleReturn,
				ChangeQty:  line.Qty,
				UnitCost:   unitCost,
				BalanceQty: decimal.Zero,
				Ref:        ref,
				ActorID:    rc.ActorID,
				OccurredAt: returnedAt,
				Note:       input.Reason,
			}); err != nil {
				return err
			}

			if batchID != nil {
				if _, err := tx.AddBatchQty(ctx, rc, *batchID, line.Qty); err != nil {
					return err
				}
			}
			retLines = append(retLines, rl)
		}
		return nil
	})
	if err != nil {
		return SalesReturnResult{}, err
	}

	s.afterCommit(ctx, rc, "SALES_RETURN_POST", ret.Number, DocumentRef{Kind: DocumentSalesReturn, ID: ret.ID}, map[string]any{
		"number":    ret.Number,
		"sales_doc": ret.SalesDocID,
	})
	warning := s.handoffPosting(ctx, rc, DocumentRef{Kind: DocumentSalesReturn, ID: ret.ID}, ret.Number, returnedAt)
	return SalesReturnResult{Return: ret, Lines: retLines, Warning: warning}, nil
}

// AdjustmentLineInput corrects one level key from CurrentQty to NewQty.
type AdjustmentLineInput struct {
	ProductID  int64
	LocationID int64
	BatchID    *int64
	CurrentQty decimal.Decimal
	NewQty     decimal.Decimal
	UnitCost   decimal.Decimal
}

// StockAdjustmentInput describes a manual stock correction.
type StockAdjustmentInput struct {
	Reason     string
	ReasonCode AdjustmentReason
	AdjustedAt time.Time
	Lines      []AdjustmentLineInput
}

// StockAdjustmentResult is the committed adjustment plus an optional warning.
type StockAdjustmentResult struct {
	Adjustment StockAdjustment
	Lines      []StockAdjustmentLine
	Warning    string
}

// StockAdjustment posts a manual correction. Lines whose diff is zero are
// skipped entirely and produce no ledger entry. Unlike returns, adjustment
// ledger entries record the new absolute quantity as BalanceQty.
func (s *Service) StockAdjustment(ctx context.Context, rc shared.RequestContext, input StockAdjustmentInput) (StockAdjustmentResult, error) {
	if !rc.Valid() {
		return StockAdjustmentResult{}, shared.ErrUnauthorized
	}
	if !input.ReasonCode.Valid() {
		return StockAdjustmentResult{}, fmt.Errorf("%w: unknown reason code %q", shared.ErrValidation, input.ReasonCode)
	}
	if len(input.Lines) == 0 {
		return StockAdjustmentResult{}, fmt.Errorf("%w: at least one line required", shared.ErrValidation)
	}
	for i, line := range input.Lines {
		if line.ProductID == 0 || line.LocationID == 0 {
			return StockAdjustmentResult{}, fmt.Errorf("%w: line %d: product and location required", shared.ErrValidation, i)
		}
		if line.UnitCost.IsNegative() {
			return StockAdjustmentResult{}, fmt.Errorf("line %d: %w", i, ErrInvalidUnitCost)
		}
	}

	adjustedAt := input.AdjustedAt
	if adjustedAt.IsZero() {
		adjustedAt = time.Now().UTC()
	}
	number, err := s.nextNumber(ctx, rc, "ADJ", adjustedAt)
	if err != nil {
		return StockAdjustmentResult{}, err
	}

	var (
		adj      StockAdjustment
		adjLines []StockAdjustmentLine
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		adj = StockAdjustment{
			TenantID:   rc.TenantID,
			CompanyID:  rc.CompanyID,
			Number:     number,
			Reason:     input.Reason,
			ReasonCode: input.ReasonCode,
			Status:     StatusPosted,
			AdjustedAt: adjustedAt,
			CreatedBy:  rc.ActorID,
		}
		adjID, err := tx.InsertAdjustment(ctx, adj)
		if err != nil {
			return err
		}
		adj.ID = adjID
		ref := DocumentRef{Kind: DocumentAdjustment, ID: adjID}

		for _, line := range input.Lines {
			diff := line.NewQty.Sub(line.CurrentQty)
			if diff.IsZero() {
				// No-op lines are intentional: no ledger entry, no level touch.
				continue
			}
			product, err := s.products.Get(ctx, rc, line.ProductID)
			if err != nil {
				return err
			}
			if line.BatchID != nil {
				batch, err := tx.GetBatch(ctx, rc, *line.BatchID)
				if err != nil {
					return fmt.Errorf("adjustment batch %d: %w", *line.BatchID, err)
				}
				if batch.ProductID != product.ID {
					return fmt.Errorf("%w: batch %d does not belong to product %d", shared.ErrValidation, *line.BatchID, product.ID)
				}
			}

			al := StockAdjustmentLine{
				AdjustmentID: adjID,
				ProductID:    product.ID,
				LocationID:   line.LocationID,
				BatchID:      line.BatchID,
				OldQty:       line.CurrentQty,
				NewQty:       line.NewQty,
				DiffQty:      diff,
				UnitCost:     line.UnitCost,
			}
			alID, err := tx.InsertAdjustmentLine(ctx, al)
			if err != nil {
				return err
			}
			al.ID = alID

			move := StockMove{
				TenantID:  rc.TenantID,
				CompanyID: rc.CompanyID,
				ProductID: product.ID,
				BatchID:   line.BatchID,
				Qty:       diff.Abs(),
				UnitCost:  line.UnitCost,
				Ref:       ref,
				ActorID:   rc.ActorID,
				MovedAt:   adjustedAt,
			}
			if diff.IsPositive() {
				move.DstLocationID = &line.LocationID
			} else {
				move.SrcLocationID = &line.LocationID
			}
			if _, err := tx.InsertMove(ctx, move); err != nil {
				return err
			}

			key := LevelKey{TenantID: rc.TenantID, CompanyID: rc.CompanyID, ProductID: product.ID, LocationID: line.LocationID, BatchID: line.BatchID}
			level, err := applyLevel(ctx, tx, key, diff, LevelIncrement, s.cfg.AllowNegativeStock)
			if err != nil {
				return err
			}

			if _, err := writeLedger(ctx, tx, LedgerEntry{
				TenantID:   rc.TenantID,
				CompanyID:  rc.CompanyID,
				ProductID:  product.ID,
				LocationID: line.LocationID,
				BatchID:    line.BatchID,
				Movement:   MovementAdjustment,
				ChangeQty:  diff,
				UnitCost:   line.UnitCost,
				BalanceQty: level.Quantity,
				Ref:        ref,
				ActorID:    rc.ActorID,
				OccurredAt: adjustedAt,
				Note:       fmt.Sprintf("%s: %s", input.ReasonCode, input.Reason),
			}); err != nil {
				return err
			}

			if line.BatchID != nil {
				if _, err := tx.AddBatchQty(ctx, rc, *line.BatchID, diff); err != nil {
					return err
				}
			}
			adjLines = append(adjLines, al)
		}
		return nil
	})
	if err != nil {
		return StockAdjustmentResult{}, err
	}

	s.afterCommit(ctx, rc, "ADJUSTMENT_POST", adj.Number, DocumentRef{Kind: DocumentAdjustment, ID: adj.ID}, map[string]any{
		"number": adj.Number,
		"reason": string(adj.ReasonCode),
	})
	warning := s.handoffPosting(ctx, rc, DocumentRef{Kind: DocumentAdjustment, ID: adj.ID}, adj.Number, adjustedAt)
	return StockAdjustmentResult{Adjustment: adj, Lines: adjLines, Warning: warning}, nil
}

// GetReceipt loads one receipt with lines.
func (s *Service) GetReceipt(ctx context.Context, rc shared.RequestContext, id int64) (PurchaseReceipt, []ReceiptLine, error) {
	if !rc.Valid() {
		return PurchaseReceipt{}, nil, shared.ErrUnauthorized
	}
	return s.repo.GetReceipt(ctx, rc, id)
}

// GetLevels lists current stock levels.
func (s *Service) GetLevels(ctx context.Context, rc shared.RequestContext, filter LevelFilter) ([]StockLevel, error) {
	if !rc.Valid() {
		return nil, shared.ErrUnauthorized
	}
	return s.repo.GetLevels(ctx, rc, filter)
}

// GetLedger lists ledger entries.
func (s *Service) GetLedger(ctx context.Context, rc shared.RequestContext, filter LedgerFilter) ([]LedgerEntry, error) {
	if !rc.Valid() {
		return nil, shared.ErrUnauthorized
	}
	return s.repo.GetLedger(ctx, rc, filter)
}

func (s *Service) nextNumber(ctx context.Context, rc shared.RequestContext, kind string, at time.Time) (string, error) {
	if s.sequences == nil {
		return fmt.Sprintf("%s-%d", kind, time.Now().UnixNano()), nil
	}
	seq, err := s.sequences.Next(ctx, rc, kind)
	if err != nil {
		return "", fmt.Errorf("inventory: next %s number: %w", kind, err)
	}
	return shared.FormatDocumentNumber(kind, at, seq), nil
}

// afterCommit records audit and invalidates cached level reads. Both are
// best-effort once the transaction is committed.
func (s *Service) afterCommit(ctx context.Context, rc shared.RequestContext, action, number string, ref DocumentRef, meta map[string]any) {
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			TenantID:  rc.TenantID,
			CompanyID: rc.CompanyID,
			ActorID:   rc.ActorID,
			Action:    action,
			Entity:    string(ref.Kind),
			EntityID:  ref.String(),
			Meta:      meta,
		})
	}
	if s.cache != nil {
		if err := s.cache.Bump(ctx, rc); err != nil {
			s.logger.Warn("level cache bump failed", slog.Any("error", err), slog.String("document", number))
		}
	}
}

// handoffPosting invokes the accounting bridge strictly after commit. The
// stock moved physically regardless of bookkeeping status, so a posting
// failure is logged against the originating document and demoted to a
// warning on an otherwise successful response.
func (s *Service) handoffPosting(ctx context.Context, rc shared.RequestContext, ref DocumentRef, number string, postedAt time.Time) string {
	if s.posting == nil {
		return ""
	}
	evt := MovementPostedEvent{Scope: rc, Ref: ref, Number: number, PostedAt: postedAt}
	if err := s.posting.HandleMovementPosted(ctx, evt); err != nil {
		s.logger.Error("accounting posting failed",
			slog.String("document", ref.String()),
			slog.String("number", number),
			slog.Any("error", err))
		return fmt.Sprintf("accounting posting for %s deferred: %v", number, err)
	}
	return ""
}

func nilIfZero(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}
