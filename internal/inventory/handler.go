package inventory

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler wires HTTP endpoints for the inventory engine.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	cache    *LevelCache
	recon    *Reconciler
	idem     *shared.IdempotencyStore
	validate *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service, cache *LevelCache, recon *Reconciler, idem *shared.IdempotencyStore) *Handler {
	return &Handler{logger: logger, service: service, cache: cache, recon: recon, idem: idem, validate: validator.New()}
}

// respondMovementError maps movement domain errors before deferring to the
// generic mapper.
func respondMovementError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNegativeStock):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Negative Stock", err.Error())
	case errors.Is(err, ErrReturnExceedsOriginal):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Return Exceeds Original", err.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidUnitCost):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Line", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}

// claimIdempotency reserves the request's Idempotency-Key, when present.
// A repeated key is rejected with a conflict before any write happens.
func (h *Handler) claimIdempotency(r *http.Request) error {
	key := r.Header.Get("Idempotency-Key")
	if key == "" || h.idem == nil {
		return nil
	}
	return h.idem.CheckAndInsert(r.Context(), key, "inventory")
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/receipts", h.handleReceiveStock)
	r.Post("/purchase-returns", h.handlePurchaseReturn)
	r.Post("/sales-returns", h.handleSalesReturn)
	r.Post("/adjustments", h.handleAdjustment)
	r.Get("/receipts/{id}", h.handleGetReceipt)
	r.Get("/levels", h.handleLevels)
	r.Get("/ledger", h.handleLedger)
	r.Get("/reconcile", h.handleReconcile)
}

type receiveItemRequest struct {
	ProductID   int64           `json:"product_id" validate:"required,gt=0"`
	Qty         decimal.Decimal `json:"qty"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	BatchNumber string          `json:"batch_number,omitempty"`
	ExpiryDate  *time.Time      `json:"expiry_date,omitempty"`
}

type receiveStockRequest struct {
	SupplierID int64                `json:"supplier_id,omitempty"`
	Reference  string               `json:"reference,omitempty"`
	ReceivedAt time.Time            `json:"received_at,omitempty"`
	Notes      string               `json:"notes,omitempty"`
	Items      []receiveItemRequest `json:"items" validate:"required,min=1,dive"`
}

type movementResponse struct {
	Success bool   `json:"success"`
	Number  string `json:"number"`
	ID      int64  `json:"id"`
	Warning string `json:"warning,omitempty"`
}

func (h *Handler) handleReceiveStock(w http.ResponseWriter, r *http.Request) {
	rc, err := shared.RequestContextFrom(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req receiveStockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.claimIdempotency(r); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := ReceiveStockInput{
		SupplierID: req.SupplierID,
		Reference:  req.Reference,
		ReceivedAt: req.ReceivedAt,
		Notes:      req.Notes,
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, ReceiveItemInput(item))
	}
	result, err := h.service.ReceiveStock(r.Context(), rc, input)
	if err != nil {
		h.logger.Error("receive stock failed", slog.Any("error", err))
		respondMovementError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movementResponse{Success: true, Number: result.Receipt.Number, ID: result.Receipt.ID, Warning: result.Warning})
}

type purchaseReturnLineRequest struct {
	ReceiptLineID int64           `json:"receipt_line_id" validate:"required,gt=0"`
	Qty           decimal.Decimal `json:"qty"`
}

type purchaseReturnRequest struct {
	ReceiptID  int64                       `json:"receipt_id" validate:"required,gt=0"`
	SupplierID int64                       `json:"supplier_id,omitempty"`
	Reason     string                      `json:"reason,omitempty"`
	Lines      []purchaseReturnLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handlePurchaseReturn(w http.ResponseWriter, r *http.Request) {
	rc, err := shared.RequestContextFrom(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req purchaseReturnRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.claimIdempotency(r); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := PurchaseReturnInput{ReceiptID: req.ReceiptID, SupplierID: req.SupplierID, Reason: req.Reason}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, ReturnLineInput(line))
	}
	result, err := h.service.PurchaseReturn(r.Context(), rc, input)
	if err != nil {
		h.logger.Error("purchase return failed", slog.Any("error", err))
		respondMovementError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movementResponse{Success: true, Number: result.Return.Number, ID: result.Return.ID, Warning: result.Warning})
}

type salesReturnLineRequest struct {
	ProductID   int64           `json:"product_id" validate:"required,gt=0"`
	Qty         decimal.Decimal `json:"qty"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	BatchNumber string          `json:"batch_number,omitempty"`
}

type salesReturnRequest struct {
	SalesDocID int64                    `json:"sales_doc_id" validate:"required,gt=0"`
	CustomerID int64                    `json:"customer_id,omitempty"`
	Reason     string                   `json:"reason,omitempty"`
	Lines      []salesReturnLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleSalesReturn(w http.ResponseWriter, r *http.Request) {
	rc, err := shared.RequestContextFrom(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req salesReturnRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.claimIdempotency(r); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := SalesReturnInput{SalesDocID: req.SalesDocID, CustomerID: req.CustomerID, Reason: req.Reason}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, SalesReturnLineInput(line))
	}
	result, err := h.service.SalesReturn(r.Context(), rc, input)
	if err != nil {
		h.logger.Error("sales return failed", slog.Any("error", err))
		respondMovementError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movementResponse{Success: true, Number: result.Return.Number, ID: result.Return.ID, Warning: result.Warning})
}

type adjustmentLineRequest struct {
	ProductID  int64           `json:"product_id" validate:"required,gt=0"`
	LocationID int64           `json:"location_id" validate:"required,gt=0"`
	BatchID    *int64          `json:"batch_id,omitempty"`
	CurrentQty decimal.Decimal `json:"current_qty"`
	NewQty     decimal.Decimal `json:"new_qty"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
}

type adjustmentRequest struct {
	Reason     string                  `json:"reason,omitempty"`
	ReasonCode string                  `json:"reason_code" validate:"required,oneof=audit breakage expiry wastage"`
	Lines      []adjustmentLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	rc, err := shared.RequestContextFrom(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.claimIdempotency(r); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := StockAdjustmentInput{Reason: req.Reason, ReasonCode: AdjustmentReason(req.ReasonCode)}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, AdjustmentLineInput(line))
	}
	result, err := h.service.StockAdjustment(r.Context(), rc, input)
	if err != nil {
		h.logger.Error("stock adjustment failed", slog.Any("error", err))
		respondMovementError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movementResponse{Success: true, Number: result.Adjustment.Number, ID: result.Adjustment.ID, Warning: result.Warning})
}

func (h *Handler) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	rc, err := shared.RequestContextFrom(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	receipt, lines, err := h.service.GetReceipt(r.Context(), rc, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"receipt": receipt, "lines": lines})
}

func (h *Handler) handleLevels(w http.ResponseWriter, r *http.Request) {
	rc, err := shared.RequestContextFrom(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := LevelFilter{
		ProductID:  queryInt64(r, "product_id"),
		LocationID: queryInt64(r, "location_id"),
		Limit:      int(queryInt64(r, "limit")),
	}

	if h.cache != nil {
		key, err := h.cache.BuildKey(r.Context(), rc,
			strconv.FormatInt(filter.ProductID, 10), strconv.FormatInt(filter.LocationID, 10))
		if err == nil {
			levels, err := h.cache.FetchLevels(r.Context(), rc, key, func(ctx context.Context) ([]StockLevel, error) {
				return h.service.GetLevels(ctx, rc, filter)
			})
			if err == nil {
				httpx.JSON(w, http.StatusOK, levels)
				return
			}
			h.logger.Warn("level cache read failed", slog.Any("error", err))
		}
	}

	levels, err := h.service.GetLevels(r.Context(), rc, filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, levels)
}

func (h *Handler) handleLedger(w http.ResponseWriter, r *http.Request) {
	rc, err := shared.RequestContextFrom(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := LedgerFilter{
		ProductID:  queryInt64(r, "product_id"),
		LocationID: queryInt64(r, "location_id"),
		Limit:      int(queryInt64(r, "limit")),
	}
	if from := r.URL.Query().Get("from"); from != "" {
		if t, err := time.Parse("2006-01-02", from); err == nil {
			filter.From = t
		}
	}
	if to := r.URL.Query().Get("to"); to != "" {
		if t, err := time.Parse("2006-01-02", to); err == nil {
			filter.To = t.Add(24*time.Hour - time.Nanosecond)
		}
	}
	entries, err := h.service.GetLedger(r.Context(), rc, filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	rc, err := shared.RequestContextFrom(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	report, err := h.recon.Run(r.Context(), rc, queryInt64(r, "product_id"))
	if err != nil {
		h.logger.Error("reconciliation failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func queryInt64(r *http.Request, name string) int64 {
	v, _ := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	return v
}
