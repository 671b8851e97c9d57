package inventory

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

func newTestServer(t *testing.T) (*fixture, *httptest.Server) {
	t.Helper()
	f := defaultFixture()
	handler := NewHandler(newTestLogger(), f.svc, nil, NewReconciler(f.repo, newTestLogger()), nil)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.Header.Get("X-Scope") == "none" {
				next.ServeHTTP(w, req)
				return
			}
			ctx := shared.ContextWithRequestContext(req.Context(), testScope())
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Route("/api/inventory", handler.MountRoutes)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return f, srv
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestHandleReceiveStock(t *testing.T) {
	f, srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/inventory/receipts", `{
		"supplier_id": 7,
		"reference": "PO-1001",
		"items": [
			{"product_id": 1, "qty": "10", "unit_cost": "26000", "batch_number": "B-1"},
			{"product_id": 2, "qty": "4"}
		]
	}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var payload struct {
		Success bool   `json:"success"`
		Number  string `json:"number"`
		ID      int64  `json:"id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.True(t, payload.Success)
	require.Regexp(t, `^GRN-\d{4}-0001$`, payload.Number)
	require.NotZero(t, payload.ID)
	require.Len(t, f.repo.ledger, 2)
}

func TestHandleReceiveStockRejectsEmptyItems(t *testing.T) {
	_, srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/inventory/receipts", `{"items": []}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleReceiveStockRejectsBadJSON(t *testing.T) {
	_, srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/inventory/receipts", `{"items": [`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleReceiveStockWithoutScope(t *testing.T) {
	_, srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/inventory/receipts",
		strings.NewReader(`{"items":[{"product_id":1,"qty":"1"}]}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Scope", "none")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandlePurchaseReturnExceedingCap(t *testing.T) {
	f, srv := newTestServer(t)
	receipt := receiveFixture(t, f)

	resp := postJSON(t, srv.URL+"/api/inventory/purchase-returns", `{
		"receipt_id": `+jsonInt(receipt.Receipt.ID)+`,
		"lines": [{"receipt_line_id": `+jsonInt(receipt.Lines[0].ID)+`, "qty": "99"}]
	}`)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestHandleAdjustmentUnknownReason(t *testing.T) {
	_, srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/inventory/adjustments", `{
		"reason_code": "shrinkage",
		"lines": [{"product_id": 1, "location_id": 1, "current_qty": "5", "new_qty": "4"}]
	}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleLevelsAndLedger(t *testing.T) {
	f, srv := newTestServer(t)
	receiveFixture(t, f)

	resp, err := http.Get(srv.URL + "/api/inventory/levels?product_id=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var levels []StockLevel
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&levels))
	require.Len(t, levels, 1)

	resp2, err := http.Get(srv.URL + "/api/inventory/ledger?product_id=1")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var entries []LedgerEntry
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&entries))
	require.Len(t, entries, 1)
}

func TestHandleReconcile(t *testing.T) {
	f, srv := newTestServer(t)
	receiveFixture(t, f)

	resp, err := http.Get(srv.URL + "/api/inventory/reconcile")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report ReconcileReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	require.True(t, report.Clean())
	require.Equal(t, 1, report.LevelsChecked)
}

func jsonInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
