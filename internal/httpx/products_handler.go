package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type UpsertProductReq struct {
	Description string          `json:"description"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Stock       int             `json:"stock"`
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Catalog.ListProducts(ctx)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *Handler) upsertProduct(w http.ResponseWriter, r *http.Request) {
	var req UpsertProductReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.Stock < 0 || req.UnitPrice.IsNegative() {
		badRequest(w, "stock and unit_price must not be negative")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p := orders.Product{
		ID:          chi.URLParam(r, "id"),
		Description: req.Description,
		UnitPrice:   req.UnitPrice,
		Stock:       req.Stock,
	}
	if err := h.Catalog.UpsertProduct(ctx, p); err != nil {
		writeError(w, h.Log, err)
		return
	}
	p, err := h.Catalog.Product(ctx, p.ID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) productStock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	a, err := h.Hub.Allocation(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
