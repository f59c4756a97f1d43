package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

// writeError maps hub and catalogue errors onto status codes.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	var short *orders.InsufficientStockError
	var bad *orders.InvalidTransitionError
	var unknown *orders.UnknownOrderError

	switch {
	case errors.As(err, &short):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      err.Error(),
			"shortfalls": short.Shortfalls,
		})
	case errors.As(err, &bad):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     err.Error(),
			"order_id":  bad.OrderID,
			"current":   bad.From,
			"attempted": bad.To,
		})
	case errors.Is(err, orders.ErrNotInFulfillment):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.As(err, &unknown), errors.Is(err, orders.ErrUnknownProduct):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, orders.ErrEmptyBasket), errors.Is(err, orders.ErrInvalidQuantity):
		badRequest(w, err.Error())
	default:
		log.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
