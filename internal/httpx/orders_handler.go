package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/catalog"
	"github.com/ariefcatur/go-shop-orders/internal/hub"
	"github.com/ariefcatur/go-shop-orders/internal/notify"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Handler struct {
	Hub     *hub.Hub
	Catalog catalog.Store
	Board   *notify.Board
	Redis   redis.Cmdable // optional status cache
	Log     *zap.Logger
}

type CheckoutReq struct {
	Items []orders.BasketItem `json:"items"`
}

type AdvanceReq struct {
	TargetState orders.State `json:"target_state"`
}

type OrderResp struct {
	orders.Order
	Total   decimal.Decimal `json:"total"`
	Partial bool            `json:"partial,omitempty"`
}

type BoardResp struct {
	Version    uint64               `json:"version"`
	Counts     map[orders.State]int `json:"counts"`
	Queue      []orders.Order       `json:"queue"`
	InProgress []orders.Order       `json:"in_progress"`
	Recent     []orders.Order       `json:"recent"`
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Put("/products/{id}", h.upsertProduct)
	r.Get("/products/{id}/stock", h.productStock)

	r.Post("/checkout", h.checkout)
	r.Get("/orders", h.listOrders)
	r.Route("/orders/{id}", func(r chi.Router) {
		r.Get("/", h.getOrder)
		r.Get("/fulfillment", h.fulfillment)
		r.Post("/advance", h.advance)
		r.Post("/cancel", h.cancel)
	})

	if h.Board != nil {
		r.Get("/board", h.board)
	}
}

func toResp(o orders.Order) OrderResp { return OrderResp{Order: o, Total: o.Total()} }

func orderID(r *http.Request) (orders.OrderID, bool) {
	n, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return orders.OrderID(n), true
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Hub.CreateOrder(ctx, req.Items)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResp(o))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	var states []orders.State
	if q := r.URL.Query().Get("state"); q != "" {
		for _, v := range strings.Split(q, ",") {
			s, err := orders.ParseState(strings.TrimSpace(v))
			if err != nil {
				badRequest(w, err.Error())
				return
			}
			states = append(states, s)
		}
	}

	list := h.Hub.Orders(states...)
	out := make([]OrderResp, 0, len(list))
	for _, o := range list {
		out = append(out, toResp(o))
	}
	writeJSON(w, http.StatusOK, out)
}

// getOrder answers from the live index, then the record store. The status
// cache is only consulted when the record store fails; such answers carry no
// line items and are marked partial.
func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(r)
	if !ok {
		badRequest(w, "invalid order id")
		return
	}
	if o, err := h.Hub.Order(id); err == nil {
		writeJSON(w, http.StatusOK, toResp(o))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Hub.Lookup(ctx, id)
	if err == nil {
		writeJSON(w, http.StatusOK, toResp(o))
		return
	}
	var unknown *orders.UnknownOrderError
	if errors.As(err, &unknown) || h.Redis == nil {
		writeError(w, h.Log, err)
		return
	}

	st, hit, cerr := notify.CachedStatus(ctx, h.Redis, id)
	if cerr != nil {
		h.Log.Warn("status cache read", zap.Int64("order_id", int64(id)), zap.Error(cerr))
	}
	if !hit {
		writeError(w, h.Log, err)
		return
	}
	h.Log.Warn("order served from status cache", zap.Int64("order_id", int64(id)), zap.Error(err))
	resp := toResp(orders.Order{ID: st.OrderID, State: st.State, UpdatedAt: st.UpdatedAt})
	resp.Partial = true
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) fulfillment(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(r)
	if !ok {
		badRequest(w, "invalid order id")
		return
	}
	o, err := h.Hub.FulfillmentDetail(id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toResp(o))
}

// advance moves the order to target_state, or to its next state when the
// body names none.
func (h *Handler) advance(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(r)
	if !ok {
		badRequest(w, "invalid order id")
		return
	}
	var req AdvanceReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "invalid json")
		return
	}
	if req.TargetState == "" {
		cur, err := h.Hub.Order(id)
		if err != nil {
			writeError(w, h.Log, err)
			return
		}
		next, ok := cur.State.Next()
		if !ok {
			writeError(w, h.Log, &orders.InvalidTransitionError{OrderID: id, From: cur.State, To: cur.State})
			return
		}
		req.TargetState = next
	} else if !req.TargetState.Valid() {
		badRequest(w, "unknown target_state")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Hub.Advance(ctx, id, req.TargetState)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toResp(o))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(r)
	if !ok {
		badRequest(w, "invalid order id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Hub.Cancel(ctx, id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toResp(o))
}

func (h *Handler) board(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, BoardResp{
		Version:    h.Board.Version(),
		Counts:     h.Board.Counts(),
		Queue:      h.Board.Queue(),
		InProgress: h.Board.InProgress(),
		Recent:     h.Board.Recent(),
	})
}
