package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/ariefcatur/go-storefront-orders/internal/auth"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

type OrdersHandler struct {
	Orders *orders.Service
	Auth   auth.Gateway
}

type updateStatusReq struct {
	Status orders.FulfillmentStatus `json:"status"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Group(func(r chi.Router) {
		r.Use(auth.Protect(h.Auth))
		r.Post("/orders", h.createOrder)
		r.Get("/orders/mine", h.myOrders)
		r.Get("/orders/{id}", h.getOrder)
		r.With(auth.Operator).Get("/orders", h.allOrders)
		r.With(auth.Operator).Put("/orders/{id}/status", h.updateStatus)
	})
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.PlaceOrderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	req.IdempotencyKey = r.Header.Get("Idempotency-Key")

	buyer, _ := auth.FromContext(r.Context())
	order, err := h.Orders.PlaceOrder(r.Context(), buyer, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *OrdersHandler) myOrders(w http.ResponseWriter, r *http.Request) {
	buyer, _ := auth.FromContext(r.Context())
	list, err := h.Orders.ListOrdersForBuyer(r.Context(), buyer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) allOrders(w http.ResponseWriter, r *http.Request) {
	op, _ := auth.FromContext(r.Context())
	list, err := h.Orders.ListAllOrders(r.Context(), op)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.FromContext(r.Context())
	order, err := h.Orders.GetOrder(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusReq
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	op, _ := auth.FromContext(r.Context())
	order, err := h.Orders.UpdateFulfillmentStatus(r.Context(), op, chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ps, err := h.Orders.ListProducts(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ps == nil {
		ps = []orders.Product{}
	}
	writeJSON(w, http.StatusOK, ps)
}
