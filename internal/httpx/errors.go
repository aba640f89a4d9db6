package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"go.uber.org/zap"
)

type errorResponse struct {
	Error   string     `json:"error"`
	Message string     `json:"message"`
	Line    *lineError `json:"line,omitempty"`
}

type lineError struct {
	Index     int    `json:"index"`
	ProductID string `json:"product_id"`
	Requested int    `json:"requested,omitempty"`
	Available int    `json:"available,omitempty"`
}

var statusByKind = map[string]int{
	"invalid_input":         http.StatusBadRequest,
	"product_not_found":     http.StatusNotFound,
	"insufficient_stock":    http.StatusConflict,
	"auth_error":            http.StatusForbidden,
	"invalid_transition":    http.StatusConflict,
	"order_not_found":       http.StatusNotFound,
	"payment_gateway_error": http.StatusBadGateway,
	"duplicate_request":     http.StatusConflict,
	"partial_failure":       http.StatusInternalServerError,
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error kind to a status code. Internal errors are
// logged and answered with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := orders.KindOf(err)
	code, known := statusByKind[kind]
	if !known {
		logging.FromCtx(r.Context(), nil).Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal", Message: "internal error"})
		return
	}

	resp := errorResponse{Error: kind, Message: err.Error()}
	var le *orders.LineError
	if errors.As(err, &le) {
		resp.Line = &lineError{Index: le.Line, ProductID: le.ProductID, Requested: le.Requested, Available: le.Available}
	}
	writeJSON(w, code, resp)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_input", Message: msg})
}
