package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ariefcatur/go-storefront-orders/internal/auth"
	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxWebhookBytes = 1 << 20

// WebhookParser verifies a gateway notification and extracts the payment
// outcome it carries.
type WebhookParser interface {
	Parse(payload []byte, signature string) (orders.PaymentConfirmation, bool, error)
}

type PaymentsHandler struct {
	Orders  *orders.Service
	Auth    auth.Gateway
	Webhook WebhookParser // nil disables the webhook route
}

type intentResp struct {
	IntentID     string       `json:"intent_id"`
	ClientSecret string       `json:"clientSecret"`
	Order        orders.Order `json:"order"`
}

func (h *PaymentsHandler) Register(r chi.Router) {
	r.With(auth.Protect(h.Auth)).Post("/payments/intents", h.createIntent)
	if h.Webhook != nil {
		r.Post("/payments/webhook", h.webhook)
	}
}

func (h *PaymentsHandler) createIntent(w http.ResponseWriter, r *http.Request) {
	var req orders.PaymentIntentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	buyer, _ := auth.FromContext(r.Context())
	res, err := h.Orders.CreatePaymentIntent(r.Context(), buyer, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, intentResp{IntentID: res.IntentID, ClientSecret: res.ClientSecret, Order: res.Order})
}

// webhook acknowledges deliveries that can never apply (oversized body,
// verified event without an order, unknown order, payment already resolved
// the other way) so the gateway stops redelivering them. A bad signature
// answers 400; storage errors answer 500 and are redelivered.
func (h *PaymentsHandler) webhook(w http.ResponseWriter, r *http.Request) {
	log := logging.FromCtx(r.Context(), nil)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			log.Error("webhook body over limit, dropped", zap.Int64("limit", tooBig.Limit))
			writeJSON(w, http.StatusOK, map[string]bool{"received": true})
			return
		}
		badRequest(w, "unreadable body")
		return
	}
	c, handled, err := h.Webhook.Parse(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, orders.ErrAuth) {
			log.Warn("webhook rejected", zap.Error(err))
			badRequest(w, err.Error())
			return
		}
		log.Warn("webhook event not applicable", zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}
	if !handled {
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	if _, err := h.Orders.ConfirmPayment(r.Context(), c); err != nil {
		if errors.Is(err, orders.ErrInvalidTransition) || errors.Is(err, orders.ErrOrderNotFound) {
			log.Warn("webhook outcome not applied", zap.String("order_id", c.OrderID), zap.Error(err))
			writeJSON(w, http.StatusOK, map[string]bool{"received": true})
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
