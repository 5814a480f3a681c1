package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/isdelr/storefront-be/internal/payment"
	"github.com/rs/zerolog/log"
)

const maxCartItems = 100

// CheckoutHandler opens hosted checkout sessions.
type CheckoutHandler struct {
	checkout payment.CheckoutCreator
	timeout  time.Duration
}

// NewCheckoutHandler creates a new CheckoutHandler.
func NewCheckoutHandler(checkout payment.CheckoutCreator, timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout, timeout: timeout}
}

// CheckoutPayload defines the structure for checkout requests.
type CheckoutPayload struct {
	Products []payment.CartItem `json:"products"`
}

// CreateSession validates the cart and returns the hosted checkout URL.
func (h *CheckoutHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var payload CheckoutPayload
	if !decodeJSON(w, r, &payload) {
		return
	}
	if len(payload.Products) == 0 || len(payload.Products) > maxCartItems {
		writeError(w, http.StatusBadRequest, "Cart is empty or too large.")
		return
	}
	for i := range payload.Products {
		payload.Products[i].Slug = strings.TrimSpace(payload.Products[i].Slug)
		if payload.Products[i].Slug == "" || payload.Products[i].Quantity < 1 {
			writeError(w, http.StatusBadRequest, "Every product needs a slug and a positive quantity.")
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	url, err := h.checkout.CreateCheckoutSession(ctx, payload.Products)
	if err != nil {
		log.Error().Err(err).Int("items", len(payload.Products)).Msg("Failed to create checkout session")
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}
