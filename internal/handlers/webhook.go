package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"call-reminder-backend/internal/services"

	"github.com/rs/zerolog/log"
)

const (
	signatureHeader = "Stripe-Signature"
	maxWebhookBytes = 64 << 10
)

// WebhookProcessor applies a signed billing event
type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// BillingHandler handles billing provider webhooks
type BillingHandler struct {
	billing WebhookProcessor
}

// NewBillingHandler creates a new billing handler
func NewBillingHandler(billing WebhookProcessor) *BillingHandler {
	return &BillingHandler{billing: billing}
}

// HandleWebhook handles POST /webhooks/billing
func (h *BillingHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.billing.HandleWebhook(r.Context(), payload, r.Header.Get(signatureHeader)); err != nil {
		if errors.Is(err, services.ErrInvalidSignature) {
			log.Warn().Err(err).Msg("Rejected billing webhook")
			respondError(w, "invalid signature", http.StatusBadRequest)
			return
		}
		log.Error().Err(err).Msg("Failed to process billing webhook")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, map[string]bool{"received": true}, http.StatusOK)
}
