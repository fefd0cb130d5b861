package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"call-reminder-backend/internal/middleware"
	"call-reminder-backend/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// SharingService is the sharing logic the handler calls
type SharingService interface {
	Share(ctx context.Context, callerID, reminderID, targetID string, perm models.Permission) (*models.SharedReminder, error)
	Revoke(ctx context.Context, callerID, reminderID, targetID string) error
	List(ctx context.Context, callerID, reminderID string) ([]*models.SharedReminder, error)
}

// SharingHandler handles share-related HTTP requests
type SharingHandler struct {
	sharing SharingService
}

// NewSharingHandler creates a new sharing handler
func NewSharingHandler(sharing SharingService) *SharingHandler {
	return &SharingHandler{sharing: sharing}
}

// ShareRequest represents the request body for sharing a reminder
type ShareRequest struct {
	SharedWith string            `json:"shared_with"`
	Permission models.Permission `json:"permission"`
}

// ShareReminder handles POST /api/v1/reminders/{id}/shares
func (h *SharingHandler) ShareReminder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	id := chi.URLParam(r, "id")

	var req ShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	share, err := h.sharing.Share(ctx, userID, id, req.SharedWith, req.Permission)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("reminder_id", id).
			Str("shared_with", req.SharedWith).
			Msg("Failed to share reminder")
		respondServiceError(w, err)
		return
	}
	respondJSON(w, share, http.StatusCreated)
}

// ListShares handles GET /api/v1/reminders/{id}/shares
func (h *SharingHandler) ListShares(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	id := chi.URLParam(r, "id")

	shares, err := h.sharing.List(ctx, userID, id)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Str("reminder_id", id).Msg("Failed to list shares")
		respondServiceError(w, err)
		return
	}
	respondJSON(w, shares, http.StatusOK)
}

// RevokeShare handles DELETE /api/v1/reminders/{id}/shares/{user_id}
func (h *SharingHandler) RevokeShare(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	id := chi.URLParam(r, "id")
	target := chi.URLParam(r, "user_id")

	if err := h.sharing.Revoke(ctx, userID, id, target); err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("reminder_id", id).
			Str("shared_with", target).
			Msg("Failed to revoke share")
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
