package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"call-reminder-backend/internal/middleware"
	"call-reminder-backend/internal/models"
	"call-reminder-backend/internal/tier"

	"github.com/rs/zerolog/log"
)

// ProfileService is the profile logic the handler calls
type ProfileService interface {
	Register(ctx context.Context, email, displayName string) (*models.Profile, string, error)
	Get(ctx context.Context, userID string) (*models.Profile, error)
	UpdatePushToken(ctx context.Context, userID, pushToken string) error
	UpdatePreferences(ctx context.Context, userID string, prefs models.NotificationPreferences) (*models.Profile, error)
	Search(ctx context.Context, query string) ([]*models.Profile, error)
	Limits(ctx context.Context, userID string) (models.Tier, tier.Limits, error)
}

// ProfileHandler handles profile-related HTTP requests
type ProfileHandler struct {
	profiles ProfileService
}

// NewProfileHandler creates a new profile handler
func NewProfileHandler(profiles ProfileService) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

// RegisterRequest represents the request body for creating a profile
type RegisterRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// RegisterResponse carries the new profile and its token
type RegisterResponse struct {
	Profile *models.Profile `json:"profile"`
	Token   string          `json:"token"`
}

// PushTokenRequest represents the request body for a push token update
type PushTokenRequest struct {
	PushToken string `json:"push_token"`
}

// LimitsResponse describes what the caller's tier unlocks
type LimitsResponse struct {
	Tier   models.Tier `json:"tier"`
	Limits tier.Limits `json:"limits"`
}

// Register handles POST /api/v1/profiles
func (h *ProfileHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	profile, token, err := h.profiles.Register(ctx, req.Email, req.DisplayName)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create profile")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, RegisterResponse{Profile: profile, Token: token}, http.StatusCreated)
}

// Me handles GET /api/v1/profiles/me
func (h *ProfileHandler) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	profile, err := h.profiles.Get(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to get profile")
		respondServiceError(w, err)
		return
	}
	respondJSON(w, profile, http.StatusOK)
}

// Limits handles GET /api/v1/profiles/me/limits
func (h *ProfileHandler) Limits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	t, limits, err := h.profiles.Limits(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to get tier limits")
		respondServiceError(w, err)
		return
	}
	respondJSON(w, LimitsResponse{Tier: t, Limits: limits}, http.StatusOK)
}

// UpdatePushToken handles PUT /api/v1/profiles/me/push-token
func (h *ProfileHandler) UpdatePushToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req PushTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.profiles.UpdatePushToken(ctx, userID, req.PushToken); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to update push token")
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdatePreferences handles PUT /api/v1/profiles/me/preferences
func (h *ProfileHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var prefs models.NotificationPreferences
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	profile, err := h.profiles.UpdatePreferences(ctx, userID, prefs)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to update preferences")
		respondServiceError(w, err)
		return
	}
	respondJSON(w, profile, http.StatusOK)
}

// Search handles GET /api/v1/profiles/search?q=
func (h *ProfileHandler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	found, err := h.profiles.Search(ctx, r.URL.Query().Get("q"))
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to search profiles")
		respondServiceError(w, err)
		return
	}
	respondJSON(w, found, http.StatusOK)
}
