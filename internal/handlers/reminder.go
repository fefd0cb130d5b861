package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"call-reminder-backend/internal/apperr"
	"call-reminder-backend/internal/middleware"
	"call-reminder-backend/internal/models"
	"call-reminder-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// multipart parts beyond this are spooled to disk
const multipartMemory = 8 << 20

// ReminderService is the reminder logic the handler calls
type ReminderService interface {
	Create(ctx context.Context, callerID string, d services.Draft, media ...services.MediaInput) (*models.Reminder, error)
	Get(ctx context.Context, callerID, id string) (*models.Reminder, error)
	ListForUser(ctx context.Context, userID string) ([]*models.Reminder, error)
	ListShared(ctx context.Context, userID string) ([]*models.Reminder, error)
	ListUpcoming(ctx context.Context, userID string, hours int) ([]*models.Reminder, error)
	UpdateStatus(ctx context.Context, callerID, id string, status models.Status) (*models.Reminder, error)
	Update(ctx context.Context, callerID, id string, p services.Patch) (*models.Reminder, error)
	Delete(ctx context.Context, callerID, id string) error
	AddAttachment(ctx context.Context, callerID, id string, kind models.AttachmentKind, src services.Source) (*models.Reminder, error)
}

// ReminderHandler handles reminder-related HTTP requests
type ReminderHandler struct {
	reminders      ReminderService
	maxUploadBytes int64
}

// NewReminderHandler creates a new reminder handler
func NewReminderHandler(reminders ReminderService, maxUploadBytes int64) *ReminderHandler {
	return &ReminderHandler{
		reminders:      reminders,
		maxUploadBytes: maxUploadBytes,
	}
}

// ReminderResponse is a reminder plus a non-fatal warning
type ReminderResponse struct {
	*models.Reminder
	Warning string `json:"warning,omitempty"`
}

// PartialResponse is returned when the reminder was stored but a later step failed
type PartialResponse struct {
	Error    string           `json:"error"`
	Warning  string           `json:"warning,omitempty"`
	Reminder *models.Reminder `json:"reminder"`
}

// StatusRequest represents the request body for a status change
type StatusRequest struct {
	Status models.Status `json:"status"`
}

// CreateReminder handles POST /api/v1/reminders.
// The body is either a JSON draft or a multipart form with a "reminder" JSON
// field and "image", "video" and "file" parts.
func (h *ReminderHandler) CreateReminder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var (
		draft services.Draft
		media []services.MediaInput
		err   error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes*int64(maxFormParts)+multipartMemory)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			respondError(w, "Invalid multipart body", http.StatusBadRequest)
			return
		}
		defer r.MultipartForm.RemoveAll()

		if err := json.Unmarshal([]byte(r.FormValue("reminder")), &draft); err != nil {
			respondError(w, "reminder field must be a JSON object", http.StatusBadRequest)
			return
		}
		media, err = mediaFromForm(r.MultipartForm)
		if err != nil {
			respondError(w, err.Error(), http.StatusBadRequest)
			return
		}
	} else if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rem, err := h.reminders.Create(ctx, userID, draft, media...)
	if err == nil {
		respondJSON(w, ReminderResponse{Reminder: rem}, http.StatusCreated)
		return
	}
	if rem == nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to create reminder")
		respondServiceError(w, err)
		return
	}

	failure, warning := splitWarning(err)
	if warning != "" {
		log.Warn().Str("warning", warning).Str("user_id", userID).Str("reminder_id", rem.ID).Msg("Reminder created without a trigger")
	}
	if failure == nil {
		respondJSON(w, ReminderResponse{Reminder: rem, Warning: warning}, http.StatusCreated)
		return
	}

	log.Error().Err(failure).Str("user_id", userID).Str("reminder_id", rem.ID).Msg("Reminder created with failed attachments")
	status := statusFor(failure)
	message := failure.Error()
	if status == http.StatusInternalServerError {
		message = "Internal server error"
	}
	respondJSON(w, PartialResponse{Error: message, Warning: warning, Reminder: rem}, status)
}

// splitWarning separates the NotificationError in err from the failures next to it
func splitWarning(err error) (error, string) {
	errs := []error{err}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	}

	var (
		failures []error
		warning  string
	)
	for _, e := range errs {
		if errors.Is(e, apperr.ErrNotification) {
			warning = e.Error()
			continue
		}
		failures = append(failures, e)
	}
	return errors.Join(failures...), warning
}

// maxFormParts bounds the attachments accepted in one create request.
// Larger sets are rejected whole; more can be added one at a time.
const maxFormParts = 16

// mediaFromForm collects the file parts of a create form, rejecting the form
// when it holds unknown file fields or more than maxFormParts files.
func mediaFromForm(form *multipart.Form) ([]services.MediaInput, error) {
	total := 0
	for field, files := range form.File {
		if _, err := models.ParseAttachmentKind(field); err != nil {
			return nil, fmt.Errorf("unexpected file field %q", field)
		}
		total += len(files)
	}
	if total > maxFormParts {
		return nil, fmt.Errorf("at most %d attachments per request, got %d", maxFormParts, total)
	}

	media := make([]services.MediaInput, 0, total)
	for _, kind := range []models.AttachmentKind{models.KindImage, models.KindVideo, models.KindFile} {
		for _, fh := range form.File[string(kind)] {
			media = append(media, services.MediaInput{Kind: kind, Source: services.MultipartSource{Header: fh}})
		}
	}
	return media, nil
}

// ListReminders handles GET /api/v1/reminders
func (h *ReminderHandler) ListReminders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	list, err := h.reminders.ListForUser(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to list reminders")
		respondServiceError(w, err)
		return
	}
	respondJSON(w, list, http.StatusOK)
}

// ListShared handles GET /api/v1/reminders/shared
func (h *ReminderHandler) ListShared(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	list, err := h.reminders.ListShared(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to list shared reminders")
		respondServiceError(w, err)
		return
	}
	respondJSON(w, list, http.StatusOK)
}

// ListUpcoming handles GET /api/v1/reminders/upcoming?hours=
func (h *ReminderHandler) ListUpcoming(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	hours := 0
	if s := r.URL.Query().Get("hours"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			respondError(w, "hours must be a positive integer", http.StatusBadRequest)
			return
		}
		hours = n
	}

	list, err := h.reminders.ListUpcoming(ctx, userID, hours)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to list upcoming reminders")
		respondServiceError(w, err)
		return
	}
	respondJSON(w, list, http.StatusOK)
}

// GetReminder handles GET /api/v1/reminders/{id}
func (h *ReminderHandler) GetReminder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	id := chi.URLParam(r, "id")

	rem, err := h.reminders.Get(ctx, userID, id)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Str("reminder_id", id).Msg("Failed to get reminder")
		respondServiceError(w, err)
		return
	}
	respondJSON(w, rem, http.StatusOK)
}

// UpdateReminder handles PATCH /api/v1/reminders/{id}
func (h *ReminderHandler) UpdateReminder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	id := chi.URLParam(r, "id")

	var patch services.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rem, err := h.reminders.Update(ctx, userID, id, patch)
	switch {
	case err == nil:
		respondJSON(w, ReminderResponse{Reminder: rem}, http.StatusOK)
	case rem != nil && errors.Is(err, apperr.ErrNotification):
		log.Warn().Err(err).Str("user_id", userID).Str("reminder_id", id).Msg("Reminder updated without a trigger")
		respondJSON(w, ReminderResponse{Reminder: rem, Warning: err.Error()}, http.StatusOK)
	default:
		log.Error().Err(err).Str("user_id", userID).Str("reminder_id", id).Msg("Failed to update reminder")
		respondServiceError(w, err)
	}
}

// UpdateStatus handles PUT /api/v1/reminders/{id}/status
func (h *ReminderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	id := chi.URLParam(r, "id")

	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Status == "" {
		respondError(w, "status is required", http.StatusBadRequest)
		return
	}

	rem, err := h.reminders.UpdateStatus(ctx, userID, id, req.Status)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("reminder_id", id).
			Str("status", string(req.Status)).
			Msg("Failed to update reminder status")
		respondServiceError(w, err)
		return
	}
	respondJSON(w, rem, http.StatusOK)
}

// DeleteReminder handles DELETE /api/v1/reminders/{id}
func (h *ReminderHandler) DeleteReminder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	id := chi.URLParam(r, "id")

	if err := h.reminders.Delete(ctx, userID, id); err != nil {
		log.Error().Err(err).Str("user_id", userID).Str("reminder_id", id).Msg("Failed to delete reminder")
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddAttachment handles POST /api/v1/reminders/{id}/attachments?kind=image|video|file
func (h *ReminderHandler) AddAttachment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	id := chi.URLParam(r, "id")

	kind, err := models.ParseAttachmentKind(r.URL.Query().Get("kind"))
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		respondError(w, "Invalid multipart body", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["file"]
	if len(files) != 1 {
		respondError(w, "exactly one file part is required", http.StatusBadRequest)
		return
	}

	rem, err := h.reminders.AddAttachment(ctx, userID, id, kind, services.MultipartSource{Header: files[0]})
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("reminder_id", id).
			Str("kind", string(kind)).
			Msg("Failed to add attachment")
		respondServiceError(w, err)
		return
	}

	log.Info().Str("user_id", userID).Str("reminder_id", id).Str("kind", string(kind)).Msg("Attachment added")
	respondJSON(w, rem, http.StatusCreated)
}
