package cmd

import (
	"net/http"

	"call-reminder-backend/internal/alert"
	"call-reminder-backend/internal/handlers"
	"call-reminder-backend/internal/middleware"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// tokenProfiles is the profile service as both handler backend and token validator
type tokenProfiles interface {
	handlers.ProfileService
	middleware.TokenValidator
}

type routes struct {
	profiles  tokenProfiles
	reminders handlers.ReminderService
	sharing   handlers.SharingService
	billing   handlers.WebhookProcessor
	hub       *alert.Hub
	maxUpload int64
}

func newRouter(rt routes) http.Handler {
	profileHandler := handlers.NewProfileHandler(rt.profiles)
	reminderHandler := handlers.NewReminderHandler(rt.reminders, rt.maxUpload)
	sharingHandler := handlers.NewSharingHandler(rt.sharing)
	billingHandler := handlers.NewBillingHandler(rt.billing)
	wsHandler := handlers.NewWebSocketHandler(rt.hub, rt.profiles)

	r := chi.NewRouter()

	// Middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(corsMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Post("/profiles", profileHandler.Register)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(rt.profiles))

			r.Get("/profiles/me", profileHandler.Me)
			r.Get("/profiles/me/limits", profileHandler.Limits)
			r.Put("/profiles/me/push-token", profileHandler.UpdatePushToken)
			r.Put("/profiles/me/preferences", profileHandler.UpdatePreferences)
			r.Get("/profiles/search", profileHandler.Search)

			r.Post("/reminders", reminderHandler.CreateReminder)
			r.Get("/reminders", reminderHandler.ListReminders)
			r.Get("/reminders/shared", reminderHandler.ListShared)
			r.Get("/reminders/upcoming", reminderHandler.ListUpcoming)
			r.Get("/reminders/{id}", reminderHandler.GetReminder)
			r.Patch("/reminders/{id}", reminderHandler.UpdateReminder)
			r.Delete("/reminders/{id}", reminderHandler.DeleteReminder)
			r.Put("/reminders/{id}/status", reminderHandler.UpdateStatus)
			r.Post("/reminders/{id}/attachments", reminderHandler.AddAttachment)
			r.Get("/reminders/{id}/shares", sharingHandler.ListShares)
			r.Post("/reminders/{id}/shares", sharingHandler.ShareReminder)
			r.Delete("/reminders/{id}/shares/{user_id}", sharingHandler.RevokeShare)
		})
	})

	r.Post("/webhooks/billing", billingHandler.HandleWebhook)

	// WebSocket route
	r.Get("/ws", wsHandler.HandleWebSocket)

	return r
}

// corsMiddleware handles CORS
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
