package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"call-reminder-backend/internal/alert"
	"call-reminder-backend/internal/config"
	"call-reminder-backend/internal/events"
	"call-reminder-backend/internal/logger"
	"call-reminder-backend/internal/push"
	"call-reminder-backend/internal/repository"
	"call-reminder-backend/internal/scheduler"
	"call-reminder-backend/internal/services"
	"call-reminder-backend/internal/storage"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const deliveryTimeout = 10 * time.Second

var configPath string

var rootCmd = &cobra.Command{
	Use:           "call-reminder-backend",
	Short:         "Call-style reminder service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, websocket alerts and the reminder scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cfg)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := context.Background()
		db, err := connect(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := repository.Migrate(ctx, db); err != nil {
			return err
		}
		log.Info().Msg("Schema applied")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the YAML config file")
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

// Execute runs the command line
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

func connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	db, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	log.Info().Msg("Database connection established")
	return db, nil
}

func newPushSender(cfg config.APNsConfig) (push.Sender, error) {
	if cfg.KeyFile == "" {
		log.Warn().Msg("APNs not configured, push alerts are only logged")
		return push.LogSender{}, nil
	}
	sender, err := push.NewAPNsSender(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create APNs sender: %w", err)
	}
	return sender, nil
}

func serve(cfg *config.Config) error {
	ctx := context.Background()

	db, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// Initialize repositories
	reminderRepo := repository.NewReminderRepository(db)
	shareRepo := repository.NewSharedReminderRepository(db)
	profileRepo := repository.NewProfileRepository(db)

	blob, err := storage.NewS3Store(ctx, cfg.AWS)
	if err != nil {
		return fmt.Errorf("failed to create blob store: %w", err)
	}
	sender, err := newPushSender(cfg.APNs)
	if err != nil {
		return err
	}

	// Event plumbing
	bus := events.NewBus()
	hub := alert.NewHub(bus)
	sched := scheduler.New(scheduler.NewCronTimer(), reminderRepo, bus, cfg.Scheduler.RearmTimeout)

	// Initialize services
	profileService := services.NewProfileService(profileRepo, cfg.JWT.Secret)
	media := services.NewAttachmentManager(blob, cfg.Media.MaxUploadBytes)
	reminderService := services.NewReminderService(reminderRepo, shareRepo, profileRepo, media, sched)
	sharingService := services.NewSharingService(reminderRepo, shareRepo, profileRepo, hub)
	billingService := services.NewBillingService(profileService, cfg.Billing.WebhookSecret, cfg.Billing.Tolerance)
	dispatcher := services.NewDeliveryDispatcher(profileRepo, hub, sender, deliveryTimeout)
	hub.SetFallback(dispatcher.Fallback)

	dispatcher.Start(bus, cfg.Scheduler.EventBuffer, cfg.Scheduler.DeliveryWorkers)
	if err := sched.Start(ctx); err != nil {
		dispatcher.Stop()
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	router := newRouter(routes{
		profiles:  profileService,
		reminders: reminderService,
		sharing:   sharingService,
		billing:   billingService,
		hub:       hub,
		maxUpload: cfg.Media.MaxUploadBytes,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		log.Error().Err(err).Msg("Server failed")
	}

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	sched.Stop()
	dispatcher.Stop()
	hub.Close()
	bus.Close()

	log.Info().Msg("Server exited")
	return nil
}
