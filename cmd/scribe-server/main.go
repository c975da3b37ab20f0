package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medscribe/console/internal/chat"
	"github.com/medscribe/console/internal/config"
	"github.com/medscribe/console/internal/media"
	"github.com/medscribe/console/internal/patient"
	"github.com/medscribe/console/internal/platform/auth"
	"github.com/medscribe/console/internal/platform/db"
	"github.com/medscribe/console/internal/platform/engine"
	"github.com/medscribe/console/internal/platform/middleware"
	"github.com/medscribe/console/internal/soap"
	"github.com/medscribe/console/internal/workflow"
)

// chatSummarySource resolves the summary the chat assistant answers against:
// the patient's latest record first, the clinician's cached draft second.
type chatSummarySource struct {
	patients *patient.Service
	wf       *workflow.Service
}

func (s *chatSummarySource) Latest(ctx context.Context, session string, patientID int64) (soap.Sections, bool, error) {
	entry, err := s.patients.Latest(ctx, session, patientID)
	if err != nil {
		return soap.Sections{}, false, err
	}
	if entry == nil {
		return soap.Sections{}, false, nil
	}
	return entry.Sections, true, nil
}

func (s *chatSummarySource) CachedDraft(ctx context.Context, userID string) (soap.Sections, bool, error) {
	return s.wf.CachedDraft(ctx, userID)
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "scribe-server",
		Short: "Clinician console for the medical scribe engine",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the console API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Scribe engine client
	eng := engine.NewClient(engine.ClientConfig{
		BaseURL: cfg.EngineURL,
		Timeout: cfg.EngineTimeout(),
	})

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.NoStore())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	}))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})

	// Console session layer
	sessionMgr := auth.NewManager(cfg.SessionSecret, cfg.SessionTTL())
	authHandler := auth.NewHandler(sessionMgr, eng, !cfg.IsDev())
	authHandler.RegisterRoutes(e)

	apiV1 := e.Group("/api/v1")
	apiV1.Use(auth.Middleware(sessionMgr))

	// Workflow
	draftRepo := workflow.NewDraftCacheRepoPG(pool)
	wfSvc := workflow.NewService(workflow.NewStore(), eng, draftRepo, logger)
	workflow.NewHandler(wfSvc).RegisterRoutes(apiV1)

	// Patients and consultation history
	patientSvc := patient.NewService(eng, logger)
	patient.NewHandler(patientSvc).RegisterRoutes(apiV1)

	// Patient chat
	chatSource := &chatSummarySource{patients: patientSvc, wf: wfSvc}
	chatSvc := chat.NewService(eng, chatSource, logger)
	chat.NewHandler(chatSvc).RegisterRoutes(apiV1)

	// Audio playback
	media.NewHandler(eng, media.NewRegistry(), logger).RegisterRoutes(apiV1)

	// Start server
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		ReadTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("starting server")
		if err := e.StartServer(srv); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
