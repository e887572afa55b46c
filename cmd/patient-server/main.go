package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pm-health/patient-service/internal/config"
	"github.com/pm-health/patient-service/internal/domain/billing"
	"github.com/pm-health/patient-service/internal/domain/patient"
	"github.com/pm-health/patient-service/internal/platform/analytics"
	"github.com/pm-health/patient-service/internal/platform/auth"
	"github.com/pm-health/patient-service/internal/platform/db"
	"github.com/pm-health/patient-service/internal/platform/events"
	"github.com/pm-health/patient-service/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "patient-server",
		Short: "Patient management API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(billingGatewayCmd())
	rootCmd.AddCommand(analyticsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the patient API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Logger
	logger := newLogger(cfg)

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Event publisher. Without a broker URL events stay in process, which is
	// only suitable for a single-node deployment.
	var publisher events.Publisher
	if cfg.NATSURL != "" {
		natsPub, err := events.NewNATSPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Fatal().Err(err).Str("url", cfg.NATSURL).Msg("failed to connect to NATS")
		}
		publisher = natsPub
		logger.Info().Str("url", cfg.NATSURL).Msg("connected to NATS")
	} else {
		publisher = events.NewMemoryPublisher()
		logger.Warn().Msg("NATS_URL not set, events stay in process")
	}
	defer publisher.Close()

	// Billing gateway client. The server runs without billing when no
	// address is configured; account provisioning is then skipped.
	var billingClient patient.BillingClient
	if cfg.BillingAddr != "" {
		client, err := billing.NewClient(cfg.BillingAddr, cfg.BillingTimeout)
		if err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.BillingAddr).Msg("failed to set up billing client")
		}
		defer client.Close()
		billingClient = client
		logger.Info().Str("addr", cfg.BillingAddr).Msg("billing gateway configured")
	} else {
		logger.Warn().Msg("BILLING_ADDR not set, account provisioning disabled")
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// API group
	api := e.Group("/api/v1")

	// Auth
	if cfg.AuthSecret != "" {
		secret := []byte(cfg.AuthSecret)
		tokenHandler := auth.NewTokenHandler(secret, []auth.Credential{
			{Email: "admin@example.com", Password: os.Getenv("ADMIN_PASSWORD"), Roles: []string{"admin"}},
		})
		tokenHandler.RegisterRoutes(api)
		api.Use(auth.JWTMiddleware(secret))
	} else {
		api.Use(auth.DevAuthMiddleware())
	}

	// Patient domain
	repo := patient.NewRepo(pool)
	svc := patient.NewService(repo, publisher, billingClient, logger)
	handler := patient.NewHandler(svc)
	handler.RegisterRoutes(api)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
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

	// migrate status
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

func billingGatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "billing-gateway",
		Short: "Start the billing gateway gRPC server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				logger.Fatal().Err(err).Msg("failed to connect to database")
			}
			defer pool.Close()
			logger.Info().Msg("connected to database")

			repo := billing.NewRepo(pool)
			svc := billing.NewService(repo, logger)
			srv := billing.NewGRPCServer(svc, logger)

			addr := ":" + cfg.GRPCPort
			lis, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", addr, err)
			}

			go func() {
				logger.Info().Str("addr", addr).Msg("starting billing gateway")
				if err := srv.Serve(lis); err != nil {
					logger.Fatal().Err(err).Msg("billing gateway error")
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			logger.Info().Msg("shutting down billing gateway")
			srv.GracefulStop()
			logger.Info().Msg("billing gateway stopped")
			return nil
		},
	}
}

func analyticsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analytics",
		Short: "Start the analytics event consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			if cfg.NATSURL == "" {
				return fmt.Errorf("NATS_URL is required for the analytics consumer")
			}

			sub, err := events.NewNATSSubscriber(cfg.NATSURL)
			if err != nil {
				return fmt.Errorf("connect to NATS: %w", err)
			}
			defer sub.Close()
			logger.Info().Str("url", cfg.NATSURL).Msg("connected to NATS")

			consumer := analytics.NewConsumer(sub, logger)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := consumer.Run(ctx, "patient.*"); err != nil {
				return err
			}

			stats := consumer.Stats()
			logger.Info().
				Int64("total", stats.Total).
				Int64("malformed", stats.Malformed).
				Msg("analytics consumer stopped")
			return nil
		},
	}
}
