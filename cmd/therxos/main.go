package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/therxos/therxos-backend-sub002/internal/config"
	"github.com/therxos/therxos-backend-sub002/internal/domain/discovery"
	"github.com/therxos/therxos-backend-sub002/internal/domain/dispensing"
	"github.com/therxos/therxos-backend-sub002/internal/domain/opportunity"
	"github.com/therxos/therxos-backend-sub002/internal/domain/scan"
	"github.com/therxos/therxos-backend-sub002/internal/domain/trigger"
	"github.com/therxos/therxos-backend-sub002/internal/platform/db"
	"github.com/therxos/therxos-backend-sub002/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "therxos",
		Short: "Pharmacy opportunity discovery engine",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(runScanCmd())
	rootCmd.AddCommand(runDiscoveryScanCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

// engine bundles the repositories and services every subcommand wires the
// same way.
type engine struct {
	cfg  *config.Config
	pool *pgxpool.Pool

	records  dispensing.Repository
	triggers trigger.Repository
	opps     opportunity.Repository
	logs     scan.LogRepository
	queue    discovery.Repository
	coverage discovery.CoverageRepository
	trigSvc  *trigger.Service
	oppSvc   *opportunity.Service
	orch     *scan.Orchestrator
	scanner  *discovery.Scanner
	reviewQ  *discovery.Queue
}

func newEngine(ctx context.Context, logger zerolog.Logger) (*engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	e := &engine{cfg: cfg, pool: pool}
	e.records = dispensing.NewRepoPG(pool)
	e.triggers = trigger.NewRepoPG(pool)
	e.opps = opportunity.NewRepoPG(pool, cfg.UpsertBatchSize)
	e.logs = scan.NewLogRepoPG(pool)
	e.queue = discovery.NewRepoPG(pool)
	e.coverage = discovery.NewCoverageRepoPG(pool)

	e.trigSvc = trigger.NewService(e.triggers, e.opps)
	e.oppSvc = opportunity.NewService(e.opps)

	e.orch = scan.NewOrchestrator(e.records, e.triggers,
		opportunity.NewReconciler(e.opps), e.logs, scan.Options{
			Workers:             cfg.ScanWorkers,
			LookbackDays:        cfg.ScanLookbackDays,
			GPCacheLookbackDays: cfg.GPCacheLookback,
			MinValue:            cfg.MinOpportunityGP,
			PatientHistoryDays:  cfg.PatientHistoryDays,
		}, logger)

	e.scanner = discovery.NewScanner(e.records, e.triggers, e.queue,
		e.coverage, e.logs, discovery.Options{
			LookbackDays:  cfg.DiscoveryLookbackDays,
			MinFills:      cfg.DiscoveryMinFills,
			MaxAvgGP:      cfg.DiscoveryMaxAvgGP,
			AltMinFills:   cfg.DiscoveryAltMinFills,
			AltMinAvgGP:   cfg.DiscoveryAltMinAvgGP,
			MinAnnualGain: cfg.DiscoveryMinAnnualGain,
		}, logger)
	e.reviewQ = discovery.NewQueue(e.queue, e.trigSvc, pool)

	return e, nil
}

func (e *engine) Close() {
	e.pool.Close()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the ops API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	logger := newLogger()

	ctx := context.Background()
	eng, err := newEngine(ctx, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start")
	}
	defer eng.Close()
	logger.Info().Msg("connected to database")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", middleware.APIKeyHeader},
	}))

	e.GET("/healthz", db.HealthHandler(eng.pool, db.NewMigrator(eng.pool, eng.cfg.MigrationsDir)))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.APIKey(eng.cfg.APIKey))

	trigger.NewHandler(eng.trigSvc).RegisterRoutes(apiV1)
	opportunity.NewHandler(eng.oppSvc).RegisterRoutes(apiV1)
	scan.NewHandler(eng.orch, eng.logs).RegisterRoutes(apiV1)
	discovery.NewHandler(eng.scanner, eng.reviewQ).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + eng.cfg.Port
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

func runScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run-scan",
		Short: "Run one opportunity scan and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			pharmacy, _ := cmd.Flags().GetString("pharmacy")

			logger := newLogger()
			ctx := context.Background()
			eng, err := newEngine(ctx, logger)
			if err != nil {
				return err
			}
			defer eng.Close()

			var pharmacyID *uuid.UUID
			if pharmacy != "" && pharmacy != "all" {
				id, err := uuid.Parse(pharmacy)
				if err != nil {
					return fmt.Errorf("invalid --pharmacy %q: %w", pharmacy, err)
				}
				pharmacyID = &id
			}

			runLog, err := eng.orch.Run(ctx, pharmacyID)
			if err != nil {
				return fmt.Errorf("scan failed: %w", err)
			}
			// A run with zero matches still exits 0; absence of
			// opportunities is a valid outcome.
			fmt.Printf("Scan %s completed: %d pharmacies, %d records scanned, %d matched, %d inserted, %d updated, %d cleared, %d errors.\n",
				runLog.ID, runLog.Pharmacies, runLog.Scanned, runLog.Matched,
				runLog.Inserted, runLog.Updated, runLog.Cleared, runLog.Errored)
			return nil
		},
	}
	cmd.Flags().String("pharmacy", "all", "Pharmacy ID to scan, or 'all'")
	return cmd
}

func runDiscoveryScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-discovery-scan",
		Short: "Run one discovery scan and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := context.Background()
			eng, err := newEngine(ctx, logger)
			if err != nil {
				return err
			}
			defer eng.Close()

			runLog, err := eng.scanner.Run(ctx)
			if err != nil {
				return fmt.Errorf("discovery scan failed: %w", err)
			}
			fmt.Printf("Discovery scan %s completed: %d combinations examined, %d losers, %d proposals created, %d skipped.\n",
				runLog.ID, runLog.Scanned, runLog.Matched, runLog.Inserted, runLog.Skipped)
			return nil
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
