package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dentaldesk/dentaldesk/internal/config"
	"github.com/dentaldesk/dentaldesk/internal/domain/clinical"
	"github.com/dentaldesk/dentaldesk/internal/domain/identity"
	"github.com/dentaldesk/dentaldesk/internal/domain/scheduling"
	"github.com/dentaldesk/dentaldesk/internal/platform/auth"
	"github.com/dentaldesk/dentaldesk/internal/platform/cache"
	"github.com/dentaldesk/dentaldesk/internal/platform/db"
	"github.com/dentaldesk/dentaldesk/internal/platform/metrics"
	"github.com/dentaldesk/dentaldesk/internal/platform/middleware"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "dentaldesk-server",
		Short: "Dental clinic scheduling API server",
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
		Short: "Start the API server",
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

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withMigrator(dir, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withMigrator(dir, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				fmt.Printf("%-8s %-40s %s\n", "VERSION", "NAME", "APPLIED")
				for _, s := range statuses {
					applied := "pending"
					if s.Applied && s.AppliedAt != nil {
						applied = s.AppliedAt.Format(time.RFC3339)
					}
					fmt.Printf("%-8d %-40s %s\n", s.Version, s.Name, applied)
				}
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func withMigrator(dir string, fn func(ctx context.Context, m *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if dir == "" {
		dir = cfg.MigrationsDir
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: 2})
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, dir))
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(level).With().Timestamp().Logger()
	}
	return logger
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:              cfg.DatabaseURL,
		MaxConns:         cfg.DBMaxConns,
		MinConns:         cfg.DBMinConns,
		StatementTimeout: cfg.StoreTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Redis is optional; without it availability is computed on every query.
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = cache.NewClient(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Msg("redis unreachable, availability cache will be bypassed until it recovers")
		} else {
			logger.Info().Msg("connected to redis")
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	e, err := newServer(serverDeps{cfg: cfg, logger: logger, pool: pool, redis: rdb, registry: reg})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}

	// Start server
	addr := ":" + cfg.Port
	go func() {
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Graceful shutdown
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

type serverDeps struct {
	cfg      *config.Config
	logger   zerolog.Logger
	pool     *pgxpool.Pool
	redis    *redis.Client
	registry *prometheus.Registry
}

// newServer wires middleware, domain services and routes. It performs no I/O.
func newServer(d serverDeps) (*echo.Echo, error) {
	cfg := d.cfg
	cal, err := calendarFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(d.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(d.logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.SecurityHeaders(cfg.TLSEnabled))
	e.Use(middleware.BodyLimit("1M", "16K"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/metrics"))
	e.Use(middleware.RateLimit(rateLimitConfig(cfg)))

	// Auth middleware
	if cfg.ResolvedAuthMode() == "development" {
		d.logger.Warn().Msg("development auth enabled: every request is authenticated")
		e.Use(auth.DevAuthMiddleware(auth.AuthSkipper))
	} else {
		var key []byte
		if cfg.AuthSigningKey != "" {
			key = []byte(cfg.AuthSigningKey)
		}
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: key,
			Skipper:    auth.AuthSkipper,
		}))
	}

	// Audit middleware
	e.Use(middleware.Audit(d.logger))

	// Health and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	healthDeps := map[string]db.Pinger{}
	if d.redis != nil {
		rdb := d.redis
		healthDeps["redis"] = db.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}
	e.GET("/health/db", db.HealthHandler(d.pool, healthDeps))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{})))

	// Identity domain
	identitySvc := identity.NewService(identity.NewPatientRepo(d.pool), identity.NewProviderRepo(d.pool))

	// Scheduling domain
	schedSvc := scheduling.NewService(
		scheduling.NewBookingRepoPG(d.pool),
		scheduling.NewAppointmentTypeRepoPG(d.pool),
		identitySvc,
		cal,
	)
	schedSvc.SetLogger(d.logger)
	schedSvc.SetMetrics(metrics.NewSchedulingMetrics(d.registry))
	schedSvc.SetStoreTimeout(cfg.StoreTimeout)
	if d.redis != nil {
		schedSvc.SetCache(cache.NewAvailabilityCache(d.redis, cfg.AvailabilityCacheTTL))
	}

	// Clinical domain
	clinicalSvc := clinical.NewService(clinical.NewNoteRepoPG(d.pool), identitySvc)
	clinicalSvc.SetBookings(schedSvc)

	// API groups
	apiV1 := e.Group("/api/v1")
	public := e.Group("/api/v1/public")

	identity.NewHandler(identitySvc).RegisterRoutes(apiV1, public)
	scheduling.NewHandler(schedSvc).RegisterRoutes(apiV1, public)
	clinical.NewHandler(clinicalSvc).RegisterRoutes(apiV1)

	return e, nil
}

func calendarFromConfig(cfg *config.Config) (scheduling.OperatingCalendar, error) {
	open, err := scheduling.ParseClock(cfg.ClinicOpenTime)
	if err != nil {
		return scheduling.OperatingCalendar{}, fmt.Errorf("CLINIC_OPEN_TIME: %w", err)
	}
	closeAt, err := scheduling.ParseClock(cfg.ClinicCloseTime)
	if err != nil {
		return scheduling.OperatingCalendar{}, fmt.Errorf("CLINIC_CLOSE_TIME: %w", err)
	}
	cal := scheduling.OperatingCalendar{
		OpenTime:               open,
		CloseTime:              closeAt,
		SlotGranularityMinutes: cfg.SlotGranularityMinutes,
	}
	if err := cal.Validate(); err != nil {
		return scheduling.OperatingCalendar{}, err
	}
	return cal, nil
}

// rateLimitConfig overlays configured budgets on the defaults. A zero staff
// budget disables limiting.
func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.DefaultRateLimitConfig()
	rl.RequestsPerSecond = cfg.RateLimitRPS
	rl.BurstSize = cfg.RateLimitBurst
	if cfg.PublicRateLimitRPS > 0 {
		rl.PublicRequestsPerSecond = cfg.PublicRateLimitRPS
	}
	if cfg.PublicRateLimitBurst > 0 {
		rl.PublicBurstSize = cfg.PublicRateLimitBurst
	}
	return rl
}
