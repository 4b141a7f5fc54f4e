package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/radiweb/pacs-gateway/internal/config"
	"github.com/radiweb/pacs-gateway/internal/domain/backup"
	"github.com/radiweb/pacs-gateway/internal/domain/imaging"
	"github.com/radiweb/pacs-gateway/internal/platform/archive"
	"github.com/radiweb/pacs-gateway/internal/platform/auth"
	"github.com/radiweb/pacs-gateway/internal/platform/db"
	"github.com/radiweb/pacs-gateway/internal/platform/metrics"
	"github.com/radiweb/pacs-gateway/internal/platform/middleware"
	"github.com/radiweb/pacs-gateway/internal/platform/notification"
	"github.com/radiweb/pacs-gateway/internal/platform/tokenstore"
	"github.com/radiweb/pacs-gateway/internal/platform/webhook"
	"github.com/radiweb/pacs-gateway/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pacs-gateway",
		Short: "Integration gateway between the DICOM archive and the clinical platform",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway HTTP server",
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
	cmd.PersistentFlags().String("dir", "", "Read migrations from this directory instead of the embedded set")

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
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				fmt.Println("---------- ---------------------------------------- ---------- --------------------")
				for _, s := range statuses {
					state, at := "pending", ""
					if s.Applied {
						state = "applied"
						at = s.AppliedAt.Format(time.RFC3339)
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, state, at)
				}
				return nil
			})
		},
	}
	cmd.AddCommand(statusCmd)

	return cmd
}

func migrationsFS(dir string) fs.FS {
	if dir != "" {
		return os.DirFS(dir)
	}
	return migrations.FS
}

func withMigrator(dir string, fn func(ctx context.Context, m *db.Migrator) error) error {
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

	return fn(ctx, db.NewMigrator(pool, migrationsFS(dir)))
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue tokens for operators and integrations",
	}

	// token api
	apiCmd := &cobra.Command{
		Use:   "api",
		Short: "Issue an API access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			roles, _ := cmd.Flags().GetString("roles")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if subject == "" {
				return errors.New("--subject is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			tok, err := auth.IssueAccessToken(jwtConfig(cfg), subject, parseRoles(roles), ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	apiCmd.Flags().String("subject", "", "Token subject (user or service id)")
	apiCmd.Flags().String("roles", "", "Comma-separated roles, e.g. admin,radiologist")
	apiCmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	cmd.AddCommand(apiCmd)

	// token viewer
	viewerCmd := &cobra.Command{
		Use:   "viewer",
		Short: "Issue a viewer link for an archive study",
		RunE: func(cmd *cobra.Command, args []string) error {
			studyID, _ := cmd.Flags().GetString("study")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if studyID == "" {
				return errors.New("--study is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			// The server only accepts tokens it can find in the shared store.
			if cfg.RedisURL == "" {
				return errors.New("REDIS_URL is required to issue viewer tokens outside the server")
			}

			ctx := context.Background()
			rdb, err := tokenstore.NewRedisClient(ctx, cfg.RedisURL)
			if err != nil {
				return err
			}
			store := tokenstore.NewRedisStore(rdb)
			defer store.Close()

			if ttl <= 0 {
				ttl = cfg.ViewerTokenTTL
			}
			links := imaging.NewViewerLinks(cfg.OrthancBaseURL, ttl, auth.NewViewerTokenIssuer([]byte(cfg.JWTSecret), ""), store, nil)
			link, err := links.Generate(ctx, studyID)
			if err != nil {
				return err
			}
			fmt.Println(link.ViewerURL)
			return nil
		},
	}
	viewerCmd.Flags().String("study", "", "Archive study id")
	viewerCmd.Flags().Duration("ttl", 0, "Token lifetime (defaults to VIEWER_TOKEN_TTL)")
	cmd.AddCommand(viewerCmd)

	return cmd
}

func parseRoles(raw string) []string {
	var roles []string
	for _, r := range strings.Split(raw, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}

func jwtConfig(cfg *config.Config) auth.JWTConfig {
	return auth.JWTConfig{SigningKey: []byte(cfg.JWTSecret)}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// deps are the long-lived collaborators the router is assembled from.
type deps struct {
	cfg      *config.Config
	logger   zerolog.Logger
	pool     *pgxpool.Pool
	store    tokenstore.Store
	redis    db.Pinger
	archive  *archive.Client
	notifier *notification.Manager
	metrics  *metrics.Metrics
}

func openTokenStore(ctx context.Context, cfg *config.Config) (tokenstore.Store, db.Pinger, error) {
	if cfg.RedisURL == "" {
		return tokenstore.NewMemoryStore(0), nil, nil
	}
	rdb, err := tokenstore.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	store := tokenstore.NewRedisStore(rdb)
	return store, store, nil
}

func newNotifier(cfg *config.Config, logger zerolog.Logger) *notification.Manager {
	var sender notification.Sender = &notification.LogSender{Logger: logger}
	if cfg.NotifyWebhookURL != "" {
		sender = &notification.WebhookSender{
			Dispatcher: webhook.NewDispatcher(cfg.NotifyWebhookURL, cfg.NotifyWebhookSecret),
		}
	}
	return notification.NewManager(sender, notification.NewTemplateEngine(), cfg.AdminRecipients, logger)
}

func newRouter(d *deps) *echo.Echo {
	cfg, logger := d.cfg, d.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)
	e.Validator = middleware.NewValidator()

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	// Archive webhooks expect a plain 500 on any processing failure.
	e.Use(middleware.RequestTimeoutWithConfig(middleware.RequestTimeoutConfig{
		Timeout:    cfg.RequestTimeout,
		KeepStatus: middleware.PathPrefix("/webhook/"),
	}))
	e.Use(d.metrics.Middleware())

	// Health and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(d.pool, db.PoolStatsFunc(d.pool)))
	if d.redis != nil {
		e.GET("/health/redis", db.HealthHandler(d.redis, nil))
	}
	e.GET("/health/archive", d.archive.HealthHandler())
	e.GET("/metrics", d.metrics.Handler())

	// Route groups
	webhooks := e.Group("/webhook")
	viewer := e.Group("/viewer")
	api := e.Group("/api", auth.JWTMiddleware(jwtConfig(cfg)))

	apiLimit := middleware.DefaultRateLimitConfig()
	apiLimit.KeyFunc = auth.ClientKey
	api.Use(middleware.RateLimit(apiLimit))
	viewer.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))

	// Imaging
	studyRepo := imaging.NewStudyRepoPG(d.pool)
	examRepo := imaging.NewExamRepoPG(d.pool)
	links := imaging.NewViewerLinks(cfg.OrthancBaseURL, cfg.ViewerTokenTTL,
		auth.NewViewerTokenIssuer([]byte(cfg.JWTSecret), ""), d.store, d.metrics)
	imagingSvc := imaging.NewService(studyRepo, examRepo, links, d.notifier, d.archive, logger)
	imagingSvc.SetTxFunc(func(ctx context.Context, fn func(ctx context.Context) error) error {
		return db.WithTx(ctx, d.pool, fn)
	})
	imagingSvc.SetListingConfig(imaging.ListingConfig{
		MaxConcurrency: cfg.ArchiveMaxConcurrency,
		Partial:        cfg.ListingPartialResults,
	})
	imagingHandler := imaging.NewHandler(imagingSvc, links, d.metrics)
	imagingHandler.RegisterWebhookRoutes(webhooks, cfg.WebhookSecret)
	imagingHandler.RegisterRoutes(api)
	imagingHandler.RegisterViewerRoutes(viewer)

	// Backups
	backupSvc := backup.NewService(backup.NewRepoPG(d.pool), d.notifier, logger)
	backupHandler := backup.NewHandler(backupSvc, d.metrics)
	backupHandler.RegisterWebhookRoutes(webhooks)
	backupHandler.RegisterRoutes(api)

	return e
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Viewer token store
	store, redisPinger, err := openTokenStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer store.Close()
	if redisPinger != nil {
		logger.Info().Msg("viewer tokens stored in redis")
	} else {
		logger.Warn().Msg("REDIS_URL not set; viewer tokens are kept in memory and lost on restart")
	}

	m := metrics.New()
	archiveClient := archive.NewClient(archive.Config{
		BaseURL:  cfg.OrthancBaseURL,
		Username: cfg.OrthancUsername,
		Password: cfg.OrthancPassword,
		Timeout:  cfg.ArchiveTimeout,
	}, archive.WithMetrics(m))

	e := newRouter(&deps{
		cfg:      cfg,
		logger:   logger,
		pool:     pool,
		store:    store,
		redis:    redisPinger,
		archive:  archiveClient,
		notifier: newNotifier(cfg, logger),
		metrics:  m,
	})

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("archive", archiveClient.BaseURL()).Msg("starting server")
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
