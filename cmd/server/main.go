// Command server runs the admissions contact-intake API.
//
// Startup order:
//  1. Load .env (best effort) and environment configuration
//  2. Configure zerolog (level, optional pretty console output)
//  3. Set up OpenTelemetry tracing (when enabled)
//  4. Open the SQLite audit database and migrate the schema
//  5. Build the abuse tracker (in-memory or Redis) and start its sweeper
//  6. Assemble the mail transport chain and start the delivery workers
//  7. Serve HTTP until SIGINT/SIGTERM, then drain: HTTP first, then the
//     delivery queue, so no accepted submission is lost on shutdown
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/meridianedu/go-admissions-backend/internal/abuse"
	"github.com/meridianedu/go-admissions-backend/internal/config"
	httpapi "github.com/meridianedu/go-admissions-backend/internal/http"
	"github.com/meridianedu/go-admissions-backend/internal/mail"
	"github.com/meridianedu/go-admissions-backend/internal/observability"
	"github.com/meridianedu/go-admissions-backend/internal/repo"
	"github.com/meridianedu/go-admissions-backend/internal/services"
	"github.com/meridianedu/go-admissions-backend/internal/sysutil"
	"github.com/meridianedu/go-admissions-backend/internal/upload"
	"github.com/meridianedu/go-admissions-backend/internal/verify"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Local development convenience; production supplies real env vars.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Info().Str("version", version).Msg("starting admissions intake service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open audit database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate audit database")
	}

	tracker := buildTracker(ctx, cfg.Abuse)

	store := &upload.Store{Dir: cfg.Upload.TempDir, MaxFiles: cfg.Upload.MaxFiles}
	validator := &upload.Validator{
		MaxFileBytes: cfg.Upload.MaxFileBytes,
		Parallelism:  cfg.Upload.Parallelism,
	}
	checker := &verify.Checker{
		Secret:   cfg.Verify.Secret,
		URL:      cfg.Verify.URL,
		MinScore: cfg.Verify.MinScore,
		Timeout:  cfg.Verify.Timeout,
	}

	chain := buildMailChain(cfg.Mail)
	delivery := services.NewDeliveryService(db, chain, store, services.DeliveryConfig{
		FromAddress:          cfg.Mail.FromAddress,
		AdminAddress:         cfg.Mail.AdminAddress,
		AdminTemplate:        cfg.Mail.AdminTemplate,
		ConfirmationTemplate: cfg.Mail.ConfirmationTemplate,
		Workers:              cfg.Mail.Workers,
		QueueSize:            cfg.Mail.QueueSize,
	}, log.Logger)
	delivery.Start()

	intake := &services.IntakeService{
		Tracker:   tracker,
		Store:     store,
		Validator: validator,
		Checker:   checker,
		Delivery:  delivery,
	}

	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, db, tracker, intake, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	// Stop accepting requests first, then drain the delivery queue so every
	// accepted submission still goes out (guaranteed-cleanup included).
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	delivery.Stop()

	log.Info().Msg("shutdown complete")
}

// buildTracker selects the abuse-tracking backend. The in-memory tracker
// sweeps stale history on a ticker; Redis expires its own keys.
func buildTracker(ctx context.Context, cfg config.AbuseConfig) abuse.Tracker {
	opts := abuse.Options{
		HistoryWindow:    cfg.HistoryWindow,
		SweepInterval:    cfg.SweepInterval,
		VerifyFailLimit:  cfg.VerifyFailLimit,
		VerifyFailWindow: cfg.VerifyFailWindow,
	}
	if cfg.Backend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		log.Info().Str("addr", cfg.RedisAddr).Msg("using redis abuse tracker")
		return abuse.NewRedisTracker(client, opts)
	}
	tracker := abuse.NewMemoryTracker(opts)
	tracker.Start(ctx)
	return tracker
}

// buildMailChain assembles the transport failover order: template provider
// first when configured, SMTP as fallback. With neither configured, delivery
// always fails and only the audit log records the attempts; the intake API
// still works, which is the right behavior for local development.
func buildMailChain(cfg config.MailConfig) *mail.Chain {
	var transports []mail.Transport
	if cfg.ProviderURL != "" {
		transports = append(transports, mail.NewProvider(cfg.ProviderURL, cfg.ProviderAPIKey, cfg.ProviderRPS, nil))
	}
	if cfg.SMTPHost != "" {
		transports = append(transports, mail.NewSMTPTransport(cfg.SMTPHost, cfg.SMTPUser, cfg.SMTPPass))
	}
	if len(transports) == 0 {
		log.Warn().Msg("no mail transport configured, deliveries will fail")
	}
	return mail.NewChain(transports...)
}
