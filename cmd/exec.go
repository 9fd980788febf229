package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"ticket-checkin/config"
	"ticket-checkin/internal/credential"
	"ticket-checkin/internal/handlers"
	"ticket-checkin/internal/services"
	"ticket-checkin/monitoring"
	"ticket-checkin/security"
	"ticket-checkin/utils"
	"time"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go/v7"
	"github.com/redis/go-redis/v9"
)

func Start() error {
	app := pocketbase.New()

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	app.RootCmd.AddCommand(newScanSecretCommand(os.Stdout))
	app.RootCmd.AddCommand(newSeedCommand(app))

	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
		if err := serve(se); err != nil {
			return err
		}
		return se.Next()
	})

	// Start server
	return app.Start()
}

// serve wires the check-in services. It only runs for the serve command so
// tooling commands work without Redis or a signing secret.
func serve(se *core.ServeEvent) error {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	setupLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())

	// Initialize Redis
	redisClient, err := utils.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		cancel()
		return err
	}

	se.App.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		cancel()
		if err := redisClient.Close(); err != nil {
			slog.Error("Failed to close Redis client", "error", err)
		}
		return e.Next()
	})

	signer, err := newSigner(cfg)
	if err != nil {
		return err
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	notifier := newNotifier(cfg)
	monitor := monitoring.NewMonitor(redisClient)
	audit := services.NewScanAuditLog(redisClient, cfg.ScanAuditMax)
	limiter := security.NewRateLimiter(redisClient, cfg.ScanRateLimit, time.Minute)

	store := services.NewDBTicketStore(se.App.DB())
	issuer := services.NewIssuerService(store, signer, cfg.CredentialRefresh, monitor)
	validator := services.NewValidatorService(store, signer, audit, notifier, monitor).WithLocation(loc)

	credentialHandler := handlers.NewCredentialHandler(issuer)
	scanHandler := handlers.NewScanHandler(validator, store, audit)

	// Start background tasks
	if cfg.EnableMetrics {
		go monitor.Run(ctx)
	}

	// Setup graceful shutdown
	go handleShutdown(cancel)

	registerRoutes(se, cfg, redisClient, limiter, credentialHandler, scanHandler)

	slog.Info("Server routes registered", "environment", cfg.Environment, "credential_ttl", signer.TTL())
	return nil
}

func registerRoutes(
	se *core.ServeEvent,
	cfg *config.Config,
	redisClient *redis.Client,
	limiter *security.RateLimiter,
	credentialHandler *handlers.CredentialHandler,
	scanHandler *handlers.ScanHandler,
) {
	// Credential endpoints
	se.Router.POST("/api/v1/tickets/{ticketId}/credential", credentialHandler.IssueCredential)
	se.Router.GET("/api/v1/tickets/{ticketId}/credential", credentialHandler.IssueCredential)
	se.Router.GET("/api/v1/tickets/{ticketId}/credential.png", credentialHandler.CredentialImage)

	// Scanner endpoints
	se.Router.POST("/api/v1/scans/verify", scanHandler.Verify).BindFunc(limiter.ScanRateLimit())
	se.Router.POST("/api/v1/tickets/{ticketId}/admit", scanHandler.Admit).BindFunc(limiter.ScanRateLimit())
	se.Router.GET("/api/v1/events/{eventId}/scan-stats", scanHandler.ScanStats)
	se.Router.GET("/api/v1/events/{eventId}/scan-attempts", scanHandler.ScanAttempts)

	// Health check
	se.Router.GET("/health", func(e *core.RequestEvent) error {
		if err := utils.RedisHealthCheck(e.Request.Context(), redisClient); err != nil {
			return e.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
		return e.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})

	if cfg.EnableMetrics {
		se.Router.GET("/metrics", apis.WrapStdHandler(promhttp.Handler()))
	}
}

func setupLogger(cfg *config.Config) {
	var handler slog.Handler
	if cfg.IsDevelopment() {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, nil)
	}
	slog.SetDefault(slog.New(handler))
}

func newSigner(cfg *config.Config) (*credential.Signer, error) {
	secret, err := cfg.SigningSecret()
	if err != nil {
		return nil, err
	}

	if secret == nil {
		// Validate only lets this through in development
		raw, err := utils.GenerateSecret(credential.MinSecretSize)
		if err != nil {
			return nil, fmt.Errorf("generate signing secret: %w", err)
		}
		if secret, err = hex.DecodeString(raw); err != nil {
			return nil, err
		}
		slog.Warn("SCAN_SIGNING_SECRET not set, using an ephemeral key; credentials will not survive a restart")
	}

	return credential.NewSigner(secret, cfg.Issuer, cfg.CredentialTTL)
}

func newNotifier(cfg *config.Config) services.Notifier {
	if !cfg.PubNubEnabled() {
		slog.Info("PubNub keys not set, admission notifications disabled")
		return services.NopNotifier{}
	}

	pnConfig := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.PubNubUserID))
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.SecretKey = cfg.PubNubSecretKey

	return services.NewPubNubNotifier(pubnub.NewPubNub(pnConfig))
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	slog.Info("Shutdown signal received, stopping background tasks")
	cancel()
}
