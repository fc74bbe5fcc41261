// Command passbot runs the WeCom group-join pass delivery service: the
// callback webhook, the admin surface, and the metrics endpoint.
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
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cityheroes/wecom-passbot/internal/config"
	httpapi "github.com/cityheroes/wecom-passbot/internal/http"
	"github.com/cityheroes/wecom-passbot/internal/http/handlers"
	"github.com/cityheroes/wecom-passbot/internal/observability"
	"github.com/cityheroes/wecom-passbot/internal/pass2u"
	"github.com/cityheroes/wecom-passbot/internal/repo"
	"github.com/cityheroes/wecom-passbot/internal/services"
	"github.com/cityheroes/wecom-passbot/internal/sysutil"
	"github.com/cityheroes/wecom-passbot/internal/wecom"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// .env is optional; real deployments use environment variables.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	// Callback crypto is mandatory: without it no event can be verified.
	crypto, err := wecom.NewCrypto(cfg.WeCom.CallbackToken, cfg.WeCom.EncodingAESKey, cfg.WeCom.CorpID)
	if err != nil {
		log.Fatal().Err(err).Msg("callback crypto setup failed")
	}

	// Two independent stores: assignment tracking and the coupon pool.
	assignDB, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open assignment db failed")
	}
	if err := repo.MigrateAssignments(assignDB); err != nil {
		log.Fatal().Err(err).Msg("assignment migration failed")
	}
	invDB, err := repo.OpenSQLite(cfg.InventoryDBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.InventoryDBPath).Msg("open inventory db failed")
	}
	if err := repo.MigrateInventory(invDB); err != nil {
		log.Fatal().Err(err).Msg("inventory migration failed")
	}
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(assignDB); err != nil {
			log.Warn().Err(err).Msg("gorm tracing setup failed")
		}
		if err := repo.EnableTracing(invDB); err != nil {
			log.Warn().Err(err).Msg("gorm tracing setup failed")
		}
	}

	wecomClient := wecom.NewClient(wecom.ClientConfig{
		CorpID:            cfg.WeCom.CorpID,
		CorpSecret:        cfg.WeCom.CorpSecret,
		OpenKFID:          cfg.WeCom.OpenKFID,
		WelcomeTemplateID: cfg.WeCom.WelcomeTemplateID,
		Timeout:           cfg.WeCom.Timeout,
		TokenTTL:          cfg.WeCom.TokenTTL,
	}, log.Logger)

	passClient := pass2u.NewClient(pass2u.ClientConfig{
		BaseURL:    cfg.Pass2U.BaseURL,
		APIKey:     cfg.Pass2U.APIKey,
		AuthHeader: cfg.Pass2U.AuthHeader,
		AuthScheme: cfg.Pass2U.AuthScheme,
		ModelID:    cfg.Pass2U.ModelID,
		UTMSource:  cfg.Pass2U.UTMSource,
		Timeout:    cfg.Pass2U.Timeout,
	}, log.Logger)

	deliverySvc := services.NewDeliveryService(assignDB, passClient, wecomClient, log.Logger)
	inventorySvc := services.NewInventoryService(invDB)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		Webhook: handlers.NewWebhookHandlers(crypto, deliverySvc),
		Admin:   handlers.NewAdminHandlers(assignDB, inventorySvc),
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
		return
	}
	log.Info().Msg("server stopped")
}
