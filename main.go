package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/isdelr/storefront-be/internal/api"
	"github.com/isdelr/storefront-be/internal/auth"
	"github.com/isdelr/storefront-be/internal/clock"
	"github.com/isdelr/storefront-be/internal/config"
	"github.com/isdelr/storefront-be/internal/database"
	"github.com/isdelr/storefront-be/internal/logger"
	"github.com/isdelr/storefront-be/internal/monitoring"
	"github.com/isdelr/storefront-be/internal/payment"
	"github.com/isdelr/storefront-be/internal/repository"
	"github.com/isdelr/storefront-be/internal/services"
	"github.com/isdelr/storefront-be/internal/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel, !cfg.IsProduction())

	// Set up database
	db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	migrateCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	err = database.Migrate(migrateCtx, db, cfg.DatabaseDriver)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to apply database migrations")
	}

	if cfg.StripeSecretKey == "" {
		log.Warn().Msg("STRIPE_SECRET_KEY is not set; payment calls will fail")
	}
	stripeClient := payment.NewStripeClient(cfg.StripeSecretKey, payment.CheckoutOptions{
		FrontendURL:       cfg.FrontendURL,
		ShippingCountries: cfg.ShippingCountries,
		ShippingRates:     cfg.ShippingRates,
	})

	// Set up WebSocket Hub
	hub := websocket.NewHub()
	go hub.Run()

	// Set up services
	clk := clock.System{}
	dialect := repository.DialectSQLite
	if cfg.DatabaseDriver == database.DriverMySQL {
		dialect = repository.DialectMySQL
	}
	userRepo := repository.NewUserRepository(db, dialect)
	tokenIssuer := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL, clk)
	eventService := services.NewEventService(db, clk)
	accountService, err := services.NewAccountService(userRepo, auth.NewBcryptHasher(cfg.BcryptCost), tokenIssuer,
		stripeClient, eventService, hub, clk, services.AccountOptions{
			GuestEmailDomain: cfg.GuestEmailDomain,
			StoreTimeout:     cfg.StoreTimeout,
			PaymentTimeout:   cfg.PaymentTimeout,
		})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize account service")
	}

	// Set up and run the guest sweeper
	sweeper := monitoring.NewGuestSweeper(userRepo, eventService, clk, monitoring.SweeperOptions{
		GuestTTL:      cfg.GuestTTL,
		BatchSize:     cfg.PurgeBatchSize,
		FlagSchedule:  cfg.FlagSchedule,
		PurgeSchedule: cfg.PurgeSchedule,
		Timeout:       cfg.StoreTimeout,
	})
	if err := sweeper.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start guest sweeper")
	}

	// Optional Redis-backed throttle for the auth routes
	var limiter *api.RateLimiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis unreachable; rate limiting fails open until it recovers")
		}
		cancel()
		limiter = api.NewRateLimiter(rdb, cfg.AuthRateLimit, cfg.AuthRateWindow)
	}

	// Set up router
	router := api.NewRouter(api.Dependencies{
		Accounts:        accountService,
		Events:          eventService,
		Checkout:        stripeClient,
		CheckoutTimeout: cfg.PaymentTimeout,
		Tokens:          tokenIssuer,
		Hub:             hub,
		Limiter:         limiter,
		CORSOrigins:     cfg.CORSOrigins,
	})

	// Set up server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Info().Int("port", cfg.ServerPort).Str("env", cfg.AppEnv).Msg("Server starting")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("ListenAndServe failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	sweeper.Stop(ctx) // waits for a running tick
	hub.Stop()

	log.Info().Msg("Server exiting")
}
