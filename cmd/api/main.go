package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/jozer-rami/resonancial-api/internal/api"
	"github.com/jozer-rami/resonancial-api/internal/circuitbreaker"
	"github.com/jozer-rami/resonancial-api/internal/config"
	"github.com/jozer-rami/resonancial-api/internal/db"
	"github.com/jozer-rami/resonancial-api/internal/metrics"
	"github.com/jozer-rami/resonancial-api/internal/notify"
	"github.com/jozer-rami/resonancial-api/internal/observ"
	"github.com/jozer-rami/resonancial-api/internal/promo"
	"github.com/jozer-rami/resonancial-api/internal/redis"
	"github.com/jozer-rami/resonancial-api/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting resonancial api",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	ctx := context.Background()
	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database, logger)
	engine := promo.NewEngine(repo, logger)

	// Redis backs rate limiting and signup dedup; the API stays up without it.
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, rate limiting and signup dedup disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var rateLimiter *redis.RateLimiter
	var guard *redis.SignupGuard
	if redisClient != nil {
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.RateLimitPerMinute,
			Window: 1 * time.Minute,
		})
		guard = redis.NewSignupGuard(redisClient)
		defer redisClient.Close()
	}

	sender, err := buildSender(ctx, cfg, logger)
	if err != nil {
		return err
	}

	w := worker.New(repo, engine, sender, worker.Config{
		PollInterval: time.Duration(cfg.WorkerPollSeconds) * time.Second,
		BatchSize:    cfg.WorkerBatchSize,
	}, logger)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	go w.Start(workerCtx)

	logger.Info("delivery worker started")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// Structured request logging
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	var handler *api.Handler
	if guard != nil {
		handler = api.NewHandlerWithGuard(logger, repo, engine, guard)
	} else {
		handler = api.NewHandler(logger, repo, engine)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.IPKeyFunc))

		r.Post("/newsletter/subscribe", handler.Subscribe)
		r.Post("/discount-codes/validate", handler.ValidateCode)
		r.Post("/discount-codes/redeem", handler.RedeemCode)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unreachable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}

// buildSender wires the delivery channels. Each provider is wrapped in its
// own circuit breaker so one failing provider never drags down the other.
func buildSender(ctx context.Context, cfg *config.Config, logger *zap.Logger) (notify.Sender, error) {
	var senders []notify.Sender

	emailSender, err := notify.NewSESSender(ctx, notify.SESConfig{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create SES email sender: %w", err)
	}
	senders = append(senders, circuitbreaker.NewProtectedSender(
		emailSender,
		circuitbreaker.New(circuitbreaker.DefaultConfig("ses"), logger),
		logger,
	))

	if cfg.WhatsAppAPIURL != "" && cfg.WhatsAppToken != "" {
		waSender := notify.NewWhatsAppSender(logger, notify.WhatsAppConfig{
			APIURL:  cfg.WhatsAppAPIURL,
			Token:   cfg.WhatsAppToken,
			Timeout: time.Duration(cfg.WhatsAppTimeout) * time.Second,
		})
		senders = append(senders, circuitbreaker.NewProtectedSender(
			waSender,
			circuitbreaker.New(circuitbreaker.DefaultConfig("whatsapp"), logger),
			logger,
		))
	} else {
		logger.Warn("whatsapp not configured, whatsapp deliveries will fail")
	}

	logger.Info("initialized delivery channels",
		zap.Bool("email_enabled", true),
		zap.Bool("whatsapp_enabled", cfg.WhatsAppAPIURL != ""),
	)

	return notify.NewMultiSender(logger, senders...), nil
}
