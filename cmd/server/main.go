package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/paynow/approval-server/internal/config"
	"github.com/paynow/approval-server/internal/database"
	"github.com/paynow/approval-server/internal/handler"
	"github.com/paynow/approval-server/internal/jobs"
	"github.com/paynow/approval-server/internal/middleware"
	"github.com/paynow/approval-server/internal/redis"
	"github.com/paynow/approval-server/internal/repository"
	"github.com/paynow/approval-server/internal/service"
	"github.com/paynow/approval-server/internal/sse"
	"github.com/paynow/approval-server/internal/store"
	"github.com/paynow/approval-server/internal/telegram"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	var opts []service.CheckoutOption
	opts = append(opts, service.WithPollAdvice(cfg.ClientPollInterval(), cfg.ClientPollTimeout()))

	var db *database.DB
	if cfg.DatabaseURL != "" {
		db, err = database.Connect(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), config.PingTimeout)
		decisionRepo, err := repository.PrepareDecisionJournal(ctx, db)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to prepare decision journal")
		}
		opts = append(opts, service.WithJournal(decisionRepo))

		journalJob := jobs.NewCleanupJob("decision journal", config.JournalCleanupInterval).
			Add("checkout decisions", jobs.RetentionTask(decisionRepo, cfg.JournalRetention()))
		journalJob.Start()
		defer journalJob.Stop()

		log.Info().Msg("decision journal enabled")
	} else {
		log.Warn().Msg("DATABASE_URL is empty: decision journal disabled")
	}

	sessions := store.New(store.Config{
		TTL:           cfg.SessionTTL(),
		SweepInterval: cfg.SweepInterval(),
		ActivationTTL: cfg.ActivationCodeTTL(),
		CodeLength:    cfg.ActivationCodeLength,
	})
	sessions.Start()
	defer sessions.Stop()

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	notifiers := service.Notifiers{broker}

	var bot *telegram.OperatorBot
	if cfg.TelegramBotToken != "" {
		bot, err = telegram.New(cfg.TelegramBotToken, cfg.TelegramOperatorChatID)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start telegram bot")
		}
		notifiers = append(notifiers, bot)
	}
	notifier := service.NewAsyncNotifier(notifiers, service.DefaultNotifyQueueSize, service.DefaultNotifyTimeout)
	defer notifier.Stop()
	opts = append(opts, service.WithNotifier(notifier))

	if cfg.SimulationMode {
		decider := service.NewAutoDecider(cfg.AutoApproveDelay(), cfg.AutoVerifyDelay())
		defer decider.Stop()
		opts = append(opts, service.WithSimulation(decider))
		log.Warn().Msg("SIMULATION_MODE is on: approvals and codes are decided automatically")
	}

	checkoutService := service.NewCheckoutService(sessions, opts...)
	operatorService := service.NewOperatorService(checkoutService)

	if bot != nil {
		bot.Start(operatorService)
		defer bot.Stop()
	}

	rateLimiter := service.NewRateLimiter(redisClient.Client)
	approvalLimit := middleware.NewIPRateLimitMiddleware(rateLimiter, config.ApprovalRateLimitPerMin, time.Minute, "approval")
	codeLimit := middleware.NewIPRateLimitMiddleware(rateLimiter, config.CodeRateLimitPerMin, time.Minute, "code")
	activationLimit := middleware.NewIPRateLimitMiddleware(rateLimiter, config.ActivationRateLimitPerMin, time.Minute, "activation")
	operatorLimit := middleware.NewIPRateLimitMiddleware(rateLimiter, config.DefaultRateLimitPerMin, time.Minute, "operator")

	operatorAuth := middleware.NewOperatorAuthMiddleware(cfg.OperatorTokenHash)
	webhookSignature := middleware.NewWebhookSignatureMiddleware(cfg.OperatorWebhookSecret)
	if cfg.OperatorWebhookSecret == "" {
		log.Warn().Msg("OPERATOR_WEBHOOK_SECRET is empty: operator webhook refuses all requests")
	}
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	checkoutHandler := handler.NewCheckoutHandler(checkoutService, handler.CheckoutLimits{
		Approval:   approvalLimit.Handler,
		Code:       codeLimit.Handler,
		Activation: activationLimit.Handler,
	})

	health := func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), config.PingTimeout)
		defer cancel()

		status, code := "ok", http.StatusOK
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("health check: redis unreachable")
			status, code = "degraded", http.StatusServiceUnavailable
		}
		if db != nil {
			if err := db.Ping(ctx); err != nil {
				// The journal is best effort; the checkout flow still works.
				log.Warn().Err(err).Msg("health check: journal database unreachable")
				status = "degraded"
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]any{
			"status":        status,
			"sessions":      sessions.Size(),
			"sseClients":    broker.TotalClients(),
			"notifyPending": notifier.Pending(),
			"simulation":    checkoutService.SimulationMode(),
			"journal":       db != nil,
			"timestamp":     time.Now().UnixMilli(),
		})
	}

	r := handler.NewRouter(handler.RouterConfig{
		Checkout: checkoutHandler,
		Operator: handler.NewOperatorHandler(checkoutService, operatorService),
		Events:   handler.NewEventsHandler(broker),
		Health:   health,
		Global: []handler.Middleware{
			middleware.RequestLogger,
			chimiddleware.Recoverer,
			securityHeadersMiddleware.Handler,
			bodyLimitMiddleware.Handler,
		},
		OperatorAuth:     operatorAuth.Handler,
		OperatorLimit:    operatorLimit.Handler,
		WebhookSignature: webhookSignature.Handler,
		RequestTimeout:   config.ServerRequestTimeout,
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
