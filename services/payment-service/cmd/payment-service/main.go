package main

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/insideout-learning/insideout/libs/config"
	"github.com/insideout-learning/insideout/libs/db"
	"github.com/insideout-learning/insideout/libs/httpx"
	"github.com/insideout-learning/insideout/libs/kafkax"
	otelx "github.com/insideout-learning/insideout/libs/otel"
	"github.com/insideout-learning/insideout/libs/runtime"
	"github.com/insideout-learning/insideout/services/payment-service/internal/handlers"
	"github.com/insideout-learning/insideout/services/payment-service/internal/outbox"
	"github.com/insideout-learning/insideout/services/payment-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "payment-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	tokenSecret, err := config.RequiredString("ONBOARDING_TOKEN_SECRET")
	if err != nil {
		panic(err)
	}

	repo := storage.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	paymentHandler := handlers.New(repo, outboxRepo, logger, handlers.Config{
		StripeSecretKey:               config.String("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret:           config.String("STRIPE_WEBHOOK_SECRET", ""),
		StripeWebhookToleranceSeconds: config.Int("STRIPE_WEBHOOK_TOLERANCE_SECONDS", 300),
		OnboardingTokenSecret:         tokenSecret,
		OnboardingTokenTTLHours:       config.Int("ONBOARDING_TOKEN_TTL_HOURS", 48),
		CheckoutSuccessURL:            config.String("CHECKOUT_SUCCESS_URL", ""),
		CheckoutCancelURL:             config.String("CHECKOUT_CANCEL_URL", ""),
	})

	brokers := config.String("KAFKA_BROKERS", "localhost:9092")
	go outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers: brokers,
	}).Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.HandleFunc("/api/v1/payments/checkout-session", paymentHandler.CreateCheckoutSession)
	mux.HandleFunc("/api/v1/payments/finalize", paymentHandler.Finalize)
	mux.HandleFunc("/api/v1/payments/webhooks/stripe", paymentHandler.StripeWebhook)
	mux.HandleFunc("/api/v1/payments/onboarding/validate-token", paymentHandler.ValidateToken)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "payment")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
