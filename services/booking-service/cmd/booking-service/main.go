package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/insideout-learning/insideout/libs/config"
	"github.com/insideout-learning/insideout/libs/db"
	"github.com/insideout-learning/insideout/libs/httpx"
	"github.com/insideout-learning/insideout/libs/kafkax"
	otelx "github.com/insideout-learning/insideout/libs/otel"
	"github.com/insideout-learning/insideout/libs/runtime"
	"github.com/insideout-learning/insideout/services/booking-service/internal/availability"
	"github.com/insideout-learning/insideout/services/booking-service/internal/handlers"
	"github.com/insideout-learning/insideout/services/booking-service/internal/outbox"
	"github.com/insideout-learning/insideout/services/booking-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8082")
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

	provider, err := availability.NewProvider(config.String("AVAILABILITY_GRPC_ADDR", ""))
	if err != nil {
		logger.Error("availability provider init failed", "err", err)
	}
	if provider == nil {
		logger.Info("availability revalidation disabled; relying on overlap constraint")
	}

	repo := storage.NewScheduleRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	reminderOffset := time.Duration(config.Int("REMINDER_OFFSET_MINUTES", 1440)) * time.Minute
	scheduleHandler := handlers.NewScheduleHandler(repo, outboxRepo, logger, provider, tokenSecret, reminderOffset)

	brokers := config.String("KAFKA_BROKERS", "localhost:9092")
	go outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers: brokers,
	}).Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.HandleFunc("/api/v1/schedules", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			scheduleHandler.Create(w, r)
			return
		}
		if r.Method == http.MethodGet {
			scheduleHandler.List(w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})
	mux.HandleFunc("/api/v1/schedules/", func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimPrefix(r.URL.Path, "/api/v1/schedules/") == "" {
			http.Error(w, "invalid schedule id", http.StatusBadRequest)
			return
		}
		scheduleHandler.Get(w, r)
	})

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "booking")
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
