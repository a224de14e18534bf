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
	"github.com/insideout-learning/insideout/services/availability-service/internal/consumer"
	"github.com/insideout-learning/insideout/services/availability-service/internal/handlers"
	"github.com/insideout-learning/insideout/services/availability-service/internal/inbox"
	"github.com/insideout-learning/insideout/services/availability-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "availability-service")
	port, err := config.Port("PORT", "8081")
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

	repo := storage.NewRepository(pool)
	httpHandler := handlers.New(repo, config.String("DEFAULT_TUTOR_ID", "tutor-1"))

	brokers := config.String("KAFKA_BROKERS", "localhost:9092")
	go consumer.New(logger, pool, inbox.NewRepository(), repo, consumer.Config{
		Brokers: brokers,
		GroupID: config.String("KAFKA_GROUP_ID", "availability-service"),
		Topic:   config.String("SCHEDULE_CREATED_TOPIC", "booking.schedule.created.v1"),
	}).Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.HandleFunc("/api/v1/availability", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			httpHandler.GetAvailability(w, r)
			return
		}
		if r.Method == http.MethodPost {
			httpHandler.UpsertAvailability(w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})
	mux.HandleFunc("/api/v1/public/availability", httpHandler.PublicAvailability)
	mux.HandleFunc("/api/v1/public/availability/slots", httpHandler.PublicSlots)
	mux.HandleFunc("/api/v1/public/availability/selectable-days", httpHandler.PublicSelectableDays)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "availability")
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

	if err := startGrpcServer(ctx, logger, pool, repo); err != nil {
		logger.Error("grpc server failed to start", "err", err)
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
