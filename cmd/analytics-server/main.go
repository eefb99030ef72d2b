package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Wuchinator/streamin-analytics/internal/analytics"
	"github.com/Wuchinator/streamin-analytics/internal/config"
	"github.com/Wuchinator/streamin-analytics/internal/enrich"
	"github.com/Wuchinator/streamin-analytics/internal/event"
	"github.com/Wuchinator/streamin-analytics/internal/query"
	"github.com/Wuchinator/streamin-analytics/internal/server"
	"github.com/Wuchinator/streamin-analytics/internal/session"
	"github.com/Wuchinator/streamin-analytics/pkg/kafka"
	"github.com/Wuchinator/streamin-analytics/pkg/logger"
	"github.com/Wuchinator/streamin-analytics/pkg/metrics"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const serviceName = "analytics-server"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Error loading config: %v", err))
	}

	log, err := logger.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		panic(fmt.Sprintf("Error initializing logger: %v", err))
	}
	defer log.Sync()

	log = logger.WithService(log, serviceName)
	log.Info("Starting Analytics Server",
		zap.String("environment", cfg.Environment),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("store", cfg.StoreDriver),
	)

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal("Error resolving timezone", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	var closers []func() error

	store, closeStore, err := openStore(ctx, cfg, m, logger.WithComponent(log, "store"))
	if err != nil {
		log.Fatal("Error initializing event store", zap.Error(err))
	}
	closers = append(closers, closeStore)

	providers, closeProviders := geoProviders(cfg, logger.WithComponent(log, "geo"))
	closers = append(closers, closeProviders...)
	geo := enrich.NewGeoResolver(providers, cfg.GeoIP.CacheSize, cfg.GeoIP.CacheTTL, m, logger.WithComponent(log, "geo"))

	liveness, err := session.NewLiveness(cfg.Session.MaxEntries, session.WithSizeObserver(m.SetLiveSessions))
	if err != nil {
		log.Fatal("Error initializing session liveness", zap.Error(err))
	}
	janitor := session.NewJanitor(liveness,
		cfg.Session.SweepInterval,
		cfg.Session.InactivityTimeout,
		m,
		logger.WithComponent(log, "janitor"),
	)

	eventOpts := []event.Option{event.WithMetrics(m)}
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:          cfg.Kafka.Brokers,
			Topic:            cfg.Kafka.Topic,
			Retries:          cfg.Kafka.ProducerRetries,
			Timeout:          cfg.Kafka.ProducerTimeout,
			RequiredAcks:     cfg.Kafka.RequiredAcks,
			Compression:      cfg.Kafka.CompressionType,
			IdempotentWrites: cfg.Kafka.IdempotentWrites,
			MaxMessageBytes:  cfg.Kafka.MaxMessageBytes,
		}, logger.WithComponent(log, "kafka"))
		if err != nil {
			log.Fatal("Error initializing kafka", zap.Error(err))
		}
		closers = append(closers, producer.Close)
		eventOpts = append(eventOpts, event.WithPublisher(producer))
	}

	eventService := event.NewService(store, enrich.NewEnricher(geo), liveness, log, eventOpts...)
	eventHandler := event.NewHandler(eventService, enrich.ClientIPFunc(cfg.TrustProxy), cfg.MaxBodyBytes, log)

	engine := analytics.NewEngine(store, analytics.WithLocation(loc), analytics.WithMetrics(m))
	queryHandler := query.NewHandler(query.NewService(engine, log), log)

	router := server.NewRouter(cfg, server.Handlers{
		Events: eventHandler,
		Stats:  queryHandler,
	}, m, log)

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.RequestTimeout,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go janitor.Run(ctx)

	var healthServer *server.HealthServer
	if cfg.GRPCHealthPort != "" {
		listener, err := net.Listen("tcp", ":"+cfg.GRPCHealthPort)
		if err != nil {
			log.Fatal("Error initializing gRPC listener", zap.Error(err))
		}
		healthServer = server.NewHealthServer(serviceName, logger.WithComponent(log, "grpc"))
		go func() {
			if err := healthServer.Serve(listener); err != nil {
				log.Error("gRPC health server stopped", zap.Error(err))
			}
		}()
		go healthServer.Watch(ctx, store, 15*time.Second)
	}

	go func() {
		log.Info("Starting HTTP server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Error running HTTP server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down gracefully")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown timed out", zap.Error(err))
	}
	if healthServer != nil {
		healthServer.Shutdown(shutdownCtx)
	}

	var closeErr error
	for i := len(closers) - 1; i >= 0; i-- {
		closeErr = multierr.Append(closeErr, closers[i]())
	}
	if closeErr != nil {
		log.Error("Errors while releasing resources", zap.Error(closeErr))
	}

	log.Info("Analytics Server stopped")
}
