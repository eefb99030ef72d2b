package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Wuchinator/streamin-analytics/internal/config"
	"github.com/Wuchinator/streamin-analytics/internal/event"
	"github.com/Wuchinator/streamin-analytics/pkg/kafka"
	"github.com/Wuchinator/streamin-analytics/pkg/logger"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// event-tail follows the events topic the server publishes to and logs
// every event. Useful to check the fan-out end to end.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}
	defer log.Sync()

	log = logger.WithService(log, "event-tail")
	if !cfg.Kafka.Enabled {
		log.Fatal("KAFKA_ENABLED is false, nothing to tail")
	}
	log.Info("Starting event tail",
		zap.String("topic", cfg.Kafka.Topic),
		zap.String("consumer_group", cfg.Kafka.ConsumerGroup),
	)

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:           cfg.Kafka.Brokers,
		Topics:            []string{cfg.Kafka.Topic},
		GroupID:           cfg.Kafka.ConsumerGroup,
		FromNewest:        true,
		AutoCommit:        true,
		CommitInterval:    1 * time.Second,
		SessionTimeout:    10 * time.Second,
		RebalanceStrategy: "sticky",
	}, logEvent(log), log)
	if err != nil {
		log.Fatal("Failed to create Kafka consumer", zap.Error(err))
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := consumer.Start(ctx); err != nil {
			log.Error("Consumer error", zap.Error(err))
		}
	}()

	go func() {
		select {
		case <-consumer.Ready():
			log.Info("Kafka consumer is ready and consuming messages")
		case <-ctx.Done():
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down gracefully...")
	cancel()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Warn("Consumer did not stop in time")
	}

	log.Info("Event tail stopped")
}

func logEvent(log *zap.Logger) kafka.MessageHandler {
	return func(_ context.Context, key, value []byte) error {
		var e event.Event
		if err := json.Unmarshal(value, &e); err != nil {
			return fmt.Errorf("failed to unmarshal event: %w", err)
		}

		fields := []zap.Field{
			zap.String("session_id", string(key)),
			zap.String("event", e.Kind),
			zap.Time("timestamp", e.RecordedAt),
		}
		if e.Payload.ContentTitle != "" {
			fields = append(fields, zap.String("title", e.Payload.ContentTitle))
		}
		if e.Payload.SearchQuery != "" {
			fields = append(fields, zap.String("query", e.Payload.SearchQuery))
		}
		if e.Geo != nil && e.Geo.Country != "" {
			fields = append(fields, zap.String("country", e.Geo.Country))
		}
		log.Info("Event", fields...)
		return nil
	}
}
