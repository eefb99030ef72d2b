package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

type MessageHandler func(ctx context.Context, key, value []byte) error

type Consumer struct {
	consumerGroup sarama.ConsumerGroup
	topics        []string
	handler       MessageHandler
	logger        *zap.Logger

	readyOnce sync.Once
	ready     chan struct{}
}

type ConsumerConfig struct {
	Brokers           []string
	Topics            []string
	GroupID           string
	FromNewest        bool
	AutoCommit        bool
	CommitInterval    time.Duration
	SessionTimeout    time.Duration
	RebalanceStrategy string
}

func (cfg ConsumerConfig) SaramaConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Version = sarama.V3_3_0_0
	config.Consumer.Return.Errors = true

	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	if cfg.FromNewest {
		config.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	config.Consumer.Offsets.AutoCommit.Enable = cfg.AutoCommit
	if cfg.CommitInterval > 0 {
		config.Consumer.Offsets.AutoCommit.Interval = cfg.CommitInterval
	}
	if cfg.SessionTimeout > 0 {
		config.Consumer.Group.Session.Timeout = cfg.SessionTimeout
		config.Consumer.Group.Heartbeat.Interval = cfg.SessionTimeout / 3
	}

	// Range - партиции распределяются последовательно (default)
	// RoundRobin - партиции распределяются равномерно
	// Sticky - сохраняет назначения при rebalance (меньше движения данных)
	switch cfg.RebalanceStrategy {
	case "sticky":
		config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{
			sarama.NewBalanceStrategySticky(),
		}
	case "roundrobin":
		config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{
			sarama.NewBalanceStrategyRoundRobin(),
		}
	default:
		config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{
			sarama.NewBalanceStrategyRange(),
		}
	}
	return config
}

func NewConsumer(cfg ConsumerConfig, handler MessageHandler, logger *zap.Logger) (*Consumer, error) {
	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, cfg.SaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	logger.Info("Kafka consumer initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.Strings("topics", cfg.Topics),
		zap.String("group_id", cfg.GroupID),
	)

	return newConsumer(consumerGroup, cfg.Topics, handler, logger), nil
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler MessageHandler, logger *zap.Logger) *Consumer {
	return &Consumer{
		consumerGroup: group,
		topics:        topics,
		handler:       handler,
		logger:        logger,
		ready:         make(chan struct{}),
	}
}

// Start consumes until ctx is cancelled. Handler errors are logged and the
// message is still marked, a bad record never blocks its partition.
func (c *Consumer) Start(ctx context.Context) error {
	go c.drainErrors(ctx)

	for {
		// Consume блокируется до rebalance или отмены context
		if err := c.consumerGroup.Consume(ctx, c.topics, c); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.logger.Error("Error from consumer", zap.Error(err))
		}

		if ctx.Err() != nil {
			c.logger.Info("Context cancelled, stopping consumer")
			return nil
		}
	}
}

func (c *Consumer) drainErrors(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-c.consumerGroup.Errors():
			if !ok {
				return
			}
			c.logger.Warn("Consumer group error", zap.Error(err))
		}
	}
}

func (c *Consumer) Close() error {
	if err := c.consumerGroup.Close(); err != nil {
		c.logger.Error("Failed to close consumer group", zap.Error(err))
		return err
	}
	c.logger.Info("Kafka consumer closed")
	return nil
}

// Setup вызывается при старте новой session (после rebalance)
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	c.logger.Info("Consumer group rebalanced")
	c.readyOnce.Do(func() { close(c.ready) })
	return nil
}

func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim обрабатывает сообщения из конкретной партиции
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			c.logger.Debug("Message received",
				zap.String("topic", message.Topic),
				zap.Int32("partition", message.Partition),
				zap.Int64("offset", message.Offset),
				zap.String("key", string(message.Key)),
			)

			if err := c.handler(session.Context(), message.Key, message.Value); err != nil {
				c.logger.Error("Failed to process message",
					zap.Error(err),
					zap.String("topic", message.Topic),
					zap.Int32("partition", message.Partition),
					zap.Int64("offset", message.Offset),
				)
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// Ready is closed after the first partition assignment.
func (c *Consumer) Ready() <-chan struct{} {
	return c.ready
}
