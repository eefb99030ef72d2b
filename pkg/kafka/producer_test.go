package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sampleEvent struct {
	Kind      string `json:"event"`
	SessionID string `json:"sessionId"`
}

func TestProducerSendMessage(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var got sampleEvent
		if err := json.Unmarshal(val, &got); err != nil {
			return err
		}
		if got.Kind != "search" || got.SessionID != "abc" {
			return errors.New("unexpected payload")
		}
		return nil
	})

	p := NewProducerFrom(sp, "analytics-events", zap.NewNop())
	require.NoError(t, p.SendMessage(context.Background(), "abc", sampleEvent{Kind: "search", SessionID: "abc"}))
	require.NoError(t, p.Close())
}

func TestProducerSendMessageFailure(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewProducerFrom(sp, "analytics-events", zap.NewNop())
	err := p.SendMessage(context.Background(), "abc", sampleEvent{})

	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}

func TestProducerRespectsCancelledContext(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	p := NewProducerFrom(sp, "analytics-events", zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, p.SendMessage(ctx, "abc", sampleEvent{}), context.Canceled)
	require.NoError(t, p.Close())
}

func TestProducerConfig(t *testing.T) {
	cfg := ProducerConfig{
		Retries:          3,
		Timeout:          10 * time.Second,
		RequiredAcks:     1,
		Compression:      "zstd",
		IdempotentWrites: true,
		MaxMessageBytes:  1000000,
	}.SaramaConfig()

	assert.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	assert.Equal(t, 5, cfg.Producer.Retry.Max)
	assert.Equal(t, 1, cfg.Net.MaxOpenRequests)
	assert.Equal(t, sarama.CompressionZSTD, cfg.Producer.Compression)
	assert.True(t, cfg.Producer.Return.Successes)
}

func TestCompressionCodec(t *testing.T) {
	assert.Equal(t, sarama.CompressionSnappy, compressionCodec("snappy"))
	assert.Equal(t, sarama.CompressionNone, compressionCodec("brotli"))
}
