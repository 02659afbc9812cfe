package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gopher0727/Ephemera/config"
)

func testKafkaConfig() *config.KafkaConfig {
	return &config.KafkaConfig{
		Brokers:       []string{"127.0.0.1:9092"},
		ConsumerGroup: "test-group",
		Topics: config.TopicsConfig{
			Events:   "test.events",
			Triggers: "test.triggers",
			DLQ:      "test.triggers.dlq",
		},
		Producer: config.ProducerConfig{MaxRetries: 2, RetryBackoffMs: 1},
		Consumer: config.ConsumerConfig{MaxRetries: 2, RetryBackoffMs: 1},
	}
}

func TestProducer_Produce(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != "payload" {
			return errors.New("unexpected payload " + string(val))
		}
		return nil
	})
	p := NewProducerFromSync(sp, testKafkaConfig())
	defer p.Close()

	_, _, err := p.Produce(context.Background(), "test.events", []byte("g1"), []byte("payload"))
	require.NoError(t, err)
}

func TestProducer_ProduceCancelled(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	p := NewProducerFromSync(sp, testKafkaConfig())
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := p.Produce(ctx, "test.events", nil, []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProducer_ProduceWithRetry(t *testing.T) {
	t.Run("succeeds after a failure", func(t *testing.T) {
		sp := mocks.NewSyncProducer(t, nil)
		sp.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)
		sp.ExpectSendMessageAndSucceed()
		p := NewProducerFromSync(sp, testKafkaConfig())
		defer p.Close()

		_, _, err := p.ProduceWithRetry(context.Background(), "test.events", nil, []byte("x"), 2)
		assert.NoError(t, err)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		sp := mocks.NewSyncProducer(t, nil)
		for range 3 {
			sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
		}
		p := NewProducerFromSync(sp, testKafkaConfig())
		defer p.Close()

		_, _, err := p.ProduceWithRetry(context.Background(), "test.events", nil, []byte("x"), 2)
		assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
		assert.Contains(t, err.Error(), "after 3 attempts")
	})
}
