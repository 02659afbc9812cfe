package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/Gopher0727/Ephemera/config"
)

// MessageHandler is a function type that processes consumed messages.
// It receives the message and returns an error if processing fails.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// Consumer represents a Kafka consumer group member.
// Messages that still fail after the configured retries are forwarded to the
// dead letter topic and marked as consumed.
type Consumer struct {
	consumerGroup sarama.ConsumerGroup
	config        *config.KafkaConfig
	handler       MessageHandler
	dlqProducer   *Producer
	logger        *zap.Logger
	topics        []string
	wg            sync.WaitGroup
	cancel        context.CancelFunc
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler interface.
type consumerGroupHandler struct {
	consumer *Consumer
}

// NewConsumer creates a new Kafka consumer instance.
//
// Parameters:
//   - cfg: Kafka configuration containing broker addresses and consumer settings
//   - topics: List of topics to subscribe to
//   - handler: Function to process consumed messages
//   - dlq: Producer used for the dead letter topic
//   - logger: Logger for consumer errors
//
// Returns:
//   - *Consumer: The created consumer instance
//   - error: Any error encountered during initialization
func NewConsumer(cfg *config.KafkaConfig, topics []string, handler MessageHandler, dlq *Producer, logger *zap.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_6_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	// Set connection timeouts to prevent hanging
	saramaConfig.Net.DialTimeout = 10 * time.Second
	saramaConfig.Net.ReadTimeout = 10 * time.Second
	saramaConfig.Net.WriteTimeout = 10 * time.Second
	saramaConfig.Metadata.Retry.Max = 3
	saramaConfig.Metadata.Retry.Backoff = 250 * time.Millisecond
	saramaConfig.Metadata.Timeout = 10 * time.Second

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer group: %w", err)
	}
	return newConsumer(consumerGroup, cfg, topics, handler, dlq, logger), nil
}

func newConsumer(group sarama.ConsumerGroup, cfg *config.KafkaConfig, topics []string, handler MessageHandler, dlq *Producer, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		consumerGroup: group,
		config:        cfg,
		handler:       handler,
		dlqProducer:   dlq,
		logger:        logger,
		topics:        topics,
	}
}

// Start begins consuming messages from the subscribed topics in a background
// goroutine. It returns immediately; Stop cancels the loop and waits for it.
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		handler := &consumerGroupHandler{consumer: c}
		for {
			if err := c.consumerGroup.Consume(ctx, c.topics, handler); err != nil {
				c.logger.Error("kafka consume failed", zap.Strings("topics", c.topics), zap.Error(err))
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
}

// Stop stops the consumer and waits for all goroutines to finish.
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	if err := c.consumerGroup.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer group: %w", err)
	}
	return nil
}

// Setup is run at the beginning of a new session, before ConsumeClaim.
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim goroutines have exited.
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a partition.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.consumer.process(session.Context(), message)
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// process runs the handler with retries and dead-letters the message when
// every attempt failed.
func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) {
	err := c.processMessageWithRetry(ctx, message)
	if err == nil || ctx.Err() != nil {
		return
	}
	if dlqErr := c.sendToDLQ(ctx, message, err); dlqErr != nil {
		c.logger.Error("failed to send message to DLQ",
			zap.String("topic", message.Topic),
			zap.Int64("offset", message.Offset),
			zap.Error(dlqErr),
		)
	}
}

// processMessageWithRetry retries the handler according to the consumer configuration.
func (c *Consumer) processMessageWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	maxRetries := c.config.Consumer.MaxRetries
	backoff := time.Duration(c.config.Consumer.RetryBackoffMs) * time.Millisecond

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.handler(ctx, message)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}

// sendToDLQ forwards the original key and value to the dead letter topic.
func (c *Consumer) sendToDLQ(ctx context.Context, message *sarama.ConsumerMessage, processingErr error) error {
	if c.dlqProducer == nil {
		return fmt.Errorf("no DLQ producer configured: %w", processingErr)
	}

	dlqTopic := c.config.Topics.DLQ
	if _, _, err := c.dlqProducer.Produce(ctx, dlqTopic, message.Key, message.Value); err != nil {
		return fmt.Errorf("failed to send message to DLQ: %w", err)
	}

	c.logger.Warn("message sent to DLQ",
		zap.String("topic", message.Topic),
		zap.Int32("partition", message.Partition),
		zap.Int64("offset", message.Offset),
		zap.Error(processingErr),
	)
	return nil
}
