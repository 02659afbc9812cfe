package events

import (
	"context"
	"fmt"

	"github.com/Gopher0727/Ephemera/internal/pkg/kafka"
)

// KafkaPublisher writes events to the lifecycle topic keyed by group id, so
// every event of one group lands on the same partition in order.
type KafkaPublisher struct {
	producer   *kafka.Producer
	topic      string
	maxRetries int
}

func NewKafkaPublisher(producer *kafka.Producer, topic string, maxRetries int) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic, maxRetries: maxRetries}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt Event) error {
	value, err := evt.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", evt.Type, err)
	}
	_, _, err = p.producer.ProduceWithRetry(ctx, p.topic, []byte(evt.GroupID), value, p.maxRetries)
	return err
}
