package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/Gopher0727/Ephemera/internal/scheduler"
	"github.com/Gopher0727/Ephemera/internal/services"
	logger "github.com/Gopher0727/Ephemera/middleware/log"
)

var ErrUnknownTrigger = errors.New("unknown trigger op")

// Trigger 触发消息体，例如 {"op":"sweep"}
type Trigger struct {
	Op      string `json:"op"`
	TraceID string `json:"trace_id,omitempty"`
}

// Runner is satisfied by *scheduler.Scheduler.
type Runner interface {
	RunSweep(ctx context.Context) (*services.SweepReport, error)
	RunReap(ctx context.Context) (*services.ReapReport, error)
}

// TriggerConsumer 消费触发主题，按消息执行 sweep 或 reap
type TriggerConsumer struct {
	runner Runner
	logger *logger.Logger
}

func NewTriggerConsumer(runner Runner, log *logger.Logger) *TriggerConsumer {
	if log == nil {
		log = logger.NewNop()
	}
	return &TriggerConsumer{runner: runner, logger: log}
}

// Handle 实现 kafka.MessageHandler。无法解析的消息直接丢弃，未知操作返回错误以便进入死信队列
func (c *TriggerConsumer) Handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	var trig Trigger
	if err := json.Unmarshal(message.Value, &trig); err != nil {
		c.logger.Warn("drop malformed trigger",
			zap.String("topic", message.Topic),
			zap.Int64("offset", message.Offset),
			zap.Error(err),
		)
		return nil
	}

	ctx = logger.WithTraceID(ctx, trig.TraceID)
	c.logger.InfoContext(ctx, "trigger received", zap.String("op", trig.Op), zap.Int64("offset", message.Offset))

	switch trig.Op {
	case scheduler.OpSweep:
		_, err := c.runner.RunSweep(ctx)
		return err
	case scheduler.OpReap:
		_, err := c.runner.RunReap(ctx)
		return err
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTrigger, trig.Op)
	}
}
