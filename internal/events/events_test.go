package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama/mocks"
	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Gopher0727/Ephemera/config"
	"github.com/Gopher0727/Ephemera/internal/pkg/kafka"
	"github.com/Gopher0727/Ephemera/internal/pkg/redis"
	logger "github.com/Gopher0727/Ephemera/middleware/log"
)

var at = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, Event) error { return errors.New("channel down") }

func TestEmit_LogsFailure(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	Emit(context.Background(), failingPublisher{}, zap.New(core), Event{Type: GroupArchived, GroupID: "g1"})

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "publish lifecycle event failed", entry.Message)
	assert.Equal(t, "g1", entry.ContextMap()["group_id"])

	// nil publisher is a no-op
	Emit(context.Background(), nil, zap.New(core), Event{})
	assert.Equal(t, 1, logs.Len())
}

func TestEmit_FailureCarriesTrace(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	ctx := logger.StartOperation(logger.WithTraceID(context.Background(), "trace-evt-1"), "sweep")
	Emit(ctx, failingPublisher{}, zap.New(core), Event{Type: GroupExpiring, GroupID: "g2"})

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "trace-evt-1", fields["trace_id"])
	assert.Equal(t, "sweep", fields["operation"])
}

type recorder struct {
	events []Event
}

func (r *recorder) Publish(_ context.Context, evt Event) error {
	r.events = append(r.events, evt)
	return nil
}

func TestMulti_JoinsErrors(t *testing.T) {
	rec := &recorder{}
	m := Multi{rec, failingPublisher{}, Nop{}}

	err := m.Publish(context.Background(), Event{Type: MemberJoined, GroupID: "g1", UserID: "u1"})
	assert.Error(t, err)

	got := rec.events
	require.Len(t, got, 1, "healthy publishers still receive the event")
	assert.Equal(t, "u1", got[0].UserID)
}

func TestKafkaPublisher(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var evt Event
		if err := json.Unmarshal(val, &evt); err != nil {
			return err
		}
		if evt.Type != GroupArchived || evt.Reason != "inactive" {
			return errors.New("unexpected event")
		}
		return nil
	})
	cfg := &config.KafkaConfig{Producer: config.ProducerConfig{RetryBackoffMs: 1}}
	producer := kafka.NewProducerFromSync(sp, cfg)
	defer producer.Close()

	pub := NewKafkaPublisher(producer, "ephemera.lifecycle.events", 0)
	err := pub.Publish(context.Background(), Event{Type: GroupArchived, GroupID: "g1", Reason: "inactive", At: at})
	assert.NoError(t, err)
}

func TestRedisPublisher_RoutesByType(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	client := redis.NewClient(rdb)
	ctx := context.Background()

	sub, err := client.Subscribe(ctx, redis.EventChannel("g1"), redis.MessageChannel("g1"))
	require.NoError(t, err)
	defer sub.Close()

	pub := NewRedisPublisher(client)
	require.NoError(t, pub.Publish(ctx, Event{Type: GroupExpiring, GroupID: "g1", At: at}))
	require.NoError(t, pub.Publish(ctx, Event{Type: MessageAppended, GroupID: "g1", At: at}))

	channels := map[string]Type{}
	for range 2 {
		select {
		case msg := <-sub.Channel():
			var evt Event
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &evt))
			channels[msg.Channel] = evt.Type
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
	assert.Equal(t, GroupExpiring, channels["group:g1:events"])
	assert.Equal(t, MessageAppended, channels["group:g1:messages"])
}
