package services

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Gopher0727/Ephemera/config"
	"github.com/Gopher0727/Ephemera/internal/events"
	"github.com/Gopher0727/Ephemera/internal/invite"
	"github.com/Gopher0727/Ephemera/internal/lifecycle"
	"github.com/Gopher0727/Ephemera/internal/metrics"
	"github.com/Gopher0727/Ephemera/internal/models"
	"github.com/Gopher0727/Ephemera/internal/pkg/redis"
	"github.com/Gopher0727/Ephemera/internal/repositories"
	"github.com/Gopher0727/Ephemera/internal/storage"
	"github.com/Gopher0727/Ephemera/utils/snowflake"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

func testLifecycleConfig() config.LifecycleConfig {
	return config.LifecycleConfig{
		RetentionDays:     30,
		InviteTTL:         7 * day,
		InviteMaxAttempts: 10,
		SweepInterval:     time.Minute,
		ReapInterval:      day,
		SweepConcurrency:  4,
		ExpiringFraction:  0.10,
	}
}

type testEnv struct {
	clock    *lifecycle.ManualClock
	groups   *repositories.GroupRepository
	messages *repositories.MessageRepository
	redis    *redis.Client
	mr       *miniredis.Miniredis
	events   *eventRecorder
	metrics  *metrics.Metrics

	invites    *InviteService
	groupSvc   *GroupService
	membership *MembershipService
	messageSvc *MessageService
	sweeper    *SweepService
	reaper     *ReaperService
	blobs      *fakeBlobs
}

// eventRecorder keeps published events until the test drains them.
type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) Publish(_ context.Context, evt events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *eventRecorder) Drain() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

type fakeBlobs struct {
	deleted []string
	err     error
}

func (f *fakeBlobs) Delete(_ context.Context, keys []string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, keys...)
	return nil
}

func newTestEnv(t testing.TB) *testEnv {
	t.Helper()
	return newTestEnvWithGenerator(t, invite.NewGenerator(nil))
}

func newTestEnvWithGenerator(t testing.TB, gen *invite.Generator) *testEnv {
	t.Helper()
	db, err := storage.OpenSQLite(":memory:")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	ids, err := snowflake.NewGenerator(1)
	require.NoError(t, err)

	cfg := testLifecycleConfig()
	logger := zap.NewNop()
	env := &testEnv{
		clock:    lifecycle.NewManualClock(t0),
		groups:   repositories.NewGroupRepository(db),
		messages: repositories.NewMessageRepository(db),
		redis:    redis.NewClient(rdb),
		mr:       mr,
		events:   &eventRecorder{},
		metrics:  metrics.New(nil),
		blobs:    &fakeBlobs{},
	}
	env.invites = NewInviteService(env.groups, gen, env.clock, cfg, logger)
	env.groupSvc = NewGroupService(env.groups, env.invites, env.clock, logger)
	env.membership = NewMembershipService(env.groups, env.clock, env.events, env.redis, env.metrics, logger)
	env.messageSvc = NewMessageService(env.messages, env.groups, ids, env.clock, env.events, env.redis, logger)
	env.sweeper = NewSweepService(env.groups, env.clock, cfg, logger).
		WithEvents(env.events).
		WithUnread(env.redis).
		WithMetrics(env.metrics)
	env.reaper = NewReaperService(env.groups, env.blobs, env.clock, env.events, env.metrics, logger)
	return env
}

func ptr[T any](v T) *T { return &v }

// createGroup creates a group owned by "creator" at the current clock time.
func (e *testEnv) createGroup(t testing.TB, req CreateGroupRequest) *models.Group {
	t.Helper()
	if req.Name == "" {
		req.Name = "weekend trip"
	}
	g, err := e.groupSvc.Create(context.Background(), "creator", &req)
	require.NoError(t, err)
	return g
}

func (e *testEnv) join(t testing.TB, g *models.Group, userID string) {
	t.Helper()
	res, err := e.membership.Join(context.Background(), *g.Invite.Code, userID)
	require.NoError(t, err)
	require.True(t, res.Accepted, "join rejected: %s", res.Reason)
}

func (e *testEnv) reload(t testing.TB, id string) *models.Group {
	t.Helper()
	g, err := e.groups.GetByID(context.Background(), id)
	require.NoError(t, err)
	return g
}

func (e *testEnv) eventsOf(typ events.Type) []events.Event {
	var out []events.Event
	for _, evt := range e.events.Drain() {
		if evt.Type == typ {
			out = append(out, evt)
		}
	}
	return out
}
