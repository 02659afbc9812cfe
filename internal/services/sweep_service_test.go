package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/Gopher0727/Ephemera/internal/events"
	"github.com/Gopher0727/Ephemera/internal/lifecycle"
	"github.com/Gopher0727/Ephemera/internal/models"
	"github.com/Gopher0727/Ephemera/internal/repositories"
	logger "github.com/Gopher0727/Ephemera/middleware/log"
	"github.com/Gopher0727/Ephemera/utils/consistenthash"
)

var statusRank = map[models.GroupStatus]int{
	models.StatusActive:   0,
	models.StatusExpiring: 1,
	models.StatusArchived: 2,
}

func TestSweepService_ExpiringThreshold(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	expiry := t0.Add(100 * day)
	g := env.createGroup(t, CreateGroupRequest{AbsoluteExpiry: &expiry})

	env.clock.Set(t0.Add(89 * day))
	report, err := env.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Evaluated)
	assert.Zero(t, report.Transitioned)
	assert.Equal(t, models.StatusActive, env.reload(t, g.ID).Status)

	env.clock.Set(t0.Add(91 * day))
	report, err = env.sweeper.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, report.Transitions, 1)
	assert.Equal(t, AppliedTransition{GroupID: g.ID, From: models.StatusActive, To: models.StatusExpiring}, report.Transitions[0])

	stored := env.reload(t, g.ID)
	assert.Equal(t, models.StatusExpiring, stored.Status)
	assert.Nil(t, stored.ArchivedAt)

	expiring := env.eventsOf(events.GroupExpiring)
	require.Len(t, expiring, 1)
	assert.Equal(t, map[string]any{"members": []string{"creator"}}, expiring[0].Payload)

	env.clock.Set(expiry)
	report, err = env.sweeper.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, report.Transitions, 1)
	assert.Equal(t, models.ReasonTimeExpired, report.Transitions[0].Reason)

	stored = env.reload(t, g.ID)
	assert.Equal(t, models.StatusArchived, stored.Status)
	require.NotNil(t, stored.ArchiveRetentionUntil)
	assert.True(t, stored.ArchiveRetentionUntil.Equal(expiry.Add(30*day)))
}

func TestSweepService_TriggerPriority(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	expiry := t0.Add(2 * day)
	all := env.createGroup(t, CreateGroupRequest{
		AbsoluteExpiry:          &expiry,
		InactivityThresholdDays: ptr(1),
		MessageLimit:            ptr(int64(1)),
	})
	idleAndFull := env.createGroup(t, CreateGroupRequest{
		InactivityThresholdDays: ptr(1),
		MessageLimit:            ptr(int64(1)),
	})
	full := env.createGroup(t, CreateGroupRequest{MessageLimit: ptr(int64(1))})
	untouched := env.createGroup(t, CreateGroupRequest{})

	for _, g := range []*models.Group{all, idleAndFull, full} {
		_, err := env.messageSvc.Append(ctx, g.ID, "creator", &AppendMessageRequest{Content: "last"})
		require.NoError(t, err)
	}

	env.clock.Advance(3 * day)
	report, err := env.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Evaluated)
	assert.Equal(t, 3, report.Transitioned)
	assert.Empty(t, report.Errors)

	want := map[string]models.ArchiveReason{
		all.ID:         models.ReasonTimeExpired,
		idleAndFull.ID: models.ReasonInactive,
		full.ID:        models.ReasonMessageLimit,
	}
	for id, reason := range want {
		stored := env.reload(t, id)
		assert.Equal(t, models.StatusArchived, stored.Status)
		require.NotNil(t, stored.ArchiveReason)
		assert.Equal(t, reason, *stored.ArchiveReason)
	}
	assert.Equal(t, models.StatusActive, env.reload(t, untouched.ID).Status)

	assert.Len(t, env.eventsOf(events.GroupArchived), 3)
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.SweepTransitions.WithLabelValues("archived", "inactive")))
}

func TestSweepService_LongInactivityThresholdStaysActive(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	g := env.createGroup(t, CreateGroupRequest{InactivityThresholdDays: ptr(lifecycle.MaxInactivityThresholdDays)})
	env.clock.Advance(time.Nanosecond)

	report, err := env.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Evaluated)
	assert.Zero(t, report.Transitioned)
	assert.Equal(t, models.StatusActive, env.reload(t, g.ID).Status)
}

func TestSweepService_LogsCarryTrace(t *testing.T) {
	env := newTestEnv(t)
	env.createGroup(t, CreateGroupRequest{InactivityThresholdDays: ptr(1)})
	env.clock.Advance(2 * day)

	core, logs := observer.New(zap.InfoLevel)
	sweeper := NewSweepService(env.groups, env.clock, testLifecycleConfig(), zap.New(core))
	ctx := logger.StartOperation(logger.WithTraceID(context.Background(), "trace-sweep-1"), "sweep")

	report, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Transitioned)

	for _, msg := range []string{"group transitioned", "sweep finished"} {
		entries := logs.FilterMessage(msg).All()
		require.Len(t, entries, 1, msg)
		fields := entries[0].ContextMap()
		assert.Equal(t, "trace-sweep-1", fields["trace_id"], msg)
		assert.Equal(t, "sweep", fields["operation"], msg)
	}
}

func TestSweepService_Idempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		env.createGroup(t, CreateGroupRequest{InactivityThresholdDays: ptr(1)})
	}
	env.clock.Advance(2 * day)

	first, err := env.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, first.Transitioned)
	env.events.Drain()

	second, err := env.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Evaluated)
	assert.Zero(t, second.Transitioned)
	assert.Empty(t, env.events.Drain())
}

func TestSweepService_ArchiveResetsUnread(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	g := env.createGroup(t, CreateGroupRequest{MessageLimit: ptr(int64(1))})
	env.join(t, g, "alice")

	_, err := env.messageSvc.Append(ctx, g.ID, "creator", &AppendMessageRequest{Content: "bye"})
	require.NoError(t, err)
	unread, err := env.redis.Unread(ctx, g.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(1), unread)

	_, err = env.sweeper.Sweep(ctx)
	require.NoError(t, err)

	unread, err = env.redis.Unread(ctx, g.ID, "alice")
	require.NoError(t, err)
	assert.Zero(t, unread)
}

func TestSweepService_ConcurrentSweepsApplyOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	g := env.createGroup(t, CreateGroupRequest{InactivityThresholdDays: ptr(1)})
	env.clock.Advance(2 * day)

	other := NewSweepService(env.groups, env.clock, testLifecycleConfig(), zap.NewNop()).WithEvents(env.events)

	var wg sync.WaitGroup
	reports := make([]*SweepReport, 2)
	for i, s := range []*SweepService{env.sweeper, other} {
		wg.Add(1)
		go func(i int, s *SweepService) {
			defer wg.Done()
			r, err := s.Sweep(ctx)
			assert.NoError(t, err)
			reports[i] = r
		}(i, s)
	}
	wg.Wait()

	require.NotNil(t, reports[0])
	require.NotNil(t, reports[1])
	assert.Equal(t, 1, reports[0].Transitioned+reports[1].Transitioned)
	for _, r := range reports {
		for _, e := range r.Errors {
			assert.ErrorIs(t, e.Err, repositories.ErrTransitionConflict)
		}
	}
	assert.Len(t, env.eventsOf(events.GroupArchived), 1)
	assert.Equal(t, models.StatusArchived, env.reload(t, g.ID).Status)
}

func TestSweepService_StaleSnapshotLosesRace(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	g := env.createGroup(t, CreateGroupRequest{InactivityThresholdDays: ptr(1)})
	env.clock.Advance(2 * day)

	snapshot := env.reload(t, g.ID)
	_, err := env.messageSvc.Append(ctx, g.ID, "creator", &AppendMessageRequest{Content: "still here"})
	require.NoError(t, err)

	_, err = env.sweeper.sweepOne(ctx, snapshot, env.clock.Now())
	assert.ErrorIs(t, err, repositories.ErrTransitionConflict)
	assert.Equal(t, models.StatusActive, env.reload(t, g.ID).Status)

	report, err := env.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Transitioned, "fresh activity keeps the group alive")
}

type cancelOnPublish struct {
	cancel context.CancelFunc
}

func (c cancelOnPublish) Publish(context.Context, events.Event) error {
	c.cancel()
	return nil
}

func TestSweepService_Cancellation(t *testing.T) {
	env := newTestEnv(t)
	const n = 10
	for i := 0; i < n; i++ {
		env.createGroup(t, CreateGroupRequest{InactivityThresholdDays: ptr(1)})
	}
	env.clock.Advance(2 * day)

	cfg := testLifecycleConfig()
	cfg.SweepConcurrency = 1
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sweeper := NewSweepService(env.groups, env.clock, cfg, zap.NewNop()).WithEvents(cancelOnPublish{cancel})

	report, err := sweeper.Sweep(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	require.NotNil(t, report)
	assert.True(t, report.Cancelled)
	assert.GreaterOrEqual(t, report.Transitioned, 1)
	assert.Less(t, report.Transitioned, n)

	rest, err := env.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, n, report.Transitioned+rest.Transitioned)
}

func TestSweepService_Ring(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	ids := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		ids = append(ids, env.createGroup(t, CreateGroupRequest{InactivityThresholdDays: ptr(1)}).ID)
	}
	env.clock.Advance(2 * day)

	ring := consistenthash.New(50, nil)
	ring.Add("node-a", "node-b")
	owned := 0
	for _, id := range ids {
		if ring.Owns("node-a", id) {
			owned++
		}
	}

	a := NewSweepService(env.groups, env.clock, testLifecycleConfig(), zap.NewNop()).WithRing(ring, "node-a")
	report, err := a.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, owned, report.Transitioned)
	assert.Equal(t, len(ids)-owned, report.Skipped)

	b := NewSweepService(env.groups, env.clock, testLifecycleConfig(), zap.NewNop()).WithRing(ring, "node-b")
	report, err = b.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(ids)-owned, report.Transitioned)

	archived, err := env.groups.ListByStatus(ctx, models.StatusArchived)
	require.NoError(t, err)
	assert.Len(t, archived, len(ids))
}

func TestSweepService_DisbandManually(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	g := env.createGroup(t, CreateGroupRequest{})
	env.join(t, g, "alice")
	env.events.Drain()

	assert.ErrorIs(t, env.sweeper.DisbandManually(ctx, g.ID, "alice"), ErrNotAdmin)
	assert.ErrorIs(t, env.sweeper.DisbandManually(ctx, "missing", "creator"), repositories.ErrGroupNotFound)

	require.NoError(t, env.sweeper.DisbandManually(ctx, g.ID, "creator"))
	stored := env.reload(t, g.ID)
	assert.Equal(t, models.StatusArchived, stored.Status)
	require.NotNil(t, stored.ArchiveReason)
	assert.Equal(t, models.ReasonManual, *stored.ArchiveReason)

	archived := env.eventsOf(events.GroupArchived)
	require.Len(t, archived, 1)
	assert.Equal(t, string(models.ReasonManual), archived[0].Reason)

	assert.ErrorIs(t, env.sweeper.DisbandManually(ctx, g.ID, "creator"), ErrGroupNotActive)
}

func TestSweepService_ReportJSON(t *testing.T) {
	e := GroupError{GroupID: "g1", Err: repositories.ErrTransitionConflict}
	b, err := e.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"group_id":"g1","error":"`+repositories.ErrTransitionConflict.Error()+`"}`, string(b))
}

// Status only ever moves forward and an archive reason never changes, whatever
// mix of time, traffic and sweeps a group sees.
func TestProperty_SweepStatusIsMonotonic(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	rapid.Check(t, func(t *rapid.T) {
		env.clock.Set(t0)
		req := &CreateGroupRequest{Name: "prop"}
		if rapid.Bool().Draw(t, "hasExpiry") {
			req.AbsoluteExpiry = ptr(t0.Add(time.Duration(rapid.Int64Range(int64(time.Hour), int64(60*day)).Draw(t, "lifetime"))))
		}
		if rapid.Bool().Draw(t, "hasInactivity") {
			req.InactivityThresholdDays = ptr(rapid.IntRange(1, 30).Draw(t, "inactivityDays"))
		}
		if rapid.Bool().Draw(t, "hasLimit") {
			req.MessageLimit = ptr(rapid.Int64Range(1, 10).Draw(t, "limit"))
		}
		g, err := env.groupSvc.Create(ctx, "creator", req)
		if err != nil {
			t.Fatalf("create: %v", err)
		}

		status := g.Status
		var reason *models.ArchiveReason
		steps := rapid.IntRange(1, 12).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.SampledFrom([]string{"advance", "message", "sweep"}).Draw(t, "op") {
			case "advance":
				env.clock.Advance(time.Duration(rapid.Int64Range(0, int64(20*day)).Draw(t, "advance")))
			case "message":
				_, err := env.messageSvc.Append(ctx, g.ID, "creator", &AppendMessageRequest{Content: "m"})
				if err != nil && !errors.Is(err, repositories.ErrGroupNotLive) && !errors.Is(err, repositories.ErrMessageLimitReached) {
					t.Fatalf("append: %v", err)
				}
			case "sweep":
				if _, err := env.sweeper.Sweep(ctx); err != nil {
					t.Fatalf("sweep: %v", err)
				}
			}

			stored, err := env.groups.GetByID(ctx, g.ID)
			if err != nil {
				t.Fatalf("reload: %v", err)
			}
			if statusRank[stored.Status] < statusRank[status] {
				t.Fatalf("status moved backward: %s -> %s", status, stored.Status)
			}
			if reason != nil && (stored.ArchiveReason == nil || *stored.ArchiveReason != *reason) {
				t.Fatalf("archive reason changed from %s", *reason)
			}
			status, reason = stored.Status, stored.ArchiveReason
		}
	})
}
