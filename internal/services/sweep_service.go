package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Gopher0727/Ephemera/config"
	"github.com/Gopher0727/Ephemera/internal/events"
	"github.com/Gopher0727/Ephemera/internal/lifecycle"
	"github.com/Gopher0727/Ephemera/internal/metrics"
	"github.com/Gopher0727/Ephemera/internal/models"
	"github.com/Gopher0727/Ephemera/internal/repositories"
	"github.com/Gopher0727/Ephemera/internal/utils"
	logger "github.com/Gopher0727/Ephemera/middleware/log"
	"github.com/Gopher0727/Ephemera/utils/consistenthash"
)

// disbandAttempts bounds the re-read loop when a message lands between the
// read and the conditional archive write.
const disbandAttempts = 3

// GroupError 单个群组处理失败
type GroupError struct {
	GroupID string
	Err     error
}

func (e GroupError) Error() string { return fmt.Sprintf("group %s: %v", e.GroupID, e.Err) }

func (e GroupError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		GroupID string `json:"group_id"`
		Error   string `json:"error"`
	}{e.GroupID, e.Err.Error()})
}

// AppliedTransition 本轮成功写入的状态迁移
type AppliedTransition struct {
	GroupID string               `json:"group_id"`
	From    models.GroupStatus   `json:"from"`
	To      models.GroupStatus   `json:"to"`
	Reason  models.ArchiveReason `json:"reason,omitempty"`
}

// SweepReport 一轮 sweep 的结果
type SweepReport struct {
	Evaluated    int                 `json:"evaluated"`
	Transitioned int                 `json:"transitioned"`
	Skipped      int                 `json:"skipped"`
	Transitions  []AppliedTransition `json:"transitions,omitempty"`
	Errors       []GroupError        `json:"errors,omitempty"`
	Cancelled    bool                `json:"cancelled,omitempty"`
}

// SweepService 周期性或按需对 active/expiring 群组执行生命周期判定，并以 CAS 写入迁移结果
type SweepService struct {
	groupRepo   *repositories.GroupRepository
	evaluator   lifecycle.Evaluator
	clock       lifecycle.Clock
	retention   time.Duration
	concurrency int

	ring   *consistenthash.Ring
	nodeID string

	publisher events.Publisher
	unread    UnreadCounter
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewSweepService 创建 sweep 服务
func NewSweepService(groupRepo *repositories.GroupRepository, clock lifecycle.Clock, cfg config.LifecycleConfig, logger *zap.Logger) *SweepService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SweepService{
		groupRepo:   groupRepo,
		evaluator:   lifecycle.NewEvaluator(cfg.ExpiringFraction),
		clock:       clock,
		retention:   cfg.Retention(),
		concurrency: max(cfg.SweepConcurrency, 1),
		publisher:   events.Nop{},
		logger:      logger,
	}
}

// WithEvents 设置事件发布器
func (s *SweepService) WithEvents(p events.Publisher) *SweepService {
	s.publisher = p
	return s
}

// WithUnread 设置未读计数存储，归档时清空
func (s *SweepService) WithUnread(u UnreadCounter) *SweepService {
	s.unread = u
	return s
}

func (s *SweepService) WithMetrics(m *metrics.Metrics) *SweepService {
	s.metrics = m
	return s
}

// WithRing 多节点部署时只处理哈希到 nodeID 的群组
func (s *SweepService) WithRing(ring *consistenthash.Ring, nodeID string) *SweepService {
	s.ring = ring
	s.nodeID = nodeID
	return s
}

func (s *SweepService) owns(groupID string) bool {
	return s.ring == nil || s.ring.Owns(s.nodeID, groupID)
}

// Sweep 执行一轮判定。单个群组的失败（包括 CAS 落败）记录在报告中，不会中断其他群组。
// ctx 取消后不再调度新的群组，已经开始的写入是单条语句，不会只写一半；
// 此时返回已完成部分的报告和 ctx 的错误。
func (s *SweepService) Sweep(ctx context.Context) (*SweepReport, error) {
	start := time.Now()
	now := s.clock.Now()

	groups, err := s.groupRepo.ListByStatus(ctx, models.StatusActive, models.StatusExpiring)
	if err != nil {
		return nil, fmt.Errorf("failed to load live groups: %w", err)
	}

	report := &SweepReport{}
	var mu sync.Mutex

	pool := utils.NewWorkerPool(s.concurrency, s.concurrency, s.logger)
	pool.Start()
	for i := range groups {
		g := groups[i]
		if !s.owns(g.ID) {
			report.Skipped++
			continue
		}
		err := pool.Submit(ctx, func() {
			if ctx.Err() != nil {
				return
			}
			applied, err := s.sweepOne(ctx, &g, now)

			mu.Lock()
			defer mu.Unlock()
			report.Evaluated++
			if err != nil {
				report.Errors = append(report.Errors, GroupError{GroupID: g.ID, Err: err})
				return
			}
			if applied != nil {
				report.Transitioned++
				report.Transitions = append(report.Transitions, *applied)
			}
		})
		if err != nil {
			break
		}
	}
	pool.Stop()

	if s.metrics != nil {
		s.metrics.SweepDuration.Observe(time.Since(start).Seconds())
		s.metrics.SweepErrors.Add(float64(len(report.Errors)))
	}

	fields := []zap.Field{
		zap.Int("evaluated", report.Evaluated),
		zap.Int("transitioned", report.Transitioned),
		zap.Int("skipped", report.Skipped),
		zap.Int("errors", len(report.Errors)),
		zap.Duration("took", time.Since(start)),
	}
	if err := ctx.Err(); err != nil {
		report.Cancelled = true
		logger.FromContext(ctx, s.logger).Warn("sweep cancelled", append(fields, zap.Error(err))...)
		return report, err
	}
	logger.FromContext(ctx, s.logger).Info("sweep finished", fields...)
	return report, nil
}

// sweepOne 判定单个群组并尝试写入；返回 nil, nil 表示无需迁移
func (s *SweepService) sweepOne(ctx context.Context, g *models.Group, now time.Time) (*AppliedTransition, error) {
	decision := s.evaluator.Evaluate(*g, now)
	if !decision.IsTransition() {
		return nil, nil
	}
	return s.apply(ctx, g, decision, now)
}

// apply 以 CAS 写入迁移，只有写入成功的一方触发后续副作用
func (s *SweepService) apply(ctx context.Context, g *models.Group, d lifecycle.Decision, now time.Time) (*AppliedTransition, error) {
	t := repositories.Transition{
		GroupID:        g.ID,
		FromStatus:     g.Status,
		FromVersion:    g.Version,
		To:             d.To,
		Reason:         d.Reason,
		At:             now,
		RetentionUntil: now.Add(s.retention),
	}
	if err := s.groupRepo.ApplyTransition(ctx, t); err != nil {
		return nil, err
	}

	applied := &AppliedTransition{GroupID: g.ID, From: g.Status, To: d.To, Reason: d.Reason}
	s.afterTransition(ctx, applied, now)
	return applied, nil
}

func (s *SweepService) afterTransition(ctx context.Context, t *AppliedTransition, now time.Time) {
	log := logger.FromContext(ctx, s.logger)
	log.Info("group transitioned",
		zap.String("group_id", t.GroupID),
		zap.String("from", string(t.From)),
		zap.String("to", string(t.To)),
		zap.String("reason", string(t.Reason)),
	)
	if s.metrics != nil {
		s.metrics.SweepTransitions.WithLabelValues(string(t.To), string(t.Reason)).Inc()
	}

	evt := events.Event{GroupID: t.GroupID, Reason: string(t.Reason), At: now}
	switch t.To {
	case models.StatusExpiring:
		evt.Type = events.GroupExpiring
	case models.StatusArchived:
		evt.Type = events.GroupArchived
		if s.unread != nil {
			if err := s.unread.ResetUnread(ctx, t.GroupID); err != nil {
				log.Warn("reset unread failed", zap.String("group_id", t.GroupID), zap.Error(err))
			}
		}
	}

	// 事件携带成员列表，通知渠道据此逐个通知
	if memberIDs, err := s.groupRepo.ListMemberIDs(ctx, t.GroupID); err == nil {
		evt.Payload = map[string]any{"members": memberIDs}
	} else {
		log.Warn("list members for notification failed", zap.String("group_id", t.GroupID), zap.Error(err))
	}
	events.Emit(ctx, s.publisher, s.logger, evt)
}

// DisbandManually 管理员手动解散群组，绕过 evaluator 直接归档（reason=manual）
func (s *SweepService) DisbandManually(ctx context.Context, groupID, actingUserID string) error {
	if err := requireAdmin(ctx, s.groupRepo, groupID, actingUserID); err != nil {
		return err
	}

	for attempt := 0; attempt < disbandAttempts; attempt++ {
		group, err := s.groupRepo.GetByID(ctx, groupID)
		if err != nil {
			return err
		}
		if !group.Status.Live() {
			return ErrGroupNotActive
		}

		now := s.clock.Now()
		_, err = s.apply(ctx, group, lifecycle.TransitionTo(models.StatusArchived, models.ReasonManual), now)
		if errors.Is(err, repositories.ErrTransitionConflict) {
			continue
		}
		return err
	}
	return repositories.ErrTransitionConflict
}
