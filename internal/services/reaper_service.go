package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Gopher0727/Ephemera/internal/blob"
	"github.com/Gopher0727/Ephemera/internal/events"
	"github.com/Gopher0727/Ephemera/internal/lifecycle"
	"github.com/Gopher0727/Ephemera/internal/metrics"
	"github.com/Gopher0727/Ephemera/internal/repositories"
	logger "github.com/Gopher0727/Ephemera/middleware/log"
)

// ReapReport 一轮清理的结果
type ReapReport struct {
	Purged   int          `json:"purged"`
	GroupIDs []string     `json:"group_ids,omitempty"`
	Errors   []GroupError `json:"errors,omitempty"`
}

// ReaperService 清理保留期已过的归档群组
type ReaperService struct {
	groupRepo *repositories.GroupRepository
	blobs     blob.Store
	clock     lifecycle.Clock
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewReaperService 创建清理服务；blobs 为 nil 时不删除对象存储中的附件
func NewReaperService(groupRepo *repositories.GroupRepository, blobs blob.Store, clock lifecycle.Clock, publisher events.Publisher, m *metrics.Metrics, logger *zap.Logger) *ReaperService {
	if blobs == nil {
		blobs = blob.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &ReaperService{
		groupRepo: groupRepo,
		blobs:     blobs,
		clock:     clock,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// Reap 逐个删除到期的归档群组。每个群组的数据库删除是一个事务；
// 附件对象在事务提交后删除，删除失败只记入报告，残留对象已无任何记录引用。
func (s *ReaperService) Reap(ctx context.Context) (*ReapReport, error) {
	start := time.Now()
	now := s.clock.Now()

	groups, err := s.groupRepo.ListPurgeable(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load purgeable groups: %w", err)
	}

	log := logger.FromContext(ctx, s.logger)
	report := &ReapReport{}
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			log.Warn("reap cancelled", zap.Int("purged", report.Purged), zap.Error(err))
			return report, err
		}

		keys, err := s.groupRepo.Purge(ctx, g.ID, now)
		if err != nil {
			report.Errors = append(report.Errors, GroupError{GroupID: g.ID, Err: err})
			s.countReapError()
			continue
		}
		report.Purged++
		report.GroupIDs = append(report.GroupIDs, g.ID)
		if s.metrics != nil {
			s.metrics.ReapPurged.Inc()
		}

		if len(keys) > 0 {
			if err := s.blobs.Delete(ctx, keys); err != nil {
				report.Errors = append(report.Errors, GroupError{GroupID: g.ID, Err: fmt.Errorf("delete attachments: %w", err)})
				s.countReapError()
				log.Warn("delete attachments failed", zap.String("group_id", g.ID), zap.Int("objects", len(keys)), zap.Error(err))
			}
		}

		events.Emit(ctx, s.publisher, s.logger, events.Event{
			Type:    events.GroupPurged,
			GroupID: g.ID,
			At:      now,
		})
	}

	log.Info("reap finished",
		zap.Int("purged", report.Purged),
		zap.Int("errors", len(report.Errors)),
		zap.Duration("took", time.Since(start)),
	)
	return report, nil
}

func (s *ReaperService) countReapError() {
	if s.metrics != nil {
		s.metrics.ReapErrors.Inc()
	}
}
