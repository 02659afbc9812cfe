package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Gopher0727/Ephemera/internal/events"
	"github.com/Gopher0727/Ephemera/internal/invite"
	"github.com/Gopher0727/Ephemera/internal/lifecycle"
	"github.com/Gopher0727/Ephemera/internal/metrics"
	"github.com/Gopher0727/Ephemera/internal/models"
	"github.com/Gopher0727/Ephemera/internal/repositories"
)

// JoinResult 加入结果：Accepted 为 false 时 Reason 给出拒绝原因
type JoinResult struct {
	Accepted bool   `json:"accepted"`
	GroupID  string `json:"group_id,omitempty"`
	Reason   Reason `json:"reason,omitempty"`
}

// RemoveResult 移除结果
type RemoveResult struct {
	Removed bool   `json:"removed"`
	Reason  Reason `json:"reason,omitempty"`
}

// MembershipService 成员加入与移除
type MembershipService struct {
	groupRepo *repositories.GroupRepository
	clock     lifecycle.Clock
	publisher events.Publisher
	unread    UnreadCounter
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewMembershipService 创建成员服务实例；publisher、unread、m 可以为 nil
func NewMembershipService(groupRepo *repositories.GroupRepository, clock lifecycle.Clock, publisher events.Publisher, unread UnreadCounter, m *metrics.Metrics, logger *zap.Logger) *MembershipService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &MembershipService{
		groupRepo: groupRepo,
		clock:     clock,
		publisher: publisher,
		unread:    unread,
		metrics:   m,
		logger:    logger,
	}
}

// Join 通过邀请码加入群组。邀请码校验、成员写入和带条件的成员数更新在同一事务内完成，
// 邀请码在校验之后过期或群组在此期间离开 active 状态，都会让整个加入回滚。
func (s *MembershipService) Join(ctx context.Context, code, userID string) (JoinResult, error) {
	code = invite.Normalize(code)
	now := s.clock.Now()

	var groupID string
	err := s.groupRepo.Transaction(ctx, func(tx *repositories.GroupRepository) error {
		group, reason, err := resolveInvite(ctx, tx, code, now)
		if err != nil {
			return err
		}
		if reason != "" {
			return reject(reason)
		}
		groupID = group.ID

		member := &models.GroupMember{GroupID: group.ID, UserID: userID, Role: models.RoleMember, JoinedAt: now}
		if err := tx.AddMember(ctx, member); err != nil {
			if errors.Is(err, repositories.ErrAlreadyMember) {
				return reject(ReasonAlreadyMember)
			}
			return err
		}
		return tx.IncrementMemberCountViaInvite(ctx, group.ID, code, now)
	})

	if errors.Is(err, repositories.ErrInviteUnusable) {
		err = reject(s.classifyLostJoin(ctx, groupID))
	}
	if reason, ok := asRejection(err); ok {
		s.countJoin(string(reason))
		return JoinResult{Accepted: false, Reason: reason}, nil
	}
	if err != nil {
		return JoinResult{}, fmt.Errorf("failed to join group: %w", err)
	}

	s.countJoin("accepted")
	s.logger.Info("member joined", zap.String("group_id", groupID), zap.String("user_id", userID))
	events.Emit(ctx, s.publisher, s.logger, events.Event{
		Type:    events.MemberJoined,
		GroupID: groupID,
		UserID:  userID,
		At:      now,
	})
	return JoinResult{Accepted: true, GroupID: groupID}, nil
}

// classifyLostJoin 条件更新没有命中时重新读取群组，区分群组状态变化和邀请码失效
func (s *MembershipService) classifyLostJoin(ctx context.Context, groupID string) Reason {
	group, err := s.groupRepo.GetByID(ctx, groupID)
	if err == nil && group.Status != models.StatusActive {
		return ReasonGroupNotActive
	}
	return ReasonInvalidOrExpiredCode
}

func (s *MembershipService) countJoin(result string) {
	if s.metrics != nil {
		s.metrics.JoinResults.WithLabelValues(result).Inc()
	}
}

// Remove 移除成员。创建者永远不能被移除；只有 admin 能移除他人，普通成员只能移除自己（退群）。
// 群组是否归档不影响移除。
func (s *MembershipService) Remove(ctx context.Context, groupID, targetUserID, actingUserID string) (RemoveResult, error) {
	err := s.groupRepo.Transaction(ctx, func(tx *repositories.GroupRepository) error {
		group, err := tx.GetByID(ctx, groupID)
		if err != nil {
			return err
		}
		if targetUserID == group.CreatorID {
			return reject(ReasonCreatorImmune)
		}

		if targetUserID != actingUserID {
			actor, err := tx.GetMember(ctx, groupID, actingUserID)
			if errors.Is(err, repositories.ErrMemberNotFound) {
				return reject(ReasonNotAdmin)
			}
			if err != nil {
				return err
			}
			if actor.Role != models.RoleAdmin {
				return reject(ReasonNotAdmin)
			}
		}

		if err := tx.RemoveMember(ctx, groupID, targetUserID); err != nil {
			if errors.Is(err, repositories.ErrMemberNotFound) {
				return reject(ReasonNotAMember)
			}
			return err
		}
		return nil
	})

	if reason, ok := asRejection(err); ok {
		return RemoveResult{Removed: false, Reason: reason}, nil
	}
	if err != nil {
		return RemoveResult{}, err
	}

	s.logger.Info("member removed",
		zap.String("group_id", groupID),
		zap.String("user_id", targetUserID),
		zap.String("by", actingUserID),
	)
	if s.unread != nil {
		if err := s.unread.DropMemberUnread(ctx, groupID, targetUserID); err != nil {
			s.logger.Warn("drop unread counter failed", zap.String("group_id", groupID), zap.Error(err))
		}
	}
	events.Emit(ctx, s.publisher, s.logger, events.Event{
		Type:    events.MemberRemoved,
		GroupID: groupID,
		UserID:  targetUserID,
		At:      s.clock.Now(),
	})
	return RemoveResult{Removed: true}, nil
}
