package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Gopher0727/Ephemera/internal/lifecycle"
	"github.com/Gopher0727/Ephemera/internal/models"
	"github.com/Gopher0727/Ephemera/internal/repositories"
	"github.com/Gopher0727/Ephemera/internal/utils"
)

// GroupService 群组创建与查询
type GroupService struct {
	groupRepo *repositories.GroupRepository
	invites   *InviteService
	clock     lifecycle.Clock
	logger    *zap.Logger
}

// NewGroupService 创建群组服务实例
func NewGroupService(groupRepo *repositories.GroupRepository, invites *InviteService, clock lifecycle.Clock, logger *zap.Logger) *GroupService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GroupService{
		groupRepo: groupRepo,
		invites:   invites,
		clock:     clock,
		logger:    logger,
	}
}

// CreateGroupRequest 创建群组请求，三个过期条件均可选
type CreateGroupRequest struct {
	Name                    string     `json:"name" binding:"required"`
	AbsoluteExpiry          *time.Time `json:"absolute_expiry"`
	InactivityThresholdDays *int       `json:"inactivity_threshold_days"`
	MessageLimit            *int64     `json:"message_limit"`
}

// GroupView 群组详情，附带剩余寿命比例
type GroupView struct {
	*models.Group
	LifetimeRemaining *float64 `json:"lifetime_remaining,omitempty"`
}

// validatePolicy 策略错误在创建时拒绝，不会进入 evaluator
func validatePolicy(req *CreateGroupRequest, createdAt time.Time) error {
	if req.AbsoluteExpiry != nil && !req.AbsoluteExpiry.After(createdAt) {
		return fmt.Errorf("%w: absolute_expiry must be after creation time", ErrInvalidPolicy)
	}
	if req.InactivityThresholdDays != nil {
		days := *req.InactivityThresholdDays
		if days <= 0 {
			return fmt.Errorf("%w: inactivity_threshold_days must be positive", ErrInvalidPolicy)
		}
		if days > lifecycle.MaxInactivityThresholdDays {
			return fmt.Errorf("%w: inactivity_threshold_days must not exceed %d", ErrInvalidPolicy, lifecycle.MaxInactivityThresholdDays)
		}
	}
	if req.MessageLimit != nil && *req.MessageLimit <= 0 {
		return fmt.Errorf("%w: message_limit must be positive", ErrInvalidPolicy)
	}
	return nil
}

// Create 创建群组：创建者作为 admin 写入成员表，并在同一事务里签发第一个邀请码
func (s *GroupService) Create(ctx context.Context, creatorID string, req *CreateGroupRequest) (*models.Group, error) {
	if !utils.ValidateUserID(creatorID) {
		return nil, fmt.Errorf("%w: creator id", ErrInvalidRequest)
	}
	name, ok := utils.NormalizeGroupName(req.Name)
	if !ok {
		return nil, fmt.Errorf("%w: group name must be 1-%d characters", ErrInvalidRequest, utils.MaxGroupNameLen)
	}

	now := s.clock.Now()
	if err := validatePolicy(req, now); err != nil {
		return nil, err
	}

	policy := models.ExpirationPolicy{
		InactivityThresholdDays: req.InactivityThresholdDays,
		MessageLimit:            req.MessageLimit,
	}
	if req.AbsoluteExpiry != nil {
		expiry := req.AbsoluteExpiry.UTC()
		policy.AbsoluteExpiry = &expiry
	}

	for attempt := 1; attempt <= s.invites.maxAttempts; attempt++ {
		code, err := s.invites.candidate(ctx)
		if errors.Is(err, repositories.ErrInviteCollision) {
			continue
		}
		if err != nil {
			return nil, err
		}

		group := &models.Group{
			ID:             uuid.NewString(),
			Name:           name,
			CreatorID:      creatorID,
			Status:         models.StatusActive,
			Version:        1,
			Policy:         policy,
			MemberCount:    1,
			LastActivityAt: now,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		expiresAt := s.invites.expiryFor(group, now)
		group.Invite = models.InviteCode{Code: &code, ExpiresAt: &expiresAt}

		creator := &models.GroupMember{UserID: creatorID, Role: models.RoleAdmin, JoinedAt: now}
		err = s.groupRepo.Create(ctx, group, creator)
		if errors.Is(err, repositories.ErrInviteCollision) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create group: %w", err)
		}

		s.logger.Info("group created",
			zap.String("group_id", group.ID),
			zap.String("creator_id", creatorID),
		)
		return group, nil
	}
	return nil, ErrInviteCapacity
}

// Get 获取群组详情，仅成员可见
func (s *GroupService) Get(ctx context.Context, groupID, userID string) (*GroupView, error) {
	if _, err := s.groupRepo.GetMember(ctx, groupID, userID); err != nil {
		if errors.Is(err, repositories.ErrMemberNotFound) {
			if _, gerr := s.groupRepo.GetByID(ctx, groupID); gerr != nil {
				return nil, gerr
			}
			return nil, repositories.ErrNotGroupMember
		}
		return nil, err
	}

	group, err := s.groupRepo.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	view := &GroupView{Group: group}
	if remaining, ok := lifecycle.LifetimeRemaining(*group, s.clock.Now()); ok {
		view.LifetimeRemaining = &remaining
	}
	return view, nil
}

// RequireAdmin 校验用户是群组管理员
func (s *GroupService) RequireAdmin(ctx context.Context, groupID, userID string) error {
	return requireAdmin(ctx, s.groupRepo, groupID, userID)
}

func requireAdmin(ctx context.Context, repo *repositories.GroupRepository, groupID, userID string) error {
	member, err := repo.GetMember(ctx, groupID, userID)
	if errors.Is(err, repositories.ErrMemberNotFound) {
		if _, gerr := repo.GetByID(ctx, groupID); gerr != nil {
			return gerr
		}
		return ErrNotAdmin
	}
	if err != nil {
		return err
	}
	if member.Role != models.RoleAdmin {
		return ErrNotAdmin
	}
	return nil
}
