package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Gopher0727/Ephemera/config"
	"github.com/Gopher0727/Ephemera/internal/invite"
	"github.com/Gopher0727/Ephemera/internal/lifecycle"
	"github.com/Gopher0727/Ephemera/internal/models"
	"github.com/Gopher0727/Ephemera/internal/repositories"
)

// InviteService 邀请码签发、轮换与校验
type InviteService struct {
	groupRepo   *repositories.GroupRepository
	generator   *invite.Generator
	clock       lifecycle.Clock
	ttl         time.Duration
	maxAttempts int
	logger      *zap.Logger
}

// NewInviteService 创建邀请码服务实例
func NewInviteService(groupRepo *repositories.GroupRepository, generator *invite.Generator, clock lifecycle.Clock, cfg config.LifecycleConfig, logger *zap.Logger) *InviteService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InviteService{
		groupRepo:   groupRepo,
		generator:   generator,
		clock:       clock,
		ttl:         cfg.InviteTTL,
		maxAttempts: max(cfg.InviteMaxAttempts, 1),
		logger:      logger,
	}
}

// InviteDTO 邀请码返回结构
type InviteDTO struct {
	GroupID   string    `json:"group_id"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// expiryFor 有绝对过期时间的群组，邀请码与群组同时过期；否则使用默认有效期
func (s *InviteService) expiryFor(g *models.Group, now time.Time) time.Time {
	if g.Policy.AbsoluteExpiry != nil {
		return *g.Policy.AbsoluteExpiry
	}
	return now.Add(s.ttl)
}

// candidate 生成一个当前未被占用的邀请码。唯一索引仍是最终保证，
// 这里的检查只是让碰撞在写入前就被发现。
func (s *InviteService) candidate(ctx context.Context) (string, error) {
	code, err := s.generator.Generate()
	if err != nil {
		return "", err
	}
	taken, err := s.groupRepo.InviteCodeExists(ctx, code)
	if err != nil {
		return "", err
	}
	if taken {
		return "", repositories.ErrInviteCollision
	}
	return code, nil
}

// Issue 为群组签发邀请码。群组已有邀请码时等同于 Regenerate：旧码在同一次写入中失效。
func (s *InviteService) Issue(ctx context.Context, groupID string) (*InviteDTO, error) {
	return s.rotate(ctx, groupID)
}

// Regenerate 原子替换邀请码
func (s *InviteService) Regenerate(ctx context.Context, groupID string) (*InviteDTO, error) {
	return s.rotate(ctx, groupID)
}

func (s *InviteService) rotate(ctx context.Context, groupID string) (*InviteDTO, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		group, err := s.groupRepo.GetByID(ctx, groupID)
		if err != nil {
			return nil, err
		}
		now := s.clock.Now()
		if group.Status != models.StatusActive || expired(group, now) {
			return nil, ErrGroupNotActive
		}

		code, err := s.candidate(ctx)
		if errors.Is(err, repositories.ErrInviteCollision) {
			s.logger.Debug("invite code collision", zap.String("group_id", groupID), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, err
		}

		expiresAt := s.expiryFor(group, now)
		err = s.groupRepo.SwapInviteCode(ctx, group.ID, group.Invite.Code, code, expiresAt, now)
		switch {
		case err == nil:
			s.logger.Info("invite code rotated", zap.String("group_id", groupID), zap.Time("expires_at", expiresAt))
			return &InviteDTO{GroupID: group.ID, Code: code, ExpiresAt: expiresAt}, nil
		case errors.Is(err, repositories.ErrInviteCollision), errors.Is(err, repositories.ErrTransitionConflict):
			// 并发写入抢先一步，重新读取后再试
			continue
		default:
			return nil, fmt.Errorf("failed to swap invite code: %w", err)
		}
	}
	s.logger.Warn("invite code attempts exhausted", zap.String("group_id", groupID), zap.Int("attempts", s.maxAttempts))
	return nil, ErrInviteCapacity
}

// Validate 返回邀请码对应的群组ID；码不存在、已过期或群组不是 active 都视为无效
func (s *InviteService) Validate(ctx context.Context, code string) (string, error) {
	group, reason, err := resolveInvite(ctx, s.groupRepo, invite.Normalize(code), s.clock.Now())
	if err != nil {
		return "", err
	}
	if reason != "" {
		return "", ErrInvalidInvite
	}
	return group.ID, nil
}

// resolveInvite 按邀请码查找群组并判定能否加入，reason 为空表示可用
func resolveInvite(ctx context.Context, repo *repositories.GroupRepository, code string, now time.Time) (*models.Group, Reason, error) {
	if !invite.WellFormed(code) {
		return nil, ReasonInvalidOrExpiredCode, nil
	}
	group, err := repo.GetByInviteCode(ctx, code)
	if errors.Is(err, repositories.ErrGroupNotFound) {
		return nil, ReasonInvalidOrExpiredCode, nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve invite code: %w", err)
	}
	if group.Status != models.StatusActive {
		return group, ReasonGroupNotActive, nil
	}
	if !group.Invite.Usable(now) {
		return group, ReasonInvalidOrExpiredCode, nil
	}
	return group, "", nil
}

// expired 绝对过期时间已到，sweep 尚未归档
func expired(g *models.Group, now time.Time) bool {
	return g.Policy.AbsoluteExpiry != nil && !now.Before(*g.Policy.AbsoluteExpiry)
}
