package repositories

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/Gopher0727/Ephemera/internal/models"
)

// GetMember 获取群组成员信息
func (r *GroupRepository) GetMember(ctx context.Context, groupID, userID string) (*models.GroupMember, error) {
	var member models.GroupMember
	err := r.db.WithContext(ctx).Where("group_id = ? AND user_id = ?", groupID, userID).First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return &member, nil
}

// ListMemberIDs 获取群组全部成员的用户ID
func (r *GroupRepository) ListMemberIDs(ctx context.Context, groupID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.GroupMember{}).
		Where("group_id = ?", groupID).
		Order("id ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}

// AddMember 添加群组成员，(group_id, user_id) 唯一索引冲突时返回 ErrAlreadyMember
func (r *GroupRepository) AddMember(ctx context.Context, member *models.GroupMember) error {
	if err := r.db.WithContext(ctx).Create(member).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrAlreadyMember
		}
		return err
	}
	return nil
}

// IncrementMemberCountViaInvite 仅当邀请码仍然有效且群组为 active 时增加成员数。
// 与 AddMember 放在同一事务中，保证加入操作和邀请码校验是原子的。
func (r *GroupRepository) IncrementMemberCountViaInvite(ctx context.Context, groupID, code string, now time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.Group{}).
		Where("id = ? AND status = ? AND invite_code = ? AND invite_expires_at > ?", groupID, models.StatusActive, code, now).
		Update("member_count", gorm.Expr("member_count + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInviteUnusable
	}
	return nil
}

// RemoveMember 移除群组成员并减少成员数
func (r *GroupRepository) RemoveMember(ctx context.Context, groupID, userID string) error {
	res := r.db.WithContext(ctx).Where("group_id = ? AND user_id = ?", groupID, userID).Delete(&models.GroupMember{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrMemberNotFound
	}
	return r.db.WithContext(ctx).Model(&models.Group{}).
		Where("id = ? AND member_count > 0", groupID).
		Update("member_count", gorm.Expr("member_count - 1")).Error
}
