package repositories

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/Gopher0727/Ephemera/internal/models"
)

// GroupRepository 群组仓储，所有会改变群组状态的写操作都是带条件的更新（CAS）
type GroupRepository struct {
	db *gorm.DB
}

// NewGroupRepository 创建群组仓储实例
func NewGroupRepository(db *gorm.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// Transaction 在同一事务内执行 fn，fn 返回错误时回滚
func (r *GroupRepository) Transaction(ctx context.Context, fn func(tx *GroupRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GroupRepository{db: tx})
	})
}

// Create 创建群组并把创建者写入成员表（admin）
func (r *GroupRepository) Create(ctx context.Context, group *models.Group, creator *models.GroupMember) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(group).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrInviteCollision
			}
			return err
		}
		creator.GroupID = group.ID
		return tx.Create(creator).Error
	})
}

// GetByID 根据ID获取群组
func (r *GroupRepository) GetByID(ctx context.Context, id string) (*models.Group, error) {
	var group models.Group
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&group).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	return &group, nil
}

// GetByInviteCode 根据邀请码获取群组（不校验过期和状态）
func (r *GroupRepository) GetByInviteCode(ctx context.Context, code string) (*models.Group, error) {
	var group models.Group
	if err := r.db.WithContext(ctx).Where("invite_code = ?", code).First(&group).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	return &group, nil
}

// ListByStatus 按状态列出群组
func (r *GroupRepository) ListByStatus(ctx context.Context, statuses ...models.GroupStatus) ([]models.Group, error) {
	var groups []models.Group
	err := r.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("created_at ASC").
		Find(&groups).Error
	return groups, err
}

// ListPurgeable 列出保留期已过的归档群组
func (r *GroupRepository) ListPurgeable(ctx context.Context, now time.Time) ([]models.Group, error) {
	var groups []models.Group
	err := r.db.WithContext(ctx).
		Where("status = ? AND archive_retention_until <= ?", models.StatusArchived, now).
		Order("archive_retention_until ASC").
		Find(&groups).Error
	return groups, err
}

// Transition describes one conditional status write. The write only lands if
// the stored row still has FromStatus and FromVersion.
type Transition struct {
	GroupID        string
	FromStatus     models.GroupStatus
	FromVersion    int64
	To             models.GroupStatus
	Reason         models.ArchiveReason
	At             time.Time
	RetentionUntil time.Time
}

// ApplyTransition 以 CAS 方式推进群组状态；没有命中任何行时返回 ErrTransitionConflict。
// 归档字段与状态在同一条 UPDATE 中写入，不会出现只写了一半的情况。
func (r *GroupRepository) ApplyTransition(ctx context.Context, t Transition) error {
	if !t.FromStatus.CanTransitionTo(t.To) {
		return ErrTransitionConflict
	}

	updates := map[string]any{
		"status":     t.To,
		"version":    gorm.Expr("version + 1"),
		"updated_at": t.At,
	}
	if t.To == models.StatusArchived {
		updates["archived_at"] = t.At
		updates["archive_reason"] = t.Reason
		updates["archive_retention_until"] = t.RetentionUntil
	}

	res := r.db.WithContext(ctx).Model(&models.Group{}).
		Where("id = ? AND status = ? AND version = ?", t.GroupID, t.FromStatus, t.FromVersion).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTransitionConflict
	}
	return nil
}

// InviteCodeExists 邀请码是否已被任何群组占用（包括已过期但尚未清理的）
func (r *GroupRepository) InviteCodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Group{}).Where("invite_code = ?", code).Count(&count).Error
	return count > 0, err
}

// SwapInviteCode 原子替换邀请码：仅当群组仍为 active 且当前邀请码等于 expected 时生效。
// 旧码失效和新码生效发生在同一条 UPDATE 中。
func (r *GroupRepository) SwapInviteCode(ctx context.Context, groupID string, expected *string, code string, expiresAt, now time.Time) error {
	q := r.db.WithContext(ctx).Model(&models.Group{}).
		Where("id = ? AND status = ?", groupID, models.StatusActive)
	if expected == nil {
		q = q.Where("invite_code IS NULL")
	} else {
		q = q.Where("invite_code = ?", *expected)
	}

	res := q.Updates(map[string]any{
		"invite_code":       code,
		"invite_expires_at": expiresAt,
		"updated_at":        now,
	})
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return ErrInviteCollision
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTransitionConflict
	}
	return nil
}

// Purge 在一个事务内删除归档群组及其成员、消息、附件记录，返回需要从对象存储删除的附件 key。
// 删除群组本身带有状态和保留期条件，条件不满足时整体回滚并返回 ErrTransitionConflict。
func (r *GroupRepository) Purge(ctx context.Context, groupID string, now time.Time) ([]string, error) {
	var keys []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Attachment{}).
			Where("group_id = ?", groupID).
			Pluck("object_key", &keys).Error; err != nil {
			return err
		}
		if err := tx.Where("group_id = ?", groupID).Delete(&models.Attachment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("group_id = ?", groupID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("group_id = ?", groupID).Delete(&models.GroupMember{}).Error; err != nil {
			return err
		}

		res := tx.Where("id = ? AND status = ? AND archive_retention_until <= ?", groupID, models.StatusArchived, now).
			Delete(&models.Group{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrTransitionConflict
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}
