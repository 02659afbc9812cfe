package repositories

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/Gopher0727/Ephemera/internal/models"
)

// MessageRepository 消息仓储
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建消息仓储实例
func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Append 写入一条消息，并在同一事务中递增群组的 message_count、刷新 last_activity_at、递增 version。
// 计数更新是带条件的：群组已归档或已达到消息上限时不写入。
func (r *MessageRepository) Append(ctx context.Context, msg *models.Message, now time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var member int64
		if err := tx.Model(&models.GroupMember{}).
			Where("group_id = ? AND user_id = ?", msg.GroupID, msg.SenderID).
			Count(&member).Error; err != nil {
			return err
		}
		if member == 0 {
			return ErrNotGroupMember
		}

		res := tx.Model(&models.Group{}).
			Where("id = ? AND status IN ?", msg.GroupID, []models.GroupStatus{models.StatusActive, models.StatusExpiring}).
			Where("message_limit IS NULL OR message_count < message_limit").
			Updates(map[string]any{
				"message_count":    gorm.Expr("message_count + 1"),
				"last_activity_at": now,
				"version":          gorm.Expr("version + 1"),
				"updated_at":       now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return explainRejectedAppend(tx, msg.GroupID)
		}

		msg.CreatedAt = now
		for i := range msg.Attachments {
			msg.Attachments[i].GroupID = msg.GroupID
			msg.Attachments[i].CreatedAt = now
		}
		return tx.Create(msg).Error
	})
}

func explainRejectedAppend(tx *gorm.DB, groupID string) error {
	var group models.Group
	if err := tx.Where("id = ?", groupID).First(&group).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrGroupNotFound
		}
		return err
	}
	if !group.Status.Live() {
		return ErrGroupNotLive
	}
	return ErrMessageLimitReached
}

// CountByGroup 统计群组实际存储的消息数
func (r *MessageRepository) CountByGroup(ctx context.Context, groupID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Message{}).Where("group_id = ?", groupID).Count(&count).Error
	return count, err
}

// ListByGroup 分页获取群组消息（按时间倒序）
func (r *MessageRepository) ListByGroup(ctx context.Context, groupID string, limit, offset int) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Preload("Attachments").
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error
	return messages, err
}
