package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Gopher0727/Ephemera/internal/events"
	"github.com/Gopher0727/Ephemera/internal/lifecycle"
	"github.com/Gopher0727/Ephemera/internal/models"
	"github.com/Gopher0727/Ephemera/internal/repositories"
)

const maxMessageLen = 5000

// IDGenerator 消息 ID 生成器，utils/snowflake.Generator 满足该接口
type IDGenerator interface {
	NextID() (int64, error)
}

// MessageService 消息写入。消息计数、最后活跃时间和版本号与消息插入在同一事务里更新。
type MessageService struct {
	messageRepo *repositories.MessageRepository
	groupRepo   *repositories.GroupRepository
	ids         IDGenerator
	clock       lifecycle.Clock
	publisher   events.Publisher
	unread      UnreadCounter
	logger      *zap.Logger
}

// NewMessageService 创建消息服务实例；publisher 和 unread 可以为 nil
func NewMessageService(messageRepo *repositories.MessageRepository, groupRepo *repositories.GroupRepository, ids IDGenerator, clock lifecycle.Clock, publisher events.Publisher, unread UnreadCounter, logger *zap.Logger) *MessageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &MessageService{
		messageRepo: messageRepo,
		groupRepo:   groupRepo,
		ids:         ids,
		clock:       clock,
		publisher:   publisher,
		unread:      unread,
		logger:      logger,
	}
}

// AttachmentInput 已上传到对象存储的附件
type AttachmentInput struct {
	ObjectKey   string `json:"object_key" binding:"required"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// AppendMessageRequest 发送消息请求
type AppendMessageRequest struct {
	Content     string            `json:"content" binding:"required"`
	Attachments []AttachmentInput `json:"attachments"`
}

// Append 发送消息
func (s *MessageService) Append(ctx context.Context, groupID, senderID string, req *AppendMessageRequest) (*models.Message, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" || utf8.RuneCountInString(content) > maxMessageLen {
		return nil, fmt.Errorf("%w: message content must be 1-%d characters", ErrInvalidRequest, maxMessageLen)
	}

	id, err := s.ids.NextID()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate message id: %w", err)
	}

	msg := &models.Message{
		ID:       id,
		GroupID:  groupID,
		SenderID: senderID,
		Content:  content,
	}
	for _, a := range req.Attachments {
		if strings.TrimSpace(a.ObjectKey) == "" {
			return nil, fmt.Errorf("%w: attachment object_key is required", ErrInvalidRequest)
		}
		msg.Attachments = append(msg.Attachments, models.Attachment{
			ObjectKey:   a.ObjectKey,
			ContentType: a.ContentType,
			Size:        a.Size,
		})
	}

	now := s.clock.Now()
	if err := s.messageRepo.Append(ctx, msg, now); err != nil {
		return nil, err
	}

	s.fanOut(ctx, msg)
	return msg, nil
}

// fanOut 更新其他成员的未读数并投递新消息事件，失败只记录日志
func (s *MessageService) fanOut(ctx context.Context, msg *models.Message) {
	if s.unread != nil {
		memberIDs, err := s.groupRepo.ListMemberIDs(ctx, msg.GroupID)
		if err != nil {
			s.logger.Warn("list members for unread failed", zap.String("group_id", msg.GroupID), zap.Error(err))
		} else {
			others := make([]string, 0, len(memberIDs))
			for _, uid := range memberIDs {
				if uid != msg.SenderID {
					others = append(others, uid)
				}
			}
			if err := s.unread.IncrUnread(ctx, msg.GroupID, others...); err != nil {
				s.logger.Warn("incr unread failed", zap.String("group_id", msg.GroupID), zap.Error(err))
			}
		}
	}

	events.Emit(ctx, s.publisher, s.logger, events.Event{
		Type:    events.MessageAppended,
		GroupID: msg.GroupID,
		UserID:  msg.SenderID,
		At:      msg.CreatedAt,
		Payload: msg,
	})
}

// List 分页获取消息，仅成员可见
func (s *MessageService) List(ctx context.Context, groupID, userID string, limit, offset int) ([]models.Message, error) {
	if _, err := s.groupRepo.GetMember(ctx, groupID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.messageRepo.ListByGroup(ctx, groupID, limit, max(offset, 0))
}
