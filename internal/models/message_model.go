package models

import (
	"time"
)

// Message 消息模型，ID 由 snowflake 生成
type Message struct {
	ID        int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	GroupID   string    `gorm:"not null;size:36;index" json:"group_id"`
	SenderID  string    `gorm:"not null;size:64" json:"sender_id"`
	Content   string    `gorm:"not null" json:"content"`
	CreatedAt time.Time `json:"created_at"`

	Attachments []Attachment `gorm:"foreignKey:MessageID" json:"attachments,omitempty"`
}

func (Message) TableName() string {
	return "messages"
}

// Attachment 消息附件元数据，文件本体存放在对象存储中
type Attachment struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	MessageID   int64     `gorm:"not null;index" json:"message_id"`
	GroupID     string    `gorm:"not null;size:36;index" json:"group_id"`
	ObjectKey   string    `gorm:"not null" json:"object_key"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Attachment) TableName() string {
	return "attachments"
}
