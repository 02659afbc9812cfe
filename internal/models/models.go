package models

// All 返回需要自动迁移的全部模型
func All() []any {
	return []any{
		&Group{},
		&GroupMember{},
		&Message{},
		&Attachment{},
	}
}
