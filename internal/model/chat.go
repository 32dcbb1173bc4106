// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// DefaultChatTitle 是新建会话的默认标题。
const DefaultChatTitle = "New Conversation"

// Chat 对应于数据库中的 'chats' 表，代表一个用户拥有的会话线程。
// UpdatedAt 会在每次追加消息时被显式刷新，用于历史列表排序。
type Chat struct {
	ID         string    `gorm:"type:char(36);primaryKey;default:(UUID())" json:"id"`
	UserID     string    `gorm:"type:char(36);index;not null" json:"userId"`
	Title      string    `gorm:"type:varchar(255);not null" json:"title"`
	IsArchived bool      `gorm:"not null;default:false" json:"isArchived"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Chat) TableName() string {
	return "chats"
}
