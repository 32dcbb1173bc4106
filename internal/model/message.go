// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// 消息角色是一个封闭的二值集合。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 对应于数据库中的 'messages' 表。
// 同一会话内 SequenceOrder 严格递增且唯一，展示顺序以它为准而不是时间戳
// （客户端与服务器的时钟可能偏斜）。消息一经创建不可修改，只随会话删除。
type Message struct {
	ID            string    `gorm:"type:char(36);primaryKey;default:(UUID())" json:"id"`
	ChatID        string    `gorm:"type:char(36);not null;uniqueIndex:uk_chat_seq,priority:1" json:"chatId"`
	Role          string    `gorm:"type:varchar(16);not null" json:"role"`
	Content       string    `gorm:"type:text;not null" json:"content"`
	SequenceOrder int       `gorm:"not null;uniqueIndex:uk_chat_seq,priority:2" json:"sequenceOrder"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Message) TableName() string {
	return "messages"
}

// MessageSearchResult 是消息搜索接口返回的单条命中。
type MessageSearchResult struct {
	MessageID string    `json:"messageId"`
	ChatID    string    `json:"chatId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	Score     float64   `json:"score"`
}

// EsMessage 是写入 Elasticsearch 消息索引的文档结构。
type EsMessage struct {
	MessageID string    `json:"message_id"`
	ChatID    string    `json:"chat_id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
