// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"estudai-go/internal/model"

	"gorm.io/gorm"
)

// MessageRepository 接口定义了消息数据的持久化操作。
// 消息是仅追加的：没有更新操作，删除只发生在整个会话被删除时。
type MessageRepository interface {
	Create(message *model.Message) error
	FindByChat(chatID string) ([]model.Message, error)
	MaxSequence(chatID string) (int, error)
}

// messageRepository 是 MessageRepository 接口的 GORM 实现。
type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建一个新的 MessageRepository 实例。
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

// Create 在数据库中追加一条消息记录。
// (chat_id, sequence_order) 上的唯一索引会拒绝并发追加产生的重复序号。
func (r *messageRepository) Create(message *model.Message) error {
	return r.db.Create(message).Error
}

// FindByChat 按 sequence_order 升序返回会话的全部消息。
func (r *messageRepository) FindByChat(chatID string) ([]model.Message, error) {
	var messages []model.Message
	err := r.db.Where("chat_id = ?", chatID).Order("sequence_order ASC").Find(&messages).Error
	return messages, err
}

// MaxSequence 返回会话内当前最大的 sequence_order。
// 会话还没有任何消息时返回 -1，调用方加一后得到首条消息的序号 0。
func (r *messageRepository) MaxSequence(chatID string) (int, error) {
	var maxSeq int
	err := r.db.Model(&model.Message{}).
		Where("chat_id = ?", chatID).
		Select("COALESCE(MAX(sequence_order), -1)").
		Scan(&maxSeq).Error
	if err != nil {
		return 0, err
	}
	return maxSeq, nil
}
