// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"time"

	"estudai-go/internal/model"

	"gorm.io/gorm"
)

// ChatRepository 接口定义了会话数据的持久化操作。
type ChatRepository interface {
	Create(chat *model.Chat) error
	FindByUser(userID string, includeArchived bool) ([]model.Chat, error)
	FindByID(chatID string) (*model.Chat, error)
	UpdateTitle(chatID, title string) error
	SetArchived(chatID string, archived bool) error
	Touch(chatID string, at time.Time) error
	DeleteWithMessages(chatID string) error
}

// chatRepository 是 ChatRepository 接口的 GORM 实现。
type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository 创建一个新的 ChatRepository 实例。
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

// Create 在数据库中创建一个新的会话记录。
func (r *chatRepository) Create(chat *model.Chat) error {
	return r.db.Create(chat).Error
}

// FindByUser 按 updated_at 倒序返回用户的会话列表。
// includeArchived 为 false 时排除已归档的会话。
func (r *chatRepository) FindByUser(userID string, includeArchived bool) ([]model.Chat, error) {
	var chats []model.Chat
	query := r.db.Where("user_id = ?", userID).Order("updated_at DESC")
	if !includeArchived {
		query = query.Where("is_archived = ?", false)
	}
	err := query.Find(&chats).Error
	return chats, err
}

// FindByID 根据会话 ID 查找一个会话。
func (r *chatRepository) FindByID(chatID string) (*model.Chat, error) {
	var chat model.Chat
	err := r.db.Where("id = ?", chatID).First(&chat).Error
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// UpdateTitle 更新会话的标题。
func (r *chatRepository) UpdateTitle(chatID, title string) error {
	return r.db.Model(&model.Chat{}).Where("id = ?", chatID).Update("title", title).Error
}

// SetArchived 设置会话的归档标记。
func (r *chatRepository) SetArchived(chatID string, archived bool) error {
	return r.db.Model(&model.Chat{}).Where("id = ?", chatID).Update("is_archived", archived).Error
}

// Touch 刷新会话的 updated_at，用于在追加消息后把会话顶到历史列表顶部。
func (r *chatRepository) Touch(chatID string, at time.Time) error {
	return r.db.Model(&model.Chat{}).Where("id = ?", chatID).Update("updated_at", at).Error
}

// DeleteWithMessages 在一个事务内删除会话及其全部消息。
// 任何一步失败都会回滚，调用方观察不到"消息没了但会话还在"的中间状态。
func (r *chatRepository) DeleteWithMessages(chatID string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", chatID).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", chatID).Delete(&model.Chat{}).Error
	})
}
