// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"estudai-go/internal/model"
	"estudai-go/internal/repository"
	"estudai-go/pkg/log"
	"estudai-go/pkg/tasks"

	"gorm.io/gorm"
)

// EventPublisher 把会话事件投递到消息队列。
// 注入函数而不是具体客户端，便于在测试中替换或置空。
type EventPublisher func(event tasks.ChatEvent) error

// ChatService 定义了会话存储适配层的操作接口。
// 它把高层会话操作翻译为仓库调用，并保证消息的序号不变量。
type ChatService interface {
	CreateChat(ctx context.Context, userID string) (*model.Chat, error)
	GetUserChats(ctx context.Context, userID string, includeArchived bool) ([]model.Chat, error)
	GetChat(ctx context.Context, chatID string) (*model.Chat, error)
	GetChatMessages(ctx context.Context, chatID string) ([]model.Message, error)
	AddMessage(ctx context.Context, chatID, role, content string) (*model.Message, error)
	UpdateChatTitle(ctx context.Context, chatID, title string) error
	ArchiveChat(ctx context.Context, chatID string) error
	DeleteChat(ctx context.Context, chatID string) error
}

type chatService struct {
	chatRepo    repository.ChatRepository
	messageRepo repository.MessageRepository
	publish     EventPublisher
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(chatRepo repository.ChatRepository, messageRepo repository.MessageRepository, publish EventPublisher) ChatService {
	return &chatService{
		chatRepo:    chatRepo,
		messageRepo: messageRepo,
		publish:     publish,
	}
}

// CreateChat 为用户创建一个新会话，使用默认标题且未归档。
func (s *chatService) CreateChat(ctx context.Context, userID string) (*model.Chat, error) {
	chat := &model.Chat{
		UserID:     userID,
		Title:      model.DefaultChatTitle,
		IsArchived: false,
	}
	if err := s.chatRepo.Create(chat); err != nil {
		return nil, fmt.Errorf("创建会话失败: %w", err)
	}
	return chat, nil
}

// GetUserChats 返回用户的会话列表，按最近更新排序。
func (s *chatService) GetUserChats(ctx context.Context, userID string, includeArchived bool) ([]model.Chat, error) {
	chats, err := s.chatRepo.FindByUser(userID, includeArchived)
	if err != nil {
		return nil, fmt.Errorf("查询会话列表失败: %w", err)
	}
	return chats, nil
}

// GetChat 根据 ID 查找会话。
func (s *chatService) GetChat(ctx context.Context, chatID string) (*model.Chat, error) {
	chat, err := s.chatRepo.FindByID(chatID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, fmt.Errorf("查询会话失败: %w", err)
	}
	return chat, nil
}

// GetChatMessages 按 sequence_order 升序返回会话的全部消息。
// 会话还没有消息时返回空切片，欢迎语由展示层自行合成。
func (s *chatService) GetChatMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	messages, err := s.messageRepo.FindByChat(chatID)
	if err != nil {
		return nil, fmt.Errorf("查询消息列表失败: %w", err)
	}
	return messages, nil
}

// AddMessage 向会话追加一条消息。
// 序号取当前最大 sequence_order 加一（空会话为 0），随后刷新会话的 updated_at。
// 读取再写入与 Webhook 的并发追加存在竞态，按至少尝试一次的语义处理：
// 重复序号由 (chat_id, sequence_order) 唯一索引拒绝。
func (s *chatService) AddMessage(ctx context.Context, chatID, role, content string) (*model.Message, error) {
	chat, err := s.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}

	maxSeq, err := s.messageRepo.MaxSequence(chatID)
	if err != nil {
		return nil, fmt.Errorf("查询最大序号失败: %w", err)
	}

	message := &model.Message{
		ChatID:        chatID,
		Role:          role,
		Content:       content,
		SequenceOrder: maxSeq + 1,
	}
	if err := s.messageRepo.Create(message); err != nil {
		return nil, fmt.Errorf("追加消息失败: %w", err)
	}

	// 刷新 updated_at，把会话顶到历史列表顶部。失败只记录，消息已持久化。
	if err := s.chatRepo.Touch(chatID, time.Now()); err != nil {
		log.Errorf("[ChatService] 刷新会话 updated_at 失败, chatId: %s, error: %v", chatID, err)
	}

	s.publishEvent(tasks.ChatEvent{
		Type:      tasks.EventMessageCreated,
		MessageID: message.ID,
		ChatID:    chatID,
		UserID:    chat.UserID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	})

	return message, nil
}

// UpdateChatTitle 更新会话标题。
func (s *chatService) UpdateChatTitle(ctx context.Context, chatID, title string) error {
	if _, err := s.GetChat(ctx, chatID); err != nil {
		return err
	}
	if err := s.chatRepo.UpdateTitle(chatID, title); err != nil {
		return fmt.Errorf("更新会话标题失败: %w", err)
	}
	return nil
}

// ArchiveChat 归档会话。归档后的会话不出现在默认列表中，但仍可按 ID 访问。
func (s *chatService) ArchiveChat(ctx context.Context, chatID string) error {
	if _, err := s.GetChat(ctx, chatID); err != nil {
		return err
	}
	if err := s.chatRepo.SetArchived(chatID, true); err != nil {
		return fmt.Errorf("归档会话失败: %w", err)
	}
	return nil
}

// DeleteChat 删除会话及其全部消息。
// 两张表的删除在仓库层的同一个事务里完成，失败时不暴露部分删除的状态。
func (s *chatService) DeleteChat(ctx context.Context, chatID string) error {
	chat, err := s.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if err := s.chatRepo.DeleteWithMessages(chatID); err != nil {
		return fmt.Errorf("删除会话失败: %w", err)
	}

	s.publishEvent(tasks.ChatEvent{
		Type:      tasks.EventChatDeleted,
		ChatID:    chatID,
		UserID:    chat.UserID,
		CreatedAt: time.Now(),
	})
	return nil
}

// publishEvent 投递事件到 Kafka。事件流是派生数据，失败只记录不回滚。
func (s *chatService) publishEvent(event tasks.ChatEvent) {
	if s.publish == nil {
		return
	}
	if err := s.publish(event); err != nil {
		log.Errorf("[ChatService] 投递会话事件失败, type: %s, chatId: %s, error: %v", event.Type, event.ChatID, err)
	}
}
