// Package pipeline 包含了后台事件处理管道。
package pipeline

import (
	"context"

	"estudai-go/internal/config"
	"estudai-go/internal/model"
	"estudai-go/pkg/es"
	"estudai-go/pkg/log"
	"estudai-go/pkg/tasks"
)

// Indexer 消费 Kafka 上的会话事件并维护 Elasticsearch 的消息索引。
// 索引是派生数据：任何失败都不影响 MySQL 中的权威记录。
type Indexer struct {
	esCfg config.ElasticsearchConfig
}

// NewIndexer 创建一个新的 Indexer 实例。
func NewIndexer(esCfg config.ElasticsearchConfig) *Indexer {
	return &Indexer{esCfg: esCfg}
}

// Process 实现 kafka.EventProcessor 接口。
func (p *Indexer) Process(ctx context.Context, event tasks.ChatEvent) error {
	switch event.Type {
	case tasks.EventMessageCreated:
		doc := model.EsMessage{
			MessageID: event.MessageID,
			ChatID:    event.ChatID,
			UserID:    event.UserID,
			Role:      event.Role,
			Content:   event.Content,
			CreatedAt: event.CreatedAt,
		}
		if err := es.IndexMessage(ctx, p.esCfg.IndexName, doc); err != nil {
			return err
		}
		log.Infof("[Indexer] 消息已索引, messageId: %s, chatId: %s", event.MessageID, event.ChatID)
		return nil

	case tasks.EventChatDeleted:
		if err := es.DeleteChatMessages(ctx, p.esCfg.IndexName, event.ChatID); err != nil {
			return err
		}
		log.Infof("[Indexer] 会话消息文档已删除, chatId: %s", event.ChatID)
		return nil

	default:
		// 协调结果事件目前只用于审计，记录后忽略
		log.Infow("chat event observed", "type", event.Type, "chatId", event.ChatID)
		return nil
	}
}
