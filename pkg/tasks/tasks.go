// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import "time"

// 事件类型常量。
const (
	EventMessageCreated     = "message.created"
	EventChatDeleted        = "chat.deleted"
	EventReconcileResolved  = "reconcile.resolved"
	EventReconcileTimedOut  = "reconcile.timed_out"
	EventReconcileCancelled = "reconcile.cancelled"
)

// ChatEvent represents a chat domain event published to Kafka.
// message.created 事件由后台索引器消费并写入 Elasticsearch。
type ChatEvent struct {
	Type      string    `json:"type"`
	MessageID string    `json:"message_id,omitempty"`
	ChatID    string    `json:"chat_id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role,omitempty"`
	Content   string    `json:"content,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
