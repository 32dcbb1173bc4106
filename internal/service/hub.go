// Package service 包含了应用的业务逻辑层。
package service

import (
	"sync"

	"estudai-go/internal/model"
)

// ChatEvent 是推送给 WebSocket 订阅者的会话事件。
// Type 为 "state" 时携带协调引擎的状态变化，为 "message" 时携带新消息。
type ChatEvent struct {
	Type    string         `json:"type"`
	ChatID  string         `json:"chatId"`
	State   string         `json:"state,omitempty"`
	Message *model.Message `json:"message,omitempty"`
}

// Hub 维护按会话分组的事件订阅。
// 协调引擎通过它把状态迁移与发现的助手回复广播给前端连接。
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan ChatEvent]struct{}
}

// NewHub 创建一个新的 Hub 实例。
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan ChatEvent]struct{})}
}

// Subscribe 为指定会话注册一个订阅通道。
func (h *Hub) Subscribe(chatID string) chan ChatEvent {
	ch := make(chan ChatEvent, 16)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[chatID] == nil {
		h.subs[chatID] = make(map[chan ChatEvent]struct{})
	}
	h.subs[chatID][ch] = struct{}{}
	return ch
}

// Unsubscribe 注销一个订阅通道并关闭它。
func (h *Hub) Unsubscribe(chatID string, ch chan ChatEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[chatID]; ok {
		if _, ok := set[ch]; ok {
			delete(set, ch)
			close(ch)
		}
		if len(set) == 0 {
			delete(h.subs, chatID)
		}
	}
}

// Publish 把事件广播给会话的所有订阅者。
// 发送是非阻塞的：跟不上的慢消费者会丢事件，而不是拖住引擎。
func (h *Hub) Publish(event ChatEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[event.ChatID] {
		select {
		case ch <- event:
		default:
		}
	}
}
