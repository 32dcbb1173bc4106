// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"estudai-go/internal/model"
	"estudai-go/pkg/log"
	"estudai-go/pkg/tasks"
	"estudai-go/pkg/webhook"
)

// ReconcileState 表示一次发送操作所处的协调阶段。
type ReconcileState string

const (
	StateIdle       ReconcileState = "idle"
	StateSubmitting ReconcileState = "submitting"
	StateWaiting    ReconcileState = "waiting"
	StateResolved   ReconcileState = "resolved"
	StateTimedOut   ReconcileState = "timed_out"
	StateCancelled  ReconcileState = "cancelled"
)

// TimeoutNotice 是轮询超时后写入会话的助手角色提示。
// 持久化它是有意为之：用户事后打开会话也能看到没有答案的原因。
const TimeoutNotice = "Desculpe, não recebi a resposta do assistente a tempo. " +
	"Verifique se o webhook do n8n está configurado corretamente e tente novamente."

// ReconcileService 是消息协调引擎：
// 用户消息入库后通知自动化 Webhook，再通过轮询持久化存储发现异步产生的
// 助手回复。每个会话同一时刻至多一个活动的协调任务。
type ReconcileService interface {
	// Submit 追加用户消息并启动协调任务，返回已持久化的用户消息。
	Submit(ctx context.Context, chatID, content string) (*model.Message, error)
	// Cancel 放弃会话上未完成的协调任务（切换会话、关闭视图、发起新发送）。
	// 被取消的任务不会写入任何合成消息。
	Cancel(chatID string)
	// State 返回会话当前的协调状态，没有活动任务时为 Idle。
	State(chatID string) ReconcileState
}

type reconcileService struct {
	chats         ChatService
	webhookClient webhook.Client
	hub           *Hub
	publish       EventPublisher
	pollInterval  time.Duration
	maxWait       time.Duration

	mu       sync.Mutex
	sessions map[string]*reconcileSession
}

// reconcileSession 是一次发送操作的可取消句柄。
type reconcileSession struct {
	chatID string
	ctx    context.Context
	cancel context.CancelFunc
	state  ReconcileState // 由 reconcileService.mu 保护
	done   chan struct{}
}

// NewReconcileService 创建一个新的 ReconcileService 实例。
func NewReconcileService(chats ChatService, webhookClient webhook.Client, hub *Hub, publish EventPublisher, pollInterval, maxWait time.Duration) ReconcileService {
	return &reconcileService{
		chats:         chats,
		webhookClient: webhookClient,
		hub:           hub,
		publish:       publish,
		pollInterval:  pollInterval,
		maxWait:       maxWait,
		sessions:      make(map[string]*reconcileSession),
	}
}

// Submit 实现 §发送 的完整流程：
//  1. 取消该会话上已有的协调任务（同一会话只允许一个活动轮询）。
//  2. 通过存储适配层追加用户消息，拿到序号 s。
//  3. 启动后台任务：通知 Webhook（携带 next_sequence = s+1）并进入轮询。
//
// 追加用户消息失败时直接返回错误；Webhook 通知失败不会让发送失败。
func (s *reconcileService) Submit(ctx context.Context, chatID, content string) (*model.Message, error) {
	if content == "" {
		return nil, errors.New("消息内容不能为空")
	}

	s.Cancel(chatID)

	userMsg, err := s.chats.AddMessage(ctx, chatID, model.RoleUser, content)
	if err != nil {
		return nil, err
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &reconcileSession{
		chatID: chatID,
		ctx:    sessCtx,
		cancel: cancel,
		state:  StateSubmitting,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.sessions[chatID] = sess
	s.mu.Unlock()

	go s.run(sess, content, userMsg.SequenceOrder)

	return userMsg, nil
}

// Cancel 取消会话上的活动协调任务并等待其退出。
func (s *reconcileService) Cancel(chatID string) {
	s.mu.Lock()
	sess, ok := s.sessions[chatID]
	s.mu.Unlock()
	if !ok {
		return
	}
	sess.cancel()
	<-sess.done
}

// State 返回会话当前的协调状态。
func (s *reconcileService) State(chatID string) ReconcileState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[chatID]; ok {
		return sess.state
	}
	return StateIdle
}

// run 是协调任务的主循环，四个完成来源汇聚到一个 select：
// 取消、Webhook 同步回复、总时限到期、轮询发现。
func (s *reconcileService) run(sess *reconcileSession, content string, userSeq int) {
	defer func() {
		// 任务以任何方式结束都取消会话上下文，让 Webhook 通知协程随之退出
		sess.cancel()
		s.remove(sess)
		close(sess.done)
	}()

	s.transition(sess, StateWaiting)

	// 独立的 goroutine 通知 Webhook。网络失败只记录：自动化侧可能已经
	// 收到请求，轮询循环仍然作为兜底继续运行。
	replyCh := make(chan *webhook.Reply, 1)
	go func() {
		reply, err := s.webhookClient.Notify(sess.ctx, webhook.NotifyRequest{
			Message:      content,
			ChatID:       sess.chatID,
			NextSequence: userSeq + 1,
		})
		if err != nil {
			log.Warnf("[Reconcile] 通知 Webhook 失败, chatId: %s, error: %v", sess.chatID, err)
			return
		}
		if reply.IsAssistantReply() {
			// 结构化标记的回复才会短路轮询，普通回执不会被当作答案
			replyCh <- reply
			return
		}
		if reply.Ack != "" {
			log.Infof("[Reconcile] Webhook 已确认收到请求, chatId: %s", sess.chatID)
		}
	}()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(s.maxWait)
	defer deadline.Stop()

	for {
		select {
		case <-sess.ctx.Done():
			// 调用方已放弃：停止轮询，不追加任何合成消息
			s.transition(sess, StateCancelled)
			s.publishEvent(sess, tasks.EventReconcileCancelled)
			return

		case reply := <-replyCh:
			// Webhook 在 HTTP 响应里直接给出了最终答案，持久化后立即完成
			msg, err := s.chats.AddMessage(context.Background(), sess.chatID, model.RoleAssistant, reply.Content)
			if err != nil {
				log.Errorf("[Reconcile] 持久化同步回复失败, chatId: %s, error: %v", sess.chatID, err)
				continue
			}
			s.resolve(sess, msg)
			return

		case <-deadline.C:
			// 超时恰好追加一条可见的助手角色提示
			msg, err := s.chats.AddMessage(context.Background(), sess.chatID, model.RoleAssistant, TimeoutNotice)
			if err != nil {
				log.Errorf("[Reconcile] 写入超时提示失败, chatId: %s, error: %v", sess.chatID, err)
			}
			s.transition(sess, StateTimedOut)
			if msg != nil {
				s.hub.Publish(ChatEvent{Type: "message", ChatID: sess.chatID, Message: msg})
			}
			s.publishEvent(sess, tasks.EventReconcileTimedOut)
			log.Warnf("[Reconcile] 等待助手回复超时, chatId: %s, maxWait: %s", sess.chatID, s.maxWait)
			return

		case <-ticker.C:
			messages, err := s.chats.GetChatMessages(sess.ctx, sess.chatID)
			if err != nil {
				// 单次轮询失败不终止任务，下一个周期重试
				log.Warnf("[Reconcile] 轮询消息列表失败, chatId: %s, error: %v", sess.chatID, err)
				continue
			}
			if len(messages) == 0 {
				continue
			}
			tail := messages[len(messages)-1]
			if tail.Role == model.RoleAssistant && tail.SequenceOrder > userSeq {
				s.resolve(sess, &tail)
				return
			}
		}
	}
}

// resolve 完成协调：广播新消息与状态，投递事件。
func (s *reconcileService) resolve(sess *reconcileSession, msg *model.Message) {
	s.transition(sess, StateResolved)
	s.hub.Publish(ChatEvent{Type: "message", ChatID: sess.chatID, Message: msg})
	s.publishEvent(sess, tasks.EventReconcileResolved)
}

// transition 更新会话状态并把迁移广播给订阅者。
func (s *reconcileService) transition(sess *reconcileSession, state ReconcileState) {
	s.mu.Lock()
	sess.state = state
	s.mu.Unlock()
	s.hub.Publish(ChatEvent{Type: "state", ChatID: sess.chatID, State: string(state)})
}

// remove 从活动表中摘除会话。新任务可能已经顶替了表项，只删除自己。
func (s *reconcileService) remove(sess *reconcileSession) {
	s.mu.Lock()
	if current, ok := s.sessions[sess.chatID]; ok && current == sess {
		delete(s.sessions, sess.chatID)
	}
	s.mu.Unlock()
}

func (s *reconcileService) publishEvent(sess *reconcileSession, eventType string) {
	if s.publish == nil {
		return
	}
	if err := s.publish(tasks.ChatEvent{
		Type:      eventType,
		ChatID:    sess.chatID,
		CreatedAt: time.Now(),
	}); err != nil {
		log.Errorf("[Reconcile] 投递协调事件失败, type: %s, chatId: %s, error: %v", eventType, sess.chatID, err)
	}
}
