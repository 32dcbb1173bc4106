package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"estudai-go/internal/model"
	"estudai-go/pkg/tasks"

	"gorm.io/gorm"
)

// fakeChatRepo 是 ChatRepository 的内存实现。
// deleteErr 可以注入删除失败，用于验证失败时不暴露部分删除的状态。
type fakeChatRepo struct {
	mu        sync.Mutex
	chats     map[string]*model.Chat
	messages  *fakeMessageRepo
	nextID    int
	deleteErr error
}

func newFakeChatRepo(messages *fakeMessageRepo) *fakeChatRepo {
	return &fakeChatRepo{chats: make(map[string]*model.Chat), messages: messages}
}

func (r *fakeChatRepo) Create(chat *model.Chat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if chat.ID == "" {
		r.nextID++
		chat.ID = fmt.Sprintf("chat-%d", r.nextID)
	}
	now := time.Now()
	chat.CreatedAt = now
	chat.UpdatedAt = now
	cp := *chat
	r.chats[chat.ID] = &cp
	return nil
}

func (r *fakeChatRepo) FindByUser(userID string, includeArchived bool) ([]model.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Chat
	for _, c := range r.chats {
		if c.UserID != userID {
			continue
		}
		if !includeArchived && c.IsArchived {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (r *fakeChatRepo) FindByID(chatID string) (*model.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chats[chatID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *fakeChatRepo) UpdateTitle(chatID, title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.chats[chatID]; ok {
		c.Title = title
	}
	return nil
}

func (r *fakeChatRepo) SetArchived(chatID string, archived bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.chats[chatID]; ok {
		c.IsArchived = archived
	}
	return nil
}

func (r *fakeChatRepo) Touch(chatID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.chats[chatID]; ok {
		c.UpdatedAt = at
	}
	return nil
}

func (r *fakeChatRepo) DeleteWithMessages(chatID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		// 事务回滚：会话和消息都保持原状
		return r.deleteErr
	}
	delete(r.chats, chatID)
	return r.messages.deleteByChat(chatID)
}

// fakeMessageRepo 是 MessageRepository 的内存实现。
type fakeMessageRepo struct {
	mu       sync.Mutex
	messages map[string][]model.Message
	nextID   int
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{messages: make(map[string][]model.Message)}
}

func (r *fakeMessageRepo) Create(message *model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages[message.ChatID] {
		if m.SequenceOrder == message.SequenceOrder {
			return errors.New("duplicate sequence_order")
		}
	}
	if message.ID == "" {
		r.nextID++
		message.ID = fmt.Sprintf("msg-%d", r.nextID)
	}
	message.CreatedAt = time.Now()
	r.messages[message.ChatID] = append(r.messages[message.ChatID], *message)
	return nil
}

func (r *fakeMessageRepo) FindByChat(chatID string) ([]model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]model.Message(nil), r.messages[chatID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceOrder < out[j].SequenceOrder })
	return out, nil
}

func (r *fakeMessageRepo) MaxSequence(chatID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	maxSeq := -1
	for _, m := range r.messages[chatID] {
		if m.SequenceOrder > maxSeq {
			maxSeq = m.SequenceOrder
		}
	}
	return maxSeq, nil
}

func (r *fakeMessageRepo) deleteByChat(chatID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.messages, chatID)
	return nil
}

// eventRecorder 记录投递过的事件，供断言使用。
type eventRecorder struct {
	mu     sync.Mutex
	events []tasks.ChatEvent
}

func (e *eventRecorder) publish(event tasks.ChatEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

func (e *eventRecorder) byType(eventType string) []tasks.ChatEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []tasks.ChatEvent
	for _, ev := range e.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func newTestChatService() (ChatService, *fakeChatRepo, *fakeMessageRepo, *eventRecorder) {
	messageRepo := newFakeMessageRepo()
	chatRepo := newFakeChatRepo(messageRepo)
	recorder := &eventRecorder{}
	svc := NewChatService(chatRepo, messageRepo, recorder.publish)
	return svc, chatRepo, messageRepo, recorder
}

func TestCreateChatDefaults(t *testing.T) {
	svc, _, _, _ := newTestChatService()

	chat, err := svc.CreateChat(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("CreateChat 失败: %v", err)
	}
	if chat.Title != model.DefaultChatTitle {
		t.Errorf("期望默认标题 %q, 实际 %q", model.DefaultChatTitle, chat.Title)
	}
	if chat.IsArchived {
		t.Error("新建会话不应处于归档状态")
	}
	if chat.ID == "" {
		t.Error("新建会话应分配 ID")
	}
}

func TestAddMessageSequenceStartsAtZero(t *testing.T) {
	svc, _, _, _ := newTestChatService()
	ctx := context.Background()

	chat, _ := svc.CreateChat(ctx, "user-1")
	msg, err := svc.AddMessage(ctx, chat.ID, model.RoleUser, "primeira pergunta")
	if err != nil {
		t.Fatalf("AddMessage 失败: %v", err)
	}
	if msg.SequenceOrder != 0 {
		t.Errorf("空会话的首条消息序号应为 0, 实际 %d", msg.SequenceOrder)
	}
}

func TestAddMessageSequenceIsMaxPlusOne(t *testing.T) {
	svc, _, _, _ := newTestChatService()
	ctx := context.Background()

	chat, _ := svc.CreateChat(ctx, "user-1")
	for i := 0; i < 3; i++ {
		if _, err := svc.AddMessage(ctx, chat.ID, model.RoleUser, "msg"); err != nil {
			t.Fatalf("AddMessage 失败: %v", err)
		}
	}
	msg, err := svc.AddMessage(ctx, chat.ID, model.RoleAssistant, "resposta")
	if err != nil {
		t.Fatalf("AddMessage 失败: %v", err)
	}
	if msg.SequenceOrder != 3 {
		t.Errorf("序号应为最大值加一 (3), 实际 %d", msg.SequenceOrder)
	}

	messages, _ := svc.GetChatMessages(ctx, chat.ID)
	for i, m := range messages {
		if m.SequenceOrder != i {
			t.Errorf("第 %d 条消息序号应为 %d, 实际 %d", i, i, m.SequenceOrder)
		}
	}
}

func TestAddMessageUnknownChat(t *testing.T) {
	svc, _, _, _ := newTestChatService()

	_, err := svc.AddMessage(context.Background(), "no-such-chat", model.RoleUser, "oi")
	if !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("期望 ErrChatNotFound, 实际 %v", err)
	}
}

func TestAddMessageTouchesChatAndPublishesEvent(t *testing.T) {
	svc, chatRepo, _, recorder := newTestChatService()
	ctx := context.Background()

	chat, _ := svc.CreateChat(ctx, "user-1")
	before, _ := chatRepo.FindByID(chat.ID)

	time.Sleep(2 * time.Millisecond)
	if _, err := svc.AddMessage(ctx, chat.ID, model.RoleUser, "oi"); err != nil {
		t.Fatalf("AddMessage 失败: %v", err)
	}

	after, _ := chatRepo.FindByID(chat.ID)
	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Error("追加消息后 updated_at 应被刷新")
	}

	created := recorder.byType(tasks.EventMessageCreated)
	if len(created) != 1 {
		t.Fatalf("期望 1 个 message.created 事件, 实际 %d", len(created))
	}
	if created[0].UserID != "user-1" || created[0].ChatID != chat.ID {
		t.Errorf("事件字段不符合预期: %+v", created[0])
	}
}

func TestGetUserChatsExcludesArchivedByDefault(t *testing.T) {
	svc, _, _, _ := newTestChatService()
	ctx := context.Background()

	active, _ := svc.CreateChat(ctx, "user-1")
	archived, _ := svc.CreateChat(ctx, "user-1")
	if err := svc.ArchiveChat(ctx, archived.ID); err != nil {
		t.Fatalf("ArchiveChat 失败: %v", err)
	}

	chats, err := svc.GetUserChats(ctx, "user-1", false)
	if err != nil {
		t.Fatalf("GetUserChats 失败: %v", err)
	}
	if len(chats) != 1 || chats[0].ID != active.ID {
		t.Errorf("默认列表应只包含未归档会话, 实际 %+v", chats)
	}

	all, _ := svc.GetUserChats(ctx, "user-1", true)
	if len(all) != 2 {
		t.Errorf("includeArchived 列表应包含全部会话, 实际 %d 个", len(all))
	}
}

func TestArchivedChatStillAccessibleByID(t *testing.T) {
	svc, _, _, _ := newTestChatService()
	ctx := context.Background()

	chat, _ := svc.CreateChat(ctx, "user-1")
	svc.AddMessage(ctx, chat.ID, model.RoleUser, "oi")
	if err := svc.ArchiveChat(ctx, chat.ID); err != nil {
		t.Fatalf("ArchiveChat 失败: %v", err)
	}

	got, err := svc.GetChat(ctx, chat.ID)
	if err != nil {
		t.Fatalf("归档后按 ID 访问失败: %v", err)
	}
	if !got.IsArchived {
		t.Error("会话应处于归档状态")
	}
	messages, err := svc.GetChatMessages(ctx, chat.ID)
	if err != nil || len(messages) != 1 {
		t.Errorf("归档会话的消息应仍可读取, err=%v, 消息数=%d", err, len(messages))
	}
}

func TestDeleteChatRemovesMessagesAndPublishesEvent(t *testing.T) {
	svc, _, messageRepo, recorder := newTestChatService()
	ctx := context.Background()

	chat, _ := svc.CreateChat(ctx, "user-1")
	svc.AddMessage(ctx, chat.ID, model.RoleUser, "oi")
	svc.AddMessage(ctx, chat.ID, model.RoleAssistant, "olá")

	if err := svc.DeleteChat(ctx, chat.ID); err != nil {
		t.Fatalf("DeleteChat 失败: %v", err)
	}

	if _, err := svc.GetChat(ctx, chat.ID); !errors.Is(err, ErrChatNotFound) {
		t.Errorf("删除后 GetChat 应返回 ErrChatNotFound, 实际 %v", err)
	}
	if messages, _ := messageRepo.FindByChat(chat.ID); len(messages) != 0 {
		t.Errorf("删除会话后消息应被清空, 实际剩余 %d 条", len(messages))
	}
	if deleted := recorder.byType(tasks.EventChatDeleted); len(deleted) != 1 {
		t.Errorf("期望 1 个 chat.deleted 事件, 实际 %d", len(deleted))
	}
}

func TestDeleteChatFailureLeavesStateUnchanged(t *testing.T) {
	svc, chatRepo, messageRepo, recorder := newTestChatService()
	ctx := context.Background()

	chat, _ := svc.CreateChat(ctx, "user-1")
	svc.AddMessage(ctx, chat.ID, model.RoleUser, "oi")
	svc.AddMessage(ctx, chat.ID, model.RoleAssistant, "olá")

	chatRepo.deleteErr = errors.New("connection lost")
	if err := svc.DeleteChat(ctx, chat.ID); err == nil {
		t.Fatal("删除失败时应返回错误")
	}

	// 失败的删除不暴露任何中间状态：会话和它的消息都原样保留
	if _, err := svc.GetChat(ctx, chat.ID); err != nil {
		t.Errorf("删除失败后会话应仍然存在, err=%v", err)
	}
	if messages, _ := messageRepo.FindByChat(chat.ID); len(messages) != 2 {
		t.Errorf("删除失败后消息应原样保留, 实际剩余 %d 条", len(messages))
	}
	if deleted := recorder.byType(tasks.EventChatDeleted); len(deleted) != 0 {
		t.Errorf("删除失败不应发布 chat.deleted 事件, 实际 %d 个", len(deleted))
	}
}

func TestUpdateChatTitle(t *testing.T) {
	svc, _, _, _ := newTestChatService()
	ctx := context.Background()

	chat, _ := svc.CreateChat(ctx, "user-1")
	if err := svc.UpdateChatTitle(ctx, chat.ID, "Fotossíntese"); err != nil {
		t.Fatalf("UpdateChatTitle 失败: %v", err)
	}
	got, _ := svc.GetChat(ctx, chat.ID)
	if got.Title != "Fotossíntese" {
		t.Errorf("标题未更新, 实际 %q", got.Title)
	}

	if err := svc.UpdateChatTitle(ctx, "no-such-chat", "x"); !errors.Is(err, ErrChatNotFound) {
		t.Errorf("不存在的会话应返回 ErrChatNotFound, 实际 %v", err)
	}
}

func TestChatListOrderedByRecentActivity(t *testing.T) {
	svc, chatRepo, _, _ := newTestChatService()
	ctx := context.Background()

	first, _ := svc.CreateChat(ctx, "user-1")
	second, _ := svc.CreateChat(ctx, "user-1")

	// 向较早创建的会话追加消息，它应被顶到列表顶部
	chatRepo.Touch(second.ID, time.Now().Add(-time.Hour))
	svc.AddMessage(ctx, first.ID, model.RoleUser, "oi")

	chats, _ := svc.GetUserChats(ctx, "user-1", false)
	if len(chats) != 2 || chats[0].ID != first.ID {
		t.Errorf("最近活跃的会话应排在最前, 实际顺序 %+v", chats)
	}
}
