package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"estudai-go/internal/model"
	"estudai-go/internal/service"

	"github.com/gin-gonic/gin"
)

// fakeChatService 是 service.ChatService 的测试替身。
type fakeChatService struct {
	chats    map[string]*model.Chat
	messages map[string][]model.Message
}

func newFakeChatService() *fakeChatService {
	return &fakeChatService{
		chats:    make(map[string]*model.Chat),
		messages: make(map[string][]model.Message),
	}
}

func (f *fakeChatService) CreateChat(ctx context.Context, userID string) (*model.Chat, error) {
	chat := &model.Chat{ID: "chat-new", UserID: userID, Title: model.DefaultChatTitle}
	f.chats[chat.ID] = chat
	return chat, nil
}

func (f *fakeChatService) GetUserChats(ctx context.Context, userID string, includeArchived bool) ([]model.Chat, error) {
	var out []model.Chat
	for _, c := range f.chats {
		if c.UserID == userID && (includeArchived || !c.IsArchived) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeChatService) GetChat(ctx context.Context, chatID string) (*model.Chat, error) {
	if c, ok := f.chats[chatID]; ok {
		return c, nil
	}
	return nil, service.ErrChatNotFound
}

func (f *fakeChatService) GetChatMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	return f.messages[chatID], nil
}

func (f *fakeChatService) AddMessage(ctx context.Context, chatID, role, content string) (*model.Message, error) {
	msg := model.Message{ID: "msg-1", ChatID: chatID, Role: role, Content: content}
	f.messages[chatID] = append(f.messages[chatID], msg)
	return &msg, nil
}

func (f *fakeChatService) UpdateChatTitle(ctx context.Context, chatID, title string) error {
	if c, ok := f.chats[chatID]; ok {
		c.Title = title
		return nil
	}
	return service.ErrChatNotFound
}

func (f *fakeChatService) ArchiveChat(ctx context.Context, chatID string) error {
	if c, ok := f.chats[chatID]; ok {
		c.IsArchived = true
		return nil
	}
	return service.ErrChatNotFound
}

func (f *fakeChatService) DeleteChat(ctx context.Context, chatID string) error {
	delete(f.chats, chatID)
	return nil
}

// fakeReconcile 是 service.ReconcileService 的测试替身。
type fakeReconcile struct {
	submitted []string
	cancelled []string
}

func (f *fakeReconcile) Submit(ctx context.Context, chatID, content string) (*model.Message, error) {
	f.submitted = append(f.submitted, chatID)
	return &model.Message{ID: "msg-1", ChatID: chatID, Role: model.RoleUser, Content: content}, nil
}

func (f *fakeReconcile) Cancel(chatID string) {
	f.cancelled = append(f.cancelled, chatID)
}

func (f *fakeReconcile) State(chatID string) service.ReconcileState {
	return service.StateIdle
}

func newChatRouter(chats service.ChatService, reconcile service.ReconcileService, user *model.User) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user", user)
		c.Next()
	})
	h := NewChatHandler(chats, reconcile)
	r.GET("/chats/:chatId", h.GetChat)
	r.POST("/chats/:chatId/messages", h.SendMessage)
	r.DELETE("/chats/:chatId/pending", h.CancelPending)
	return r
}

func TestGetChatOwnershipEnforced(t *testing.T) {
	chats := newFakeChatService()
	chats.chats["chat-1"] = &model.Chat{ID: "chat-1", UserID: "owner"}
	reconcile := &fakeReconcile{}

	r := newChatRouter(chats, reconcile, &model.User{ID: "intruder", Username: "eva"})
	req := httptest.NewRequest(http.MethodGet, "/chats/chat-1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("他人会话应返回 403, 实际 %d", w.Code)
	}
}

func TestGetChatNotFound(t *testing.T) {
	chats := newFakeChatService()
	reconcile := &fakeReconcile{}

	r := newChatRouter(chats, reconcile, &model.User{ID: "user-1", Username: "maria"})
	req := httptest.NewRequest(http.MethodGet, "/chats/no-such-chat", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("不存在的会话应返回 404, 实际 %d", w.Code)
	}
}

func TestSendMessageStartsReconciliation(t *testing.T) {
	chats := newFakeChatService()
	chats.chats["chat-1"] = &model.Chat{ID: "chat-1", UserID: "user-1"}
	reconcile := &fakeReconcile{}

	r := newChatRouter(chats, reconcile, &model.User{ID: "user-1", Username: "maria"})
	req := httptest.NewRequest(http.MethodPost, "/chats/chat-1/messages", strings.NewReader(`{"content":"oi"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("期望状态码 200, 实际 %d, body: %s", w.Code, w.Body.String())
	}
	if len(reconcile.submitted) != 1 || reconcile.submitted[0] != "chat-1" {
		t.Errorf("发送消息应触发协调任务: %+v", reconcile.submitted)
	}
}

func TestSendMessageEmptyContent(t *testing.T) {
	chats := newFakeChatService()
	chats.chats["chat-1"] = &model.Chat{ID: "chat-1", UserID: "user-1"}
	reconcile := &fakeReconcile{}

	r := newChatRouter(chats, reconcile, &model.User{ID: "user-1", Username: "maria"})
	req := httptest.NewRequest(http.MethodPost, "/chats/chat-1/messages", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("空内容应返回 400, 实际 %d", w.Code)
	}
	if len(reconcile.submitted) != 0 {
		t.Error("非法请求不应触发协调任务")
	}
}

func TestCancelPending(t *testing.T) {
	chats := newFakeChatService()
	chats.chats["chat-1"] = &model.Chat{ID: "chat-1", UserID: "user-1"}
	reconcile := &fakeReconcile{}

	r := newChatRouter(chats, reconcile, &model.User{ID: "user-1", Username: "maria"})
	req := httptest.NewRequest(http.MethodDelete, "/chats/chat-1/pending", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("期望状态码 200, 实际 %d", w.Code)
	}
	if len(reconcile.cancelled) != 1 || reconcile.cancelled[0] != "chat-1" {
		t.Errorf("应取消对应会话的协调任务: %+v", reconcile.cancelled)
	}
}
