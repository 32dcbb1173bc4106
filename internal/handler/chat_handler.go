// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"estudai-go/internal/model"
	"estudai-go/internal/service"
	"estudai-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ChatHandler 负责处理会话与消息相关的 API 请求。
type ChatHandler struct {
	chatService      service.ChatService
	reconcileService service.ReconcileService
}

// NewChatHandler 创建一个新的 ChatHandler 实例。
func NewChatHandler(chatService service.ChatService, reconcileService service.ReconcileService) *ChatHandler {
	return &ChatHandler{
		chatService:      chatService,
		reconcileService: reconcileService,
	}
}

// CreateChat 处理创建新会话的请求。
func (h *ChatHandler) CreateChat(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	chat, err := h.chatService.CreateChat(c.Request.Context(), user.ID)
	if err != nil {
		log.Errorf("CreateChat: Failed for user '%s', error: %v", user.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "创建会话失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": chat, "message": "success"})
}

// ListChats 返回当前用户的会话列表，默认不包含已归档的会话。
func (h *ChatHandler) ListChats(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	includeArchived, _ := strconv.ParseBool(c.DefaultQuery("includeArchived", "false"))
	chats, err := h.chatService.GetUserChats(c.Request.Context(), user.ID, includeArchived)
	if err != nil {
		log.Errorf("ListChats: Failed for user '%s', error: %v", user.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询会话列表失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": chats, "message": "success"})
}

// GetChat 返回单个会话的详细信息。
func (h *ChatHandler) GetChat(c *gin.Context) {
	chat := h.ownedChat(c)
	if chat == nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": chat, "message": "success"})
}

// GetMessages 返回会话的全部消息，按 sequence_order 升序。
func (h *ChatHandler) GetMessages(c *gin.Context) {
	chat := h.ownedChat(c)
	if chat == nil {
		return
	}

	messages, err := h.chatService.GetChatMessages(c.Request.Context(), chat.ID)
	if err != nil {
		log.Errorf("GetMessages: Failed for chat '%s', error: %v", chat.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询消息失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": messages, "message": "success"})
}

// SendMessageRequest 定义了发送消息 API 的请求体结构。
type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// SendMessage 处理发送消息请求：持久化用户消息并启动协调任务。
// 响应立即返回已入库的用户消息；助手回复通过 WebSocket 或后续拉取获得。
func (h *ChatHandler) SendMessage(c *gin.Context) {
	chat := h.ownedChat(c)
	if chat == nil {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载：content 不能为空"})
		return
	}

	userMsg, err := h.reconcileService.Submit(c.Request.Context(), chat.ID, req.Content)
	if err != nil {
		log.Errorf("SendMessage: Failed for chat '%s', error: %v", chat.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "发送消息失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": userMsg, "message": "success"})
}

// CancelPending 放弃会话上未完成的协调任务（例如用户切换了会话）。
func (h *ChatHandler) CancelPending(c *gin.Context) {
	chat := h.ownedChat(c)
	if chat == nil {
		return
	}
	h.reconcileService.Cancel(chat.ID)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success"})
}

// GetPendingState 返回会话当前的协调状态。
func (h *ChatHandler) GetPendingState(c *gin.Context) {
	chat := h.ownedChat(c)
	if chat == nil {
		return
	}
	state := h.reconcileService.State(chat.ID)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": gin.H{"state": state}, "message": "success"})
}

// UpdateTitleRequest 定义了重命名会话 API 的请求体结构。
type UpdateTitleRequest struct {
	Title string `json:"title" binding:"required"`
}

// UpdateTitle 处理重命名会话的请求。
func (h *ChatHandler) UpdateTitle(c *gin.Context) {
	chat := h.ownedChat(c)
	if chat == nil {
		return
	}

	var req UpdateTitleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载：title 不能为空"})
		return
	}

	if err := h.chatService.UpdateChatTitle(c.Request.Context(), chat.ID, req.Title); err != nil {
		log.Errorf("UpdateTitle: Failed for chat '%s', error: %v", chat.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "更新标题失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success"})
}

// ArchiveChat 处理归档会话的请求。
func (h *ChatHandler) ArchiveChat(c *gin.Context) {
	chat := h.ownedChat(c)
	if chat == nil {
		return
	}

	if err := h.chatService.ArchiveChat(c.Request.Context(), chat.ID); err != nil {
		log.Errorf("ArchiveChat: Failed for chat '%s', error: %v", chat.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "归档会话失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success"})
}

// DeleteChat 处理删除会话的请求，先取消未完成的协调任务。
func (h *ChatHandler) DeleteChat(c *gin.Context) {
	chat := h.ownedChat(c)
	if chat == nil {
		return
	}

	h.reconcileService.Cancel(chat.ID)
	if err := h.chatService.DeleteChat(c.Request.Context(), chat.ID); err != nil {
		log.Errorf("DeleteChat: Failed for chat '%s', error: %v", chat.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "删除会话失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success"})
}

// ownedChat 加载路径参数中的会话并校验归属；失败时写出响应并返回 nil。
// 协调引擎永远不会改写 user_id，归属检查只在入口做一次。
func (h *ChatHandler) ownedChat(c *gin.Context) *model.Chat {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return nil
	}

	chatID := c.Param("chatId")
	chat, err := h.chatService.GetChat(c.Request.Context(), chatID)
	if err != nil {
		if errors.Is(err, service.ErrChatNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "会话不存在"})
			return nil
		}
		log.Errorf("ownedChat: Failed to load chat '%s', error: %v", chatID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询会话失败"})
		return nil
	}
	if chat.UserID != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"code": http.StatusForbidden, "message": "无权访问该会话"})
		return nil
	}
	return chat
}
