// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"estudai-go/internal/service"
	"estudai-go/pkg/log"
	"estudai-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// WsHandler 负责处理 WebSocket 连接，把协调引擎的事件推送给前端。
// 客户端通过 {"type":"subscribe","chatId":"..."} 订阅某个会话；
// 切换订阅意味着用户离开了旧会话，旧会话上未完成的协调任务会被放弃。
type WsHandler struct {
	chatService      service.ChatService
	reconcileService service.ReconcileService
	userService      service.UserService
	hub              *service.Hub
	jwtManager       *token.JWTManager
}

// NewWsHandler 创建一个新的 WsHandler。
func NewWsHandler(chatService service.ChatService, reconcileService service.ReconcileService, userService service.UserService, hub *service.Hub, jwtManager *token.JWTManager) *WsHandler {
	return &WsHandler{
		chatService:      chatService,
		reconcileService: reconcileService,
		userService:      userService,
		hub:              hub,
		jwtManager:       jwtManager,
	}
}

// wsCommand 是客户端发来的控制消息。
type wsCommand struct {
	Type   string `json:"type"`
	ChatID string `json:"chatId"`
}

// Handle 处理一个传入的 WebSocket 连接。
func (h *WsHandler) Handle(c *gin.Context) {
	tokenString := c.Param("token")
	claims, err := h.jwtManager.VerifyToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	// 获取用户模型
	user, err := h.userService.GetProfile(claims.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立，用户: %s", user.Username)

	var writeMu sync.Mutex
	writeJSON := func(v interface{}) {
		b, err := json.Marshal(v)
		if err != nil {
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.WriteMessage(websocket.TextMessage, b)
	}

	// 当前订阅的会话；同一连接同时只跟踪一个会话
	var (
		currentChatID string
		currentCh     chan service.ChatEvent
		pumpDone      chan struct{}
	)

	unsubscribe := func() {
		if currentCh == nil {
			return
		}
		h.hub.Unsubscribe(currentChatID, currentCh)
		<-pumpDone
		currentChatID = ""
		currentCh = nil
		pumpDone = nil
	}

	defer func() {
		// 连接断开等同于离开当前会话
		if currentChatID != "" {
			h.reconcileService.Cancel(currentChatID)
		}
		unsubscribe()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			return
		}

		var cmd wsCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			writeJSON(gin.H{"type": "error", "message": "无效的消息格式"})
			continue
		}

		switch cmd.Type {
		case "subscribe":
			if cmd.ChatID == "" || cmd.ChatID == currentChatID {
				continue
			}
			chat, err := h.chatService.GetChat(c.Request.Context(), cmd.ChatID)
			if err != nil || chat.UserID != user.ID {
				writeJSON(gin.H{"type": "error", "message": "会话不存在"})
				continue
			}

			// 离开旧会话：放弃它未完成的协调任务
			if currentChatID != "" {
				h.reconcileService.Cancel(currentChatID)
			}
			unsubscribe()

			currentChatID = cmd.ChatID
			currentCh = h.hub.Subscribe(cmd.ChatID)
			pumpDone = make(chan struct{})
			go func(ch chan service.ChatEvent, done chan struct{}) {
				defer close(done)
				for event := range ch {
					writeJSON(event)
				}
			}(currentCh, pumpDone)

			writeJSON(gin.H{
				"type":      "subscribed",
				"chatId":    cmd.ChatID,
				"state":     h.reconcileService.State(cmd.ChatID),
				"timestamp": time.Now().UnixMilli(),
			})

		case "unsubscribe":
			if currentChatID != "" {
				h.reconcileService.Cancel(currentChatID)
			}
			unsubscribe()

		case "ping":
			writeJSON(gin.H{"type": "pong", "timestamp": time.Now().UnixMilli()})

		default:
			writeJSON(gin.H{"type": "error", "message": "未知的消息类型"})
		}
	}
}
