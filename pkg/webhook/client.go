// Package webhook 提供了一个与 n8n 自动化 Webhook 交互的客户端。
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"estudai-go/internal/config"
)

// ErrUnreachable 表示通知 Webhook 时发生了网络层失败。
// 调用方应当记录日志并继续轮询兜底，而不是让发送操作失败。
var ErrUnreachable = errors.New("webhook unreachable")

// Client 定义了自动化 Webhook 客户端的接口。
type Client interface {
	// Notify 将用户消息连同会话标识与 next_sequence 投递给自动化流程。
	// 同步响应是尽力而为的：只有带结构化标记的助手回复才会被当作最终答案。
	Notify(ctx context.Context, req NotifyRequest) (*Reply, error)
}

// NotifyRequest 是投递给 Webhook 的请求体。
type NotifyRequest struct {
	Message      string `json:"message"`
	ChatID       string `json:"chatId"`
	NextSequence int    `json:"next_sequence"`
}

// Reply 是 Webhook 的同步响应。
// 规范契约是结构化标记 {content, role:"assistant"}；旧式的 output/reply
// 字段（含数组包裹形式）仅作为确认回执解析，不会被误认为最终答案。
type Reply struct {
	Content string
	Role    string
	Ack     string
}

// IsAssistantReply 判断同步响应是否携带了明确的助手回复标记。
func (r *Reply) IsAssistantReply() bool {
	return r != nil && r.Role == "assistant" && r.Content != ""
}

type n8nClient struct {
	url    string
	client *http.Client
}

// NewClient 创建一个新的 Webhook 客户端实例。
func NewClient(cfg config.WebhookConfig) Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if cfg.TimeoutSeconds <= 0 {
		timeout = 2 * time.Minute
	}
	return &n8nClient{
		url:    cfg.URL,
		client: &http.Client{Timeout: timeout},
	}
}

// syncResponse 汇总了不同集成变体返回过的所有字段。
type syncResponse struct {
	Content string `json:"content"`
	Role    string `json:"role"`
	Output  string `json:"output"`
	Reply   string `json:"reply"`
}

// Notify 以 POST 调用 Webhook 并解析同步响应。
func (c *n8nClient) Notify(ctx context.Context, req NotifyRequest) (*Reply, error) {
	reqBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: 返回状态码 %d: %s", ErrUnreachable, resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取 webhook 响应失败: %w", err)
	}

	return parseSyncResponse(body), nil
}

// parseSyncResponse 容忍响应体的多种历史形态。
// 无法解析的响应体不是错误：通知已送达，轮询会发现最终答案。
func parseSyncResponse(body []byte) *Reply {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return &Reply{}
	}

	var sr syncResponse
	if trimmed[0] == '[' {
		// 数组包裹形式: [{ "output": "..." }]
		var arr []syncResponse
		if err := json.Unmarshal(trimmed, &arr); err != nil || len(arr) == 0 {
			return &Reply{}
		}
		sr = arr[0]
	} else {
		if err := json.Unmarshal(trimmed, &sr); err != nil {
			return &Reply{}
		}
	}

	reply := &Reply{Content: sr.Content, Role: sr.Role}
	if sr.Output != "" {
		reply.Ack = sr.Output
	} else if sr.Reply != "" {
		reply.Ack = sr.Reply
	}
	return reply
}
