package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"estudai-go/internal/config"
)

func newTestClient(handler http.HandlerFunc) (Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	client := NewClient(config.WebhookConfig{URL: srv.URL, TimeoutSeconds: 5})
	return client, srv
}

func TestNotifySendsExpectedPayload(t *testing.T) {
	var got NotifyRequest
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("期望 POST 请求, 实际 %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("期望 Content-Type application/json, 实际 %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("解析请求体失败: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	_, err := client.Notify(context.Background(), NotifyRequest{
		Message:      "o que é fotossíntese?",
		ChatID:       "chat-1",
		NextSequence: 3,
	})
	if err != nil {
		t.Fatalf("Notify 失败: %v", err)
	}
	if got.Message != "o que é fotossíntese?" || got.ChatID != "chat-1" || got.NextSequence != 3 {
		t.Errorf("请求体不符合预期: %+v", got)
	}
}

func TestNotifyStructuredAssistantReply(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content":"A fotossíntese é...","role":"assistant"}`))
	})
	defer srv.Close()

	reply, err := client.Notify(context.Background(), NotifyRequest{Message: "q", ChatID: "c", NextSequence: 1})
	if err != nil {
		t.Fatalf("Notify 失败: %v", err)
	}
	if !reply.IsAssistantReply() {
		t.Fatalf("结构化标记的回复应被识别为助手回复: %+v", reply)
	}
	if reply.Content != "A fotossíntese é..." {
		t.Errorf("回复内容不符合预期: %q", reply.Content)
	}
}

func TestNotifyLegacyShapesAreAckOnly(t *testing.T) {
	cases := []struct {
		name string
		body string
		ack  string
	}{
		{"output 字段", `{"output":"received"}`, "received"},
		{"reply 字段", `{"reply":"ok"}`, "ok"},
		{"数组包裹", `[{"output":"queued"}]`, "queued"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tc.body))
			})
			defer srv.Close()

			reply, err := client.Notify(context.Background(), NotifyRequest{Message: "q", ChatID: "c", NextSequence: 1})
			if err != nil {
				t.Fatalf("Notify 失败: %v", err)
			}
			if reply.IsAssistantReply() {
				t.Errorf("旧式回执不应被当作助手回复: %+v", reply)
			}
			if reply.Ack != tc.ack {
				t.Errorf("期望 ack %q, 实际 %q", tc.ack, reply.Ack)
			}
		})
	}
}

func TestNotifyUnparseableBodyIsNotAnError(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Workflow was started"))
	})
	defer srv.Close()

	reply, err := client.Notify(context.Background(), NotifyRequest{Message: "q", ChatID: "c", NextSequence: 1})
	if err != nil {
		t.Fatalf("无法解析的响应体不应返回错误: %v", err)
	}
	if reply.IsAssistantReply() || reply.Ack != "" {
		t.Errorf("无法解析的响应体应得到空 Reply: %+v", reply)
	}
}

func TestNotifyNon200IsUnreachable(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer srv.Close()

	_, err := client.Notify(context.Background(), NotifyRequest{Message: "q", ChatID: "c", NextSequence: 1})
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("期望 ErrUnreachable, 实际 %v", err)
	}
}

func TestNotifyConnectionRefusedIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewClient(config.WebhookConfig{URL: url, TimeoutSeconds: 1})
	_, err := client.Notify(context.Background(), NotifyRequest{Message: "q", ChatID: "c", NextSequence: 1})
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("期望 ErrUnreachable, 实际 %v", err)
	}
}

func TestParseSyncResponseEmptyBody(t *testing.T) {
	reply := parseSyncResponse(nil)
	if reply == nil || reply.IsAssistantReply() {
		t.Fatalf("空响应体应得到空 Reply: %+v", reply)
	}
}
