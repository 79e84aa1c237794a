package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tavern-cli/internal/chat"
	"tavern-cli/internal/logger"
)

// Fallback 是一次性回退客户端。通道拒收（Send 返回 false）时，调用方
// 立即走这里的等价往返；它同时承担删除与整载历史等天然一次性的操作。
type Fallback struct {
	base   string
	token  string
	client *http.Client
	log    *logger.LogEntry
}

// NewFallback 创建回退客户端。base 为后端 HTTP 根地址。
func NewFallback(base, token string) *Fallback {
	return &Fallback{
		base:   strings.TrimRight(base, "/"),
		token:  token,
		client: &http.Client{Timeout: 30 * time.Second},
		log:    logger.Named("fallback"),
	}
}

type sendRequest struct {
	Message          string `json:"message"`
	ConversationFile string `json:"conversation_file"`
}

type deleteRequest struct {
	ConversationFile string `json:"conversation_file"`
	Index            int    `json:"index"`
}

type loadRequest struct {
	ConversationFile string `json:"conversation_file"`
}

// SendMessage 发送一条用户消息并取回权威历史。
func (f *Fallback) SendMessage(ctx context.Context, conversationFile, message string) (chat.Result, error) {
	return f.postResult(ctx, "/api/chat/send", sendRequest{
		Message:          message,
		ConversationFile: conversationFile,
	})
}

// DeleteMessage 按索引删除一条消息。删除是权威操作：客户端只应用
// 返回的替换数组，从不本地拼接。
func (f *Fallback) DeleteMessage(ctx context.Context, conversationFile string, index int) (chat.Result, error) {
	return f.postResult(ctx, "/api/chat/delete", deleteRequest{
		ConversationFile: conversationFile,
		Index:            index,
	})
}

// LoadConversation 整载一份会话历史。
func (f *Fallback) LoadConversation(ctx context.Context, conversationFile string) (chat.Result, error) {
	return f.postResult(ctx, "/api/chat/load", loadRequest{ConversationFile: conversationFile})
}

// ListConversations 列出可用会话文件。
func (f *Fallback) ListConversations(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.base+"/api/conversations", nil)
	if err != nil {
		return nil, err
	}
	body, err := f.do(req)
	if err != nil {
		return nil, err
	}
	var out struct {
		Conversations []string `json:"conversations"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}
	return out.Conversations, nil
}

// Ping 探活后端。
func (f *Fallback) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.base+"/api/ping", nil)
	if err != nil {
		return err
	}
	_, err = f.do(req)
	return err
}

func (f *Fallback) postResult(ctx context.Context, path string, payload any) (chat.Result, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.base+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	body, err := f.do(req)
	if err != nil {
		return nil, err
	}
	return chat.DecodeResult(body)
}

func (f *Fallback) do(req *http.Request) ([]byte, error) {
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		logger.WireError("", err)
		return nil, err
	}
	defer resp.Body.Close()
	logger.FallbackRequest(req.URL.Path, resp.StatusCode)
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s %s: unexpected status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	return body, nil
}
