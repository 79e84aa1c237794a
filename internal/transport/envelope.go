// Package transport 负责与后端的两条投递路径：持久双向通道与一次性回退请求。
// 两条路径产出同一种结果类型，渲染层对线缆编帧保持无感。
package transport

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Envelope type 取值。其他取值一律忽略，不视为错误。
const (
	TypeFunctionCall   = "function_call"
	TypeFunctionResult = "function_result"
)

// 后端在持久通道上识别的函数名。
const (
	FuncSendMessage = "tavern.send_message"
)

// CallParams 是 send_message 的参数体。
type CallParams struct {
	Message          string `json:"message"`
	ConversationFile string `json:"conversation_file"`
}

// FunctionCall 是出站信封。ID 为相关键（uuid），回包据此对应请求；
// 后端不回显 ID 时，上层退回 last-match 归因。
type FunctionCall struct {
	Type     string     `json:"type"`
	ID       string     `json:"id,omitempty"`
	Function string     `json:"function"`
	Params   CallParams `json:"params"`
}

// NewSendCall 构造一次 send_message 调用并分配相关键。
func NewSendCall(conversationFile, message string) FunctionCall {
	return FunctionCall{
		Type:     TypeFunctionCall,
		ID:       uuid.NewString(),
		Function: FuncSendMessage,
		Params: CallParams{
			Message:          message,
			ConversationFile: conversationFile,
		},
	}
}

// functionResult 是入站信封。Result 延迟解码，便于按变体归一。
type functionResult struct {
	Type     string          `json:"type"`
	ID       string          `json:"id,omitempty"`
	Function string          `json:"function"`
	Result   json.RawMessage `json:"result"`
}
