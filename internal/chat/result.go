package chat

import (
	"encoding/json"
	"fmt"
)

// Result 是后端回包的带标签变体：成功携带权威历史，失败携带错误文本。
// 两条传输路径（持久通道与一次性回退）都归一到这个类型。
type Result interface {
	isResult()
}

// Success 表示 {success:true, history:[...]}。
type Success struct {
	History []Message
	// Deleted carries the removed message for delete operations; nil otherwise.
	Deleted *Message
}

// Failure 表示 {success:false, error:"..."}。
type Failure struct {
	Error string
}

func (Success) isResult() {}
func (Failure) isResult() {}

type wireResult struct {
	Success        bool            `json:"success"`
	History        []Message       `json:"history,omitempty"`
	Error          string          `json:"error,omitempty"`
	DeletedMessage json.RawMessage `json:"deleted_message,omitempty"`
}

// DecodeResult 解析后端结果。success:false 不是解码错误，返回 Failure 变体。
func DecodeResult(raw []byte) (Result, error) {
	var wire wireResult
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if !wire.Success {
		errText := wire.Error
		if errText == "" {
			errText = "backend reported failure without detail"
		}
		return Failure{Error: errText}, nil
	}
	res := Success{History: wire.History}
	if len(wire.DeletedMessage) > 0 {
		var deleted Message
		if err := json.Unmarshal(wire.DeletedMessage, &deleted); err == nil {
			res.Deleted = &deleted
		}
	}
	return res, nil
}
