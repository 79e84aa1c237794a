package chat

import (
	"fmt"
	"sync"
)

// Store 持有当前会话的权威消息数组。索引连续（0..n-1），渲染期间稳定；
// 所有变更都经过同一把锁，两个在途结果不会交错出半应用状态。
type Store struct {
	mu       sync.Mutex
	messages []Message
}

func NewStore() *Store {
	return &Store{}
}

// Append 在末尾追加一条消息（乐观本地写入），返回其索引。
func (s *Store) Append(msg Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return len(s.messages) - 1
}

// ReplaceAll 用后端快照整体替换本地数组。后写者胜：权威历史总是覆盖乐观状态。
func (s *Store) ReplaceAll(msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append([]Message(nil), msgs...)
}

// AttachError 给指定索引的消息附加错误文本。这是唯一的原地修改路径。
func (s *Store) AttachError(index int, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.messages) {
		return fmt.Errorf("attach error: index %d out of range (len=%d)", index, len(s.messages))
	}
	s.messages[index].Error = text
	return nil
}

// RemoveAt 删除指定索引的消息。调用方必须持有后端确认的删除结果；
// 客户端从不自行推测删除（见控制器层）。
func (s *Store) RemoveAt(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.messages) {
		return fmt.Errorf("remove: index %d out of range (len=%d)", index, len(s.messages))
	}
	s.messages = append(s.messages[:index], s.messages[index+1:]...)
	return nil
}

// Messages 返回当前数组的拷贝。
func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// Len 返回消息数。
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// LastPendingUser 返回最近一条尚无结果（未附加错误）的 user 消息索引，
// 不存在时返回 -1。按规约取 last-match 而非 first-match。
func (s *Store) LastPendingUser() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == RoleUser && s.messages[i].Error == "" {
			return i
		}
	}
	return -1
}

// Reset 清空数组。切换会话上下文时使用。
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}
