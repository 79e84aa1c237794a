package conv

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tavern-cli/internal/chat"
	"tavern-cli/internal/transport"
)

type fakeUnary struct {
	mu      sync.Mutex
	sends   []string
	deletes []int
	loads   int

	sendResult   chat.Result
	sendErr      error
	deleteResult chat.Result
	loadResult   chat.Result
	loadErr      error
	list         []string
}

func (f *fakeUnary) SendMessage(_ context.Context, _, message string) (chat.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, message)
	return f.sendResult, f.sendErr
}

func (f *fakeUnary) DeleteMessage(_ context.Context, _ string, index int) (chat.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, index)
	return f.deleteResult, nil
}

func (f *fakeUnary) LoadConversation(_ context.Context, _ string) (chat.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return f.loadResult, f.loadErr
}

func (f *fakeUnary) ListConversations(_ context.Context) ([]string, error) {
	return f.list, nil
}

func (f *fakeUnary) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

type fakeChannel struct {
	mu        sync.Mutex
	accept    bool
	connected bool
	sent      []transport.FunctionCall
	closed    bool
}

func (f *fakeChannel) Send(call transport.FunctionCall) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.accept {
		return false
	}
	f.sent = append(f.sent, call)
	return true
}

func (f *fakeChannel) Connected() bool { return f.connected }
func (f *fakeChannel) Close()          { f.closed = true }

func roles(msgs []chat.Message) []chat.Role {
	out := make([]chat.Role, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role
	}
	return out
}

func TestSendFallsBackWhenChannelRefuses(t *testing.T) {
	t.Parallel()

	authoritative := []chat.Message{
		{Role: chat.RoleSystem, Content: "scene"},
		{Role: chat.RoleUser, Content: "hello"},
		{Role: chat.RoleAssistant, Content: "ahoy"},
	}
	unary := &fakeUnary{sendResult: chat.Success{History: authoritative}}
	ch := &fakeChannel{accept: false}

	var events []Event
	c := NewController(Config{
		ConversationFile: "default.jsonl",
		Session:          ch,
		Unary:            unary,
		Notify:           func(e Event) { events = append(events, e) },
	})

	if err := c.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got := c.Messages()
	if len(got) != 3 {
		t.Fatalf("history len=%d want 3: %+v", len(got), got)
	}
	for i := range authoritative {
		if got[i].Role != authoritative[i].Role || got[i].Content != authoritative[i].Content {
			t.Fatalf("history[%d]=%+v want %+v", i, got[i], authoritative[i])
		}
	}
	if c.Sending() {
		t.Fatalf("sending flag stuck after completed round trip")
	}
	if unary.sendCount() != 1 {
		t.Fatalf("fallback sends=%d want 1", unary.sendCount())
	}
	if len(events) < 2 || events[0].Kind != EventHistory {
		t.Fatalf("expected optimistic then authoritative history events, got %+v", events)
	}
}

func TestSendOverChannelDoesNotTouchUnary(t *testing.T) {
	t.Parallel()

	unary := &fakeUnary{}
	ch := &fakeChannel{accept: true}
	c := NewController(Config{ConversationFile: "default.jsonl", Session: ch, Unary: unary})

	if err := c.Send(context.Background(), "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if unary.sendCount() != 0 {
		t.Fatalf("unary must not be used when the channel accepts")
	}
	if len(ch.sent) != 1 || ch.sent[0].Params.Message != "hi" {
		t.Fatalf("channel calls=%+v", ch.sent)
	}

	msgs := c.Messages()
	if len(msgs) != 1 || msgs[0].Role != chat.RoleUser || msgs[0].Content != "hi" {
		t.Fatalf("optimistic append missing: %+v", msgs)
	}
	if !c.Sending() {
		t.Fatalf("sending must stay true until the channel result lands")
	}
	if err := c.Send(context.Background(), "again"); !errors.Is(err, ErrSendInFlight) {
		t.Fatalf("second send must be rejected, got %v", err)
	}
}

func TestChannelDropAfterAcceptReleasesInFlightSend(t *testing.T) {
	t.Parallel()

	authoritative := []chat.Message{
		{Role: chat.RoleUser, Content: "hi"},
		{Role: chat.RoleAssistant, Content: "made it"},
	}
	unary := &fakeUnary{sendResult: chat.Success{History: authoritative}}
	ch := &fakeChannel{accept: true}
	c := NewController(Config{ConversationFile: "default.jsonl", Session: ch, Unary: unary})

	if err := c.Send(context.Background(), "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !c.Sending() {
		t.Fatalf("sending must be true while the channel result is pending")
	}

	// 通道在回包前掉线：该调用不会再有结果，在途状态必须解除。
	c.OnChannelState(false)

	if c.Sending() {
		t.Fatalf("sending stuck after the channel dropped mid-flight")
	}
	msgs := c.Messages()
	if len(msgs) != 1 || msgs[0].Error == "" {
		t.Fatalf("pending user message not annotated: %+v", msgs)
	}
	if unary.sendCount() != 0 {
		t.Fatalf("dropped channel must not auto-retry over unary, sends=%d", unary.sendCount())
	}

	// 重发就是重试路径：通道已不可用，走回退并正常落账。
	ch.mu.Lock()
	ch.accept = false
	ch.mu.Unlock()
	if err := c.Send(context.Background(), "hi"); err != nil {
		t.Fatalf("resend: %v", err)
	}
	if unary.sendCount() != 1 {
		t.Fatalf("resend must go over unary, sends=%d", unary.sendCount())
	}
	if got := roles(c.Messages()); len(got) != 2 || got[1] != chat.RoleAssistant {
		t.Fatalf("history roles=%v", got)
	}
	if c.Sending() {
		t.Fatalf("sending stuck after resend completed")
	}
}

func TestChannelDropWithoutPendingSendChangesNothing(t *testing.T) {
	t.Parallel()

	unary := &fakeUnary{}
	ch := &fakeChannel{accept: true}
	var events []Event
	c := NewController(Config{
		ConversationFile: "default.jsonl",
		Session:          ch,
		Unary:            unary,
		Notify:           func(e Event) { events = append(events, e) },
	})

	c.OnChannelState(false)

	if len(events) != 1 || events[0].Kind != EventChannel || events[0].Connected {
		t.Fatalf("idle disconnect must emit only a channel event, got %+v", events)
	}
	if len(c.Messages()) != 0 {
		t.Fatalf("idle disconnect must not touch the store")
	}
}

func TestChannelFailureAnnotatesPendingUserMessage(t *testing.T) {
	t.Parallel()

	unary := &fakeUnary{}
	ch := &fakeChannel{accept: true}
	c := NewController(Config{ConversationFile: "default.jsonl", Session: ch, Unary: unary})

	if err := c.Send(context.Background(), "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	c.OnChannelResult(ch.sent[0].ID, chat.Failure{Error: "rate limited"}, nil)

	msgs := c.Messages()
	if len(msgs) != 1 {
		t.Fatalf("failure must not add or remove messages: %+v", msgs)
	}
	if msgs[0].Content != "hi" || msgs[0].Error != "rate limited" {
		t.Fatalf("annotation missing: %+v", msgs[0])
	}
	if c.Sending() {
		t.Fatalf("sending flag stuck after failure")
	}
}

func TestChannelSuccessReplacesWholeHistory(t *testing.T) {
	t.Parallel()

	unary := &fakeUnary{}
	ch := &fakeChannel{accept: true}
	c := NewController(Config{ConversationFile: "default.jsonl", Session: ch, Unary: unary})

	c.Send(context.Background(), "hi")
	c.OnChannelResult("", chat.Success{History: []chat.Message{
		{Role: chat.RoleUser, Content: "hi"},
		{Role: chat.RoleAssistant, Content: "hey there"},
	}}, nil)

	got := roles(c.Messages())
	if len(got) != 2 || got[1] != chat.RoleAssistant {
		t.Fatalf("history roles=%v", got)
	}
	if c.Sending() {
		t.Fatalf("sending flag stuck")
	}
}

func TestFailureWithoutPendingUserTriggersOneRefetch(t *testing.T) {
	t.Parallel()

	unary := &fakeUnary{loadResult: chat.Success{History: []chat.Message{
		{Role: chat.RoleAssistant, Content: "welcome"},
		{Role: chat.RoleUser, Content: "hi"},
	}}}
	c := NewController(Config{ConversationFile: "default.jsonl", Unary: unary})

	// No optimistic append happened locally, so the annotation target is
	// missing until the refetch lands.
	c.OnChannelResult("", chat.Failure{Error: "rate limited"}, nil)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		msgs := c.Messages()
		if len(msgs) == 2 && msgs[1].Error == "rate limited" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	msgs := c.Messages()
	if len(msgs) != 2 || msgs[1].Error != "rate limited" {
		t.Fatalf("refetch annotation missing: %+v", msgs)
	}

	unary.mu.Lock()
	loads := unary.loads
	unary.mu.Unlock()
	if loads != 1 {
		t.Fatalf("loads=%d want exactly 1", loads)
	}
}

func TestTransportErrorAnnotatesInPlace(t *testing.T) {
	t.Parallel()

	unary := &fakeUnary{sendErr: errors.New("connection refused")}
	c := NewController(Config{ConversationFile: "default.jsonl", Unary: unary})

	if err := c.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msgs := c.Messages()
	if len(msgs) != 1 || msgs[0].Error != "connection refused" {
		t.Fatalf("transport error not annotated: %+v", msgs)
	}
	if c.Sending() {
		t.Fatalf("sending flag stuck after transport error")
	}
}

func TestDeleteIsAuthoritativeAndUnaryOnly(t *testing.T) {
	t.Parallel()

	deleted := chat.Message{Role: chat.RoleAssistant, Content: "gone"}
	unary := &fakeUnary{deleteResult: chat.Success{
		History: []chat.Message{{Role: chat.RoleUser, Content: "kept"}},
		Deleted: &deleted,
	}}
	ch := &fakeChannel{accept: true}
	c := NewController(Config{ConversationFile: "default.jsonl", Session: ch, Unary: unary})

	got, err := c.Delete(context.Background(), 2)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got == nil || got.Content != "gone" {
		t.Fatalf("deleted=%+v", got)
	}
	if len(ch.sent) != 0 {
		t.Fatalf("delete must never ride the channel")
	}
	msgs := c.Messages()
	if len(msgs) != 1 || msgs[0].Content != "kept" {
		t.Fatalf("history not replaced: %+v", msgs)
	}

	unary.deleteResult = chat.Failure{Error: "index out of range"}
	if _, err := c.Delete(context.Background(), 99); err == nil {
		t.Fatalf("rejected delete must surface an error")
	}
}

func TestSwitchConversationLoadsBeforeSwitching(t *testing.T) {
	t.Parallel()

	unary := &fakeUnary{loadErr: errors.New("no such file")}
	c := NewController(Config{ConversationFile: "default.jsonl", Unary: unary})

	if err := c.SwitchConversation(context.Background(), "emma.jsonl"); err == nil {
		t.Fatalf("switch must fail when the load fails")
	}
	if c.ConversationFile() != "default.jsonl" {
		t.Fatalf("file switched despite failed load")
	}

	unary.mu.Lock()
	unary.loadErr = nil
	unary.loadResult = chat.Success{History: []chat.Message{{Role: chat.RoleAssistant, Content: "hello emma"}}}
	unary.mu.Unlock()

	if err := c.SwitchConversation(context.Background(), "emma.jsonl"); err != nil {
		t.Fatalf("SwitchConversation: %v", err)
	}
	if c.ConversationFile() != "emma.jsonl" {
		t.Fatalf("file=%q", c.ConversationFile())
	}
	msgs := c.Messages()
	if len(msgs) != 1 || msgs[0].Content != "hello emma" {
		t.Fatalf("history=%+v", msgs)
	}
}
