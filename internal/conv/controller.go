// Package conv 把消息仓库、持久通道与一次性回退装配成单一会话控制器。
// 所有仓库变更都经由控制器内的一把锁串行化：乐观追加、回包替换、
// 错误标注与删除不存在并发交错。
package conv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tavern-cli/internal/chat"
	"tavern-cli/internal/logger"
	"tavern-cli/internal/transport"
)

// UnaryClient 是一次性请求端。正常由 transport.Fallback 充当。
type UnaryClient interface {
	SendMessage(ctx context.Context, conversationFile, message string) (chat.Result, error)
	DeleteMessage(ctx context.Context, conversationFile string, index int) (chat.Result, error)
	LoadConversation(ctx context.Context, conversationFile string) (chat.Result, error)
	ListConversations(ctx context.Context) ([]string, error)
}

// ChannelSender 是持久通道端。正常由 transport.Session 充当，可缺席。
type ChannelSender interface {
	Send(call transport.FunctionCall) bool
	Connected() bool
	Close()
}

// EventKind 标识控制器对外通知的种类。
type EventKind int

const (
	// EventHistory 表示消息仓库内容有变，界面应重渲染。
	EventHistory EventKind = iota
	// EventChannel 表示持久通道连通性有变。
	EventChannel
)

// Event 是控制器推给界面层的通知。
type Event struct {
	Kind      EventKind
	Connected bool
}

// Config 装配一个控制器。
type Config struct {
	ConversationFile string
	Session          ChannelSender
	Unary            UnaryClient
	Notify           func(Event)
	Log              *logger.LogEntry
}

// refetchTimeout 限定失败标注落空后的单次补拉时长。
const refetchTimeout = 10 * time.Second

// Controller 是会话的唯一变更入口。
type Controller struct {
	unary   UnaryClient
	session ChannelSender
	notify  func(Event)
	log     *logger.LogEntry

	mu         sync.Mutex
	store      *chat.Store
	file       string
	sending    bool
	viaChannel bool
	refetching bool
}

// NewController 创建控制器。Unary 必填；Session 可为 nil，此时所有
// 发送都直接走一次性请求。
func NewController(cfg Config) *Controller {
	log := cfg.Log
	if log == nil {
		log = logger.Named("conv")
	}
	return &Controller{
		unary:   cfg.Unary,
		session: cfg.Session,
		notify:  cfg.Notify,
		log:     log,
		store:   chat.NewStore(),
		file:    cfg.ConversationFile,
	}
}

// AttachSession 后装持久通道。控制器与会话相互持有回调，装配顺序是
// 先建控制器、再以其回调建会话、最后挂回来。
func (c *Controller) AttachSession(session ChannelSender) {
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
}

// Messages 返回当前历史快照。
func (c *Controller) Messages() []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Messages()
}

// Sending 报告是否有一次发送在途。在途期间输入区应当禁用。
func (c *Controller) Sending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sending
}

// Connected 报告持久通道连通性。
func (c *Controller) Connected() bool {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return false
	}
	return session.Connected()
}

// ConversationFile 返回当前会话文件名。
func (c *Controller) ConversationFile() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.file
}

// ErrSendInFlight 表示上一次发送尚未回包。
var ErrSendInFlight = errors.New("a send is already in flight")

// Send 发送一条用户消息。先乐观追加，再尝试通道投递；通道拒收时在
// 当前 goroutine 上同步走一次性回退。成功回包以替换历史的方式落账，
// 失败则在对应用户消息上就地标注，不回滚乐观追加。
func (c *Controller) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	if c.sending {
		c.mu.Unlock()
		return ErrSendInFlight
	}
	c.sending = true
	c.store.Append(chat.Message{Role: chat.RoleUser, Content: text, Timestamp: time.Now()})
	file := c.file
	session := c.session
	c.mu.Unlock()
	c.emit(Event{Kind: EventHistory})

	call := transport.NewSendCall(file, text)
	if session != nil {
		c.mu.Lock()
		c.viaChannel = true
		c.mu.Unlock()
		if session.Send(call) {
			return nil
		}
		c.mu.Lock()
		c.viaChannel = false
		c.sending = true
		c.mu.Unlock()
	}

	res, err := c.unary.SendMessage(ctx, file, text)
	if err != nil {
		c.mu.Lock()
		c.sending = false
		if idx := c.store.LastPendingUser(); idx >= 0 {
			c.store.AttachError(idx, err.Error())
		}
		c.mu.Unlock()
		c.emit(Event{Kind: EventHistory})
		return nil
	}
	c.applyResult(res)
	return nil
}

// OnChannelResult 作为 transport.SessionConfig.OnResult 注入，把通道
// 回包并入仓库。correlationKey 当前只用于日志。
func (c *Controller) OnChannelResult(correlationKey string, res chat.Result, err error) {
	if err != nil {
		c.log.WithField("key", correlationKey).WithField("err", err).Warn("channel result undecodable")
		c.mu.Lock()
		c.sending = false
		c.viaChannel = false
		if idx := c.store.LastPendingUser(); idx >= 0 {
			c.store.AttachError(idx, "malformed reply from backend")
		}
		c.mu.Unlock()
		c.emit(Event{Kind: EventHistory})
		return
	}
	c.applyResult(res)
}

// OnChannelState 作为 transport.SessionConfig.OnStateChange 注入。通道
// 断开时，经通道投递且尚未回包的调用不会再有结果：必须就地标注并解除
// 在途状态，用户随即可以重发（重发即走回退路径）。
func (c *Controller) OnChannelState(connected bool) {
	if !connected {
		c.failPendingChannelSend()
	}
	c.emit(Event{Kind: EventChannel, Connected: connected})
}

// failPendingChannelSend 解除因通道断开而悬空的在途发送。只有经通道
// 投递的调用受影响；正走回退往返的发送照常等它自己的回包。
func (c *Controller) failPendingChannelSend() {
	c.mu.Lock()
	if !c.sending || !c.viaChannel {
		c.mu.Unlock()
		return
	}
	c.sending = false
	c.viaChannel = false
	if idx := c.store.LastPendingUser(); idx >= 0 {
		c.store.AttachError(idx, "connection dropped before reply; resend to retry")
	}
	c.mu.Unlock()
	c.emit(Event{Kind: EventHistory})
}

// Delete 删除指定索引的消息。删除是权威操作，只走一次性请求，客户端
// 从不本地拼接结果。返回后端回报的被删消息。
func (c *Controller) Delete(ctx context.Context, index int) (*chat.Message, error) {
	c.mu.Lock()
	file := c.file
	c.mu.Unlock()

	res, err := c.unary.DeleteMessage(ctx, file, index)
	if err != nil {
		return nil, err
	}
	switch r := res.(type) {
	case chat.Success:
		c.mu.Lock()
		c.store.ReplaceAll(r.History)
		c.mu.Unlock()
		c.emit(Event{Kind: EventHistory})
		return r.Deleted, nil
	case chat.Failure:
		return nil, fmt.Errorf("delete rejected: %s", r.Error)
	}
	return nil, fmt.Errorf("unexpected result %T", res)
}

// Load 整载当前会话历史并替换仓库内容。
func (c *Controller) Load(ctx context.Context) error {
	c.mu.Lock()
	file := c.file
	c.mu.Unlock()
	return c.loadInto(ctx, file)
}

// SwitchConversation 切换到另一份会话文件并整载其历史。
func (c *Controller) SwitchConversation(ctx context.Context, file string) error {
	if err := c.loadInto(ctx, file); err != nil {
		return err
	}
	c.mu.Lock()
	c.file = file
	c.sending = false
	c.viaChannel = false
	c.mu.Unlock()
	return nil
}

// Conversations 列出后端可用的会话文件。
func (c *Controller) Conversations(ctx context.Context) ([]string, error) {
	return c.unary.ListConversations(ctx)
}

// ClearLocal 清空本地视图。不触碰服务端历史，下次整载即恢复。
func (c *Controller) ClearLocal() {
	c.mu.Lock()
	c.store.Reset()
	c.sending = false
	c.viaChannel = false
	c.mu.Unlock()
	c.emit(Event{Kind: EventHistory})
}

// Close 关闭底层通道。幂等。
func (c *Controller) Close() {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session != nil {
		session.Close()
	}
}

func (c *Controller) loadInto(ctx context.Context, file string) error {
	res, err := c.unary.LoadConversation(ctx, file)
	if err != nil {
		return err
	}
	switch r := res.(type) {
	case chat.Success:
		c.mu.Lock()
		c.store.ReplaceAll(r.History)
		c.mu.Unlock()
		c.emit(Event{Kind: EventHistory})
		return nil
	case chat.Failure:
		return fmt.Errorf("load rejected: %s", r.Error)
	}
	return fmt.Errorf("unexpected result %T", res)
}

// applyResult 把一次发送的结果并入仓库。成功按后端数组整体替换，
// 后写覆盖先写；失败就地标注最近一条未标注的用户消息。
func (c *Controller) applyResult(res chat.Result) {
	switch r := res.(type) {
	case chat.Success:
		c.mu.Lock()
		c.store.ReplaceAll(r.History)
		c.sending = false
		c.viaChannel = false
		c.mu.Unlock()
		c.emit(Event{Kind: EventHistory})
	case chat.Failure:
		c.attachFailure(r.Error)
	default:
		c.log.WithField("type", fmt.Sprintf("%T", res)).Warn("ignoring unknown result variant")
	}
}

// attachFailure 把失败文本标注到最近的未决用户消息上。标注目标缺失
// 说明历史已被并发替换，此时做且仅做一次补拉，再尝试一次标注。
func (c *Controller) attachFailure(text string) {
	c.mu.Lock()
	c.sending = false
	c.viaChannel = false
	idx := c.store.LastPendingUser()
	if idx >= 0 {
		c.store.AttachError(idx, text)
		c.mu.Unlock()
		c.emit(Event{Kind: EventHistory})
		return
	}
	if c.refetching {
		c.mu.Unlock()
		c.log.Warn("failure annotation dropped; refetch already in flight")
		return
	}
	c.refetching = true
	file := c.file
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			c.refetching = false
			c.mu.Unlock()
		}()
		ctx, cancel := context.WithTimeout(context.Background(), refetchTimeout)
		defer cancel()
		res, err := c.unary.LoadConversation(ctx, file)
		if err != nil {
			c.log.WithField("err", err).Warn("refetch after failed send did not complete")
			return
		}
		ok, isSuccess := res.(chat.Success)
		if !isSuccess {
			return
		}
		c.mu.Lock()
		c.store.ReplaceAll(ok.History)
		if idx := c.store.LastPendingUser(); idx >= 0 {
			c.store.AttachError(idx, text)
		} else {
			c.log.Warn("failure annotation dropped; no pending user message after refetch")
		}
		c.mu.Unlock()
		c.emit(Event{Kind: EventHistory})
	}()
}

func (c *Controller) emit(ev Event) {
	if c.notify != nil {
		c.notify(ev)
	}
}
