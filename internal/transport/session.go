package transport

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tavern-cli/internal/chat"
	"tavern-cli/internal/logger"
)

// 重连退避与保活参数。
const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 15 * time.Second

	writeTimeout = 5 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

// ResultHandler 接收一次通道回包。correlationKey 为后端回显的相关键，
// 可能为空；err 仅在结果解码失败时非 nil。
type ResultHandler func(correlationKey string, res chat.Result, err error)

// SessionConfig 配置持久通道会话。
type SessionConfig struct {
	// URL 为 websocket 端点（ws:// 或 wss://）。
	URL   string
	Token string
	// OnResult 在读协程上被调用；调用方自行串行化后续变更。
	OnResult ResultHandler
	// OnStateChange 在通道建立/断开时被调用，可为 nil。
	OnStateChange func(connected bool)
	Log           *logger.LogEntry
}

// Session 持有一条带自动重连的持久通道。Send 返回 false 即刻宣告
// 回退资格：投递正确性从不依赖通道可用性，调用方立即改走一次性请求。
type Session struct {
	cfg SessionConfig
	log *logger.LogEntry

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	done chan struct{}
}

// NewSession 创建会话并在后台开始连接。
func NewSession(cfg SessionConfig) *Session {
	log := cfg.Log
	if log == nil {
		log = logger.Named("transport")
	}
	s := &Session{
		cfg:  cfg,
		log:  log,
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

// Send 尝试在持久通道上投递一次调用。仅当此刻通道就绪且写入成功才返回
// true；false 表示调用方必须立即发起等价的一次性回退请求。
// 通道掉线不会自动重发在途调用——回退路径就是重试路径。
func (s *Session) Send(call FunctionCall) bool {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return false
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(call); err != nil {
		s.log.WithField("err", err).Warn("channel write failed; caller falls back")
		logger.WireError(call.ID, err)
		s.dropConn(conn)
		return false
	}
	logger.CallSent(call.Function, call.ID, "channel")
	return true
}

// Connected 报告通道此刻是否就绪。状态栏展示用；投递决策只看 Send 的返回值。
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Close 关闭会话并停止重连。幂等。
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	close(s.done)
	s.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
		conn.Close()
	}
}

func (s *Session) run() {
	backoff := initialBackoff
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conn, err := s.dial()
		if err != nil {
			s.log.WithField("err", err).WithField("retry_in", backoff.String()).Debug("channel dial failed")
			select {
			case <-s.done:
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = initialBackoff

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conn = conn
		s.mu.Unlock()
		s.notifyState(true)
		s.log.Info("channel established")

		s.readLoop(conn)

		s.dropConn(conn)
		select {
		case <-s.done:
			return
		default:
		}
	}
}

func (s *Session) dial() (*websocket.Conn, error) {
	header := http.Header{}
	if s.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+s.cfg.Token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(s.cfg.URL, header)
	return conn, err
}

// readLoop 读取入站信封直到连接失效。非 function_result 信封一律忽略。
func (s *Session) readLoop(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	stop := make(chan struct{})
	defer close(stop)
	pinger := time.NewTicker(pingInterval)
	defer pinger.Stop()
	go func() {
		for {
			select {
			case <-s.done:
				return
			case <-stop:
				return
			case <-pinger.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.log.WithField("err", err).Debug("channel read ended")
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongTimeout))

		var env functionResult
		if err := json.Unmarshal(raw, &env); err != nil {
			s.log.WithField("err", err).Debug("ignoring undecodable frame")
			continue
		}
		if env.Type != TypeFunctionResult {
			continue
		}
		if s.cfg.OnResult == nil {
			continue
		}
		res, err := chat.DecodeResult(env.Result)
		logger.ResultReceived(env.ID, resultOutcome(res, err), "")
		s.cfg.OnResult(env.ID, res, err)
	}
}

// dropConn 摘除失效连接；只有仍是当前连接时才触发状态回调。
func (s *Session) dropConn(conn *websocket.Conn) {
	s.mu.Lock()
	current := s.conn == conn
	if current {
		s.conn = nil
	}
	s.mu.Unlock()
	conn.Close()
	if current {
		s.notifyState(false)
	}
}

func (s *Session) notifyState(connected bool) {
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(connected)
	}
}

func resultOutcome(res chat.Result, err error) string {
	switch {
	case err != nil:
		return "malformed"
	case res == nil:
		return "empty"
	default:
		switch res.(type) {
		case chat.Success:
			return "success"
		case chat.Failure:
			return "failure"
		}
		return "unknown"
	}
}
