package logger

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// WireLogger 负责输出与服务端交互的调用、回执与错误信息。
type WireLogger interface {
	CallSent(function, id, transport string)
	ResultReceived(id, outcome string, payload string)
	FallbackRequest(path string, status int)
	Error(id string, err error)
}

// WireLog 是全局唯一的链路日志器实例。
var WireLog WireLogger = NewWireLogger(nil)

// GlobalWireLogger 返回全局唯一的链路日志实例。
func GlobalWireLogger() WireLogger {
	return WireLog
}

// SetGlobalWireLogger 覆盖全局链路日志实例，传入 nil 将重置为默认实现。
func SetGlobalWireLogger(logger WireLogger) {
	if logger == nil {
		logger = NewWireLogger(nil)
	}
	WireLog = logger
}

// StdWireLogger 使用 logrus 输出日志。
type StdWireLogger struct {
	logger *logrus.Entry
}

// NewWireLogger 构造默认的链路日志记录器。
func NewWireLogger(l *Logger) *StdWireLogger {
	if l == nil {
		l = root()
	}
	l.SetFormatter(PlainFormatter{})
	l.SetReportCaller(true)
	return &StdWireLogger{logger: logrus.NewEntry(l).WithField("component", "wire")}
}

// CallSent 记录一次发出的函数调用。
func (l *StdWireLogger) CallSent(function, id, transport string) {
	l.printf(logrus.InfoLevel, "-> call id=%s fn=%s transport=%s", id, function, transport)
}

// ResultReceived 记录一次收到的调用回执。
func (l *StdWireLogger) ResultReceived(id, outcome string, payload string) {
	l.printf(logrus.InfoLevel, "<- result id=%s outcome=%s payload=%s", id, outcome, sanitize(payload))
}

// FallbackRequest 记录一次单发 HTTP 请求。
func (l *StdWireLogger) FallbackRequest(path string, status int) {
	l.printf(logrus.InfoLevel, "-> fallback path=%s status=%d", path, status)
}

// Error 记录链路错误。
func (l *StdWireLogger) Error(id string, err error) {
	l.printf(logrus.ErrorLevel, "!! error id=%s err=%v", id, err)
}

// NoopWireLogger 忽略所有日志输出。
type NoopWireLogger struct{}

// NewNoopWireLogger 创建一个不输出的记录器。
func NewNoopWireLogger() NoopWireLogger {
	return NoopWireLogger{}
}

func (NoopWireLogger) CallSent(function, id, transport string)           {}
func (NoopWireLogger) ResultReceived(id, outcome string, payload string) {}
func (NoopWireLogger) FallbackRequest(path string, status int)           {}
func (NoopWireLogger) Error(id string, err error)                        {}

// CallSent 记录一次发出的函数调用。
func CallSent(function, id, transport string) {
	if WireLog != nil {
		WireLog.CallSent(function, id, transport)
	}
}

// ResultReceived 记录一次收到的调用回执。
func ResultReceived(id, outcome string, payload string) {
	if WireLog != nil {
		WireLog.ResultReceived(id, outcome, payload)
	}
}

// FallbackRequest 记录一次单发 HTTP 请求。
func FallbackRequest(path string, status int) {
	if WireLog != nil {
		WireLog.FallbackRequest(path, status)
	}
}

// WireError 记录链路错误。
func WireError(id string, err error) {
	if WireLog != nil {
		WireLog.Error(id, err)
	}
}

func (l *StdWireLogger) printf(level logrus.Level, format string, args ...any) {
	if l == nil || l.logger == nil {
		return
	}
	if !l.logger.Logger.IsLevelEnabled(level) {
		return
	}

	msg := fmt.Sprintf(format, args...)
	caller := findCaller()
	entry := l.logger
	if caller != "" {
		entry = entry.WithField("caller", caller)
	}
	entry.Log(level, msg)
}

func sanitize(text string) string {
	text = strings.ReplaceAll(text, "\n", `\n`)
	text = strings.ReplaceAll(text, "\r", `\r`)
	return text
}

func findCaller() string {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if frame.File != "" && !strings.Contains(frame.File, "wire.go") {
			return fmt.Sprintf("%s:%d", shortenFilePath(frame.File), frame.Line)
		}
		if !more {
			break
		}
	}
	return ""
}
