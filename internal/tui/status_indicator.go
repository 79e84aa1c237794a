package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// StatusIndicatorState 枚举了状态指示器可显示的所有状态。
type StatusIndicatorState int

const (
	// StatusIdle 表示空闲，不显示计时。
	StatusIdle StatusIndicatorState = iota
	// StatusSending 表示一次发送在途，计时器持续累加。
	StatusSending
	// StatusError 表示最近一次操作失败。
	StatusError
)

func (s StatusIndicatorState) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusSending:
		return "sending"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

var (
	statusDimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D7A85"))
	statusErrStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#dc2626"))
	channelUpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#16a34a"))
	channelDownStyle = lipgloss.NewStyle().Faint(true)
)

// StatusIndicator 汇总底部状态行：发送进度、通道连通性与错误提示。
type StatusIndicator struct {
	state     StatusIndicatorState
	errText   string
	connected bool
	startedAt time.Time
	nowFn     func() time.Time
}

// NewStatusIndicator 创建空闲状态的指示器。
func NewStatusIndicator() *StatusIndicator {
	return &StatusIndicator{nowFn: time.Now}
}

// SetSending 进入/退出发送态。进入时重置计时。
func (w *StatusIndicator) SetSending(sending bool) {
	if sending {
		if w.state != StatusSending {
			w.startedAt = w.now()
		}
		w.state = StatusSending
		w.errText = ""
		return
	}
	if w.state == StatusSending {
		w.state = StatusIdle
	}
}

// SetError 进入错误态；text 为空时清除错误。
func (w *StatusIndicator) SetError(text string) {
	if text == "" {
		if w.state == StatusError {
			w.state = StatusIdle
		}
		w.errText = ""
		return
	}
	w.state = StatusError
	w.errText = text
}

// SetConnected 更新通道连通性展示。
func (w *StatusIndicator) SetConnected(connected bool) {
	w.connected = connected
}

// State 返回当前状态。
func (w *StatusIndicator) State() StatusIndicatorState {
	return w.state
}

// ElapsedSeconds 返回发送态已经历的整秒数。
func (w *StatusIndicator) ElapsedSeconds() uint64 {
	if w.state != StatusSending {
		return 0
	}
	d := w.now().Sub(w.startedAt)
	if d < 0 {
		return 0
	}
	return uint64(d / time.Second)
}

// View 渲染单行状态。spin 为外部驱动的 spinner 帧。
func (w *StatusIndicator) View(width int, spin string, conversation string) string {
	parts := []string{}
	if w.connected {
		parts = append(parts, channelUpStyle.Render("● channel"))
	} else {
		parts = append(parts, channelDownStyle.Render("○ fallback"))
	}
	if conversation != "" {
		parts = append(parts, statusDimStyle.Render(conversation))
	}
	switch w.state {
	case StatusSending:
		parts = append(parts, fmt.Sprintf("%s 发送中… %ds", spin, w.ElapsedSeconds()))
	case StatusError:
		parts = append(parts, statusErrStyle.Render("✗ "+w.errText))
	}
	if width < 20 {
		width = 20
	}
	return lipgloss.NewStyle().
		Padding(0, 1).
		Width(width).
		Render(strings.Join(parts, "  •  "))
}

func (w *StatusIndicator) now() time.Time {
	if w.nowFn != nil {
		return w.nowFn()
	}
	return time.Now()
}
