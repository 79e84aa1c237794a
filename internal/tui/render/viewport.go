package render

import (
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// Viewport 包装 bubbles viewport：内容差分感知，贴底时追加内容自动跟底。
// Bubble Tea v1 推荐默认渲染器，因此不走兼容的高性能命令路径。
type Viewport struct {
	viewport.Model
	lastLines []string
}

// NewViewport 创建视口。
func NewViewport(width, height int) Viewport {
	vp := viewport.New(width, height)
	return Viewport{Model: vp}
}

// Resize 更新宽高并在宽度变化时作废行缓存。
func (v *Viewport) Resize(width, height int) {
	if v == nil {
		return
	}
	if v.Width != width {
		v.lastLines = nil
	}
	v.Width = width
	v.Height = height
}

// HandleUpdate 代理 bubbles 的 Update，保持内部状态。
func (v *Viewport) HandleUpdate(msg tea.Msg) tea.Cmd {
	if v == nil {
		return nil
	}
	var cmd tea.Cmd
	v.Model, cmd = v.Model.Update(msg)
	return cmd
}

// SetLines 更新内容。原本贴底时更新后继续贴底。
func (v *Viewport) SetLines(lines []string) {
	if v == nil {
		return
	}
	if slices.Equal(lines, v.lastLines) {
		return
	}
	stickToBottom := v.AtBottom()
	v.lastLines = append([]string(nil), lines...)
	v.SetContent(strings.Join(lines, "\n"))
	if stickToBottom {
		v.GotoBottom()
	}
}

// ContentHeight 返回当前内容行数。
func (v *Viewport) ContentHeight() int {
	if v == nil {
		return 0
	}
	return len(v.lastLines)
}
