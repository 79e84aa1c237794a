package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"tavern-cli/internal/blocks"
	"tavern-cli/internal/chat"
	"tavern-cli/internal/window"
)

var (
	dimStyle             = lipgloss.NewStyle().Faint(true)
	userPrefixStyle      = lipgloss.NewStyle().Faint(true).Bold(true)
	userIndentStyle      = lipgloss.NewStyle().Faint(true)
	assistantPrefixStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4"))
	htmlEdgeStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4")).Faint(true)
	errorStyle           = lipgloss.NewStyle().Foreground(lipgloss.Color("#dc2626"))
)

// HTMLView 提供某个 HTML 块当前应展示的行，由沙箱宿主池注入。
type HTMLView func(blockID string, width int) []string

// RenderTranscript 把整段历史渲染为视口行。visible 标记哪些楼层走完整
// 渲染；其余楼层折叠为保留楼层号的单行占位，滚动几何因此保持连贯。
// 返回的 Extent 以行为单位记录每个楼层的位置与高度，供相交追踪使用。
func RenderTranscript(msgs []chat.Message, visible []bool, width int, htmlView HTMLView) ([]string, []window.Extent) {
	if width < 10 {
		width = 10
	}
	all := []Line{}
	extents := make([]window.Extent, 0, len(msgs))

	for i, msg := range msgs {
		if i > 0 {
			all = append(all, Line{})
		}
		top := len(all)

		var floor []Line
		if floorVisible(visible, i) {
			floor = renderFloor(msg, width, htmlView)
		} else {
			floor = []Line{StaticLine(fmt.Sprintf("·· #%d ··", i+1), dimStyle)}
		}
		if msg.Error != "" {
			floor = append(floor, StaticLine("✗ "+msg.Error, errorStyle))
		}
		all = append(all, floor...)
		extents = append(extents, window.Extent{Index: i, Top: top, Height: len(floor)})
	}

	return LinesToStrings(all), extents
}

func floorVisible(visible []bool, i int) bool {
	if i >= len(visible) {
		return true
	}
	return visible[i]
}

func renderFloor(msg chat.Message, width int, htmlView HTMLView) []Line {
	inner := width - 2
	if inner < 8 {
		inner = 8
	}
	content := strings.TrimRight(msg.Content, "\n")

	switch msg.Role {
	case chat.RoleUser:
		body := []Line{}
		for _, raw := range wrapText(content, inner) {
			body = append(body, StaticLine(raw, userIndentStyle))
		}
		return PrefixLines(body,
			Span{Text: "› ", Style: userPrefixStyle},
			Span{Text: "  ", Style: userIndentStyle})
	case chat.RoleAssistant:
		body := renderAssistantBody(content, inner, htmlView)
		if msg.Streaming {
			body = append(body, StaticLine("▌", dimStyle))
		}
		return PrefixLines(body,
			Span{Text: "• ", Style: assistantPrefixStyle},
			Span{Text: "  "})
	default:
		body := []Line{}
		for _, raw := range wrapText(content, inner) {
			body = append(body, StaticLine(raw, dimStyle))
		}
		return PrefixLines(body,
			Span{Text: "◦ ", Style: dimStyle},
			Span{Text: "  ", Style: dimStyle})
	}
}

// renderAssistantBody 逐段渲染助手消息：散文走 Markdown，代码走高亮，
// HTML 块的行由宿主池按其当前状态给出。
func renderAssistantBody(content string, width int, htmlView HTMLView) []Line {
	body := []Line{}
	for _, seg := range blocks.Parse(content) {
		switch seg.Type {
		case blocks.TypeHTML:
			body = append(body, renderHTMLBlock(seg, width, htmlView)...)
		case blocks.TypeCode:
			body = append(body, renderCodeLines(seg.Meta.Lang, seg.Content, width)...)
		default:
			for _, raw := range renderMarkdown(seg.Content, width) {
				body = append(body, Line{Spans: []Span{{Text: raw}}})
			}
		}
	}
	if len(body) == 0 {
		body = append(body, Line{})
	}
	return body
}

func renderHTMLBlock(seg blocks.Segment, width int, htmlView HTMLView) []Line {
	edge := Span{Text: "▎ ", Style: htmlEdgeStyle}
	inner := width - 2
	if inner < 8 {
		inner = 8
	}
	var lines []string
	if htmlView != nil {
		lines = htmlView(seg.ID, inner)
	}
	if lines == nil {
		lines = []string{dimStyle.Render("[embedded content]")}
	}
	out := make([]Line, 0, len(lines))
	for _, raw := range lines {
		out = append(out, Line{Spans: []Span{edge, {Text: raw}}})
	}
	return out
}
