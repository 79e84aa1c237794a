package slash

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	nameStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#C4A1FF"))
	descStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
	highlightStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#EBCB8B"))
	selectedStyle  = lipgloss.NewStyle().Background(lipgloss.Color("#2F2A3D"))
)

// View 渲染弹窗内容（不含外围边框）。
func (s *State) View(width int) string {
	if s == nil || !s.open {
		return ""
	}
	contentWidth := width
	if contentWidth <= 20 {
		contentWidth = 20
	}
	if len(s.matches) == 0 {
		return lipgloss.NewStyle().Width(contentWidth).Render("no matches")
	}

	nameWidth := 0
	for _, m := range s.matches {
		if w := lipgloss.Width(m.item.DisplayName()); w > nameWidth {
			nameWidth = w
		}
	}

	shown := s.matches
	if len(shown) > s.maxLines {
		shown = shown[:s.maxLines]
	}
	lines := make([]string, 0, len(shown))
	for idx, m := range shown {
		name := applyHighlights(m.item.DisplayName(), m.highlights)
		nameCell := lipgloss.NewStyle().Width(nameWidth).Render(nameStyle.Render(name))
		line := fmt.Sprintf("%s  %s", nameCell, descStyle.Render(m.item.Description))
		if idx == s.selected {
			line = selectedStyle.Render(line)
		}
		lines = append(lines, line)
	}
	return lipgloss.NewStyle().
		Width(contentWidth).
		Render(strings.Join(lines, "\n"))
}

// applyHighlights 加粗被命中的字符。highlights 基于无斜杠的 token 下标。
func applyHighlights(display string, highlights []int) string {
	if len(highlights) == 0 {
		return display
	}
	hit := map[int]bool{}
	for _, idx := range highlights {
		// DisplayName 带前导斜杠，命中下标整体右移一位。
		hit[idx+1] = true
	}
	var b strings.Builder
	for i, r := range []rune(display) {
		if hit[i] {
			b.WriteString(highlightStyle.Render(string(r)))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
