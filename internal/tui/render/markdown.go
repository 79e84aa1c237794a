package render

import (
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
)

// markdownCache 按宽度缓存 glamour 渲染器，宽度变化才重建。
var markdownCache struct {
	mu       sync.Mutex
	width    int
	renderer *glamour.TermRenderer
}

// renderMarkdown 把 Markdown 渲染为终端行。初始化或渲染失败时回退为
// 纯文本换行，从不让一段坏内容拖垮整个转录。
func renderMarkdown(text string, width int) []string {
	if width <= 0 {
		width = 80
	}
	r := markdownRenderer(width)
	if r == nil {
		return wrapText(text, width)
	}
	rendered, err := r.Render(text)
	if err != nil {
		return wrapText(text, width)
	}
	rendered = strings.Trim(rendered, "\n")
	if rendered == "" {
		return nil
	}
	return strings.Split(rendered, "\n")
}

func markdownRenderer(width int) *glamour.TermRenderer {
	markdownCache.mu.Lock()
	defer markdownCache.mu.Unlock()
	if markdownCache.renderer != nil && markdownCache.width == width {
		return markdownCache.renderer
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil
	}
	markdownCache.renderer = r
	markdownCache.width = width
	return r
}
