// Package blocks splits raw message text into prose spans and typed fenced
// blocks. Parsing is a pure function of the content: the same text always
// yields the same segments, so callers may re-derive on every render pass.
package blocks

import (
	"fmt"
	"hash/fnv"
	"strings"
)

type Type string

const (
	TypeText Type = "text"
	TypeHTML Type = "html"
	TypeCode Type = "code"
)

// Meta carries per-block details. HasScript and UseSandbox are only
// meaningful for HTML blocks.
type Meta struct {
	// Lang is the normalized language tag for code blocks ("" if untagged).
	Lang string
	// RawInfo is the fence info string exactly as written, for round-trip
	// reserialization.
	RawInfo string
	// HasScript reports script elements, inline event handlers or
	// javascript: URLs. It informs the sandbox capability grant; sandboxing
	// itself is unconditional for HTML blocks.
	HasScript bool
	// UseSandbox is true for every HTML block.
	UseSandbox bool
}

// Segment 是解析结果的一段：散文或一个围栏块。ID 由类型、序号与内容哈希
// 决定，同样的输入总是得到同样的 ID，可见窗口据此复用沙箱实例。
type Segment struct {
	ID      string
	Type    Type
	Content string
	Meta    Meta
}

// aliasTable normalizes fence language tags to canonical names.
var aliasTable = map[string]string{
	"js":    "javascript",
	"jsx":   "javascript",
	"ts":    "javascript",
	"tsx":   "javascript",
	"htm":   "html",
	"xhtml": "html",
	"scss":  "css",
	"sass":  "css",
	"less":  "css",
	"md":    "markdown",
}

const fence = "```"

// Parse 将消息文本切分为有序段序列。畸形或未闭合的围栏不报错，
// 整段退化为散文（fail-open）。
func Parse(text string) []Segment {
	var segs []Segment
	lines := strings.Split(text, "\n")

	var prose []string
	flushProse := func() {
		if len(prose) == 0 {
			return
		}
		content := strings.Join(prose, "\n")
		segs = append(segs, newSegment(TypeText, content, Meta{}, len(segs)))
		prose = nil
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if !strings.HasPrefix(line, fence) {
			prose = append(prose, line)
			continue
		}

		info := strings.TrimSpace(strings.TrimPrefix(line, fence))
		closing := -1
		for j := i + 1; j < len(lines); j++ {
			if strings.TrimRight(lines[j], " \t") == fence {
				closing = j
				break
			}
		}
		if closing == -1 {
			// Unclosed fence: degrade to prose from here on.
			prose = append(prose, lines[i:]...)
			break
		}

		flushProse()
		inner := strings.Join(lines[i+1:closing], "\n")
		segs = append(segs, classify(info, inner, len(segs)))
		i = closing
	}
	flushProse()
	return segs
}

func classify(info, content string, ordinal int) Segment {
	tag := normalizeTag(info)
	switch {
	case tag == "html" || (tag == "" && SniffHTML(content)):
		meta := Meta{
			Lang:       "html",
			RawInfo:    info,
			HasScript:  HasScript(content),
			UseSandbox: true,
		}
		return newSegment(TypeHTML, content, meta, ordinal)
	default:
		return newSegment(TypeCode, content, Meta{Lang: tag, RawInfo: info}, ordinal)
	}
}

func normalizeTag(info string) string {
	tag := strings.ToLower(strings.TrimSpace(info))
	if fields := strings.Fields(tag); len(fields) > 0 {
		tag = fields[0]
	}
	if canonical, ok := aliasTable[tag]; ok {
		return canonical
	}
	return tag
}

func newSegment(typ Type, content string, meta Meta, ordinal int) Segment {
	h := fnv.New32a()
	h.Write([]byte(content))
	return Segment{
		ID:      fmt.Sprintf("%s:%d:%08x", typ, ordinal, h.Sum32()),
		Type:    typ,
		Content: content,
		Meta:    meta,
	}
}

// Reserialize 把段序列拼回文本。非 HTML 围栏段按字节还原（围栏边界的
// 行分隔除外，由段间换行承担）。
func Reserialize(segs []Segment) string {
	parts := make([]string, 0, len(segs))
	for _, seg := range segs {
		switch seg.Type {
		case TypeText:
			parts = append(parts, seg.Content)
		default:
			var b strings.Builder
			b.WriteString(fence)
			b.WriteString(seg.Meta.RawInfo)
			b.WriteString("\n")
			if seg.Content != "" {
				b.WriteString(seg.Content)
				b.WriteString("\n")
			}
			b.WriteString(fence)
			parts = append(parts, b.String())
		}
	}
	return strings.Join(parts, "\n")
}
