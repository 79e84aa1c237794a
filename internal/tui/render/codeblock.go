package render

import (
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
)

// renderCodeLines 高亮一段代码并附上语言标头。高亮失败时原样输出。
func renderCodeLines(lang, code string, width int) []Line {
	code = strings.TrimRight(code, "\n")
	out := []Line{}
	header := "```"
	if lang != "" {
		header += " " + lang
	}
	out = append(out, StaticLine(header, dimStyle))
	for _, raw := range strings.Split(highlightCode(code, lang), "\n") {
		out = append(out, Line{Spans: []Span{
			{Text: "  ", Style: dimStyle},
			{Text: raw},
		}})
	}
	return out
}

// highlightCode 用 chroma 做 256 色高亮。任何一步失败都回退为原文。
func highlightCode(code, lang string) string {
	lexer := lexers.Get(lang)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := chromaStyles.Get("monokai")
	if style == nil {
		style = chromaStyles.Fallback
	}
	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}
	var buf strings.Builder
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return code
	}
	return strings.TrimRight(buf.String(), "\n")
}
