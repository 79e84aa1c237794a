package sandbox

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/mattn/go-runewidth"
	"golang.org/x/net/html"
)

var fullDocumentRe = regexp.MustCompile(`(?is)^\s*(<!doctype\s+html|<html[\s>])`)

// WrapDocument wraps a bare fragment in a minimal full document. Content
// that already is a full document passes through untouched.
func WrapDocument(fragment string) string {
	if fullDocumentRe.MatchString(fragment) {
		return fragment
	}
	return "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"></head><body>\n" +
		fragment +
		"\n</body></html>"
}

// renderDocument is the isolated side of the host. It receives only the
// document path, the capability grant and a target width, never a handle to
// host state, and produces plain text lines plus its own measured size.
func renderDocument(path string, caps Capabilities, width int) ([]string, Dimensions, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, Dimensions{}, fmt.Errorf("load document: %w", err)
	}
	root, err := html.Parse(strings.NewReader(string(raw)))
	if err != nil {
		return nil, Dimensions{}, fmt.Errorf("parse document: %w", err)
	}

	var r docRenderer
	r.caps = caps
	r.walk(root)
	r.flush()

	if width < 1 {
		width = 1
	}
	var lines []string
	for _, line := range r.lines {
		lines = append(lines, wrapToWidth(line, width)...)
	}
	if len(lines) == 0 {
		lines = []string{""}
	}

	measured := 0
	for _, line := range lines {
		if w := runewidth.StringWidth(line); w > measured {
			measured = w
		}
	}
	dims := Dimensions{Type: MessageHTMLDimensions, Width: measured, Height: len(lines)}
	return lines, dims, nil
}

type docRenderer struct {
	caps    Capabilities
	lines   []string
	current strings.Builder
}

var blockElements = map[string]struct{}{
	"html": {}, "head": {}, "body": {}, "div": {}, "p": {}, "section": {},
	"article": {}, "header": {}, "footer": {}, "ul": {}, "ol": {}, "li": {},
	"table": {}, "tr": {}, "form": {}, "blockquote": {}, "pre": {},
	"h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {},
}

func (r *docRenderer) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		text := strings.Join(strings.Fields(n.Data), " ")
		if text != "" {
			if r.current.Len() > 0 {
				r.current.WriteString(" ")
			}
			r.current.WriteString(text)
		}
		return
	case html.ElementNode:
		name := strings.ToLower(n.Data)
		switch name {
		case "style", "title":
			return
		case "script":
			// Scripts never execute in the isolated renderer; the grant only
			// controls whether their presence is surfaced.
			if r.caps.Scripts {
				r.flush()
				r.lines = append(r.lines, "‹script›")
			}
			return
		case "br":
			r.flush()
			return
		case "img":
			alt := attr(n, "alt")
			if alt == "" {
				alt = "image"
			}
			r.append("[" + alt + "]")
			return
		case "input", "button", "select", "textarea":
			if !r.caps.Forms {
				return
			}
			label := attr(n, "value")
			if label == "" {
				label = attr(n, "placeholder")
			}
			if label == "" {
				label = name
			}
			r.append("[" + label + "]")
			if name == "input" || name == "select" {
				return
			}
		case "li":
			r.flush()
			r.append("•")
		case "a":
			// Text plus target, rendered after children below.
		}

		_, isBlock := blockElements[name]
		if isBlock {
			r.flush()
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			r.walk(c)
		}
		if name == "a" {
			if href := attr(n, "href"); href != "" && !strings.HasPrefix(strings.ToLower(href), "javascript:") {
				r.append("(" + href + ")")
			}
		}
		if isBlock {
			r.flush()
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		r.walk(c)
	}
}

func (r *docRenderer) append(text string) {
	if r.current.Len() > 0 {
		r.current.WriteString(" ")
	}
	r.current.WriteString(text)
}

func (r *docRenderer) flush() {
	line := strings.TrimRight(r.current.String(), " ")
	r.current.Reset()
	if line == "" {
		return
	}
	r.lines = append(r.lines, line)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func wrapToWidth(line string, width int) []string {
	if runewidth.StringWidth(line) <= width {
		return []string{line}
	}
	var out []string
	var current strings.Builder
	w := 0
	for _, word := range strings.Fields(line) {
		ww := runewidth.StringWidth(word)
		switch {
		case w == 0:
			current.WriteString(word)
			w = ww
		case w+1+ww <= width:
			current.WriteString(" ")
			current.WriteString(word)
			w += 1 + ww
		default:
			out = append(out, current.String())
			current.Reset()
			current.WriteString(word)
			w = ww
		}
	}
	if current.Len() > 0 {
		out = append(out, current.String())
	}
	if len(out) == 0 {
		return []string{line}
	}
	return out
}
