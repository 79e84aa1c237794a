package blocks

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// blockLevelTags are the tag names whose presence classifies untagged fenced
// content as HTML even without full document structure.
var blockLevelTags = map[string]struct{}{
	"head": {}, "body": {}, "div": {}, "span": {}, "p": {},
	"h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {},
	"ul": {}, "ol": {}, "li": {}, "table": {}, "tr": {}, "td": {},
	"form": {}, "input": {}, "script": {}, "style": {},
}

var (
	doctypeRe    = regexp.MustCompile(`(?is)^\s*<!doctype\s+html`)
	htmlRootRe   = regexp.MustCompile(`(?is)^\s*<html[\s>]`)
	genericTagRe = regexp.MustCompile(`(?s)</?[a-zA-Z][a-zA-Z0-9-]*(\s[^>]*)?/?>`)
	bareTagRe    = regexp.MustCompile(`(?i)</?([a-zA-Z][a-zA-Z0-9]*)\b`)
)

// SniffHTML reports whether untagged fenced content should be classified as
// HTML: a doctype or <html> root, any generic tag syntax, or a known
// block-level tag name (the latter catches truncated markup the generic
// pattern rejects).
func SniffHTML(content string) bool {
	if doctypeRe.MatchString(content) || htmlRootRe.MatchString(content) {
		return true
	}
	if genericTagRe.MatchString(content) {
		return true
	}
	for _, match := range bareTagRe.FindAllStringSubmatch(content, -1) {
		if _, known := blockLevelTags[strings.ToLower(match[1])]; known {
			return true
		}
	}
	return false
}

// HasScript reports whether HTML content carries executable payload: a
// <script> element, an inline event-handler attribute, or a javascript: URL.
// Tokenization errors fail open to "no script"; the flag only widens the
// sandbox capability grant and never gates sandboxing itself.
func HasScript(content string) bool {
	tok := html.NewTokenizer(strings.NewReader(content))
	for {
		switch tok.Next() {
		case html.ErrorToken:
			return false
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := tok.TagName()
			if strings.EqualFold(string(name), "script") {
				return true
			}
			for hasAttr {
				var key, val []byte
				key, val, hasAttr = tok.TagAttr()
				k := strings.ToLower(string(key))
				if strings.HasPrefix(k, "on") && len(k) > 2 {
					return true
				}
				v := strings.TrimSpace(strings.ToLower(string(val)))
				if strings.HasPrefix(v, "javascript:") {
					return true
				}
			}
		}
	}
}
