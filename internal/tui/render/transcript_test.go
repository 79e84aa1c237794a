package render

import (
	"regexp"
	"strings"
	"testing"

	"tavern-cli/internal/chat"
)

var ansiRe = regexp.MustCompile("\x1b\\[[0-9;]*[A-Za-z]")

func stripANSI(lines []string) string {
	return ansiRe.ReplaceAllString(strings.Join(lines, "\n"), "")
}

func TestRenderTranscriptExtents(t *testing.T) {
	msgs := []chat.Message{
		{Role: chat.RoleUser, Content: "a"},
		{Role: chat.RoleUser, Content: "b"},
		{Role: chat.RoleUser, Content: "c"},
	}
	lines, extents := RenderTranscript(msgs, []bool{true, true, true}, 40, nil)

	if len(lines) != 5 {
		t.Fatalf("lines=%d want 5 (three floors plus two separators)", len(lines))
	}
	want := []struct{ top, height int }{{0, 1}, {2, 1}, {4, 1}}
	for i, w := range want {
		if extents[i].Index != i || extents[i].Top != w.top || extents[i].Height != w.height {
			t.Fatalf("extent[%d]=%+v want top=%d height=%d", i, extents[i], w.top, w.height)
		}
	}
}

func TestRenderTranscriptHiddenFloorKeepsNumbering(t *testing.T) {
	msgs := []chat.Message{
		{Role: chat.RoleUser, Content: "first"},
		{Role: chat.RoleUser, Content: "second"},
		{Role: chat.RoleUser, Content: "third"},
	}
	lines, extents := RenderTranscript(msgs, []bool{true, false, true}, 40, nil)
	text := stripANSI(lines)

	if !strings.Contains(text, "#2") {
		t.Fatalf("placeholder ordinal missing:\n%s", text)
	}
	if strings.Contains(text, "second") {
		t.Fatalf("hidden floor content leaked:\n%s", text)
	}
	if extents[1].Height != 1 {
		t.Fatalf("placeholder height=%d want 1", extents[1].Height)
	}
	if len(extents) != 3 {
		t.Fatalf("every floor needs an extent, got %d", len(extents))
	}
}

func TestRenderTranscriptErrorAnnotation(t *testing.T) {
	msgs := []chat.Message{
		{Role: chat.RoleUser, Content: "hi", Error: "rate limited"},
	}
	lines, extents := RenderTranscript(msgs, []bool{true}, 40, nil)
	text := stripANSI(lines)

	if !strings.Contains(text, "hi") || !strings.Contains(text, "✗ rate limited") {
		t.Fatalf("annotation missing:\n%s", text)
	}
	if extents[0].Height != 2 {
		t.Fatalf("extent height=%d want 2", extents[0].Height)
	}
}

func TestRenderTranscriptHTMLBlockUsesInjectedView(t *testing.T) {
	msgs := []chat.Message{
		{Role: chat.RoleAssistant, Content: "```html\n<div>card</div>\n```"},
	}
	var gotID string
	var gotWidth int
	htmlView := func(blockID string, width int) []string {
		gotID = blockID
		gotWidth = width
		return []string{"EMBED-ONE", "EMBED-TWO"}
	}
	lines, _ := RenderTranscript(msgs, []bool{true}, 40, htmlView)
	text := stripANSI(lines)

	if !strings.Contains(text, "EMBED-ONE") || !strings.Contains(text, "EMBED-TWO") {
		t.Fatalf("injected view missing:\n%s", text)
	}
	if strings.Contains(text, "<div>") {
		t.Fatalf("raw markup leaked:\n%s", text)
	}
	if gotID == "" {
		t.Fatalf("block id not passed through")
	}
	if gotWidth != 36 {
		t.Fatalf("html width=%d want 36", gotWidth)
	}
}

func TestRenderTranscriptHTMLBlockWithoutView(t *testing.T) {
	msgs := []chat.Message{
		{Role: chat.RoleAssistant, Content: "```html\n<p>x</p>\n```"},
	}
	lines, _ := RenderTranscript(msgs, []bool{true}, 40, nil)
	if !strings.Contains(stripANSI(lines), "[embedded content]") {
		t.Fatalf("fallback marker missing:\n%s", stripANSI(lines))
	}
}

func TestRenderTranscriptCodeBlock(t *testing.T) {
	msgs := []chat.Message{
		{Role: chat.RoleAssistant, Content: "```go\nfmt.Println(1)\n```"},
	}
	lines, _ := RenderTranscript(msgs, []bool{true}, 60, nil)
	text := stripANSI(lines)

	if !strings.Contains(text, "``` go") {
		t.Fatalf("code header missing:\n%s", text)
	}
	if !strings.Contains(text, "fmt.Println(1)") {
		t.Fatalf("code body missing:\n%s", text)
	}
}

func TestRenderTranscriptProse(t *testing.T) {
	msgs := []chat.Message{
		{Role: chat.RoleAssistant, Content: "plain **bold** words"},
	}
	lines, _ := RenderTranscript(msgs, []bool{true}, 60, nil)
	if !strings.Contains(stripANSI(lines), "bold") {
		t.Fatalf("prose missing:\n%s", stripANSI(lines))
	}
}

func TestRenderTranscriptStreamingCursor(t *testing.T) {
	msgs := []chat.Message{
		{Role: chat.RoleAssistant, Content: "partial answer", Streaming: true},
	}
	lines, _ := RenderTranscript(msgs, []bool{true}, 60, nil)
	if !strings.Contains(stripANSI(lines), "▌") {
		t.Fatalf("streaming cursor missing:\n%s", stripANSI(lines))
	}
}
