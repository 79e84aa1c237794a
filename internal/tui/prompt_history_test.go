package tui

import "testing"

func TestPromptHistoryBrowse(t *testing.T) {
	t.Parallel()

	var h promptHistory
	h.Set([]string{"one", "two"})

	got, ok := h.Prev("draft")
	if !ok || got != "two" {
		t.Fatalf("Prev=%q %v", got, ok)
	}
	got, _ = h.Prev(got)
	if got != "one" {
		t.Fatalf("Prev=%q want one", got)
	}
	// 到头后停在最旧一条。
	got, _ = h.Prev(got)
	if got != "one" {
		t.Fatalf("Prev past start=%q", got)
	}

	got, _ = h.Next()
	if got != "two" {
		t.Fatalf("Next=%q want two", got)
	}
	got, ok = h.Next()
	if !ok || got != "draft" {
		t.Fatalf("Next back to draft=%q %v", got, ok)
	}
	if h.Browsing() {
		t.Fatalf("still browsing after returning to draft")
	}
}

func TestPromptHistoryDedupeAndCap(t *testing.T) {
	t.Parallel()

	var h promptHistory
	h.Add("same")
	h.Add("same")
	if len(h.entries) != 1 {
		t.Fatalf("consecutive duplicates stored: %d", len(h.entries))
	}
	h.Add("   ")
	if len(h.entries) != 1 {
		t.Fatalf("blank input stored")
	}

	for i := 0; i < promptHistoryCap+50; i++ {
		h.Add(string(rune('a'+i%26)) + "-" + string(rune('0'+i%10)))
	}
	if len(h.entries) > promptHistoryCap {
		t.Fatalf("entries=%d exceeds cap", len(h.entries))
	}
}
