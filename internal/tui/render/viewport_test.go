package render

import "testing"

func TestViewportSetLinesKeepsBottom(t *testing.T) {
	vp := NewViewport(10, 2)
	vp.SetLines([]string{"a", "b"})
	vp.GotoBottom()

	vp.SetLines([]string{"a", "b", "c"})
	if !vp.AtBottom() {
		t.Fatalf("viewport should stay anchored at bottom after append")
	}
}

func TestViewportScrolledUpStaysPut(t *testing.T) {
	vp := NewViewport(10, 2)
	vp.SetLines([]string{"a", "b", "c", "d"})
	vp.SetYOffset(0)

	vp.SetLines([]string{"a", "b", "c", "d", "e"})
	if vp.YOffset != 0 {
		t.Fatalf("YOffset=%d, scrolled-up viewport must not jump", vp.YOffset)
	}
	if vp.AtBottom() {
		t.Fatalf("viewport should not be at bottom")
	}
}

func TestViewportContentHeight(t *testing.T) {
	vp := NewViewport(10, 2)
	vp.SetLines([]string{"a", "b", "c"})
	if vp.ContentHeight() != 3 {
		t.Fatalf("ContentHeight=%d want 3", vp.ContentHeight())
	}

	vp.Resize(8, 2)
	vp.SetLines([]string{"a", "b", "c"})
	if vp.ContentHeight() != 3 {
		t.Fatalf("ContentHeight=%d after resize", vp.ContentHeight())
	}
}
