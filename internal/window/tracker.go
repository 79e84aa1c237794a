package window

import "sort"

// Extent 是一个已挂载楼层在转录内容中的行区间。
type Extent struct {
	Index  int
	Top    int
	Height int
}

// minVisibleRatio：楼层至少有一成落入视口才算相交（对应 10% 观察阈值）。
const minVisibleRatio = 0.10

// Tracker 观察已挂载楼层与视口的相交情况，维护实时阅读中心。
// 每次挂载集合变化都必须重新 Sync，换掉旧观察对象，避免泄漏。
type Tracker struct {
	extents map[int]Extent
}

func NewTracker() *Tracker {
	return &Tracker{extents: map[int]Extent{}}
}

// Sync 以当前挂载集合整体替换观察对象：新挂载的订阅，消失的退订。
func (t *Tracker) Sync(extents []Extent) {
	next := make(map[int]Extent, len(extents))
	for _, e := range extents {
		if e.Height <= 0 {
			continue
		}
		next[e.Index] = e
	}
	t.extents = next
}

// Observe 订阅单个楼层。
func (t *Tracker) Observe(e Extent) {
	if e.Height <= 0 {
		return
	}
	t.extents[e.Index] = e
}

// Unobserve 退订单个楼层。
func (t *Tracker) Unobserve(index int) {
	delete(t.extents, index)
}

// Observed 返回当前观察的楼层数。
func (t *Tracker) Observed() int {
	return len(t.extents)
}

// Intersecting 返回与视口行带 [viewTop, viewTop+viewHeight) 相交面积
// 不低于阈值的楼层索引，升序。
func (t *Tracker) Intersecting(viewTop, viewHeight int) []int {
	if viewHeight <= 0 {
		return nil
	}
	viewBottom := viewTop + viewHeight
	var out []int
	for _, e := range t.extents {
		top := e.Top
		if viewTop > top {
			top = viewTop
		}
		bottom := e.Top + e.Height
		if viewBottom < bottom {
			bottom = viewBottom
		}
		overlap := bottom - top
		if overlap <= 0 {
			continue
		}
		if float64(overlap) >= minVisibleRatio*float64(e.Height) {
			out = append(out, e.Index)
		}
	}
	sort.Ints(out)
	return out
}

// Center 返回相交楼层索引均值向下取整；无相交楼层时 ok 为 false。
func (t *Tracker) Center(viewTop, viewHeight int) (int, bool) {
	indices := t.Intersecting(viewTop, viewHeight)
	if len(indices) == 0 {
		return 0, false
	}
	sum := 0
	for _, i := range indices {
		sum += i
	}
	return sum / len(indices), true
}

// AtBottom 判断视口底边是否贴近内容底部（threshold 行以内），
// 即 Pinned 模式的进入条件。
func AtBottom(viewTop, viewHeight, contentHeight, threshold int) bool {
	if contentHeight <= viewHeight {
		return true
	}
	return contentHeight-(viewTop+viewHeight) <= threshold
}
