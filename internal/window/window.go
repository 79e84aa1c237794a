// Package window 计算转录视图的可见窗口：哪些楼层挂载富渲染，哪些只留占位。
package window

// Mode 是滚动跟随模式。
type Mode int

const (
	// ModePinned 吸底：窗口为最后 K 个索引，新楼层到达时自动跟随。
	ModePinned Mode = iota
	// ModeAnchored 锚定：窗口以当前阅读中心为圆心，不与用户争夺视口。
	ModeAnchored
)

func (m Mode) String() string {
	switch m {
	case ModePinned:
		return "pinned"
	case ModeAnchored:
		return "anchored"
	default:
		return "unknown"
	}
}

// FloorCount（Pinned 缓冲区大小）的运维可配边界。
const (
	MinFloorCount     = 3
	MaxFloorCount     = 50
	DefaultFloorCount = 10

	// anchorRadius 是 Anchored 模式下中心两侧各保留的楼层数。
	anchorRadius = 5
)

// ClampFloorCount 把配置值收拢到 [MinFloorCount, MaxFloorCount]；
// 非正值回落到默认值。
func ClampFloorCount(k int) int {
	switch {
	case k <= 0:
		return DefaultFloorCount
	case k < MinFloorCount:
		return MinFloorCount
	case k > MaxFloorCount:
		return MaxFloorCount
	default:
		return k
	}
}

// Window 是闭区间 [Start, End]。空窗口以 Start > End 表示。
type Window struct {
	Start int
	End   int
}

// Visible 判断索引是否落在窗口内。
func (w Window) Visible(i int) bool {
	return i >= w.Start && i <= w.End
}

// Compute 根据模式计算可见窗口。floorCount 由调用方在每次计算时从配置读出
// 并显式传入，绝不读隐藏全局；变更只影响下一次计算。
func Compute(n int, mode Mode, center, floorCount int) Window {
	if n <= 0 {
		return Window{Start: 0, End: -1}
	}
	switch mode {
	case ModeAnchored:
		w := Window{Start: center - anchorRadius, End: center + anchorRadius}
		if w.Start < 0 {
			w.Start = 0
		}
		if w.End > n-1 {
			w.End = n - 1
		}
		if w.Start > w.End {
			return Window{Start: 0, End: -1}
		}
		return w
	default:
		k := ClampFloorCount(floorCount)
		if k > n {
			k = n
		}
		return Window{Start: n - k, End: n - 1}
	}
}

// Flags 把窗口展开为逐索引的 visible 布尔表。
func Flags(n int, w Window) []bool {
	flags := make([]bool, n)
	for i := range flags {
		flags[i] = w.Visible(i)
	}
	return flags
}
