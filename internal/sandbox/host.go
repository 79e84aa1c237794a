package sandbox

import (
	"fmt"
	"os"
	"sync"
	"time"

	"tavern-cli/internal/logger"
)

// State 是宿主生命周期状态。
type State int

const (
	// StateUnmounted 未挂载：块不可见，不占任何渲染资源。
	StateUnmounted State = iota
	// StateMounting 挂载中：文档已落盘，隔离渲染尚未回报尺寸。
	StateMounting
	// StateReady 就绪：已有渲染行与实测尺寸。
	StateReady
	// StateFailed 失败：文档无法装载，占位持续展示，不再重试。
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnmounted:
		return "unmounted"
	case StateMounting:
		return "mounting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Capabilities 是按内容最小授予的能力集。脚本能力只在片段确实含脚本
// 时授予；同源能力永不授予。
type Capabilities struct {
	Scripts bool
	Forms   bool
	Modals  bool
}

// GrantFor 依据片段是否含脚本计算授予。
func GrantFor(hasScript bool) Capabilities {
	return Capabilities{Scripts: hasScript, Forms: true, Modals: true}
}

// 隔离侧到宿主侧的消息类型。未识别的消息一律丢弃。
const (
	MessageHTMLDimensions = "htmlDimensions"
	MessageHTMLError      = "htmlError"
)

// Dimensions 是隔离渲染回报的实测尺寸。
type Dimensions struct {
	Type   string `json:"type"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// hostMessage 是隔离渲染发给宿主的唯一信道载荷。
type hostMessage struct {
	Type   string
	Dims   Dimensions
	Lines  []string
	Reason string
}

// Event 通知外层某个块的宿主状态或尺寸发生了变化。
type Event struct {
	BlockID string
}

// 占位高度比例与重测去抖。
const (
	aspectNum         = 9
	aspectDen         = 16
	minPlaceholder    = 3
	remeasureDebounce = 100 * time.Millisecond
)

// Host 托管一个 HTML 块的隔离渲染。宿主侧只持文档句柄与回报的行，
// 渲染在独立 goroutine 内进行，双方只经 hostMessage 信道沟通。
type Host struct {
	id     string
	caps   Capabilities
	notify func(Event)
	log    *logger.LogEntry

	mu       sync.Mutex
	state    State
	gen      int
	width    int
	docPath  string
	lines    []string
	dims     Dimensions
	haveDims bool
	debounce *time.Timer
}

// NewHost 创建未挂载的宿主。notify 可为 nil。
func NewHost(id, fragment string, caps Capabilities, notify func(Event)) (*Host, error) {
	f, err := os.CreateTemp("", "tavern-sandbox-*.html")
	if err != nil {
		return nil, fmt.Errorf("create sandbox document: %w", err)
	}
	if _, err := f.WriteString(WrapDocument(fragment)); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("write sandbox document: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("write sandbox document: %w", err)
	}
	return &Host{
		id:      id,
		caps:    caps,
		notify:  notify,
		log:     logger.Named("sandbox").WithField("block", id),
		state:   StateUnmounted,
		docPath: f.Name(),
	}, nil
}

// ID 返回块标识。
func (h *Host) ID() string { return h.id }

// State 返回当前状态。
func (h *Host) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// DocumentPath 返回落盘文档路径。Destroy 之后文件不复存在。
func (h *Host) DocumentPath() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.docPath
}

// Mount 以给定宽度挂载。已挂载时为幂等；失败态不再重试。
func (h *Host) Mount(width int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateUnmounted || h.docPath == "" {
		return
	}
	h.state = StateMounting
	h.width = width
	h.startRenderLocked()
}

// Resize 更新宽度。就绪或挂载中的宿主去抖后重测重报。
func (h *Host) Resize(width int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if width == h.width {
		return
	}
	h.width = width
	if h.state != StateReady && h.state != StateMounting {
		return
	}
	if h.debounce != nil {
		h.debounce.Stop()
	}
	gen := h.gen
	h.debounce = time.AfterFunc(remeasureDebounce, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.gen != gen || (h.state != StateReady && h.state != StateMounting) {
			return
		}
		h.startRenderLocked()
	})
}

// Unmount 卸下宿主并丢弃渲染结果。文档句柄保留，重新可见时从头重建。
func (h *Host) Unmount() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateUnmounted {
		return
	}
	h.gen++
	if h.debounce != nil {
		h.debounce.Stop()
		h.debounce = nil
	}
	h.state = StateUnmounted
	h.lines = nil
	h.haveDims = false
}

// Destroy 卸下宿主并释放文档句柄。
func (h *Host) Destroy() {
	h.Unmount()
	h.mu.Lock()
	path := h.docPath
	h.docPath = ""
	h.mu.Unlock()
	if path != "" {
		os.Remove(path)
	}
}

// PlaceholderHeight 给出挂载完成前的固定比例占位高度。
func PlaceholderHeight(width int) int {
	h := width * aspectNum / aspectDen
	if h < minPlaceholder {
		h = minPlaceholder
	}
	return h
}

// View 返回当前应展示的行。就绪返回实测行；挂载中返回占位；失败返回
// 持续占位；未挂载返回 nil。
func (h *Host) View(width int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.state {
	case StateReady:
		out := make([]string, len(h.lines))
		copy(out, h.lines)
		return out
	case StateMounting:
		lines := make([]string, PlaceholderHeight(width))
		lines[0] = "┆ loading embedded content…"
		return lines
	case StateFailed:
		return []string{"┆ embedded content failed to load"}
	}
	return nil
}

// MeasuredDimensions 返回实测尺寸。就绪前第二返回值为 false。
func (h *Host) MeasuredDimensions() (Dimensions, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dims, h.haveDims
}

// startRenderLocked 为当前代数起一轮隔离渲染。调用方持锁。
func (h *Host) startRenderLocked() {
	h.gen++
	gen := h.gen
	path := h.docPath
	caps := h.caps
	width := h.width

	ch := make(chan hostMessage, 1)
	go func() {
		lines, dims, err := renderDocument(path, caps, width)
		if err != nil {
			ch <- hostMessage{Type: MessageHTMLError, Reason: err.Error()}
		} else {
			ch <- hostMessage{Type: dims.Type, Dims: dims, Lines: lines}
		}
		close(ch)
	}()
	go h.receive(gen, ch)
}

// receive 消费隔离侧消息。过代数的结果直接丢弃；未识别类型忽略。
func (h *Host) receive(gen int, ch <-chan hostMessage) {
	for msg := range ch {
		h.mu.Lock()
		if h.gen != gen {
			h.mu.Unlock()
			continue
		}
		switch msg.Type {
		case MessageHTMLDimensions:
			h.state = StateReady
			h.lines = msg.Lines
			h.dims = msg.Dims
			h.haveDims = true
			h.log.WithField("w", msg.Dims.Width).WithField("h", msg.Dims.Height).Debug("sandbox content measured")
		case MessageHTMLError:
			h.state = StateFailed
			h.lines = nil
			h.haveDims = false
			h.log.WithField("reason", msg.Reason).Warn("sandbox content failed")
		default:
			h.mu.Unlock()
			continue
		}
		notify := h.notify
		id := h.id
		h.mu.Unlock()
		if notify != nil {
			notify(Event{BlockID: id})
		}
	}
}
