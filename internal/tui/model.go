package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"tavern-cli/internal/blocks"
	"tavern-cli/internal/chat"
	"tavern-cli/internal/conv"
	"tavern-cli/internal/sandbox"
	"tavern-cli/internal/tui/render"
	"tavern-cli/internal/tui/slash"
	"tavern-cli/internal/window"
)

// Options 装配 TUI。
type Options struct {
	Controller    *conv.Controller
	ConvEvents    <-chan conv.Event
	Pool          *sandbox.Pool
	SandboxEvents <-chan sandbox.Event
	Ping          func(ctx context.Context) error
	ServerURL     string
	FloorCount    int
	PromptHistory []string
	OnPromptSaved func(string)
}

type convEventMsg struct {
	Event conv.Event
}

type sandboxEventMsg struct {
	Event sandbox.Event
}

type sendDoneMsg struct {
	Err error
}

type conversationsMsg struct {
	Names []string
	Err   error
}

type switchDoneMsg struct {
	File string
	Err  error
}

type deleteDoneMsg struct {
	Deleted *chat.Message
	Err     error
}

type pingDoneMsg struct {
	Err error
}

type noticeMsg struct {
	Text string
}

// Model 是聊天界面的 Bubble Tea 模型。可见窗口、沙箱池与相交追踪
// 都在这里闭环：历史任意增长，渲染成本只随可见楼层数走。
type Model struct {
	ctrl   *conv.Controller
	pool   *sandbox.Pool
	ping   func(ctx context.Context) error
	server string

	convEvents    <-chan conv.Event
	sandboxEvents <-chan sandbox.Event

	textarea textarea.Model
	viewport render.Viewport
	picker   list.Model
	spin     spinner.Model
	palette  *slash.State
	status   *StatusIndicator
	history  promptHistory
	onPrompt func(string)

	tracker    *window.Tracker
	mode       window.Mode
	center     int
	floorCount int

	picking         bool
	notice          string
	width           int
	height          int
	transcriptDirty bool
}

// New 构造模型。
func New(opts Options) *Model {
	ti := textarea.New()
	ti.Placeholder = "说点什么…"
	ti.Prompt = "› "
	ti.CharLimit = 0
	ti.SetWidth(90)
	ti.SetHeight(1) // 默认单行，按需扩展
	ti.ShowLineNumbers = false
	ti.Focus()

	vp := render.NewViewport(90, 16)

	picker := list.New(nil, list.NewDefaultDelegate(), 40, 10)
	picker.Title = "切换会话"
	picker.SetShowStatusBar(false)
	picker.DisableQuitKeybindings()

	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4"))

	m := &Model{
		ctrl:            opts.Controller,
		pool:            opts.Pool,
		ping:            opts.Ping,
		server:          opts.ServerURL,
		convEvents:      opts.ConvEvents,
		sandboxEvents:   opts.SandboxEvents,
		textarea:        ti,
		viewport:        vp,
		picker:          picker,
		spin:            spin,
		palette:         slash.NewState(),
		status:          NewStatusIndicator(),
		onPrompt:        opts.OnPromptSaved,
		tracker:         window.NewTracker(),
		mode:            window.ModePinned,
		floorCount:      window.ClampFloorCount(opts.FloorCount),
		width:           90,
		height:          24,
		transcriptDirty: true,
	}
	m.history.Set(opts.PromptHistory)
	m.status.SetConnected(opts.Controller != nil && opts.Controller.Connected())
	return m
}

func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spin.Tick}
	cmds = append(cmds, m.listenQueues()...)
	return tea.Batch(cmds...)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m.finish(cmds...)

	case convEventMsg:
		m.handleConvEvent(msg.Event)
		cmds = append(cmds, m.listenConv())
		return m.finish(cmds...)

	case sandboxEventMsg:
		// 尺寸或状态有变，重渲染即可；未知块号无事发生。
		m.transcriptDirty = true
		cmds = append(cmds, m.listenSandbox())
		return m.finish(cmds...)

	case sendDoneMsg:
		if msg.Err != nil {
			m.status.SetError(msg.Err.Error())
		}
		m.syncSending()
		return m.finish(cmds...)

	case conversationsMsg:
		if msg.Err != nil {
			m.status.SetError(msg.Err.Error())
			return m.finish(cmds...)
		}
		items := make([]list.Item, 0, len(msg.Names))
		for _, name := range msg.Names {
			items = append(items, listItem(name))
		}
		m.picker.SetItems(items)
		m.picking = true
		return m.finish(cmds...)

	case switchDoneMsg:
		if msg.Err != nil {
			m.status.SetError(msg.Err.Error())
			return m.finish(cmds...)
		}
		m.notice = fmt.Sprintf("已切换到 %s", msg.File)
		m.mode = window.ModePinned
		m.transcriptDirty = true
		return m.finish(cmds...)

	case deleteDoneMsg:
		if msg.Err != nil {
			m.status.SetError(msg.Err.Error())
			return m.finish(cmds...)
		}
		if msg.Deleted != nil {
			m.notice = fmt.Sprintf("已删除一条 %s 消息", msg.Deleted.Role)
		} else {
			m.notice = "已删除"
		}
		return m.finish(cmds...)

	case pingDoneMsg:
		if msg.Err != nil {
			m.status.SetError("ping 失败: " + msg.Err.Error())
		} else {
			m.notice = "后端在线"
		}
		return m.finish(cmds...)

	case noticeMsg:
		m.notice = msg.Text
		return m.finish(cmds...)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		cmds = append(cmds, cmd)
		return m.finish(cmds...)

	case tea.MouseMsg:
		if cmd := m.viewport.HandleUpdate(msg); cmd != nil {
			cmds = append(cmds, cmd)
		}
		m.afterScroll()
		return m.finish(cmds...)

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	m.palette.SyncInput(m.textarea.Value())
	m.setComposerHeight()
	cmds = append(cmds, cmd)
	return m.finish(cmds...)
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	if m.picking {
		var cmd tea.Cmd
		m.picker, cmd = m.picker.Update(msg)
		if cmd != nil {
			cmds = append(cmds, cmd)
		}
		switch msg.String() {
		case "enter":
			if sel, ok := m.picker.SelectedItem().(listItem); ok {
				m.picking = false
				cmds = append(cmds, m.switchConversation(string(sel)))
			}
		case "esc", "ctrl+c":
			m.picking = false
		}
		return m.finish(cmds...)
	}

	if m.palette.Open() {
		switch msg.String() {
		case "up":
			m.palette.MoveSelection(-1)
			return m.finish(cmds...)
		case "down":
			m.palette.MoveSelection(1)
			return m.finish(cmds...)
		case "tab":
			if item, ok := m.palette.Selected(); ok {
				m.textarea.SetValue(item.DisplayName() + " ")
				m.textarea.CursorEnd()
				m.palette.SyncInput(m.textarea.Value())
			}
			return m.finish(cmds...)
		case "esc":
			m.palette.Close()
			return m.finish(cmds...)
		}
	}

	if cmd, handled := m.handleScrollKeys(msg); handled {
		if cmd != nil {
			cmds = append(cmds, cmd)
		}
		m.afterScroll()
		return m.finish(cmds...)
	}

	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "ctrl+y":
		m.copyLastAssistant()
		return m.finish(cmds...)
	case "up":
		if m.textareaAtTop() {
			if text, ok := m.history.Prev(m.textarea.Value()); ok {
				m.textarea.SetValue(text)
				m.textarea.CursorEnd()
				m.palette.SyncInput(m.textarea.Value())
			}
			return m.finish(cmds...)
		}
	case "down":
		if m.textareaAtBottom() && m.history.Browsing() {
			if text, ok := m.history.Next(); ok {
				m.textarea.SetValue(text)
				m.textarea.CursorEnd()
				m.palette.SyncInput(m.textarea.Value())
			}
			return m.finish(cmds...)
		}
	case "enter":
		if msg.Alt {
			break
		}
		if item, ok := m.palette.Selected(); ok && m.palette.Open() {
			value := strings.TrimSpace(m.textarea.Value())
			// 选中项与输入不完全一致时先补全，不直接执行。
			if !strings.EqualFold(value, item.DisplayName()) {
				m.textarea.SetValue(item.DisplayName())
				m.textarea.CursorEnd()
				m.palette.SyncInput(m.textarea.Value())
				return m.finish(cmds...)
			}
		}
		input := strings.TrimSpace(m.textarea.Value())
		if input == "" {
			return m.finish(cmds...)
		}
		if cmd, handled := m.handleSlash(input); handled {
			m.textarea.Reset()
			m.palette.Close()
			m.history.ResetBrowsing()
			m.setComposerHeight()
			if cmd != nil {
				cmds = append(cmds, cmd)
			}
			return m.finish(cmds...)
		}
		if m.ctrl != nil && m.ctrl.Sending() {
			m.notice = "上一条还在发送中"
			return m.finish(cmds...)
		}
		m.history.Add(input)
		if m.onPrompt != nil {
			m.onPrompt(input)
		}
		m.textarea.Reset()
		m.palette.Close()
		m.setComposerHeight()
		m.notice = ""
		m.status.SetError("")
		m.mode = window.ModePinned
		cmds = append(cmds, m.sendCmd(input))
		m.status.SetSending(true)
		return m.finish(cmds...)
	}

	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	m.palette.SyncInput(m.textarea.Value())
	m.setComposerHeight()
	cmds = append(cmds, cmd)
	return m.finish(cmds...)
}

func (m *Model) finish(cmds ...tea.Cmd) (tea.Model, tea.Cmd) {
	m.syncSending()
	if m.transcriptDirty {
		m.recomputeWindow()
		m.transcriptDirty = false
	}
	return m, tea.Batch(cmds...)
}

// recomputeWindow 是渲染闭环：贴底钉住尾部 K 楼，离底锚定视野中心，
// 可见集之外的楼层折叠为占位；沙箱池同步到当前可见 HTML 块。
func (m *Model) recomputeWindow() {
	if m.ctrl == nil {
		return
	}
	msgs := m.ctrl.Messages()
	n := len(msgs)

	if window.AtBottom(m.viewport.YOffset, m.viewport.Height, m.viewport.ContentHeight(), 2) {
		m.mode = window.ModePinned
	} else if center, ok := m.tracker.Center(m.viewport.YOffset, m.viewport.Height); ok {
		m.mode = window.ModeAnchored
		m.center = center
	}

	win := window.Compute(n, m.mode, m.center, m.floorCount)
	flags := window.Flags(n, win)

	var htmlView render.HTMLView
	if m.pool != nil {
		m.pool.Sync(m.htmlWidth(), visibleHTMLBlocks(msgs, flags))
		htmlView = func(blockID string, width int) []string {
			return m.pool.View(blockID, width)
		}
	}

	lines, extents := render.RenderTranscript(msgs, flags, m.viewport.Width, htmlView)
	if n == 0 {
		lines = []string{statusDimStyle.Render("新会话。输入消息开始，/ 查看命令。")}
	}
	m.viewport.SetLines(lines)
	m.tracker.Sync(extents)
	if m.mode == window.ModePinned {
		m.viewport.GotoBottom()
	}
}

// visibleHTMLBlocks 收集可见楼层里的 HTML 块，决定哪些沙箱实例该活着。
func visibleHTMLBlocks(msgs []chat.Message, flags []bool) []sandbox.Spec {
	specs := []sandbox.Spec{}
	for i, msg := range msgs {
		if msg.Role != chat.RoleAssistant || i >= len(flags) || !flags[i] {
			continue
		}
		for _, seg := range blocks.Parse(msg.Content) {
			if seg.Type != blocks.TypeHTML {
				continue
			}
			specs = append(specs, sandbox.Spec{
				ID:        seg.ID,
				Fragment:  seg.Content,
				HasScript: seg.Meta.HasScript,
			})
		}
	}
	return specs
}

func (m *Model) htmlWidth() int {
	w := m.viewport.Width - 4
	if w < 8 {
		w = 8
	}
	return w
}

// afterScroll 在滚动后更新窗口模式：离底即锚定当前视野中心。
func (m *Model) afterScroll() {
	if window.AtBottom(m.viewport.YOffset, m.viewport.Height, m.viewport.ContentHeight(), 2) {
		m.mode = window.ModePinned
	} else if center, ok := m.tracker.Center(m.viewport.YOffset, m.viewport.Height); ok {
		m.mode = window.ModeAnchored
		m.center = center
	}
	m.transcriptDirty = true
}

func (m *Model) handleConvEvent(ev conv.Event) {
	switch ev.Kind {
	case conv.EventHistory:
		m.transcriptDirty = true
	case conv.EventChannel:
		m.status.SetConnected(ev.Connected)
		if ev.Connected {
			m.notice = "持久通道已建立"
		} else {
			m.notice = "通道断开，自动走回退请求"
		}
	}
	m.syncSending()
}

func (m *Model) syncSending() {
	if m.ctrl == nil {
		return
	}
	m.status.SetSending(m.ctrl.Sending())
	if m.ctrl.Sending() {
		m.textarea.Blur()
	} else if !m.picking {
		m.textarea.Focus()
	}
}

func (m *Model) sendCmd(text string) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		return sendDoneMsg{Err: ctrl.Send(ctx, text)}
	}
}

func (m *Model) switchConversation(file string) tea.Cmd {
	ctrl := m.ctrl
	pool := m.pool
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := ctrl.SwitchConversation(ctx, file); err != nil {
			return switchDoneMsg{File: file, Err: err}
		}
		// 旧会话的沙箱实例全部销毁，新会话从头重建。
		if pool != nil {
			pool.Close()
		}
		return switchDoneMsg{File: file}
	}
}

func (m *Model) handleSlash(input string) (tea.Cmd, bool) {
	cmd, args, ok := m.palette.Resolve(input)
	if !ok {
		if strings.HasPrefix(input, "/") {
			m.status.SetError("不认识的命令，输入 / 查看列表")
			return nil, true
		}
		return nil, false
	}
	switch cmd {
	case slash.CommandQuit, slash.CommandExit:
		return tea.Quit, true
	case slash.CommandClear:
		m.ctrl.ClearLocal()
		m.tracker = window.NewTracker()
		if m.pool != nil {
			m.pool.Close()
		}
		m.mode = window.ModePinned
		m.transcriptDirty = true
		return nil, true
	case slash.CommandStatus:
		state := "fallback"
		if m.ctrl.Connected() {
			state = "channel"
		}
		m.notice = fmt.Sprintf("server=%s conversation=%s transport=%s floors=%d",
			m.server, m.ctrl.ConversationFile(), state, m.floorCount)
		return nil, true
	case slash.CommandFloors:
		if len(args) == 0 {
			m.notice = fmt.Sprintf("floors=%d（用法 /floors <3..50>）", m.floorCount)
			return nil, true
		}
		k, err := strconv.Atoi(args[0])
		if err != nil {
			m.status.SetError("用法: /floors <数量>")
			return nil, true
		}
		m.floorCount = window.ClampFloorCount(k)
		m.notice = fmt.Sprintf("贴底保留 %d 楼", m.floorCount)
		m.transcriptDirty = true
		return nil, true
	case slash.CommandConversations:
		ctrl := m.ctrl
		return func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			names, err := ctrl.Conversations(ctx)
			return conversationsMsg{Names: names, Err: err}
		}, true
	case slash.CommandDelete:
		if len(args) == 0 {
			m.status.SetError("用法: /delete <楼层号>")
			return nil, true
		}
		floor, err := strconv.Atoi(args[0])
		if err != nil || floor < 1 {
			m.status.SetError("楼层号从 1 开始")
			return nil, true
		}
		ctrl := m.ctrl
		return func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			deleted, err := ctrl.Delete(ctx, floor-1)
			return deleteDoneMsg{Deleted: deleted, Err: err}
		}, true
	case slash.CommandPing:
		ping := m.ping
		if ping == nil {
			m.notice = "ping 不可用"
			return nil, true
		}
		return func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return pingDoneMsg{Err: ping(ctx)}
		}, true
	}
	return nil, true
}

func (m *Model) copyLastAssistant() {
	if m.ctrl == nil {
		return
	}
	msgs := m.ctrl.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == chat.RoleAssistant {
			if err := clipboard.WriteAll(msgs[i].Content); err != nil {
				m.status.SetError("复制失败: " + err.Error())
			} else {
				m.notice = "已复制最近一条回复"
			}
			return
		}
	}
	m.notice = "还没有可复制的回复"
}

func (m *Model) listenConv() tea.Cmd {
	if m.convEvents == nil {
		return nil
	}
	ch := m.convEvents
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return convEventMsg{Event: ev}
	}
}

func (m *Model) listenSandbox() tea.Cmd {
	if m.sandboxEvents == nil {
		return nil
	}
	ch := m.sandboxEvents
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return sandboxEventMsg{Event: ev}
	}
}

func (m *Model) listenQueues() []tea.Cmd {
	cmds := []tea.Cmd{}
	if cmd := m.listenConv(); cmd != nil {
		cmds = append(cmds, cmd)
	}
	if cmd := m.listenSandbox(); cmd != nil {
		cmds = append(cmds, cmd)
	}
	return cmds
}

func (m *Model) handleScrollKeys(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch msg.Type {
	case tea.KeyPgUp:
		m.viewport.PageUp()
		return nil, true
	case tea.KeyPgDown:
		m.viewport.PageDown()
		return nil, true
	case tea.KeyHome:
		m.viewport.GotoTop()
		return nil, true
	case tea.KeyEnd:
		m.viewport.GotoBottom()
		m.mode = window.ModePinned
		return nil, true
	case tea.KeyUp:
		if msg.Alt {
			m.viewport.ScrollUp(1)
			return nil, true
		}
	case tea.KeyDown:
		if msg.Alt {
			m.viewport.ScrollDown(1)
			return nil, true
		}
	}
	return nil, false
}

func (m *Model) textareaAtTop() bool {
	return m.textarea.Line() == 0 && m.textarea.LineInfo().RowOffset == 0
}

func (m *Model) textareaAtBottom() bool {
	lastLine := m.textarea.LineCount() - 1
	if lastLine < 0 {
		lastLine = 0
	}
	info := m.textarea.LineInfo()
	if info.Height < 1 {
		info.Height = 1
	}
	return m.textarea.Line() >= lastLine && info.RowOffset >= info.Height-1
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	composerHeight := m.textarea.Height() + 2
	bannerHeight := 3
	statusHeight := 1
	hintsHeight := 1
	viewHeight := height - composerHeight - bannerHeight - statusHeight - hintsHeight - 2
	if viewHeight < 4 {
		viewHeight = 4
	}
	m.viewport.Resize(width, viewHeight)
	m.textarea.SetWidth(width - 2)
	m.picker.SetSize(minInt(width-4, 60), minInt(height-6, 14))
	m.transcriptDirty = true
}

func (m *Model) setComposerHeight() {
	lines := strings.Count(m.textarea.Value(), "\n") + 1
	if lines < 1 {
		lines = 1
	}
	if lines > 6 {
		lines = 6
	}
	if m.textarea.Height() != lines {
		m.textarea.SetHeight(lines)
		if m.width > 0 && m.height > 0 {
			m.resize(m.width, m.height)
		}
	}
}

func (m *Model) View() string {
	banner := renderBanner(m.server, m.conversationName(), m.width)
	chatPane := renderPane(m.viewport.View(), m.width)
	composer := renderPane(m.textarea.View(), m.width)
	status := m.status.View(m.width, m.spin.View(), m.conversationName())
	bottom := m.notice
	if bottom == "" {
		bottom = "Enter 发送 • Alt+↑/↓ 滚动 • PgUp/PgDn 翻页 • Ctrl+Y 复制回复 • / 命令 • Ctrl+C 退出"
	}
	hints := statusDimStyle.Padding(0, 1).Width(maxInt(20, m.width)).Render(bottom)
	content := lipgloss.JoinVertical(lipgloss.Left, banner, chatPane, composer, status, hints)

	if m.picking {
		return lipgloss.JoinVertical(lipgloss.Left, content, modalStyle.Render(m.picker.View()))
	}
	if m.palette.Open() {
		return lipgloss.JoinVertical(lipgloss.Left, content, modalStyle.Render(m.palette.View(minInt(m.width-4, 64))))
	}
	return content
}

func (m *Model) conversationName() string {
	if m.ctrl == nil {
		return ""
	}
	return m.ctrl.ConversationFile()
}

func renderBanner(server, conversation string, width int) string {
	left := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4")).Render(">_ tavern")
	info := []string{server}
	if conversation != "" {
		info = append(info, conversation)
	}
	right := statusDimStyle.Render(strings.Join(info, " • "))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#7D56F4")).
		Padding(0, 1).
		Width(maxInt(40, width)).
		Render(lipgloss.JoinHorizontal(lipgloss.Top, left, lipgloss.NewStyle().PaddingLeft(2).Render(right)))
}

func renderPane(body string, width int) string {
	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#5E6472")).
		Padding(0, 1)
	if width > 0 {
		style = style.Width(width)
	}
	return style.Render(body)
}

var modalStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	Padding(1).
	BorderForeground(lipgloss.Color("#FFB454")).
	Background(lipgloss.Color("#1F1D2B"))

type listItem string

func (i listItem) FilterValue() string { return string(i) }
func (i listItem) Title() string       { return string(i) }
func (i listItem) Description() string { return "" }

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
