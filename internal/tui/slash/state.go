package slash

import (
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
)

// State 维护 slash 弹窗的匹配与选择状态。输入首行以 "/" 开头即打开，
// 匹配键随输入即时用模糊检索重排。
type State struct {
	items    []Item
	matches  []match
	selected int
	open     bool
	maxLines int
}

type match struct {
	item       Item
	highlights []int
	score      int
}

// NewState 构造 slash 状态机。
func NewState() *State {
	return &State{items: builtinItems(), maxLines: 8}
}

// Open 返回弹窗是否展示。
func (s *State) Open() bool {
	return s != nil && s.open
}

// Selected 返回当前选中的条目。
func (s *State) Selected() (Item, bool) {
	if s == nil || !s.open || s.selected >= len(s.matches) {
		return Item{}, false
	}
	return s.matches[s.selected].item, true
}

// SyncInput 根据最新输入同步过滤列表与选中项。只有单行且以斜杠开头、
// 尚未敲入参数的输入才会打开弹窗。
func (s *State) SyncInput(value string) {
	if s == nil {
		return
	}
	token, ok := commandToken(value)
	if !ok {
		s.open = false
		s.matches = nil
		return
	}
	s.open = true
	s.matches = filterMatches(s.items, token)
	if s.selected >= len(s.matches) {
		s.selected = 0
	}
}

// MoveSelection 上下移动选中项。
func (s *State) MoveSelection(delta int) {
	if s == nil || !s.open || len(s.matches) == 0 {
		return
	}
	s.selected = (s.selected + delta + len(s.matches)) % len(s.matches)
}

// Close 关闭弹窗。
func (s *State) Close() {
	if s == nil {
		return
	}
	s.open = false
	s.matches = nil
	s.selected = 0
}

// Resolve 解析一条完整输入，返回命中的命令及其参数。
func (s *State) Resolve(value string) (Command, []string, bool) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "/") {
		return "", nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(trimmed, "/"))
	if len(fields) == 0 {
		return "", nil, false
	}
	for _, item := range s.items {
		if strings.EqualFold(item.Token(), fields[0]) {
			return item.Command, fields[1:], true
		}
	}
	return "", nil, false
}

// commandToken 提取待匹配的命令片段。带参数或多行输入不再弹窗。
func commandToken(value string) (string, bool) {
	if strings.Contains(value, "\n") {
		return "", false
	}
	if !strings.HasPrefix(value, "/") {
		return "", false
	}
	rest := strings.TrimPrefix(value, "/")
	if strings.Contains(rest, " ") {
		return "", false
	}
	return rest, true
}

func filterMatches(items []Item, query string) []match {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		matches := make([]match, 0, len(items))
		for _, item := range items {
			matches = append(matches, match{item: item})
		}
		return matches
	}

	keys := make([]string, 0, len(items))
	for _, item := range items {
		keys = append(keys, strings.ToLower(item.Token()))
	}
	results := fuzzy.Find(strings.ToLower(trimmed), keys)
	matches := make([]match, 0, len(results))
	for _, res := range results {
		matches = append(matches, match{
			item:       items[res.Index],
			highlights: res.MatchedIndexes,
			score:      res.Score,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score == matches[j].score {
			return matches[i].item.Token() < matches[j].item.Token()
		}
		return matches[i].score > matches[j].score
	})
	return matches
}
