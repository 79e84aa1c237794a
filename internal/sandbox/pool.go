package sandbox

import (
	"sync"

	"tavern-cli/internal/logger"
)

// Spec 描述一个需要托管的 HTML 块。ID 由内容派生，跨重渲染稳定。
type Spec struct {
	ID        string
	Fragment  string
	HasScript bool
}

// Pool 按块标识维护宿主实例：任一块任一时刻至多一个活跃实例。
// 块离开可见窗口即销毁实例，重新进入时从头重建。
type Pool struct {
	notify func(Event)
	log    *logger.LogEntry

	mu    sync.Mutex
	width int
	hosts map[string]*Host
}

// NewPool 创建空池。notify 透传给每个宿主，可为 nil。
func NewPool(notify func(Event)) *Pool {
	return &Pool{
		notify: notify,
		log:    logger.Named("sandbox"),
		hosts:  make(map[string]*Host),
	}
}

// Sync 将池对齐到当前可见块集合。新出现的块挂载，消失的块销毁，
// 留存的块在宽度变化时重测。
func (p *Pool) Sync(width int, specs []Spec) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.width = width

	want := make(map[string]Spec, len(specs))
	for _, s := range specs {
		want[s.ID] = s
	}

	for id, h := range p.hosts {
		if _, keep := want[id]; !keep {
			delete(p.hosts, id)
			h.Destroy()
		}
	}

	for id, s := range want {
		if h, ok := p.hosts[id]; ok {
			h.Resize(width)
			continue
		}
		h, err := NewHost(id, s.Fragment, GrantFor(s.HasScript), p.notify)
		if err != nil {
			p.log.WithField("block", id).WithField("err", err).Warn("sandbox host create failed")
			continue
		}
		p.hosts[id] = h
		h.Mount(width)
	}
}

// View 返回指定块当前应展示的行；块不在池中时返回 nil。
func (p *Pool) View(id string, width int) []string {
	p.mu.Lock()
	h := p.hosts[id]
	p.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.View(width)
}

// Lookup 返回指定块的宿主；不在池中时返回 nil。
func (p *Pool) Lookup(id string) *Host {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hosts[id]
}

// Live 返回活跃实例数。
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.hosts)
}

// Close 销毁所有实例。会话切换或退出时调用。
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, h := range p.hosts {
		delete(p.hosts, id)
		h.Destroy()
	}
}
