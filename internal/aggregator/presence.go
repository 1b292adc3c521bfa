package aggregator

import (
	"sync"
	"time"

	"wsm-rfid/internal/protocol"
)

// 通道口标签观测的存活窗口与告警静默时长
const (
	presenceTTL = 10 * time.Second
	ignoreTTL   = 10 * time.Second
)

type presenceEntry struct {
	tag      protocol.TagRead
	lastSeen time.Time
}

// PresenceWindow 通道监控的滑动存活窗口：
// 窗口内仍被读到的标签维持告警，超过存活窗口未再读到则移出。
// Ignore 按下后静默一段时间，静默结束时窗口非空则重新告警。
type PresenceWindow struct {
	mu          sync.Mutex
	entries     map[string]*presenceEntry
	ignoreUntil time.Time
	now         func() time.Time
}

// NewPresenceWindow 创建窗口，clock 为 nil 时使用系统时钟
func NewPresenceWindow(clock func() time.Time) *PresenceWindow {
	if clock == nil {
		clock = time.Now
	}
	return &PresenceWindow{
		entries: make(map[string]*presenceEntry),
		now:     clock,
	}
}

// Observe 合入一批观测：已知标签刷新时间戳，新标签插入
func (w *PresenceWindow) Observe(tags []protocol.TagRead) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	for i := range tags {
		if tags[i].RSSIValue <= protocol.NoSignal {
			continue
		}
		if e, ok := w.entries[tags[i].EPCID]; ok {
			e.tag = tags[i]
			e.lastSeen = now
			continue
		}
		w.entries[tags[i].EPCID] = &presenceEntry{tag: tags[i], lastSeen: now}
	}
}

// Sweep 移出超过存活窗口未再读到的标签，返回窗口内剩余观测
func (w *PresenceWindow) Sweep() []protocol.TagRead {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	var out []protocol.TagRead
	for id, e := range w.entries {
		if now.Sub(e.lastSeen) >= presenceTTL {
			delete(w.entries, id)
			continue
		}
		out = append(out, e.tag)
	}
	return out
}

// Active 当前是否应当告警：窗口非空且不在静默期
func (w *PresenceWindow) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	if now.Before(w.ignoreUntil) {
		return false
	}
	for _, e := range w.entries {
		if now.Sub(e.lastSeen) < presenceTTL {
			return true
		}
	}
	return false
}

// Ignore 静默告警一段时间；静默结束时窗口仍非空则重新告警
func (w *PresenceWindow) Ignore() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ignoreUntil = w.now().Add(ignoreTTL)
}
