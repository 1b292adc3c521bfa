package aggregator

import (
	"sync"

	"wsm-rfid/internal/protocol"
)

// BestSignal 为出库工作台聚合重复读到的标签：
// 同一标签只保留信号最强的一次观测，并累计读取次数。
type BestSignal struct {
	mu   sync.Mutex
	best map[string]*protocol.TagRead
	seen []string
}

// NewBestSignal 创建聚合器
func NewBestSignal() *BestSignal {
	return &BestSignal{best: make(map[string]*protocol.TagRead)}
}

// Offer 合入一批观测。弱于无信号门限的读数直接丢弃。
func (b *BestSignal) Offer(tags []protocol.TagRead) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range tags {
		tag := tags[i]
		if tag.RSSIValue <= protocol.NoSignal {
			continue
		}
		cur, ok := b.best[tag.EPCID]
		if !ok {
			cp := tag
			b.best[tag.EPCID] = &cp
			b.seen = append(b.seen, tag.EPCID)
			continue
		}
		cur.ReadCount += tag.ReadCount
		if tag.RSSIValue > cur.RSSIValue {
			count := cur.ReadCount
			*cur = tag
			cur.ReadCount = count
		}
	}
}

// Snapshot 按首次出现顺序返回当前最优观测
func (b *BestSignal) Snapshot() []protocol.TagRead {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]protocol.TagRead, 0, len(b.seen))
	for _, id := range b.seen {
		out = append(out, *b.best[id])
	}
	return out
}

// TagIDs 当前聚合到的标签 id 列表，出库提交用
func (b *BestSignal) TagIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.seen))
	copy(out, b.seen)
	return out
}

// Reset 清空聚合状态，开始新一轮扫描
func (b *BestSignal) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.best = make(map[string]*protocol.TagRead)
	b.seen = nil
}
