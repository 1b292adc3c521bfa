package aggregator

import (
	"sync"

	"wsm-rfid/internal/protocol"
)

// StrongestTag 登记新包裹时的单选聚合：每批观测只取信号最强的一枚标签。
// 最强标签与当前选中的是同一枚时只累计读取次数，不同则整体换成新标签。
type StrongestTag struct {
	mu       sync.Mutex
	selected *protocol.TagRead
}

// NewStrongestTag 创建单选聚合器
func NewStrongestTag() *StrongestTag {
	return &StrongestTag{}
}

// Offer 合入一批观测。整批都弱于无信号门限时保持现有选中不变。
func (s *StrongestTag) Offer(tags []protocol.TagRead) {
	var strongest *protocol.TagRead
	for i := range tags {
		tag := &tags[i]
		if tag.RSSIValue <= protocol.NoSignal {
			continue
		}
		if strongest == nil || tag.RSSIValue > strongest.RSSIValue {
			strongest = tag
		}
	}
	if strongest == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected != nil && s.selected.EPCID == strongest.EPCID {
		s.selected.ReadCount += strongest.ReadCount
		return
	}
	cp := *strongest
	s.selected = &cp
}

// Selected 当前选中的标签，尚无有效观测时返回 nil
func (s *StrongestTag) Selected() *protocol.TagRead {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil {
		return nil
	}
	cp := *s.selected
	return &cp
}

// Reset 清掉选中，开始登记下一件包裹
func (s *StrongestTag) Reset() {
	s.mu.Lock()
	s.selected = nil
	s.mu.Unlock()
}
