package store

import (
	"sync"
	"sync/atomic"
)

// EventKind は変更通知の種類
type EventKind int

const (
	// EventUpdated はエンティティの追加・更新・削除
	EventUpdated EventKind = iota + 1
	// EventReset はキャッシュのリセット
	EventReset
	// EventError はフェッチの失敗（キャッシュは変更されていない）
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventUpdated:
		return "updated"
	case EventReset:
		return "reset"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event はストアの変更通知
type Event struct {
	Kind    EventKind
	IDs     []string // 追加・更新されたUUID
	Removed []string // Replace で削除されたUUID
	Seq     uint64
	Err     error
}

type subscriber struct {
	ch      chan Event
	dropped atomic.Uint64
}

// subscribers はブロックしない fan-out。満杯の購読者への通知は捨てる
type subscribers struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscriber
	// 解除済み購読者の取りこぼしも合計に残す
	droppedTotal atomic.Uint64
}

func newSubscribers() *subscribers {
	return &subscribers{subs: make(map[int]*subscriber)}
}

func (s *subscribers) add(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}

	sub := &subscriber{ch: make(chan Event, buffer)}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[id] = sub
	s.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			close(sub.ch)
			s.mu.Unlock()
		})
	}
	return sub.ch, unsubscribe
}

func (s *subscribers) publish(event Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subs {
		select {
		case sub.ch <- event:
		default:
			sub.dropped.Add(1)
			s.droppedTotal.Add(1)
		}
	}
}

func (s *subscribers) dropped() uint64 {
	return s.droppedTotal.Load()
}
