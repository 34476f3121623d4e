package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock はテスト用の決定的な Clock です。
// Advance を呼ぶまで時刻は進みません。AfterFunc のコールバックは
// Advance を呼んだゴルーチン上で期限順に同期実行されます。
// コールバック内から Advance を呼ぶとデッドロックするので注意すること。
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeTimer
}

// Fake は initial を現在時刻とする FakeClock を作成します
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

type fakeTimer struct {
	clock    *FakeClock
	deadline time.Time
	callback func()
	stopped  bool
	fired    bool
}

// Stop はタイマーを停止します
func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Now は現在のフェイク時刻を返します
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AfterFunc は d 経過後に f を呼び出すタイマーを登録します。
// d <= 0 の場合は登録せずに即座に同期実行します
func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	timer := &fakeTimer{clock: c, callback: f}
	if d <= 0 {
		timer.fired = true
		f()
		return timer
	}

	c.mu.Lock()
	timer.deadline = c.current.Add(d)
	c.waiters = append(c.waiters, timer)
	c.mu.Unlock()

	return timer
}

// Advance は時刻を d 進め、期限を迎えたタイマーを期限順に発火させます。
// 発火中に新しく登録されたタイマーも期限内であれば同じ Advance で発火します
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)
	c.mu.Unlock()

	for {
		next := c.popNext(target)
		if next == nil {
			break
		}
		next.callback()
	}

	c.mu.Lock()
	c.current = target
	c.mu.Unlock()
}

// popNext は target までに期限を迎える最も早いタイマーを取り出し、
// 現在時刻をその期限まで進めます
func (c *FakeClock) popNext(target time.Time) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.stopped && !w.fired {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining

	sort.SliceStable(c.waiters, func(i, j int) bool {
		return c.waiters[i].deadline.Before(c.waiters[j].deadline)
	})

	if len(c.waiters) == 0 || c.waiters[0].deadline.After(target) {
		return nil
	}

	next := c.waiters[0]
	c.waiters = c.waiters[1:]
	next.fired = true
	if next.deadline.After(c.current) {
		c.current = next.deadline
	}
	return next
}

// Pending は停止・発火していないタイマーの数を返します
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for _, w := range c.waiters {
		if !w.stopped && !w.fired {
			count++
		}
	}
	return count
}
