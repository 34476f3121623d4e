package poller

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jinford/pipewatch/internal/platform/clock"
)

func newFakePoller(callback Callback) (*Poller, *clock.FakeClock) {
	fake := clock.Fake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(callback, WithClock(fake)), fake
}

func TestPoller_FiresOncePerInterval(t *testing.T) {
	var count int
	p, fake := newFakePoller(func(ctx context.Context) { count++ })
	defer p.Stop()

	p.SetDelay(5 * time.Second)
	assert.Equal(t, 0, count, "初回の即時呼び出しはしない")

	fake.Advance(4 * time.Second)
	assert.Equal(t, 0, count)

	fake.Advance(1 * time.Second)
	assert.Equal(t, 1, count)

	fake.Advance(15 * time.Second)
	assert.Equal(t, 4, count)
	assert.Equal(t, 1, fake.Pending(), "タイマーは常に1つ")
}

func TestPoller_DisabledSchedulesNothing(t *testing.T) {
	var count int
	p, fake := newFakePoller(func(ctx context.Context) { count++ })
	defer p.Stop()

	p.SetDelay(Disabled)
	fake.Advance(time.Hour)

	assert.Equal(t, 0, count)
	assert.Equal(t, 0, fake.Pending())

	// 0以下の値も無効として扱う
	p.SetDelay(0)
	fake.Advance(time.Hour)
	assert.Equal(t, 0, count)
	assert.Equal(t, Disabled, p.Delay())
}

func TestPoller_ReconfigureNoOrphanedTimers(t *testing.T) {
	var oldFired, newFired int
	p, fake := newFakePoller(func(ctx context.Context) { oldFired++ })
	defer p.Stop()

	p.SetDelay(3 * time.Second)
	fake.Advance(3 * time.Second)
	assert.Equal(t, 1, oldFired)

	// 間隔とコールバックを切り替える
	p.SetCallback(func(ctx context.Context) { newFired++ })
	p.SetDelay(10 * time.Second)
	assert.Equal(t, 1, fake.Pending())

	fake.Advance(9 * time.Second)
	assert.Equal(t, 1, oldFired, "古い間隔のタイマーは発火しない")
	assert.Equal(t, 0, newFired)

	fake.Advance(1 * time.Second)
	assert.Equal(t, 1, oldFired)
	assert.Equal(t, 1, newFired)

	fake.Advance(time.Minute)
	assert.Equal(t, 1, oldFired)
	assert.Equal(t, 7, newFired)
}

func TestPoller_ToggleDisabledAndBack(t *testing.T) {
	var count int
	p, fake := newFakePoller(func(ctx context.Context) { count++ })
	defer p.Stop()

	p.SetDelay(time.Second)
	fake.Advance(2 * time.Second)
	assert.Equal(t, 2, count)

	p.SetDelay(Disabled)
	fake.Advance(10 * time.Second)
	assert.Equal(t, 2, count)
	assert.Equal(t, 0, fake.Pending())

	p.SetDelay(time.Second)
	fake.Advance(time.Second)
	assert.Equal(t, 3, count)
}

func TestPoller_SameDelayIsNoop(t *testing.T) {
	var count int
	p, fake := newFakePoller(func(ctx context.Context) { count++ })
	defer p.Stop()

	p.SetDelay(4 * time.Second)
	fake.Advance(3 * time.Second)

	// 同じ値の再設定でタイマーがリセットされてはいけない
	p.SetDelay(4 * time.Second)
	fake.Advance(1 * time.Second)

	assert.Equal(t, 1, count)
	assert.Equal(t, int64(1), p.Stats().Reconfigurations)
}

func TestPoller_Stop(t *testing.T) {
	var count int
	p, fake := newFakePoller(func(ctx context.Context) { count++ })

	p.SetDelay(time.Second)
	fake.Advance(time.Second)
	p.Stop()
	p.Stop()

	fake.Advance(time.Minute)
	assert.Equal(t, 1, count)
	assert.Equal(t, 0, fake.Pending())

	p.SetDelay(2 * time.Second)
	p.Trigger()
	fake.Advance(time.Minute)
	assert.Equal(t, 1, count, "停止後は何も実行しない")
}

func TestPoller_StopCancelsCallbackContext(t *testing.T) {
	var captured context.Context
	p, fake := newFakePoller(func(ctx context.Context) { captured = ctx })

	p.SetDelay(time.Second)
	fake.Advance(time.Second)
	assert.NoError(t, captured.Err())

	p.Stop()
	assert.ErrorIs(t, captured.Err(), context.Canceled)
}

func TestPoller_Trigger(t *testing.T) {
	var count int
	p, fake := newFakePoller(func(ctx context.Context) { count++ })
	defer p.Stop()

	p.Trigger()
	assert.Equal(t, 1, count)
	assert.Equal(t, 0, fake.Pending(), "Trigger はスケジュールを作らない")
}

func TestPoller_StaleTimerSuppressed(t *testing.T) {
	// 止めたはずのタイマーが発火してしまう競合を再現するため、Stop できないタイマーを使う
	var count atomic.Int32
	sticky := &stickyClock{FakeClock: clock.Fake(time.Unix(0, 0))}
	p := New(func(ctx context.Context) { count.Add(1) }, WithClock(sticky))
	defer p.Stop()

	p.SetDelay(time.Second)
	p.SetDelay(5 * time.Second)

	sticky.Advance(time.Second)
	assert.Equal(t, int32(0), count.Load(), "再設定前のタイマーはコールバックを呼ばない")
	assert.Equal(t, int64(1), p.Stats().StaleSuppressed)

	sticky.Advance(4 * time.Second)
	assert.Equal(t, int32(1), count.Load())
}

// stickyClock は Stop が効かないタイマーを返す Clock（発火済みタイマーとの競合を模擬）
type stickyClock struct {
	*clock.FakeClock
}

func (c *stickyClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	c.FakeClock.AfterFunc(d, f)
	return stickyTimer{}
}

type stickyTimer struct{}

func (stickyTimer) Stop() bool { return false }

func TestPoller_ReconfigureDuringCallback(t *testing.T) {
	// 実行中のコールバックと重なった再設定は、そのティックが予約した次のタイマーを置き換える
	var count int
	var p *Poller
	p, fake := newFakePoller(func(ctx context.Context) {
		count++
		if count == 1 {
			p.SetDelay(20 * time.Second)
		}
	})
	defer p.Stop()

	p.SetDelay(5 * time.Second)
	fake.Advance(5 * time.Second)
	assert.Equal(t, 1, count, "発火済みのティックは1回だけ走る")
	assert.Equal(t, 1, fake.Pending(), "古い間隔のタイマーは残らない")

	// 古い5秒間隔なら t=10s, 15s で発火するはず
	fake.Advance(10 * time.Second)
	assert.Equal(t, 1, count)

	fake.Advance(10 * time.Second)
	assert.Equal(t, 2, count)
	assert.Equal(t, 20*time.Second, p.Delay())
}

func TestPoller_StopDuringCallback(t *testing.T) {
	var count int
	var p *Poller
	p, fake := newFakePoller(func(ctx context.Context) {
		count++
		p.Stop()
		assert.Error(t, ctx.Err(), "実行中のコールバックにも停止が伝わる")
	})

	p.SetDelay(5 * time.Second)
	fake.Advance(5 * time.Second)
	assert.Equal(t, 1, count)
	assert.Equal(t, 0, fake.Pending())

	fake.Advance(time.Minute)
	assert.Equal(t, 1, count, "停止後は発火しない")
}
