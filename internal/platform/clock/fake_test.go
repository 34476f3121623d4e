package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClock_AdvanceFiresInDeadlineOrder(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Fake(start)

	var order []string
	c.AfterFunc(3*time.Second, func() { order = append(order, "3s") })
	c.AfterFunc(1*time.Second, func() { order = append(order, "1s") })
	c.AfterFunc(10*time.Second, func() { order = append(order, "10s") })

	c.Advance(5 * time.Second)

	assert.Equal(t, []string{"1s", "3s"}, order)
	assert.Equal(t, start.Add(5*time.Second), c.Now())
	assert.Equal(t, 1, c.Pending())
}

func TestFakeClock_NowDuringCallbackIsDeadline(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Fake(start)

	var seen time.Time
	c.AfterFunc(2*time.Second, func() { seen = c.Now() })
	c.Advance(10 * time.Second)

	assert.Equal(t, start.Add(2*time.Second), seen)
}

func TestFakeClock_RescheduleInsideCallback(t *testing.T) {
	c := Fake(time.Unix(0, 0))

	count := 0
	var tick func()
	tick = func() {
		count++
		c.AfterFunc(time.Second, tick)
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(3500 * time.Millisecond)

	// 1s, 2s, 3s の3回発火し、4s のタイマーが残る
	assert.Equal(t, 3, count)
	assert.Equal(t, 1, c.Pending())
}

func TestFakeClock_Stop(t *testing.T) {
	c := Fake(time.Unix(0, 0))

	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop(), "2回目の Stop は false")

	c.Advance(2 * time.Second)
	assert.False(t, fired)
	assert.Equal(t, 0, c.Pending())
}

func TestFakeClock_NonPositiveDelayRunsImmediately(t *testing.T) {
	c := Fake(time.Unix(0, 0))

	fired := false
	timer := c.AfterFunc(0, func() { fired = true })

	assert.True(t, fired)
	assert.False(t, timer.Stop())
}
