// Package refresh はポーリング対象の状態から次のポーリング間隔を決めます。
package refresh

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jinford/pipewatch/pkg/models"
	"github.com/jinford/pipewatch/pkg/poller"
)

const (
	// DefaultActiveInterval は遷移中のエンティティがあるときの間隔
	DefaultActiveInterval = 5 * time.Second
	// DefaultSettledInterval はすべて落ち着いているときの間隔
	DefaultSettledInterval = 60 * time.Second
	// DefaultSkew はスケジュール境界に上乗せする余裕（時計ずれとバックエンドの遅延を吸収する）
	DefaultSkew = 2 * time.Second
	// DefaultAlignedSchedule は分境界
	DefaultAlignedSchedule = "* * * * *"
)

// Policy はステータスに応じた間隔を決めます
type Policy struct {
	ActiveInterval  time.Duration
	SettledInterval time.Duration
	// StopWhenSettled が true の場合、すべて落ち着いたらポーリングを止める
	StopWhenSettled bool
	// FirstPageOnly が true の場合、先頭ページ以外では短い間隔を使わない
	FirstPageOnly bool
}

// DefaultPolicy はデフォルトのポリシーを返します
func DefaultPolicy() Policy {
	return Policy{
		ActiveInterval:  DefaultActiveInterval,
		SettledInterval: DefaultSettledInterval,
		FirstPageOnly:   true,
	}
}

// NextDelay は statuses と表示中のページ（0始まり）から次の間隔を返します。
// 空のコレクションは落ち着いているものとして扱います
func (p Policy) NextDelay(statuses []models.Status, page int) time.Duration {
	active := models.AnyActive(statuses)
	if p.FirstPageOnly && page > 0 {
		active = false
	}

	if active {
		return p.activeInterval()
	}
	if p.StopWhenSettled {
		return poller.Disabled
	}
	return p.settledInterval()
}

func (p Policy) activeInterval() time.Duration {
	if p.ActiveInterval <= 0 {
		return DefaultActiveInterval
	}
	return p.ActiveInterval
}

func (p Policy) settledInterval() time.Duration {
	if p.SettledInterval <= 0 {
		return DefaultSettledInterval
	}
	return p.SettledInterval
}

// Aligned はスケジュールの境界に合わせて次の間隔を決めます。
// cron で動くジョブは境界ちょうどに状態が変わるため、
// 「今から一定時間後」ではなく「次の境界 + Skew」にポーリングします
type Aligned struct {
	schedule cron.Schedule
	skew     time.Duration
}

// NewAligned は標準の5フィールド cron 式から Aligned を作成します。
// expr が空の場合は分境界を使います
func NewAligned(expr string, skew time.Duration) (*Aligned, error) {
	if expr == "" {
		expr = DefaultAlignedSchedule
	}
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	if skew < 0 {
		skew = 0
	}
	return &Aligned{schedule: schedule, skew: skew}, nil
}

// NextDelay は now から次の境界 + Skew までの時間を返します
func (a *Aligned) NextDelay(now time.Time) time.Duration {
	next := a.schedule.Next(now)
	if next.IsZero() {
		return poller.Disabled
	}
	return next.Sub(now) + a.skew
}

// Combined はステータスによる間隔とスケジュール境界の間隔のうち短い方を使います
type Combined struct {
	Policy  Policy
	Aligned *Aligned
}

// NextDelay は有効な間隔のうち最小のものを返します。どちらも無効なら Disabled を返します
func (c Combined) NextDelay(statuses []models.Status, page int, now time.Time) time.Duration {
	delay := c.Policy.NextDelay(statuses, page)
	if c.Aligned == nil {
		return delay
	}
	aligned := c.Aligned.NextDelay(now)
	return minEnabled(delay, aligned)
}

func minEnabled(a, b time.Duration) time.Duration {
	switch {
	case a <= 0:
		return b
	case b <= 0:
		return a
	case a < b:
		return a
	default:
		return b
	}
}
