// Package poller はコールバックを一定間隔で繰り返し実行します。
//
// 間隔はいつでも変更・無効化でき、タイマーは常に1つだけ保持します。
// 次のティックはコールバックの実行前に前回の期限から予約するため、
// 遅いコールバックが以降のスケジュールをずらすことはありません。
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jinford/pipewatch/internal/platform/clock"
)

// Disabled はポーリングを無効にする間隔です
const Disabled time.Duration = -1

// Callback はティックごとに呼ばれる関数
type Callback func(ctx context.Context)

// Poller はコールバックを delay ごとに実行します
type Poller struct {
	clock  clock.Clock
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	callback Callback
	delay    time.Duration
	timer    clock.Timer
	gen      uint64
	stopped  bool
	stats    Stats
}

// Stats はポーラーの統計
type Stats struct {
	Ticks            int64 // コールバックを呼んだ回数
	Reconfigurations int64 // 間隔を変更した回数
	StaleSuppressed  int64 // 再設定済みの古いタイマーの発火を抑止した回数
}

// Option は Poller 構築時のオプション
type Option func(*options)

type options struct {
	clock  clock.Clock
	logger *slog.Logger
	ctx    context.Context
}

// WithClock は時刻・タイマーの取得元を差し替える
func WithClock(c clock.Clock) Option {
	return func(opts *options) {
		opts.clock = c
	}
}

// WithLogger はロガーを差し替える
func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

// WithContext はコールバックに渡す context の親を指定する
func WithContext(ctx context.Context) Option {
	return func(opts *options) {
		opts.ctx = ctx
	}
}

// New は無効状態の Poller を作成します。SetDelay で間隔を与えるまで何も実行しません
func New(callback Callback, opts ...Option) *Poller {
	options := options{
		clock:  clock.Real(),
		logger: slog.Default(),
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	ctx, cancel := context.WithCancel(options.ctx)
	return &Poller{
		clock:    options.clock,
		logger:   options.logger,
		ctx:      ctx,
		cancel:   cancel,
		callback: callback,
		delay:    Disabled,
	}
}

// SetCallback は以降のティックで使うコールバックを差し替えます
func (p *Poller) SetCallback(callback Callback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callback = callback
}

// SetDelay は間隔を変更します。0以下の値は Disabled として扱います。
// 値が変わった場合は既存のタイマーを止めてから新しいタイマーを1つだけ予約します。
// 無効化したときは初回呼び出しも行いません。
//
// 既に発火してコールバックへ渡ったティックは取り消しません。SetDelay と同時に
// 発火したティックのコールバックは1回だけ走り得ますが、そのティックが予約した
// 次のタイマーはここで止まり、以降は新しい間隔だけが使われます。
// コールバックの中から呼んでもかまいません
func (p *Poller) SetDelay(delay time.Duration) {
	if delay <= 0 {
		delay = Disabled
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped || delay == p.delay {
		return
	}

	p.stopTimerLocked()
	p.delay = delay
	p.stats.Reconfigurations++

	if delay == Disabled {
		p.logger.Debug("ポーリングを無効化しました")
		return
	}

	p.logger.Debug("ポーリング間隔を変更しました", "delay", delay)
	p.scheduleLocked(delay)
}

// Delay は現在の間隔を返します
func (p *Poller) Delay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.delay
}

// Trigger はスケジュールとは別にコールバックを即座に1回実行します。
// 停止済みの場合は何もしません
func (p *Poller) Trigger() {
	p.mu.Lock()
	if p.stopped || p.callback == nil {
		p.mu.Unlock()
		return
	}
	callback := p.callback
	p.stats.Ticks++
	p.mu.Unlock()

	callback(p.ctx)
}

// Stop はタイマーを止め、コールバックに渡した context をキャンセルします。
// Stop が返った後に発火したタイマーはコールバックを呼びません。
// 実行中または発火直後のコールバックの完了は待たないため、呼び出し側は
// コールバックの中で自分の停止状態を確認すること。コールバックの中から呼んでもかまいません
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}
	p.stopped = true
	p.stopTimerLocked()
	p.cancel()
}

// Stats は統計のスナップショットを返します
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// stopTimerLocked は現在のタイマーを止め、世代を進めて発火済みのタイマーも無効にします
func (p *Poller) stopTimerLocked() {
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// scheduleLocked は現在の世代でタイマーを1つ予約します
func (p *Poller) scheduleLocked(delay time.Duration) {
	gen := p.gen
	p.timer = p.clock.AfterFunc(delay, func() { p.tick(gen) })
}

func (p *Poller) tick(gen uint64) {
	p.mu.Lock()
	if p.stopped || gen != p.gen {
		p.stats.StaleSuppressed++
		p.mu.Unlock()
		return
	}

	// コールバックの完了を待たずに次のティックを予約する。
	// ここから先で SetDelay や Stop が呼ばれても、このティックのコールバックは走る
	p.scheduleLocked(p.delay)
	callback := p.callback
	p.stats.Ticks++
	p.mu.Unlock()

	if callback != nil {
		callback(p.ctx)
	}
}
