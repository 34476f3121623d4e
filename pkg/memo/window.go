package memo

import (
	"context"
	"sync"
	"time"

	"github.com/jinford/pipewatch/internal/platform/clock"
)

// Window は成功した結果を duration の間キャッシュします。
// キャッシュ切れの同時呼び出しは Pending でまとめます
type Window[V any] struct {
	duration time.Duration
	clock    clock.Clock
	pending  *Pending[V]

	mu      sync.Mutex
	entries map[string]windowEntry[V]
	gen     map[string]uint64
	epoch   uint64
	hits    int64
}

type windowEntry[V any] struct {
	value   V
	expires time.Time
}

// WindowOption は Window 構築時のオプション
type WindowOption func(*windowOptions)

type windowOptions struct {
	clock clock.Clock
}

// WithClock は時刻の取得元を差し替える
func WithClock(c clock.Clock) WindowOption {
	return func(opts *windowOptions) {
		opts.clock = c
	}
}

// NewWindow は新しいWindowを作成します。duration <= 0 の場合は実行中の共有のみ行います
func NewWindow[V any](duration time.Duration, opts ...WindowOption) *Window[V] {
	options := windowOptions{clock: clock.Real()}
	for _, opt := range opts {
		opt(&options)
	}

	return &Window[V]{
		duration: duration,
		clock:    options.clock,
		pending:  NewPending[V](),
		entries:  make(map[string]windowEntry[V]),
		gen:      make(map[string]uint64),
	}
}

// Do は key のキャッシュが有効ならそれを返し、なければ fn を実行します。
// ウィンドウは呼び出しの完了時刻から数えます
func (w *Window[V]) Do(ctx context.Context, key string, fn func(ctx context.Context) (V, error)) (V, error) {
	w.mu.Lock()
	if entry, ok := w.entries[key]; ok {
		if w.clock.Now().Before(entry.expires) {
			w.hits++
			w.mu.Unlock()
			return entry.value, nil
		}
		delete(w.entries, key)
	}
	w.mu.Unlock()

	value, _, err := w.pending.Do(ctx, key, func(ctx context.Context) (V, error) {
		w.mu.Lock()
		startGen, startEpoch := w.gen[key], w.epoch
		w.mu.Unlock()

		v, err := fn(ctx)
		if err != nil || w.duration <= 0 {
			return v, err
		}

		w.mu.Lock()
		// 実行中に Invalidate / Purge された結果は保存しない
		if w.gen[key] == startGen && w.epoch == startEpoch {
			w.entries[key] = windowEntry[V]{value: v, expires: w.clock.Now().Add(w.duration)}
		}
		w.mu.Unlock()
		return v, nil
	})
	return value, err
}

// Invalidate は key のキャッシュを破棄します
func (w *Window[V]) Invalidate(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.entries, key)
	w.gen[key]++
}

// Purge はすべてのキャッシュを破棄します
func (w *Window[V]) Purge() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.epoch++
	w.entries = make(map[string]windowEntry[V])
}

// Calls は実際に fn を実行した回数を返します
func (w *Window[V]) Calls() int64 {
	return w.pending.Calls()
}

// Hits はキャッシュから返した回数を返します
func (w *Window[V]) Hits() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hits
}

// WrapWindow は fn と同じシグネチャを持ち、成功結果を duration の間共有する関数を返します
func WrapWindow[A, V any](duration time.Duration, keyFn func(A) string, fn func(context.Context, A) (V, error), opts ...WindowOption) func(context.Context, A) (V, error) {
	w := NewWindow[V](duration, opts...)
	return func(ctx context.Context, arg A) (V, error) {
		key := unkeyed
		if keyFn != nil {
			key = keyFn(arg)
		}
		return w.Do(ctx, key, func(ctx context.Context) (V, error) {
			return fn(ctx, arg)
		})
	}
}
