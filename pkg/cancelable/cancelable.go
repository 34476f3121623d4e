// Package cancelable は実行中の呼び出しに「もう結果は不要」と宣言できるラッパーを提供します。
//
// キャンセルは協調的です。ラップされた処理そのものは最後まで走りますが、
// Cancel 後に結果が呼び出し元へ渡ることはありません。処理に渡される context は
// Cancel と同時にキャンセルされるため、下流はマージ直前に生存確認ができます。
package cancelable

import (
	"context"
	"errors"
	"sync"
)

// ErrCanceled は呼び出し元が結果を不要と宣言したことを表します。
// 処理自体の失敗ではないため、受け取った側は黙って無視すること
var ErrCanceled = errors.New("call canceled")

// IsCanceled は err がキャンセルによるものかどうかを判定します
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}

// Call はキャンセル可能な非同期呼び出しです
type Call[T any] struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	settled  bool
	canceled bool
	value    T
	err      error
	onSettle []func()
}

// Go は fn を別ゴルーチンで実行し、その Call を返します
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Call[T] {
	callCtx, cancel := context.WithCancel(ctx)
	c := &Call[T]{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		value, err := fn(callCtx)
		c.settle(value, err, false)
	}()

	return c
}

// settle は結果を一度だけ確定させます。確定済みなら false を返します
func (c *Call[T]) settle(value T, err error, canceled bool) bool {
	c.mu.Lock()
	if c.settled {
		c.mu.Unlock()
		return false
	}
	c.settled = true
	c.canceled = canceled
	c.value = value
	c.err = err
	// Cancel が返った時点で fn 側の context が終了済みであることを保証する
	c.cancel()
	close(c.done)
	hooks := c.onSettle
	c.onSettle = nil
	c.mu.Unlock()

	for _, hook := range hooks {
		hook()
	}
	return true
}

// Cancel は呼び出しをキャンセルします。
// 確定済みの呼び出しに対しては何もせず false を返します
func (c *Call[T]) Cancel() bool {
	var zero T
	return c.settle(zero, ErrCanceled, true)
}

// IsCanceled は Cancel によって確定したかどうかを返します
func (c *Call[T]) IsCanceled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canceled
}

// Settled は結果が確定済みかどうかを返します
func (c *Call[T]) Settled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settled
}

// Done は確定時にクローズされるチャネルを返します
func (c *Call[T]) Done() <-chan struct{} {
	return c.done
}

// Result は確定を待って結果を返します。キャンセル済みなら ErrCanceled を返します
func (c *Call[T]) Result() (T, error) {
	<-c.done
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.err
}

// Wait は ctx が終わるまで確定を待ちます。
// ctx が先に終わっても呼び出し自体はキャンセルしません
func (c *Call[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-c.done:
		return c.Result()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// OnSettle は確定時に呼ばれるフックを登録します。確定済みなら即座に呼び出します
func (c *Call[T]) OnSettle(fn func()) {
	c.mu.Lock()
	if c.settled {
		c.mu.Unlock()
		fn()
		return
	}
	c.onSettle = append(c.onSettle, fn)
	c.mu.Unlock()
}
