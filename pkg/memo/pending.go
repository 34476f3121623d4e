// Package memo は非同期アクションの重複呼び出しをまとめます。
//
// Pending は実行中の呼び出しを共有し（memoize-while-pending）、
// Window は成功結果を一定時間使い回します（memoize-for-duration）。
// どちらも失敗結果はキャッシュせず、次の呼び出しで再実行します。
package memo

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/jinford/pipewatch/pkg/cancelable"
)

// unkeyed はキーを区別しない設定で使う固定キー
const unkeyed = "\x00unkeyed"

// Pending はキーごとに実行中の呼び出しを1つにまとめます
type Pending[V any] struct {
	group singleflight.Group
	calls atomic.Int64
}

// NewPending は新しいPendingを作成します
func NewPending[V any]() *Pending[V] {
	return &Pending[V]{}
}

// Do は key について実行中の呼び出しがあればその結果を待ち、なければ fn を実行します。
//
// 共有される実行は呼び出し元のキャンセルから切り離した context で走るため、
// 1つの呼び出し元が抜けても他の呼び出し元には影響しません。
// ctx が先に終わった呼び出し元には cancelable.ErrCanceled を返します。
// shared は結果を他の呼び出し元と共有したかどうかです
func (p *Pending[V]) Do(ctx context.Context, key string, fn func(ctx context.Context) (V, error)) (value V, shared bool, err error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return value, false, fmt.Errorf("%w: %w", cancelable.ErrCanceled, ctxErr)
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := p.group.DoChan(key, func() (any, error) {
		p.calls.Add(1)
		return fn(flightCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return value, res.Shared, res.Err
		}
		v, _ := res.Val.(V)
		return v, res.Shared, nil
	case <-ctx.Done():
		return value, false, fmt.Errorf("%w: %w", cancelable.ErrCanceled, ctx.Err())
	}
}

// DoUnkeyed は引数に関わらず実行中の呼び出しを1つにまとめます
func (p *Pending[V]) DoUnkeyed(ctx context.Context, fn func(ctx context.Context) (V, error)) (V, bool, error) {
	return p.Do(ctx, unkeyed, fn)
}

// Calls は実際に fn を実行した回数を返します
func (p *Pending[V]) Calls() int64 {
	return p.calls.Load()
}

// Wrap は fn と同じシグネチャを持ち、実行中の呼び出しを共有する関数を返します。
// keyFn が nil の場合は引数に関わらず1つにまとめます
func Wrap[A, V any](keyFn func(A) string, fn func(context.Context, A) (V, error)) func(context.Context, A) (V, error) {
	p := NewPending[V]()
	return func(ctx context.Context, arg A) (V, error) {
		call := func(ctx context.Context) (V, error) {
			return fn(ctx, arg)
		}
		var (
			v   V
			err error
		)
		if keyFn == nil {
			v, _, err = p.DoUnkeyed(ctx, call)
		} else {
			v, _, err = p.Do(ctx, keyFn(arg), call)
		}
		return v, err
	}
}
