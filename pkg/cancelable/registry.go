package cancelable

import (
	"context"
	"sync"
)

// Canceler は Registry が扱える呼び出しです
type Canceler interface {
	Cancel() bool
	OnSettle(fn func())
}

// Registry は所有者（ビュー等）に紐づく実行中の呼び出しをまとめて管理します。
// 確定した呼び出しは自動的に登録解除されます
type Registry struct {
	mu     sync.Mutex
	nextID uint64
	calls  map[uint64]Canceler
	closed bool
}

// NewRegistry は新しいRegistryを作成します
func NewRegistry() *Registry {
	return &Registry{calls: make(map[uint64]Canceler)}
}

// Track は呼び出しを登録します。Close 済みの場合は即座にキャンセルします
func (r *Registry) Track(c Canceler) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		c.Cancel()
		return
	}
	r.nextID++
	id := r.nextID
	r.calls[id] = c
	r.mu.Unlock()

	c.OnSettle(func() { r.remove(id) })
}

func (r *Registry) remove(id uint64) {
	r.mu.Lock()
	delete(r.calls, id)
	r.mu.Unlock()
}

// CancelAll は登録中の呼び出しをすべてキャンセルし、実際にキャンセルできた数を返します
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	calls := make([]Canceler, 0, len(r.calls))
	for _, c := range r.calls {
		calls = append(calls, c)
	}
	r.mu.Unlock()

	canceled := 0
	for _, c := range calls {
		if c.Cancel() {
			canceled++
		}
	}
	return canceled
}

// Close は CancelAll を行い、以降に登録される呼び出しも即座にキャンセルさせます
func (r *Registry) Close() int {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return r.CancelAll()
}

// Len は実行中として登録されている呼び出しの数を返します
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// Start は fn を Go で起動し、r に登録して返します
func Start[T any](r *Registry, ctx context.Context, fn func(ctx context.Context) (T, error)) *Call[T] {
	c := Go(ctx, fn)
	r.Track(c)
	return c
}
