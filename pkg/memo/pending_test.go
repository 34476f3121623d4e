package memo

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/pipewatch/pkg/cancelable"
)

// startBlocking は fn の実行開始を通知し、release されるまでブロックする関数を返す
func startBlocking(value string, err error) (fn func(ctx context.Context) (string, error), entered chan struct{}, release chan struct{}) {
	entered = make(chan struct{}, 16)
	release = make(chan struct{})
	fn = func(ctx context.Context) (string, error) {
		entered <- struct{}{}
		<-release
		return value, err
	}
	return fn, entered, release
}

func TestPending_ConcurrentCallsShareOneExecution(t *testing.T) {
	p := NewPending[string]()
	fn, entered, release := startBlocking("entity", nil)

	const callers = 5
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _, errs[0] = p.Do(context.Background(), "abc", fn)
	}()
	<-entered

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = p.Do(context.Background(), "abc", fn)
		}(i)
	}

	// 後続の呼び出しが実行中のエントリに合流するのを待つ
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), p.Calls(), "実行は1回だけ")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "entity", results[i])
	}
}

func TestPending_DifferentKeysDoNotBlock(t *testing.T) {
	p := NewPending[string]()
	fn, entered, release := startBlocking("slow", nil)
	defer close(release)

	go func() { _, _, _ = p.Do(context.Background(), "slow", fn) }()
	<-entered

	value, shared, err := p.Do(context.Background(), "fast", func(ctx context.Context) (string, error) {
		return "fast", nil
	})
	require.NoError(t, err)
	assert.False(t, shared)
	assert.Equal(t, "fast", value)
}

func TestPending_ErrorPropagatesAndClears(t *testing.T) {
	p := NewPending[string]()
	boom := errors.New("boom")
	fn, entered, release := startBlocking("", boom)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _, errs[0] = p.Do(context.Background(), "k", fn)
	}()
	<-entered
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _, errs[1] = p.Do(context.Background(), "k", fn)
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.ErrorIs(t, errs[0], boom)
	assert.ErrorIs(t, errs[1], boom)

	// 失敗後は新たに実行される
	value, _, err := p.Do(context.Background(), "k", func(ctx context.Context) (string, error) {
		return "retried", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "retried", value)
	assert.Equal(t, int64(2), p.Calls())
}

func TestPending_CanceledCallerDoesNotAbortShared(t *testing.T) {
	p := NewPending[string]()

	var sawCancel atomic.Bool
	entered := make(chan struct{})
	release := make(chan struct{})
	fn := func(ctx context.Context) (string, error) {
		close(entered)
		<-release
		if ctx.Err() != nil {
			sawCancel.Store(true)
		}
		return "value", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, _, err := p.Do(ctx, "k", fn)
		errCh <- err
	}()
	<-entered

	survivor := make(chan string, 1)
	go func() {
		v, _, _ := p.Do(context.Background(), "k", fn)
		survivor <- v
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	err := <-errCh
	assert.True(t, cancelable.IsCanceled(err))

	close(release)
	assert.Equal(t, "value", <-survivor)
	assert.False(t, sawCancel.Load(), "共有実行の context はキャンセルされない")
}

func TestPending_AlreadyCanceledContext(t *testing.T) {
	p := NewPending[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := p.Do(ctx, "k", func(ctx context.Context) (int, error) {
		t.Fatal("実行されてはいけない")
		return 0, nil
	})
	assert.ErrorIs(t, err, cancelable.ErrCanceled)
	assert.Equal(t, int64(0), p.Calls())
}

func TestWrap_SameSignature(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	entered := make(chan struct{}, 4)

	fetch := func(ctx context.Context, id string) (string, error) {
		calls.Add(1)
		entered <- struct{}{}
		<-release
		return "entity-" + id, nil
	}
	wrapped := Wrap(func(id string) string { return id }, fetch)

	var wg sync.WaitGroup
	results := make([]string, 3)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = wrapped(context.Background(), "abc")
	}()
	<-entered
	for i := 1; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = wrapped(context.Background(), "abc")
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, []string{"entity-abc", "entity-abc", "entity-abc"}, results)
}

func TestWrap_Unkeyed(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	entered := make(chan struct{}, 4)

	save := func(ctx context.Context, body string) (string, error) {
		calls.Add(1)
		entered <- struct{}{}
		<-release
		return "saved:" + body, nil
	}
	wrapped := Wrap(nil, save)

	var wg sync.WaitGroup
	results := make([]string, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = wrapped(context.Background(), "first")
	}()
	<-entered
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], _ = wrapped(context.Background(), "second")
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	// キーを区別しないため、2つ目の呼び出しは1つ目の結果を受け取る
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, []string{"saved:first", "saved:first"}, results)
}

func TestPending_DoUnkeyedSharesAcrossArgs(t *testing.T) {
	// 引数が違っても実行中の呼び出しに合流し、完了後は新たに実行する
	p := NewPending[string]()
	release := make(chan struct{})
	entered := make(chan struct{}, 4)

	call := func(arg string) func(ctx context.Context) (string, error) {
		return func(ctx context.Context) (string, error) {
			entered <- struct{}{}
			<-release
			return "result:" + arg, nil
		}
	}

	var wg sync.WaitGroup
	results := make([]string, 2)
	shared := make([]bool, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], shared[0], _ = p.DoUnkeyed(context.Background(), call("a"))
	}()
	<-entered
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], shared[1], _ = p.DoUnkeyed(context.Background(), call("b"))
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), p.Calls())
	assert.Equal(t, []string{"result:a", "result:a"}, results)
	assert.Equal(t, []bool{true, true}, shared)

	// 実行中の呼び出しがなければ引数どおりに実行する
	v, _, err := p.DoUnkeyed(context.Background(), call("c"))
	require.NoError(t, err)
	assert.Equal(t, "result:c", v)
	assert.Equal(t, int64(2), p.Calls())
}
