package cancelable

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCall_Resolves(t *testing.T) {
	call := Go(context.Background(), func(ctx context.Context) (string, error) {
		return "ok", nil
	})

	value, err := call.Result()
	require.NoError(t, err)
	assert.Equal(t, "ok", value)
	assert.True(t, call.Settled())
	assert.False(t, call.IsCanceled())
}

func TestCall_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	call := Go(context.Background(), func(ctx context.Context) (int, error) {
		return 0, boom
	})

	_, err := call.Result()
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsCanceled(err))
}

func TestCall_CancelBeforeSettle(t *testing.T) {
	release := make(chan struct{})
	finished := make(chan struct{})
	call := Go(context.Background(), func(ctx context.Context) (string, error) {
		<-release
		close(finished)
		return "real value", nil
	})

	assert.True(t, call.Cancel())

	value, err := call.Result()
	assert.ErrorIs(t, err, ErrCanceled)
	assert.True(t, IsCanceled(err))
	assert.Empty(t, value, "キャンセル後に本来の値が渡ってはいけない")
	assert.True(t, call.IsCanceled())

	// 下の処理は最後まで走るが、結果は捨てられる
	close(release)
	<-finished
	value, err = call.Result()
	assert.ErrorIs(t, err, ErrCanceled)
	assert.Empty(t, value)
}

func TestCall_CancelCancelsInnerContext(t *testing.T) {
	observed := make(chan error, 1)
	call := Go(context.Background(), func(ctx context.Context) (struct{}, error) {
		<-ctx.Done()
		observed <- ctx.Err()
		return struct{}{}, ctx.Err()
	})

	call.Cancel()

	select {
	case err := <-observed:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("内側の context がキャンセルされなかった")
	}
}

func TestCall_CancelAfterSettleIsNoop(t *testing.T) {
	call := Go(context.Background(), func(ctx context.Context) (int, error) {
		return 42, nil
	})
	_, _ = call.Result()

	assert.False(t, call.Cancel())
	assert.False(t, call.IsCanceled())

	value, err := call.Result()
	require.NoError(t, err)
	assert.Equal(t, 42, value)
}

func TestCall_WaitHonorsContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	call := Go(context.Background(), func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := call.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, call.Settled(), "Wait の打ち切りは呼び出しをキャンセルしない")
}

func TestCall_OnSettle(t *testing.T) {
	call := Go(context.Background(), func(ctx context.Context) (int, error) {
		return 1, nil
	})
	<-call.Done()

	called := false
	call.OnSettle(func() { called = true })
	assert.True(t, called, "確定済みなら即座に呼ばれる")
}

func TestIsCanceled(t *testing.T) {
	assert.True(t, IsCanceled(ErrCanceled))
	assert.True(t, IsCanceled(context.Canceled))
	assert.True(t, IsCanceled(errors.Join(errors.New("wrap"), ErrCanceled)))
	assert.False(t, IsCanceled(errors.New("other")))
	assert.False(t, IsCanceled(nil))
}
