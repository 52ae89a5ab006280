package async_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sessionkit/pkg/async"
)

func TestGo(t *testing.T) {
	t.Parallel()

	t.Run("returns value", func(t *testing.T) {
		t.Parallel()

		f := async.Go(context.Background(), func(ctx context.Context) (int, error) {
			return 42, nil
		})
		v, err := f.Await()
		require.NoError(t, err)
		assert.Equal(t, 42, v)
		assert.True(t, f.IsComplete())
	})

	t.Run("returns error", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		f := async.Go(context.Background(), func(ctx context.Context) (string, error) {
			return "", boom
		})
		_, err := f.Await()
		assert.ErrorIs(t, err, boom)
	})

	t.Run("skips function for cancelled context", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		var called atomic.Bool
		f := async.Go(ctx, func(ctx context.Context) (int, error) {
			called.Store(true)
			return 1, nil
		})
		_, err := f.Await()
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, called.Load())
	})

	t.Run("recovers panic", func(t *testing.T) {
		t.Parallel()

		f := async.Go(context.Background(), func(ctx context.Context) (int, error) {
			panic("kaboom")
		})
		_, err := f.Await()
		assert.ErrorIs(t, err, async.ErrPanic)
	})
}

func TestFuture_AwaitWithTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	f := async.Go(context.Background(), func(ctx context.Context) (int, error) {
		<-release
		return 7, nil
	})

	_, err := f.AwaitWithTimeout(10 * time.Millisecond)
	assert.ErrorIs(t, err, async.ErrTimeout)
	assert.False(t, f.IsComplete())

	close(release)
	v, err := f.AwaitWithTimeout(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestFuture_AwaitContext(t *testing.T) {
	t.Parallel()

	f := async.Go(context.Background(), func(ctx context.Context) (int, error) {
		time.Sleep(100 * time.Millisecond)
		return 1, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := f.AwaitContext(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestThenAndAll(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	first := async.Go(ctx, func(ctx context.Context) (int, error) { return 2, nil })
	second := async.Then(ctx, first, func(ctx context.Context, v int) (int, error) { return v * 10, nil })

	values, err := async.All(first, second, async.Resolved(5, nil))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 20, 5}, values)

	boom := errors.New("boom")
	failed := async.Then(ctx, async.Resolved(0, boom), func(ctx context.Context, v int) (int, error) {
		t.Fatal("must not run after failure")
		return 0, nil
	})
	_, err = failed.Await()
	assert.ErrorIs(t, err, boom)
}
