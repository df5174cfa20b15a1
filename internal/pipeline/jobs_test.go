package pipeline_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docpipe/internal/pipeline"
)

func TestPool_Do(t *testing.T) {
	p := pipeline.NewPool(2)
	n, err := pipeline.Do(context.Background(), p, pipeline.Job[int]{
		Stage: "test",
		Run:   func(context.Context) (int, error) { return 42, nil },
	})
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	boom := errors.New("boom")
	_, err = pipeline.Do(context.Background(), p, pipeline.Job[string]{
		Stage: "test",
		Run:   func(context.Context) (string, error) { return "", boom },
	})
	assert.ErrorIs(t, err, boom)
}

func TestPool_BoundsConcurrency(t *testing.T) {
	p := pipeline.NewPool(2)
	var running, peak int32
	release := make(chan struct{})

	var chans []<-chan pipeline.Result[struct{}]
	for i := 0; i < 5; i++ {
		chans = append(chans, pipeline.Submit(context.Background(), p, pipeline.Job[struct{}]{
			Stage: "test",
			Run: func(context.Context) (struct{}, error) {
				n := atomic.AddInt32(&running, 1)
				for {
					old := atomic.LoadInt32(&peak)
					if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
						break
					}
				}
				<-release
				atomic.AddInt32(&running, -1)
				return struct{}{}, nil
			},
		}))
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	for _, ch := range chans {
		_, err := pipeline.Await(context.Background(), ch)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&peak))
}

func TestPool_AwaitHonorsContext(t *testing.T) {
	p := pipeline.NewPool(1)
	block := make(chan struct{})
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := pipeline.Do(ctx, p, pipeline.Job[int]{
		Stage: "test",
		Run: func(context.Context) (int, error) {
			<-block
			return 0, nil
		},
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
