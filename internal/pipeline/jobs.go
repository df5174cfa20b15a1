package pipeline

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/semaphore"

	"docpipe/internal/domain"
	"docpipe/internal/metrics"
)

// Pool bounds the number of post-parse jobs running at once. Submitters queue
// for a slot instead of being rejected.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool creates a Pool with n slots.
func NewPool(n int) *Pool {
	if n < 1 {
		n = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(n))}
}

// Job is a unit of work producing a T. Stage names it in metrics.
type Job[T any] struct {
	Stage string
	Run   func(ctx context.Context) (T, error)
}

// Result is the outcome of a Job.
type Result[T any] struct {
	Value T
	Err   error
}

// Submit starts job once a slot is free. The returned channel receives exactly
// one Result.
func Submit[T any](ctx context.Context, p *Pool, job Job[T]) <-chan Result[T] {
	out := make(chan Result[T], 1)
	go func() {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			out <- Result[T]{Err: err}
			return
		}
		defer p.sem.Release(1)

		start := time.Now()
		v, err := job.Run(ctx)
		metrics.ObserveStage(job.Stage, start)
		out <- Result[T]{Value: v, Err: err}
	}()
	return out
}

// Await waits for a submitted job.
func Await[T any](ctx context.Context, ch <-chan Result[T]) (T, error) {
	select {
	case r := <-ch:
		return r.Value, r.Err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Do submits job and waits for its result.
func Do[T any](ctx context.Context, p *Pool, job Job[T]) (T, error) {
	return Await(ctx, Submit(ctx, p, job))
}

// retryOnce runs fn again after a transient failure.
func retryOnce(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || !transient(err) || ctx.Err() != nil {
		return err
	}
	return fn()
}

func transient(err error) bool {
	switch domain.KindOf(err) {
	case domain.KindUnsupportedFormat, domain.KindParseInvalid, domain.KindOCRExpired,
		domain.KindStateRejected, domain.KindThrottled, domain.KindIntegrityViolation:
		return false
	}
	return !errors.Is(err, context.Canceled)
}
