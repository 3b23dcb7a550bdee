package asr

import "context"

// WorkerPool bounds the number of concurrent blocking recognize() calls
// against the inference server, mirroring the fixed-size thread pool the
// acoustic-model pipeline uses to keep a handful of concurrent sessions from
// saturating the HTTP client's connection pool.
type WorkerPool struct {
	tokens chan struct{}
}

// NewWorkerPool returns a pool that admits at most size concurrent tasks.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{tokens: make(chan struct{}, size)}
}

// Submit runs fn once a slot is free, blocking until one is available or ctx
// is canceled. The slot is released as soon as fn returns.
func Submit[T any](ctx context.Context, p *WorkerPool, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	select {
	case p.tokens <- struct{}{}:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	defer func() { <-p.tokens }()

	return fn(ctx)
}
