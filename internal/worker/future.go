package worker

import (
	"context"
)

// Future is the pending result of a job submitted with Go.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the job finished or ctx is done. Giving up on ctx
// does not stop the job.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Go submits fn to the pool and returns a Future for its result. A panic
// inside fn resolves the Future with *PanicError.
func Go[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (*Future[T], error) {
	f := &Future[T]{done: make(chan struct{})}
	err := p.Submit(ctx, func(ctx context.Context) {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				f.err = &PanicError{Value: r}
				panic(r)
			}
		}()
		f.val, f.err = fn(ctx)
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}
