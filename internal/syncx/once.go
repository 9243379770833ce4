package syncx

import (
	"context"
	"sync/atomic"
)

// SucceedOnce is a [sync.Once] variant that allows for the operation to fail.
//
// Callers that arrive while the operation is in progress wait for it to
// finish, or for their own context to be canceled.
type SucceedOnce struct {
	done atomic.Bool
	sem  atomic.Pointer[chan struct{}]
}

// Do executes the fn if and only if it has not been called successfully before.
func (o *SucceedOnce) Do(ctx context.Context, fn func(context.Context) error) error {
	if o.done.Load() {
		return nil
	}

	sem := o.semaphore()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case sem <- struct{}{}:
	}
	defer func() { <-sem }()

	if o.done.Load() {
		return nil
	}

	if err := fn(ctx); err != nil {
		return err
	}

	o.done.Store(true)

	return nil
}

func (o *SucceedOnce) semaphore() chan struct{} {
	if p := o.sem.Load(); p != nil {
		return *p
	}

	ch := make(chan struct{}, 1)
	o.sem.CompareAndSwap(nil, &ch)

	return *o.sem.Load()
}
