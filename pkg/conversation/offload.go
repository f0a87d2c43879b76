package conversation

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// offloader bounds and runs blocking work (transcription, synthesis,
// playback) off the Driver's own call stack so a caller-cancelled ctx
// always returns the Driver's loop promptly, even if the underlying call
// has no cancellation path of its own. This is the Go analogue of the
// original's asyncio.to_thread offload (spec.md §5), grounded on
// golang.org/x/sync usage in the example pack.
type offloader struct {
	sem *semaphore.Weighted
}

// newOffloader bounds concurrent blocking calls to n (at least 1).
func newOffloader(n int64) *offloader {
	if n <= 0 {
		n = 1
	}
	return &offloader{sem: semaphore.NewWeighted(n)}
}

// run executes fn on a worker goroutine and waits for either fn to finish
// or ctx to be cancelled, whichever comes first. If ctx is cancelled first,
// run returns ctx.Err() immediately without waiting for fn — fn keeps
// running to completion in the background, since Go has no way to force a
// blocking third-party call to abort from the outside.
func (o *offloader) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer o.sem.Release(1)

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	g.Go(func() error {
		defer close(done)
		return fn(gctx)
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return g.Wait()
	}
}
