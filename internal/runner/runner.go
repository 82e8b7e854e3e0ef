// Package runner bounds the number of concurrently in-flight blocking
// operations (image pulls/unpacks, sandbox helper invocations) to the
// configured runner thread count.
package runner

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrent blocking work to a fixed weight.
type Pool struct {
	sem     *semaphore.Weighted
	pending metric.Int64UpDownCounter

	// slots backs RunBlockingSlotted: a fixed set of identity tokens
	// 0..threads-1, each standing in for one of the CPU-pinned runner
	// threads bound by the cgroup binder. Go has no public OS-thread-id
	// accessor, so callers that need a stable per-thread key (the
	// container action's cpuset lookup) use the slot index instead.
	slots chan int
}

// New constructs a pool sized to threads concurrent permits. meter may be
// nil, in which case the pending-tasks gauge is not reported.
func New(threads int, meter metric.Meter) *Pool {
	slots := make(chan int, threads)
	for i := 0; i < threads; i++ {
		slots <- i
	}

	p := &Pool{sem: semaphore.NewWeighted(int64(threads)), slots: slots}
	if meter != nil {
		if ctr, err := meter.Int64UpDownCounter("judgeorch_runner_pending_tasks"); err == nil {
			p.pending = ctr
		}
	}
	return p
}

// RunBlocking acquires a permit and runs f on its own goroutine. If ctx is
// done before a permit is available, it returns the zero value of T and
// ctx.Err() without running f. If ctx is done while f is already running,
// RunBlocking returns early with ctx.Err(), but the permit is not released
// until f actually returns — a caller racing in after cancellation must
// never observe a free permit while the prior call's blocking work (a
// sandbox helper invocation, say) is still tearing down.
func RunBlocking[T any](ctx context.Context, p *Pool, f func() (T, error)) (T, error) {
	var zero T

	if p.pending != nil {
		p.pending.Add(ctx, 1)
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		if p.pending != nil {
			p.pending.Add(ctx, -1)
		}
		return zero, err
	}
	if p.pending != nil {
		p.pending.Add(ctx, -1)
	}

	type outcome struct {
		val T
		err error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		v, err := f()
		resultCh <- outcome{v, err}
		p.sem.Release(1)
	}()

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-resultCh:
		return r.val, r.err
	}
}

// RunBlockingSlotted is RunBlocking's sibling for work that needs a stable
// identity across invocations (the container action's per-slot cpuset
// lookup): f runs with the slot index it was assigned, and the same
// index is reused by whichever call next claims that slot. As with
// RunBlocking, a cancelled ctx only short-circuits the value handed back
// to this caller — the slot is not returned to the pool until f itself
// returns, so a second call can never be handed the same CPU pinning
// while the first invocation's helper process is still being torn down.
func RunBlockingSlotted[T any](ctx context.Context, p *Pool, f func(slot int) (T, error)) (T, error) {
	var zero T

	var slot int
	select {
	case slot = <-p.slots:
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	type outcome struct {
		val T
		err error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		v, err := f(slot)
		resultCh <- outcome{v, err}
		p.slots <- slot
	}()

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-resultCh:
		return r.val, r.err
	}
}
