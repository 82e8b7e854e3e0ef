// Package queue bridges the executor's per-action work into the runner
// pool: a bounded channel of work items, each paired with a buffered reply
// channel so a sender never blocks on a reply nobody is left to read.
package queue

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/judgeorch/internal/submission"
)

// Reply carries the outcome of one dispatched action.
type Reply struct {
	Report submission.ActionReport
	Err    error
}

// WorkItem is one action awaiting execution.
type WorkItem struct {
	SubmissionID string
	RootDir      string
	Config       *submission.ActionConfig
	Span         trace.Span
	Reply        chan Reply
}

// Queue is a bounded channel of work items plus the goroutine dispatch
// loop that drains it.
type Queue struct {
	items    chan WorkItem
	dispatch func(context.Context, WorkItem)
}

// New constructs a queue with the given depth. dispatch is invoked on its
// own goroutine for every received item, with a context carrying the
// item's trace span.
func New(depth int, dispatch func(context.Context, WorkItem)) *Queue {
	return &Queue{
		items:    make(chan WorkItem, depth),
		dispatch: dispatch,
	}
}

// Submit enqueues item, blocking if the queue is full, or returns
// ctx.Err() if ctx is done first.
func (q *Queue) Submit(ctx context.Context, item WorkItem) error {
	select {
	case q.items <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the queue until ctx is done, dispatching each item on its own
// goroutine.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-q.items:
			itemCtx := ctx
			if item.Span != nil {
				itemCtx = trace.ContextWithSpan(ctx, item.Span)
			}
			go func() {
				defer func() {
					if r := recover(); r != nil {
						slog.Error("queue dispatch panicked", "submission_id", item.SubmissionID, "panic", r)
						select {
						case item.Reply <- Reply{Err: errPanicked(r)}:
						default:
						}
					}
				}()
				q.dispatch(itemCtx, item)
			}()
		}
	}
}

func errPanicked(r interface{}) error {
	return &panicError{r: r}
}

type panicError struct{ r interface{} }

func (e *panicError) Error() string { return "queue: dispatch panicked" }
