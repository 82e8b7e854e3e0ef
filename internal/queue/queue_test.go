package queue

import (
	"context"
	"testing"
	"time"
)

func TestQueueDispatchesSubmittedItems(t *testing.T) {
	received := make(chan string, 1)
	q := New(4, func(ctx context.Context, item WorkItem) {
		received <- item.SubmissionID
		item.Reply <- Reply{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	reply := make(chan Reply, 1)
	if err := q.Submit(ctx, WorkItem{SubmissionID: "sub-1", Reply: reply}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	select {
	case id := <-received:
		if id != "sub-1" {
			t.Fatalf("dispatched id = %q, want sub-1", id)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch")
	}

	select {
	case <-reply:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reply")
	}
}

func TestQueueSubmitRespectsCancellation(t *testing.T) {
	q := New(1, func(ctx context.Context, item WorkItem) {})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Fill the buffer first so the next Submit would otherwise block.
	q.items <- WorkItem{}

	if err := q.Submit(ctx, WorkItem{}); err != context.Canceled {
		t.Fatalf("Submit() error = %v, want context.Canceled", err)
	}
}
