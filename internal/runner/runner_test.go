package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunBlockingRunsAndReturns(t *testing.T) {
	p := New(2, nil)
	v, err := RunBlocking(context.Background(), p, func() (int, error) {
		return 5, nil
	})
	if err != nil || v != 5 {
		t.Fatalf("RunBlocking() = (%d, %v)", v, err)
	}
}

func TestRunBlockingPropagatesError(t *testing.T) {
	p := New(1, nil)
	wantErr := errors.New("boom")
	_, err := RunBlocking(context.Background(), p, func() (int, error) {
		return 0, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("RunBlocking() error = %v, want %v", err, wantErr)
	}
}

func TestRunBlockingBoundsConcurrency(t *testing.T) {
	p := New(1, nil)
	var inFlight int32
	var maxSeen int32

	started := make(chan struct{}, 2)
	release := make(chan struct{})

	run := func() {
		RunBlocking(context.Background(), p, func() (int, error) {
			n := atomic.AddInt32(&inFlight, 1)
			if n > atomic.LoadInt32(&maxSeen) {
				atomic.StoreInt32(&maxSeen, n)
			}
			started <- struct{}{}
			<-release
			atomic.AddInt32(&inFlight, -1)
			return 0, nil
		})
	}

	go run()
	go run()

	<-started
	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&maxSeen) != 1 {
		t.Fatalf("expected at most 1 concurrent task, saw %d", maxSeen)
	}
	close(release)
}

func TestRunBlockingContextCancelledBeforeAcquire(t *testing.T) {
	p := New(1, nil)
	blockRelease := make(chan struct{})
	defer close(blockRelease)
	go RunBlocking(context.Background(), p, func() (int, error) {
		<-blockRelease
		return 0, nil
	})
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := RunBlocking(ctx, p, func() (int, error) { return 1, nil })
	if err != context.Canceled {
		t.Fatalf("RunBlocking() error = %v, want context.Canceled", err)
	}
}

func TestRunBlockingHoldsPermitUntilFReturnsAfterCancellation(t *testing.T) {
	p := New(1, nil)
	fStarted := make(chan struct{})
	releaseF := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_, _ = RunBlocking(ctx, p, func() (int, error) {
			close(fStarted)
			<-releaseF
			return 0, nil
		})
		close(done)
	}()

	<-fStarted
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunBlocking did not return after cancellation")
	}

	// f is still running (blocked on releaseF): a second caller must not
	// be able to acquire the permit yet.
	acquired := make(chan struct{})
	go func() {
		_, _ = RunBlocking(context.Background(), p, func() (int, error) { return 0, nil })
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second caller acquired the permit while the first call's f was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(releaseF)

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second caller never acquired the permit after f actually returned")
	}
}

func TestRunBlockingSlottedHoldsSlotUntilFReturnsAfterCancellation(t *testing.T) {
	p := New(1, nil)
	fStarted := make(chan struct{})
	releaseF := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_, _ = RunBlockingSlotted(ctx, p, func(slot int) (int, error) {
			close(fStarted)
			<-releaseF
			return slot, nil
		})
		close(done)
	}()

	<-fStarted
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunBlockingSlotted did not return after cancellation")
	}

	acquired := make(chan struct{})
	go func() {
		_, _ = RunBlockingSlotted(context.Background(), p, func(slot int) (int, error) { return slot, nil })
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second caller acquired the slot while the first call's f was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(releaseF)

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second caller never acquired the slot after f actually returned")
	}
}

func TestRunBlockingSlottedReusesSlotIndices(t *testing.T) {
	p := New(2, nil)
	seen := make(map[int]bool)
	var mu sync.Mutex

	for i := 0; i < 6; i++ {
		_, err := RunBlockingSlotted(context.Background(), p, func(slot int) (int, error) {
			mu.Lock()
			seen[slot] = true
			mu.Unlock()
			return slot, nil
		})
		if err != nil {
			t.Fatalf("RunBlockingSlotted() error = %v", err)
		}
	}

	if len(seen) > 2 {
		t.Fatalf("saw %d distinct slots, want at most 2", len(seen))
	}
	for slot := range seen {
		if slot < 0 || slot >= 2 {
			t.Fatalf("slot %d out of range [0,2)", slot)
		}
	}
}
