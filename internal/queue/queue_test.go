package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sealbox/backend/internal/envelope"
)

func TestJobsRunInOrderOneAtATime(t *testing.T) {
	q := New(8, nil)
	defer q.Close()

	var (
		mu      sync.Mutex
		order   []int
		running atomic.Int32
		overlap atomic.Bool
	)

	var results []<-chan Result
	for i := 0; i < 8; i++ {
		i := i
		results = append(results, q.Submit(context.Background(), "job", func(ctx context.Context) (int32, error) {
			if running.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			running.Add(-1)
			return int32(i), nil
		}))
	}

	for i, ch := range results {
		r := <-ch
		if r.Err != nil || r.Status != int32(i) {
			t.Errorf("job %d result = %+v", i, r)
		}
	}
	if overlap.Load() {
		t.Error("two jobs ran concurrently")
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("execution order = %v", order)
		}
	}
}

func TestResultCode(t *testing.T) {
	q := New(1, nil)
	defer q.Close()

	r := <-q.Submit(context.Background(), "auth", func(ctx context.Context) (int32, error) {
		return 0, envelope.ErrAuthentication
	})
	if r.Code() != envelope.CodeAuthentication {
		t.Errorf("Code() = %d, want %d", r.Code(), envelope.CodeAuthentication)
	}

	r = <-q.Submit(context.Background(), "peer", func(ctx context.Context) (int32, error) {
		return 2, nil
	})
	if r.Code() != 2 {
		t.Errorf("Code() = %d, want peer status 2", r.Code())
	}
}

func TestCloseDrainsQueuedJobs(t *testing.T) {
	q := New(4, nil)

	release := make(chan struct{})
	var ran atomic.Int32
	first := q.Submit(context.Background(), "blocker", func(ctx context.Context) (int32, error) {
		<-release
		ran.Add(1)
		return 0, nil
	})
	second := q.Submit(context.Background(), "queued", func(ctx context.Context) (int32, error) {
		ran.Add(1)
		return 0, nil
	})

	closed := make(chan struct{})
	go func() {
		q.Close()
		close(closed)
	}()

	close(release)
	<-closed

	if ran.Load() != 2 {
		t.Errorf("ran %d jobs, want 2", ran.Load())
	}
	<-first
	if r := <-second; r.Err != nil {
		t.Errorf("queued job result = %+v", r)
	}

	r := <-q.Submit(context.Background(), "late", func(ctx context.Context) (int32, error) {
		t.Error("job ran after Close")
		return 0, nil
	})
	if !errors.Is(r.Err, ErrClosed) {
		t.Errorf("late submit: got %v, want ErrClosed", r.Err)
	}
	q.Close()
}

func TestCancelledJobSkipped(t *testing.T) {
	q := New(2, nil)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := <-q.Submit(ctx, "cancelled", func(ctx context.Context) (int32, error) {
		t.Error("cancelled job ran")
		return 0, nil
	})
	if !errors.Is(r.Err, envelope.ErrTransport) || !errors.Is(r.Err, context.Canceled) {
		t.Errorf("cancelled job: got %v", r.Err)
	}
	if r.Code() != envelope.CodeTransport {
		t.Errorf("Code() = %d, want %d", r.Code(), envelope.CodeTransport)
	}
}

func TestPending(t *testing.T) {
	q := New(4, nil)
	defer q.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	q.Submit(context.Background(), "blocker", func(ctx context.Context) (int32, error) {
		close(started)
		<-release
		return 0, nil
	})
	<-started

	noop := func(ctx context.Context) (int32, error) { return 0, nil }
	q.Submit(context.Background(), "a", noop)
	last := q.Submit(context.Background(), "b", noop)
	if n := q.Pending(); n != 2 {
		t.Errorf("Pending() = %d, want 2", n)
	}

	close(release)
	<-last
	if n := q.Pending(); n != 0 {
		t.Errorf("Pending() after drain = %d, want 0", n)
	}
}
