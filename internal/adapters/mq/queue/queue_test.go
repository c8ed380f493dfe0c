package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/prode/internal/domain/model"
)

func job(email string) Job {
	return Job{Key: email + "@1", Prediction: model.Prediction{Email: email}}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	if !q.Enqueue(ctx, job("ana@example.com")) {
		t.Error("expected enqueue to succeed")
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	got := <-q.Dequeue(ctx)
	if got.Prediction.Email != "ana@example.com" {
		t.Errorf("expected ana@example.com, got %v", got.Prediction.Email)
	}
	if got.EnqueuedAt.IsZero() {
		t.Error("expected EnqueuedAt to be stamped")
	}
	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	for _, e := range []string{"a@x.com", "b@x.com"} {
		if !q.Enqueue(ctx, job(e)) {
			t.Fatalf("expected enqueue of %s to succeed", e)
		}
	}
	if q.Enqueue(ctx, job("c@x.com")) {
		t.Error("expected enqueue to fail when the queue is full")
	}
	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestInMemoryQueue_Close(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(4))
	ctx := context.Background()

	q.Enqueue(ctx, job("a@x.com"))
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to report closed")
	}
	if q.Enqueue(ctx, job("b@x.com")) {
		t.Error("expected enqueue after close to fail")
	}

	var drained []string
	for j := range q.Dequeue(ctx) {
		drained = append(drained, j.Prediction.Email)
	}
	if len(drained) != 1 || drained[0] != "a@x.com" {
		t.Errorf("expected queued job to drain after close, got %v", drained)
	}
}

func TestInMemoryQueue_CancelledDequeue(t *testing.T) {
	q := NewInMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	ch := q.Dequeue(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected no job from a cancelled dequeue")
		}
	case <-time.After(time.Second):
		t.Error("dequeue channel was not closed after cancellation")
	}
}

func TestInMemoryQueue_ConcurrentProducers(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(1000))
	ctx := context.Background()

	var wg sync.WaitGroup
	for p := 0; p < 10; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				q.Enqueue(ctx, job(fmt.Sprintf("p%d-%d@x.com", p, i)))
			}
		}(p)
	}
	wg.Wait()

	if l := q.Len(ctx); l != 500 {
		t.Errorf("expected 500 queued jobs, got %d", l)
	}
}
