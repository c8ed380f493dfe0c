// Package worker delivers queued prediction revisions to the sync sink.
package worker

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/okian/prode/internal/adapters/mq/queue"
	"github.com/okian/prode/internal/domain/model"
	"github.com/okian/prode/pkg/logger"
	"github.com/okian/prode/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerCount  = 2
	poolShutdownTimeout = 30 * time.Second
)

// Sink receives prediction revisions.
type Sink interface {
	Deliver(ctx context.Context, p model.Prediction) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, p model.Prediction) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, p model.Prediction) error { return f(ctx, p) } //nolint:gocritic // hugeParam

// Marker clears the pending flag once a revision is delivered.
type Marker interface {
	MarkSynced(ctx context.Context, email string, updatedAt time.Time) (bool, error)
}

// Forgetter releases a dedupe key so a failed job can be queued again.
type Forgetter interface {
	Unrecord(ctx context.Context, key string)
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Job
}

// Worker processes jobs until its queue closes.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue closes.
	Run(ctx context.Context)

	// Shutdown stops the worker without draining the queue.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue     Queue
	sink      Sink
	marker    Marker
	forgetter Forgetter
	name      string

	shutdown chan struct{}
	once     sync.Once
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, sink Sink, marker Marker, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    q,
		sink:     sink,
		marker:   marker,
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case j, ok := <-jobs:
			if !ok {
				return
			}
			if err := w.process(ctx, j); err != nil {
				w.logger.Error(ctx, "sync delivery failed", logger.Error(err))
			}
		}
	}
}

// Shutdown stops the worker after its current job.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.once.Do(func() { close(w.shutdown) })
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Done is closed when Run returns.
func (w *InMemoryWorker) Done() <-chan struct{} { return w.done }

// process delivers one job. On failure the dedupe key is released and the
// prediction stays pending for a later retry.
func (w *InMemoryWorker) process(ctx context.Context, j queue.Job) error { //nolint:gocritic // hugeParam: jobs are passed by value through the channel
	p := j.Prediction
	if err := w.sink.Deliver(ctx, p); err != nil {
		metrics.RecordSyncFailed()
		metrics.RecordErrorByComponent("worker", "deliver")
		w.forget(ctx, j.Key)
		return fmt.Errorf("deliver %s: %w", p.Email, err)
	}

	if _, err := w.marker.MarkSynced(ctx, p.Email, p.UpdatedAt); err != nil {
		metrics.RecordErrorByComponent("worker", "mark_synced")
		w.forget(ctx, j.Key)
		return fmt.Errorf("mark %s synced: %w", p.Email, err)
	}
	metrics.RecordSyncDelivered()
	w.logger.Debug(ctx, "prediction synced",
		logger.String("email", p.Email),
		logger.Duration("wait", time.Since(j.EnqueuedAt)))
	return nil
}

func (w *InMemoryWorker) forget(ctx context.Context, key string) {
	if w.forgetter != nil && key != "" {
		w.forgetter.Unrecord(ctx, key)
	}
}

// Pool manages multiple workers.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	logger  logger.Logger
}

// NewPool creates a pool of workerCount workers sharing q.
func NewPool(workerCount int, q Queue, sink Sink, marker Marker, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = defaultWorkerCount
	}

	cfg := &InMemoryWorker{logger: logger.Nop()}
	for _, opt := range opts {
		opt(cfg)
	}
	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  cfg.logger.Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		pool.workers[i] = NewInMemoryWorker(q, sink, marker,
			append(slices.Clip(opts), WithName("worker-"+strconv.Itoa(i)))...)
	}
	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Shutdown closes the queue and waits for the workers to drain it. Workers
// still busy when ctx (or the pool timeout) expires are stopped.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var timedOut bool
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			timedOut = true
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			w.once.Do(func() { close(w.shutdown) })
		}
	}
	if timedOut {
		return fmt.Errorf("worker pool shutdown: %w", shutdownCtx.Err())
	}
	return nil
}
