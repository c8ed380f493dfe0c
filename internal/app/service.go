// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	eventqueue "github.com/okian/prode/internal/adapters/mq/queue"
	workerpool "github.com/okian/prode/internal/adapters/mq/worker"
	"github.com/okian/prode/internal/adapters/repository"
	"github.com/okian/prode/internal/domain/dedupe"
	"github.com/okian/prode/internal/domain/model"
	"github.com/okian/prode/internal/domain/ranking"
	"github.com/okian/prode/internal/domain/scoring"
	"github.com/okian/prode/internal/domain/types"
	"github.com/okian/prode/internal/domain/validation"
	"github.com/okian/prode/pkg/logger"
	"github.com/okian/prode/pkg/metrics"
)

// Default service configuration.
const (
	defaultWorkerCount = 2
	defaultQueueSize   = 10000
	defaultDedupeSize  = 50000
)

// Service implements the API dependencies for the prediction game.
type Service struct {
	mu sync.RWMutex
	// submitMu serialises the read-merge-write of partial submissions.
	submitMu sync.Mutex

	// Core components
	store     repository.Store
	validator *validation.Validator
	scorer    scoring.Scorer
	deduper   dedupe.Deduper
	syncQueue *eventqueue.InMemoryQueue
	sink      workerpool.Sink
	pool      *workerpool.Pool

	// Configuration
	workerCount int
	queueSize   int
	dedupeSize  int
	deadline    time.Time
	now         func() time.Time

	// State
	started bool

	logger logger.Logger
}

// New constructs a Service over store. A nil store falls back to an
// in-memory one.
func New(store repository.Store, opts ...Option) *Service {
	if store == nil {
		store = repository.NewMemoryStore()
	}
	s := &Service{
		store:       store,
		validator:   validation.New(validation.Catalog{}),
		scorer:      scoring.NewEngine(),
		workerCount: defaultWorkerCount,
		queueSize:   defaultQueueSize,
		dedupeSize:  defaultDedupeSize,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger = s.logger.Named("service")
	return s
}

// Start initializes the sync pipeline and queues every prediction still
// waiting to be mirrored.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.Info(ctx, "starting prode service...")

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	if s.sink != nil {
		s.syncQueue = eventqueue.NewInMemoryQueue(
			eventqueue.WithCapacity(s.queueSize),
			eventqueue.WithBufferSize(s.queueSize),
		)
		s.pool = workerpool.NewPool(s.workerCount, s.syncQueue, s.sink, s.store,
			workerpool.WithLogger(s.logger),
			workerpool.WithForgetter(s.deduper),
		)
		// Workers outlive the start context; Stop drains them.
		s.pool.Start(context.WithoutCancel(ctx))
	}
	s.started = true

	queued := 0
	if s.syncQueue != nil {
		pending, err := s.store.ListSyncPending(ctx)
		if err != nil {
			s.logger.Warn(ctx, "could not list pending predictions", logger.Error(err))
		}
		for i := range pending {
			if s.enqueueLocked(ctx, &pending[i]) {
				queued++
			}
		}
	}

	if n, err := s.store.Count(ctx); err == nil {
		metrics.UpdatePredictionsStored(n)
	}

	s.logger.Info(ctx, "prode service started",
		logger.Bool("sync", s.syncQueue != nil),
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Int("pendingQueued", queued),
	)
	return nil
}

// Stop drains the sync queue and closes the store.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.logger.Info(ctx, "stopping prode service...")

	var errs []error
	if s.pool != nil {
		if err := s.pool.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	s.started = false
	s.logger.Info(ctx, "prode service stopped")
	return errors.Join(errs...)
}

// Open reports whether predictions are still accepted.
func (s *Service) Open() bool {
	return s.deadline.IsZero() || s.now().Before(s.deadline)
}

// SubmitPrediction validates p and stores it under its email. Without
// fields p replaces any earlier prediction. With fields (JSON keys) only
// those are taken from p and the rest keep their stored values. The stored
// revision is queued for sync.
func (s *Service) SubmitPrediction(ctx context.Context, p *model.Prediction, fields ...string) (model.Prediction, error) {
	if p == nil {
		return model.Prediction{}, fmt.Errorf("submit prediction: %w", ErrNilInput)
	}
	if !s.Open() {
		metrics.RecordPredictionRejected("deadline")
		return model.Prediction{}, ErrDeadlinePassed
	}

	in := p.Clone()
	in.Email = model.NormalizeEmail(in.Email)
	in.Username = strings.TrimSpace(in.Username)

	if len(fields) > 0 && in.Email != "" {
		s.submitMu.Lock()
		defer s.submitMu.Unlock()

		cur, err := s.store.GetByEmail(ctx, in.Email)
		switch {
		case err == nil:
			cur.Merge(&in, fields)
			in = cur
		case !errors.Is(err, repository.ErrNotFound):
			metrics.RecordErrorByComponent("service", "get_prediction")
			return model.Prediction{}, fmt.Errorf("load prediction: %w", err)
		}
	}

	if err := s.validator.Prediction(&in); err != nil {
		reason := "invalid"
		var fe *validation.FieldError
		if errors.As(err, &fe) {
			reason = fe.Field
		}
		metrics.RecordPredictionRejected(reason)
		return model.Prediction{}, fmt.Errorf("submit prediction: %w", err)
	}

	saved, err := s.store.Upsert(ctx, &in)
	if err != nil {
		metrics.RecordErrorByComponent("service", "upsert")
		return model.Prediction{}, fmt.Errorf("store prediction: %w", err)
	}
	metrics.RecordPredictionSubmitted()
	if n, err := s.store.Count(ctx); err == nil {
		metrics.UpdatePredictionsStored(n)
	}

	s.logger.Debug(ctx, "prediction stored",
		logger.String("email", saved.Email),
		logger.Time("updatedAt", saved.UpdatedAt))

	s.enqueueSync(ctx, &saved)
	return saved, nil
}

// MyPrediction returns the prediction stored under email.
func (s *Service) MyPrediction(ctx context.Context, email string) (model.Prediction, error) {
	email = model.NormalizeEmail(email)
	if email == "" {
		return model.Prediction{}, ErrEmailRequired
	}
	p, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return model.Prediction{}, fmt.Errorf("get prediction: %w", err)
	}
	return p, nil
}

// CurrentResult returns the current published result, or nil when none is.
func (s *Service) CurrentResult(ctx context.Context) (*model.OfficialResult, error) {
	o, err := s.store.CurrentPublished(ctx)
	if err != nil {
		return nil, fmt.Errorf("current result: %w", err)
	}
	return o, nil
}

// PublishResult validates and stores an official result.
func (s *Service) PublishResult(ctx context.Context, o *model.OfficialResult) (model.OfficialResult, error) {
	if o == nil {
		return model.OfficialResult{}, fmt.Errorf("publish result: %w", ErrNilInput)
	}
	in := o.Clone()
	if err := s.validator.Result(&in); err != nil {
		return model.OfficialResult{}, fmt.Errorf("publish result: %w", err)
	}
	saved, err := s.store.SaveResult(ctx, &in)
	if err != nil {
		metrics.RecordErrorByComponent("service", "save_result")
		return model.OfficialResult{}, fmt.Errorf("store result: %w", err)
	}
	if saved.Published {
		metrics.RecordResultPublished()
		s.logger.Info(ctx, "official result published",
			logger.String("id", saved.ID),
			logger.Any("publishedAt", saved.PublishedAt))
	}
	return saved, nil
}

// Ranking scores every stored prediction against the current result.
func (s *Service) Ranking(ctx context.Context, filter string) (ranking.Ranking, error) {
	official, err := s.CurrentResult(ctx)
	if err != nil {
		return ranking.Ranking{}, err
	}
	var rows []model.Row
	if official != nil {
		if rows, err = s.store.List(ctx); err != nil {
			return ranking.Ranking{}, fmt.Errorf("list predictions: %w", err)
		}
	}
	return s.rank(ctx, official, rows, filter), nil
}

func (s *Service) rank(ctx context.Context, official *model.OfficialResult, rows []model.Row, filter string) ranking.Ranking {
	return ranking.Compute(official, rows, filter,
		ranking.WithScorer(s.scorer),
		ranking.WithLogger(s.logger),
		ranking.WithContext(ctx),
	)
}

// Players returns the usernames of completed predictions, most recently
// submitted first, plus the number of stored predictions.
func (s *Service) Players(ctx context.Context) (types.Players, error) {
	rows, err := s.store.List(ctx)
	if err != nil {
		return types.Players{}, fmt.Errorf("list predictions: %w", err)
	}
	completed := make([]*model.Prediction, 0, len(rows))
	for i := range rows {
		p := &rows[i].Prediction
		if rows[i].Err != nil || p.Username == "" || !p.Completed() {
			continue
		}
		completed = append(completed, p)
	}
	sort.SliceStable(completed, func(i, j int) bool {
		return completed[i].SubmittedAt().After(completed[j].SubmittedAt())
	})

	names := make([]string, len(completed))
	for i, p := range completed {
		names[i] = p.Username
	}
	return types.Players{
		Count:          len(names),
		CountCompleted: len(names),
		CountTotal:     len(rows),
		Usernames:      names,
	}, nil
}

// Metadata returns the sorted catalog, the forces allowed in each province
// and the deadline.
func (s *Service) Metadata() types.Metadata {
	c := s.validator.Catalog()
	md := types.Metadata{
		Forces:           slices.Sorted(slices.Values(c.Forces)),
		Provinces:        slices.Sorted(slices.Values(c.Provinces)),
		ForcesByProvince: make(map[string][]string, len(c.Provinces)),
		Open:             s.Open(),
	}
	for _, p := range c.Provinces {
		md.ForcesByProvince[p] = slices.Sorted(slices.Values(c.AllowedIn(p)))
	}
	if !s.deadline.IsZero() {
		d := s.deadline
		md.Deadline = &d
	}
	return md
}

// RetrySync queues every prediction still waiting to be mirrored and returns
// how many were queued.
func (s *Service) RetrySync(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started {
		return 0, ErrNotStarted
	}
	if s.syncQueue == nil {
		return 0, ErrSyncDisabled
	}
	pending, err := s.store.ListSyncPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending: %w", err)
	}
	queued := 0
	for i := range pending {
		if s.enqueueLocked(ctx, &pending[i]) {
			queued++
		}
	}
	s.logger.Info(ctx, "sync retry queued",
		logger.Int("pending", len(pending)),
		logger.Int("queued", queued))
	return queued, nil
}

// Ping checks that the store answers.
func (s *Service) Ping(ctx context.Context) error {
	if _, err := s.store.Count(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}

func (s *Service) enqueueSync(ctx context.Context, p *model.Prediction) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enqueueLocked(ctx, p)
}

// enqueueLocked must be called with s.mu held.
func (s *Service) enqueueLocked(ctx context.Context, p *model.Prediction) bool {
	if !s.started || s.syncQueue == nil {
		return false
	}
	key := dedupe.Key(p.Email, p.UpdatedAt)
	if s.deduper.SeenAndRecord(ctx, key) {
		metrics.RecordSyncDuplicate()
		return false
	}
	if !s.syncQueue.Enqueue(ctx, eventqueue.Job{Key: key, Prediction: p.Clone()}) {
		s.deduper.Unrecord(ctx, key)
		s.logger.Warn(ctx, "sync queue rejected prediction, left pending",
			logger.String("email", p.Email))
		return false
	}
	return true
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":     s.started,
		"syncEnabled": s.sink != nil,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
		"open":        s.Open(),
	}

	if s.started {
		if s.syncQueue != nil {
			stats["queueLength"] = s.syncQueue.Len(ctx)
		}
		stats["dedupeEntries"] = s.deduper.Size()
		if n, err := s.store.Count(ctx); err == nil {
			stats["predictions"] = n
			metrics.UpdatePredictionsStored(n)
		}
	}

	return stats
}
