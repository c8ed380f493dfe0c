package service

import (
	"time"

	workerpool "github.com/okian/prode/internal/adapters/mq/worker"
	"github.com/okian/prode/internal/domain/scoring"
	"github.com/okian/prode/internal/domain/validation"
	"github.com/okian/prode/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of sync workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum number of queued sync jobs.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many revision keys the deduper remembers.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCatalog sets the forces and provinces payloads are checked against.
func WithCatalog(c validation.Catalog) Option {
	return func(s *Service) {
		s.validator = validation.New(c)
	}
}

// WithScoringWeights builds the scoring engine from w.
func WithScoringWeights(w scoring.Weights) Option {
	return func(s *Service) {
		s.scorer = scoring.NewEngine(scoring.WithWeights(w))
	}
}

// WithScorer replaces the scoring engine.
func WithScorer(sc scoring.Scorer) Option {
	return func(s *Service) {
		if sc != nil {
			s.scorer = sc
		}
	}
}

// WithDeadline closes submissions at t. The zero time keeps them open.
func WithDeadline(t time.Time) Option {
	return func(s *Service) {
		s.deadline = t
	}
}

// WithClock replaces time.Now for deadline checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSyncSink enables the sync pipeline, mirroring accepted predictions to sink.
func WithSyncSink(sink workerpool.Sink) Option {
	return func(s *Service) {
		s.sink = sink
	}
}
