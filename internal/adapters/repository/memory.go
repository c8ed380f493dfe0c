package repository

import (
	"context"
	"sync"
	"time"

	"github.com/okian/prode/internal/domain/model"
	"github.com/okian/prode/pkg/metrics"
)

// MemoryStore is an in-process Store. Reads return copies, so callers may
// modify what they get back.
type MemoryStore struct {
	mu sync.RWMutex

	opts        options
	predictions []*model.Prediction
	byEmail     map[string]*model.Prediction
	results     []*model.OfficialResult
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		opts:    buildOptions(opts),
		byEmail: make(map[string]*model.Prediction),
	}
}

func (s *MemoryStore) Upsert(_ context.Context, p *model.Prediction) (model.Prediction, error) {
	if p == nil {
		return model.Prediction{}, ErrNilInput
	}
	email := model.NormalizeEmail(p.Email)
	if email == "" {
		return model.Prediction{}, ErrInvalidEmail
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.now()
	next := p.Clone()
	next.Email = email
	next.SyncPending = true

	if cur, ok := s.byEmail[email]; ok {
		next.ID = cur.ID
		next.CreatedAt = cur.CreatedAt
		next.UpdatedAt = bump(now, cur.UpdatedAt)
		*cur = next
		return cur.Clone(), nil
	}

	next.ID = s.opts.newID()
	next.CreatedAt = now
	next.UpdatedAt = now
	stored := &next
	s.predictions = append(s.predictions, stored)
	s.byEmail[email] = stored
	metrics.UpdatePredictionsStored(len(s.predictions))
	return stored.Clone(), nil
}

func (s *MemoryStore) GetByEmail(_ context.Context, email string) (model.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byEmail[model.NormalizeEmail(email)]
	if !ok {
		return model.Prediction{}, ErrNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context) ([]model.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]model.Row, len(s.predictions))
	for i, p := range s.predictions {
		rows[i] = model.Row{Prediction: p.Clone()}
	}
	return rows, nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.predictions), nil
}

func (s *MemoryStore) MarkSynced(_ context.Context, email string, updatedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byEmail[model.NormalizeEmail(email)]
	if !ok {
		return false, ErrNotFound
	}
	if !p.SyncPending || !p.UpdatedAt.Equal(updatedAt) {
		return false, nil
	}
	p.SyncPending = false
	return true, nil
}

func (s *MemoryStore) ListSyncPending(_ context.Context) ([]model.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Prediction
	for _, p := range s.predictions {
		if p.SyncPending {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteWhere(_ context.Context, match func(*model.Prediction) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.predictions[:0]
	removed := 0
	for _, p := range s.predictions {
		if match(p) {
			delete(s.byEmail, p.Email)
			removed++
			continue
		}
		kept = append(kept, p)
	}
	clear(s.predictions[len(kept):])
	s.predictions = kept
	metrics.UpdatePredictionsStored(len(s.predictions))
	return removed, nil
}

func (s *MemoryStore) SaveResult(_ context.Context, o *model.OfficialResult) (model.OfficialResult, error) {
	if o == nil {
		return model.OfficialResult{}, ErrNilInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := o.Clone()
	stored.ID = s.opts.newID()
	stored.CreatedAt = s.opts.now()
	if stored.Published && stored.PublishedAt == nil {
		t := stored.CreatedAt
		stored.PublishedAt = &t
	}
	s.results = append(s.results, &stored)
	return stored.Clone(), nil
}

func (s *MemoryStore) CurrentPublished(_ context.Context) (*model.OfficialResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var current *model.OfficialResult
	for _, r := range s.results {
		if r.Published && r.PublishedAt != nil && newer(r, current) {
			current = r
		}
	}
	if current == nil {
		return nil, nil //nolint:nilnil // no published result is not an error
	}
	c := current.Clone()
	return &c, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// bump returns now, or a nanosecond after prev when the clock has not moved
// past it. Revisions of the same prediction get distinct UpdatedAt values.
func bump(now, prev time.Time) time.Time {
	if now.After(prev) {
		return now
	}
	return prev.Add(time.Nanosecond)
}
