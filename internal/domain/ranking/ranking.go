// Package ranking scores every stored prediction against the official result
// and orders them into a leaderboard.
package ranking

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/okian/prode/internal/domain/model"
	"github.com/okian/prode/internal/domain/scoring"
	"github.com/okian/prode/internal/domain/types"
	"github.com/okian/prode/pkg/logger"
	"github.com/okian/prode/pkg/metrics"
)

// Metric outcomes for ranking builds.
const (
	outcomeEmpty = "unpublished"
	outcomeBuilt = "ranked"
)

// Ranking is an ordered leaderboard. Skipped counts rows that could not be
// read and were left out.
type Ranking struct {
	Count   int           `json:"count"`
	Results []types.Entry `json:"results"`
	Skipped int           `json:"-"`
}

// Option applies a configuration option to a ranking build.
type Option func(*builder)

type builder struct {
	scorer scoring.Scorer
	log    logger.Logger
	ctx    context.Context //nolint:containedctx // only carried for log calls
}

// WithScorer replaces the default scoring engine.
func WithScorer(s scoring.Scorer) Option {
	return func(b *builder) {
		if s != nil {
			b.scorer = s
		}
	}
}

// WithLogger sets the logger that reports skipped rows.
func WithLogger(l logger.Logger) Option {
	return func(b *builder) {
		if l != nil {
			b.log = l
		}
	}
}

// WithContext sets the context passed to log calls.
func WithContext(ctx context.Context) Option {
	return func(b *builder) {
		if ctx != nil {
			b.ctx = ctx
		}
	}
}

// Compute ranks rows against official. A nil official result yields an empty
// ranking. filter, when non-empty, keeps rows whose username or email contains
// it case-insensitively. Rows carrying an error are logged and skipped.
//
// Entries are ordered by score descending, then by submission time ascending;
// rows equal on both keep their input order.
func Compute(official *model.OfficialResult, rows []model.Row, filter string, opts ...Option) Ranking {
	b := &builder{
		scorer: scoring.NewEngine(),
		log:    logger.Nop(),
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(b)
	}

	start := time.Now()
	if official == nil {
		metrics.RecordRankingBuild(outcomeEmpty, msSince(start), 0)
		return Ranking{Results: []types.Entry{}}
	}

	needle := strings.ToLower(strings.TrimSpace(filter))
	out := make([]types.Entry, 0, len(rows))
	skipped := 0
	for i := range rows {
		row := &rows[i]
		if row.Err != nil {
			skipped++
			metrics.RecordRankingSkipped()
			b.log.Warn(b.ctx, "skipping unreadable prediction",
				logger.String("id", row.Prediction.ID),
				logger.String("email", row.Prediction.Email),
				logger.Error(row.Err))
			continue
		}
		p := &row.Prediction
		if needle != "" && !matches(p, needle) {
			continue
		}

		t0 := time.Now()
		res := b.scorer.Score(p, official)
		metrics.RecordScoringDuration(msSince(t0))

		out = append(out, types.Entry{
			Username:    p.Username,
			Email:       p.Email,
			Score:       res.Score,
			Breakdown:   res.Breakdown,
			SubmittedAt: p.SubmittedAt(),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	for i := range out {
		out[i].Position = i + 1
	}

	metrics.RecordRankingBuild(outcomeBuilt, msSince(start), len(out))
	return Ranking{Count: len(out), Results: out, Skipped: skipped}
}

func matches(p *model.Prediction, needle string) bool {
	return strings.Contains(strings.ToLower(p.Username), needle) ||
		strings.Contains(strings.ToLower(p.Email), needle)
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
