package service

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/okian/prode/internal/domain/types"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Overview counts stored predictions and, once a result is published,
// summarises the ranked scores. Counts and scores come from one snapshot of
// the store and one read of the current result.
func (s *Service) Overview(ctx context.Context) (types.Overview, error) {
	official, err := s.CurrentResult(ctx)
	if err != nil {
		return types.Overview{}, err
	}
	rows, err := s.store.List(ctx)
	if err != nil {
		return types.Overview{}, fmt.Errorf("list predictions: %w", err)
	}
	ov := types.Overview{Predictions: len(rows), Open: s.Open()}
	for i := range rows {
		if rows[i].Err != nil {
			ov.Unreadable++
			continue
		}
		p := &rows[i].Prediction
		if p.Completed() {
			ov.Completed++
		}
		if p.SyncPending {
			ov.SyncPending++
		}
	}

	if official != nil {
		ov.Published = true
		ov.PublishedAt = official.PublishedAt
	}

	rk := s.rank(ctx, official, rows, "")
	scores := make([]float64, len(rk.Results))
	for i, e := range rk.Results {
		scores[i] = e.Score
	}
	ov.Scores = summarize(scores)
	return ov, nil
}

func summarize(scores []float64) types.ScoreSummary {
	if len(scores) == 0 {
		return types.ScoreSummary{}
	}
	sorted := slices.Clone(scores)
	slices.Sort(sorted)

	mean, std := stat.MeanStdDev(sorted, nil)
	if len(sorted) < 2 || math.IsNaN(std) {
		std = 0
	}
	return types.ScoreSummary{
		Count:  len(sorted),
		Mean:   round2(mean),
		StdDev: round2(std),
		Median: round2(stat.Quantile(0.5, stat.Empirical, sorted, nil)),
		Max:    floats.Max(sorted),
	}
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
