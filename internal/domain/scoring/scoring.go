// Package scoring grades a prediction against an official result.
//
// Scoring is pure: it never mutates its inputs and identical inputs give
// identical results. Engines are safe for concurrent use.
package scoring

import (
	"math"
	"slices"
	"sort"

	"github.com/okian/prode/internal/domain/model"
	"github.com/okian/prode/internal/domain/types"
)

// Default scoring configuration constants.
const (
	defaultMAEWeight           = 0.5
	defaultParticipationWeight = 0.25
	defaultMarginWeight        = 0.25
	defaultTop3Weight          = 2.0 / 3.0
	defaultExactPoints         = 10
	defaultPartialPoints       = 5

	topSize = 3
	// missingPredicted replaces an absent predicted participation or margin
	// when the official figure exists. It is the maximal penalty.
	missingPredicted = 100
	maxScoreValue    = 100
)

// Weights are the coefficients of the total error.
type Weights struct {
	MAE           float64 `koanf:"mae_weight"`
	Participation float64 `koanf:"participation_weight"`
	Margin        float64 `koanf:"margin_weight"`
	Top3          float64 `koanf:"top3_weight"`
	ExactPoints   float64 `koanf:"exact_points"`
	PartialPoints float64 `koanf:"partial_points"`
}

// DefaultWeights returns the published scoring rules.
func DefaultWeights() Weights {
	return Weights{
		MAE:           defaultMAEWeight,
		Participation: defaultParticipationWeight,
		Margin:        defaultMarginWeight,
		Top3:          defaultTop3Weight,
		ExactPoints:   defaultExactPoints,
		PartialPoints: defaultPartialPoints,
	}
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithWeights overrides the default weights. Non-positive fields are ignored.
func WithWeights(w Weights) Option {
	return func(e *Engine) {
		if w.MAE > 0 {
			e.weights.MAE = w.MAE
		}
		if w.Participation > 0 {
			e.weights.Participation = w.Participation
		}
		if w.Margin > 0 {
			e.weights.Margin = w.Margin
		}
		if w.Top3 > 0 {
			e.weights.Top3 = w.Top3
		}
		if w.ExactPoints > 0 {
			e.weights.ExactPoints = w.ExactPoints
		}
		if w.PartialPoints > 0 {
			e.weights.PartialPoints = w.PartialPoints
		}
	}
}

// Result is the score of one prediction.
type Result struct {
	Score     float64         `json:"score"`
	Breakdown types.Breakdown `json:"breakdown"`
}

// Scorer grades a prediction against an official result.
type Scorer interface {
	Score(p *model.Prediction, o *model.OfficialResult) Result
}

// Engine implements Scorer. The zero value is not usable; call NewEngine.
type Engine struct {
	weights Weights
}

// NewEngine creates an engine with the default weights and applies opts.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{weights: DefaultWeights()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Weights returns the weights in use.
func (e *Engine) Weights() Weights { return e.weights }

var defaultEngine = NewEngine() //nolint:gochecknoglobals // immutable default

// Score grades p against o with the default weights.
func Score(p *model.Prediction, o *model.OfficialResult) Result {
	return defaultEngine.Score(p, o)
}

// Score grades p against o. A nil input scores zero.
func (e *Engine) Score(p *model.Prediction, o *model.OfficialResult) Result {
	if p == nil || o == nil {
		return Result{}
	}
	w := e.weights

	mae := nationalMAE(p.National, o.National)
	participationErr := optionalError(p.Participation, o.Participation)
	marginErr := optionalError(p.MarginTopTwo, o.MarginTopTwo)
	points := e.top3Points(p.TopThree, OfficialTopThree(o))

	top3Err := topSize*w.ExactPoints - points
	totalErr := w.MAE*mae + w.Participation*participationErr + w.Margin*marginErr + w.Top3*top3Err

	return Result{
		Score: round2(math.Max(0, maxScoreValue-totalErr)),
		Breakdown: types.Breakdown{
			MAENational:        round2(mae),
			ParticipationError: round2(participationErr),
			MarginError:        round2(marginErr),
			Top3Points:         round2(points),
		},
	}
}

// nationalMAE averages the absolute error over the official forces. Missing
// or non-numeric values on either side count as 0.
func nationalMAE(predicted, official model.Percentages) float64 {
	if len(official) == 0 {
		return 0
	}
	guess := predicted.Lookup()
	var sum float64
	for _, s := range official {
		sum += math.Abs(guess[s.Force] - s.Percent.Or(0))
	}
	return sum / float64(len(official))
}

// optionalError is |predicted - official|. No official figure means no error;
// a missing predicted figure is taken as missingPredicted.
func optionalError(predicted, official model.Percent) float64 {
	if !official.Valid {
		return 0
	}
	return math.Abs(predicted.Or(missingPredicted) - official.Float64)
}

func (e *Engine) top3Points(predicted, official []string) float64 {
	var points float64
	for i := 0; i < min(topSize, len(predicted)); i++ {
		switch {
		case i < len(official) && predicted[i] == official[i]:
			points += e.weights.ExactPoints
		case slices.Contains(official, predicted[i]):
			points += e.weights.PartialPoints
		}
	}
	return points
}

// OfficialTopThree returns up to three forces with the highest official share.
// Equal shares keep the order in which the forces were recorded.
func OfficialTopThree(o *model.OfficialResult) []string {
	if o == nil {
		return nil
	}
	shares := slices.Clone(o.National)
	sort.SliceStable(shares, func(i, j int) bool {
		return shares[i].Percent.Or(0) > shares[j].Percent.Or(0)
	})
	top := make([]string, 0, topSize)
	for _, s := range shares[:min(topSize, len(shares))] {
		top = append(top, s.Force)
	}
	return top
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
