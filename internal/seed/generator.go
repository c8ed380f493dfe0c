package seed

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/google/uuid"
	"github.com/okian/prode/internal/domain/model"
	"github.com/okian/prode/internal/domain/validation"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// Ranges for the generated figures.
const (
	minParticipation   = 60.0
	participationRange = 20.0
	minBlank           = 1.0
	blankRange         = 3.0
	minTotalVotes      = 15_000_000
	totalVotesRange    = 11_000_000
	votesJitter        = 0.05
	maxSeededProvinces = 3
	topThreeSwapChance = 0.3
	defaultSpread      = 4.0
	maxPercent         = 100.0
)

// Generator draws official results and jittered predictions around them.
type Generator struct {
	rng     *rand.Rand
	src     rand.Source
	catalog validation.Catalog
	spread  float64
	newID   func() string
}

// NewGenerator creates a generator for cfg.
func NewGenerator(cfg Config) *Generator {
	src := rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)
	spread := cfg.Spread
	if spread <= 0 {
		spread = defaultSpread
	}
	return &Generator{
		rng:     rand.New(src),
		src:     src,
		catalog: cfg.Catalog,
		spread:  spread,
		newID:   uuid.NewString,
	}
}

// Result returns a random official result over every catalog force and
// province. Earlier forces tend to get larger shares.
func (g *Generator) Result(publish bool) model.OfficialResult {
	national := g.shares(g.catalog.Forces)
	participation := round1(minParticipation + g.rng.Float64()*participationRange)
	votes := int64(minTotalVotes + g.rng.IntN(totalVotesRange))

	provinces := make(map[string]model.ProvinceForecast, len(g.catalog.Provinces))
	for _, p := range g.catalog.Provinces {
		provinces[p] = g.province(g.catalog.AllowedIn(p))
	}
	return model.OfficialResult{
		National:           national,
		Participation:      model.Pct(participation),
		MarginTopTwo:       model.Pct(margin(national)),
		BlankNullContested: model.Pct(round1(minBlank + g.rng.Float64()*blankRange)),
		TotalVotes:         &votes,
		Provinces:          provinces,
		Published:          publish,
	}
}

// Prediction returns the n-th synthetic player's forecast: base plus normal
// noise, renormalised to 100.
func (g *Generator) Prediction(n int, base *model.OfficialResult) model.Prediction {
	noise := distuv.Normal{Mu: 0, Sigma: g.spread, Src: g.src}

	forces := base.National.Forces()
	values := make([]float64, len(forces))
	for i, f := range forces {
		v, _ := base.National.Get(f)
		values[i] = math.Max(0, v.Or(0)+noise.Rand())
	}
	national := normalise(forces, values)

	top := topForces(national, 3)
	if len(top) > 1 && g.rng.Float64() < topThreeSwapChance {
		top[0], top[1] = top[1], top[0]
	}

	participation := clamp(base.Participation.Or(minParticipation) + noise.Rand())
	blank := clamp(base.BlankNullContested.Or(minBlank) + noise.Rand()/g.spread)
	var votes *int64
	if base.TotalVotes != nil {
		v := int64(float64(*base.TotalVotes) * (1 + votesJitter*(2*g.rng.Float64()-1)))
		votes = &v
	}

	p := model.Prediction{
		Username:           fmt.Sprintf("%s%03d", UsernamePrefix, n),
		Email:              "jugador-" + g.newID() + EmailDomain,
		TopThree:           top,
		National:           national,
		Participation:      model.Pct(round1(participation)),
		MarginTopTwo:       model.Pct(margin(national)),
		BlankNullContested: model.Pct(round1(blank)),
		TotalVotes:         votes,
	}

	if len(g.catalog.Provinces) > 0 {
		count := 1 + g.rng.IntN(maxSeededProvinces)
		p.Provinces = make(map[string]model.ProvinceForecast, count)
		for range count {
			name := g.catalog.Provinces[g.rng.IntN(len(g.catalog.Provinces))]
			p.Provinces[name] = g.province(g.catalog.AllowedIn(name))
		}
	}
	return p
}

func (g *Generator) province(forces []string) model.ProvinceForecast {
	shares := g.shares(forces)
	pf := model.ProvinceForecast{Percentages: shares}
	if top := topForces(shares, 1); len(top) == 1 {
		pf.Winner = top[0]
	}
	return pf
}

// shares draws a Dirichlet sample over forces with decreasing concentration.
func (g *Generator) shares(forces []string) model.Percentages {
	values := make([]float64, len(forces))
	for i := range forces {
		gamma := distuv.Gamma{Alpha: 8/float64(i+1) + 0.5, Beta: 1, Src: g.src}
		values[i] = gamma.Rand()
	}
	return normalise(forces, values)
}

func normalise(forces []string, values []float64) model.Percentages {
	total := floats.Sum(values)
	out := make(model.Percentages, 0, len(forces))
	for i, f := range forces {
		v := 0.0
		if total > 0 {
			v = round1(values[i] / total * maxPercent)
		} else if i == 0 {
			v = maxPercent
		}
		out.Set(f, model.Pct(v))
	}
	return out
}

// topForces returns up to n forces by share, ties keeping catalog order.
func topForces(ps model.Percentages, n int) []string {
	ordered := slices.Clone(ps)
	slices.SortStableFunc(ordered, func(a, b model.Share) int {
		switch {
		case a.Percent.Or(0) > b.Percent.Or(0):
			return -1
		case a.Percent.Or(0) < b.Percent.Or(0):
			return 1
		}
		return 0
	})
	out := make([]string, 0, n)
	for _, s := range ordered[:min(n, len(ordered))] {
		out = append(out, s.Force)
	}
	return out
}

func margin(ps model.Percentages) float64 {
	top := topForces(ps, 2)
	if len(top) < 2 {
		return 0
	}
	a, _ := ps.Get(top[0])
	b, _ := ps.Get(top[1])
	return round1(a.Or(0) - b.Or(0))
}

func clamp(v float64) float64 { return math.Min(maxPercent, math.Max(0, v)) }

func round1(v float64) float64 { return math.Round(v*10) / 10 }
