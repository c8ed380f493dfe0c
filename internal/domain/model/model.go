// Package model contains domain models passed between layers.
package model

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"
	"time"
)

// ProvinceForecast is the per-province part of a prediction or official
// result: vote shares plus the winning force.
type ProvinceForecast struct {
	Percentages Percentages `json:"percentages"`
	Winner      string      `json:"winner,omitempty"`
}

// UnmarshalJSON also accepts the "porcentajes" and "ganador" spellings used by
// older clients.
func (p *ProvinceForecast) UnmarshalJSON(b []byte) error {
	var raw struct {
		Percentages Percentages `json:"percentages"`
		Porcentajes Percentages `json:"porcentajes"`
		Winner      string      `json:"winner"`
		Ganador     string      `json:"ganador"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	p.Percentages = raw.Percentages
	if len(p.Percentages) == 0 {
		p.Percentages = raw.Porcentajes
	}
	p.Winner = raw.Winner
	if p.Winner == "" {
		p.Winner = raw.Ganador
	}
	return nil
}

// Bonus holds the side questions of a prediction; every answer is a province.
type Bonus map[string]string

// Prediction is a user's forecast. The scoring engine only reads it.
type Prediction struct {
	ID                 string                      `json:"id"`
	Username           string                      `json:"username"`
	Email              string                      `json:"email"`
	TopThree           []string                    `json:"top3"`
	National           Percentages                 `json:"national_percentages"`
	Participation      Percent                     `json:"participation"`
	MarginTopTwo       Percent                     `json:"margin_1_2"`
	BlankNullContested Percent                     `json:"blanco_nulo_impugnado"`
	TotalVotes         *int64                      `json:"total_votes"`
	Provinces          map[string]ProvinceForecast `json:"provinciales"`
	Bonus              Bonus                       `json:"bonus"`
	CreatedAt          time.Time                   `json:"created_at"`
	UpdatedAt          time.Time                   `json:"updated_at"`
	SyncPending        bool                        `json:"sync_pending"`
}

// SubmittedAt is the time the current revision was submitted. It breaks ties
// between equal scores.
func (p *Prediction) SubmittedAt() time.Time {
	if !p.UpdatedAt.IsZero() {
		return p.UpdatedAt
	}
	return p.CreatedAt
}

// Completed reports whether the user filled in anything beyond their name:
// a top-3, a positive national total, or any province.
func (p *Prediction) Completed() bool {
	return len(p.TopThree) > 0 || p.National.Sum() > 0 || len(p.Provinces) > 0
}

// NormalizeEmail trims and lower-cases an email address. Emails identify
// predictions.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// OfficialResult is a set of published ground-truth figures.
type OfficialResult struct {
	ID                 string                      `json:"id"`
	National           Percentages                 `json:"national_percentages"`
	Participation      Percent                     `json:"participation"`
	MarginTopTwo       Percent                     `json:"margin_1_2"`
	BlankNullContested Percent                     `json:"blanco_nulo_impugnado"`
	TotalVotes         *int64                      `json:"total_votes"`
	Provinces          map[string]ProvinceForecast `json:"provinciales"`
	Published          bool                        `json:"is_published"`
	PublishedAt        *time.Time                  `json:"published_at"`
	CreatedAt          time.Time                   `json:"created_at"`
}

// Row is one prediction as read from a store. Err is set when the stored
// record could not be decoded; Prediction then holds whatever was readable.
type Row struct {
	Prediction Prediction
	Err        error
}

// Clone returns a deep copy of p.
func (p Prediction) Clone() Prediction {
	out := p
	out.TopThree = slices.Clone(p.TopThree)
	out.National = slices.Clone(p.National)
	out.Provinces = cloneProvinces(p.Provinces)
	out.Bonus = maps.Clone(p.Bonus)
	out.TotalVotes = cloneInt(p.TotalVotes)
	return out
}

// Clone returns a deep copy of o.
func (o OfficialResult) Clone() OfficialResult {
	out := o
	out.National = slices.Clone(o.National)
	out.Provinces = cloneProvinces(o.Provinces)
	out.TotalVotes = cloneInt(o.TotalVotes)
	if o.PublishedAt != nil {
		t := *o.PublishedAt
		out.PublishedAt = &t
	}
	return out
}

// Merge copies from patch the fields named by their JSON keys. Unknown keys
// and server-managed fields (id, email, timestamps, sync flag) are ignored.
func (p *Prediction) Merge(patch *Prediction, fields []string) {
	src := patch.Clone()
	for _, f := range fields {
		switch f {
		case "username":
			p.Username = src.Username
		case "top3":
			p.TopThree = src.TopThree
		case "national_percentages":
			p.National = src.National
		case "participation":
			p.Participation = src.Participation
		case "margin_1_2":
			p.MarginTopTwo = src.MarginTopTwo
		case "blanco_nulo_impugnado":
			p.BlankNullContested = src.BlankNullContested
		case "total_votes":
			p.TotalVotes = src.TotalVotes
		case "provinciales":
			p.Provinces = src.Provinces
		case "bonus":
			p.Bonus = src.Bonus
		}
	}
}

func cloneProvinces(in map[string]ProvinceForecast) map[string]ProvinceForecast {
	if in == nil {
		return nil
	}
	out := make(map[string]ProvinceForecast, len(in))
	for k, v := range in {
		out[k] = ProvinceForecast{Percentages: slices.Clone(v.Percentages), Winner: v.Winner}
	}
	return out
}

func cloneInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}
