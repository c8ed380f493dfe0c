// Package validation checks predictions and official results against the
// election catalog before they are stored.
package validation

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/okian/prode/internal/domain/model"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid input")

// Accepted ranges.
const (
	minPercent     = 0
	maxPercent     = 100
	minNationalSum = 95
	maxNationalSum = 105
	maxTopThree    = 3
)

// FieldError reports the first problem found and the field it belongs to.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *FieldError) Error() string { return e.Field + ": " + e.Message }

// Unwrap lets errors.Is match ErrInvalid.
func (e *FieldError) Unwrap() error { return ErrInvalid }

func fieldErr(field, format string, args ...any) error {
	return &FieldError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Catalog lists the forces and provinces a payload may name. An empty Forces
// or Provinces list disables the corresponding membership check.
type Catalog struct {
	Forces           []string
	Provinces        []string
	ForcesByProvince map[string][]string
}

// AllowedIn returns the forces accepted in province, falling back to the
// national list when the province has none of its own.
func (c *Catalog) AllowedIn(province string) []string {
	if fs := c.ForcesByProvince[province]; len(fs) > 0 {
		return fs
	}
	return c.Forces
}

func (c *Catalog) knownForce(allowed []string, force string) bool {
	return len(allowed) == 0 || slices.Contains(allowed, force)
}

func (c *Catalog) knownProvince(p string) bool {
	return len(c.Provinces) == 0 || slices.Contains(c.Provinces, p)
}

// Validator checks payloads against a catalog.
type Validator struct {
	catalog Catalog
}

// New creates a validator for catalog.
func New(catalog Catalog) *Validator {
	return &Validator{catalog: catalog}
}

// Catalog returns the catalog in use.
func (v *Validator) Catalog() Catalog { return v.catalog }

// Prediction validates a user's forecast.
func (v *Validator) Prediction(p *model.Prediction) error {
	if p.Username == "" {
		return fieldErr("username", "required")
	}
	if p.Email == "" {
		return fieldErr("email", "required")
	}
	if err := v.topThree(p.TopThree); err != nil {
		return err
	}
	if err := v.figures(p.National, p.Participation, p.MarginTopTwo, p.BlankNullContested, p.TotalVotes); err != nil {
		return err
	}
	if err := v.provinces(p.Provinces); err != nil {
		return err
	}
	return v.bonus(p.Bonus)
}

// Result validates an official result before it is saved.
func (v *Validator) Result(o *model.OfficialResult) error {
	if err := v.figures(o.National, o.Participation, o.MarginTopTwo, o.BlankNullContested, o.TotalVotes); err != nil {
		return err
	}
	return v.provinces(o.Provinces)
}

func (v *Validator) figures(national model.Percentages, participation, margin, blank model.Percent, votes *int64) error {
	if err := v.national(national); err != nil {
		return err
	}
	for _, f := range []struct {
		name string
		p    model.Percent
	}{
		{"participation", participation},
		{"margin_1_2", margin},
		{"blanco_nulo_impugnado", blank},
	} {
		if f.p.Valid && !inRange(f.p.Float64) {
			return fieldErr(f.name, "must be between %d and %d", minPercent, maxPercent)
		}
	}
	if votes != nil && *votes < 0 {
		return fieldErr("total_votes", "must be >= 0")
	}
	return nil
}

func (v *Validator) national(ps model.Percentages) error {
	const field = "national_percentages"
	if len(ps) == 0 {
		return nil
	}
	var total float64
	for _, s := range ps {
		if !v.catalog.knownForce(v.catalog.Forces, s.Force) {
			return fieldErr(field, "unknown force %q", s.Force)
		}
		if !s.Percent.Valid {
			return fieldErr(field, "invalid value for %s", s.Force)
		}
		if !inRange(s.Percent.Float64) {
			return fieldErr(field, "%s out of range %d-%d", s.Force, minPercent, maxPercent)
		}
		total += s.Percent.Float64
	}
	if total < minNationalSum || total > maxNationalSum {
		return fieldErr(field, "sum should be close to 100%% (%d-%d)", minNationalSum, maxNationalSum)
	}
	return nil
}

func (v *Validator) topThree(top []string) error {
	const field = "top3"
	if len(top) > maxTopThree {
		return fieldErr(field, "at most %d forces", maxTopThree)
	}
	seen := make(map[string]struct{}, len(top))
	for _, f := range top {
		if _, dup := seen[f]; dup {
			return fieldErr(field, "force %q repeated", f)
		}
		seen[f] = struct{}{}
		if !v.catalog.knownForce(v.catalog.Forces, f) {
			return fieldErr(field, "unknown force %q", f)
		}
	}
	return nil
}

func (v *Validator) provinces(provinces map[string]model.ProvinceForecast) error {
	const field = "provinciales"
	for _, name := range sortedKeys(provinces) {
		if !v.catalog.knownProvince(name) {
			return fieldErr(field, "unknown province %q", name)
		}
		pf := provinces[name]
		allowed := v.catalog.AllowedIn(name)
		for _, s := range pf.Percentages {
			if !v.catalog.knownForce(allowed, s.Force) {
				return fieldErr(field, "force %q not allowed in %s", s.Force, name)
			}
			if s.Percent.Valid && !inRange(s.Percent.Float64) {
				return fieldErr(field, "%s out of range in %s", s.Force, name)
			}
		}
		if pf.Winner != "" && !v.catalog.knownForce(allowed, pf.Winner) {
			return fieldErr(field, "winner %q not allowed in %s", pf.Winner, name)
		}
	}
	return nil
}

func (v *Validator) bonus(b model.Bonus) error {
	for _, key := range sortedKeys(b) {
		val := b[key]
		if val == "" {
			continue
		}
		if !v.catalog.knownProvince(val) {
			return fieldErr("bonus", "unknown province %q in %s", val, key)
		}
	}
	return nil
}

func inRange(x float64) bool {
	return !math.IsNaN(x) && x >= minPercent && x <= maxPercent
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
