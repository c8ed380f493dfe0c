package model

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Percent is an optional value on the 0..100 scale. Valid is false when the
// value is missing or was not numeric.
type Percent struct {
	Float64 float64
	Valid   bool
}

// Pct returns a valid Percent.
func Pct(v float64) Percent { return Percent{Float64: v, Valid: true} }

// Or returns the value, or def when p is not valid.
func (p Percent) Or(def float64) float64 {
	if !p.Valid {
		return def
	}
	return p.Float64
}

// ParsePercent coerces a raw JSON value. Numbers and numeric strings are
// valid; null, booleans, objects, arrays, other strings, NaN and infinities
// are not. It never fails.
func ParsePercent(raw []byte) Percent {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Percent{}
	}
	text := string(raw)
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Percent{}
		}
		text = strings.TrimSpace(s)
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return Percent{}
	}
	return Pct(v)
}

// UnmarshalJSON implements json.Unmarshaler and never returns an error.
func (p *Percent) UnmarshalJSON(b []byte) error {
	*p = ParsePercent(b)
	return nil
}

// MarshalJSON encodes the value as a number, or null when invalid.
func (p Percent) MarshalJSON() ([]byte, error) {
	if !p.Valid {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, p.Float64, 'f', -1, 64), nil
}

// Scan implements sql.Scanner.
func (p *Percent) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*p = Percent{}
	case float64:
		*p = Pct(v)
	case int64:
		*p = Pct(float64(v))
	case []byte:
		*p = ParsePercent(v)
	case string:
		*p = ParsePercent([]byte(v))
	default:
		return fmt.Errorf("percent: unsupported scan type %T", src)
	}
	return nil
}

// Value implements driver.Valuer.
func (p Percent) Value() (driver.Value, error) {
	if !p.Valid {
		return nil, nil
	}
	return p.Float64, nil
}

// Share is one force and its percentage.
type Share struct {
	Force   string
	Percent Percent
}

// Percentages maps forces to percentages while keeping insertion order. Order
// matters: it breaks ties when ranking forces by share.
type Percentages []Share

// ErrNotObject is returned when decoding Percentages from anything other than
// a JSON object or null.
var ErrNotObject = errors.New("percentages must be a JSON object")

// Get returns the percentage stored for force.
func (ps Percentages) Get(force string) (Percent, bool) {
	for _, s := range ps {
		if s.Force == force {
			return s.Percent, true
		}
	}
	return Percent{}, false
}

// Set stores v for force. An existing force keeps its position.
func (ps *Percentages) Set(force string, v Percent) {
	for i := range *ps {
		if (*ps)[i].Force == force {
			(*ps)[i].Percent = v
			return
		}
	}
	*ps = append(*ps, Share{Force: force, Percent: v})
}

// Forces returns the force identifiers in insertion order.
func (ps Percentages) Forces() []string {
	out := make([]string, len(ps))
	for i, s := range ps {
		out[i] = s.Force
	}
	return out
}

// Sum adds up the valid values.
func (ps Percentages) Sum() float64 {
	var total float64
	for _, s := range ps {
		if s.Percent.Valid {
			total += s.Percent.Float64
		}
	}
	return total
}

// Lookup returns a force -> value index. Missing or invalid values map to 0.
func (ps Percentages) Lookup() map[string]float64 {
	m := make(map[string]float64, len(ps))
	for _, s := range ps {
		m[s.Force] = s.Percent.Or(0)
	}
	return m
}

// UnmarshalJSON decodes a JSON object preserving key order.
func (ps *Percentages) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*ps = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return ErrNotObject
	}
	out := Percentages{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return ErrNotObject
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		out.Set(key, ParsePercent(raw))
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*ps = out
	return nil
}

// MarshalJSON encodes the percentages as a JSON object in insertion order.
func (ps Percentages) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, s := range ps {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(s.Force)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, _ := s.Percent.MarshalJSON()
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
